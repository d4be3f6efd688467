package mime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-ebms/pkg/attachment"
	"github.com/sirosfoundation/go-ebms/pkg/compression"
	"github.com/sirosfoundation/go-ebms/pkg/message"
)

const (
	// ContentTypeMultipartRelated is the MIME type for multipart/related
	ContentTypeMultipartRelated = "multipart/related"
	// ContentTypeApplicationXML is the MIME type for XML
	ContentTypeApplicationXML = "application/xml"
	// ContentTypeTextXML is the MIME type for text XML
	ContentTypeTextXML = "text/xml"
	// ContentTypeSOAPXML is the MIME type for SOAP
	ContentTypeSOAPXML = "application/soap+xml"
)

var (
	// ErrNoEnvelope is returned when a received message has no SOAP part
	ErrNoEnvelope = errors.New("mime: SOAP envelope not found in message")
	// ErrMissingPart is returned when a PartInfo references an absent attachment
	ErrMissingPart = errors.New("mime: referenced attachment not found")
)

// Message is a SOAP envelope with its attachments
type Message struct {
	Boundary string
	StartID  string
	Type     string
	// Envelope is the serialized SOAP envelope
	Envelope    []byte
	Attachments []*attachment.Attachment
}

// NewMessage packages a serialized envelope with attachments
func NewMessage(envelope []byte, atts []*attachment.Attachment) *Message {
	return &Message{
		Boundary:    generateBoundary(),
		StartID:     fmt.Sprintf("<%s@ebms>", uuid.NewString()),
		Type:        ContentTypeSOAPXML,
		Envelope:    envelope,
		Attachments: atts,
	}
}

// ContentType returns the Content-Type header of the serialized message.
// Messages without attachments are sent as plain SOAP.
func (m *Message) ContentType() string {
	if len(m.Attachments) == 0 {
		return mime.FormatMediaType(m.Type, map[string]string{"charset": "UTF-8"})
	}
	// start references the Content-ID without angle brackets
	return mime.FormatMediaType(ContentTypeMultipartRelated, map[string]string{
		"boundary": m.Boundary,
		"type":     m.Type,
		"start":    GetContentIDWithoutBrackets(m.StartID),
	})
}

// WriteTo streams the message. Attachment bytes are read through Open, so
// single-use attachments can be written once only.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	if len(m.Attachments) == 0 {
		_, err := cw.Write(m.Envelope)
		return cw.n, err
	}

	writer := multipart.NewWriter(cw)
	if err := writer.SetBoundary(m.Boundary); err != nil {
		return cw.n, fmt.Errorf("failed to set boundary: %w", err)
	}

	soapHeader := textproto.MIMEHeader{}
	soapHeader.Set("Content-Type", fmt.Sprintf("%s; charset=UTF-8", m.Type))
	soapHeader.Set("Content-Transfer-Encoding", "8bit")
	soapHeader.Set("Content-ID", AddContentIDBrackets(m.StartID))

	soapPart, err := writer.CreatePart(soapHeader)
	if err != nil {
		return cw.n, fmt.Errorf("failed to create SOAP part: %w", err)
	}
	if _, err := soapPart.Write(m.Envelope); err != nil {
		return cw.n, fmt.Errorf("failed to write SOAP part: %w", err)
	}

	for _, att := range m.Attachments {
		part, err := writer.CreatePart(att.WireHeaders())
		if err != nil {
			return cw.n, fmt.Errorf("failed to create part %s: %w", att.ID(), err)
		}
		if err := copyAttachment(part, att); err != nil {
			return cw.n, err
		}
	}

	if err := writer.Close(); err != nil {
		return cw.n, fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return cw.n, nil
}

func copyAttachment(w io.Writer, att *attachment.Attachment) error {
	rc, err := att.Open()
	if err != nil {
		return fmt.Errorf("failed to open attachment %s: %w", att.ID(), err)
	}
	defer rc.Close()

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", att.ID(), err)
	}
	return nil
}

// Reader streams the serialized message through a pipe. Closing the
// returned reader stops the writer.
func (m *Message) Reader() io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		_, err := m.WriteTo(pw)
		pw.CloseWithError(err)
	}()
	return pr
}

// Serialize returns the complete message and its Content-Type
func (m *Message) Serialize() ([]byte, string, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), m.ContentType(), nil
}

// Parse reads a received message. Plain SOAP bodies are accepted as
// messages without attachments. Attachment parts become attachments owned
// by rm: parts up to attachment.InMemoryThreshold stay in memory, larger
// ones are spooled to temp files.
func Parse(rm *attachment.ResourceManager, r io.Reader, contentType string) (*Message, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to parse content type: %w", err)
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read SOAP message: %w", err)
		}
		return &Message{Type: mediaType, Envelope: data}, nil
	}

	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("boundary not found in content type")
	}

	startID := params["start"]
	msg := &Message{
		Boundary: boundary,
		StartID:  startID,
		Type:     params["type"],
	}

	reader := multipart.NewReader(r, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read part: %w", err)
		}

		contentID := part.Header.Get("Content-ID")

		// the envelope is the start part, or the first part when start is absent
		isEnvelope := false
		if msg.Envelope == nil {
			if startID == "" {
				isEnvelope = true
			} else {
				isEnvelope = message.MatchContentID(startID, contentID)
			}
		}

		if isEnvelope {
			data, err := io.ReadAll(part)
			if err != nil {
				return nil, fmt.Errorf("failed to read SOAP part: %w", err)
			}
			msg.Envelope = data
			continue
		}

		att, err := readAttachment(rm, part)
		if err != nil {
			return nil, err
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	if msg.Envelope == nil {
		return nil, ErrNoEnvelope
	}
	return msg, nil
}

// readAttachment buffers up to the in-memory threshold and spools the rest
func readAttachment(rm *attachment.ResourceManager, part *multipart.Part) (*attachment.Attachment, error) {
	head := make([]byte, attachment.InMemoryThreshold+1)
	n, err := io.ReadFull(part, head)
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		buf := bytes.NewReader(head[:n])
		return attachment.FromPart(rm, part.Header, buf, int64(n))
	case err != nil:
		return nil, fmt.Errorf("failed to read part data: %w", err)
	}

	src := io.MultiReader(bytes.NewReader(head), part)
	att, err := attachment.FromPart(rm, part.Header, src, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to spool part: %w", err)
	}
	return att, nil
}

// Correlate applies the PartInfo metadata of a received UserMessage to the
// attachments: the MimeType property becomes the uncompressed MIME type,
// a CompressionType marks the bytes as compressed, and the remaining part
// properties are kept. Every referenced attachment must be present.
func (m *Message) Correlate(um *message.UserMessage) error {
	for _, part := range message.AttachmentParts(um) {
		att := m.Attachment(part.ContentID)
		if att == nil {
			return fmt.Errorf("%w: cid:%s", ErrMissingPart, part.ContentID)
		}

		if mode := compression.ModeFromMIMEType(part.CompressionType); mode.IsCompressed() {
			att.SetCompression(mode)
		}
		att.SetUncompressedMIMEType(part.MimeType)
		for _, prop := range part.Properties {
			att.AddProperty(prop.Name, prop.Value)
		}
	}
	return nil
}

// Attachment finds an attachment by Content-ID in any notation
func (m *Message) Attachment(contentID string) *attachment.Attachment {
	for _, att := range m.Attachments {
		if message.MatchContentID(att.ID(), contentID) {
			return att
		}
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// generateBoundary generates a MIME boundary string
func generateBoundary() string {
	return fmt.Sprintf("----=_Part_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}

// GetContentIDWithoutBrackets removes < and > from Content-ID
func GetContentIDWithoutBrackets(contentID string) string {
	contentID = strings.TrimPrefix(contentID, "<")
	contentID = strings.TrimSuffix(contentID, ">")
	return contentID
}

// AddContentIDBrackets adds < and > to Content-ID if not present
func AddContentIDBrackets(contentID string) string {
	if !strings.HasPrefix(contentID, "<") {
		contentID = "<" + contentID
	}
	if !strings.HasSuffix(contentID, ">") {
		contentID = contentID + ">"
	}
	return contentID
}
