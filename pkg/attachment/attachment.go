package attachment

import (
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
	"github.com/sirosfoundation/go-ebms/pkg/compression"
	"github.com/sirosfoundation/go-ebms/pkg/message"
)

const (
	// DefaultCharset applies when no character set was declared
	DefaultCharset = "ISO-8859-1"
	// DefaultTransferEncoding applies when no Content-Transfer-Encoding was declared
	DefaultTransferEncoding = "binary"
	// InMemoryThreshold is the largest received part kept in memory
	InMemoryThreshold = 64 * 1024
)

// Attachment is one payload part of a user message
type Attachment struct {
	id               string
	mimeType         string // MIME type of the uncompressed payload
	charset          string
	transferEncoding string
	compression      compression.Mode
	filename         string
	description      string
	headers          textproto.MIMEHeader
	properties       []message.Property
	singleUse        bool

	provider Provider
	rm       *ResourceManager
}

// Option configures an Attachment at construction time
type Option func(*Attachment)

// WithContentID sets the content ID; angle brackets and a cid: prefix are stripped
func WithContentID(id string) Option {
	return func(a *Attachment) {
		a.id = message.NormalizeContentID(id)
	}
}

// WithCharset declares the character set of the payload
func WithCharset(charset string) Option {
	return func(a *Attachment) {
		a.charset = charset
	}
}

// WithTransferEncoding sets the Content-Transfer-Encoding
func WithTransferEncoding(enc string) Option {
	return func(a *Attachment) {
		a.transferEncoding = enc
	}
}

// WithFilename sets the file name announced in Content-Disposition
func WithFilename(name string) Option {
	return func(a *Attachment) {
		a.filename = name
	}
}

// WithDescription sets the Content-Description
func WithDescription(desc string) Option {
	return func(a *Attachment) {
		a.description = desc
	}
}

// WithPartProperty adds a custom PartInfo property
func WithPartProperty(name, value string) Option {
	return func(a *Attachment) {
		a.properties = append(a.properties, message.Property{Name: name, Value: value})
	}
}

// WithHeader adds a free-form MIME header
func WithHeader(key, value string) Option {
	return func(a *Attachment) {
		if a.headers == nil {
			a.headers = make(textproto.MIMEHeader)
		}
		a.headers.Add(key, value)
	}
}

// WithSingleUse marks an inbound part source as not re-readable
func WithSingleUse() Option {
	return func(a *Attachment) {
		a.singleUse = true
	}
}

func newAttachment(rm *ResourceManager, mimeType string, opts []Option) *Attachment {
	a := &Attachment{
		mimeType: mimeType,
		headers:  make(textproto.MIMEHeader),
		rm:       rm,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.id == "" {
		a.id = generateContentID()
	}
	if a.mimeType == "" {
		a.mimeType = "application/octet-stream"
	}
	return a
}

func generateContentID() string {
	return uuid.NewString() + "@ebms"
}

// New wraps an arbitrary provider. The caller states whether the provided
// bytes are already compressed with mode.
func New(rm *ResourceManager, p Provider, mimeType string, mode compression.Mode, opts ...Option) *Attachment {
	a := newAttachment(rm, mimeType, opts)
	a.provider = p
	a.compression = mode
	return a
}

// ID returns the content ID without angle brackets
func (a *Attachment) ID() string { return a.id }

// Href returns the cid: reference used in PartInfo
func (a *Attachment) Href() string { return "cid:" + a.id }

// MIMEType returns the externally visible MIME type. For compressed
// attachments this is the compression format's type.
func (a *Attachment) MIMEType() string {
	if a.compression.IsCompressed() {
		return a.compression.MIMEType()
	}
	return a.mimeType
}

// UncompressedMIMEType returns the MIME type of the original payload
func (a *Attachment) UncompressedMIMEType() string { return a.mimeType }

// SetUncompressedMIMEType records the original payload type, typically
// taken from the MimeType part property of a received message
func (a *Attachment) SetUncompressedMIMEType(mimeType string) {
	if mimeType != "" {
		a.mimeType = mimeType
	}
}

// Charset returns the declared character set or DefaultCharset
func (a *Attachment) Charset() string {
	if a.charset == "" {
		return DefaultCharset
	}
	return a.charset
}

// HasCharset reports whether a character set was declared explicitly
func (a *Attachment) HasCharset() bool { return a.charset != "" }

// TransferEncoding returns the Content-Transfer-Encoding, binary by default
func (a *Attachment) TransferEncoding() string {
	if a.transferEncoding == "" {
		return DefaultTransferEncoding
	}
	return a.transferEncoding
}

// Compression returns the compression applied to the provided bytes
func (a *Attachment) Compression() compression.Mode { return a.compression }

// SetCompression marks the provided bytes as compressed with mode.
// The original MIME type is kept and reported by UncompressedMIMEType.
func (a *Attachment) SetCompression(mode compression.Mode) { a.compression = mode }

// Filename returns the file name, if any
func (a *Attachment) Filename() string { return a.filename }

// Description returns the Content-Description, if any
func (a *Attachment) Description() string { return a.description }

// Headers returns a copy of the free-form MIME headers
func (a *Attachment) Headers() textproto.MIMEHeader {
	out := make(textproto.MIMEHeader, len(a.headers))
	for k, v := range a.headers {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Properties returns the custom part properties
func (a *Attachment) Properties() []message.Property {
	return append([]message.Property(nil), a.properties...)
}

// AddProperty appends a custom part property
func (a *Attachment) AddProperty(name, value string) {
	a.properties = append(a.properties, message.Property{Name: name, Value: value})
}

// Repeatable reports whether Open may be called again after the first stream was read
func (a *Attachment) Repeatable() bool {
	return a.provider != nil && a.provider.Repeatable()
}

// Open returns the provided (possibly compressed) bytes. The stream is
// owned by the resource manager and closed with it at the latest.
// Streams must not be shared between goroutines.
func (a *Attachment) Open() (io.ReadCloser, error) {
	if a.provider == nil {
		return nil, ErrNoData
	}
	if a.rm != nil && a.rm.isClosed() {
		return nil, ErrManagerClosed
	}

	rc, err := a.provider.Open()
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, ErrNoData
	}
	if a.rm == nil {
		return rc, nil
	}
	return a.rm.trackStream(rc), nil
}

// OpenUncompressed returns the original payload bytes
func (a *Attachment) OpenUncompressed() (io.ReadCloser, error) {
	rc, err := a.Open()
	if err != nil {
		return nil, err
	}
	if !a.compression.IsCompressed() {
		return rc, nil
	}

	zr, err := compression.NewReader(a.compression, rc)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return &stackedReadCloser{Reader: zr, closers: []io.Closer{zr, rc}}, nil
}

type stackedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReadCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Descriptor returns the PartInfo description of the attachment
func (a *Attachment) Descriptor() message.PartDescriptor {
	d := message.PartDescriptor{
		ContentID:  a.id,
		MimeType:   a.mimeType,
		Properties: a.Properties(),
	}
	if a.HasCharset() {
		d.CharacterSet = a.charset
	}
	if a.compression.IsCompressed() {
		d.CompressionType = a.compression.MIMEType()
	}
	return d
}

// WireHeaders returns the MIME part headers for sending the attachment.
// Free-form headers come first and are overwritten by the normalized ones.
func (a *Attachment) WireHeaders() textproto.MIMEHeader {
	h := a.Headers()

	contentType := a.MIMEType()
	if a.HasCharset() && !a.compression.IsCompressed() {
		if formatted := mime.FormatMediaType(contentType, map[string]string{"charset": a.charset}); formatted != "" {
			contentType = formatted
		}
	}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", a.TransferEncoding())
	h.Set("Content-ID", "<"+a.id+">")
	if a.description != "" {
		h.Set("Content-Description", a.description)
	} else {
		h.Del("Content-Description")
	}
	if a.filename != "" {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.filename}))
	}
	return h
}

func (a *Attachment) String() string {
	return fmt.Sprintf("Attachment(%s, %s, %s)", a.id, a.MIMEType(), strings.ToLower(a.compression.String()))
}
