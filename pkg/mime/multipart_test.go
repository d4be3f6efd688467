package mime

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ebms/pkg/attachment"
	"github.com/sirosfoundation/go-ebms/pkg/compression"
	"github.com/sirosfoundation/go-ebms/pkg/message"
)

const testEnvelope = `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Header/><soap:Body/></soap:Envelope>`

func newRM(t *testing.T) *attachment.ResourceManager {
	t.Helper()
	rm := attachment.NewResourceManager(attachment.WithTempDir(t.TempDir()))
	t.Cleanup(func() { rm.Close() })
	return rm
}

func readAll(t *testing.T, att *attachment.Attachment) string {
	t.Helper()
	rc, err := att.OpenUncompressed()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestMessage_Serialize(t *testing.T) {
	rm := newRM(t)
	att, err := attachment.FromBytes(rm, []byte("test payload"), "text/plain", compression.None,
		attachment.WithContentID("payload-1"), attachment.WithCharset("UTF-8"))
	require.NoError(t, err)

	msg := NewMessage([]byte(testEnvelope), []*attachment.Attachment{att})
	data, contentType, err := msg.Serialize()
	require.NoError(t, err)

	assert.Contains(t, contentType, "multipart/related")
	assert.Contains(t, contentType, "boundary=")
	assert.Contains(t, contentType, `type="application/soap+xml"`)
	assert.Contains(t, contentType, "start=")
	assert.NotContains(t, contentType, "start=\"<")

	s := string(data)
	assert.Contains(t, s, "Content-Type: application/soap+xml; charset=UTF-8")
	assert.Contains(t, s, "Content-Type: text/plain; charset=UTF-8")
	assert.Contains(t, s, "Content-Id: <payload-1>")
	assert.Contains(t, s, "test payload")
	assert.Contains(t, s, testEnvelope)
}

func TestMessage_PlainSOAP(t *testing.T) {
	msg := NewMessage([]byte(testEnvelope), nil)
	data, contentType, err := msg.Serialize()
	require.NoError(t, err)

	assert.Equal(t, "application/soap+xml; charset=UTF-8", contentType)
	assert.Equal(t, testEnvelope, string(data))

	parsed, err := Parse(newRM(t), bytes.NewReader(data), contentType)
	require.NoError(t, err)
	assert.Equal(t, testEnvelope, string(parsed.Envelope))
	assert.Empty(t, parsed.Attachments)
}

func TestMessage_RoundTrip(t *testing.T) {
	rm := newRM(t)
	large := strings.Repeat("0123456789abcdef", attachment.InMemoryThreshold/16+10)

	small, err := attachment.FromBytes(rm, []byte("payload data 1"), "text/plain", compression.None,
		attachment.WithContentID("payload-1"))
	require.NoError(t, err)
	zipped, err := attachment.FromBytes(rm, []byte("<order/>"), "application/xml", compression.GZIP,
		attachment.WithContentID("payload-2"))
	require.NoError(t, err)
	big, err := attachment.FromBytes(rm, []byte(large), "application/octet-stream", compression.None,
		attachment.WithContentID("payload-3"))
	require.NoError(t, err)

	msg := NewMessage([]byte(testEnvelope), []*attachment.Attachment{small, zipped, big})
	data, contentType, err := msg.Serialize()
	require.NoError(t, err)

	in := newRM(t)
	parsed, err := Parse(in, bytes.NewReader(data), contentType)
	require.NoError(t, err)
	assert.Equal(t, testEnvelope, string(parsed.Envelope))
	require.Len(t, parsed.Attachments, 3)

	got := parsed.Attachment("cid:payload-1")
	require.NotNil(t, got)
	assert.True(t, got.Repeatable())
	assert.Equal(t, "payload data 1", readAll(t, got))
	assert.Equal(t, "payload data 1", readAll(t, got))

	got = parsed.Attachment("<payload-2>")
	require.NotNil(t, got)
	assert.Equal(t, compression.GZIP, got.Compression())
	assert.Equal(t, "<order/>", readAll(t, got))

	got = parsed.Attachment("payload-3")
	require.NotNil(t, got)
	assert.Equal(t, large, readAll(t, got))
	assert.Equal(t, 1, in.PendingFiles(), "large parts are spooled")

	assert.Nil(t, parsed.Attachment("payload-4"))
}

func TestMessage_Reader(t *testing.T) {
	rm := newRM(t)
	att, err := attachment.FromBytes(rm, []byte("streamed"), "text/plain", compression.None)
	require.NoError(t, err)

	msg := NewMessage([]byte(testEnvelope), []*attachment.Attachment{att})
	rc := msg.Reader()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	parsed, err := Parse(newRM(t), bytes.NewReader(data), msg.ContentType())
	require.NoError(t, err)
	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "streamed", readAll(t, parsed.Attachments[0]))
}

func TestMessage_SingleUseWrittenOnce(t *testing.T) {
	rm := newRM(t)
	att := attachment.FromStream(rm, io.NopCloser(strings.NewReader("once")), "text/plain")

	msg := NewMessage([]byte(testEnvelope), []*attachment.Attachment{att})
	_, _, err := msg.Serialize()
	require.NoError(t, err)

	_, _, err = msg.Serialize()
	assert.ErrorIs(t, err, attachment.ErrAlreadyConsumed)
}

func TestParse_StartPartNotFirst(t *testing.T) {
	body := "--b\r\n" +
		"Content-Type: text/plain\r\nContent-ID: <att-1>\r\n\r\n" +
		"attachment\r\n" +
		"--b\r\n" +
		"Content-Type: application/soap+xml\r\nContent-ID: <root>\r\n\r\n" +
		testEnvelope + "\r\n" +
		"--b--\r\n"

	parsed, err := Parse(newRM(t), strings.NewReader(body),
		`multipart/related; boundary=b; type="application/soap+xml"; start="root"`)
	require.NoError(t, err)
	assert.Equal(t, testEnvelope, string(parsed.Envelope))
	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "att-1", parsed.Attachments[0].ID())
	assert.Equal(t, "attachment", readAll(t, parsed.Attachments[0]))
}

func TestParse_Errors(t *testing.T) {
	rm := newRM(t)

	_, err := Parse(rm, strings.NewReader("x"), "")
	assert.ErrorContains(t, err, "content type")

	_, err = Parse(rm, strings.NewReader("x"), "multipart/related")
	assert.ErrorContains(t, err, "boundary not found")

	body := "--b\r\nContent-ID: <att>\r\n\r\nx\r\n--b--\r\n"
	_, err = Parse(rm, strings.NewReader(body), `multipart/related; boundary=b; start="root"`)
	assert.ErrorIs(t, err, ErrNoEnvelope)

	_, err = Parse(rm, strings.NewReader("--b\r\nbroken"), `multipart/related; boundary=b`)
	assert.Error(t, err)
}

func TestMessage_Correlate(t *testing.T) {
	rm := newRM(t)
	zipped, err := attachment.FromBytes(rm, []byte("<invoice/>"), "application/xml", compression.GZIP,
		attachment.WithContentID("inv"))
	require.NoError(t, err)
	zipped.AddProperty("Schema", "urn:invoice")
	plain, err := attachment.FromBytes(rm, []byte("hello"), "text/plain", compression.None,
		attachment.WithContentID("txt"))
	require.NoError(t, err)

	info := message.BuildPayloadInfo(true, []message.PartDescriptor{zipped.Descriptor(), plain.Descriptor()})
	um := &message.UserMessage{PayloadInfo: info}

	msg := NewMessage([]byte(testEnvelope), []*attachment.Attachment{zipped, plain})
	data, contentType, err := msg.Serialize()
	require.NoError(t, err)

	parsed, err := Parse(newRM(t), bytes.NewReader(data), contentType)
	require.NoError(t, err)
	require.NoError(t, parsed.Correlate(um))

	inv := parsed.Attachment("inv")
	require.NotNil(t, inv)
	assert.Equal(t, "application/xml", inv.UncompressedMIMEType())
	assert.Equal(t, "application/gzip", inv.MIMEType())
	assert.Equal(t, "<invoice/>", readAll(t, inv))
	assert.Equal(t, []message.Property{{Name: "Schema", Value: "urn:invoice"}}, inv.Properties())

	txt := parsed.Attachment("txt")
	require.NotNil(t, txt)
	assert.Equal(t, "text/plain", txt.UncompressedMIMEType())
	assert.Empty(t, txt.Properties())
}

func TestMessage_CorrelateMissingPart(t *testing.T) {
	um := &message.UserMessage{PayloadInfo: message.BuildPayloadInfo(false, []message.PartDescriptor{{ContentID: "gone"}})}
	msg := &Message{Envelope: []byte(testEnvelope)}
	assert.ErrorIs(t, msg.Correlate(um), ErrMissingPart)

	assert.NoError(t, msg.Correlate(nil))
}

func TestGetContentIDWithoutBrackets(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"<id-123>", "id-123"},
		{"id-456", "id-456"},
		{"<some@example.com>", "some@example.com"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetContentIDWithoutBrackets(tt.input))
		})
	}
}

func TestAddContentIDBrackets(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"id-123", "<id-123>"},
		{"<id-456>", "<id-456>"},
		{"<id-789", "<id-789>"},
		{"id-abc>", "<id-abc>"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, AddContentIDBrackets(tt.input))
		})
	}
}
