package compression

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompress_RoundTrip(t *testing.T) {
	// gzip adds about 20 bytes of framing, so the input has to repeat
	invoice := bytes.Repeat([]byte("Invoice line item with repeated description text. "), 5)

	compressed, err := Compress(GZIP, invoice)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(invoice))

	got, err := Decompress(GZIP, compressed)
	require.NoError(t, err)
	assert.Equal(t, invoice, got)
}

func TestCompress_EmptyInput(t *testing.T) {
	compressed, err := Compress(GZIP, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, compressed, "gzip header is written for empty input")

	got, err := Decompress(GZIP, compressed)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCompress_None(t *testing.T) {
	out, err := Compress(None, []byte("as-is"))
	require.NoError(t, err)
	assert.Equal(t, "as-is", string(out))

	out, err = Decompress(None, []byte("as-is"))
	require.NoError(t, err)
	assert.Equal(t, "as-is", string(out))
}

func TestDecompress_Errors(t *testing.T) {
	_, err := Decompress(GZIP, []byte("this is not gzip compressed data"))
	assert.Error(t, err)

	valid, err := Compress(GZIP, bytes.Repeat([]byte("x"), 4096))
	require.NoError(t, err)
	_, err = Decompress(GZIP, valid[:len(valid)-8])
	assert.Error(t, err, "truncated trailer")

	_, err = Compress(Mode(7), []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestShouldCompress(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		expected    bool
	}{
		{"text plain", "text/plain", true},
		{"application xml", "application/xml", true},
		{"jpeg already compressed", "image/jpeg", false},
		{"gzip already compressed", "application/gzip", false},
		{"gzip with parameters", "application/gzip; name=a.gz", false},
		{"zip mixed case", "Application/ZIP", false},
		{"mpeg audio", "audio/mpeg", false},
		{"pdf", "application/pdf", true},
		{"with charset", "text/plain; charset=utf-8", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ShouldCompress(tt.contentType))
		})
	}
}

func TestMode_MIMEType(t *testing.T) {
	assert.Equal(t, "application/gzip", GZIP.MIMEType())
	assert.Equal(t, "", None.MIMEType())
	assert.Equal(t, ".gz", GZIP.FileExtension())
	assert.True(t, GZIP.IsCompressed())
	assert.False(t, None.IsCompressed())
}

func TestModeFromMIMEType(t *testing.T) {
	assert.Equal(t, GZIP, ModeFromMIMEType("application/gzip"))
	assert.Equal(t, GZIP, ModeFromMIMEType(" Application/X-GZIP "))
	assert.Equal(t, None, ModeFromMIMEType(""))
	assert.Equal(t, None, ModeFromMIMEType("application/zip"))
}

func TestStreaming_RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("<Order><Line>42</Line></Order>"), 5000)

	var buf bytes.Buffer
	w, err := NewWriter(GZIP, &buf)
	require.NoError(t, err)
	_, err = io.Copy(w, bytes.NewReader(payload))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Less(t, buf.Len(), len(payload)/10)

	r, err := NewReader(GZIP, &buf)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestStreaming_InteropWithBuffered(t *testing.T) {
	payload := []byte("streamed and buffered codecs must agree")

	var buf bytes.Buffer
	w, err := NewWriter(GZIP, &buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := Decompress(GZIP, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestStreaming_None(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(None, &buf)
	require.NoError(t, err)
	_, err = w.Write([]byte("plain"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, "plain", buf.String())

	r, err := NewReader(None, bytes.NewReader([]byte("plain")))
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(got))
}

func TestStreaming_UnsupportedMode(t *testing.T) {
	_, err := NewWriter(Mode(99), io.Discard)
	assert.True(t, errors.Is(err, ErrUnsupportedMode))

	_, err = NewReader(Mode(99), bytes.NewReader(nil))
	assert.True(t, errors.Is(err, ErrUnsupportedMode))
}

func TestNewReader_CorruptHeader(t *testing.T) {
	_, err := NewReader(GZIP, bytes.NewReader([]byte{0xff, 0xff, 0x00}))
	assert.Error(t, err)
}
