package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	// CompressionTypeGzip is the standard GZIP compression
	CompressionTypeGzip = "application/gzip"
)

// ErrUnsupportedMode is returned for a compression mode without a codec
var ErrUnsupportedMode = errors.New("unsupported compression mode")

// Mode identifies how an attachment payload is compressed
type Mode int

const (
	// None means the payload is sent as-is
	None Mode = iota
	// GZIP compresses the payload with RFC 1952 gzip
	GZIP
)

// MIMEType returns the MIME type announced for the compressed payload
func (m Mode) MIMEType() string {
	switch m {
	case GZIP:
		return CompressionTypeGzip
	default:
		return ""
	}
}

// FileExtension returns the usual file name suffix for the mode
func (m Mode) FileExtension() string {
	if m == GZIP {
		return ".gz"
	}
	return ""
}

// IsCompressed reports whether the mode actually alters the payload
func (m Mode) IsCompressed() bool {
	return m != None
}

func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case GZIP:
		return "gzip"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ModeFromMIMEType maps a CompressionType value back to a Mode.
// Unknown or empty values yield None.
func ModeFromMIMEType(mimeType string) Mode {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case CompressionTypeGzip, "application/x-gzip":
		return GZIP
	default:
		return None
	}
}

// NewWriter wraps w so that everything written is compressed with mode.
// Closing the returned writer flushes the compressor but does not close w.
func NewWriter(mode Mode, w io.Writer) (io.WriteCloser, error) {
	switch mode {
	case None:
		return nopWriteCloser{w}, nil
	case GZIP:
		return gzip.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
}

// NewReader wraps r so that reads return the decompressed payload.
// Closing the returned reader does not close r.
func NewReader(mode Mode, r io.Reader) (io.ReadCloser, error) {
	switch mode {
	case None:
		return io.NopCloser(r), nil
	case GZIP:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return zr, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Compress returns data compressed with mode, for payloads small enough
// to hold in memory
func Compress(mode Mode, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewWriter(mode, &buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress
func Decompress(mode Mode, data []byte) ([]byte, error) {
	r, err := NewReader(mode, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return out, nil
}

// precompressed lists media types that gain nothing from gzip
var precompressed = map[string]bool{
	"application/gzip":   true,
	"application/x-gzip": true,
	"application/zip":    true,
	"application/zstd":   true,
	"image/jpeg":         true,
	"image/png":          true,
	"image/webp":         true,
	"video/mp4":          true,
	"audio/mpeg":         true,
}

// ShouldCompress reports whether a payload of contentType is worth
// compressing. Parameters such as charset are ignored.
func ShouldCompress(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return !precompressed[strings.ToLower(strings.TrimSpace(mediaType))]
}
