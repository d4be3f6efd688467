package attachment

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirosfoundation/go-ebms/pkg/compression"
	"github.com/sirosfoundation/go-ebms/pkg/message"
)

// FromFile creates an attachment backed by the file at path. With a
// compression mode the file is compressed into a temp file of rm; otherwise
// the original file is read directly.
func FromFile(rm *ResourceManager, path, mimeType string, mode compression.Mode, opts ...Option) (*Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("attachment source: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("attachment source %s is a directory", path)
	}

	a := newAttachment(rm, mimeType, append([]Option{WithFilename(filepath.Base(path))}, opts...))
	if !mode.IsCompressed() {
		a.provider = FileProvider{Path: path}
		return a, nil
	}

	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("attachment source: %w", err)
	}
	defer src.Close()

	spooled, err := spool(rm, src, mode)
	if err != nil {
		return nil, err
	}
	a.provider = FileProvider{Path: spooled}
	a.compression = mode
	return a, nil
}

// FromBytes creates an attachment from an in-memory buffer. The buffer must
// not be modified afterwards. With a compression mode the compressed bytes
// are written to a temp file of rm.
func FromBytes(rm *ResourceManager, data []byte, mimeType string, mode compression.Mode, opts ...Option) (*Attachment, error) {
	if data == nil {
		data = []byte{}
	}

	a := newAttachment(rm, mimeType, opts)
	if !mode.IsCompressed() {
		a.provider = MemoryProvider{Data: data}
		return a, nil
	}

	spooled, err := spool(rm, bytes.NewReader(data), mode)
	if err != nil {
		return nil, err
	}
	a.provider = FileProvider{Path: spooled}
	a.compression = mode
	return a, nil
}

// FromStream wraps a live stream. The attachment can be opened once and the
// stream is closed with rm even if it is never read.
func FromStream(rm *ResourceManager, rc io.ReadCloser, mimeType string, opts ...Option) *Attachment {
	a := newAttachment(rm, mimeType, opts)
	a.provider = NewStreamProvider(rm.trackStream(rc))
	return a
}

// FromPart creates an attachment from a received MIME part. size is the
// declared part size or -1 when unknown.
//
// Parts of at most InMemoryThreshold bytes wrap r directly: when r supports
// random access (io.ReaderAt) the attachment is repeatable, otherwise it is
// single-use. Larger or unsized parts are copied into a temp file of rm.
func FromPart(rm *ResourceManager, header textproto.MIMEHeader, r io.Reader, size int64, opts ...Option) (*Attachment, error) {
	a := newAttachment(rm, "", nil)
	for k, v := range header {
		a.headers[k] = append([]string(nil), v...)
	}
	applyPartHeader(a, header)
	for _, opt := range opts {
		opt(a)
	}

	if size >= 0 && size <= InMemoryThreshold {
		if ra, ok := r.(io.ReaderAt); ok && !a.singleUse {
			a.provider = sectionProvider{src: ra, size: size}
			return a, nil
		}
		rc, ok := r.(io.ReadCloser)
		if !ok {
			rc = io.NopCloser(r)
		}
		a.provider = NewStreamProvider(rm.trackStream(rc))
		return a, nil
	}

	spooled, err := spool(rm, r, compression.None)
	if err != nil {
		return nil, err
	}
	a.provider = FileProvider{Path: spooled}
	return a, nil
}

func applyPartHeader(a *Attachment, header textproto.MIMEHeader) {
	if id := header.Get("Content-ID"); id != "" {
		a.id = message.NormalizeContentID(id)
	}
	if ct := header.Get("Content-Type"); ct != "" {
		if mediaType, params, err := mime.ParseMediaType(ct); err == nil {
			a.mimeType = mediaType
			a.charset = params["charset"]
		} else {
			a.mimeType = strings.TrimSpace(ct)
		}
	}
	if mode := compression.ModeFromMIMEType(a.mimeType); mode.IsCompressed() {
		a.compression = mode
	}
	a.transferEncoding = header.Get("Content-Transfer-Encoding")
	a.description = header.Get("Content-Description")
	if cd := header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			a.filename = params["filename"]
		}
	}
}

// spool copies src through the compression mode into a new temp file of rm
func spool(rm *ResourceManager, src io.Reader, mode compression.Mode) (string, error) {
	path, err := rm.CreateTempFile()
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("opening temp file: %w", err)
	}
	defer f.Close()

	w, err := compression.NewWriter(mode, f)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finishing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	return path, nil
}
