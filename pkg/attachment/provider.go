package attachment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	// ErrNoData is returned when a provider has no stream to hand out
	ErrNoData = errors.New("attachment: provider yielded no data stream")
	// ErrAlreadyConsumed is returned when a single-use provider is opened twice
	ErrAlreadyConsumed = errors.New("attachment: single-use data source already consumed")
)

// Provider supplies the bytes of an attachment
type Provider interface {
	// Open returns a fresh reader positioned at the start of the data
	Open() (io.ReadCloser, error)
	// Repeatable reports whether Open may be called more than once
	Repeatable() bool
}

// FileProvider reads from a file on disk; every Open reopens the file
type FileProvider struct {
	Path string
}

func (p FileProvider) Open() (io.ReadCloser, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("opening attachment file: %w", err)
	}
	return f, nil
}

func (p FileProvider) Repeatable() bool { return true }

// MemoryProvider serves a byte slice. The slice must not be modified afterwards.
type MemoryProvider struct {
	Data []byte
}

func (p MemoryProvider) Open() (io.ReadCloser, error) {
	if p.Data == nil {
		return nil, ErrNoData
	}
	return io.NopCloser(bytes.NewReader(p.Data)), nil
}

func (p MemoryProvider) Repeatable() bool { return true }

// sectionProvider re-reads a random access source such as a buffered MIME part
type sectionProvider struct {
	src  io.ReaderAt
	size int64
}

func (p sectionProvider) Open() (io.ReadCloser, error) {
	if p.src == nil {
		return nil, ErrNoData
	}
	return io.NopCloser(io.NewSectionReader(p.src, 0, p.size)), nil
}

func (p sectionProvider) Repeatable() bool { return true }

// streamProvider hands out one live stream exactly once
type streamProvider struct {
	mu   sync.Mutex
	rc   io.ReadCloser
	used bool
}

// NewStreamProvider wraps a live stream that can be read only once
func NewStreamProvider(rc io.ReadCloser) Provider {
	return &streamProvider{rc: rc}
}

func (p *streamProvider) Open() (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.used {
		return nil, ErrAlreadyConsumed
	}
	if p.rc == nil {
		return nil, ErrNoData
	}
	p.used = true
	return p.rc, nil
}

func (p *streamProvider) Repeatable() bool { return false }

// ProviderFunc adapts an open function. When repeatable is false the
// function is invoked at most once.
func ProviderFunc(open func() (io.ReadCloser, error), repeatable bool) Provider {
	if repeatable {
		return funcProvider(open)
	}
	return &onceFuncProvider{open: open}
}

type funcProvider func() (io.ReadCloser, error)

func (f funcProvider) Open() (io.ReadCloser, error) {
	rc, err := f()
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, ErrNoData
	}
	return rc, nil
}

func (f funcProvider) Repeatable() bool { return true }

type onceFuncProvider struct {
	mu   sync.Mutex
	open func() (io.ReadCloser, error)
	used bool
}

func (p *onceFuncProvider) Open() (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.used {
		return nil, ErrAlreadyConsumed
	}
	p.used = true
	return funcProvider(p.open).Open()
}

func (p *onceFuncProvider) Repeatable() bool { return false }
