package attachment

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	// ErrManagerClosed is returned when a closed manager is asked for new resources
	ErrManagerClosed = errors.New("attachment: resource manager closed")
	// ErrTempFile is returned when a temp file cannot be allocated
	ErrTempFile = errors.New("attachment: failed to create temp file")
)

const tempFilePattern = "ebms-att-*"

// ResourceManager tracks the temp files and streams created while building
// or receiving one message and releases all of them on Close.
type ResourceManager struct {
	mu      sync.RWMutex
	files   []string
	streams []io.Closer
	closed  bool

	tempDir string
	logger  *slog.Logger
}

// ResourceManagerOption configures a ResourceManager
type ResourceManagerOption func(*ResourceManager)

// WithTempDir places temp files in dir instead of os.TempDir()
func WithTempDir(dir string) ResourceManagerOption {
	return func(rm *ResourceManager) {
		rm.tempDir = dir
	}
}

// WithLogger sets the logger used for cleanup warnings
func WithLogger(logger *slog.Logger) ResourceManagerOption {
	return func(rm *ResourceManager) {
		rm.logger = logger
	}
}

// NewResourceManager creates an empty manager
func NewResourceManager(opts ...ResourceManagerOption) *ResourceManager {
	rm := &ResourceManager{}
	for _, opt := range opts {
		opt(rm)
	}
	if rm.logger == nil {
		rm.logger = slog.Default()
	}
	return rm
}

// CreateTempFile allocates a new empty file owned by the manager and returns its path
func (rm *ResourceManager) CreateTempFile() (string, error) {
	rm.mu.RLock()
	closed := rm.closed
	rm.mu.RUnlock()
	if closed {
		return "", ErrManagerClosed
	}

	f, err := os.CreateTemp(rm.tempDir, tempFilePattern)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTempFile, err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: %w", ErrTempFile, err)
	}

	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		os.Remove(path)
		return "", ErrManagerClosed
	}
	rm.files = append(rm.files, path)
	rm.mu.Unlock()

	return path, nil
}

// Track registers c so it is closed when the manager closes.
// A closer tracked after Close is closed immediately.
func (rm *ResourceManager) Track(c io.Closer) {
	if c == nil {
		return
	}

	rm.mu.Lock()
	if !rm.closed {
		rm.streams = append(rm.streams, c)
		rm.mu.Unlock()
		return
	}
	rm.mu.Unlock()

	if err := c.Close(); err != nil {
		rm.logger.Warn("closing stream tracked after manager close", slog.String("error", err.Error()))
	}
}

// untrack forgets a stream that its reader already closed
func (rm *ResourceManager) untrack(ts *trackedStream) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for i, c := range rm.streams {
		if t, ok := c.(*trackedStream); ok && t == ts {
			rm.streams = append(rm.streams[:i], rm.streams[i+1:]...)
			return
		}
	}
}

// PendingFiles returns the number of temp files still owned by the manager
func (rm *ResourceManager) PendingFiles() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.files)
}

// PendingStreams returns the number of streams still owned by the manager
func (rm *ResourceManager) PendingStreams() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.streams)
}

// Close deletes all tracked files, then closes all tracked streams.
// Individual failures do not stop the cleanup; they are logged and returned.
// Closing twice is a no-op.
func (rm *ResourceManager) Close() []error {
	rm.mu.Lock()
	files := rm.files
	rm.files = nil
	rm.closed = true
	rm.mu.Unlock()

	var warnings []error
	for _, path := range files {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			rm.logger.Warn("failed to delete temp file",
				slog.String("path", path),
				slog.String("error", err.Error()))
			warnings = append(warnings, fmt.Errorf("deleting %s: %w", path, err))
		}
	}

	rm.mu.Lock()
	streams := rm.streams
	rm.streams = nil
	rm.mu.Unlock()

	for _, c := range streams {
		if err := c.Close(); err != nil {
			rm.logger.Warn("failed to close stream", slog.String("error", err.Error()))
			warnings = append(warnings, fmt.Errorf("closing stream: %w", err))
		}
	}

	return warnings
}

// trackedStream closes its reader at most once and detaches from the manager when closed
type trackedStream struct {
	io.ReadCloser
	rm   *ResourceManager
	once sync.Once
	err  error
}

func (rm *ResourceManager) trackStream(rc io.ReadCloser) *trackedStream {
	if ts, ok := rc.(*trackedStream); ok {
		return ts
	}
	ts := &trackedStream{ReadCloser: rc, rm: rm}
	rm.Track(ts)
	return ts
}

func (ts *trackedStream) Close() error {
	first := false
	ts.once.Do(func() {
		first = true
		ts.err = ts.ReadCloser.Close()
	})
	if first {
		ts.rm.untrack(ts)
		return ts.err
	}
	return nil
}

func (rm *ResourceManager) isClosed() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.closed
}
