package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirosfoundation/go-ebms/pkg/pmode"
)

// MemoryLedger is an in-process Ledger
type MemoryLedger struct {
	mu            sync.Mutex
	entries       map[Key]*memoryEntry
	claimTTL      time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	closed   bool
}

type memoryEntry struct {
	Entry
	window  time.Duration
	expires time.Time
}

// MemoryLedgerOption configures a MemoryLedger
type MemoryLedgerOption func(*MemoryLedger)

// WithClaimTTL bounds uncommitted claims
func WithClaimTTL(d time.Duration) MemoryLedgerOption {
	return func(l *MemoryLedger) {
		if d > 0 {
			l.claimTTL = d
		}
	}
}

// WithJanitor removes expired entries every interval. Without it expired
// entries are only dropped when touched.
func WithJanitor(interval time.Duration) MemoryLedgerOption {
	return func(l *MemoryLedger) {
		l.sweepInterval = interval
	}
}

func withClock(now func() time.Time) MemoryLedgerOption {
	return func(l *MemoryLedger) { l.now = now }
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger(opts ...MemoryLedgerOption) *MemoryLedger {
	l := &MemoryLedger{
		entries:  make(map[Key]*memoryEntry),
		claimTTL: DefaultClaimTTL,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.sweepInterval > 0 {
		l.wg.Add(1)
		go l.janitor(l.sweepInterval)
	}
	return l
}

func (l *MemoryLedger) Claim(_ context.Context, key Key, window time.Duration) (ClaimResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrLedgerClosed
	}
	now := l.now()
	if e, ok := l.entries[key]; ok && now.Before(e.expires) {
		return Duplicate, nil
	}

	if window <= 0 {
		window = pmode.DefaultDuplicateWindow
	}
	l.entries[key] = &memoryEntry{
		Entry:   Entry{Key: key, ClaimedAt: now},
		window:  window,
		expires: now.Add(l.claimTTL),
	}
	return Claimed, nil
}

func (l *MemoryLedger) Commit(_ context.Context, key Key, receipt []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLedgerClosed
	}
	e, ok := l.entries[key]
	if !ok {
		return fmt.Errorf("commit %s: no claim", key)
	}
	now := l.now()
	e.Committed = true
	e.CommittedAt = now
	e.Receipt = append([]byte(nil), receipt...)
	e.expires = now.Add(e.window)
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, key Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok && !e.Committed {
		delete(l.entries, key)
	}
	return nil
}

func (l *MemoryLedger) Lookup(_ context.Context, key Key) (*Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !l.now().Before(e.expires) {
		delete(l.entries, key)
		return nil, false, nil
	}
	c := e.Entry
	c.Receipt = append([]byte(nil), e.Receipt...)
	return &c, true, nil
}

// Len returns the number of entries, expired ones included
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Sweep removes expired entries
func (l *MemoryLedger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for k, e := range l.entries {
		if !now.Before(e.expires) {
			delete(l.entries, k)
			n++
		}
	}
	return n
}

// Close stops the janitor
func (l *MemoryLedger) Close() error {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.stop)
	})
	l.wg.Wait()
	return nil
}

func (l *MemoryLedger) janitor(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
