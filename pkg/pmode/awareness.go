package pmode

import (
	"time"
)

// Defaults applied when a reception awareness block leaves a value open
const (
	DefaultRetryInterval   = time.Minute
	DefaultDuplicateWindow = 24 * time.Hour
	// Unbounded is the MaxRetries value of a policy without a retry bound
	Unbounded = -1
)

// ReceptionAwareness configures retry and duplicate detection
type ReceptionAwareness struct {
	Enabled            TriState
	Retry              TriState
	DuplicateDetection TriState
	// MaxRetries is the number of retries after the first attempt; nil means unbounded
	MaxRetries      *int
	RetryInterval   time.Duration
	DuplicateWindow time.Duration
}

// Policy is a ReceptionAwareness block with every default resolved
type Policy struct {
	Enabled            bool
	Retry              bool
	DuplicateDetection bool
	// MaxRetries is Unbounded or a bound >= 0
	MaxRetries      int
	RetryInterval   time.Duration
	DuplicateWindow time.Duration
}

// RetryEnabled reports whether failed sends are retried at all
func (p Policy) RetryEnabled() bool {
	return p.Enabled && p.Retry
}

// DetectDuplicates reports whether inbound messages are checked against the ledger
func (p Policy) DetectDuplicates() bool {
	return p.Enabled && p.DuplicateDetection
}

// MaxAttempts returns the total number of send attempts, or Unbounded
func (p Policy) MaxAttempts() int {
	if !p.RetryEnabled() {
		return 1
	}
	if p.MaxRetries == Unbounded {
		return Unbounded
	}
	return p.MaxRetries + 1
}

// DefaultPolicy is the policy of a PMode without a reception awareness block
func DefaultPolicy() Policy {
	return Policy{
		Enabled:            true,
		Retry:              true,
		DuplicateDetection: true,
		MaxRetries:         Unbounded,
		RetryInterval:      DefaultRetryInterval,
		DuplicateWindow:    DefaultDuplicateWindow,
	}
}

// Effective resolves the block into a Policy. A nil block yields DefaultPolicy.
func (ra *ReceptionAwareness) Effective() Policy {
	p := DefaultPolicy()
	if ra == nil {
		return p
	}

	p.Enabled = ra.Enabled.IsTrue(true)
	p.Retry = ra.Retry.IsTrue(true)
	p.DuplicateDetection = ra.DuplicateDetection.IsTrue(true)
	if ra.MaxRetries != nil && *ra.MaxRetries >= 0 {
		p.MaxRetries = *ra.MaxRetries
	}
	if ra.RetryInterval > 0 {
		p.RetryInterval = ra.RetryInterval
	}
	if ra.DuplicateWindow > 0 {
		p.DuplicateWindow = ra.DuplicateWindow
	}
	return p
}

func (ra *ReceptionAwareness) clone() *ReceptionAwareness {
	if ra == nil {
		return nil
	}
	c := *ra
	if ra.MaxRetries != nil {
		n := *ra.MaxRetries
		c.MaxRetries = &n
	}
	return &c
}
