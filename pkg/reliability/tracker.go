package reliability

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirosfoundation/go-ebms/pkg/pmode"
)

// Attempt is the tracked state of one outbound message
type Attempt struct {
	MessageID      string
	State          State
	Policy         pmode.Policy
	Attempts       int
	BegunAt        time.Time
	FirstAttemptAt time.Time
	LastAttemptAt  time.Time
	// FinishedAt is set when the message reaches a terminal state
	FinishedAt time.Time
	Errors     []string
}

// Decision tells the caller what to do after an attempt completed
type Decision struct {
	Retry bool
	// Delay is the time left until the next attempt is allowed
	Delay time.Duration
	State State
}

// Tracker keeps the retry state machine of outbound messages
type Tracker struct {
	mu       sync.Mutex
	attempts map[string]*Attempt
	now      func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		attempts: make(map[string]*Attempt),
		now:      time.Now,
	}
}

// Begin starts tracking messageID under policy. Beginning a message that
// is still in progress keeps its counters; a terminated message is refused
// with ErrTerminated (or ErrExhausted when it ran out of retries).
func (t *Tracker) Begin(messageID string, policy pmode.Policy) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if a, ok := t.attempts[messageID]; ok {
		switch a.State {
		case Exhausted:
			return fmt.Errorf("message %s: %w", messageID, ErrExhausted)
		case Acked, Failed:
			return fmt.Errorf("message %s is %s: %w", messageID, a.State, ErrTerminated)
		}
		a.Policy = policy
		return nil
	}

	t.attempts[messageID] = &Attempt{
		MessageID: messageID,
		State:     Pending,
		Policy:    policy,
		BegunAt:   t.now(),
	}
	return nil
}

// RecordAttempt counts a send attempt and returns the attempt number
func (t *Tracker) RecordAttempt(messageID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.active(messageID)
	if err != nil {
		return 0, err
	}
	now := t.now()
	if a.Attempts == 0 {
		a.FirstAttemptAt = now
	}
	a.Attempts++
	a.LastAttemptAt = now
	return a.Attempts, nil
}

// Ack records the acknowledgment of a message
func (t *Tracker) Ack(messageID string) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.active(messageID)
	if err != nil {
		return Decision{}, err
	}
	a.terminate(Acked, t.now())
	return Decision{State: Acked}, nil
}

// Fail records a failed attempt and decides whether to retry. Errors that
// are not retryable fail the message at once; otherwise the message is
// retried until the policy's attempt bound is reached, then Exhausted.
func (t *Tracker) Fail(messageID string, cause error) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.active(messageID)
	if err != nil {
		return Decision{}, err
	}
	if cause != nil {
		a.Errors = append(a.Errors, cause.Error())
	}

	if !IsRetryable(cause) {
		a.terminate(Failed, t.now())
		return Decision{State: Failed}, nil
	}

	limit := a.Policy.MaxAttempts()
	if limit != pmode.Unbounded && a.Attempts >= limit {
		a.terminate(Exhausted, t.now())
		return Decision{State: Exhausted}, nil
	}

	a.State = Retrying
	delay := a.Policy.RetryInterval - t.now().Sub(a.LastAttemptAt)
	if delay < 0 {
		delay = 0
	}
	return Decision{Retry: true, Delay: delay, State: Retrying}, nil
}

// Abort terminates a message that is still in progress with Failed
func (t *Tracker) Abort(messageID string, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.active(messageID)
	if err != nil {
		return err
	}
	if cause != nil {
		a.Errors = append(a.Errors, cause.Error())
	}
	a.terminate(Failed, t.now())
	return nil
}

// Get returns a copy of the tracked state
func (t *Tracker) Get(messageID string) (Attempt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.attempts[messageID]
	if !ok {
		return Attempt{}, false
	}
	c := *a
	c.Errors = append([]string(nil), a.Errors...)
	return c, true
}

// Forget drops a message from the tracker
func (t *Tracker) Forget(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, messageID)
}

// Prune drops terminated messages that finished more than age ago and
// returns how many were removed
func (t *Tracker) Prune(age time.Duration) int {
	return len(t.Sweep(age, nil))
}

// Sweep drops terminated messages that finished more than age ago, and
// messages still in progress whose last activity is older than age unless
// busy reports them as being delivered. Those are messages whose receipt
// never arrived, such as submitted messages nobody pulled. It returns the
// removed message IDs.
func (t *Tracker) Sweep(age time.Duration, busy func(messageID string) bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-age)
	var removed []string
	for id, a := range t.attempts {
		if a.State.Terminal() {
			if !a.lastActivity().Before(cutoff) {
				continue
			}
		} else if busy == nil || busy(id) || !a.lastActivity().Before(cutoff) {
			continue
		}
		delete(t.attempts, id)
		removed = append(removed, id)
	}
	return removed
}

// Len returns the number of tracked messages
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.attempts)
}

func (a *Attempt) terminate(state State, now time.Time) {
	a.State = state
	a.FinishedAt = now
}

func (a *Attempt) lastActivity() time.Time {
	switch {
	case !a.FinishedAt.IsZero():
		return a.FinishedAt
	case !a.LastAttemptAt.IsZero():
		return a.LastAttemptAt
	default:
		return a.BegunAt
	}
}

func (t *Tracker) active(messageID string) (*Attempt, error) {
	a, ok := t.attempts[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotTracked)
	}
	if a.State.Terminal() {
		if a.State == Exhausted {
			return nil, fmt.Errorf("message %s: %w", messageID, ErrExhausted)
		}
		return nil, fmt.Errorf("message %s is %s: %w", messageID, a.State, ErrTerminated)
	}
	return a, nil
}
