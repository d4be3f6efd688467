package reliability

import (
	"errors"
	"fmt"
)

// State is the delivery state of an outbound message
type State int

const (
	Pending State = iota + 1
	Retrying
	Acked
	Exhausted
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Retrying:
		return "retrying"
	case Acked:
		return "acked"
	case Exhausted:
		return "exhausted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further attempts follow
func (s State) Terminal() bool {
	return s == Acked || s == Exhausted || s == Failed
}

var (
	// ErrExhausted is the terminal failure of a message whose retries ran out
	ErrExhausted = errors.New("reliability: retries exhausted")

	// ErrTransient marks a failed attempt that may succeed when repeated
	ErrTransient = errors.New("reliability: transient send failure")

	// ErrNotTracked is returned for message IDs the tracker does not know
	ErrNotTracked = errors.New("reliability: message not tracked")

	// ErrTerminated is returned when an attempt is requested for a message
	// that already reached a terminal state
	ErrTerminated = errors.New("reliability: message already terminated")

	// ErrInFlight is returned when a delivery for the message ID is already running
	ErrInFlight = errors.New("reliability: delivery already in flight")

	// ErrStopped is returned by a stopped scheduler
	ErrStopped = errors.New("reliability: scheduler stopped")
)

type retryable interface {
	Retryable() bool
}

type permanentError struct{ err error }

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Retryable() bool { return false }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Transient wraps err with ErrTransient
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsRetryable reports whether an attempt that failed with err may be
// repeated. Errors are retryable unless something in their chain says
// otherwise through a Retryable() bool method.
func IsRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
