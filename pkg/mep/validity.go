package mep

import (
	"errors"
	"fmt"
)

// ErrInconsistentTable signals a pattern/binding pair the decision table does not cover
var ErrInconsistentTable = errors.New("mep: exchange pattern not covered by validity table")

// MessageKind is the kind of message unit observed on a leg
type MessageKind int

const (
	KindUserMessage MessageKind = iota + 1
	KindReceipt
	KindError
	KindPullRequest
)

func (k MessageKind) String() string {
	switch k {
	case KindUserMessage:
		return "UserMessage"
	case KindReceipt:
		return "Receipt"
	case KindError:
		return "Error"
	case KindPullRequest:
		return "PullRequest"
	default:
		return fmt.Sprintf("MessageKind(%d)", int(k))
	}
}

// IsSignal reports whether the kind travels as a SignalMessage
func (k MessageKind) IsSignal() bool {
	return k == KindReceipt || k == KindError || k == KindPullRequest
}

func (k MessageKind) isReceiptOrError() bool {
	return k == KindReceipt || k == KindError
}

// IsValidMessageAt decides whether a message of the given kind may occur on
// leg of an exchange using m and b. Legs are numbered from 1.
func IsValidMessageAt(m MEP, b Binding, kind MessageKind, leg int) (bool, error) {
	if !m.Valid() || !b.Valid() {
		return false, fmt.Errorf("%w: mep=%s binding=%s", ErrInconsistentTable, m, b)
	}
	if leg < 1 || leg > b.RequiredLegs() {
		return false, nil
	}

	switch m {
	case OneWay:
		switch b {
		case Push:
			return kind.isReceiptOrError(), nil
		case Pull:
			return kind == KindUserMessage, nil
		case Sync, PushAndPush, PushAndPull, PullAndPush:
			return false, nil
		}
	case TwoWay:
		switch b {
		case Push:
			return kind.isReceiptOrError(), nil
		case Pull:
			return kind == KindUserMessage, nil
		case Sync:
			return kind == KindUserMessage, nil
		case PushAndPush, PushAndPull:
			if leg == 1 {
				return kind.isReceiptOrError(), nil
			}
			return kind == KindUserMessage, nil
		case PullAndPush:
			if leg == 1 {
				return kind == KindUserMessage, nil
			}
			return kind.isReceiptOrError(), nil
		}
	}

	return false, fmt.Errorf("%w: mep=%s binding=%s", ErrInconsistentTable, m, b)
}

// ViolationError rejects a message unit that is not legal for the negotiated
// exchange pattern. Retrying reproduces the same violation.
type ViolationError struct {
	MEP     MEP
	Binding Binding
	Kind    MessageKind
	Leg     int
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s is not valid on leg %d of %s/%s exchange", e.Kind, e.Leg, e.MEP, e.Binding)
}

// Retryable always returns false
func (e *ViolationError) Retryable() bool { return false }

// CheckMessageAt is IsValidMessageAt returning a *ViolationError for illegal messages
func CheckMessageAt(m MEP, b Binding, kind MessageKind, leg int) error {
	ok, err := IsValidMessageAt(m, b, kind, leg)
	if err != nil {
		return err
	}
	if !ok {
		return &ViolationError{MEP: m, Binding: b, Kind: kind, Leg: leg}
	}
	return nil
}
