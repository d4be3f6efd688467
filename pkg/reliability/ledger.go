package reliability

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ClaimResult is the answer of Ledger.Claim
type ClaimResult int

const (
	// Claimed means the caller won the message and must Commit or Release it
	Claimed ClaimResult = iota + 1
	// Duplicate means the message was already seen or is being processed
	Duplicate
)

func (c ClaimResult) String() string {
	switch c {
	case Claimed:
		return "claimed"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// DefaultClaimTTL bounds how long an uncommitted claim blocks a message ID,
// so a crashed processor does not suppress the message for a full window
const DefaultClaimTTL = 5 * time.Minute

// ErrLedgerClosed is returned by a closed ledger
var ErrLedgerClosed = errors.New("reliability: ledger closed")

// Key identifies an inbound message for duplicate detection
type Key struct {
	PartyID   string
	MessageID string
}

// String encodes the key with a length prefixed party ID, so a separator
// inside either part cannot make two keys collide
func (k Key) String() string {
	return strconv.Itoa(len(k.PartyID)) + ":" + k.PartyID + "|" + k.MessageID
}

// Entry is the ledger record of a message
type Entry struct {
	Key         Key       `json:"key"`
	Committed   bool      `json:"committed"`
	ClaimedAt   time.Time `json:"claimedAt"`
	CommittedAt time.Time `json:"committedAt,omitempty"`
	// Receipt is the acknowledgment returned for the message, replayed for duplicates
	Receipt []byte `json:"receipt,omitempty"`
}

// Ledger is the duplicate detection store. Claim must be an atomic
// check-and-insert.
type Ledger interface {
	// Claim records key unless it is present. window is how long a
	// committed entry is remembered.
	Claim(ctx context.Context, key Key, window time.Duration) (ClaimResult, error)

	// Commit marks a claimed key as successfully processed
	Commit(ctx context.Context, key Key, receipt []byte) error

	// Release drops a claim after failed processing so a resend is processed
	Release(ctx context.Context, key Key) error

	// Lookup returns the entry for key, or false when unknown or expired
	Lookup(ctx context.Context, key Key) (*Entry, bool, error)
}
