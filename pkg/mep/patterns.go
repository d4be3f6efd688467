// Package mep implements Message Exchange Patterns for AS4
package mep

import (
	"fmt"
	"strings"
)

const nsCore = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/"

// MEP represents a Message Exchange Pattern
type MEP int

const (
	// OneWay carries a single user message
	OneWay MEP = iota + 1
	// TwoWay carries a request user message and a response user message
	TwoWay
)

var mepIDs = map[MEP]string{
	OneWay: "oneWay",
	TwoWay: "twoWay",
}

// ID returns the short identifier used in persisted P-Modes
func (m MEP) ID() string {
	return mepIDs[m]
}

// URI returns the ebMS3 URI of the pattern
func (m MEP) URI() string {
	if id, ok := mepIDs[m]; ok {
		return nsCore + id
	}
	return ""
}

// MessageCount returns the number of user messages in the exchange
func (m MEP) MessageCount() int {
	switch m {
	case OneWay:
		return 1
	case TwoWay:
		return 2
	default:
		return 0
	}
}

// Valid reports whether m is a known pattern
func (m MEP) Valid() bool {
	_, ok := mepIDs[m]
	return ok
}

func (m MEP) String() string {
	if id, ok := mepIDs[m]; ok {
		return id
	}
	return fmt.Sprintf("MEP(%d)", int(m))
}

// MEPFromID looks up a pattern by its short identifier (case-insensitive)
func MEPFromID(id string) (MEP, bool) {
	for m, mid := range mepIDs {
		if strings.EqualFold(mid, id) {
			return m, true
		}
	}
	return 0, false
}

// MEPFromURI looks up a pattern by its ebMS3 URI
func MEPFromURI(uri string) (MEP, bool) {
	if !strings.HasPrefix(uri, nsCore) {
		return 0, false
	}
	return MEPFromID(strings.TrimPrefix(uri, nsCore))
}

// ParseMEP accepts either the short identifier or the URI
func ParseMEP(s string) (MEP, bool) {
	if m, ok := MEPFromURI(s); ok {
		return m, true
	}
	return MEPFromID(s)
}

// Binding represents a MEP binding
type Binding int

const (
	// Push sends the user message in the request of the only leg
	Push Binding = iota + 1
	// Pull returns the user message in the response to a pull request
	Pull
	// Sync carries the request and the response user message on one connection
	Sync
	// PushAndPush uses two pushed legs
	PushAndPush
	// PushAndPull pushes the request and lets the initiator pull the response
	PushAndPull
	// PullAndPush pulls the request and pushes the response
	PullAndPush
)

var bindingIDs = map[Binding]string{
	Push:        "push",
	Pull:        "pull",
	Sync:        "sync",
	PushAndPush: "pushAndPush",
	PushAndPull: "pushAndPull",
	PullAndPush: "pullAndPush",
}

// ID returns the short identifier used in persisted P-Modes
func (b Binding) ID() string {
	return bindingIDs[b]
}

// URI returns the ebMS3 URI of the binding
func (b Binding) URI() string {
	if id, ok := bindingIDs[b]; ok {
		return nsCore + id
	}
	return ""
}

// RequiredLegs returns how many legs a P-Mode using this binding must define
func (b Binding) RequiredLegs() int {
	switch b {
	case Push, Pull, Sync:
		return 1
	case PushAndPush, PushAndPull, PullAndPush:
		return 2
	default:
		return 0
	}
}

// IsSynchronous reports whether the binding completes on a single leg
func (b Binding) IsSynchronous() bool {
	return b == Push || b == Pull || b == Sync
}

// IsAsynchronous reports whether the binding spans two legs
func (b Binding) IsAsynchronous() bool {
	return b == PushAndPush || b == PushAndPull || b == PullAndPush
}

// IsAsynchronousInitiator reports whether the two legs use opposite directions
func (b Binding) IsAsynchronousInitiator() bool {
	return b == PushAndPull || b == PullAndPush
}

// CanSendUserMessageBack reports whether a user message may travel on a back channel
func (b Binding) CanSendUserMessageBack() bool {
	return b == Pull || b == Sync || b == PullAndPush || b == PushAndPull
}

// Valid reports whether b is a known binding
func (b Binding) Valid() bool {
	_, ok := bindingIDs[b]
	return ok
}

func (b Binding) String() string {
	if id, ok := bindingIDs[b]; ok {
		return id
	}
	return fmt.Sprintf("Binding(%d)", int(b))
}

// BindingFromID looks up a binding by its short identifier (case-insensitive)
func BindingFromID(id string) (Binding, bool) {
	for b, bid := range bindingIDs {
		if strings.EqualFold(bid, id) {
			return b, true
		}
	}
	return 0, false
}

// BindingFromURI looks up a binding by its ebMS3 URI
func BindingFromURI(uri string) (Binding, bool) {
	if !strings.HasPrefix(uri, nsCore) {
		return 0, false
	}
	return BindingFromID(strings.TrimPrefix(uri, nsCore))
}

// ParseBinding accepts either the short identifier or the URI
func ParseBinding(s string) (Binding, bool) {
	if b, ok := BindingFromURI(s); ok {
		return b, true
	}
	return BindingFromID(s)
}

// Bindings returns all known bindings in declaration order
func Bindings() []Binding {
	return []Binding{Push, Pull, Sync, PushAndPush, PushAndPull, PullAndPush}
}

// MEPs returns all known patterns
func MEPs() []MEP {
	return []MEP{OneWay, TwoWay}
}

// Exchange represents a message exchange
type Exchange struct {
	MEP     MEP
	Binding Binding

	// For correlation
	ConversationID string
	MessageID      string
	RefToMessageID string
}

// Leg returns the leg a message with the given correlation belongs to.
// A message that references an earlier user message of a two-way exchange
// travels on leg 2.
func (e Exchange) Leg() int {
	if e.MEP == TwoWay && e.RefToMessageID != "" {
		return 2
	}
	return 1
}
