package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldError names one missing or malformed header field
type FieldError struct {
	Field   string
	Message string
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Message
}

// ValidationError is returned when a message unit cannot be assembled
type ValidationError struct {
	Problems []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return "invalid user message: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Problems = append(e.Problems, FieldError{Field: field, Message: msg})
}

type buildOptions struct {
	requireService bool
	requireAction  bool
	requireParties bool
}

// BuildOption declares which header fields the caller's profile treats as mandatory
type BuildOption func(*buildOptions)

// RequireService rejects user messages without a service
func RequireService() BuildOption {
	return func(o *buildOptions) { o.requireService = true }
}

// RequireAction rejects user messages without an action
func RequireAction() BuildOption {
	return func(o *buildOptions) { o.requireAction = true }
}

// RequireParties rejects user messages without sender and receiver party IDs
func RequireParties() BuildOption {
	return func(o *buildOptions) { o.requireParties = true }
}

// StrictProfile enables every profile requirement
func StrictProfile() BuildOption {
	return func(o *buildOptions) {
		o.requireService = true
		o.requireAction = true
		o.requireParties = true
	}
}

// BuildUserMessage assembles a UserMessage from its header blocks.
// Only structure is checked unless profile options make service, action
// or party IDs mandatory.
func BuildUserMessage(info *MessageInfo, payload *PayloadInfo, collab *CollaborationInfo,
	party *PartyInfo, props *MessageProperties, opts ...BuildOption) (*UserMessage, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	verr := &ValidationError{}
	switch {
	case info == nil:
		verr.add("MessageInfo", "missing")
	case info.MessageId == "":
		verr.add("MessageInfo.MessageId", "empty")
	}
	if collab == nil {
		verr.add("CollaborationInfo", "missing")
	} else {
		if o.requireService && collab.Service.Value == "" {
			verr.add("CollaborationInfo.Service", "service is required")
		}
		if o.requireAction && collab.Action == "" {
			verr.add("CollaborationInfo.Action", "action is required")
		}
	}
	if party == nil || party.From == nil || party.To == nil {
		verr.add("PartyInfo", "sender and receiver are required")
	} else if o.requireParties {
		if !hasPartyID(party.From) {
			verr.add("PartyInfo.From.PartyId", "sender party ID is required")
		}
		if !hasPartyID(party.To) {
			verr.add("PartyInfo.To.PartyId", "receiver party ID is required")
		}
	}
	if props != nil {
		for i, p := range props.Property {
			if p.Name == "" {
				verr.add(fmt.Sprintf("MessageProperties.Property[%d]", i), "name is required")
			}
		}
	}
	if len(verr.Problems) > 0 {
		return nil, verr
	}

	mi := *info
	if mi.Timestamp.IsZero() {
		mi.Timestamp = time.Now().UTC()
	}
	if props != nil && len(props.Property) == 0 {
		props = nil
	}

	return &UserMessage{
		MessageInfo:       &mi,
		PartyInfo:         party,
		CollaborationInfo: collab,
		MessageProperties: props,
		PayloadInfo:       payload,
	}, nil
}

func hasPartyID(p *Party) bool {
	for _, id := range p.PartyId {
		if id.Value != "" {
			return true
		}
	}
	return false
}

// UserMessageBuilder collects header fields for BuildUserMessage
type UserMessageBuilder struct {
	info    MessageInfo
	party   PartyInfo
	collab  CollaborationInfo
	props   MessageProperties
	payload *PayloadInfo
	mpc     string
}

// Option represents a functional option for UserMessageBuilder
type Option func(*UserMessageBuilder)

// NewUserMessage creates a builder with a fresh message ID and conversation ID
func NewUserMessage(opts ...Option) *UserMessageBuilder {
	b := &UserMessageBuilder{
		info: MessageInfo{
			Timestamp: time.Now().UTC(),
			MessageId: GenerateMessageID(),
		},
		party: PartyInfo{
			From: &Party{Role: DefaultRole},
			To:   &Party{Role: DefaultRole},
		},
		collab: CollaborationInfo{
			ConversationId: uuid.New().String(),
		},
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// WithMessageId overrides the generated message ID
func WithMessageId(id string) Option {
	return func(b *UserMessageBuilder) {
		if id != "" {
			b.info.MessageId = id
		}
	}
}

// WithTimestamp overrides the creation timestamp
func WithTimestamp(ts time.Time) Option {
	return func(b *UserMessageBuilder) {
		b.info.Timestamp = ts.UTC()
	}
}

// WithFrom sets the sender party information
func WithFrom(partyId, partyType string) Option {
	return func(b *UserMessageBuilder) {
		b.party.From.PartyId = []PartyId{{Type: partyType, Value: partyId}}
	}
}

// WithTo sets the receiver party information
func WithTo(partyId, partyType string) Option {
	return func(b *UserMessageBuilder) {
		b.party.To.PartyId = []PartyId{{Type: partyType, Value: partyId}}
	}
}

// WithFromRole sets the sender role
func WithFromRole(role string) Option {
	return func(b *UserMessageBuilder) {
		if role != "" {
			b.party.From.Role = role
		}
	}
}

// WithToRole sets the receiver role
func WithToRole(role string) Option {
	return func(b *UserMessageBuilder) {
		if role != "" {
			b.party.To.Role = role
		}
	}
}

// WithService sets the service
func WithService(service string) Option {
	return func(b *UserMessageBuilder) {
		b.collab.Service.Value = service
	}
}

// WithServiceType sets the service type attribute
func WithServiceType(serviceType string) Option {
	return func(b *UserMessageBuilder) {
		b.collab.Service.Type = serviceType
	}
}

// WithAction sets the action
func WithAction(action string) Option {
	return func(b *UserMessageBuilder) {
		b.collab.Action = action
	}
}

// WithConversationId sets a custom conversation ID
func WithConversationId(convId string) Option {
	return func(b *UserMessageBuilder) {
		if convId != "" {
			b.collab.ConversationId = convId
		}
	}
}

// WithRefToMessageId sets the RefToMessageId for responses
func WithRefToMessageId(refId string) Option {
	return func(b *UserMessageBuilder) {
		b.info.RefToMessageId = refId
	}
}

// WithAgreementRef sets the agreement reference and the PMode it governs
func WithAgreementRef(agreementRef, pmodeID string) Option {
	return func(b *UserMessageBuilder) {
		if agreementRef == "" && pmodeID == "" {
			return
		}
		b.collab.AgreementRef = &AgreementRef{Value: agreementRef, Pmode: pmodeID}
	}
}

// WithMPC sets the message partition channel
func WithMPC(mpc string) Option {
	return func(b *UserMessageBuilder) {
		b.mpc = mpc
	}
}

// WithMessageProperty adds a message property
func WithMessageProperty(name, value string) Option {
	return func(b *UserMessageBuilder) {
		b.props.Property = append(b.props.Property, Property{Name: name, Value: value})
	}
}

// WithPayloadInfo describes the inline payload and attachments
func WithPayloadInfo(hasInline bool, parts []PartDescriptor) Option {
	return func(b *UserMessageBuilder) {
		b.payload = BuildPayloadInfo(hasInline, parts)
	}
}

// Build validates and returns the UserMessage
func (b *UserMessageBuilder) Build(opts ...BuildOption) (*UserMessage, error) {
	party := &PartyInfo{From: clonePartyOf(b.party.From), To: clonePartyOf(b.party.To)}
	collab := b.collab
	props := &MessageProperties{Property: append([]Property(nil), b.props.Property...)}

	um, err := BuildUserMessage(&b.info, b.payload, &collab, party, props, opts...)
	if err != nil {
		return nil, err
	}
	um.MPC = b.mpc
	return um, nil
}

// BuildEnvelope creates a complete SOAP envelope with the UserMessage
func (b *UserMessageBuilder) BuildEnvelope(opts ...BuildOption) (*Envelope, error) {
	um, err := b.Build(opts...)
	if err != nil {
		return nil, err
	}
	return UserMessageEnvelope(um), nil
}

func clonePartyOf(p *Party) *Party {
	return &Party{PartyId: append([]PartyId(nil), p.PartyId...), Role: p.Role}
}

// UserMessageEnvelope wraps a UserMessage in a SOAP envelope
func UserMessageEnvelope(um *UserMessage) *Envelope {
	return &Envelope{
		Header: &Header{Messaging: &Messaging{UserMessage: um}},
		Body:   &Body{},
	}
}

// SignalEnvelope wraps a SignalMessage in a SOAP envelope
func SignalEnvelope(sm *SignalMessage) *Envelope {
	return &Envelope{
		Header: &Header{Messaging: &Messaging{SignalMessage: sm}},
		Body:   &Body{},
	}
}

// GenerateMessageID returns a new globally unique message ID in RFC 2822 form
func GenerateMessageID() string {
	return uuid.New().String() + "@ebms"
}
