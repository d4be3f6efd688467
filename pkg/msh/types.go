package msh

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-ebms/pkg/attachment"
	"github.com/sirosfoundation/go-ebms/pkg/mep"
	"github.com/sirosfoundation/go-ebms/pkg/message"
	"github.com/sirosfoundation/go-ebms/pkg/pmode"
	"github.com/sirosfoundation/go-ebms/pkg/reliability"
	"github.com/sirosfoundation/go-ebms/pkg/transport"
)

// Direction indicates whether a message is being sent or received
type Direction string

const (
	// DirectionOutbound for messages being sent
	DirectionOutbound Direction = "OUTBOUND"
	// DirectionInbound for messages being received
	DirectionInbound Direction = "INBOUND"
)

// Metadata describes a message handed to the Processor
type Metadata struct {
	MessageID      string
	RefToMessageID string
	ConversationID string
	PModeID        string
	Leg            int
	Kind           mep.MessageKind
	FromPartyID    string
	Service        string
	Action         string
	Direction      Direction
	ReceivedAt     time.Time
}

// Payload is outbound payload data the engine turns into an attachment,
// compressed as the leg's payload service requires
type Payload struct {
	ContentID   string
	MIMEType    string
	Charset     string
	Filename    string
	Description string
	Data        []byte
	Properties  []message.Property
}

// Outbound is a user message to send
type Outbound struct {
	// PModeID selects the PMode; empty uses the default PMode
	PModeID        string
	MessageID      string
	ConversationID string
	// RefToMessageID makes a two-way message a leg 2 response
	RefToMessageID string

	// FromPartyID and ToPartyID override the PMode parties
	FromPartyID string
	ToPartyID   string
	// Service and Action override the leg's business info
	Service string
	Action  string

	Properties  []message.Property
	Payloads    []Payload
	Attachments []*attachment.Attachment
	// Resources owns Attachments and is closed once the delivery finishes.
	// When nil the engine creates one.
	Resources *attachment.ResourceManager

	// Endpoint overrides endpoint resolution
	Endpoint string
	// BuildOptions add profile specific header requirements
	BuildOptions []message.BuildOption
}

// Inbound is a received transport message
type Inbound struct {
	Body        io.Reader
	ContentType string
	// PModeID overrides the AgreementRef/@pmode of the message
	PModeID string
}

// InboundResult reports how an inbound message was handled
type InboundResult struct {
	MessageID string
	Kind      mep.MessageKind
	PModeID   string
	Leg       int
	// Duplicate is set when the message was acknowledged without processing
	Duplicate bool
	// Processed is set when the Processor accepted the message
	Processed bool
	// Errors lists the ebMS errors reported for the message
	Errors []message.Error
	// Reply is returned on the back-channel; nil means nothing is returned
	Reply *transport.Response
}

// DeliveryResult is the final state of an outbound delivery
type DeliveryResult struct {
	MessageID string
	State     reliability.State
	Attempts  int
	// Err is nil for Acked. It wraps reliability.ErrExhausted for Exhausted
	// deliveries and carries the cause, such as a *mep.ViolationError or a
	// *SignalError, for Failed ones.
	Err error
}

// Delivery tracks an outbound message until it is acknowledged or given up
type Delivery struct {
	MessageID string
	PModeID   string
	Leg       int
	Endpoint  string

	once   sync.Once
	done   chan struct{}
	result DeliveryResult
}

func newDelivery(id, pmodeID string, leg int, endpoint string) *Delivery {
	return &Delivery{
		MessageID: id,
		PModeID:   pmodeID,
		Leg:       leg,
		Endpoint:  endpoint,
		done:      make(chan struct{}),
	}
}

func (d *Delivery) complete(o reliability.Outcome) {
	d.once.Do(func() {
		d.result = DeliveryResult{MessageID: o.MessageID, State: o.State, Attempts: o.Attempts, Err: o.Err}
		close(d.done)
	})
}

// Done is closed when the delivery finished
func (d *Delivery) Done() <-chan struct{} { return d.done }

// Result returns the final result once Done is closed
func (d *Delivery) Result() (DeliveryResult, bool) {
	select {
	case <-d.done:
		return d.result, true
	default:
		return DeliveryResult{}, false
	}
}

// Wait blocks until the delivery finished or ctx ends
func (d *Delivery) Wait(ctx context.Context) (DeliveryResult, error) {
	select {
	case <-d.done:
		return d.result, nil
	case <-ctx.Done():
		return DeliveryResult{}, ctx.Err()
	}
}

// SignalError is an ebMS Error signal with failure severity received for
// an outbound message. It is never retried.
type SignalError struct {
	RefToMessageID string
	Errors         []message.Error
}

func (e *SignalError) Error() string {
	codes := make([]string, 0, len(e.Errors))
	for _, er := range e.Errors {
		codes = append(codes, fmt.Sprintf("%s %s", er.ErrorCode, er.ShortDescription))
	}
	return fmt.Sprintf("ebMS error for message %s: %s", e.RefToMessageID, strings.Join(codes, ", "))
}

// Retryable always returns false
func (e *SignalError) Retryable() bool { return false }

// RejectError rejects an inbound message before it reached the Processor.
// The engine answers it with an ebMS Error signal.
type RejectError struct {
	MessageID string
	Code      message.ErrorCode
	Err       error
}

func (e *RejectError) Error() string {
	if e.MessageID == "" {
		return fmt.Sprintf("message rejected (%s): %v", e.Code.Code, e.Err)
	}
	return fmt.Sprintf("message %s rejected (%s): %v", e.MessageID, e.Code.Code, e.Err)
}

func (e *RejectError) Unwrap() error { return e.Err }

// Retryable always returns false
func (e *RejectError) Retryable() bool { return false }

// ProcessState carries processing context to the Processor
type ProcessState struct {
	// Document is the SOAP envelope after decryption
	Document *etree.Document
	// Decrypted is set when the crypto contract decrypted the message
	Decrypted bool
	// Signed is set when the envelope carries signature references
	Signed bool
	// Pulled is set for user messages received in response to a pull request
	Pulled bool
}

// ProcessError is one error reported by the Processor
type ProcessError struct {
	Code        message.ErrorCode
	Description string
}

// Response is a user message the Processor returns on the back-channel of
// bindings that allow it
type Response struct {
	Service     string
	Action      string
	Properties  []message.Property
	Payloads    []Payload
	Attachments []*attachment.Attachment
}

// ProcessResult is the Processor's verdict on a message
type ProcessResult struct {
	Success  bool
	Errors   []ProcessError
	Response *Response
}

// Accept is a successful ProcessResult
func Accept() ProcessResult {
	return ProcessResult{Success: true}
}

// Reject is a failed ProcessResult with one error
func Reject(code message.ErrorCode, description string) ProcessResult {
	return ProcessResult{Errors: []ProcessError{{Code: code, Description: description}}}
}

// Processor receives accepted messages. ProcessUserMessage is called at
// most once per non-duplicate user message. Attachments are only valid
// during the call.
type Processor interface {
	ProcessUserMessage(ctx context.Context, meta *Metadata, header *etree.Element, um *message.UserMessage,
		pm *pmode.PMode, payload *etree.Element, atts []*attachment.Attachment, state *ProcessState) ProcessResult
	ProcessSignalMessage(ctx context.Context, meta *Metadata, header *etree.Element, sm *message.SignalMessage,
		pm *pmode.PMode, state *ProcessState) ProcessResult
}

// SigningParams select the signing behaviour for one message
type SigningParams struct {
	PModeID string
	Leg     int
	PartyID string
	Profile pmode.SecurityProfile
	Sign    *pmode.SignConfig
}

// DecryptParams select the decryption behaviour for one message
type DecryptParams struct {
	PModeID    string
	Leg        int
	PartyID    string
	Profile    pmode.SecurityProfile
	Encryption *pmode.EncryptionConfig
}

// Decrypted is the output of Crypto.Decrypt
type Decrypted struct {
	Document *etree.Document
	// Attachments replace the received attachments when not nil
	Attachments []*attachment.Attachment
}

// Crypto is the WS-Security engine the MSH calls. Implementations own key
// material and algorithm support.
type Crypto interface {
	Sign(ctx context.Context, doc *etree.Document, params SigningParams, atts []*attachment.Attachment) (*etree.Document, error)
	Decrypt(ctx context.Context, doc *etree.Document, params DecryptParams, atts []*attachment.Attachment) (*Decrypted, error)
}

// Transport sends a serialized message and returns the synchronous
// response. *transport.HTTPSClient implements it.
type Transport interface {
	Send(ctx context.Context, endpoint string, body io.Reader, contentType string) (*transport.Response, error)
}
