package pmode

import (
	"time"

	"github.com/samber/lo"

	"github.com/sirosfoundation/go-ebms/pkg/compression"
	"github.com/sirosfoundation/go-ebms/pkg/mep"
)

// PMode is the processing mode agreed for one exchange relationship.
// Values handed out by stores and resolvers are copies; change them with
// Put rather than in place.
type PMode struct {
	ID        string
	Agreement *Agreement
	MEP       mep.MEP
	Binding   mep.Binding

	Initiator *Party
	Responder *Party

	Leg1 *Leg
	// Leg2 is ignored unless the binding requires two legs
	Leg2 *Leg

	PayloadService     *PayloadService
	ReceptionAwareness *ReceptionAwareness

	NamespaceVersion NamespaceVersion
	SecurityProfile  SecurityProfile

	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Agreement contains agreement reference information
type Agreement struct {
	Name string
	Type string
}

// Party identifies the initiator or responder of an exchange
type Party struct {
	IDs  []PartyID
	Role string
}

// PartyID is a party identifier with optional type
type PartyID struct {
	Value string
	Type  string
}

// Leg represents one leg of a message exchange
type Leg struct {
	Protocol           *Protocol
	BusinessInfo       *BusinessInfo
	Security           *Security
	ErrorHandling      *ErrorHandling
	PayloadService     *PayloadService
	ReceptionAwareness *ReceptionAwareness
}

// Protocol contains transport parameters
type Protocol struct {
	Address     string
	SOAPVersion string // "1.2" for AS4
}

// BusinessInfo identifies the business process carried on a leg
type BusinessInfo struct {
	Service     string
	ServiceType string
	Action      string
	MPC         string // Message Partition Channel (for Pull)
	Properties  []Property
}

// Property represents a message property declared by the agreement
type Property struct {
	Name     string
	Type     string
	Required bool
}

// Security contains the security policy of a leg
type Security struct {
	WSSVersion  string // "1.1.1"
	Sign        *SignConfig
	Encryption  *EncryptionConfig
	SendReceipt *SendReceipt
}

// Reply patterns for receipts and errors
const (
	ReplyResponse = "response"
	ReplyCallback = "callback"
)

// SendReceipt contains receipt sending configuration
type SendReceipt struct {
	Enabled        bool
	ReplyPattern   string // ReplyResponse or ReplyCallback
	ReplyTo        string // URL for callback
	NonRepudiation bool
	// Signed requires receipts on this leg to be signed
	Signed bool
}

// ErrorHandling configures error reporting for a leg
type ErrorHandling struct {
	AsResponse                     bool
	ReceiverErrorsTo               string
	SenderErrorsTo                 string
	ProcessErrorNotifyConsumer     bool
	ProcessErrorNotifyProducer     bool
	DeliveryFailuresNotifyProducer bool
}

// PayloadService declares the compression applied to attachments
type PayloadService struct {
	CompressionType string // "application/gzip" or empty
}

// Compression returns the compression mode of the payload service
func (ps *PayloadService) Compression() compression.Mode {
	if ps == nil {
		return compression.None
	}
	return compression.ModeFromMIMEType(ps.CompressionType)
}

// LegCount returns the number of legs the binding uses
func (p *PMode) LegCount() int {
	return p.Binding.RequiredLegs()
}

// Leg returns leg 1 or 2, or nil when the binding does not use it
func (p *PMode) Leg(n int) *Leg {
	switch {
	case n == 1:
		return p.Leg1
	case n == 2 && p.LegCount() == 2:
		return p.Leg2
	default:
		return nil
	}
}

// PolicyForLeg returns the effective reception awareness of a leg. A leg
// block overrides the PMode level block.
func (p *PMode) PolicyForLeg(n int) Policy {
	if leg := p.Leg(n); leg != nil && leg.ReceptionAwareness != nil {
		return leg.ReceptionAwareness.Effective()
	}
	return p.ReceptionAwareness.Effective()
}

// CompressionForLeg returns the compression mode of a leg. A leg payload
// service overrides the PMode level one.
func (p *PMode) CompressionForLeg(n int) compression.Mode {
	if leg := p.Leg(n); leg != nil && leg.PayloadService != nil {
		return leg.PayloadService.Compression()
	}
	return p.PayloadService.Compression()
}

// NamespaceURI returns the namespace URI for the configured version
func (p *PMode) NamespaceURI() string {
	if p.NamespaceVersion == "" {
		return string(NamespaceEBMS3)
	}
	return string(p.NamespaceVersion)
}

// IsEBMS3 returns true if using ebMS 3.0 namespace
func (p *PMode) IsEBMS3() bool {
	return p.NamespaceVersion == NamespaceEBMS3 || p.NamespaceVersion == ""
}

// IsAS4v2 returns true if using AS4 2.0 namespace
func (p *PMode) IsAS4v2() bool {
	return p.NamespaceVersion == NamespaceAS4v2
}

// Clone returns a deep copy
func (p *PMode) Clone() *PMode {
	if p == nil {
		return nil
	}
	c := *p
	if p.Agreement != nil {
		a := *p.Agreement
		c.Agreement = &a
	}
	c.Initiator = p.Initiator.clone()
	c.Responder = p.Responder.clone()
	c.Leg1 = p.Leg1.clone()
	c.Leg2 = p.Leg2.clone()
	c.PayloadService = p.PayloadService.clone()
	c.ReceptionAwareness = p.ReceptionAwareness.clone()
	return &c
}

func (p *Party) clone() *Party {
	if p == nil {
		return nil
	}
	return &Party{IDs: append([]PartyID(nil), p.IDs...), Role: p.Role}
}

func (ps *PayloadService) clone() *PayloadService {
	if ps == nil {
		return nil
	}
	c := *ps
	return &c
}

func (l *Leg) clone() *Leg {
	if l == nil {
		return nil
	}
	c := &Leg{
		PayloadService:     l.PayloadService.clone(),
		ReceptionAwareness: l.ReceptionAwareness.clone(),
	}
	if l.Protocol != nil {
		pr := *l.Protocol
		c.Protocol = &pr
	}
	if l.BusinessInfo != nil {
		bi := *l.BusinessInfo
		bi.Properties = append([]Property(nil), l.BusinessInfo.Properties...)
		c.BusinessInfo = &bi
	}
	if l.ErrorHandling != nil {
		eh := *l.ErrorHandling
		c.ErrorHandling = &eh
	}
	if l.Security != nil {
		s := *l.Security
		if l.Security.Sign != nil {
			sc := *l.Security.Sign
			s.Sign = &sc
		}
		if l.Security.Encryption != nil {
			ec := *l.Security.Encryption
			s.Encryption = &ec
		}
		if l.Security.SendReceipt != nil {
			sr := *l.Security.SendReceipt
			s.SendReceipt = &sr
		}
		c.Security = &s
	}
	return c
}

// FindByService returns the live PModes whose first leg carries service and action
func FindByService(pmodes []*PMode, service, action string) []*PMode {
	return lo.Filter(pmodes, func(p *PMode, _ int) bool {
		if p.Deleted || p.Leg1 == nil || p.Leg1.BusinessInfo == nil {
			return false
		}
		bi := p.Leg1.BusinessInfo
		return bi.Service == service && (action == "" || bi.Action == action)
	})
}

// Default returns a one-way push PMode with the given security profile's
// algorithm defaults, useful as a starting point
func Default(id string, profile SecurityProfile) *PMode {
	maxRetries := 3
	return &PMode{
		ID:      id,
		MEP:     mep.OneWay,
		Binding: mep.Push,
		Leg1: &Leg{
			Protocol: &Protocol{SOAPVersion: "1.2"},
			Security: &Security{
				WSSVersion: "1.1.1",
				Sign:       DefaultSignConfig(profile),
				Encryption: DefaultEncryptionConfig(profile),
				SendReceipt: &SendReceipt{
					Enabled:        true,
					ReplyPattern:   ReplyResponse,
					NonRepudiation: true,
				},
			},
			ErrorHandling: &ErrorHandling{AsResponse: true},
		},
		PayloadService: &PayloadService{CompressionType: compression.GZIP.MIMEType()},
		ReceptionAwareness: &ReceptionAwareness{
			Enabled:            True,
			Retry:              True,
			DuplicateDetection: True,
			MaxRetries:         &maxRetries,
			RetryInterval:      DefaultRetryInterval,
			DuplicateWindow:    DefaultDuplicateWindow,
		},
		NamespaceVersion: NamespaceEBMS3,
		SecurityProfile:  profile,
	}
}
