package pmode

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/sirosfoundation/go-ebms/pkg/mep"
)

// Record is the persisted form of a PMode, shared by the file, cache and
// database stores
type Record struct {
	ID                 string                `yaml:"id" json:"id" bson:"_id"`
	Agreement          *AgreementRecord      `yaml:"agreement,omitempty" json:"agreement,omitempty" bson:"agreement,omitempty"`
	MEP                string                `yaml:"mep" json:"mep" bson:"mep"`
	Binding            string                `yaml:"binding" json:"binding" bson:"binding"`
	Initiator          *PartyRecord          `yaml:"initiator,omitempty" json:"initiator,omitempty" bson:"initiator,omitempty"`
	Responder          *PartyRecord          `yaml:"responder,omitempty" json:"responder,omitempty" bson:"responder,omitempty"`
	Leg1               *LegRecord            `yaml:"leg1,omitempty" json:"leg1,omitempty" bson:"leg1,omitempty"`
	Leg2               *LegRecord            `yaml:"leg2,omitempty" json:"leg2,omitempty" bson:"leg2,omitempty"`
	PayloadService     *PayloadServiceRecord `yaml:"payloadService,omitempty" json:"payloadService,omitempty" bson:"payload_service,omitempty"`
	ReceptionAwareness *AwarenessRecord      `yaml:"receptionAwareness,omitempty" json:"receptionAwareness,omitempty" bson:"reception_awareness,omitempty"`
	NamespaceVersion   string                `yaml:"namespaceVersion,omitempty" json:"namespaceVersion,omitempty" bson:"namespace_version,omitempty"`
	SecurityProfile    string                `yaml:"securityProfile,omitempty" json:"securityProfile,omitempty" bson:"security_profile,omitempty"`
	Deleted            bool                  `yaml:"deleted,omitempty" json:"deleted,omitempty" bson:"deleted"`
	CreatedAt          time.Time             `yaml:"createdAt,omitempty" json:"createdAt,omitempty" bson:"created_at"`
	UpdatedAt          time.Time             `yaml:"updatedAt,omitempty" json:"updatedAt,omitempty" bson:"updated_at"`
}

type AgreementRecord struct {
	Name string `yaml:"name" json:"name" bson:"name"`
	Type string `yaml:"type,omitempty" json:"type,omitempty" bson:"type,omitempty"`
}

type PartyRecord struct {
	IDs  []PartyIDRecord `yaml:"partyIds" json:"partyIds" bson:"party_ids"`
	Role string          `yaml:"role,omitempty" json:"role,omitempty" bson:"role,omitempty"`
}

type PartyIDRecord struct {
	Value string `yaml:"value" json:"value" bson:"value"`
	Type  string `yaml:"type,omitempty" json:"type,omitempty" bson:"type,omitempty"`
}

type LegRecord struct {
	Address            string                `yaml:"address,omitempty" json:"address,omitempty" bson:"address,omitempty"`
	SOAPVersion        string                `yaml:"soapVersion,omitempty" json:"soapVersion,omitempty" bson:"soap_version,omitempty"`
	BusinessInfo       *BusinessInfoRecord   `yaml:"businessInfo,omitempty" json:"businessInfo,omitempty" bson:"business_info,omitempty"`
	Security           *SecurityRecord       `yaml:"security,omitempty" json:"security,omitempty" bson:"security,omitempty"`
	ErrorHandling      *ErrorHandlingRecord  `yaml:"errorHandling,omitempty" json:"errorHandling,omitempty" bson:"error_handling,omitempty"`
	PayloadService     *PayloadServiceRecord `yaml:"payloadService,omitempty" json:"payloadService,omitempty" bson:"payload_service,omitempty"`
	ReceptionAwareness *AwarenessRecord      `yaml:"receptionAwareness,omitempty" json:"receptionAwareness,omitempty" bson:"reception_awareness,omitempty"`
}

type BusinessInfoRecord struct {
	Service     string           `yaml:"service,omitempty" json:"service,omitempty" bson:"service,omitempty"`
	ServiceType string           `yaml:"serviceType,omitempty" json:"serviceType,omitempty" bson:"service_type,omitempty"`
	Action      string           `yaml:"action,omitempty" json:"action,omitempty" bson:"action,omitempty"`
	MPC         string           `yaml:"mpc,omitempty" json:"mpc,omitempty" bson:"mpc,omitempty"`
	Properties  []PropertyRecord `yaml:"properties,omitempty" json:"properties,omitempty" bson:"properties,omitempty"`
}

type PropertyRecord struct {
	Name     string `yaml:"name" json:"name" bson:"name"`
	Type     string `yaml:"type,omitempty" json:"type,omitempty" bson:"type,omitempty"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty" bson:"required"`
}

type SecurityRecord struct {
	WSSVersion  string             `yaml:"wssVersion,omitempty" json:"wssVersion,omitempty" bson:"wss_version,omitempty"`
	Sign        *SignConfig        `yaml:"sign,omitempty" json:"sign,omitempty" bson:"sign,omitempty"`
	Encryption  *EncryptionConfig  `yaml:"encryption,omitempty" json:"encryption,omitempty" bson:"encryption,omitempty"`
	SendReceipt *SendReceiptRecord `yaml:"sendReceipt,omitempty" json:"sendReceipt,omitempty" bson:"send_receipt,omitempty"`
}

type SendReceiptRecord struct {
	Enabled        bool   `yaml:"enabled" json:"enabled" bson:"enabled"`
	ReplyPattern   string `yaml:"replyPattern,omitempty" json:"replyPattern,omitempty" bson:"reply_pattern,omitempty"`
	ReplyTo        string `yaml:"replyTo,omitempty" json:"replyTo,omitempty" bson:"reply_to,omitempty"`
	NonRepudiation bool   `yaml:"nonRepudiation,omitempty" json:"nonRepudiation,omitempty" bson:"non_repudiation"`
	Signed         bool   `yaml:"signed,omitempty" json:"signed,omitempty" bson:"signed"`
}

type ErrorHandlingRecord struct {
	AsResponse                     bool   `yaml:"asResponse,omitempty" json:"asResponse,omitempty" bson:"as_response"`
	ReceiverErrorsTo               string `yaml:"receiverErrorsTo,omitempty" json:"receiverErrorsTo,omitempty" bson:"receiver_errors_to,omitempty"`
	SenderErrorsTo                 string `yaml:"senderErrorsTo,omitempty" json:"senderErrorsTo,omitempty" bson:"sender_errors_to,omitempty"`
	ProcessErrorNotifyConsumer     bool   `yaml:"processErrorNotifyConsumer,omitempty" json:"processErrorNotifyConsumer,omitempty" bson:"process_error_notify_consumer"`
	ProcessErrorNotifyProducer     bool   `yaml:"processErrorNotifyProducer,omitempty" json:"processErrorNotifyProducer,omitempty" bson:"process_error_notify_producer"`
	DeliveryFailuresNotifyProducer bool   `yaml:"deliveryFailuresNotifyProducer,omitempty" json:"deliveryFailuresNotifyProducer,omitempty" bson:"delivery_failures_notify_producer"`
}

type PayloadServiceRecord struct {
	CompressionType string `yaml:"compressionType,omitempty" json:"compressionType,omitempty" bson:"compression_type,omitempty"`
}

// AwarenessRecord keeps the tri-state flags as optional booleans
type AwarenessRecord struct {
	Enabled               *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" bson:"enabled,omitempty"`
	Retry                 *bool `yaml:"retry,omitempty" json:"retry,omitempty" bson:"retry,omitempty"`
	DuplicateDetection    *bool `yaml:"duplicateDetection,omitempty" json:"duplicateDetection,omitempty" bson:"duplicate_detection,omitempty"`
	MaxRetries            *int  `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty" bson:"max_retries,omitempty"`
	RetryIntervalMillis   int64 `yaml:"retryIntervalMillis,omitempty" json:"retryIntervalMillis,omitempty" bson:"retry_interval_millis,omitempty"`
	DuplicateWindowMillis int64 `yaml:"duplicateWindowMillis,omitempty" json:"duplicateWindowMillis,omitempty" bson:"duplicate_window_millis,omitempty"`
}

// ToRecord converts a PMode into its persisted form
func ToRecord(p *PMode) *Record {
	r := &Record{
		ID:                 p.ID,
		Initiator:          partyToRecord(p.Initiator),
		Responder:          partyToRecord(p.Responder),
		Leg1:               legToRecord(p.Leg1),
		Leg2:               legToRecord(p.Leg2),
		PayloadService:     payloadServiceToRecord(p.PayloadService),
		ReceptionAwareness: awarenessToRecord(p.ReceptionAwareness),
		NamespaceVersion:   string(p.NamespaceVersion),
		SecurityProfile:    string(p.SecurityProfile),
		Deleted:            p.Deleted,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
	if p.MEP.Valid() {
		r.MEP = p.MEP.ID()
	}
	if p.Binding.Valid() {
		r.Binding = p.Binding.ID()
	}
	if p.Agreement != nil {
		r.Agreement = &AgreementRecord{Name: p.Agreement.Name, Type: p.Agreement.Type}
	}
	return r
}

// FromRecord converts a persisted record into a PMode. MEP and binding
// accept IDs or URIs; unknown values fail.
func FromRecord(r *Record) (*PMode, error) {
	p := &PMode{
		ID:                 r.ID,
		Initiator:          partyFromRecord(r.Initiator),
		Responder:          partyFromRecord(r.Responder),
		Leg1:               legFromRecord(r.Leg1),
		Leg2:               legFromRecord(r.Leg2),
		PayloadService:     payloadServiceFromRecord(r.PayloadService),
		ReceptionAwareness: awarenessFromRecord(r.ReceptionAwareness),
		NamespaceVersion:   NamespaceVersion(r.NamespaceVersion),
		SecurityProfile:    SecurityProfile(r.SecurityProfile),
		Deleted:            r.Deleted,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.MEP != "" {
		m, ok := mep.ParseMEP(r.MEP)
		if !ok {
			return nil, fmt.Errorf("pmode %q: unknown mep %q", r.ID, r.MEP)
		}
		p.MEP = m
	}
	if r.Binding != "" {
		b, ok := mep.ParseBinding(r.Binding)
		if !ok {
			return nil, fmt.Errorf("pmode %q: unknown binding %q", r.ID, r.Binding)
		}
		p.Binding = b
	}
	if r.Agreement != nil {
		p.Agreement = &Agreement{Name: r.Agreement.Name, Type: r.Agreement.Type}
	}
	return p, nil
}

func partyToRecord(p *Party) *PartyRecord {
	if p == nil {
		return nil
	}
	return &PartyRecord{
		Role: p.Role,
		IDs: lo.Map(p.IDs, func(id PartyID, _ int) PartyIDRecord {
			return PartyIDRecord{Value: id.Value, Type: id.Type}
		}),
	}
}

func partyFromRecord(r *PartyRecord) *Party {
	if r == nil {
		return nil
	}
	return &Party{
		Role: r.Role,
		IDs: lo.Map(r.IDs, func(id PartyIDRecord, _ int) PartyID {
			return PartyID{Value: id.Value, Type: id.Type}
		}),
	}
}

func legToRecord(l *Leg) *LegRecord {
	if l == nil {
		return nil
	}
	r := &LegRecord{
		PayloadService:     payloadServiceToRecord(l.PayloadService),
		ReceptionAwareness: awarenessToRecord(l.ReceptionAwareness),
	}
	if l.Protocol != nil {
		r.Address = l.Protocol.Address
		r.SOAPVersion = l.Protocol.SOAPVersion
	}
	if bi := l.BusinessInfo; bi != nil {
		r.BusinessInfo = &BusinessInfoRecord{
			Service:     bi.Service,
			ServiceType: bi.ServiceType,
			Action:      bi.Action,
			MPC:         bi.MPC,
			Properties: lo.Map(bi.Properties, func(p Property, _ int) PropertyRecord {
				return PropertyRecord{Name: p.Name, Type: p.Type, Required: p.Required}
			}),
		}
	}
	if s := l.Security; s != nil {
		r.Security = &SecurityRecord{WSSVersion: s.WSSVersion}
		if s.Sign != nil {
			sc := *s.Sign
			r.Security.Sign = &sc
		}
		if s.Encryption != nil {
			ec := *s.Encryption
			r.Security.Encryption = &ec
		}
		if sr := s.SendReceipt; sr != nil {
			r.Security.SendReceipt = &SendReceiptRecord{
				Enabled:        sr.Enabled,
				ReplyPattern:   sr.ReplyPattern,
				ReplyTo:        sr.ReplyTo,
				NonRepudiation: sr.NonRepudiation,
				Signed:         sr.Signed,
			}
		}
	}
	if eh := l.ErrorHandling; eh != nil {
		r.ErrorHandling = &ErrorHandlingRecord{
			AsResponse:                     eh.AsResponse,
			ReceiverErrorsTo:               eh.ReceiverErrorsTo,
			SenderErrorsTo:                 eh.SenderErrorsTo,
			ProcessErrorNotifyConsumer:     eh.ProcessErrorNotifyConsumer,
			ProcessErrorNotifyProducer:     eh.ProcessErrorNotifyProducer,
			DeliveryFailuresNotifyProducer: eh.DeliveryFailuresNotifyProducer,
		}
	}
	return r
}

func legFromRecord(r *LegRecord) *Leg {
	if r == nil {
		return nil
	}
	l := &Leg{
		PayloadService:     payloadServiceFromRecord(r.PayloadService),
		ReceptionAwareness: awarenessFromRecord(r.ReceptionAwareness),
	}
	if r.Address != "" || r.SOAPVersion != "" {
		l.Protocol = &Protocol{Address: r.Address, SOAPVersion: r.SOAPVersion}
	}
	if bi := r.BusinessInfo; bi != nil {
		l.BusinessInfo = &BusinessInfo{
			Service:     bi.Service,
			ServiceType: bi.ServiceType,
			Action:      bi.Action,
			MPC:         bi.MPC,
			Properties: lo.Map(bi.Properties, func(p PropertyRecord, _ int) Property {
				return Property{Name: p.Name, Type: p.Type, Required: p.Required}
			}),
		}
	}
	if s := r.Security; s != nil {
		l.Security = &Security{WSSVersion: s.WSSVersion}
		if s.Sign != nil {
			sc := *s.Sign
			l.Security.Sign = &sc
		}
		if s.Encryption != nil {
			ec := *s.Encryption
			l.Security.Encryption = &ec
		}
		if sr := s.SendReceipt; sr != nil {
			l.Security.SendReceipt = &SendReceipt{
				Enabled:        sr.Enabled,
				ReplyPattern:   sr.ReplyPattern,
				ReplyTo:        sr.ReplyTo,
				NonRepudiation: sr.NonRepudiation,
				Signed:         sr.Signed,
			}
		}
	}
	if eh := r.ErrorHandling; eh != nil {
		l.ErrorHandling = &ErrorHandling{
			AsResponse:                     eh.AsResponse,
			ReceiverErrorsTo:               eh.ReceiverErrorsTo,
			SenderErrorsTo:                 eh.SenderErrorsTo,
			ProcessErrorNotifyConsumer:     eh.ProcessErrorNotifyConsumer,
			ProcessErrorNotifyProducer:     eh.ProcessErrorNotifyProducer,
			DeliveryFailuresNotifyProducer: eh.DeliveryFailuresNotifyProducer,
		}
	}
	return l
}

func payloadServiceToRecord(ps *PayloadService) *PayloadServiceRecord {
	if ps == nil {
		return nil
	}
	return &PayloadServiceRecord{CompressionType: ps.CompressionType}
}

func payloadServiceFromRecord(r *PayloadServiceRecord) *PayloadService {
	if r == nil {
		return nil
	}
	return &PayloadService{CompressionType: r.CompressionType}
}

func awarenessToRecord(ra *ReceptionAwareness) *AwarenessRecord {
	if ra == nil {
		return nil
	}
	r := &AwarenessRecord{
		Enabled:               ra.Enabled.Ptr(),
		Retry:                 ra.Retry.Ptr(),
		DuplicateDetection:    ra.DuplicateDetection.Ptr(),
		RetryIntervalMillis:   ra.RetryInterval.Milliseconds(),
		DuplicateWindowMillis: ra.DuplicateWindow.Milliseconds(),
	}
	if ra.MaxRetries != nil {
		n := *ra.MaxRetries
		r.MaxRetries = &n
	}
	return r
}

func awarenessFromRecord(r *AwarenessRecord) *ReceptionAwareness {
	if r == nil {
		return nil
	}
	ra := &ReceptionAwareness{
		Enabled:            TriStateFromPtr(r.Enabled),
		Retry:              TriStateFromPtr(r.Retry),
		DuplicateDetection: TriStateFromPtr(r.DuplicateDetection),
		RetryInterval:      time.Duration(r.RetryIntervalMillis) * time.Millisecond,
		DuplicateWindow:    time.Duration(r.DuplicateWindowMillis) * time.Millisecond,
	}
	if r.MaxRetries != nil {
		n := *r.MaxRetries
		ra.MaxRetries = &n
	}
	return ra
}
