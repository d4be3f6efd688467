package message

import (
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/beevik/etree"
)

// ErrNoMessaging is returned for SOAP documents without an eb:Messaging header
var ErrNoMessaging = errors.New("message: no ebMS Messaging header")

// Document marshals the envelope into an etree document with eb: prefixed
// ebMS elements, ready for signing and MIME packaging.
func (e *Envelope) Document() (*etree.Document, error) {
	data, err := xml.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	PrefixNamespace(doc.Root(), NsEbMS, EbMSPrefix)
	return doc, nil
}

// Parsed is a received SOAP envelope in both typed and tree form
type Parsed struct {
	Envelope *Envelope
	Document *etree.Document
}

// ParseEnvelope reads a SOAP envelope. The typed view is namespace aware and
// independent of the prefixes used by the sender.
func ParseEnvelope(data []byte) (*Parsed, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse SOAP document: %w", err)
	}

	var env Envelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode SOAP envelope: %w", err)
	}
	if env.Header == nil || env.Header.Messaging == nil {
		return nil, ErrNoMessaging
	}
	m := env.Header.Messaging
	if m.UserMessage == nil && m.SignalMessage == nil {
		return nil, ErrNoMessaging
	}

	return &Parsed{Envelope: &env, Document: doc}, nil
}

// ParseDocument is ParseEnvelope for an already parsed tree, such as the
// output of a decryption step
func ParseDocument(doc *etree.Document) (*Parsed, error) {
	data, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize SOAP document: %w", err)
	}
	p, err := ParseEnvelope(data)
	if err != nil {
		return nil, err
	}
	p.Document = doc
	return p, nil
}

// Messaging returns the ebMS header
func (p *Parsed) Messaging() *Messaging {
	return p.Envelope.Header.Messaging
}

// MessageID returns the ID of the contained message unit
func (p *Parsed) MessageID() string {
	if info := p.messageInfo(); info != nil {
		return info.MessageId
	}
	return ""
}

// RefToMessageID returns the RefToMessageId of the contained message unit
func (p *Parsed) RefToMessageID() string {
	if info := p.messageInfo(); info != nil {
		return info.RefToMessageId
	}
	return ""
}

func (p *Parsed) messageInfo() *MessageInfo {
	m := p.Messaging()
	if m.UserMessage != nil {
		return m.UserMessage.MessageInfo
	}
	return m.SignalMessage.MessageInfo
}

// FromPartyID returns the first sender party ID of a UserMessage
func (p *Parsed) FromPartyID() string {
	um := p.Messaging().UserMessage
	if um == nil || um.PartyInfo == nil || um.PartyInfo.From == nil || len(um.PartyInfo.From.PartyId) == 0 {
		return ""
	}
	return um.PartyInfo.From.PartyId[0].Value
}

// PModeRef returns the PMode named in AgreementRef/@pmode, if any
func (p *Parsed) PModeRef() string {
	um := p.Messaging().UserMessage
	if um == nil || um.CollaborationInfo == nil || um.CollaborationInfo.AgreementRef == nil {
		return ""
	}
	return um.CollaborationInfo.AgreementRef.Pmode
}
