package message

import (
	"errors"
	"time"

	"github.com/beevik/etree"
)

var (
	// ErrMissingMessageID is returned when a receipt has no message to refer to
	ErrMissingMessageID = errors.New("message: source message ID is required")
	// ErrNoUserMessage is returned when neither signature references nor the
	// original UserMessage are available to put into a receipt
	ErrNoUserMessage = errors.New("message: no UserMessage to acknowledge")
)

const signatureReferencePath = "//*[local-name()='Security']/*[local-name()='Signature']/*[local-name()='SignedInfo']/*[local-name()='Reference']"

// Receipt acknowledges a received UserMessage. It carries either the
// signature references of the original message as non-repudiation
// information or a verbatim copy of the original UserMessage element.
type Receipt struct {
	MessageID      string
	RefToMessageID string
	Timestamp      time.Time
	// References holds copies of the ds:Reference elements
	References []*etree.Element
	// UserMessage holds a copy of the acknowledged header, set when References is empty
	UserMessage *etree.Element
}

// NonRepudiation reports whether the receipt carries signature references
func (r *Receipt) NonRepudiation() bool {
	return len(r.References) > 0
}

// SignatureReferences returns the ds:Reference elements of the WS-Security
// signature in doc. The result is empty for unsigned documents.
func SignatureReferences(doc *etree.Document) []*etree.Element {
	if doc == nil {
		return nil
	}
	return doc.FindElements(signatureReferencePath)
}

// FindUserMessage returns the UserMessage element of a SOAP document
func FindUserMessage(doc *etree.Document) *etree.Element {
	if doc == nil {
		return nil
	}
	if um := doc.FindElement("//eb:UserMessage"); um != nil {
		return um
	}
	return doc.FindElement("//*[local-name()='UserMessage']")
}

// BuildReceipt builds the receipt for sourceMessageID. When the signed
// exchange carries signature references and nonRepudiation is requested,
// exactly those references are embedded. Otherwise the prior UserMessage
// is copied; if prior is nil it is looked up in signed.
func BuildReceipt(sourceMessageID string, prior *etree.Element, signed *etree.Document, nonRepudiation bool) (*Receipt, error) {
	if sourceMessageID == "" {
		return nil, ErrMissingMessageID
	}

	r := &Receipt{
		MessageID:      GenerateMessageID(),
		RefToMessageID: sourceMessageID,
		Timestamp:      time.Now().UTC(),
	}

	if nonRepudiation {
		for _, ref := range SignatureReferences(signed) {
			r.References = append(r.References, copyWithNamespace(ref))
		}
		if len(r.References) > 0 {
			return r, nil
		}
	}

	if prior == nil {
		prior = FindUserMessage(signed)
	}
	if prior == nil {
		return nil, ErrNoUserMessage
	}
	r.UserMessage = copyWithNamespace(prior)
	return r, nil
}

// copyWithNamespace deep-copies e and re-declares its own prefix so the copy
// stays well-formed outside the original document
func copyWithNamespace(e *etree.Element) *etree.Element {
	c := e.Copy()
	if e.Space == "" || e.Space == "xml" {
		return c
	}
	if c.SelectAttr("xmlns:"+e.Space) == nil {
		if uri := e.NamespaceURI(); uri != "" {
			c.CreateAttr("xmlns:"+e.Space, uri)
		}
	}
	return c
}

// Element renders the receipt as an eb:SignalMessage element
func (r *Receipt) Element() *etree.Element {
	signal := etree.NewElement("eb:SignalMessage")

	msgInfo := signal.CreateElement("eb:MessageInfo")
	msgInfo.CreateElement("eb:Timestamp").SetText(r.Timestamp.Format(time.RFC3339Nano))
	msgInfo.CreateElement("eb:MessageId").SetText(r.MessageID)
	msgInfo.CreateElement("eb:RefToMessageId").SetText(r.RefToMessageID)

	receipt := signal.CreateElement("eb:Receipt")
	if r.NonRepudiation() {
		nri := receipt.CreateElement("ebbp:NonRepudiationInformation")
		nri.CreateAttr("xmlns:ebbp", NsEbbp)
		for _, ref := range r.References {
			part := nri.CreateElement("ebbp:MessagePartNRInformation")
			part.AddChild(ref.Copy())
		}
	} else if r.UserMessage != nil {
		receipt.AddChild(r.UserMessage.Copy())
	}

	return signal
}

// Document renders the receipt as a complete SOAP envelope
func (r *Receipt) Document() *etree.Document {
	doc, messaging := newSignalDocument()
	messaging.AddChild(r.Element())
	return doc
}

func newSignalDocument() (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("soap:Envelope")
	env.CreateAttr("xmlns:soap", NsSOAPEnv)
	env.CreateAttr("xmlns:eb", NsEbMS)

	header := env.CreateElement("soap:Header")
	messaging := header.CreateElement("eb:Messaging")
	messaging.CreateAttr("soap:mustUnderstand", "true")

	env.CreateElement("soap:Body")
	return doc, messaging
}
