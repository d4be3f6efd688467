package message

import (
	"strings"
)

// Well-known PartProperties names
const (
	PropMimeType        = "MimeType"
	PropCharacterSet    = "CharacterSet"
	PropCompressionType = "CompressionType"
)

// PartDescriptor is the PartInfo view of one attachment
type PartDescriptor struct {
	ContentID string
	// MimeType of the uncompressed payload
	MimeType     string
	CharacterSet string
	// CompressionType is the compression format's MIME type, empty when uncompressed
	CompressionType string
	// Properties holds the part properties other than the three above
	Properties []Property
}

// PartInfo renders the descriptor with a cid: reference
func (d PartDescriptor) PartInfo() PartInfo {
	pi := PartInfo{Href: "cid:" + NormalizeContentID(d.ContentID)}
	pi.addProperty(PropMimeType, d.MimeType)
	pi.addProperty(PropCharacterSet, d.CharacterSet)
	pi.addProperty(PropCompressionType, d.CompressionType)
	if len(d.Properties) > 0 {
		if pi.PartProperties == nil {
			pi.PartProperties = &PartProperties{}
		}
		pi.PartProperties.Property = append(pi.PartProperties.Property, d.Properties...)
	}
	return pi
}

// BuildPayloadInfo describes the inline payload (a PartInfo without href)
// followed by one PartInfo per attachment. It returns nil when there is
// nothing to describe.
func BuildPayloadInfo(hasInline bool, parts []PartDescriptor) *PayloadInfo {
	if !hasInline && len(parts) == 0 {
		return nil
	}

	info := &PayloadInfo{PartInfo: make([]PartInfo, 0, len(parts)+1)}
	if hasInline {
		info.PartInfo = append(info.PartInfo, PartInfo{})
	}
	for _, d := range parts {
		info.PartInfo = append(info.PartInfo, d.PartInfo())
	}
	return info
}

// Descriptor reads the part back. Well-known properties fill their fields;
// the others are kept in order.
func (p *PartInfo) Descriptor() PartDescriptor {
	d := PartDescriptor{ContentID: NormalizeContentID(p.Href)}
	if p.PartProperties == nil {
		return d
	}
	for _, prop := range p.PartProperties.Property {
		switch prop.Name {
		case PropMimeType:
			d.MimeType = prop.Value
		case PropCharacterSet:
			d.CharacterSet = prop.Value
		case PropCompressionType:
			d.CompressionType = prop.Value
		default:
			d.Properties = append(d.Properties, prop)
		}
	}
	return d
}

// Inline reports whether the part is the SOAP body payload
func (p *PartInfo) Inline() bool {
	return p.Href == ""
}

// Property returns the value of the named part property, or ""
func (p *PartInfo) Property(name string) string {
	if p.PartProperties == nil {
		return ""
	}
	for _, prop := range p.PartProperties.Property {
		if prop.Name == name {
			return prop.Value
		}
	}
	return ""
}

func (p *PartInfo) addProperty(name, value string) {
	if value == "" {
		return
	}
	if p.PartProperties == nil {
		p.PartProperties = &PartProperties{}
	}
	p.PartProperties.Property = append(p.PartProperties.Property, Property{Name: name, Value: value})
}

// AttachmentParts returns the descriptors of the parts carried as MIME
// attachments, skipping the inline payload
func AttachmentParts(um *UserMessage) []PartDescriptor {
	if um == nil || um.PayloadInfo == nil {
		return nil
	}
	var out []PartDescriptor
	for i := range um.PayloadInfo.PartInfo {
		pi := &um.PayloadInfo.PartInfo[i]
		if pi.Inline() {
			continue
		}
		out = append(out, pi.Descriptor())
	}
	return out
}

// NormalizeContentID strips the cid: scheme and angle brackets
func NormalizeContentID(contentID string) string {
	contentID = strings.TrimPrefix(strings.TrimSpace(contentID), "cid:")
	contentID = strings.TrimPrefix(contentID, "<")
	return strings.TrimSuffix(contentID, ">")
}

// MatchContentID reports whether two Content-IDs name the same part
func MatchContentID(a, b string) bool {
	return NormalizeContentID(a) == NormalizeContentID(b)
}
