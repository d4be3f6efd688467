package message

import "github.com/beevik/etree"

// EbMSPrefix is the prefix of ebMS header elements on the wire. WSS4J based
// gateways such as Domibus reject a default namespace on eb:Messaging.
const EbMSPrefix = "eb"

// PrefixNamespace rewrites the tree below el so that elements in the
// default namespace ns carry prefix instead. Each outermost default
// declaration of ns becomes a prefix declaration on the same element.
func PrefixNamespace(el *etree.Element, ns, prefix string) {
	prefixNamespace(el, ns, prefix, false, false)
}

func prefixNamespace(el *etree.Element, ns, prefix string, inNS, declared bool) {
	if a := el.SelectAttr("xmlns"); a != nil {
		inNS = a.Value == ns
		if inNS {
			el.RemoveAttr("xmlns")
			if !declared {
				declarePrefix(el, prefix, ns)
				declared = true
			}
		}
	}
	if inNS && el.Space == "" {
		el.Space = prefix
	}
	for _, child := range el.ChildElements() {
		prefixNamespace(child, ns, prefix, inNS, declared)
	}
}

// declarePrefix adds xmlns:prefix as the first attribute of el
func declarePrefix(el *etree.Element, prefix, ns string) {
	el.CreateAttr("xmlns:"+prefix, ns)
	n := len(el.Attr)
	decl := el.Attr[n-1]
	copy(el.Attr[1:], el.Attr[:n-1])
	el.Attr[0] = decl
}
