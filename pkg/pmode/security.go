package pmode

// SecurityProfile names an algorithm suite. The engine never computes
// signatures itself; the profile selects what it asks its crypto provider
// for.
type SecurityProfile string

const (
	// ProfileAS4v2 is the eDelivery AS4 2.0 suite (Ed25519 and X25519)
	ProfileAS4v2 SecurityProfile = "as4v2"
	// ProfileDomibus is RSA with AES-GCM as Domibus expects it
	ProfileDomibus SecurityProfile = "domibus"
	// ProfileEDelivery is the eDelivery AS4 1.x suite
	ProfileEDelivery SecurityProfile = "edelivery"
	// ProfileCustom leaves every algorithm to the leg configuration
	ProfileCustom SecurityProfile = "custom"
)

// Known reports whether p is one of the predefined profiles. The empty
// profile counts as custom.
func (p SecurityProfile) Known() bool {
	switch p {
	case "", ProfileAS4v2, ProfileDomibus, ProfileEDelivery, ProfileCustom:
		return true
	}
	return false
}

type (
	SignatureAlgorithm        string
	HashAlgorithm             string
	KeyEncryptionAlgorithm    string
	DataEncryptionAlgorithm   string
	CanonicalizationAlgorithm string
	TokenReferenceMethod      string
	// NamespaceVersion is the ebMS header namespace a PMode uses
	NamespaceVersion string
)

const (
	AlgoEd25519     SignatureAlgorithm = "http://www.w3.org/2021/04/xmldsig-more#eddsa-ed25519"
	AlgoRSASHA256   SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgoRSASHA384   SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"
	AlgoRSASHA512   SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"
	AlgoECDSASHA256 SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"

	HashSHA256 HashAlgorithm = "http://www.w3.org/2001/04/xmlenc#sha256"
	HashSHA384 HashAlgorithm = "http://www.w3.org/2001/04/xmlenc#sha384"
	HashSHA512 HashAlgorithm = "http://www.w3.org/2001/04/xmlenc#sha512"

	KeyAlgoX25519     KeyEncryptionAlgorithm = "http://www.w3.org/2021/04/xmlenc#x25519"
	KeyAlgoRSAOAEP    KeyEncryptionAlgorithm = "http://www.w3.org/2001/04/xmlenc#rsa-oaep-mgf1p"
	KeyAlgoRSAOAEP256 KeyEncryptionAlgorithm = "http://www.w3.org/2009/xmlenc11#rsa-oaep"

	DataAlgoAES128GCM DataEncryptionAlgorithm = "http://www.w3.org/2009/xmlenc11#aes128-gcm"
	DataAlgoAES256GCM DataEncryptionAlgorithm = "http://www.w3.org/2009/xmlenc11#aes256-gcm"
	DataAlgoAES128CBC DataEncryptionAlgorithm = "http://www.w3.org/2001/04/xmlenc#aes128-cbc"
	DataAlgoAES256CBC DataEncryptionAlgorithm = "http://www.w3.org/2001/04/xmlenc#aes256-cbc"

	C14NExclusive CanonicalizationAlgorithm = "http://www.w3.org/2001/10/xml-exc-c14n#"
	C14NInclusive CanonicalizationAlgorithm = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"

	TokenRefBinarySecurityToken TokenReferenceMethod = "BinarySecurityToken"
	TokenRefKeyIdentifier       TokenReferenceMethod = "KeyIdentifier"
	TokenRefIssuerSerial        TokenReferenceMethod = "IssuerSerial"
	TokenRefThumbprint          TokenReferenceMethod = "Thumbprint"

	// NamespaceEBMS3 is the ebMS 3.0 core namespace used by AS4 1.0
	NamespaceEBMS3 NamespaceVersion = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/"
	// NamespaceAS4v2 is the draft AS4 2.0 namespace
	NamespaceAS4v2 NamespaceVersion = "http://docs.oasis-open.org/ebxml-msg/as4/v2.0/ns/core/202X/"
)

const keyWrapAES128 = "http://www.w3.org/2001/04/xmlenc#kw-aes128"

// SignConfig selects how a leg's messages are signed
type SignConfig struct {
	Algorithm        SignatureAlgorithm        `yaml:"algorithm,omitempty" json:"algorithm,omitempty" bson:"algorithm,omitempty"`
	HashFunction     HashAlgorithm             `yaml:"hashFunction,omitempty" json:"hashFunction,omitempty" bson:"hash_function,omitempty"`
	Canonicalization CanonicalizationAlgorithm `yaml:"canonicalization,omitempty" json:"canonicalization,omitempty" bson:"canonicalization,omitempty"`
	TokenReference   TokenReferenceMethod      `yaml:"tokenReference,omitempty" json:"tokenReference,omitempty" bson:"token_reference,omitempty"`
	SignAttachments  bool                      `yaml:"signAttachments,omitempty" json:"signAttachments,omitempty" bson:"sign_attachments"`
}

// EncryptionConfig selects how a leg's payloads are encrypted.
// KeyDerivation is only used with key agreement algorithms.
type EncryptionConfig struct {
	Algorithm          KeyEncryptionAlgorithm  `yaml:"algorithm,omitempty" json:"algorithm,omitempty" bson:"algorithm,omitempty"`
	KeyDerivation      string                  `yaml:"keyDerivation,omitempty" json:"keyDerivation,omitempty" bson:"key_derivation,omitempty"`
	DataEncryption     DataEncryptionAlgorithm `yaml:"dataEncryption,omitempty" json:"dataEncryption,omitempty" bson:"data_encryption,omitempty"`
	KeyWrap            string                  `yaml:"keyWrap,omitempty" json:"keyWrap,omitempty" bson:"key_wrap,omitempty"`
	EncryptAttachments bool                    `yaml:"encryptAttachments,omitempty" json:"encryptAttachments,omitempty" bson:"encrypt_attachments"`
}

type profileSuite struct {
	sign SignConfig
	enc  EncryptionConfig
}

var rsaSuite = profileSuite{
	sign: SignConfig{
		Algorithm:        AlgoRSASHA256,
		HashFunction:     HashSHA256,
		Canonicalization: C14NExclusive,
		TokenReference:   TokenRefKeyIdentifier,
		SignAttachments:  true,
	},
	enc: EncryptionConfig{
		Algorithm:          KeyAlgoRSAOAEP,
		DataEncryption:     DataAlgoAES128GCM,
		KeyWrap:            keyWrapAES128,
		EncryptAttachments: true,
	},
}

var suites = map[SecurityProfile]profileSuite{
	ProfileAS4v2: {
		sign: SignConfig{
			Algorithm:        AlgoEd25519,
			HashFunction:     HashSHA256,
			Canonicalization: C14NExclusive,
			TokenReference:   TokenRefBinarySecurityToken,
			SignAttachments:  true,
		},
		enc: EncryptionConfig{
			Algorithm:          KeyAlgoX25519,
			KeyDerivation:      "HKDF-SHA256",
			DataEncryption:     DataAlgoAES128GCM,
			EncryptAttachments: true,
		},
	},
	ProfileDomibus:   rsaSuite,
	ProfileEDelivery: rsaSuite,
}

// customSuite is used for ProfileCustom and unknown profiles. It covers
// the SOAP envelope only.
var customSuite = profileSuite{
	sign: SignConfig{
		Algorithm:        AlgoRSASHA256,
		HashFunction:     HashSHA256,
		Canonicalization: C14NExclusive,
		TokenReference:   TokenRefBinarySecurityToken,
	},
	enc: EncryptionConfig{
		Algorithm:      KeyAlgoRSAOAEP,
		DataEncryption: DataAlgoAES128GCM,
	},
}

func suiteFor(profile SecurityProfile) profileSuite {
	if s, ok := suites[profile]; ok {
		return s
	}
	return customSuite
}

// DefaultSignConfig returns a fresh copy of the profile's signing defaults
func DefaultSignConfig(profile SecurityProfile) *SignConfig {
	c := suiteFor(profile).sign
	return &c
}

// DefaultEncryptionConfig returns a fresh copy of the profile's encryption
// defaults
func DefaultEncryptionConfig(profile SecurityProfile) *EncryptionConfig {
	c := suiteFor(profile).enc
	return &c
}
