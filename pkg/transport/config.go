package transport

import (
	"crypto/tls"
	"crypto/x509"
	"time"
)

// TLS versions accepted by the AS4 profile
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

const (
	// DefaultPath is the URL path the server accepts messages on.
	DefaultPath = "/as4"
	// DefaultMaxBodySize bounds request and response bodies.
	DefaultMaxBodySize = 64 << 20

	userAgent = "go-ebms/1.0"
)

// RecommendedTLS12CipherSuites are the AEAD suites offered when TLS 1.2 is
// negotiated. TLS 1.3 suites are not configurable.
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// HTTPSConfig is shared by HTTPSClient and HTTPSServer. RootCAs only
// applies to clients; ClientCAs and ClientAuth only to servers.
type HTTPSConfig struct {
	MinTLSVersion   uint16
	MaxTLSVersion   uint16
	CipherSuites    []uint16
	ClientAuth      tls.ClientAuthType
	Certificates    []tls.Certificate
	RootCAs         *x509.CertPool
	ClientCAs       *x509.CertPool
	Timeout         time.Duration
	IdleConnTimeout time.Duration
	// MaxBodySize limits bodies read by the client and server. Zero means
	// DefaultMaxBodySize.
	MaxBodySize int64
}

// DefaultHTTPSConfig allows TLS 1.2 and 1.3 without client authentication
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		ClientAuth:      tls.NoClientCert,
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
		MaxBodySize:     DefaultMaxBodySize,
	}
}

func (c *HTTPSConfig) maxBodySize() int64 {
	if c.MaxBodySize <= 0 {
		return DefaultMaxBodySize
	}
	return c.MaxBodySize
}

func (c *HTTPSConfig) tlsConfig(server bool) *tls.Config {
	tc := &tls.Config{
		MinVersion:   c.MinTLSVersion,
		MaxVersion:   c.MaxTLSVersion,
		CipherSuites: c.CipherSuites,
		Certificates: c.Certificates,
	}
	if server {
		tc.ClientCAs = c.ClientCAs
		tc.ClientAuth = c.ClientAuth
	} else {
		tc.RootCAs = c.RootCAs
	}
	return tc
}
