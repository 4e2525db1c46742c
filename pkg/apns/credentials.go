package apns

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// Credentials are the client certificate presented to the gateway and the
// roots used to verify it. They are passed into every session explicitly
// and are never mutated by this package.
type Credentials struct {
	Certificate tls.Certificate
	// RootCAs verifies the gateway. Nil means the system pool.
	RootCAs *x509.CertPool
}

// LoadCredentials reads a PEM certificate and private key, and optionally a
// PEM CA bundle. An empty caFile selects the system roots.
func LoadCredentials(certFile, keyFile, caFile string) (*Credentials, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	roots, err := loadRoots(caFile)
	if err != nil {
		return nil, err
	}
	return &Credentials{Certificate: cert, RootCAs: roots}, nil
}

// LoadP12Credentials reads a PKCS#12 bundle as exported from Keychain
// Access, and optionally a PEM CA bundle.
func LoadP12Credentials(p12File, password, caFile string) (*Credentials, error) {
	data, err := os.ReadFile(p12File)
	if err != nil {
		return nil, fmt.Errorf("failed to read p12 file: %w", err)
	}
	key, leaf, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode p12 file: %w", err)
	}
	roots, err := loadRoots(caFile)
	if err != nil {
		return nil, err
	}
	return &Credentials{
		Certificate: tls.Certificate{
			Certificate: [][]byte{leaf.Raw},
			PrivateKey:  key,
			Leaf:        leaf,
		},
		RootCAs: roots,
	}, nil
}

func loadRoots(caFile string) (*x509.CertPool, error) {
	if caFile == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("no certificates found in ca file")
	}
	return pool, nil
}

// TLSConfig returns a client configuration for serverName. The version is
// pinned to TLS 1.2: under 1.3 the peer rejects a client certificate only
// after the client side of the handshake has completed, so a bad identity
// would surface on the first read instead of from the handshake.
func (c *Credentials) TLSConfig(serverName string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.Certificate},
		RootCAs:      c.RootCAs,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
	}
}
