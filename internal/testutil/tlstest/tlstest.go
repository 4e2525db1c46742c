// Package tlstest provides a throwaway certificate authority and a TLS
// listener that requires client certificates, for exercising the gateway
// and feedback protocols in-process.
package tlstest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// Authority issues certificates signed by a test CA.
type Authority struct {
	cert   *x509.Certificate
	key    *rsa.PrivateKey
	pool   *x509.CertPool
	caPath string
}

// NewAuthority creates a CA and writes its certificate to dir/ca.crt.
func NewAuthority(t testing.TB, dir string) *Authority {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate ca key: %v", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Push CA"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create ca cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}
	caPath := filepath.Join(dir, "ca.crt")
	if err := writePEM(caPath, "CERTIFICATE", der, 0o644); err != nil {
		t.Fatalf("write ca cert: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)

	return &Authority{cert: cert, key: key, pool: pool, caPath: caPath}
}

// CAFile is the path of the PEM CA certificate.
func (a *Authority) CAFile() string { return a.caPath }

// Pool returns a pool containing only the CA.
func (a *Authority) Pool() *x509.CertPool { return a.pool }

// IssueServerCert issues a certificate valid for localhost and 127.0.0.1.
func (a *Authority) IssueServerCert(t testing.TB) tls.Certificate {
	t.Helper()
	cert, _, _ := a.issue(t, "localhost", x509.ExtKeyUsageServerAuth, []string{"localhost"}, []net.IP{net.IPv4(127, 0, 0, 1)})
	return cert
}

// IssueClientCert issues a client certificate and writes it and its key as
// PEM files under dir, returning the paths too.
func (a *Authority) IssueClientCert(t testing.TB, dir, commonName string) (tls.Certificate, string, string) {
	t.Helper()
	cert, certDER, keyDER := a.issue(t, commonName, x509.ExtKeyUsageClientAuth, nil, nil)
	certPath := filepath.Join(dir, commonName+".crt")
	keyPath := filepath.Join(dir, commonName+".key")
	if err := writePEM(certPath, "CERTIFICATE", certDER, 0o644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := writePEM(keyPath, "RSA PRIVATE KEY", keyDER, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return cert, certPath, keyPath
}

func (a *Authority) issue(t testing.TB, commonName string, usage x509.ExtKeyUsage, dnsNames []string, ips []net.IP) (tls.Certificate, []byte, []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		DNSNames:     dnsNames,
		IPAddresses:  ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, a.cert, &key.PublicKey, a.key)
	if err != nil {
		t.Fatalf("create signed cert: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse signed cert: %v", err)
	}
	keyDER := x509.MarshalPKCS1PrivateKey(key)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, der, keyDER
}

// Server is a TLS listener that hands each accepted connection to a handler.
type Server struct {
	Addr string

	ln       net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	accepted int
}

// Serve starts a listener on 127.0.0.1 that requires client certificates
// issued by a. handler runs once per connection; the connection is closed
// when it returns. The server stops when the test ends.
func (a *Authority) Serve(t testing.TB, handler func(conn *tls.Conn)) *Server {
	t.Helper()

	cfg := &tls.Config{
		Certificates: []tls.Certificate{a.IssueServerCert(t)},
		ClientCAs:    a.pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{Addr: ln.Addr().String(), ln: ln}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					t.Logf("accept: %v", err)
				}
				return
			}
			s.mu.Lock()
			s.accepted++
			s.mu.Unlock()
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer conn.Close()
				handler(conn.(*tls.Conn))
			}()
		}
	}()
	t.Cleanup(s.Close)
	return s
}

// Accepted reports how many connections have been accepted.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Close stops the listener and waits for handlers to return.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.wg.Wait()
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return os.WriteFile(path, data, mode)
}
