// Package pki issues the development TLS certificates used by the gateway
// and loads the CA the CLI should trust.
package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// File names used by LoadOrCreateFileCA.
const (
	CAKeyFile  = "ca-key.pem"
	CACertFile = "ca.pem"
)

const (
	caValidity = 365 * 24 * time.Hour

	// DefaultServerCertTTL is the lifetime of certificates from IssueServerCertificate.
	DefaultServerCertTTL = 30 * 24 * time.Hour
)

// CASigner signs server certificates. IssueServerCertificate only needs
// this much of a CA.
type CASigner interface {
	// SignCertificate signs template, whose PublicKey must be set, and
	// returns the DER certificate.
	SignCertificate(template *x509.Certificate) ([]byte, error)
	GetCACertificate() (*x509.Certificate, error)
}

var _ CASigner = (*FileCA)(nil)

// FileCA implements CASigner using a CA private key stored in a file.
// This is intended for local development only - not for production use.
type FileCA struct {
	caKey  *ecdsa.PrivateKey
	caCert *x509.Certificate
}

// LoadFileCA creates a FileCA from PEM-encoded key and certificate files.
// The caKeyPath must point to a PEM-encoded ECDSA private key.
// The caCertPath must point to a PEM-encoded X.509 certificate.
func LoadFileCA(caKeyPath, caCertPath string) (*FileCA, error) {
	// Load CA private key
	keyData, err := os.ReadFile(caKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA key file: %w", err)
	}

	keyBlock, _ := pem.Decode(keyData)
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode CA key PEM")
	}

	caKey, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA private key: %w", err)
	}

	// Load CA certificate
	certData, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert file: %w", err)
	}

	certBlock, _ := pem.Decode(certData)
	if certBlock == nil {
		return nil, fmt.Errorf("failed to decode CA cert PEM")
	}

	caCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	// Verify key and cert match
	if err := verifyCertKeyPair(caCert, caKey); err != nil {
		return nil, fmt.Errorf("CA key and certificate do not match: %w", err)
	}

	return &FileCA{
		caKey:  caKey,
		caCert: caCert,
	}, nil
}

// NewFileCA generates a self-signed ECDSA P-256 CA.
func NewFileCA(commonName string) (*FileCA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"pollbooth development"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to self-sign CA: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	return &FileCA{caKey: key, caCert: cert}, nil
}

// LoadOrCreateFileCA loads the CA kept in dir, creating and writing a new
// one when the directory holds none. An expired CA is replaced.
func LoadOrCreateFileCA(dir string) (*FileCA, error) {
	keyPath := filepath.Join(dir, CAKeyFile)
	certPath := filepath.Join(dir, CACertFile)

	ca, err := LoadFileCA(keyPath, certPath)
	switch {
	case err == nil && time.Now().Before(ca.caCert.NotAfter):
		return ca, nil
	case err == nil:
		log.Warn().Time("notAfter", ca.caCert.NotAfter).Msg("development CA expired, generating a new one")
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	ca, err = NewFileCA("pollbooth development CA")
	if err != nil {
		return nil, err
	}
	if err := ca.Write(dir); err != nil {
		return nil, err
	}

	log.Info().Str("path", certPath).Msg("generated development CA")

	return ca, nil
}

// Write stores the CA key (mode 0600) and certificate in dir.
func (s *FileCA) Write(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(s.caKey)
	if err != nil {
		return fmt.Errorf("failed to marshal CA key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(filepath.Join(dir, CAKeyFile), keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write CA key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.caCert.Raw})
	if err := os.WriteFile(filepath.Join(dir, CACertFile), certPEM, 0644); err != nil {
		return fmt.Errorf("failed to write CA certificate: %w", err)
	}

	return nil
}

// SignCertificate signs a certificate template using the file-based CA private key.
// Returns DER-encoded certificate bytes.
func (s *FileCA) SignCertificate(template *x509.Certificate) ([]byte, error) {
	return x509.CreateCertificate(rand.Reader, template, s.caCert, template.PublicKey, s.caKey)
}

// GetCACertificate returns the CA certificate.
func (s *FileCA) GetCACertificate() (*x509.Certificate, error) {
	return s.caCert, nil
}

// IssueServerCertificate creates a key and a server certificate for hosts
// (DNS names or IP addresses) signed by signer. The returned chain
// includes the CA certificate.
func IssueServerCertificate(signer CASigner, hosts []string, ttl time.Duration) (tls.Certificate, error) {
	if len(hosts) == 0 {
		return tls.Certificate{}, errors.New("at least one host is required")
	}

	caCert, err := signer.GetCACertificate()
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to get CA certificate: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate server key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return tls.Certificate{}, err
	}

	now := time.Now()
	notAfter := now.Add(ttl)
	if notAfter.After(caCert.NotAfter) {
		notAfter = caCert.NotAfter
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hosts[0]},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		PublicKey:    &key.PublicKey,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := signer.SignCertificate(template)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to sign server certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse server certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der, caCert.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// CertPool returns a pool holding the PEM certificates in caFile.
func CertPool(caFile string) (*x509.CertPool, error) {
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}

	return pool, nil
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}

// verifyCertKeyPair checks that a certificate's public key matches a private key
func verifyCertKeyPair(cert *x509.Certificate, key crypto.PrivateKey) error {
	ecdsaKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return fmt.Errorf("private key is not ECDSA")
	}

	certPubKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	if !ecdsaKey.PublicKey.Equal(certPubKey) {
		return fmt.Errorf("public keys do not match")
	}

	return nil
}
