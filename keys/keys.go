// Package keys loads and validates signing credentials: certificates and
// private keys from PEM, DER and PKCS#12 containers, plus key generation
// for tests and provisioning.
package keys

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

var (
	// ErrMalformedCertificate is returned when certificate data cannot be
	// parsed.
	ErrMalformedCertificate = errors.New("malformed certificate")
	// ErrMalformedKey is returned when private key data cannot be parsed.
	ErrMalformedKey = errors.New("malformed private key")
	// ErrCertificateExpired is returned when the certificate validity
	// window has passed.
	ErrCertificateExpired = errors.New("certificate expired")
	// ErrCertificateNotYetValid is returned when the validity window has
	// not started.
	ErrCertificateNotYetValid = errors.New("certificate not yet valid")
	// ErrUnsupportedAlgorithm is returned for key types or sizes outside
	// the supported set.
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	// ErrKeyMismatch is returned when a private key does not match the
	// certificate public key.
	ErrKeyMismatch = errors.New("private key does not match certificate")
)

// KeyAlgorithm enumerates the supported signing key types.
type KeyAlgorithm string

const (
	RSA2048   KeyAlgorithm = "rsa-2048"
	RSA3072   KeyAlgorithm = "rsa-3072"
	RSA4096   KeyAlgorithm = "rsa-4096"
	ECDSAP256 KeyAlgorithm = "ecdsa-p256"
	ECDSAP384 KeyAlgorithm = "ecdsa-p384"
)

// Credentials bundle everything needed to produce a signature.
type Credentials struct {
	// Certificate is the end-entity signing certificate.
	Certificate *x509.Certificate
	// Signer is the matching private key.
	Signer crypto.Signer
	// Chain holds intermediate (and optionally root) certificates, leaf
	// excluded.
	Chain []*x509.Certificate
}

// LoadCertificates parses one or more certificates from PEM or raw DER.
func LoadCertificates(data []byte) ([]*x509.Certificate, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedCertificate)
	}

	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCertificate, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) > 0 {
		return certs, nil
	}

	// Not PEM, try raw DER.
	certs, err := x509.ParseCertificates(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCertificate, err)
	}
	return certs, nil
}

// LoadCertificate parses a single certificate from PEM or DER.
func LoadCertificate(data []byte) (*x509.Certificate, error) {
	certs, err := LoadCertificates(data)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

// LoadCertificatesFromFile reads and parses certificates from path.
func LoadCertificatesFromFile(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadCertificates(data)
}

// LoadPrivateKey parses a private key from PEM or DER in PKCS#8, PKCS#1
// or SEC1 form.
func LoadPrivateKey(data []byte) (crypto.Signer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedKey)
	}

	der := data
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			der = block.Bytes
		default:
			continue
		}
		break
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%w: PKCS#8 key is not a signer", ErrMalformedKey)
		}
		return signer, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}

	return nil, fmt.Errorf("%w: not PKCS#8, PKCS#1 or SEC1", ErrMalformedKey)
}

// LoadPrivateKeyFromFile reads and parses a private key from path.
func LoadPrivateKeyFromFile(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadPrivateKey(data)
}

// LoadPKCS12 unpacks a PKCS#12 container into signing credentials.
func LoadPKCS12(data []byte, password string) (*Credentials, error) {
	key, cert, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: PKCS#12 key is not a signer", ErrMalformedKey)
	}

	creds := &Credentials{Certificate: cert, Signer: signer, Chain: chain}
	if err := creds.CheckKeyMatch(); err != nil {
		return nil, err
	}
	return creds, nil
}

// LoadPKCS12FromFile reads and unpacks a PKCS#12 container from path.
func LoadPKCS12FromFile(path, password string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadPKCS12(data, password)
}

// CheckKeyMatch verifies that the private key belongs to the certificate.
func (c *Credentials) CheckKeyMatch() error {
	if c.Certificate == nil || c.Signer == nil {
		return fmt.Errorf("%w: incomplete credentials", ErrKeyMismatch)
	}
	switch pub := c.Certificate.PublicKey.(type) {
	case *rsa.PublicKey:
		priv, ok := c.Signer.Public().(*rsa.PublicKey)
		if !ok || !pub.Equal(priv) {
			return ErrKeyMismatch
		}
	case *ecdsa.PublicKey:
		priv, ok := c.Signer.Public().(*ecdsa.PublicKey)
		if !ok || !pub.Equal(priv) {
			return ErrKeyMismatch
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, pub)
	}
	return nil
}

// Validate checks the credentials against the supported algorithm set and
// the certificate validity window at the given time.
func (c *Credentials) Validate(at time.Time) error {
	if err := c.CheckKeyMatch(); err != nil {
		return err
	}
	if err := CheckSigningKey(c.Signer); err != nil {
		return err
	}
	return CheckValidity(c.Certificate, at)
}

// CheckValidity verifies that at falls inside the certificate validity
// window.
func CheckValidity(cert *x509.Certificate, at time.Time) error {
	if at.Before(cert.NotBefore) {
		return fmt.Errorf("%w: valid from %s", ErrCertificateNotYetValid, cert.NotBefore.Format(time.RFC3339))
	}
	if at.After(cert.NotAfter) {
		return fmt.Errorf("%w: valid until %s", ErrCertificateExpired, cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// CheckSigningKey enforces the supported key policy: RSA with at least
// 2048 bits, or ECDSA on P-256 or P-384.
func CheckSigningKey(signer crypto.Signer) error {
	switch pub := signer.Public().(type) {
	case *rsa.PublicKey:
		bits := pub.N.BitLen()
		if bits < 2048 {
			return fmt.Errorf("%w: RSA key of %d bits, need at least 2048", ErrUnsupportedAlgorithm, bits)
		}
	case *ecdsa.PublicKey:
		switch pub.Curve {
		case elliptic.P256(), elliptic.P384():
		default:
			return fmt.Errorf("%w: ECDSA curve %s", ErrUnsupportedAlgorithm, pub.Curve.Params().Name)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, pub)
	}
	return nil
}

// DefaultHash returns the digest algorithm conventionally paired with the
// signer's key: SHA-384 for P-384 keys, SHA-256 otherwise.
func DefaultHash(signer crypto.Signer) crypto.Hash {
	if pub, ok := signer.Public().(*ecdsa.PublicKey); ok && pub.Curve == elliptic.P384() {
		return crypto.SHA384
	}
	return crypto.SHA256
}

// Generate creates a fresh private key of the given algorithm.
func Generate(alg KeyAlgorithm) (crypto.Signer, error) {
	switch alg {
	case RSA2048:
		return rsa.GenerateKey(rand.Reader, 2048)
	case RSA3072:
		return rsa.GenerateKey(rand.Reader, 3072)
	case RSA4096:
		return rsa.GenerateKey(rand.Reader, 4096)
	case ECDSAP256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case ECDSAP384:
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// SelfSignedOptions configure GenerateSelfSigned.
type SelfSignedOptions struct {
	CommonName   string
	Organization string
	NotBefore    time.Time
	NotAfter     time.Time
	// IsCA marks the certificate as a certificate authority.
	IsCA bool
}

// GenerateSelfSigned issues a self-signed certificate for the key.
func GenerateSelfSigned(signer crypto.Signer, opts SelfSignedOptions) (*x509.Certificate, error) {
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = opts.NotBefore.AddDate(1, 0, 0)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   opts.CommonName,
			Organization: []string{opts.Organization},
		},
		NotBefore:             opts.NotBefore,
		NotAfter:              opts.NotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  opts.IsCA,
	}
	if opts.IsCA {
		template.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

// IssueCertificate issues a certificate for subjectKey signed by the
// parent credentials.
func IssueCertificate(parentCert *x509.Certificate, parentKey crypto.Signer, subjectKey crypto.Signer, opts SelfSignedOptions) (*x509.Certificate, error) {
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = opts.NotBefore.AddDate(1, 0, 0)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   opts.CommonName,
			Organization: []string{opts.Organization},
		},
		NotBefore:             opts.NotBefore,
		NotAfter:              opts.NotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  opts.IsCA,
	}
	if opts.IsCA {
		template.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parentCert, subjectKey.Public(), parentKey)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

// IsSelfSigned reports whether the certificate is issued to itself.
// The raw signature is checked directly: CheckSignatureFrom would
// demand CA constraints the common self-signed signing leaf does not
// carry.
func IsSelfSigned(cert *x509.Certificate) bool {
	if !bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		return false
	}
	return cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}

// Fingerprint returns the hex SHA-256 fingerprint of the certificate.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// KeyInfo describes a public key for display purposes.
type KeyInfo struct {
	Type  string
	Bits  int
	Curve string
}

// GetKeyInfo inspects a public key.
func GetKeyInfo(pub crypto.PublicKey) KeyInfo {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return KeyInfo{Type: "RSA", Bits: k.N.BitLen()}
	case *ecdsa.PublicKey:
		return KeyInfo{Type: "ECDSA", Bits: k.Curve.Params().BitSize, Curve: k.Curve.Params().Name}
	default:
		return KeyInfo{Type: fmt.Sprintf("%T", pub)}
	}
}
