package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"
)

func TestGenerateAndPolicy(t *testing.T) {
	tests := []struct {
		alg     KeyAlgorithm
		keyType string
		bits    int
	}{
		{RSA2048, "RSA", 2048},
		{ECDSAP256, "ECDSA", 256},
		{ECDSAP384, "ECDSA", 384},
	}

	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			signer, err := Generate(tt.alg)
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			if err := CheckSigningKey(signer); err != nil {
				t.Errorf("CheckSigningKey rejected generated key: %v", err)
			}
			info := GetKeyInfo(signer.Public())
			if info.Type != tt.keyType || info.Bits != tt.bits {
				t.Errorf("Expected %s/%d, got %s/%d", tt.keyType, tt.bits, info.Type, info.Bits)
			}
		})
	}

	if _, err := Generate("dsa-1024"); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("Expected ErrUnsupportedAlgorithm, got %v", err)
	}
}

func TestCheckSigningKeyRejectsWeakKeys(t *testing.T) {
	weak, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generating weak key: %v", err)
	}
	if err := CheckSigningKey(weak); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("Expected ErrUnsupportedAlgorithm for 1024-bit RSA, got %v", err)
	}

	p224, err := ecdsa.GenerateKey(elliptic.P224(), rand.Reader)
	if err != nil {
		t.Fatalf("generating P-224 key: %v", err)
	}
	if err := CheckSigningKey(p224); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("Expected ErrUnsupportedAlgorithm for P-224, got %v", err)
	}
}

func TestLoadPrivateKeyFormats(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	pkcs8, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	if err != nil {
		t.Fatalf("marshaling PKCS#8: %v", err)
	}
	sec1, err := x509.MarshalECPrivateKey(ecKey)
	if err != nil {
		t.Fatalf("marshaling SEC1: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"pkcs8 der", pkcs8},
		{"pkcs8 pem", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})},
		{"pkcs1 der", x509.MarshalPKCS1PrivateKey(rsaKey)},
		{"pkcs1 pem", pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)})},
		{"sec1 der", sec1},
		{"sec1 pem", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadPrivateKey(tt.data); err != nil {
				t.Errorf("LoadPrivateKey failed: %v", err)
			}
		})
	}

	if _, err := LoadPrivateKey([]byte("not a key")); !errors.Is(err, ErrMalformedKey) {
		t.Errorf("Expected ErrMalformedKey, got %v", err)
	}
	if _, err := LoadPrivateKey(nil); !errors.Is(err, ErrMalformedKey) {
		t.Errorf("Expected ErrMalformedKey for empty input, got %v", err)
	}
}

func TestLoadCertificates(t *testing.T) {
	signer, err := Generate(ECDSAP256)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	cert, err := GenerateSelfSigned(signer, SelfSignedOptions{CommonName: "Test Signer"})
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}

	fromDER, err := LoadCertificate(cert.Raw)
	if err != nil {
		t.Fatalf("LoadCertificate(DER) failed: %v", err)
	}
	if fromDER.Subject.CommonName != "Test Signer" {
		t.Errorf("Unexpected subject %q", fromDER.Subject.CommonName)
	}

	pemData := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	fromPEM, err := LoadCertificates(append(pemData, pemData...))
	if err != nil {
		t.Fatalf("LoadCertificates(PEM) failed: %v", err)
	}
	if len(fromPEM) != 2 {
		t.Errorf("Expected 2 certificates, got %d", len(fromPEM))
	}

	if _, err := LoadCertificates([]byte("garbage")); !errors.Is(err, ErrMalformedCertificate) {
		t.Errorf("Expected ErrMalformedCertificate, got %v", err)
	}
}

func TestValidityWindow(t *testing.T) {
	signer, _ := Generate(ECDSAP256)
	notBefore := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	cert, err := GenerateSelfSigned(signer, SelfSignedOptions{
		CommonName: "Windowed",
		NotBefore:  notBefore,
		NotAfter:   notAfter,
	})
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}

	if err := CheckValidity(cert, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Errorf("In-window check failed: %v", err)
	}
	if err := CheckValidity(cert, notBefore.Add(-time.Minute)); !errors.Is(err, ErrCertificateNotYetValid) {
		t.Errorf("Expected ErrCertificateNotYetValid, got %v", err)
	}
	if err := CheckValidity(cert, notAfter.Add(time.Minute)); !errors.Is(err, ErrCertificateExpired) {
		t.Errorf("Expected ErrCertificateExpired, got %v", err)
	}
}

func TestCredentialsKeyMatch(t *testing.T) {
	signer, _ := Generate(ECDSAP256)
	cert, err := GenerateSelfSigned(signer, SelfSignedOptions{CommonName: "Match"})
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}

	good := &Credentials{Certificate: cert, Signer: signer}
	if err := good.CheckKeyMatch(); err != nil {
		t.Errorf("Matching credentials rejected: %v", err)
	}

	other, _ := Generate(ECDSAP256)
	bad := &Credentials{Certificate: cert, Signer: other}
	if err := bad.CheckKeyMatch(); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("Expected ErrKeyMismatch, got %v", err)
	}
}

func TestIssueCertificateChain(t *testing.T) {
	caKey, _ := Generate(ECDSAP256)
	caCert, err := GenerateSelfSigned(caKey, SelfSignedOptions{CommonName: "Root CA", IsCA: true})
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}
	if !IsSelfSigned(caCert) {
		t.Error("Root CA not detected as self-signed")
	}

	leafKey, _ := Generate(ECDSAP256)
	leafCert, err := IssueCertificate(caCert, caKey, leafKey, SelfSignedOptions{CommonName: "Leaf"})
	if err != nil {
		t.Fatalf("IssueCertificate failed: %v", err)
	}
	if IsSelfSigned(leafCert) {
		t.Error("Leaf detected as self-signed")
	}
	if err := leafCert.CheckSignatureFrom(caCert); err != nil {
		t.Errorf("Leaf signature does not chain to CA: %v", err)
	}
}

func TestIsSelfSignedLeaf(t *testing.T) {
	// A plain signing leaf carries no CA constraints; detection must not
	// depend on them.
	key, _ := Generate(RSA2048)
	leaf, err := GenerateSelfSigned(key, SelfSignedOptions{CommonName: "Lone Signer"})
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}
	if leaf.IsCA {
		t.Fatal("test certificate unexpectedly marked CA")
	}
	if !IsSelfSigned(leaf) {
		t.Error("self-signed non-CA leaf not detected as self-signed")
	}
}

func TestDefaultHash(t *testing.T) {
	p384, _ := Generate(ECDSAP384)
	if DefaultHash(p384).String() != "SHA-384" {
		t.Errorf("Expected SHA-384 for P-384 key")
	}
	rsaKey, _ := Generate(RSA2048)
	if DefaultHash(rsaKey).String() != "SHA-256" {
		t.Errorf("Expected SHA-256 for RSA key")
	}
}

func TestFingerprint(t *testing.T) {
	signer, _ := Generate(ECDSAP256)
	cert, _ := GenerateSelfSigned(signer, SelfSignedOptions{CommonName: "FP"})

	fp := Fingerprint(cert)
	if len(fp) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(fp))
	}
	if fp != Fingerprint(cert) {
		t.Error("Fingerprint not stable")
	}
}
