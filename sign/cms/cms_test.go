package cms

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quillsign/pdfsign/keys"
)

func testCredentials(t *testing.T, alg keys.KeyAlgorithm) (*x509.Certificate, crypto.Signer) {
	t.Helper()
	signer, err := keys.Generate(alg)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cert, err := keys.GenerateSelfSigned(signer, keys.SelfSignedOptions{
		CommonName:   "CMS Test Signer",
		Organization: "QuillSign Test",
	})
	if err != nil {
		t.Fatalf("self sign: %v", err)
	}
	return cert, signer
}

func TestSignAndVerifyRSA(t *testing.T) {
	cert, signer := testCredentials(t, keys.RSA2048)
	builder := &Builder{Certificate: cert, Signer: signer}

	content := []byte("detached content for signing")
	der, err := builder.Sign(context.Background(), content)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	sd, err := Parse(der)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := sd.Verify(content); err != nil {
		t.Fatalf("verify: %v", err)
	}

	signerCert, err := sd.SignerCertificate()
	if err != nil {
		t.Fatalf("signer certificate: %v", err)
	}
	if signerCert.SerialNumber.Cmp(cert.SerialNumber) != 0 {
		t.Errorf("signer serial = %v, want %v", signerCert.SerialNumber, cert.SerialNumber)
	}
}

func TestSignAndVerifyECDSA(t *testing.T) {
	for _, alg := range []keys.KeyAlgorithm{keys.ECDSAP256, keys.ECDSAP384} {
		t.Run(string(alg), func(t *testing.T) {
			cert, signer := testCredentials(t, alg)
			builder := &Builder{
				Certificate: cert,
				Signer:      signer,
				Hash:        keys.DefaultHash(signer),
			}

			content := []byte("elliptic curve signed content")
			der, err := builder.Sign(context.Background(), content)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			sd, err := Parse(der)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if err := sd.Verify(content); err != nil {
				t.Fatalf("verify: %v", err)
			}
		})
	}
}

func TestVerifyRejectsTamperedContent(t *testing.T) {
	cert, signer := testCredentials(t, keys.RSA2048)
	builder := &Builder{Certificate: cert, Signer: signer}

	der, err := builder.Sign(context.Background(), []byte("original"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sd, err := Parse(der)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := sd.Verify([]byte("tampered")); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("verify tampered content: err = %v, want ErrDigestMismatch", err)
	}
}

func TestSigningTimeUsesClock(t *testing.T) {
	cert, signer := testCredentials(t, keys.RSA2048)
	pinned := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	builder := &Builder{
		Certificate: cert,
		Signer:      signer,
		Clock:       clockwork.NewFakeClockAt(pinned),
	}

	der, err := builder.Sign(context.Background(), []byte("clocked"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sd, err := Parse(der)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, ok := sd.SigningTime()
	if !ok {
		t.Fatal("signing time attribute missing")
	}
	if !got.Equal(pinned) {
		t.Errorf("signing time = %v, want %v", got, pinned)
	}
}

func TestCertificateChainEmbedded(t *testing.T) {
	caKey, err := keys.Generate(keys.ECDSAP256)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}
	caCert, err := keys.GenerateSelfSigned(caKey, keys.SelfSignedOptions{
		CommonName: "Test Root",
		IsCA:       true,
	})
	if err != nil {
		t.Fatalf("self sign CA: %v", err)
	}
	leafKey, err := keys.Generate(keys.ECDSAP256)
	if err != nil {
		t.Fatalf("generate leaf key: %v", err)
	}
	leafCert, err := keys.IssueCertificate(caCert, caKey, leafKey, keys.SelfSignedOptions{
		CommonName: "Test Leaf",
	})
	if err != nil {
		t.Fatalf("issue leaf: %v", err)
	}

	builder := &Builder{
		Certificate: leafCert,
		Signer:      leafKey,
		Chain:       []*x509.Certificate{caCert},
	}
	der, err := builder.Sign(context.Background(), []byte("chained"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sd, err := Parse(der)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := len(sd.Certificates()); got != 2 {
		t.Fatalf("embedded certificates = %d, want 2", got)
	}
	signerCert, err := sd.SignerCertificate()
	if err != nil {
		t.Fatalf("signer certificate: %v", err)
	}
	if signerCert.Subject.CommonName != "Test Leaf" {
		t.Errorf("signer CN = %q, want %q", signerCert.Subject.CommonName, "Test Leaf")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, tt := range []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not asn1", []byte("definitely not DER")},
		{"wrong content type", mustMarshalData(t)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.data); err == nil {
				t.Error("Parse accepted invalid input")
			}
		})
	}
}

func mustMarshalData(t *testing.T) []byte {
	t.Helper()
	cert, signer := testCredentials(t, keys.ECDSAP256)
	builder := &Builder{Certificate: cert, Signer: signer}
	der, err := builder.Sign(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	// Swap the outer content type OID for the plain data OID so the
	// blob no longer names SignedData.
	oidSigned, _ := asn1.Marshal(OIDSignedData)
	oidData, _ := asn1.Marshal(OIDData)
	idx := bytes.Index(der, oidSigned)
	if idx < 0 {
		t.Fatal("signed-data OID not found")
	}
	copy(der[idx:], oidData)
	// Both OIDs encode to the same length so the container stays valid.
	return der
}

func TestParseToleratesZeroPadding(t *testing.T) {
	cert, signer := testCredentials(t, keys.RSA2048)
	builder := &Builder{Certificate: cert, Signer: signer}

	content := []byte("padded container")
	der, err := builder.Sign(context.Background(), content)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	padded := append(der, make([]byte, 64)...)
	sd, err := Parse(padded)
	if err != nil {
		t.Fatalf("parse padded: %v", err)
	}
	if err := sd.Verify(content); err != nil {
		t.Fatalf("verify padded: %v", err)
	}
}

func TestEstimateSizeCoversOutput(t *testing.T) {
	cert, signer := testCredentials(t, keys.RSA4096)
	builder := &Builder{Certificate: cert, Signer: signer}

	der, err := builder.Sign(context.Background(), []byte("size check"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(der) > builder.EstimateSize() {
		t.Errorf("signature size %d exceeds estimate %d", len(der), builder.EstimateSize())
	}
}

func TestDigestOIDRoundTrip(t *testing.T) {
	for _, hash := range []crypto.Hash{crypto.SHA256, crypto.SHA384, crypto.SHA512} {
		oid, err := DigestOID(hash)
		if err != nil {
			t.Fatalf("DigestOID(%v): %v", hash, err)
		}
		back, err := HashForOID(oid)
		if err != nil {
			t.Fatalf("HashForOID(%v): %v", oid, err)
		}
		if back != hash {
			t.Errorf("round trip %v -> %v", hash, back)
		}
	}
	if _, err := DigestOID(crypto.SHA1); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("DigestOID(SHA1) err = %v, want ErrUnsupportedAlgorithm", err)
	}
}
