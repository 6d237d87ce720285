// Package cms builds and verifies CMS (PKCS#7) detached signatures of
// the kind embedded in PDF signature dictionaries: SignedData with
// authenticated attributes covering the document digest.
package cms

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/jonboulle/clockwork"
)

// Content and attribute OIDs.
var (
	OIDData                 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData           = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDAttrContentType      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDAttrMessageDigest    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDAttrSigningTime      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	OIDAttrTimestampToken   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
	OIDAttrSigningCertV2    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	OIDDigestSHA256         = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDDigestSHA384         = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDDigestSHA512         = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
	OIDSigRSASHA256         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSigRSASHA384         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSigRSASHA512         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDSigECDSASHA256       = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDSigECDSASHA384       = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDSigECDSASHA512       = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
)

var (
	// ErrUnsupportedAlgorithm is returned for digest or signature
	// algorithms outside the supported set.
	ErrUnsupportedAlgorithm = errors.New("unsupported CMS algorithm")
	// ErrMalformedSignature is returned when a CMS blob cannot be parsed.
	ErrMalformedSignature = errors.New("malformed CMS signature")
	// ErrSigningFailed wraps failures of the underlying signer.
	ErrSigningFailed = errors.New("signing failed")
)

// Timestamper obtains an RFC 3161 timestamp token over a signature.
type Timestamper interface {
	Timestamp(ctx context.Context, message []byte, hash crypto.Hash) ([]byte, error)
}

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type signedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	ContentInfo      contentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []signerInfo  `asn1:"set"`
}

type issuerAndSerial struct {
	Issuer asn1.RawValue
	Serial *big.Int
}

type signerInfo struct {
	Version            int
	IssuerAndSerial    issuerAndSerial
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

type attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// essCertIDv2 and signingCertificateV2 implement RFC 5035.
type essCertIDv2 struct {
	HashAlgorithm pkix.AlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
}

type signingCertificateV2 struct {
	Certs []essCertIDv2
}

// Builder assembles a detached CMS signature.
type Builder struct {
	// Certificate is the end-entity signing certificate, Chain its
	// intermediates.
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
	// Signer is the private key matching Certificate.
	Signer crypto.Signer
	// Hash selects the digest algorithm. Zero selects SHA-256.
	Hash crypto.Hash
	// Clock supplies the signing time. Nil selects the real clock.
	Clock clockwork.Clock
	// Timestamper, when set, adds an RFC 3161 token as an unsigned
	// attribute.
	Timestamper Timestamper
}

func (b *Builder) hash() crypto.Hash {
	if b.Hash == 0 {
		return crypto.SHA256
	}
	return b.Hash
}

func (b *Builder) clock() clockwork.Clock {
	if b.Clock == nil {
		return clockwork.NewRealClock()
	}
	return b.Clock
}

// Sign produces a detached SignedData blob over data.
func (b *Builder) Sign(ctx context.Context, data []byte) ([]byte, error) {
	if b.Certificate == nil || b.Signer == nil {
		return nil, fmt.Errorf("%w: missing certificate or key", ErrSigningFailed)
	}
	hash := b.hash()
	digestOID, err := DigestOID(hash)
	if err != nil {
		return nil, err
	}
	sigAlgOID, err := signatureOID(b.Signer.Public(), hash)
	if err != nil {
		return nil, err
	}

	h := hash.New()
	h.Write(data)
	messageDigest := h.Sum(nil)

	attrSet, err := b.buildSignedAttributes(messageDigest, hash)
	if err != nil {
		return nil, err
	}

	signature, err := signDigest(b.Signer, hash, attrSet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	si := signerInfo{
		Version: 1,
		IssuerAndSerial: issuerAndSerial{
			Issuer: asn1.RawValue{FullBytes: b.Certificate.RawIssuer},
			Serial: b.Certificate.SerialNumber,
		},
		DigestAlgorithm:    pkix.AlgorithmIdentifier{Algorithm: digestOID},
		SignedAttrs:        implicitSet(0, attrSet),
		SignatureAlgorithm: pkix.AlgorithmIdentifier{Algorithm: sigAlgOID},
		Signature:          signature,
	}

	if b.Timestamper != nil {
		token, err := b.Timestamper.Timestamp(ctx, signature, hash)
		if err != nil {
			return nil, fmt.Errorf("timestamping: %w", err)
		}
		unsigned, err := marshalAttributeSet([]attribute{{
			Type:   OIDAttrTimestampToken,
			Values: []asn1.RawValue{{FullBytes: token}},
		}})
		if err != nil {
			return nil, err
		}
		si.UnsignedAttrs = implicitSet(1, unsigned)
	}

	sd := signedData{
		Version:          1,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{{Algorithm: digestOID}},
		ContentInfo:      contentInfo{ContentType: OIDData},
		Certificates:     rawCertificates(append([]*x509.Certificate{b.Certificate}, b.Chain...)),
		SignerInfos:      []signerInfo{si},
	}

	inner, err := asn1.Marshal(sd)
	if err != nil {
		return nil, err
	}
	outer := contentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: inner},
	}
	return asn1.Marshal(outer)
}

// buildSignedAttributes assembles the authenticated attribute SET in DER
// order: content-type, signing-time, message-digest and ESS
// signing-certificate-v2.
func (b *Builder) buildSignedAttributes(messageDigest []byte, hash crypto.Hash) ([]byte, error) {
	contentType, err := asn1.Marshal(OIDData)
	if err != nil {
		return nil, err
	}
	signingTime, err := asn1.Marshal(b.clock().Now().UTC())
	if err != nil {
		return nil, err
	}
	digestValue, err := asn1.Marshal(messageDigest)
	if err != nil {
		return nil, err
	}

	certHasher := hash.New()
	certHasher.Write(b.Certificate.Raw)
	digestOID, _ := DigestOID(hash)
	certV2, err := asn1.Marshal(signingCertificateV2{
		Certs: []essCertIDv2{{
			HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: digestOID},
			CertHash:      certHasher.Sum(nil),
		}},
	})
	if err != nil {
		return nil, err
	}

	attrs := []attribute{
		{Type: OIDAttrContentType, Values: []asn1.RawValue{{FullBytes: contentType}}},
		{Type: OIDAttrSigningTime, Values: []asn1.RawValue{{FullBytes: signingTime}}},
		{Type: OIDAttrMessageDigest, Values: []asn1.RawValue{{FullBytes: digestValue}}},
		{Type: OIDAttrSigningCertV2, Values: []asn1.RawValue{{FullBytes: certV2}}},
	}
	return marshalAttributeSet(attrs)
}

// marshalAttributeSet encodes attributes as a DER SET OF: each attribute
// marshaled individually, sorted bytewise, wrapped in a SET header.
func marshalAttributeSet(attrs []attribute) ([]byte, error) {
	encoded := make([][]byte, 0, len(attrs))
	for _, attr := range attrs {
		der, err := asn1.Marshal(attr)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, der)
	}
	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})

	var content []byte
	for _, der := range encoded {
		content = append(content, der...)
	}

	out := []byte{0x31}
	out = append(out, encodeLength(len(content))...)
	return append(out, content...), nil
}

// encodeLength emits a DER length field.
func encodeLength(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var body []byte
	for v := n; v > 0; v >>= 8 {
		body = append([]byte{byte(v)}, body...)
	}
	return append([]byte{0x80 | byte(len(body))}, body...)
}

// implicitSet re-tags a DER SET as an implicit context-specific value.
func implicitSet(tag int, setDER []byte) asn1.RawValue {
	retagged := make([]byte, len(setDER))
	copy(retagged, setDER)
	retagged[0] = byte(0xA0 | tag)
	return asn1.RawValue{FullBytes: retagged}
}

// rawCertificates packs certificates into the implicit [0] certificates
// field.
func rawCertificates(certs []*x509.Certificate) asn1.RawValue {
	var content []byte
	for _, cert := range certs {
		content = append(content, cert.Raw...)
	}
	return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: content}
}

// signDigest signs digestible content with the key's native scheme.
func signDigest(signer crypto.Signer, hash crypto.Hash, content []byte) ([]byte, error) {
	h := hash.New()
	h.Write(content)
	digest := h.Sum(nil)

	switch signer.Public().(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
		return signer.Sign(rand.Reader, digest, hash)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, signer.Public())
	}
}

// DigestOID maps a hash to its OID.
func DigestOID(hash crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch hash {
	case crypto.SHA256:
		return OIDDigestSHA256, nil
	case crypto.SHA384:
		return OIDDigestSHA384, nil
	case crypto.SHA512:
		return OIDDigestSHA512, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, hash)
	}
}

// HashForOID maps a digest OID back to a hash.
func HashForOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(OIDDigestSHA256):
		return crypto.SHA256, nil
	case oid.Equal(OIDDigestSHA384):
		return crypto.SHA384, nil
	case oid.Equal(OIDDigestSHA512):
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, oid)
	}
}

func signatureOID(pub crypto.PublicKey, hash crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		switch hash {
		case crypto.SHA256:
			return OIDSigRSASHA256, nil
		case crypto.SHA384:
			return OIDSigRSASHA384, nil
		case crypto.SHA512:
			return OIDSigRSASHA512, nil
		}
	case *ecdsa.PublicKey:
		switch hash {
		case crypto.SHA256:
			return OIDSigECDSASHA256, nil
		case crypto.SHA384:
			return OIDSigECDSASHA384, nil
		case crypto.SHA512:
			return OIDSigECDSASHA512, nil
		}
	}
	return nil, fmt.Errorf("%w: %T with %v", ErrUnsupportedAlgorithm, pub, hash)
}

// EstimateSize returns a generous upper bound for the DER signature the
// builder will produce, used to reserve the /Contents placeholder.
func (b *Builder) EstimateSize() int {
	size := 8192
	if b.Certificate != nil {
		size += len(b.Certificate.Raw)
	}
	for _, cert := range b.Chain {
		size += len(cert.Raw)
	}
	if b.Timestamper != nil {
		size += 8192
	}
	return size
}
