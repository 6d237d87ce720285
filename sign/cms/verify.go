package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoSigners is returned for SignedData with an empty SignerInfos set.
	ErrNoSigners = errors.New("no signers in CMS structure")
	// ErrSignerCertificateMissing means the SignedData does not carry the
	// certificate its SignerInfo references.
	ErrSignerCertificateMissing = errors.New("signer certificate not found")
	// ErrDigestMismatch means the message-digest attribute does not match
	// the supplied content.
	ErrDigestMismatch = errors.New("message digest mismatch")
	// ErrInvalidSignature means the cryptographic verification failed.
	ErrInvalidSignature = errors.New("signature verification failed")
)

// SignedData is a parsed CMS blob ready for verification.
type SignedData struct {
	raw          signedData
	certificates []*x509.Certificate
	signers      []signerInfo
}

// Parse decodes a DER encoded ContentInfo wrapping SignedData.
func Parse(der []byte) (*SignedData, error) {
	var outer contentInfo
	rest, err := asn1.Unmarshal(der, &outer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(bytes.TrimRight(rest, "\x00")) != 0 {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedSignature)
	}
	if !outer.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("%w: content type %v", ErrMalformedSignature, outer.ContentType)
	}

	var inner signedData
	if _, err := asn1.Unmarshal(outer.Content.Bytes, &inner); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(inner.SignerInfos) == 0 {
		return nil, ErrNoSigners
	}

	certs, err := parseCertificates(inner.Certificates)
	if err != nil {
		return nil, err
	}
	return &SignedData{raw: inner, certificates: certs, signers: inner.SignerInfos}, nil
}

func parseCertificates(raw asn1.RawValue) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	data := raw.Bytes
	for len(data) > 0 {
		var value asn1.RawValue
		rest, err := asn1.Unmarshal(data, &value)
		if err != nil {
			return nil, fmt.Errorf("%w: certificate entry: %v", ErrMalformedSignature, err)
		}
		cert, err := x509.ParseCertificate(value.FullBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: certificate: %v", ErrMalformedSignature, err)
		}
		certs = append(certs, cert)
		data = rest
	}
	return certs, nil
}

// Certificates returns every certificate the SignedData carries.
func (sd *SignedData) Certificates() []*x509.Certificate {
	return sd.certificates
}

// SignerCertificate returns the certificate of the first signer.
func (sd *SignedData) SignerCertificate() (*x509.Certificate, error) {
	si := sd.signers[0]
	for _, cert := range sd.certificates {
		if cert.SerialNumber.Cmp(si.IssuerAndSerial.Serial) == 0 &&
			bytes.Equal(cert.RawIssuer, si.IssuerAndSerial.Issuer.FullBytes) {
			return cert, nil
		}
	}
	return nil, ErrSignerCertificateMissing
}

// SigningTime returns the signing-time authenticated attribute of the
// first signer, if present.
func (sd *SignedData) SigningTime() (time.Time, bool) {
	attrs, err := sd.signedAttributes(0)
	if err != nil {
		return time.Time{}, false
	}
	for _, attr := range attrs {
		if attr.Type.Equal(OIDAttrSigningTime) && len(attr.Values) > 0 {
			var t time.Time
			if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &t); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// TimestampToken returns the RFC 3161 token from the unsigned attributes
// of the first signer, if present.
func (sd *SignedData) TimestampToken() ([]byte, bool) {
	attrs, err := parseAttributes(sd.signers[0].UnsignedAttrs)
	if err != nil {
		return nil, false
	}
	for _, attr := range attrs {
		if attr.Type.Equal(OIDAttrTimestampToken) && len(attr.Values) > 0 {
			return attr.Values[0].FullBytes, true
		}
	}
	return nil, false
}

// SignatureValue returns the raw signature bytes of the first signer.
// Timestamp tokens are computed over these bytes.
func (sd *SignedData) SignatureValue() []byte {
	return sd.signers[0].Signature
}

// DigestAlgorithm returns the hash of the first signer.
func (sd *SignedData) DigestAlgorithm() (crypto.Hash, error) {
	return HashForOID(sd.signers[0].DigestAlgorithm.Algorithm)
}

func (sd *SignedData) signedAttributes(i int) ([]attribute, error) {
	return parseAttributes(sd.signers[i].SignedAttrs)
}

func parseAttributes(raw asn1.RawValue) ([]attribute, error) {
	if len(raw.FullBytes) == 0 {
		return nil, nil
	}
	// The attributes are stored with an implicit context tag. Restore the
	// SET tag before decoding.
	retagged := make([]byte, len(raw.FullBytes))
	copy(retagged, raw.FullBytes)
	retagged[0] = 0x31

	var attrs []attribute
	if _, err := asn1.UnmarshalWithParams(retagged, &attrs, "set"); err != nil {
		return nil, fmt.Errorf("%w: attributes: %v", ErrMalformedSignature, err)
	}
	return attrs, nil
}

// Verify checks the first signer against the supplied detached content.
// It confirms the message-digest attribute matches the content and that
// the signature over the authenticated attributes verifies with the
// signer certificate's public key. Chain building is the caller's
// concern.
func (sd *SignedData) Verify(content []byte) error {
	si := sd.signers[0]
	cert, err := sd.SignerCertificate()
	if err != nil {
		return err
	}
	hash, err := HashForOID(si.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}

	h := hash.New()
	h.Write(content)
	contentDigest := h.Sum(nil)

	attrs, err := sd.signedAttributes(0)
	if err != nil {
		return err
	}
	if len(attrs) == 0 {
		return fmt.Errorf("%w: no signed attributes", ErrMalformedSignature)
	}
	var attrDigest []byte
	for _, attr := range attrs {
		if attr.Type.Equal(OIDAttrMessageDigest) && len(attr.Values) > 0 {
			if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &attrDigest); err != nil {
				return fmt.Errorf("%w: message digest attribute: %v", ErrMalformedSignature, err)
			}
		}
	}
	if attrDigest == nil {
		return fmt.Errorf("%w: message digest attribute missing", ErrMalformedSignature)
	}
	if !bytes.Equal(attrDigest, contentDigest) {
		return ErrDigestMismatch
	}

	// The signature covers the attributes re-encoded as an ordinary SET.
	signedBytes := make([]byte, len(si.SignedAttrs.FullBytes))
	copy(signedBytes, si.SignedAttrs.FullBytes)
	signedBytes[0] = 0x31

	h = hash.New()
	h.Write(signedBytes)
	digest := h.Sum(nil)

	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(pub, hash, digest, si.Signature); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(pub, digest, si.Signature) {
			return ErrInvalidSignature
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, cert.PublicKey)
	}
	return nil
}
