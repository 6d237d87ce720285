package timestamps

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/quillsign/pdfsign/sign/cms"
)

// Authority is a self-contained TSA. It signs whatever imprint it is
// asked to and exists for tests and offline pipelines, not for
// production trust.
type Authority struct {
	// Certificate is the TSA signing certificate.
	Certificate *x509.Certificate
	// Key signs issued tokens.
	Key crypto.Signer
	// Chain holds extra certificates to embed in tokens.
	Chain []*x509.Certificate
	// Clock supplies genTime. Nil selects the real clock.
	Clock clockwork.Clock
	// Policy is the asserted TSA policy OID.
	Policy asn1.ObjectIdentifier
}

var defaultTSAPolicy = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 4146, 2, 2}

// NewAuthority returns an authority with the default policy.
func NewAuthority(cert *x509.Certificate, key crypto.Signer) *Authority {
	return &Authority{Certificate: cert, Key: key, Policy: defaultTSAPolicy}
}

func (a *Authority) clock() clockwork.Clock {
	if a.Clock == nil {
		return clockwork.NewRealClock()
	}
	return a.Clock
}

// Timestamp issues a token directly, without the HTTP round trip. It
// satisfies the Timestamper contract of the CMS builder.
func (a *Authority) Timestamp(_ context.Context, message []byte, hash crypto.Hash) ([]byte, error) {
	oid, err := cms.DigestOID(hash)
	if err != nil {
		return nil, err
	}
	h := hash.New()
	h.Write(message)
	imprint := messageImprint{
		HashAlgorithm: algorithmIdentifier{Algorithm: oid, Parameters: asn1.NullRawValue},
		HashedMessage: h.Sum(nil),
	}
	return a.issueToken(imprint, nil)
}

// ServeHTTP answers RFC 3161 queries, so the authority can sit behind
// an httptest server opposite the Client.
func (a *Authority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read request", http.StatusBadRequest)
		return
	}
	respDER, err := a.respond(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/timestamp-reply")
	w.Write(respDER)
}

func (a *Authority) respond(reqDER []byte) ([]byte, error) {
	var req timestampRequest
	if _, err := asn1.Unmarshal(reqDER, &req); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	token, err := a.issueToken(req.MessageImprint, req.Nonce)
	if err != nil {
		return nil, err
	}
	resp := timestampResponse{
		Status: pkiStatusInfo{Status: 0},
		Token:  asn1.RawValue{FullBytes: token},
	}
	return asn1.Marshal(resp)
}

func (a *Authority) issueToken(imprint messageImprint, nonce *big.Int) ([]byte, error) {
	if a.Certificate == nil || a.Key == nil {
		return nil, errors.New("authority missing certificate or key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	info := TSTInfo{
		Version:        1,
		Policy:         a.Policy,
		MessageImprint: imprint,
		SerialNumber:   serial,
		GenTime:        a.clock().Now().UTC(),
		Nonce:          nonce,
	}
	infoDER, err := asn1.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encode TSTInfo: %w", err)
	}
	return a.wrapSignedData(infoDER)
}

// tokenSignerInfo mirrors the SignerInfo layout the authority emits.
type tokenSignerInfo struct {
	Version         int
	IssuerAndSerial struct {
		Issuer asn1.RawValue
		Serial *big.Int
	}
	DigestAlgorithm    algorithmIdentifier
	SignedAttrs        []tokenAttribute `asn1:"implicit,tag:0,set"`
	SignatureAlgorithm algorithmIdentifier
	Signature          []byte
}

type tokenAttribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

type tokenSignedData struct {
	Version          int
	DigestAlgorithms []algorithmIdentifier `asn1:"set"`
	EncapContentInfo struct {
		ContentType asn1.ObjectIdentifier
		Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
	}
	Certificates []asn1.RawValue `asn1:"implicit,optional,tag:0"`
	SignerInfos  []tokenSignerInfo `asn1:"set"`
}

func (a *Authority) wrapSignedData(infoDER []byte) ([]byte, error) {
	hash := crypto.SHA256
	h := hash.New()
	h.Write(infoDER)
	infoDigest, err := asn1.Marshal(h.Sum(nil))
	if err != nil {
		return nil, err
	}
	contentType, err := asn1.Marshal(OIDTSTInfo)
	if err != nil {
		return nil, err
	}

	attrs := []tokenAttribute{
		{Type: cms.OIDAttrContentType, Values: []asn1.RawValue{{FullBytes: contentType}}},
		{Type: cms.OIDAttrMessageDigest, Values: []asn1.RawValue{{FullBytes: infoDigest}}},
	}
	attrDER, err := asn1.MarshalWithParams(attrs, "set")
	if err != nil {
		return nil, err
	}
	h = hash.New()
	h.Write(attrDER)
	signature, err := a.Key.Sign(rand.Reader, h.Sum(nil), hash)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	si := tokenSignerInfo{
		Version:            1,
		DigestAlgorithm:    algorithmIdentifier{Algorithm: cms.OIDDigestSHA256, Parameters: asn1.NullRawValue},
		SignedAttrs:        attrs,
		SignatureAlgorithm: algorithmIdentifier{Algorithm: signatureAlgorithmFor(a.Key), Parameters: asn1.NullRawValue},
		Signature:          signature,
	}
	si.IssuerAndSerial.Issuer = asn1.RawValue{FullBytes: a.Certificate.RawIssuer}
	si.IssuerAndSerial.Serial = a.Certificate.SerialNumber

	econtent, err := asn1.Marshal(infoDER)
	if err != nil {
		return nil, err
	}

	sd := tokenSignedData{
		Version:          3,
		DigestAlgorithms: []algorithmIdentifier{{Algorithm: cms.OIDDigestSHA256, Parameters: asn1.NullRawValue}},
		Certificates:     []asn1.RawValue{{FullBytes: a.Certificate.Raw}},
		SignerInfos:      []tokenSignerInfo{si},
	}
	sd.EncapContentInfo.ContentType = OIDTSTInfo
	sd.EncapContentInfo.Content = asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: econtent}
	for _, cert := range a.Chain {
		sd.Certificates = append(sd.Certificates, asn1.RawValue{FullBytes: cert.Raw})
	}

	sdDER, err := asn1.Marshal(sd)
	if err != nil {
		return nil, err
	}
	outer := struct {
		ContentType asn1.ObjectIdentifier
		Content     asn1.RawValue `asn1:"explicit,tag:0"`
	}{
		ContentType: cms.OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdDER},
	}
	return asn1.Marshal(outer)
}

func signatureAlgorithmFor(key crypto.Signer) asn1.ObjectIdentifier {
	if _, ok := key.Public().(*ecdsa.PublicKey); ok {
		return cms.OIDSigECDSASHA256
	}
	return cms.OIDSigRSASHA256
}
