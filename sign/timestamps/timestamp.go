// Package timestamps implements an RFC 3161 timestamp client and token
// parsing. The Client satisfies the signing pipeline's Timestamper
// contract so tokens can be attached to signatures as unsigned
// attributes.
package timestamps

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/quillsign/pdfsign/sign/cms"
)

// OIDTSTInfo identifies the timestamp token info content type.
var OIDTSTInfo = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}

var (
	// ErrRequestFailed covers transport and HTTP level failures.
	ErrRequestFailed = errors.New("timestamp request failed")
	// ErrRequestRejected means the TSA refused to grant a token.
	ErrRequestRejected = errors.New("timestamp request rejected")
	// ErrMalformedToken means a token or response could not be parsed.
	ErrMalformedToken = errors.New("malformed timestamp token")
	// ErrImprintMismatch means the token's message imprint does not match
	// the timestamped data.
	ErrImprintMismatch = errors.New("timestamp message imprint mismatch")
	// ErrNonceMismatch means the TSA echoed a different nonce.
	ErrNonceMismatch = errors.New("timestamp nonce mismatch")
)

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type messageImprint struct {
	HashAlgorithm algorithmIdentifier
	HashedMessage []byte
}

type timestampRequest struct {
	Version        int
	MessageImprint messageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional,default:false"`
}

type pkiStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional,utf8"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

type timestampResponse struct {
	Status pkiStatusInfo
	Token  asn1.RawValue `asn1:"optional"`
}

// Accuracy bounds the TSA clock error.
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,implicit,tag:0"`
	Micros  int `asn1:"optional,implicit,tag:1"`
}

// TSTInfo is the timestamped statement inside a token.
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint messageImprint
	SerialNumber   *big.Int
	GenTime        time.Time
	Accuracy       Accuracy      `asn1:"optional"`
	Ordering       bool          `asn1:"optional,default:false"`
	Nonce          *big.Int      `asn1:"optional"`
	TSA            asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

// Client requests timestamp tokens from an RFC 3161 TSA over HTTP.
type Client struct {
	// URL is the TSA endpoint.
	URL string
	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
	// Username and Password enable basic auth when both are set.
	Username string
	Password string
	// Policy requests a specific TSA policy.
	Policy asn1.ObjectIdentifier
	// SkipNonce disables the request nonce.
	SkipNonce bool
}

// NewClient returns a client for the given TSA endpoint.
func NewClient(url string) *Client {
	return &Client{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Timestamp obtains a token over message using the given hash. It
// satisfies the Timestamper contract of the CMS builder.
func (c *Client) Timestamp(ctx context.Context, message []byte, hash crypto.Hash) ([]byte, error) {
	nonce := (*big.Int)(nil)
	if !c.SkipNonce {
		n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
		if err != nil {
			return nil, err
		}
		nonce = n
	}

	reqDER, err := buildRequest(message, hash, c.Policy, nonce)
	if err != nil {
		return nil, err
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(reqDER))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/timestamp-query")
	if c.Username != "" {
		httpReq.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrRequestFailed, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return parseResponse(body, message, hash, nonce)
}

func buildRequest(message []byte, hash crypto.Hash, policy asn1.ObjectIdentifier, nonce *big.Int) ([]byte, error) {
	oid, err := cms.DigestOID(hash)
	if err != nil {
		return nil, err
	}
	h := hash.New()
	h.Write(message)

	req := timestampRequest{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: algorithmIdentifier{
				Algorithm:  oid,
				Parameters: asn1.NullRawValue,
			},
			HashedMessage: h.Sum(nil),
		},
		CertReq: true,
		Nonce:   nonce,
	}
	if len(policy) > 0 {
		req.ReqPolicy = policy
	}
	return asn1.Marshal(req)
}

func parseResponse(body, message []byte, hash crypto.Hash, nonce *big.Int) ([]byte, error) {
	var resp timestampResponse
	if _, err := asn1.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: response: %v", ErrMalformedToken, err)
	}
	// PKIStatus granted (0) or grantedWithMods (1).
	if resp.Status.Status > 1 {
		detail := ""
		if len(resp.Status.StatusString) > 0 {
			detail = ": " + resp.Status.StatusString[0]
		}
		return nil, fmt.Errorf("%w: status %d%s", ErrRequestRejected, resp.Status.Status, detail)
	}
	if len(resp.Token.FullBytes) == 0 {
		return nil, fmt.Errorf("%w: granted response without token", ErrMalformedToken)
	}

	info, err := ExtractTSTInfo(resp.Token.FullBytes)
	if err != nil {
		return nil, err
	}
	h := hash.New()
	h.Write(message)
	if !bytes.Equal(info.MessageImprint.HashedMessage, h.Sum(nil)) {
		return nil, ErrImprintMismatch
	}
	if nonce != nil && (info.Nonce == nil || info.Nonce.Cmp(nonce) != 0) {
		return nil, ErrNonceMismatch
	}
	return resp.Token.FullBytes, nil
}

// Token is a parsed timestamp token.
type Token struct {
	Raw          []byte
	Info         *TSTInfo
	Certificates []*x509.Certificate
}

// GenTime returns the time the TSA asserted.
func (t *Token) GenTime() time.Time {
	return t.Info.GenTime
}

// ParseToken decodes a timestamp token DER blob.
func ParseToken(der []byte) (*Token, error) {
	info, err := ExtractTSTInfo(der)
	if err != nil {
		return nil, err
	}
	token := &Token{Raw: der, Info: info}
	if sd, err := cms.Parse(der); err == nil {
		token.Certificates = sd.Certificates()
	}
	return token, nil
}

// ExtractTSTInfo pulls the TSTInfo out of a token's encapsulated
// content.
func ExtractTSTInfo(der []byte) (*TSTInfo, error) {
	var outer struct {
		ContentType asn1.ObjectIdentifier
		Content     asn1.RawValue `asn1:"explicit,tag:0"`
	}
	if _, err := asn1.Unmarshal(der, &outer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if !outer.ContentType.Equal(cms.OIDSignedData) {
		return nil, fmt.Errorf("%w: content type %v", ErrMalformedToken, outer.ContentType)
	}

	var inner struct {
		Version          int
		DigestAlgorithms asn1.RawValue
		EncapContentInfo struct {
			ContentType asn1.ObjectIdentifier
			Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
		}
		Certificates asn1.RawValue `asn1:"optional,implicit,tag:0"`
		CRLs         asn1.RawValue `asn1:"optional,implicit,tag:1"`
		SignerInfos  asn1.RawValue
	}
	if _, err := asn1.Unmarshal(outer.Content.Bytes, &inner); err != nil {
		return nil, fmt.Errorf("%w: signed data: %v", ErrMalformedToken, err)
	}
	if !inner.EncapContentInfo.ContentType.Equal(OIDTSTInfo) {
		return nil, fmt.Errorf("%w: encapsulated type %v", ErrMalformedToken, inner.EncapContentInfo.ContentType)
	}

	// eContent is normally an OCTET STRING holding the TSTInfo DER, but
	// some responders emit the TSTInfo directly.
	infoDER := inner.EncapContentInfo.Content.Bytes
	if len(infoDER) > 0 && infoDER[0] == 0x04 {
		var wrapped []byte
		if _, err := asn1.Unmarshal(infoDER, &wrapped); err == nil {
			infoDER = wrapped
		}
	}
	var info TSTInfo
	if _, err := asn1.Unmarshal(infoDER, &info); err != nil {
		return nil, fmt.Errorf("%w: TSTInfo: %v", ErrMalformedToken, err)
	}
	return &info, nil
}

// VerifyToken checks the token's message imprint against message.
func VerifyToken(tokenDER, message []byte) error {
	info, err := ExtractTSTInfo(tokenDER)
	if err != nil {
		return err
	}
	hash, err := cms.HashForOID(info.MessageImprint.HashAlgorithm.Algorithm)
	if err != nil {
		return err
	}
	h := hash.New()
	h.Write(message)
	if !bytes.Equal(info.MessageImprint.HashedMessage, h.Sum(nil)) {
		return ErrImprintMismatch
	}
	return nil
}
