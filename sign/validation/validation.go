// Package validation checks embedded PDF signatures. Every check
// reports its outcome as data on the Result; a malformed or untrusted
// signature never aborts validation of the document.
package validation

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quillsign/pdfsign/keys"
	"github.com/quillsign/pdfsign/pdf/reader"
	"github.com/quillsign/pdfsign/sign/cms"
	"github.com/quillsign/pdfsign/sign/timestamps"
)

// TimeSource records where the verification time came from.
type TimeSource string

const (
	// TimeSourceTimestamp is an embedded RFC 3161 token, the only
	// cryptographically bound source.
	TimeSourceTimestamp TimeSource = "embedded_timestamp"
	// TimeSourceSignature is the signatory supplied M entry.
	TimeSourceSignature TimeSource = "signature_time"
	// TimeSourceCurrent is the validator clock fallback.
	TimeSourceCurrent TimeSource = "current_time"
)

// IsTrusted reports whether the source is cryptographically bound to
// the signature.
func (ts TimeSource) IsTrusted() bool {
	return ts == TimeSourceTimestamp
}

// ChainResult carries the certificate chain checks as independent
// booleans so callers can apply their own policy.
type ChainResult struct {
	// ChainValid means a path to an acceptable root was built.
	ChainValid bool
	// NotExpired means the signer certificate covered the verification
	// time.
	NotExpired bool
	// NotRevoked means no supplied revocation data marked the signer
	// certificate revoked. It stays true when no data is available;
	// RevocationChecked distinguishes the two cases.
	NotRevoked bool
	// TrustedRoot means the chain terminates at a configured trust
	// anchor, or at a self-signed certificate when the policy accepts
	// those.
	TrustedRoot bool
	// RevocationChecked means revocation data for the signer was
	// actually examined.
	RevocationChecked bool
	// RevocationTime is set when the certificate is revoked.
	RevocationTime *time.Time
}

// Result is the validation outcome for one embedded signature.
type Result struct {
	FieldName   string
	SubFilter   string
	Reason      string
	Location    string
	ContactInfo string

	// IntegrityValid means the CMS signature verifies over the byte
	// ranges the signature declares.
	IntegrityValid bool
	// CoversWholeDocument means the byte ranges span the entire file
	// except the contents placeholder.
	CoversWholeDocument bool

	SignerCertificate *x509.Certificate
	SignerName        string
	CertificateChain  []*x509.Certificate
	Chain             ChainResult

	SigningTime      time.Time
	TimestampTime    time.Time
	HasTimestamp     bool
	VerificationTime time.Time
	TimeSource       TimeSource

	Errors   []string
	Warnings []string
}

// Valid reports whether the signature passed integrity and trust
// checks.
func (r *Result) Valid() bool {
	return r.IntegrityValid && r.Chain.ChainValid && r.Chain.NotExpired && r.Chain.NotRevoked
}

func (r *Result) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Settings configure the validator. The zero value checks integrity
// only and accepts self-signed roots.
type Settings struct {
	// TrustAnchors are explicitly trusted root certificates.
	TrustAnchors []*x509.Certificate
	// AllowSelfSignedRoot accepts a self-signed signer certificate as
	// its own anchor when no configured anchor matches.
	AllowSelfSignedRoot bool
	// ValidationTime overrides automatic time detection when non-zero.
	ValidationTime time.Time
	// TrustSignatureTime lets the signatory supplied M entry serve as
	// verification time when no timestamp is present.
	TrustSignatureTime bool
	// OCSPResponses are DER encoded responses to consult for
	// revocation. Typically sourced from the document security store.
	OCSPResponses [][]byte
	// SkipRevocationCheck disables revocation processing entirely.
	SkipRevocationCheck bool
}

// DefaultSettings accepts self-signed roots and trusts only embedded
// timestamps for time.
func DefaultSettings() *Settings {
	return &Settings{AllowSelfSignedRoot: true}
}

// StrictSettings requires configured trust anchors and checks
// revocation data.
func StrictSettings(anchors []*x509.Certificate) *Settings {
	return &Settings{TrustAnchors: anchors}
}

// Validator validates embedded signatures against its settings.
type Validator struct {
	Settings *Settings
	// Clock supplies the current-time fallback. Nil selects the real
	// clock.
	Clock clockwork.Clock
}

// NewValidator returns a validator, defaulting nil settings.
func NewValidator(settings *Settings) *Validator {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Validator{Settings: settings}
}

func (v *Validator) now() time.Time {
	if v.Clock != nil {
		return v.Clock.Now()
	}
	return clockwork.NewRealClock().Now()
}

// ValidateAll validates every embedded signature in the document. A
// document without signatures yields an empty slice.
func (v *Validator) ValidateAll(r *reader.PdfFileReader) ([]*Result, error) {
	signatures := r.GetEmbeddedSignatures()
	results := make([]*Result, 0, len(signatures))
	for _, sig := range signatures {
		results = append(results, v.Validate(sig))
	}
	return results, nil
}

// Validate checks one embedded signature.
func (v *Validator) Validate(sig *reader.EmbeddedSignature) *Result {
	result := &Result{
		FieldName:   sig.FieldName,
		SubFilter:   sig.SubFilter,
		Reason:      sig.Reason(),
		Location:    sig.Location(),
		ContactInfo: sig.ContactInfo(),
		TimeSource:  TimeSourceCurrent,
	}
	if sig.StructuralError != nil {
		result.fail("malformed signature value: %v", sig.StructuralError)
		return result
	}
	if t, ok := sig.SigningTime(); ok {
		result.SigningTime = t
	}
	result.CoversWholeDocument = sig.CoversWholeDocument()
	if !result.CoversWholeDocument {
		result.warn("signature does not cover the whole document")
	}

	signedData, err := sig.SignedData()
	if err != nil {
		result.fail("signed byte ranges: %v", err)
		return result
	}
	parsed, err := cms.Parse(sig.Contents)
	if err != nil {
		result.fail("parse CMS container: %v", err)
		return result
	}

	if err := parsed.Verify(signedData); err != nil {
		result.fail("verify signature: %v", err)
	} else {
		result.IntegrityValid = true
	}

	result.CertificateChain = parsed.Certificates()
	if cert, err := parsed.SignerCertificate(); err == nil {
		result.SignerCertificate = cert
		result.SignerName = cert.Subject.CommonName
	} else {
		result.fail("signer certificate: %v", err)
	}

	if t, ok := parsed.SigningTime(); ok && result.SigningTime.IsZero() {
		result.SigningTime = t
	}
	if token, ok := parsed.TimestampToken(); ok {
		result.HasTimestamp = true
		if info, err := timestamps.ExtractTSTInfo(token); err != nil {
			result.warn("malformed timestamp token: %v", err)
		} else if err := timestamps.VerifyToken(token, rawSignature(parsed)); err != nil {
			result.warn("timestamp does not cover the signature: %v", err)
		} else {
			result.TimestampTime = info.GenTime
		}
	}

	v.resolveVerificationTime(result)

	if result.SignerCertificate != nil {
		result.Chain = v.ValidateChain(result.SignerCertificate, result.CertificateChain, result.VerificationTime)
	}
	return result
}

// rawSignature returns the bytes a timestamp token covers, the
// signature value of the first signer.
func rawSignature(sd *cms.SignedData) []byte {
	return sd.SignatureValue()
}

// resolveVerificationTime picks the time certificates are checked at.
// Priority: explicit setting, embedded timestamp, signature time when
// trusted, current time.
func (v *Validator) resolveVerificationTime(result *Result) {
	if !v.Settings.ValidationTime.IsZero() {
		result.VerificationTime = v.Settings.ValidationTime
		result.TimeSource = TimeSourceCurrent
		return
	}
	if !result.TimestampTime.IsZero() {
		result.VerificationTime = result.TimestampTime
		result.TimeSource = TimeSourceTimestamp
		return
	}
	if v.Settings.TrustSignatureTime && !result.SigningTime.IsZero() {
		result.VerificationTime = result.SigningTime
		result.TimeSource = TimeSourceSignature
		result.warn("verification time taken from the signatory supplied signing time")
		return
	}
	result.VerificationTime = v.now()
	result.TimeSource = TimeSourceCurrent
	if !result.SigningTime.IsZero() {
		result.warn("signing time present but untrusted, validating at current time")
	}
}

// ValidateChain runs the chain checks for a signer certificate.
func (v *Validator) ValidateChain(cert *x509.Certificate, chain []*x509.Certificate, at time.Time) ChainResult {
	if at.IsZero() {
		at = v.now()
	}
	result := ChainResult{NotRevoked: true}
	result.NotExpired = keys.CheckValidity(cert, at) == nil

	roots := x509.NewCertPool()
	for _, anchor := range v.Settings.TrustAnchors {
		roots.AddCert(anchor)
	}
	intermediates := x509.NewCertPool()
	for _, c := range chain {
		if c.Equal(cert) {
			continue
		}
		intermediates.AddCert(c)
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := cert.Verify(opts); err == nil {
		result.ChainValid = true
		result.TrustedRoot = true
	} else if v.Settings.AllowSelfSignedRoot && keys.IsSelfSigned(cert) {
		result.ChainValid = true
		result.TrustedRoot = true
	}

	if !v.Settings.SkipRevocationCheck && len(v.Settings.OCSPResponses) > 0 {
		v.checkRevocation(cert, chain, &result)
	}
	return result
}
