package validation

import (
	"bytes"
	"crypto/x509"

	"golang.org/x/crypto/ocsp"
)

// checkRevocation consults the configured OCSP responses for the
// signer certificate and records the outcome on the chain result.
func (v *Validator) checkRevocation(cert *x509.Certificate, chain []*x509.Certificate, result *ChainResult) {
	issuer := findIssuer(cert, chain, v.Settings.TrustAnchors)
	for _, der := range v.Settings.OCSPResponses {
		status, err := parseOCSPForCert(der, cert, issuer)
		if err != nil {
			continue
		}
		result.RevocationChecked = true
		if status.Status == ocsp.Revoked {
			result.NotRevoked = false
			revokedAt := status.RevokedAt
			result.RevocationTime = &revokedAt
		}
		return
	}
}

// parseOCSPForCert decodes an OCSP response and confirms it speaks
// about the given certificate.
func parseOCSPForCert(der []byte, cert, issuer *x509.Certificate) (*ocsp.Response, error) {
	if issuer != nil {
		return ocsp.ParseResponseForCert(der, cert, issuer)
	}
	resp, err := ocsp.ParseResponse(der, nil)
	if err != nil {
		return nil, err
	}
	if resp.SerialNumber == nil || resp.SerialNumber.Cmp(cert.SerialNumber) != 0 {
		return nil, ocsp.ParseError("response for different certificate")
	}
	return resp, nil
}

// findIssuer locates the certificate that issued cert among the chain
// and trust anchors.
func findIssuer(cert *x509.Certificate, chain, anchors []*x509.Certificate) *x509.Certificate {
	for _, candidates := range [][]*x509.Certificate{chain, anchors} {
		for _, candidate := range candidates {
			if candidate.Equal(cert) {
				continue
			}
			if bytes.Equal(cert.RawIssuer, candidate.RawSubject) &&
				cert.CheckSignatureFrom(candidate) == nil {
				return candidate
			}
		}
	}
	return nil
}
