package validation

import (
	"github.com/quillsign/pdfsign/pdf/reader"
	"github.com/quillsign/pdfsign/sign/cms"
)

// SignatureIntegrity is the integrity outcome for one signature.
type SignatureIntegrity struct {
	FieldName           string
	Intact              bool
	CoversWholeDocument bool
	Error               string
}

// IntegrityReport summarizes whether the signed portions of a document
// are untouched.
type IntegrityReport struct {
	SignatureCount int
	// AllIntact means every embedded signature still verifies.
	AllIntact bool
	// UpdatedAfterLastSignature means incremental updates were appended
	// after the newest signature, leaving a tail outside its byte
	// ranges.
	UpdatedAfterLastSignature bool
	Signatures                []SignatureIntegrity
}

// CheckIntegrity verifies every embedded signature's digest without
// evaluating trust. A document without signatures reports intact.
func CheckIntegrity(r *reader.PdfFileReader) (*IntegrityReport, error) {
	signatures := r.GetEmbeddedSignatures()

	report := &IntegrityReport{
		SignatureCount: len(signatures),
		AllIntact:      true,
	}
	anyCoversWhole := len(signatures) == 0
	for _, sig := range signatures {
		entry := SignatureIntegrity{
			FieldName:           sig.FieldName,
			CoversWholeDocument: sig.CoversWholeDocument(),
		}
		if entry.CoversWholeDocument {
			anyCoversWhole = true
		}
		entry.Intact = verifyOne(sig, &entry)
		if !entry.Intact {
			report.AllIntact = false
		}
		report.Signatures = append(report.Signatures, entry)
	}
	report.UpdatedAfterLastSignature = len(signatures) > 0 && !anyCoversWhole
	return report, nil
}

func verifyOne(sig *reader.EmbeddedSignature, entry *SignatureIntegrity) bool {
	if sig.StructuralError != nil {
		entry.Error = sig.StructuralError.Error()
		return false
	}
	signedData, err := sig.SignedData()
	if err != nil {
		entry.Error = err.Error()
		return false
	}
	parsed, err := cms.Parse(sig.Contents)
	if err != nil {
		entry.Error = err.Error()
		return false
	}
	if err := parsed.Verify(signedData); err != nil {
		entry.Error = err.Error()
		return false
	}
	return true
}
