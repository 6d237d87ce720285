package reader

import (
	"fmt"
	"time"

	"github.com/quillsign/pdfsign/pdf/generic"
)

// SignatureField is a signature form field found in the AcroForm tree.
type SignatureField struct {
	// Name is the partial field name (/T).
	Name string
	// Ref points at the field dictionary.
	Ref generic.Reference
	// Dict is the resolved field dictionary.
	Dict *generic.DictionaryObject
	// Signed reports whether the field has a signature value (/V).
	Signed bool
}

// EmbeddedSignature is a filled signature value extracted from a document.
type EmbeddedSignature struct {
	// FieldName is the name of the enclosing signature field.
	FieldName string
	// Dict is the signature dictionary (/V).
	Dict *generic.DictionaryObject
	// ByteRange holds the two signed windows as offset/length pairs.
	ByteRange [4]int64
	// Contents is the raw CMS blob, trailing zero padding included.
	Contents []byte
	// SubFilter names the signature encoding, e.g. adbe.pkcs7.detached.
	SubFilter string
	// StructuralError records why the signature value could not be fully
	// decoded. The other fields hold whatever was recoverable.
	StructuralError error

	reader *PdfFileReader
}

// GetSignatureFields walks the AcroForm field tree and returns every
// signature field, in the order the form lists them.
func (r *PdfFileReader) GetSignatureFields() []SignatureField {
	acroForm := r.AcroForm()
	if acroForm == nil {
		return nil
	}

	var fields []SignatureField
	seen := make(map[objectKey]bool)
	for _, item := range acroForm.GetArray("Fields") {
		ref, ok := item.(generic.Reference)
		if !ok {
			continue
		}
		r.collectSignatureFields(ref, seen, &fields)
	}
	return fields
}

func (r *PdfFileReader) collectSignatureFields(ref generic.Reference, seen map[objectKey]bool, out *[]SignatureField) {
	key := objectKey{num: ref.ObjectNumber, gen: ref.GenerationNumber}
	if seen[key] {
		return
	}
	seen[key] = true

	dict := r.ResolveDict(ref)
	if dict == nil {
		return
	}

	if dict.GetName("FT") == "Sig" {
		field := SignatureField{Ref: ref, Dict: dict, Signed: dict.Has("V")}
		if t := dict.GetString("T"); t != nil {
			field.Name = t.Text()
		}
		*out = append(*out, field)
	}

	for _, kid := range dict.GetArray("Kids") {
		kidRef, ok := kid.(generic.Reference)
		if !ok {
			continue
		}
		r.collectSignatureFields(kidRef, seen, out)
	}
}

// GetEmbeddedSignatures returns the filled signatures of the document, in
// field order. A structurally broken signature value still yields an
// entry, with StructuralError recording the problem.
func (r *PdfFileReader) GetEmbeddedSignatures() []*EmbeddedSignature {
	var sigs []*EmbeddedSignature
	for _, field := range r.GetSignatureFields() {
		if !field.Signed {
			continue
		}
		sigs = append(sigs, r.extractSignature(field))
	}
	return sigs
}

func (r *PdfFileReader) extractSignature(field SignatureField) *EmbeddedSignature {
	sig := &EmbeddedSignature{FieldName: field.Name, reader: r}

	sigDict := r.ResolveDict(field.Dict.Get("V"))
	if sigDict == nil {
		sig.StructuralError = fmt.Errorf("signature value is not a dictionary")
		return sig
	}
	sig.Dict = sigDict
	sig.SubFilter = sigDict.GetName("SubFilter")

	brArray := sigDict.GetArray("ByteRange")
	if len(brArray) != 4 {
		sig.StructuralError = fmt.Errorf("signature has no valid /ByteRange")
		return sig
	}
	for i, item := range brArray {
		v, ok := r.Resolve(item).(generic.IntegerObject)
		if !ok {
			sig.StructuralError = fmt.Errorf("/ByteRange element %d is not an integer", i)
			return sig
		}
		sig.ByteRange[i] = int64(v)
	}

	contents := sigDict.GetString("Contents")
	if contents == nil {
		sig.StructuralError = fmt.Errorf("signature has no /Contents")
		return sig
	}
	sig.Contents = contents.Value

	return sig
}

// Ranges returns the signed windows as offset/length pairs.
func (s *EmbeddedSignature) Ranges() []ByteRange {
	return []ByteRange{
		{Offset: s.ByteRange[0], Length: s.ByteRange[1]},
		{Offset: s.ByteRange[2], Length: s.ByteRange[3]},
	}
}

// SignedData concatenates the two signed windows of the document.
func (s *EmbeddedSignature) SignedData() ([]byte, error) {
	data := s.reader.data
	var out []byte
	for _, br := range s.Ranges() {
		if br.Offset < 0 || br.Length < 0 || br.Offset+br.Length > int64(len(data)) {
			return nil, fmt.Errorf("%w: /ByteRange window [%d, %d)", ErrOutOfRange, br.Offset, br.Offset+br.Length)
		}
		out = append(out, data[br.Offset:br.Offset+br.Length]...)
	}
	return out, nil
}

// CoversWholeDocument reports whether the byte ranges span the whole file
// except the /Contents placeholder.
func (s *EmbeddedSignature) CoversWholeDocument() bool {
	size := int64(len(s.reader.data))
	return s.ByteRange[0] == 0 && s.ByteRange[2]+s.ByteRange[3] == size &&
		s.ByteRange[2] > s.ByteRange[1]
}

// Name returns the /Name entry of the signature dictionary.
func (s *EmbeddedSignature) Name() string { return s.textEntry("Name") }

// Reason returns the /Reason entry.
func (s *EmbeddedSignature) Reason() string { return s.textEntry("Reason") }

// Location returns the /Location entry.
func (s *EmbeddedSignature) Location() string { return s.textEntry("Location") }

// ContactInfo returns the /ContactInfo entry.
func (s *EmbeddedSignature) ContactInfo() string { return s.textEntry("ContactInfo") }

func (s *EmbeddedSignature) textEntry(key string) string {
	if s.Dict == nil {
		return ""
	}
	if v := s.Dict.GetString(key); v != nil {
		return v.Text()
	}
	return ""
}

// SigningTime returns the claimed signing time from /M, if present.
func (s *EmbeddedSignature) SigningTime() (time.Time, bool) {
	if s.Dict == nil {
		return time.Time{}, false
	}
	m := s.Dict.GetString("M")
	if m == nil {
		return time.Time{}, false
	}
	t, err := generic.ParseDate(string(m.Value))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
