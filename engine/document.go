// Package engine is the high level operation surface: parse a document
// into a structure model, manage signature fields, sign with an
// incremental update, and validate or extract embedded signatures.
package engine

import (
	"time"

	"github.com/quillsign/pdfsign/pdf/generic"
	"github.com/quillsign/pdfsign/pdf/reader"
	"github.com/quillsign/pdfsign/sign/cms"
	"github.com/quillsign/pdfsign/sign/fields"
)

// Metadata is the document information dictionary. Standard entries
// are pointers so absence stays distinguishable from an empty string.
type Metadata struct {
	Title            *string
	Author           *string
	Subject          *string
	Creator          *string
	Producer         *string
	CreationDate     *time.Time
	ModificationDate *time.Time
	// Custom holds non-standard Info entries.
	Custom map[string]string
}

// CertificateInfo is a trimmed view of the signer certificate.
type CertificateInfo struct {
	CommonName   string
	Organization string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
}

// ExistingSignature is a signature already embedded in the document.
type ExistingSignature struct {
	FieldName   string
	SignerName  string
	Reason      string
	Location    string
	ContactInfo string
	SubFilter   string
	SigningTime *time.Time
	ByteRange   [4]int64
	// CMS is the raw DER container, trailing padding stripped is the
	// caller's concern; the bytes are exactly the /Contents value.
	CMS         []byte
	Certificate *CertificateInfo
}

// Document is the parsed structure model. It is a value: operations
// return modified copies and never touch the receiver.
type Document struct {
	Version            string
	PageCount          int
	Metadata           Metadata
	SignatureFields    []fields.Field
	ExistingSignatures []ExistingSignature
	// Raw is a verbatim copy of the input bytes.
	Raw []byte

	reader *reader.PdfFileReader
}

// Reader exposes the underlying structure reader.
func (d *Document) Reader() *reader.PdfFileReader { return d.reader }

// SignatureCount returns the number of embedded signatures.
func (d *Document) SignatureCount() int { return len(d.ExistingSignatures) }

// withField returns a copy of the document carrying one more field.
func (d *Document) withField(list []fields.Field) *Document {
	out := *d
	out.SignatureFields = list
	return &out
}

// ParseDocument parses raw PDF bytes into the structure model. The
// input is copied; the caller's slice stays untouched.
func ParseDocument(data []byte) (*Document, error) {
	raw := make([]byte, len(data))
	copy(raw, data)

	r, err := reader.NewPdfFileReader(raw)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Version:         r.Version,
		PageCount:       r.PageCount(),
		Metadata:        extractMetadata(r),
		SignatureFields: fields.List(r),
		Raw:             raw,
		reader:          r,
	}
	doc.ExistingSignatures = extractSignatures(r)
	return doc, nil
}

var standardInfoKeys = map[string]bool{
	"Title": true, "Author": true, "Subject": true,
	"Creator": true, "Producer": true, "CreationDate": true, "ModDate": true,
}

func extractMetadata(r *reader.PdfFileReader) Metadata {
	meta := Metadata{}
	info := r.Info
	if info == nil {
		return meta
	}

	text := func(key string) *string {
		if s := info.GetString(key); s != nil {
			v := s.Text()
			return &v
		}
		return nil
	}
	meta.Title = text("Title")
	meta.Author = text("Author")
	meta.Subject = text("Subject")
	meta.Creator = text("Creator")
	meta.Producer = text("Producer")

	date := func(key string) *time.Time {
		if s := info.GetString(key); s != nil {
			if t, err := generic.ParseDate(s.Text()); err == nil {
				return &t
			}
		}
		return nil
	}
	meta.CreationDate = date("CreationDate")
	meta.ModificationDate = date("ModDate")

	for _, key := range info.Keys() {
		if standardInfoKeys[key] {
			continue
		}
		if s := info.GetString(key); s != nil {
			if meta.Custom == nil {
				meta.Custom = make(map[string]string)
			}
			meta.Custom[key] = s.Text()
		}
	}
	return meta
}

func extractSignatures(r *reader.PdfFileReader) []ExistingSignature {
	embedded := r.GetEmbeddedSignatures()
	out := make([]ExistingSignature, 0, len(embedded))
	for _, sig := range embedded {
		entry := ExistingSignature{
			FieldName:   sig.FieldName,
			SignerName:  sig.Name(),
			Reason:      sig.Reason(),
			Location:    sig.Location(),
			ContactInfo: sig.ContactInfo(),
			SubFilter:   sig.SubFilter,
			ByteRange:   sig.ByteRange,
			CMS:         sig.Contents,
		}
		if t, ok := sig.SigningTime(); ok {
			entry.SigningTime = &t
		}
		// Certificate details are best effort: a malformed container
		// still yields the structural entry.
		if parsed, err := cms.Parse(sig.Contents); err == nil {
			if cert, err := parsed.SignerCertificate(); err == nil {
				info := &CertificateInfo{
					CommonName:   cert.Subject.CommonName,
					Issuer:       cert.Issuer.CommonName,
					SerialNumber: cert.SerialNumber.String(),
					NotBefore:    cert.NotBefore,
					NotAfter:     cert.NotAfter,
				}
				if len(cert.Subject.Organization) > 0 {
					info.Organization = cert.Subject.Organization[0]
				}
				if entry.SignerName == "" {
					entry.SignerName = cert.Subject.CommonName
				}
				entry.Certificate = info
			}
			if entry.SigningTime == nil {
				if t, ok := parsed.SigningTime(); ok {
					entry.SigningTime = &t
				}
			}
		}
		out = append(out, entry)
	}
	return out
}
