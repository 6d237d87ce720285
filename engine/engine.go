package engine

import (
	"context"
	"crypto"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/quillsign/pdfsign/keys"
	"github.com/quillsign/pdfsign/pdf/generic"
	"github.com/quillsign/pdfsign/pdf/writer"
	"github.com/quillsign/pdfsign/sign/cms"
	"github.com/quillsign/pdfsign/sign/fields"
	"github.com/quillsign/pdfsign/sign/timestamps"
	"github.com/quillsign/pdfsign/sign/validation"
)

// Engine bundles the signing and validation policy. The zero value is
// usable; New applies the defaults explicitly.
type Engine struct {
	// Validation configures trust evaluation.
	Validation *validation.Settings
	// Clock supplies signing time. Nil selects the real clock.
	Clock clockwork.Clock
	// Timestamper, when set, timestamps every signature. SignOptions
	// TimestampURL overrides it per call.
	Timestamper cms.Timestamper
	// Logger receives operation level logs. Nil discards them.
	Logger *slog.Logger
	// Workers bounds SignAll parallelism. Zero selects a default.
	Workers int
	// ContentsSize reserves the signature placeholder. Zero selects the
	// writer default.
	ContentsSize int
}

// New returns an engine with default validation policy.
func New() *Engine {
	return &Engine{Validation: validation.DefaultSettings()}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (e *Engine) clock() clockwork.Clock {
	if e.Clock != nil {
		return e.Clock
	}
	return clockwork.NewRealClock()
}

// FieldDefinition describes a signature field to add to the model.
type FieldDefinition struct {
	Name string
	Page int
	// Rect is nil for an invisible signature.
	Rect *fields.Rect
	// Appearance optionally names an appearance preset for callers that
	// render one.
	Appearance string
}

// AddSignatureField returns a copy of the document with the field
// added. The receiver document is not modified; the widget itself is
// materialized when the field is signed.
func (e *Engine) AddSignatureField(doc *Document, def FieldDefinition) (*Document, error) {
	field := fields.Field{
		Name:       def.Name,
		Page:       def.Page,
		Rect:       def.Rect,
		Appearance: def.Appearance,
		Kind:       fields.KindSignature,
	}
	if field.Name == "" {
		field.Name = fields.NextName(doc.SignatureFields)
	}
	list, err := fields.Add(doc.SignatureFields, field, doc.PageCount)
	if err != nil {
		return nil, err
	}
	return doc.withField(list), nil
}

// SignOptions configure one signing operation.
type SignOptions struct {
	// FieldName selects or creates the target field. Empty generates
	// Signature-<n>.
	FieldName string
	Reason    string
	Location  string
	Contact   string
	// SignerName overrides the /Name entry; defaults to the certificate
	// common name.
	SignerName string
	// Hash selects the digest algorithm. Zero picks the key's default.
	Hash crypto.Hash
	// Rect places a visible widget when the field does not exist yet.
	Rect *fields.Rect
	// Appearance names a rendered appearance. Rendering is not
	// implemented; a non-empty value is rejected.
	Appearance string
	// TimestampURL requests an RFC 3161 token from this TSA.
	TimestampURL string
}

// SignDocument signs the document with an appended incremental update
// and returns the new parsed document. On any failure the input
// document is untouched and remains the only authoritative copy.
func (e *Engine) SignDocument(ctx context.Context, doc *Document, creds *keys.Credentials, opts SignOptions) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Appearance != "" {
		return nil, fmt.Errorf("%w: appearance rendering", ErrNotImplemented)
	}
	now := e.clock().Now()
	if err := creds.Validate(now); err != nil {
		return nil, err
	}
	hash := opts.Hash
	if hash == 0 {
		hash = keys.DefaultHash(creds.Signer)
	}

	fieldName := opts.FieldName
	if fieldName == "" {
		fieldName = fields.NextName(doc.SignatureFields)
	}

	w := writer.NewIncrementalWriter(doc.reader)
	fieldRef, err := e.resolveField(w, doc, fieldName, opts.Rect)
	if err != nil {
		return nil, err
	}

	signerName := opts.SignerName
	if signerName == "" {
		signerName = creds.Certificate.Subject.CommonName
	}

	builder := &cms.Builder{
		Certificate: creds.Certificate,
		Chain:       creds.Chain,
		Signer:      creds.Signer,
		Hash:        hash,
		Clock:       e.clock(),
		Timestamper: e.timestamper(opts),
	}
	contentsSize := e.ContentsSize
	if contentsSize == 0 {
		if est := builder.EstimateSize(); est > writer.DefaultContentsSize {
			contentsSize = est
		}
	}

	ph, err := w.PrepareSignature(fieldRef, writer.SignatureParams{
		Name:         signerName,
		Reason:       opts.Reason,
		Location:     opts.Location,
		ContactInfo:  opts.Contact,
		SigningTime:  now,
		ContentsSize: contentsSize,
	})
	if err != nil {
		return nil, err
	}
	prepared, err := w.WriteWithSignature(ph)
	if err != nil {
		return nil, err
	}

	der, err := builder.Sign(ctx, prepared.DataToSign())
	if err != nil {
		return nil, err
	}
	if err := prepared.EmbedSignature(der); err != nil {
		return nil, err
	}

	signed, err := ParseDocument(prepared.Data)
	if err != nil {
		return nil, fmt.Errorf("reparse signed document: %w", err)
	}
	e.logger().InfoContext(ctx, "document signed",
		slog.String("field", fieldName),
		slog.String("signer", signerName),
		slog.Int("signatures", signed.SignatureCount()),
	)
	return signed, nil
}

// resolveField finds an existing unsigned field by name or creates a
// new widget in the pending update.
func (e *Engine) resolveField(w *writer.IncrementalWriter, doc *Document, name string, rect *fields.Rect) (generic.Reference, error) {
	for _, existing := range doc.reader.GetSignatureFields() {
		if existing.Name != name {
			continue
		}
		if existing.Signed {
			return generic.Reference{}, fmt.Errorf("%w: %q", ErrFieldAlreadySigned, name)
		}
		return existing.Ref, nil
	}

	// Carry the rectangle from a model-level field definition when the
	// caller added one.
	if rect == nil {
		for _, f := range doc.SignatureFields {
			if f.Name == name {
				rect = f.Rect
				break
			}
		}
	}
	var box *generic.Rectangle
	if rect != nil {
		box = &generic.Rectangle{
			LLX: rect.X,
			LLY: rect.Y,
			URX: rect.X + rect.Width,
			URY: rect.Y + rect.Height,
		}
	}
	page := 0
	for _, f := range doc.SignatureFields {
		if f.Name == name {
			page = f.Page
			break
		}
	}
	return w.AddSignatureField(name, page, box)
}

func (e *Engine) timestamper(opts SignOptions) cms.Timestamper {
	if opts.TimestampURL != "" {
		return timestamps.NewClient(opts.TimestampURL)
	}
	return e.Timestamper
}

// ValidateSignatures validates every embedded signature. Unverifiable
// signatures become results with errors, never a returned error.
func (e *Engine) ValidateSignatures(ctx context.Context, data []byte) ([]*validation.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	v := validation.NewValidator(e.Validation)
	v.Clock = e.Clock
	return v.ValidateAll(doc.reader)
}

// ExtractSignatures parses the document and returns its embedded
// signatures.
func ExtractSignatures(data []byte) ([]ExistingSignature, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return doc.ExistingSignatures, nil
}

// CheckDocumentIntegrity reports whether the signature at index still
// covers unmodified bytes.
func CheckDocumentIntegrity(data []byte, index int) (bool, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return false, err
	}
	report, err := validation.CheckIntegrity(doc.reader)
	if err != nil {
		return false, err
	}
	if index < 0 || index >= len(report.Signatures) {
		return false, fmt.Errorf("%w: %d of %d signatures", ErrIndexOutOfRange, index, len(report.Signatures))
	}
	return report.Signatures[index].Intact, nil
}

// CheckIntegrity returns the full per-signature integrity report for
// callers that need more than a single index verdict.
func (e *Engine) CheckIntegrity(ctx context.Context, data []byte) (*validation.IntegrityReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return validation.CheckIntegrity(doc.reader)
}
