// Package fields manages signature fields on the document structure
// model. Mutations follow copy-with semantics: a list is never changed
// in place, callers get a new list back.
package fields

import (
	"errors"
	"fmt"

	"github.com/quillsign/pdfsign/pdf/generic"
	"github.com/quillsign/pdfsign/pdf/reader"
)

var (
	// ErrDuplicateFieldName is returned when a field name is already
	// taken.
	ErrDuplicateFieldName = errors.New("duplicate signature field name")
	// ErrInvalidPageIndex is returned for a page outside the document.
	ErrInvalidPageIndex = errors.New("invalid page index")
	// ErrEmptyFieldName is returned for a blank field name.
	ErrEmptyFieldName = errors.New("empty signature field name")
)

// Kind tags what a form field is. Only signature widgets carry
// signing semantics here; the other kinds exist so callers can model
// mixed forms.
type Kind string

const (
	KindSignature Kind = "signature"
	KindCheckbox  Kind = "checkbox"
	KindRadio     Kind = "radio"
	KindText      Kind = "text"
)

// Rect is a widget rectangle in page coordinates.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Field is a signature field on the document model.
type Field struct {
	Name string
	// Page is the zero-based page the widget sits on.
	Page int
	// Rect is nil for invisible signatures.
	Rect *Rect
	// Appearance optionally names an appearance preset.
	Appearance string
	// Signed reports whether the field holds a signature value.
	Signed bool
	Kind   Kind
}

// List extracts the signature fields of a parsed document.
func List(r *reader.PdfFileReader) []Field {
	found := r.GetSignatureFields()
	out := make([]Field, 0, len(found))
	for _, f := range found {
		field := Field{
			Name:   f.Name,
			Signed: f.Signed,
			Kind:   KindSignature,
			Page:   widgetPage(r, f.Dict),
		}
		if rect := widgetRect(f.Dict); rect != nil {
			field.Rect = rect
		}
		out = append(out, field)
	}
	return out
}

// Add validates and appends a field, returning a fresh list. The input
// list is left untouched.
func Add(list []Field, field Field, pageCount int) ([]Field, error) {
	if field.Name == "" {
		return nil, ErrEmptyFieldName
	}
	if field.Page < 0 || field.Page >= pageCount {
		return nil, fmt.Errorf("%w: %d of %d pages", ErrInvalidPageIndex, field.Page, pageCount)
	}
	for _, existing := range list {
		if existing.Name == field.Name {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateFieldName, field.Name)
		}
	}
	if field.Kind == "" {
		field.Kind = KindSignature
	}
	out := make([]Field, len(list), len(list)+1)
	copy(out, list)
	return append(out, field), nil
}

// NextName generates an unused name of the form Signature-<n>.
func NextName(list []Field) string {
	taken := make(map[string]bool, len(list))
	for _, f := range list {
		taken[f.Name] = true
	}
	for n := 1; ; n++ {
		name := fmt.Sprintf("Signature-%d", n)
		if !taken[name] {
			return name
		}
	}
}

// widgetRect reads the /Rect of a field widget.
func widgetRect(dict *generic.DictionaryObject) *Rect {
	arr := dict.GetArray("Rect")
	if len(arr) != 4 {
		return nil
	}
	coords := make([]float64, 4)
	for i, item := range arr {
		switch v := item.(type) {
		case generic.IntegerObject:
			coords[i] = float64(v)
		case generic.RealObject:
			coords[i] = float64(v)
		default:
			return nil
		}
	}
	rect := &Rect{
		X:      coords[0],
		Y:      coords[1],
		Width:  coords[2] - coords[0],
		Height: coords[3] - coords[1],
	}
	if rect.Width == 0 && rect.Height == 0 {
		return nil
	}
	return rect
}

// widgetPage locates the page a widget's /P reference points at.
func widgetPage(r *reader.PdfFileReader, dict *generic.DictionaryObject) int {
	pageObj := dict.Get("P")
	pageRef, ok := pageObj.(generic.Reference)
	if !ok {
		return 0
	}
	for i := 0; i < r.PageCount(); i++ {
		ref, _, err := r.Page(i)
		if err != nil {
			break
		}
		if ref == pageRef {
			return i
		}
	}
	return 0
}
