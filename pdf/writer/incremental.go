package writer

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/quillsign/pdfsign/pdf/generic"
	"github.com/quillsign/pdfsign/pdf/reader"
)

var (
	// ErrDuplicateField is returned when a signature field name is already
	// taken.
	ErrDuplicateField = errors.New("duplicate signature field name")
	// ErrInvalidPageIndex is returned for a page index outside the
	// document.
	ErrInvalidPageIndex = errors.New("invalid page index")
	// ErrPlaceholderTooSmall is returned when a signature does not fit the
	// reserved /Contents region.
	ErrPlaceholderTooSmall = errors.New("signature placeholder too small")
)

// Annotation flag bits.
const (
	annotFlagPrint  = 1 << 2
	annotFlagLocked = 1 << 7
)

// AcroForm SigFlags bits.
const (
	sigFlagSignaturesExist = 1
	sigFlagAppendOnly      = 2
)

// DefaultContentsSize is the default byte size reserved for the CMS blob.
const DefaultContentsSize = 16 * 1024

// byteRangePlaceholder keeps the /ByteRange array at a fixed width so it
// can be patched in place after serialization.
const byteRangePlaceholder = "[%010d %010d %010d %010d]"

// IncrementalWriter appends an incremental update to an existing
// document. The original bytes are preserved verbatim.
type IncrementalWriter struct {
	reader *reader.PdfFileReader

	objects    map[int]*generic.IndirectObject
	nextObjNum int

	fieldNames map[string]bool
}

// NewIncrementalWriter prepares an update on top of the parsed document.
func NewIncrementalWriter(r *reader.PdfFileReader) *IncrementalWriter {
	next := int(r.Trailer.GetSize())
	for num := range r.XRef.Entries {
		if num >= next {
			next = num + 1
		}
	}
	if next < 1 {
		next = 1
	}

	w := &IncrementalWriter{
		reader:     r,
		objects:    make(map[int]*generic.IndirectObject),
		nextObjNum: next,
		fieldNames: make(map[string]bool),
	}
	for _, field := range r.GetSignatureFields() {
		w.fieldNames[field.Name] = true
	}
	return w
}

// Reader returns the underlying document reader.
func (w *IncrementalWriter) Reader() *reader.PdfFileReader { return w.reader }

// AddObject registers a new indirect object in the update section.
func (w *IncrementalWriter) AddObject(obj generic.PdfObject) generic.Reference {
	num := w.nextObjNum
	w.nextObjNum++
	w.objects[num] = generic.NewIndirectObject(num, 0, obj)
	return generic.NewReference(num, 0)
}

// UpdateObject shadows an existing object with a new value in the update
// section.
func (w *IncrementalWriter) UpdateObject(ref generic.Reference, obj generic.PdfObject) {
	w.objects[ref.ObjectNumber] = generic.NewIndirectObject(ref.ObjectNumber, ref.GenerationNumber, obj)
	if ref.ObjectNumber >= w.nextObjNum {
		w.nextObjNum = ref.ObjectNumber + 1
	}
}

// updatedOrOriginal returns the pending update for ref when present,
// otherwise the object from the base document.
func (w *IncrementalWriter) updatedOrOriginal(ref generic.Reference) (generic.PdfObject, error) {
	if pending, ok := w.objects[ref.ObjectNumber]; ok {
		return pending.Object, nil
	}
	return w.reader.GetObject(ref)
}

// AddSignatureField creates an empty signature widget on the given page
// and registers it with the interactive form.
func (w *IncrementalWriter) AddSignatureField(name string, pageIndex int, rect *generic.Rectangle) (generic.Reference, error) {
	if name == "" {
		return generic.Reference{}, errors.New("signature field name must not be empty")
	}
	if w.fieldNames[name] {
		return generic.Reference{}, fmt.Errorf("%w: %q", ErrDuplicateField, name)
	}
	if pageIndex < 0 || pageIndex >= w.reader.PageCount() {
		return generic.Reference{}, fmt.Errorf("%w: %d with %d pages", ErrInvalidPageIndex, pageIndex, w.reader.PageCount())
	}

	pageRef, pageDict, err := w.reader.Page(pageIndex)
	if err != nil {
		return generic.Reference{}, fmt.Errorf("%w: %v", ErrInvalidPageIndex, err)
	}

	if rect == nil {
		// Invisible widget.
		rect = &generic.Rectangle{}
	}

	field := generic.NewDictionary()
	field.Set("Type", generic.NameObject("Annot"))
	field.Set("Subtype", generic.NameObject("Widget"))
	field.Set("FT", generic.NameObject("Sig"))
	field.Set("T", generic.NewTextString(name))
	field.Set("Rect", rect.ToArray())
	field.Set("F", generic.IntegerObject(annotFlagPrint|annotFlagLocked))
	field.Set("P", pageRef)
	fieldRef := w.AddObject(field)

	if err := w.registerFieldWithForm(fieldRef); err != nil {
		return generic.Reference{}, err
	}

	// Shadow the page with an updated /Annots array.
	updatedPage := pageDict.Clone().(*generic.DictionaryObject)
	updatedPage.Set("Annots", append(updatedPage.GetArray("Annots"), fieldRef))
	w.UpdateObject(pageRef, updatedPage)

	w.fieldNames[name] = true
	return fieldRef, nil
}

// registerFieldWithForm appends fieldRef to the AcroForm /Fields array,
// creating the form and rewriting the catalog when necessary.
func (w *IncrementalWriter) registerFieldWithForm(fieldRef generic.Reference) error {
	rootRef := w.reader.Trailer.GetRoot()
	if rootRef == nil {
		return errors.New("document has no catalog")
	}

	acroFormObj := w.reader.Root.Get("AcroForm")
	if formRef, ok := acroFormObj.(generic.Reference); ok {
		current, err := w.updatedOrOriginal(formRef)
		if err != nil {
			return fmt.Errorf("resolving AcroForm: %w", err)
		}
		formDict, ok := current.(*generic.DictionaryObject)
		if !ok {
			return errors.New("AcroForm is not a dictionary")
		}
		updated := formDict.Clone().(*generic.DictionaryObject)
		appendFieldAndFlags(updated, fieldRef)
		w.UpdateObject(formRef, updated)
		return nil
	}

	// Direct or missing AcroForm: build a fresh form object and rewrite
	// the catalog to point at it.
	form := generic.NewDictionary()
	if direct, ok := acroFormObj.(*generic.DictionaryObject); ok {
		form = direct.Clone().(*generic.DictionaryObject)
	}
	if form.GetArray("Fields") == nil {
		form.Set("Fields", generic.ArrayObject{})
	}
	appendFieldAndFlags(form, fieldRef)
	formRef := w.AddObject(form)

	updatedRoot := w.reader.Root.Clone().(*generic.DictionaryObject)
	updatedRoot.Set("AcroForm", formRef)
	w.UpdateObject(*rootRef, updatedRoot)
	return nil
}

func appendFieldAndFlags(form *generic.DictionaryObject, fieldRef generic.Reference) {
	form.Set("Fields", append(form.GetArray("Fields"), fieldRef))
	flags, _ := form.GetInt("SigFlags")
	form.Set("SigFlags", generic.IntegerObject(flags|sigFlagSignaturesExist|sigFlagAppendOnly))
}

// SignatureParams describe the signature dictionary to embed.
type SignatureParams struct {
	// Name, Reason, Location and ContactInfo populate the corresponding
	// optional signature dictionary entries.
	Name        string
	Reason      string
	Location    string
	ContactInfo string
	// SigningTime fills /M.
	SigningTime time.Time
	// ContentsSize is the reserved size in bytes for the DER signature.
	// Zero selects DefaultContentsSize.
	ContentsSize int
}

// Placeholder tracks a signature dictionary pending serialization.
type Placeholder struct {
	SigDict      *generic.DictionaryObject
	SigDictRef   generic.Reference
	ContentsSize int
}

// PrepareSignature builds the signature dictionary for fieldRef and wires
// it in as the field value.
func (w *IncrementalWriter) PrepareSignature(fieldRef generic.Reference, params SignatureParams) (*Placeholder, error) {
	size := params.ContentsSize
	if size <= 0 {
		size = DefaultContentsSize
	}

	sigDict := generic.NewDictionary()
	sigDict.Set("Type", generic.NameObject("Sig"))
	sigDict.Set("Filter", generic.NameObject("Adobe.PPKLite"))
	sigDict.Set("SubFilter", generic.NameObject("adbe.pkcs7.detached"))
	// ByteRange and Contents are serialized as placeholders and patched
	// after layout.
	sigDict.Set("ByteRange", generic.ArrayObject{
		generic.IntegerObject(0), generic.IntegerObject(0),
		generic.IntegerObject(0), generic.IntegerObject(0),
	})
	sigDict.Set("Contents", generic.NewHexString(make([]byte, size)))
	if !params.SigningTime.IsZero() {
		sigDict.Set("M", generic.NewLiteralString(generic.FormatDate(params.SigningTime)))
	}
	if params.Name != "" {
		sigDict.Set("Name", generic.NewTextString(params.Name))
	}
	if params.Reason != "" {
		sigDict.Set("Reason", generic.NewTextString(params.Reason))
	}
	if params.Location != "" {
		sigDict.Set("Location", generic.NewTextString(params.Location))
	}
	if params.ContactInfo != "" {
		sigDict.Set("ContactInfo", generic.NewTextString(params.ContactInfo))
	}
	sigDictRef := w.AddObject(sigDict)

	field, err := w.updatedOrOriginal(fieldRef)
	if err != nil {
		return nil, fmt.Errorf("resolving signature field: %w", err)
	}
	fieldDict, ok := field.(*generic.DictionaryObject)
	if !ok {
		return nil, errors.New("signature field is not a dictionary")
	}
	updatedField := fieldDict.Clone().(*generic.DictionaryObject)
	updatedField.Set("V", sigDictRef)
	w.UpdateObject(fieldRef, updatedField)

	return &Placeholder{SigDict: sigDict, SigDictRef: sigDictRef, ContentsSize: size}, nil
}

// PreparedSignature is the serialized incremental update with its byte
// ranges resolved, awaiting the CMS blob.
type PreparedSignature struct {
	// Data is the full document with the placeholder still zeroed.
	Data []byte
	// ByteRange holds the two signed windows.
	ByteRange [4]int64
	// ContentsOffset is the file offset of the '<' of the placeholder.
	ContentsOffset int64
	// ContentsSize is the reserved DER size in bytes.
	ContentsSize int
}

// WriteWithSignature serializes the update, laying out the /Contents and
// /ByteRange placeholders and resolving the final byte ranges.
func (w *IncrementalWriter) WriteWithSignature(ph *Placeholder) (*PreparedSignature, error) {
	var buf bytes.Buffer
	buf.Write(w.reader.Data())
	if last := w.reader.Data(); len(last) > 0 && last[len(last)-1] != '\n' {
		buf.WriteByte('\n')
	}

	var contentsOffset, byteRangeOffset int64
	offsets := make(map[int]int64)

	for _, num := range w.sortedObjectNumbers() {
		obj := w.objects[num]
		offsets[num] = int64(buf.Len())

		if num == ph.SigDictRef.ObjectNumber {
			co, bro, err := writeSignatureObject(&buf, obj, ph.ContentsSize)
			if err != nil {
				return nil, err
			}
			contentsOffset, byteRangeOffset = co, bro
			continue
		}
		if err := obj.Write(&buf); err != nil {
			return nil, err
		}
	}

	if contentsOffset == 0 {
		return nil, errors.New("signature dictionary not registered with writer")
	}

	if err := w.writeXRefAndTrailer(&buf, offsets); err != nil {
		return nil, err
	}

	data := buf.Bytes()
	contentsEnd := contentsOffset + int64(2*ph.ContentsSize) + 2
	byteRange := [4]int64{
		0,
		contentsOffset,
		contentsEnd,
		int64(len(data)) - contentsEnd,
	}

	// Patch the fixed-width /ByteRange array in place.
	patched := fmt.Sprintf(byteRangePlaceholder, byteRange[0], byteRange[1], byteRange[2], byteRange[3])
	copy(data[byteRangeOffset:byteRangeOffset+int64(len(patched))], patched)

	return &PreparedSignature{
		Data:           data,
		ByteRange:      byteRange,
		ContentsOffset: contentsOffset,
		ContentsSize:   ph.ContentsSize,
	}, nil
}

// Write serializes a plain incremental update without signature
// placeholders.
func (w *IncrementalWriter) Write(out io.Writer) error {
	var buf bytes.Buffer
	buf.Write(w.reader.Data())
	if last := w.reader.Data(); len(last) > 0 && last[len(last)-1] != '\n' {
		buf.WriteByte('\n')
	}

	offsets := make(map[int]int64)
	for _, num := range w.sortedObjectNumbers() {
		offsets[num] = int64(buf.Len())
		if err := w.objects[num].Write(&buf); err != nil {
			return err
		}
	}

	if err := w.writeXRefAndTrailer(&buf, offsets); err != nil {
		return err
	}

	_, err := out.Write(buf.Bytes())
	return err
}

func (w *IncrementalWriter) sortedObjectNumbers() []int {
	nums := make([]int, 0, len(w.objects))
	for num := range w.objects {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	return nums
}

// writeXRefAndTrailer appends the classic cross-reference table and the
// trailer chaining back to the previous section.
func (w *IncrementalWriter) writeXRefAndTrailer(buf *bytes.Buffer, offsets map[int]int64) error {
	nums := w.sortedObjectNumbers()
	xrefOffset := int64(buf.Len())

	buf.WriteString("xref\n")
	for i := 0; i < len(nums); {
		// Group consecutive object numbers into one subsection.
		j := i
		for j+1 < len(nums) && nums[j+1] == nums[j]+1 {
			j++
		}
		fmt.Fprintf(buf, "%d %d\n", nums[i], j-i+1)
		for k := i; k <= j; k++ {
			fmt.Fprintf(buf, "%010d %05d n \n", offsets[nums[k]], w.objects[nums[k]].GenerationNumber)
		}
		i = j + 1
	}

	trailer := generic.NewDictionary()
	trailer.Set("Size", generic.IntegerObject(w.nextObjNum))
	if rootRef := w.reader.Trailer.GetRoot(); rootRef != nil {
		trailer.Set("Root", *rootRef)
	}
	if infoRef := w.reader.Trailer.GetInfo(); infoRef != nil {
		trailer.Set("Info", *infoRef)
	}
	if id := w.reader.Trailer.GetArray("ID"); id != nil {
		trailer.Set("ID", id.Clone())
	}
	if len(w.reader.XRefOffsets) > 0 {
		trailer.Set("Prev", generic.IntegerObject(w.reader.XRefOffsets[0]))
	}

	buf.WriteString("trailer\n")
	if err := trailer.Write(buf); err != nil {
		return err
	}
	fmt.Fprintf(buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return nil
}

// writeSignatureObject serializes the signature dictionary with a zeroed
// hex /Contents placeholder and a fixed-width /ByteRange, returning the
// absolute offsets of both.
func writeSignatureObject(buf *bytes.Buffer, obj *generic.IndirectObject, contentsSize int) (contentsOffset, byteRangeOffset int64, err error) {
	dict, ok := obj.Object.(*generic.DictionaryObject)
	if !ok {
		return 0, 0, errors.New("signature object is not a dictionary")
	}

	fmt.Fprintf(buf, "%d %d obj\n<<", obj.ObjectNumber, obj.GenerationNumber)
	for _, key := range dict.Keys() {
		buf.WriteString("\n")
		if err := (generic.NameObject(key)).Write(buf); err != nil {
			return 0, 0, err
		}
		buf.WriteString(" ")

		switch key {
		case "Contents":
			contentsOffset = int64(buf.Len())
			buf.WriteByte('<')
			buf.WriteString(string(bytes.Repeat([]byte{'0'}, 2*contentsSize)))
			buf.WriteByte('>')
		case "ByteRange":
			byteRangeOffset = int64(buf.Len())
			fmt.Fprintf(buf, byteRangePlaceholder, 0, 0, 0, 0)
		default:
			if err := dict.Get(key).Write(buf); err != nil {
				return 0, 0, err
			}
		}
	}
	buf.WriteString("\n>>\nendobj\n")
	return contentsOffset, byteRangeOffset, nil
}

// DataToSign returns the concatenation of the two signed windows.
func (p *PreparedSignature) DataToSign() []byte {
	var out []byte
	out = append(out, p.Data[p.ByteRange[0]:p.ByteRange[0]+p.ByteRange[1]]...)
	out = append(out, p.Data[p.ByteRange[2]:p.ByteRange[2]+p.ByteRange[3]]...)
	return out
}

// EmbedSignature writes the DER signature into the reserved /Contents
// region, padding the hex encoding with zeros up to the reserved width.
func (p *PreparedSignature) EmbedSignature(der []byte) error {
	if len(der) > p.ContentsSize {
		return fmt.Errorf("%w: reserved %d bytes, signature needs %d", ErrPlaceholderTooSmall, p.ContentsSize, len(der))
	}

	encoded := hex.EncodeToString(der)
	region := p.Data[p.ContentsOffset+1 : p.ContentsOffset+1+int64(2*p.ContentsSize)]
	copy(region, encoded)
	for i := len(encoded); i < len(region); i++ {
		region[i] = '0'
	}
	return nil
}
