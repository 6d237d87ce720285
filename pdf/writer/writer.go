// Package writer builds PDF documents and appends incremental updates,
// including the placeholder bookkeeping needed to embed detached
// signatures.
package writer

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"io"
	"time"

	"github.com/quillsign/pdfsign/pdf/filters"
	"github.com/quillsign/pdfsign/pdf/generic"
)

// DocumentBuilder creates new PDF files from scratch.
type DocumentBuilder struct {
	Version string

	objects    map[int]*generic.IndirectObject
	nextObjNum int

	root     *generic.DictionaryObject
	rootRef  generic.Reference
	info     *generic.DictionaryObject
	infoRef  generic.Reference
	pages    *generic.DictionaryObject
	pageList []generic.Reference
	acroForm *generic.DictionaryObject
}

// NewDocumentBuilder creates a builder for the given PDF version,
// defaulting to 1.7.
func NewDocumentBuilder(version string) *DocumentBuilder {
	if version == "" {
		version = "1.7"
	}

	b := &DocumentBuilder{
		Version:    version,
		objects:    make(map[int]*generic.IndirectObject),
		nextObjNum: 1,
	}

	b.pages = generic.NewDictionary()
	b.pages.Set("Type", generic.NameObject("Pages"))
	b.pages.Set("Kids", generic.ArrayObject{})
	b.pages.Set("Count", generic.IntegerObject(0))
	pagesRef := b.AddObject(b.pages)

	b.root = generic.NewDictionary()
	b.root.Set("Type", generic.NameObject("Catalog"))
	b.root.Set("Pages", pagesRef)
	b.rootRef = b.AddObject(b.root)

	b.info = generic.NewDictionary()
	b.info.Set("Producer", generic.NewTextString("pdfsign"))
	b.infoRef = b.AddObject(b.info)

	return b
}

// AddObject registers obj as a new indirect object and returns its
// reference.
func (b *DocumentBuilder) AddObject(obj generic.PdfObject) generic.Reference {
	num := b.nextObjNum
	b.nextObjNum++
	b.objects[num] = generic.NewIndirectObject(num, 0, obj)
	return generic.NewReference(num, 0)
}

// SetInfo fills the standard info dictionary entries. Empty values are
// skipped.
func (b *DocumentBuilder) SetInfo(title, author, subject string) {
	if title != "" {
		b.info.Set("Title", generic.NewTextString(title))
	}
	if author != "" {
		b.info.Set("Author", generic.NewTextString(author))
	}
	if subject != "" {
		b.info.Set("Subject", generic.NewTextString(subject))
	}
}

// SetCreationDate stamps the info dictionary with t.
func (b *DocumentBuilder) SetCreationDate(t time.Time) {
	b.info.Set("CreationDate", generic.NewLiteralString(generic.FormatDate(t)))
}

// AddPage appends a page with the given media box and optional content
// stream, compressed with FlateDecode.
func (b *DocumentBuilder) AddPage(mediaBox *generic.Rectangle, contents []byte) generic.Reference {
	page := generic.NewDictionary()
	page.Set("Type", generic.NameObject("Page"))
	page.Set("Parent", b.pagesRef())
	page.Set("MediaBox", mediaBox.ToArray())

	if contents != nil {
		data := contents
		if encoded, err := (filters.FlateDecode{}).Encode(contents, nil); err == nil {
			data = encoded
		}
		stream := generic.NewStream(nil, data)
		stream.Dictionary.Set("Filter", generic.NameObject("FlateDecode"))
		page.Set("Contents", b.AddObject(stream))
	}

	pageRef := b.AddObject(page)
	b.pageList = append(b.pageList, pageRef)

	kids := b.pages.GetArray("Kids")
	b.pages.Set("Kids", append(kids, pageRef))
	b.pages.Set("Count", generic.IntegerObject(len(b.pageList)))

	return pageRef
}

func (b *DocumentBuilder) pagesRef() generic.Reference {
	// The pages tree is always object 1.
	return generic.NewReference(1, 0)
}

// EnsureAcroForm creates the interactive form dictionary on first use.
func (b *DocumentBuilder) EnsureAcroForm() *generic.DictionaryObject {
	if b.acroForm == nil {
		b.acroForm = generic.NewDictionary()
		b.acroForm.Set("Fields", generic.ArrayObject{})
		b.acroForm.Set("SigFlags", generic.IntegerObject(0))
		b.root.Set("AcroForm", b.AddObject(b.acroForm))
	}
	return b.acroForm
}

// AddSignatureField registers an empty signature widget on the given page.
func (b *DocumentBuilder) AddSignatureField(name string, pageIndex int, rect *generic.Rectangle) (generic.Reference, error) {
	if pageIndex < 0 || pageIndex >= len(b.pageList) {
		return generic.Reference{}, fmt.Errorf("%w: %d with %d pages", ErrInvalidPageIndex, pageIndex, len(b.pageList))
	}

	field := generic.NewDictionary()
	field.Set("Type", generic.NameObject("Annot"))
	field.Set("Subtype", generic.NameObject("Widget"))
	field.Set("FT", generic.NameObject("Sig"))
	field.Set("T", generic.NewTextString(name))
	field.Set("Rect", rect.ToArray())
	field.Set("F", generic.IntegerObject(annotFlagPrint|annotFlagLocked))
	field.Set("P", b.pageList[pageIndex])
	fieldRef := b.AddObject(field)

	acroForm := b.EnsureAcroForm()
	acroForm.Set("Fields", append(acroForm.GetArray("Fields"), fieldRef))
	sigFlags, _ := acroForm.GetInt("SigFlags")
	acroForm.Set("SigFlags", generic.IntegerObject(sigFlags|sigFlagSignaturesExist|sigFlagAppendOnly))

	pageDict := b.objects[b.pageList[pageIndex].ObjectNumber].Object.(*generic.DictionaryObject)
	pageDict.Set("Annots", append(pageDict.GetArray("Annots"), fieldRef))

	return fieldRef, nil
}

// Bytes serializes the document.
func (b *DocumentBuilder) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo serializes the document to out.
func (b *DocumentBuilder) WriteTo(out io.Writer) error {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%%PDF-%s\n", b.Version)
	// Binary marker comment so transfer tools treat the file as binary.
	buf.Write([]byte{'%', 0xE2, 0xE3, 0xCF, 0xD3, '\n'})

	offsets := make(map[int]int64)
	for num := 1; num < b.nextObjNum; num++ {
		obj := b.objects[num]
		if obj == nil {
			continue
		}
		offsets[num] = int64(buf.Len())
		if err := obj.Write(&buf); err != nil {
			return err
		}
	}

	xrefOffset := int64(buf.Len())
	fmt.Fprintf(&buf, "xref\n0 %d\n", b.nextObjNum)
	fmt.Fprintf(&buf, "0000000000 65535 f \n")
	for num := 1; num < b.nextObjNum; num++ {
		fmt.Fprintf(&buf, "%010d %05d n \n", offsets[num], 0)
	}

	fileID := b.computeFileID()
	trailer := generic.NewDictionary()
	trailer.Set("Size", generic.IntegerObject(b.nextObjNum))
	trailer.Set("Root", b.rootRef)
	trailer.Set("Info", b.infoRef)
	trailer.Set("ID", generic.ArrayObject{
		generic.NewHexString(fileID),
		generic.NewHexString(fileID),
	})

	buf.WriteString("trailer\n")
	if err := trailer.Write(&buf); err != nil {
		return err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	_, err := out.Write(buf.Bytes())
	return err
}

// computeFileID derives a stable file ID from the document structure.
func (b *DocumentBuilder) computeFileID() []byte {
	h := md5.New()
	fmt.Fprintf(h, "%s/%d", b.Version, b.nextObjNum)
	for num := 1; num < b.nextObjNum; num++ {
		if obj := b.objects[num]; obj != nil {
			obj.Write(h)
		}
	}
	return h.Sum(nil)
}
