// Package reader parses PDF documents: the file header, the
// cross-reference chain across incremental updates, the object graph,
// and the signature fields and embedded signatures of the document.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/quillsign/pdfsign/pdf/filters"
	"github.com/quillsign/pdfsign/pdf/generic"
)

var (
	// ErrEmptyInput is returned for zero-length input.
	ErrEmptyInput = errors.New("empty input")
	// ErrTooSmall is returned when the input is shorter than the smallest
	// possible header.
	ErrTooSmall = errors.New("input too small to be a PDF")
	// ErrInvalidHeader is returned when no %PDF-x.y marker is found.
	ErrInvalidHeader = errors.New("invalid PDF header")
	// ErrUnsupportedVersion is returned for versions outside 1.0-1.7 and 2.0.
	ErrUnsupportedVersion = errors.New("unsupported PDF version")
	// ErrMissingTrailer is returned when no startxref anchor is found near
	// the end of the file.
	ErrMissingTrailer = errors.New("missing trailer")
	// ErrObjectNotFound is returned when a referenced object cannot be
	// resolved.
	ErrObjectNotFound = errors.New("object not found")
)

// minFileSize is the shortest input worth parsing: "%PDF-x.y" is 8 bytes.
const minFileSize = 8

// headerScanLimit bounds how far into the file the header marker may sit.
const headerScanLimit = 1024

var headerPattern = regexp.MustCompile(`%PDF-(\d+\.\d+)`)

var supportedVersions = map[string]bool{
	"1.0": true, "1.1": true, "1.2": true, "1.3": true,
	"1.4": true, "1.5": true, "1.6": true, "1.7": true,
	"2.0": true,
}

type objectKey struct {
	num int
	gen int
}

// PdfFileReader gives structured access to a parsed PDF document.
type PdfFileReader struct {
	data []byte

	// Version is the header version, e.g. "1.7".
	Version string
	// Trailer is the newest trailer dictionary.
	Trailer *generic.TrailerDictionary
	// Trailers holds every trailer along the /Prev chain, newest first.
	Trailers []*generic.TrailerDictionary
	// XRef merges all cross-reference sections.
	XRef *XRefCache
	// XRefOffsets holds the byte offset of each section, newest first.
	XRefOffsets []int64

	// Root is the document catalog, Info the info dictionary (may be nil).
	Root *generic.DictionaryObject
	Info *generic.DictionaryObject

	cache map[objectKey]generic.PdfObject
	pages []generic.Reference
}

// NewPdfFileReader parses a PDF from an in-memory buffer.
func NewPdfFileReader(data []byte) (*PdfFileReader, error) {
	r := &PdfFileReader{
		data:  data,
		XRef:  NewXRefCache(),
		cache: make(map[objectKey]generic.PdfObject),
	}

	version, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	r.Version = version

	if err := r.loadXRefChain(); err != nil {
		return nil, err
	}
	if err := r.loadCatalog(); err != nil {
		return nil, err
	}
	if err := r.loadPages(); err != nil {
		return nil, err
	}

	return r, nil
}

// NewPdfFileReaderFrom reads all of rd and parses it.
func NewPdfFileReaderFrom(rd io.Reader) (*PdfFileReader, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	return NewPdfFileReader(data)
}

// Data returns the raw bytes backing the reader.
func (r *PdfFileReader) Data() []byte { return r.data }

// ParseHeader validates the %PDF-x.y marker and returns the version.
func ParseHeader(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyInput
	}
	if len(data) < minFileSize {
		return "", fmt.Errorf("%w: %d bytes", ErrTooSmall, len(data))
	}

	window := data
	if len(window) > headerScanLimit {
		window = window[:headerScanLimit]
	}
	match := headerPattern.FindSubmatch(window)
	if match == nil {
		return "", ErrInvalidHeader
	}

	version := string(match[1])
	if !supportedVersions[version] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedVersion, version)
	}
	return version, nil
}

// loadXRefChain locates the newest startxref anchor and follows the /Prev
// chain through every incremental update.
func (r *PdfFileReader) loadXRefChain() error {
	offset, err := FindStartXRef(r.data, DefaultTrailerScanWindow)
	if err != nil {
		return err
	}

	seen := make(map[int64]bool)
	for offset > 0 {
		if seen[offset] {
			return fmt.Errorf("%w: cyclic xref chain", ErrMissingTrailer)
		}
		seen[offset] = true
		if offset >= int64(len(r.data)) {
			return fmt.Errorf("%w: xref offset %d past end of file", ErrMissingTrailer, offset)
		}

		section, err := r.parseXRefSection(offset)
		if err != nil {
			return err
		}

		r.XRef.AddSection(section)
		r.XRefOffsets = append(r.XRefOffsets, offset)
		r.Trailers = append(r.Trailers, section.Trailer)
		if r.Trailer == nil {
			r.Trailer = section.Trailer
		}

		offset = section.Prev
	}

	if r.Trailer == nil {
		return ErrMissingTrailer
	}
	return nil
}

// parseXRefSection parses either a classic table or an xref stream at the
// given offset.
func (r *PdfFileReader) parseXRefSection(offset int64) (*XRefSection, error) {
	rest := bytes.TrimLeft(r.data[offset:], " \t\r\n")
	if bytes.HasPrefix(rest, []byte("xref")) {
		return parseXRefTable(r.data, offset)
	}

	// Otherwise the section must be an indirect xref stream object.
	parser := generic.NewParser(r.data)
	parser.Seek(int(offset))
	obj, err := parser.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("%w: no xref section at offset %d: %v", ErrMissingTrailer, offset, err)
	}
	stream, ok := obj.Object.(*generic.StreamObject)
	if !ok || stream.Dictionary.GetName("Type") != "XRef" {
		return nil, fmt.Errorf("%w: object at offset %d is not an xref stream", ErrMissingTrailer, offset)
	}

	content, err := filters.DecodeStream(stream)
	if err != nil {
		return nil, fmt.Errorf("decoding xref stream: %w", err)
	}
	return parseXRefStream(stream.Dictionary, content)
}

func (r *PdfFileReader) loadCatalog() error {
	rootRef := r.Trailer.GetRoot()
	if rootRef == nil {
		return fmt.Errorf("%w: trailer has no /Root", ErrMissingTrailer)
	}
	root, err := r.GetObject(*rootRef)
	if err != nil {
		return fmt.Errorf("resolving document catalog: %w", err)
	}
	rootDict, ok := root.(*generic.DictionaryObject)
	if !ok {
		return errors.New("document catalog is not a dictionary")
	}
	r.Root = rootDict

	if infoRef := r.Trailer.GetInfo(); infoRef != nil {
		if info, err := r.GetObject(*infoRef); err == nil {
			if infoDict, ok := info.(*generic.DictionaryObject); ok {
				r.Info = infoDict
			}
		}
	}
	return nil
}

// GetObject resolves a reference to its object, caching the result.
func (r *PdfFileReader) GetObject(ref generic.Reference) (generic.PdfObject, error) {
	key := objectKey{num: ref.ObjectNumber, gen: ref.GenerationNumber}
	if obj, ok := r.cache[key]; ok {
		return obj, nil
	}

	entry := r.XRef.Get(ref.ObjectNumber)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
	}

	var obj generic.PdfObject
	switch entry.Type {
	case XRefTypeFree:
		obj = generic.NullObject{}

	case XRefTypeStandard:
		if entry.Offset < 0 || entry.Offset >= int64(len(r.data)) {
			return nil, fmt.Errorf("%w: %s has offset %d outside file", ErrObjectNotFound, ref, entry.Offset)
		}
		parser := generic.NewParser(r.data)
		parser.Seek(int(entry.Offset))
		indirect, err := parser.ParseIndirectObject()
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", ref, err)
		}
		if indirect.ObjectNumber != ref.ObjectNumber {
			return nil, fmt.Errorf("%w: object at offset %d is %d, expected %d",
				ErrObjectNotFound, entry.Offset, indirect.ObjectNumber, ref.ObjectNumber)
		}
		obj = indirect.Object

	case XRefTypeInObjStream:
		packed, err := r.objectFromStream(entry)
		if err != nil {
			return nil, err
		}
		obj = packed

	default:
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
	}

	// Decode stream content eagerly so downstream consumers see plain data.
	if stream, ok := obj.(*generic.StreamObject); ok {
		if decoded, err := filters.DecodeStream(stream); err == nil {
			stream.Decoded = decoded
		}
	}

	r.cache[key] = obj
	return obj, nil
}

func (r *PdfFileReader) objectFromStream(entry *XRefEntry) (generic.PdfObject, error) {
	containerRef := generic.NewReference(entry.StreamObjectNumber, 0)
	container, err := r.GetObject(containerRef)
	if err != nil {
		return nil, fmt.Errorf("resolving object stream %s: %w", containerRef, err)
	}
	stream, ok := container.(*generic.StreamObject)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an object stream", ErrObjectNotFound, containerRef)
	}

	os, err := parseObjectStream(stream.Dictionary, stream.DecodedData())
	if err != nil {
		return nil, err
	}
	return os.object(entry.IndexInStream)
}

// Resolve follows obj through at most one level of indirection.
func (r *PdfFileReader) Resolve(obj generic.PdfObject) generic.PdfObject {
	if ref, ok := obj.(generic.Reference); ok {
		resolved, err := r.GetObject(ref)
		if err != nil {
			return generic.NullObject{}
		}
		return resolved
	}
	return obj
}

// ResolveDict resolves obj and asserts it is a dictionary.
func (r *PdfFileReader) ResolveDict(obj generic.PdfObject) *generic.DictionaryObject {
	if dict, ok := r.Resolve(obj).(*generic.DictionaryObject); ok {
		return dict
	}
	return nil
}

// loadPages flattens the page tree into an ordered list of page refs.
func (r *PdfFileReader) loadPages() error {
	pagesObj := r.Root.Get("Pages")
	if pagesObj == nil {
		return nil
	}

	rootRef, ok := pagesObj.(generic.Reference)
	if !ok {
		return nil
	}

	seen := make(map[objectKey]bool)
	return r.walkPageTree(rootRef, seen)
}

func (r *PdfFileReader) walkPageTree(ref generic.Reference, seen map[objectKey]bool) error {
	key := objectKey{num: ref.ObjectNumber, gen: ref.GenerationNumber}
	if seen[key] {
		return errors.New("cyclic page tree")
	}
	seen[key] = true

	node := r.ResolveDict(ref)
	if node == nil {
		return nil
	}

	switch node.GetName("Type") {
	case "Page":
		r.pages = append(r.pages, ref)
	case "Pages":
		for _, kid := range node.GetArray("Kids") {
			kidRef, ok := kid.(generic.Reference)
			if !ok {
				continue
			}
			if err := r.walkPageTree(kidRef, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// PageCount returns the number of pages.
func (r *PdfFileReader) PageCount() int { return len(r.pages) }

// Page returns the reference and dictionary of the zero-based page index.
func (r *PdfFileReader) Page(index int) (generic.Reference, *generic.DictionaryObject, error) {
	if index < 0 || index >= len(r.pages) {
		return generic.Reference{}, nil, fmt.Errorf("page index %d out of range [0, %d)", index, len(r.pages))
	}
	ref := r.pages[index]
	return ref, r.ResolveDict(ref), nil
}

// AcroForm returns the interactive form dictionary, or nil.
func (r *PdfFileReader) AcroForm() *generic.DictionaryObject {
	if r.Root == nil {
		return nil
	}
	return r.ResolveDict(r.Root.Get("AcroForm"))
}

// DocumentInfo is the subset of the info dictionary the engine surfaces.
type DocumentInfo struct {
	Title    string
	Author   string
	Subject  string
	Creator  string
	Producer string
}

// GetDocumentInfo extracts the standard info dictionary entries.
func (r *PdfFileReader) GetDocumentInfo() DocumentInfo {
	var info DocumentInfo
	if r.Info == nil {
		return info
	}
	get := func(key string) string {
		if s := r.Info.GetString(key); s != nil {
			return s.Text()
		}
		return ""
	}
	info.Title = get("Title")
	info.Author = get("Author")
	info.Subject = get("Subject")
	info.Creator = get("Creator")
	info.Producer = get("Producer")
	return info
}
