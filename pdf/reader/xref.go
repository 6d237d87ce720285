package reader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/quillsign/pdfsign/pdf/generic"
)

// XRefType classifies a cross-reference entry.
type XRefType int

const (
	// XRefTypeFree marks a freed object slot.
	XRefTypeFree XRefType = iota
	// XRefTypeStandard marks a top-level object stored at a byte offset.
	XRefTypeStandard
	// XRefTypeInObjStream marks an object stored inside an object stream.
	XRefTypeInObjStream
)

func (t XRefType) String() string {
	switch t {
	case XRefTypeFree:
		return "free"
	case XRefTypeStandard:
		return "standard"
	case XRefTypeInObjStream:
		return "in_obj_stream"
	default:
		return "unknown"
	}
}

// XRefEntry locates one object in the file.
type XRefEntry struct {
	Type         XRefType
	ObjectNumber int
	Generation   int

	// Offset is the byte offset for standard entries and the next free
	// object number for free entries.
	Offset int64

	// StreamObjectNumber and IndexInStream locate objects stored in an
	// object stream. Such objects always have generation 0.
	StreamObjectNumber int
	IndexInStream      int
}

// XRefSection is one cross-reference section together with its trailer.
type XRefSection struct {
	Entries []*XRefEntry
	Trailer *generic.TrailerDictionary
	// Prev is the byte offset of the previous section, or 0.
	Prev int64
}

// XRefCache accumulates entries across the /Prev chain. The newest
// definition of an object number wins.
type XRefCache struct {
	Entries  map[int]*XRefEntry
	Sections []*XRefSection
}

// NewXRefCache creates an empty cache.
func NewXRefCache() *XRefCache {
	return &XRefCache{Entries: make(map[int]*XRefEntry)}
}

// AddSection merges a section into the cache. Sections must be added
// newest first so that incremental updates shadow older definitions.
func (c *XRefCache) AddSection(section *XRefSection) {
	c.Sections = append(c.Sections, section)
	for _, entry := range section.Entries {
		if _, exists := c.Entries[entry.ObjectNumber]; !exists {
			c.Entries[entry.ObjectNumber] = entry
		}
	}
}

// Get returns the entry for an object number, or nil.
func (c *XRefCache) Get(objNum int) *XRefEntry {
	return c.Entries[objNum]
}

// parseXRefTable parses a classic "xref" table followed by its trailer.
func parseXRefTable(data []byte, offset int64) (*XRefSection, error) {
	r := bytes.NewReader(data[offset:])
	section := &XRefSection{}

	keyword, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(keyword) != "xref" {
		return nil, fmt.Errorf("expected xref keyword at offset %d, got %q", offset, keyword)
	}

	for {
		line, err := readLine(r)
		if err != nil {
			return nil, fmt.Errorf("truncated xref table: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "trailer" {
			break
		}

		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed xref subsection header %q", line)
		}
		startObj, err1 := strconv.Atoi(parts[0])
		count, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || count < 0 {
			return nil, fmt.Errorf("malformed xref subsection header %q", line)
		}

		for i := 0; i < count; i++ {
			raw := make([]byte, 20)
			if _, err := io.ReadFull(r, raw); err != nil {
				return nil, fmt.Errorf("truncated xref entry: %w", err)
			}
			fields := strings.Fields(string(raw))
			if len(fields) < 3 {
				return nil, fmt.Errorf("malformed xref entry %q", raw)
			}

			entryOffset, _ := strconv.ParseInt(fields[0], 10, 64)
			generation, _ := strconv.Atoi(fields[1])

			entry := &XRefEntry{
				ObjectNumber: startObj + i,
				Generation:   generation,
				Offset:       entryOffset,
			}
			if fields[2] == "n" {
				entry.Type = XRefTypeStandard
			} else {
				entry.Type = XRefTypeFree
			}
			section.Entries = append(section.Entries, entry)
		}
	}

	// The trailer dictionary follows the trailer keyword.
	consumed := int64(len(data)) - int64(offset) - int64(r.Len())
	parser := generic.NewParser(data)
	parser.Seek(int(offset + consumed))
	obj, err := parser.ParseObjectOrReference()
	if err != nil {
		return nil, fmt.Errorf("invalid trailer dictionary: %w", err)
	}
	dict, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, errors.New("trailer is not a dictionary")
	}
	section.Trailer = &generic.TrailerDictionary{DictionaryObject: dict}
	if prev, ok := section.Trailer.GetPrev(); ok {
		section.Prev = prev
	}

	return section, nil
}

// parseXRefStream parses a cross-reference stream (PDF 1.5+). The stream
// content must already be decoded.
func parseXRefStream(dict *generic.DictionaryObject, content []byte) (*XRefSection, error) {
	section := &XRefSection{
		Trailer: &generic.TrailerDictionary{DictionaryObject: dict},
	}
	if prev, ok := section.Trailer.GetPrev(); ok {
		section.Prev = prev
	}

	wArray := dict.GetArray("W")
	if len(wArray) != 3 {
		return nil, errors.New("xref stream missing /W array")
	}
	var w [3]int
	for i, v := range wArray {
		iv, ok := v.(generic.IntegerObject)
		if !ok || iv < 0 {
			return nil, errors.New("xref stream has invalid /W array")
		}
		w[i] = int(iv)
	}
	entrySize := w[0] + w[1] + w[2]
	if entrySize == 0 {
		return nil, errors.New("xref stream has zero-width entries")
	}

	var subsections [][2]int
	if index := dict.GetArray("Index"); index != nil {
		if len(index)%2 != 0 {
			return nil, errors.New("xref stream has odd /Index array")
		}
		for i := 0; i < len(index); i += 2 {
			start, ok1 := index[i].(generic.IntegerObject)
			count, ok2 := index[i+1].(generic.IntegerObject)
			if !ok1 || !ok2 {
				return nil, errors.New("xref stream has non-integer /Index array")
			}
			subsections = append(subsections, [2]int{int(start), int(count)})
		}
	} else {
		size, _ := dict.GetInt("Size")
		subsections = [][2]int{{0, int(size)}}
	}

	pos := 0
	for _, sub := range subsections {
		startObj, count := sub[0], sub[1]
		for i := 0; i < count; i++ {
			if pos+entrySize > len(content) {
				return section, nil
			}
			raw := content[pos : pos+entrySize]
			pos += entrySize

			f1 := readBigEndian(raw, 0, w[0])
			f2 := readBigEndian(raw, w[0], w[1])
			f3 := readBigEndian(raw, w[0]+w[1], w[2])

			// A zero-width type field defaults to type 1.
			entryType := f1
			if w[0] == 0 {
				entryType = 1
			}

			entry := &XRefEntry{ObjectNumber: startObj + i}
			switch entryType {
			case 0:
				entry.Type = XRefTypeFree
				entry.Offset = int64(f2)
				entry.Generation = f3
			case 1:
				entry.Type = XRefTypeStandard
				entry.Offset = int64(f2)
				entry.Generation = f3
			case 2:
				entry.Type = XRefTypeInObjStream
				entry.StreamObjectNumber = f2
				entry.IndexInStream = f3
			default:
				continue
			}
			section.Entries = append(section.Entries, entry)
		}
	}

	return section, nil
}

func readBigEndian(data []byte, offset, width int) int {
	var value int
	for i := 0; i < width; i++ {
		value = value<<8 | int(data[offset+i])
	}
	return value
}

// objectStream gives indexed access to the objects packed in a /Type
// /ObjStm stream. content must be the decoded stream data.
type objectStream struct {
	content []byte
	first   int
	// numbers[i] and offsets[i] describe the i-th packed object.
	numbers []int
	offsets []int
}

func parseObjectStream(dict *generic.DictionaryObject, content []byte) (*objectStream, error) {
	n, ok := dict.GetInt("N")
	if !ok || n < 0 {
		return nil, errors.New("object stream missing /N")
	}
	first, ok := dict.GetInt("First")
	if !ok || first < 0 || first > int64(len(content)) {
		return nil, errors.New("object stream missing /First")
	}

	os := &objectStream{content: content, first: int(first)}

	fields := strings.Fields(string(content[:first]))
	for i := 0; i+1 < len(fields) && len(os.numbers) < int(n); i += 2 {
		objNum, err1 := strconv.Atoi(fields[i])
		offset, err2 := strconv.Atoi(fields[i+1])
		if err1 != nil || err2 != nil {
			return nil, errors.New("object stream has malformed offset table")
		}
		os.numbers = append(os.numbers, objNum)
		os.offsets = append(os.offsets, offset)
	}

	return os, nil
}

// object parses the packed object at the given index.
func (os *objectStream) object(index int) (generic.PdfObject, error) {
	if index < 0 || index >= len(os.offsets) {
		return nil, fmt.Errorf("object stream index %d out of range [0, %d)", index, len(os.offsets))
	}
	start := os.first + os.offsets[index]
	if start > len(os.content) {
		return nil, errors.New("object stream offset past end of content")
	}

	parser := generic.NewParser(os.content)
	parser.Seek(start)
	return parser.ParseObjectOrReference()
}

func readLine(r *bytes.Reader) (string, error) {
	var line []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return string(line), nil
			}
			return "", err
		}
		if b == '\n' {
			return string(line), nil
		}
		if b == '\r' {
			if next, err := r.ReadByte(); err == nil && next != '\n' {
				r.UnreadByte()
			}
			return string(line), nil
		}
		line = append(line, b)
	}
}
