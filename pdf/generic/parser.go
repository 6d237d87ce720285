package generic

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	ErrInvalidObject     = errors.New("invalid PDF object")
	ErrInvalidDictionary = errors.New("invalid PDF dictionary")
	ErrInvalidArray      = errors.New("invalid PDF array")
	ErrInvalidString     = errors.New("invalid PDF string")
	ErrInvalidName       = errors.New("invalid PDF name")
	ErrInvalidNumber     = errors.New("invalid PDF number")
)

// Parser tokenizes and parses PDF objects from an in-memory byte slice.
type Parser struct {
	data []byte
	pos  int
}

// NewParser creates a parser positioned at the start of data.
func NewParser(data []byte) *Parser {
	return &Parser{data: data}
}

// Pos returns the current read position.
func (p *Parser) Pos() int { return p.pos }

// Seek repositions the parser.
func (p *Parser) Seek(pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(p.data) {
		pos = len(p.data)
	}
	p.pos = pos
}

func (p *Parser) readByte() (byte, error) {
	if p.pos >= len(p.data) {
		return 0, io.EOF
	}
	b := p.data[p.pos]
	p.pos++
	return b, nil
}

func (p *Parser) unreadByte() {
	if p.pos > 0 {
		p.pos--
	}
}

func (p *Parser) peekByte() (byte, error) {
	if p.pos >= len(p.data) {
		return 0, io.EOF
	}
	return p.data[p.pos], nil
}

// skipWhitespace advances past whitespace and comments.
func (p *Parser) skipWhitespace() {
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		if IsWhitespace(b) {
			p.pos++
			continue
		}
		if b == '%' {
			for p.pos < len(p.data) && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
			continue
		}
		return
	}
}

// readToken reads a run of regular characters.
func (p *Parser) readToken() string {
	p.skipWhitespace()
	start := p.pos
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		if IsWhitespace(b) || IsDelimiter(b) {
			break
		}
		p.pos++
	}
	return string(p.data[start:p.pos])
}

// ParseObject parses the next direct object.
func (p *Parser) ParseObject() (PdfObject, error) {
	p.skipWhitespace()

	b, err := p.peekByte()
	if err != nil {
		return nil, err
	}

	switch {
	case b == '(':
		return p.parseLiteralString()
	case b == '<':
		return p.parseHexOrDict()
	case b == '[':
		return p.parseArray()
	case b == '/':
		return p.parseName()
	case b == 't' || b == 'f' || b == 'n':
		return p.parseKeyword()
	case b == '-' || b == '+' || b == '.' || (b >= '0' && b <= '9'):
		return p.parseNumber()
	default:
		return nil, fmt.Errorf("%w: unexpected character %q", ErrInvalidObject, b)
	}
}

// ParseObjectOrReference parses the next object, resolving "n g R" token
// sequences into a Reference.
func (p *Parser) ParseObjectOrReference() (PdfObject, error) {
	p.skipWhitespace()
	start := p.pos

	b, err := p.peekByte()
	if err != nil {
		return nil, err
	}
	if b < '0' || b > '9' {
		return p.ParseObject()
	}

	first, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	objNum, ok := first.(IntegerObject)
	if !ok {
		return first, nil
	}

	p.skipWhitespace()
	if b, err := p.peekByte(); err != nil || b < '0' || b > '9' {
		return first, nil
	}

	second, err := p.parseNumber()
	if err != nil {
		p.Seek(start)
		return p.parseNumber()
	}
	genNum, ok := second.(IntegerObject)
	if !ok {
		p.Seek(start)
		return p.parseNumber()
	}

	p.skipWhitespace()
	if b, err := p.readByte(); err == nil && b == 'R' {
		return Reference{ObjectNumber: int(objNum), GenerationNumber: int(genNum)}, nil
	}

	p.Seek(start)
	return p.parseNumber()
}

// ParseIndirectObject parses an "n g obj ... endobj" definition, including
// stream content when the object is a stream.
func (p *Parser) ParseIndirectObject() (*IndirectObject, error) {
	objNum, err := p.parseObjectHeaderNumber("object number")
	if err != nil {
		return nil, err
	}
	genNum, err := p.parseObjectHeaderNumber("generation number")
	if err != nil {
		return nil, err
	}

	if token := p.readToken(); token != "obj" {
		return nil, fmt.Errorf("%w: expected 'obj', got %q", ErrInvalidObject, token)
	}

	obj, err := p.ParseObjectOrReference()
	if err != nil {
		return nil, err
	}

	p.skipWhitespace()

	if dict, ok := obj.(*DictionaryObject); ok {
		if b, err := p.peekByte(); err == nil && b == 's' {
			stream, err := p.parseStreamContent(dict)
			if err != nil {
				return nil, err
			}
			if stream != nil {
				obj = stream
			}
		}
	}

	p.skipWhitespace()
	// Tolerate a missing endobj, some writers omit it.
	p.readToken()

	return NewIndirectObject(int(objNum), int(genNum), obj), nil
}

func (p *Parser) parseObjectHeaderNumber(what string) (IntegerObject, error) {
	p.skipWhitespace()
	obj, err := p.parseNumber()
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s: %v", ErrInvalidObject, what, err)
	}
	num, ok := obj.(IntegerObject)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidObject, what)
	}
	return num, nil
}

// parseStreamContent consumes "stream ... endstream" following dict. It
// returns nil when the next token is not the stream keyword.
func (p *Parser) parseStreamContent(dict *DictionaryObject) (*StreamObject, error) {
	start := p.pos
	if token := p.readToken(); token != "stream" {
		p.Seek(start)
		return nil, nil
	}

	// The keyword is followed by CRLF or LF.
	if b, err := p.readByte(); err == nil && b == '\r' {
		if next, err := p.peekByte(); err == nil && next == '\n' {
			p.readByte()
		}
	} else if err == nil && b != '\n' {
		p.unreadByte()
	}

	length, ok := dict.GetInt("Length")
	if !ok || length < 0 || p.pos+int(length) > len(p.data) {
		return nil, fmt.Errorf("%w: stream has invalid /Length", ErrInvalidObject)
	}

	data := make([]byte, length)
	copy(data, p.data[p.pos:p.pos+int(length)])
	p.pos += int(length)

	p.skipWhitespace()
	if token := p.readToken(); token != "endstream" {
		return nil, fmt.Errorf("%w: missing endstream keyword", ErrInvalidObject)
	}

	return NewStream(dict, data), nil
}

func (p *Parser) parseLiteralString() (*StringObject, error) {
	if b, err := p.readByte(); err != nil || b != '(' {
		return nil, ErrInvalidString
	}

	var buf strings.Builder
	depth := 1

	for depth > 0 {
		b, err := p.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated string", ErrInvalidString)
		}

		switch b {
		case '(':
			depth++
			buf.WriteByte(b)
		case ')':
			depth--
			if depth > 0 {
				buf.WriteByte(b)
			}
		case '\\':
			if err := p.parseStringEscape(&buf); err != nil {
				return nil, err
			}
		default:
			buf.WriteByte(b)
		}
	}

	return &StringObject{Value: []byte(buf.String())}, nil
}

func (p *Parser) parseStringEscape(buf *strings.Builder) error {
	escaped, err := p.readByte()
	if err != nil {
		return fmt.Errorf("%w: unterminated escape", ErrInvalidString)
	}
	switch escaped {
	case 'n':
		buf.WriteByte('\n')
	case 'r':
		buf.WriteByte('\r')
	case 't':
		buf.WriteByte('\t')
	case 'b':
		buf.WriteByte('\b')
	case 'f':
		buf.WriteByte('\f')
	case '(', ')', '\\':
		buf.WriteByte(escaped)
	case '\r':
		// Line continuation, swallow an optional LF.
		if next, err := p.peekByte(); err == nil && next == '\n' {
			p.readByte()
		}
	case '\n':
		// Line continuation.
	default:
		if escaped >= '0' && escaped <= '7' {
			octal := []byte{escaped}
			for len(octal) < 3 {
				next, err := p.peekByte()
				if err != nil || next < '0' || next > '7' {
					break
				}
				p.readByte()
				octal = append(octal, next)
			}
			val, _ := strconv.ParseInt(string(octal), 8, 16)
			buf.WriteByte(byte(val))
		} else {
			buf.WriteByte(escaped)
		}
	}
	return nil
}

func (p *Parser) parseHexOrDict() (PdfObject, error) {
	if b, err := p.readByte(); err != nil || b != '<' {
		return nil, fmt.Errorf("%w: expected '<'", ErrInvalidObject)
	}

	if b, err := p.peekByte(); err == nil && b == '<' {
		p.readByte()
		return p.parseDictionary()
	}
	return p.parseHexString()
}

func (p *Parser) parseHexString() (*StringObject, error) {
	var digits []byte
	for {
		b, err := p.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated hex string", ErrInvalidString)
		}
		if b == '>' {
			break
		}
		if IsWhitespace(b) {
			continue
		}
		digits = append(digits, b)
	}

	if len(digits)%2 != 0 {
		digits = append(digits, '0')
	}
	data, err := hex.DecodeString(string(digits))
	if err != nil {
		return nil, fmt.Errorf("%w: bad hex digit: %v", ErrInvalidString, err)
	}
	return &StringObject{Value: data, IsHex: true}, nil
}

func (p *Parser) parseDictionary() (*DictionaryObject, error) {
	dict := NewDictionary()

	for {
		p.skipWhitespace()

		b, err := p.peekByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrInvalidDictionary)
		}
		if b == '>' {
			p.readByte()
			if next, err := p.readByte(); err != nil || next != '>' {
				return nil, fmt.Errorf("%w: expected '>>'", ErrInvalidDictionary)
			}
			return dict, nil
		}

		key, err := p.parseName()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid key: %v", ErrInvalidDictionary, err)
		}

		value, err := p.ParseObjectOrReference()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid value for key %q: %v", ErrInvalidDictionary, key, err)
		}

		dict.Set(string(key), value)
	}
}

func (p *Parser) parseArray() (ArrayObject, error) {
	if b, err := p.readByte(); err != nil || b != '[' {
		return nil, ErrInvalidArray
	}

	var arr ArrayObject
	for {
		p.skipWhitespace()

		b, err := p.peekByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated array", ErrInvalidArray)
		}
		if b == ']' {
			p.readByte()
			return arr, nil
		}

		obj, err := p.ParseObjectOrReference()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid element: %v", ErrInvalidArray, err)
		}
		arr = append(arr, obj)
	}
}

func (p *Parser) parseName() (NameObject, error) {
	if b, err := p.readByte(); err != nil || b != '/' {
		return "", ErrInvalidName
	}

	var buf strings.Builder
	for {
		b, err := p.readByte()
		if err != nil {
			break
		}
		if IsWhitespace(b) || IsDelimiter(b) {
			p.unreadByte()
			break
		}
		if b == '#' {
			h1, err1 := p.readByte()
			h2, err2 := p.readByte()
			if err1 != nil || err2 != nil {
				return "", fmt.Errorf("%w: truncated hex escape", ErrInvalidName)
			}
			val, err := strconv.ParseUint(string([]byte{h1, h2}), 16, 8)
			if err != nil {
				return "", fmt.Errorf("%w: bad hex escape", ErrInvalidName)
			}
			buf.WriteByte(byte(val))
			continue
		}
		buf.WriteByte(b)
	}

	return NameObject(buf.String()), nil
}

func (p *Parser) parseKeyword() (PdfObject, error) {
	switch token := p.readToken(); token {
	case "true":
		return BooleanObject(true), nil
	case "false":
		return BooleanObject(false), nil
	case "null":
		return NullObject{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown keyword %q", ErrInvalidObject, token)
	}
}

func (p *Parser) parseNumber() (PdfObject, error) {
	var buf strings.Builder
	hasDecimal := false

loop:
	for {
		b, err := p.readByte()
		if err != nil {
			break
		}
		switch {
		case b == '.':
			if hasDecimal {
				p.unreadByte()
				break loop
			}
			hasDecimal = true
			buf.WriteByte(b)
		case b == '-' || b == '+':
			if buf.Len() > 0 {
				p.unreadByte()
				break loop
			}
			buf.WriteByte(b)
		case b >= '0' && b <= '9':
			buf.WriteByte(b)
		default:
			p.unreadByte()
			break loop
		}
	}

	str := buf.String()
	switch str {
	case "", "-", "+", ".":
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, str)
	}

	if hasDecimal {
		val, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
		}
		return RealObject(val), nil
	}

	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	return IntegerObject(val), nil
}
