package generic

import (
	"bytes"
	"testing"
)

func TestParseKeywords(t *testing.T) {
	p := NewParser([]byte("null"))
	obj, err := p.ParseObject()
	if err != nil {
		t.Fatalf("ParseObject failed: %v", err)
	}
	if _, ok := obj.(NullObject); !ok {
		t.Errorf("Expected NullObject, got %T", obj)
	}

	for _, tt := range []struct {
		input    string
		expected bool
	}{
		{"true", true},
		{"false", false},
	} {
		p := NewParser([]byte(tt.input))
		obj, err := p.ParseObject()
		if err != nil {
			t.Fatalf("ParseObject(%q) failed: %v", tt.input, err)
		}
		b, ok := obj.(BooleanObject)
		if !ok {
			t.Errorf("Expected BooleanObject for %q, got %T", tt.input, obj)
			continue
		}
		if bool(b) != tt.expected {
			t.Errorf("Expected %v, got %v", tt.expected, bool(b))
		}
	}
}

func TestParseNumbers(t *testing.T) {
	intTests := []struct {
		input    string
		expected int64
	}{
		{"0", 0},
		{"42", 42},
		{"-123", -123},
		{"+456", 456},
		{"999999", 999999},
	}

	for _, tt := range intTests {
		p := NewParser([]byte(tt.input))
		obj, err := p.ParseObject()
		if err != nil {
			t.Fatalf("ParseObject(%q) failed: %v", tt.input, err)
		}
		i, ok := obj.(IntegerObject)
		if !ok {
			t.Errorf("Expected IntegerObject for %q, got %T", tt.input, obj)
			continue
		}
		if int64(i) != tt.expected {
			t.Errorf("%q: expected %d, got %d", tt.input, tt.expected, int64(i))
		}
	}

	realTests := []struct {
		input    string
		expected float64
	}{
		{"3.14", 3.14},
		{"-0.5", -0.5},
		{".25", 0.25},
	}

	for _, tt := range realTests {
		p := NewParser([]byte(tt.input))
		obj, err := p.ParseObject()
		if err != nil {
			t.Fatalf("ParseObject(%q) failed: %v", tt.input, err)
		}
		r, ok := obj.(RealObject)
		if !ok {
			t.Errorf("Expected RealObject for %q, got %T", tt.input, obj)
			continue
		}
		if float64(r) != tt.expected {
			t.Errorf("%q: expected %g, got %g", tt.input, tt.expected, float64(r))
		}
	}
}

func TestParseLiteralString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"(hello)", "hello"},
		{"(nested (parens) work)", "nested (parens) work"},
		{`(line\nbreak)`, "line\nbreak"},
		{`(escaped \(paren\))`, "escaped (paren)"},
		{`(octal \101)`, "octal A"},
		{"()", ""},
	}

	for _, tt := range tests {
		p := NewParser([]byte(tt.input))
		obj, err := p.ParseObject()
		if err != nil {
			t.Fatalf("ParseObject(%q) failed: %v", tt.input, err)
		}
		s, ok := obj.(*StringObject)
		if !ok {
			t.Errorf("Expected StringObject for %q, got %T", tt.input, obj)
			continue
		}
		if string(s.Value) != tt.expected {
			t.Errorf("%q: expected %q, got %q", tt.input, tt.expected, s.Value)
		}
	}
}

func TestParseHexString(t *testing.T) {
	tests := []struct {
		input    string
		expected []byte
	}{
		{"<48656C6C6F>", []byte("Hello")},
		{"<48 65 6C 6C 6F>", []byte("Hello")},
		{"<486>", []byte{0x48, 0x60}},
		{"<>", nil},
	}

	for _, tt := range tests {
		p := NewParser([]byte(tt.input))
		obj, err := p.ParseObject()
		if err != nil {
			t.Fatalf("ParseObject(%q) failed: %v", tt.input, err)
		}
		s, ok := obj.(*StringObject)
		if !ok {
			t.Errorf("Expected StringObject for %q, got %T", tt.input, obj)
			continue
		}
		if !s.IsHex {
			t.Errorf("%q: expected hex string", tt.input)
		}
		if !bytes.Equal(s.Value, tt.expected) {
			t.Errorf("%q: expected %x, got %x", tt.input, tt.expected, s.Value)
		}
	}
}

func TestParseName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/Type", "Type"},
		{"/ByteRange", "ByteRange"},
		{"/A#42", "AB"},
		{"/", ""},
	}

	for _, tt := range tests {
		p := NewParser([]byte(tt.input))
		obj, err := p.ParseObject()
		if err != nil {
			t.Fatalf("ParseObject(%q) failed: %v", tt.input, err)
		}
		n, ok := obj.(NameObject)
		if !ok {
			t.Errorf("Expected NameObject for %q, got %T", tt.input, obj)
			continue
		}
		if string(n) != tt.expected {
			t.Errorf("%q: expected %q, got %q", tt.input, tt.expected, string(n))
		}
	}
}

func TestParseArray(t *testing.T) {
	p := NewParser([]byte("[0 123456 5000 1000]"))
	obj, err := p.ParseObject()
	if err != nil {
		t.Fatalf("ParseObject failed: %v", err)
	}

	arr, ok := obj.(ArrayObject)
	if !ok {
		t.Fatalf("Expected ArrayObject, got %T", obj)
	}
	if len(arr) != 4 {
		t.Fatalf("Expected 4 elements, got %d", len(arr))
	}
	if v, ok := arr[1].(IntegerObject); !ok || int64(v) != 123456 {
		t.Errorf("Expected 123456 at index 1, got %v", arr[1])
	}
}

func TestParseDictionary(t *testing.T) {
	input := "<< /Type /Sig /Filter /Adobe.PPKLite /SubFilter /adbe.pkcs7.detached /ByteRange [0 100 200 50] >>"
	p := NewParser([]byte(input))
	obj, err := p.ParseObject()
	if err != nil {
		t.Fatalf("ParseObject failed: %v", err)
	}

	dict, ok := obj.(*DictionaryObject)
	if !ok {
		t.Fatalf("Expected DictionaryObject, got %T", obj)
	}
	if dict.GetName("Type") != "Sig" {
		t.Errorf("Expected /Type /Sig, got %q", dict.GetName("Type"))
	}
	if dict.GetName("SubFilter") != "adbe.pkcs7.detached" {
		t.Errorf("Unexpected SubFilter: %q", dict.GetName("SubFilter"))
	}
	if arr := dict.GetArray("ByteRange"); len(arr) != 4 {
		t.Errorf("Expected 4-element ByteRange, got %d", len(arr))
	}
}

func TestParseReference(t *testing.T) {
	p := NewParser([]byte("<< /Root 1 0 R /Size 10 >>"))
	obj, err := p.ParseObject()
	if err != nil {
		t.Fatalf("ParseObject failed: %v", err)
	}

	dict := obj.(*DictionaryObject)
	ref, ok := dict.Get("Root").(Reference)
	if !ok {
		t.Fatalf("Expected Reference for /Root, got %T", dict.Get("Root"))
	}
	if ref.ObjectNumber != 1 || ref.GenerationNumber != 0 {
		t.Errorf("Expected 1 0 R, got %v", ref)
	}
	if size, _ := dict.GetInt("Size"); size != 10 {
		t.Errorf("Expected Size 10, got %d", size)
	}
}

func TestParseTwoIntegersNotReference(t *testing.T) {
	// Two bare integers in an array must not collapse into a reference.
	p := NewParser([]byte("[1 2 3]"))
	obj, err := p.ParseObject()
	if err != nil {
		t.Fatalf("ParseObject failed: %v", err)
	}
	arr := obj.(ArrayObject)
	if len(arr) != 3 {
		t.Fatalf("Expected 3 elements, got %d", len(arr))
	}
	for i, want := range []int64{1, 2, 3} {
		if v, ok := arr[i].(IntegerObject); !ok || int64(v) != want {
			t.Errorf("Element %d: expected %d, got %v", i, want, arr[i])
		}
	}
}

func TestParseIndirectObjectWithStream(t *testing.T) {
	input := "7 0 obj\n<< /Length 5 >>\nstream\nhello\nendstream\nendobj\n"
	p := NewParser([]byte(input))
	obj, err := p.ParseIndirectObject()
	if err != nil {
		t.Fatalf("ParseIndirectObject failed: %v", err)
	}
	if obj.ObjectNumber != 7 || obj.GenerationNumber != 0 {
		t.Errorf("Expected 7 0 obj, got %d %d", obj.ObjectNumber, obj.GenerationNumber)
	}
	stream, ok := obj.Object.(*StreamObject)
	if !ok {
		t.Fatalf("Expected StreamObject, got %T", obj.Object)
	}
	if string(stream.Data) != "hello" {
		t.Errorf("Expected stream data 'hello', got %q", stream.Data)
	}
}

func TestParseSkipsComments(t *testing.T) {
	p := NewParser([]byte("% a comment\n42"))
	obj, err := p.ParseObject()
	if err != nil {
		t.Fatalf("ParseObject failed: %v", err)
	}
	if v, ok := obj.(IntegerObject); !ok || int64(v) != 42 {
		t.Errorf("Expected 42, got %v", obj)
	}
}

func TestParseInvalidInput(t *testing.T) {
	for _, input := range []string{"", "}", "(never closed", "<< /Key", "<4Z>"} {
		p := NewParser([]byte(input))
		if _, err := p.ParseObject(); err == nil {
			t.Errorf("ParseObject(%q): expected error", input)
		}
	}
}
