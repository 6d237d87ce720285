package generic

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func writeToString(t *testing.T, obj PdfObject) string {
	t.Helper()
	var buf bytes.Buffer
	if err := obj.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return buf.String()
}

func TestWriteScalars(t *testing.T) {
	tests := []struct {
		obj      PdfObject
		expected string
	}{
		{NullObject{}, "null"},
		{BooleanObject(true), "true"},
		{BooleanObject(false), "false"},
		{IntegerObject(42), "42"},
		{IntegerObject(-7), "-7"},
		{RealObject(3.5), "3.5"},
		{NameObject("Type"), "/Type"},
		{NameObject("Name With Space"), "/Name#20With#20Space"},
		{Reference{ObjectNumber: 12, GenerationNumber: 0}, "12 0 R"},
	}

	for _, tt := range tests {
		if got := writeToString(t, tt.obj); got != tt.expected {
			t.Errorf("Write(%#v): expected %q, got %q", tt.obj, tt.expected, got)
		}
	}
}

func TestWriteStrings(t *testing.T) {
	if got := writeToString(t, NewLiteralString("hello")); got != "(hello)" {
		t.Errorf("Expected (hello), got %q", got)
	}
	if got := writeToString(t, NewLiteralString("a(b)c")); got != `(a\(b\)c)` {
		t.Errorf("Unexpected escaping: %q", got)
	}
	if got := writeToString(t, NewHexString([]byte{0xDE, 0xAD})); got != "<dead>" {
		t.Errorf("Expected <dead>, got %q", got)
	}
}

func TestWriteArrayAndDictionary(t *testing.T) {
	arr := NewArray(IntegerObject(0), IntegerObject(100), IntegerObject(200), IntegerObject(50))
	if got := writeToString(t, arr); got != "[0 100 200 50]" {
		t.Errorf("Unexpected array output: %q", got)
	}

	dict := NewDictionary()
	dict.Set("Type", NameObject("Sig"))
	dict.Set("Filter", NameObject("Adobe.PPKLite"))
	got := writeToString(t, dict)
	if !strings.Contains(got, "/Type /Sig") || !strings.Contains(got, "/Filter /Adobe.PPKLite") {
		t.Errorf("Unexpected dictionary output: %q", got)
	}
	if !strings.HasPrefix(got, "<<") || !strings.HasSuffix(got, ">>") {
		t.Errorf("Dictionary not delimited: %q", got)
	}
}

func TestDictionaryOrderPreserved(t *testing.T) {
	dict := NewDictionary()
	for _, key := range []string{"Zebra", "Apple", "Mango"} {
		dict.Set(key, IntegerObject(1))
	}
	keys := dict.Keys()
	if len(keys) != 3 || keys[0] != "Zebra" || keys[1] != "Apple" || keys[2] != "Mango" {
		t.Errorf("Insertion order not preserved: %v", keys)
	}

	dict.Delete("Apple")
	keys = dict.Keys()
	if len(keys) != 2 || keys[0] != "Zebra" || keys[1] != "Mango" {
		t.Errorf("Delete broke ordering: %v", keys)
	}
}

func TestDictionaryClone(t *testing.T) {
	dict := NewDictionary()
	dict.Set("Contents", NewHexString([]byte{1, 2, 3}))

	clone := dict.Clone().(*DictionaryObject)
	clone.GetString("Contents").Value[0] = 0xFF

	if dict.GetString("Contents").Value[0] != 1 {
		t.Error("Clone shares backing storage with original")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	dict := NewDictionary()
	stream := NewStream(dict, []byte("payload"))

	out := writeToString(t, stream)
	if !strings.Contains(out, "/Length 7") {
		t.Errorf("Stream missing /Length: %q", out)
	}
	if !strings.Contains(out, "stream\npayload\nendstream") {
		t.Errorf("Unexpected stream body: %q", out)
	}
}

func TestTextStringEncoding(t *testing.T) {
	ascii := NewTextString("plain")
	if !bytes.Equal(ascii.Value, []byte("plain")) {
		t.Errorf("ASCII text should stay raw, got %x", ascii.Value)
	}

	unicodeStr := NewTextString("héllo ✓")
	if len(unicodeStr.Value) < 2 || unicodeStr.Value[0] != 0xFE || unicodeStr.Value[1] != 0xFF {
		t.Fatalf("Unicode text should carry UTF-16BE BOM, got %x", unicodeStr.Value)
	}
	if got := unicodeStr.Text(); got != "héllo ✓" {
		t.Errorf("Round trip failed: %q", got)
	}
}

func TestRectangle(t *testing.T) {
	rect, err := NewRectangle(NewArray(IntegerObject(10), IntegerObject(20), IntegerObject(110), RealObject(70.5)))
	if err != nil {
		t.Fatalf("NewRectangle failed: %v", err)
	}
	if rect.Width() != 100 {
		t.Errorf("Expected width 100, got %g", rect.Width())
	}
	if rect.Height() != 50.5 {
		t.Errorf("Expected height 50.5, got %g", rect.Height())
	}

	if _, err := NewRectangle(NewArray(IntegerObject(1))); err == nil {
		t.Error("Expected error for short array")
	}
}

func TestPdfDateRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	formatted := FormatDate(ts)
	if formatted != "D:20260314150926Z00'00'" {
		t.Errorf("Unexpected format: %q", formatted)
	}

	parsed, err := ParseDate(formatted)
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("Round trip mismatch: got %v, want %v", parsed, ts)
	}
}

func TestParseDatePartial(t *testing.T) {
	parsed, err := ParseDate("D:2026")
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !parsed.Equal(want) {
		t.Errorf("Expected %v, got %v", want, parsed)
	}

	if _, err := ParseDate("D:"); err == nil {
		t.Error("Expected error for empty date")
	}
}

func TestParseDateWithOffset(t *testing.T) {
	parsed, err := ParseDate("D:20260101120000+05'30'")
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	_, offset := parsed.Zone()
	if offset != 5*3600+30*60 {
		t.Errorf("Expected +05:30 offset, got %d", offset)
	}
}
