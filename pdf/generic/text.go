package generic

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
)

var (
	utf16Encoder = unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
	utf16Decoder = unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
)

// NewTextString creates a PDF text string. Values that fit in Latin-1 are
// stored as plain bytes, anything else is encoded as UTF-16BE with a BOM.
func NewTextString(s string) *StringObject {
	for _, r := range s {
		if r > 0xFF {
			encoded, err := utf16Encoder.Bytes([]byte(s))
			if err != nil {
				// Encoding to UTF-16 cannot fail for valid UTF-8 input,
				// but fall back to raw bytes rather than dropping the value.
				return &StringObject{Value: []byte(s)}
			}
			return &StringObject{Value: encoded}
		}
	}
	return &StringObject{Value: []byte(s)}
}

// Text decodes the string value as a PDF text string, honoring a UTF-16BE
// byte order mark when present.
func (s *StringObject) Text() string {
	if len(s.Value) >= 2 && s.Value[0] == 0xFE && s.Value[1] == 0xFF {
		decoded, err := utf16Decoder.Bytes(s.Value)
		if err == nil {
			return string(decoded)
		}
	}
	return string(s.Value)
}

// FormatDate renders t in the PDF date format D:YYYYMMDDHHmmSS with a
// timezone suffix.
func FormatDate(t time.Time) string {
	_, offset := t.Zone()
	var zone string
	switch {
	case offset == 0:
		zone = "Z00'00'"
	case offset > 0:
		zone = fmt.Sprintf("+%02d'%02d'", offset/3600, (offset%3600)/60)
	default:
		zone = fmt.Sprintf("-%02d'%02d'", -offset/3600, (-offset%3600)/60)
	}
	return fmt.Sprintf("D:%04d%02d%02d%02d%02d%02d%s",
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), zone)
}

// ParseDate parses a PDF date string. Fields beyond the year are optional
// and default to their lowest value, per the spec for the D: format.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimPrefix(s, "D:")
	if len(s) < 4 {
		return time.Time{}, fmt.Errorf("pdf date too short: %q", s)
	}

	get := func(start, width, def int) int {
		if len(s) < start+width {
			return def
		}
		var v int
		if _, err := fmt.Sscanf(s[start:start+width], "%d", &v); err != nil {
			return def
		}
		return v
	}

	year := get(0, 4, 0)
	if year == 0 {
		return time.Time{}, fmt.Errorf("pdf date has no year: %q", s)
	}
	month := get(4, 2, 1)
	day := get(6, 2, 1)
	hour := get(8, 2, 0)
	minute := get(10, 2, 0)
	second := get(12, 2, 0)

	loc := time.UTC
	if len(s) > 14 {
		tz := s[14:]
		switch tz[0] {
		case '+', '-':
			tz = strings.ReplaceAll(tz, "'", "")
			if len(tz) >= 3 {
				var oh, om int
				fmt.Sscanf(tz[1:3], "%d", &oh)
				if len(tz) >= 5 {
					fmt.Sscanf(tz[3:5], "%d", &om)
				}
				offset := oh*3600 + om*60
				if tz[0] == '-' {
					offset = -offset
				}
				loc = time.FixedZone("", offset)
			}
		}
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), nil
}

// IsWhitespace reports whether b is PDF whitespace.
func IsWhitespace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\x00', '\x0c':
		return true
	}
	return false
}

// IsDelimiter reports whether b is a PDF delimiter character.
func IsDelimiter(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// TrimPdfWhitespace trims PDF whitespace from both ends of data.
func TrimPdfWhitespace(data []byte) []byte {
	return bytes.TrimFunc(data, func(r rune) bool {
		return r < 256 && IsWhitespace(byte(r))
	})
}
