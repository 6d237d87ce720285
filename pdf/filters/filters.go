// Package filters implements the PDF stream filters needed to decode
// cross-reference streams and object streams: FlateDecode with PNG
// predictors, ASCIIHexDecode and RunLengthDecode.
package filters

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/quillsign/pdfsign/pdf/generic"
)

var (
	ErrUnsupportedFilter = errors.New("unsupported stream filter")
	ErrInvalidData       = errors.New("invalid filtered data")
)

// Filter decodes and encodes stream content for one PDF filter name.
type Filter interface {
	Name() string
	Decode(data []byte, parms *generic.DictionaryObject) ([]byte, error)
	Encode(data []byte, parms *generic.DictionaryObject) ([]byte, error)
}

// FlateDecode implements the zlib-based FlateDecode filter.
type FlateDecode struct{}

func (FlateDecode) Name() string { return "FlateDecode" }

func (FlateDecode) Decode(data []byte, parms *generic.DictionaryObject) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	defer r.Close()

	decoded, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	return applyPredictor(decoded, parms)
}

func (FlateDecode) Encode(data []byte, parms *generic.DictionaryObject) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// applyPredictor undoes the PNG row predictors declared in DecodeParms.
func applyPredictor(data []byte, parms *generic.DictionaryObject) ([]byte, error) {
	if parms == nil {
		return data, nil
	}
	predictor, ok := parms.GetInt("Predictor")
	if !ok || predictor <= 1 {
		return data, nil
	}
	if predictor < 10 {
		return nil, fmt.Errorf("%w: TIFF predictor %d not supported", ErrUnsupportedFilter, predictor)
	}

	columns := int64(1)
	if v, ok := parms.GetInt("Columns"); ok {
		columns = v
	}
	colors := int64(1)
	if v, ok := parms.GetInt("Colors"); ok {
		colors = v
	}
	bpc := int64(8)
	if v, ok := parms.GetInt("BitsPerComponent"); ok {
		bpc = v
	}

	bytesPerPixel := int(colors*bpc+7) / 8
	rowLength := int(columns*colors*bpc+7) / 8
	return decodePNGRows(data, rowLength, bytesPerPixel)
}

func decodePNGRows(data []byte, rowLength, bytesPerPixel int) ([]byte, error) {
	if rowLength <= 0 {
		return nil, fmt.Errorf("%w: non-positive row length", ErrInvalidData)
	}
	stride := rowLength + 1
	if len(data)%stride != 0 {
		return nil, fmt.Errorf("%w: data length %d not a multiple of row stride %d", ErrInvalidData, len(data), stride)
	}

	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLength)
	prev := make([]byte, rowLength)

	for r := 0; r < rows; r++ {
		tag := data[r*stride]
		row := make([]byte, rowLength)
		copy(row, data[r*stride+1:(r+1)*stride])

		switch tag {
		case 0: // None
		case 1: // Sub
			for i := bytesPerPixel; i < rowLength; i++ {
				row[i] += row[i-bytesPerPixel]
			}
		case 2: // Up
			for i := 0; i < rowLength; i++ {
				row[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLength; i++ {
				var left byte
				if i >= bytesPerPixel {
					left = row[i-bytesPerPixel]
				}
				row[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLength; i++ {
				var left, upLeft byte
				if i >= bytesPerPixel {
					left = row[i-bytesPerPixel]
					upLeft = prev[i-bytesPerPixel]
				}
				row[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("%w: unknown PNG predictor tag %d", ErrInvalidData, tag)
		}

		out = append(out, row...)
		prev = row
	}

	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// ASCIIHexDecode implements the ASCIIHexDecode filter.
type ASCIIHexDecode struct{}

func (ASCIIHexDecode) Name() string { return "ASCIIHexDecode" }

func (ASCIIHexDecode) Decode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	var digits []byte
	for _, b := range data {
		if b == '>' {
			break
		}
		if generic.IsWhitespace(b) {
			continue
		}
		digits = append(digits, b)
	}
	if len(digits)%2 != 0 {
		digits = append(digits, '0')
	}
	decoded, err := hex.DecodeString(string(digits))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return decoded, nil
}

func (ASCIIHexDecode) Encode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	return append([]byte(hex.EncodeToString(data)), '>'), nil
}

// RunLengthDecode implements the RunLengthDecode filter.
type RunLengthDecode struct{}

func (RunLengthDecode) Name() string { return "RunLengthDecode" }

func (RunLengthDecode) Decode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	var out []byte
	for i := 0; i < len(data); {
		length := int(data[i])
		i++
		switch {
		case length == 128:
			return out, nil
		case length < 128:
			end := i + length + 1
			if end > len(data) {
				return nil, fmt.Errorf("%w: literal run past end of data", ErrInvalidData)
			}
			out = append(out, data[i:end]...)
			i = end
		default:
			if i >= len(data) {
				return nil, fmt.Errorf("%w: replicated run past end of data", ErrInvalidData)
			}
			for j := 0; j < 257-length; j++ {
				out = append(out, data[i])
			}
			i++
		}
	}
	return out, nil
}

func (RunLengthDecode) Encode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	var out []byte
	for i := 0; i < len(data); {
		run := 1
		for i+run < len(data) && run < 128 && data[i+run] == data[i] {
			run++
		}
		if run > 1 {
			out = append(out, byte(257-run), data[i])
			i += run
			continue
		}
		start := i
		for i < len(data) && i-start < 128 {
			if i+1 < len(data) && i+2 < len(data) && data[i] == data[i+1] && data[i+1] == data[i+2] {
				break
			}
			i++
		}
		out = append(out, byte(i-start-1))
		out = append(out, data[start:i]...)
	}
	return append(out, 128), nil
}

var registry = map[string]Filter{
	"FlateDecode":     FlateDecode{},
	"Fl":              FlateDecode{},
	"ASCIIHexDecode":  ASCIIHexDecode{},
	"AHx":             ASCIIHexDecode{},
	"RunLengthDecode": RunLengthDecode{},
	"RL":              RunLengthDecode{},
}

// Get returns the filter registered under name.
func Get(name string) (Filter, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
	}
	return f, nil
}

// DecodeStream decodes the content of a stream object by applying its
// declared /Filter chain with the matching /DecodeParms.
func DecodeStream(stream *generic.StreamObject) ([]byte, error) {
	names, parms := filterChain(stream.Dictionary)
	data := stream.Data
	for i, name := range names {
		f, err := Get(name)
		if err != nil {
			return nil, err
		}
		data, err = f.Decode(data, parms[i])
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
	}
	return data, nil
}

// filterChain extracts the filter names and per-filter parameters from a
// stream dictionary. /Filter and /DecodeParms may each be a single entry
// or an array.
func filterChain(dict *generic.DictionaryObject) ([]string, []*generic.DictionaryObject) {
	var names []string
	switch f := dict.Get("Filter").(type) {
	case generic.NameObject:
		names = []string{string(f)}
	case generic.ArrayObject:
		for _, item := range f {
			if name, ok := item.(generic.NameObject); ok {
				names = append(names, string(name))
			}
		}
	}

	parms := make([]*generic.DictionaryObject, len(names))
	switch p := dict.Get("DecodeParms").(type) {
	case *generic.DictionaryObject:
		if len(parms) > 0 {
			parms[0] = p
		}
	case generic.ArrayObject:
		for i := 0; i < len(parms) && i < len(p); i++ {
			if d, ok := p[i].(*generic.DictionaryObject); ok {
				parms[i] = d
			}
		}
	}

	return names, parms
}
