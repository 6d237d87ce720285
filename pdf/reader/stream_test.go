package reader

import (
	"bytes"
	"context"
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"errors"
	"fmt"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		version string
		wantErr error
	}{
		{"empty", nil, "", ErrEmptyInput},
		{"too small", []byte("%PDF-1."), "", ErrTooSmall},
		{"no marker", bytes.Repeat([]byte("x"), 64), "", ErrInvalidHeader},
		{"v1.4", []byte("%PDF-1.4\n%binary\n"), "1.4", nil},
		{"v1.7", []byte("%PDF-1.7\n"), "1.7", nil},
		{"v2.0", []byte("%PDF-2.0\n"), "2.0", nil},
		{"v3.1", []byte("%PDF-3.1\n"), "", ErrUnsupportedVersion},
		{"v1.9", []byte("%PDF-1.9\n"), "", ErrUnsupportedVersion},
		{"leading junk", append([]byte("\xef\xbb\xbf junk "), []byte("%PDF-1.6\n")...), "1.6", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, err := ParseHeader(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHeader failed: %v", err)
			}
			if version != tt.version {
				t.Errorf("Expected version %q, got %q", tt.version, version)
			}
		})
	}
}

func TestParseHeaderIgnoresMarkerPastScanLimit(t *testing.T) {
	data := append(bytes.Repeat([]byte{'x'}, headerScanLimit+10), []byte("%PDF-1.7")...)
	if _, err := ParseHeader(data); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("Expected ErrInvalidHeader, got %v", err)
	}
}

func TestReadChunkAt(t *testing.T) {
	stream := NewByteStream([]byte("0123456789"))

	chunk, err := stream.ReadChunkAt(3, 4)
	if err != nil {
		t.Fatalf("ReadChunkAt failed: %v", err)
	}
	if string(chunk) != "3456" {
		t.Errorf("Expected 3456, got %q", chunk)
	}

	// The returned chunk must be a copy.
	chunk[0] = 'X'
	again, _ := stream.ReadChunkAt(3, 1)
	if again[0] != '3' {
		t.Error("ReadChunkAt returned a view into the stream")
	}

	for _, tt := range []struct{ offset, size int64 }{
		{-1, 2}, {0, -1}, {8, 5}, {11, 0},
	} {
		if _, err := stream.ReadChunkAt(tt.offset, tt.size); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ReadChunkAt(%d, %d): expected ErrOutOfRange, got %v", tt.offset, tt.size, err)
		}
	}
}

func TestReadChunkAtMemoryBudget(t *testing.T) {
	cfg := DefaultStreamingConfig()
	cfg.MaxBufferSize = 16
	stream := NewByteStreamWithConfig(bytes.Repeat([]byte{0}, 64), cfg)

	if _, err := stream.ReadChunkAt(0, 32); !errors.Is(err, ErrMemoryBudget) {
		t.Errorf("Expected ErrMemoryBudget, got %v", err)
	}
	if _, err := stream.ReadChunkAt(0, 16); err != nil {
		t.Errorf("Chunk within budget failed: %v", err)
	}
}

func TestHashStreamingMatchesOneShot(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 1000)

	oneShot, err := NewByteStream(data).HashStreaming(context.Background(), crypto.SHA256)
	if err != nil {
		t.Fatalf("HashStreaming failed: %v", err)
	}

	// Force the chunked path with a tiny threshold and chunk size.
	cfg := DefaultStreamingConfig()
	cfg.StreamingThreshold = 16
	cfg.ChunkSize = 7
	chunked, err := NewByteStreamWithConfig(data, cfg).HashStreaming(context.Background(), crypto.SHA256)
	if err != nil {
		t.Fatalf("Chunked HashStreaming failed: %v", err)
	}

	if !bytes.Equal(oneShot, chunked) {
		t.Error("Chunked digest differs from one-shot digest")
	}
}

func TestHashStreamingCancellation(t *testing.T) {
	cfg := DefaultStreamingConfig()
	cfg.StreamingThreshold = 1
	cfg.ChunkSize = 8
	stream := NewByteStreamWithConfig(bytes.Repeat([]byte{1}, 1024), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := stream.HashStreaming(ctx, crypto.SHA256); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestHashByteRanges(t *testing.T) {
	data := []byte("AAAABBBBCCCCDDDD")
	stream := NewByteStream(data)

	digest, err := stream.HashByteRanges(context.Background(), crypto.SHA256, []ByteRange{
		{Offset: 0, Length: 4},
		{Offset: 12, Length: 4},
	})
	if err != nil {
		t.Fatalf("HashByteRanges failed: %v", err)
	}

	h := crypto.SHA256.New()
	h.Write([]byte("AAAADDDD"))
	if !bytes.Equal(digest, h.Sum(nil)) {
		t.Error("Range digest does not match direct digest of concatenation")
	}

	if _, err := stream.HashByteRanges(context.Background(), crypto.SHA256, []ByteRange{{Offset: 10, Length: 10}}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange, got %v", err)
	}
}

func TestFindStartXRef(t *testing.T) {
	doc := []byte("%PDF-1.7\nsome body\nstartxref\n9\n%%EOF\n")
	offset, err := FindStartXRef(doc, DefaultTrailerScanWindow)
	if err != nil {
		t.Fatalf("FindStartXRef failed: %v", err)
	}
	if offset != 9 {
		t.Errorf("Expected offset 9, got %d", offset)
	}
}

func TestFindStartXRefUsesLastAnchor(t *testing.T) {
	doc := []byte("%PDF-1.7\nstartxref\n9\n%%EOF\nupdate\nstartxref\n27\n%%EOF\n")
	offset, err := FindStartXRef(doc, DefaultTrailerScanWindow)
	if err != nil {
		t.Fatalf("FindStartXRef failed: %v", err)
	}
	if offset != 27 {
		t.Errorf("Expected offset 27, got %d", offset)
	}
}

func TestFindStartXRefWindowBounded(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\nstartxref\n9\n%%EOF\n")
	buf.Write(bytes.Repeat([]byte{'x'}, 4096))

	if _, err := FindStartXRef(buf.Bytes(), 64); !errors.Is(err, ErrMissingTrailer) {
		t.Errorf("Expected ErrMissingTrailer with narrow window, got %v", err)
	}
	if _, err := FindStartXRef(buf.Bytes(), buf.Len()); err != nil {
		t.Errorf("Wide window should find anchor: %v", err)
	}
}

func TestFindTrailerOffset(t *testing.T) {
	doc := []byte("%PDF-1.7\nbody\nstartxref\n14\n%%EOF\n")
	stream := NewByteStream(doc)

	offset, err := stream.FindTrailerOffset()
	if err != nil {
		t.Fatalf("FindTrailerOffset failed: %v", err)
	}
	if want := int64(bytes.LastIndex(doc, []byte("startxref"))); offset != want {
		t.Errorf("Expected keyword offset %d, got %d", want, offset)
	}

	if _, err := NewByteStream([]byte("%PDF-1.7\nno anchor here\n")).FindTrailerOffset(); !errors.Is(err, ErrMissingTrailer) {
		t.Errorf("Expected ErrMissingTrailer, got %v", err)
	}
}

func TestByteStreamReadHeader(t *testing.T) {
	version, err := NewByteStream([]byte("%PDF-1.5\nrest")).ReadHeader()
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if version != "1.5" {
		t.Errorf("Expected 1.5, got %q", version)
	}
}

func TestSupportedVersionSet(t *testing.T) {
	for minor := 0; minor <= 7; minor++ {
		header := fmt.Sprintf("%%PDF-1.%d\n", minor)
		if _, err := ParseHeader([]byte(header)); err != nil {
			t.Errorf("Version 1.%d should be supported: %v", minor, err)
		}
	}
}
