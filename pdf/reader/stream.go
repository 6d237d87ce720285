package reader

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrOutOfRange is returned when a chunk read extends past the stream.
	ErrOutOfRange = errors.New("read out of range")
	// ErrMemoryBudget is returned when an operation would exceed the
	// configured buffer budget.
	ErrMemoryBudget = errors.New("memory budget exceeded")
)

// Streaming defaults, tuned for large documents hashed in bounded memory.
const (
	// DefaultChunkSize is the read granularity for streamed hashing.
	DefaultChunkSize = 64 * 1024
	// DefaultStreamingThreshold is the size above which hashing switches
	// from a single pass to chunked reads.
	DefaultStreamingThreshold = 50 * 1024 * 1024
	// DefaultMaxBufferSize caps any single allocation made on behalf of a
	// caller.
	DefaultMaxBufferSize = 100 * 1024 * 1024
	// DefaultTrailerScanWindow bounds the backwards search for the
	// startxref anchor.
	DefaultTrailerScanWindow = 2048
)

// StreamingConfig tunes chunked access to document bytes.
type StreamingConfig struct {
	// ChunkSize is the unit of streamed reads.
	ChunkSize int
	// StreamingThreshold is the document size above which whole-buffer
	// operations switch to chunked ones.
	StreamingThreshold int64
	// MaxBufferSize caps single allocations.
	MaxBufferSize int64
	// TrailerScanWindow bounds the startxref search from the end of the
	// document.
	TrailerScanWindow int
}

// DefaultStreamingConfig returns the default tuning.
func DefaultStreamingConfig() StreamingConfig {
	return StreamingConfig{
		ChunkSize:          DefaultChunkSize,
		StreamingThreshold: DefaultStreamingThreshold,
		MaxBufferSize:      DefaultMaxBufferSize,
		TrailerScanWindow:  DefaultTrailerScanWindow,
	}
}

func (c StreamingConfig) withDefaults() StreamingConfig {
	def := DefaultStreamingConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.StreamingThreshold <= 0 {
		c.StreamingThreshold = def.StreamingThreshold
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = def.MaxBufferSize
	}
	if c.TrailerScanWindow <= 0 {
		c.TrailerScanWindow = def.TrailerScanWindow
	}
	return c
}

// ByteRange is a half-open window [Offset, Offset+Length) of the stream.
type ByteRange struct {
	Offset int64
	Length int64
}

// ByteStream provides bounded-memory access to document bytes.
type ByteStream struct {
	data []byte
	cfg  StreamingConfig
}

// NewByteStream wraps data with the default streaming configuration.
func NewByteStream(data []byte) *ByteStream {
	return NewByteStreamWithConfig(data, DefaultStreamingConfig())
}

// NewByteStreamWithConfig wraps data with an explicit configuration.
func NewByteStreamWithConfig(data []byte, cfg StreamingConfig) *ByteStream {
	return &ByteStream{data: data, cfg: cfg.withDefaults()}
}

// Size returns the total stream length.
func (s *ByteStream) Size() int64 { return int64(len(s.data)) }

// ReadHeader validates the document header and returns its version.
func (s *ByteStream) ReadHeader() (string, error) {
	return ParseHeader(s.data)
}

// ReadChunkAt returns size bytes starting at offset. The returned slice
// is a copy and safe to retain.
func (s *ByteStream) ReadChunkAt(offset, size int64) ([]byte, error) {
	if size < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: offset %d size %d", ErrOutOfRange, offset, size)
	}
	if size > s.cfg.MaxBufferSize {
		return nil, fmt.Errorf("%w: chunk of %d bytes exceeds budget of %d", ErrMemoryBudget, size, s.cfg.MaxBufferSize)
	}
	if offset+size > s.Size() {
		return nil, fmt.Errorf("%w: [%d, %d) in stream of %d bytes", ErrOutOfRange, offset, offset+size, s.Size())
	}
	chunk := make([]byte, size)
	copy(chunk, s.data[offset:offset+size])
	return chunk, nil
}

// FindTrailerOffset locates the last startxref anchor, searching only the
// configured tail window. It returns the byte offset of the keyword.
func (s *ByteStream) FindTrailerOffset() (int64, error) {
	return findStartXRefKeyword(s.data, s.cfg.TrailerScanWindow)
}

// HashStreaming digests the whole stream with algo. Documents above the
// streaming threshold are fed to the hash in chunks, checking ctx between
// chunks so hashing can be cancelled.
func (s *ByteStream) HashStreaming(ctx context.Context, algo crypto.Hash) ([]byte, error) {
	return s.HashByteRanges(ctx, algo, []ByteRange{{Offset: 0, Length: s.Size()}})
}

// HashByteRanges digests the concatenation of the given ranges in order.
// This is the digest primitive behind /ByteRange verification.
func (s *ByteStream) HashByteRanges(ctx context.Context, algo crypto.Hash, ranges []ByteRange) ([]byte, error) {
	if !algo.Available() {
		return nil, fmt.Errorf("hash algorithm %v not linked into binary", algo)
	}

	h := algo.New()
	chunked := s.Size() > s.cfg.StreamingThreshold

	for _, br := range ranges {
		if br.Offset < 0 || br.Length < 0 || br.Offset+br.Length > s.Size() {
			return nil, fmt.Errorf("%w: byte range [%d, %d)", ErrOutOfRange, br.Offset, br.Offset+br.Length)
		}

		if !chunked {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			h.Write(s.data[br.Offset : br.Offset+br.Length])
			continue
		}

		remaining := br.Length
		offset := br.Offset
		for remaining > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			n := int64(s.cfg.ChunkSize)
			if n > remaining {
				n = remaining
			}
			h.Write(s.data[offset : offset+n])
			offset += n
			remaining -= n
		}
	}

	return h.Sum(nil), nil
}

// FindStartXRef locates the startxref anchor within the last window bytes
// of data and returns the cross-reference offset it points at.
func FindStartXRef(data []byte, window int) (int64, error) {
	keywordAt, err := findStartXRefKeyword(data, window)
	if err != nil {
		return 0, err
	}

	rest := data[keywordAt+int64(len("startxref")):]
	rest = bytes.TrimLeft(rest, " \t\r\n")

	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("%w: startxref not followed by an offset", ErrMissingTrailer)
	}

	offset, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil || offset < 0 || offset >= int64(len(data)) {
		return 0, fmt.Errorf("%w: startxref offset %q out of bounds", ErrMissingTrailer, rest[:end])
	}
	return offset, nil
}

func findStartXRefKeyword(data []byte, window int) (int64, error) {
	if window <= 0 {
		window = DefaultTrailerScanWindow
	}
	start := len(data) - window
	if start < 0 {
		start = 0
	}

	idx := bytes.LastIndex(data[start:], []byte("startxref"))
	if idx < 0 {
		return 0, fmt.Errorf("%w: no startxref in final %d bytes", ErrMissingTrailer, len(data)-start)
	}
	return int64(start + idx), nil
}
