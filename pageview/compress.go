package pageview

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// PageCompressor encodes pages for storage inside a PageStore.
//
// Implementations must be safe for concurrent use.
type PageCompressor interface {
	// Name returns the compressor identifier (for example, "zstd" or "none").
	Name() string

	// Encode returns the stored form of page. It may return page itself.
	Encode(page []byte) []byte

	// Decode restores a page of rawLen bytes from its stored form.
	Decode(stored []byte, rawLen int) ([]byte, error)
}

// -----------------------------------------------------------------------------
// NoOp Compressor
// -----------------------------------------------------------------------------

// noOpCompressor stores pages as-is.
type noOpCompressor struct{}

// NewNoOpCompressor creates a compressor that stores pages unmodified.
// Hits return slices of the stored page without copying.
func NewNoOpCompressor() PageCompressor {
	return noOpCompressor{}
}

func (noOpCompressor) Name() string { return "none" }

func (noOpCompressor) Encode(page []byte) []byte { return page }

func (noOpCompressor) Decode(stored []byte, _ int) ([]byte, error) { return stored, nil }

// -----------------------------------------------------------------------------
// Zstd Compressor
// -----------------------------------------------------------------------------

// zstdCompressor stores pages as zstd frames.
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCompressor creates a zstd page compressor.
//
// Stored pages cost less memory at the price of a decode on every hit.
// Useful for text-heavy objects (logs, CSV, JSON) read with poor locality.
func NewZstdCompressor() (PageCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("pageview: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("pageview: zstd decoder: %w", err)
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (z *zstdCompressor) Name() string { return "zstd" }

func (z *zstdCompressor) Encode(page []byte) []byte {
	return z.enc.EncodeAll(page, make([]byte, 0, len(page)/2))
}

func (z *zstdCompressor) Decode(stored []byte, rawLen int) ([]byte, error) {
	page, err := z.dec.DecodeAll(stored, make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("pageview: zstd decode: %w", err)
	}
	if len(page) != rawLen {
		return nil, fmt.Errorf("pageview: zstd decode: want %d bytes, got %d", rawLen, len(page))
	}
	return page, nil
}
