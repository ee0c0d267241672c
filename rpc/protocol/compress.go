package protocol

import (
	"errors"
	"fmt"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"strings"
)

// ICompressProvider compresses frame content.
// Decompress must be the exact inverse of Compress. Implementations must be safe for concurrent use.
type ICompressProvider interface {
	// Name returns the name the provider is resolved by
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

var (
	ErrUnknownCompression = errors.New("unknown compression")
	ErrDecompressedTooBig = errors.New("decompressed content exceeds limit")
)

// Compression names understood by NewCompressor
const (
	CompressionNone   = ""
	CompressionS2     = "s2"
	CompressionZstd   = "zstd"
	CompressionSnappy = "snappy"
)

// CompressionNames lists every supported compression
var CompressionNames = []string{CompressionS2, CompressionZstd, CompressionSnappy}

// NewCompressor resolves a compress provider by name. Decompression output is limited to
// maxDecodedSize bytes (0 = unlimited). The name "" or "none" returns a nil provider.
func NewCompressor(name string, maxDecodedSize int) (ICompressProvider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case CompressionNone, "none":
		return nil, nil
	case CompressionS2:
		return &s2Compressor{limit: maxDecodedSize}, nil
	case CompressionSnappy:
		return &snappyCompressor{limit: maxDecodedSize}, nil
	case CompressionZstd:
		return newZstdCompressor(maxDecodedSize)
	default:
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownCompression, name, strings.Join(CompressionNames, ", "))
	}
}

// checkDecodedLen rejects decoded sizes above the limit before any memory is allocated
func checkDecodedLen(n, limit int) error {
	if limit > 0 && n > limit {
		return fmt.Errorf("%w: %d > %d", ErrDecompressedTooBig, n, limit)
	}
	return nil
}

// --------------------------------------------------------------------------
// s2
// --------------------------------------------------------------------------

type s2Compressor struct {
	limit int
}

func (c *s2Compressor) Name() string { return CompressionS2 }

func (c *s2Compressor) Compress(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

func (c *s2Compressor) Decompress(data []byte) ([]byte, error) {
	n, err := s2.DecodedLen(data)
	if err != nil {
		return nil, err
	}
	if err := checkDecodedLen(n, c.limit); err != nil {
		return nil, err
	}
	return s2.Decode(nil, data)
}

// --------------------------------------------------------------------------
// snappy
// --------------------------------------------------------------------------

type snappyCompressor struct {
	limit int
}

func (c *snappyCompressor) Name() string { return CompressionSnappy }

func (c *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (c *snappyCompressor) Decompress(data []byte) ([]byte, error) {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, err
	}
	if err := checkDecodedLen(n, c.limit); err != nil {
		return nil, err
	}
	return snappy.Decode(nil, data)
}

// --------------------------------------------------------------------------
// zstd
// --------------------------------------------------------------------------

// zstdCompressor uses one shared encoder and decoder, EncodeAll and DecodeAll are safe
// for concurrent use
type zstdCompressor struct {
	limit   int
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCompressor(limit int) (*zstdCompressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	opts := []zstd.DOption{zstd.WithDecoderConcurrency(0)}
	if limit > 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(uint64(limit)))
	}
	decoder, err := zstd.NewReader(nil, opts...)
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &zstdCompressor{limit: limit, encoder: encoder, decoder: decoder}, nil
}

func (c *zstdCompressor) Name() string { return CompressionZstd }

func (c *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, nil), nil
}

func (c *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, err
	}
	if err := checkDecodedLen(len(out), c.limit); err != nil {
		return nil, err
	}
	return out, nil
}
