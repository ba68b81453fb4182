package store

import "fmt"

// Compressor transforms the segments of the on-disk store before they are encrypted.
type Compressor interface {
	Compress([]byte) ([]byte, error)
	Decompress([]byte) ([]byte, error)
}

const (
	CompressionNone = "none"
	CompressionZLib = "zlib"
)

// NewCompressor returns the compressor called name. CompressionNone and the empty name give a nil compressor.
func NewCompressor(name string) (Compressor, error) {
	switch name {
	case "", CompressionNone:
		return nil, nil

	case CompressionZLib:
		return ZLibCompressor{}, nil

	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}
