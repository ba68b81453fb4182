package store

import (
	"bytes"
	"compress/zlib"
	"io"
)

// ZLibCompressor favours speed: segments are compressed on the write path of every message.
type ZLibCompressor struct{}

func (ZLibCompressor) Compress(segment []byte) ([]byte, error) {
	var buf bytes.Buffer

	zw, err := zlib.NewWriterLevel(&buf, zlib.BestSpeed)
	if err != nil {
		return nil, err
	}

	if _, err := zw.Write(segment); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (ZLibCompressor) Decompress(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}

	defer zr.Close()

	return io.ReadAll(zr)
}
