package bedrock

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"

	"bedrock-netcore/internal/config"
)

// Compressor matches and unmatches the compression algorithm negotiated
// in NetworkSettings. Deflate is carried by klauspost/compress, a faster
// drop-in replacement of compress/flate; Snappy is golang/snappy.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// NewCompressor builds the Compressor for the negotiated algorithm.
func NewCompressor(alg config.CompressionAlgorithm) Compressor {
	switch alg {
	case config.CompressionDeflate:
		return deflateCompressor{}
	case config.CompressionSnappy:
		return snappyCompressor{}
	default:
		return noneCompressor{}
	}
}

type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

type deflateCompressor struct{}

func (deflateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("bedrock: construct deflate writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("bedrock: deflate write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("bedrock: deflate close: %w", err)
	}
	return buf.Bytes(), nil
}

func (deflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("bedrock: inflate: %w", err)
	}
	return out, nil
}

type snappyCompressor struct{}

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("bedrock: snappy decode: %w", err)
	}
	return out, nil
}
