package bedrock

import (
	"bytes"
	"testing"

	"bedrock-netcore/internal/config"
)

func TestCompressorRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 20)

	for _, alg := range []config.CompressionAlgorithm{config.CompressionNone, config.CompressionDeflate, config.CompressionSnappy} {
		c := NewCompressor(alg)
		compressed, err := c.Compress(data)
		if err != nil {
			t.Fatalf("%s: compress: %v", alg, err)
		}
		out, err := c.Decompress(compressed)
		if err != nil {
			t.Fatalf("%s: decompress: %v", alg, err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("%s: round trip mismatch", alg)
		}
	}
}
