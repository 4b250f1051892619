package bedrock

import (
	"fmt"

	"bedrock-netcore/internal/config"
	"bedrock-netcore/internal/neterr"
)

// Sub-packet IDs for the handshake sequence this core implements.
// Packet IDs beyond this set are not interpreted —
// command parsing, game rules, inventory and entity logic are explicit
// Non-goals — and are instead handed to the session's upward callback
// once the connection reaches StateReady.
const (
	IDLogin                     = 0x01
	IDPlayStatus                = 0x02
	IDServerToClientHandshake   = 0x03
	IDClientToServerHandshake   = 0x04
	IDDisconnect                = 0x05
	IDResourcePacksInfo         = 0x06
	IDResourcePackStack         = 0x07
	IDResourcePackClientResponse = 0x08
	IDStartGame                 = 0x0b
	IDRequestNetworkSettings    = 0xc1
	IDNetworkSettings           = 0x8f
)

// PlayStatus values carried in an IDPlayStatus sub-packet.
const (
	StatusLoginSuccess      int32 = 0
	StatusFailedClient      int32 = 1
	StatusFailedServer      int32 = 2
	StatusPlayerSpawn       int32 = 3
	StatusFailedServerFull  int32 = 8
)

// batchCompressionTag is the single byte that follows the outer 0xfe
// marker and self-describes which codec (if any) compressed the rest of
// the batch, matching the real protocol's post-1.19.30 framing and this
// core's own "self-describing wire format" convention.
type batchCompressionTag byte

const (
	tagDeflate batchCompressionTag = 0x00
	tagSnappy  batchCompressionTag = 0x01
	tagNone    batchCompressionTag = 0xff
)

func compressionTagFor(alg config.CompressionAlgorithm) batchCompressionTag {
	switch alg {
	case config.CompressionDeflate:
		return tagDeflate
	case config.CompressionSnappy:
		return tagSnappy
	default:
		return tagNone
	}
}

func compressorForTag(tag batchCompressionTag) Compressor {
	switch tag {
	case tagDeflate:
		return deflateCompressor{}
	case tagSnappy:
		return snappyCompressor{}
	default:
		return noneCompressor{}
	}
}

// SubPacket is one varint-length-prefixed unit inside a batch: an ID byte
// (itself a varint, though every ID this core emits fits in one byte)
// followed by its body.
type SubPacket struct {
	ID   uint32
	Body []byte
}

// EncodeBatch concatenates subPackets, each length-prefixed, compresses
// the result if it meets threshold and compression is enabled, and
// returns the full frame including the leading 0xfe marker and
// compression tag byte — but not yet encrypted.
func EncodeBatch(subPackets []SubPacket, alg config.CompressionAlgorithm, threshold uint16) ([]byte, error) {
	var raw []byte
	for _, p := range subPackets {
		body := appendUvarint(nil, p.ID)
		body = append(body, p.Body...)
		raw = appendUvarint(raw, uint32(len(body)))
		raw = append(raw, body...)
	}

	tag := tagNone
	payload := raw
	if alg != config.CompressionNone && len(raw) >= int(threshold) {
		compressor := NewCompressor(alg)
		compressed, err := compressor.Compress(raw)
		if err != nil {
			return nil, fmt.Errorf("bedrock: compress batch: %w", err)
		}
		tag = compressionTagFor(alg)
		payload = compressed
	}

	out := make([]byte, 0, len(payload)+2)
	out = append(out, 0xfe, byte(tag))
	out = append(out, payload...)
	return out, nil
}

// DecodeBatch reverses EncodeBatch: it strips the 0xfe marker and
// compression tag, decompresses if needed, and splits the result back
// into its constituent sub-packets.
func DecodeBatch(frame []byte) ([]SubPacket, error) {
	if len(frame) < 2 || frame[0] != 0xfe {
		return nil, fmt.Errorf("bedrock: %w: missing 0xfe batch marker", neterr.ErrMalformedWire)
	}
	tag := batchCompressionTag(frame[1])
	raw, err := compressorForTag(tag).Decompress(frame[2:])
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w: %v", neterr.ErrMalformedWire, err)
	}

	var packets []SubPacket
	for len(raw) > 0 {
		length, n, err := readUvarint(raw)
		if err != nil {
			return nil, fmt.Errorf("bedrock: %w: %v", neterr.ErrMalformedWire, err)
		}
		raw = raw[n:]
		if int(length) > len(raw) {
			return nil, fmt.Errorf("bedrock: %w: sub-packet length exceeds remaining buffer", neterr.ErrMalformedWire)
		}
		body := raw[:length]
		raw = raw[length:]

		id, n, err := readUvarint(body)
		if err != nil {
			return nil, fmt.Errorf("bedrock: %w: %v", neterr.ErrMalformedWire, err)
		}
		packets = append(packets, SubPacket{ID: id, Body: body[n:]})
	}
	return packets, nil
}
