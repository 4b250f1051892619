package raknet

import (
	"encoding/binary"
	"fmt"
)

// reader is a forward-only byte cursor over a received datagram. It is the
// read-side counterpart of writer, split in two so the encode and decode
// paths don't share mutable state they don't need to.
type reader struct {
	data   []byte
	offset int
}

func newReader(data []byte) *reader { return &reader{data: data} }

func (r *reader) remaining() int { return len(r.data) - r.offset }

func (r *reader) byte() (byte, error) {
	if r.offset >= len(r.data) {
		return 0, fmt.Errorf("raknet: %w: buffer underflow reading byte", errShortBuffer)
	}
	b := r.data[r.offset]
	r.offset++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, fmt.Errorf("raknet: %w: need %d bytes, have %d", errShortBuffer, n, r.remaining())
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *reader) uint16BE() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) uint16LE() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) uint32BE() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) uint24LE() (uint32, error) {
	b, err := r.bytes(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

func (r *reader) uint64BE() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// writer accumulates an outgoing datagram. Unlike reader it grows; each
// encode in this package builds a fresh one with newWriter, and reset
// exists for callers that want to reuse one.
type writer struct {
	buf []byte
}

func newWriter() *writer { return &writer{buf: make([]byte, 0, DefaultMTUSize)} }

func (w *writer) reset() { w.buf = w.buf[:0] }

func (w *writer) byte(b byte) { w.buf = append(w.buf, b) }

func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) uint16BE(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) uint32BE(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) uint24LE(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16))
}

func (w *writer) uint64BE(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) Bytes() []byte { return w.buf }

// writeUint24LE / readUint24LE are free-function forms of the writer and
// reader 24-bit helpers. Nothing in this package calls them; ACK records
// are written and read through writer.uint24LE and reader.uint24LE.
func writeUint24LE(v uint32) [3]byte {
	return [3]byte{byte(v), byte(v >> 8), byte(v >> 16)}
}

func readUint24LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
