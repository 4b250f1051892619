package raknet

import (
	"fmt"
	"net"
)

// writeAddress encodes a UDP address the way RakNet does on the wire: a
// version byte (only IPv4 is supported here), the four address bytes
// bitwise-inverted, and the port big-endian.
func writeAddress(w *writer, addr *net.UDPAddr) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		// IPv6 peers are represented with a zero-filled v4 address; the
		// core's offline responder and handshake never depend on this
		// field's accuracy beyond round-tripping what the client sent.
		w.byte(4)
		w.bytes([]byte{0, 0, 0, 0})
		w.uint16BE(uint16(addr.Port))
		return
	}
	w.byte(4)
	for i := 0; i < 4; i++ {
		w.byte(^ip4[i])
	}
	w.uint16BE(uint16(addr.Port))
}

// readAddress decodes an address written by writeAddress.
func readAddress(r *reader) (*net.UDPAddr, error) {
	version, err := r.byte()
	if err != nil {
		return nil, err
	}
	if version != 4 {
		return nil, fmt.Errorf("raknet: %w: unsupported address version %d", errBadMagic, version)
	}
	raw, err := r.bytes(4)
	if err != nil {
		return nil, err
	}
	ip := make(net.IP, 4)
	for i := range raw {
		ip[i] = ^raw[i]
	}
	port, err := r.uint16BE()
	if err != nil {
		return nil, err
	}
	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}
