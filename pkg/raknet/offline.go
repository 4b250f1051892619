package raknet

import (
	"fmt"
	"net"
)

// OfflineResult is the outcome of handling one pre-connection datagram.
// A non-nil Reply is sent back as-is; Establish additionally tells the
// caller (the registry) to create a Client for ClientGUID at the
// negotiated MTU. OpenConnectionRequest2 sets both.
type OfflineResult struct {
	Reply      []byte
	Establish  bool
	ClientGUID uint64
	MTU        uint16
}

// HandleOffline parses one unconnected RakNet message and produces the
// appropriate reply or connection-establishment signal. serverGUID
// identifies this server instance; motd supplies the string advertised in
// UnconnectedPong.
func HandleOffline(data []byte, from *net.UDPAddr, serverGUID uint64, motd func() string) (OfflineResult, error) {
	if len(data) == 0 {
		return OfflineResult{}, fmt.Errorf("raknet: %w: empty offline datagram", errShortBuffer)
	}

	switch data[0] {
	case IDUnconnectedPing:
		return handleUnconnectedPing(data, serverGUID, motd)
	case IDOpenConnectionRequest1:
		return handleOpenConnectionRequest1(data, serverGUID)
	case IDOpenConnectionRequest2:
		return handleOpenConnectionRequest2(data, from, serverGUID)
	default:
		return OfflineResult{}, fmt.Errorf("raknet: %w: unrecognized offline message id %#x", errBadMagic, data[0])
	}
}

func checkMagic(r *reader) error {
	magic, err := r.bytes(16)
	if err != nil {
		return err
	}
	for i, b := range magic {
		if b != OfflineMagic[i] {
			return fmt.Errorf("raknet: %w", errBadMagic)
		}
	}
	return nil
}

func handleUnconnectedPing(data []byte, serverGUID uint64, motd func() string) (OfflineResult, error) {
	r := newReader(data)
	r.offset = 1
	pingTime, err := r.uint64BE()
	if err != nil {
		return OfflineResult{}, fmt.Errorf("raknet: %w: truncated UnconnectedPing", errShortBuffer)
	}
	if err := checkMagic(r); err != nil {
		return OfflineResult{}, err
	}

	message := ""
	if motd != nil {
		message = motd()
	}

	w := newWriter()
	w.byte(IDUnconnectedPong)
	w.uint64BE(pingTime)
	w.uint64BE(serverGUID)
	w.bytes(OfflineMagic[:])
	w.uint16BE(uint16(len(message)))
	w.bytes([]byte(message))
	return OfflineResult{Reply: w.Bytes()}, nil
}

func handleOpenConnectionRequest1(data []byte, serverGUID uint64) (OfflineResult, error) {
	r := newReader(data)
	r.offset = 1
	if err := checkMagic(r); err != nil {
		return OfflineResult{}, err
	}
	if _, err := r.byte(); err != nil { // protocol version, not negotiated further
		return OfflineResult{}, fmt.Errorf("raknet: %w: truncated OpenConnectionRequest1", errShortBuffer)
	}
	// The rest of the datagram is padding sized to let the client probe
	// this path's effective MTU; its length, not its content, matters.
	requestedMTU := len(data)
	if requestedMTU > MaxMTUSize {
		requestedMTU = MaxMTUSize
	}
	if requestedMTU < MinMTUSize {
		requestedMTU = MinMTUSize
	}

	w := newWriter()
	w.byte(IDOpenConnectionReply1)
	w.bytes(OfflineMagic[:])
	w.uint64BE(serverGUID)
	w.byte(0) // useSecurity: this core never negotiates RakNet's own cookie-based handshake
	w.uint16BE(uint16(requestedMTU))
	return OfflineResult{Reply: w.Bytes()}, nil
}

func handleOpenConnectionRequest2(data []byte, from *net.UDPAddr, serverGUID uint64) (OfflineResult, error) {
	r := newReader(data)
	r.offset = 1
	if err := checkMagic(r); err != nil {
		return OfflineResult{}, err
	}
	if _, err := readAddress(r); err != nil { // bound server address, unused by this core
		return OfflineResult{}, fmt.Errorf("raknet: %w: truncated server address", errShortBuffer)
	}
	mtu, err := r.uint16BE()
	if err != nil {
		return OfflineResult{}, fmt.Errorf("raknet: %w: truncated MTU field", errShortBuffer)
	}
	clientGUID, err := r.uint64BE()
	if err != nil {
		return OfflineResult{}, fmt.Errorf("raknet: %w: truncated client GUID", errShortBuffer)
	}

	w := newWriter()
	w.byte(IDOpenConnectionReply2)
	w.bytes(OfflineMagic[:])
	w.uint64BE(serverGUID)
	writeAddress(w, from)
	w.uint16BE(mtu)
	w.byte(0) // useEncryption: RakNet-level encryption is not implemented; Bedrock layers its own
	return OfflineResult{Reply: w.Bytes(), Establish: true, ClientGUID: clientGUID, MTU: mtu}, nil
}
