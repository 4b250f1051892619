// Package raknet implements the RakNet reliability and fragmentation
// layer: ACK/NAK recovery, ordering channels, sequenced/reliable/ordered
// delivery, compound fragmentation and MTU-bounded batching.
package raknet

import "time"

// Protocol-wide constants.
const (
	MaxMTUSize     = 1492
	MinMTUSize     = 400
	DefaultMTUSize = 1400

	// OrderChannels is the number of independent ordering domains per
	// connection.
	OrderChannels = 5

	// MaxCompoundSize bounds the aggregate size of one reassembled
	// compound.
	MaxCompoundSize = 8 * 1024 * 1024

	// frameBatchOverhead is the fixed header cost of a frame batch:
	// 1 flag byte + 3 byte sequence number.
	frameBatchOverhead = 4

	// CompoundTimeout is how long a partially-assembled compound may sit
	// in the reassembly buffer before it is discarded.
	CompoundTimeout = 15 * time.Second

	// IdleTimeout is the default "no activity" window after which a peer
	// is force-disconnected.
	IdleTimeout = 20 * time.Second

	// ForwardTimeout bounds how long the endpoint waits to hand a
	// datagram to a client's inbound queue before treating it as hung.
	ForwardTimeout = 10 * time.Millisecond
)

// Datagram header flag bits.
const (
	flagDatagram byte = 0x80
	flagACK      byte = 0x40
	flagNAK      byte = 0x20
)

// OfflineMagic is the 16-byte constant that precedes every offline
// (pre-connection) RakNet message.
var OfflineMagic = [16]byte{
	0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe,
	0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78,
}

// Offline message IDs.
const (
	IDConnectedPing            = 0x00
	IDUnconnectedPing          = 0x01
	IDConnectedPong            = 0x03
	IDOpenConnectionRequest1   = 0x05
	IDOpenConnectionReply1     = 0x06
	IDOpenConnectionRequest2   = 0x07
	IDOpenConnectionReply2     = 0x08
	IDConnectionRequest        = 0x09
	IDConnectionRequestAccepted = 0x10
	IDNewIncomingConnection    = 0x13
	IDDisconnectNotification   = 0x15
	IDIncompatibleProtocol     = 0x19
	IDUnconnectedPong          = 0x1c
)

// Priority selects which send queue a frame is placed on.
type Priority uint8

const (
	PriorityImmediate Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow

	priorityCount = int(PriorityLow) + 1
)
