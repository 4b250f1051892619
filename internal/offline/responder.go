// Package offline implements the admission-facing half of the offline
// responder: it wraps pkg/raknet's offline wire parsing with a rate limit
// per (source IP, opcode), so a ping or OpenConnectionRequest flood from
// one address can't
// spend CPU on JSON/JWT-free but still non-trivial datagram parsing
// faster than the registry's own admission control (max_connections)
// would otherwise bound it.
package offline

import (
	"net"
	"sync"
	"time"

	"bedrock-netcore/internal/logging"
	"bedrock-netcore/pkg/raknet"
)

// minRetryInterval bounds how often one source IP's offline messages of
// one opcode are actually parsed; anything faster is dropped silently, matching the
// malformed-wire policy of drop-without-disconnect (there is no session
// yet to disconnect).
const minRetryInterval = 50 * time.Millisecond

// Responder answers offline (pre-connection) RakNet messages.
type Responder struct {
	serverGUID uint64
	motd       func() string
	log        *logging.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// New constructs a Responder that identifies this server as serverGUID
// and advertises motd() in UnconnectedPong replies.
func New(serverGUID uint64, motd func() string) *Responder {
	return &Responder{
		serverGUID: serverGUID,
		motd:       motd,
		log:        logging.Named("offline"),
		lastSeen:   make(map[string]time.Time),
	}
}

// Handle parses one offline datagram from addr. ok is false when the
// message was malformed or throttled and nothing should be sent back.
func (r *Responder) Handle(data []byte, addr *net.UDPAddr) (result raknet.OfflineResult, ok bool) {
	if len(data) == 0 {
		return raknet.OfflineResult{}, false
	}
	if r.throttled(addr, data[0]) {
		return raknet.OfflineResult{}, false
	}

	result, err := raknet.HandleOffline(data, addr, r.serverGUID, r.motd)
	if err != nil {
		r.log.Debug("%s: %v", addr, err)
		return raknet.OfflineResult{}, false
	}
	return result, true
}

// throttled keys on (source IP, opcode) rather than the IP alone, so a
// legitimate two-step handshake (OpenConnectionRequest1 immediately
// followed by Request2) is never rejected for arriving within one
// minRetryInterval of each other — only repeats of the same opcode are
// rate-limited.
func (r *Responder) throttled(addr *net.UDPAddr, opcode byte) bool {
	key := addr.IP.String() + ":" + string(opcode)
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if last, seen := r.lastSeen[key]; seen && now.Sub(last) < minRetryInterval {
		return true
	}
	r.lastSeen[key] = now
	return false
}
