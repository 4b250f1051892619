package registry

import (
	"context"
	"net"
	"testing"

	"bedrock-netcore/internal/config"
	"bedrock-netcore/pkg/raknet"
)

func testSnapshot(maxConnections int) *config.Snapshot {
	return &config.Snapshot{
		Compression:    config.Compression{Algorithm: config.CompressionNone},
		Throttle:       config.Throttle{Enabled: false, Threshold: 0},
		MaxConnections: maxConnections,
		MOTD:           func() string { return "test" },
	}
}

func noopSend(data []byte, addr *net.UDPAddr) error { return nil }

func udpAddr(t *testing.T, port int) *net.UDPAddr {
	t.Helper()
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func buildPing(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 0, 25)
	buf = append(buf, raknet.IDUnconnectedPing)
	buf = append(buf, make([]byte, 8)...)
	buf = append(buf, raknet.OfflineMagic[:]...)
	return buf
}

func newTestRegistry(t *testing.T, maxConnections int) *Registry {
	t.Helper()
	snap := testSnapshot(maxConnections)
	r := New(context.Background(), config.Static{Snapshot: snap}, noopSend, 0xabcdef, nil)
	t.Cleanup(r.Shutdown)
	return r
}

func TestRegistryDispatchRoutesOfflineDatagramToResponder(t *testing.T) {
	r := newTestRegistry(t, 10)
	addr := udpAddr(t, 5000)

	r.Dispatch(buildPing(t), addr)

	if r.SessionCountConnecting() != 0 || r.SessionCountConnected() != 0 {
		t.Fatal("a bare ping must not admit a connection")
	}
}

func TestRegistryInsertAdmitsUpToMaxConnections(t *testing.T) {
	r := newTestRegistry(t, 2)

	r.insert(udpAddr(t, 5001), raknet.DefaultMTUSize)
	r.insert(udpAddr(t, 5002), raknet.DefaultMTUSize)
	if got := r.SessionCountConnecting(); got != 2 {
		t.Fatalf("connecting count = %d, want 2", got)
	}

	r.insert(udpAddr(t, 5003), raknet.DefaultMTUSize)
	if got := r.SessionCountConnecting(); got != 2 {
		t.Fatalf("connecting count after over-admission = %d, want 2 (third insert should be rejected)", got)
	}
}

func TestRegistryInsertIgnoresDuplicateAddr(t *testing.T) {
	r := newTestRegistry(t, 10)
	addr := udpAddr(t, 5004)

	r.insert(addr, raknet.DefaultMTUSize)
	r.insert(addr, raknet.DefaultMTUSize)

	if got := r.SessionCountConnecting(); got != 1 {
		t.Fatalf("connecting count = %d, want 1 (duplicate insert must be a no-op)", got)
	}
}

func TestRegistryPromotionMovesEntryToConnected(t *testing.T) {
	r := newTestRegistry(t, 10)
	addr := udpAddr(t, 5005)

	r.insert(addr, raknet.DefaultMTUSize)
	r.mu.RLock()
	e := r.connecting[addr.String()]
	r.mu.RUnlock()
	if e == nil {
		t.Fatal("expected an entry in the connecting map")
	}

	r.promote(addr, e)

	if r.SessionCountConnecting() != 0 {
		t.Fatal("promote must remove the entry from connecting")
	}
	if r.SessionCountConnected() != 1 {
		t.Fatal("promote must add the entry to connected")
	}
}

func TestRegistryKickDisconnectsAndRemovesPeer(t *testing.T) {
	r := newTestRegistry(t, 10)
	addr := udpAddr(t, 5006)
	r.insert(addr, raknet.DefaultMTUSize)

	r.Kick(addr, nil)

	if r.SessionCountConnecting() != 0 || r.SessionCountConnected() != 0 {
		t.Fatal("Kick must remove the peer once its client disconnects")
	}
}

func TestRegistryMaxConnectionsReflectsLiveConfig(t *testing.T) {
	r := newTestRegistry(t, 42)
	if got := r.MaxConnections(); got != 42 {
		t.Fatalf("MaxConnections() = %d, want 42", got)
	}
}

func TestRegistryShutdownDrainsEveryPeerAndIsIdempotent(t *testing.T) {
	r := newTestRegistry(t, 10)
	r.insert(udpAddr(t, 5007), raknet.DefaultMTUSize)
	r.insert(udpAddr(t, 5008), raknet.DefaultMTUSize)

	r.Shutdown()

	if r.SessionCountConnecting() != 0 || r.SessionCountConnected() != 0 {
		t.Fatal("Shutdown must disconnect every peer")
	}

	r.Shutdown() // must not panic or block on a second call
}

func TestRegistryShutdownRejectsNewInserts(t *testing.T) {
	r := newTestRegistry(t, 10)
	r.Shutdown()

	r.insert(udpAddr(t, 5009), raknet.DefaultMTUSize)

	if r.SessionCountConnecting() != 0 {
		t.Fatal("insert after Shutdown must be rejected")
	}
}
