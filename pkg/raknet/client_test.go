package raknet

import (
	"context"
	"net"
	"testing"
	"time"
)

func testAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 19132}
}

func newTestClient(t *testing.T, captured *[][]byte) *Client {
	t.Helper()
	send := func(data []byte, addr *net.UDPAddr) error {
		*captured = append(*captured, append([]byte(nil), data...))
		return nil
	}
	return NewClient(context.Background(), testAddr(), ClientConfig{
		MTU:           DefaultMTUSize,
		BudgetPerTick: 64,
		IdleTimeout:   time.Hour,
	}, send)
}

func TestClientReliableSendIsRetainedUntilAcked(t *testing.T) {
	var sent [][]byte
	c := newTestClient(t, &sent)

	c.Send([]byte("hello"), Reliable, 0, PriorityHigh)
	c.Tick()

	if len(sent) != 1 {
		t.Fatalf("expected one datagram flushed, got %d", len(sent))
	}
	if c.recovery.len() != 1 {
		t.Fatalf("expected the reliable batch to be retained, recovery has %d entries", c.recovery.len())
	}

	batch, err := decodeBatch(sent[0])
	if err != nil {
		t.Fatalf("decode sent batch: %v", err)
	}

	c.handleAck(EncodeACK([]uint32{batch.SequenceNumber}))
	if c.recovery.len() != 0 {
		t.Fatalf("expected recovery buffer to be empty after ACK, has %d entries", c.recovery.len())
	}
}

func TestClientResendsOnNAK(t *testing.T) {
	var sent [][]byte
	c := newTestClient(t, &sent)

	c.Send([]byte("hello"), ReliableOrdered, 1, PriorityImmediate)
	c.Tick()
	if len(sent) != 1 {
		t.Fatalf("expected one datagram, got %d", len(sent))
	}

	batch, err := decodeBatch(sent[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	c.handleNak(EncodeNAK([]uint32{batch.SequenceNumber}))
	if len(sent) != 2 {
		t.Fatalf("expected a resend after NAK, got %d datagrams", len(sent))
	}
	if string(sent[1]) != string(sent[0]) {
		t.Fatal("resend should reuse the original sequence number and framing")
	}
}

func TestClientSplitsOversizedPayloadIntoCompound(t *testing.T) {
	var sent [][]byte
	c := newTestClient(t, &sent)

	big := make([]byte, DefaultMTUSize*3)
	for i := range big {
		big[i] = byte(i)
	}
	c.Send(big, ReliableOrdered, 2, PriorityHigh)
	c.Tick()

	if len(sent) < 2 {
		t.Fatalf("expected the oversized payload to span multiple datagrams, got %d", len(sent))
	}

	reassembler := newCompoundSet()
	var result *Frame
	for _, datagram := range sent {
		batch, err := decodeBatch(datagram)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		for _, f := range batch.Frames {
			if !f.Compound {
				t.Fatalf("expected every fragment to carry the compound flag")
			}
			r, err := reassembler.insert(f)
			if err != nil {
				t.Fatalf("reassemble: %v", err)
			}
			if r != nil {
				result = r
			}
		}
	}
	if result == nil {
		t.Fatal("fragments never reassembled into a complete frame")
	}
	if len(result.Payload) != len(big) {
		t.Fatalf("reassembled payload length %d, want %d", len(result.Payload), len(big))
	}
	for i := range big {
		if result.Payload[i] != big[i] {
			t.Fatalf("reassembled payload differs at byte %d", i)
		}
	}
}

func TestClientBudgetExhaustionDisconnects(t *testing.T) {
	var sent [][]byte
	c := newTestClient(t, &sent)
	c.budget = newBudget(1)

	c.HandleDatagram(EncodeACK(nil))
	if c.budget.remaining != 0 {
		t.Fatalf("expected budget fully consumed, has %d remaining", c.budget.remaining)
	}

	var disconnectReason error
	var gotDisconnect bool
	c.SetOnDisconnect(func(reason error) {
		gotDisconnect = true
		disconnectReason = reason
	})

	c.Tick()
	if !gotDisconnect {
		t.Fatal("expected disconnect callback after a tick with zero remaining budget")
	}
	if disconnectReason == nil {
		t.Fatal("expected a non-nil disconnect reason for budget exhaustion")
	}
	select {
	case <-c.Token().Done():
	default:
		t.Fatal("expected lifecycle token to be cancelled")
	}
}

func TestClientIdleTimeoutDisconnects(t *testing.T) {
	var sent [][]byte
	c := newTestClient(t, &sent)
	c.idleTimeout = time.Millisecond
	c.lastActivity = time.Now().Add(-time.Hour)

	var gotDisconnect bool
	c.SetOnDisconnect(func(error) { gotDisconnect = true })
	c.Tick()

	if !gotDisconnect {
		t.Fatal("expected idle client to be disconnected")
	}
}

func TestClientConnectionRequestTriggersAccepted(t *testing.T) {
	var sent [][]byte
	c := newTestClient(t, &sent)

	req := make([]byte, 17)
	req[0] = IDConnectionRequest
	c.HandleDatagram(encodeAsFakeBatch(req))
	c.Tick()

	if len(sent) != 1 {
		t.Fatalf("expected ConnectionRequestAccepted to be flushed, got %d datagrams", len(sent))
	}
	batch, err := decodeBatch(sent[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(batch.Frames) != 1 || len(batch.Frames[0].Payload) == 0 || batch.Frames[0].Payload[0] != IDConnectionRequestAccepted {
		t.Fatalf("expected a ConnectionRequestAccepted frame, got %+v", batch.Frames)
	}
}

func TestClientPeerDisconnectCancelsTokenWithoutEcho(t *testing.T) {
	var sent [][]byte
	c := newTestClient(t, &sent)

	var gotDisconnect bool
	var reason error
	c.SetOnDisconnect(func(r error) { gotDisconnect = true; reason = r })

	c.HandleDatagram(encodeAsFakeBatch([]byte{IDDisconnectNotification}))
	if !gotDisconnect {
		t.Fatal("expected disconnect callback on peer DisconnectNotification")
	}
	if reason != nil {
		t.Fatalf("peer-initiated disconnect should carry a nil reason, got %v", reason)
	}
	select {
	case <-c.Token().Done():
	default:
		t.Fatal("expected lifecycle token to be cancelled")
	}
	if len(sent) != 0 {
		t.Fatal("should not echo a DisconnectNotification back to a peer that already sent one")
	}
}

// encodeAsFakeBatch wraps payload in a single reliable frame batch, as if
// it had arrived from the network.
func encodeAsFakeBatch(payload []byte) []byte {
	b := &Batch{SequenceNumber: 0, Frames: []*Frame{{Reliability: Reliable, Payload: payload}}}
	return b.Encode()
}
