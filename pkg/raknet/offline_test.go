package raknet

import (
	"net"
	"testing"
)

func buildPing(pingTime uint64) []byte {
	w := newWriter()
	w.byte(IDUnconnectedPing)
	w.uint64BE(pingTime)
	w.bytes(OfflineMagic[:])
	return w.Bytes()
}

func buildRequest1(padding int) []byte {
	w := newWriter()
	w.byte(IDOpenConnectionRequest1)
	w.bytes(OfflineMagic[:])
	w.byte(11) // protocol version
	w.bytes(make([]byte, padding))
	return w.Bytes()
}

func buildRequest2(serverAddr *net.UDPAddr, mtu uint16, clientGUID uint64) []byte {
	w := newWriter()
	w.byte(IDOpenConnectionRequest2)
	w.bytes(OfflineMagic[:])
	writeAddress(w, serverAddr)
	w.uint16BE(mtu)
	w.uint64BE(clientGUID)
	return w.Bytes()
}

func TestHandleOfflineUnconnectedPingRepliesWithMOTD(t *testing.T) {
	result, err := HandleOffline(buildPing(42), nil, 0xabc, func() string { return "hello" })
	if err != nil {
		t.Fatalf("HandleOffline: %v", err)
	}
	if result.Establish {
		t.Fatal("a ping must never trigger connection establishment")
	}
	if result.Reply[0] != IDUnconnectedPong {
		t.Fatalf("reply id = %#x, want IDUnconnectedPong", result.Reply[0])
	}
}

func TestHandleOfflineRequest1RespondsWithReply1(t *testing.T) {
	result, err := HandleOffline(buildRequest1(100), nil, 0xabc, nil)
	if err != nil {
		t.Fatalf("HandleOffline: %v", err)
	}
	if result.Reply[0] != IDOpenConnectionReply1 {
		t.Fatalf("reply id = %#x, want IDOpenConnectionReply1", result.Reply[0])
	}
}

func TestHandleOfflineRequest2EstablishesConnection(t *testing.T) {
	serverAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 19132}
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 5000}

	result, err := HandleOffline(buildRequest2(serverAddr, DefaultMTUSize, 0xdeadbeef), from, 0xabc, nil)
	if err != nil {
		t.Fatalf("HandleOffline: %v", err)
	}
	if !result.Establish {
		t.Fatal("expected OpenConnectionRequest2 to establish a connection")
	}
	if result.ClientGUID != 0xdeadbeef {
		t.Fatalf("client GUID = %#x, want 0xdeadbeef", result.ClientGUID)
	}
	if result.Reply[0] != IDOpenConnectionReply2 {
		t.Fatalf("reply id = %#x, want IDOpenConnectionReply2", result.Reply[0])
	}
}

func TestHandleOfflineRejectsBadMagic(t *testing.T) {
	data := buildPing(1)
	data[8] ^= 0xff // corrupt a byte inside the magic
	if _, err := HandleOffline(data, nil, 0, nil); err == nil {
		t.Fatal("expected an error for corrupted offline magic")
	}
}

func TestHandleOfflineRejectsUnknownID(t *testing.T) {
	if _, err := HandleOffline([]byte{0xfe}, nil, 0, nil); err == nil {
		t.Fatal("expected an error for an unrecognized offline message id")
	}
}
