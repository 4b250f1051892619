package raknet

import "testing"

func TestRecoveryBufferResendKeepsUnackedBatches(t *testing.T) {
	rb := newRecoveryBuffer()
	b1 := &Batch{SequenceNumber: 1}
	b2 := &Batch{SequenceNumber: 2}
	rb.retain(b1)
	rb.retain(b2)

	resent := rb.resend([]uint32{1, 2, 3})
	if len(resent) != 2 {
		t.Fatalf("expected 2 batches resent (seq 3 absent), got %d", len(resent))
	}
	if rb.len() != 2 {
		t.Fatalf("resend must not remove entries, len() = %d", rb.len())
	}

	rb.ack([]uint32{1})
	if rb.len() != 1 {
		t.Fatalf("expected one entry left after ACK, got %d", rb.len())
	}
	if resent := rb.resend([]uint32{1}); len(resent) != 0 {
		t.Fatal("acked sequence number should no longer be resendable")
	}
}
