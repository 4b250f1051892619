package raknet

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestOrderChannelDrainsInOrder checks the property that N frames
// with order indices 0..N-1 inserted in any permutation drain out in order
// 0..N-1, and only after every preceding index has arrived.
func TestOrderChannelDrainsInOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("any insertion permutation drains in ascending order", prop.ForAll(
		func(n, seed int) bool {
			perm := rand.New(rand.NewSource(int64(seed))).Perm(n)

			ch := newOrderChannel()
			var drainedOrder []uint32
			for _, idx := range perm {
				f := &Frame{Reliability: ReliableOrdered, OrderIndex: uint32(idx)}
				for _, drained := range ch.insert(f) {
					drainedOrder = append(drainedOrder, drained.OrderIndex)
				}
			}
			if len(drainedOrder) != n {
				return false
			}
			for i, idx := range drainedOrder {
				if idx != uint32(i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 60),
		gen.Int(),
	))

	properties.TestingRun(t)
}

// TestSequencedDropsStale checks the property that a sequenced frame
// whose sequence index is lower than one already accepted is dropped.
func TestSequencedDropsStale(t *testing.T) {
	ch := newOrderChannel()
	if !ch.acceptSequenced(5) {
		t.Fatal("first sequence number should always be accepted")
	}
	if ch.acceptSequenced(3) {
		t.Fatal("stale sequence number should be rejected")
	}
	if !ch.acceptSequenced(5) {
		t.Fatal("repeated high-water mark should still be accepted (duplicate delivery, not an error)")
	}
	if !ch.acceptSequenced(9) {
		t.Fatal("strictly newer sequence number should be accepted")
	}
	if ch.acceptSequenced(8) {
		t.Fatal("sequence number below the new high-water mark should be rejected")
	}
}

func TestOrderChannelWithholdsUntilGapFills(t *testing.T) {
	ch := newOrderChannel()
	if drained := ch.insert(&Frame{OrderIndex: 1}); len(drained) != 0 {
		t.Fatalf("expected no drain with a gap at 0, got %d frames", len(drained))
	}
	if drained := ch.insert(&Frame{OrderIndex: 0}); len(drained) != 2 {
		t.Fatalf("expected both frames to drain once the gap fills, got %d", len(drained))
	}
}
