package raknet

import "testing"

func TestBudgetConsumeAndRefill(t *testing.T) {
	b := newBudget(2)
	if !b.consume() || !b.consume() {
		t.Fatal("expected two permits to be available")
	}
	if b.consume() {
		t.Fatal("expected the third consume to fail")
	}
	if !b.exhausted() {
		t.Fatal("expected budget to report exhausted")
	}
	b.refill()
	if b.exhausted() {
		t.Fatal("expected budget to be replenished after refill")
	}
	if !b.consume() {
		t.Fatal("expected a permit to be available after refill")
	}
}
