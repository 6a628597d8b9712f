package txpool

import (
	"testing"

	"github.com/ioi-network/kernel/internal/ktypes"
)

func txFor(id byte) ktypes.Transaction {
	var tx ktypes.Transaction
	tx.Header.AccountID[0] = id
	return tx
}

func TestSubmitDrainFIFO(t *testing.T) {
	p := New(4)
	if err := p.Submit(txFor(1)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.Submit(txFor(2)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	out := p.Drain(10)
	if len(out) != 2 {
		t.Fatalf("expected 2 drained, got %d", len(out))
	}
	if out[0].Header.AccountID[0] != 1 || out[1].Header.AccountID[0] != 2 {
		t.Fatalf("expected FIFO order, got %v", out)
	}
	if p.Len() != 0 {
		t.Fatalf("expected empty queue after drain, got %d", p.Len())
	}
}

func TestDrainEmptyNeverBlocks(t *testing.T) {
	p := New(4)
	out := p.Drain(10)
	if out == nil {
		t.Fatal("expected non-nil empty slice")
	}
	if len(out) != 0 {
		t.Fatalf("expected 0 drained, got %d", len(out))
	}
}

func TestDrainRespectsMax(t *testing.T) {
	p := New(4)
	p.Submit(txFor(1))
	p.Submit(txFor(2))
	p.Submit(txFor(3))

	out := p.Drain(2)
	if len(out) != 2 {
		t.Fatalf("expected 2 drained, got %d", len(out))
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", p.Len())
	}
}

func TestPendingForAccount(t *testing.T) {
	p := New(4)
	p.Submit(txFor(7))
	p.Submit(txFor(7))

	if n := p.PendingForAccount(txFor(7).Header.AccountID); n != 2 {
		t.Fatalf("expected 2 pending, got %d", n)
	}

	p.Drain(1)
	if n := p.PendingForAccount(txFor(7).Header.AccountID); n != 1 {
		t.Fatalf("expected 1 pending after drain, got %d", n)
	}
}

func TestSubmitAfterCloseErrors(t *testing.T) {
	p := New(4)
	p.Close()
	if err := p.Submit(txFor(1)); err == nil {
		t.Fatal("expected error submitting after close")
	}
}
