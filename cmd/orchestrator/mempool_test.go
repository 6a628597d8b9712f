package main

import (
	"testing"

	"github.com/ioi-network/kernel/internal/ktypes"
)

func txFor(id byte) ktypes.Transaction {
	var tx ktypes.Transaction
	tx.Header.AccountID[0] = id
	return tx
}

func TestMempoolSubmitDrainFIFO(t *testing.T) {
	m := NewMempool()
	m.Submit(txFor(1))
	m.Submit(txFor(2))

	if got := m.Len(); got != 2 {
		t.Fatalf("expected len 2, got %d", got)
	}

	out := m.Drain(10)
	if len(out) != 2 {
		t.Fatalf("expected 2 drained, got %d", len(out))
	}
	if out[0].Header.AccountID[0] != 1 || out[1].Header.AccountID[0] != 2 {
		t.Fatalf("expected FIFO order, got %v", out)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty mempool after drain, got %d", m.Len())
	}
}

func TestMempoolDrainRespectsMax(t *testing.T) {
	m := NewMempool()
	m.Submit(txFor(1))
	m.Submit(txFor(2))
	m.Submit(txFor(3))

	out := m.Drain(2)
	if len(out) != 2 {
		t.Fatalf("expected 2 drained, got %d", len(out))
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", m.Len())
	}
}

func TestMempoolDrainEmpty(t *testing.T) {
	m := NewMempool()
	out := m.Drain(10)
	if len(out) != 0 {
		t.Fatalf("expected 0 drained from empty mempool, got %d", len(out))
	}
}
