package main

import (
	"sync"

	"github.com/ioi-network/kernel/internal/ktypes"
)

// Mempool is the Orchestrator's own holding area for transactions
// received from the network before they are bundled into a proposal
// (spec §2: "Orchestrator ... maintains a mempool (external)" — the
// mempool itself is explicitly out of this kernel's scope; this is the
// minimal in-memory stand-in the proposal loop needs to have something
// to drain). Not persisted, not gossiped: a real deployment replaces
// this with its own network-facing mempool.
type Mempool struct {
	mu  sync.Mutex
	txs []ktypes.Transaction
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// Submit enqueues tx for the next proposal.
func (m *Mempool) Submit(tx ktypes.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, tx)
}

// Drain removes and returns up to max pending transactions, FIFO.
func (m *Mempool) Drain(max int) []ktypes.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if max <= 0 || max > len(m.txs) {
		max = len(m.txs)
	}
	out := m.txs[:max]
	m.txs = m.txs[max:]
	return out
}

// Len reports the number of pending transactions, surfaced as the
// mempool_size metrics series (spec §8 scenario 1).
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}
