// Package txpool queues transactions submitted through
// ContractControl.deploy_contract/call_contract (spec §6) for inclusion
// in a later block, rather than executing them synchronously inside the
// RPC call. Grounded on internal/nodestore's asyncWriter: a single
// bounded channel that applies backpressure (callers block on Submit)
// instead of dropping work when full.
package txpool

import (
	"sync"

	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// Pool is a bounded FIFO of admitted-but-not-yet-included transactions.
type Pool struct {
	queue chan ktypes.Transaction

	mu      sync.Mutex
	pending map[ktypes.AccountID]int
	closed  bool
}

// New returns a Pool with room for depth queued transactions.
func New(depth int) *Pool {
	if depth <= 0 {
		depth = 1024
	}
	return &Pool{
		queue:   make(chan ktypes.Transaction, depth),
		pending: make(map[ktypes.AccountID]int),
	}
}

// Submit admits tx, blocking if the queue is full (backpressure, the
// same contract internal/nodestore's writer gives its callers) and
// returning a backend error instead once the pool has been Closed.
func (p *Pool) Submit(tx ktypes.Transaction) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return kernelerr.New(kernelerr.KindState, kernelerr.CodeBackendIO, "transaction pool is shutting down")
	}
	p.pending[tx.Header.AccountID]++
	p.mu.Unlock()

	p.queue <- tx
	return nil
}

// Drain removes up to max queued transactions for inclusion in the next
// proposed block, in FIFO submission order. It never blocks: an empty
// pool returns a nil slice.
func (p *Pool) Drain(max int) []ktypes.Transaction {
	out := make([]ktypes.Transaction, 0, max)
	for len(out) < max {
		select {
		case tx := <-p.queue:
			out = append(out, tx)
			p.mu.Lock()
			p.pending[tx.Header.AccountID]--
			if p.pending[tx.Header.AccountID] <= 0 {
				delete(p.pending, tx.Header.AccountID)
			}
			p.mu.Unlock()
		default:
			return out
		}
	}
	return out
}

// PendingForAccount reports how many of account's transactions are
// currently queued, for ContractControl.query_contract-style callers
// that want to reflect an unconfirmed submission back to its sender.
func (p *Pool) PendingForAccount(id ktypes.AccountID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending[id]
}

// Len reports the total number of currently queued transactions.
func (p *Pool) Len() int {
	return len(p.queue)
}

// Close stops the pool from accepting further submissions. Already
// queued transactions remain available to Drain.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}
