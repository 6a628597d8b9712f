package gc

import (
	"sync"

	"github.com/ioi-network/kernel/internal/ktypes"
)

// PinSet is a height pin multiset (spec §4.7: "Pin/unpin operations
// accept a height, maintain a multiset (pin counts)"). A height is
// protected from collection as long as its pin count is above zero;
// callers may pin the same height from multiple independent reasons
// (e.g. an in-flight prepare_block alongside a debug query) without one
// releasing the other's protection early. It satisfies
// internal/statemachine.Pinner directly.
type PinSet struct {
	mu     sync.Mutex
	counts map[ktypes.Height]int
}

// NewPinSet returns an empty pin set.
func NewPinSet() *PinSet {
	return &PinSet{counts: make(map[ktypes.Height]int)}
}

// Pin increments h's pin count.
func (p *PinSet) Pin(h ktypes.Height) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[h]++
}

// Unpin decrements h's pin count, removing the entry once it reaches
// zero. Unpinning a height with no outstanding pin is a no-op.
func (p *PinSet) Unpin(h ktypes.Height) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts[h] <= 1 {
		delete(p.counts, h)
		return
	}
	p.counts[h]--
}

// IsPinned reports whether h currently has at least one outstanding pin.
func (p *PinSet) IsPinned(h ktypes.Height) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[h] > 0
}

// Snapshot returns the set of currently pinned heights, for building a
// prune_batch call's excluded_heights argument.
func (p *PinSet) Snapshot() map[ktypes.Height]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[ktypes.Height]bool, len(p.counts))
	for h := range p.counts {
		out[h] = true
	}
	return out
}
