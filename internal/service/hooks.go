package service

import (
	"github.com/ioi-network/kernel/internal/executor"
	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/internal/statemachine"
)

// EndOfBlockService is the optional behavior a service advertises via
// CapEndOfBlock: a hook run under an internal tx context at the end of
// every committed block (spec §4.6 step 6).
type EndOfBlockService interface {
	EndOfBlock(view executor.Viewer, h ktypes.Height) error
}

// hookAdapter binds a service's id to its EndOfBlockService
// implementation, satisfying statemachine.EndOfBlockHook without the
// service itself needing an ID()-plus-EndOfBlock() method pair tied
// together by interface embedding.
type hookAdapter struct {
	id  string
	svc EndOfBlockService
}

func (h hookAdapter) ID() string { return h.id }

func (h hookAdapter) EndOfBlock(view executor.Viewer, height ktypes.Height) error {
	return h.svc.EndOfBlock(view, height)
}

// EndOfBlockHooks returns the canonical-order subset of registered
// services that advertise CapEndOfBlock, wrapped as
// statemachine.EndOfBlockHook. Like Decorators, this is resolved once at
// startup wiring; see DESIGN.md.
func (d *Directory) EndOfBlockHooks() []statemachine.EndOfBlockHook {
	snap := d.current.Load()
	out := make([]statemachine.EndOfBlockHook, 0, len(snap.idOrder))
	for _, id := range snap.idOrder {
		svc := snap.byID[id]
		if !svc.Capabilities().Has(CapEndOfBlock) {
			continue
		}
		if eob, ok := svc.(EndOfBlockService); ok {
			out = append(out, hookAdapter{id: id, svc: eob})
		}
	}
	return out
}

var _ statemachine.EndOfBlockHook = hookAdapter{}
