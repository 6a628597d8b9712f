// Package service implements spec §9's service directory: deep
// inheritance flattened into two capability interfaces (an on-chain
// service and an upgradable service), registered into a directory
// iterated in canonical (lex-sorted) id order, replaced atomically on
// upgrade so readers never observe a partially-swapped snapshot.
// Grounded on the teacher's node/service_registry.go (named-component
// registry, re-targeted from process lifecycle start/stop to
// on-chain call routing) and engine/backend.go (upgrade/versioning
// handling).
package service

import (
	"sort"
	"sync/atomic"

	"github.com/ioi-network/kernel/internal/executor"
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// Capability is a bitset of the optional behaviors a registered service
// may additionally implement, advertised so callers building a
// decorator or end-of-block hook list know which services to probe via
// type assertion (spec §9: "capabilities bitset").
type Capability uint32

const (
	CapDecorator   Capability = 1 << iota // implements executor.Decorator
	CapEndOfBlock                         // implements statemachine.EndOfBlockHook
	CapUpgradable                         // implements UpgradableService
)

// Has reports whether c includes capability bit want.
func (c Capability) Has(want Capability) bool { return c&want != 0 }

// OnChainService is spec §9's first flattened capability interface: a
// registered service's identity, ABI version, state schema, advertised
// capabilities, and its service-call handler (spec §4.5 step 7's
// PayloadServiceCall variant).
type OnChainService interface {
	ID() string
	ABIVersion() uint32
	StateSchema() string
	Capabilities() Capability
	HandleCall(view executor.Viewer, accountID ktypes.AccountID, payload []byte) (proof []byte, gasUsed uint64, err error)
}

// UpgradableService is spec §9's second flattened capability interface:
// a two-phase migration a service runs when it is replaced by a newer
// version (spec §4.6 step 5's upgrade hooks).
type UpgradableService interface {
	// PrepareMigration runs against the outgoing version, given the
	// version it is migrating from.
	PrepareMigration(view executor.Viewer, fromVersion uint32) error
	// CompleteMigration runs against the incoming version once
	// PrepareMigration has succeeded.
	CompleteMigration(view executor.Viewer) error
}

// snapshot is the directory's immutable point-in-time contents; Register
// and upgrade both build a new one and atomically swap it in, so a
// concurrent reader always sees one fully-formed generation (spec §9:
// "replaced atomically on service upgrades; readers see a consistent
// snapshot").
type snapshot struct {
	byID    map[string]OnChainService
	idOrder []string // canonical, lex-sorted
}

func emptySnapshot() *snapshot {
	return &snapshot{byID: make(map[string]OnChainService)}
}

// with returns a new snapshot equal to s with id bound to svc (replacing
// any existing entry), leaving s itself untouched.
func (s *snapshot) with(svc OnChainService) *snapshot {
	next := &snapshot{byID: make(map[string]OnChainService, len(s.byID)+1)}
	for id, v := range s.byID {
		next.byID[id] = v
	}
	next.byID[svc.ID()] = svc
	next.idOrder = make([]string, 0, len(next.byID))
	for id := range next.byID {
		next.idOrder = append(next.idOrder, id)
	}
	sort.Strings(next.idOrder)
	return next
}

// Directory is the service directory + metadata cache of spec §9,
// keyed by service id and iterated in canonical lex order. All methods
// are safe for concurrent use; reads never block a concurrent Register
// or upgrade and vice versa.
type Directory struct {
	current atomic.Pointer[snapshot]
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	d := &Directory{}
	d.current.Store(emptySnapshot())
	return d
}

// Register adds or replaces svc under its own ID, atomically swapping in
// a new snapshot. Direct replacement bypasses the PrepareMigration/
// CompleteMigration two-phase handoff; use Upgrades.Schedule for a
// height-gated, migration-safe replacement of a running service.
func (d *Directory) Register(svc OnChainService) {
	for {
		old := d.current.Load()
		next := old.with(svc)
		if d.current.CompareAndSwap(old, next) {
			return
		}
	}
}

// Lookup returns the currently registered service for id, if any.
func (d *Directory) Lookup(id string) (OnChainService, bool) {
	snap := d.current.Load()
	svc, ok := snap.byID[id]
	return svc, ok
}

// IDs returns every registered service id in canonical (lex-sorted)
// order.
func (d *Directory) IDs() []string {
	snap := d.current.Load()
	out := make([]string, len(snap.idOrder))
	copy(out, snap.idOrder)
	return out
}

// Decorators returns the canonical-order subset of registered services
// that advertise CapDecorator, each type-asserted to executor.Decorator;
// a service that advertises it without implementing it is skipped. Called once at startup wiring (spec §9 scopes
// atomic directory swaps to ServiceCaller dispatch and upgrade hooks;
// protocol-level decorators are a fixed, genesis-configured set — see
// DESIGN.md).
func (d *Directory) Decorators() []executor.Decorator {
	snap := d.current.Load()
	out := make([]executor.Decorator, 0, len(snap.idOrder))
	for _, id := range snap.idOrder {
		svc := snap.byID[id]
		if !svc.Capabilities().Has(CapDecorator) {
			continue
		}
		if dec, ok := svc.(executor.Decorator); ok {
			out = append(out, dec)
		}
	}
	return out
}

// lookupWithCapability resolves id requiring it to advertise want,
// returning a not-found kernel error otherwise.
func (d *Directory) lookupWithCapability(id string, want Capability) (OnChainService, error) {
	svc, ok := d.Lookup(id)
	if !ok {
		return nil, kernelerr.New(kernelerr.KindUpgrade, kernelerr.CodeUpgradeServiceNotFound, "service not registered: "+id)
	}
	if !svc.Capabilities().Has(want) {
		return nil, kernelerr.New(kernelerr.KindUpgrade, kernelerr.CodeUpgradeServiceNotFound, "service does not advertise the required capability: "+id)
	}
	return svc, nil
}
