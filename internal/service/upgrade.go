package service

import (
	"sort"
	"sync"

	"github.com/ioi-network/kernel/internal/executor"
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// pendingUpgrade is a scheduled height-gated service replacement.
type pendingUpgrade struct {
	atHeight ktypes.Height
	next     OnChainService
}

// Upgrades tracks height-gated service replacements and runs them at
// commit_block step 5 (spec §4.6), driving each replaced service's
// UpgradableService two-phase migration before swapping the directory
// entry. Kept separate from Directory itself so a deployment with no
// upgrade machinery can use a bare Directory plus the statemachine
// package's noopUpgradeRunner default.
type Upgrades struct {
	dir *Directory

	mu      sync.Mutex
	pending []pendingUpgrade
}

// NewUpgrades returns an Upgrades runner over dir.
func NewUpgrades(dir *Directory) *Upgrades {
	return &Upgrades{dir: dir}
}

// Schedule registers next to replace the currently registered service
// with the same ID, effective at atHeight. The currently registered
// service must advertise CapUpgradable.
func (u *Upgrades) Schedule(next OnChainService, atHeight ktypes.Height) error {
	if _, err := u.dir.lookupWithCapability(next.ID(), CapUpgradable); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending = append(u.pending, pendingUpgrade{atHeight: atHeight, next: next})
	return nil
}

// PendingUpgrade describes one still-outstanding scheduled upgrade, for
// SystemControl's proposal tally (spec §6).
type PendingUpgrade struct {
	ServiceID string
	AtHeight  ktypes.Height
}

// Pending returns every scheduled-but-not-yet-run upgrade, in canonical
// service-id order.
func (u *Upgrades) Pending() []PendingUpgrade {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]PendingUpgrade, len(u.pending))
	for i, p := range u.pending {
		out[i] = PendingUpgrade{ServiceID: p.next.ID(), AtHeight: p.atHeight}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// RunUpgrades implements statemachine.UpgradeRunner: runs every
// scheduled upgrade whose atHeight equals h, in canonical id order, each
// via its outgoing version's PrepareMigration then its incoming
// version's CompleteMigration, then swaps the directory entry.
func (u *Upgrades) RunUpgrades(view executor.Viewer, h ktypes.Height) (bool, error) {
	u.mu.Lock()
	var due []pendingUpgrade
	var rest []pendingUpgrade
	for _, p := range u.pending {
		if p.atHeight == h {
			due = append(due, p)
		} else {
			rest = append(rest, p)
		}
	}
	u.pending = rest
	u.mu.Unlock()

	if len(due) == 0 {
		return false, nil
	}
	sort.Slice(due, func(i, j int) bool { return due[i].next.ID() < due[j].next.ID() })

	for _, p := range due {
		old, ok := u.dir.Lookup(p.next.ID())
		if !ok {
			return false, kernelerr.New(kernelerr.KindUpgrade, kernelerr.CodeUpgradeServiceNotFound,
				"upgrade target not registered: "+p.next.ID())
		}
		upgradable, ok := old.(UpgradableService)
		if !ok {
			return false, kernelerr.New(kernelerr.KindUpgrade, kernelerr.CodeUpgradeServiceNotFound,
				"outgoing service is not upgradable: "+p.next.ID())
		}
		if err := upgradable.PrepareMigration(view, old.ABIVersion()); err != nil {
			return false, kernelerr.Wrap(kernelerr.KindUpgrade, kernelerr.CodeUpgradeMigrationFailed,
				"prepare migration for "+p.next.ID(), err)
		}
		next, ok := p.next.(UpgradableService)
		if !ok {
			return false, kernelerr.New(kernelerr.KindUpgrade, kernelerr.CodeUpgradeServiceNotFound,
				"incoming service is not upgradable: "+p.next.ID())
		}
		if err := next.CompleteMigration(view); err != nil {
			return false, kernelerr.Wrap(kernelerr.KindUpgrade, kernelerr.CodeUpgradeMigrationFailed,
				"complete migration for "+p.next.ID(), err)
		}
		u.dir.Register(p.next)
	}
	return true, nil
}
