// Package statemachine implements spec §4.6's prepare_block/commit_block
// pipeline: the seam between the parallel executor's speculative MVCC
// batch and the durable, authenticated state tree. Grounded on the
// teacher's core/state/endgame_state.go (finality/pending-root
// bookkeeping, re-targeted from SSF vote tracking to the kernel's
// committed-head tracking) and engine/block_builder.go /
// engine/block_assembler.go (re-targeted from Engine-API payload
// assembly to prepare_block's tx-ordering and commit_block's timing
// recompute).
package statemachine

import (
	"sync"

	"github.com/ioi-network/kernel/internal/executor"
	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/internal/statetree"
	"github.com/ioi-network/kernel/pkg/log"
)

var smLog = log.Default().Module("statemachine")

// NodeStore is the subset of *nodestore.Store the state machine needs to
// persist tree versions and blocks. *nodestore.Store satisfies this
// directly.
type NodeStore interface {
	statetree.NodeSink
	PutBlock(h ktypes.Height, raw []byte) error
	RootForHeight(h ktypes.Height) (ktypes.Hash, error)
	HeightForRoot(root ktypes.Hash) (ktypes.Height, error)
	Head() (ktypes.Height, ktypes.Epoch, error)
}

// Pinner prevents a height's state-tree version from being reclaimed by
// GC while it is referenced (spec §4.6 step 2: "Pin the committed_head to
// prevent pruning during execution"). internal/gc's pin multiset
// satisfies this; it is a narrow interface here so statemachine doesn't
// import internal/gc.
type Pinner interface {
	Pin(h ktypes.Height)
	Unpin(h ktypes.Height)
}

// ProofVerifier checks a transaction's payload-specific proof against the
// parent root (spec §4.6 commit_block step 2). Verify reports whether it
// recognizes kind at all; if recognized is false the proof is accepted
// without being re-verified (spec: "unknown proof types are accepted but
// not re-verified here").
type ProofVerifier interface {
	Verify(parentRoot ktypes.Hash, kind ktypes.PayloadKind, proof []byte) (recognized, ok bool)
}

// noopProofVerifier recognizes no proof kind, so every non-empty proof is
// accepted unverified. This is the default until a concrete payload-type
// verifier (VM state proofs, settlement receipts, ...) is wired in by
// internal/service; see DESIGN.md's Open Question resolution.
type noopProofVerifier struct{}

func (noopProofVerifier) Verify(ktypes.Hash, ktypes.PayloadKind, []byte) (bool, bool) {
	return false, false
}

// UpgradeRunner runs pending service upgrades at the start of commit_block
// step 5. It reports whether any upgrade activated, in which case the
// caller refreshes its service directory/metadata cache.
type UpgradeRunner interface {
	RunUpgrades(view executor.Viewer, h ktypes.Height) (activated bool, err error)
}

// noopUpgradeRunner activates nothing, for deployments with no registered
// services yet (internal/service wires a real implementation in).
type noopUpgradeRunner struct{}

func (noopUpgradeRunner) RunUpgrades(executor.Viewer, ktypes.Height) (bool, error) { return false, nil }

// EndOfBlockHook is a registered service's end-of-block callback (spec
// §4.6 commit_block step 6: "Run each service's end-of-block hook under
// an internal tx context"). Hooks run in canonical (lex-sorted) ID order,
// matching the executor's decorator ordering discipline.
type EndOfBlockHook interface {
	ID() string
	EndOfBlock(view executor.Viewer, h ktypes.Height) error
}

// Config configures a new StateMachine.
type Config struct {
	EpochSize uint64

	// TargetGas, MinIntervalMillis and MaxIntervalMillis parameterize the
	// commit_block step 8 timing EMA (spec §4.6).
	TargetGas         uint64
	MinIntervalMillis uint64
	MaxIntervalMillis uint64

	// RecentBlocksCap bounds the in-memory recent-blocks ring (spec §4.6
	// step 12).
	RecentBlocksCap int

	// Debug selects fatal-invariant-violation handling: panic in debug
	// builds, return a typed error in release (spec §7).
	Debug bool

	Pinner        Pinner
	ProofVerifier ProofVerifier
	Upgrades      UpgradeRunner
	EndOfBlock    []EndOfBlockHook

	// RefreshDirectory is called once immediately after RunUpgrades
	// reports an activation (spec §4.6 step 5: "refresh the service
	// directory and its metadata cache"). Nil is a no-op, for
	// deployments with no service directory wired in yet.
	RefreshDirectory func()

	// WeightBasedConsensus enables the post-commit validator-set
	// provability invariant check (spec §4.6: "if the consensus mode is
	// weight-based, the persisted state MUST retain the validator-set
	// key provable at the new root; violation is fatal").
	WeightBasedConsensus bool

	SignatureVerifier executor.SignatureVerifier
	Accounts          *executor.AccountView
	Decorators        []executor.Decorator
	Dispatch          executor.Dispatcher
}

// StateMachine drives prepare_block/commit_block over one authenticated
// state tree and node store (spec §4.6). A tree write lock (writeMu) is
// held across commit_block's steps 3-11 so concurrent queries at
// historical roots never observe a partial commit (spec §5).
type StateMachine struct {
	tree  *statetree.Tree
	store NodeStore

	pinner   Pinner
	proofs   ProofVerifier
	upgrades UpgradeRunner
	hooks    []EndOfBlockHook

	sig        executor.SignatureVerifier
	accounts   *executor.AccountView
	decorators []executor.Decorator
	dispatch   executor.Dispatcher

	epochSize   uint64
	targetGas   uint64
	minInterval uint64
	maxInterval uint64
	recentCap   int
	debug       bool
	weightBased bool
	refreshDir  func()

	writeMu sync.Mutex

	mu            sync.Mutex
	committedHead ktypes.Height
	status        ktypes.Status
	curInterval   uint64
	recentBlocks  []ktypes.Hash
	validators    ktypes.ValidatorSet
	nextValidators *ktypes.ValidatorSet
}

// New returns a StateMachine rooted at tree/store's current state. The
// caller is responsible for having already adopted the tree's in-memory
// root to match store's HEAD (e.g. via statetree.AdoptKnownRoot during
// startup recovery).
func New(tree *statetree.Tree, store NodeStore, cfg Config) (*StateMachine, error) {
	head, _, err := store.Head()
	if err != nil {
		return nil, err
	}

	proofs := cfg.ProofVerifier
	if proofs == nil {
		proofs = noopProofVerifier{}
	}
	upgrades := cfg.Upgrades
	if upgrades == nil {
		upgrades = noopUpgradeRunner{}
	}
	recentCap := cfg.RecentBlocksCap
	if recentCap <= 0 {
		recentCap = 256
	}
	minInterval := cfg.MinIntervalMillis
	if minInterval == 0 {
		minInterval = 400
	}
	maxInterval := cfg.MaxIntervalMillis
	if maxInterval == 0 {
		maxInterval = 12_000
	}
	targetGas := cfg.TargetGas
	if targetGas == 0 {
		targetGas = 15_000_000
	}

	sm := &StateMachine{
		tree:          tree,
		store:         store,
		pinner:        cfg.Pinner,
		proofs:        proofs,
		upgrades:      upgrades,
		hooks:         cfg.EndOfBlock,
		sig:           cfg.SignatureVerifier,
		accounts:      cfg.Accounts,
		decorators:    cfg.Decorators,
		dispatch:      cfg.Dispatch,
		epochSize:     cfg.EpochSize,
		targetGas:     targetGas,
		minInterval:   minInterval,
		maxInterval:   maxInterval,
		recentCap:     recentCap,
		debug:         cfg.Debug,
		weightBased:   cfg.WeightBasedConsensus,
		refreshDir:    cfg.RefreshDirectory,
		committedHead: head,
		curInterval:   minInterval,
	}

	if err := sm.loadValidators(); err != nil {
		return nil, err
	}
	if err := sm.loadStatus(); err != nil {
		return nil, err
	}
	return sm, nil
}

// CommittedHead returns the height of the last successfully committed
// block.
func (sm *StateMachine) CommittedHead() ktypes.Height {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.committedHead
}

// Status returns the in-memory mirror of the STATUS key updated by
// commit_block step 12.
func (sm *StateMachine) Status() ktypes.Status {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.status
}

// RecentBlocks returns the bounded recent-blocks ring, oldest first (spec
// §4.6 step 12).
func (sm *StateMachine) RecentBlocks() []ktypes.Hash {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]ktypes.Hash, len(sm.recentBlocks))
	copy(out, sm.recentBlocks)
	return out
}

// pin pins h if a Pinner is configured and records it for Unpin
// bookkeeping; a nil Pinner (e.g. standalone tree tests) is a no-op.
func (sm *StateMachine) pin(h ktypes.Height) {
	if sm.pinner == nil {
		return
	}
	sm.pinner.Pin(h)
}

func (sm *StateMachine) unpin(h ktypes.Height) {
	if sm.pinner == nil {
		return
	}
	sm.pinner.Unpin(h)
}
