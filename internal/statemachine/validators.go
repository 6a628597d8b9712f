package statemachine

import (
	"github.com/ioi-network/kernel/internal/codec"
	"github.com/ioi-network/kernel/internal/hashing"
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// Validator-set and status keys live directly in the state tree (not
// through MVCC) so they are provable at the committed root, per spec
// §4.6's post-commit invariant: "the persisted state MUST retain the
// validator-set key provable at the new root". They are written after the
// block's MVCC batch has already been applied (commit_block steps 4 vs
// 7/9), so there is nothing for them to race against within one block.
var (
	keyValidatorSetCurrent = []byte("sys/validator_set/current")
	keyValidatorSetNext    = []byte("sys/validator_set/next")
	keyStatus              = []byte("sys/status")
)

// loadValidators warm-starts the in-memory validator-set mirror from the
// tree's current root, tolerating a genesis tree with neither key set.
func (sm *StateMachine) loadValidators() error {
	raw, ok, err := sm.tree.Get(keyValidatorSetCurrent)
	if err != nil {
		return err
	}
	if ok {
		vs, err := codec.DecodeValidatorSet(raw)
		if err != nil {
			return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeDecodeFailed, "decode current validator set", err)
		}
		sm.validators = vs
	}

	raw, ok, err = sm.tree.Get(keyValidatorSetNext)
	if err != nil {
		return err
	}
	if ok {
		vs, err := codec.DecodeValidatorSet(raw)
		if err != nil {
			return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeDecodeFailed, "decode next validator set", err)
		}
		sm.nextValidators = &vs
	}
	return nil
}

func (sm *StateMachine) loadStatus() error {
	raw, ok, err := sm.tree.Get(keyStatus)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	st, err := codec.DecodeStatus(raw)
	if err != nil {
		return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeDecodeFailed, "decode status", err)
	}
	sm.status = st
	return nil
}

// SetNextValidatorSet installs the validator set to activate at
// vs.EffectiveHeight, for callers implementing StakingControl's
// validator-rotation surface (spec §6). It only updates the in-memory
// mirror; the write becomes durable the next time commit_block runs
// (promoteAndPersistValidators), keeping validator-set mutation inside the
// single-writer tree lock like every other commit-time write.
func (sm *StateMachine) SetNextValidatorSet(vs ktypes.ValidatorSet) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	cp := vs
	sm.nextValidators = &cp
}

// effectiveValidatorSetForHeight returns the validator set that governs
// block h: the next set if its effective height equals h (prepare_block
// step 7 must anticipate the promotion commit_block step 7 durably
// performs, so the header's validator_set_hash already reflects the set
// that becomes canonical at h), else the current set.
func (sm *StateMachine) effectiveValidatorSetForHeight(h ktypes.Height) ktypes.ValidatorSet {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.nextValidators != nil && sm.nextValidators.EffectiveHeight == h {
		return *sm.nextValidators
	}
	return sm.validators
}

// CurrentValidators returns the validator set active at the committed
// head, for StakingControl's get_staked_validators (spec §6).
func (sm *StateMachine) CurrentValidators() ktypes.ValidatorSet {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.validators
}

// NextValidators returns the pending validator set scheduled to take
// effect at a future height, if any, for StakingControl's
// get_next_staked_validators (spec §6).
func (sm *StateMachine) NextValidators() (ktypes.ValidatorSet, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.nextValidators == nil {
		return ktypes.ValidatorSet{}, false
	}
	return *sm.nextValidators, true
}

// validatorSetHash hashes vs's canonical encoding (spec §4.6 step 7).
func validatorSetHash(vs ktypes.ValidatorSet) ktypes.Hash {
	return hashing.ValidatorSetHash(codec.EncodeValidatorSet(vs))
}

// promoteAndPersistValidators implements commit_block step 7 ("Promote
// the next validator set if its effective height equals h") together
// with the durable write both the current and (if still pending) next
// sets need at every commit so the provable-at-root invariant holds even
// across a no-op commit. Returns the validator set now active at h, for
// the post-commit invariant check.
func (sm *StateMachine) promoteAndPersistValidators(h ktypes.Height) (ktypes.ValidatorSet, error) {
	sm.mu.Lock()
	if sm.nextValidators != nil && sm.nextValidators.EffectiveHeight == h {
		sm.validators = *sm.nextValidators
		sm.nextValidators = nil
	}
	current := sm.validators
	next := sm.nextValidators
	sm.mu.Unlock()

	if err := sm.tree.Insert(keyValidatorSetCurrent, codec.EncodeValidatorSet(current)); err != nil {
		return ktypes.ValidatorSet{}, err
	}
	if next != nil {
		if err := sm.tree.Insert(keyValidatorSetNext, codec.EncodeValidatorSet(*next)); err != nil {
			return ktypes.ValidatorSet{}, err
		}
	} else {
		if err := sm.tree.Delete(keyValidatorSetNext); err != nil {
			return ktypes.ValidatorSet{}, err
		}
	}
	return current, nil
}

// verifyValidatorSetProvable implements the post-commit invariant check
// (spec §4.6: "if the consensus mode is weight-based, the persisted state
// MUST retain the validator-set key provable at the new root; violation
// is fatal"). It re-reads the key at the freshly committed root and
// confirms it decodes to the same set just promoted.
func (sm *StateMachine) verifyValidatorSetProvable(root ktypes.Hash, want ktypes.ValidatorSet) error {
	raw, ok, err := sm.tree.Get(keyValidatorSetCurrent)
	if err != nil {
		return err
	}
	if !ok {
		return sm.fatalInvariant("validator-set key missing from committed state")
	}
	got, err := codec.DecodeValidatorSet(raw)
	if err != nil {
		return sm.fatalInvariant("validator-set key does not decode: " + err.Error())
	}
	if validatorSetHash(got) != validatorSetHash(want) {
		return sm.fatalInvariant("validator-set key does not match the promoted set")
	}
	return nil
}

// fatalInvariant implements spec §7's debug/release split: "Fatal
// invariant violations during commit panic only in debug builds; in
// release, return a typed error."
func (sm *StateMachine) fatalInvariant(detail string) error {
	if sm.debug {
		panic("statemachine: fatal invariant violation: " + detail)
	}
	return kernelerr.New(kernelerr.KindBlock, kernelerr.CodeValidatorSetMismatch, detail)
}
