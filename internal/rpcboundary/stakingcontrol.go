package rpcboundary

import (
	"encoding/json"

	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/internal/statetree"
)

// ValidatorSource is the subset of *statemachine.StateMachine
// StakingControl needs, kept narrow the same way BlocksReader/TreeReader
// are so this package doesn't need a concrete statemachine dependency to
// be exercised in isolation.
type ValidatorSource interface {
	CurrentValidators() ktypes.ValidatorSet
	NextValidators() (ktypes.ValidatorSet, bool)
}

// StakingControl implements spec §6's StakingControl surface:
// get_staked_validators, get_next_staked_validators, query_proof,
// verify_handshake_proof. query_proof/verify_handshake_proof are
// supplemented beyond the distilled method list: a validator joining
// mid-epoch needs to prove its own stake entry against a historical
// anchor before the Orchestrator will admit it into the active set
// (spec §4.6 "epoch-bounded node store"), which is exactly
// statetree.GetWithProofAt/VerifyProof applied to the validator's own
// account key.
type StakingControl struct {
	sm     ValidatorSource
	tree   TreeReader
	verify VerifyFunc
}

// NewStakingControl returns a StakingControl over sm/tree, using verify
// to check a validator's handshake signature.
func NewStakingControl(sm ValidatorSource, tree TreeReader, verify VerifyFunc) *StakingControl {
	return &StakingControl{sm: sm, tree: tree, verify: verify}
}

type validatorSetResult struct {
	EffectiveHeight ktypes.Height     `json:"effective_height"`
	Validators      []ktypes.Validator `json:"validators"`
}

// getStakedValidators implements get_staked_validators (spec §6).
func (s *StakingControl) getStakedValidators(json.RawMessage) (interface{}, error) {
	vs := s.sm.CurrentValidators()
	return validatorSetResult{EffectiveHeight: vs.EffectiveHeight, Validators: vs.Validators}, nil
}

type nextValidatorSetResult struct {
	Scheduled bool              `json:"scheduled"`
	Set       validatorSetResult `json:"set,omitempty"`
}

// getNextStakedValidators implements get_next_staked_validators (spec
// §6): reports whether a future validator set is scheduled, alongside
// it if so.
func (s *StakingControl) getNextStakedValidators(json.RawMessage) (interface{}, error) {
	vs, ok := s.sm.NextValidators()
	if !ok {
		return nextValidatorSetResult{Scheduled: false}, nil
	}
	return nextValidatorSetResult{Scheduled: true, Set: validatorSetResult{EffectiveHeight: vs.EffectiveHeight, Validators: vs.Validators}}, nil
}

type queryProofParams struct {
	Root ktypes.Hash `json:"root"`
	Key  []byte      `json:"key"`
}

// queryProof implements query_proof(root, key) -> proof (spec §6): the
// same historical-anchor proof lookup StateQuery.query_state_at offers,
// exposed under StakingControl too so a joining validator does not need
// StateQuery access just to prove its own stake entry.
func (s *StakingControl) queryProof(params json.RawMessage) (interface{}, error) {
	var req queryProofParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindTransaction, kernelerr.CodeTxSerialization, "decode query_proof params", err)
	}
	proof, err := s.tree.GetWithProofAt(req.Root, req.Key)
	if err != nil {
		return nil, err
	}
	return proof, nil
}

// HandshakeProof binds a validator's self-attested stake-entry proof to
// a signature over that proof's root, so the Orchestrator can admit a
// joining node without separately re-deriving the entry itself.
type HandshakeProof struct {
	ValidatorAccountID ktypes.AccountID `json:"validator_account_id"`
	Root               ktypes.Hash      `json:"root"`
	Key                []byte           `json:"key"`
	Proof              *statetree.Proof `json:"proof"`
	Signature          []byte           `json:"signature"`
}

type verifyHandshakeResult struct {
	Valid bool `json:"valid"`
}

// verifyHandshakeProofRPC implements verify_handshake_proof (spec §6):
// the proof must anchor to its claimed root, and the signature must
// verify against the pubkey the current or next validator set has on
// file for ValidatorAccountID.
func (s *StakingControl) verifyHandshakeProofRPC(params json.RawMessage) (interface{}, error) {
	var req HandshakeProof
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindTransaction, kernelerr.CodeTxSerialization, "decode verify_handshake_proof params", err)
	}
	return verifyHandshakeResult{Valid: s.verifyHandshake(req)}, nil
}

func (s *StakingControl) verifyHandshake(hp HandshakeProof) bool {
	if s.verify == nil || hp.Proof == nil {
		return false
	}
	if !statetree.VerifyProof(hp.Root, hp.Key, hp.Proof) {
		return false
	}
	pubkey, ok := s.validatorPubkey(hp.ValidatorAccountID)
	if !ok {
		return false
	}
	return s.verify(pubkey, hp.Root[:], hp.Signature)
}

func (s *StakingControl) validatorPubkey(id ktypes.AccountID) ([]byte, bool) {
	for _, v := range s.sm.CurrentValidators().Validators {
		if v.AccountID == id {
			return v.Pubkey, true
		}
	}
	if next, ok := s.sm.NextValidators(); ok {
		for _, v := range next.Validators {
			if v.AccountID == id {
				return v.Pubkey, true
			}
		}
	}
	return nil, false
}
