package rpcboundary

import (
	"encoding/json"
	"testing"

	"github.com/ioi-network/kernel/internal/hashing"
	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/internal/statetree"
)

type fakeValidatorSource struct {
	current ktypes.ValidatorSet
	next    *ktypes.ValidatorSet
}

func (f fakeValidatorSource) CurrentValidators() ktypes.ValidatorSet { return f.current }

func (f fakeValidatorSource) NextValidators() (ktypes.ValidatorSet, bool) {
	if f.next == nil {
		return ktypes.ValidatorSet{}, false
	}
	return *f.next, true
}

func TestGetStakedValidators(t *testing.T) {
	src := fakeValidatorSource{current: ktypes.ValidatorSet{
		EffectiveHeight: 5,
		Validators:      []ktypes.Validator{{AccountID: ktypes.AccountID{1}, Weight: 10}},
	}}
	sc := NewStakingControl(src, newFakeTreeReader(), nil)

	res, err := sc.getStakedValidators(nil)
	if err != nil {
		t.Fatalf("getStakedValidators: %v", err)
	}
	out := res.(validatorSetResult)
	if out.EffectiveHeight != 5 || len(out.Validators) != 1 {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestGetNextStakedValidatorsNoneScheduled(t *testing.T) {
	sc := NewStakingControl(fakeValidatorSource{}, newFakeTreeReader(), nil)
	res, err := sc.getNextStakedValidators(nil)
	if err != nil {
		t.Fatalf("getNextStakedValidators: %v", err)
	}
	if res.(nextValidatorSetResult).Scheduled {
		t.Fatal("expected no scheduled validator set")
	}
}

func TestVerifyHandshakeProof(t *testing.T) {
	key := []byte("stake/validator-1")
	value := []byte("stake")
	root := hashing.LeafHash(key, value)
	existence := &statetree.ExistenceProof{Key: key, Value: value}
	proof := &statetree.Proof{Kind: statetree.ProofExistence, Key: key, Existence: existence}

	validatorID := ktypes.AccountID{7}
	src := fakeValidatorSource{current: ktypes.ValidatorSet{
		Validators: []ktypes.Validator{{AccountID: validatorID, Pubkey: []byte("pub")}},
	}}

	var verifyCalled bool
	sc := NewStakingControl(src, newFakeTreeReader(), func(pubkey, msg, sig []byte) bool {
		verifyCalled = true
		return string(pubkey) == "pub" && string(sig) == "sig"
	})

	hp := HandshakeProof{ValidatorAccountID: validatorID, Root: root, Key: key, Proof: proof, Signature: []byte("sig")}
	valid := sc.verifyHandshake(hp)
	if !valid {
		t.Fatal("expected handshake proof to verify")
	}
	if !verifyCalled {
		t.Fatal("expected signature verifier to be invoked")
	}
}

func TestVerifyHandshakeProofUnknownValidator(t *testing.T) {
	key := []byte("stake/validator-1")
	value := []byte("v")
	root := hashing.LeafHash(key, value)
	proof := &statetree.Proof{Kind: statetree.ProofExistence, Key: key, Existence: &statetree.ExistenceProof{Key: key, Value: value}}

	sc := NewStakingControl(fakeValidatorSource{}, newFakeTreeReader(), func(pubkey, msg, sig []byte) bool { return true })
	hp := HandshakeProof{ValidatorAccountID: ktypes.AccountID{9}, Root: root, Key: key, Proof: proof, Signature: []byte("sig")}
	if sc.verifyHandshake(hp) {
		t.Fatal("expected unknown validator to fail verification")
	}
}

func TestQueryProofRPC(t *testing.T) {
	tree := newFakeTreeReader()
	root := ktypes.Hash{3}
	tree.proofs[root] = map[string]*statetree.Proof{
		"k": {Kind: statetree.ProofExistence, Key: []byte("k"), Existence: &statetree.ExistenceProof{Key: []byte("k"), Value: []byte("v")}},
	}
	sc := NewStakingControl(fakeValidatorSource{}, tree, nil)

	params, _ := json.Marshal(queryProofParams{Root: root, Key: []byte("k")})
	res, err := sc.queryProof(params)
	if err != nil {
		t.Fatalf("queryProof: %v", err)
	}
	proof := res.(*statetree.Proof)
	if proof.Kind != statetree.ProofExistence {
		t.Fatalf("expected existence proof, got %+v", proof)
	}
}
