package ktypes

// Validator is one member of a weighted validator set (spec §4.6 step 7
// "validator_set_hash", §6 StakingControl's get_staked_validators).
type Validator struct {
	AccountID AccountID
	// Pubkey is a compressed BLS12-381 G1 point (48 bytes), the producer
	// key suite spec §6's block-signing preimage commits to.
	Pubkey []byte
	Weight uint64
}

// ValidatorSet is a weighted validator set activating at EffectiveHeight
// (spec §4.6 step 7: "Promote the next validator set if its effective
// height equals h").
type ValidatorSet struct {
	EffectiveHeight Height
	Validators      []Validator
}
