package codec

import (
	"fmt"

	"github.com/ioi-network/kernel/internal/ktypes"
)

// EncodeValidatorSet canonically encodes a weighted validator set for
// storage under sys/validator_set/{current,next} and for hashing into
// validator_set_hash (spec §4.6 step 7).
func EncodeValidatorSet(vs ktypes.ValidatorSet) []byte {
	buf := make([]byte, 0, 16+64*len(vs.Validators))
	buf = PutUint64(buf, uint64(vs.EffectiveHeight))
	buf = PutUint64(buf, uint64(len(vs.Validators)))
	for _, v := range vs.Validators {
		buf = append(buf, v.AccountID[:]...)
		buf = PutBytes(buf, v.Pubkey)
		buf = PutUint64(buf, v.Weight)
	}
	return buf
}

// DecodeValidatorSet decodes a validator set encoded by EncodeValidatorSet.
func DecodeValidatorSet(b []byte) (ktypes.ValidatorSet, error) {
	r := newReader(b)
	var vs ktypes.ValidatorSet

	eh, err := r.uint64()
	if err != nil {
		return vs, fmt.Errorf("effective height: %w", err)
	}
	vs.EffectiveHeight = ktypes.Height(eh)

	n, err := r.uint64()
	if err != nil {
		return vs, fmt.Errorf("validator count: %w", err)
	}
	vs.Validators = make([]ktypes.Validator, 0, n)
	for i := uint64(0); i < n; i++ {
		acct, err := r.fixed(20)
		if err != nil {
			return vs, fmt.Errorf("validator %d account id: %w", i, err)
		}
		var v ktypes.Validator
		copy(v.AccountID[:], acct)
		if v.Pubkey, err = r.bytes(); err != nil {
			return vs, fmt.Errorf("validator %d pubkey: %w", i, err)
		}
		if v.Weight, err = r.uint64(); err != nil {
			return vs, fmt.Errorf("validator %d weight: %w", i, err)
		}
		vs.Validators = append(vs.Validators, v)
	}
	return vs, nil
}

// EncodeStatus canonically encodes the STATUS key's value (spec §4.6
// commit_block step 9: height, timestamp, total_tx).
func EncodeStatus(s ktypes.Status) []byte {
	buf := make([]byte, 0, 24)
	buf = PutUint64(buf, uint64(s.Height))
	buf = PutUint64(buf, s.Timestamp)
	buf = PutUint64(buf, s.TotalTx)
	return buf
}

// DecodeStatus decodes a STATUS value encoded by EncodeStatus.
func DecodeStatus(b []byte) (ktypes.Status, error) {
	r := newReader(b)
	var s ktypes.Status

	h, err := r.uint64()
	if err != nil {
		return s, fmt.Errorf("height: %w", err)
	}
	s.Height = ktypes.Height(h)

	if s.Timestamp, err = r.uint64(); err != nil {
		return s, fmt.Errorf("timestamp: %w", err)
	}
	if s.TotalTx, err = r.uint64(); err != nil {
		return s, fmt.Errorf("total tx: %w", err)
	}
	return s, nil
}
