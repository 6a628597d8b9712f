package statemachine

import (
	"github.com/holiman/uint256"
)

// timingChangeDenom mirrors the teacher's EIP-1559 base-fee change
// denominator (engine/block_assembler.go's CalcNextBaseFee): at most a
// 1/8th proportional move per block.
const timingChangeDenom = 8

// nextInterval implements commit_block step 8: "Recompute timing (EMA
// over target gas, clamped by [min_interval, max_interval])". Grounded on
// CalcNextBaseFee's proportional EMA adjustment, retargeted from fee
// pricing to block-interval pacing: gas used above target means the
// chain has demand and should shorten the next interval; below target
// lengthens it. uint256 avoids overflow when interval*delta products
// exceed 64 bits on a high-gas chain.
func nextInterval(prevIntervalMillis, targetGas, gasUsed, minIntervalMillis, maxIntervalMillis uint64) uint64 {
	if targetGas == 0 || gasUsed == targetGas {
		return clampInterval(prevIntervalMillis, minIntervalMillis, maxIntervalMillis)
	}

	prev := uint256.NewInt(prevIntervalMillis)
	target := uint256.NewInt(targetGas)
	denom := uint256.NewInt(timingChangeDenom)

	if gasUsed > targetGas {
		over := uint256.NewInt(gasUsed - targetGas)
		delta := new(uint256.Int).Mul(over, prev)
		delta.Div(delta, target)
		delta.Div(delta, denom)
		if delta.IsZero() {
			delta = uint256.NewInt(1)
		}
		if delta.Cmp(prev) >= 0 {
			// Never collapse the interval to zero or below; leave 1ms as
			// the floor before clamping.
			return clampInterval(1, minIntervalMillis, maxIntervalMillis)
		}
		next := new(uint256.Int).Sub(prev, delta)
		return clampInterval(next.Uint64(), minIntervalMillis, maxIntervalMillis)
	}

	under := uint256.NewInt(targetGas - gasUsed)
	delta := new(uint256.Int).Mul(under, prev)
	delta.Div(delta, target)
	delta.Div(delta, denom)
	next := new(uint256.Int).Add(prev, delta)
	return clampInterval(next.Uint64(), minIntervalMillis, maxIntervalMillis)
}

func clampInterval(v, min, max uint64) uint64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
