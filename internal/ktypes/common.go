// Package ktypes defines the core data model shared by every kernel
// component: opaque keys/values, heights, epochs, hashes, versions,
// transactions, and blocks (spec §3).
package ktypes

import (
	"encoding/hex"
	"fmt"
)

const (
	// HashLength is the width in bytes of a node hash, root hash, and
	// state anchor.
	HashLength = 32
)

// Hash is a 32-byte cryptographic digest: a Node Hash, Root Hash, or
// State Anchor depending on context.
type Hash [HashLength]byte

// EmptyTreeMarker is the fixed root hash of an empty state tree.
var EmptyTreeMarker = Hash{}

// BytesToHash left-pads b to HashLength and returns it as a Hash.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash parses a 0x-prefixed hex string into a Hash.
func HexToHash(s string) Hash {
	return BytesToHash(fromHex(s))
}

// SetBytes right-aligns b into h, truncating from the left if b is longer
// than HashLength.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// Bytes returns the hash's byte representation.
func (h Hash) Bytes() []byte { return h[:] }

// IsZero reports whether the hash is the all-zero value.
func (h Hash) IsZero() bool { return h == Hash{} }

// Hex returns the 0x-prefixed hex encoding of the hash.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// MarshalJSON encodes the hash as a 0x-prefixed hex string, so RPC
// responses carry hashes the same way the rest of the kernel's hex
// helpers already format them.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.Hex() + `"`), nil
}

// UnmarshalJSON parses a 0x-prefixed (or bare) hex string into h.
func (h *Hash) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		*h = Hash{}
		return nil
	}
	h.SetBytes(fromHex(s))
	return nil
}

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

func fromHex(s string) []byte {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// Height is an unsigned, monotonic block counter. 0 is genesis.
type Height uint64

// Epoch groups consecutive heights sharing one storage prefix.
// EpochOf(h, 0) (epoch_size == 0) means a single epoch for the whole chain.
type Epoch uint64

// EpochOf computes the epoch containing height h under the given epoch
// size. epochSize == 0 means a single epoch for the whole chain (spec §3).
func EpochOf(h Height, epochSize uint64) Epoch {
	if epochSize == 0 {
		return 0
	}
	return Epoch(uint64(h) / epochSize)
}

// EpochBounds returns the half-open height range [start, end) covered by
// epoch e under the given epoch size. If epochSize is 0 the range is
// unbounded ([0, math.MaxUint64]).
func EpochBounds(e Epoch, epochSize uint64) (start, end Height) {
	if epochSize == 0 {
		return 0, Height(^uint64(0))
	}
	start = Height(uint64(e) * epochSize)
	end = Height((uint64(e) + 1) * epochSize)
	return
}

// Version identifies a logical state as a (Height, Root Hash) pair.
type Version struct {
	Height Height
	Root   Hash
}

// Anchor derives the stable external handle for a Root Hash (spec §3:
// "32-byte digest derived by hashing a Root Hash").
func Anchor(root Hash, hashFn func([]byte) Hash) Hash {
	return hashFn(root.Bytes())
}

// AccountID identifies the signer of a transaction.
type AccountID [20]byte

// BytesToAccountID left-pads b into an AccountID.
func BytesToAccountID(b []byte) AccountID {
	var a AccountID
	if len(b) > len(a) {
		b = b[len(b)-len(a):]
	}
	copy(a[len(a)-len(b):], b)
	return a
}

// Hex returns the 0x-prefixed hex encoding of the account id.
func (a AccountID) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a AccountID) String() string { return a.Hex() }

// GoString supports %#v formatting in error messages.
func (a AccountID) GoString() string { return fmt.Sprintf("ktypes.AccountID(%s)", a.Hex()) }
