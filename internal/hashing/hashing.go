// Package hashing implements the kernel's domain-separated hashing policy
// (spec §4.2.2): leaves and inner nodes are hashed under distinct domain
// tags to prevent second-preimage attacks across node types, and inner
// node preimages bind height, size, and split key to prevent shape
// forgery. Grounded on the teacher's leaf/branch preimage construction in
// trie/binary_proof.go (domain tag byte + length-prefixed fields), using
// blake2b-256 (golang.org/x/crypto, a teacher direct dependency) in place
// of the teacher's keccak256 since spec.md's Non-goals explicitly exclude
// pinning a specific hash algorithm.
package hashing

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/ioi-network/kernel/internal/ktypes"
)

// Domain tags. Each hashed structure is prefixed with exactly one of
// these single bytes so no valid leaf preimage can ever collide with a
// valid inner-node (or block-header, or anchor) preimage.
const (
	DomainLeaf             byte = 0x00
	DomainInner            byte = 0x01
	DomainAnchor           byte = 0x02
	DomainBlockHeader      byte = 0x03
	DomainTransactionsRoot byte = 0x04
	DomainValidatorSet     byte = 0x05
)

// Sum256 returns the blake2b-256 digest of data as a ktypes.Hash.
func Sum256(data []byte) ktypes.Hash {
	h := blake2b.Sum256(data)
	return ktypes.Hash(h)
}

// LeafHash hashes a tree leaf. The preimage length-prefixes the key and
// includes the prehashed value (spec §4.2.2: "leaf preimages
// length-prefix key and prehashed value").
func LeafHash(key, value []byte) ktypes.Hash {
	valueHash := Sum256(value)

	buf := make([]byte, 0, 1+8+len(key)+32)
	buf = append(buf, DomainLeaf)
	buf = appendUint64(buf, uint64(len(key)))
	buf = append(buf, key...)
	buf = append(buf, valueHash[:]...)
	return Sum256(buf)
}

// InnerHash hashes an inner node. The preimage binds height, size, and a
// split key to the two child hashes (spec §4.2.2: "Inner nodes include
// height, size, and a split key in their preimage to bind shape").
func InnerHash(height int32, size int64, splitKey []byte, left, right ktypes.Hash) ktypes.Hash {
	buf := make([]byte, 0, 1+4+8+8+len(splitKey)+32+32)
	buf = append(buf, DomainInner)
	buf = appendUint32(buf, uint32(height))
	buf = appendUint64(buf, uint64(size))
	buf = appendUint64(buf, uint64(len(splitKey)))
	buf = append(buf, splitKey...)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return Sum256(buf)
}

// Anchor derives the stable external state anchor from a root hash
// (spec §3: "State Anchor ... stable external handle to a historical
// state").
func Anchor(root ktypes.Hash) ktypes.Hash {
	buf := make([]byte, 0, 1+32)
	buf = append(buf, DomainAnchor)
	buf = append(buf, root[:]...)
	return Sum256(buf)
}

// HeaderHash hashes a block header's encoded identity bytes under the
// block-header domain tag, giving BlockHeader.Hash a concrete hashFn
// (spec §4.6 step 7: the parent_hash the next block links to).
func HeaderHash(encoded []byte) ktypes.Hash {
	buf := make([]byte, 0, 1+len(encoded))
	buf = append(buf, DomainBlockHeader)
	buf = append(buf, encoded...)
	return Sum256(buf)
}

// TransactionsRoot folds an ordered transaction list into one
// domain-separated digest: a hash chain rather than a full Merkle tree,
// since transactions_root is committed to but never opened with a
// per-transaction membership proof (state_root is the tree that needs
// one; spec §3 Non-goals leave the transactions root's internal shape
// unspecified).
func TransactionsRoot(encodedTxs [][]byte) ktypes.Hash {
	acc := Sum256([]byte{DomainTransactionsRoot})
	for _, tx := range encodedTxs {
		buf := make([]byte, 0, 1+32+8+len(tx))
		buf = append(buf, DomainTransactionsRoot)
		buf = append(buf, acc[:]...)
		buf = appendUint64(buf, uint64(len(tx)))
		buf = append(buf, tx...)
		acc = Sum256(buf)
	}
	return acc
}

// ValidatorSetHash hashes a validator set's canonical encoding under its
// own domain tag, giving validator_set_hash (spec §4.6 step 7) the same
// collision-domain separation every other committed digest gets.
func ValidatorSetHash(encoded []byte) ktypes.Hash {
	buf := make([]byte, 0, 1+len(encoded))
	buf = append(buf, DomainValidatorSet)
	buf = append(buf, encoded...)
	return Sum256(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}
