// Package statetree implements the authenticated, versioned key/value
// store of spec §4.2: an AVL-variant Merkle tree with historical queries,
// membership/non-membership proofs, refcounted version roots, and
// demand-faulting of nodes through a pluggable NodeSource. Grounded on the
// teacher's TrieInterface abstraction (core/state/account_trie.go) and its
// sibling-path proof shape (trie/account_proof.go, trie/binary_proof.go),
// generalized from Keccak(address)-keyed Ethereum accounts to arbitrary
// lexicographically ordered byte keys.
package statetree

import (
	"github.com/ioi-network/kernel/internal/codec"
	"github.com/ioi-network/kernel/internal/hashing"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// Node is one AVL node. Leaves carry Key/Value; inner nodes carry a
// SplitKey (the minimum key of the right subtree) and child hashes only
// — "children are addressed by hash only" (spec §9), so the tree never
// holds a cyclic parent/child pointer graph; the in-memory cache owns
// node bodies keyed by hash.
type Node struct {
	IsLeaf   bool
	Key      []byte // leaf: full key. inner: unused.
	Value    []byte // leaf only.
	SplitKey []byte // inner only.
	Height   int32  // leaf: 0.
	Size     int64  // number of leaves in the subtree.
	Left     ktypes.Hash
	Right    ktypes.Hash

	hash *ktypes.Hash // memoized
}

// Hash returns (and memoizes) this node's domain-separated hash.
func (n *Node) Hash() ktypes.Hash {
	if n.hash != nil {
		return *n.hash
	}
	var h ktypes.Hash
	if n.IsLeaf {
		h = hashing.LeafHash(n.Key, n.Value)
	} else {
		h = hashing.InnerHash(n.Height, n.Size, n.SplitKey, n.Left, n.Right)
	}
	n.hash = &h
	return h
}

func newLeaf(key, value []byte) *Node {
	return &Node{IsLeaf: true, Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)}
}

func newInner(splitKey []byte, left, right *Node) *Node {
	height := left.Height
	if right.Height > height {
		height = right.Height
	}
	return &Node{
		SplitKey: append([]byte(nil), splitKey...),
		Height:   height + 1,
		Size:     leafSize(left) + leafSize(right),
		Left:     left.Hash(),
		Right:    right.Hash(),
	}
}

func leafSize(n *Node) int64 {
	if n.IsLeaf {
		return 1
	}
	return n.Size
}

func balanceFactor(left, right *Node) int32 {
	return left.Height - right.Height
}

// --- encoding (round-trips byte-for-byte, spec §8) ----------------------

// EncodeNode canonically encodes a node for persistence.
func EncodeNode(n *Node) []byte {
	buf := make([]byte, 0, 64+len(n.Key)+len(n.Value)+len(n.SplitKey))
	if n.IsLeaf {
		buf = append(buf, 1)
		buf = codec.PutBytes(buf, n.Key)
		buf = codec.PutBytes(buf, n.Value)
		return buf
	}
	buf = append(buf, 0)
	buf = codec.PutBytes(buf, n.SplitKey)
	buf = codec.PutUint32(buf, uint32(n.Height))
	buf = codec.PutUint64(buf, uint64(n.Size))
	buf = append(buf, n.Left[:]...)
	buf = append(buf, n.Right[:]...)
	return buf
}

// DecodeNode decodes a node encoded by EncodeNode.
func DecodeNode(b []byte) (*Node, error) {
	if len(b) < 1 {
		return nil, codec.ErrTruncated
	}
	isLeaf := b[0] == 1
	r := newDecodeReader(b[1:])
	if isLeaf {
		key, err := r.bytes()
		if err != nil {
			return nil, err
		}
		val, err := r.bytes()
		if err != nil {
			return nil, err
		}
		return newLeaf(key, val), nil
	}
	splitKey, err := r.bytes()
	if err != nil {
		return nil, err
	}
	height, err := r.uint32()
	if err != nil {
		return nil, err
	}
	size, err := r.uint64()
	if err != nil {
		return nil, err
	}
	left, err := r.fixed(ktypes.HashLength)
	if err != nil {
		return nil, err
	}
	right, err := r.fixed(ktypes.HashLength)
	if err != nil {
		return nil, err
	}
	n := &Node{
		SplitKey: splitKey,
		Height:   int32(height),
		Size:     int64(size),
	}
	copy(n.Left[:], left)
	copy(n.Right[:], right)
	return n, nil
}
