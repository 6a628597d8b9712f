package statetree

import (
	"bytes"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// NodeSource resolves a node hash to its encoded bytes when the node is
// not present in the tree's in-memory cache (spec §4.2.1: demand-faulting
// through the node store). A nil NodeSource means the tree is purely
// in-memory (e.g. unit tests, or a freshly genesis-initialized tree).
type NodeSource interface {
	GetNodeByHash(hash ktypes.Hash) ([]byte, error)
}

// Tree is an authenticated, versioned AVL-variant key/value store
// (spec §4.2). It is not safe for concurrent mutation; callers serialize
// writes externally (the state machine's tree write lock, spec §5).
type Tree struct {
	mu sync.RWMutex

	cache  *lru.Cache[ktypes.Hash, *Node]
	source NodeSource

	root ktypes.Hash // current in-memory root; zero value means empty

	versions  map[ktypes.Height]ktypes.Hash
	refcounts map[ktypes.Hash]int

	// pending holds nodes created since the last CommitVersionPersist,
	// outside the bounded LRU cache so an eviction can never drop a node
	// that exists nowhere else yet. Persistence flushes exactly this set
	// instead of re-walking everything reachable from root; once
	// persisted, entries move into the ordinary (evictable) cache.
	pending map[ktypes.Hash]*Node

	pendingHeight ktypes.Height
	epochSize     uint64
}

// Config configures a new Tree.
type Config struct {
	CacheSize int // number of nodes to keep in the LRU before faulting
	EpochSize uint64
}

// New creates an empty Tree. source may be nil for a pure in-memory tree.
func New(cfg Config, source NodeSource) (*Tree, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 8192
	}
	cache, err := lru.New[ktypes.Hash, *Node](size)
	if err != nil {
		return nil, fmt.Errorf("statetree: create node cache: %w", err)
	}
	return &Tree{
		cache:     cache,
		source:    source,
		versions:  make(map[ktypes.Height]ktypes.Hash),
		refcounts: make(map[ktypes.Hash]int),
		pending:   make(map[ktypes.Hash]*Node),
		epochSize: cfg.EpochSize,
	}, nil
}

// RootCommitment returns the 32-byte root of the current in-memory state
// (spec §4.2 root_commitment). An empty tree returns the empty marker.
func (t *Tree) RootCommitment() ktypes.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// BeginBlockWrites signals which version number upcoming mutations belong
// to (spec §4.2 begin_block_writes).
func (t *Tree) BeginBlockWrites(h ktypes.Height) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingHeight = h
}

func (t *Tree) getNode(hash ktypes.Hash) (*Node, error) {
	if hash.IsZero() {
		return nil, nil
	}
	if n, ok := t.pending[hash]; ok {
		return n, nil
	}
	if n, ok := t.cache.Get(hash); ok {
		return n, nil
	}
	if t.source == nil {
		return nil, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeKeyNotFound,
			fmt.Sprintf("node %s not in cache and no node source configured", hash.Hex()), nil)
	}
	raw, err := t.source.GetNodeByHash(hash)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "fault node from store", err)
	}
	n, err := DecodeNode(raw)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeDecodeFailed, "decode faulted node", err)
	}
	t.cache.Add(hash, n)
	return n, nil
}

func (t *Tree) putNode(n *Node) ktypes.Hash {
	h := n.Hash()
	t.pending[h] = n
	return h
}

// Get performs a current-version read (spec §4.2 get).
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()
	return t.getAt(root, key)
}

func (t *Tree) getAt(root ktypes.Hash, key []byte) ([]byte, bool, error) {
	n, err := t.getNode(root)
	if err != nil {
		return nil, false, err
	}
	for n != nil {
		if n.IsLeaf {
			if bytes.Equal(n.Key, key) {
				return n.Value, true, nil
			}
			return nil, false, nil
		}
		var next ktypes.Hash
		if bytes.Compare(key, n.SplitKey) < 0 {
			next = n.Left
		} else {
			next = n.Right
		}
		n, err = t.getNode(next)
		if err != nil {
			return nil, false, err
		}
	}
	return nil, false, nil
}

// Insert inserts or updates key with value in the current in-memory
// version (spec §4.2 insert).
func (t *Tree) Insert(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, err := t.getNode(t.root)
	if err != nil {
		return err
	}
	newRoot, _, err := t.insert(root, key, value)
	if err != nil {
		return err
	}
	t.root = t.putNode(newRoot)
	return nil
}

// insert returns the new subtree root and whether the key was newly
// created (false if it replaced an existing leaf's value).
func (t *Tree) insert(n *Node, key, value []byte) (*Node, bool, error) {
	if n == nil {
		return newLeaf(key, value), true, nil
	}
	if n.IsLeaf {
		switch bytes.Compare(key, n.Key) {
		case 0:
			return newLeaf(key, value), false, nil
		case -1:
			left := newLeaf(key, value)
			return newInner(n.Key, left, n), true, nil
		default:
			right := newLeaf(key, value)
			return newInner(key, n, right), true, nil
		}
	}

	left, err := t.getNode(n.Left)
	if err != nil {
		return nil, false, err
	}
	right, err := t.getNode(n.Right)
	if err != nil {
		return nil, false, err
	}

	var created bool
	if bytes.Compare(key, n.SplitKey) < 0 {
		left, created, err = t.insert(left, key, value)
		if err != nil {
			return nil, false, err
		}
	} else {
		right, created, err = t.insert(right, key, value)
		if err != nil {
			return nil, false, err
		}
	}

	merged := newInner(n.SplitKey, left, right)
	t.putNode(left)
	t.putNode(right)
	balanced, err := t.rebalance(merged, left, right)
	if err != nil {
		return nil, false, err
	}
	return balanced, created, nil
}

// rebalance applies AVL rotations given the (already up to date) parent
// node and its direct children.
func (t *Tree) rebalance(n *Node, left, right *Node) (*Node, error) {
	bf := balanceFactor(left, right)
	switch {
	case bf > 1:
		ll, err := t.getNode(left.Left)
		if err != nil {
			return nil, err
		}
		lr, err := t.getNode(left.Right)
		if err != nil {
			return nil, err
		}
		if balanceFactor(ll, lr) < 0 {
			// left-right case: rotate the left subtree left first so the
			// outer rotation below becomes a plain left-left case.
			rotated, err := t.rotateLeft(left)
			if err != nil {
				return nil, err
			}
			t.putNode(rotated)
			return t.rotateRight(newInner(n.SplitKey, rotated, right))
		}
		return t.rotateRight(n)
	case bf < -1:
		rl, err := t.getNode(right.Left)
		if err != nil {
			return nil, err
		}
		rr, err := t.getNode(right.Right)
		if err != nil {
			return nil, err
		}
		if balanceFactor(rl, rr) > 0 {
			newRight := newInner(right.SplitKey, rl, rr)
			rotated, err := t.rotateRight(newRight)
			if err != nil {
				return nil, err
			}
			t.putNode(rotated)
			return t.rotateLeft(newInner(n.SplitKey, left, rotated))
		}
		return t.rotateLeft(n)
	default:
		return n, nil
	}
}

// rotateLeft rotates the subtree rooted at n (n.Right becomes the new
// subtree root).
func (t *Tree) rotateLeft(n *Node) (*Node, error) {
	right, err := t.getNode(n.Right)
	if err != nil {
		return nil, err
	}
	left, err := t.getNode(n.Left)
	if err != nil {
		return nil, err
	}
	rl, err := t.getNode(right.Left)
	if err != nil {
		return nil, err
	}
	newLeft := newInner(n.SplitKey, left, rl)
	t.putNode(newLeft)
	rr, err := t.getNode(right.Right)
	if err != nil {
		return nil, err
	}
	return newInner(right.SplitKey, newLeft, rr), nil
}

// rotateRight rotates the subtree rooted at n (n.Left becomes the new
// subtree root).
func (t *Tree) rotateRight(n *Node) (*Node, error) {
	left, err := t.getNode(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := t.getNode(n.Right)
	if err != nil {
		return nil, err
	}
	lr, err := t.getNode(left.Right)
	if err != nil {
		return nil, err
	}
	newRight := newInner(n.SplitKey, lr, right)
	t.putNode(newRight)
	ll, err := t.getNode(left.Left)
	if err != nil {
		return nil, err
	}
	return newInner(left.SplitKey, ll, newRight), nil
}

// Delete removes key from the current in-memory version (spec §4.2
// delete). It is a no-op (no error) if the key does not exist.
func (t *Tree) Delete(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, err := t.getNode(t.root)
	if err != nil {
		return err
	}
	if root == nil {
		return nil
	}
	newRoot, deleted, err := t.delete(root, key)
	if err != nil {
		return err
	}
	if !deleted {
		return nil
	}
	if newRoot == nil {
		t.root = ktypes.Hash{}
		return nil
	}
	t.root = t.putNode(newRoot)
	return nil
}

func (t *Tree) delete(n *Node, key []byte) (*Node, bool, error) {
	if n == nil {
		return nil, false, nil
	}
	if n.IsLeaf {
		if bytes.Equal(n.Key, key) {
			return nil, true, nil
		}
		return n, false, nil
	}

	left, err := t.getNode(n.Left)
	if err != nil {
		return nil, false, err
	}
	right, err := t.getNode(n.Right)
	if err != nil {
		return nil, false, err
	}

	var deleted bool
	if bytes.Compare(key, n.SplitKey) < 0 {
		left, deleted, err = t.delete(left, key)
	} else {
		right, deleted, err = t.delete(right, key)
	}
	if err != nil {
		return nil, false, err
	}
	if !deleted {
		return n, false, nil
	}

	if left == nil {
		return right, true, nil
	}
	if right == nil {
		return left, true, nil
	}

	splitKey := n.SplitKey
	if bytes.Equal(key, splitKey) {
		// The deleted key was the right subtree's minimum; refresh the
		// split key to the new minimum to keep the split invariant sound.
		leftmost, err := t.descendEdge(right, true)
		if err != nil {
			return nil, false, err
		}
		splitKey = leftmost.Key
	}

	merged := newInner(splitKey, left, right)
	t.putNode(left)
	t.putNode(right)
	balanced, err := t.rebalance(merged, left, right)
	return balanced, true, err
}

func minKey(n *Node) []byte {
	if n.IsLeaf {
		return n.Key
	}
	return n.SplitKey
}

// PrefixScan returns an ordered, de-duplicated set of key/value pairs in
// the range [prefix, lexicographical_successor(prefix)) (spec §4.2
// prefix_scan). Because Insert/Delete mutate the in-memory tree directly,
// this already observes the current block's uncommitted writes merged
// with the last committed version — there is no separate overlay to
// merge.
func (t *Tree) PrefixScan(prefix []byte) ([]ktypes.KVPair, error) {
	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()

	upper := lexicographicalSuccessor(prefix)
	var out []ktypes.KVPair
	n, err := t.getNode(root)
	if err != nil {
		return nil, err
	}
	if err := t.collectRange(n, prefix, upper, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tree) collectRange(n *Node, lo, hi []byte, out *[]ktypes.KVPair) error {
	if n == nil {
		return nil
	}
	if n.IsLeaf {
		if bytes.Compare(n.Key, lo) >= 0 && (hi == nil || bytes.Compare(n.Key, hi) < 0) {
			*out = append(*out, ktypes.KVPair{Key: append([]byte(nil), n.Key...), Value: append([]byte(nil), n.Value...)})
		}
		return nil
	}
	// Prune subtrees that cannot intersect [lo, hi).
	if hi != nil && bytes.Compare(n.SplitKey, hi) >= 0 {
		left, err := t.getNode(n.Left)
		if err != nil {
			return err
		}
		return t.collectRange(left, lo, hi, out)
	}
	if bytes.Compare(n.SplitKey, lo) <= 0 {
		right, err := t.getNode(n.Right)
		if err != nil {
			return err
		}
		return t.collectRange(right, lo, hi, out)
	}
	left, err := t.getNode(n.Left)
	if err != nil {
		return err
	}
	if err := t.collectRange(left, lo, hi, out); err != nil {
		return err
	}
	right, err := t.getNode(n.Right)
	if err != nil {
		return err
	}
	return t.collectRange(right, lo, hi, out)
}

// lexicographicalSuccessor returns the smallest byte string strictly
// greater than every string with the given prefix (spec §4.2: the
// prefix_scan upper bound). Returns nil (unbounded) if prefix is all 0xFF.
func lexicographicalSuccessor(prefix []byte) []byte {
	succ := append([]byte(nil), prefix...)
	for i := len(succ) - 1; i >= 0; i-- {
		if succ[i] != 0xFF {
			succ[i]++
			return succ[:i+1]
		}
	}
	return nil
}
