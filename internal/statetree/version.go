package statetree

import (
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// NodeSink persists a version's newly created nodes in one durable
// commit (spec §4.1 commit_block, §4.2 commit_version_persist).
// *nodestore.Store satisfies this directly.
type NodeSink interface {
	CommitBlock(height ktypes.Height, root ktypes.Hash, newNodes []ktypes.KVPair, uniqueNodesForHeight []ktypes.Hash) error
}

// CommitVersion records that the current in-memory root is the committed
// state for height h, bumping its refcount (spec §4.2 commit_version).
// Calling it twice for the same height with the same root is a no-op
// (idempotent, per spec invariant).
func (t *Tree) CommitVersion(h ktypes.Height) ktypes.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	root := t.root
	if existing, ok := t.versions[h]; ok && existing == root {
		return root
	}
	t.versions[h] = root
	t.refcounts[root]++
	return root
}

// CommitVersionPersist commits the version (as CommitVersion) and flushes
// only the nodes created since the last commit — tracked incrementally
// as Insert/Delete construct new nodes, not discovered by re-walking the
// whole tree — to the sink in one durable commit_block call (spec §4.2
// commit_version_persist). After return, the dirty set is cleared; any
// in-memory-only bookkeeping beyond the node cache may also be dropped.
func (t *Tree) CommitVersionPersist(h ktypes.Height, sink NodeSink) (ktypes.Hash, error) {
	t.mu.Lock()
	root := t.root
	if existing, ok := t.versions[h]; ok && existing == root {
		// idempotent re-commit: nothing new to persist.
		t.mu.Unlock()
		return root, nil
	}
	t.versions[h] = root
	t.refcounts[root]++

	newNodes := make([]ktypes.KVPair, 0, len(t.pending))
	unique := make([]ktypes.Hash, 0, len(t.pending))
	for hash, n := range t.pending {
		newNodes = append(newNodes, ktypes.KVPair{Key: append([]byte(nil), hash[:]...), Value: EncodeNode(n)})
		unique = append(unique, hash)
	}
	pending := t.pending
	t.pending = make(map[ktypes.Hash]*Node)
	t.mu.Unlock()

	if err := sink.CommitBlock(h, root, newNodes, unique); err != nil {
		return ktypes.Hash{}, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "persist version", err)
	}

	// Now that the store has them durably, move the freshly persisted
	// nodes into the evictable LRU cache.
	t.mu.Lock()
	for hash, n := range pending {
		t.cache.Add(hash, n)
	}
	t.mu.Unlock()
	return root, nil
}

// AdoptKnownRoot warm-starts the tree at a root whose nodes are expected
// to already exist in the node store, without materializing them (spec
// §4.2 adopt_known_root). Subsequent reads fault nodes on demand.
func (t *Tree) AdoptKnownRoot(h ktypes.Height, root ktypes.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = root
	t.versions[h] = root
	t.refcounts[root]++
}

// VersionRoot returns the committed root for height h, if known.
func (t *Tree) VersionRoot(h ktypes.Height) (ktypes.Hash, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.versions[h]
	return r, ok
}

// Prune drops the in-memory version record for h and decrements its
// root's refcount, returning the root's refcount after decrementing and
// whether the root is now unreferenced (spec §4.7 prune_batch operates a
// height at a time; the caller is responsible for deciding whether a
// zero-refcount root's nodes should be physically reclaimed, since nodes
// may be shared with still-referenced versions).
func (t *Tree) Prune(h ktypes.Height) (ktypes.Hash, int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, ok := t.versions[h]
	if !ok {
		return ktypes.Hash{}, 0, false
	}
	delete(t.versions, h)
	t.refcounts[root]--
	rc := t.refcounts[root]
	if rc <= 0 {
		delete(t.refcounts, root)
	}
	return root, rc, rc <= 0
}

// RefCount reports the current in-memory refcount for a root (0 if
// unknown or unreferenced).
func (t *Tree) RefCount(root ktypes.Hash) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.refcounts[root]
}

// ResetTo discards every node created since the last CommitVersionPersist
// and rewinds the in-memory root to root, without touching versions or
// refcounts. This is the caller's recovery path when a commit fails
// partway through applying writes (spec §4.6: "Failures in 4-11 are
// fatal to the block ... the write transaction is discarded"): the
// pending nodes those writes created are unreachable from any committed
// version and would otherwise leak until the tree is dropped.
func (t *Tree) ResetTo(root ktypes.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = root
	t.pending = make(map[ktypes.Hash]*Node)
}
