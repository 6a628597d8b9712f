package nodestore

import (
	"sync"

	"github.com/ioi-network/kernel/internal/ktypes"
)

// overlay is the synchronous in-memory read-your-writes layer populated
// before a commit is handed to the async writer (spec §4.1: "Read-your-
// writes... satisfied by a synchronous in-memory overlay populated
// before the async queue send"). Entries are removed once the
// background writer confirms the corresponding table write, since
// pebble becomes authoritative at that point.
type overlay struct {
	mu sync.RWMutex

	nodes     map[ktypes.Hash][]byte
	hashEpoch map[ktypes.Hash]ktypes.Epoch
	blocks    map[ktypes.Height][]byte
	versions  map[ktypes.Height]ktypes.Hash  // height -> root
	rootIndex map[ktypes.Hash]ktypes.Version // root -> height (Version.Root left unset)
	rootEpoch map[ktypes.Hash]ktypes.Epoch
	head      *headState
}

type headState struct {
	height ktypes.Height
	epoch  ktypes.Epoch
}

func newOverlay() *overlay {
	return &overlay{
		nodes:     make(map[ktypes.Hash][]byte),
		hashEpoch: make(map[ktypes.Hash]ktypes.Epoch),
		blocks:    make(map[ktypes.Height][]byte),
		versions:  make(map[ktypes.Height]ktypes.Hash),
		rootIndex: make(map[ktypes.Hash]ktypes.Version),
		rootEpoch: make(map[ktypes.Hash]ktypes.Epoch),
	}
}

func (o *overlay) putCommit(epoch ktypes.Epoch, e commitEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, kv := range e.newNodes {
		var h ktypes.Hash
		copy(h[:], kv.Key)
		o.nodes[h] = kv.Value
		o.hashEpoch[h] = epoch
	}
	o.versions[e.height] = e.root
	o.rootIndex[e.root] = ktypes.Version{Height: e.height, Root: e.root}
	o.rootEpoch[e.root] = epoch
	o.head = &headState{height: e.height, epoch: epoch}
}

func (o *overlay) putBlock(h ktypes.Height, b []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blocks[h] = b
}

func (o *overlay) clearCommit(e commitEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, kv := range e.newNodes {
		var h ktypes.Hash
		copy(h[:], kv.Key)
		delete(o.nodes, h)
		delete(o.hashEpoch, h)
	}
	delete(o.versions, e.height)
	delete(o.rootIndex, e.root)
	delete(o.rootEpoch, e.root)
}

func (o *overlay) clearBlock(h ktypes.Height) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.blocks, h)
}

func (o *overlay) getNode(hash ktypes.Hash) ([]byte, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.nodes[hash]
	return b, ok
}

func (o *overlay) getHashEpoch(hash ktypes.Hash) (ktypes.Epoch, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.hashEpoch[hash]
	return e, ok
}

func (o *overlay) getBlock(h ktypes.Height) ([]byte, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.blocks[h]
	return b, ok
}

func (o *overlay) getRootForHeight(h ktypes.Height) (ktypes.Hash, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.versions[h]
	return r, ok
}

func (o *overlay) getHeightForRoot(root ktypes.Hash) (ktypes.Height, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.rootIndex[root]
	return v.Height, ok
}

func (o *overlay) getHead() (headState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.head == nil {
		return headState{}, false
	}
	return *o.head, true
}
