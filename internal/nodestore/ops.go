package nodestore

import (
	"bytes"

	"github.com/cockroachdb/pebble"

	"github.com/ioi-network/kernel/internal/codec"
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// CommitBlock durably records a new version (spec §4.1 commit_block):
// height, root, the newly created (hash, encoded bytes) node pairs, and
// the set of node hashes unique to this height. The WAL append and
// overlay population happen synchronously before this returns; the
// structured table write is hereafter handled by the background writer.
// This signature is also internal/statetree.NodeSink's contract, so
// *Store satisfies it directly without an adapter.
func (s *Store) CommitBlock(height ktypes.Height, root ktypes.Hash, newNodes []ktypes.KVPair, uniqueNodesForHeight []ktypes.Hash) error {
	entry := commitEntry{
		height:        height,
		root:          root,
		newNodes:      newNodes,
		uniqueHeights: uniqueNodesForHeight,
	}
	if err := s.appendWAL(entry); err != nil {
		return err
	}
	epoch := ktypes.EpochOf(entry.height, s.cfg.EpochSize)
	s.overlay.putCommit(epoch, entry)

	return s.writer.submit(writeJob{commit: &entry})
}

// PutBlock stores a raw block's bytes at height (spec §4.1 put_block),
// following the same synchronous-overlay / async-table pattern.
func (s *Store) PutBlock(h ktypes.Height, raw []byte) error {
	s.overlay.putBlock(h, raw)
	return s.writer.submit(writeJob{block: &blockJob{height: h, bytes: raw}})
}

// GetNode resolves a node by (epoch, hash): overlay, then table (spec
// §4.1 get_node).
func (s *Store) GetNode(epoch ktypes.Epoch, hash ktypes.Hash) ([]byte, error) {
	if b, ok := s.overlay.getNode(hash); ok {
		return b, nil
	}
	key := codec.TableKey(codec.TableNodes, codec.EpochNodeKey(epoch, hash))
	val, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, kernelerr.New(kernelerr.KindState, kernelerr.CodeKeyNotFound, "node not found")
		}
		return nil, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "get node", err)
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// GetNodeByHash resolves a node's owning epoch through the internal
// hash->epoch index, then delegates to GetNode. This is the fault path
// statetree.NodeSource uses, since a copy-on-write subtree's hash can
// outlive the epoch it was first persisted in.
func (s *Store) GetNodeByHash(hash ktypes.Hash) ([]byte, error) {
	if e, ok := s.overlay.getHashEpoch(hash); ok {
		return s.GetNode(e, hash)
	}
	val, closer, err := s.db.Get(codec.HashEpochKey(hash))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, kernelerr.New(kernelerr.KindState, kernelerr.CodeKeyNotFound, "node hash has no known epoch")
		}
		return nil, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "resolve node epoch", err)
	}
	epoch, err := decodeEpoch(val)
	closer.Close()
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeDecodeFailed, "decode node epoch index", err)
	}
	return s.GetNode(epoch, hash)
}

func decodeEpoch(b []byte) (ktypes.Epoch, error) {
	if len(b) != 8 {
		return 0, codec.ErrTruncated
	}
	var e uint64
	for _, c := range b {
		e = e<<8 | uint64(c)
	}
	return ktypes.Epoch(e), nil
}

func encodeEpoch(e ktypes.Epoch) []byte {
	buf := make([]byte, 8)
	v := uint64(e)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}

// RootForHeight resolves the root committed at a height: overlay, then
// table.
func (s *Store) RootForHeight(h ktypes.Height) (ktypes.Hash, error) {
	if r, ok := s.overlay.getRootForHeight(h); ok {
		return r, nil
	}
	// VERSIONS is keyed by epoch||height; scan candidate epochs since the
	// epoch containing h is computable directly.
	epoch := ktypes.EpochOf(h, s.cfg.EpochSize)
	key := codec.TableKey(codec.TableVersions, codec.EpochHeightKey(epoch, h))
	val, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return ktypes.Hash{}, kernelerr.New(kernelerr.KindState, kernelerr.CodeKeyNotFound, "no root recorded for height")
		}
		return ktypes.Hash{}, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "get root for height", err)
	}
	defer closer.Close()
	return ktypes.BytesToHash(val), nil
}

// HeightForRoot resolves the height a root was committed at: overlay,
// then the ROOT_INDEX table.
func (s *Store) HeightForRoot(root ktypes.Hash) (ktypes.Height, error) {
	if h, ok := s.overlay.getHeightForRoot(root); ok {
		return h, nil
	}
	key := codec.TableKey(codec.TableRootIndex, codec.RootIndexKey(root))
	val, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return 0, kernelerr.New(kernelerr.KindState, kernelerr.CodeKeyNotFound, "root not indexed")
		}
		return 0, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "get height for root", err)
	}
	defer closer.Close()
	_, height, err := codec.DecodeRootIndexValue(val)
	if err != nil {
		return 0, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeDecodeFailed, "decode root index entry", err)
	}
	return height, nil
}

// Head returns the current head (height, epoch), overlay first.
func (s *Store) Head() (ktypes.Height, ktypes.Epoch, error) {
	if hs, ok := s.overlay.getHead(); ok {
		return hs.height, hs.epoch, nil
	}
	val, closer, err := s.db.Get(codec.TableKey(codec.TableHead, codec.HeadKey()))
	if err != nil {
		if err == pebble.ErrNotFound {
			return 0, 0, kernelerr.New(kernelerr.KindState, kernelerr.CodeKeyNotFound, "head not set")
		}
		return 0, 0, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "get head", err)
	}
	defer closer.Close()
	return codec.DecodeHeadValue(val)
}

// GetBlocksRange performs a lexicographic (height-ordered) scan starting
// at `start`, stopping at the first of: `limit` blocks collected,
// `max_bytes` reached (always returning at least one block if present),
// or a gap in the height sequence (spec §4.1 get_blocks_range).
func (s *Store) GetBlocksRange(start ktypes.Height, limit int, maxBytes int) ([]ktypes.KVPair, error) {
	lower := codec.TableKey(codec.TableBlocks, codec.BlockKey(start))
	upperHeightKey := codec.BlockKey(ktypes.Height(^uint64(0)))
	upper := codec.TableKey(codec.TableBlocks, upperHeightKey)
	// Pebble's upper bound is exclusive; since BlockKey(max) is the
	// largest possible key in this table, append a sentinel byte so the
	// true maximum height is still included.
	upper = append(upper, 0xFF)

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "open blocks iterator", err)
	}
	defer iter.Close()

	var out []ktypes.KVPair
	totalBytes := 0
	expected := start
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) < 1 || key[0] != codec.TableBlocks {
			continue
		}
		height, err := codec.DecodeBlockKey(key[1:])
		if err != nil {
			return out, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeDecodeFailed, "decode block key", err)
		}
		if height != expected {
			break // gap encountered
		}
		val := iter.Value()
		cp := make([]byte, len(val))
		copy(cp, val)

		if len(out) >= 1 && (len(out) >= limit || totalBytes+len(cp) > maxBytes) {
			break
		}
		out = append(out, ktypes.KVPair{Key: bytes.Clone(key[1:]), Value: cp})
		totalBytes += len(cp)
		expected++
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// applyCommitToTables performs the structured-table side of a commit:
// NODES, REFS, the hash->epoch index, CHANGES, VERSIONS, ROOT_INDEX, and
// HEAD. It is invoked from both the async writer and WAL replay, so it
// must be idempotent — re-applying the same entry is a harmless
// overwrite.
func (s *Store) applyCommitToTables(e commitEntry) error {
	epoch := ktypes.EpochOf(e.height, s.cfg.EpochSize)
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, kv := range e.newNodes {
		var h ktypes.Hash
		copy(h[:], kv.Key)
		if err := batch.Set(codec.TableKey(codec.TableNodes, codec.EpochNodeKey(epoch, h)), kv.Value, nil); err != nil {
			return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "batch set node", err)
		}
		if err := batch.Set(codec.HashEpochKey(h), encodeEpoch(epoch), nil); err != nil {
			return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "batch set hash epoch index", err)
		}
	}
	for seq, h := range e.uniqueHeights {
		key := codec.TableKey(codec.TableChanges, codec.EpochHeightSeqKey(epoch, e.height, uint64(seq)))
		if err := batch.Set(key, h[:], nil); err != nil {
			return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "batch set changes", err)
		}
	}

	versionKey := codec.TableKey(codec.TableVersions, codec.EpochHeightKey(epoch, e.height))
	if err := batch.Set(versionKey, e.root[:], nil); err != nil {
		return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "batch set version", err)
	}

	rootIndexKey := codec.TableKey(codec.TableRootIndex, codec.RootIndexKey(e.root))
	if err := batch.Set(rootIndexKey, codec.EncodeRootIndexValue(epoch, e.height), nil); err != nil {
		return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "batch set root index", err)
	}

	// REFS is incremented here rather than via a read-modify-write inside
	// the batch (pebble batches are blind writes); refcount maintenance
	// beyond "this root now has at least one reference" is the tree's
	// job (internal/statetree tracks in-memory refcounts authoritatively;
	// the store only increments REFS here and removes it wholesale in
	// DropSealedEpoch).
	refsKey := codec.TableKey(codec.TableRefs, codec.EpochNodeKey(epoch, e.root))
	cur, err := s.readRefcount(refsKey)
	if err != nil {
		return err
	}
	// An entry whose VERSIONS row already names this root was counted
	// when it was first applied, so a replay leaves REFS unchanged.
	alreadyApplied := false
	if prev, closer, getErr := s.db.Get(versionKey); getErr == nil {
		alreadyApplied = bytes.Equal(prev, e.root[:])
		closer.Close()
	} else if getErr != pebble.ErrNotFound {
		return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "read version", getErr)
	}
	if !alreadyApplied {
		cur++
	}
	if err := batch.Set(refsKey, encodeRefcount(cur), nil); err != nil {
		return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "batch set refcount", err)
	}

	headKey := codec.TableKey(codec.TableHead, codec.HeadKey())
	if err := batch.Set(headKey, codec.EncodeHeadValue(e.height, epoch), nil); err != nil {
		return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "batch set head", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "commit table batch", err)
	}
	return nil
}

func (s *Store) applyBlockToTable(b *blockJob) error {
	key := codec.TableKey(codec.TableBlocks, codec.BlockKey(b.height))
	if err := s.db.Set(key, b.bytes, pebble.Sync); err != nil {
		return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "put block", err)
	}
	return nil
}

func (s *Store) readRefcount(key []byte) (uint64, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return 0, nil
		}
		return 0, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "read refcount", err)
	}
	defer closer.Close()
	return decodeRefcount(val)
}

func encodeRefcount(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}

func decodeRefcount(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, kernelerr.New(kernelerr.KindState, kernelerr.CodeDecodeFailed, "malformed refcount")
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}
