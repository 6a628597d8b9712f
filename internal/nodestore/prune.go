package nodestore

import (
	"github.com/cockroachdb/pebble"

	"github.com/ioi-network/kernel/internal/codec"
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/pkg/metrics"
)

// PruneBatch deletes up to `limit` VERSIONS entries below cutoffHeight
// whose height is not in excludedHeights, along with their CHANGES
// entries, and the ROOT_INDEX entry if it still points at the pruned
// height (spec §4.1 prune_batch). Returns the number of versions
// removed.
func (s *Store) PruneBatch(cutoffHeight ktypes.Height, excludedHeights map[ktypes.Height]bool, limit int) (int, error) {
	lower := codec.TableKey(codec.TableVersions, nil)
	upper := append(append([]byte{}, lower...), 0xFF)

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "open versions iterator", err)
	}
	defer iter.Close()

	type candidate struct {
		epoch  ktypes.Epoch
		height ktypes.Height
		root   ktypes.Hash
	}
	var candidates []candidate
	for iter.First(); iter.Valid() && len(candidates) < limit; iter.Next() {
		key := iter.Key()
		if len(key) < 1+16 {
			continue
		}
		epoch, height, err := decodeEpochHeightKey(key[1:])
		if err != nil {
			continue
		}
		if height >= cutoffHeight || excludedHeights[height] {
			continue
		}
		var root ktypes.Hash
		root.SetBytes(iter.Value())
		candidates = append(candidates, candidate{epoch: epoch, height: height, root: root})
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	removed := 0
	for _, c := range candidates {
		versionKey := codec.TableKey(codec.TableVersions, codec.EpochHeightKey(c.epoch, c.height))
		if err := batch.Delete(versionKey, nil); err != nil {
			return removed, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "delete version", err)
		}

		if err := s.deleteChangesForHeight(batch, c.epoch, c.height); err != nil {
			return removed, err
		}

		rootIndexKey := codec.TableKey(codec.TableRootIndex, codec.RootIndexKey(c.root))
		val, closer, err := s.db.Get(rootIndexKey)
		if err == nil {
			_, indexedHeight, decErr := codec.DecodeRootIndexValue(val)
			closer.Close()
			if decErr == nil && indexedHeight == c.height {
				if err := batch.Delete(rootIndexKey, nil); err != nil {
					return removed, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "delete root index", err)
				}
			}
		} else if err != pebble.ErrNotFound {
			return removed, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "read root index during prune", err)
		}
		removed++
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return removed, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "commit prune batch", err)
	}
	metrics.StoragePrunedVersions.Add(int64(removed))
	return removed, nil
}

func (s *Store) deleteChangesForHeight(batch *pebble.Batch, epoch ktypes.Epoch, height ktypes.Height) error {
	prefix := codec.TableKey(codec.TableChanges, codec.EpochHeightKey(epoch, height))
	upper := append(append([]byte{}, prefix...), 0xFF)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "open changes iterator", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := batch.Delete(iter.Key(), nil); err != nil {
			return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "delete changes entry", err)
		}
	}
	return nil
}

// DropSealedEpoch bulk-deletes all keys prefixed by epoch e across NODES,
// REFS, CHANGES, VERSIONS, the hash->epoch index, and the manifest (spec
// §4.1 drop_sealed_epoch). The caller is responsible for verifying no
// pinned height lies in the epoch's height range.
func (s *Store) DropSealedEpoch(e ktypes.Epoch) error {
	sealed, err := s.EpochSealed(e)
	if err != nil {
		return err
	}
	if !sealed {
		return kernelerr.New(kernelerr.KindState, kernelerr.CodeValidationFailed, "cannot drop an unsealed epoch")
	}

	epochBytes := encodeEpoch(e)
	for _, table := range []byte{codec.TableNodes, codec.TableRefs, codec.TableChanges, codec.TableVersions} {
		lower := codec.TableKey(table, epochBytes)
		upper := append(append([]byte{}, lower...), 0xFF)
		if err := s.db.DeleteRange(lower, upper, pebble.Sync); err != nil {
			return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "drop epoch range", err)
		}
	}

	if err := s.dropHashEpochIndexForEpoch(e); err != nil {
		return err
	}

	manifestKey := codec.TableKey(codec.TableEpochManifest, codec.EpochManifestKey(e))
	if err := s.db.Delete(manifestKey, pebble.Sync); err != nil {
		return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "delete epoch manifest", err)
	}
	metrics.StorageEpochsDroppedTotal.Inc()
	return nil
}

// dropHashEpochIndexForEpoch removes hash->epoch index entries pointing
// at e. Unlike the other epoch-prefixed tables, this index is keyed by
// hash (not epoch||hash), so dropping an epoch requires a full scan
// rather than a lexicographic range delete; epoch drops are infrequent
// (spec: triggered by GC, not per-block), so this cost is acceptable.
func (s *Store) dropHashEpochIndexForEpoch(e ktypes.Epoch) error {
	lower := []byte{codec.TableHashEpoch}
	upper := append(append([]byte{}, lower...), 0xFF)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "open hash epoch index iterator", err)
	}
	defer iter.Close()

	batch := s.db.NewBatch()
	defer batch.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		epoch, err := decodeEpoch(iter.Value())
		if err != nil {
			continue
		}
		if epoch == e {
			if err := batch.Delete(iter.Key(), nil); err != nil {
				return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "delete hash epoch entry", err)
			}
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "commit hash epoch index drop", err)
	}
	return nil
}

func decodeEpochHeightKey(b []byte) (ktypes.Epoch, ktypes.Height, error) {
	if len(b) < 16 {
		return 0, 0, kernelerr.New(kernelerr.KindState, kernelerr.CodeDecodeFailed, "truncated epoch/height key")
	}
	e, err := decodeEpoch(b[:8])
	if err != nil {
		return 0, 0, err
	}
	h, err := decodeEpoch(b[8:16])
	if err != nil {
		return 0, 0, err
	}
	return e, ktypes.Height(h), nil
}
