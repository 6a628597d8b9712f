package nodestore

import (
	"github.com/cockroachdb/pebble"

	"github.com/ioi-network/kernel/internal/codec"
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// SealEpoch sets the sealed bit in epoch e's manifest (spec §4.1
// seal_epoch). Idempotent: sealing an already-sealed epoch is a no-op.
func (s *Store) SealEpoch(e ktypes.Epoch) error {
	key := codec.TableKey(codec.TableEpochManifest, codec.EpochManifestKey(e))
	if err := s.db.Set(key, []byte{1}, pebble.Sync); err != nil {
		return kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "seal epoch", err)
	}
	return nil
}

// EpochSealed reports whether epoch e's manifest has the sealed bit set.
func (s *Store) EpochSealed(e ktypes.Epoch) (bool, error) {
	key := codec.TableKey(codec.TableEpochManifest, codec.EpochManifestKey(e))
	val, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return false, nil
		}
		return false, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "read epoch manifest", err)
	}
	defer closer.Close()
	return len(val) == 1 && val[0] == 1, nil
}
