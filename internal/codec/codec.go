// Package codec implements the kernel's canonical, deterministic byte
// encoding (spec §3 Non-goals: "specific wire encodings beyond
// canonical/deterministic byte encoding requirements" — so the exact
// scheme is our choice). Grounded on the teacher's hand-rolled,
// length-prefixed encode/decode pairs with explicit error wrapping
// (trie/encoding.go, core/state/account_trie.go's encodeTrieAccount/
// decodeTrieAccount), adapted from Ethereum's RLP/account shape to the
// kernel's generic key/value node, transaction, and block types.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ioi-network/kernel/internal/ktypes"
)

// ErrTruncated is returned when a decode runs out of input bytes.
var ErrTruncated = errors.New("codec: truncated input")

// --- primitive helpers -------------------------------------------------

// PutUint64 appends the big-endian encoding of v to buf.
func PutUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// PutUint32 appends the big-endian encoding of v to buf.
func PutUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// PutBytes appends a length-prefixed byte slice to buf.
func PutBytes(buf []byte, b []byte) []byte {
	buf = PutUint64(buf, uint64(len(b)))
	return append(buf, b...)
}

// reader is a minimal cursor over a byte slice used by the Decode* helpers.
type reader struct {
	b   []byte
	off int
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) uint64() (uint64, error) {
	if len(r.b)-r.off < 8 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	if len(r.b)-r.off < 4 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint64()
	if err != nil {
		return nil, err
	}
	if uint64(len(r.b)-r.off) < n {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, r.b[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *reader) fixed(n int) ([]byte, error) {
	if len(r.b)-r.off < n {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, r.b[r.off:r.off+n])
	r.off += n
	return out, nil
}

// --- node store key layouts (spec §6) -----------------------------------

// EpochHeightKey builds VERSIONS[epoch||height].
func EpochHeightKey(e ktypes.Epoch, h ktypes.Height) []byte {
	buf := make([]byte, 0, 16)
	buf = PutUint64(buf, uint64(e))
	buf = PutUint64(buf, uint64(h))
	return buf
}

// EpochHeightSeqKey builds CHANGES[epoch||height||seq].
func EpochHeightSeqKey(e ktypes.Epoch, h ktypes.Height, seq uint64) []byte {
	buf := make([]byte, 0, 24)
	buf = PutUint64(buf, uint64(e))
	buf = PutUint64(buf, uint64(h))
	buf = PutUint64(buf, seq)
	return buf
}

// EpochNodeKey builds NODES[epoch||node_hash] or REFS[epoch||node_hash].
func EpochNodeKey(e ktypes.Epoch, hash ktypes.Hash) []byte {
	buf := make([]byte, 0, 8+ktypes.HashLength)
	buf = PutUint64(buf, uint64(e))
	buf = append(buf, hash[:]...)
	return buf
}

// RootIndexKey builds ROOT_INDEX[root_hash].
func RootIndexKey(root ktypes.Hash) []byte {
	buf := make([]byte, ktypes.HashLength)
	copy(buf, root[:])
	return buf
}

// EncodeRootIndexValue encodes epoch||height for ROOT_INDEX's value.
func EncodeRootIndexValue(e ktypes.Epoch, h ktypes.Height) []byte {
	buf := make([]byte, 0, 16)
	buf = PutUint64(buf, uint64(e))
	buf = PutUint64(buf, uint64(h))
	return buf
}

// DecodeRootIndexValue decodes an EncodeRootIndexValue result.
func DecodeRootIndexValue(b []byte) (ktypes.Epoch, ktypes.Height, error) {
	r := newReader(b)
	e, err := r.uint64()
	if err != nil {
		return 0, 0, fmt.Errorf("decode root index epoch: %w", err)
	}
	h, err := r.uint64()
	if err != nil {
		return 0, 0, fmt.Errorf("decode root index height: %w", err)
	}
	return ktypes.Epoch(e), ktypes.Height(h), nil
}

// HeadKey is the fixed key for the HEAD table.
func HeadKey() []byte { return []byte("HEAD") }

// EncodeHeadValue encodes height||epoch for the HEAD table.
func EncodeHeadValue(h ktypes.Height, e ktypes.Epoch) []byte {
	buf := make([]byte, 0, 16)
	buf = PutUint64(buf, uint64(h))
	buf = PutUint64(buf, uint64(e))
	return buf
}

// DecodeHeadValue decodes an EncodeHeadValue result.
func DecodeHeadValue(b []byte) (ktypes.Height, ktypes.Epoch, error) {
	r := newReader(b)
	h, err := r.uint64()
	if err != nil {
		return 0, 0, fmt.Errorf("decode head height: %w", err)
	}
	e, err := r.uint64()
	if err != nil {
		return 0, 0, fmt.Errorf("decode head epoch: %w", err)
	}
	return ktypes.Height(h), ktypes.Epoch(e), nil
}

// BlockKey builds BLOCKS[height] (big-endian so a prefix scan is also a
// height-ordered scan, per spec §4.1 get_blocks_range).
func BlockKey(h ktypes.Height) []byte {
	buf := make([]byte, 0, 8)
	return PutUint64(buf, uint64(h))
}

// DecodeBlockKey recovers the height from a BlockKey.
func DecodeBlockKey(b []byte) (ktypes.Height, error) {
	r := newReader(b)
	h, err := r.uint64()
	if err != nil {
		return 0, err
	}
	return ktypes.Height(h), nil
}

// EpochManifestKey builds EPOCH_MANIFEST[epoch].
func EpochManifestKey(e ktypes.Epoch) []byte {
	buf := make([]byte, 0, 8)
	return PutUint64(buf, uint64(e))
}

// Table prefixes multiplex the eight spec §6 tables (plus the node
// store's internal hash->epoch resolution index, see below) over pebble's
// single flat keyspace, per "prefix-encoded over a single database".
const (
	TableRootIndex     byte = 'R'
	TableHead          byte = 'H'
	TableEpochManifest byte = 'M'
	TableBlocks        byte = 'B'
	TableVersions      byte = 'V'
	TableChanges       byte = 'C'
	TableRefs          byte = 'F'
	TableNodes         byte = 'N'
	// TableHashEpoch is not one of the spec's named tables: it lets
	// get_node resolve which epoch shard a reused, copy-on-write node
	// hash actually lives in, since a node created in one epoch can stay
	// reachable from roots committed many epochs later (see
	// internal/statetree's DESIGN.md note).
	TableHashEpoch byte = 'X'
)

// TableKey prefixes a within-table key with its table byte.
func TableKey(table byte, key []byte) []byte {
	buf := make([]byte, 0, 1+len(key))
	buf = append(buf, table)
	return append(buf, key...)
}

// HashEpochKey builds the internal TableHashEpoch[node_hash] index key.
func HashEpochKey(hash ktypes.Hash) []byte {
	return TableKey(TableHashEpoch, hash[:])
}
