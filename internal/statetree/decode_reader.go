package statetree

import (
	"encoding/binary"

	"github.com/ioi-network/kernel/internal/codec"
)

// decodeReader is a minimal cursor mirroring codec's internal reader,
// duplicated here (rather than exported from codec) since only node
// decoding needs it and the wire format is tree-internal.
type decodeReader struct {
	b   []byte
	off int
}

func newDecodeReader(b []byte) *decodeReader { return &decodeReader{b: b} }

func (r *decodeReader) uint64() (uint64, error) {
	if len(r.b)-r.off < 8 {
		return 0, codec.ErrTruncated
	}
	v := binary.BigEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v, nil
}

func (r *decodeReader) uint32() (uint32, error) {
	if len(r.b)-r.off < 4 {
		return 0, codec.ErrTruncated
	}
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *decodeReader) bytes() ([]byte, error) {
	n, err := r.uint64()
	if err != nil {
		return nil, err
	}
	if uint64(len(r.b)-r.off) < n {
		return nil, codec.ErrTruncated
	}
	out := make([]byte, n)
	copy(out, r.b[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *decodeReader) fixed(n int) ([]byte, error) {
	if len(r.b)-r.off < n {
		return nil, codec.ErrTruncated
	}
	out := make([]byte, n)
	copy(out, r.b[r.off:r.off+n])
	r.off += n
	return out, nil
}
