// Package shmem implements spec §6's shared-memory data plane: large
// RPC payloads (blocks over DefaultInlineThreshold by default) are
// written into a named shared memory region and the RPC carries a
// handle {region_id, offset, length} instead of the bytes themselves.
// The receiving side verifies the handle's region_id against the region
// it has attached; on mismatch it falls back to sending the payload
// inline.
//
// The teacher has no shared-memory IPC of its own; this package is
// sourced from the retrieval pack's erigon-style dependency on
// github.com/edsrzf/mmap-go, which wraps the mmap(2)/MapViewOfFile
// syscalls this region implementation needs.
package shmem

import (
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/ioi-network/kernel/pkg/metrics"
)

// DefaultInlineThreshold is the payload size above which callers should
// prefer a shared region over sending bytes inline (spec §6: "large
// payloads (blocks > 64 KiB by default)").
const DefaultInlineThreshold = 64 * 1024

// Handle is the {region_id, offset, length} triple an RPC carries in
// place of a large payload's bytes (spec §6).
type Handle struct {
	RegionID uint64
	Offset   uint64
	Length   uint64
}

// Region is one named, memory-mapped shared region. Writers append
// payloads via a bump allocator; Reset reclaims the whole region once
// every outstanding handle into it has been consumed, matching this
// data plane's one-request-then-reclaim usage (a block payload is
// written, read exactly once by the RPC peer, then the region is freed
// for the next one).
type Region struct {
	id   uint64
	path string
	file *os.File
	data mmap.MMap

	mu     sync.Mutex
	cursor uint64
}

// CreateRegion creates (or truncates) the backing file at path, sized
// size bytes, and maps it for read/write access under id.
func CreateRegion(path string, id uint64, size int64) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmem: create region file: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("shmem: size region file: %w", err)
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shmem: map region: %w", err)
	}
	return &Region{id: id, path: path, file: f, data: data}, nil
}

// OpenRegion attaches to an existing region file at path under id, as
// the RPC peer that did not create it.
func OpenRegion(path string, id uint64) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmem: open region file: %w", err)
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shmem: map region: %w", err)
	}
	return &Region{id: id, path: path, file: f, data: data}, nil
}

// ID returns the region's attached id, checked by the peer against
// every handle it receives.
func (r *Region) ID() uint64 { return r.id }

// ErrRegionFull is returned by Write when payload would not fit in the
// remaining unreserved space; the caller should fall back to sending
// the payload inline.
var ErrRegionFull = fmt.Errorf("shmem: region has no room for payload")

// ErrRegionMismatch is returned by Read when handle.RegionID does not
// match this region's own id (spec §6: "on mismatch, falls back to
// inline").
var ErrRegionMismatch = fmt.Errorf("shmem: handle region_id does not match attached region")

// Write copies payload into the region's unused tail and returns a
// handle describing its placement. Returns ErrRegionFull if there is
// not enough room; the caller should fall back to an inline transfer
// rather than treat this as fatal.
func (r *Region) Write(payload []byte) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cursor+uint64(len(payload)) > uint64(len(r.data)) {
		metrics.ShmemFallbackInlineTotal.Inc()
		return Handle{}, ErrRegionFull
	}
	offset := r.cursor
	copy(r.data[offset:], payload)
	r.cursor += uint64(len(payload))

	metrics.ShmemWritesTotal.Inc()
	metrics.ShmemRegionBytesUsed.Set(int64(r.cursor))
	return Handle{RegionID: r.id, Offset: offset, Length: uint64(len(payload))}, nil
}

// Read validates handle against this region's id and bounds, then
// returns a copy of the referenced bytes.
func (r *Region) Read(handle Handle) ([]byte, error) {
	if handle.RegionID != r.id {
		return nil, ErrRegionMismatch
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	end := handle.Offset + handle.Length
	if end < handle.Offset || end > uint64(len(r.data)) {
		return nil, fmt.Errorf("shmem: handle out of bounds (offset=%d length=%d region=%d)", handle.Offset, handle.Length, len(r.data))
	}
	out := make([]byte, handle.Length)
	copy(out, r.data[handle.Offset:end])
	return out, nil
}

// Reset rewinds the bump allocator to the start of the region. Callers
// must only do this once every handle previously written is known to
// have been consumed by its peer.
func (r *Region) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = 0
	metrics.ShmemRegionBytesUsed.Set(0)
}

// Close unmaps and closes the region's backing file.
func (r *Region) Close() error {
	if err := r.data.Unmap(); err != nil {
		return fmt.Errorf("shmem: unmap region: %w", err)
	}
	return r.file.Close()
}
