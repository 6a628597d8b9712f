package shmem

import (
	"bytes"
	"path/filepath"
	"testing"
)

func newTestRegion(t *testing.T, size int64) *Region {
	t.Helper()
	path := filepath.Join(t.TempDir(), "region")
	r, err := CreateRegion(path, 7, size)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegionWriteReadRoundTrip(t *testing.T) {
	r := newTestRegion(t, 4096)
	payload := []byte("a large block payload that would not fit inline")

	handle, err := r.Write(payload)
	if err != nil {
		t.Fatal(err)
	}
	if handle.RegionID != 7 {
		t.Fatalf("expected region id 7, got %d", handle.RegionID)
	}

	got, err := r.Read(handle)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("expected %q, got %q", payload, got)
	}
}

func TestRegionWriteFullReturnsErrRegionFull(t *testing.T) {
	r := newTestRegion(t, 8)
	if _, err := r.Write([]byte("way too big for this region")); err != ErrRegionFull {
		t.Fatalf("expected ErrRegionFull, got %v", err)
	}
}

func TestRegionReadMismatchedIDFails(t *testing.T) {
	r := newTestRegion(t, 4096)
	handle, err := r.Write([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	handle.RegionID = 999
	if _, err := r.Read(handle); err != ErrRegionMismatch {
		t.Fatalf("expected ErrRegionMismatch, got %v", err)
	}
}

func TestRegionResetReclaimsSpace(t *testing.T) {
	r := newTestRegion(t, 16)
	if _, err := r.Write([]byte("12345678")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Write([]byte("1234567890")); err == nil {
		t.Fatal("expected the second write to not fit before reset")
	}
	r.Reset()
	handle, err := r.Write([]byte("1234567890"))
	if err != nil {
		t.Fatal(err)
	}
	if handle.Offset != 0 {
		t.Fatalf("expected the allocator to restart at 0 after reset, got offset %d", handle.Offset)
	}
}

func TestWriteOrInlineRespectsThreshold(t *testing.T) {
	r := newTestRegion(t, 4096)

	small := []byte("tiny")
	p := WriteOrInline(r, small, 64)
	if p.Handle != nil || !bytes.Equal(p.Inline, small) {
		t.Fatal("expected a payload at or under threshold to be sent inline")
	}

	large := bytes.Repeat([]byte("x"), 128)
	p = WriteOrInline(r, large, 64)
	if p.Handle == nil {
		t.Fatal("expected a payload over threshold to be written to the region")
	}
}

func TestWriteOrInlineFallsBackWhenRegionFull(t *testing.T) {
	r := newTestRegion(t, 8)
	large := bytes.Repeat([]byte("x"), 128)
	p := WriteOrInline(r, large, 1)
	if p.Handle != nil {
		t.Fatal("expected fallback to inline when the region has no room")
	}
	if !bytes.Equal(p.Inline, large) {
		t.Fatal("expected the inline fallback to carry the original payload")
	}
}

func TestReadOrFallbackInline(t *testing.T) {
	p := Payload{Inline: []byte("hello")}
	data, ok, err := ReadOrFallback(nil, p)
	if err != nil || !ok || !bytes.Equal(data, []byte("hello")) {
		t.Fatalf("unexpected result: data=%q ok=%v err=%v", data, ok, err)
	}
}

func TestReadOrFallbackMismatch(t *testing.T) {
	r := newTestRegion(t, 4096)
	handle, err := r.Write([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}

	other, err := CreateRegion(filepath.Join(t.TempDir(), "other"), 99, 4096)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()

	_, ok, err := ReadOrFallback(other, Payload{Handle: &handle})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected a region_id mismatch to report ok=false")
	}
}

func TestReadOrFallbackReadsThroughMatchingRegion(t *testing.T) {
	r := newTestRegion(t, 4096)
	handle, err := r.Write([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	data, ok, err := ReadOrFallback(r, Payload{Handle: &handle})
	if err != nil || !ok || !bytes.Equal(data, []byte("payload")) {
		t.Fatalf("unexpected result: data=%q ok=%v err=%v", data, ok, err)
	}
}
