package mvcc

import (
	"testing"
)

type fakeBase struct {
	values map[string][]byte
}

func (b *fakeBase) Get(key []byte) ([]byte, bool, error) {
	v, ok := b.values[string(key)]
	return v, ok, nil
}

func newFakeBase(kv map[string]string) *fakeBase {
	b := &fakeBase{values: make(map[string][]byte, len(kv))}
	for k, v := range kv {
		b.values[k] = []byte(v)
	}
	return b
}

func TestReadFallsThroughToBase(t *testing.T) {
	base := newFakeBase(map[string]string{"a": "base-a"})
	m := New(base)

	rs := NewReadSet()
	val, ok, err := m.Read(3, []byte("a"), rs)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(val) != "base-a" {
		t.Fatalf("got %q ok=%v, want base-a", val, ok)
	}
	if rs.Len() != 1 {
		t.Fatalf("expected 1 observation, got %d", rs.Len())
	}
	obs := rs.Observations()[0]
	if !obs.Version.IsBase {
		t.Fatalf("expected base version observed")
	}
}

func TestReadSeesLatestWriteAtOrBeforeIndex(t *testing.T) {
	base := newFakeBase(map[string]string{"a": "base-a"})
	m := New(base)

	m.Write(2, []byte("a"), []byte("tx2"))
	m.Write(5, []byte("a"), []byte("tx5"))

	rs := NewReadSet()
	val, ok, err := m.Read(4, []byte("a"), rs)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(val) != "tx2" {
		t.Fatalf("reading at index 4 should see tx2's write (latest <= 4), got %q ok=%v", val, ok)
	}

	rs2 := NewReadSet()
	val, ok, err = m.Read(10, []byte("a"), rs2)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(val) != "tx5" {
		t.Fatalf("reading at index 10 should see tx5's write, got %q ok=%v", val, ok)
	}

	rs3 := NewReadSet()
	val, ok, err = m.Read(1, []byte("a"), rs3)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(val) != "base-a" {
		t.Fatalf("reading at index 1 (before any write) should see base, got %q ok=%v", val, ok)
	}
}

func TestDeleteIsObservedAsAbsent(t *testing.T) {
	base := newFakeBase(map[string]string{"a": "base-a"})
	m := New(base)

	m.Delete(3, []byte("a"))

	rs := NewReadSet()
	_, ok, err := m.Read(5, []byte("a"), rs)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected key to read as absent after a tombstone write")
	}
}

func TestValidateDetectsEarlierRewrite(t *testing.T) {
	base := newFakeBase(map[string]string{"a": "base-a"})
	m := New(base)

	rs := NewReadSet()
	if _, _, err := m.Read(5, []byte("a"), rs); err != nil {
		t.Fatal(err)
	}
	if !m.Validate(5, rs) {
		t.Fatal("expected validation to pass before any conflicting write lands")
	}

	// A lower-indexed transaction commits a write that invalidates tx 5's
	// earlier base-state observation.
	m.Write(2, []byte("a"), []byte("tx2"))

	if m.Validate(5, rs) {
		t.Fatal("expected validation to fail once an earlier write supersedes the observed base version")
	}
}

func TestValidatePassesWhenObservedWriteStillLatest(t *testing.T) {
	base := newFakeBase(nil)
	m := New(base)

	m.Write(2, []byte("a"), []byte("tx2"))

	rs := NewReadSet()
	if _, _, err := m.Read(5, []byte("a"), rs); err != nil {
		t.Fatal(err)
	}
	if !m.Validate(5, rs) {
		t.Fatal("expected validation to pass: observed write is still the latest at-or-before index 5")
	}

	// A later write (index 7) must not affect a read at index 5.
	m.Write(7, []byte("a"), []byte("tx7"))
	if !m.Validate(5, rs) {
		t.Fatal("a write at a higher index must not invalidate an earlier read")
	}
}

func TestDiscardWritesRemovesAbortedIncarnation(t *testing.T) {
	base := newFakeBase(map[string]string{"a": "base-a"})
	m := New(base)

	m.Write(3, []byte("a"), []byte("tx3-v1"))
	m.DiscardWrites(3)

	rs := NewReadSet()
	val, ok, err := m.Read(5, []byte("a"), rs)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(val) != "base-a" {
		t.Fatalf("expected discarded write to no longer be visible, got %q ok=%v", val, ok)
	}
}

func TestApplyToOverlayLastWriterWinsInKeyOrder(t *testing.T) {
	base := newFakeBase(nil)
	m := New(base)

	m.Write(1, []byte("b"), []byte("b-from-tx1"))
	m.Write(3, []byte("a"), []byte("a-from-tx3"))
	m.Write(2, []byte("a"), []byte("a-from-tx2-stale"))
	m.Delete(4, []byte("c"))
	m.Write(0, []byte("c"), []byte("c-from-tx0"))

	batch := m.ApplyToOverlay()
	if len(batch.Inserts) != 2 {
		t.Fatalf("expected 2 inserts, got %d: %+v", len(batch.Inserts), batch.Inserts)
	}
	if string(batch.Inserts[0].Key) != "a" || string(batch.Inserts[0].Value) != "a-from-tx3" {
		t.Fatalf("unexpected first insert: %+v", batch.Inserts[0])
	}
	if string(batch.Inserts[1].Key) != "b" || string(batch.Inserts[1].Value) != "b-from-tx1" {
		t.Fatalf("unexpected second insert: %+v", batch.Inserts[1])
	}
	if len(batch.Deletes) != 1 || string(batch.Deletes[0]) != "c" {
		t.Fatalf("expected c to surface as a delete (last writer tombstoned it), got %+v", batch.Deletes)
	}
}

func TestApplyToOverlayEmptyWhenNoWrites(t *testing.T) {
	m := New(newFakeBase(nil))
	batch := m.ApplyToOverlay()
	if len(batch.Inserts) != 0 || len(batch.Deletes) != 0 {
		t.Fatalf("expected empty batch, got %+v", batch)
	}
}
