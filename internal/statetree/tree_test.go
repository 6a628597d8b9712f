package statetree

import (
	"fmt"
	"testing"

	"github.com/ioi-network/kernel/internal/ktypes"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	tr, err := New(Config{CacheSize: 1024}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func TestInsertGetRoundTrip(t *testing.T) {
	tr := newTestTree(t)
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		val := []byte(fmt.Sprintf("value-%03d", i))
		if err := tr.Insert(key, val); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		got, ok, err := tr.Get(key)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("key %d missing", i)
		}
		want := fmt.Sprintf("value-%03d", i)
		if string(got) != want {
			t.Fatalf("key %d: got %q want %q", i, got, want)
		}
	}
}

func TestGetMissingKey(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	_, ok, err := tr.Get([]byte("zzz"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected missing key to return ok=false")
	}
}

func TestUpdateExistingKey(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert([]byte("a"), []byte("2")); err != nil {
		t.Fatal(err)
	}
	got, ok, err := tr.Get([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != "2" {
		t.Fatalf("got %q want %q", got, "2")
	}
}

func TestDelete(t *testing.T) {
	tr := newTestTree(t)
	keys := []string{"a", "b", "c", "d", "e", "f", "g"}
	for _, k := range keys {
		if err := tr.Insert([]byte(k), []byte("v-"+k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tr.Delete([]byte("c")); err != nil {
		t.Fatal(err)
	}
	_, ok, err := tr.Get([]byte("c"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected c to be deleted")
	}
	for _, k := range []string{"a", "b", "d", "e", "f", "g"} {
		_, ok, err := tr.Get([]byte(k))
		if err != nil || !ok {
			t.Fatalf("expected %s to survive deletion of c", k)
		}
	}
}

func TestDeleteMissingKeyIsNoop(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Delete([]byte("zzz")); err != nil {
		t.Fatalf("delete of missing key should not error: %v", err)
	}
}

func TestRootChangesDeterministicallyWithContent(t *testing.T) {
	tr1 := newTestTree(t)
	tr2 := newTestTree(t)
	for _, tr := range []*Tree{tr1, tr2} {
		for _, k := range []string{"x", "y", "z"} {
			if err := tr.Insert([]byte(k), []byte("v-"+k)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if tr1.RootCommitment() != tr2.RootCommitment() {
		t.Fatalf("expected identical content to produce identical roots")
	}
}

func TestPrefixScan(t *testing.T) {
	tr := newTestTree(t)
	for _, k := range []string{"acct/1", "acct/2", "acct/3", "other/1"} {
		if err := tr.Insert([]byte(k), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	got, err := tr.PrefixScan([]byte("acct/"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if string(got[i-1].Key) >= string(got[i].Key) {
			t.Fatalf("results not in ascending order: %s, %s", got[i-1].Key, got[i].Key)
		}
	}
}

func TestExistenceProofVerifies(t *testing.T) {
	tr := newTestTree(t)
	for i := 0; i < 20; i++ {
		if err := tr.Insert([]byte(fmt.Sprintf("k%02d", i)), []byte(fmt.Sprintf("v%02d", i))); err != nil {
			t.Fatal(err)
		}
	}
	root := tr.RootCommitment()
	proof, err := tr.GetWithProofAt(root, []byte("k10"))
	if err != nil {
		t.Fatal(err)
	}
	if proof.Kind != ProofExistence {
		t.Fatalf("expected existence proof, got kind %v", proof.Kind)
	}
	if !VerifyProof(root, []byte("k10"), proof) {
		t.Fatalf("existence proof did not verify")
	}
}

func TestNonExistenceProofVerifies(t *testing.T) {
	tr := newTestTree(t)
	for _, k := range []string{"b", "d", "f", "h"} {
		if err := tr.Insert([]byte(k), []byte("v-"+k)); err != nil {
			t.Fatal(err)
		}
	}
	root := tr.RootCommitment()
	proof, err := tr.GetWithProofAt(root, []byte("e"))
	if err != nil {
		t.Fatal(err)
	}
	if proof.Kind != ProofNonExistence {
		t.Fatalf("expected non-existence proof, got kind %v", proof.Kind)
	}
	if !VerifyProof(root, []byte("e"), proof) {
		t.Fatalf("non-existence proof did not verify")
	}
	if proof.Predecessor == nil || string(proof.Predecessor.Key) != "d" {
		t.Fatalf("expected predecessor d, got %+v", proof.Predecessor)
	}
	if proof.Successor == nil || string(proof.Successor.Key) != "f" {
		t.Fatalf("expected successor f, got %+v", proof.Successor)
	}
}

func TestNonExistenceProofBelowMinimum(t *testing.T) {
	tr := newTestTree(t)
	for _, k := range []string{"m", "n", "o"} {
		if err := tr.Insert([]byte(k), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	root := tr.RootCommitment()
	proof, err := tr.GetWithProofAt(root, []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if proof.Predecessor != nil {
		t.Fatalf("expected no predecessor below minimum key")
	}
	if proof.Successor == nil {
		t.Fatalf("expected a successor bound")
	}
	if !VerifyProof(root, []byte("a"), proof) {
		t.Fatalf("proof did not verify")
	}
}

func TestForgedProofFailsVerification(t *testing.T) {
	tr := newTestTree(t)
	for i := 0; i < 10; i++ {
		if err := tr.Insert([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	root := tr.RootCommitment()
	proof, err := tr.GetWithProofAt(root, []byte("k3"))
	if err != nil {
		t.Fatal(err)
	}
	proof.Existence.Value = []byte("forged")
	if VerifyProof(root, []byte("k3"), proof) {
		t.Fatalf("forged proof must not verify")
	}
}

func TestNodeEncodeDecodeRoundTrip(t *testing.T) {
	leaf := newLeaf([]byte("k"), []byte("v"))
	encoded := EncodeNode(leaf)
	decoded, err := DecodeNode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded.Key) != "k" || string(decoded.Value) != "v" || !decoded.IsLeaf {
		t.Fatalf("leaf round trip mismatch: %+v", decoded)
	}

	left := newLeaf([]byte("a"), []byte("1"))
	right := newLeaf([]byte("b"), []byte("2"))
	inner := newInner([]byte("b"), left, right)
	encoded = EncodeNode(inner)
	decoded, err = DecodeNode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.IsLeaf || string(decoded.SplitKey) != "b" || decoded.Height != 1 || decoded.Size != 2 {
		t.Fatalf("inner round trip mismatch: %+v", decoded)
	}
	if decoded.Left != left.Hash() || decoded.Right != right.Hash() {
		t.Fatalf("inner child hashes did not round trip")
	}
}

// inMemorySink is a minimal NodeSink for exercising CommitVersionPersist
// without depending on internal/nodestore.
type inMemorySink struct {
	nodes     map[ktypes.Hash][]byte
	versions  map[ktypes.Height]ktypes.Hash
	refcounts map[ktypes.Hash]int
}

func newInMemorySink() *inMemorySink {
	return &inMemorySink{
		nodes:     make(map[ktypes.Hash][]byte),
		versions:  make(map[ktypes.Height]ktypes.Hash),
		refcounts: make(map[ktypes.Hash]int),
	}
}

func (s *inMemorySink) CommitBlock(height ktypes.Height, root ktypes.Hash, newNodes []ktypes.KVPair, uniqueNodesForHeight []ktypes.Hash) error {
	for _, kv := range newNodes {
		var h ktypes.Hash
		h.SetBytes(kv.Key)
		s.nodes[h] = kv.Value
	}
	s.versions[height] = root
	s.refcounts[root]++
	return nil
}

func TestCommitVersionPersistThenAdopt(t *testing.T) {
	tr := newTestTree(t)
	for i := 0; i < 10; i++ {
		if err := tr.Insert([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	sink := newInMemorySink()
	root, err := tr.CommitVersionPersist(ktypes.Height(1), sink)
	if err != nil {
		t.Fatal(err)
	}
	if len(sink.nodes) == 0 {
		t.Fatalf("expected nodes to be persisted")
	}
	if sink.versions[1] != root {
		t.Fatalf("version index mismatch")
	}

	// A fresh tree backed only by the sink's nodes should resolve reads via
	// demand-faulting.
	tr2, err := New(Config{CacheSize: 16}, sinkAsSource{sink})
	if err != nil {
		t.Fatal(err)
	}
	tr2.AdoptKnownRoot(ktypes.Height(1), root)
	val, ok, err := tr2.Get([]byte("k5"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(val) != "v5" {
		t.Fatalf("faulted read mismatch: ok=%v val=%q", ok, val)
	}
}

type sinkAsSource struct{ s *inMemorySink }

func (s sinkAsSource) GetNodeByHash(hash ktypes.Hash) ([]byte, error) {
	return s.s.nodes[hash], nil
}

func TestCommitVersionIdempotent(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	root1 := tr.CommitVersion(ktypes.Height(5))
	root2 := tr.CommitVersion(ktypes.Height(5))
	if root1 != root2 {
		t.Fatalf("expected idempotent commit to return the same root")
	}
	if rc := tr.RefCount(root1); rc != 1 {
		t.Fatalf("expected refcount 1 after idempotent double-commit, got %d", rc)
	}
}

func TestPruneDecrementsRefcount(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	root := tr.CommitVersion(ktypes.Height(1))
	if rc := tr.RefCount(root); rc != 1 {
		t.Fatalf("expected refcount 1, got %d", rc)
	}
	gotRoot, rc, unreferenced := tr.Prune(ktypes.Height(1))
	if gotRoot != root {
		t.Fatalf("prune returned wrong root")
	}
	if rc != 0 || !unreferenced {
		t.Fatalf("expected root to become unreferenced, got rc=%d unreferenced=%v", rc, unreferenced)
	}
}

func TestPruneSharedRootStaysReferenced(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	root := tr.CommitVersion(ktypes.Height(1))
	tr.mu.Lock()
	tr.versions[2] = root
	tr.refcounts[root]++
	tr.mu.Unlock()

	_, rc, unreferenced := tr.Prune(ktypes.Height(1))
	if unreferenced {
		t.Fatalf("root shared with height 2 must not be reported unreferenced")
	}
	if rc != 1 {
		t.Fatalf("expected refcount 1 after pruning one of two references, got %d", rc)
	}
}
