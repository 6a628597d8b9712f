package rpcboundary

import (
	"encoding/json"
	"testing"

	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/internal/statetree"
)

type fakeTreeReader struct {
	flat   map[string][]byte
	proofs map[ktypes.Hash]map[string]*statetree.Proof
}

func newFakeTreeReader() *fakeTreeReader {
	return &fakeTreeReader{flat: make(map[string][]byte), proofs: make(map[ktypes.Hash]map[string]*statetree.Proof)}
}

func (f *fakeTreeReader) Get(key []byte) ([]byte, bool, error) {
	v, ok := f.flat[string(key)]
	return v, ok, nil
}

func (f *fakeTreeReader) GetWithProofAt(root ktypes.Hash, key []byte) (*statetree.Proof, error) {
	byKey := f.proofs[root]
	if byKey == nil {
		return &statetree.Proof{Kind: statetree.ProofNonExistence, Key: key}, nil
	}
	if p, ok := byKey[string(key)]; ok {
		return p, nil
	}
	return &statetree.Proof{Kind: statetree.ProofNonExistence, Key: key}, nil
}

func (f *fakeTreeReader) PrefixScan(prefix []byte) ([]ktypes.KVPair, error) {
	var out []ktypes.KVPair
	for k, v := range f.flat {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			out = append(out, ktypes.KVPair{Key: []byte(k), Value: v})
		}
	}
	return out, nil
}

func TestQueryRawState(t *testing.T) {
	tree := newFakeTreeReader()
	tree.flat["k1"] = []byte("v1")
	sq := NewStateQuery(tree, nil, nil)

	params, _ := json.Marshal(queryRawStateParams{Key: []byte("k1")})
	res, err := sq.queryRawState(params)
	if err != nil {
		t.Fatalf("queryRawState: %v", err)
	}
	out := res.(queryRawStateResult)
	if !out.Found || string(out.Value) != "v1" {
		t.Fatalf("unexpected result: %+v", out)
	}

	params, _ = json.Marshal(queryRawStateParams{Key: []byte("missing")})
	res, err = sq.queryRawState(params)
	if err != nil {
		t.Fatalf("queryRawState: %v", err)
	}
	if res.(queryRawStateResult).Found {
		t.Fatal("expected not found")
	}
}

func TestQueryStateAtMembership(t *testing.T) {
	tree := newFakeTreeReader()
	root := ktypes.Hash{1}
	tree.proofs[root] = map[string]*statetree.Proof{
		"present": {Kind: statetree.ProofExistence, Key: []byte("present"), Existence: &statetree.ExistenceProof{Key: []byte("present"), Value: []byte("v")}},
	}
	sq := NewStateQuery(tree, nil, nil)

	params, _ := json.Marshal(queryStateAtParams{Root: root, Key: []byte("present")})
	res, err := sq.queryStateAt(params)
	if err != nil {
		t.Fatalf("queryStateAt: %v", err)
	}
	if res.(queryStateAtResult).Membership != "present" {
		t.Fatalf("expected present, got %+v", res)
	}

	params, _ = json.Marshal(queryStateAtParams{Root: root, Key: []byte("absent")})
	res, err = sq.queryStateAt(params)
	if err != nil {
		t.Fatalf("queryStateAt: %v", err)
	}
	if res.(queryStateAtResult).Membership != "absent" {
		t.Fatalf("expected absent, got %+v", res)
	}
}

func TestPrefixScan(t *testing.T) {
	tree := newFakeTreeReader()
	tree.flat["acct/1"] = []byte("a")
	tree.flat["acct/2"] = []byte("b")
	tree.flat["other/1"] = []byte("c")
	sq := NewStateQuery(tree, nil, nil)

	params, _ := json.Marshal(prefixScanParams{Prefix: []byte("acct/")})
	res, err := sq.prefixScan(params)
	if err != nil {
		t.Fatalf("prefixScan: %v", err)
	}
	pairs := res.([]ktypes.KVPair)
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
}

type stubVerifier struct{ ok bool }

func (s stubVerifier) Verify(ktypes.Transaction) bool { return s.ok }

func TestCheckTransactionsRejectsBadSignature(t *testing.T) {
	tree := newFakeTreeReader()
	sq := NewStateQuery(tree, nil, stubVerifier{ok: false})

	params, _ := json.Marshal(checkTransactionsParams{
		Anchor: ktypes.Hash{1},
		Txs:    []ktypes.Transaction{{}},
	})
	res, err := sq.checkTransactions(params)
	if err != nil {
		t.Fatalf("checkTransactions: %v", err)
	}
	results := res.([]txCheckResult)
	if len(results) != 1 || results[0].OK {
		t.Fatalf("expected rejected tx, got %+v", results)
	}
}

func TestCheckTransactionsAcceptsGoodSignature(t *testing.T) {
	tree := newFakeTreeReader()
	sq := NewStateQuery(tree, nil, stubVerifier{ok: true})

	params, _ := json.Marshal(checkTransactionsParams{
		Anchor: ktypes.Hash{1},
		Txs:    []ktypes.Transaction{{}},
	})
	res, err := sq.checkTransactions(params)
	if err != nil {
		t.Fatalf("checkTransactions: %v", err)
	}
	results := res.([]txCheckResult)
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("expected accepted tx, got %+v", results)
	}
}
