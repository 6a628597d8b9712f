package rpcboundary

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/internal/shmem"
)

type fakeBlocksReader struct {
	pairs []ktypes.KVPair
	roots map[ktypes.Height]ktypes.Hash
}

func (f *fakeBlocksReader) GetBlocksRange(start ktypes.Height, limit int, maxBytes int) ([]ktypes.KVPair, error) {
	var out []ktypes.KVPair
	total := 0
	for _, p := range f.pairs {
		if len(out) >= limit && limit > 0 {
			break
		}
		if maxBytes > 0 && total > 0 && total+len(p.Value) > maxBytes {
			break
		}
		out = append(out, p)
		total += len(p.Value)
	}
	return out, nil
}

func (f *fakeBlocksReader) RootForHeight(h ktypes.Height) (ktypes.Hash, error) {
	return f.roots[h], nil
}

func TestUpdateBlockHeaderRoundTrip(t *testing.T) {
	header := ktypes.BlockHeader{Height: 5, ProducerPubkey: []byte("pub")}

	var signedWith []byte
	cc := &ChainControl{
		preimageHash: func(ktypes.BlockHeader) ktypes.Hash { return ktypes.Hash{1} },
		verify: func(pubkey, msg, sig []byte) bool {
			signedWith = pubkey
			return bytes.Equal(sig, []byte("valid-sig"))
		},
	}
	header.Signature = []byte("valid-sig")

	params, _ := json.Marshal(updateBlockHeaderParams{Header: header})
	res, err := cc.updateBlockHeader(params)
	if err != nil {
		t.Fatalf("updateBlockHeader: %v", err)
	}
	out := res.(updateBlockHeaderResult)
	if !out.Valid {
		t.Fatal("expected header signature to validate")
	}
	if !bytes.Equal(signedWith, []byte("pub")) {
		t.Fatalf("expected verify called with header pubkey, got %q", signedWith)
	}
}

func TestUpdateBlockHeaderRejectsBadSignature(t *testing.T) {
	cc := &ChainControl{
		preimageHash: func(ktypes.BlockHeader) ktypes.Hash { return ktypes.Hash{1} },
		verify:       func(pubkey, msg, sig []byte) bool { return false },
	}
	header := ktypes.BlockHeader{Signature: []byte("bad")}
	params, _ := json.Marshal(updateBlockHeaderParams{Header: header})

	res, err := cc.updateBlockHeader(params)
	if err != nil {
		t.Fatalf("updateBlockHeader: %v", err)
	}
	if res.(updateBlockHeaderResult).Valid {
		t.Fatal("expected invalid signature to be rejected")
	}
}

func TestUpdateBlockHeaderNoVerifierConfigured(t *testing.T) {
	cc := &ChainControl{preimageHash: func(ktypes.BlockHeader) ktypes.Hash { return ktypes.Hash{} }}
	params, _ := json.Marshal(updateBlockHeaderParams{})
	if _, err := cc.updateBlockHeader(params); err == nil {
		t.Fatal("expected error with no verifier configured")
	}
}

func TestBuildBlockEvents(t *testing.T) {
	block := ktypes.Block{
		Header: ktypes.BlockHeader{Height: 42},
		Txs:    []ktypes.Transaction{{}, {}},
	}
	events := buildBlockEvents(block)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", events)
	}
	if events[0] != "height_committed:42" {
		t.Fatalf("unexpected event: %s", events[0])
	}
	if events[1] != "tx_count:2" {
		t.Fatalf("unexpected event: %s", events[1])
	}
}

func TestGetBlocksRangeInline(t *testing.T) {
	cc := &ChainControl{
		store: &fakeBlocksReader{pairs: []ktypes.KVPair{
			{Key: []byte("1"), Value: []byte("aaa")},
			{Key: []byte("2"), Value: []byte("bbb")},
		}},
	}
	params, _ := json.Marshal(getBlocksRangeParams{Since: 1, MaxBlocks: 10, MaxBytes: 0})
	res, err := cc.getBlocksRange(params)
	if err != nil {
		t.Fatalf("getBlocksRange: %v", err)
	}
	out := res.(getBlocksRangeResult)
	if len(out.Blocks) != 2 {
		t.Fatalf("expected 2 inline blocks, got %d", len(out.Blocks))
	}
	if out.Handle != nil {
		t.Fatal("expected no shmem handle for small payload")
	}
}

func TestGetBlocksRangeShmemOverflow(t *testing.T) {
	big := bytes.Repeat([]byte{'x'}, shmem.DefaultInlineThreshold+10)
	region, err := shmem.CreateRegion(t.TempDir()+"/region", 1, 1<<20)
	if err != nil {
		t.Fatalf("create region: %v", err)
	}
	defer region.Close()
	cc := &ChainControl{
		store:  &fakeBlocksReader{pairs: []ktypes.KVPair{{Key: []byte("1"), Value: big}}},
		region: region,
	}
	params, _ := json.Marshal(getBlocksRangeParams{Since: 1, MaxBlocks: 10})
	res, err := cc.getBlocksRange(params)
	if err != nil {
		t.Fatalf("getBlocksRange: %v", err)
	}
	out := res.(getBlocksRangeResult)
	if out.Handle == nil {
		t.Fatal("expected a shmem handle for an oversized payload")
	}
}

func TestGetGenesisStatus(t *testing.T) {
	cc := &ChainControl{
		store: &fakeBlocksReader{roots: map[ktypes.Height]ktypes.Hash{0: {9, 9, 9}}},
	}
	res, err := cc.getGenesisStatus(nil)
	if err != nil {
		t.Fatalf("getGenesisStatus: %v", err)
	}
	out := res.(genesisStatusResult)
	if out.Root != (ktypes.Hash{9, 9, 9}) {
		t.Fatalf("unexpected genesis root: %v", out.Root)
	}
}
