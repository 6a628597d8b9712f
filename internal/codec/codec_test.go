package codec

import (
	"bytes"
	"testing"

	"github.com/ioi-network/kernel/internal/ktypes"
)

func TestRootIndexValueRoundTrip(t *testing.T) {
	b := EncodeRootIndexValue(7, 42)
	e, h, err := DecodeRootIndexValue(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e != 7 || h != 42 {
		t.Fatalf("got epoch=%d height=%d, want 7/42", e, h)
	}
}

func TestHeadValueRoundTrip(t *testing.T) {
	b := EncodeHeadValue(100, 3)
	h, e, err := DecodeHeadValue(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h != 100 || e != 3 {
		t.Fatalf("got height=%d epoch=%d, want 100/3", h, e)
	}
}

func TestEpochHeightKeyOrdering(t *testing.T) {
	k1 := EpochHeightKey(0, 1)
	k2 := EpochHeightKey(0, 2)
	if bytes.Compare(k1, k2) >= 0 {
		t.Fatalf("expected k1 < k2 lexicographically for ascending heights")
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := ktypes.Transaction{
		Header: ktypes.TxHeader{
			AccountID: ktypes.BytesToAccountID([]byte("account-one")),
			Nonce:     5,
			ChainID:   1,
			Version:   1,
			Session: &ktypes.SessionAuth{
				SessionKey:      []byte("session-key"),
				ExpiresAtHeight: 99,
				Scope:           []byte("scope"),
			},
		},
		Kind:    ktypes.PayloadServiceCall,
		Payload: []byte("payload-bytes"),
		Proof: ktypes.SignatureProof{
			Signature:   []byte("sig"),
			PostQuantum: []byte("pq"),
		},
	}

	encoded := EncodeTransaction(tx)
	decoded, err := DecodeTransaction(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Header.AccountID != tx.Header.AccountID {
		t.Fatalf("account id mismatch")
	}
	if decoded.Header.Nonce != tx.Header.Nonce {
		t.Fatalf("nonce mismatch")
	}
	if decoded.Header.Session == nil || decoded.Header.Session.ExpiresAtHeight != 99 {
		t.Fatalf("session not round-tripped")
	}
	if decoded.Kind != tx.Kind {
		t.Fatalf("kind mismatch")
	}
	if string(decoded.Payload) != string(tx.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestTransactionRoundTripNoSession(t *testing.T) {
	tx := ktypes.Transaction{
		Header: ktypes.TxHeader{
			AccountID: ktypes.BytesToAccountID([]byte("a")),
			Nonce:     0,
			ChainID:   1,
		},
		Kind:    ktypes.PayloadVM,
		Payload: []byte{},
	}
	encoded := EncodeTransaction(tx)
	decoded, err := DecodeTransaction(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Header.Session != nil {
		t.Fatalf("expected no session")
	}
}

func TestBlockSigningPreimageDeterministic(t *testing.T) {
	h := ktypes.BlockHeader{Height: 1, View: 0, GasUsed: 21000}
	p1 := BlockSigningPreimage(h)
	p2 := BlockSigningPreimage(h)
	if !bytes.Equal(p1, p2) {
		t.Fatalf("expected deterministic preimage")
	}
}

func TestBlockSigningPreimageSensitiveToHeight(t *testing.T) {
	h1 := ktypes.BlockHeader{Height: 1}
	h2 := ktypes.BlockHeader{Height: 2}
	if bytes.Equal(BlockSigningPreimage(h1), BlockSigningPreimage(h2)) {
		t.Fatalf("expected different preimages for different heights")
	}
}
