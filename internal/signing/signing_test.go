package signing

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/golang-jwt/jwt/v4"

	"github.com/ioi-network/kernel/internal/ktypes"
)

func testSecretKey(t *testing.T, seed byte) []byte {
	t.Helper()
	ikm := make([]byte, 32)
	for i := range ikm {
		ikm[i] = seed
	}
	sk := blst.KeyGen(ikm)
	if sk == nil {
		t.Fatal("blst key generation failed")
	}
	return sk.Serialize()
}

func samplePreimageHash(h ktypes.BlockHeader) ktypes.Hash {
	var out ktypes.Hash
	out[0] = byte(h.Height)
	out[1] = byte(h.View)
	out[2] = byte(h.GasUsed)
	return out
}

func TestLocalSignerMonotonicCounterAndZeroTrace(t *testing.T) {
	signer, err := NewLocalSigner(testSecretKey(t, 7))
	if err != nil {
		t.Fatal(err)
	}

	var hash ktypes.Hash
	hash[0] = 1
	r1, err := signer.SignConsensusPayload(context.Background(), hash)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := signer.SignConsensusPayload(context.Background(), hash)
	if err != nil {
		t.Fatal(err)
	}

	if r1.Counter != 1 || r2.Counter != 2 {
		t.Fatalf("expected counters 1, 2, got %d, %d", r1.Counter, r2.Counter)
	}
	if r1.TraceHash != (ktypes.Hash{}) || r2.TraceHash != (ktypes.Hash{}) {
		t.Fatal("expected local signer to emit a zero trace hash")
	}
	if !VerifyLocalSignature(signer.PublicKey(), signMessage(hash, r1.Counter, r1.TraceHash), r1.Signature) {
		t.Fatal("expected the first signature to verify")
	}
	if VerifyLocalSignature(signer.PublicKey(), signMessage(hash, r1.Counter, r1.TraceHash), r2.Signature) {
		t.Fatal("signature for counter 2 should not verify against counter 1's message")
	}
}

func TestSignBlockHeaderRoundTrip(t *testing.T) {
	signer, err := NewLocalSigner(testSecretKey(t, 9))
	if err != nil {
		t.Fatal(err)
	}

	header := ktypes.BlockHeader{Height: 10, View: 1}
	signed, err := SignBlockHeader(context.Background(), signer, header, samplePreimageHash)
	if err != nil {
		t.Fatal(err)
	}
	if signed.SigningOracleCounter != 1 {
		t.Fatalf("expected counter 1, got %d", signed.SigningOracleCounter)
	}
	if !VerifyBlockHeaderSignature(signed, signer.PublicKey(), samplePreimageHash, VerifyLocalSignature) {
		t.Fatal("expected the signed header to verify")
	}

	tampered := signed
	tampered.GasUsed = 999
	if VerifyBlockHeaderSignature(tampered, signer.PublicKey(), samplePreimageHash, VerifyLocalSignature) {
		t.Fatal("expected a tampered header to fail verification")
	}
}

func TestEquivocationDetectorFlagsConflictingPayloadsAtSameCounter(t *testing.T) {
	d := NewEquivocationDetector()
	var h1, h2 ktypes.Hash
	h1[0] = 1
	h2[0] = 2

	if ev := d.Observe("key-a", 5, h1); ev != nil {
		t.Fatal("expected no equivocation on first observation")
	}
	if ev := d.Observe("key-a", 5, h1); ev != nil {
		t.Fatal("expected re-observing the same payload to not equivocate")
	}
	ev := d.Observe("key-a", 5, h2)
	if ev == nil {
		t.Fatal("expected an equivocation for a different payload at the same counter")
	}
	if ev.FirstPayload != h1 || ev.SecondPayload != h2 {
		t.Fatalf("unexpected evidence: %+v", ev)
	}

	pending := d.PendingEvidence()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending evidence entry, got %d", len(pending))
	}
	if len(d.PendingEvidence()) != 0 {
		t.Fatal("expected PendingEvidence to drain the buffer")
	}
}

func TestEquivocationDetectorTracksKeysIndependently(t *testing.T) {
	d := NewEquivocationDetector()
	var h1, h2 ktypes.Hash
	h1[0] = 1
	h2[0] = 2

	d.Observe("key-a", 1, h1)
	if ev := d.Observe("key-b", 1, h2); ev != nil {
		t.Fatal("different keys at the same counter must not conflict")
	}
}

func TestRemoteSignerPostsAuthenticatedRequest(t *testing.T) {
	secret := []byte("remote-signer-secret")
	wantSig := []byte{0xAA, 0xBB}
	var traceHash ktypes.Hash
	traceHash[0] = 0x42

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			t.Errorf("expected a bearer token, got %q", authHeader)
		}
		token := authHeader[7:]
		parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) { return secret, nil })
		if err != nil || !parsed.Valid {
			t.Errorf("expected a valid bearer token, err=%v", err)
		}

		var req remoteSignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}

		resp := remoteSignResponse{
			Signature: hex.EncodeToString(wantSig),
			Counter:   3,
			TraceHash: hex.EncodeToString(traceHash[:]),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	signer := NewRemoteSigner(server.URL, secret, []byte("pubkey"), nil)
	var payloadHash ktypes.Hash
	payloadHash[0] = 1
	result, err := signer.SignConsensusPayload(context.Background(), payloadHash)
	if err != nil {
		t.Fatal(err)
	}
	if result.Counter != 3 {
		t.Fatalf("expected counter 3, got %d", result.Counter)
	}
	if result.TraceHash != traceHash {
		t.Fatalf("expected trace hash %x, got %x", traceHash, result.TraceHash)
	}
	if hex.EncodeToString(result.Signature) != hex.EncodeToString(wantSig) {
		t.Fatalf("expected signature %x, got %x", wantSig, result.Signature)
	}
}

func TestRemoteSignerPropagatesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("signer unavailable"))
	}))
	defer server.Close()

	signer := NewRemoteSigner(server.URL, []byte("secret"), []byte("pubkey"), nil)
	var payloadHash ktypes.Hash
	if _, err := signer.SignConsensusPayload(context.Background(), payloadHash); err == nil {
		t.Fatal("expected an error when the remote signer returns a non-200 status")
	}
}
