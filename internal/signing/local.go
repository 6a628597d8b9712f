package signing

import (
	"context"
	"fmt"
	"sync"

	blst "github.com/supranational/blst/bindings/go"

	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/pkg/metrics"
)

// localSignDST domain-separates this package's consensus signatures from
// the teacher's Ethereum attestation signatures, which share the same
// blst MinPk scheme but must never verify under each other's tag.
var localSignDST = []byte("IOI_KERNEL_CONSENSUS_SIGNER_V1")

// LocalSigner is spec §6's development signer: it increments a local
// counter on every signature and emits a zero trace hash. Safe for
// concurrent use.
type LocalSigner struct {
	mu      sync.Mutex
	sk      *blst.SecretKey
	pub     []byte
	counter uint64
}

// NewLocalSigner builds a LocalSigner from a 32-byte BLS secret key
// scalar (as produced by BlstKeyGen in the teacher's adapter, or any
// blst-compatible key derivation).
func NewLocalSigner(secretKey []byte) (*LocalSigner, error) {
	sk := new(blst.SecretKey).Deserialize(secretKey)
	if sk == nil {
		return nil, fmt.Errorf("signing: invalid local signer secret key")
	}
	pub := new(blst.P1Affine).From(sk).Compress()
	return &LocalSigner{sk: sk, pub: pub}, nil
}

// PublicKey returns the signer's compressed G1 public key.
func (s *LocalSigner) PublicKey() []byte { return s.pub }

// SignConsensusPayload implements Oracle. The counter strictly
// increments on every call, starting at 1; this signer never revisits a
// counter value, so it can never equivocate against itself.
func (s *LocalSigner) SignConsensusPayload(_ context.Context, payloadHash ktypes.Hash) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	var traceHash ktypes.Hash // zero: local signers emit no trace
	msg := signMessage(payloadHash, s.counter, traceHash)

	sig := new(blst.P2Affine).Sign(s.sk, msg, localSignDST)
	if sig == nil {
		return Result{}, fmt.Errorf("signing: local sign failed")
	}
	metrics.SigningOracleSignsTotal.Inc()
	return Result{Signature: sig.Compress(), Counter: s.counter, TraceHash: traceHash}, nil
}

// VerifyLocalSignature verifies a signature produced by a LocalSigner (or
// any signer using the same domain tag) against pubkey.
func VerifyLocalSignature(pubkey, msg, sig []byte) bool {
	pk := new(blst.P1Affine).Uncompress(pubkey)
	if pk == nil {
		return false
	}
	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false
	}
	return s.Verify(true, pk, true, msg, localSignDST)
}
