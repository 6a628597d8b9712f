package executor

import (
	"golang.org/x/crypto/ed25519"

	"github.com/ioi-network/kernel/internal/codec"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// Ed25519Verifier implements SignatureVerifier (spec §4.5 step 1) by
// checking tx.Proof.Signature against the 32-byte public key that leads
// tx.Proof.Signature's companion pubkey bytes. PostQuantum, if present,
// is a second, independently-verified proof (spec §3: "optional
// post-quantum proof") that must also pass; the kernel does not
// prescribe which post-quantum scheme, so PQVerify is injected.
type Ed25519Verifier struct {
	// PQVerify validates the optional post-quantum proof against the
	// same preimage. A nil PQVerify accepts any transaction with no
	// PostQuantum proof and rejects any that carries one, since an
	// un-pluggable PQ check can't be honestly accepted.
	PQVerify func(preimage, proof []byte) bool
}

// pubkeySignatureLayout is [32-byte pubkey][64-byte ed25519 signature],
// the kernel's chosen encoding for Proof.Signature (spec Non-goals leave
// the exact signature envelope unspecified).
const (
	ed25519PubkeyLen = ed25519.PublicKeySize
	ed25519SigLen    = ed25519.SignatureSize
)

func (v Ed25519Verifier) Verify(tx ktypes.Transaction) bool {
	sig := tx.Proof.Signature
	if len(sig) != ed25519PubkeyLen+ed25519SigLen {
		return false
	}
	pub := ed25519.PublicKey(sig[:ed25519PubkeyLen])
	rawSig := sig[ed25519PubkeyLen:]

	preimage := codec.TxSigningPreimage(tx)
	if !ed25519.Verify(pub, preimage, rawSig) {
		return false
	}

	if len(tx.Proof.PostQuantum) == 0 {
		return true
	}
	if v.PQVerify == nil {
		return false
	}
	return v.PQVerify(preimage, tx.Proof.PostQuantum)
}

// SignerPubkey extracts the ed25519 public key embedded in a
// kernel-encoded signature proof, for account-registration flows that
// need to bind a verified signer to an account's active key.
func SignerPubkey(proof ktypes.SignatureProof) (ed25519.PublicKey, bool) {
	if len(proof.Signature) != ed25519PubkeyLen+ed25519SigLen {
		return nil, false
	}
	return ed25519.PublicKey(proof.Signature[:ed25519PubkeyLen]), true
}
