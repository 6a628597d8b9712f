// Package signing implements spec §6's signing oracle: an abstract
// consensus signer exposing sign_consensus_payload, backed either by a
// local development signer or a remote HTTP signer, plus an
// equivocation detector that flags two different payloads signed under
// the same per-key counter.
//
// Grounded on the teacher's crypto/bls_blst_adapter.go (blst MinPk
// wrapper: compressed G1 pubkeys, compressed G2 signatures) for the
// local signer's key suite, and consensus/equivocation_detector.go's
// (slot, validator) -> blockHash double-proposal check, re-targeted to
// (counter, key) -> payloadHash.
package signing

import (
	"context"
	"encoding/binary"

	"github.com/ioi-network/kernel/internal/ktypes"
)

// Result is sign_consensus_payload's return value (spec §6): the
// signature over the final signed payload, the oracle's strictly
// monotonic per-key counter value used for this signature, and a trace
// hash (zero for local signers, populated by remote signers that audit
// each signing request).
type Result struct {
	Signature []byte
	Counter   uint64
	TraceHash ktypes.Hash
}

// Oracle is spec §6's abstract signer: sign_consensus_payload(payload_hash)
// -> {signature, counter, trace_hash}. Implementations MUST enforce a
// strictly monotonic per-key counter.
type Oracle interface {
	SignConsensusPayload(ctx context.Context, payloadHash ktypes.Hash) (Result, error)

	// PublicKey returns the oracle's compressed G1 BLS public key, the
	// producer key suite's pubkey (spec §6's block-signing preimage
	// "producer_pubkey" field).
	PublicKey() []byte
}

// SignBlockHeader completes header's signature fields: it hashes
// codec.BlockSigningPreimage(header) via preimageHash and delegates to
// oracle, then copies the returned counter, trace hash, and signature
// onto header (spec §6: "Final signed payload appends the
// signing-oracle counter and trace hash"). The oracle itself is
// responsible for folding its counter and trace hash into what it
// actually signs (see signMessage), since neither is known to the
// caller until the oracle assigns them.
func SignBlockHeader(ctx context.Context, oracle Oracle, header ktypes.BlockHeader, preimageHash func(ktypes.BlockHeader) ktypes.Hash) (ktypes.BlockHeader, error) {
	payloadHash := preimageHash(header)
	result, err := oracle.SignConsensusPayload(ctx, payloadHash)
	if err != nil {
		return header, err
	}
	header.SigningOracleCounter = result.Counter
	header.TraceHash = result.TraceHash
	header.Signature = result.Signature
	return header, nil
}

// signMessage builds the exact byte sequence an oracle signs: the base
// preimage hash followed by the counter it is assigning to this
// signature and the trace hash it is attesting, so a verifier that
// already knows counter and trace hash (read off the committed header)
// can rebuild the identical message and check the signature without
// needing to talk to the oracle.
func signMessage(payloadHash ktypes.Hash, counter uint64, traceHash ktypes.Hash) []byte {
	buf := make([]byte, 0, 32+8+32)
	buf = append(buf, payloadHash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, counter)
	buf = append(buf, traceHash[:]...)
	return buf
}

// VerifyBlockHeaderSignature checks that header.Signature is a valid
// signature by pubkey over signMessage(hash(base preimage),
// header.SigningOracleCounter, header.TraceHash).
func VerifyBlockHeaderSignature(header ktypes.BlockHeader, pubkey []byte, preimageHash func(ktypes.BlockHeader) ktypes.Hash, verify func(pubkey, msg, sig []byte) bool) bool {
	msg := signMessage(preimageHash(header), header.SigningOracleCounter, header.TraceHash)
	return verify(pubkey, msg, header.Signature)
}
