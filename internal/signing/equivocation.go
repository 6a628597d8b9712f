package signing

import (
	"sync"

	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/pkg/metrics"
)

// EquivocationEvidence records a detected violation of the signing
// oracle's monotonic-counter contract: two different payloads observed
// signed under the same counter by the same key (spec §6: "equivocation
// ... is externally detectable").
type EquivocationEvidence struct {
	KeyID        string
	Counter      uint64
	FirstPayload ktypes.Hash
	SecondPayload ktypes.Hash
}

type counterKey struct {
	keyID   string
	counter uint64
}

// EquivocationDetector watches a stream of externally-observed signed
// payloads (e.g. block headers gossiped by the network) and flags any
// counter reused with a different payload hash. It does not prevent
// equivocation — a compromised or dual-run signer can still produce two
// signatures — it only makes the violation detectable to any party that
// observes both signed payloads, as spec §6 requires.
//
// Grounded on the teacher's EquivocationDetector.CheckProposal (keyed on
// (slot, validator) -> block hash), re-targeted from (slot, validator)
// to (counter, signing key).
type EquivocationDetector struct {
	mu   sync.Mutex
	seen map[counterKey]ktypes.Hash

	evidence []EquivocationEvidence
}

// NewEquivocationDetector returns an empty detector.
func NewEquivocationDetector() *EquivocationDetector {
	return &EquivocationDetector{seen: make(map[counterKey]ktypes.Hash)}
}

// Observe records a signed payload for keyID at counter. If a different
// payload was already observed at the same (keyID, counter), it returns
// the resulting evidence and also retains it in PendingEvidence.
func (d *EquivocationDetector) Observe(keyID string, counter uint64, payloadHash ktypes.Hash) *EquivocationEvidence {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := counterKey{keyID: keyID, counter: counter}
	prior, ok := d.seen[k]
	if !ok {
		d.seen[k] = payloadHash
		return nil
	}
	if prior == payloadHash {
		return nil
	}

	ev := EquivocationEvidence{
		KeyID:         keyID,
		Counter:       counter,
		FirstPayload:  prior,
		SecondPayload: payloadHash,
	}
	d.evidence = append(d.evidence, ev)
	metrics.SigningOracleEquivocationsTotal.Inc()
	return &ev
}

// PendingEvidence returns every equivocation detected so far, and clears
// the pending buffer.
func (d *EquivocationDetector) PendingEvidence() []EquivocationEvidence {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.evidence
	d.evidence = nil
	return out
}
