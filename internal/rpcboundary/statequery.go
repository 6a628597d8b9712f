package rpcboundary

import (
	"encoding/json"

	"github.com/ioi-network/kernel/internal/executor"
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/internal/statetree"
)

// TreeReader is the subset of *statetree.Tree StateQuery needs.
type TreeReader interface {
	Get(key []byte) ([]byte, bool, error)
	GetWithProofAt(root ktypes.Hash, key []byte) (*statetree.Proof, error)
	PrefixScan(prefix []byte) ([]ktypes.KVPair, error)
}

// StateQuery implements spec §6's StateQuery surface: check_transactions,
// query_state_at, query_raw_state, prefix_scan.
type StateQuery struct {
	tree     TreeReader
	accounts *executor.AccountView
	sig      executor.SignatureVerifier
}

// NewStateQuery returns a StateQuery over tree, using accounts/sig for
// check_transactions' stateless-plus-nonce validation.
func NewStateQuery(tree TreeReader, accounts *executor.AccountView, sig executor.SignatureVerifier) *StateQuery {
	return &StateQuery{tree: tree, accounts: accounts, sig: sig}
}

// anchoredViewer adapts GetWithProofAt to executor.Viewer so
// check_transactions can run the executor's nonce lookup against a
// historical anchor instead of the live tip. It never mutates the tree: Put/Delete are no-ops, since
// check_transactions is a read-only admission check (spec §6: "per-tx
// (ok|error)"), not an execution.
type anchoredViewer struct {
	tree TreeReader
	root ktypes.Hash
}

func (v *anchoredViewer) Get(key []byte) ([]byte, bool, error) {
	proof, err := v.tree.GetWithProofAt(v.root, key)
	if err != nil {
		return nil, false, err
	}
	if proof.Kind != statetree.ProofExistence || proof.Existence == nil {
		return nil, false, nil
	}
	return proof.Existence.Value, true, nil
}

func (v *anchoredViewer) Put(key, value []byte) {}
func (v *anchoredViewer) Delete(key []byte)      {}

type checkTransactionsParams struct {
	Anchor            ktypes.Hash         `json:"anchor"`
	ExpectedTimestamp uint64              `json:"expected_timestamp"`
	Txs               []ktypes.Transaction `json:"txs"`
}

type txCheckResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// checkTransactions implements check_transactions(anchor,
// expected_timestamp, txs) -> per-tx (ok|error) (spec §6): a dry-run
// admission check against a historical anchor, verifying the signature
// and that the observed nonce is not already stale. It does not run
// Authorize, so active-key, session-grant and session-expiry checks are
// not applied here; they run only at block execution time (see
// DESIGN.md).
func (s *StateQuery) checkTransactions(params json.RawMessage) (interface{}, error) {
	var req checkTransactionsParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindTransaction, kernelerr.CodeTxSerialization, "decode check_transactions params", err)
	}

	view := &anchoredViewer{tree: s.tree, root: req.Anchor}
	out := make([]txCheckResult, len(req.Txs))
	for i, tx := range req.Txs {
		out[i] = s.checkOne(view, tx)
	}
	return out, nil
}

func (s *StateQuery) checkOne(view executor.Viewer, tx ktypes.Transaction) txCheckResult {
	if s.sig != nil && !s.sig.Verify(tx) {
		return txCheckResult{OK: false, Error: string(kernelerr.CodeTxInvalidSignature)}
	}
	if s.accounts != nil {
		observed, err := s.accounts.Nonce(view, tx.Header.AccountID)
		if err != nil {
			return txCheckResult{OK: false, Error: err.Error()}
		}
		if tx.Header.Nonce < observed {
			return txCheckResult{OK: false, Error: string(kernelerr.CodeTxNonceMismatch)}
		}
	}
	return txCheckResult{OK: true}
}

type queryStateAtParams struct {
	Root ktypes.Hash `json:"root"`
	Key  []byte      `json:"key"`
}

type queryStateAtResult struct {
	Membership string           `json:"membership"`
	Proof      *statetree.Proof `json:"proof"`
}

// queryStateAt implements query_state_at(root, key) -> {membership,
// proof_bytes} (spec §6, §4.2's get_with_proof_at). The proof travels as
// a structured JSON object rather than an opaque byte string: this
// boundary layer is JSON end to end, so there is no wire format for
// "proof_bytes" to additionally serialize into.
func (s *StateQuery) queryStateAt(params json.RawMessage) (interface{}, error) {
	var req queryStateAtParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindTransaction, kernelerr.CodeTxSerialization, "decode query_state_at params", err)
	}
	proof, err := s.tree.GetWithProofAt(req.Root, req.Key)
	if err != nil {
		return nil, err
	}
	membership := "absent"
	if proof.Kind == statetree.ProofExistence {
		membership = "present"
	}
	return queryStateAtResult{Membership: membership, Proof: proof}, nil
}

type queryRawStateParams struct {
	Key []byte `json:"key"`
}

type queryRawStateResult struct {
	Found bool   `json:"found"`
	Value []byte `json:"value,omitempty"`
}

// queryRawState implements query_raw_state(key) -> {found, value} (spec
// §6): an unproven read at the current committed tip.
func (s *StateQuery) queryRawState(params json.RawMessage) (interface{}, error) {
	var req queryRawStateParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindTransaction, kernelerr.CodeTxSerialization, "decode query_raw_state params", err)
	}
	value, found, err := s.tree.Get(req.Key)
	if err != nil {
		return nil, err
	}
	return queryRawStateResult{Found: found, Value: value}, nil
}

type prefixScanParams struct {
	Prefix []byte `json:"prefix"`
}

// prefixScan implements prefix_scan(prefix) -> pairs (spec §6).
func (s *StateQuery) prefixScan(params json.RawMessage) (interface{}, error) {
	var req prefixScanParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindTransaction, kernelerr.CodeTxSerialization, "decode prefix_scan params", err)
	}
	pairs, err := s.tree.PrefixScan(req.Prefix)
	if err != nil {
		return nil, err
	}
	return pairs, nil
}
