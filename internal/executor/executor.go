// Package executor runs spec §4.5's seven-step per-transaction pipeline
// concurrently under MVCC: stateless signature verification, stateful
// authorization (including session_auth), nonce check, a read-only then a
// write decorator pass, nonce bump, and payload dispatch. Grounded on the
// teacher's core/state/advance_state.go and bals_engine.go per-tx staging,
// re-targeted from gas-estimation-only simulation to a real
// authorize/decorate/dispatch pipeline over internal/mvcc.
package executor

import (
	"sort"

	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/internal/mvcc"
	"github.com/ioi-network/kernel/pkg/log"
	"github.com/ioi-network/kernel/pkg/metrics"
)

var execLog = log.Default().Module("executor")

// SignatureVerifier performs step 1: a pure function of the transaction
// bytes and its proof, with no state access.
type SignatureVerifier interface {
	Verify(tx ktypes.Transaction) bool
}

// Viewer is the per-transaction MVCC read/write surface passed to
// decorators and dispatchers. TxView implements it directly;
// namespaceView implements it to confine a decorator to its own key
// prefix (spec §4.5 steps 4-5).
type Viewer interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key, value []byte)
	Delete(key []byte)
}

// Decorator is a registered service's validate/mutate hook (spec §4.5
// steps 4-5). Each decorator owns a namespace of keys; Validate sees only
// that namespace and must not mutate, Mutate may write within it.
// internal/service's capability-interface directory supplies the
// concrete implementations; Execute takes decorators as a plain slice so
// this package has no dependency on how the directory is assembled.
type Decorator interface {
	// ID is the decorator's service id, used both for canonical lex-sort
	// ordering (spec §4.5: "all iteration over service sets MUST use a
	// canonical ordering") and for log/metric attribution.
	ID() string
	// Validate runs the read-only pass. Returning an error aborts the tx.
	Validate(view Viewer, tx ktypes.Transaction) error
	// Mutate runs the write pass. Only called if every decorator's
	// Validate pass succeeded.
	Mutate(view Viewer, tx ktypes.Transaction) error
}

// Dispatcher performs step 7's payload dispatch: VM contract execution,
// a registered service method call, or a settlement operation, keyed by
// ktypes.PayloadKind.
type Dispatcher interface {
	Dispatch(view Viewer, tx ktypes.Transaction) (proof []byte, gasUsed uint64, err error)
}

// TxView is the per-transaction MVCC read/write handle threaded through
// every pipeline step: a fixed tx_index into the block's shared
// mvcc.Memory, with its own read set. Account credential and nonce state
// live in the same MVCC keyspace as every other key, under the reserved
// "acct/" prefix (see account.go), so authorization checks and nonce
// bumps participate in the same validate/re-execute cycle as any other
// state read or write.
type TxView struct {
	mem     *mvcc.Memory
	rs      *mvcc.ReadSet
	txIndex int
	writes  [][]byte // keys written this incarnation, for the scheduler's cascade
}

// NewTxView returns a fresh view for one execution incarnation of the
// transaction at txIndex. A new ReadSet is required per incarnation
// (spec §4.4: aborted incarnations re-execute from scratch).
func NewTxView(mem *mvcc.Memory, txIndex int) *TxView {
	return &TxView{mem: mem, rs: mvcc.NewReadSet(), txIndex: txIndex}
}

// Get reads key through the shared MVCC memory at this view's tx_index,
// recording the observation in its read set.
func (v *TxView) Get(key []byte) ([]byte, bool, error) {
	return v.mem.Read(v.txIndex, key, v.rs)
}

// Put writes key within this view's tx_index.
func (v *TxView) Put(key, value []byte) {
	v.mem.Write(v.txIndex, key, value)
	v.writes = append(v.writes, key)
}

// Delete tombstones key within this view's tx_index.
func (v *TxView) Delete(key []byte) {
	v.mem.Delete(v.txIndex, key)
	v.writes = append(v.writes, key)
}

// ReadSet returns the accumulated read set, for the scheduler's
// FinishExecution call.
func (v *TxView) ReadSet() *mvcc.ReadSet { return v.rs }

// WriteKeys returns every key written during this incarnation, for the
// scheduler's FinishExecution call.
func (v *TxView) WriteKeys() [][]byte { return v.writes }

// namespaceView restricts Get/Put/Delete to keys under one decorator's
// namespace (spec §4.5 steps 4-5: "validates against a namespaced,
// read-only view" / "may mutate within its namespace"), and additionally
// refuses writes during the read-only pass.
type namespaceView struct {
	inner    *TxView
	prefix   []byte
	readOnly bool
}

func (n *namespaceView) namespaced(key []byte) []byte {
	out := make([]byte, 0, len(n.prefix)+len(key))
	out = append(out, n.prefix...)
	return append(out, key...)
}

func (n *namespaceView) Get(key []byte) ([]byte, bool, error) {
	return n.inner.Get(n.namespaced(key))
}

func (n *namespaceView) Put(key, value []byte) {
	if n.readOnly {
		panic("executor: decorator attempted a write during the read-only validate pass")
	}
	n.inner.Put(n.namespaced(key), value)
}

func (n *namespaceView) Delete(key []byte) {
	if n.readOnly {
		panic("executor: decorator attempted a delete during the read-only validate pass")
	}
	n.inner.Delete(n.namespaced(key))
}

// decoratorNamespace derives a decorator's key prefix from its service
// id, so two decorators can never collide on a key regardless of what
// keys they each choose internally.
func decoratorNamespace(id string) []byte {
	return []byte("svc/" + id + "/")
}

// Result is the outcome of running one transaction through the pipeline
// (spec §4.5: "a tx that fails any step records an empty proof and zero
// gas; it does NOT abort the block").
type Result struct {
	Outcome   ktypes.TxOutcome
	ReadSet   *mvcc.ReadSet
	WriteKeys [][]byte
}

// Run drives one transaction through the full seven-step pipeline for a
// single execution incarnation. A failure at any step is reported as a
// failed Result (never a returned error) per spec §4.5, including MVCC
// read errors met during authorization or dispatch. The one exception is
// an error reading the account nonce in step 3, which is returned as-is.
func Run(mem *mvcc.Memory, txIndex int, height ktypes.Height, tx ktypes.Transaction, sig SignatureVerifier, accounts *AccountView, decorators []Decorator, dispatch Dispatcher) (Result, error) {
	view := NewTxView(mem, txIndex)

	fail := func(code kernelerr.Code) Result {
		metrics.ExecutorTxsProcessed.Inc()
		return Result{
			Outcome:   ktypes.TxOutcome{Failed: true, FailureCode: string(code)},
			ReadSet:   view.ReadSet(),
			WriteKeys: view.WriteKeys(),
		}
	}

	// Step 1: stateless signature verification.
	if !sig.Verify(tx) {
		return fail(kernelerr.CodeTxInvalidSignature), nil
	}

	// Step 2: stateful authorization.
	if err := accounts.Authorize(view, tx, height); err != nil {
		execLog.Debug("authorization failed", "account", tx.Header.AccountID, "error", err)
		return fail(authorizeFailureCode(err)), nil
	}

	// Step 3: nonce check.
	observed, err := accounts.Nonce(view, tx.Header.AccountID)
	if err != nil {
		return Result{}, err
	}
	if observed != tx.Header.Nonce {
		return fail(kernelerr.CodeTxNonceMismatch), nil
	}

	// Steps 4-5: decorator validate then mutate passes, in canonical
	// (lex-sorted) service-id order (spec §4.5 determinism constraint).
	ordered := make([]Decorator, len(decorators))
	copy(ordered, decorators)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID() < ordered[j].ID() })

	for _, d := range ordered {
		nv := &namespaceView{inner: view, prefix: decoratorNamespace(d.ID()), readOnly: true}
		if err := d.Validate(nv, tx); err != nil {
			execLog.Debug("decorator validate failed", "decorator", d.ID(), "error", err)
			return fail(kernelerr.CodeTxUnauthorized), nil
		}
	}
	for _, d := range ordered {
		nv := &namespaceView{inner: view, prefix: decoratorNamespace(d.ID())}
		if err := d.Mutate(nv, tx); err != nil {
			execLog.Debug("decorator mutate failed", "decorator", d.ID(), "error", err)
			return fail(kernelerr.CodeTxInvalidInputOutput), nil
		}
	}

	// Step 6: nonce bump.
	accounts.BumpNonce(view, tx.Header.AccountID, observed)

	// Step 7: payload dispatch.
	proof, gasUsed, err := dispatch.Dispatch(view, tx)
	if err != nil {
		execLog.Debug("payload dispatch failed", "kind", tx.Kind, "error", err)
		return fail(dispatchFailureCode(tx.Kind)), nil
	}

	metrics.ExecutorTxsProcessed.Inc()
	return Result{
		Outcome: ktypes.TxOutcome{
			GasUsed:    gasUsed,
			ProofBytes: proof,
		},
		ReadSet:   view.ReadSet(),
		WriteKeys: view.WriteKeys(),
	}, nil
}

func dispatchFailureCode(kind ktypes.PayloadKind) kernelerr.Code {
	switch kind {
	case ktypes.PayloadVM:
		return kernelerr.CodeVMTrap
	case ktypes.PayloadSettlement:
		return kernelerr.CodeTxInvalidInputOutput
	default:
		return kernelerr.CodeTxUnsupportedVariant
	}
}
