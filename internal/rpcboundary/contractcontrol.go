package rpcboundary

import (
	"encoding/json"

	"github.com/ioi-network/kernel/internal/executor"
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/internal/txpool"
)

// ContractControl implements spec §6's ContractControl surface:
// deploy_contract, call_contract, query_contract. deploy_contract and
// call_contract both admit a PayloadVM transaction into a pending pool
// rather than executing it synchronously: an RPC caller learns the
// submission was queued, and the transaction is included the next time
// an Orchestrator proposes a block (the same submit-then-include
// relationship spec §8's crash-recovery scenario implies for a
// transaction already accepted before a restart). query_contract, by
// contrast, is a synchronous read against the current committed state.
type ContractControl struct {
	pool *txpool.Pool
	tree TreeReader
	vm   executor.VMRunner
	sig  executor.SignatureVerifier
}

// NewContractControl returns a ContractControl admitting transactions
// into pool and answering reads via tree/vm. vm may be nil: reads that
// require it then fail with a VM-uninitialized error, matching
// executor.DefaultDispatcher's own behavior for an unconfigured VM.
func NewContractControl(pool *txpool.Pool, tree TreeReader, vm executor.VMRunner, sig executor.SignatureVerifier) *ContractControl {
	return &ContractControl{pool: pool, tree: tree, vm: vm, sig: sig}
}

type submitTxParams struct {
	Tx ktypes.Transaction `json:"tx"`
}

type submitTxResult struct {
	Queued  bool `json:"queued"`
	Pending int  `json:"pending_for_account"`
}

func (c *ContractControl) admit(params json.RawMessage) (interface{}, error) {
	var req submitTxParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindTransaction, kernelerr.CodeTxSerialization, "decode transaction params", err)
	}
	if c.sig != nil && !c.sig.Verify(req.Tx) {
		return nil, kernelerr.New(kernelerr.KindTransaction, kernelerr.CodeTxInvalidSignature, "transaction signature does not verify")
	}
	if err := c.pool.Submit(req.Tx); err != nil {
		return nil, err
	}
	return submitTxResult{Queued: true, Pending: c.pool.PendingForAccount(req.Tx.Header.AccountID)}, nil
}

// deployContract implements deploy_contract: admits a PayloadVM
// transaction whose payload is expected to carry deployment bytecode
// (spec §6). The kernel does not distinguish "deploy" from "call" at
// the dispatch layer (both are PayloadVM transactions, see
// internal/executor's DefaultDispatcher); the distinction is purely
// which RPC method the caller used to submit it.
func (c *ContractControl) deployContract(params json.RawMessage) (interface{}, error) {
	return c.admit(params)
}

// callContract implements call_contract: admits a PayloadVM transaction
// invoking an already-deployed contract (spec §6).
func (c *ContractControl) callContract(params json.RawMessage) (interface{}, error) {
	return c.admit(params)
}

// scratchViewer overlays a discardable in-memory map on top of a
// TreeReader for query_contract's synchronous, non-committing read path
// (spec §6): a VMRunner invoked through it may call Put freely without
// ever touching the committed tree, since Put just writes into overlay
// instead.
type scratchViewer struct {
	tree    TreeReader
	overlay map[string][]byte
}

func newScratchViewer(tree TreeReader) *scratchViewer {
	return &scratchViewer{tree: tree, overlay: make(map[string][]byte)}
}

func (v *scratchViewer) Get(key []byte) ([]byte, bool, error) {
	if val, ok := v.overlay[string(key)]; ok {
		return val, val != nil, nil
	}
	return v.tree.Get(key)
}

func (v *scratchViewer) Put(key, value []byte) {
	v.overlay[string(key)] = value
}

func (v *scratchViewer) Delete(key []byte) {
	v.overlay[string(key)] = nil
}

type queryContractParams struct {
	AccountID ktypes.AccountID `json:"account_id"`
	Payload   []byte           `json:"payload"`
}

type queryContractResult struct {
	Proof   []byte `json:"proof,omitempty"`
	GasUsed uint64 `json:"gas_used"`
}

// queryContract implements query_contract(account_id, payload) -> proof
// (spec §6): runs the VM against a scratch view of the committed tip and
// discards any writes, giving the caller a dry-run result without an
// intervening block.
func (c *ContractControl) queryContract(params json.RawMessage) (interface{}, error) {
	var req queryContractParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindTransaction, kernelerr.CodeTxSerialization, "decode query_contract params", err)
	}
	if c.vm == nil {
		return nil, kernelerr.New(kernelerr.KindVM, kernelerr.CodeVMInit, "no VM runner configured")
	}
	view := newScratchViewer(c.tree)
	proof, gasUsed, err := c.vm.Run(view, req.AccountID, req.Payload)
	if err != nil {
		return nil, err
	}
	return queryContractResult{Proof: proof, GasUsed: gasUsed}, nil
}
