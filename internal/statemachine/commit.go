package statemachine

import (
	"fmt"
	"sort"

	"github.com/ioi-network/kernel/internal/codec"
	"github.com/ioi-network/kernel/internal/executor"
	"github.com/ioi-network/kernel/internal/hashing"
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/internal/statetree"
)

// treeView adapts *statetree.Tree directly to executor.Viewer so upgrade
// hooks and end-of-block hooks (commit_block steps 5-6) can reuse the
// same Decorator-facing interface the MVCC pipeline uses, even though
// they run outside MVCC: the block's batch has already been applied to
// the tree by the time these hooks run (spec §4.6 step 6: "under an
// internal tx context").
type treeView struct {
	tree *statetree.Tree
	err  error
}

func (v *treeView) Get(key []byte) ([]byte, bool, error) { return v.tree.Get(key) }

func (v *treeView) Put(key, value []byte) {
	if err := v.tree.Insert(key, value); err != nil && v.err == nil {
		v.err = err
	}
}

func (v *treeView) Delete(key []byte) {
	if err := v.tree.Delete(key); err != nil && v.err == nil {
		v.err = err
	}
}

// CommitBlock implements spec §4.6's commit_block: applies a previously
// prepared block's state changes durably, runs upgrade/end-of-block
// hooks, rotates the validator set, recomputes block-interval timing, and
// persists the new version and block. Steps 1-3 fail soft (a fresh,
// retryable error); steps 4-11 fail fatal to the block only, never to the
// process (spec: "the write transaction is discarded").
func (sm *StateMachine) CommitBlock(prepared ktypes.PreparedBlock) (ktypes.Block, error) {
	h := prepared.Block.Header.Height
	parentHeight := h - 1
	defer sm.unpin(parentHeight)

	sm.mu.Lock()
	head := sm.committedHead
	sm.mu.Unlock()

	// Step 1.
	if h != head+1 {
		return ktypes.Block{}, kernelerr.New(kernelerr.KindBlock, kernelerr.CodeStalePreparation,
			fmt.Sprintf("commit height %d does not follow committed head %d", h, head))
	}
	currentRoot := sm.tree.RootCommitment()
	if currentRoot != prepared.ParentStateRoot {
		return ktypes.Block{}, kernelerr.New(kernelerr.KindBlock, kernelerr.CodeStalePreparation,
			"parent state root no longer matches the current tip")
	}

	// Step 2.
	for i, outcome := range prepared.TxProofs {
		if len(outcome.ProofBytes) == 0 {
			continue
		}
		kind := prepared.Block.Txs[i].Kind
		recognized, ok := sm.proofs.Verify(prepared.ParentStateRoot, kind, outcome.ProofBytes)
		if recognized && !ok {
			return ktypes.Block{}, kernelerr.New(kernelerr.KindBlock, kernelerr.CodeInvalidBlock,
				fmt.Sprintf("tx %d proof failed verification against parent root", i))
		}
	}

	// Step 3: single-writer tree lock held across steps 3-11 (spec §5).
	sm.writeMu.Lock()
	defer sm.writeMu.Unlock()
	sm.tree.BeginBlockWrites(h)

	block, err := sm.applyCommit(prepared, h)
	if err != nil {
		sm.tree.ResetTo(prepared.ParentStateRoot)
		return ktypes.Block{}, err
	}
	return block, nil
}

// applyCommit runs commit_block steps 4-12 under the already-held tree
// write lock.
func (sm *StateMachine) applyCommit(prepared ktypes.PreparedBlock, h ktypes.Height) (ktypes.Block, error) {
	// Step 4.
	for _, kv := range prepared.StateChanges.Inserts {
		if err := sm.tree.Insert(kv.Key, kv.Value); err != nil {
			return ktypes.Block{}, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "apply insert", err)
		}
	}
	for _, key := range prepared.StateChanges.Deletes {
		if err := sm.tree.Delete(key); err != nil {
			return ktypes.Block{}, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "apply delete", err)
		}
	}

	// Step 5.
	view := &treeView{tree: sm.tree}
	activated, err := sm.upgrades.RunUpgrades(view, h)
	if err != nil {
		return ktypes.Block{}, kernelerr.Wrap(kernelerr.KindUpgrade, kernelerr.CodeUpgradeMigrationFailed, "run upgrades", err)
	}
	if view.err != nil {
		return ktypes.Block{}, view.err
	}
	if activated && sm.refreshDir != nil {
		sm.refreshDir()
	}

	// Step 6: canonical (lex-sorted) hook order, same discipline as the
	// executor's decorator ordering.
	hooks := append([]EndOfBlockHook(nil), sm.hooks...)
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].ID() < hooks[j].ID() })
	for _, hook := range hooks {
		hookView := &treeView{tree: sm.tree}
		if err := hook.EndOfBlock(hookView, h); err != nil {
			return ktypes.Block{}, kernelerr.Wrap(kernelerr.KindBlock, kernelerr.CodeInvalidBlock,
				fmt.Sprintf("end-of-block hook %q failed", hook.ID()), err)
		}
		if hookView.err != nil {
			return ktypes.Block{}, hookView.err
		}
	}

	// Step 7.
	activeValidators, err := sm.promoteAndPersistValidators(h)
	if err != nil {
		return ktypes.Block{}, err
	}

	// Step 8.
	sm.mu.Lock()
	newInterval := nextInterval(sm.curInterval, sm.targetGas, prepared.GasUsed, sm.minInterval, sm.maxInterval)
	sm.curInterval = newInterval
	priorTotalTx := sm.status.TotalTx
	sm.mu.Unlock()

	// Step 9.
	status := ktypes.Status{
		Height:    h,
		Timestamp: prepared.Block.Header.Timestamp,
		TotalTx:   priorTotalTx + uint64(len(prepared.Block.Txs)),
	}
	if err := sm.tree.Insert(keyStatus, codec.EncodeStatus(status)); err != nil {
		return ktypes.Block{}, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "persist status", err)
	}

	// Step 10.
	newRoot, err := sm.tree.CommitVersionPersist(h, sm.store)
	if err != nil {
		return ktypes.Block{}, err
	}

	// Invariant check: the validator-set key must be provable at the new
	// root under weight-based consensus.
	if sm.weightBased {
		if err := sm.verifyValidatorSetProvable(newRoot, activeValidators); err != nil {
			return ktypes.Block{}, err
		}
	}

	// Step 11.
	final := prepared.Block
	final.Header.ParentStateRoot = prepared.ParentStateRoot
	final.Header.StateRoot = newRoot
	final.Header.TransactionsRoot = prepared.TransactionsRoot
	final.Header.ValidatorSetHash = prepared.ValidatorSetHash
	final.Header.GasUsed = prepared.GasUsed

	encoded := codec.EncodeBlock(final)
	if err := sm.store.PutBlock(h, encoded); err != nil {
		return ktypes.Block{}, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeBackendIO, "persist block", err)
	}

	// Step 12.
	blockHash := final.Header.Hash(codec.EncodeBlockHeader, hashing.HeaderHash)
	sm.updateStatusAndRecent(h, final.Header.Timestamp, uint64(len(final.Txs)), blockHash)

	smLog.Info("committed block", "height", h, "gas_used", final.Header.GasUsed, "txs", len(final.Txs), "root", newRoot.Hex())
	return final, nil
}

var _ executor.Viewer = (*treeView)(nil)
