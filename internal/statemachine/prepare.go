package statemachine

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ioi-network/kernel/internal/codec"
	"github.com/ioi-network/kernel/internal/executor"
	"github.com/ioi-network/kernel/internal/hashing"
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/internal/mvcc"
	"github.com/ioi-network/kernel/internal/scheduler"
	"github.com/ioi-network/kernel/pkg/metrics"
)

// PrepareBlock implements spec §4.6's prepare_block: speculative,
// MVCC-parallel execution of block's transactions over the current
// committed state, producing a PreparedBlock ready for commit_block.
// prepare_block never mutates the tree; commit_block does.
func (sm *StateMachine) PrepareBlock(block ktypes.Block) (ktypes.PreparedBlock, error) {
	sm.mu.Lock()
	head := sm.committedHead
	sm.mu.Unlock()

	// Step 1.
	if block.Header.Height != head+1 {
		return ktypes.PreparedBlock{}, kernelerr.New(kernelerr.KindBlock, kernelerr.CodeInvalidHeight,
			fmt.Sprintf("block height %d does not follow committed head %d", block.Header.Height, head))
	}

	// Step 2.
	sm.pin(head)
	committed := false
	defer func() {
		if !committed {
			sm.unpin(head)
		}
	}()

	// Step 3.
	parentRoot := sm.tree.RootCommitment()
	mem := mvcc.New(sm.tree)

	// Steps 4-5.
	results, err := driveScheduler(mem, len(block.Txs), block.Header.Height, block.Txs,
		sm.sig, sm.accounts, sm.decorators, sm.dispatch)
	if err != nil {
		return ktypes.PreparedBlock{}, kernelerr.Wrap(kernelerr.KindBlock, kernelerr.CodeInvalidBlock,
			"parallel execution failed", err)
	}

	// Step 6.
	changes := mem.ApplyToOverlay()

	// Step 7.
	encodedTxs := make([][]byte, len(block.Txs))
	for i, tx := range block.Txs {
		encodedTxs[i] = codec.EncodeTransaction(tx)
	}
	txRoot := hashing.TransactionsRoot(encodedTxs)
	vset := sm.effectiveValidatorSetForHeight(block.Header.Height)
	vsetHash := validatorSetHash(vset)

	txProofs := make([]ktypes.TxOutcome, len(results))
	var gasUsed uint64
	for i, r := range results {
		txProofs[i] = r.Outcome
		gasUsed += r.Outcome.GasUsed
	}

	committed = true // caller (CommitBlock) owns unpinning head from here.

	// Step 8.
	return ktypes.PreparedBlock{
		Block:            block,
		StateChanges:     changes,
		ParentStateRoot:  parentRoot,
		TransactionsRoot: txRoot,
		ValidatorSetHash: vsetHash,
		TxProofs:         txProofs,
		GasUsed:          gasUsed,
	}, nil
}

// driveScheduler implements spec §5's worker pool: K = min(available
// parallelism, N_tx) workers cooperatively poll the scheduler until every
// transaction is Validated. Grounded on the teacher's bal scheduler.go
// wave dispatch, re-targeted from a fixed worker-per-wave assignment to a
// shared reactive task queue.
func driveScheduler(mem *mvcc.Memory, n int, height ktypes.Height, txs []ktypes.Transaction,
	sig executor.SignatureVerifier, accounts *executor.AccountView, decorators []executor.Decorator, dispatch executor.Dispatcher,
) ([]executor.Result, error) {
	results := make([]executor.Result, n)
	if n == 0 {
		return results, nil
	}

	k := runtime.GOMAXPROCS(0)
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}

	sched := scheduler.New(n)

	var mu sync.Mutex
	var firstErr error
	var aborted int32

	recordErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		atomic.StoreInt32(&aborted, 1)
	}

	worker := func() {
		for atomic.LoadInt32(&aborted) == 0 {
			task := sched.NextTask()
			switch task.Kind {
			case scheduler.TaskDone:
				return
			case scheduler.TaskRetryLater:
				runtime.Gosched()
			case scheduler.TaskExecute:
				if task.Incarnation > 0 {
					metrics.ExecutorReExecutionsTotal.Inc()
				}
				mem.DiscardWrites(task.Index)
				res, err := executor.Run(mem, task.Index, height, txs[task.Index], sig, accounts, decorators, dispatch)
				if err != nil {
					recordErr(err)
					return
				}
				mu.Lock()
				results[task.Index] = res
				mu.Unlock()
				if err := sched.FinishExecution(task.Index, task.Incarnation, res.ReadSet, res.WriteKeys); err != nil && err != scheduler.ErrStaleIncarnation {
					recordErr(err)
					return
				}
			case scheduler.TaskValidate:
				mu.Lock()
				rs := results[task.Index].ReadSet
				mu.Unlock()
				ok := mem.Validate(task.Index, rs)
				if !ok {
					metrics.ExecutorAbortsTotal.Inc()
				}
				if err := sched.FinishValidation(task.Index, task.Incarnation, ok); err != nil && err != scheduler.ErrStaleIncarnation {
					recordErr(err)
					return
				}
			}
		}
	}

	// Each worker hosts its own single-threaded loop (spec §5: "Each
	// worker hosts a lightweight single-threaded executor"); a panic in
	// one is recovered and surfaced as a typed error rather than taking
	// down the process (spec §5 cancellation/timeouts).
	var wg sync.WaitGroup
	wg.Add(k)
	for i := 0; i < k; i++ {
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					recordErr(kernelerr.New(kernelerr.KindBlock, kernelerr.CodeInvalidBlock,
						fmt.Sprintf("executor worker panic: %v", r)))
				}
			}()
			worker()
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
