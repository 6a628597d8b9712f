// Package scheduler drives the parallel execution of a block's
// transactions over internal/mvcc until every index has an execution
// result whose read set has been validated under the final order (spec
// §4.4). Grounded on the teacher's pkg/bal scheduler.go (topological wave
// dispatch) and conflict_detector.go (dependency tracking), re-targeted
// from a pre-computed Block Access List to live, incrementally-discovered
// read/write sets: instead of scheduling fixed waves up front, workers
// pull tasks from a shared dispatch table that reacts to each
// transaction's actual reads and writes as they're produced.
package scheduler

import (
	"errors"
	"sync"

	"github.com/ioi-network/kernel/internal/mvcc"
)

// TxState is one state in spec §4.4's per-transaction state machine.
type TxState int

const (
	StateReadyToExecute TxState = iota
	StateExecuting
	StateReadyToValidate
	StateValidating
	StateValidated
	StateAborted
)

func (s TxState) String() string {
	switch s {
	case StateReadyToExecute:
		return "ReadyToExecute"
	case StateExecuting:
		return "Executing"
	case StateReadyToValidate:
		return "ReadyToValidate"
	case StateValidating:
		return "Validating"
	case StateValidated:
		return "Validated"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// ErrStaleIncarnation is returned when a worker reports a result for an
// incarnation that has since been superseded by an abort — the caller
// should discard the result rather than treat it as an error.
var ErrStaleIncarnation = errors.New("scheduler: result reported for a stale incarnation")

// TaskKind distinguishes the four task shapes a worker can receive.
type TaskKind int

const (
	TaskExecute TaskKind = iota
	TaskValidate
	TaskRetryLater
	TaskDone
)

// Task is what NextTask hands a worker: an index and incarnation to
// execute or validate, or a signal to yield or stop.
type Task struct {
	Kind        TaskKind
	Index       int
	Incarnation int
}

type txRecord struct {
	state       TxState
	incarnation int
	readSet     *mvcc.ReadSet
	writeKeys   map[string]struct{}
}

// Scheduler coordinates N transactions' ReadyToExecute -> ... ->
// Validated progression over a shared internal/mvcc.Memory.
type Scheduler struct {
	mu      sync.Mutex
	records []txRecord

	// dependents[key] is the set of tx indices whose most recently
	// recorded read set observed `key` (at any version, including the
	// base snapshot). Publishing a write to that key makes every
	// higher-indexed dependent a candidate for invalidation (spec §4.4:
	// "All transactions k > i whose read set intersects i's ... write
	// set are also invalidated").
	dependents map[string]map[int]struct{}
}

// New returns a scheduler for n transactions, all initially
// ReadyToExecute.
func New(n int) *Scheduler {
	return &Scheduler{
		records:    make([]txRecord, n),
		dependents: make(map[string]map[int]struct{}),
	}
}

// NextTask returns one unit of work for a worker: a pending validation
// (prioritized, since validations retire finished work and free up
// downstream dependents), else a pending execution, else Done once every
// index is Validated, else RetryLater (spec §4.4 task types).
func (s *Scheduler) NextTask() Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].state == StateReadyToValidate {
			s.records[i].state = StateValidating
			return Task{Kind: TaskValidate, Index: i, Incarnation: s.records[i].incarnation}
		}
	}
	for i := range s.records {
		if s.records[i].state == StateReadyToExecute {
			s.records[i].state = StateExecuting
			return Task{Kind: TaskExecute, Index: i, Incarnation: s.records[i].incarnation}
		}
	}

	allValidated := true
	for i := range s.records {
		if s.records[i].state != StateValidated {
			allValidated = false
			break
		}
	}
	if allValidated {
		return Task{Kind: TaskDone}
	}
	return Task{Kind: TaskRetryLater}
}

// FinishExecution records incarnation's read and write sets for tx index
// and transitions it to ReadyToValidate (spec §4.4: "On finish_execution
// (i): transition to ReadyToValidate"). Publishing the write set may
// cascade-invalidate higher-indexed transactions whose prior reads
// (of the base snapshot or of an earlier incarnation's writes) are now
// stale, re-enqueuing them as ReadyToExecute at a bumped incarnation.
func (s *Scheduler) FinishExecution(index, incarnation int, rs *mvcc.ReadSet, writeKeys [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &s.records[index]
	if r.state != StateExecuting || r.incarnation != incarnation {
		return ErrStaleIncarnation
	}

	s.unregisterReadsLocked(index)
	r.readSet = rs
	s.registerReadsLocked(index, rs)

	newWrites := make(map[string]struct{}, len(writeKeys))
	for _, k := range writeKeys {
		newWrites[string(k)] = struct{}{}
	}
	r.writeKeys = newWrites
	r.state = StateReadyToValidate

	for key := range newWrites {
		for dep := range s.dependents[key] {
			if dep <= index {
				continue
			}
			s.invalidateLocked(dep)
		}
	}
	return nil
}

// FinishValidation reports the outcome of validating tx index's current
// incarnation. ok==true transitions it to Validated; ok==false aborts it
// (spec §4.4 protocol: "On validate returning false ... mark i Aborted,
// bump incarnation, re-enqueue as ReadyToExecute").
func (s *Scheduler) FinishValidation(index, incarnation int, ok bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &s.records[index]
	if r.state != StateValidating || r.incarnation != incarnation {
		return ErrStaleIncarnation
	}
	if ok {
		r.state = StateValidated
		return nil
	}
	s.invalidateLocked(index)
	return nil
}

// invalidateLocked aborts index and re-enqueues it at a bumped
// incarnation, regardless of its current state (ReadyToValidate,
// Validating, or Validated can all be invalidated; an index currently
// Executing is left to finish — its own eventual validate call will
// observe the now-stale read set and abort itself, since a brand-new
// Executing incarnation can't safely be cancelled mid-flight here).
// Abort is transient by construction: the only thing that ever follows
// it is ReadyToExecute, so there is no separately observable Aborted
// state to dispatch from.
func (s *Scheduler) invalidateLocked(index int) {
	r := &s.records[index]
	if r.state == StateExecuting || r.state == StateReadyToExecute {
		return
	}
	r.state = StateReadyToExecute
	r.incarnation++
}

func (s *Scheduler) registerReadsLocked(index int, rs *mvcc.ReadSet) {
	for _, obs := range rs.Observations() {
		key := string(obs.Key)
		set, ok := s.dependents[key]
		if !ok {
			set = make(map[int]struct{})
			s.dependents[key] = set
		}
		set[index] = struct{}{}
	}
}

func (s *Scheduler) unregisterReadsLocked(index int) {
	prev := s.records[index].readSet
	if prev == nil {
		return
	}
	for _, obs := range prev.Observations() {
		key := string(obs.Key)
		if set, ok := s.dependents[key]; ok {
			delete(set, index)
			if len(set) == 0 {
				delete(s.dependents, key)
			}
		}
	}
}

// State reports a transaction's current state and incarnation (for tests
// and diagnostics).
func (s *Scheduler) State(index int) (TxState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[index]
	return r.state, r.incarnation
}

// Len returns the number of transactions being scheduled.
func (s *Scheduler) Len() int { return len(s.records) }
