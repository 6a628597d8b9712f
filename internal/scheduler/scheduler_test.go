package scheduler

import (
	"testing"

	"github.com/ioi-network/kernel/internal/mvcc"
)

type fixedBase struct{}

func (fixedBase) Get(key []byte) ([]byte, bool, error) { return nil, false, nil }

func TestAllReadyToExecuteInitially(t *testing.T) {
	s := New(3)
	for i := 0; i < 3; i++ {
		state, inc := s.State(i)
		if state != StateReadyToExecute || inc != 0 {
			t.Fatalf("tx %d: expected ReadyToExecute/0, got %s/%d", i, state, inc)
		}
	}
}

func TestNextTaskDispatchesExecuteThenDone(t *testing.T) {
	s := New(2)

	task := s.NextTask()
	if task.Kind != TaskExecute || task.Index != 0 {
		t.Fatalf("expected Execute(0), got %+v", task)
	}
	task2 := s.NextTask()
	if task2.Kind != TaskExecute || task2.Index != 1 {
		t.Fatalf("expected Execute(1), got %+v", task2)
	}

	// Both now Executing: no more execute or validate work yet.
	task3 := s.NextTask()
	if task3.Kind != TaskRetryLater {
		t.Fatalf("expected RetryLater while both are Executing, got %+v", task3)
	}

	if err := s.FinishExecution(0, 0, mvcc.NewReadSet(), nil); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishExecution(1, 0, mvcc.NewReadSet(), nil); err != nil {
		t.Fatal(err)
	}

	v0 := s.NextTask()
	if v0.Kind != TaskValidate || v0.Index != 0 {
		t.Fatalf("expected Validate(0), got %+v", v0)
	}
	v1 := s.NextTask()
	if v1.Kind != TaskValidate || v1.Index != 1 {
		t.Fatalf("expected Validate(1), got %+v", v1)
	}

	if err := s.FinishValidation(0, 0, true); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishValidation(1, 0, true); err != nil {
		t.Fatal(err)
	}

	done := s.NextTask()
	if done.Kind != TaskDone {
		t.Fatalf("expected Done once all validated, got %+v", done)
	}
}

func TestFinishExecutionRejectsStaleIncarnation(t *testing.T) {
	s := New(1)
	s.NextTask() // dispatches Execute(0) at incarnation 0

	if err := s.FinishExecution(0, 5, mvcc.NewReadSet(), nil); err != ErrStaleIncarnation {
		t.Fatalf("expected ErrStaleIncarnation, got %v", err)
	}
}

func TestFailedValidationReenqueuesWithBumpedIncarnation(t *testing.T) {
	s := New(1)
	s.NextTask()
	if err := s.FinishExecution(0, 0, mvcc.NewReadSet(), nil); err != nil {
		t.Fatal(err)
	}
	s.NextTask() // dispatches Validate(0)

	if err := s.FinishValidation(0, 0, false); err != nil {
		t.Fatal(err)
	}

	state, inc := s.State(0)
	if state != StateReadyToExecute || inc != 1 {
		t.Fatalf("expected ReadyToExecute/1 after failed validation, got %s/%d", state, inc)
	}

	task := s.NextTask()
	if task.Kind != TaskExecute || task.Incarnation != 1 {
		t.Fatalf("expected re-dispatch at incarnation 1, got %+v", task)
	}
}

func TestWriteCascadeInvalidatesHigherIndexReader(t *testing.T) {
	s := New(2)

	// tx0 and tx1 both start executing.
	s.NextTask()
	s.NextTask()

	// tx1 reads key "shared" from the base snapshot (tx0 hasn't written
	// yet) and finishes first.
	rs1 := mvcc.NewReadSet()
	base := &fixedBase{}
	m := mvcc.New(base)
	if _, _, err := m.Read(1, []byte("shared"), rs1); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishExecution(1, 0, rs1, nil); err != nil {
		t.Fatal(err)
	}
	if state, _ := s.State(1); state != StateReadyToValidate {
		t.Fatalf("expected tx1 ReadyToValidate, got %s", state)
	}

	// tx0 now finishes, writing "shared" — this must invalidate tx1's
	// stale base-snapshot read.
	if err := s.FinishExecution(0, 0, mvcc.NewReadSet(), [][]byte{[]byte("shared")}); err != nil {
		t.Fatal(err)
	}

	state, inc := s.State(1)
	if state != StateReadyToExecute || inc != 1 {
		t.Fatalf("expected tx1 invalidated back to ReadyToExecute/1, got %s/%d", state, inc)
	}
}

func TestWriteCascadeDoesNotInvalidateLowerIndex(t *testing.T) {
	s := New(2)
	s.NextTask()
	s.NextTask()

	rs0 := mvcc.NewReadSet()
	base := &fixedBase{}
	m := mvcc.New(base)
	if _, _, err := m.Read(0, []byte("shared"), rs0); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishExecution(0, 0, rs0, nil); err != nil {
		t.Fatal(err)
	}

	if err := s.FinishExecution(1, 0, mvcc.NewReadSet(), [][]byte{[]byte("shared")}); err != nil {
		t.Fatal(err)
	}

	state, inc := s.State(0)
	if state != StateReadyToValidate || inc != 0 {
		t.Fatalf("a higher-indexed transaction's writes must never invalidate a lower index, got %s/%d", state, inc)
	}
}
