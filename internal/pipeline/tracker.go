package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"quill/internal/services"
)

// Snapshot is a side-effect-free view of a stage run's current state.
type Snapshot struct {
	RunID        string
	StageID      int
	Status       Status
	StartedAt    time.Time
	CompletedAt  *time.Time
	Output       *Output
	ErrorMessage string
}

// Tracker enforces the run lifecycle for one workflow instance: at most one
// non-terminal run may exist per stage at any time, and terminal runs are
// never reopened.
type Tracker struct {
	mu     sync.Mutex
	runs   map[string]*StageRun
	active map[int]string
	clock  func() time.Time
}

// NewTracker constructs an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		runs:   make(map[string]*StageRun),
		active: make(map[int]string),
		clock:  time.Now,
	}
}

// WithClock overrides the tracker's time source (used in tests).
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	if clock != nil {
		t.clock = clock
	}
	return t
}

// Submit registers a new pending run for the stage. It fails with a conflict
// error when a non-terminal run already exists; the caller must await or
// abandon the existing run first.
func (t *Tracker) Submit(workflowID string, stageID int) (*StageRun, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if runID, ok := t.active[stageID]; ok {
		if run := t.runs[runID]; run != nil && !run.IsTerminal() {
			return nil, services.Wrap(services.ErrConflict, "", "submit",
				fmt.Sprintf("stage %d already has run %s in status %s", stageID, run.ID, run.Status), nil)
		}
	}

	run := &StageRun{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		StageID:    stageID,
		Status:     StatusPending,
		StartedAt:  t.clock().UTC(),
	}
	t.runs[run.ID] = run
	t.active[stageID] = run.ID
	return cloneRun(run), nil
}

// Observe returns the current state of a run without side effects.
func (t *Tracker) Observe(runID string) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok {
		return Snapshot{}, fmt.Errorf("unknown run %q", runID)
	}
	return Snapshot{
		RunID:        run.ID,
		StageID:      run.StageID,
		Status:       run.Status,
		StartedAt:    run.StartedAt,
		CompletedAt:  cloneTime(run.CompletedAt),
		Output:       run.Output.Clone(),
		ErrorMessage: run.ErrorMessage,
	}, nil
}

// ActiveRun returns the non-terminal run for a stage, or nil.
func (t *Tracker) ActiveRun(stageID int) *StageRun {
	t.mu.Lock()
	defer t.mu.Unlock()

	runID, ok := t.active[stageID]
	if !ok {
		return nil
	}
	run := t.runs[runID]
	if run == nil || run.IsTerminal() {
		return nil
	}
	return cloneRun(run)
}

// MarkProcessing advances a pending run to processing.
func (t *Tracker) MarkProcessing(runID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok {
		return fmt.Errorf("unknown run %q", runID)
	}
	if run.Status == StatusProcessing {
		return nil
	}
	if !CanTransition(run.Status, StatusProcessing) {
		return fmt.Errorf("run %s: invalid transition %s -> %s", runID, run.Status, StatusProcessing)
	}
	run.Status = StatusProcessing
	return nil
}

// MarkTerminal resolves a processing run to completed or failed. Calling it on
// an already-terminal run is a no-op so late poll results cannot corrupt state.
func (t *Tracker) MarkTerminal(runID string, status Status, output *Output, errMessage string) (*StageRun, error) {
	if !IsTerminalStatus(status) {
		return nil, fmt.Errorf("status %s is not terminal", status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok {
		return nil, fmt.Errorf("unknown run %q", runID)
	}
	if run.IsTerminal() {
		return cloneRun(run), nil
	}
	if !CanTransition(run.Status, status) {
		return nil, fmt.Errorf("run %s: invalid transition %s -> %s", runID, run.Status, status)
	}

	now := t.clock().UTC()
	run.Status = status
	run.CompletedAt = &now
	run.Output = output
	run.ErrorMessage = errMessage
	if t.active[run.StageID] == run.ID {
		delete(t.active, run.StageID)
	}
	return cloneRun(run), nil
}

// Abandon fails a non-terminal run without going through processing, used when
// a prior session left an orphaned run behind. Terminal runs are untouched.
func (t *Tracker) Abandon(runID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok || run.IsTerminal() {
		return
	}
	now := t.clock().UTC()
	run.Status = StatusFailed
	run.CompletedAt = &now
	run.ErrorMessage = reason
	if t.active[run.StageID] == run.ID {
		delete(t.active, run.StageID)
	}
}

// Adopt registers a run loaded from the store, preserving its identity. A
// non-terminal adopted run occupies the stage's single in-flight slot.
func (t *Tracker) Adopt(run *StageRun) {
	if run == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := cloneRun(run)
	t.runs[cp.ID] = cp
	if !cp.IsTerminal() {
		t.active[cp.StageID] = cp.ID
	}
}

func cloneRun(run *StageRun) *StageRun {
	if run == nil {
		return nil
	}
	cp := *run
	cp.CompletedAt = cloneTime(run.CompletedAt)
	cp.Output = run.Output.Clone()
	return &cp
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
