package pipeline

import (
	"strings"
	"time"

	"quill/internal/outline"
)

// Status represents the lifecycle of a stage run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// validTransitions is the strict state machine: no transition skips states and
// terminal states admit no successor.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminalStatus reports whether a status admits no further transitions.
func IsTerminalStatus(status Status) bool {
	return status == StatusCompleted || status == StatusFailed
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Stage is the static definition of one pipeline step.
type Stage struct {
	ID   int
	Key  string
	Name string
	// DependsOn lists prior stage IDs that must hold a completed,
	// non-stale run before this stage may start.
	DependsOn []int
	// MinItemsRequired applies to structured stages producing sections of
	// items; the generated output must carry at least this many items.
	MinItemsRequired int
	// Structured marks stages whose output is an editable section/item
	// document rather than free text.
	Structured bool
}

// Output is the stage-specific result payload of a completed run.
type Output struct {
	Kind     string            `json:"kind"`
	Summary  string            `json:"summary,omitempty"`
	Document *outline.Document `json:"document,omitempty"`
}

// Clone returns a deep copy of the output.
func (o *Output) Clone() *Output {
	if o == nil {
		return nil
	}
	return &Output{Kind: o.Kind, Summary: o.Summary, Document: o.Document.Clone()}
}

// StageRun is one execution attempt of a stage. Terminal runs are immutable;
// a regeneration creates a new run.
type StageRun struct {
	ID           string
	WorkflowID   string
	StageID      int
	Status       Status
	StartedAt    time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	Output       *Output
}

// IsTerminal reports whether the run reached a terminal status.
func (r *StageRun) IsTerminal() bool {
	return r != nil && IsTerminalStatus(r.Status)
}

// Instance is the per-project workflow record: pipeline selection plus the
// invalidation marker and regeneration counter.
type Instance struct {
	ID          string
	Title       string
	PipelineKey string
	// LastModifiedStage is the lowest stage ID whose input configuration
	// changed after that stage last completed; 0 when no change is pending.
	LastModifiedStage int
	ConfigChangedAt   *time.Time
	RegenerationCount int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
