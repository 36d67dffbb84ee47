package scribe

import (
	"context"

	"quill/internal/pipeline"
)

// JobState is the generation service's view of a job.
type JobState string

const (
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
)

// Request describes one stage generation. Identical requests are idempotent on
// the service side; a repeat submit may resolve synchronously from cache.
type Request struct {
	WorkflowID string            `json:"workflow_id"`
	StageID    int               `json:"stage_id"`
	StageKey   string            `json:"stage_key"`
	Brief      string            `json:"brief,omitempty"`
	Inputs     map[string]string `json:"inputs,omitempty"`
	Options    map[string]any    `json:"options,omitempty"`
}

// Update is the normalized service response: either a job reference to poll,
// or a terminal result.
type Update struct {
	State        JobState
	Ref          string
	Output       *pipeline.Output
	ErrorMessage string
}

// Terminal reports whether the update carries a final result.
func (u Update) Terminal() bool {
	return u.State == StateCompleted || u.State == StateFailed
}

// Service is the generation surface the worker client consumes.
type Service interface {
	// Generate submits a request. The returned update is terminal when the
	// service resolved synchronously, otherwise it carries a job reference.
	Generate(ctx context.Context, req Request) (Update, error)
	// Status checks a job once. Infrastructure failures are reported as
	// transient errors; the caller decides whether to retry.
	Status(ctx context.Context, ref string) (Update, error)
}
