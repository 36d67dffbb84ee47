package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks field-level rejections: titles or descriptions that
	// are too short, or an attempt to remove the last item in a section.
	ErrValidation = errors.New("validation error")
	// ErrPrecondition marks a stage trigger attempted before its dependencies
	// have completed, or while a dependency is stale.
	ErrPrecondition = errors.New("precondition error")
	// ErrConflict marks a duplicate trigger while a run is already in flight.
	ErrConflict = errors.New("conflict error")
	// ErrTimeout marks a generation whose poll budget was exceeded.
	ErrTimeout = errors.New("timeout error")
	// ErrWorker marks a failure reported by the generation service itself.
	ErrWorker = errors.New("worker error")
	// ErrPersistence marks a store write that did not durably succeed.
	ErrPersistence = errors.New("persistence error")
	// ErrTransient marks a retriable infrastructure failure, such as a network
	// error during a status poll.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns the taxonomy name for an error, or "unknown" when the error
// carries no sentinel marker. Used for log fields and CLI display.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrWorker):
		return "worker"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "unknown"
	}
}

// Recoverable reports whether the error is handled locally without failing a
// stage run. Validation, precondition, conflict, and persistence errors gate
// or warn; timeout and worker errors terminate the run.
func Recoverable(err error) bool {
	switch Kind(err) {
	case "validation", "precondition", "conflict", "persistence":
		return true
	default:
		return false
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
