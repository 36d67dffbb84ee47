package testsupport

import (
	"context"
	"sync"

	"quill/internal/services/scribe"
)

// ScriptedService is a scribe.Service fake that returns queued updates in
// order. Generate consumes from the submit script, Status from the poll
// script.
type ScriptedService struct {
	mu sync.Mutex

	GenerateUpdates []scribe.Update
	GenerateErrs    []error
	StatusUpdates   []scribe.Update
	StatusErrs      []error

	GenerateCalls int
	StatusCalls   int
}

var _ scribe.Service = (*ScriptedService)(nil)

func (s *ScriptedService) Generate(_ context.Context, _ scribe.Request) (scribe.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.GenerateCalls
	s.GenerateCalls++
	if idx < len(s.GenerateErrs) && s.GenerateErrs[idx] != nil {
		return scribe.Update{}, s.GenerateErrs[idx]
	}
	if idx < len(s.GenerateUpdates) {
		return s.GenerateUpdates[idx], nil
	}
	if len(s.GenerateUpdates) > 0 {
		return s.GenerateUpdates[len(s.GenerateUpdates)-1], nil
	}
	return scribe.Update{State: scribe.StateProcessing, Ref: "job-1"}, nil
}

func (s *ScriptedService) Status(_ context.Context, ref string) (scribe.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.StatusCalls
	s.StatusCalls++
	if idx < len(s.StatusErrs) && s.StatusErrs[idx] != nil {
		return scribe.Update{}, s.StatusErrs[idx]
	}
	if idx < len(s.StatusUpdates) {
		update := s.StatusUpdates[idx]
		if update.Ref == "" {
			update.Ref = ref
		}
		return update, nil
	}
	if len(s.StatusUpdates) > 0 {
		update := s.StatusUpdates[len(s.StatusUpdates)-1]
		if update.Ref == "" {
			update.Ref = ref
		}
		return update, nil
	}
	return scribe.Update{State: scribe.StateProcessing, Ref: ref}, nil
}
