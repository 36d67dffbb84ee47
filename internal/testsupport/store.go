package testsupport

import (
	"context"
	"testing"

	"quill/internal/config"
	"quill/internal/pipeline"
	"quill/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewInstance creates a workflow instance for tests using the provided store.
func NewInstance(t testing.TB, st *store.Store, title, pipelineKey string) *pipeline.Instance {
	t.Helper()

	instance := &pipeline.Instance{Title: title, PipelineKey: pipelineKey}
	if err := st.CreateInstance(context.Background(), instance); err != nil {
		t.Fatalf("store.CreateInstance: %v", err)
	}
	return instance
}
