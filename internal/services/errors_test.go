package services_test

import (
	"errors"
	"strings"
	"testing"

	"quill/internal/services"
)

func TestWrapPreservesMarkerAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := services.Wrap(services.ErrPersistence, "outline", "save run", "write failed", cause)

	if !errors.Is(err, services.ErrPersistence) {
		t.Fatal("expected persistence marker")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause")
	}
	for _, want := range []string{"outline", "save run", "write failed", "disk full"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestWrapDefaultsNilMarkerToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "poll", "network blip", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestKind(t *testing.T) {
	cases := []struct {
		marker error
		want   string
	}{
		{services.ErrValidation, "validation"},
		{services.ErrPrecondition, "precondition"},
		{services.ErrConflict, "conflict"},
		{services.ErrTimeout, "timeout"},
		{services.ErrWorker, "worker"},
		{services.ErrPersistence, "persistence"},
		{services.ErrTransient, "transient"},
	}
	for _, tc := range cases {
		err := services.Wrap(tc.marker, "stage", "op", "", nil)
		if got := services.Kind(err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.marker, got, tc.want)
		}
	}
	if got := services.Kind(errors.New("plain")); got != "unknown" {
		t.Fatalf("Kind(plain) = %q, want unknown", got)
	}
}

func TestRecoverable(t *testing.T) {
	if !services.Recoverable(services.Wrap(services.ErrConflict, "", "submit", "", nil)) {
		t.Fatal("conflict should be recoverable")
	}
	if !services.Recoverable(services.Wrap(services.ErrPersistence, "", "flush", "", nil)) {
		t.Fatal("persistence should be recoverable")
	}
	if services.Recoverable(services.Wrap(services.ErrTimeout, "", "poll", "", nil)) {
		t.Fatal("timeout should not be recoverable")
	}
	if services.Recoverable(services.Wrap(services.ErrWorker, "", "generate", "", nil)) {
		t.Fatal("worker failure should not be recoverable")
	}
}
