package scribe_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quill/internal/services"
	"quill/internal/services/scribe"
)

func TestGenerateAcceptsJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generate" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Fatalf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"processing","job_ref":"job-42"}`))
	}))
	defer server.Close()

	client := scribe.NewClient(scribe.Config{BaseURL: server.URL, APIKey: "key-1"})
	update, err := client.Generate(context.Background(), scribe.Request{WorkflowID: "wf", StageKey: "outline"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if update.State != scribe.StateProcessing || update.Ref != "job-42" {
		t.Fatalf("update = %+v", update)
	}
}

func TestGenerateSynchronousCompletion(t *testing.T) {
	body := `{"status":"completed","job_ref":"job-9","output":{"kind":"outline","summary":"ok","sections":[{"id":"intro","title":"Intro","items":[{"title":"First point","description":"Detailed enough text"}]}]}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := scribe.NewClient(scribe.Config{BaseURL: server.URL})
	update, err := client.Generate(context.Background(), scribe.Request{StageKey: "outline"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !update.Terminal() || update.Output == nil {
		t.Fatalf("update = %+v", update)
	}
	doc := update.Output.Document
	if doc == nil || len(doc.Sections) != 1 || len(doc.Sections[0].Items) != 1 {
		t.Fatalf("document = %+v", doc)
	}
	item := doc.Sections[0].Items[0]
	if !item.Included {
		t.Fatal("included should default to true when omitted")
	}
	if item.SectionID != "intro" || item.Ordinal != 0 {
		t.Fatalf("item position = %s#%d", item.SectionID, item.Ordinal)
	}
}

func TestGenerateFlattensNestedResult(t *testing.T) {
	body := `{"result":{"result":{"status":"processing","job_ref":"job-n"}}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := scribe.NewClient(scribe.Config{BaseURL: server.URL})
	update, err := client.Generate(context.Background(), scribe.Request{StageKey: "outline"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if update.Ref != "job-n" {
		t.Fatalf("ref = %q", update.Ref)
	}
}

func TestGenerateRetriesTransientStatuses(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"status":"processing","job_ref":"job-r"}`))
	}))
	defer server.Close()

	var slept []time.Duration
	client := scribe.NewClient(scribe.Config{BaseURL: server.URL},
		scribe.WithRetryMaxAttempts(5),
		scribe.WithSleeper(func(d time.Duration) { slept = append(slept, d) }))

	update, err := client.Generate(context.Background(), scribe.Request{StageKey: "outline"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if update.Ref != "job-r" || attempts != 3 {
		t.Fatalf("ref=%q attempts=%d", update.Ref, attempts)
	}
	for _, d := range slept {
		if d != time.Second {
			t.Fatalf("Retry-After not honored, slept %v", d)
		}
	}
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := scribe.NewClient(scribe.Config{BaseURL: server.URL},
		scribe.WithRetryMaxAttempts(5),
		scribe.WithSleeper(func(time.Duration) {}))

	if _, err := client.Generate(context.Background(), scribe.Request{StageKey: "outline"}); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestStatusReportsTransientOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := scribe.NewClient(scribe.Config{BaseURL: server.URL})
	_, err := client.Status(context.Background(), "job-1")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("error = %v, want transient", err)
	}
}

func TestStatusReportsTransientOnNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	client := scribe.NewClient(scribe.Config{BaseURL: server.URL})
	_, err := client.Status(context.Background(), "job-1")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("error = %v, want transient", err)
	}
}

func TestStatusTerminalFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs/job-5" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"failed","error":{"message":"model refused"}}`))
	}))
	defer server.Close()

	client := scribe.NewClient(scribe.Config{BaseURL: server.URL})
	update, err := client.Status(context.Background(), "job-5")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if update.State != scribe.StateFailed || update.ErrorMessage != "model refused" {
		t.Fatalf("update = %+v", update)
	}
	if update.Ref != "job-5" {
		t.Fatalf("ref = %q", update.Ref)
	}
}

func TestStatusFailureWithoutMessageGetsDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"failed"}`))
	}))
	defer server.Close()

	client := scribe.NewClient(scribe.Config{BaseURL: server.URL})
	update, err := client.Status(context.Background(), "job-6")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if update.ErrorMessage != "generation failed" {
		t.Fatalf("message = %q", update.ErrorMessage)
	}
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := scribe.NewClient(scribe.Config{BaseURL: server.URL})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}
