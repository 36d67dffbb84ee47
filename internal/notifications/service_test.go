package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"quill/internal/config"
	"quill/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyService(t *testing.T, stages, errors bool) (notifications.Service, *[]captured) {
	t.Helper()

	var requests []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Stages = stages
	cfg.Notifications.Errors = errors
	return notifications.NewService(&cfg), &requests
}

func TestStageNotifications(t *testing.T) {
	service, requests := newNtfyService(t, true, true)
	ctx := context.Background()

	if err := service.NotifyStageStarted(ctx, "My Post", "Outline"); err != nil {
		t.Fatalf("NotifyStageStarted: %v", err)
	}
	if err := service.NotifyStageFailed(ctx, "My Post", "Outline", "model refused"); err != nil {
		t.Fatalf("NotifyStageFailed: %v", err)
	}

	got := *requests
	if len(got) != 2 {
		t.Fatalf("requests = %d, want 2", len(got))
	}
	if got[0].title != "Quill - Stage Started" || got[0].body != "Generating Outline for My Post" {
		t.Fatalf("started = %+v", got[0])
	}
	if got[1].priority != "high" || got[1].body != "Outline failed for My Post: model refused" {
		t.Fatalf("failed = %+v", got[1])
	}
}

func TestStageGateSuppressesStageTraffic(t *testing.T) {
	service, requests := newNtfyService(t, false, true)
	ctx := context.Background()

	if err := service.NotifyStageCompleted(ctx, "My Post", "Outline"); err != nil {
		t.Fatalf("NotifyStageCompleted: %v", err)
	}
	if len(*requests) != 0 {
		t.Fatalf("stage notification sent despite disabled gate: %+v", *requests)
	}

	// Workflow completion is not gated by the stage toggle.
	if err := service.NotifyWorkflowCompleted(ctx, "My Post"); err != nil {
		t.Fatalf("NotifyWorkflowCompleted: %v", err)
	}
	if len(*requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(*requests))
	}
}

func TestNoopWhenTopicUnset(t *testing.T) {
	cfg := config.Default()
	service := notifications.NewService(&cfg)
	if err := service.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop service errored: %v", err)
	}
}

func TestSendReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic over quota", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	service := notifications.NewService(&cfg)
	if err := service.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
