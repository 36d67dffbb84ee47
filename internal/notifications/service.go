package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quill/internal/config"
)

const userAgent = "Quill/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyStageStarted(ctx context.Context, workflowTitle, stageName string) error
	NotifyStageCompleted(ctx context.Context, workflowTitle, stageName string) error
	NotifyStageFailed(ctx context.Context, workflowTitle, stageName, reason string) error
	NotifyWorkflowCompleted(ctx context.Context, workflowTitle string) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		stages:   cfg.Notifications.Stages,
		errors:   cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	stages   bool
	errors   bool
}

func (n *ntfyService) NotifyStageStarted(ctx context.Context, workflowTitle, stageName string) error {
	if !n.stages {
		return nil
	}
	data := payload{
		title:   "Quill - Stage Started",
		message: fmt.Sprintf("Generating %s for %s", strings.TrimSpace(stageName), strings.TrimSpace(workflowTitle)),
		tags:    []string{"quill", "stage", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyStageCompleted(ctx context.Context, workflowTitle, stageName string) error {
	if !n.stages {
		return nil
	}
	data := payload{
		title:   "Quill - Stage Complete",
		message: fmt.Sprintf("%s ready for %s", strings.TrimSpace(stageName), strings.TrimSpace(workflowTitle)),
		tags:    []string{"quill", "stage", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyStageFailed(ctx context.Context, workflowTitle, stageName, reason string) error {
	if !n.errors {
		return nil
	}
	message := fmt.Sprintf("%s failed for %s", strings.TrimSpace(stageName), strings.TrimSpace(workflowTitle))
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	data := payload{
		title:    "Quill - Stage Failed",
		message:  message,
		tags:     []string{"quill", "stage", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyWorkflowCompleted(ctx context.Context, workflowTitle string) error {
	data := payload{
		title:    "Quill - Complete",
		message:  fmt.Sprintf("All stages complete: %s", strings.TrimSpace(workflowTitle)),
		tags:     []string{"quill", "workflow", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Quill - Error",
		message:  builder.String(),
		tags:     []string{"quill", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Quill - Test",
		message:  "Notification system test",
		tags:     []string{"quill", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyStageStarted(context.Context, string, string) error       { return nil }
func (noopService) NotifyStageCompleted(context.Context, string, string) error     { return nil }
func (noopService) NotifyStageFailed(context.Context, string, string, string) error { return nil }
func (noopService) NotifyWorkflowCompleted(context.Context, string) error          { return nil }
func (noopService) NotifyError(context.Context, error, string) error               { return nil }
func (noopService) TestNotification(context.Context) error                         { return nil }
