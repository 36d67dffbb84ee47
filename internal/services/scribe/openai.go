package scribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"quill/internal/services"
)

// completer is the chat completion surface DirectService depends on. Tests
// substitute a scripted implementation.
type completer func(ctx context.Context, system, user string) (string, error)

// DirectService resolves generations synchronously with the openai-go SDK.
// Every Generate call returns a terminal update; Status serves the same
// result from an in-memory cache so pollers see a consistent job view.
type DirectService struct {
	model    string
	complete completer

	mu      sync.Mutex
	results map[string]Update
}

// DirectOption customizes a DirectService.
type DirectOption func(*DirectService)

// WithCompleter overrides the chat completion call (useful for tests).
func WithCompleter(fn completer) DirectOption {
	return func(s *DirectService) {
		if fn != nil {
			s.complete = fn
		}
	}
}

// NewDirectService constructs the synchronous backend.
func NewDirectService(cfg Config, opts ...DirectOption) (*DirectService, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("scribe direct: model required")
	}
	service := &DirectService{
		model:   strings.TrimSpace(cfg.Model),
		results: make(map[string]Update),
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.complete == nil {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("scribe direct: api key required")
		}
		requestOpts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
		if base := strings.TrimSpace(cfg.BaseURL); base != "" {
			requestOpts = append(requestOpts, option.WithBaseURL(base))
		}
		client := openai.NewClient(requestOpts...)
		model := service.model
		service.complete = func(ctx context.Context, system, user string) (string, error) {
			resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
				Model: openai.ChatModel(model),
				Messages: []openai.ChatCompletionMessageParamUnion{
					openai.SystemMessage(system),
					openai.UserMessage(user),
				},
			})
			if err != nil {
				return "", err
			}
			if len(resp.Choices) == 0 {
				return "", errors.New("empty choices")
			}
			return resp.Choices[0].Message.Content, nil
		}
	}
	return service, nil
}

// Generate runs one chat completion and returns the terminal update. Model and
// decode failures come back as failed updates rather than errors so the run
// records the message instead of retrying.
func (s *DirectService) Generate(ctx context.Context, req Request) (Update, error) {
	if strings.TrimSpace(req.StageKey) == "" {
		return Update{}, errors.New("scribe direct: stage key required")
	}

	ref := uuid.NewString()
	content, err := s.complete(ctx, systemPromptFor(req.StageKey), userPromptFor(req))
	if err != nil {
		if ctx != nil && ctx.Err() != nil {
			return Update{}, ctx.Err()
		}
		update := Update{State: StateFailed, Ref: ref, ErrorMessage: fmt.Sprintf("completion failed: %v", err)}
		s.store(ref, update)
		return update, nil
	}

	var wire wireOutput
	if err := DecodeModelJSON(content, &wire); err != nil {
		update := Update{State: StateFailed, Ref: ref,
			ErrorMessage: fmt.Sprintf("model returned unparseable output: %v", err)}
		s.store(ref, update)
		return update, nil
	}

	update := Update{State: StateCompleted, Ref: ref, Output: outputFromWire(wire, req.StageKey)}
	s.store(ref, update)
	return update, nil
}

// Status returns the cached result for a previously issued reference.
func (s *DirectService) Status(_ context.Context, ref string) (Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update, ok := s.results[strings.TrimSpace(ref)]
	if !ok {
		return Update{}, services.Wrap(services.ErrWorker, "", "scribe status",
			fmt.Sprintf("unknown job ref %q", ref), nil)
	}
	return update, nil
}

func (s *DirectService) store(ref string, update Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[ref] = update
}
