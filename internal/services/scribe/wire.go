package scribe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"quill/internal/outline"
	"quill/internal/pipeline"
)

// maxEnvelopeDepth bounds result-wrapper unwrapping. Some deployments nest
// the payload under repeated "result" keys; we tolerate a few levels and
// normalize to the flat envelope rather than mirroring the nesting.
const maxEnvelopeDepth = 4

type wireEnvelope struct {
	Status string          `json:"status"`
	JobRef string          `json:"job_ref"`
	Output json.RawMessage `json:"output"`
	Error  *wireError      `json:"error"`
	Result json.RawMessage `json:"result"`
}

type wireError struct {
	Message string `json:"message"`
}

type wireOutput struct {
	Kind     string        `json:"kind"`
	Summary  string        `json:"summary"`
	Sections []wireSection `json:"sections"`
}

type wireSection struct {
	ID    string     `json:"id"`
	Title string     `json:"title"`
	Items []wireItem `json:"items"`
}

type wireItem struct {
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	Priority       string              `json:"priority"`
	Included       *bool               `json:"included"`
	ContentSources []outline.Reference `json:"content_sources"`
}

// parseEnvelope decodes a service response body and flattens any legacy
// result nesting into the fixed envelope schema.
func parseEnvelope(body []byte) (wireEnvelope, error) {
	var envelope wireEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return envelope, fmt.Errorf("decode response: %w", err)
	}
	for depth := 0; envelope.Status == "" && len(envelope.Result) > 0; depth++ {
		if depth >= maxEnvelopeDepth {
			return envelope, errors.New("decode response: result nesting too deep")
		}
		inner := envelope.Result
		envelope = wireEnvelope{}
		if err := json.Unmarshal(inner, &envelope); err != nil {
			return envelope, fmt.Errorf("decode nested result: %w", err)
		}
	}
	return envelope, nil
}

// updateFromEnvelope converts a flattened envelope into the normalized Update,
// decoding the output payload for terminal completions.
func updateFromEnvelope(envelope wireEnvelope, stageKey string) (Update, error) {
	state := JobState(strings.ToLower(strings.TrimSpace(envelope.Status)))
	switch state {
	case StateProcessing:
		return Update{State: StateProcessing, Ref: strings.TrimSpace(envelope.JobRef)}, nil
	case StateCompleted:
		output, err := decodeOutput(envelope.Output, stageKey)
		if err != nil {
			return Update{}, err
		}
		return Update{State: StateCompleted, Ref: strings.TrimSpace(envelope.JobRef), Output: output}, nil
	case StateFailed:
		message := "generation failed"
		if envelope.Error != nil && strings.TrimSpace(envelope.Error.Message) != "" {
			message = strings.TrimSpace(envelope.Error.Message)
		}
		return Update{State: StateFailed, Ref: strings.TrimSpace(envelope.JobRef), ErrorMessage: message}, nil
	default:
		return Update{}, fmt.Errorf("unknown job status %q", envelope.Status)
	}
}

func decodeOutput(raw json.RawMessage, stageKey string) (*pipeline.Output, error) {
	if len(raw) == 0 {
		return nil, errors.New("completed response missing output")
	}
	var wire wireOutput
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return outputFromWire(wire, stageKey), nil
}

func outputFromWire(wire wireOutput, stageKey string) *pipeline.Output {
	kind := strings.TrimSpace(wire.Kind)
	if kind == "" {
		kind = stageKey
	}
	output := &pipeline.Output{Kind: kind, Summary: strings.TrimSpace(wire.Summary)}
	if len(wire.Sections) == 0 {
		return output
	}
	doc := &outline.Document{Sections: make([]outline.Section, 0, len(wire.Sections))}
	for si, section := range wire.Sections {
		id := strings.TrimSpace(section.ID)
		if id == "" {
			id = fmt.Sprintf("section-%d", si+1)
		}
		items := make([]outline.Item, 0, len(section.Items))
		for oi, item := range section.Items {
			included := true
			if item.Included != nil {
				included = *item.Included
			}
			items = append(items, outline.Item{
				SectionID:      id,
				Ordinal:        oi,
				Title:          strings.TrimSpace(item.Title),
				Description:    strings.TrimSpace(item.Description),
				Included:       included,
				Priority:       strings.ToLower(strings.TrimSpace(item.Priority)),
				ContentSources: item.ContentSources,
			})
		}
		doc.Sections = append(doc.Sections, outline.Section{
			ID:    id,
			Title: strings.TrimSpace(section.Title),
			Items: items,
		})
	}
	output.Document = doc
	return output
}
