package scribe

import (
	"fmt"
	"sort"
	"strings"

	"quill/internal/pipeline"
)

const outputSchemaHint = `Respond with a single JSON object:
{
  "kind": "<stage kind>",
  "summary": "<one paragraph summary>",
  "sections": [
    {
      "id": "<stable section id>",
      "title": "<section title>",
      "items": [
        {
          "title": "<item title, at least 5 characters>",
          "description": "<item description, at least 10 characters>",
          "priority": "critical|high|normal|low",
          "included": true,
          "content_sources": [{"kind": "<source kind>", "locator": "<where>"}]
        }
      ]
    }
  ]
}
Leave "sections" empty for prose-only stages. Do not wrap the JSON in markdown fences.`

var systemPrompts = map[string]string{
	pipeline.StageKindAnalysis: "You analyze source material for a content production workflow. " +
		"Identify the themes, claims, and notable details worth carrying into later stages. " +
		"Be factual and specific; do not invent material that is not in the inputs.",
	pipeline.StageKindEvaluation: "You evaluate analyzed source material for publication fitness. " +
		"Judge relevance, novelty, and audience fit, and call out gaps the writer should fill.",
	pipeline.StageKindOutline: "You produce a structured outline for a content piece. " +
		"Group items into sections, mark genuinely essential items with priority \"critical\", " +
		"and give every item a concrete title and description.",
	pipeline.StageKindDraft: "You draft content sections from an approved outline. " +
		"Follow the outline's structure and only cover items marked as included.",
}

// systemPromptFor returns the system prompt for a stage kind, falling back to a
// generic instruction for unknown kinds.
func systemPromptFor(stageKey string) string {
	if prompt, ok := systemPrompts[strings.ToLower(strings.TrimSpace(stageKey))]; ok {
		return prompt + "\n\n" + outputSchemaHint
	}
	return "You assist a staged content production workflow.\n\n" + outputSchemaHint
}

// userPromptFor renders the request brief and named inputs into a single
// prompt. Inputs are emitted in key order so identical requests produce
// identical prompts.
func userPromptFor(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stage: %s\n", req.StageKey)
	if brief := strings.TrimSpace(req.Brief); brief != "" {
		b.WriteString("\nBrief:\n")
		b.WriteString(brief)
		b.WriteString("\n")
	}
	if len(req.Inputs) > 0 {
		keys := make([]string, 0, len(req.Inputs))
		for key := range req.Inputs {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, "\n--- %s ---\n%s\n", key, strings.TrimSpace(req.Inputs[key]))
		}
	}
	return b.String()
}
