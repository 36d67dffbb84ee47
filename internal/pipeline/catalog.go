package pipeline

import (
	"fmt"
	"strings"
)

// Pipeline is an ordered sequence of stage definitions.
type Pipeline struct {
	Key    string
	Name   string
	Stages []Stage
}

const (
	// StageKindAnalysis and friends name the output kinds the generation
	// service produces per stage.
	StageKindAnalysis   = "analysis"
	StageKindEvaluation = "evaluation"
	StageKindOutline    = "outline"
	StageKindDraft      = "draft"
)

// Proposal is the four-stage proposal pipeline.
func Proposal() Pipeline {
	return Pipeline{
		Key:  "proposal",
		Name: "Proposal",
		Stages: []Stage{
			{ID: 1, Key: StageKindAnalysis, Name: "Source Analysis"},
			{ID: 2, Key: StageKindEvaluation, Name: "Evaluation", DependsOn: []int{1}},
			{ID: 3, Key: StageKindOutline, Name: "Outline", DependsOn: []int{2}, MinItemsRequired: 3, Structured: true},
			{ID: 4, Key: StageKindDraft, Name: "Draft", DependsOn: []int{3}, Structured: true},
		},
	}
}

// Newsletter is the three-stage newsletter pipeline.
func Newsletter() Pipeline {
	return Pipeline{
		Key:  "newsletter",
		Name: "Newsletter",
		Stages: []Stage{
			{ID: 1, Key: StageKindAnalysis, Name: "Source Analysis"},
			{ID: 2, Key: StageKindOutline, Name: "Outline", DependsOn: []int{1}, MinItemsRequired: 2, Structured: true},
			{ID: 3, Key: StageKindDraft, Name: "Draft", DependsOn: []int{2}, Structured: true},
		},
	}
}

// Catalog returns all built-in pipelines.
func Catalog() []Pipeline {
	return []Pipeline{Proposal(), Newsletter()}
}

// ByKey resolves a pipeline by its key.
func ByKey(key string) (Pipeline, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, p := range Catalog() {
		if p.Key == normalized {
			return p, nil
		}
	}
	return Pipeline{}, fmt.Errorf("unknown pipeline %q", key)
}

// StageByID resolves a stage definition by ID.
func (p Pipeline) StageByID(id int) (Stage, bool) {
	for _, stage := range p.Stages {
		if stage.ID == id {
			return stage, true
		}
	}
	return Stage{}, false
}

// StageByKey resolves a stage definition by key.
func (p Pipeline) StageByKey(key string) (Stage, bool) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, stage := range p.Stages {
		if stage.Key == normalized {
			return stage, true
		}
	}
	return Stage{}, false
}
