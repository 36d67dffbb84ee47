package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/merge"
	"quill/internal/notifications"
	"quill/internal/pipeline"
	"quill/internal/staleness"
	"quill/internal/store"
	"quill/internal/worker"
)

// Coordinator drives one workflow instance through its pipeline.
type Coordinator struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	runner   *worker.Client
	notifier notifications.Service
	merger   *merge.Engine
	pipe     pipeline.Pipeline

	instance *pipeline.Instance
	tracker  *pipeline.Tracker
	stale    *staleness.Manager
	saver    *store.Debouncer

	mu        sync.Mutex
	latest    map[int]*pipeline.StageRun
	effective map[int]*pipeline.Output
	done      map[string]chan struct{}
	wg        sync.WaitGroup
}

// StageView is the read-only presentation of one stage's current state.
type StageView struct {
	StageID   int
	Key       string
	Name      string
	RunStatus pipeline.Status
	RunID     string
	IsStale   bool
	CanStart  bool
	Error     string
	Output    *pipeline.Output
}

// Create inserts a new workflow instance and returns its coordinator.
func Create(ctx context.Context, cfg *config.Config, st *store.Store, runner *worker.Client, notifier notifications.Service, logger *slog.Logger, title, pipelineKey string) (*Coordinator, error) {
	pipe, err := pipeline.ByKey(pipelineKey)
	if err != nil {
		return nil, err
	}
	instance := &pipeline.Instance{Title: title, PipelineKey: pipe.Key}
	if err := st.CreateInstance(ctx, instance); err != nil {
		return nil, err
	}
	return Open(ctx, cfg, st, runner, notifier, logger, instance.ID)
}

// Open loads an existing workflow instance. Runs left non-terminal by a prior
// session are abandoned so the in-flight slot is free again.
func Open(ctx context.Context, cfg *config.Config, st *store.Store, runner *worker.Client, notifier notifications.Service, logger *slog.Logger, workflowID string) (*Coordinator, error) {
	instance, err := st.GetInstance(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("workflow %s not found", workflowID)
	}
	pipe, err := pipeline.ByKey(instance.PipelineKey)
	if err != nil {
		return nil, err
	}

	if abandoned, err := st.AbandonStuckRuns(ctx, workflowID); err != nil {
		return nil, err
	} else if abandoned > 0 {
		logger.Warn("abandoned orphaned stage runs",
			logging.String(logging.FieldWorkflowID, workflowID),
			logging.Int64("count", abandoned))
	}

	latest, err := st.LatestRuns(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	debounce := time.Duration(cfg.Workflow.SaveDebounceMillis) * time.Millisecond
	c := &Coordinator{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "workflow"),
		store:     st,
		runner:    runner,
		notifier:  notifier,
		merger:    merge.NewEngine(logger),
		pipe:      pipe,
		instance:  instance,
		tracker:   pipeline.NewTracker(),
		stale:     staleness.NewManager(instance.LastModifiedStage, instance.ConfigChangedAt),
		saver:     store.NewDebouncer(debounce, logger),
		latest:    latest,
		effective: make(map[int]*pipeline.Output),
		done:      make(map[string]chan struct{}),
	}

	for _, run := range latest {
		c.tracker.Adopt(run)
	}
	if err := c.rebuildEffective(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Instance returns a copy of the workflow instance record.
func (c *Coordinator) Instance() pipeline.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.instance
}

// Pipeline returns the pipeline definition this workflow follows.
func (c *Coordinator) Pipeline() pipeline.Pipeline {
	return c.pipe
}

// EffectiveOutput returns the merged output for a stage, or nil when the
// stage has not completed.
func (c *Coordinator) EffectiveOutput(stageID int) *pipeline.Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effective[stageID].Clone()
}

// Views reports the current state of every stage in pipeline order.
func (c *Coordinator) Views() []StageView {
	c.mu.Lock()
	defer c.mu.Unlock()

	views := make([]StageView, 0, len(c.pipe.Stages))
	for _, stage := range c.pipe.Stages {
		view := StageView{
			StageID:  stage.ID,
			Key:      stage.Key,
			Name:     stage.Name,
			CanStart: c.depsSatisfiedLocked(stage),
			Output:   c.effective[stage.ID].Clone(),
		}
		if active := c.tracker.ActiveRun(stage.ID); active != nil {
			view.RunStatus = active.Status
			view.RunID = active.ID
		} else if run := c.latest[stage.ID]; run != nil {
			view.RunStatus = run.Status
			view.RunID = run.ID
			view.Error = run.ErrorMessage
			view.IsStale = c.stale.IsStale(stage.ID, completionTime(run))
		}
		views = append(views, view)
	}
	return views
}

// AwaitRun blocks until a triggered run reaches a terminal state.
func (c *Coordinator) AwaitRun(ctx context.Context, runID string) (pipeline.Snapshot, error) {
	c.mu.Lock()
	ch, ok := c.done[runID]
	c.mu.Unlock()
	if !ok {
		// Not launched this session; report whatever the tracker knows.
		return c.tracker.Observe(runID)
	}
	select {
	case <-ctx.Done():
		return pipeline.Snapshot{}, ctx.Err()
	case <-ch:
		return c.tracker.Observe(runID)
	}
}

// FlushNow writes all debounced edits through to the store immediately.
func (c *Coordinator) FlushNow(ctx context.Context) error {
	return c.saver.FlushNow(ctx)
}

// Close flushes pending saves and waits for in-flight runs to settle.
func (c *Coordinator) Close(ctx context.Context) error {
	c.wg.Wait()
	return c.saver.Close(ctx)
}

// rebuildEffective recomputes merged outputs for completed structured stages
// from the newest completed run plus the stage's edit log.
func (c *Coordinator) rebuildEffective(ctx context.Context) error {
	for _, stage := range c.pipe.Stages {
		run := c.latest[stage.ID]
		if run == nil || run.Status != pipeline.StatusCompleted || run.Output == nil {
			continue
		}
		if !stage.Structured || run.Output.Document == nil {
			c.effective[stage.ID] = run.Output.Clone()
			continue
		}
		edits, err := c.store.EditsForStage(ctx, c.instance.ID, stage.ID)
		if err != nil {
			return err
		}
		merged := c.merger.Apply(run.Output.Document, edits, merge.Options{FirstGeneration: len(edits) == 0})
		c.effective[stage.ID] = &pipeline.Output{
			Kind:     run.Output.Kind,
			Summary:  run.Output.Summary,
			Document: merged,
		}
	}
	return nil
}

func (c *Coordinator) depsSatisfiedLocked(stage pipeline.Stage) bool {
	for _, dep := range stage.DependsOn {
		run := c.latest[dep]
		if run == nil || run.Status != pipeline.StatusCompleted {
			return false
		}
		if c.stale.IsStale(dep, completionTime(run)) {
			return false
		}
	}
	return true
}

func (c *Coordinator) persistMarkerLocked(ctx context.Context) error {
	marker, at := c.stale.Snapshot()
	c.instance.LastModifiedStage = marker
	c.instance.ConfigChangedAt = at
	return c.store.UpdateInstance(ctx, c.instance)
}

func completionTime(run *pipeline.StageRun) *time.Time {
	if run == nil {
		return nil
	}
	return run.CompletedAt
}

// outputsEqual compares two outputs by content. Generated item IDs are
// assigned fresh on every merge, so they are stripped before comparing;
// custom items keep their stable IDs.
func outputsEqual(a, b *pipeline.Output) bool {
	if a == nil || b == nil {
		return a == b
	}
	left, err := json.Marshal(canonicalOutput(a))
	if err != nil {
		return false
	}
	right, err := json.Marshal(canonicalOutput(b))
	if err != nil {
		return false
	}
	return string(left) == string(right)
}

func canonicalOutput(o *pipeline.Output) *pipeline.Output {
	cp := o.Clone()
	if cp.Document == nil {
		return cp
	}
	for si := range cp.Document.Sections {
		for ii := range cp.Document.Sections[si].Items {
			item := &cp.Document.Sections[si].Items[ii]
			if !item.Custom {
				item.ID = ""
			}
		}
	}
	return cp
}

var errNotStructured = errors.New("stage output is not editable")
