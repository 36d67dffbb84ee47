package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quill/internal/logging"
	"quill/internal/merge"
	"quill/internal/pipeline"
	"quill/internal/services"
	"quill/internal/services/scribe"
)

// Trigger starts a generation run for a stage. The stage's dependencies must
// hold completed, non-stale runs; at most one run per stage may be in flight.
// The returned run is pending; the generation proceeds in the background and
// can be awaited with AwaitRun.
func (c *Coordinator) Trigger(ctx context.Context, stageID int, configJSON string) (*pipeline.StageRun, error) {
	stage, ok := c.pipe.StageByID(stageID)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "", "trigger",
			fmt.Sprintf("pipeline %s has no stage %d", c.pipe.Key, stageID), nil)
	}

	// Edits still sitting in the debounce window must be durable before a
	// regeneration reads the edit log.
	if err := c.saver.FlushNow(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.depsSatisfiedLocked(stage) {
		return nil, services.Wrap(services.ErrPrecondition, stage.Key, "trigger",
			"dependencies incomplete or stale", nil)
	}

	configJSON = strings.TrimSpace(configJSON)
	storedJSON, storedHash, err := c.store.StageConfig(ctx, c.instance.ID, stageID)
	if err != nil {
		return nil, err
	}
	if configJSON == "" {
		configJSON = storedJSON
	}
	hash := hashConfig(configJSON)
	if hash != storedHash {
		if err := c.store.SaveStageConfig(ctx, c.instance.ID, stageID, configJSON, hash); err != nil {
			return nil, services.Wrap(services.ErrPersistence, stage.Key, "save config", "", err)
		}
		if storedHash != "" {
			// Changed inputs invalidate this stage and everything after it.
			c.stale.MarkConfigChanged(stageID, time.Now().UTC())
			if err := c.persistMarkerLocked(ctx); err != nil {
				c.logger.Warn("persist invalidation marker failed", logging.Error(err))
			}
		}
	}

	run, err := c.tracker.Submit(c.instance.ID, stageID)
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		c.tracker.Abandon(run.ID, "persist failed")
		return nil, services.Wrap(services.ErrPersistence, stage.Key, "save run", "", err)
	}

	ch := make(chan struct{})
	c.done[run.ID] = ch
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(ch)
		c.execute(ctx, stage, run.ID, configJSON)
	}()

	return run, nil
}

// Regenerate reruns a stage with its last stored configuration. The
// regeneration counter advances only when recorded edits will be re-merged.
func (c *Coordinator) Regenerate(ctx context.Context, stageID int) (*pipeline.StageRun, error) {
	stage, ok := c.pipe.StageByID(stageID)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "", "regenerate",
			fmt.Sprintf("pipeline %s has no stage %d", c.pipe.Key, stageID), nil)
	}
	configJSON, _, err := c.store.StageConfig(ctx, c.instance.ID, stageID)
	if err != nil {
		return nil, err
	}
	if configJSON == "" {
		return nil, services.Wrap(services.ErrPrecondition, stage.Key, "regenerate",
			"stage has never been triggered", nil)
	}

	// Edits still in the debounce window count as prior edits; flush them
	// before reading the log.
	if err := c.saver.FlushNow(ctx); err != nil {
		return nil, err
	}
	editCount, err := c.store.EditCount(ctx, c.instance.ID, stageID)
	if err != nil {
		return nil, err
	}
	if editCount > 0 {
		c.mu.Lock()
		c.instance.RegenerationCount++
		if err := c.store.UpdateInstance(ctx, c.instance); err != nil {
			c.logger.Warn("persist regeneration count failed", logging.Error(err))
		}
		c.mu.Unlock()
	}

	return c.Trigger(ctx, stageID, configJSON)
}

func (c *Coordinator) execute(ctx context.Context, stage pipeline.Stage, runID, configJSON string) {
	logger := c.logger.With(
		logging.String(logging.FieldStage, stage.Key),
		logging.String(logging.FieldRunID, runID))

	if err := c.tracker.MarkProcessing(runID); err != nil {
		logger.Error("mark processing failed", logging.Error(err))
		return
	}
	c.persistRun(runID)
	if err := c.notifier.NotifyStageStarted(ctx, c.instance.Title, stage.Name); err != nil {
		logger.Debug("stage start notification failed", logging.Error(err))
	}

	update, err := c.runner.Run(ctx, c.buildRequest(stage, configJSON))
	if err != nil {
		if ctx.Err() != nil {
			c.tracker.Abandon(runID, "canceled: "+ctx.Err().Error())
			c.persistRun(runID)
			logger.Warn("run abandoned on cancellation")
			return
		}
		c.failRun(ctx, stage, runID, err.Error(), logger)
		return
	}
	if update.State == scribe.StateFailed {
		c.failRun(ctx, stage, runID, update.ErrorMessage, logger)
		return
	}

	if msg := validateOutput(stage, update.Output); msg != "" {
		c.failRun(ctx, stage, runID, msg, logger)
		return
	}
	c.completeRun(ctx, stage, runID, update.Output, logger)
}

func (c *Coordinator) completeRun(ctx context.Context, stage pipeline.Stage, runID string, output *pipeline.Output, logger *slog.Logger) {
	effective := output.Clone()
	if stage.Structured && output.Document != nil {
		edits, err := c.store.EditsForStage(ctx, c.instance.ID, stage.ID)
		if err != nil {
			logger.Warn("load edit log failed; using fresh output", logging.Error(err))
			edits = nil
		}
		effective.Document = c.merger.Apply(output.Document,
			edits, merge.Options{FirstGeneration: len(edits) == 0})
	}

	// The run keeps the raw service output; the merged view lives only in
	// memory so reopening can replay the edit log against the original
	// document instead of an already-merged one.
	run, err := c.tracker.MarkTerminal(runID, pipeline.StatusCompleted, output, "")
	if err != nil {
		logger.Warn("mark completed failed", logging.Error(err))
		return
	}

	c.mu.Lock()
	previous := c.effective[stage.ID]
	c.latest[stage.ID] = run
	c.effective[stage.ID] = effective
	if previous != nil && !outputsEqual(previous, effective) {
		// The stage's result changed, so everything downstream is now built
		// on superseded inputs.
		if next, ok := c.nextStageLocked(stage.ID); ok {
			at := time.Now().UTC()
			if run.CompletedAt != nil {
				at = *run.CompletedAt
			}
			c.stale.MarkConfigChanged(next, at)
		}
	}
	c.maybeResetMarkerLocked()
	if err := c.persistMarkerLocked(ctx); err != nil {
		logger.Warn("persist invalidation marker failed", logging.Error(err))
	}
	allDone := c.allStagesCompletedLocked()
	c.mu.Unlock()

	if err := c.store.SaveRun(ctx, run); err != nil {
		logger.Warn("persist completed run failed", logging.Error(err))
	}

	logger.Info("stage completed")
	if err := c.notifier.NotifyStageCompleted(ctx, c.instance.Title, stage.Name); err != nil {
		logger.Warn("stage completion notification failed", logging.Error(err))
	}
	if allDone {
		if err := c.notifier.NotifyWorkflowCompleted(ctx, c.instance.Title); err != nil {
			logger.Warn("workflow completion notification failed", logging.Error(err))
		}
	}
}

func (c *Coordinator) failRun(ctx context.Context, stage pipeline.Stage, runID, message string, logger *slog.Logger) {
	run, err := c.tracker.MarkTerminal(runID, pipeline.StatusFailed, nil, message)
	if err != nil {
		logger.Warn("mark failed errored", logging.Error(err))
		return
	}
	c.mu.Lock()
	c.latest[stage.ID] = run
	c.mu.Unlock()

	if err := c.store.SaveRun(ctx, run); err != nil {
		logger.Warn("persist failed run errored", logging.Error(err))
	}
	logger.Error("stage failed", logging.String("reason", message))
	if err := c.notifier.NotifyStageFailed(ctx, c.instance.Title, stage.Name, message); err != nil {
		logger.Warn("stage failure notification failed", logging.Error(err))
	}
}

func (c *Coordinator) persistRun(runID string) {
	snapshot, err := c.tracker.Observe(runID)
	if err != nil {
		return
	}
	run := &pipeline.StageRun{
		ID:           snapshot.RunID,
		WorkflowID:   c.instance.ID,
		StageID:      snapshot.StageID,
		Status:       snapshot.Status,
		StartedAt:    snapshot.StartedAt,
		CompletedAt:  snapshot.CompletedAt,
		ErrorMessage: snapshot.ErrorMessage,
		Output:       snapshot.Output,
	}
	if err := c.store.SaveRun(context.Background(), run); err != nil {
		c.logger.Warn("persist run state failed",
			logging.String(logging.FieldRunID, runID),
			logging.Error(err))
	}
}

func (c *Coordinator) buildRequest(stage pipeline.Stage, configJSON string) scribe.Request {
	inputs := make(map[string]string)
	c.mu.Lock()
	for _, dep := range stage.DependsOn {
		depStage, ok := c.pipe.StageByID(dep)
		if !ok {
			continue
		}
		output := c.effective[dep]
		if output == nil {
			continue
		}
		if output.Document != nil {
			if data, err := json.Marshal(output.Document); err == nil {
				inputs[depStage.Key] = string(data)
				continue
			}
		}
		inputs[depStage.Key] = output.Summary
	}
	c.mu.Unlock()

	return scribe.Request{
		WorkflowID: c.instance.ID,
		StageID:    stage.ID,
		StageKey:   stage.Key,
		Brief:      configJSON,
		Inputs:     inputs,
	}
}

func (c *Coordinator) nextStageLocked(stageID int) (int, bool) {
	for i, stage := range c.pipe.Stages {
		if stage.ID == stageID && i+1 < len(c.pipe.Stages) {
			return c.pipe.Stages[i+1].ID, true
		}
	}
	return 0, false
}

// maybeResetMarkerLocked clears the invalidation marker once every stage at
// or beyond it holds a fresh completed run.
func (c *Coordinator) maybeResetMarkerLocked() {
	marker, _ := c.stale.Snapshot()
	if marker == 0 {
		return
	}
	for _, stage := range c.pipe.Stages {
		if stage.ID < marker {
			continue
		}
		run := c.latest[stage.ID]
		if run == nil || run.Status != pipeline.StatusCompleted {
			// Never-completed stages have nothing to invalidate; skip them.
			continue
		}
		if c.stale.IsStale(stage.ID, completionTime(run)) {
			return
		}
	}
	c.stale.Reset()
}

func (c *Coordinator) allStagesCompletedLocked() bool {
	for _, stage := range c.pipe.Stages {
		run := c.latest[stage.ID]
		if run == nil || run.Status != pipeline.StatusCompleted {
			return false
		}
	}
	return true
}

func validateOutput(stage pipeline.Stage, output *pipeline.Output) string {
	if output == nil {
		return "service reported completion without output"
	}
	if !stage.Structured {
		return ""
	}
	if output.Document == nil {
		return "structured stage returned no document"
	}
	if count := output.Document.ItemCount(); count < stage.MinItemsRequired {
		return fmt.Sprintf("generated %d items, need at least %d", count, stage.MinItemsRequired)
	}
	return ""
}

func hashConfig(configJSON string) string {
	if strings.TrimSpace(configJSON) == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(configJSON))
	return hex.EncodeToString(sum[:])
}
