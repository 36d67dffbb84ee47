package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quill/internal/logging"
	"quill/internal/notifications"
	"quill/internal/outline"
	"quill/internal/pipeline"
	"quill/internal/services"
	"quill/internal/services/scribe"
	"quill/internal/store"
	"quill/internal/testsupport"
	"quill/internal/worker"
	"quill/internal/workflow"
)

type fixture struct {
	coordinator *workflow.Coordinator
	store       *store.Store
	service     scribe.Service
}

func newFixture(t *testing.T, service scribe.Service) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	runner := worker.NewClient(service, logging.NewNop(),
		worker.WithPollInterval(time.Millisecond),
		worker.WithPollBudget(time.Second))

	c, err := workflow.Create(context.Background(), cfg, st, runner,
		notifications.NewService(cfg), logging.NewNop(), "Test Document", "proposal")
	if err != nil {
		t.Fatalf("workflow.Create: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close(context.Background())
	})
	return &fixture{coordinator: c, store: st, service: service}
}

func (f *fixture) trigger(t *testing.T, stageID int, brief string) pipeline.Snapshot {
	t.Helper()

	run, err := f.coordinator.Trigger(context.Background(), stageID, brief)
	if err != nil {
		t.Fatalf("Trigger(%d): %v", stageID, err)
	}
	snapshot, err := f.coordinator.AwaitRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("AwaitRun(%d): %v", stageID, err)
	}
	return snapshot
}

func (f *fixture) view(t *testing.T, stageID int) workflow.StageView {
	t.Helper()
	for _, view := range f.coordinator.Views() {
		if view.StageID == stageID {
			return view
		}
	}
	t.Fatalf("no view for stage %d", stageID)
	return workflow.StageView{}
}

func outlineDoc() *outline.Document {
	return &outline.Document{
		Sections: []outline.Section{
			{ID: "intro", Title: "Introduction", Items: []outline.Item{
				{Title: "Opening hook", Description: "Why this topic matters right now", Included: true},
			}},
			{ID: "body", Title: "Body", Items: []outline.Item{
				{Title: "First argument", Description: "Evidence for the first claim", Included: true},
				{Title: "Second argument", Description: "Evidence for the second claim", Included: true},
			}},
		},
	}
}

func completedUpdate(ref, kind string, doc *outline.Document) scribe.Update {
	return scribe.Update{
		State: scribe.StateCompleted,
		Ref:   ref,
		Output: &pipeline.Output{
			Kind:     kind,
			Summary:  kind + " result",
			Document: doc,
		},
	}
}

func proposalScript(extra ...scribe.Update) *testsupport.ScriptedService {
	updates := []scribe.Update{
		completedUpdate("job-1", "analysis", nil),
		completedUpdate("job-2", "evaluation", nil),
		completedUpdate("job-3", "outline", outlineDoc()),
		completedUpdate("job-4", "draft", outlineDoc()),
	}
	return &testsupport.ScriptedService{GenerateUpdates: append(updates, extra...)}
}

func TestTriggerCompletesStage(t *testing.T) {
	f := newFixture(t, proposalScript())

	snapshot := f.trigger(t, 1, `{"topic":"go"}`)
	if snapshot.Status != pipeline.StatusCompleted {
		t.Fatalf("status = %s", snapshot.Status)
	}

	view := f.view(t, 1)
	if view.RunStatus != pipeline.StatusCompleted || view.IsStale {
		t.Fatalf("view = %+v", view)
	}
	output := f.coordinator.EffectiveOutput(1)
	if output == nil || output.Summary != "analysis result" {
		t.Fatalf("effective output = %+v", output)
	}
}

func TestTriggerRejectsUnmetDependencies(t *testing.T) {
	f := newFixture(t, proposalScript())

	_, err := f.coordinator.Trigger(context.Background(), 2, "")
	if !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("error = %v, want precondition", err)
	}
}

// gatedService holds Generate open until released, keeping a run in flight.
type gatedService struct {
	testsupport.ScriptedService
	release chan struct{}
}

func (s *gatedService) Generate(ctx context.Context, req scribe.Request) (scribe.Update, error) {
	<-s.release
	return s.ScriptedService.Generate(ctx, req)
}

func TestTriggerConflictsWhileRunInFlight(t *testing.T) {
	service := &gatedService{
		ScriptedService: *proposalScript(),
		release:         make(chan struct{}),
	}
	f := newFixture(t, service)

	run, err := f.coordinator.Trigger(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if _, err := f.coordinator.Trigger(context.Background(), 1, ""); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("error = %v, want conflict", err)
	}

	close(service.release)
	if _, err := f.coordinator.AwaitRun(context.Background(), run.ID); err != nil {
		t.Fatalf("AwaitRun: %v", err)
	}
}

func TestFailedGenerationRecordsRun(t *testing.T) {
	service := &testsupport.ScriptedService{
		GenerateUpdates: []scribe.Update{{
			State:        scribe.StateFailed,
			Ref:          "job-1",
			ErrorMessage: "model refused",
		}},
	}
	f := newFixture(t, service)

	snapshot := f.trigger(t, 1, "")
	if snapshot.Status != pipeline.StatusFailed {
		t.Fatalf("status = %s", snapshot.Status)
	}
	view := f.view(t, 1)
	if view.Error != "model refused" {
		t.Fatalf("error = %q", view.Error)
	}

	// A failed run frees the slot for another attempt.
	if _, err := f.coordinator.Trigger(context.Background(), 1, ""); err != nil {
		t.Fatalf("retrigger after failure: %v", err)
	}
}

func TestStructuredStageEnforcesMinimumItems(t *testing.T) {
	thin := outlineDoc()
	thin.Sections = thin.Sections[:1]
	service := &testsupport.ScriptedService{
		GenerateUpdates: []scribe.Update{
			completedUpdate("job-1", "analysis", nil),
			completedUpdate("job-2", "evaluation", nil),
			completedUpdate("job-3", "outline", thin),
		},
	}
	f := newFixture(t, service)

	f.trigger(t, 1, "")
	f.trigger(t, 2, "")
	snapshot := f.trigger(t, 3, "")
	if snapshot.Status != pipeline.StatusFailed {
		t.Fatalf("status = %s, want failed for undersized outline", snapshot.Status)
	}
	if snapshot.ErrorMessage != "generated 1 items, need at least 3" {
		t.Fatalf("message = %q", snapshot.ErrorMessage)
	}
}

func TestItemEditsApplyImmediatelyAndInvalidateDownstream(t *testing.T) {
	f := newFixture(t, proposalScript())
	ctx := context.Background()

	f.trigger(t, 1, "")
	f.trigger(t, 2, "")
	f.trigger(t, 3, "")
	f.trigger(t, 4, "")

	title := "Sharper opening"
	ref := workflow.ItemRef{SectionID: "intro", Ordinal: 0}
	if err := f.coordinator.UpdateItem(ctx, 3, ref, &title, nil); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	output := f.coordinator.EffectiveOutput(3)
	if got := output.Document.Sections[0].Items[0].Title; got != "Sharper opening" {
		t.Fatalf("title = %q, edit not applied in memory", got)
	}

	// The edited stage stays fresh; the stage built on it is invalidated.
	if view := f.view(t, 3); view.IsStale {
		t.Fatal("edited stage must not be stale")
	}
	if view := f.view(t, 4); !view.IsStale {
		t.Fatal("downstream stage must be stale after upstream edit")
	}
}

func TestEditValidationRejectsShortFields(t *testing.T) {
	f := newFixture(t, proposalScript())
	ctx := context.Background()

	f.trigger(t, 1, "")
	f.trigger(t, 2, "")
	f.trigger(t, 3, "")

	short := "abc"
	ref := workflow.ItemRef{SectionID: "intro", Ordinal: 0}
	if err := f.coordinator.UpdateItem(ctx, 3, ref, &short, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}

	// The rejected edit must not leak into the effective document.
	output := f.coordinator.EffectiveOutput(3)
	if got := output.Document.Sections[0].Items[0].Title; got != "Opening hook" {
		t.Fatalf("title = %q, rejected edit applied", got)
	}
}

func TestRemoveItemKeepsSectionsNonEmpty(t *testing.T) {
	f := newFixture(t, proposalScript())
	ctx := context.Background()

	f.trigger(t, 1, "")
	f.trigger(t, 2, "")
	f.trigger(t, 3, "")

	// intro has a single item; removing it would empty the section.
	err := f.coordinator.RemoveItem(ctx, 3, workflow.ItemRef{SectionID: "intro", Ordinal: 0})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}

	if err := f.coordinator.RemoveItem(ctx, 3, workflow.ItemRef{SectionID: "body", Ordinal: 0}); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	err = f.coordinator.RemoveItem(ctx, 3, workflow.ItemRef{SectionID: "body", Ordinal: 1})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation for last body item", err)
	}

	output := f.coordinator.EffectiveOutput(3)
	if got := output.Document.ItemCount(); got != 2 {
		t.Fatalf("item count = %d, want 2", got)
	}
}

func TestEditsOnUnstructuredStageRejected(t *testing.T) {
	f := newFixture(t, proposalScript())

	f.trigger(t, 1, "")
	title := "New title"
	err := f.coordinator.UpdateItem(context.Background(), 1, workflow.ItemRef{SectionID: "intro", Ordinal: 0}, &title, nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestRegenerateMergesEditsAndCountsOnlyWhenEdited(t *testing.T) {
	f := newFixture(t, proposalScript(
		completedUpdate("job-5", "outline", outlineDoc()),
		completedUpdate("job-6", "outline", outlineDoc()),
	))
	ctx := context.Background()

	f.trigger(t, 1, "")
	f.trigger(t, 2, "")
	f.trigger(t, 3, `{"focus":"outline"}`)

	// No edits yet: the counter must not move.
	snapshot := mustRegenerate(t, f, 3)
	if snapshot.Status != pipeline.StatusCompleted {
		t.Fatalf("status = %s", snapshot.Status)
	}
	if got := f.coordinator.Instance().RegenerationCount; got != 0 {
		t.Fatalf("regeneration count = %d, want 0 without edits", got)
	}

	title := "Sharper opening"
	if err := f.coordinator.UpdateItem(ctx, 3, workflow.ItemRef{SectionID: "intro", Ordinal: 0}, &title, nil); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	snapshot = mustRegenerate(t, f, 3)
	if snapshot.Status != pipeline.StatusCompleted {
		t.Fatalf("status = %s", snapshot.Status)
	}
	if got := f.coordinator.Instance().RegenerationCount; got != 1 {
		t.Fatalf("regeneration count = %d, want 1", got)
	}

	// The override survives the fresh generation.
	output := f.coordinator.EffectiveOutput(3)
	if got := output.Document.Sections[0].Items[0].Title; got != "Sharper opening" {
		t.Fatalf("title = %q after regeneration", got)
	}
}

func TestCustomItemSurvivesRegeneration(t *testing.T) {
	f := newFixture(t, proposalScript(
		completedUpdate("job-5", "outline", outlineDoc()),
	))
	ctx := context.Background()

	f.trigger(t, 1, "")
	f.trigger(t, 2, "")
	f.trigger(t, 3, `{"focus":"outline"}`)

	item, err := f.coordinator.AddCustomItem(ctx, 3, "body", "Reader anecdote", "A short story grounding the argument")
	if err != nil {
		t.Fatalf("AddCustomItem: %v", err)
	}

	snapshot := mustRegenerate(t, f, 3)
	if snapshot.Status != pipeline.StatusCompleted {
		t.Fatalf("status = %s", snapshot.Status)
	}

	output := f.coordinator.EffectiveOutput(3)
	found, _ := output.Document.FindItem(item.ID)
	if found == nil || !found.Custom || found.Title != "Reader anecdote" {
		t.Fatalf("custom item lost after regeneration: %+v", found)
	}
}

func TestRegenerateRequiresPriorTrigger(t *testing.T) {
	f := newFixture(t, proposalScript())

	_, err := f.coordinator.Regenerate(context.Background(), 1)
	if !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("error = %v, want precondition", err)
	}
}

func TestConfigChangeInvalidatesDependents(t *testing.T) {
	f := newFixture(t, proposalScript(
		completedUpdate("job-5", "analysis", nil),
	))

	f.trigger(t, 1, `{"topic":"go"}`)
	f.trigger(t, 2, "")

	// Retriggering stage 1 with a different brief supersedes stage 2's inputs.
	f.trigger(t, 1, `{"topic":"rust"}`)

	if view := f.view(t, 2); !view.IsStale {
		t.Fatal("dependent stage must be stale after upstream config change")
	}
	if _, err := f.coordinator.Trigger(context.Background(), 3, ""); !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("error = %v, want precondition on stale dependency", err)
	}
}

func TestEditsPersistAcrossReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	service := proposalScript()
	runner := worker.NewClient(service, logging.NewNop(),
		worker.WithPollInterval(time.Millisecond),
		worker.WithPollBudget(time.Second))
	notifier := notifications.NewService(cfg)

	first, err := workflow.Create(ctx, cfg, st, runner, notifier, logging.NewNop(), "Durable Doc", "proposal")
	if err != nil {
		t.Fatalf("workflow.Create: %v", err)
	}
	workflowID := first.Instance().ID

	f := &fixture{coordinator: first, store: st, service: service}
	f.trigger(t, 1, "")
	f.trigger(t, 2, "")
	f.trigger(t, 3, "")

	title := "Sharper opening"
	if err := first.UpdateItem(ctx, 3, workflow.ItemRef{SectionID: "intro", Ordinal: 0}, &title, nil); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := workflow.Open(ctx, cfg, st, runner, notifier, logging.NewNop(), workflowID)
	if err != nil {
		t.Fatalf("workflow.Open: %v", err)
	}
	defer second.Close(ctx)

	output := second.EffectiveOutput(3)
	if output == nil || output.Document == nil {
		t.Fatal("effective output lost on reopen")
	}
	if got := output.Document.Sections[0].Items[0].Title; got != "Sharper opening" {
		t.Fatalf("title = %q, edit not replayed on reopen", got)
	}
}

func TestOpenAbandonsOrphanedRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	instance := testsupport.NewInstance(t, st, "Crashed Doc", "proposal")

	if err := st.SaveRun(ctx, &pipeline.StageRun{
		ID:         "orphan",
		WorkflowID: instance.ID,
		StageID:    1,
		Status:     pipeline.StatusProcessing,
		StartedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	service := proposalScript()
	runner := worker.NewClient(service, logging.NewNop(),
		worker.WithPollInterval(time.Millisecond),
		worker.WithPollBudget(time.Second))
	c, err := workflow.Open(ctx, cfg, st, runner, notifications.NewService(cfg), logging.NewNop(), instance.ID)
	if err != nil {
		t.Fatalf("workflow.Open: %v", err)
	}
	defer c.Close(ctx)

	f := &fixture{coordinator: c, store: st, service: service}
	if view := f.view(t, 1); view.RunStatus != pipeline.StatusFailed {
		t.Fatalf("orphaned run status = %s, want failed", view.RunStatus)
	}

	// The freed slot accepts a new run.
	if snapshot := f.trigger(t, 1, ""); snapshot.Status != pipeline.StatusCompleted {
		t.Fatalf("retrigger status = %s", snapshot.Status)
	}
}

// newPersistentFixture builds a fixture whose coordinator can be closed and
// reopened against the same store.
func newPersistentFixture(t *testing.T, service scribe.Service) (*fixture, func() *workflow.Coordinator) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	runner := worker.NewClient(service, logging.NewNop(),
		worker.WithPollInterval(time.Millisecond),
		worker.WithPollBudget(time.Second))
	notifier := notifications.NewService(cfg)

	first, err := workflow.Create(ctx, cfg, st, runner, notifier, logging.NewNop(), "Durable Doc", "proposal")
	if err != nil {
		t.Fatalf("workflow.Create: %v", err)
	}
	workflowID := first.Instance().ID
	f := &fixture{coordinator: first, store: st, service: service}

	reopen := func() *workflow.Coordinator {
		if err := f.coordinator.Close(ctx); err != nil {
			t.Fatalf("Close: %v", err)
		}
		second, err := workflow.Open(ctx, cfg, st, runner, notifier, logging.NewNop(), workflowID)
		if err != nil {
			t.Fatalf("workflow.Open: %v", err)
		}
		t.Cleanup(func() {
			_ = second.Close(ctx)
		})
		return second
	}
	return f, reopen
}

func threeItemOutline() *outline.Document {
	return &outline.Document{
		Sections: []outline.Section{
			{ID: "intro", Title: "Introduction", Items: []outline.Item{
				{Title: "Alpha point", Description: "The first supporting detail", Included: true},
				{Title: "Bravo point", Description: "The second supporting detail", Included: true},
				{Title: "Charlie point", Description: "The third supporting detail", Included: true},
			}},
		},
	}
}

func TestCustomItemAppearsOnceAfterReopen(t *testing.T) {
	f, reopen := newPersistentFixture(t, proposalScript(
		completedUpdate("job-5", "outline", outlineDoc()),
	))
	ctx := context.Background()

	f.trigger(t, 1, "")
	f.trigger(t, 2, "")
	f.trigger(t, 3, `{"focus":"outline"}`)

	item, err := f.coordinator.AddCustomItem(ctx, 3, "body", "Reader anecdote", "A short story grounding the argument")
	if err != nil {
		t.Fatalf("AddCustomItem: %v", err)
	}
	if snapshot := mustRegenerate(t, f, 3); snapshot.Status != pipeline.StatusCompleted {
		t.Fatalf("status = %s", snapshot.Status)
	}

	second := reopen()
	output := second.EffectiveOutput(3)
	count := 0
	for _, section := range output.Document.Sections {
		for _, existing := range section.Items {
			if existing.ID == item.ID {
				count++
			}
		}
	}
	if count != 1 {
		t.Fatalf("custom item appears %d times after reopen, want 1", count)
	}
}

func TestRemovalSurvivesReopenAfterRegeneration(t *testing.T) {
	service := &testsupport.ScriptedService{GenerateUpdates: []scribe.Update{
		completedUpdate("job-1", "analysis", nil),
		completedUpdate("job-2", "evaluation", nil),
		completedUpdate("job-3", "outline", threeItemOutline()),
		completedUpdate("job-4", "outline", threeItemOutline()),
	}}
	f, reopen := newPersistentFixture(t, service)
	ctx := context.Background()

	f.trigger(t, 1, "")
	f.trigger(t, 2, "")
	f.trigger(t, 3, `{"focus":"outline"}`)

	if err := f.coordinator.RemoveItem(ctx, 3, workflow.ItemRef{SectionID: "intro", Ordinal: 0}); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if snapshot := mustRegenerate(t, f, 3); snapshot.Status != pipeline.StatusCompleted {
		t.Fatalf("status = %s", snapshot.Status)
	}

	second := reopen()
	output := second.EffectiveOutput(3)
	items := output.Document.Sections[0].Items
	titles := make([]string, 0, len(items))
	for _, existing := range items {
		titles = append(titles, existing.Title)
	}
	if len(titles) != 2 || titles[0] != "Bravo point" || titles[1] != "Charlie point" {
		t.Fatalf("intro after reopen = %v, want the two never-removed items", titles)
	}
}

func TestIdenticalRegenerationKeepsDownstreamFresh(t *testing.T) {
	f := newFixture(t, proposalScript(
		completedUpdate("job-5", "outline", outlineDoc()),
	))

	f.trigger(t, 1, "")
	f.trigger(t, 2, "")
	f.trigger(t, 3, `{"focus":"outline"}`)
	f.trigger(t, 4, "")

	if snapshot := mustRegenerate(t, f, 3); snapshot.Status != pipeline.StatusCompleted {
		t.Fatalf("status = %s", snapshot.Status)
	}
	if view := f.view(t, 4); view.IsStale {
		t.Fatal("identical regeneration must not invalidate downstream stages")
	}
}

func mustRegenerate(t *testing.T, f *fixture, stageID int) pipeline.Snapshot {
	t.Helper()

	run, err := f.coordinator.Regenerate(context.Background(), stageID)
	if err != nil {
		t.Fatalf("Regenerate(%d): %v", stageID, err)
	}
	snapshot, err := f.coordinator.AwaitRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("AwaitRun: %v", err)
	}
	return snapshot
}
