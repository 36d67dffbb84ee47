package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"quill/internal/logging"
	"quill/internal/outline"
	"quill/internal/pipeline"
	"quill/internal/services"
)

// ItemRef addresses one item in a stage's effective document: by item ID when
// known, otherwise by section and generated ordinal.
type ItemRef struct {
	ItemID    string
	SectionID string
	Ordinal   int
}

// UpdateItem applies a title or description override to an item. The change
// takes effect in memory immediately; the edit record is written through on
// the debounce interval.
func (c *Coordinator) UpdateItem(ctx context.Context, stageID int, ref ItemRef, title, description *string) error {
	return c.overrideItem(ctx, stageID, ref, title, description, nil)
}

// ToggleInclude flips an item's inclusion flag.
func (c *Coordinator) ToggleInclude(ctx context.Context, stageID int, ref ItemRef) error {
	c.mu.Lock()
	item, _, err := c.resolveItemLocked(stageID, ref)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	included := !item.Included
	c.mu.Unlock()
	return c.overrideItem(ctx, stageID, ref, nil, nil, &included)
}

// SetIncluded sets an item's inclusion flag explicitly.
func (c *Coordinator) SetIncluded(ctx context.Context, stageID int, ref ItemRef, included bool) error {
	return c.overrideItem(ctx, stageID, ref, nil, nil, &included)
}

// RemoveItem drops an item from the stage's effective document. Removing the
// last item of a section is rejected.
func (c *Coordinator) RemoveItem(ctx context.Context, stageID int, ref ItemRef) error {
	stage, err := c.editableStage(stageID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	item, section, err := c.resolveItemLocked(stageID, ref)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if len(section.Items) <= 1 {
		c.mu.Unlock()
		return services.Wrap(services.ErrValidation, stage.Key, "remove item",
			fmt.Sprintf("section %s would be left empty", section.ID), nil)
	}

	removed := *item
	kept := make([]outline.Item, 0, len(section.Items)-1)
	for _, existing := range section.Items {
		if existing.ID == removed.ID {
			continue
		}
		kept = append(kept, existing)
	}
	section.Items = kept

	sectionID, ordinal, targetID := outline.TargetFor(removed)
	edit := outline.Edit{
		ID:        uuid.NewString(),
		StageID:   stageID,
		Kind:      outline.EditRemove,
		SectionID: sectionID,
		Ordinal:   ordinal,
		TargetID:  targetID,
		CreatedAt: time.Now().UTC(),
	}
	c.scheduleEditLocked(ctx, "remove:"+removed.Key(), edit)
	c.invalidateDownstreamLocked(ctx, stageID)
	c.mu.Unlock()

	c.logger.Info("item removed",
		logging.String(logging.FieldStage, stage.Key),
		logging.String(logging.FieldItemID, removed.ID))
	return nil
}

// AddCustomItem inserts a user-authored item into a section. Custom items are
// carried forward verbatim across regenerations.
func (c *Coordinator) AddCustomItem(ctx context.Context, stageID int, sectionID, title, description string) (*outline.Item, error) {
	stage, err := c.editableStage(stageID)
	if err != nil {
		return nil, err
	}

	item := outline.Item{
		ID:          uuid.NewString(),
		SectionID:   strings.TrimSpace(sectionID),
		Ordinal:     -1,
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Included:    true,
		Custom:      true,
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	doc, err := c.editableDocLocked(stageID)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	section := doc.FindSection(item.SectionID)
	if section == nil {
		c.mu.Unlock()
		return nil, services.Wrap(services.ErrValidation, stage.Key, "add item",
			fmt.Sprintf("unknown section %q", sectionID), nil)
	}
	section.Items = append(section.Items, item)

	payload := item
	edit := outline.Edit{
		ID:        uuid.NewString(),
		StageID:   stageID,
		Kind:      outline.EditCustomAdd,
		SectionID: item.SectionID,
		Ordinal:   -1,
		TargetID:  item.ID,
		Item:      &payload,
		CreatedAt: time.Now().UTC(),
	}
	c.scheduleEditLocked(ctx, "custom:"+item.ID, edit)
	c.invalidateDownstreamLocked(ctx, stageID)
	c.mu.Unlock()

	c.logger.Info("custom item added",
		logging.String(logging.FieldStage, stage.Key),
		logging.String(logging.FieldItemID, item.ID))
	return &item, nil
}

// overrideItem validates and applies field changes, records the override edit,
// and marks downstream stages stale. The recorded edit always carries the
// item's full current field set so coalesced writes stay idempotent.
func (c *Coordinator) overrideItem(ctx context.Context, stageID int, ref ItemRef, title, description *string, included *bool) error {
	stage, err := c.editableStage(stageID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	item, _, err := c.resolveItemLocked(stageID, ref)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	candidate := *item
	if title != nil {
		candidate.Title = strings.TrimSpace(*title)
	}
	if description != nil {
		candidate.Description = strings.TrimSpace(*description)
	}
	if included != nil {
		candidate.Included = *included
	}
	if err := candidate.Validate(); err != nil {
		c.mu.Unlock()
		return err
	}
	*item = candidate

	sectionID, ordinal, targetID := outline.TargetFor(candidate)
	editTitle := candidate.Title
	editDescription := candidate.Description
	editIncluded := candidate.Included
	edit := outline.Edit{
		ID:          uuid.NewString(),
		StageID:     stageID,
		Kind:        outline.EditOverride,
		SectionID:   sectionID,
		Ordinal:     ordinal,
		TargetID:    targetID,
		Title:       &editTitle,
		Description: &editDescription,
		Included:    &editIncluded,
		CreatedAt:   time.Now().UTC(),
	}
	c.scheduleEditLocked(ctx, "override:"+candidate.Key(), edit)
	c.invalidateDownstreamLocked(ctx, stageID)
	c.mu.Unlock()

	c.logger.Debug("item override recorded",
		logging.String(logging.FieldStage, stage.Key),
		logging.String(logging.FieldItemID, candidate.ID))
	return nil
}

func (c *Coordinator) editableStage(stageID int) (pipeline.Stage, error) {
	stage, ok := c.pipe.StageByID(stageID)
	if !ok {
		return pipeline.Stage{}, services.Wrap(services.ErrValidation, "", "edit",
			fmt.Sprintf("pipeline %s has no stage %d", c.pipe.Key, stageID), nil)
	}
	if !stage.Structured {
		return pipeline.Stage{}, services.Wrap(services.ErrValidation, stage.Key, "edit",
			errNotStructured.Error(), nil)
	}
	return stage, nil
}

func (c *Coordinator) editableDocLocked(stageID int) (*outline.Document, error) {
	output := c.effective[stageID]
	if output == nil || output.Document == nil {
		return nil, services.Wrap(services.ErrPrecondition, "", "edit",
			fmt.Sprintf("stage %d has no generated content to edit", stageID), nil)
	}
	return output.Document, nil
}

func (c *Coordinator) resolveItemLocked(stageID int, ref ItemRef) (*outline.Item, *outline.Section, error) {
	doc, err := c.editableDocLocked(stageID)
	if err != nil {
		return nil, nil, err
	}
	if ref.ItemID != "" {
		item, section := doc.FindItem(ref.ItemID)
		if item != nil {
			return item, section, nil
		}
		return nil, nil, services.Wrap(services.ErrValidation, "", "edit",
			fmt.Sprintf("no item with id %q", ref.ItemID), nil)
	}
	section := doc.FindSection(ref.SectionID)
	if section == nil {
		return nil, nil, services.Wrap(services.ErrValidation, "", "edit",
			fmt.Sprintf("unknown section %q", ref.SectionID), nil)
	}
	for ii := range section.Items {
		item := &section.Items[ii]
		if !item.Custom && item.Ordinal == ref.Ordinal {
			return item, section, nil
		}
	}
	return nil, nil, services.Wrap(services.ErrValidation, "", "edit",
		fmt.Sprintf("no item at %s#%d", ref.SectionID, ref.Ordinal), nil)
}

// scheduleEditLocked queues the append through the debouncer. A failed write
// keeps the optimistic in-memory state; the debouncer logs the failure.
func (c *Coordinator) scheduleEditLocked(_ context.Context, key string, edit outline.Edit) {
	workflowID := c.instance.ID
	st := c.store
	c.saver.Schedule(key, func(saveCtx context.Context) error {
		return st.AppendEdit(saveCtx, workflowID, edit)
	})
}

// invalidateDownstreamLocked marks stages after an edited stage stale. The
// edited stage itself stays fresh: its effective output already reflects the
// edit.
func (c *Coordinator) invalidateDownstreamLocked(ctx context.Context, stageID int) {
	next, ok := c.nextStageLocked(stageID)
	if !ok {
		return
	}
	c.stale.MarkConfigChanged(next, time.Now().UTC())
	if err := c.persistMarkerLocked(ctx); err != nil {
		c.logger.Warn("persist invalidation marker failed", logging.Error(err))
	}
}
