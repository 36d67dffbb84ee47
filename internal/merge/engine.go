package merge

import (
	"log/slog"

	"github.com/google/uuid"

	"quill/internal/logging"
	"quill/internal/outline"
)

// Options controls a merge pass.
type Options struct {
	// FirstGeneration applies the default inclusion policy: with no edits on
	// record, critical-priority items are forced to included. The engine
	// never excludes an item by policy; exclusion is always a user action.
	FirstGeneration bool
}

// Engine applies recorded user edits on top of fresh generation output.
type Engine struct {
	logger *slog.Logger
}

// NewEngine constructs a merge engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logging.NewComponentLogger(logger, "merge")}
}

// Apply produces the effective document: the fresh output with overrides
// reapplied, custom items re-inserted, and removals honored. The fresh
// document is not mutated.
//
// Edits are reconciled in three passes over the append-only log: overrides
// first, then custom re-insertion, then removals.
func (e *Engine) Apply(fresh *outline.Document, edits []outline.Edit, opts Options) *outline.Document {
	doc := fresh.Clone()
	if doc == nil {
		return nil
	}
	normalize(doc)

	if opts.FirstGeneration && len(edits) == 0 {
		applyInclusionPolicy(doc)
		return doc
	}

	removedKeys := make(map[string]struct{})
	for _, edit := range edits {
		if edit.Kind == outline.EditRemove {
			removedKeys[edit.TargetKey()] = struct{}{}
		}
	}

	e.applyOverrides(doc, edits)
	e.insertCustomItems(doc, edits, removedKeys)
	e.applyRemovals(doc, removedKeys)
	return doc
}

// normalize assigns identifiers and positional keys to generated items so
// edits recorded against earlier runs can be matched against this one.
func normalize(doc *outline.Document) {
	for si := range doc.Sections {
		section := &doc.Sections[si]
		ordinal := 0
		for ii := range section.Items {
			item := &section.Items[ii]
			item.SectionID = section.ID
			if !item.Custom {
				item.Ordinal = ordinal
				ordinal++
			}
			if item.ID == "" {
				item.ID = uuid.NewString()
			}
		}
	}
}

func applyInclusionPolicy(doc *outline.Document) {
	for si := range doc.Sections {
		for ii := range doc.Sections[si].Items {
			item := &doc.Sections[si].Items[ii]
			if item.IsCritical() {
				item.Included = true
			}
		}
	}
}

func (e *Engine) applyOverrides(doc *outline.Document, edits []outline.Edit) {
	index := buildKeyIndex(doc)
	for _, edit := range edits {
		if edit.Kind != outline.EditOverride {
			continue
		}
		item, ok := index[edit.TargetKey()]
		if !ok {
			// The regenerated output no longer has an item at this
			// position; the override has nothing to attach to.
			e.logger.Debug("override target missing from fresh output",
				logging.String("target", edit.TargetKey()))
			continue
		}
		previous := *item
		if edit.Title != nil {
			item.Title = *edit.Title
		}
		if edit.Description != nil {
			item.Description = *edit.Description
		}
		if edit.Included != nil {
			item.Included = *edit.Included
		}
		if err := item.Validate(); err != nil {
			*item = previous
			e.logger.Warn("override left item invalid; keeping fresh value",
				logging.String("target", edit.TargetKey()),
				logging.Error(err))
		}
	}
}

// insertCustomItems carries user-authored items forward verbatim. Custom items
// are not regenerated by the service, so the recorded payload is the source of
// truth; customs later marked removed are simply omitted.
func (e *Engine) insertCustomItems(doc *outline.Document, edits []outline.Edit, removed map[string]struct{}) {
	for _, edit := range edits {
		if edit.Kind != outline.EditCustomAdd || edit.Item == nil {
			continue
		}
		if _, gone := removed[edit.Item.Key()]; gone {
			continue
		}
		section := doc.FindSection(edit.Item.SectionID)
		if section == nil {
			// The section vanished from the regenerated output; keep the
			// custom item by recreating its section at the end.
			doc.Sections = append(doc.Sections, outline.Section{
				ID:    edit.Item.SectionID,
				Title: edit.Item.SectionID,
			})
			section = &doc.Sections[len(doc.Sections)-1]
		}
		item := *edit.Item
		item.Custom = true
		item.Ordinal = -1
		section.Items = append(section.Items, item)
	}
}

func (e *Engine) applyRemovals(doc *outline.Document, removed map[string]struct{}) {
	if len(removed) == 0 {
		return
	}
	for si := range doc.Sections {
		section := &doc.Sections[si]
		if len(section.Items) == 0 {
			continue
		}
		survivors := 0
		for _, item := range section.Items {
			if !removable(item, removed) {
				survivors++
			}
		}
		// Applying every recorded removal would empty the section; keep the
		// first matching item to preserve the minimum-one invariant. The live
		// removal path already rejected the edit once, so a regeneration must
		// not be able to do what the user could not.
		keepOne := survivors == 0
		kept := make([]outline.Item, 0, len(section.Items))
		for _, item := range section.Items {
			if removable(item, removed) {
				if keepOne {
					e.logger.Warn("removal would empty section; keeping item",
						logging.String(logging.FieldSection, section.ID),
						logging.String(logging.FieldItemID, item.ID))
					keepOne = false
					kept = append(kept, item)
				}
				continue
			}
			kept = append(kept, item)
		}
		section.Items = kept
	}
}

// removable reports whether the removal set drops this item here. Custom item
// removals were already honored during re-insertion.
func removable(item outline.Item, removed map[string]struct{}) bool {
	if item.Custom {
		return false
	}
	_, drop := removed[item.Key()]
	return drop
}

func buildKeyIndex(doc *outline.Document) map[string]*outline.Item {
	index := make(map[string]*outline.Item, doc.ItemCount())
	for si := range doc.Sections {
		for ii := range doc.Sections[si].Items {
			item := &doc.Sections[si].Items[ii]
			index[item.Key()] = item
		}
	}
	return index
}
