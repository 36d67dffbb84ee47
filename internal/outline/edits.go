package outline

import (
	"fmt"
	"time"
)

// EditKind classifies a user modification to generated content.
type EditKind string

const (
	// EditOverride records a title, description, or inclusion change to a
	// generated item.
	EditOverride EditKind = "override"
	// EditCustomAdd records a user-authored item carried forward verbatim
	// across regenerations.
	EditCustomAdd EditKind = "custom-add"
	// EditRemove records the removal of an item.
	EditRemove EditKind = "removed"
)

// Edit is one append-only record of a user's modification to a stage's
// generated output. Edits persist independently of any stage run so the merge
// engine can reapply them to the newest run's output.
type Edit struct {
	ID        string    `json:"id"`
	StageID   int       `json:"stage_id"`
	Kind      EditKind  `json:"kind"`
	SectionID string    `json:"section_id"`
	Ordinal   int       `json:"ordinal"`
	// TargetID is set when the edit targets a custom item; generated items
	// are addressed by section and ordinal.
	TargetID    string    `json:"target_id,omitempty"`
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Included    *bool     `json:"included,omitempty"`
	// Item carries the full payload for custom-add edits.
	Item      *Item     `json:"item,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TargetKey returns the merge-matching key the edit applies to.
func (e Edit) TargetKey() string {
	if e.TargetID != "" {
		return "custom:" + e.TargetID
	}
	return fmt.Sprintf("%s#%d", e.SectionID, e.Ordinal)
}

// TargetFor builds the edit addressing fields for an item.
func TargetFor(item Item) (sectionID string, ordinal int, targetID string) {
	if item.Custom {
		return item.SectionID, -1, item.ID
	}
	return item.SectionID, item.Ordinal, ""
}
