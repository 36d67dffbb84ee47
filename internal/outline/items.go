package outline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"quill/internal/services"
)

const (
	// MinTitleLen is the minimum title length for an included item.
	MinTitleLen = 5
	// MinDescriptionLen is the minimum description length for an included item.
	MinDescriptionLen = 10
)

// PriorityCritical is the priority tag that forces inclusion on first generation.
const PriorityCritical = "critical"

// Reference points at a source document backing an item.
type Reference struct {
	Kind    string `json:"kind"`
	Locator string `json:"locator"`
}

// Item is one editable unit of a stage's structured output.
type Item struct {
	ID          string `json:"id"`
	SectionID   string `json:"section_id"`
	// Ordinal is the item's generated position within its section. Custom
	// items carry -1; they are matched by ID instead.
	Ordinal        int         `json:"ordinal"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	Included       bool        `json:"included"`
	Custom         bool        `json:"custom"`
	Priority       string      `json:"priority,omitempty"`
	ContentSources []Reference `json:"content_sources,omitempty"`
}

// Section groups items under one heading of the generated document.
type Section struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Items []Item `json:"items"`
}

// Document is the structured payload of an outline- or draft-producing stage.
type Document struct {
	Sections []Section `json:"sections"`
}

// Key returns the merge-matching key for an item: custom items match by their
// own ID, generated items by section plus generated ordinal.
func (i Item) Key() string {
	if i.Custom {
		return "custom:" + i.ID
	}
	return fmt.Sprintf("%s#%d", i.SectionID, i.Ordinal)
}

// IsCritical reports whether the item carries the critical priority tag.
func (i Item) IsCritical() bool {
	return strings.EqualFold(strings.TrimSpace(i.Priority), PriorityCritical)
}

// Validate checks the length invariants for an included item.
func (i Item) Validate() error {
	if !i.Included {
		return nil
	}
	if utf8.RuneCountInString(strings.TrimSpace(i.Title)) < MinTitleLen {
		return services.Wrap(services.ErrValidation, "", "validate item",
			fmt.Sprintf("title must be at least %d characters", MinTitleLen), nil)
	}
	if utf8.RuneCountInString(strings.TrimSpace(i.Description)) < MinDescriptionLen {
		return services.Wrap(services.ErrValidation, "", "validate item",
			fmt.Sprintf("description must be at least %d characters", MinDescriptionLen), nil)
	}
	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	cp := &Document{Sections: make([]Section, len(d.Sections))}
	for i, section := range d.Sections {
		items := make([]Item, len(section.Items))
		copy(items, section.Items)
		for j := range items {
			if len(section.Items[j].ContentSources) > 0 {
				sources := make([]Reference, len(section.Items[j].ContentSources))
				copy(sources, section.Items[j].ContentSources)
				items[j].ContentSources = sources
			}
		}
		cp.Sections[i] = Section{ID: section.ID, Title: section.Title, Items: items}
	}
	return cp
}

// FindItem locates an item by ID. Returns nil when absent.
func (d *Document) FindItem(itemID string) (*Item, *Section) {
	if d == nil {
		return nil, nil
	}
	for si := range d.Sections {
		for ii := range d.Sections[si].Items {
			if d.Sections[si].Items[ii].ID == itemID {
				return &d.Sections[si].Items[ii], &d.Sections[si]
			}
		}
	}
	return nil, nil
}

// FindSection locates a section by ID. Returns nil when absent.
func (d *Document) FindSection(sectionID string) *Section {
	if d == nil {
		return nil
	}
	for si := range d.Sections {
		if d.Sections[si].ID == sectionID {
			return &d.Sections[si]
		}
	}
	return nil
}

// ItemCount returns the total number of items across all sections.
func (d *Document) ItemCount() int {
	if d == nil {
		return 0
	}
	total := 0
	for _, section := range d.Sections {
		total += len(section.Items)
	}
	return total
}
