package outline_test

import (
	"errors"
	"testing"

	"quill/internal/outline"
	"quill/internal/services"
)

func TestItemValidate(t *testing.T) {
	item := outline.Item{
		Title:       "Opening argument",
		Description: "Sets up the core thesis of the piece",
		Included:    true,
	}
	if err := item.Validate(); err != nil {
		t.Fatalf("valid item rejected: %v", err)
	}

	short := item
	short.Title = "Hey"
	err := short.Validate()
	if err == nil {
		t.Fatal("expected short title to fail")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}

	thin := item
	thin.Description = "too short"
	if err := thin.Validate(); err == nil {
		t.Fatal("expected short description to fail")
	}
}

func TestExcludedItemsSkipValidation(t *testing.T) {
	item := outline.Item{Title: "x", Description: "y", Included: false}
	if err := item.Validate(); err != nil {
		t.Fatalf("excluded item should not be validated: %v", err)
	}
}

func TestItemKey(t *testing.T) {
	generated := outline.Item{SectionID: "intro", Ordinal: 2}
	if got := generated.Key(); got != "intro#2" {
		t.Fatalf("generated key = %q", got)
	}
	custom := outline.Item{ID: "abc", Custom: true, SectionID: "intro", Ordinal: -1}
	if got := custom.Key(); got != "custom:abc" {
		t.Fatalf("custom key = %q", got)
	}
}

func TestEditTargetKeyMatchesItemKey(t *testing.T) {
	item := outline.Item{ID: "abc", SectionID: "body", Ordinal: 1}
	sectionID, ordinal, targetID := outline.TargetFor(item)
	edit := outline.Edit{SectionID: sectionID, Ordinal: ordinal, TargetID: targetID}
	if edit.TargetKey() != item.Key() {
		t.Fatalf("edit key %q != item key %q", edit.TargetKey(), item.Key())
	}

	item.Custom = true
	sectionID, ordinal, targetID = outline.TargetFor(item)
	edit = outline.Edit{SectionID: sectionID, Ordinal: ordinal, TargetID: targetID}
	if edit.TargetKey() != item.Key() {
		t.Fatalf("custom edit key %q != item key %q", edit.TargetKey(), item.Key())
	}
}

func TestDocumentCloneIsDeep(t *testing.T) {
	doc := &outline.Document{Sections: []outline.Section{{
		ID:    "intro",
		Title: "Introduction",
		Items: []outline.Item{{ID: "a", Title: "First point", Description: "Describes something useful", Included: true}},
	}}}

	cp := doc.Clone()
	cp.Sections[0].Items[0].Title = "changed"
	if doc.Sections[0].Items[0].Title == "changed" {
		t.Fatal("clone shares item storage with original")
	}
}

func TestFindItemAndSection(t *testing.T) {
	doc := &outline.Document{Sections: []outline.Section{
		{ID: "intro", Items: []outline.Item{{ID: "a"}, {ID: "b"}}},
		{ID: "body", Items: []outline.Item{{ID: "c"}}},
	}}

	item, section := doc.FindItem("c")
	if item == nil || section == nil || section.ID != "body" {
		t.Fatalf("FindItem(c) = %v in %v", item, section)
	}
	if item, _ := doc.FindItem("missing"); item != nil {
		t.Fatal("expected nil for unknown item")
	}
	if doc.FindSection("intro") == nil {
		t.Fatal("expected intro section")
	}
	if doc.ItemCount() != 3 {
		t.Fatalf("ItemCount = %d, want 3", doc.ItemCount())
	}
}
