package scribe_test

import (
	"strings"
	"testing"

	"quill/internal/services/scribe"
)

func TestDecodeModelJSONDirect(t *testing.T) {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := scribe.DecodeModelJSON(`{"ok":true}`, &out); err != nil {
		t.Fatalf("DecodeModelJSON: %v", err)
	}
	if !out.OK {
		t.Fatal("payload not decoded")
	}
}

func TestDecodeModelJSONStripsFences(t *testing.T) {
	var out struct {
		Kind string `json:"kind"`
	}
	payload := "```json\n{\"kind\":\"outline\"}\n```"
	if err := scribe.DecodeModelJSON(payload, &out); err != nil {
		t.Fatalf("DecodeModelJSON: %v", err)
	}
	if out.Kind != "outline" {
		t.Fatalf("kind = %q", out.Kind)
	}
}

func TestDecodeModelJSONExtractsEmbeddedObject(t *testing.T) {
	var out struct {
		Kind string `json:"kind"`
	}
	payload := "Here is the result you asked for:\n{\"kind\":\"draft\"}\nLet me know if you need changes."
	if err := scribe.DecodeModelJSON(payload, &out); err != nil {
		t.Fatalf("DecodeModelJSON: %v", err)
	}
	if out.Kind != "draft" {
		t.Fatalf("kind = %q", out.Kind)
	}
}

func TestDecodeModelJSONRejectsEmpty(t *testing.T) {
	var out map[string]any
	if err := scribe.DecodeModelJSON("   ", &out); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestDecodeModelJSONErrorIncludesSnippet(t *testing.T) {
	var out map[string]any
	err := scribe.DecodeModelJSON("definitely not json", &out)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !strings.Contains(err.Error(), "definitely not json") {
		t.Fatalf("error missing snippet: %v", err)
	}
}
