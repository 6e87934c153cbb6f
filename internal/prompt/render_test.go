package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/mikehostetler/wreckit/internal/item"
	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

func TestRender_Simple(t *testing.T) {
	got, err := Render("item is {{ITEM_ID}}", Vars{"ITEM_ID": "features/001-x"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "item is features/001-x" {
		t.Fatalf("got %q", got)
	}
}

func TestRender_WhitespaceInsidePlaceholder(t *testing.T) {
	got, err := Render("{{ ITEM_ID }}", Vars{"ITEM_ID": "a"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "a" {
		t.Fatalf("got %q", got)
	}
}

func TestRender_UnboundPlaceholderFails(t *testing.T) {
	_, err := Render("{{ITEM_ID}} {{NOPE}} {{NOPE}}", Vars{"ITEM_ID": "a"})
	if err == nil {
		t.Fatal("expected error for unbound placeholder")
	}
	werr, ok := wreckerr.As(err)
	if !ok || werr.Sub != wreckerr.SubTemplateError {
		t.Fatalf("got %v", err)
	}
	// Each missing name is reported once.
	if strings.Count(err.Error(), "NOPE") != 1 {
		t.Fatalf("got %v", err)
	}
}

func TestRender_NoPlaceholders(t *testing.T) {
	input := "no placeholders here"
	got, err := Render(input, Vars{})
	if err != nil {
		t.Fatal(err)
	}
	if got != input {
		t.Fatalf("got %q", got)
	}
}

func TestBuild_IsDeterministic(t *testing.T) {
	ctx := BuildContext{
		Item: &item.Item{ID: "features/001-x", Title: "X", State: item.StatePlanning},
		PRD: &item.PRD{
			ProblemStatement: "p",
			Goals:            []string{"g1", "g2"},
			Stories:          []item.Story{{StoryID: "story-001", Title: "s", Status: item.StoryPending}},
		},
		RepoRoot:     "/repo",
		BaseBranch:   "main",
		AllowedTools: []string{"read", "grep"},
		Now:          time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	a := Build(ctx)
	b := Build(ctx)
	if len(a) != len(b) {
		t.Fatalf("len %d != %d", len(a), len(b))
	}
	for k, v := range a {
		if b[k] != v {
			t.Fatalf("key %s: %q != %q", k, v, b[k])
		}
	}
	if a["PRD_STORIES"] != "- [story-001] s (pending)\n" {
		t.Fatalf("PRD_STORIES = %q", a["PRD_STORIES"])
	}
	if a["ALLOWED_TOOLS"] != "read, grep" {
		t.Fatalf("ALLOWED_TOOLS = %q", a["ALLOWED_TOOLS"])
	}
}

func TestBuild_EmptyPRDBindsEmptyStrings(t *testing.T) {
	v := Build(BuildContext{Item: &item.Item{ID: "a/001-b"}, Now: time.Now()})
	for _, key := range []string{"PRD_PROBLEM_STATEMENT", "PRD_STORIES", "CURRENT_STORY_ID", "FEEDBACK"} {
		if got, ok := v[key]; !ok || got != "" {
			t.Fatalf("key %s = %q, ok=%v", key, got, ok)
		}
	}
}
