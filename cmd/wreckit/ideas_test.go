package main

import (
	"context"
	"strings"
	"testing"

	"github.com/mikehostetler/wreckit/internal/config"
	"github.com/mikehostetler/wreckit/internal/dispatch"
	"github.com/mikehostetler/wreckit/internal/item"
	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// fakeIdeasAgent satisfies dispatch.Runner; run receives the prompt and
// options, and tests close over the store to simulate the
// save_parsed_ideas tool call landing mid-turn.
type fakeIdeasAgent struct {
	run func(prompt string, opts dispatch.Options) (dispatch.AgentResult, error)
}

func (f *fakeIdeasAgent) Run(ctx context.Context, cfg *dispatch.AgentConfig, cwd, prompt string, opts dispatch.Options) (dispatch.AgentResult, error) {
	return f.run(prompt, opts)
}

func ideasTestConfig() *config.Configuration {
	return &config.Configuration{
		Agent:                  &dispatch.AgentConfig{Kind: dispatch.BackendProcess, Process: &dispatch.ProcessParams{Command: "claude"}},
		TimeoutSeconds:         30,
		RunnerForceKillAfterMS: 1000,
	}
}

func TestIngestIdeasParsesTextReply(t *testing.T) {
	store := item.New(t.TempDir())
	agent := &fakeIdeasAgent{run: func(prompt string, opts dispatch.Options) (dispatch.AgentResult, error) {
		if len(opts.MCPServers) != 1 {
			t.Fatalf("mcp servers = %+v", opts.MCPServers)
		}
		return dispatch.AgentResult{
			Success: true,
			Message: "Here you go:\n```json\n[" +
				`{"title":"Add rate limiter","overview":"Protect the API","section":"features"},` +
				`{"title":"Fix flaky test","overview":"","section":""}` +
				"]\n```",
		}, nil
	}}

	ids, err := ingestIdeas(context.Background(), store, agent, ideasTestConfig(), t.TempDir(), []byte("raw ideas"), "default")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v", ids)
	}

	first, err := store.Read(ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if first.Section != "features" || first.Title != "Add rate limiter" || first.State != item.StateIdea {
		t.Fatalf("first = %+v", first)
	}

	// Empty section falls back to the default.
	second, err := store.Read(ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if second.Section != "default" {
		t.Fatalf("second = %+v", second)
	}
}

func TestIngestIdeasPromptCarriesSource(t *testing.T) {
	store := item.New(t.TempDir())
	var seen string
	agent := &fakeIdeasAgent{run: func(prompt string, opts dispatch.Options) (dispatch.AgentResult, error) {
		seen = prompt
		return dispatch.AgentResult{Success: true, Message: `[{"title":"One","overview":"","section":"s"}]`}, nil
	}}

	if _, err := ingestIdeas(context.Background(), store, agent, ideasTestConfig(), t.TempDir(), []byte("build a widget frobnicator"), "default"); err != nil {
		t.Fatal(err)
	}
	if seen == "" || !containsAll(seen, "build a widget frobnicator", "save_parsed_ideas") {
		t.Fatalf("prompt = %q", seen)
	}
}

func TestIngestIdeasFailsWhenNothingCreated(t *testing.T) {
	store := item.New(t.TempDir())
	agent := &fakeIdeasAgent{run: func(prompt string, opts dispatch.Options) (dispatch.AgentResult, error) {
		return dispatch.AgentResult{Success: true, Message: "I could not find any ideas in this file."}, nil
	}}

	_, err := ingestIdeas(context.Background(), store, agent, ideasTestConfig(), t.TempDir(), []byte("nothing"), "default")
	if err == nil {
		t.Fatal("expected error when no items were created")
	}
	werr, ok := wreckerr.As(err)
	if !ok || werr.Sub != wreckerr.SubMissingArtifact {
		t.Fatalf("got %v", err)
	}
}

func TestIngestIdeasPropagatesAgentFailure(t *testing.T) {
	store := item.New(t.TempDir())
	agent := &fakeIdeasAgent{run: func(prompt string, opts dispatch.Options) (dispatch.AgentResult, error) {
		return dispatch.AgentResult{Success: false, Message: "boom"}, nil
	}}

	_, err := ingestIdeas(context.Background(), store, agent, ideasTestConfig(), t.TempDir(), []byte("x"), "default")
	if err == nil {
		t.Fatal("expected agent failure to propagate")
	}
	werr, ok := wreckerr.As(err)
	if !ok || werr.Kind != wreckerr.KindAgent {
		t.Fatalf("got %v", err)
	}
}

func TestParseIdeasText(t *testing.T) {
	if got := parseIdeasText("no json here"); got != nil {
		t.Fatalf("got %+v", got)
	}
	got := parseIdeasText(`prose [{"title":"A","overview":"o","section":"s"},{"title":"","overview":"dropped"}] trailing`)
	if len(got) != 1 || got[0].Title != "A" {
		t.Fatalf("got %+v", got)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
