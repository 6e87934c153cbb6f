package main

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/mikehostetler/wreckit/internal/config"
	"github.com/mikehostetler/wreckit/internal/dispatch"
	"github.com/mikehostetler/wreckit/internal/item"
	"github.com/mikehostetler/wreckit/internal/mcpserver"
	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// ingestIdeas drives one agent turn over a free-form ideas source: the
// agent reads the text, structures it into {title, overview, section}
// records, and calls save_parsed_ideas, which lands each section's batch
// in the store atomically. Agents that answer with a JSON array in plain
// text instead of calling the tool are accepted too; the reply is parsed
// and batched through the same hook.
func ingestIdeas(ctx context.Context, store *item.Store, agent dispatch.Runner, cfg *config.Configuration, cwd string, raw []byte, defaultSection string) ([]string, error) {
	var mu sync.Mutex
	var ids []string

	// save_parsed_ideas carries one section per idea, but
	// Store.CreateBatch publishes one section atomically at a time, so
	// group by section before batching each group in.
	saveBatch := func(_ context.Context, ideas []mcpserver.ParsedIdea) ([]string, error) {
		bySection := make(map[string][]struct{ Title, Overview string })
		order := []string{}
		for _, idea := range ideas {
			sec := idea.Section
			if sec == "" {
				sec = defaultSection
			}
			if _, seen := bySection[sec]; !seen {
				order = append(order, sec)
			}
			bySection[sec] = append(bySection[sec], struct{ Title, Overview string }{Title: idea.Title, Overview: idea.Overview})
		}
		mu.Lock()
		defer mu.Unlock()
		for _, sec := range order {
			created, err := store.CreateBatch(sec, bySection[sec])
			if err != nil {
				return ids, err
			}
			ids = append(ids, created...)
		}
		return ids, nil
	}

	srv := mcpserver.New("wreckit", "0.1.0", mcpserver.Hooks{SaveParsedIdeas: saveBatch})
	srvCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = mcpserver.ServeStdio(srvCtx, srv) }()
	handle := dispatch.MCPServerHandle{Name: "wreckit", Transport: "stdio"}

	prompt := buildIdeasPrompt(string(raw), defaultSection)
	opts := dispatch.Options{
		ToolAllowlist:  []string{"read", "save_parsed_ideas"},
		MCPServers:     []dispatch.MCPServerHandle{handle},
		Timeout:        time.Duration(cfg.TimeoutSeconds) * time.Second,
		ForceKillAfter: time.Duration(cfg.RunnerForceKillAfterMS) * time.Millisecond,
	}
	result, err := agent.Run(ctx, cfg.Agent, cwd, prompt, opts)
	if err != nil {
		return ids, err
	}
	if !result.Success {
		return ids, wreckerr.WithSub(wreckerr.KindAgent, wreckerr.SubOther,
			"ideas agent run failed: "+result.Message, nil)
	}

	mu.Lock()
	created := len(ids)
	mu.Unlock()
	if created == 0 {
		parsed := parseIdeasText(result.Message)
		if len(parsed) > 0 {
			if _, err := saveBatch(ctx, parsed); err != nil {
				return ids, err
			}
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ids) == 0 {
		return nil, wreckerr.WithSub(wreckerr.KindArtifact, wreckerr.SubMissingArtifact,
			"ideas agent produced no items (save_parsed_ideas never called and no ideas in output)", nil)
	}
	return ids, nil
}

func buildIdeasPrompt(source, defaultSection string) string {
	var b strings.Builder
	b.WriteString("Parse the ideas below into work items. For each distinct idea produce an\n")
	b.WriteString("object with \"title\" (short, imperative), \"overview\" (one or two\n")
	b.WriteString("sentences), and \"section\" (a domain bucket; use \"" + defaultSection + "\" when unsure).\n\n")
	b.WriteString("Call the save_parsed_ideas tool with the full list. If the tool is\n")
	b.WriteString("unavailable, reply with only a JSON array of the objects.\n\n")
	b.WriteString("Ideas source:\n\n")
	b.WriteString(source)
	return b.String()
}

// parseIdeasText recovers a JSON array of parsed ideas from an agent reply
// that answered in text instead of calling save_parsed_ideas. It tolerates
// prose and code fences around the array.
func parseIdeasText(text string) []mcpserver.ParsedIdea {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil
	}
	var ideas []mcpserver.ParsedIdea
	if err := json.Unmarshal([]byte(text[start:end+1]), &ideas); err != nil {
		return nil
	}
	var out []mcpserver.ParsedIdea
	for _, idea := range ideas {
		if idea.Title != "" {
			out = append(out, idea)
		}
	}
	return out
}
