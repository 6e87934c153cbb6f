// Package mcpserver exposes wreckit's structured-output tool surface to
// an agent over the Model Context Protocol: save_prd, update_story_status,
// complete, and save_parsed_ideas. The hosted SDK and process-kind
// backends that support MCP connect to this in-process server over stdio
// for the duration of one phase invocation.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mikehostetler/wreckit/internal/item"
	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// Hooks are the item-store-backed callbacks each tool invokes. The phase
// runner constructs a fresh Hooks closure per invocation, bound to the one
// item being worked.
type Hooks struct {
	SavePRD           func(ctx context.Context, prd item.PRD) error
	UpdateStoryStatus func(ctx context.Context, storyID string, status string) error
	Complete          func(ctx context.Context, summary string) error
	SaveParsedIdeas   func(ctx context.Context, ideas []ParsedIdea) ([]string, error)
}

// ParsedIdea is one idea extracted by the ideas-ingest flow via
// save_parsed_ideas.
type ParsedIdea struct {
	Title    string `json:"title"`
	Overview string `json:"overview"`
	Section  string `json:"section"`
}

// New builds an MCP server exposing exactly the tools named in hooks.
// Omitting a hook (passing it as nil) omits the corresponding tool from
// the server's capability list, so a phase that should not be able to
// call e.g. complete never advertises it.
func New(name, version string, hooks Hooks) *server.MCPServer {
	s := server.NewMCPServer(name, version)

	if hooks.SavePRD != nil {
		s.AddTool(savePRDTool(), savePRDHandler(hooks.SavePRD))
	}
	if hooks.UpdateStoryStatus != nil {
		s.AddTool(updateStoryStatusTool(), updateStoryStatusHandler(hooks.UpdateStoryStatus))
	}
	if hooks.Complete != nil {
		s.AddTool(completeTool(), completeHandler(hooks.Complete))
	}
	if hooks.SaveParsedIdeas != nil {
		s.AddTool(saveParsedIdeasTool(), saveParsedIdeasHandler(hooks.SaveParsedIdeas))
	}

	return s
}

// ServeStdio runs s over stdio until ctx is canceled, matching the
// lifetime of one phase's agent invocation.
func ServeStdio(ctx context.Context, s *server.MCPServer) error {
	if err := server.ServeStdio(s); err != nil && ctx.Err() == nil {
		return wreckerr.Wrap(wreckerr.KindAgent, "mcp server exited unexpectedly", err)
	}
	return nil
}

func savePRDTool() mcp.Tool {
	return mcp.NewTool("save_prd",
		mcp.WithDescription("Save the product requirements document for this item, including its story list."),
		mcp.WithString("problem_statement", mcp.Required()),
		mcp.WithString("goals_json", mcp.Required(), mcp.Description("JSON array of goal strings")),
		mcp.WithString("non_goals_json", mcp.Description("JSON array of non-goal strings")),
		mcp.WithString("stories_json", mcp.Required(), mcp.Description("JSON array of {story_id,title,status} objects")),
		mcp.WithString("open_questions_json", mcp.Description("JSON array of open-question strings")),
	)
}

func savePRDHandler(save func(context.Context, item.PRD) error) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var prd item.PRD
		prd.ProblemStatement = req.GetString("problem_statement", "")
		if err := unmarshalListArg(req, "goals_json", &prd.Goals); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := unmarshalListArg(req, "non_goals_json", &prd.NonGoals); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := unmarshalListArg(req, "open_questions_json", &prd.OpenQuestions); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var stories []item.Story
		if err := unmarshalListArg(req, "stories_json", &stories); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(stories) == 0 {
			return mcp.NewToolResultError("save_prd requires at least one story"), nil
		}
		prd.Stories = assignStoryIDs(stories)

		if err := save(ctx, prd); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("prd saved"), nil
	}
}

// assignStoryIDs replaces whatever story_id the agent supplied with a
// server-assigned, sequential-within-item id, so story ids stay unique
// and stable regardless of what the agent sent. Numbered in the same
// zero-padded style internal/item/store.go uses for item ids.
func assignStoryIDs(stories []item.Story) []item.Story {
	out := make([]item.Story, len(stories))
	for i, s := range stories {
		s.StoryID = fmt.Sprintf("story-%03d", i+1)
		out[i] = s
	}
	return out
}

func updateStoryStatusTool() mcp.Tool {
	return mcp.NewTool("update_story_status",
		mcp.WithDescription("Update the status of one story in this item's PRD."),
		mcp.WithString("story_id", mcp.Required()),
		mcp.WithString("status", mcp.Required(), mcp.Enum(
			string(item.StoryPending), string(item.StoryInProgress), string(item.StoryDone), string(item.StoryBlocked),
		)),
	)
}

func updateStoryStatusHandler(update func(context.Context, string, string) error) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		storyID := req.GetString("story_id", "")
		status := req.GetString("status", "")
		if storyID == "" || status == "" {
			return mcp.NewToolResultError("story_id and status are required"), nil
		}
		if err := update(ctx, storyID, status); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("story %s set to %s", storyID, status)), nil
	}
}

func completeTool() mcp.Tool {
	return mcp.NewTool("complete",
		mcp.WithDescription("Signal that the item's merge has been verified and the item is done."),
		mcp.WithString("summary", mcp.Required()),
	)
}

func completeHandler(complete func(context.Context, string) error) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		summary := req.GetString("summary", "")
		if summary == "" {
			return mcp.NewToolResultError("summary is required"), nil
		}
		if err := complete(ctx, summary); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("item marked complete"), nil
	}
}

func saveParsedIdeasTool() mcp.Tool {
	return mcp.NewTool("save_parsed_ideas",
		mcp.WithDescription("Save one or more ideas parsed from a free-form ingest source as new items."),
		mcp.WithString("ideas_json", mcp.Required(), mcp.Description("JSON array of {title,overview,section} objects")),
	)
}

func saveParsedIdeasHandler(save func(context.Context, []ParsedIdea) ([]string, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var ideas []ParsedIdea
		if err := unmarshalListArg(req, "ideas_json", &ideas); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(ideas) == 0 {
			return mcp.NewToolResultError("save_parsed_ideas requires at least one idea"), nil
		}
		ids, err := save(ctx, ideas)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out, _ := json.Marshal(ids)
		return mcp.NewToolResultText(string(out)), nil
	}
}

func unmarshalListArg(req mcp.CallToolRequest, name string, out any) error {
	raw := req.GetString(name, "")
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%s: invalid json: %w", name, err)
	}
	return nil
}
