package mcpserver

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mikehostetler/wreckit/internal/item"
)

func TestNewBuildsServerWithOnlySavePRDHook(t *testing.T) {
	s := New("wreckit", "test", Hooks{
		SavePRD: func(ctx context.Context, prd item.PRD) error { return nil },
	})
	if s == nil {
		t.Fatal("expected non-nil server")
	}
}

func toolReq(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func TestSavePRDHandlerAssignsSequentialStoryIDs(t *testing.T) {
	var saved item.PRD
	handler := savePRDHandler(func(ctx context.Context, prd item.PRD) error {
		saved = prd
		return nil
	})

	res, err := handler(context.Background(), toolReq("save_prd", map[string]any{
		"problem_statement": "rate limiting is missing",
		"goals_json":        `["limit requests"]`,
		"stories_json":      `[{"story_id":"whatever","title":"add limiter"},{"title":"add tests"}]`,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("result = %+v", res)
	}
	if len(saved.Stories) != 2 {
		t.Fatalf("stories = %+v", saved.Stories)
	}
	// Agent-supplied ids are replaced with server-assigned sequential ones.
	if saved.Stories[0].StoryID != "story-001" || saved.Stories[1].StoryID != "story-002" {
		t.Fatalf("story ids = %s, %s", saved.Stories[0].StoryID, saved.Stories[1].StoryID)
	}
}

func TestSavePRDHandlerRejectsZeroStories(t *testing.T) {
	handler := savePRDHandler(func(ctx context.Context, prd item.PRD) error { return nil })
	res, err := handler(context.Background(), toolReq("save_prd", map[string]any{
		"problem_statement": "p",
		"goals_json":        `["g"]`,
		"stories_json":      `[]`,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected tool error for zero stories")
	}
}

func TestUpdateStoryStatusHandlerRequiresArgs(t *testing.T) {
	handler := updateStoryStatusHandler(func(ctx context.Context, id, status string) error { return nil })
	res, err := handler(context.Background(), toolReq("update_story_status", map[string]any{
		"story_id": "story-001",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected tool error for missing status")
	}
}

func TestCompleteHandlerPropagatesHookError(t *testing.T) {
	handler := completeHandler(func(ctx context.Context, summary string) error {
		return context.DeadlineExceeded
	})
	res, err := handler(context.Background(), toolReq("complete", map[string]any{
		"summary": "all done",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected tool error when the hook rejects completion")
	}
}

func TestNewWithAllHooks(t *testing.T) {
	s := New("wreckit", "test", Hooks{
		SavePRD:           func(ctx context.Context, prd item.PRD) error { return nil },
		UpdateStoryStatus: func(ctx context.Context, id, status string) error { return nil },
		Complete:          func(ctx context.Context, summary string) error { return nil },
		SaveParsedIdeas: func(ctx context.Context, ideas []ParsedIdea) ([]string, error) {
			return []string{"research/001-x"}, nil
		},
	})
	if s == nil {
		t.Fatal("expected non-nil server")
	}
}
