package prompt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mikehostetler/wreckit/internal/item"
)

// BuildContext carries everything the phase runner knows when it renders
// a template.
type BuildContext struct {
	Item          *item.Item
	PRD           *item.PRD
	CurrentStory  *item.Story
	RepoRoot      string
	BaseBranch    string
	Branch        string
	AgentKind     string
	Retry         int
	AllowedTools  []string
	MCPHints      string
	Now           time.Time

	// Feedback carries the message from a recoverable error on the
	// previous attempt of this phase, injected into the retry prompt.
	Feedback string
}

// Build assembles the flat variable table for BuildContext.
func Build(ctx BuildContext) Vars {
	v := Vars{
		"ITEM_ID":       ctx.Item.ID,
		"ITEM_TITLE":    ctx.Item.Title,
		"ITEM_OVERVIEW": ctx.Item.Overview,
		"ITEM_STATE":    string(ctx.Item.State),
		"REPO_ROOT":     ctx.RepoRoot,
		"BASE_BRANCH":   ctx.BaseBranch,
		"BRANCH":        ctx.Branch,
		"AGENT_KIND":    ctx.AgentKind,
		"RETRY":         strconv.Itoa(ctx.Retry),
		"ALLOWED_TOOLS": AllowedToolsSummary(ctx.AllowedTools),
		"MCP_HINTS":     ctx.MCPHints,
		"TIMESTAMP":     ctx.Now.Format(time.RFC3339),
		"FEEDBACK":      ctx.Feedback,
	}

	if ctx.PRD != nil {
		v["PRD_PROBLEM_STATEMENT"] = ctx.PRD.ProblemStatement
		v["PRD_GOALS"] = strings.Join(ctx.PRD.Goals, "\n- ")
		v["PRD_NON_GOALS"] = strings.Join(ctx.PRD.NonGoals, "\n- ")
		v["PRD_STORIES"] = formatStories(ctx.PRD.Stories)
		v["PRD_OPEN_QUESTIONS"] = strings.Join(ctx.PRD.OpenQuestions, "\n- ")
	} else {
		v["PRD_PROBLEM_STATEMENT"] = ""
		v["PRD_GOALS"] = ""
		v["PRD_NON_GOALS"] = ""
		v["PRD_STORIES"] = ""
		v["PRD_OPEN_QUESTIONS"] = ""
	}

	if ctx.CurrentStory != nil {
		v["CURRENT_STORY_ID"] = ctx.CurrentStory.StoryID
		v["CURRENT_STORY_TITLE"] = ctx.CurrentStory.Title
		v["CURRENT_STORY_STATUS"] = ctx.CurrentStory.Status
	} else {
		v["CURRENT_STORY_ID"] = ""
		v["CURRENT_STORY_TITLE"] = ""
		v["CURRENT_STORY_STATUS"] = ""
	}

	return v
}

func formatStories(stories []item.Story) string {
	var b strings.Builder
	for _, s := range stories {
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", s.StoryID, s.Title, s.Status)
	}
	return b.String()
}
