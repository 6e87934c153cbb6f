// Package templates loads the phase prompt templates phaserunner
// renders: a file on disk under .wreckit/templates/ when present, else a
// built-in default per phase. Each of the five phases has a main
// template; implement also has a retry variant, and every phase shares a
// critique template.
package templates

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikehostetler/wreckit/internal/statemachine"
	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// Dir is the on-disk template root, by convention <repoRoot>/.wreckit/templates.
type Dir struct {
	Root string
}

// New returns a Dir rooted at <repoRoot>/.wreckit/templates.
func New(repoRoot string) Dir {
	return Dir{Root: filepath.Join(repoRoot, ".wreckit", "templates")}
}

// Main returns phase's main prompt template: <root>/<phase>.md if present,
// else the built-in default for that phase.
func (d Dir) Main(phase string) (string, error) {
	return d.load(phase+".md", defaultMain[phase], phase)
}

// Retry returns implement's iteration-specific retry template, used when
// the agent is re-invoked within the same phase to finish remaining
// stories.
func (d Dir) Retry(phase string) (string, error) {
	return d.load(phase+".retry.md", defaultRetry[phase], phase)
}

// Critique returns phase's critique-round template.
func (d Dir) Critique(phase string) (string, error) {
	return d.load(phase+".critique.md", defaultCritique, phase)
}

func (d Dir) load(filename, fallback, phase string) (string, error) {
	path := filepath.Join(d.Root, filename)
	b, err := os.ReadFile(path)
	if err == nil {
		return string(b), nil
	}
	if !os.IsNotExist(err) {
		return "", wreckerr.Wrap(wreckerr.KindConfig, "failed to read template "+path, err)
	}
	if fallback == "" {
		return "", wreckerr.WithSub(wreckerr.KindConfig, wreckerr.SubTemplateError,
			fmt.Sprintf("no template found for phase %q at %s and no built-in default", phase, path), nil)
	}
	return fallback, nil
}

var defaultMain = map[string]string{
	statemachine.PhaseResearch: `You are the research agent for item {{ITEM_ID}}: {{ITEM_TITLE}}.

{{ITEM_OVERVIEW}}

Explore the repository at {{REPO_ROOT}} to understand the area this item touches.
Write your findings to research.md in this item's directory: what exists today,
what constraints apply, and what open questions remain before planning can start.

Allowed tools: {{ALLOWED_TOOLS}}
{{MCP_HINTS}}`,

	statemachine.PhasePlan: `You are the planning agent for item {{ITEM_ID}}: {{ITEM_TITLE}}.

Research notes:
{{ITEM_OVERVIEW}}

Produce a PRD: a problem statement, goals, non-goals, and a list of
independently implementable stories. Call save_prd with the PRD once it is
ready; every story needs a stable story_id and a title.

Allowed tools: {{ALLOWED_TOOLS}}
{{MCP_HINTS}}`,

	statemachine.PhaseImplement: `You are the implementation agent for item {{ITEM_ID}} on branch {{BRANCH}}.

Problem statement: {{PRD_PROBLEM_STATEMENT}}
Goals:
- {{PRD_GOALS}}

Stories:
{{PRD_STORIES}}

Implement every story in order. Call update_story_status as each one finishes.
Commit your work; do not open a pull request yourself.

Allowed tools: {{ALLOWED_TOOLS}}
{{MCP_HINTS}}`,

	statemachine.PhasePR: `You are the PR agent for item {{ITEM_ID}} on branch {{BRANCH}} against {{BASE_BRANCH}}.

Run the project's checks and prepare a pull request description summarizing
the stories below. The orchestrator opens the PR itself once checks pass.

Stories:
{{PRD_STORIES}}

Allowed tools: {{ALLOWED_TOOLS}}`,

	statemachine.PhaseComplete: `You are the completion agent for item {{ITEM_ID}}.

All stories are done:
{{PRD_STORIES}}

Write a short summary of what shipped and call complete with it.

Allowed tools: {{ALLOWED_TOOLS}}
{{MCP_HINTS}}`,
}

var defaultRetry = map[string]string{
	statemachine.PhaseImplement: `You are continuing implementation of item {{ITEM_ID}} on branch {{BRANCH}} (retry {{RETRY}}).

Remaining stories:
{{PRD_STORIES}}
{{FEEDBACK}}

Finish the remaining stories and call update_story_status as each one completes.

Allowed tools: {{ALLOWED_TOOLS}}
{{MCP_HINTS}}`,
}

const defaultCritique = `Judge the following {{ITEM_STATE}} artifact for item {{ITEM_ID}} produced during
the current phase. Accept it only if it fully satisfies the stated goals and
stories; otherwise reject it and explain what is missing.

{{PRD_STORIES}}`
