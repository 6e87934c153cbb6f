package scaffold

import "strings"

// buildInitPrompt constructs the prompt asking an agent to tailor wreckit's
// five phase templates to one repository: variable reference, an example,
// the gathered project context, then the output-format instructions.
func buildInitPrompt(projectContext string) string {
	var b strings.Builder
	b.WriteString(promptPrefix)
	b.WriteString(projectContext)
	b.WriteString(promptSuffix)
	return b.String()
}

const promptPrefix = `You are generating phase prompt templates for wreckit, an autonomous
engineering orchestrator. wreckit drives each work item through a fixed
five-phase pipeline by spawning an LLM coding agent once per phase:

  research  - explore the repository, write research.md
  plan      - produce a PRD with stories, call save_prd
  implement - implement every story on a feature branch, call update_story_status
  pr        - run checks, prepare a pull request description
  complete  - summarize what shipped, call complete

Each phase's prompt is a text template with {{VAR}} placeholders substituted
at render time. Available placeholders: {{ITEM_ID}}, {{ITEM_TITLE}},
{{ITEM_OVERVIEW}}, {{REPO_ROOT}}, {{BRANCH}}, {{BASE_BRANCH}},
{{PRD_PROBLEM_STATEMENT}}, {{PRD_GOALS}}, {{PRD_STORIES}}, {{ALLOWED_TOOLS}},
{{MCP_HINTS}}. Do not invent other placeholders.

## Project Context

`

const promptSuffix = `

## Instructions

Generate one tailored prompt template per phase, referencing this project's
actual stack, build/test commands, and conventions from the context above.
Keep each template's instructions specific to the phase's job; do not
duplicate another phase's responsibilities. Preserve the {{VAR}} placeholders
relevant to that phase, the same way the built-in defaults do.

Output ONLY fenced code blocks annotated with file=, one per phase, each
rooted at .wreckit/templates/<phase>.md:

` + "```" + `markdown file=.wreckit/templates/research.md
<template content>
` + "```" + `

` + "```" + `markdown file=.wreckit/templates/plan.md
<template content>
` + "```" + `

` + "```" + `markdown file=.wreckit/templates/implement.md
<template content>
` + "```" + `

` + "```" + `markdown file=.wreckit/templates/pr.md
<template content>
` + "```" + `

` + "```" + `markdown file=.wreckit/templates/complete.md
<template content>
` + "```" + `

No explanation or text outside the code blocks. All five phases are required.
`
