package docs

var topics = []Topic{
	{
		Name:    "quickstart",
		Title:   "Quick Start",
		Summary: "Getting started with wreckit",
		Content: topicQuickstart,
	},
	{
		Name:    "config",
		Title:   "Configuration Reference",
		Summary: "Config file schema, fields, and defaults",
		Content: topicConfig,
	},
	{
		Name:    "phases",
		Title:   "Phase Pipeline",
		Summary: "The fixed research/plan/implement/pr/complete pipeline",
		Content: topicPhases,
	},
	{
		Name:    "variables",
		Title:   "Template Variables",
		Summary: "Placeholders available in phase prompt templates",
		Content: topicVariables,
	},
	{
		Name:    "orchestrator",
		Title:   "Execution Model",
		Summary: "Worker pool, selection policy, critique loop, interruption",
		Content: topicOrchestrator,
	},
	{
		Name:    "artifacts",
		Title:   "Item Directory",
		Summary: "Structure of .wreckit/items/<id>/ and what gets saved",
		Content: topicArtifacts,
	},
}

const topicQuickstart = `Quick Start
===========

1. Initialize a project:

    cd your-project
    wreckit init

   This creates .wreckit/config.json, .wreckit/items/, and
   .wreckit/templates/ (empty — phases fall back to built-in prompts
   until you customize them). Pass --ai to have an agent generate
   templates tailored to this repository instead.

2. Add work:

    wreckit add "support CSV export" --section backend
    wreckit ideas notes.txt --section backend

3. Run the worker pool until nothing is left to do:

    wreckit run

4. Check on things:

    wreckit list
    wreckit show <id>

CLI Commands
------------

  wreckit init [--ai]                     Scaffold .wreckit/
  wreckit add <title> [--section] [--overview]
  wreckit ideas <file> [--section]        Ingest a batch of ideas
  wreckit list [--state] [--section]
  wreckit show <id>
  wreckit run [--workers N]               Run the worker pool
  wreckit research|plan|implement|pr|complete <id>
                                           Run exactly one phase manually
  wreckit doctor [--fix]                  Check the environment
  wreckit learn [--item] [--phase]        Summarize timing/retry history
  wreckit docs [topic]
`

const topicConfig = `Configuration Reference
=======================

Config lives at .wreckit/config.json.

Top-level fields
----------------

  base_branch              string   Branch new item branches fork from. Default "main".
  branch_prefix             string   Prefix for item branches. Default "wreckit/".
  merge_mode                string   "pr" (open a PR, default) or "direct" (merge locally).
  branch_cleanup             object   {"delete_local": bool, "delete_remote": bool} — which item branches 'complete' deletes.
  workers                    int      Worker pool size for 'wreckit run'. Default 1.
  drain_timeout_seconds      int      Grace period for in-flight phases on interrupt.
  runner_force_kill_after_ms int      Force-kill an uncooperative agent run after this long.
  critique_max_rounds        int      Max critique-reject retries per phase before surfacing as a warning.
  critique_phases            []string Phases that run a critique pass after the main agent call.
  section_priority           []string Section names in the order the scheduler should prefer them.
  agent                      object   Tagged union: {"kind": "process"|"claude_sdk"|"codex_sdk"|
                                       "amp_sdk"|"opencode_sdk"|"rlm"|"sprite", ...kind-specific fields}.
  sandbox                    object   {"enabled": bool} — whether the sprite backend's VM
                                       lifecycle is wired in.

Legacy migration
-----------------

Config files using the older {"mode": "process"|"sdk"} shape are migrated
at load time into the tagged-union agent form, preserving defaults.
Unknown keys are preserved and ignored, not rejected.

Example
-------

  {
    "base_branch": "main",
    "branch_prefix": "wreckit/",
    "merge_mode": "pr",
    "workers": 3,
    "critique_phases": ["plan", "implement"],
    "critique_max_rounds": 2,
    "agent": {
      "kind": "process",
      "command": "claude",
      "args": ["-p"]
    }
  }
`

const topicPhases = `Phase Pipeline
==============

Every item moves through exactly five phases, in order. research, plan
and complete each run one agent invocation, implement may run several
(up to max_iterations), and pr runs none:

  research   Explores the repository; writes research.md to the item's
             directory. No MCP tool call required.

  plan       Produces a PRD (problem statement, goals, non-goals,
             stories) via the save_prd MCP tool.

  implement  Implements every story on the item's branch, calling
             update_story_status as each one finishes. Commits but does
             not open a pull request.

  pr         Runs the configured pr_checks commands, then opens the pull
             request with gh, titled after the item and listing its PRD
             stories in the body (or merges directly, under merge_mode
             "direct"). No agent is invoked in this phase.

  complete   Runs once the PR has merged; summarizes what shipped via
             the complete MCP tool.

There is no script or gate phase type, no on-fail/goto graph, and no
parallel-with — the pipeline shape is fixed; only the prompt text per
phase is customizable (see 'wreckit docs variables').

Critique Loop
-------------

Phases listed in config's critique_phases run a second agent call after
the main one: a judge that accepts or rejects the phase's output. A
rejection restores the item to its pre-phase state and retries, up to
critique_max_rounds; exceeding that limit is treated as a warning, not a
hard failure — the item keeps the last attempt and moves on.

Retry and Error Propagation
----------------------------

A recoverable artifact error (e.g. a missing declared output) gets
exactly one automatic retry with the failure folded into the next
prompt as feedback. Network and rate-limit agent errors retry with
exponential backoff up to a limit. Any other error surfaces immediately
and moves the item to failed:<phase state> with last_error set; a later
'wreckit run' retries the phase from there. An interrupted phase keeps
its '-ing' state (last_error "Interrupted") and is resumed instead.
`

const topicVariables = `Template Variables
==================

Each phase's prompt template is plain text with {{VAR}} placeholders,
substituted by internal/prompt at render time. An unknown {{VAR}} name is
a template error: rendering fails before any agent is started.

  {{ITEM_ID}}                 The item's id.
  {{ITEM_TITLE}}               The item's title.
  {{ITEM_OVERVIEW}}            Free-form overview text (add/ideas --overview).
  {{REPO_ROOT}}                Absolute path to the project root.
  {{BRANCH}}                   The item's feature branch.
  {{BASE_BRANCH}}               The branch new work forks from (config base_branch).
  {{PRD_PROBLEM_STATEMENT}}     From the plan phase's PRD.
  {{PRD_GOALS}}                 PRD goals, one per line.
  {{PRD_STORIES}}               PRD stories with id, title, and status.
  {{ALLOWED_TOOLS}}             The phase's effective tool allowlist.
  {{MCP_HINTS}}                 Bound, but always to an empty string; no phase fills it in.
  {{RETRY}}                     Current retry number (implement's retry template only).
  {{FEEDBACK}}                  The prior attempt's failure detail (retry template only).
  {{ITEM_STATE}}                 The item's current state (critique template only).

Template Files
--------------

A phase's prompt comes from, in order of precedence:

  .wreckit/templates/<phase>.md             main prompt
  .wreckit/templates/<phase>.retry.md        retry prompt (implement only has a built-in default)
  .wreckit/templates/<phase>.critique.md     critique-round prompt

Any file not present on disk falls back to a built-in default for that
phase. 'wreckit init --ai' generates tailored main templates for all
five phases from an analysis of the project; the retry and critique
templates are not covered by --ai and keep the built-in defaults unless
you write them yourself.
`

const topicOrchestrator = `Execution Model
===============

'wreckit run' starts a worker pool (config.workers goroutines) that
repeatedly selects the next runnable item and phase until none remain.

Selection Policy
-----------------

Among runnable items, the scheduler prefers, in order:

  1. Items already mid-phase (an '-ing' state) from a prior interrupted run.
  2. Section priority — the order sections appear in section_priority;
     unlisted sections sort after every listed one.
  3. Lexicographic item id, as a final tiebreaker.

An item in 'in_pr' only becomes runnable again for the complete phase
once its pull request has actually merged (checked via 'gh pr view'),
since that transition is driven externally, not by wreckit.

Working Tree Serialization
----------------------------

implement and pr both touch the checked-out working tree, so only one
such phase runs at a time across the whole pool regardless of worker
count; research, plan, and complete can run concurrently with it.

Interruption
------------

SIGINT/SIGTERM moves the run from Running to Draining: no new items are
picked up and in-flight agent runs are cancelled at once; workers then
get up to drain_timeout_seconds to wind down before the run is
force-terminated. A second signal forces immediate termination. Either
way, any sandboxed VMs are destroyed and in-flight agent runs are
cancelled through the same registry 'wreckit run' registers them in.

Manual Stepping
----------------

'wreckit research|plan|implement|pr|complete <id>' runs exactly one
phase of one item outside the worker pool — useful for debugging a
single item without waiting on the scheduler.
`

const topicArtifacts = `Item Directory
==============

Each item lives at .wreckit/items/<id>/:

  item.json      The full Item record: state, branch, PR URL, PRD,
                 critique round counts, retry count, timestamps.
                 Written atomically (temp file + rename) on every mutate.
  research.md    Written by the research phase.
  timing.json    Start/end timestamp and retry number for every phase
                 invocation of this item — what 'wreckit learn' aggregates.
  logs/<phase>.log
                 Append-only structured log of that phase's agent events
                 (assistant text, tool calls, errors, the final
                 run_result) — every dispatch call appends here, across
                 every retry and critique round of that phase.

.wreckit/index.json holds the derived Summary projection (id,
title, state, branch, pr_url, section, updated_at) every 'wreckit list'
reads; it is rebuilt from a full directory scan if missing or stale.

There is no separate prompts/ directory: a phase's rendered prompt
text itself is not persisted to disk — only the structured results
(item.json, research.md, PRD, timing, and the phase's logs/ file)
survive a phase invocation.
`
