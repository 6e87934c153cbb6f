// Package phaserunner implements the five phase functions (research,
// plan, implement, pr, complete), each a function of (item, config,
// environment) returning the updated item and an outcome. A phase run
// stamps the item's "-ing" state, renders the phase prompt, dispatches
// the agent, verifies the expected artifacts, and persists the resulting
// transition, with an optional critique pass in between.
package phaserunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mikehostetler/wreckit/internal/config"
	"github.com/mikehostetler/wreckit/internal/dispatch"
	"github.com/mikehostetler/wreckit/internal/gitlifecycle"
	"github.com/mikehostetler/wreckit/internal/item"
	"github.com/mikehostetler/wreckit/internal/logging"
	"github.com/mikehostetler/wreckit/internal/mcpserver"
	"github.com/mikehostetler/wreckit/internal/prompt"
	"github.com/mikehostetler/wreckit/internal/skills"
	"github.com/mikehostetler/wreckit/internal/statemachine"
	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// Outcome classifies a phase function's result.
type Outcome string

const (
	OutcomeSucceeded        Outcome = "succeeded"
	OutcomeFailed           Outcome = "failed"
	OutcomeRejectedCritique Outcome = "rejected_by_critique"
)

// baselineAllowlist is each phase's fixed tool set, before skills
// narrowing.
var baselineAllowlist = map[string][]string{
	statemachine.PhaseResearch:  {"read", "glob", "grep", "list-dir"},
	statemachine.PhasePlan:      {"read", "write", "edit", "glob", "grep", "save_prd"},
	statemachine.PhaseImplement: {"read", "write", "edit", "glob", "grep", "bash", "update_story_status"},
	statemachine.PhasePR:        {"read", "glob", "grep", "bash"},
	statemachine.PhaseComplete:  {"read", "glob", "grep", "complete"},
}

// Templates supplies the rendered prompt body for a phase, and (for
// implement) the iteration-specific retry template.
type Templates interface {
	Main(phase string) (string, error)
	Retry(phase string) (string, error)
	Critique(phase string) (string, error)
}

// Runner composes prompt assembly, agent dispatch, MCP tool exposure, git
// lifecycle, and the critique loop into the five phase functions.
type Runner struct {
	Store     *item.Store
	Config    *config.Configuration
	Templates Templates
	Skills    *skills.Set
	RepoRoot  string
	Agent     dispatch.Runner
	Dry       bool
	Mock      bool

	// feedbackMu guards feedback, the per-item last-recoverable-error
	// message threaded into a retried phase's prompt.
	feedbackMu sync.Mutex
	feedback   map[string]string
}

func (r *Runner) setFeedback(itemID, msg string) {
	r.feedbackMu.Lock()
	defer r.feedbackMu.Unlock()
	if r.feedback == nil {
		r.feedback = make(map[string]string)
	}
	r.feedback[itemID] = msg
}

func (r *Runner) clearFeedback(itemID string) {
	r.feedbackMu.Lock()
	defer r.feedbackMu.Unlock()
	delete(r.feedback, itemID)
}

func (r *Runner) getFeedback(itemID string) string {
	r.feedbackMu.Lock()
	defer r.feedbackMu.Unlock()
	return r.feedback[itemID]
}

// phaseFunc is implemented by each of the five phase functions below.
// Parameter order matches the method-expression type of (*Runner).runXxx
// (receiver first) so phaseFuncs below can reference them directly.
type phaseFunc func(r *Runner, ctx context.Context, it *item.Item) (Outcome, error)

var phaseFuncs = map[string]phaseFunc{
	statemachine.PhaseResearch:  (*Runner).runResearch,
	statemachine.PhasePlan:      (*Runner).runPlan,
	statemachine.PhaseImplement: (*Runner).runImplement,
	statemachine.PhasePR:        (*Runner).runPR,
	statemachine.PhaseComplete:  (*Runner).runComplete,
}

// RunPhase executes one phase end to end against itemID: precondition
// check, state stamp, prompt assembly, dispatch, critique loop,
// post-processing, and final persistence.
func (r *Runner) RunPhase(ctx context.Context, itemID, phase string) (*item.Item, Outcome, error) {
	fn, ok := phaseFuncs[phase]
	if !ok {
		return nil, OutcomeFailed, wreckerr.New(wreckerr.KindUsage, "unknown phase "+phase)
	}

	it, err := r.Store.Read(itemID)
	if err != nil {
		return nil, OutcomeFailed, err
	}

	ingState, err := statemachine.Transition(it.State, statemachine.Event{Kind: statemachine.EventStartPhase, Phase: phase})
	if err != nil {
		return it, OutcomeFailed, err
	}
	_, wasFailed := statemachine.FailedOrigin(it.State)
	it, err = r.Store.Mutate(itemID, func(i *item.Item) {
		i.State = ingState
		if wasFailed {
			// Retrying out of a failed:<origin> fork clears the stored
			// error and bumps the retry counter.
			i.RetryCount++
			i.LastError = ""
		}
	})
	if err != nil {
		return it, OutcomeFailed, err
	}

	log := logging.ForPhase(itemID, phase)
	timing, err := LoadTiming(r.Store.Dir(itemID))
	if err != nil {
		return it, OutcomeFailed, wreckerr.Wrap(wreckerr.KindArtifact, "failed to load timing", err)
	}
	timing.AddStart(phase, it.RetryCount)
	defer func() {
		timing.AddEnd(phase)
		if err := timing.Flush(); err != nil {
			log.Warn("failed to flush timing", "error", err)
		}
	}()

	outcome, runErr := r.runWithCritique(ctx, fn, it, phase)

	switch outcome {
	case OutcomeSucceeded:
		next, err := statemachine.Transition(it.State, statemachine.Event{Kind: statemachine.EventPhaseSucceeded, Phase: phase})
		if err != nil {
			return it, OutcomeFailed, err
		}
		it, err = r.Store.Mutate(it.ID, func(i *item.Item) { i.State = next; i.LastError = "" })
		return it, OutcomeSucceeded, err

	case OutcomeRejectedCritique:
		// Exceeding critique_max_rounds returns the last artifact and
		// surfaces a warning, never a hard failure; the phase is treated
		// as succeeded for state purposes.
		log.Warn("critique rejected on final round; advancing with warning")
		next, err := statemachine.Transition(it.State, statemachine.Event{Kind: statemachine.EventPhaseSucceeded, Phase: phase})
		if err != nil {
			return it, OutcomeFailed, err
		}
		it, err = r.Store.Mutate(it.ID, func(i *item.Item) {
			i.State = next
			i.LastError = "warning: critique rejected after max rounds"
		})
		return it, OutcomeRejectedCritique, err

	default:
		if errors.Is(runErr, context.Canceled) || ctx.Err() != nil {
			// Cancellation leaves the "-ing" state in place so the next
			// startup resumes the phase.
			it, mutErr := r.Store.Mutate(it.ID, func(i *item.Item) { i.LastError = "Interrupted" })
			if mutErr != nil {
				return it, OutcomeFailed, mutErr
			}
			return it, OutcomeFailed, wreckerr.Wrap(wreckerr.KindInterrupted, "phase "+phase+" interrupted", runErr)
		}

		failedState, smErr := statemachine.Transition(it.State, statemachine.Event{Kind: statemachine.EventPhaseFailed, Phase: phase})
		if smErr != nil {
			failedState = item.Failed(it.State)
		}
		msg := ""
		if runErr != nil {
			msg = runErr.Error()
		}
		it, mutErr := r.Store.Mutate(it.ID, func(i *item.Item) {
			i.State = failedState
			i.LastError = msg
		})
		if mutErr != nil {
			return it, OutcomeFailed, mutErr
		}
		if runErr == nil {
			runErr = wreckerr.New(wreckerr.KindState, "phase "+phase+" failed")
		}
		return it, OutcomeFailed, runErr
	}
}

// runWithCritique wraps fn with the critique loop: after a
// phase succeeds, if critique is enabled, a second agent call judges the
// result; rejection restores pre-phase state and re-runs up to
// critique_max_rounds times.
func (r *Runner) runWithCritique(ctx context.Context, fn phaseFunc, it *item.Item, phase string) (Outcome, error) {
	if !r.Config.CritiquePhases[phase] {
		return r.invokePhase(ctx, fn, it, phase)
	}

	preState := it.State
	for round := 0; ; round++ {
		outcome, err := r.invokePhase(ctx, fn, it, phase)
		if outcome != OutcomeSucceeded {
			return outcome, err
		}

		accepted, feedback, critiqueErr := r.runCritique(ctx, it, phase)
		if critiqueErr != nil {
			return OutcomeFailed, critiqueErr
		}
		it, err = r.Store.Mutate(it.ID, func(i *item.Item) {
			if i.CritiqueRounds == nil {
				i.CritiqueRounds = make(map[string]int)
			}
			i.CritiqueRounds[phase]++
		})
		if err != nil {
			return OutcomeFailed, err
		}
		if accepted {
			return OutcomeSucceeded, nil
		}

		if round+1 >= r.Config.CritiqueMaxRounds {
			return OutcomeRejectedCritique, nil
		}

		restored, err := statemachine.Transition(it.State, statemachine.Event{Kind: statemachine.EventCritiqueRejected, Phase: phase})
		if err != nil {
			restored = preState
		}
		it, err = r.Store.Mutate(it.ID, func(i *item.Item) {
			i.State = restored
			i.RetryCount++
		})
		if err != nil {
			return OutcomeFailed, err
		}
		r.appendCritiqueFeedback(it, phase, round+1, feedback)
		r.setFeedback(it.ID, feedback)

		// Re-running the phase starts at step 1 again: stamp the "-ing"
		// state before dispatching.
		ing, serr := statemachine.Transition(it.State, statemachine.Event{Kind: statemachine.EventStartPhase, Phase: phase})
		if serr != nil {
			return OutcomeFailed, serr
		}
		it, err = r.Store.Mutate(it.ID, func(i *item.Item) { i.State = ing })
		if err != nil {
			return OutcomeFailed, err
		}
	}
}

// phaseFeedbackFile is where rejected-critique feedback lands for each
// phase's primary artifact.
var phaseFeedbackFile = map[string]string{
	statemachine.PhaseResearch: "research.md",
	statemachine.PhasePlan:     "plan.md",
	statemachine.PhasePR:       "pr.md",
}

func (r *Runner) appendCritiqueFeedback(it *item.Item, phase string, round int, feedback string) {
	if feedback == "" {
		return
	}
	name := phaseFeedbackFile[phase]
	if name == "" {
		name = "critique.md"
	}
	path := filepath.Join(r.Store.Dir(it.ID), name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logging.ForPhase(it.ID, phase).Warn("failed to record critique feedback", "error", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "\n\n## Critique feedback (round %d)\n\n%s\n", round, feedback)
}

// networkRetryLimit bounds the exponential-backoff retry for
// AgentError:network / AgentError:rate_limit. No config knob
// names this limit, so it is fixed here rather than invented as a new
// top-level config field.
const networkRetryLimit = 5

// invokePhase runs fn once, then applies the error propagation policy
// for recoverable errors: an ArtifactError gets exactly one immediate
// retry with its message threaded into the retry prompt as FEEDBACK;
// AgentError:network and AgentError:rate_limit get exponential-backoff
// retries up to networkRetryLimit. Every other error (including a second
// ArtifactError) is returned as-is for RunPhase to revert state on.
func (r *Runner) invokePhase(ctx context.Context, fn phaseFunc, it *item.Item, phase string) (Outcome, error) {
	artifactRetried := false
	networkAttempts := 0
	backoff := time.Second
	log := logging.ForPhase(it.ID, phase)

	for {
		outcome, err := fn(r, ctx, it)
		if outcome != OutcomeFailed || err == nil {
			r.clearFeedback(it.ID)
			return outcome, err
		}
		if !wreckerr.Recoverable(err) {
			r.clearFeedback(it.ID)
			return outcome, err
		}

		werr, _ := wreckerr.As(err)
		if werr != nil && werr.Kind == wreckerr.KindArtifact {
			if artifactRetried {
				r.clearFeedback(it.ID)
				return outcome, err
			}
			artifactRetried = true
			r.setFeedback(it.ID, err.Error())
			log.Warn("retrying phase after recoverable artifact error", "error", err)
			continue
		}

		networkAttempts++
		if networkAttempts > networkRetryLimit {
			r.clearFeedback(it.ID)
			return outcome, err
		}
		log.Warn("retrying phase after recoverable agent error", "attempt", networkAttempts, "error", err)
		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (r *Runner) runCritique(ctx context.Context, it *item.Item, phase string) (accepted bool, feedback string, err error) {
	tmpl, err := r.Templates.Critique(phase)
	if err != nil {
		return false, "", err
	}
	vars, err := r.buildVars(it, phase, 0)
	if err != nil {
		return false, "", err
	}
	rendered, err := prompt.Render(tmpl, vars)
	if err != nil {
		return false, "", err
	}
	result, err := r.dispatch(ctx, it, phase, rendered, nil)
	if err != nil {
		return false, "", err
	}
	return result.Success, result.Message, nil
}

// buildVars assembles the template variable table. The allowed-tool
// summary uses the same skills-narrowed set dispatch() enforces, so the
// prompt never advertises a tool the run would deny.
func (r *Runner) buildVars(it *item.Item, phase string, retry int) (prompt.Vars, error) {
	allowed, err := r.effectiveAllowlist(phase)
	if err != nil {
		return nil, err
	}
	return prompt.Build(prompt.BuildContext{
		Item:         it,
		PRD:          it.PRD,
		RepoRoot:     r.RepoRoot,
		BaseBranch:   r.Config.BaseBranch,
		Branch:       it.Branch,
		AgentKind:    string(r.Config.Agent.Kind),
		Retry:        retry,
		AllowedTools: allowed,
		Now:          time.Now(),
		Feedback:     r.getFeedback(it.ID),
	}), nil
}

func (r *Runner) effectiveAllowlist(phase string) ([]string, error) {
	return r.Skills.EffectiveAllowlist(phase, baselineAllowlist[phase])
}

// dispatch renders no further; it is the single call site funneling every
// phase's agent invocation through r.Agent (a dispatch.Runner) with
// consistent options.
func (r *Runner) dispatch(ctx context.Context, it *item.Item, phase, prompt string, mcpHandles []dispatch.MCPServerHandle) (dispatch.AgentResult, error) {
	allowlist, err := r.effectiveAllowlist(phase)
	if err != nil {
		return dispatch.AgentResult{}, err
	}

	logFile, err := r.openPhaseLog(it.ID, phase)
	if err != nil {
		return dispatch.AgentResult{}, err
	}
	defer logFile.Close()
	fileLog := logging.NewFileLogger(logFile, it.ID, phase)

	opts := dispatch.Options{
		ToolAllowlist:  allowlist,
		MCPServers:     mcpHandles,
		Callbacks:      dispatch.Callbacks{OnEvent: func(ev dispatch.Event) { logAgentEvent(fileLog, ev) }},
		DryRun:         r.Dry,
		Mock:           r.Mock,
		Timeout:        time.Duration(r.Config.TimeoutSeconds) * time.Second,
		ForceKillAfter: time.Duration(r.Config.RunnerForceKillAfterMS) * time.Millisecond,
		ItemID:         it.ID,
	}
	return r.Agent.Run(ctx, r.Config.Agent, r.itemWorkDir(it), prompt, opts)
}

// openPhaseLog opens (creating if needed) the append-only agent event log
// at items/<id>/logs/<phase>.log.
func (r *Runner) openPhaseLog(itemID, phase string) (*os.File, error) {
	dir := filepath.Join(r.Store.Dir(itemID), "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wreckerr.Wrap(wreckerr.KindArtifact, "failed to create phase log directory", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, phase+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, wreckerr.Wrap(wreckerr.KindArtifact, "failed to open phase log file", err)
	}
	return f, nil
}

// logAgentEvent appends one streamed dispatch.Event to a phase's log file
// as a structured hclog line.
func logAgentEvent(log interface {
	Info(string, ...interface{})
	Warn(string, ...interface{})
	Error(string, ...interface{})
}, ev dispatch.Event) {
	switch ev.Kind {
	case dispatch.EventAssistantText, dispatch.EventThought:
		log.Info(string(ev.Kind), "text", ev.Text)
	case dispatch.EventToolStarted:
		log.Info("tool_started", "tool", ev.ToolName, "input", ev.ToolInput)
	case dispatch.EventToolResult:
		log.Info("tool_result", "tool", ev.ToolName, "status", ev.ToolStatus, "summary", ev.ToolOutputSummary)
	case dispatch.EventError:
		log.Error("agent_error", "message", ev.ErrMessage, "classification", ev.ErrClassification)
	case dispatch.EventRunResult:
		log.Info("run_result", "success", ev.Result.Success, "classification", ev.Result.Classification)
	default:
		log.Warn("unknown_event", "kind", ev.Kind)
	}
}

// itemWorkDir is the directory the agent runs in. Every phase shares the
// one repository checkout; implement/pr serialize on the orchestrator's
// working-tree semaphore instead of getting per-item worktrees.
func (r *Runner) itemWorkDir(it *item.Item) string {
	return r.RepoRoot
}

// startMCPServer builds and serves the wreckit MCP tool surface for one
// phase invocation, exposing
// only the tools that phase's Hooks populate. The returned cancel stops
// the server once the phase's dispatch call returns; concrete backend
// adapters are responsible for actually connecting an agent session to
// the handle's transport.
func (r *Runner) startMCPServer(ctx context.Context, it *item.Item, phase string) (dispatch.MCPServerHandle, context.CancelFunc) {
	hooks := r.hooksFor(it, phase)
	srv := mcpserver.New("wreckit", "0.1.0", hooks)
	serveCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := mcpserver.ServeStdio(serveCtx, srv); err != nil {
			logging.ForPhase(it.ID, phase).Warn("mcp server exited", "error", err)
		}
	}()
	return dispatch.MCPServerHandle{Name: "wreckit", Transport: "stdio"}, cancel
}

// hooksFor binds the MCP tool surface to this item's store, narrowed to
// the tools a given phase is allowed to call.
func (r *Runner) hooksFor(it *item.Item, phase string) mcpserver.Hooks {
	switch phase {
	case statemachine.PhasePlan:
		return mcpserver.Hooks{
			SavePRD: func(ctx context.Context, prd item.PRD) error {
				_, err := r.Store.Mutate(it.ID, func(i *item.Item) { i.PRD = &prd })
				return err
			},
		}
	case statemachine.PhaseImplement:
		return mcpserver.Hooks{
			UpdateStoryStatus: func(ctx context.Context, storyID, status string) error {
				_, err := r.Store.Mutate(it.ID, func(i *item.Item) {
					if i.PRD == nil {
						return
					}
					for idx := range i.PRD.Stories {
						if i.PRD.Stories[idx].StoryID == storyID {
							i.PRD.Stories[idx].Status = status
						}
					}
				})
				return err
			},
		}
	case statemachine.PhaseComplete:
		return mcpserver.Hooks{
			// complete(summary) fails if any story is not done; it
			// re-reads the item rather than trusting the
			// closure's snapshot since plan/implement may have mutated it
			// since this phase started.
			Complete: func(ctx context.Context, summary string) error {
				cur, err := r.Store.Read(it.ID)
				if err != nil {
					return err
				}
				if cur.PRD != nil {
					if err := statemachine.ValidateImplemented(cur.PRD.Stories); err != nil {
						return err
					}
				}
				logging.ForPhase(it.ID, phase).Info("complete acknowledged", "summary", summary)
				return nil
			},
		}
	default:
		return mcpserver.Hooks{}
	}
}

// runResearch implements the research phase.
func (r *Runner) runResearch(ctx context.Context, it *item.Item) (Outcome, error) {
	tmpl, err := r.Templates.Main(statemachine.PhaseResearch)
	if err != nil {
		return OutcomeFailed, err
	}
	vars, err := r.buildVars(it, statemachine.PhaseResearch, it.RetryCount)
	if err != nil {
		return OutcomeFailed, err
	}
	rendered, err := prompt.Render(tmpl, vars)
	if err != nil {
		return OutcomeFailed, err
	}
	result, err := r.dispatch(ctx, it, statemachine.PhaseResearch, rendered, nil)
	if err != nil {
		return OutcomeFailed, err
	}
	if !result.Success {
		return OutcomeFailed, agentFailure(result)
	}

	notePath := filepath.Join(r.Store.Dir(it.ID), "research.md")
	if r.Mock {
		if info, err := os.Stat(notePath); err != nil || info.Size() == 0 {
			if werr := os.WriteFile(notePath, []byte("# Research\n\nMock agent run; no findings recorded.\n"), 0o644); werr != nil {
				return OutcomeFailed, werr
			}
		}
	}
	info, err := os.Stat(notePath)
	if err != nil || info.Size() == 0 {
		return OutcomeFailed, wreckerr.WithSub(wreckerr.KindArtifact, wreckerr.SubMissingArtifact,
			"research note file is missing or empty", err)
	}
	return OutcomeSucceeded, nil
}

// runPlan implements the plan phase. The PRD itself is expected to have
// been attached to it.PRD via the save_prd MCP hook during dispatch; see
// hooksFor for how the hook closure reaches the store.
func (r *Runner) runPlan(ctx context.Context, it *item.Item) (Outcome, error) {
	tmpl, err := r.Templates.Main(statemachine.PhasePlan)
	if err != nil {
		return OutcomeFailed, err
	}
	vars, err := r.buildVars(it, statemachine.PhasePlan, it.RetryCount)
	if err != nil {
		return OutcomeFailed, err
	}
	rendered, err := prompt.Render(tmpl, vars)
	if err != nil {
		return OutcomeFailed, err
	}

	handle, stopMCP := r.startMCPServer(ctx, it, statemachine.PhasePlan)
	result, err := r.dispatch(ctx, it, statemachine.PhasePlan, rendered, []dispatch.MCPServerHandle{handle})
	stopMCP()
	if err != nil {
		return OutcomeFailed, err
	}
	if !result.Success {
		return OutcomeFailed, agentFailure(result)
	}

	refreshed, err := r.Store.Read(it.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	*it = *refreshed
	if r.Mock && (it.PRD == nil || len(it.PRD.Stories) == 0) {
		// The mock backend never calls save_prd; stand in for it.
		refreshed, err = r.Store.Mutate(it.ID, func(i *item.Item) {
			i.PRD = &item.PRD{
				ProblemStatement: it.Overview,
				Goals:            []string{it.Title},
				Stories:          []item.Story{{StoryID: "story-001", Title: it.Title, Status: item.StoryPending}},
			}
		})
		if err != nil {
			return OutcomeFailed, err
		}
		*it = *refreshed
	}
	if it.PRD == nil || len(it.PRD.Stories) == 0 {
		return OutcomeFailed, wreckerr.WithSub(wreckerr.KindArtifact, wreckerr.SubMalformedPRD,
			"plan phase did not save a prd with at least one story", nil)
	}
	return OutcomeSucceeded, statemachine.ValidatePlanned(it.PRD.Stories)
}

// runImplement implements the implement phase: branch setup, agent
// invocation (with a retry re-prompt for whatever stories remain),
// verification, commit, and push.
func (r *Runner) runImplement(ctx context.Context, it *item.Item) (Outcome, error) {
	branch := r.Config.BranchPrefix + normalizeBranchComponent(it.ID)
	git := gitlifecycle.New(r.RepoRoot)
	if err := git.EnsureBranch(ctx, branch, r.Config.BaseBranch); err != nil {
		return OutcomeFailed, err
	}
	it, err := r.Store.Mutate(it.ID, func(i *item.Item) { i.Branch = branch })
	if err != nil {
		return OutcomeFailed, err
	}

	tmpl, err := r.Templates.Main(statemachine.PhaseImplement)
	if err != nil {
		return OutcomeFailed, err
	}

	for attempt := 0; attempt < r.Config.MaxIterations; attempt++ {
		vars, err := r.buildVars(it, statemachine.PhaseImplement, attempt)
		if err != nil {
			return OutcomeFailed, err
		}
		var rendered string
		if attempt == 0 {
			rendered, err = prompt.Render(tmpl, vars)
		} else {
			retryTmpl, terr := r.Templates.Retry(statemachine.PhaseImplement)
			if terr != nil {
				return OutcomeFailed, terr
			}
			rendered, err = prompt.Render(retryTmpl, vars)
		}
		if err != nil {
			return OutcomeFailed, err
		}

		handle, stopMCP := r.startMCPServer(ctx, it, statemachine.PhaseImplement)
		result, err := r.dispatch(ctx, it, statemachine.PhaseImplement, rendered, []dispatch.MCPServerHandle{handle})
		stopMCP()
		if err != nil {
			return OutcomeFailed, err
		}
		if !result.Success {
			return OutcomeFailed, agentFailure(result)
		}

		refreshed, err := r.Store.Read(it.ID)
		if err != nil {
			return OutcomeFailed, err
		}
		*it = *refreshed

		if r.Mock {
			// The mock backend neither edits files nor calls
			// update_story_status; simulate a completed iteration so the
			// commit and story checks below have something to verify.
			refreshed, err = r.Store.Mutate(it.ID, func(i *item.Item) {
				if i.PRD == nil {
					return
				}
				for idx := range i.PRD.Stories {
					i.PRD.Stories[idx].Status = item.StoryDone
				}
			})
			if err != nil {
				return OutcomeFailed, err
			}
			*it = *refreshed
			notePath := filepath.Join(r.Store.Dir(it.ID), "implementation.md")
			if werr := os.WriteFile(notePath, []byte("Mock agent run; stories marked done.\n"), 0o644); werr != nil {
				return OutcomeFailed, werr
			}
		}

		var stories []item.Story
		if it.PRD != nil {
			stories = it.PRD.Stories
		}
		verr := statemachine.ValidateImplemented(stories)
		if verr == nil {
			break
		}
		if attempt == r.Config.MaxIterations-1 {
			// Exhausting max_iterations without every story done is an
			// unconditional failure, even if commits landed.
			return OutcomeFailed, wreckerr.WithSub(wreckerr.KindArtifact, wreckerr.SubMissingArtifact,
				"max_iterations reached without all stories done", verr)
		}
	}

	// The agent may have committed as it went or left everything
	// unstaged; either way the tree must differ from base_branch.
	differs, err := git.DiffersFrom(ctx, r.Config.BaseBranch)
	if err != nil {
		return OutcomeFailed, err
	}
	if !differs {
		return OutcomeFailed, wreckerr.WithSub(wreckerr.KindArtifact, wreckerr.SubMissingArtifact,
			"implement phase produced no changes relative to "+r.Config.BaseBranch, nil)
	}

	message := fmt.Sprintf("%s\n\n%s", it.Title, storiesSummary(it.PRD))
	if err := git.CommitAll(ctx, message); err != nil {
		return OutcomeFailed, err
	}
	if err := git.PushBranch(ctx, branch); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeSucceeded, nil
}

// runPR implements the pr phase: local pr_checks, then either opening a
// PR or a policy-gated direct merge.
func (r *Runner) runPR(ctx context.Context, it *item.Item) (Outcome, error) {
	git := gitlifecycle.New(r.RepoRoot)

	for _, check := range r.Config.PRChecks {
		if err := runCheck(ctx, r.RepoRoot, check); err != nil {
			return OutcomeFailed, wreckerr.Wrap(wreckerr.KindGit, "pr check failed: "+check, err)
		}
	}

	if r.Config.MergeMode == config.MergeDirect {
		// Direct merge never falls back to opening a PR: a remote outside
		// allowed_remote_patterns (or a missing allow_unsafe_direct_merge)
		// is a hard denial.
		if !r.Config.AllowUnsafeDirectMerge || !remoteMatchesAllowed(ctx, r.RepoRoot, r.Config.AllowedRemotePatterns) {
			return OutcomeFailed, wreckerr.WithSub(wreckerr.KindGit, wreckerr.SubDirectMergeDenied,
				"origin remote does not satisfy the direct-merge policy", nil)
		}
		if err := git.DirectMerge(ctx, it.Branch, r.Config.BaseBranch, true); err != nil {
			return OutcomeFailed, err
		}
		_, err := r.Store.Mutate(it.ID, func(i *item.Item) {})
		return OutcomeSucceeded, err
	}

	title := it.Title
	body := storiesSummary(it.PRD)
	pr, err := git.OpenPR(ctx, it.Branch, r.Config.BaseBranch, title, body)
	if err != nil {
		return OutcomeFailed, err
	}
	_, err = r.Store.Mutate(it.ID, func(i *item.Item) {
		i.PRURL = pr.URL
		i.PRNumber = pr.Number
	})
	return OutcomeSucceeded, err
}

// runComplete implements the complete phase: an agent session verifies the
// PR merged (or was directly merged) and calls the complete(summary) MCP
// tool, which itself rejects the call if any story is not done; cleanup
// then runs per branch_cleanup policy.
func (r *Runner) runComplete(ctx context.Context, it *item.Item) (Outcome, error) {
	if it.State != item.StateInPR && it.State != item.StateMerged {
		return OutcomeFailed, wreckerr.WithSub(wreckerr.KindState, "",
			"complete requires the item to be in_pr or merged", nil)
	}
	if it.PRD != nil {
		if err := statemachine.ValidateImplemented(it.PRD.Stories); err != nil {
			return OutcomeFailed, err
		}
	}

	tmpl, err := r.Templates.Main(statemachine.PhaseComplete)
	if err != nil {
		return OutcomeFailed, err
	}
	vars, err := r.buildVars(it, statemachine.PhaseComplete, it.RetryCount)
	if err != nil {
		return OutcomeFailed, err
	}
	rendered, err := prompt.Render(tmpl, vars)
	if err != nil {
		return OutcomeFailed, err
	}

	handle, stopMCP := r.startMCPServer(ctx, it, statemachine.PhaseComplete)
	result, err := r.dispatch(ctx, it, statemachine.PhaseComplete, rendered, []dispatch.MCPServerHandle{handle})
	stopMCP()
	if err != nil {
		return OutcomeFailed, err
	}
	if !result.Success {
		return OutcomeFailed, agentFailure(result)
	}

	git := gitlifecycle.New(r.RepoRoot)
	if r.Config.BranchCleanup.DeleteLocal || r.Config.BranchCleanup.DeleteRemote {
		if err := git.CleanupBranch(ctx, it.Branch, r.Config.BranchCleanup.DeleteRemote); err != nil {
			logging.ForPhase(it.ID, statemachine.PhaseComplete).Warn("branch cleanup failed", "error", err)
		}
	}
	return OutcomeSucceeded, nil
}

func agentFailure(result dispatch.AgentResult) error {
	if result.PolicyViolated {
		return wreckerr.WithSub(wreckerr.KindAgent, wreckerr.SubPolicyViolation, result.Message, nil)
	}
	sub := wreckerr.SubOther
	switch result.Classification {
	case dispatch.ClassAuth:
		sub = wreckerr.SubAuth
	case dispatch.ClassRateLimit:
		sub = wreckerr.SubRateLimit
	case dispatch.ClassContextWindow:
		sub = wreckerr.SubContextWindow
	case dispatch.ClassNetwork:
		sub = wreckerr.SubNetwork
	case dispatch.ClassTimeout:
		sub = wreckerr.SubTimeout
	}
	return wreckerr.WithSub(wreckerr.KindAgent, sub, result.Message, nil)
}

func storiesSummary(prd *item.PRD) string {
	if prd == nil {
		return ""
	}
	s := ""
	for _, story := range prd.Stories {
		s += fmt.Sprintf("- [%s] %s (%s)\n", story.StoryID, story.Title, story.Status)
	}
	return s
}

// runCheck runs one configured pr_checks entry as a shell command against
// repoRoot, capturing combined output for the failure message.
func runCheck(ctx context.Context, repoRoot, check string) error {
	cmd := exec.CommandContext(ctx, "bash", "-c", check)
	cmd.Dir = repoRoot
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s", strings.TrimSpace(out.String()))
	}
	return nil
}

// remoteMatchesAllowed reports whether origin's URL matches one of
// allowed_remote_patterns, the guard that must pass before direct merge
// is permitted even when allow_unsafe_direct_merge is set.
func remoteMatchesAllowed(ctx context.Context, repoRoot string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	cmd := exec.CommandContext(ctx, "git", "remote", "get-url", "origin")
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	remote := strings.TrimSpace(string(out))
	for _, p := range patterns {
		if matched, _ := filepath.Match(p, remote); matched {
			return true
		}
	}
	return false
}

func normalizeBranchComponent(id string) string {
	out := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c == '/' {
			out = append(out, '-')
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
