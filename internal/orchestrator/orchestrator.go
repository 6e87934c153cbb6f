// Package orchestrator runs the worker pool that drives every item through
// phaserunner concurrently: a deterministic selection policy, per-item
// locks, a capacity-1 working-tree semaphore for the phases that mutate
// the shared checkout, and an explicit Running/Draining/Terminated
// lifecycle wired to SIGINT/SIGTERM.
package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/mikehostetler/wreckit/internal/config"
	"github.com/mikehostetler/wreckit/internal/dispatch"
	"github.com/mikehostetler/wreckit/internal/gitlifecycle"
	"github.com/mikehostetler/wreckit/internal/item"
	"github.com/mikehostetler/wreckit/internal/logging"
	"github.com/mikehostetler/wreckit/internal/phaserunner"
	"github.com/mikehostetler/wreckit/internal/sandbox"
	"github.com/mikehostetler/wreckit/internal/statemachine"
	"github.com/mikehostetler/wreckit/internal/ux"
)

// RunState is the orchestrator's own process lifecycle, distinct from any
// single item's state machine.
type RunState string

const (
	StateRunning    RunState = "running"
	StateDraining   RunState = "draining"
	StateTerminated RunState = "terminated"
)

// workTreePhases are serialized against the single-capacity working-tree
// semaphore because they mutate the shared git working tree in place
// (phaserunner.itemWorkDir currently checks out each item's branch onto
// the same tree rather than a dedicated worktree per item).
var workTreePhases = map[string]bool{
	statemachine.PhaseImplement: true,
	statemachine.PhasePR:        true,
}

// Orchestrator schedules phase runs across a bounded worker pool, picking
// runnable items by the configured selection policy and reacting to
// SIGINT/SIGTERM by draining in-flight work before terminating.
type Orchestrator struct {
	Store       *item.Store
	PhaseRunner *phaserunner.Runner
	Config      *config.Configuration
	Git         *gitlifecycle.Lifecycle
	Sandbox     *sandbox.Manager

	mu     sync.Mutex
	state  RunState
	locked map[string]bool // item IDs currently owned by a worker
	log    hclog.Logger

	workTreeSem chan struct{}
}

func New(store *item.Store, pr *phaserunner.Runner, cfg *config.Configuration, git *gitlifecycle.Lifecycle, sb *sandbox.Manager) *Orchestrator {
	return &Orchestrator{
		Store:       store,
		PhaseRunner: pr,
		Config:      cfg,
		Git:         git,
		Sandbox:     sb,
		state:       StateRunning,
		locked:      make(map[string]bool),
		log:         logging.Root,
		workTreeSem: make(chan struct{}, 1),
	}
}

// Result summarizes one worker's attempt to run an item's next phase.
type Result struct {
	ItemID string
	Phase  string
	Outcome phaserunner.Outcome
	Err    error
}

// Run drives the worker pool until no runnable items remain or the
// context is cancelled. It installs its own signal handling so a
// SIGINT/SIGTERM moves the orchestrator to Draining (stop picking up new
// items and cancel in-flight phases through ctx) and a second signal
// forces Terminated immediately.
func (o *Orchestrator) Run(ctx context.Context) ([]Result, error) {
	// watchCtx is not cancelled by the first signal, so watchSignals can
	// still react to a second signal or the drain timeout; it ends when
	// Run returns.
	watchCtx, endWatch := context.WithCancel(ctx)
	defer endWatch()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	drainCtx, cancelDrain := context.WithCancel(context.Background())
	defer cancelDrain()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go o.watchSignals(watchCtx, sigCh, cancelDrain)

	workers := o.Config.Workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string)
	results := make(chan Result, workers*2)

	// A bare errgroup.Group (no WithContext) is used since a worker's own
	// item failures are reported via results, not by cancelling its
	// siblings; cancellation comes from ctx and drainCtx instead.
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			o.worker(ctx, drainCtx, jobs, results)
			return nil
		})
	}

	var collected []Result
	done := make(chan struct{})
	go func() {
		for r := range results {
			collected = append(collected, r)
		}
		close(done)
	}()

	o.dispatchLoop(ctx, jobs)
	close(jobs)
	g.Wait()
	close(results)
	<-done

	return collected, ctx.Err()
}

// RunItem drives one specific item from its current state toward terminal
//. A non-empty onlyPhase runs exactly that phase
// once instead; RunPhase's own precondition check rejects it with a
// StateViolation when the item isn't positioned for it.
func (o *Orchestrator) RunItem(ctx context.Context, id, onlyPhase string) ([]Result, error) {
	var results []Result

	if onlyPhase != "" {
		r := o.runPhaseLocked(ctx, id, onlyPhase)
		return append(results, r), r.Err
	}

	for {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		it, err := o.Store.Read(id)
		if err != nil {
			return results, err
		}
		phase, ok := o.nextPhaseFor(it)
		if !ok {
			return results, nil
		}
		r := o.runPhaseLocked(ctx, id, phase)
		results = append(results, r)
		if r.Err != nil {
			return results, r.Err
		}
	}
}

// runPhaseLocked runs one phase of one item with the same supervision the
// pool's workers apply: working-tree semaphore for implement/pr, registry
// entry for the interrupt handler, ux reporting.
func (o *Orchestrator) runPhaseLocked(ctx context.Context, id, phase string) Result {
	if workTreePhases[phase] {
		select {
		case o.workTreeSem <- struct{}{}:
			defer func() { <-o.workTreeSem }()
		case <-ctx.Done():
			return Result{ItemID: id, Phase: phase, Err: ctx.Err()}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	unregister := dispatch.Global().Register(id, cancel)
	defer unregister()
	defer cancel()

	ux.PhaseHeader(id, phase)
	start := time.Now()
	updated, outcome, err := o.PhaseRunner.RunPhase(runCtx, id, phase)
	if err != nil {
		ux.PhaseFail(id, phase, err.Error())
	} else if outcome == phaserunner.OutcomeRejectedCritique {
		round := 0
		if updated != nil {
			round = updated.CritiqueRounds[phase]
		}
		ux.CritiqueRejected(id, phase, round, o.Config.CritiqueMaxRounds)
	} else {
		ux.PhaseComplete(id, phase, time.Since(start))
	}
	return Result{ItemID: id, Phase: phase, Outcome: outcome, Err: err}
}

// watchSignals moves the orchestrator from Running to Draining on the
// first signal and forces Terminated (cancelling drainCtx, which backs
// every in-flight dispatch.Registry entry) on the second, or once
// drain_timeout_seconds elapses without the pool draining naturally.
func (o *Orchestrator) watchSignals(ctx context.Context, sigCh chan os.Signal, cancelDrain context.CancelFunc) {
	select {
	case <-ctx.Done():
		return
	case <-sigCh:
	}

	o.setState(StateDraining)
	ux.Draining(dispatch.Global().Active())

	timeout := time.Duration(o.Config.DrainTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-sigCh:
		o.forceTerminate(cancelDrain)
	case <-timer.C:
		o.forceTerminate(cancelDrain)
	case <-ctx.Done():
	}
}

func (o *Orchestrator) forceTerminate(cancelDrain context.CancelFunc) {
	o.setState(StateTerminated)
	ux.Interrupted()
	dispatch.Global().CancelAll()
	cancelDrain()
	if o.Sandbox != nil {
		killCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		o.Sandbox.DestroyAll(killCtx)
	}
}

func (o *Orchestrator) setState(s RunState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// dispatchLoop repeatedly selects the next runnable item and hands its id
// to a free worker, stopping once the pool is draining or nothing more
// is runnable. It re-lists the store each pass since workers mutate item
// state concurrently.
func (o *Orchestrator) dispatchLoop(ctx context.Context, jobs chan<- string) {
	for {
		if ctx.Err() != nil || o.State() != StateRunning {
			return
		}

		next, ok := o.selectNext()
		if !ok {
			// Nothing runnable right now; if nothing is in flight either,
			// the run is done. Otherwise a worker may soon finish and
			// unblock a dependent item, so poll briefly.
			if len(o.lockedIDs()) == 0 {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		o.lock(next)
		select {
		case jobs <- next:
		case <-ctx.Done():
			o.unlock(next)
			return
		}
	}
}

func (o *Orchestrator) lock(id string) {
	o.mu.Lock()
	o.locked[id] = true
	o.mu.Unlock()
}

func (o *Orchestrator) unlock(id string) {
	o.mu.Lock()
	delete(o.locked, id)
	o.mu.Unlock()
}

func (o *Orchestrator) isLocked(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.locked[id]
}

func (o *Orchestrator) lockedIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.locked))
	for id := range o.locked {
		ids = append(ids, id)
	}
	return ids
}

// selectNext picks the next item to schedule: among
// runnable items not already owned by another worker, prefer (a) items
// already in an "-ing" state (resuming interrupted work), then (b) lower
// section priority number, then (c) lexicographic id.
func (o *Orchestrator) selectNext() (string, bool) {
	summaries, err := o.Store.List(item.Filter{})
	if err != nil {
		o.log.Error("failed to list items for scheduling", "error", err)
		return "", false
	}

	type candidate struct {
		id           string
		resuming     bool
		sectionRank  int
		section      string
		phase        string
	}
	var candidates []candidate
	for _, s := range summaries {
		if o.isLocked(s.ID) {
			continue
		}
		it, err := o.Store.Read(s.ID)
		if err != nil {
			continue
		}
		phase, runnable := o.nextPhaseFor(it)
		if !runnable {
			continue
		}
		candidates = append(candidates, candidate{
			id:          it.ID,
			resuming:    isIngState(it.State),
			sectionRank: o.sectionRank(it.Section),
			section:     it.Section,
			phase:       phase,
		})
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.resuming != b.resuming {
			return a.resuming // resuming items sort first
		}
		if a.sectionRank != b.sectionRank {
			return a.sectionRank < b.sectionRank
		}
		if a.section != b.section {
			return a.section < b.section
		}
		return a.id < b.id
	})
	return candidates[0].id, true
}

// sectionRank returns section's index in config.SectionPriority (lower
// sorts first); sections absent from that list rank after every listed
// one.
func (o *Orchestrator) sectionRank(section string) int {
	for i, s := range o.Config.SectionPriority {
		if s == section {
			return i
		}
	}
	return len(o.Config.SectionPriority)
}

// nextPhaseFor wraps statemachine.NextPhase, resolving mergeReady via the
// git lifecycle's PR state check for items sitting in_pr. Failed items
// whose retry budget is spent are not runnable.
func (o *Orchestrator) nextPhaseFor(it *item.Item) (string, bool) {
	if _, failed := statemachine.FailedOrigin(it.State); failed && it.RetryCount >= o.Config.MaxIterations {
		return "", false
	}

	mergeReady := it.State == item.StateMerged
	prState := it.State
	if origin, ok := statemachine.FailedOrigin(it.State); ok {
		prState = origin
	}
	if prState == item.StateInPR && it.Branch != "" && o.Git != nil {
		merged, err := o.Git.PRMerged(context.Background(), it.Branch)
		if err == nil {
			mergeReady = merged
		}
	}
	return statemachine.NextPhase(it, mergeReady)
}

func isIngState(s item.State) bool {
	switch s {
	case item.StateResearching, item.StatePlanning, item.StateImplementing:
		return true
	default:
		return false
	}
}

// worker pulls item ids off jobs until it's closed, running each one's
// next phase to completion and reporting a Result. implement/pr phases
// acquire the working-tree semaphore first since they share the single
// checked-out working tree (itemWorkDir doesn't give each item its own
// worktree).
func (o *Orchestrator) worker(ctx, drainCtx context.Context, jobs <-chan string, results chan<- Result) {
	for id := range jobs {
		o.runOne(ctx, drainCtx, id, results)
		o.unlock(id)
	}
}

func (o *Orchestrator) runOne(ctx, drainCtx context.Context, id string, results chan<- Result) {
	it, err := o.Store.Read(id)
	if err != nil {
		results <- Result{ItemID: id, Err: err}
		return
	}
	phase, ok := o.nextPhaseFor(it)
	if !ok {
		return
	}

	runCtx := ctx
	if o.State() != StateRunning {
		runCtx = drainCtx
	}
	results <- o.runPhaseLocked(runCtx, id, phase)
}
