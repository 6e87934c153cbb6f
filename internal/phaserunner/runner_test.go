package phaserunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mikehostetler/wreckit/internal/config"
	"github.com/mikehostetler/wreckit/internal/dispatch"
	"github.com/mikehostetler/wreckit/internal/item"
	"github.com/mikehostetler/wreckit/internal/skills"
	"github.com/mikehostetler/wreckit/internal/statemachine"
	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// fixedTemplates satisfies Templates without touching disk.
type fixedTemplates struct{}

func (fixedTemplates) Main(phase string) (string, error)     { return "run {{ITEM_ID}}", nil }
func (fixedTemplates) Retry(phase string) (string, error)    { return "retry {{ITEM_ID}} {{FEEDBACK}}", nil }
func (fixedTemplates) Critique(phase string) (string, error) { return "judge {{ITEM_ID}}", nil }

// fakeAgent satisfies dispatch.Runner, invoking a per-call hook so tests
// can simulate artifact writes and critique verdicts.
type fakeAgent struct {
	calls int
	run   func(call int) (dispatch.AgentResult, error)
}

func (f *fakeAgent) Run(ctx context.Context, cfg *dispatch.AgentConfig, cwd, prompt string, opts dispatch.Options) (dispatch.AgentResult, error) {
	f.calls++
	return f.run(f.calls)
}

func newTestRunner(t *testing.T, agent dispatch.Runner, critiquePhases map[string]bool) (*Runner, *item.Store) {
	t.Helper()
	store := item.New(t.TempDir())
	cfg := &config.Configuration{
		BaseBranch:        "main",
		BranchPrefix:      "wreckit/",
		MergeMode:         config.MergePR,
		Agent:             &dispatch.AgentConfig{Kind: dispatch.BackendProcess, Process: &dispatch.ProcessParams{Command: "claude"}},
		MaxIterations:     3,
		TimeoutSeconds:    30,
		CritiqueMaxRounds: 2,
		CritiquePhases:    critiquePhases,
		Workers:           1,
	}
	return &Runner{
		Store:     store,
		Config:    cfg,
		Templates: fixedTemplates{},
		Skills:    &skills.Set{},
		RepoRoot:  t.TempDir(),
		Agent:     agent,
	}, store
}

func writeResearchNote(t *testing.T, store *item.Store, id string) {
	t.Helper()
	path := filepath.Join(store.Dir(id), "research.md")
	if err := os.WriteFile(path, []byte("# findings\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunPhase_ResearchSucceeds(t *testing.T) {
	var store *item.Store
	var id string
	agent := &fakeAgent{run: func(int) (dispatch.AgentResult, error) {
		writeResearchNote(t, store, id)
		return dispatch.AgentResult{Success: true}, nil
	}}
	r, s := newTestRunner(t, agent, nil)
	store = s

	var err error
	id, err = store.Create("features", "rate limiter", "")
	if err != nil {
		t.Fatal(err)
	}

	it, outcome, err := r.RunPhase(context.Background(), id, statemachine.PhaseResearch)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeSucceeded {
		t.Fatalf("outcome = %s", outcome)
	}
	if it.State != item.StateResearched {
		t.Fatalf("state = %s", it.State)
	}
	if it.LastError != "" {
		t.Fatalf("last_error = %q", it.LastError)
	}
}

func TestRunPhase_ResearchMissingArtifactRetriesOnceThenFails(t *testing.T) {
	agent := &fakeAgent{run: func(int) (dispatch.AgentResult, error) {
		return dispatch.AgentResult{Success: true}, nil // never writes research.md
	}}
	r, store := newTestRunner(t, agent, nil)

	id, err := store.Create("features", "no note", "")
	if err != nil {
		t.Fatal(err)
	}

	it, outcome, err := r.RunPhase(context.Background(), id, statemachine.PhaseResearch)
	if err == nil {
		t.Fatal("expected missing-artifact failure")
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %s", outcome)
	}
	// One automatic retry for the recoverable artifact error, then fail.
	if agent.calls != 2 {
		t.Fatalf("agent calls = %d, want 2", agent.calls)
	}
	if it.State != item.Failed(item.StateResearching) {
		t.Fatalf("state = %s", it.State)
	}
	if it.LastError == "" {
		t.Fatal("last_error should be set")
	}
}

func TestRunPhase_RejectsWrongState(t *testing.T) {
	agent := &fakeAgent{run: func(int) (dispatch.AgentResult, error) {
		t.Fatal("agent must not be invoked when the state machine rejects entry")
		return dispatch.AgentResult{}, nil
	}}
	r, store := newTestRunner(t, agent, nil)

	id, err := store.Create("features", "fresh idea", "")
	if err != nil {
		t.Fatal(err)
	}

	_, outcome, err := r.RunPhase(context.Background(), id, statemachine.PhasePlan)
	if err == nil || outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, err = %v", outcome, err)
	}
	werr, ok := wreckerr.As(err)
	if !ok || werr.Kind != wreckerr.KindState {
		t.Fatalf("got %v", err)
	}
}

func TestRunPhase_PlanFailsWithoutPRD(t *testing.T) {
	agent := &fakeAgent{run: func(int) (dispatch.AgentResult, error) {
		return dispatch.AgentResult{Success: true}, nil // never calls save_prd
	}}
	r, store := newTestRunner(t, agent, nil)

	id, err := store.Create("features", "planless", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Mutate(id, func(i *item.Item) { i.State = item.StateResearched }); err != nil {
		t.Fatal(err)
	}

	it, outcome, err := r.RunPhase(context.Background(), id, statemachine.PhasePlan)
	if err == nil || outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, err = %v", outcome, err)
	}
	if it.State != item.Failed(item.StatePlanning) {
		t.Fatalf("state = %s", it.State)
	}
}

func TestRunPhase_PlanSucceedsWhenPRDSaved(t *testing.T) {
	var store *item.Store
	var id string
	agent := &fakeAgent{run: func(int) (dispatch.AgentResult, error) {
		// Simulates the agent calling save_prd mid-run.
		_, err := store.Mutate(id, func(i *item.Item) {
			i.PRD = &item.PRD{
				ProblemStatement: "p",
				Stories:          []item.Story{{StoryID: "story-001", Title: "s", Status: item.StoryPending}},
			}
		})
		return dispatch.AgentResult{Success: true}, err
	}}
	r, s := newTestRunner(t, agent, nil)
	store = s

	var err error
	id, err = store.Create("features", "planned", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Mutate(id, func(i *item.Item) { i.State = item.StateResearched }); err != nil {
		t.Fatal(err)
	}

	it, outcome, err := r.RunPhase(context.Background(), id, statemachine.PhasePlan)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeSucceeded || it.State != item.StatePlanned {
		t.Fatalf("outcome = %s, state = %s", outcome, it.State)
	}
}

func TestRunPhase_CritiqueRejectionThenAcceptance(t *testing.T) {
	var store *item.Store
	var id string
	// Call order: 1=plan, 2=critique (reject), 3=plan, 4=critique (accept).
	agent := &fakeAgent{run: func(call int) (dispatch.AgentResult, error) {
		switch call {
		case 1, 3:
			_, err := store.Mutate(id, func(i *item.Item) {
				i.PRD = &item.PRD{Stories: []item.Story{{StoryID: "story-001", Title: "s"}}}
			})
			return dispatch.AgentResult{Success: true}, err
		case 2:
			return dispatch.AgentResult{Success: false}, nil
		default:
			return dispatch.AgentResult{Success: true}, nil
		}
	}}
	r, s := newTestRunner(t, agent, map[string]bool{statemachine.PhasePlan: true})
	store = s

	var err error
	id, err = store.Create("features", "critiqued", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Mutate(id, func(i *item.Item) { i.State = item.StateResearched }); err != nil {
		t.Fatal(err)
	}

	it, outcome, err := r.RunPhase(context.Background(), id, statemachine.PhasePlan)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeSucceeded || it.State != item.StatePlanned {
		t.Fatalf("outcome = %s, state = %s", outcome, it.State)
	}
	if agent.calls != 4 {
		t.Fatalf("agent calls = %d, want 4", agent.calls)
	}
	if it.CritiqueRounds[statemachine.PhasePlan] != 2 {
		t.Fatalf("critique rounds = %d", it.CritiqueRounds[statemachine.PhasePlan])
	}
	if it.RetryCount != 1 {
		t.Fatalf("retry count = %d", it.RetryCount)
	}
}

func TestRunPhase_ResumeFromFailedClearsErrorAndCountsRetry(t *testing.T) {
	var store *item.Store
	var id string
	agent := &fakeAgent{run: func(int) (dispatch.AgentResult, error) {
		writeResearchNote(t, store, id)
		return dispatch.AgentResult{Success: true}, nil
	}}
	r, s := newTestRunner(t, agent, nil)
	store = s

	var err error
	id, err = store.Create("features", "resumed", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Mutate(id, func(i *item.Item) {
		i.State = item.Failed(item.StateResearching)
		i.LastError = "agent_error:timeout: agent process timed out"
	}); err != nil {
		t.Fatal(err)
	}

	it, outcome, err := r.RunPhase(context.Background(), id, statemachine.PhaseResearch)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeSucceeded || it.State != item.StateResearched {
		t.Fatalf("outcome = %s, state = %s", outcome, it.State)
	}
	if it.RetryCount != 1 {
		t.Fatalf("retry count = %d", it.RetryCount)
	}
	if it.LastError != "" {
		t.Fatalf("last_error = %q", it.LastError)
	}
}

func TestRunPhase_MockSynthesizesResearchAndPlanArtifacts(t *testing.T) {
	agent := &fakeAgent{run: func(int) (dispatch.AgentResult, error) {
		return dispatch.AgentResult{Success: true}, nil
	}}
	r, store := newTestRunner(t, agent, nil)
	r.Mock = true

	id, err := store.Create("features", "mocked", "overview text")
	if err != nil {
		t.Fatal(err)
	}

	it, outcome, err := r.RunPhase(context.Background(), id, statemachine.PhaseResearch)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeSucceeded || it.State != item.StateResearched {
		t.Fatalf("outcome = %s, state = %s", outcome, it.State)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(id), "research.md")); err != nil {
		t.Fatal("mock research run should leave a research note")
	}

	it, outcome, err = r.RunPhase(context.Background(), id, statemachine.PhasePlan)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeSucceeded || it.State != item.StatePlanned {
		t.Fatalf("outcome = %s, state = %s", outcome, it.State)
	}
	if it.PRD == nil || len(it.PRD.Stories) != 1 {
		t.Fatalf("prd = %+v", it.PRD)
	}
}

func TestNormalizeBranchComponent(t *testing.T) {
	got := normalizeBranchComponent("features/001-add-rate-limiter")
	want := "features-001-add-rate-limiter"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStoriesSummary(t *testing.T) {
	if s := storiesSummary(nil); s != "" {
		t.Fatalf("got %q", s)
	}
	prd := &item.PRD{Stories: []item.Story{
		{StoryID: "story-001", Title: "first", Status: item.StoryDone},
		{StoryID: "story-002", Title: "second", Status: item.StoryPending},
	}}
	got := storiesSummary(prd)
	want := "- [story-001] first (done)\n- [story-002] second (pending)\n"
	if got != want {
		t.Fatalf("got %q", got)
	}
}
