package orchestrator

import (
	"testing"

	"github.com/mikehostetler/wreckit/internal/config"
	"github.com/mikehostetler/wreckit/internal/item"
)

func newTestOrchestrator(t *testing.T, sectionPriority []string) (*Orchestrator, *item.Store) {
	t.Helper()
	store := item.New(t.TempDir())
	cfg := &config.Configuration{SectionPriority: sectionPriority}
	// pr, git, and sb are nil: selectNext/sectionRank/isIngState never
	// dereference them (nextPhaseFor guards o.Git != nil before use).
	o := New(store, nil, cfg, nil, nil)
	return o, store
}

func TestSectionRank(t *testing.T) {
	o, _ := newTestOrchestrator(t, []string{"backend", "frontend"})

	cases := []struct {
		section string
		want    int
	}{
		{"backend", 0},
		{"frontend", 1},
		{"docs", 2}, // unlisted section ranks after every listed one
	}
	for _, c := range cases {
		if got := o.sectionRank(c.section); got != c.want {
			t.Fatalf("sectionRank(%q) = %d, want %d", c.section, got, c.want)
		}
	}
}

func TestIsIngState(t *testing.T) {
	ing := []item.State{item.StateResearching, item.StatePlanning, item.StateImplementing}
	for _, s := range ing {
		if !isIngState(s) {
			t.Fatalf("isIngState(%q) = false, want true", s)
		}
	}

	notIng := []item.State{item.StateIdea, item.StateResearched, item.StatePlanned,
		item.StateImplemented, item.StateInPR, item.StateMerged, item.StateComplete}
	for _, s := range notIng {
		if isIngState(s) {
			t.Fatalf("isIngState(%q) = true, want false", s)
		}
	}
}

func TestSelectNextPrefersResumingOverSectionPriority(t *testing.T) {
	o, store := newTestOrchestrator(t, []string{"frontend", "backend"})

	// A fresh "idea" item in the higher-priority section...
	frontID, err := store.Create("frontend", "new idea", "")
	if err != nil {
		t.Fatal(err)
	}

	// ...competes against a lower-priority item already mid-phase, which
	// must win because resuming beats section priority.
	backID, err := store.Create("backend", "in flight", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Mutate(backID, func(it *item.Item) {
		it.State = item.StateResearching
	}); err != nil {
		t.Fatal(err)
	}

	got, ok := o.selectNext()
	if !ok {
		t.Fatal("selectNext returned false, want a runnable candidate")
	}
	if got != backID {
		t.Fatalf("selectNext = %q, want resuming item %q (frontend idea was %q)", got, backID, frontID)
	}
}

func TestSelectNextFallsBackToSectionPriorityThenID(t *testing.T) {
	o, store := newTestOrchestrator(t, []string{"backend", "frontend"})

	frontID, err := store.Create("frontend", "front idea", "")
	if err != nil {
		t.Fatal(err)
	}
	backID, err := store.Create("backend", "back idea", "")
	if err != nil {
		t.Fatal(err)
	}

	got, ok := o.selectNext()
	if !ok {
		t.Fatal("selectNext returned false, want a runnable candidate")
	}
	if got != backID {
		t.Fatalf("selectNext = %q, want higher-priority section's item %q (frontend's was %q)", got, backID, frontID)
	}
}

func TestNextPhaseForSkipsRetriesExhaustedFailures(t *testing.T) {
	o, store := newTestOrchestrator(t, nil)
	o.Config.MaxIterations = 2

	id, err := store.Create("backend", "keeps failing", "")
	if err != nil {
		t.Fatal(err)
	}
	it, err := store.Mutate(id, func(it *item.Item) {
		it.State = item.Failed(item.StateResearching)
		it.RetryCount = 1
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := o.nextPhaseFor(it); !ok {
		t.Fatal("failed item with retries remaining should be runnable")
	}

	it, err = store.Mutate(id, func(it *item.Item) { it.RetryCount = 2 })
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := o.nextPhaseFor(it); ok {
		t.Fatal("failed item with retries exhausted should not be runnable")
	}
}

func TestSelectNextNoCandidates(t *testing.T) {
	o, store := newTestOrchestrator(t, nil)

	id, err := store.Create("backend", "already complete", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Mutate(id, func(it *item.Item) {
		it.State = item.StateComplete
	}); err != nil {
		t.Fatal(err)
	}

	if _, ok := o.selectNext(); ok {
		t.Fatal("selectNext returned true for a store with no runnable items")
	}
}
