package learn

import (
	"strings"
	"testing"
	"time"

	"github.com/mikehostetler/wreckit/internal/item"
	"github.com/mikehostetler/wreckit/internal/phaserunner"
)

func TestCollectAggregatesTimingAndCritiqueRounds(t *testing.T) {
	store := item.New(t.TempDir())

	okID, err := store.Create("features", "done item", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Mutate(okID, func(it *item.Item) {
		it.CritiqueRounds = map[string]int{"plan": 2}
	}); err != nil {
		t.Fatal(err)
	}
	timing, err := phaserunner.LoadTiming(store.Dir(okID))
	if err != nil {
		t.Fatal(err)
	}
	timing.AddStart("research", 0)
	timing.AddEnd("research")
	timing.AddStart("plan", 1)
	timing.AddEnd("plan")
	if err := timing.Flush(); err != nil {
		t.Fatal(err)
	}

	failID, err := store.Create("features", "failed item", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Mutate(failID, func(it *item.Item) {
		it.State = item.Failed(item.StateResearching)
	}); err != nil {
		t.Fatal(err)
	}

	report, err := Collect(store)
	if err != nil {
		t.Fatal(err)
	}
	if report.TotalItems != 2 {
		t.Fatalf("total items = %d", report.TotalItems)
	}
	if report.FailedItems != 1 {
		t.Fatalf("failed items = %d", report.FailedItems)
	}
	if report.CritiqueRounds != 2 {
		t.Fatalf("critique rounds = %d", report.CritiqueRounds)
	}
	if len(report.Phases) != 2 {
		t.Fatalf("phases = %+v", report.Phases)
	}
	// Sorted by phase name: plan before research.
	if report.Phases[0].Phase != "plan" || report.Phases[0].Retried != 1 {
		t.Fatalf("phases[0] = %+v", report.Phases[0])
	}
	if report.Phases[1].Phase != "research" || report.Phases[1].Runs != 1 {
		t.Fatalf("phases[1] = %+v", report.Phases[1])
	}
}

func TestRenderEmptyReport(t *testing.T) {
	out := Render(&Report{})
	if !strings.Contains(out, "no phase runs recorded yet") {
		t.Fatalf("got %q", out)
	}
}

func TestRenderTable(t *testing.T) {
	out := Render(&Report{
		TotalItems: 1,
		Phases:     []PhaseStat{{Phase: "research", Runs: 3, Retried: 1, AvgDuration: 90 * time.Second}},
	})
	if !strings.Contains(out, "research") || !strings.Contains(out, "1m30s") {
		t.Fatalf("got %q", out)
	}
}
