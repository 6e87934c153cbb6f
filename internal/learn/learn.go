// Package learn aggregates the per-item timing and critique data the
// engine already records (internal/phaserunner's timing.json and an
// item's CritiqueRounds) into the cross-item summary behind `wreckit
// learn`.
package learn

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mikehostetler/wreckit/internal/item"
	"github.com/mikehostetler/wreckit/internal/phaserunner"
)

// PhaseStat summarizes every recorded run of one phase across every item.
type PhaseStat struct {
	Phase       string
	Runs        int
	Retried     int // runs whose timing entry had Retry > 0
	AvgDuration time.Duration
}

// Report is the aggregate produced by Collect.
type Report struct {
	TotalItems     int
	FailedItems    int
	CritiqueRounds int // sum of every item's per-phase critique round counts
	Phases         []PhaseStat
}

// Collect scans every item in store and aggregates its timing and
// critique history.
func Collect(store *item.Store) (*Report, error) {
	summaries, err := store.List(item.Filter{})
	if err != nil {
		return nil, err
	}

	totals := make(map[string]time.Duration)
	counts := make(map[string]int)
	retried := make(map[string]int)
	report := &Report{TotalItems: len(summaries)}

	for _, sum := range summaries {
		if strings.HasPrefix(string(sum.State), "failed:") {
			report.FailedItems++
		}

		timing, err := phaserunner.LoadTiming(store.Dir(sum.ID))
		if err == nil && timing != nil {
			for _, e := range timing.Entries {
				if e.End.IsZero() {
					continue
				}
				counts[e.Phase]++
				totals[e.Phase] += e.End.Sub(e.Start)
				if e.Retry > 0 {
					retried[e.Phase]++
				}
			}
		}

		it, err := store.Read(sum.ID)
		if err == nil {
			for _, n := range it.CritiqueRounds {
				report.CritiqueRounds += n
			}
		}
	}

	var phases []string
	for p := range counts {
		phases = append(phases, p)
	}
	sort.Strings(phases)

	for _, p := range phases {
		report.Phases = append(report.Phases, PhaseStat{
			Phase:       p,
			Runs:        counts[p],
			Retried:     retried[p],
			AvgDuration: totals[p] / time.Duration(counts[p]),
		})
	}

	return report, nil
}

// Render formats report as plain text for terminal output.
func Render(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d item(s), %d failed, %d critique round(s) run\n", r.TotalItems, r.FailedItems, r.CritiqueRounds)
	if len(r.Phases) == 0 {
		b.WriteString("no phase runs recorded yet\n")
		return b.String()
	}
	fmt.Fprintf(&b, "\n%-12s %6s %10s %10s\n", "phase", "runs", "avg time", "retried")
	for _, p := range r.Phases {
		fmt.Fprintf(&b, "%-12s %6d %10s %10d\n", p.Phase, p.Runs, p.AvgDuration.Round(time.Second), p.Retried)
	}
	return b.String()
}
