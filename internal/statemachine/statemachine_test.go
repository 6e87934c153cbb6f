package statemachine

import (
	"testing"

	"github.com/mikehostetler/wreckit/internal/item"
)

func TestHappyPathChain(t *testing.T) {
	state := item.StateIdea
	steps := []struct {
		event Event
		want  item.State
	}{
		{Event{Kind: EventStartPhase, Phase: PhaseResearch}, item.StateResearching},
		{Event{Kind: EventPhaseSucceeded, Phase: PhaseResearch}, item.StateResearched},
		{Event{Kind: EventStartPhase, Phase: PhasePlan}, item.StatePlanning},
		{Event{Kind: EventPhaseSucceeded, Phase: PhasePlan}, item.StatePlanned},
		{Event{Kind: EventStartPhase, Phase: PhaseImplement}, item.StateImplementing},
		{Event{Kind: EventPhaseSucceeded, Phase: PhaseImplement}, item.StateImplemented},
		{Event{Kind: EventStartPhase, Phase: PhasePR}, item.StateInPR},
		{Event{Kind: EventPhaseSucceeded, Phase: PhasePR}, item.StateInPR},
		{Event{Kind: EventPRMerged}, item.StateMerged},
		{Event{Kind: EventPhaseSucceeded, Phase: PhaseComplete}, item.StateComplete},
	}
	for i, step := range steps {
		next, err := Transition(state, step.event)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if next != step.want {
			t.Fatalf("step %d: got %s, want %s", i, next, step.want)
		}
		state = next
	}
}

func TestOutOfTableTransitionRejected(t *testing.T) {
	_, err := Transition(item.StateIdea, Event{Kind: EventStartPhase, Phase: PhaseImplement})
	if err == nil {
		t.Fatal("expected error for out-of-order phase start")
	}
}

func TestPhaseFailedForksAndRecovers(t *testing.T) {
	failed, err := Transition(item.StateResearching, Event{Kind: EventPhaseFailed, Phase: PhaseResearch})
	if err != nil {
		t.Fatal(err)
	}
	if failed != item.Failed(item.StateResearching) {
		t.Fatalf("got %s", failed)
	}
	recovered, err := Recover(failed)
	if err != nil {
		t.Fatal(err)
	}
	if recovered != item.StateIdea {
		t.Fatalf("got %s", recovered)
	}
}

func TestCritiqueRejectedRestoresPrePhaseState(t *testing.T) {
	restored, err := Transition(item.StatePlanning, Event{Kind: EventCritiqueRejected, Phase: PhasePlan})
	if err != nil {
		t.Fatal(err)
	}
	if restored != item.StateResearched {
		t.Fatalf("got %s", restored)
	}
}

func TestStartPhaseResumesFromIngAndFailedStates(t *testing.T) {
	cases := []struct {
		from  item.State
		phase string
		want  item.State
	}{
		{item.StateResearching, PhaseResearch, item.StateResearching},
		{item.Failed(item.StateResearching), PhaseResearch, item.StateResearching},
		{item.StatePlanning, PhasePlan, item.StatePlanning},
		{item.Failed(item.StatePlanning), PhasePlan, item.StatePlanning},
		{item.StateImplementing, PhaseImplement, item.StateImplementing},
		{item.Failed(item.StateImplementing), PhaseImplement, item.StateImplementing},
		{item.Failed(item.StateImplemented), PhasePR, item.StateInPR},
		{item.Failed(item.StateInPR), PhaseComplete, item.StateInPR},
	}
	for _, c := range cases {
		got, err := Transition(c.from, Event{Kind: EventStartPhase, Phase: c.phase})
		if err != nil {
			t.Fatalf("start %s from %s: %v", c.phase, c.from, err)
		}
		if got != c.want {
			t.Fatalf("start %s from %s = %s, want %s", c.phase, c.from, got, c.want)
		}
	}
}

func TestNextPhaseResumesIngAndFailedStates(t *testing.T) {
	cases := []struct {
		state item.State
		phase string
	}{
		{item.StateResearching, PhaseResearch},
		{item.StatePlanning, PhasePlan},
		{item.StateImplementing, PhaseImplement},
		{item.Failed(item.StateResearching), PhaseResearch},
		{item.Failed(item.StatePlanning), PhasePlan},
		{item.Failed(item.StateImplementing), PhaseImplement},
		{item.Failed(item.StateImplemented), PhasePR},
	}
	for _, c := range cases {
		phase, ok := NextPhase(&item.Item{State: c.state}, false)
		if !ok || phase != c.phase {
			t.Fatalf("NextPhase(%s) = %q, %v; want %q", c.state, phase, ok, c.phase)
		}
	}
}

func TestNextPhase(t *testing.T) {
	it := &item.Item{State: item.StatePlanned}
	phase, ok := NextPhase(it, false)
	if !ok || phase != PhaseImplement {
		t.Fatalf("got %s, %v", phase, ok)
	}

	it.State = item.StateInPR
	if _, ok := NextPhase(it, false); ok {
		t.Fatal("expected not-runnable when PR not merge-ready")
	}
	phase, ok = NextPhase(it, true)
	if !ok || phase != PhaseComplete {
		t.Fatalf("got %s, %v", phase, ok)
	}
}

func TestValidatePlannedRequiresStory(t *testing.T) {
	if err := ValidatePlanned(nil); err == nil {
		t.Fatal("expected error for zero stories")
	}
	if err := ValidatePlanned([]item.Story{{StoryID: "s1"}}); err != nil {
		t.Fatal(err)
	}
}

func TestValidateImplementedRequiresAllDone(t *testing.T) {
	stories := []item.Story{{StoryID: "s1", Status: item.StoryDone}, {StoryID: "s2", Status: item.StoryPending}}
	if err := ValidateImplemented(stories); err == nil {
		t.Fatal("expected error for incomplete story")
	}
	stories[1].Status = item.StoryDone
	if err := ValidateImplemented(stories); err != nil {
		t.Fatal(err)
	}
}
