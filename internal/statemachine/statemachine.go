// Package statemachine implements the pure, I/O-free item transition
// table: the ordered pipeline chain, the failed:<origin> error fork, and
// the phase derivation the scheduler uses to pick an item's next step.
package statemachine

import (
	"fmt"

	"github.com/mikehostetler/wreckit/internal/item"
	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// Phase names, one per pipeline step.
const (
	PhaseResearch   = "research"
	PhasePlan       = "plan"
	PhaseImplement  = "implement"
	PhasePR         = "pr"
	PhaseComplete   = "complete"
)

// Event is one of the transition-table inputs.
type Event struct {
	Kind  EventKind
	Phase string // relevant for start_phase / phase_succeeded / phase_failed / critique_rejected
	Err   string // relevant for phase_failed
}

type EventKind string

const (
	EventStartPhase        EventKind = "start_phase"
	EventPhaseSucceeded     EventKind = "phase_succeeded"
	EventPhaseFailed        EventKind = "phase_failed"
	EventUserReset          EventKind = "user_reset"
	EventCritiqueRejected   EventKind = "critique_rejected"
	EventPRMerged           EventKind = "pr_merged"
	EventCompleteAck        EventKind = "complete_acknowledged"
)

// phaseToIngState is the "-ing" state entered by start_phase(phase).
var phaseToIngState = map[string]item.State{
	PhaseResearch:  item.StateResearching,
	PhasePlan:      item.StatePlanning,
	PhaseImplement: item.StateImplementing,
	PhasePR:        item.StateInPR, // "pr" phase has no distinct "-ing" state; see Transition below
	PhaseComplete:  item.StateComplete,
}

// ingToPredecessor maps an "-ing" state to the "-ed" state a failure
// recovers to. Research recovers to "idea".
var ingToPredecessor = map[item.State]item.State{
	item.StateResearching:  item.StateIdea,
	item.StatePlanning:     item.StateResearched,
	item.StateImplementing: item.StatePlanned,
}

// Transition validates and applies a single event against from, returning
// the resulting state: the ordered chain idea -> researching ->
// researched -> planning -> planned -> implementing -> implemented ->
// in_pr -> merged -> complete, plus the failed:<origin> error fork and
// its matching recovery.
func Transition(from item.State, ev Event) (item.State, error) {
	switch ev.Kind {
	case EventStartPhase:
		return startPhase(from, ev.Phase)
	case EventPhaseSucceeded:
		return phaseSucceeded(from, ev.Phase)
	case EventPhaseFailed:
		return phaseFailed(from, ev.Phase)
	case EventUserReset:
		return item.StateIdea, nil
	case EventCritiqueRejected:
		return critiqueRejected(from, ev.Phase)
	case EventPRMerged:
		if from != item.StateInPR {
			return from, invalid(from, ev)
		}
		return item.StateMerged, nil
	case EventCompleteAck:
		if from != item.StateComplete {
			return from, invalid(from, ev)
		}
		return item.StateComplete, nil
	default:
		return from, fmt.Errorf("statemachine: unknown event kind %q", ev.Kind)
	}
}

// startPhase stamps the "-ing" state for phase. Besides the ordered-chain
// predecessor, each phase also accepts its own "-ing" state (a run
// interrupted mid-phase resumes by re-entering the phase) and the
// failed:<origin> fork a prior failure of the same phase produced.
func startPhase(from item.State, phase string) (item.State, error) {
	switch phase {
	case PhaseResearch:
		if from != item.StateIdea && from != item.StateResearching && from != item.Failed(item.StateResearching) {
			return from, invalidPhase(from, phase)
		}
		return item.StateResearching, nil
	case PhasePlan:
		if from != item.StateResearched && from != item.StatePlanning && from != item.Failed(item.StatePlanning) {
			return from, invalidPhase(from, phase)
		}
		return item.StatePlanning, nil
	case PhaseImplement:
		if from != item.StatePlanned && from != item.StateImplementing && from != item.Failed(item.StateImplementing) {
			return from, invalidPhase(from, phase)
		}
		return item.StateImplementing, nil
	case PhasePR:
		if from != item.StateImplemented && from != item.Failed(item.StateImplemented) {
			return from, invalidPhase(from, phase)
		}
		return item.StateInPR, nil
	case PhaseComplete:
		switch from {
		case item.StateInPR, item.StateMerged:
			return from, nil // "complete" phase runs while still in_pr/merged until it verifies the merge
		case item.Failed(item.StateInPR):
			return item.StateInPR, nil
		case item.Failed(item.StateMerged):
			return item.StateMerged, nil
		}
		return from, invalidPhase(from, phase)
	default:
		return from, fmt.Errorf("statemachine: unknown phase %q", phase)
	}
}

func phaseSucceeded(from item.State, phase string) (item.State, error) {
	switch phase {
	case PhaseResearch:
		if from != item.StateResearching {
			return from, invalidPhase(from, phase)
		}
		return item.StateResearched, nil
	case PhasePlan:
		if from != item.StatePlanning {
			return from, invalidPhase(from, phase)
		}
		return item.StatePlanned, nil
	case PhaseImplement:
		if from != item.StateImplementing {
			return from, invalidPhase(from, phase)
		}
		return item.StateImplemented, nil
	case PhasePR:
		// startPhase(pr) already stamps in_pr, so success arrives from
		// that state (or from implemented when a caller skips the stamp).
		if from != item.StateInPR && from != item.StateImplemented {
			return from, invalidPhase(from, phase)
		}
		return item.StateInPR, nil
	case PhaseComplete:
		if from != item.StateInPR && from != item.StateMerged {
			return from, invalidPhase(from, phase)
		}
		return item.StateComplete, nil
	default:
		return from, fmt.Errorf("statemachine: unknown phase %q", phase)
	}
}

func phaseFailed(from item.State, phase string) (item.State, error) {
	ing, ok := phaseToIngState[phase]
	if !ok || from != ing {
		// pr/complete have no dedicated "-ing" predecessor in the table
		// above; their failure still forks from whatever "-ing"-shaped
		// state the phase runner stamped before dispatch.
		if phase == PhasePR && from == item.StateInPR {
			return item.Failed(item.StateImplemented), nil
		}
		if phase == PhaseComplete && (from == item.StateInPR || from == item.StateMerged) {
			return item.Failed(from), nil
		}
		return from, invalidPhase(from, phase)
	}
	return item.Failed(ing), nil
}

// critiqueRejected restores state to the pre-phase value. The
// phase runner is responsible for incrementing the item's RetryCount and
// per-phase critique round counter; this function only computes the
// target state.
func critiqueRejected(from item.State, phase string) (item.State, error) {
	switch phase {
	case PhaseResearch:
		return item.StateIdea, nil
	case PhasePlan:
		return item.StateResearched, nil
	case PhaseImplement:
		return item.StatePlanned, nil
	case PhasePR:
		return item.StateImplemented, nil
	default:
		return from, fmt.Errorf("statemachine: phase %q does not support critique", phase)
	}
}

// Recover returns the "-ed" predecessor (or "idea" for research) of a
// failed:<origin> state, clearing the error fork.
func Recover(failed item.State) (item.State, error) {
	origin, ok := trimFailed(failed)
	if !ok {
		return failed, fmt.Errorf("statemachine: %q is not a failed state", failed)
	}
	if pred, ok := ingToPredecessor[origin]; ok {
		return pred, nil
	}
	if origin == item.StateInPR {
		return item.StateImplemented, nil
	}
	if origin == item.StateMerged {
		return item.StateInPR, nil
	}
	return origin, nil
}

func trimFailed(s item.State) (item.State, bool) {
	const prefix = "failed:"
	str := string(s)
	if len(str) <= len(prefix) || str[:len(prefix)] != prefix {
		return s, false
	}
	return item.State(str[len(prefix):]), true
}

// NextPhase derives the next phase name from state. An "-ing" state maps back onto its own phase (resuming an
// interrupted run), and a failed:<origin> state maps onto the
// phase that would re-run from the recovered predecessor. Returns
// ("", false) when the item is terminal (complete) or when in_pr is not
// yet mergeable.
func NextPhase(it *item.Item, mergeReady bool) (string, bool) {
	switch it.State {
	case item.StateIdea, item.StateResearching:
		return PhaseResearch, true
	case item.StateResearched, item.StatePlanning:
		return PhasePlan, true
	case item.StatePlanned, item.StateImplementing:
		return PhaseImplement, true
	case item.StateImplemented:
		return PhasePR, true
	case item.StateInPR:
		if mergeReady {
			return PhaseComplete, true
		}
		return "", false
	case item.StateMerged:
		return PhaseComplete, true
	}

	origin, ok := FailedOrigin(it.State)
	if !ok {
		return "", false
	}
	recovered := &item.Item{State: origin}
	if pred, ok := ingToPredecessor[origin]; ok {
		recovered.State = pred
	}
	return NextPhase(recovered, mergeReady)
}

// FailedOrigin extracts the origin state from a failed:<origin> fork
// value, reporting false for any non-failed state.
func FailedOrigin(s item.State) (item.State, bool) {
	return trimFailed(s)
}

// ValidatePlanned checks the "planned requires at least one story" rule.
func ValidatePlanned(stories []item.Story) error {
	if len(stories) == 0 {
		return wreckerr.WithSub(wreckerr.KindArtifact, wreckerr.SubMissingArtifact,
			"planned requires at least one story", nil)
	}
	return nil
}

// ValidateImplemented checks the "implemented requires all stories done"
// rule.
func ValidateImplemented(stories []item.Story) error {
	var notDone []string
	for _, s := range stories {
		if s.Status != item.StoryDone {
			notDone = append(notDone, s.StoryID)
		}
	}
	if len(notDone) > 0 {
		return wreckerr.WithSub(wreckerr.KindArtifact, wreckerr.SubMissingArtifact,
			fmt.Sprintf("stories not done: %v", notDone), nil)
	}
	return nil
}

func invalid(from item.State, ev Event) error {
	return wreckerr.WithSub(wreckerr.KindState, "", fmt.Sprintf("event %q is not valid from state %q", ev.Kind, from), nil)
}

func invalidPhase(from item.State, phase string) error {
	return wreckerr.WithSub(wreckerr.KindState, "", fmt.Sprintf("phase %q is not valid from state %q", phase, from), nil)
}
