// Package item implements the per-item finite-state durable store
//: one directory per item, a derived index, and the
// structured artifacts (PRD, stories) an item accumulates as it moves
// through the pipeline.
package item

import "time"

// State is one of the ordered pipeline states (idea through complete),
// or a "failed:<origin>" error-fork value.
type State string

const (
	StateIdea         State = "idea"
	StateResearching  State = "researching"
	StateResearched   State = "researched"
	StatePlanning     State = "planning"
	StatePlanned      State = "planned"
	StateImplementing State = "implementing"
	StateImplemented  State = "implemented"
	StateInPR         State = "in_pr"
	StateMerged       State = "merged"
	StateComplete     State = "complete"
)

// Failed builds the "failed:<origin>" error-fork state for an -ing state.
func Failed(origin State) State {
	return State("failed:" + string(origin))
}

// Item is the unit of work tracked through the pipeline.
type Item struct {
	ID       string `json:"id"`
	Section  string `json:"section"`
	Title    string `json:"title"`
	Overview string `json:"overview"`
	State    State  `json:"state"`

	Branch   string `json:"branch,omitempty"`
	PRURL    string `json:"pr_url,omitempty"`
	PRNumber int    `json:"pr_number,omitempty"`

	LastError string `json:"last_error,omitempty"`

	// PRD is populated by the plan phase via the save_prd MCP tool and
	// consumed by every later phase.
	PRD *PRD `json:"prd,omitempty"`

	// RetryCount increments on explicit rollback/critique retry.
	RetryCount int `json:"retry_count"`

	// CritiqueRounds tracks, per phase name, how many critique rounds have
	// run.
	CritiqueRounds map[string]int `json:"critique_rounds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Story is a child record inside an item.
type Story struct {
	StoryID            string   `json:"story_id"`
	Title              string   `json:"title"`
	Status             string   `json:"status"` // pending, in_progress, done, blocked
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Notes              string   `json:"notes,omitempty"`
}

const (
	StoryPending    = "pending"
	StoryInProgress = "in_progress"
	StoryDone       = "done"
	StoryBlocked    = "blocked"
)

// PRD is the structured output of the plan phase.
type PRD struct {
	ProblemStatement string   `json:"problem_statement"`
	Goals            []string `json:"goals"`
	NonGoals         []string `json:"non_goals"`
	Stories          []Story  `json:"stories"`
	OpenQuestions    []string `json:"open_questions,omitempty"`
	References       []string `json:"references,omitempty"`
}

// Summary is the index's per-item projection.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	State     State     `json:"state"`
	Branch    string    `json:"branch,omitempty"`
	PRURL     string    `json:"pr_url,omitempty"`
	Section   string    `json:"section"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (it *Item) toSummary() Summary {
	return Summary{
		ID:        it.ID,
		Title:     it.Title,
		State:     it.State,
		Branch:    it.Branch,
		PRURL:     it.PRURL,
		Section:   it.Section,
		UpdatedAt: it.UpdatedAt,
	}
}
