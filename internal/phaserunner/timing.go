// timing.go records per-phase start/end timestamps for one item, one
// timing.json per item directory, feeding the phase duration and
// retry-count summaries `wreckit learn` aggregates.
package phaserunner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type TimingEntry struct {
	Phase    string    `json:"phase"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitempty"`
	Duration string    `json:"duration,omitempty"`
	Retry    int       `json:"retry"`
}

// Timing tracks phase durations for a single item.
type Timing struct {
	mu      sync.Mutex
	path    string
	Entries []TimingEntry `json:"entries"`
}

func timingPath(itemDir string) string {
	return filepath.Join(itemDir, "timing.json")
}

// LoadTiming reads (or initializes) the timing file for an item directory.
func LoadTiming(itemDir string) (*Timing, error) {
	path := timingPath(itemDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Timing{path: path}, nil
		}
		return nil, err
	}
	var t Timing
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	t.path = path
	return &t, nil
}

// AddStart appends a new timing entry for phase at the given retry count.
func (t *Timing) AddStart(phase string, retry int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Entries = append(t.Entries, TimingEntry{Phase: phase, Start: time.Now(), Retry: retry})
}

// AddEnd records the end time for the most recent unfinished entry for phase.
func (t *Timing) AddEnd(phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.Entries) - 1; i >= 0; i-- {
		if t.Entries[i].Phase == phase && t.Entries[i].End.IsZero() {
			t.Entries[i].End = time.Now()
			t.Entries[i].Duration = formatDuration(t.Entries[i].End.Sub(t.Entries[i].Start))
			return
		}
	}
}

// Flush persists the in-memory timing data to disk.
func (t *Timing) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(t.path, data, 0o644)
}

func formatDuration(d time.Duration) string {
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %02ds", m, s)
}
