// Package skills loads the optional per-repo skill definitions from
// .wreckit/skills.json and computes the effective tool allowlist for a
// phase as the intersection of the phase's baseline set and the union of
// every applicable skill's tool set.
package skills

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// Skill narrows the tool allowlist for phases it names, or for every phase
// when Phases is empty.
type Skill struct {
	Name   string   `json:"name"`
	Tools  []string `json:"tools"`
	Phases []string `json:"phases,omitempty"`
}

// Set is a loaded skills.json document.
type Set struct {
	Skills []Skill `json:"skills"`
}

// Load reads path (typically "<wreckit_dir>/skills.json"). A missing file
// is not an error: it yields an empty Set, meaning no narrowing applies.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Set{}, nil
	}
	if err != nil {
		return nil, wreckerr.Wrap(wreckerr.KindConfig, "failed to read skills file", err)
	}
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, wreckerr.Wrap(wreckerr.KindConfig, "failed to parse skills file", err)
	}
	for _, sk := range s.Skills {
		if sk.Name == "" {
			return nil, wreckerr.New(wreckerr.KindConfig, "skill entry missing name")
		}
		if len(sk.Tools) == 0 {
			return nil, wreckerr.New(wreckerr.KindConfig, "skill "+sk.Name+" declares no tools")
		}
	}
	return &s, nil
}

// union returns the set of tools contributed by every skill applicable to
// phase (a skill with no Phases applies to all phases).
func (s *Set) union(phase string) map[string]bool {
	out := make(map[string]bool)
	if s == nil {
		return out
	}
	for _, sk := range s.Skills {
		if !sk.appliesTo(phase) {
			continue
		}
		for _, t := range sk.Tools {
			out[t] = true
		}
	}
	return out
}

func (sk Skill) appliesTo(phase string) bool {
	if len(sk.Phases) == 0 {
		return true
	}
	for _, p := range sk.Phases {
		if p == phase {
			return true
		}
	}
	return false
}

// EffectiveAllowlist computes the intersection of baseline (the phase's
// fixed tool set) with the union of every applicable skill's tools, when
// at least one skill applies to phase. With no applicable skills,
// baseline passes through unchanged: skills only narrow, never widen.
// Returns NoToolsAllowed if narrowing empties the set.
func (s *Set) EffectiveAllowlist(phase string, baseline []string) ([]string, error) {
	applicable := s.union(phase)
	if len(applicable) == 0 {
		return append([]string(nil), baseline...), nil
	}

	var effective []string
	for _, t := range baseline {
		if applicable[t] {
			effective = append(effective, t)
		}
	}
	sort.Strings(effective)

	if len(effective) == 0 {
		return nil, wreckerr.WithSub(wreckerr.KindState, wreckerr.SubNoToolsAllowed,
			"skills narrowing left an empty tool allowlist for phase "+phase, nil)
	}
	return effective, nil
}
