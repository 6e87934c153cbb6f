// Package prompt renders phase prompt templates against a flat variable
// map. Rendering is purely substitutional (no code execution), and an
// unbound placeholder is a hard TemplateError rather than a silent
// fallback.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// Vars is the flat variable table exposed to templates.
type Vars map[string]string

// Render substitutes every {{name}} placeholder in template using vars.
// An unbound placeholder fails assembly before any agent is spawned.
func Render(template string, vars Vars) (string, error) {
	var missing []string
	seenMissing := make(map[string]bool)

	result := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		sub := placeholderRe.FindStringSubmatch(match)
		name := sub[1]
		if v, ok := vars[name]; ok {
			return v
		}
		if !seenMissing[name] {
			seenMissing[name] = true
			missing = append(missing, name)
		}
		return match
	})

	if len(missing) > 0 {
		return "", wreckerr.WithSub(wreckerr.KindArtifact, wreckerr.SubTemplateError,
			fmt.Sprintf("unbound template placeholder(s): %s", strings.Join(missing, ", ")), nil)
	}
	return result, nil
}

// AllowedToolsSummary renders a human-readable list of allowed tool names
// for inclusion in a prompt.
func AllowedToolsSummary(tools []string) string {
	if len(tools) == 0 {
		return "(none)"
	}
	return strings.Join(tools, ", ")
}
