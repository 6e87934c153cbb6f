// Package ux prints the orchestrator's human-facing run output:
// timestamped, ANSI-colored lines keyed by item id and phase name.
package ux

import (
	"fmt"
	"strings"
	"time"
)

// ANSI color helpers
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

func timestamp() string {
	return time.Now().Format("15:04:05")
}

// PhaseHeader prints a timestamped phase header for one item.
func PhaseHeader(itemID, phase string) {
	fmt.Printf("%s[%s]%s  %s%s%s %s%s\n",
		Dim, timestamp(), Reset, Bold, itemID, Reset, Cyan, phase+Reset)
}

// PhaseComplete prints a phase completion message.
func PhaseComplete(itemID, phase string, duration time.Duration) {
	m := int(duration.Minutes())
	s := int(duration.Seconds()) % 60
	fmt.Printf("%s[%s]%s  %s✓ %s %s (%dm %02ds)%s\n",
		Dim, timestamp(), Reset, Green, itemID, phase, m, s, Reset)
}

// PhaseFail prints a phase failure message.
func PhaseFail(itemID, phase, errMsg string) {
	fmt.Printf("%s[%s]%s  %s✗ %s %s failed: %s%s\n",
		Dim, timestamp(), Reset, Red, itemID, phase, errMsg, Reset)
}

// ResumeHint prints a resume command hint.
func ResumeHint(itemID string) {
	fmt.Printf("\n%sResume:%s wreckit run %s\n", Yellow, Reset, itemID)
}

// CritiqueRejected prints a critique loop-back message.
func CritiqueRejected(itemID, phase string, round, max int) {
	fmt.Printf("%s[%s]%s  %s↺ %s %s critique rejected (round %d/%d)%s\n",
		Dim, timestamp(), Reset, Yellow, itemID, phase, round, max, Reset)
}

// ToolUse prints an inline tool call.
func ToolUse(name, input string) {
	summary := input
	if len(summary) > 80 {
		summary = summary[:77] + "..."
	}
	fmt.Printf("  %s⚡ %s%s %s\n", Cyan, name, Reset, summary)
}

// ToolDenied prints a denied tool call.
func ToolDenied(name, input string) {
	summary := input
	if len(summary) > 80 {
		summary = summary[:77] + "..."
	}
	fmt.Printf("  %s✗ %s(denied)%s %s\n", Red, name, Reset, summary)
}

// PermissionPrompt prints a permission denial prompt header.
func PermissionPrompt(tools []string) {
	fmt.Printf("\n  %s⚠ Tools denied: %s%s\n", Yellow, strings.Join(tools, ", "), Reset)
}

// Draining prints the orchestrator's draining-state notice.
func Draining(active int) {
	fmt.Printf("\n%s%s⏳ draining: waiting on %d in-flight phase(s)...%s\n", Bold, Yellow, active, Reset)
}

// Interrupted prints a forced-terminate notice (drain_timeout_seconds
// exceeded or a second interrupt signal arrived).
func Interrupted() {
	fmt.Printf("%s%s⨯ interrupted: terminating in-flight work%s\n", Bold, Red, Reset)
}

// Success prints a final run-complete summary.
func Success(completed, failed int) {
	fmt.Printf("\n%s%s══ run complete: %d done, %d failed ══%s\n\n", Bold, Green, completed, failed, Reset)
}
