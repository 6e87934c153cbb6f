// Package logging wraps go-hclog to give every item/phase its own child
// logger while keeping one leveled, structured sink for the process.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Root is the process-wide logger. Verbose mode (WRECKIT_VERBOSE) drops it
// to Debug; the default is Info.
var Root hclog.Logger = hclog.New(&hclog.LoggerOptions{
	Name:  "wreckit",
	Level: levelFromEnv(),
	Color: hclog.AutoColor,
})

func levelFromEnv() hclog.Level {
	if os.Getenv("WRECKIT_VERBOSE") != "" {
		return hclog.Debug
	}
	return hclog.Info
}

// SetVerbose drops the root logger to Debug, backing the CLI's --verbose
// flag (WRECKIT_VERBOSE is only read once at startup).
func SetVerbose() {
	Root.SetLevel(hclog.Debug)
}

// ForItem returns a child logger carrying the item id as structured
// context, so every line it emits can be grepped by item without
// threading the id through every call site.
func ForItem(id string) hclog.Logger {
	return Root.With("item", id)
}

// ForPhase returns a child logger carrying item id and phase name.
func ForPhase(itemID, phase string) hclog.Logger {
	return Root.With("item", itemID, "phase", phase)
}

// NewFileLogger returns a logger that writes structured JSON lines to w,
// used for the per-phase append-only log file.
func NewFileLogger(w io.Writer, itemID, phase string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "wreckit",
		Level:      hclog.Debug,
		Output:     w,
		JSONFormat: true,
	}).With("item", itemID, "phase", phase)
}
