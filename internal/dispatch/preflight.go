// preflight.go checks that whatever binary a configured agent backend
// needs is actually on PATH before any item starts moving through the
// pipeline. Only process-kind backends have a local binary to check;
// SDK/rlm sessions are remote.
package dispatch

import (
	"fmt"
	"os"
	"os/exec"
)

// Preflight verifies every process-kind backend reachable from cfg
// (including one nested inside a sprite wrapper) resolves on PATH.
func Preflight(cfg *AgentConfig) error {
	missing := collectMissingBinaries(cfg, nil)
	if len(missing) > 0 {
		return fmt.Errorf("required agent binaries not found in PATH: %v", missing)
	}
	return nil
}

// sdkEnvVars names the provider API key each hosted-SDK kind consumes.
var sdkEnvVars = map[BackendKind]string{
	BackendClaudeSDK:   "ANTHROPIC_API_KEY",
	BackendCodexSDK:    "OPENAI_API_KEY",
	BackendAmpSDK:      "AMP_API_KEY",
	BackendOpenCodeSDK: "OPENCODE_API_KEY",
}

// MissingEnv reports the provider env vars cfg's backend(s) need but the
// process doesn't have, so callers can log them before a run fails deep
// inside an SDK session.
func MissingEnv(cfg *AgentConfig) []string {
	if cfg == nil {
		return nil
	}
	var missing []string
	if name, ok := sdkEnvVars[cfg.Kind]; ok && os.Getenv(name) == "" {
		missing = append(missing, name)
	}
	if cfg.Kind == BackendSprite && cfg.Sprite != nil {
		missing = append(missing, MissingEnv(cfg.Sprite.Inner)...)
	}
	return missing
}

func collectMissingBinaries(cfg *AgentConfig, missing []string) []string {
	if cfg == nil {
		return missing
	}
	switch cfg.Kind {
	case BackendProcess:
		if cfg.Process != nil && cfg.Process.Command != "" {
			if _, err := exec.LookPath(cfg.Process.Command); err != nil {
				missing = append(missing, cfg.Process.Command)
			}
		}
	case BackendSprite:
		if cfg.Sprite != nil {
			missing = collectMissingBinaries(cfg.Sprite.Inner, missing)
		}
	}
	return missing
}
