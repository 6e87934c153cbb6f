package dispatch

import (
	"context"

	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// Runner is the uniform contract every backend kind implements:
// run an agent against (config, cwd, prompt, options) and return an
// AgentResult.
type Runner interface {
	Run(ctx context.Context, cfg *AgentConfig, cwd, prompt string, opts Options) (AgentResult, error)
}

// Dispatch is the single entry point used by the phase runner. It
// validates cfg, then routes to the backend implementation for cfg.Kind.
// Unknown kinds fail with wreckerr.KindConfig/SubUnknownBackend before any
// process or SDK session is started.
func Dispatch(ctx context.Context, cfg *AgentConfig, cwd, prompt string, opts Options) (AgentResult, error) {
	if err := cfg.Validate(); err != nil {
		return AgentResult{}, err
	}

	switch cfg.Kind {
	case BackendProcess:
		return runProcess(ctx, cfg.Process, cwd, prompt, opts)
	case BackendClaudeSDK, BackendCodexSDK, BackendAmpSDK, BackendOpenCodeSDK:
		return runSDK(ctx, cfg.Kind, cfg.SDK, cwd, prompt, opts)
	case BackendRLM:
		return runRLM(ctx, cfg.RLM, cwd, prompt, opts)
	case BackendSprite:
		return runSprite(ctx, cfg.Sprite, cwd, prompt, opts)
	default:
		return AgentResult{}, wreckerr.WithSub(wreckerr.KindConfig, wreckerr.SubUnknownBackend,
			"unknown agent backend kind: "+string(cfg.Kind), nil)
	}
}

// DefaultRunner adapts Dispatch to the Runner interface so callers (the
// orchestrator, tests) can substitute a mock.
type DefaultRunner struct{}

func (DefaultRunner) Run(ctx context.Context, cfg *AgentConfig, cwd, prompt string, opts Options) (AgentResult, error) {
	return Dispatch(ctx, cfg, cwd, prompt, opts)
}
