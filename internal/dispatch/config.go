// Package dispatch runs agent backends behind one uniform contract: a
// discriminated union of backend configurations (subprocess binaries,
// hosted SDK sessions, a remote runner, an ephemeral-VM wrapper) routed
// through a single Dispatch entry point that streams events and returns
// a terminal result.
package dispatch

import (
	"time"

	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// BackendKind discriminates the AgentConfig union. The
// union is deliberately open for additions; UnknownBackend is returned by
// Dispatch for any kind not in this list.
type BackendKind string

const (
	BackendProcess    BackendKind = "process"
	BackendClaudeSDK  BackendKind = "claude_sdk"
	BackendCodexSDK   BackendKind = "codex_sdk"
	BackendAmpSDK     BackendKind = "amp_sdk"
	BackendOpenCodeSDK BackendKind = "opencode_sdk"
	BackendRLM        BackendKind = "rlm"
	BackendSprite     BackendKind = "sprite"
)

// PermissionMode gates how much an SDK-backed agent can do without asking
// (mirrors the hosted SDKs' own permission-mode vocabulary).
type PermissionMode string

const (
	PermissionDefault    PermissionMode = "default"
	PermissionAcceptEdits PermissionMode = "accept_edits"
	PermissionBypass     PermissionMode = "bypass"
	PermissionPlan       PermissionMode = "plan"
)

// ProcessParams configures the `process` backend kind: an arbitrary
// subprocess binary given as a command+args+completion-signal triple.
type ProcessParams struct {
	Command          string
	Args             []string
	CompletionSignal string // substring that must appear in stdout for success
}

// SDKParams configures any of the hosted-SDK backend kinds (claude_sdk,
// codex_sdk, amp_sdk, opencode_sdk). The core treats the SDK session
// itself as an opaque runner; only the parameters that
// shape the request are modeled here.
type SDKParams struct {
	Model          string
	MaxTokens      int
	PermissionMode PermissionMode
}

// RLMParams configures the `rlm` backend kind (a remote language-model
// runner contacted over its own protocol, opaque to this core).
type RLMParams struct {
	Endpoint string
	Model    string
}

// SpriteParams configures the `sprite` backend kind, which wraps another
// backend inside an ephemeral remote VM.
type SpriteParams struct {
	VMNamePrefix string // VM is named "wreckit-sandbox-<id>-<suffix>"
	SyncBack     bool   // sync the working tree back to the host on success
	Inner        *AgentConfig
}

// AgentConfig is the discriminated union over backend kinds. Exactly one
// of the Params fields matching Kind is populated.
type AgentConfig struct {
	Kind BackendKind

	Process *ProcessParams
	SDK     *SDKParams
	RLM     *RLMParams
	Sprite  *SpriteParams
}

// Validate rejects unknown kinds and missing params at parse time,
// before any backend session is started.
func (c *AgentConfig) Validate() error {
	switch c.Kind {
	case BackendProcess:
		if c.Process == nil {
			return wreckerr.New(wreckerr.KindConfig, "process backend requires process params")
		}
	case BackendClaudeSDK, BackendCodexSDK, BackendAmpSDK, BackendOpenCodeSDK:
		if c.SDK == nil {
			return wreckerr.New(wreckerr.KindConfig, "sdk backend requires sdk params")
		}
	case BackendRLM:
		if c.RLM == nil {
			return wreckerr.New(wreckerr.KindConfig, "rlm backend requires rlm params")
		}
	case BackendSprite:
		if c.Sprite == nil || c.Sprite.Inner == nil {
			return wreckerr.New(wreckerr.KindConfig, "sprite backend requires sprite params with an inner backend")
		}
		return c.Sprite.Inner.Validate()
	default:
		return wreckerr.WithSub(wreckerr.KindConfig, wreckerr.SubUnknownBackend,
			"unknown agent backend kind: "+string(c.Kind), nil)
	}
	return nil
}

// MCPServerHandle is an opaque descriptor the phase runner passes through
// to the agent, identifying an in-process MCP server the agent session
// should connect to.
type MCPServerHandle struct {
	Name      string
	Transport string // "stdio"
	Addr      string // endpoint descriptor (stdio: a pipe name / fd hint)
}

// Callbacks receives streamed events during a run. All three are optional;
// nil callbacks are simply skipped.
type Callbacks struct {
	OnEvent  func(Event)
	OnStdout func(line string)
	OnStderr func(line string)
}

// Options configures one run_agent invocation.
type Options struct {
	ToolAllowlist []string
	MCPServers    []MCPServerHandle
	Callbacks     Callbacks
	DryRun        bool
	Mock          bool
	Timeout       time.Duration
	ForceKillAfter time.Duration // grace period between graceful stop and force-kill
	ItemID        string
}

// ErrorClassification refines agent failures for run_result/error events.
type ErrorClassification string

const (
	ClassAuth          ErrorClassification = "auth"
	ClassRateLimit     ErrorClassification = "rate_limit"
	ClassContextWindow ErrorClassification = "context_window"
	ClassNetwork       ErrorClassification = "network"
	ClassTimeout       ErrorClassification = "timeout"
	ClassOther         ErrorClassification = "other"
)

// AgentResult is the terminal outcome of run_agent.
type AgentResult struct {
	Success        bool
	TimedOut       bool
	PolicyViolated bool
	Classification ErrorClassification
	Message        string
	Stats          RunStats
}

// RunStats carries lightweight accounting consumed by the phase duration /
// retry-count collector.
type RunStats struct {
	Duration          time.Duration
	PolicyViolations  []string
	SessionID         string
}
