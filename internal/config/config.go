// Package config loads wreckit's resolved configuration from
// <root>/.wreckit/config.json, including the legacy mode->kind agent
// migration.
package config

import (
	"encoding/json"
	"os"

	"github.com/mikehostetler/wreckit/internal/dispatch"
	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// MergeMode selects how the pr phase lands an item's branch.
type MergeMode string

const (
	MergePR     MergeMode = "pr"
	MergeDirect MergeMode = "direct"
)

// BranchCleanupPolicy controls whether cleanup_branch deletes the remote
// copy too.
type BranchCleanupPolicy struct {
	DeleteLocal  bool `json:"delete_local"`
	DeleteRemote bool `json:"delete_remote"`
}

// SandboxPolicy configures the `sprite` backend's VM lifecycle defaults.
type SandboxPolicy struct {
	Enabled      bool   `json:"enabled"`
	VMNamePrefix string `json:"vm_name_prefix,omitempty"`
	SyncBack     bool   `json:"sync_back"`
}

// rawAgent is the on-disk shape of the "agent" key, accepting both the
// legacy {mode:"process"|"sdk", ...} form and the current
// {kind:"process"|"claude_sdk"|..., ...} tagged union.
type rawAgent struct {
	Mode string `json:"mode,omitempty"`
	Kind string `json:"kind,omitempty"`

	Command          string   `json:"command,omitempty"`
	Args             []string `json:"args,omitempty"`
	CompletionSignal string   `json:"completion_signal,omitempty"`

	Model          string `json:"model,omitempty"`
	MaxTokens      int    `json:"max_tokens,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`

	Endpoint string `json:"endpoint,omitempty"`

	VMNamePrefix string    `json:"vm_name_prefix,omitempty"`
	SyncBack     bool      `json:"sync_back,omitempty"`
	Inner        *rawAgent `json:"inner,omitempty"`
}

// migrate converts a legacy `mode` value into the current `kind` tagged
// union, preserving every other field unchanged.
func (r *rawAgent) migrate() {
	if r.Kind != "" || r.Mode == "" {
		return
	}
	switch r.Mode {
	case "process":
		r.Kind = string(dispatch.BackendProcess)
	case "sdk":
		r.Kind = string(dispatch.BackendClaudeSDK)
	}
	r.Mode = ""
}

func (r *rawAgent) toAgentConfig() (*dispatch.AgentConfig, error) {
	r.migrate()
	cfg := &dispatch.AgentConfig{Kind: dispatch.BackendKind(r.Kind)}
	switch cfg.Kind {
	case dispatch.BackendProcess:
		cfg.Process = &dispatch.ProcessParams{
			Command:          r.Command,
			Args:             r.Args,
			CompletionSignal: r.CompletionSignal,
		}
	case dispatch.BackendClaudeSDK, dispatch.BackendCodexSDK, dispatch.BackendAmpSDK, dispatch.BackendOpenCodeSDK:
		cfg.SDK = &dispatch.SDKParams{
			Model:          r.Model,
			MaxTokens:      r.MaxTokens,
			PermissionMode: dispatch.PermissionMode(r.PermissionMode),
		}
		if cfg.SDK.PermissionMode == "" {
			cfg.SDK.PermissionMode = dispatch.PermissionDefault
		}
	case dispatch.BackendRLM:
		cfg.RLM = &dispatch.RLMParams{Endpoint: r.Endpoint, Model: r.Model}
	case dispatch.BackendSprite:
		if r.Inner == nil {
			return nil, wreckerr.New(wreckerr.KindConfig, "sprite agent config requires an inner backend")
		}
		inner, err := r.Inner.toAgentConfig()
		if err != nil {
			return nil, err
		}
		cfg.Sprite = &dispatch.SpriteParams{VMNamePrefix: r.VMNamePrefix, SyncBack: r.SyncBack, Inner: inner}
	default:
		return nil, wreckerr.WithSub(wreckerr.KindConfig, wreckerr.SubUnknownBackend,
			"unknown or missing agent kind/mode in config", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// rawConfig is the literal on-disk JSON document.
type rawConfig struct {
	BaseBranch             string              `json:"base_branch"`
	BranchPrefix           string              `json:"branch_prefix"`
	MergeMode              string              `json:"merge_mode"`
	Agent                  rawAgent            `json:"agent"`
	MaxIterations          int                 `json:"max_iterations"`
	TimeoutSeconds         int                 `json:"timeout_seconds"`
	PRChecks               []string            `json:"pr_checks"`
	BranchCleanup          BranchCleanupPolicy `json:"branch_cleanup"`
	Sandbox                SandboxPolicy       `json:"sandbox"`
	AllowedRemotePatterns  []string            `json:"allowed_remote_patterns"`
	AllowUnsafeDirectMerge bool                `json:"allow_unsafe_direct_merge"`
	CritiqueMaxRounds      int                 `json:"critique_max_rounds"`
	CritiquePhases         []string            `json:"critique_phases"`
	DrainTimeoutSeconds    int                 `json:"drain_timeout_seconds"`
	RunnerForceKillAfterMS int                 `json:"runner_force_kill_after_ms"`
	Workers                int                 `json:"workers"`
	SectionPriority        []string            `json:"section_priority"`
}

// Configuration is the fully resolved, in-memory form of config.json.
type Configuration struct {
	BaseBranch             string
	BranchPrefix           string
	MergeMode              MergeMode
	Agent                  *dispatch.AgentConfig
	MaxIterations          int
	TimeoutSeconds         int
	PRChecks               []string
	BranchCleanup          BranchCleanupPolicy
	Sandbox                SandboxPolicy
	AllowedRemotePatterns  []string
	AllowUnsafeDirectMerge bool
	CritiqueMaxRounds      int
	CritiquePhases         map[string]bool
	DrainTimeoutSeconds    int
	RunnerForceKillAfterMS int
	Workers                int
	SectionPriority        []string

	// Extra preserves unknown top-level keys verbatim.
	Extra map[string]json.RawMessage
}

var knownTopLevelKeys = map[string]bool{
	"base_branch": true, "branch_prefix": true, "merge_mode": true, "agent": true,
	"max_iterations": true, "timeout_seconds": true, "pr_checks": true,
	"branch_cleanup": true, "sandbox": true, "allowed_remote_patterns": true,
	"allow_unsafe_direct_merge": true, "critique_max_rounds": true, "critique_phases": true,
	"drain_timeout_seconds": true, "runner_force_kill_after_ms": true, "workers": true,
	"section_priority": true,
}

// Load reads, migrates, and validates path, defaulting absent fields.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wreckerr.Wrap(wreckerr.KindConfig, "failed to read config file", err)
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, wreckerr.Wrap(wreckerr.KindConfig, "failed to parse config file", err)
	}

	extra := make(map[string]json.RawMessage)
	var everything map[string]json.RawMessage
	if err := json.Unmarshal(data, &everything); err == nil {
		for k, v := range everything {
			if !knownTopLevelKeys[k] {
				extra[k] = v
			}
		}
	}

	agentCfg, err := raw.Agent.toAgentConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Configuration{
		BaseBranch:             raw.BaseBranch,
		BranchPrefix:           raw.BranchPrefix,
		MergeMode:              MergeMode(raw.MergeMode),
		Agent:                  agentCfg,
		MaxIterations:          raw.MaxIterations,
		TimeoutSeconds:         raw.TimeoutSeconds,
		PRChecks:               raw.PRChecks,
		BranchCleanup:          raw.BranchCleanup,
		Sandbox:                raw.Sandbox,
		AllowedRemotePatterns:  raw.AllowedRemotePatterns,
		AllowUnsafeDirectMerge: raw.AllowUnsafeDirectMerge,
		CritiqueMaxRounds:      raw.CritiqueMaxRounds,
		DrainTimeoutSeconds:    raw.DrainTimeoutSeconds,
		RunnerForceKillAfterMS: raw.RunnerForceKillAfterMS,
		Workers:                raw.Workers,
		SectionPriority:        raw.SectionPriority,
		Extra:                  extra,
	}
	cfg.CritiquePhases = make(map[string]bool, len(raw.CritiquePhases))
	for _, p := range raw.CritiquePhases {
		cfg.CritiquePhases[p] = true
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Configuration) {
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "wreckit/"
	}
	if cfg.MergeMode == "" {
		cfg.MergeMode = MergePR
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 10
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 1800
	}
	if cfg.CritiqueMaxRounds == 0 {
		cfg.CritiqueMaxRounds = 3
	}
	if cfg.DrainTimeoutSeconds == 0 {
		cfg.DrainTimeoutSeconds = 60
	}
	if cfg.RunnerForceKillAfterMS == 0 {
		cfg.RunnerForceKillAfterMS = 10000
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
}

// Save writes cfg back to path in the current (non-legacy) form, used by
// `init` to materialize a fresh config.json and by tests asserting
// round-trip stability.
func Save(path string, cfg *Configuration) error {
	raw := rawConfig{
		BaseBranch:             cfg.BaseBranch,
		BranchPrefix:           cfg.BranchPrefix,
		MergeMode:              string(cfg.MergeMode),
		MaxIterations:          cfg.MaxIterations,
		TimeoutSeconds:         cfg.TimeoutSeconds,
		PRChecks:               cfg.PRChecks,
		BranchCleanup:          cfg.BranchCleanup,
		Sandbox:                cfg.Sandbox,
		AllowedRemotePatterns:  cfg.AllowedRemotePatterns,
		AllowUnsafeDirectMerge: cfg.AllowUnsafeDirectMerge,
		CritiqueMaxRounds:      cfg.CritiqueMaxRounds,
		DrainTimeoutSeconds:    cfg.DrainTimeoutSeconds,
		RunnerForceKillAfterMS: cfg.RunnerForceKillAfterMS,
		Workers:                cfg.Workers,
		SectionPriority:        cfg.SectionPriority,
	}
	for p := range cfg.CritiquePhases {
		raw.CritiquePhases = append(raw.CritiquePhases, p)
	}
	if cfg.Agent != nil {
		raw.Agent = fromAgentConfig(cfg.Agent)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return wreckerr.Wrap(wreckerr.KindConfig, "failed to marshal config", err)
	}

	// Unknown top-level keys preserved by Load ride along on save; known
	// keys always win over a stale Extra entry.
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return wreckerr.Wrap(wreckerr.KindConfig, "failed to merge config document", err)
	}
	for k, v := range cfg.Extra {
		if _, known := doc[k]; !known {
			doc[k] = v
		}
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return wreckerr.Wrap(wreckerr.KindConfig, "failed to marshal config", err)
	}
	return writeFileAtomic(path, out, 0o644)
}

func fromAgentConfig(cfg *dispatch.AgentConfig) rawAgent {
	r := rawAgent{Kind: string(cfg.Kind)}
	switch cfg.Kind {
	case dispatch.BackendProcess:
		if cfg.Process != nil {
			r.Command = cfg.Process.Command
			r.Args = cfg.Process.Args
			r.CompletionSignal = cfg.Process.CompletionSignal
		}
	case dispatch.BackendClaudeSDK, dispatch.BackendCodexSDK, dispatch.BackendAmpSDK, dispatch.BackendOpenCodeSDK:
		if cfg.SDK != nil {
			r.Model = cfg.SDK.Model
			r.MaxTokens = cfg.SDK.MaxTokens
			r.PermissionMode = string(cfg.SDK.PermissionMode)
		}
	case dispatch.BackendRLM:
		if cfg.RLM != nil {
			r.Endpoint = cfg.RLM.Endpoint
			r.Model = cfg.RLM.Model
		}
	case dispatch.BackendSprite:
		if cfg.Sprite != nil {
			r.VMNamePrefix = cfg.Sprite.VMNamePrefix
			r.SyncBack = cfg.Sprite.SyncBack
			if cfg.Sprite.Inner != nil {
				inner := fromAgentConfig(cfg.Sprite.Inner)
				r.Inner = &inner
			}
		}
	}
	return r
}
