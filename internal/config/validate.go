package config

import (
	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// Validate checks cfg for errors after defaults have been applied.
func Validate(cfg *Configuration) error {
	if cfg.Agent == nil {
		return wreckerr.New(wreckerr.KindConfig, "'agent' is required")
	}
	if err := cfg.Agent.Validate(); err != nil {
		return err
	}

	switch cfg.MergeMode {
	case MergePR, MergeDirect:
	default:
		return wreckerr.New(wreckerr.KindConfig, "merge_mode must be 'pr' or 'direct'")
	}

	if cfg.MergeMode == MergeDirect && cfg.AllowUnsafeDirectMerge && len(cfg.AllowedRemotePatterns) == 0 {
		return wreckerr.New(wreckerr.KindConfig,
			"direct merge mode with allow_unsafe_direct_merge requires at least one allowed_remote_patterns entry")
	}

	if cfg.MaxIterations <= 0 {
		return wreckerr.New(wreckerr.KindConfig, "max_iterations must be > 0")
	}
	if cfg.TimeoutSeconds <= 0 {
		return wreckerr.New(wreckerr.KindConfig, "timeout_seconds must be > 0")
	}
	if cfg.CritiqueMaxRounds <= 0 {
		return wreckerr.New(wreckerr.KindConfig, "critique_max_rounds must be > 0")
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		return wreckerr.New(wreckerr.KindConfig, "drain_timeout_seconds must be > 0")
	}
	if cfg.Workers <= 0 {
		return wreckerr.New(wreckerr.KindConfig, "workers must be > 0")
	}

	for _, check := range cfg.PRChecks {
		if check == "" {
			return wreckerr.New(wreckerr.KindConfig, "pr_checks entries must be non-empty")
		}
	}
	for _, pattern := range cfg.AllowedRemotePatterns {
		if pattern == "" {
			return wreckerr.New(wreckerr.KindConfig, "allowed_remote_patterns entries must be non-empty")
		}
	}

	return nil
}
