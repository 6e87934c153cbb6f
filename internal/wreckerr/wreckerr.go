// Package wreckerr defines the error taxonomy shared across wreckit's
// core packages and the exit codes the CLI surfaces for each kind.
package wreckerr

import (
	"errors"
	"fmt"
)

// Kind is the top-level error taxonomy.
type Kind string

const (
	KindUsage        Kind = "usage_error"
	KindNotFound     Kind = "not_found"
	KindState        Kind = "state_violation"
	KindAgent        Kind = "agent_error"
	KindGit          Kind = "git_error"
	KindArtifact     Kind = "artifact_error"
	KindConfig       Kind = "config_error"
	KindInterrupted  Kind = "interrupted"
)

// Subkind refines agent, git, and artifact errors.
type Subkind string

const (
	SubAuth               Subkind = "auth"
	SubRateLimit          Subkind = "rate_limit"
	SubContextWindow      Subkind = "context_window"
	SubNetwork            Subkind = "network"
	SubTimeout            Subkind = "timeout"
	SubPolicyViolation    Subkind = "policy_violation"
	SubOther              Subkind = "other"
	SubPushRejected       Subkind = "push_rejected"
	SubWorkingTreeDirty   Subkind = "working_tree_dirty"
	SubPRToolMissing      Subkind = "pr_tool_missing"
	SubDirectMergeDenied  Subkind = "direct_merge_not_allowed"
	SubMissingArtifact    Subkind = "missing_artifact"
	SubMalformedPRD       Subkind = "malformed_prd"
	SubUnknownBackend     Subkind = "unknown_backend"
	SubNoToolsAllowed     Subkind = "no_tools_allowed"
	SubTemplateError      Subkind = "template_error"
)

// Error is wreckit's structured error type. It always carries a Kind and
// may carry a Subkind and an underlying cause.
type Error struct {
	Kind    Kind
	Sub     Subkind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Sub != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s:%s: %s: %v", e.Kind, e.Sub, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s:%s: %s", e.Kind, e.Sub, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a plain Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithSub builds an Error with a refining subkind.
func WithSub(kind Kind, sub Subkind, message string, cause error) *Error {
	return &Error{Kind: kind, Sub: sub, Message: message, Cause: cause}
}

// As is a convenience wrapper over errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ExitCode maps a Kind to the CLI's process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	e, ok := As(err)
	if !ok {
		return 1
	}
	switch e.Kind {
	case KindUsage:
		return 2
	case KindNotFound:
		return 3
	case KindState:
		return 4
	case KindAgent:
		return 5
	case KindGit:
		return 6
	case KindInterrupted:
		return 7
	default:
		return 1
	}
}

// Recoverable reports whether the propagation policy treats
// this error as eligible for an automatic single retry of the phase that
// produced it, or backoff-retry for AgentError network/rate-limit.
func Recoverable(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	switch e.Kind {
	case KindArtifact:
		return true
	case KindAgent:
		return e.Sub == SubNetwork || e.Sub == SubRateLimit
	default:
		return false
	}
}
