package dispatch

import (
	"os"
	"testing"
)

func TestPreflightFindsBinaryOnPath(t *testing.T) {
	cfg := &AgentConfig{Kind: BackendProcess, Process: &ProcessParams{Command: "sh"}}
	if err := Preflight(cfg); err != nil {
		t.Fatal(err)
	}
}

func TestPreflightReportsMissingBinary(t *testing.T) {
	cfg := &AgentConfig{Kind: BackendProcess, Process: &ProcessParams{Command: "definitely-not-on-path-xyz"}}
	if err := Preflight(cfg); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestPreflightChecksSpriteInner(t *testing.T) {
	cfg := &AgentConfig{
		Kind: BackendSprite,
		Sprite: &SpriteParams{
			Inner: &AgentConfig{Kind: BackendProcess, Process: &ProcessParams{Command: "definitely-not-on-path-xyz"}},
		},
	}
	if err := Preflight(cfg); err == nil {
		t.Fatal("expected error for missing inner binary")
	}
}

func TestMissingEnvForSDKBackends(t *testing.T) {
	os.Unsetenv("ANTHROPIC_API_KEY")
	cfg := &AgentConfig{Kind: BackendClaudeSDK, SDK: &SDKParams{}}
	missing := MissingEnv(cfg)
	if len(missing) != 1 || missing[0] != "ANTHROPIC_API_KEY" {
		t.Fatalf("missing = %v", missing)
	}

	t.Setenv("ANTHROPIC_API_KEY", "k")
	if missing := MissingEnv(cfg); len(missing) != 0 {
		t.Fatalf("missing = %v", missing)
	}
}

func TestMissingEnvIgnoresProcessBackend(t *testing.T) {
	cfg := &AgentConfig{Kind: BackendProcess, Process: &ProcessParams{Command: "sh"}}
	if missing := MissingEnv(cfg); len(missing) != 0 {
		t.Fatalf("missing = %v", missing)
	}
}
