package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mikehostetler/wreckit/internal/dispatch"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMigratesLegacyModeProcess(t *testing.T) {
	path := writeConfig(t, `{"agent":{"mode":"process","command":"claude"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Kind != dispatch.BackendProcess {
		t.Fatalf("got kind %s", cfg.Agent.Kind)
	}
	if cfg.Agent.Process.Command != "claude" {
		t.Fatalf("got command %q", cfg.Agent.Process.Command)
	}
}

func TestLoadMigratesLegacyModeSDK(t *testing.T) {
	path := writeConfig(t, `{"agent":{"mode":"sdk","model":"sonnet"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Kind != dispatch.BackendClaudeSDK {
		t.Fatalf("got kind %s", cfg.Agent.Kind)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"agent":{"kind":"process","command":"claude"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BaseBranch != "main" || cfg.MergeMode != MergePR || cfg.Workers != 1 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, `{"agent":{"kind":"telepathy"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown backend kind")
	}
}

func TestLoadPreservesUnknownTopLevelKeys(t *testing.T) {
	path := writeConfig(t, `{"agent":{"kind":"process","command":"claude"},"future_feature":{"x":1}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cfg.Extra["future_feature"]; !ok {
		t.Fatal("expected future_feature to be preserved in Extra")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := writeConfig(t, `{"agent":{"kind":"process","command":"claude","args":["-p"]}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Agent.Kind != cfg.Agent.Kind || reloaded.Agent.Process.Command != cfg.Agent.Process.Command {
		t.Fatalf("round trip mismatch: %+v vs %+v", reloaded.Agent, cfg.Agent)
	}
}

func TestSavePreservesUnknownTopLevelKeys(t *testing.T) {
	path := writeConfig(t, `{"agent":{"kind":"process","command":"claude"},"future_feature":{"x":1},"plugin":"telemetry"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	raw, ok := reloaded.Extra["future_feature"]
	if !ok {
		t.Fatal("future_feature was dropped by Save")
	}
	var future struct {
		X int `json:"x"`
	}
	if err := json.Unmarshal(raw, &future); err != nil || future.X != 1 {
		t.Fatalf("future_feature payload mangled: %s (%v)", raw, err)
	}
	if _, ok := reloaded.Extra["plugin"]; !ok {
		t.Fatal("plugin was dropped by Save")
	}
}
