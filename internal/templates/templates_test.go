package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mikehostetler/wreckit/internal/statemachine"
)

func TestMain_FallsBackToBuiltin(t *testing.T) {
	d := New(t.TempDir())
	for _, phase := range []string{
		statemachine.PhaseResearch, statemachine.PhasePlan, statemachine.PhaseImplement,
		statemachine.PhasePR, statemachine.PhaseComplete,
	} {
		got, err := d.Main(phase)
		if err != nil {
			t.Fatalf("%s: %v", phase, err)
		}
		if !strings.Contains(got, "{{ITEM_ID}}") {
			t.Fatalf("%s: builtin template missing ITEM_ID placeholder: %q", phase, got)
		}
	}
}

func TestMain_FileOverridesBuiltin(t *testing.T) {
	root := t.TempDir()
	d := New(root)
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		t.Fatal(err)
	}
	custom := "custom research prompt for {{ITEM_ID}}"
	if err := os.WriteFile(filepath.Join(d.Root, "research.md"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := d.Main(statemachine.PhaseResearch)
	if err != nil {
		t.Fatal(err)
	}
	if got != custom {
		t.Fatalf("got %q", got)
	}
}

func TestRetry_OnlyImplementHasBuiltin(t *testing.T) {
	d := New(t.TempDir())
	if _, err := d.Retry(statemachine.PhaseImplement); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Retry(statemachine.PhaseResearch); err == nil {
		t.Fatal("expected error: research has no retry template or builtin")
	}
}

func TestCritique_SharedBuiltin(t *testing.T) {
	d := New(t.TempDir())
	got, err := d.Critique(statemachine.PhasePlan)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "{{ITEM_ID}}") {
		t.Fatalf("got %q", got)
	}
}
