package sandbox

import "testing"

func TestVMName(t *testing.T) {
	got := vmName("research/001-foo", "implement")
	want := "wreckit-sandbox-research/001-foo-implement"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestVMNameDefaultsSuffix(t *testing.T) {
	got := vmName("research/001-foo", "")
	want := "wreckit-sandbox-research/001-foo-run"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestManagerLiveReportsRegisteredVMs(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.live["wreckit-sandbox-a-run"] = nil
	m.live["wreckit-sandbox-b-run"] = nil
	if len(m.Live()) != 2 {
		t.Fatalf("expected 2 live vms, got %d", len(m.Live()))
	}
}
