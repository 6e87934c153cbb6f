package wreckerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{New(KindUsage, "x"), 2},
		{New(KindNotFound, "x"), 3},
		{New(KindState, "x"), 4},
		{New(KindAgent, "x"), 5},
		{New(KindGit, "x"), 6},
		{New(KindInterrupted, "x"), 7},
		{New(KindArtifact, "x"), 1},
		{New(KindConfig, "x"), 1},
		{errors.New("plain"), 1},
	}
	for _, c := range cases {
		if got := ExitCode(c.err); got != c.want {
			t.Fatalf("ExitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestExitCodeUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", New(KindGit, "push failed"))
	if got := ExitCode(wrapped); got != 6 {
		t.Fatalf("got %d", got)
	}
}

func TestRecoverable(t *testing.T) {
	if !Recoverable(New(KindArtifact, "missing")) {
		t.Fatal("artifact errors are recoverable")
	}
	if !Recoverable(WithSub(KindAgent, SubNetwork, "net", nil)) {
		t.Fatal("agent network errors are recoverable")
	}
	if !Recoverable(WithSub(KindAgent, SubRateLimit, "429", nil)) {
		t.Fatal("agent rate-limit errors are recoverable")
	}
	if Recoverable(WithSub(KindAgent, SubAuth, "401", nil)) {
		t.Fatal("agent auth errors are not recoverable")
	}
	if Recoverable(New(KindGit, "x")) {
		t.Fatal("git errors are not recoverable")
	}
	if Recoverable(errors.New("plain")) {
		t.Fatal("untyped errors are not recoverable")
	}
}

func TestErrorStringIncludesSubkindAndCause(t *testing.T) {
	err := WithSub(KindGit, SubPushRejected, "push rejected", errors.New("remote diverged"))
	got := err.Error()
	want := "git_error:push_rejected: push rejected: remote diverged"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
