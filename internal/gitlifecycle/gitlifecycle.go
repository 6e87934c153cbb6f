// Package gitlifecycle drives an item's branch through the git/gh
// lifecycle: ensure-branch, commit-all, push, open-PR, direct-merge, and
// cleanup. Every operation is a fixed, argv-safe `git`/`gh` invocation
// run with exec.CommandContext against a captured stdout/stderr buffer.
package gitlifecycle

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// Lifecycle runs git/gh commands against one repository checkout.
type Lifecycle struct {
	RepoRoot string
}

func New(repoRoot string) *Lifecycle {
	return &Lifecycle{RepoRoot: repoRoot}
}

func (l *Lifecycle) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = l.RepoRoot
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// EnsureBranch checks out branch, creating it from base if it does not
// yet exist locally. It first fetches origin and
// fast-forwards base so new branches fork from current upstream, and
// falls back to a remote-tracking checkout when branch exists on origin
// but not locally. The whole sequence runs under withStash so a dirty
// working tree survives the branch switch.
func (l *Lifecycle) EnsureBranch(ctx context.Context, branch, base string) error {
	if err := l.fetchAndFastForward(ctx, base); err != nil {
		return err
	}
	return l.withStash(ctx, func() error {
		if _, err := l.run(ctx, "git", "rev-parse", "--verify", branch); err == nil {
			if _, err := l.run(ctx, "git", "checkout", branch); err != nil {
				return wreckerr.Wrap(wreckerr.KindGit, "failed to check out existing branch "+branch, err)
			}
			return nil
		}
		if l.remoteBranchExists(ctx, branch) {
			if _, err := l.run(ctx, "git", "checkout", "-b", branch, "--track", "origin/"+branch); err != nil {
				return wreckerr.Wrap(wreckerr.KindGit, "failed to check out remote-tracking branch "+branch, err)
			}
			return nil
		}
		out, err := l.run(ctx, "git", "checkout", "-b", branch, base)
		if err != nil {
			return wreckerr.Wrap(wreckerr.KindGit, "failed to create branch "+branch+" from "+base+": "+out, err)
		}
		return nil
	})
}

// fetchAndFastForward fetches origin and fast-forwards base onto
// origin/base. The fast-forward is best-effort: a base with no upstream, or
// one that has diverged, just leaves base as it stood before the fetch
// rather than failing EnsureBranch outright.
func (l *Lifecycle) fetchAndFastForward(ctx context.Context, base string) error {
	if _, err := l.run(ctx, "git", "fetch", "origin"); err != nil {
		return wreckerr.Wrap(wreckerr.KindGit, "git fetch origin failed", err)
	}
	if _, err := l.run(ctx, "git", "checkout", base); err != nil {
		return wreckerr.Wrap(wreckerr.KindGit, "failed to check out base branch "+base, err)
	}
	l.run(ctx, "git", "merge", "--ff-only", "origin/"+base)
	return nil
}

// remoteBranchExists reports whether branch has a ref on origin.
func (l *Lifecycle) remoteBranchExists(ctx context.Context, branch string) bool {
	_, err := l.run(ctx, "git", "rev-parse", "--verify", "refs/remotes/origin/"+branch)
	return err == nil
}

// withStash wraps a mutating git sequence in a stash/stash-pop pair when
// the working tree starts dirty, so a branch switch (or a failure partway
// through fn) never strands uncommitted work.
func (l *Lifecycle) withStash(ctx context.Context, fn func() error) error {
	dirty, err := l.WorkingTreeDirty(ctx)
	if err != nil {
		return err
	}
	if !dirty {
		return fn()
	}
	if _, err := l.run(ctx, "git", "stash", "push", "-u", "-m", "wreckit: auto-stash before branch switch"); err != nil {
		return wreckerr.Wrap(wreckerr.KindGit, "git stash push failed", err)
	}
	if ferr := fn(); ferr != nil {
		l.run(ctx, "git", "stash", "pop")
		return ferr
	}
	if _, err := l.run(ctx, "git", "stash", "pop"); err != nil {
		// The stashed work could not be restored; the tree is in a
		// partial state only the user can untangle.
		return wreckerr.WithSub(wreckerr.KindGit, wreckerr.SubWorkingTreeDirty,
			"git stash pop failed after branch switch", err)
	}
	return nil
}

// CommitAll stages the whole working tree and commits with message. A
// clean working tree (nothing to commit) is not an error.
func (l *Lifecycle) CommitAll(ctx context.Context, message string) error {
	if _, err := l.run(ctx, "git", "add", "-A"); err != nil {
		return wreckerr.Wrap(wreckerr.KindGit, "git add -A failed", err)
	}
	status, err := l.run(ctx, "git", "status", "--porcelain")
	if err != nil {
		return wreckerr.Wrap(wreckerr.KindGit, "git status failed", err)
	}
	if strings.TrimSpace(status) == "" {
		return nil
	}
	if _, err := l.run(ctx, "git", "commit", "-m", message); err != nil {
		return wreckerr.Wrap(wreckerr.KindGit, "git commit failed", err)
	}
	return nil
}

// PushBranch pushes branch to origin, setting upstream on first push.
// Rejected pushes (the remote has diverged) surface as GitError/PushRejected
// so the phase runner can classify the failure.
func (l *Lifecycle) PushBranch(ctx context.Context, branch string) error {
	out, err := l.run(ctx, "git", "push", "-u", "origin", branch)
	if err != nil {
		if strings.Contains(out, "rejected") || strings.Contains(out, "non-fast-forward") {
			return wreckerr.WithSub(wreckerr.KindGit, wreckerr.SubPushRejected, "push rejected for branch "+branch, err)
		}
		return wreckerr.Wrap(wreckerr.KindGit, "git push failed: "+out, err)
	}
	return nil
}

// PRResult is the outcome of OpenPR.
type PRResult struct {
	URL    string
	Number int
}

// OpenPR opens a pull request via the gh CLI. Requires gh to be present on
// PATH and authenticated; its absence surfaces as PRToolMissing so the
// caller can fall back to direct_merge when merge_mode allows it.
func (l *Lifecycle) OpenPR(ctx context.Context, branch, base, title, body string) (*PRResult, error) {
	if _, err := exec.LookPath("gh"); err != nil {
		return nil, wreckerr.WithSub(wreckerr.KindGit, wreckerr.SubPRToolMissing, "gh CLI not found on PATH", err)
	}
	out, err := l.run(ctx, "gh", "pr", "create", "--head", branch, "--base", base, "--title", title, "--body", body)
	if err != nil {
		return nil, wreckerr.Wrap(wreckerr.KindGit, "gh pr create failed: "+out, err)
	}
	url := strings.TrimSpace(lastLine(out))
	return &PRResult{URL: url, Number: prNumberFromURL(url)}, nil
}

// prNumberFromURL extracts the trailing ".../pull/<n>" number; 0 when the
// URL has no parseable number (the item still records pr_url for audit).
func prNumberFromURL(url string) int {
	idx := strings.LastIndex(url, "/")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(url[idx+1:])
	if err != nil {
		return 0
	}
	return n
}

// PRMerged reports whether the PR opened for branch has been merged, via
// `gh pr view --json state`. Used by the orchestrator's selection policy
// to decide when an in_pr item becomes runnable again for the complete
// phase.
func (l *Lifecycle) PRMerged(ctx context.Context, branch string) (bool, error) {
	if _, err := exec.LookPath("gh"); err != nil {
		return false, wreckerr.WithSub(wreckerr.KindGit, wreckerr.SubPRToolMissing, "gh CLI not found on PATH", err)
	}
	out, err := l.run(ctx, "gh", "pr", "view", branch, "--json", "state", "-q", ".state")
	if err != nil {
		return false, wreckerr.Wrap(wreckerr.KindGit, "gh pr view failed: "+out, err)
	}
	return strings.TrimSpace(out) == "MERGED", nil
}

// DirectMerge fast-forwards base onto branch locally and pushes the
// result, bypassing the PR flow. Only valid when the resolved
// configuration's merge_mode is "direct"; callers enforce that policy
// before invoking this.
func (l *Lifecycle) DirectMerge(ctx context.Context, branch, base string, allowed bool) error {
	if !allowed {
		return wreckerr.WithSub(wreckerr.KindGit, wreckerr.SubDirectMergeDenied,
			"direct merge is not permitted by the configured merge_mode", nil)
	}
	if _, err := l.run(ctx, "git", "checkout", base); err != nil {
		return wreckerr.Wrap(wreckerr.KindGit, "failed to check out base branch "+base, err)
	}
	if out, err := l.run(ctx, "git", "merge", "--ff-only", branch); err != nil {
		return wreckerr.Wrap(wreckerr.KindGit, "git merge --ff-only failed: "+out, err)
	}
	if out, err := l.run(ctx, "git", "push", "origin", base); err != nil {
		return wreckerr.Wrap(wreckerr.KindGit, "git push of merged "+base+" failed: "+out, err)
	}
	return nil
}

// DiffersFrom reports whether the current working tree (committed or not)
// differs from base, the implement phase's "produced some change"
// verification.
func (l *Lifecycle) DiffersFrom(ctx context.Context, base string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--quiet", base, "--")
	cmd.Dir = l.RepoRoot
	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, wreckerr.Wrap(wreckerr.KindGit, "git diff against "+base+" failed", err)
}

// CleanupBranch deletes branch locally and (when remote is true) on
// origin, per the configured branch_cleanup policy.
func (l *Lifecycle) CleanupBranch(ctx context.Context, branch string, remote bool) error {
	if _, err := l.run(ctx, "git", "branch", "-D", branch); err != nil {
		return wreckerr.Wrap(wreckerr.KindGit, "failed to delete local branch "+branch, err)
	}
	if remote {
		if _, err := l.run(ctx, "git", "push", "origin", "--delete", branch); err != nil {
			return wreckerr.Wrap(wreckerr.KindGit, "failed to delete remote branch "+branch, err)
		}
	}
	return nil
}

// WorkingTreeDirty reports whether the checkout has uncommitted changes,
// used as a precondition guard before switching branches.
func (l *Lifecycle) WorkingTreeDirty(ctx context.Context) (bool, error) {
	out, err := l.run(ctx, "git", "status", "--porcelain")
	if err != nil {
		return false, wreckerr.Wrap(wreckerr.KindGit, "git status failed", err)
	}
	return strings.TrimSpace(out) != "", nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return lines[len(lines)-1]
}
