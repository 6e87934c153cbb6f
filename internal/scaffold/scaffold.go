// Package scaffold implements `wreckit init --ai`: an AI-assisted
// alternative to the bare default templates written by plain `wreckit
// init`. It gathers project context, asks an agent to generate the five
// phase templates as file= fenced blocks, validates the batch, and
// writes them under .wreckit/templates/.
package scaffold

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mikehostetler/wreckit/internal/contextgather"
	"github.com/mikehostetler/wreckit/internal/fileblocks"
	"github.com/mikehostetler/wreckit/internal/statemachine"
	"github.com/mikehostetler/wreckit/internal/ux"
)

// phases is the fixed pipeline templates are generated for.
var phases = []string{
	statemachine.PhaseResearch,
	statemachine.PhasePlan,
	statemachine.PhaseImplement,
	statemachine.PhasePR,
	statemachine.PhaseComplete,
}

const maxAttempts = 3

// Init gathers project context, asks an agent to tailor a prompt template
// per phase to this repository, and writes the result under
// <repoRoot>/.wreckit/templates/. On failure after maxAttempts it leaves the
// directory untouched: internal/templates already falls back to its
// built-in defaults for any phase with no file on disk, so a failed AI
// generation degrades gracefully rather than blocking init.
func Init(ctx context.Context, repoRoot string) error {
	fmt.Printf("\n  %sAnalyzing project...%s\n", ux.Dim, ux.Reset)

	pc, err := contextgather.Gather(repoRoot)
	if err != nil {
		return fmt.Errorf("gathering context: %w", err)
	}

	prompt := buildInitPrompt(pc.Render())

	var blocks []fileblocks.FileBlock
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt == 1 {
			fmt.Printf("  %sGenerating phase templates...%s\n", ux.Dim, ux.Reset)
		} else {
			fmt.Printf("  %s retrying (%d/%d): %v%s\n", ux.Yellow, attempt, maxAttempts, lastErr, ux.Reset)
		}
		current := prompt
		if attempt > 1 {
			current = prompt + fmt.Sprintf(retryFeedback, lastErr)
		}
		blocks, lastErr = generateTemplates(ctx, current)
		if lastErr == nil {
			break
		}
	}

	if lastErr != nil {
		fmt.Printf("\n  %s AI generation failed after %d attempts: %v%s\n", ux.Yellow, maxAttempts, lastErr, ux.Reset)
		fmt.Printf("  %sfalling back to built-in phase templates%s\n", ux.Dim, ux.Reset)
		return nil
	}

	written := writeBlocks(repoRoot, blocks)
	fmt.Printf("\n%s%s  Initialized %d AI-generated template(s)%s\n\n", ux.Bold, ux.Green, len(written), ux.Reset)
	for _, path := range written {
		fmt.Printf("    %s%s%s\n", ux.Cyan, path, ux.Reset)
	}
	return nil
}

// generateTemplates calls the agent, parses its file= fenced blocks, and
// rejects the batch unless every phase is covered.
func generateTemplates(ctx context.Context, prompt string) ([]fileblocks.FileBlock, error) {
	out, err := runAgentCapture(ctx, prompt)
	if err != nil {
		return nil, err
	}

	blocks := fileblocks.Parse(out)
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no file blocks in output")
	}

	have := make(map[string]bool)
	for _, b := range blocks {
		have[b.Path] = true
	}
	for _, p := range phases {
		want := templatePath(p)
		if !have[want] {
			return nil, fmt.Errorf("output missing %s", want)
		}
	}
	return blocks, nil
}

func templatePath(phase string) string {
	return filepath.Join(".wreckit", "templates", phase+".md")
}

func writeBlocks(repoRoot string, blocks []fileblocks.FileBlock) []string {
	var written []string
	prefix := filepath.Join(".wreckit", "templates") + string(filepath.Separator)
	for _, b := range blocks {
		if !strings.HasPrefix(b.Path, prefix) {
			continue
		}
		full := filepath.Join(repoRoot, b.Path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			continue
		}
		if err := os.WriteFile(full, []byte(b.Content), 0o644); err != nil {
			continue
		}
		written = append(written, b.Path)
	}
	return written
}

func runAgentCapture(ctx context.Context, prompt string) (string, error) {
	cmd := exec.CommandContext(ctx, "claude", "-p", prompt, "--model", "opus")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	cmd.Env = filteredEnv()
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("agent invocation: %w", err)
	}
	return stdout.String(), nil
}

// filteredEnv strips CLAUDECODE so the spawned agent does not mistake this
// process for a nested wreckit run.
func filteredEnv() []string {
	var env []string
	for _, e := range os.Environ() {
		key := strings.SplitN(e, "=", 2)[0]
		if strings.HasPrefix(key, "CLAUDECODE") {
			continue
		}
		env = append(env, e)
	}
	return env
}
