// process.go implements the `process` backend kind: an arbitrary
// subprocess whose stdout is decoded as a stream of stream-json events
// (the format the `claude` CLI emits under -p --output-format
// stream-json), with an explicit tool allowlist enforced post-hoc from
// the decoded tool-use events.
package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// defaultForceKillGrace mirrors config.go's runner_force_kill_after_ms
// default, used when a caller leaves opts.ForceKillAfter unset (e.g. a
// Dispatch call made outside phaserunner's config-driven path).
const defaultForceKillGrace = 10 * time.Second

func runProcess(ctx context.Context, p *ProcessParams, cwd, prompt string, opts Options) (AgentResult, error) {
	if p == nil {
		return AgentResult{}, wreckerr.New(wreckerr.KindConfig, "process backend invoked with nil params")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if opts.DryRun {
		return AgentResult{Success: true, Message: "dry run: process not started"}, nil
	}
	if opts.Mock {
		return mockResult(prompt), nil
	}

	cmd := exec.CommandContext(runCtx, p.Command, p.Args...)
	cmd.Dir = cwd
	cmd.Env = buildProcessEnv(opts)
	cmd.Stdin = strings.NewReader(prompt)

	// On timeout, send a graceful stop (SIGTERM to the process group),
	// wait ForceKillAfter for the backend to exit cooperatively, then let
	// exec's own WaitDelay handling force-kill it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	grace := opts.ForceKillAfter
	if grace <= 0 {
		grace = defaultForceKillGrace
	}
	cmd.WaitDelay = grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return AgentResult{}, wreckerr.Wrap(wreckerr.KindAgent, "failed to open stdout pipe", err)
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return AgentResult{}, wreckerr.Wrap(wreckerr.KindAgent, "failed to start agent process", err)
	}

	decoded := decodeProcessStream(runCtx, stdout, opts)

	waitErr := cmd.Wait()
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return AgentResult{
			TimedOut:       true,
			Classification: ClassTimeout,
			Message:        "agent process timed out",
			Stats:          RunStats{Duration: duration, SessionID: decoded.sessionID},
		}, nil
	}

	violations := enforceAllowlist(decoded.toolUses, opts.ToolAllowlist)
	if len(violations) > 0 {
		emitEvent(opts, Event{
			Kind:              EventError,
			ErrMessage:        fmt.Sprintf("disallowed tool use: %s", strings.Join(violations, ", ")),
			ErrClassification: ClassOther,
		})
		return AgentResult{
			PolicyViolated: true,
			Classification: ClassOther,
			Message:        fmt.Sprintf("policy violation: disallowed tool(s) %s", strings.Join(violations, ", ")),
			Stats:          RunStats{Duration: duration, PolicyViolations: violations, SessionID: decoded.sessionID},
		}, nil
	}

	code, runErr := exitCode(waitErr)
	if runErr != nil {
		return AgentResult{}, wreckerr.Wrap(wreckerr.KindAgent, "agent process failed to run", runErr)
	}

	success := code == 0
	if p.CompletionSignal != "" {
		success = success && strings.Contains(decoded.text, p.CompletionSignal)
	}

	result := AgentResult{
		Success: success,
		Message: decoded.text,
		Stats:   RunStats{Duration: duration, SessionID: decoded.sessionID},
	}
	if !success {
		result.Classification = classifyFailure(code, stderrBuf.String())
	}
	emitEvent(opts, Event{Kind: EventRunResult, Result: result})
	return result, nil
}

func buildProcessEnv(opts Options) []string {
	env := os.Environ()
	filtered := env[:0:0]
	for _, e := range env {
		key := strings.SplitN(e, "=", 2)[0]
		if strings.HasPrefix(key, "CLAUDECODE") {
			continue
		}
		filtered = append(filtered, e)
	}
	if opts.ItemID != "" {
		filtered = append(filtered, "WRECKIT_ITEM_ID="+opts.ItemID)
	}
	return filtered
}

func mockResult(prompt string) AgentResult {
	return AgentResult{
		Success: true,
		Message: "mock run for prompt of length " + fmt.Sprint(len(prompt)),
	}
}

func classifyFailure(exitCode int, stderr string) ErrorClassification {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429"):
		return ClassRateLimit
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "401") || strings.Contains(lower, "api key"):
		return ClassAuth
	case strings.Contains(lower, "context length") || strings.Contains(lower, "context window") || strings.Contains(lower, "too many tokens"):
		return ClassContextWindow
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") || strings.Contains(lower, "timeout"):
		return ClassNetwork
	default:
		return ClassOther
	}
}

func enforceAllowlist(used []toolUse, allowlist []string) []string {
	if len(allowlist) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, t := range allowlist {
		allowed[t] = true
	}
	seen := make(map[string]bool)
	var violations []string
	for _, u := range used {
		if !allowed[u.name] && !seen[u.name] {
			seen[u.name] = true
			violations = append(violations, u.name)
		}
	}
	return violations
}

func emitEvent(opts Options, ev Event) {
	if opts.Callbacks.OnEvent != nil {
		opts.Callbacks.OnEvent(ev)
	}
}

type toolUse struct {
	id, name, input string
}

type decodedStream struct {
	text      string
	sessionID string
	toolUses  []toolUse
}

// decodeProcessStream reads newline-delimited stream-json events from
// stdout, forwarding them as dispatch.Events via opts.Callbacks.OnEvent and
// accumulating the assistant text and tool-use record used for allowlist
// enforcement above.
func decodeProcessStream(ctx context.Context, r io.Reader, opts Options) decodedStream {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	var out decodedStream
	var textBuf strings.Builder

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if opts.Callbacks.OnStdout != nil {
			opts.Callbacks.OnStdout(string(line))
		}

		ev, use, sessionID, ok := parseStreamLine(line)
		if !ok {
			continue
		}
		if sessionID != "" {
			out.sessionID = sessionID
		}
		if use != nil {
			out.toolUses = append(out.toolUses, *use)
		}
		if ev != nil {
			if ev.Kind == EventAssistantText {
				textBuf.WriteString(ev.Text)
			}
			emitEvent(opts, *ev)
		}
	}
	out.text = textBuf.String()
	return out
}
