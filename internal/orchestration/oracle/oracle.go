// Package oracle provides concrete arbiter.Oracle implementations: a
// subprocess-backed oracle that consults a worker-CLI binary in
// non-interactive mode, and an in-memory mock for tests.
package oracle

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/foreflux/conductor/internal/log"
	"github.com/foreflux/conductor/internal/orchestration/arbiter"
)

// SubprocessOracle spawns a one-shot, non-interactive subprocess per
// request: the fixed system prompt and the confirmation context are
// written to its stdin, and its combined stdout is treated as the
// oracle's free-text answer. Unlike the PTY Session (C1), this is not
// long-lived and needs no pseudo-terminal, mirroring the teacher's
// SpawnBuilder shape applied to a one-shot subprocess instead of a
// persistent process.
type SubprocessOracle struct {
	// Command is the executable and fixed arguments, e.g.
	// []string{"claude", "-p", "--output-format", "text"}.
	Command []string
	Env     []string
}

// NewSubprocessOracle constructs a SubprocessOracle for the given command.
func NewSubprocessOracle(command []string, env []string) *SubprocessOracle {
	return &SubprocessOracle{Command: command, Env: env}
}

// Ask implements arbiter.Oracle by spawning Command, writing the prompt
// to its stdin, and reading its stdout. A process that is killed by the
// context deadline surfaces as a plain error (the Hybrid Decision Engine
// applies its Fallback Templates on any non-sentinel error); only an
// explicit "completely unresponsive" substring in the error text is
// treated as a fatal, non-recoverable condition, per spec.md §6.
func (o *SubprocessOracle) Ask(ctx context.Context, req arbiter.Request) (arbiter.Response, error) {
	if len(o.Command) == 0 {
		return arbiter.Response{}, fmt.Errorf("oracle: command is completely unresponsive: no command configured")
	}

	start := time.Now()

	cmd := exec.CommandContext(ctx, o.Command[0], o.Command[1:]...)
	if o.Env != nil {
		cmd.Env = append(os.Environ(), o.Env...)
	}
	cmd.Stdin = strings.NewReader(renderPrompt(req))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return arbiter.Response{}, fmt.Errorf("oracle: request timed out after %s: %w", elapsed, err)
		}
		log.Warn(log.CatArbiter, "oracle subprocess failed", "error", err, "stderr", stderr.String())
		return arbiter.Response{}, fmt.Errorf("oracle: subprocess failed: %w", err)
	}

	return arbiter.Response{Text: stdout.String(), Elapsed: elapsed}, nil
}

func renderPrompt(req arbiter.Request) string {
	var b strings.Builder
	b.WriteString(req.SystemPrompt)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Worker: %s\nTask: %s\nProject: %s\nGoal: %s\n\n", req.WorkerID, req.TaskName, req.ProjectName, req.ProjectGoal)
	b.WriteString("Confirmation prompt: ")
	b.WriteString(req.Message)
	if len(req.Extracted) > 0 {
		b.WriteString("\nExtracted: ")
		for k, v := range req.Extracted {
			fmt.Fprintf(&b, "%s=%s ", k, v)
		}
	}
	return b.String()
}

// MockOracle is a configurable in-memory arbiter.Oracle for tests,
// grounded in the teacher's mock.Client pattern (a function field plus
// call counters, defaulting to a fixed canned response).
type MockOracle struct {
	// AskFunc, if set, is called for every Ask invocation. If nil, Ask
	// returns Response (and Err, if set) unconditionally.
	AskFunc func(ctx context.Context, req arbiter.Request) (arbiter.Response, error)
	Response arbiter.Response
	Err      error

	calls int
}

// NewMockOracle returns a MockOracle that always approves, unless
// overridden via AskFunc/Response/Err.
func NewMockOracle() *MockOracle {
	return &MockOracle{Response: arbiter.Response{Text: "APPROVED: mock oracle default"}}
}

// Ask implements arbiter.Oracle.
func (m *MockOracle) Ask(ctx context.Context, req arbiter.Request) (arbiter.Response, error) {
	m.calls++
	if m.AskFunc != nil {
		return m.AskFunc(ctx, req)
	}
	return m.Response, m.Err
}

// CallCount returns how many times Ask was invoked.
func (m *MockOracle) CallCount() int {
	return m.calls
}
