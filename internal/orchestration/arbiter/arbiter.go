// Package arbiter implements the AI Arbiter Client (C4): a request/response
// adapter that turns an inconclusive confirmation prompt into an
// {action, reasoning} pair by consulting an external reasoning oracle.
package arbiter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/foreflux/conductor/internal/log"
	"github.com/foreflux/conductor/internal/orchestration/confirmation"
	"github.com/foreflux/conductor/internal/orchestration/decision"
	"github.com/foreflux/conductor/internal/orchestration/tracing"
)

// sentinelUnresponsive is the exact phrase an Oracle surfaces to signal
// that it is not merely slow but completely unresponsive, per spec.md §6.
const sentinelUnresponsive = "completely unresponsive"

// Request is the text sent to the oracle: a fixed system prompt, a
// context block identifying the worker/task/project, and the raw
// confirmation prompt with its extracted details.
type Request struct {
	SystemPrompt string
	WorkerID     string
	TaskName     string
	ProjectName  string
	ProjectGoal  string
	Message      string
	Extracted    map[string]string
}

// Response is the oracle's free-text answer and how long it took.
type Response struct {
	Text    string
	Elapsed time.Duration
}

// Oracle is the external reasoning boundary (spec.md §6's "AI Arbiter
// boundary"): a pure request/response I/O call. Implementations own their
// own transport (subprocess, HTTP, in-memory stub for tests) and must not
// leak that choice into this package.
type Oracle interface {
	Ask(ctx context.Context, req Request) (Response, error)
}

// SystemPrompt fixes the oracle's role, the two accepted response shapes,
// and the required safety posture, per spec.md §4.4.
const SystemPrompt = `You are a safety arbiter for an autonomous coding agent. ` +
	`You will be shown a confirmation prompt the agent printed before taking an action. ` +
	`Respond with exactly one of the following two forms, nothing else:
APPROVED: <one to two sentence reason>
DENIED: <one to two sentence reason>
Default to DENIED when the action is ambiguous or potentially destructive.`

// Client adapts an Oracle into the decision.Arbiter interface the Hybrid
// Decision Engine (C6) consumes.
type Client struct {
	oracle  Oracle
	timeout time.Duration
	tracer  trace.Tracer
}

// New constructs a Client. timeout bounds each oracle call (spec.md §5:
// "AI Arbiter calls (network-bounded timeout)"). The tracer is whatever
// the process installed via tracing.NewProvider; a nil global provider
// yields a zero-overhead no-op tracer.
func New(oracle Oracle, timeout time.Duration) *Client {
	return &Client{oracle: oracle, timeout: timeout, tracer: otel.Tracer("conductor/arbiter")}
}

// Decide implements decision.Arbiter. It never returns a fatal error
// except when the oracle reports complete unresponsiveness; ordinary
// transport failures and timeouts are surfaced as a plain error so the
// Hybrid Decision Engine applies the Fallback Templates itself.
func (c *Client) Decide(ctx context.Context, req confirmation.Request, arbCtx decision.Context) (decision.ArbiterResult, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanPrefixArbiter+"request",
		trace.WithAttributes(attribute.String(tracing.AttrWorkerID, req.WorkerID)),
	)
	defer span.End()

	start := time.Now()

	callCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.oracle.Ask(callCtx, Request{
		SystemPrompt: SystemPrompt,
		WorkerID:     req.WorkerID,
		TaskName:     arbCtx.TaskName,
		ProjectName:  arbCtx.ProjectName,
		ProjectGoal:  arbCtx.ProjectGoal,
		Message:      req.RawMessage,
		Extracted:    req.Extracted,
	})
	latency := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), sentinelUnresponsive) {
			return decision.ArbiterResult{}, fmt.Errorf("arbiter: %w", decision.ErrArbiterUnresponsive)
		}
		log.Warn(log.CatArbiter, "oracle call failed", "worker_id", req.WorkerID, "error", err)
		return decision.ArbiterResult{}, fmt.Errorf("arbiter: oracle call failed: %w", err)
	}

	action, reasoning := Parse(resp.Text)
	return decision.ArbiterResult{
		Action:    action,
		Reasoning: reasoning,
		LatencyMs: latency,
	}, nil
}

var (
	approvedPattern = regexp.MustCompile(`(?i)^\s*approved:?\s*(.*)$`)
	deniedPattern   = regexp.MustCompile(`(?i)^\s*denied:?\s*(.*)$`)
	approveWord     = regexp.MustCompile(`(?i)\bapprove\b`)
	denyWord        = regexp.MustCompile(`(?i)\bdeny\b`)
)

var approveKeywords = []string{"yes", "approve", "safe", "ok"}
var denyKeywords = []string{"no", "deny", "dangerous", "unsafe"}

// Parse extracts an {action, reasoning} pair from free-text oracle
// output, tolerating the exact APPROVED:/DENIED: forms, the bare
// APPROVE/DENY forms, and a last-resort keyword inference; on remaining
// ambiguity it returns deny, per spec.md §4.4.
func Parse(text string) (decision.Action, string) {
	trimmed := strings.TrimSpace(text)

	if m := approvedPattern.FindStringSubmatch(trimmed); m != nil {
		return decision.Approve, reasonOrDefault(m[1], "approved")
	}
	if m := deniedPattern.FindStringSubmatch(trimmed); m != nil {
		return decision.Deny, reasonOrDefault(m[1], "denied")
	}
	if approveWord.MatchString(trimmed) && !denyWord.MatchString(trimmed) {
		return decision.Approve, trimmed
	}
	if denyWord.MatchString(trimmed) && !approveWord.MatchString(trimmed) {
		return decision.Deny, trimmed
	}

	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(trimmed), func(r rune) bool { return !unicode.IsLetter(r) }) {
		words[w] = true
	}
	approveHits, denyHits := 0, 0
	for _, w := range approveKeywords {
		if words[w] {
			approveHits++
		}
	}
	for _, w := range denyKeywords {
		if words[w] {
			denyHits++
		}
	}
	switch {
	case approveHits > denyHits:
		return decision.Approve, trimmed
	case denyHits > 0:
		return decision.Deny, trimmed
	default:
		return decision.Deny, "ambiguous oracle response, defaulting to deny: " + trimmed
	}
}

func reasonOrDefault(reason, fallback string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fallback
	}
	return reason
}
