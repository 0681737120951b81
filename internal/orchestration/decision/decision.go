// Package decision implements the deterministic Fallback Templates (C5)
// and the Hybrid Decision Engine (C6) that pipelines the Rule Engine, the
// AI Arbiter, and the Fallback Templates into a single Decision per
// confirmation request.
package decision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/foreflux/conductor/internal/log"
	"github.com/foreflux/conductor/internal/orchestration/confirmation"
	"github.com/foreflux/conductor/internal/orchestration/rules"
)

// Action is the chosen response to a confirmation prompt.
type Action string

const (
	Approve Action = "approve"
	Deny    Action = "deny"
)

// DecidedBy records which stage of the pipeline produced the Decision.
type DecidedBy string

const (
	ByRules    DecidedBy = "rules"
	ByAI       DecidedBy = "ai"
	ByTemplate DecidedBy = "template"
)

// SafetyLevel is the Engine's final safety classification for a Decision,
// per the fixed mapping in spec.md §4.6.
type SafetyLevel string

const (
	SafetySafe       SafetyLevel = "safe"
	SafetyCaution    SafetyLevel = "caution"
	SafetyDangerous  SafetyLevel = "dangerous"
	SafetyProhibited SafetyLevel = "prohibited"
)

// Decision is the outcome of arbitrating one ConfirmationRequest.
type Decision struct {
	Action      Action
	Reasoning   string
	DecidedBy   DecidedBy
	LatencyMs   float64
	IsFallback  bool
	SafetyLevel SafetyLevel
}

// Context carries the identifying details the AI Arbiter needs to ground
// its prompt: worker, task, and project framing.
type Context struct {
	WorkerID    string
	TaskName    string
	ProjectName string
	ProjectGoal string
}

// ArbiterResult is what an AI Arbiter Client returns for a single
// confirmation request it was asked to arbitrate.
type ArbiterResult struct {
	Action     Action
	Reasoning  string
	IsFallback bool
	LatencyMs  float64
}

// Arbiter is the boundary between the Hybrid Decision Engine and the AI
// Arbiter Client (C4). Defining it here — rather than importing the
// concrete arbiter package — keeps C4 a pluggable dependency of C6 instead
// of a hard import, and lets tests substitute an in-memory arbiter.
type Arbiter interface {
	Decide(ctx context.Context, req confirmation.Request, arbCtx Context) (ArbiterResult, error)
}

// ErrArbiterUnresponsive is the fatal classification from spec.md §4.6
// step 3: the arbiter is completely unresponsive, not merely slow. The
// Interactive Worker Session must terminate the worker on this error.
var ErrArbiterUnresponsive = errors.New("arbiter completely unresponsive")

// FallbackDecision is the Fallback Templates component (C5): a pure,
// deterministic mapping from confirmation kind to a safe default. It
// never performs I/O and is used whenever the arbiter throws or times
// out, or has no configured Arbiter at all.
func FallbackDecision(kind confirmation.Kind) Decision {
	switch kind {
	case confirmation.KindFileWrite, confirmation.KindFileRead, confirmation.KindPackageInstall:
		return Decision{Action: Approve, Reasoning: "fallback template: read/write-like prompt defaults to approve", IsFallback: true}
	case confirmation.KindUnknown:
		return Decision{Action: Approve, Reasoning: "fallback template: unrecognized prompt defaults to cautious approve", IsFallback: true}
	case confirmation.KindFileDelete, confirmation.KindCommandExecute, confirmation.KindNetworkAccess:
		return Decision{Action: Deny, Reasoning: "fallback template: destructive-looking prompt defaults to deny", IsFallback: true}
	default:
		// PERMISSION_REQUEST and anything else ambiguous: deny, per
		// spec.md §4.4's "on any remaining ambiguity returns deny".
		return Decision{Action: Deny, Reasoning: "fallback template: ambiguous prompt defaults to deny", IsFallback: true}
	}
}

// Stats is a snapshot of the Engine's cumulative decision provenance
// counters, mirroring hybrid_engine.py's HybridDecisionEngine.get_stats().
type Stats struct {
	RulesDecisions      int64
	AIDecisions         int64
	TemplateDecisions   int64
	CumulativeLatencyMs float64
}

// Engine is the Hybrid Decision Engine (C6): rules -> AI arbiter ->
// fallback templates, with decision provenance and cumulative latency
// tracked under a single mutex shared with the counters (spec.md §5).
type Engine struct {
	rules   *rules.Engine
	arbiter Arbiter

	mu    sync.Mutex
	stats Stats
}

// NewEngine constructs a Hybrid Decision Engine. arbiter may be nil, in
// which case every inconclusive rule result falls straight through to the
// Fallback Templates — useful for tests and for operation without a
// configured oracle.
func NewEngine(ruleEngine *rules.Engine, arbiter Arbiter) *Engine {
	return &Engine{rules: ruleEngine, arbiter: arbiter}
}

// Decide arbitrates req relative to workspaceRoot and arbCtx, returning a
// fatal error only when the AI arbiter is classified as completely
// unresponsive (spec.md §4.6 step 3). Every other outcome — rules
// conclusive, AI success, AI fallback — returns a Decision and a nil
// error.
func (e *Engine) Decide(ctx context.Context, req confirmation.Request, workspaceRoot string, arbCtx Context) (Decision, error) {
	start := time.Now()

	if verdict := e.rules.Evaluate(ctx, req, workspaceRoot); verdict != rules.Inconclusive {
		d := Decision{DecidedBy: ByRules}
		if verdict == rules.Approve {
			d.Action, d.SafetyLevel = Approve, SafetySafe
			d.Reasoning = "rule engine: safe pattern matched"
		} else {
			d.Action, d.SafetyLevel = Deny, SafetyDangerous
			d.Reasoning = "rule engine: dangerous pattern matched"
		}
		d.LatencyMs = elapsedMs(start)
		e.record(d)
		return d, nil
	}

	if e.arbiter == nil {
		d := e.finalizeTemplate(FallbackDecision(req.Kind), start)
		e.record(d)
		return d, nil
	}

	result, err := e.arbiter.Decide(ctx, req, arbCtx)
	if err != nil {
		if errors.Is(err, ErrArbiterUnresponsive) {
			log.Error(log.CatDecision, "arbiter unresponsive, terminating worker", "worker_id", req.WorkerID)
			return Decision{}, fmt.Errorf("decision engine: %w", ErrArbiterUnresponsive)
		}
		log.Warn(log.CatDecision, "arbiter call failed, using fallback template", "worker_id", req.WorkerID, "error", err)
		d := e.finalizeTemplate(FallbackDecision(req.Kind), start)
		e.record(d)
		return d, nil
	}

	if result.IsFallback {
		d := e.finalizeTemplate(Decision{Action: result.Action, Reasoning: result.Reasoning, IsFallback: true}, start)
		e.record(d)
		return d, nil
	}

	d := Decision{
		Action:     result.Action,
		Reasoning:  result.Reasoning,
		DecidedBy:  ByAI,
		IsFallback: false,
		LatencyMs:  elapsedMs(start),
	}
	if d.Action == Approve {
		d.SafetyLevel = SafetyCaution
	} else {
		d.SafetyLevel = SafetyDangerous
	}
	e.record(d)
	return d, nil
}

// finalizeTemplate stamps a Fallback Templates decision with the Engine's
// fixed provenance and safety level (template -> caution, always,
// regardless of the template's own action) and the total pipeline
// latency.
func (e *Engine) finalizeTemplate(d Decision, start time.Time) Decision {
	d.DecidedBy = ByTemplate
	d.IsFallback = true
	d.SafetyLevel = SafetyCaution
	d.LatencyMs = elapsedMs(start)
	return d
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

func (e *Engine) record(d Decision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch d.DecidedBy {
	case ByRules:
		e.stats.RulesDecisions++
	case ByAI:
		e.stats.AIDecisions++
	case ByTemplate:
		e.stats.TemplateDecisions++
	}
	e.stats.CumulativeLatencyMs += d.LatencyMs
}

// Stats returns a snapshot of the Engine's cumulative decision provenance
// counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
