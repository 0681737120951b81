// Package worker implements the Interactive Worker Session (C7): one
// asynchronous task per worker, driving it through spawn -> loop(poll,
// detect, decide, respond) -> reap, per spec.md §4.7.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/foreflux/conductor/internal/log"
	"github.com/foreflux/conductor/internal/orchestration/confirmation"
	"github.com/foreflux/conductor/internal/orchestration/decision"
	"github.com/foreflux/conductor/internal/orchestration/events"
	"github.com/foreflux/conductor/internal/orchestration/pty"
	"github.com/foreflux/conductor/internal/orchestration/status"
	"github.com/foreflux/conductor/internal/orchestration/tracing"
	"github.com/foreflux/conductor/internal/orchestration/transcript"
	"github.com/foreflux/conductor/internal/sessions/domain"
)

// Task is the §3 WorkerTask entity, immutable after submission.
type Task struct {
	ID           string
	Name         string
	Prompt       string
	Dependencies map[string]struct{}
}

// Result is the §3 TaskResult entity, returned once a session reaches a
// terminal state.
type Result struct {
	WorkerID     string
	Name         string
	Output       string
	Success      bool
	Duration     time.Duration
	ErrorMessage string
	// TraceID correlates this session's spans (spawn, each confirmation,
	// completion) across whatever exporter tracing.Provider was configured
	// with; empty when tracing is disabled (no-op tracer).
	TraceID string
}

// Config configures how a session spawns and bounds its worker.
type Config struct {
	Command []string
	Env     []string

	// WorkspaceRoot is the parent directory; each session creates
	// WorkspaceRoot/<workerID> as its own workspace directory.
	WorkspaceRoot string

	MaxIterations    int           // default 75, per spec.md §4.7's 50-100 guidance
	ExpectTimeout    time.Duration // default 3s; spec.md §5 caps this at <=3s
	SessionTimeout   time.Duration // default 10m; absolute wall-time budget
	ClosingGrace     time.Duration // default 5s; grace period before force-kill

	ProjectName string
	ProjectGoal string

	// SessionRepo and DecisionRepo, when non-nil, persist this session's
	// lifecycle and every Decision it records into the durable audit
	// ledger (internal/infrastructure/sqlite). Both are optional: a nil
	// repo is a no-op, so sessions run identically whether or not a
	// ledger database is configured.
	SessionRepo  domain.WorkerSessionRepository
	DecisionRepo domain.DecisionRepository
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 75
	}
	if c.ExpectTimeout <= 0 || c.ExpectTimeout > 3*time.Second {
		c.ExpectTimeout = 3 * time.Second
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 10 * time.Minute
	}
	if c.ClosingGrace <= 0 {
		c.ClosingGrace = 5 * time.Second
	}
	return c
}

var completionMarkers = []string{"completed", "done", "success", "finished"}

func containsCompletionMarker(output string) bool {
	lower := strings.ToLower(output)
	for _, m := range completionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Session drives one worker through its entire lifetime. It is exclusively
// owned by the goroutine that calls Run; no method is safe to call
// concurrently from multiple goroutines (per §3's ownership rule).
type Session struct {
	workerID string
	task     Task
	cfg      Config

	decisionEngine *decision.Engine
	statusMon      *status.Monitor
	publisher      *events.Publisher

	detector   *confirmation.Detector
	transcript *transcript.Writer
	tracer     trace.Tracer
	traceID    string

	workspaceDir string

	outputLineCount   int
	confirmationCount int
	confirmationSeq   int

	allOutput strings.Builder

	// ledger is the optional audit-log entity backing this session in
	// SessionRepo/DecisionRepo; nil when no ledger is configured.
	ledger *domain.WorkerSession
}

// NewSession constructs a session for one worker task. The transcript
// writer and workspace directory are created immediately so artifacts
// exist even if Spawn subsequently fails.
func NewSession(workerID string, task Task, cfg Config, decisionEngine *decision.Engine, statusMon *status.Monitor, publisher *events.Publisher) (*Session, error) {
	cfg = cfg.withDefaults()
	workspaceDir := filepath.Join(cfg.WorkspaceRoot, workerID)

	tw, err := transcript.New(workspaceDir, workerID, task.Prompt)
	if err != nil {
		return nil, fmt.Errorf("initializing transcript for worker %s: %w", workerID, err)
	}

	s := &Session{
		workerID:       workerID,
		task:           task,
		cfg:            cfg,
		decisionEngine: decisionEngine,
		statusMon:      statusMon,
		publisher:      publisher,
		detector:       confirmation.NewDetector(),
		transcript:     tw,
		tracer:         otel.Tracer("conductor/worker"),
		traceID:        tracing.GenerateTraceID(),
		workspaceDir:   workspaceDir,
	}

	if cfg.SessionRepo != nil {
		ledger := domain.NewWorkerSession(workerID, task.Name, task.Prompt)
		if err := cfg.SessionRepo.Save(ledger); err != nil {
			log.Warn(log.CatWorker, "failed to persist worker session record", "workerID", workerID, "error", err)
		} else {
			s.ledger = ledger
		}
	}

	return s, nil
}

// saveLedger persists the session's current ledger state, if a
// SessionRepo is configured; failures are demoted to warnings, matching
// spec.md §7's "transcript write errors never halt the worker" policy
// applied to this audit trail as well.
func (s *Session) saveLedger() {
	if s.ledger == nil {
		return
	}
	if err := s.cfg.SessionRepo.Save(s.ledger); err != nil {
		log.Warn(log.CatWorker, "failed to update worker session record", "workerID", s.workerID, "error", err)
	}
}

// Run spawns the worker, drives its interactive loop, and returns the
// final TaskResult. Run always closes the transcript writer before
// returning, regardless of outcome.
func (s *Session) Run(ctx context.Context) (Result, error) {
	defer s.transcript.Close()

	ctx = tracing.ContextWithTraceID(ctx, s.traceID)
	ctx, sessionSpan := s.tracer.Start(ctx, tracing.SpanPrefixWorker+"session",
		trace.WithAttributes(
			attribute.String(tracing.AttrWorkerID, s.workerID),
			attribute.String(tracing.AttrTaskName, s.task.Name),
		),
	)
	defer sessionSpan.End()

	started := time.Now()
	s.statusMon.RegisterWorker(s.workerID, s.task.Name)
	s.publishStatus(status.StateSpawning)

	spawnCtx, spawnSpan := s.tracer.Start(ctx, tracing.SpanPrefixPTY+"spawn",
		trace.WithAttributes(attribute.String(tracing.AttrWorkerID, s.workerID)),
	)
	sess, err := pty.Spawn(spawnCtx, s.cfg.Command, s.cfg.Env, s.workspaceDir)
	if err != nil {
		spawnSpan.RecordError(err)
		spawnSpan.SetStatus(codes.Error, "spawn failed")
		spawnSpan.End()

		s.transcript.AppendOrchestratorEvent("spawn failed: " + err.Error())
		s.statusMon.UpdateState(s.workerID, status.StateError, "", "spawn failed: "+err.Error())
		s.publishStatus(status.StateError)
		sessionSpan.SetStatus(codes.Error, "spawn failed")
		if s.ledger != nil {
			s.ledger.SetTraceID(s.traceID)
			s.ledger.Fail("spawn failed: " + err.Error())
			s.saveLedger()
		}
		return Result{
			WorkerID:     s.workerID,
			Name:         s.task.Name,
			Success:      false,
			Duration:     time.Since(started),
			ErrorMessage: "spawn failed: " + err.Error(),
			TraceID:      s.traceID,
		}, nil
	}
	spawnSpan.End()

	s.statusMon.UpdateState(s.workerID, status.StateRunning, "", "")
	s.publishStatus(status.StateRunning)
	s.transcript.AppendOrchestratorEvent("worker spawned and running")

	if s.ledger != nil {
		s.ledger.SetTraceID(s.traceID)
		s.ledger.Start()
		s.saveLedger()
	}

	deadline := time.Now().Add(s.cfg.SessionTimeout)
	terminalState := status.StateCompleted
	var fatalErr string

loop:
	for iter := 0; iter < s.cfg.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			terminalState = status.StateTerminated
			break loop
		default:
		}
		if time.Now().After(deadline) {
			terminalState = status.StateTerminated
			break loop
		}

		// Expect is the sole primitive here: it scans the PTY's own
		// accumulated buffer for a confirmation pattern without consuming
		// it until a match (or EOF) occurs, per spec.md §4.1/§4.7. Draining
		// via ReadNonblocking here first would steal bytes out from under
		// Expect (they share the same underlying buffer), so any prompt
		// already sitting in the buffer at poll time would be swallowed as
		// plain output and never answered.
		result, err := sess.Expect(s.detector.Patterns(), s.cfg.ExpectTimeout)
		switch {
		case errors.Is(err, pty.ErrTimedOut):
			continue
		case err != nil:
			// EOF or other read termination: worker is done producing output.
			break loop
		default:
			s.drainOutputBytes(result.Prefix)
			if handled := s.handleConfirmation(ctx, sess, result.Prefix); !handled.ok {
				terminalState = status.StateError
				fatalErr = handled.reason
				break loop
			}
		}
	}

	s.drainOutput(sess)

	code, closeErr := sess.Close(s.cfg.ClosingGrace)
	if closeErr != nil {
		log.Warn(log.CatWorker, "pty close error", "workerID", s.workerID, "error", closeErr)
	}

	duration := time.Since(started)
	output := s.allOutput.String()

	var result Result
	switch terminalState {
	case status.StateTerminated:
		result = Result{WorkerID: s.workerID, Name: s.task.Name, Output: output, Success: false, Duration: duration, ErrorMessage: "terminated"}
	case status.StateError:
		result = Result{WorkerID: s.workerID, Name: s.task.Name, Output: output, Success: false, Duration: duration, ErrorMessage: fatalErr}
	default:
		success := code == 0 || (code == -1 && containsCompletionMarker(output))
		errMsg := ""
		if !success {
			if code >= 0 {
				errMsg = fmt.Sprintf("exit code %d", code)
			} else {
				errMsg = "unknown exit status"
			}
			terminalState = status.StateError
		}
		result = Result{WorkerID: s.workerID, Name: s.task.Name, Output: output, Success: success, Duration: duration, ErrorMessage: errMsg}
	}
	result.TraceID = s.traceID

	if s.ledger != nil {
		switch terminalState {
		case status.StateTerminated:
			s.ledger.Terminate(result.ErrorMessage)
		case status.StateError:
			s.ledger.Fail(result.ErrorMessage)
		default:
			s.ledger.Complete()
		}
		s.saveLedger()
	}

	s.statusMon.UpdateState(s.workerID, terminalState, "", result.ErrorMessage)
	s.publishStatus(terminalState)
	s.transcript.AppendOrchestratorEvent(fmt.Sprintf("worker finished: state=%s success=%v", terminalState, result.Success))

	if !result.Success {
		sessionSpan.SetStatus(codes.Error, result.ErrorMessage)
	} else {
		sessionSpan.SetStatus(codes.Ok, "")
	}

	return result, nil
}

// Cancel is the external cancellation path: close the PTY with zero grace
// and let Run observe ctx.Done() or the closed PTY on its next iteration.
// Callers typically cancel the context passed to Run rather than calling
// this directly; it exists for pool-level hard termination.
func (s *Session) Cancel(sess *pty.Session) {
	_, _ = sess.Close(0)
}

func (s *Session) drainOutput(sess *pty.Session) {
	for {
		data, err := sess.ReadNonblocking(64 * 1024)
		if err != nil {
			return
		}
		s.drainOutputBytes(data)
	}
}

func (s *Session) drainOutputBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	s.transcript.AppendRaw(data)
	stripped := ansi.Strip(string(data))
	s.allOutput.WriteString(stripped)

	lines := strings.Count(stripped, "\n")
	if lines > 0 {
		s.outputLineCount += lines
		s.statusMon.UpdateOutputMetrics(s.workerID, s.outputLineCount)
	}
	for _, line := range strings.Split(stripped, "\n") {
		if line == "" {
			continue
		}
		s.publisher.Publish(events.Event{
			Kind:     events.KindLine,
			WorkerID: s.workerID,
			Line:     &events.LinePayload{WorkerID: s.workerID, Content: line},
		})
	}
}

type confirmationOutcome struct {
	ok     bool
	reason string
}

// handleConfirmation implements §4.7 step 3c: records the output entry,
// builds the ConfirmationRequest, consults the Hybrid Decision Engine, and
// writes the response back into the PTY.
func (s *Session) handleConfirmation(ctx context.Context, sess *pty.Session, prefix []byte) confirmationOutcome {
	ctx, span := s.tracer.Start(ctx, tracing.SpanPrefixWorker+"confirmation",
		trace.WithAttributes(attribute.String(tracing.AttrWorkerID, s.workerID)),
	)
	defer span.End()

	content := ansi.Strip(string(prefix))

	_ = s.transcript.AppendDialogue(transcript.DialogueEntry{
		Timestamp: nowSeconds(),
		Direction: transcript.DirectionWorkerToOrchestrator,
		Content:   content,
		Type:      transcript.KindOutput,
	})

	req, ok := s.detector.Detect(s.workerID, content)
	if !ok {
		req = confirmation.Request{WorkerID: s.workerID, Kind: confirmation.KindUnknown, RawMessage: content}
	}
	span.SetAttributes(attribute.String(tracing.AttrConfirmationKind, string(req.Kind)))
	span.AddEvent(tracing.EventConfirmationSeen)

	s.confirmationCount++
	s.confirmationSeq++
	if s.ledger != nil {
		s.ledger.IncrementConfirmationCount()
		s.saveLedger()
	}
	s.statusMon.UpdateConfirmationCount(s.workerID, s.confirmationCount)
	s.statusMon.UpdateState(s.workerID, status.StateWaiting, "", "")
	s.publishStatus(status.StateWaiting)
	s.transcript.AppendOrchestratorEvent(fmt.Sprintf("confirmation #%d observed: kind=%s", s.confirmationSeq, req.Kind))

	arbCtx := decision.Context{
		WorkerID:    s.workerID,
		TaskName:    s.task.Name,
		ProjectName: s.cfg.ProjectName,
		ProjectGoal: s.cfg.ProjectGoal,
	}

	dec, err := s.decisionEngine.Decide(ctx, req, s.workspaceDir, arbCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "arbiter unresponsive")
		s.transcript.AppendOrchestratorEvent("fatal: " + err.Error())
		// No "yes"/"no" is ever written to the pty on this path, but
		// confirmationCount was already incremented above; record a
		// response entry here too so invariant 3 (confirmation_count
		// equals the number of orchestrator→worker entries) still holds
		// even though the session is about to terminate.
		_ = s.transcript.AppendDialogue(transcript.DialogueEntry{
			Timestamp:        nowSeconds(),
			Direction:        transcript.DirectionOrchestratorToWorker,
			Content:          "session terminated: arbiter unresponsive",
			Type:             transcript.KindResponse,
			ConfirmationKind: string(req.Kind),
		})
		return confirmationOutcome{ok: false, reason: "arbiter unresponsive"}
	}
	span.SetAttributes(
		attribute.String(tracing.AttrDecisionAction, string(dec.Action)),
		attribute.String(tracing.AttrDecidedBy, string(dec.DecidedBy)),
		attribute.String(tracing.AttrSafetyLevel, string(dec.SafetyLevel)),
	)
	span.AddEvent(tracing.EventDecisionMade)

	s.transcript.AppendOrchestratorEvent(fmt.Sprintf("decision #%d: action=%s decided_by=%s safety=%s latency_ms=%.2f", s.confirmationSeq, dec.Action, dec.DecidedBy, dec.SafetyLevel, dec.LatencyMs))
	if s.ledger != nil && s.cfg.DecisionRepo != nil && s.ledger.ID() != 0 {
		record := domain.NewDecision(s.ledger.ID(), string(req.Kind), string(dec.Action), string(dec.DecidedBy), string(dec.SafetyLevel), dec.Reasoning, int64(dec.LatencyMs))
		if err := s.cfg.DecisionRepo.Save(record); err != nil {
			log.Warn(log.CatWorker, "failed to persist decision record", "workerID", s.workerID, "error", err)
		}
	}
	s.publisher.Publish(events.Event{
		Kind:     events.KindDecision,
		WorkerID: s.workerID,
		Decision: &events.DecisionPayload{
			WorkerID:         s.workerID,
			ConfirmationKind: string(req.Kind),
			Action:           string(dec.Action),
			DecidedBy:        string(dec.DecidedBy),
			LatencyMs:        dec.LatencyMs,
			IsFallback:       dec.IsFallback,
			SafetyLevel:      string(dec.SafetyLevel),
		},
	})

	response := "no"
	if dec.Action == decision.Approve {
		response = "yes"
	}
	if err := sess.WriteLine(response); err != nil {
		log.Warn(log.CatWorker, "failed writing response to pty", "workerID", s.workerID, "error", err)
	}
	span.AddEvent(tracing.EventResponseWritten)

	_ = s.transcript.AppendDialogue(transcript.DialogueEntry{
		Timestamp:        nowSeconds(),
		Direction:        transcript.DirectionOrchestratorToWorker,
		Content:          response,
		Type:             transcript.KindResponse,
		ConfirmationKind: string(req.Kind),
		MatchedMessage:   content,
	})

	s.statusMon.UpdateState(s.workerID, status.StateRunning, "", "")
	s.publishStatus(status.StateRunning)

	return confirmationOutcome{ok: true}
}

func (s *Session) publishStatus(state status.State) {
	snap, ok := s.statusMon.Get(s.workerID)
	if !ok {
		return
	}
	s.publisher.Publish(events.Event{
		Kind:     events.KindStatus,
		WorkerID: s.workerID,
		Status: &events.StatusPayload{
			WorkerID:          s.workerID,
			State:             string(state),
			OutputLines:       snap.OutputLines,
			ConfirmationCount: snap.ConfirmationCount,
			Health:            string(snap.Health),
		},
	})
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
