// Package domain provides the pure domain layer for the decision ledger
// and session index: no infrastructure dependencies, encapsulated entity
// state accessed through constructors and getter/mutator methods, and
// domain-specific error types. Infrastructure (SQLite) lives in
// internal/infrastructure/sqlite and depends on this package, never the
// other way around.
package domain

import "time"

// WorkerSessionState represents the lifecycle state of a worker session.
type WorkerSessionState string

const (
	// WorkerSessionStatePending indicates the session has been recorded
	// but has not yet spawned its PTY.
	WorkerSessionStatePending WorkerSessionState = "pending"

	// WorkerSessionStateRunning indicates the session's PTY is active.
	WorkerSessionStateRunning WorkerSessionState = "running"

	// WorkerSessionStateCompleted indicates the session exited
	// successfully.
	WorkerSessionStateCompleted WorkerSessionState = "completed"

	// WorkerSessionStateFailed indicates the session exited with an
	// error, or the confirmation arbiter reported fatal unresponsiveness.
	WorkerSessionStateFailed WorkerSessionState = "failed"

	// WorkerSessionStateTerminated indicates the session was force-killed
	// on a session or pool timeout.
	WorkerSessionStateTerminated WorkerSessionState = "terminated"
)

// String returns the string representation of the state.
func (s WorkerSessionState) String() string {
	return string(s)
}

// IsValid returns true if the state is a recognized worker session state.
func (s WorkerSessionState) IsValid() bool {
	switch s {
	case WorkerSessionStatePending, WorkerSessionStateRunning, WorkerSessionStateCompleted,
		WorkerSessionStateFailed, WorkerSessionStateTerminated:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state ends the session's lifecycle.
func (s WorkerSessionState) IsTerminal() bool {
	switch s {
	case WorkerSessionStateCompleted, WorkerSessionStateFailed, WorkerSessionStateTerminated:
		return true
	default:
		return false
	}
}

// WorkerSession is the audit-log entity for one Interactive Worker
// Session: a single PTY-supervised worker run, from submission through
// its terminal outcome. All fields are unexported to enforce
// encapsulation; use the constructor and getter/mutator methods to
// access data.
type WorkerSession struct {
	id      int64
	workerID string
	taskName string
	prompt   string
	state    WorkerSessionState

	traceID           string
	confirmationCount int
	errorMessage       string

	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
	updatedAt   time.Time
}

// NewWorkerSession creates a new pending WorkerSession for a submitted
// task. The ID is left as zero; it is assigned by the persistence layer.
func NewWorkerSession(workerID, taskName, prompt string) *WorkerSession {
	now := time.Now()
	return &WorkerSession{
		workerID:  workerID,
		taskName:  taskName,
		prompt:    prompt,
		state:     WorkerSessionStatePending,
		createdAt: now,
		updatedAt: now,
	}
}

// ReconstituteWorkerSession creates a WorkerSession from existing data,
// typically when hydrating from the database.
func ReconstituteWorkerSession(
	id int64,
	workerID, taskName, prompt string,
	state WorkerSessionState,
	traceID string,
	confirmationCount int,
	errorMessage string,
	createdAt time.Time,
	startedAt, completedAt *time.Time,
	updatedAt time.Time,
) *WorkerSession {
	return &WorkerSession{
		id:                id,
		workerID:          workerID,
		taskName:          taskName,
		prompt:            prompt,
		state:             state,
		traceID:           traceID,
		confirmationCount: confirmationCount,
		errorMessage:      errorMessage,
		createdAt:         createdAt,
		startedAt:         startedAt,
		completedAt:       completedAt,
		updatedAt:         updatedAt,
	}
}

// ID returns the database identifier for this session.
// Returns 0 for newly created sessions that haven't been persisted.
func (s *WorkerSession) ID() int64 { return s.id }

// SetID assigns the database-generated identifier after an insert.
func (s *WorkerSession) SetID(id int64) { s.id = id }

// WorkerID returns the worker identifier (equal to the originating
// task's ID).
func (s *WorkerSession) WorkerID() string { return s.workerID }

// TaskName returns the human-readable task name.
func (s *WorkerSession) TaskName() string { return s.taskName }

// Prompt returns the task prompt given to the worker.
func (s *WorkerSession) Prompt() string { return s.prompt }

// State returns the current lifecycle state.
func (s *WorkerSession) State() WorkerSessionState { return s.state }

// TraceID returns the OpenTelemetry trace correlating this session's
// spans, or "" if tracing was disabled.
func (s *WorkerSession) TraceID() string { return s.traceID }

// ConfirmationCount returns how many confirmation prompts this session
// has handled so far.
func (s *WorkerSession) ConfirmationCount() int { return s.confirmationCount }

// ErrorMessage returns the terminal error description, if any.
func (s *WorkerSession) ErrorMessage() string { return s.errorMessage }

// CreatedAt returns when this session was recorded.
func (s *WorkerSession) CreatedAt() time.Time { return s.createdAt }

// StartedAt returns when the PTY was spawned, if it has been.
func (s *WorkerSession) StartedAt() *time.Time { return s.startedAt }

// CompletedAt returns when the session reached a terminal state, if it
// has.
func (s *WorkerSession) CompletedAt() *time.Time { return s.completedAt }

// UpdatedAt returns the last modification time.
func (s *WorkerSession) UpdatedAt() time.Time { return s.updatedAt }

// Start transitions the session to running and records the start time.
func (s *WorkerSession) Start() {
	now := time.Now()
	s.state = WorkerSessionStateRunning
	s.startedAt = &now
	s.updatedAt = now
}

// IncrementConfirmationCount records that one more confirmation prompt
// was handled.
func (s *WorkerSession) IncrementConfirmationCount() {
	s.confirmationCount++
	s.updatedAt = time.Now()
}

// SetTraceID records the trace correlating this session's spans.
func (s *WorkerSession) SetTraceID(traceID string) {
	s.traceID = traceID
	s.updatedAt = time.Now()
}

// Complete transitions the session to completed.
func (s *WorkerSession) Complete() {
	s.finish(WorkerSessionStateCompleted, "")
}

// Fail transitions the session to failed with the given error message.
func (s *WorkerSession) Fail(errMsg string) {
	s.finish(WorkerSessionStateFailed, errMsg)
}

// Terminate transitions the session to terminated with the given reason.
func (s *WorkerSession) Terminate(reason string) {
	s.finish(WorkerSessionStateTerminated, reason)
}

func (s *WorkerSession) finish(state WorkerSessionState, errMsg string) {
	now := time.Now()
	s.state = state
	s.errorMessage = errMsg
	s.completedAt = &now
	s.updatedAt = now
}

// Decision is the audit-log entity for one arbitration outcome: the
// confirmation prompt a worker hit, and how the Hybrid Decision Engine
// (rules, AI arbiter, or fallback template) resolved it.
type Decision struct {
	id              int64
	workerSessionID int64
	confirmationKind string
	action          string
	decidedBy       string
	safetyLevel     string
	reasoning       string
	latencyMS       int64
	createdAt       time.Time
}

// NewDecision creates a new Decision record for a worker session.
func NewDecision(workerSessionID int64, confirmationKind, action, decidedBy, safetyLevel, reasoning string, latencyMS int64) *Decision {
	return &Decision{
		workerSessionID:  workerSessionID,
		confirmationKind: confirmationKind,
		action:           action,
		decidedBy:        decidedBy,
		safetyLevel:      safetyLevel,
		reasoning:        reasoning,
		latencyMS:        latencyMS,
		createdAt:        time.Now(),
	}
}

// ReconstituteDecision creates a Decision from existing data, typically
// when hydrating from the database.
func ReconstituteDecision(id, workerSessionID int64, confirmationKind, action, decidedBy, safetyLevel, reasoning string, latencyMS int64, createdAt time.Time) *Decision {
	return &Decision{
		id:               id,
		workerSessionID:  workerSessionID,
		confirmationKind: confirmationKind,
		action:           action,
		decidedBy:        decidedBy,
		safetyLevel:      safetyLevel,
		reasoning:        reasoning,
		latencyMS:        latencyMS,
		createdAt:        createdAt,
	}
}

// ID returns the database identifier for this decision.
func (d *Decision) ID() int64 { return d.id }

// SetID assigns the database-generated identifier after an insert.
func (d *Decision) SetID(id int64) { d.id = id }

// WorkerSessionID returns the owning WorkerSession's database ID.
func (d *Decision) WorkerSessionID() int64 { return d.workerSessionID }

// ConfirmationKind returns the kind of confirmation prompt detected.
func (d *Decision) ConfirmationKind() string { return d.confirmationKind }

// Action returns the resolved action ("approve" or "deny").
func (d *Decision) Action() string { return d.action }

// DecidedBy returns which stage resolved this decision ("rules", "ai",
// or "template").
func (d *Decision) DecidedBy() string { return d.decidedBy }

// SafetyLevel returns the decision engine's safety classification, which
// it assigns to every decision whichever stage resolved it.
func (d *Decision) SafetyLevel() string { return d.safetyLevel }

// Reasoning returns the human-readable justification for this decision.
func (d *Decision) Reasoning() string { return d.reasoning }

// LatencyMS returns how long arbitration took, in milliseconds.
func (d *Decision) LatencyMS() int64 { return d.latencyMS }

// CreatedAt returns when this decision was recorded.
func (d *Decision) CreatedAt() time.Time { return d.createdAt }

// WorkerSessionNotFoundError indicates no worker session matched a
// lookup.
type WorkerSessionNotFoundError struct {
	WorkerID string
}

func (e *WorkerSessionNotFoundError) Error() string {
	return "worker session not found: " + e.WorkerID
}
