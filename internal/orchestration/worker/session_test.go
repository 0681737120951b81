//go:build unix

package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/foreflux/conductor/internal/orchestration/decision"
	"github.com/foreflux/conductor/internal/orchestration/events"
	"github.com/foreflux/conductor/internal/orchestration/rules"
	"github.com/foreflux/conductor/internal/orchestration/status"
	"github.com/foreflux/conductor/internal/sessions/domain"
)

func newTestDeps() (*decision.Engine, *status.Monitor, *events.Publisher) {
	return decision.NewEngine(rules.NewEngine(), nil), status.New(), events.NewPublisher(time.Hour)
}

// fakeLedger is an in-memory domain.WorkerSessionRepository +
// domain.DecisionRepository for exercising Session's optional ledger
// persistence without a real database.
type fakeLedger struct {
	mu        sync.Mutex
	sessions  []*domain.WorkerSession
	decisions []*domain.Decision
	nextID    int64
}

func (f *fakeLedger) Save(session *domain.WorkerSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session.ID() == 0 {
		f.nextID++
		session.SetID(f.nextID)
		f.sessions = append(f.sessions, session)
	}
	return nil
}

func (f *fakeLedger) FindByWorkerID(workerID string) (*domain.WorkerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.WorkerID() == workerID {
			return s, nil
		}
	}
	return nil, &domain.WorkerSessionNotFoundError{WorkerID: workerID}
}

func (f *fakeLedger) ListWithFilter(domain.ListFilter) ([]*domain.WorkerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.WorkerSession(nil), f.sessions...), nil
}

func (f *fakeLedger) Close() error { return nil }

func (f *fakeLedger) SaveDecision(d *domain.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, d)
	return nil
}

// decisionRepo adapts fakeLedger to domain.DecisionRepository (kept
// separate from Save above, which implements the session repository).
type decisionRepo struct{ ledger *fakeLedger }

func (r decisionRepo) Save(d *domain.Decision) error {
	return r.ledger.SaveDecision(d)
}

func (r decisionRepo) ListByWorkerSession(workerSessionID int64) ([]*domain.Decision, error) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	var out []*domain.Decision
	for _, d := range r.ledger.decisions {
		if d.WorkerSessionID() == workerSessionID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r decisionRepo) Close() error { return nil }

func TestSession_Run_SuccessfulExit(t *testing.T) {
	de, sm, pub := newTestDeps()
	cfg := Config{
		Command:        []string{"sh", "-c", "exit 0"},
		WorkspaceRoot:  t.TempDir(),
		SessionTimeout: 5 * time.Second,
		ClosingGrace:   200 * time.Millisecond,
		ExpectTimeout:  100 * time.Millisecond,
		MaxIterations:  10,
	}
	sess, err := NewSession("w1", Task{ID: "w1", Name: "t1", Prompt: "do it"}, cfg, de, sm, pub)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	result, err := sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.TraceID == "" {
		t.Fatal("expected a non-empty TraceID")
	}
}

func TestSession_Run_ConfirmationApprovedBySafeWrite(t *testing.T) {
	de, sm, pub := newTestDeps()
	cfg := Config{
		Command:        []string{"sh", "-c", `echo 'Write "notes.txt"?' && read ans && exit 0`},
		WorkspaceRoot:  t.TempDir(),
		SessionTimeout: 5 * time.Second,
		ClosingGrace:   200 * time.Millisecond,
		ExpectTimeout:  500 * time.Millisecond,
		MaxIterations:  20,
	}
	sess, err := NewSession("w2", Task{ID: "w2", Name: "t2", Prompt: "write a file"}, cfg, de, sm, pub)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	result, err := sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestSession_Run_SessionTimeoutTerminates(t *testing.T) {
	de, sm, pub := newTestDeps()
	cfg := Config{
		Command:        []string{"sleep", "5"},
		WorkspaceRoot:  t.TempDir(),
		SessionTimeout: 100 * time.Millisecond,
		ClosingGrace:   50 * time.Millisecond,
		ExpectTimeout:  50 * time.Millisecond,
		MaxIterations:  1000,
	}
	sess, err := NewSession("w3", Task{ID: "w3", Name: "t3", Prompt: "sleeps forever"}, cfg, de, sm, pub)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	result, err := sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure on session timeout, got %+v", result)
	}
	if result.ErrorMessage != "terminated" {
		t.Fatalf("expected terminated error message, got %q", result.ErrorMessage)
	}
}

func TestSession_Run_SpawnFailureReturnsErrorResult(t *testing.T) {
	de, sm, pub := newTestDeps()
	cfg := Config{
		Command:       []string{"/no/such/binary-xyz"},
		WorkspaceRoot: t.TempDir(),
	}
	sess, err := NewSession("w4", Task{ID: "w4", Name: "t4", Prompt: "never spawns"}, cfg, de, sm, pub)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	result, err := sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure for missing executable")
	}
	if result.ErrorMessage == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestSession_Run_PersistsLedgerWhenConfigured(t *testing.T) {
	de, sm, pub := newTestDeps()
	ledger := &fakeLedger{}
	cfg := Config{
		Command:        []string{"sh", "-c", `echo 'Write "notes.txt"?' && read ans && exit 0`},
		WorkspaceRoot:  t.TempDir(),
		SessionTimeout: 5 * time.Second,
		ClosingGrace:   200 * time.Millisecond,
		ExpectTimeout:  500 * time.Millisecond,
		MaxIterations:  20,
		SessionRepo:    ledger,
		DecisionRepo:   decisionRepo{ledger: ledger},
	}
	sess, err := NewSession("w5", Task{ID: "w5", Name: "t5", Prompt: "write a file"}, cfg, de, sm, pub)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	result, err := sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	persisted, err := ledger.FindByWorkerID("w5")
	if err != nil {
		t.Fatalf("expected a persisted worker session: %v", err)
	}
	if persisted.State() != domain.WorkerSessionStateCompleted {
		t.Fatalf("expected completed state, got %v", persisted.State())
	}
	if persisted.ConfirmationCount() != 1 {
		t.Fatalf("expected 1 confirmation recorded, got %d", persisted.ConfirmationCount())
	}

	decisions, err := decisionRepo{ledger: ledger}.ListByWorkerSession(persisted.ID())
	if err != nil {
		t.Fatalf("ListByWorkerSession: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision recorded, got %d", len(decisions))
	}
	if decisions[0].Action() != "approve" {
		t.Fatalf("expected approve decision, got %q", decisions[0].Action())
	}
}
