package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/foreflux/conductor/internal/sessions/domain"
)

const workerSessionColumns = `id, worker_id, task_name, prompt, state, trace_id, confirmation_count, error_message,
	created_at, started_at, completed_at, updated_at`

// sessionRepository implements domain.WorkerSessionRepository using SQLite.
type sessionRepository struct {
	db *sql.DB
}

func newSessionRepository(db *sql.DB) *sessionRepository {
	return &sessionRepository{db: db}
}

var _ domain.WorkerSessionRepository = (*sessionRepository)(nil)

func scanWorkerSession(scanner interface{ Scan(...any) error }) (*workerSessionModel, error) {
	var model workerSessionModel
	err := scanner.Scan(
		&model.ID, &model.WorkerID, &model.TaskName, &model.Prompt, &model.State,
		&model.TraceID, &model.ConfirmationCount, &model.ErrorMessage,
		&model.CreatedAt, &model.StartedAt, &model.CompletedAt, &model.UpdatedAt,
	)
	return &model, err
}

// Save persists a worker session. For new sessions (ID == 0), inserts a
// new row and sets the session ID. For existing sessions (ID > 0),
// updates the existing row.
func (r *sessionRepository) Save(session *domain.WorkerSession) error {
	model := toWorkerSessionModel(session)

	if session.ID() == 0 {
		result, err := r.db.Exec(
			`INSERT INTO worker_sessions (
				worker_id, task_name, prompt, state, trace_id, confirmation_count, error_message,
				created_at, started_at, completed_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			model.WorkerID, model.TaskName, model.Prompt, model.State, model.TraceID,
			model.ConfirmationCount, model.ErrorMessage,
			model.CreatedAt, model.StartedAt, model.CompletedAt, model.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert worker session: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		session.SetID(id)
		return nil
	}

	_, err := r.db.Exec(
		`UPDATE worker_sessions SET
			task_name = ?, prompt = ?, state = ?, trace_id = ?, confirmation_count = ?, error_message = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		model.TaskName, model.Prompt, model.State, model.TraceID, model.ConfirmationCount, model.ErrorMessage,
		model.StartedAt, model.CompletedAt, model.UpdatedAt,
		model.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update worker session: %w", err)
	}
	return nil
}

// FindByWorkerID retrieves a worker session by its worker ID.
// Returns WorkerSessionNotFoundError if no matching session exists.
func (r *sessionRepository) FindByWorkerID(workerID string) (*domain.WorkerSession, error) {
	row := r.db.QueryRow(`SELECT `+workerSessionColumns+` FROM worker_sessions WHERE worker_id = ?`, workerID)
	model, err := scanWorkerSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.WorkerSessionNotFoundError{WorkerID: workerID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find worker session: %w", err)
	}
	return model.toDomain(), nil
}

// ListWithFilter retrieves worker sessions matching filter, ordered by
// created_at descending (newest first).
func (r *sessionRepository) ListWithFilter(filter domain.ListFilter) ([]*domain.WorkerSession, error) {
	query := `SELECT ` + workerSessionColumns + ` FROM worker_sessions`
	var args []any

	if filter.State != "" {
		query += ` WHERE state = ?`
		args = append(args, string(filter.State))
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list worker sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*domain.WorkerSession
	for rows.Next() {
		model, err := scanWorkerSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker session row: %w", err)
		}
		sessions = append(sessions, model.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating worker session rows: %w", err)
	}
	return sessions, nil
}

// Close releases any resources held by the repository. This is a no-op
// because the connection is owned by the DB struct.
func (r *sessionRepository) Close() error {
	return nil
}

const decisionColumns = `id, worker_session_id, confirmation_kind, action, decided_by, safety_level, reasoning,
	latency_ms, created_at`

// decisionRepository implements domain.DecisionRepository using SQLite.
type decisionRepository struct {
	db *sql.DB
}

func newDecisionRepository(db *sql.DB) *decisionRepository {
	return &decisionRepository{db: db}
}

var _ domain.DecisionRepository = (*decisionRepository)(nil)

func scanDecision(scanner interface{ Scan(...any) error }) (*decisionModel, error) {
	var model decisionModel
	err := scanner.Scan(
		&model.ID, &model.WorkerSessionID, &model.ConfirmationKind, &model.Action,
		&model.DecidedBy, &model.SafetyLevel, &model.Reasoning,
		&model.LatencyMS, &model.CreatedAt,
	)
	return &model, err
}

// Save persists a decision record, always as an insert: the ledger is
// append-only.
func (r *decisionRepository) Save(decision *domain.Decision) error {
	model := toDecisionModel(decision)
	result, err := r.db.Exec(
		`INSERT INTO decisions (
			worker_session_id, confirmation_kind, action, decided_by, safety_level, reasoning, latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		model.WorkerSessionID, model.ConfirmationKind, model.Action, model.DecidedBy,
		model.SafetyLevel, model.Reasoning, model.LatencyMS, model.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	decision.SetID(id)
	return nil
}

// ListByWorkerSession retrieves every decision recorded against a worker
// session, ordered by created_at ascending (oldest first).
func (r *decisionRepository) ListByWorkerSession(workerSessionID int64) ([]*domain.Decision, error) {
	rows, err := r.db.Query(
		`SELECT `+decisionColumns+` FROM decisions WHERE worker_session_id = ? ORDER BY created_at ASC`,
		workerSessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []*domain.Decision
	for rows.Next() {
		model, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		decisions = append(decisions, model.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision rows: %w", err)
	}
	return decisions, nil
}

// Close releases any resources held by the repository. This is a no-op
// because the connection is owned by the DB struct.
func (r *decisionRepository) Close() error {
	return nil
}
