package domain

// ListFilter provides filtering options for listing worker sessions.
type ListFilter struct {
	// State filters sessions by their current state.
	// If empty, all states are included.
	State WorkerSessionState

	// Limit restricts the number of sessions returned.
	// If 0, no limit is applied.
	Limit int
}

// WorkerSessionRepository defines the persistence interface for
// WorkerSession entities. Implementations may use SQLite, in-memory
// storage, or other backends.
type WorkerSessionRepository interface {
	// Save persists a worker session.
	// For new sessions (ID == 0), this creates a new record and sets the ID.
	// For existing sessions (ID > 0), this updates the existing record.
	Save(session *WorkerSession) error

	// FindByWorkerID retrieves a worker session by its worker ID.
	// Returns WorkerSessionNotFoundError if no matching session exists.
	FindByWorkerID(workerID string) (*WorkerSession, error)

	// ListWithFilter retrieves worker sessions matching the given filter
	// criteria, ordered by created_at descending (newest first).
	ListWithFilter(filter ListFilter) ([]*WorkerSession, error)

	// Close releases any resources held by the repository.
	Close() error
}

// DecisionRepository defines the persistence interface for Decision
// entities: the arbitration ledger.
type DecisionRepository interface {
	// Save persists a decision record. For new decisions (ID == 0), this
	// creates a new record and sets the ID.
	Save(decision *Decision) error

	// ListByWorkerSession retrieves every decision recorded against a
	// worker session, ordered by created_at ascending (oldest first).
	ListByWorkerSession(workerSessionID int64) ([]*Decision, error)

	// Close releases any resources held by the repository.
	Close() error
}
