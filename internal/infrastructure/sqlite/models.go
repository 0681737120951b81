package sqlite

import (
	"time"

	"github.com/foreflux/conductor/internal/sessions/domain"
)

// workerSessionModel represents the database row for the worker_sessions
// table. Fields map directly to SQL columns with Unix timestamps for time
// values.
type workerSessionModel struct {
	ID                int64
	WorkerID          string
	TaskName          string
	Prompt            string
	State             string
	TraceID           string
	ConfirmationCount int
	ErrorMessage      string
	CreatedAt         int64
	StartedAt         *int64
	CompletedAt       *int64
	UpdatedAt         int64
}

func toWorkerSessionModel(s *domain.WorkerSession) *workerSessionModel {
	m := &workerSessionModel{
		ID:                s.ID(),
		WorkerID:          s.WorkerID(),
		TaskName:          s.TaskName(),
		Prompt:            s.Prompt(),
		State:             string(s.State()),
		TraceID:           s.TraceID(),
		ConfirmationCount: s.ConfirmationCount(),
		ErrorMessage:      s.ErrorMessage(),
		CreatedAt:         s.CreatedAt().Unix(),
		UpdatedAt:         s.UpdatedAt().Unix(),
	}
	if s.StartedAt() != nil {
		t := s.StartedAt().Unix()
		m.StartedAt = &t
	}
	if s.CompletedAt() != nil {
		t := s.CompletedAt().Unix()
		m.CompletedAt = &t
	}
	return m
}

func (m *workerSessionModel) toDomain() *domain.WorkerSession {
	var startedAt, completedAt *time.Time
	if m.StartedAt != nil {
		t := time.Unix(*m.StartedAt, 0)
		startedAt = &t
	}
	if m.CompletedAt != nil {
		t := time.Unix(*m.CompletedAt, 0)
		completedAt = &t
	}
	return domain.ReconstituteWorkerSession(
		m.ID,
		m.WorkerID, m.TaskName, m.Prompt,
		domain.WorkerSessionState(m.State),
		m.TraceID,
		m.ConfirmationCount,
		m.ErrorMessage,
		time.Unix(m.CreatedAt, 0),
		startedAt, completedAt,
		time.Unix(m.UpdatedAt, 0),
	)
}

// decisionModel represents the database row for the decisions table.
type decisionModel struct {
	ID               int64
	WorkerSessionID  int64
	ConfirmationKind string
	Action           string
	DecidedBy        string
	SafetyLevel      string
	Reasoning        string
	LatencyMS        int64
	CreatedAt        int64
}

func toDecisionModel(d *domain.Decision) *decisionModel {
	return &decisionModel{
		ID:               d.ID(),
		WorkerSessionID:  d.WorkerSessionID(),
		ConfirmationKind: d.ConfirmationKind(),
		Action:           d.Action(),
		DecidedBy:        d.DecidedBy(),
		SafetyLevel:      d.SafetyLevel(),
		Reasoning:        d.Reasoning(),
		LatencyMS:        d.LatencyMS(),
		CreatedAt:        d.CreatedAt().Unix(),
	}
}

func (m *decisionModel) toDomain() *domain.Decision {
	return domain.ReconstituteDecision(
		m.ID, m.WorkerSessionID,
		m.ConfirmationKind, m.Action, m.DecidedBy, m.SafetyLevel, m.Reasoning,
		m.LatencyMS,
		time.Unix(m.CreatedAt, 0),
	)
}
