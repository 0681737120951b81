// Package events is the Event Publisher (C11): an in-process topic bus
// that fans out status, line, dialogue, decision, and heartbeat events to
// subscribers, with per-subscriber rate limiting, depth filtering, and
// idle heartbeats.
package events

// Kind identifies the shape of an Event's payload, mirroring the event
// stream fields in spec.md §6.
type Kind string

const (
	KindStatus    Kind = "status"
	KindLine      Kind = "line"
	KindDialogue  Kind = "dialogue"
	KindDecision  Kind = "decision"
	KindHeartbeat Kind = "heartbeat"
)

// Event is the single wire shape published to every subscriber. Depth
// supports the hierarchical-job min/max depth filtering spec.md §4.11
// requires; producers that have no notion of depth leave it at 0, which
// matches every subscription's default (unfiltered) range.
type Event struct {
	Kind      Kind
	WorkerID  string
	Depth     int
	Timestamp float64 // seconds since epoch, as required by spec.md §6

	Status    *StatusPayload
	Line      *LinePayload
	Dialogue  *DialoguePayload
	Decision  *DecisionPayload
	Heartbeat *HeartbeatPayload
}

// StatusPayload mirrors the "status" event shape in spec.md §6.
type StatusPayload struct {
	WorkerID          string
	State             string
	Progress           int
	OutputLines       int
	ConfirmationCount int
	Health            string
	Timestamp         float64
}

// LinePayload mirrors the "line" event shape: one per observed output line.
type LinePayload struct {
	WorkerID string
	Content  string
}

// DialoguePayload mirrors the "dialogue" event shape: a mirror of a
// transcript record. Entry is left as an opaque value (rather than
// importing the transcript package's concrete type) so this package has
// no dependency on how dialogue entries are persisted.
type DialoguePayload struct {
	WorkerID string
	Entry    any
}

// DecisionPayload mirrors the "decision" event shape.
type DecisionPayload struct {
	WorkerID         string
	ConfirmationKind string
	Action           string
	DecidedBy        string
	LatencyMs        float64
	IsFallback       bool
	SafetyLevel      string
}

// HeartbeatPayload mirrors the "heartbeat" event shape.
type HeartbeatPayload struct {
	Timestamp float64
}
