package tracing

// Span attribute keys for orchestration tracing.
// These constants define the semantic conventions for span attributes
// in the orchestration system.
const (
	// Worker attributes
	AttrWorkerID    = "worker.id"
	AttrWorkerPhase = "worker.phase"
	AttrWorkerState = "worker.state"

	// Task attributes
	AttrTaskID   = "task.id"
	AttrTaskName = "task.name"

	// Confirmation/decision attributes
	AttrConfirmationKind = "confirmation.kind"
	AttrDecisionAction   = "decision.action"
	AttrDecidedBy        = "decision.decided_by"
	AttrSafetyLevel      = "decision.safety_level"

	// Session attributes
	AttrSessionID = "session.id"

	// Error attributes
	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// SpanKind constants for categorizing span types.
const (
	SpanKindWorker  = "worker"
	SpanKindSession = "session"
)

// Span name prefixes for consistent naming.
const (
	SpanPrefixPTY     = "pty."
	SpanPrefixWorker  = "worker."
	SpanPrefixArbiter = "arbiter."
)

// Event names for span events.
const (
	EventErrorOccurred    = "error.occurred"
	EventConfirmationSeen = "confirmation.seen"
	EventDecisionMade     = "decision.made"
	EventResponseWritten  = "response.written"
)
