package types

// ContractVersion is the emit contract version stamped on every
// envelope; ingestion rejects envelopes carrying any other value.
const ContractVersion = "0.1.0"

// EventType discriminates event envelopes.
type EventType string

const (
	EventTypeItem        EventType = "item"
	EventTypeArtifact    EventType = "artifact"
	EventTypeCheckpoint  EventType = "checkpoint"
	EventTypeEnqueue     EventType = "enqueue"
	EventTypeRotateProxy EventType = "rotate_proxy"
	EventTypeLog         EventType = "log"
	EventTypeRunError    EventType = "run_error"
	EventTypeRunComplete EventType = "run_complete"
)

// IsTerminal reports whether the type ends the run's event stream.
func (e EventType) IsTerminal() bool {
	return e == EventTypeRunComplete || e == EventTypeRunError
}

// LogLevel is the severity of a log event.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// EventEnvelope wraps every emitted event. The msgpack tags are the
// wire format shared with the child-side SDK; a supervisor and child
// built from different revisions must still agree on these bytes.
type EventEnvelope struct {
	ContractVersion string `msgpack:"contract_version"`
	// EventID is unique within the run.
	EventID string `msgpack:"event_id"`
	RunID   string `msgpack:"run_id"`
	// Seq is strictly monotonic, starting at 1.
	Seq  int64     `msgpack:"seq"`
	Type EventType `msgpack:"type"`
	// Ts is an ISO 8601 UTC timestamp.
	Ts      string         `msgpack:"ts"`
	Payload map[string]any `msgpack:"payload"`
	JobID   *string        `msgpack:"job_id,omitempty"`
	// ParentRunID is set on retry attempts.
	ParentRunID *string `msgpack:"parent_run_id,omitempty"`
	Attempt     int     `msgpack:"attempt"`
}

// ItemPayload is the payload of an item event.
type ItemPayload struct {
	// ItemType is a caller-defined type label.
	ItemType string         `msgpack:"item_type"`
	Data     map[string]any `msgpack:"data"`
}

// ArtifactPayload is the commit record for an artifact. The bytes
// travel separately as chunk frames; this event declares the total
// size the accumulated chunks must reconcile against.
type ArtifactPayload struct {
	ArtifactID  string `msgpack:"artifact_id"`
	Name        string `msgpack:"name"`
	ContentType string `msgpack:"content_type"`
	SizeBytes   int64  `msgpack:"size_bytes"`
}

// CheckpointPayload is the payload of a checkpoint event.
type CheckpointPayload struct {
	CheckpointID string  `msgpack:"checkpoint_id"`
	Note         *string `msgpack:"note,omitempty"`
}

// EnqueuePayload requests derived work. Advisory: the supervisor may
// dedup, depth-cap, or drop it.
type EnqueuePayload struct {
	Target string         `msgpack:"target"`
	Params map[string]any `msgpack:"params"`
}

// RotateProxyPayload requests a proxy rotation. Advisory.
type RotateProxyPayload struct {
	Reason *string `msgpack:"reason,omitempty"`
}

// LogPayload is the payload of a log event.
type LogPayload struct {
	Level   LogLevel       `msgpack:"level"`
	Message string         `msgpack:"message"`
	Fields  map[string]any `msgpack:"fields,omitempty"`
}

// RunErrorPayload is the payload of the run_error terminal.
type RunErrorPayload struct {
	ErrorType string  `msgpack:"error_type"`
	Message   string  `msgpack:"message"`
	Stack     *string `msgpack:"stack,omitempty"`
}

// RunCompletePayload is the payload of the run_complete terminal.
type RunCompletePayload struct {
	Summary map[string]any `msgpack:"summary,omitempty"`
}
