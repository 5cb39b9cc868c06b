// Package policy defines the ingestion policy interface and its
// shipped implementations (strict, buffered, streaming, noop).
package policy

import (
	"context"

	"github.com/quarrio/quarry/types"
)

// Policy controls buffering, dropping, and persistence of the event
// stream on its way to a Sink.
//
// Invariants every implementation honors:
//   - May drop: log, enqueue, rotate_proxy
//   - Must NOT drop: item, artifact, checkpoint, run_error, run_complete
//   - Event shapes pass through unaltered
//   - A policy error terminates the run
type Policy interface {
	// IngestEvent handles one envelope. Droppable types may be
	// discarded; an error return fails the run.
	IngestEvent(ctx context.Context, envelope *types.EventEnvelope) error

	// IngestArtifactChunk handles one chunk. Chunks are never
	// droppable; ordering within the stream must be preserved.
	IngestArtifactChunk(ctx context.Context, chunk *types.ArtifactChunk) error

	// Flush persists anything buffered. Invoked on run_complete,
	// run_error, and runtime termination.
	Flush(ctx context.Context) error

	// Close releases policy resources.
	Close() error

	// Stats returns an atomic snapshot of the policy's counters.
	Stats() Stats
}

// FlushTrigger names the reason a flush fired; the values are the keys
// of Stats.FlushTriggers.
type FlushTrigger string

const (
	// FlushTriggerCount: the buffered event count crossed the
	// configured threshold.
	FlushTriggerCount FlushTrigger = "count"
	// FlushTriggerInterval: the periodic timer fired.
	FlushTriggerInterval FlushTrigger = "interval"
	// FlushTriggerTermination: the run ended (terminal event, error
	// path, or Close).
	FlushTriggerTermination FlushTrigger = "termination"
)

// Stats is the observability snapshot a policy exposes.
type Stats struct {
	TotalEvents     int64
	EventsPersisted int64
	EventsDropped   int64
	DroppedByType   map[types.EventType]int64
	TotalChunks     int64
	ChunksPersisted int64
	// BufferSize is the current estimated buffer footprint in bytes.
	BufferSize int64
	FlushCount int64
	// FlushTriggers counts flushes by the reason they fired.
	FlushTriggers map[string]int64
	// Errors counts non-fatal errors the policy swallowed or surfaced.
	Errors int64
}

// newStats returns a Stats with its maps initialized.
func newStats() Stats {
	return Stats{
		DroppedByType: make(map[types.EventType]int64),
		FlushTriggers: make(map[string]int64),
	}
}

// cloneStats deep-copies s so the caller's snapshot is isolated from
// further mutation. The receiver's maps must be non-nil.
func cloneStats(s *Stats) Stats {
	out := *s
	out.DroppedByType = make(map[types.EventType]int64, len(s.DroppedByType))
	for k, v := range s.DroppedByType {
		out.DroppedByType[k] = v
	}
	out.FlushTriggers = make(map[string]int64, len(s.FlushTriggers))
	for k, v := range s.FlushTriggers {
		out.FlushTriggers[k] = v
	}
	return out
}

// markDrop records one dropped event. Caller holds the owning lock.
func markDrop(s *Stats, eventType types.EventType) {
	s.EventsDropped++
	s.DroppedByType[eventType]++
}

// markFlush records one flush and its trigger. Caller holds the
// owning lock.
func markFlush(s *Stats, trigger FlushTrigger) {
	s.FlushCount++
	s.FlushTriggers[string(trigger)]++
}

// eventFootprint estimates an envelope's in-memory cost for buffer
// accounting. Deliberately rough: a fixed base plus a per-payload-field
// charge.
func eventFootprint(envelope *types.EventEnvelope) int64 {
	size := int64(200)
	if envelope.Payload != nil {
		size += int64(len(envelope.Payload) * 50)
	}
	return size
}

// droppableTypes is the closed set of event types a policy may shed.
var droppableTypes = map[types.EventType]bool{
	types.EventTypeLog:         true,
	types.EventTypeEnqueue:     true,
	types.EventTypeRotateProxy: true,
}

// IsDroppable reports whether a policy may discard events of this type.
func IsDroppable(eventType types.EventType) bool {
	return droppableTypes[eventType]
}

// DroppableTypes returns a copy of the droppable set.
func DroppableTypes() map[types.EventType]bool {
	out := make(map[types.EventType]bool, len(droppableTypes))
	for k, v := range droppableTypes {
		out[k] = v
	}
	return out
}
