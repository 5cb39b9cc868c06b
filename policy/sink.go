package policy

import (
	"context"
	"sync"

	"github.com/quarrio/quarry/types"
)

// Sink abstracts persistence for policies. Implementations write to
// storage, forward to a queue, or stub for tests.
//
// Both methods are batch-oriented so strict (batch of one) and
// buffered policies share one interface. Ordering within a batch must
// be preserved.
type Sink interface {
	WriteEvents(ctx context.Context, events []*types.EventEnvelope) error
	WriteChunks(ctx context.Context, chunks []*types.ArtifactChunk) error
	Close() error
}

// WriteOp records one sink write for ordering assertions in tests.
type WriteOp struct {
	// Type is "events" or "chunks".
	Type   string
	Events []*types.EventEnvelope
	Chunks []*types.ArtifactChunk
}

// StubSink accepts writes without persisting anything and keeps
// enough bookkeeping for test assertions.
type StubSink struct {
	mu sync.Mutex

	EventsWritten int64
	ChunksWritten int64
	// EventBatches and ChunkBatches count WriteEvents/WriteChunks
	// calls rather than records.
	EventBatches int64
	ChunkBatches int64
	Closed       bool

	// WrittenEvents and WrittenChunks retain everything written, in
	// order, for inspection.
	WrittenEvents []*types.EventEnvelope
	WrittenChunks []*types.ArtifactChunk

	// WriteOrder interleaves event and chunk writes as they happened.
	WriteOrder []WriteOp

	// ErrorOnWrite, when set, is returned by both write methods.
	ErrorOnWrite error
}

// NewStubSink builds an empty stub sink.
func NewStubSink() *StubSink {
	return &StubSink{
		WrittenEvents: []*types.EventEnvelope{},
		WrittenChunks: []*types.ArtifactChunk{},
		WriteOrder:    []WriteOp{},
	}
}

// WriteEvents records the batch.
func (s *StubSink) WriteEvents(_ context.Context, events []*types.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}
	s.EventBatches++
	s.EventsWritten += int64(len(events))
	s.WrittenEvents = append(s.WrittenEvents, events...)
	s.WriteOrder = append(s.WriteOrder, WriteOp{Type: "events", Events: events})
	return nil
}

// WriteChunks records the batch.
func (s *StubSink) WriteChunks(_ context.Context, chunks []*types.ArtifactChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}
	s.ChunkBatches++
	s.ChunksWritten += int64(len(chunks))
	s.WrittenChunks = append(s.WrittenChunks, chunks...)
	s.WriteOrder = append(s.WriteOrder, WriteOp{Type: "chunks", Chunks: chunks})
	return nil
}

// Close marks the sink closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// StubSinkStats is a copyable snapshot of the stub's counters.
type StubSinkStats struct {
	EventsWritten int64
	ChunksWritten int64
	EventBatches  int64
	ChunkBatches  int64
	Closed        bool
}

// Stats snapshots the counters under the lock.
func (s *StubSink) Stats() StubSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StubSinkStats{
		EventsWritten: s.EventsWritten,
		ChunksWritten: s.ChunksWritten,
		EventBatches:  s.EventBatches,
		ChunkBatches:  s.ChunkBatches,
		Closed:        s.Closed,
	}
}
