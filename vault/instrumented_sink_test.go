package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/quarrio/quarry/metrics"
	"github.com/quarrio/quarry/types"
)

// countingSink accepts or rejects every write, per its err field.
type countingSink struct {
	err        error
	eventCalls int
	chunkCalls int
	closed     bool
}

func (s *countingSink) WriteEvents(_ context.Context, _ []*types.EventEnvelope) error {
	s.eventCalls++
	return s.err
}

func (s *countingSink) WriteChunks(_ context.Context, _ []*types.ArtifactChunk) error {
	s.chunkCalls++
	return s.err
}

func (s *countingSink) Close() error {
	s.closed = true
	return nil
}

func TestInstrumentedSinkCountsSuccesses(t *testing.T) {
	inner := &countingSink{}
	collector := metrics.NewCollector("strict", "node", "fs", "run-001", "")
	sink := NewInstrumentedSink(inner, collector)
	ctx := t.Context()

	if err := sink.WriteEvents(ctx, []*types.EventEnvelope{{Type: types.EventTypeItem, Seq: 1}}); err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}
	if err := sink.WriteChunks(ctx, []*types.ArtifactChunk{{ArtifactID: "art-1", Seq: 1, Data: []byte("data")}}); err != nil {
		t.Fatalf("WriteChunks: %v", err)
	}

	snap := collector.Snapshot()
	if snap.LodeWriteSuccess != 2 || snap.LodeWriteFailure != 0 {
		t.Errorf("writes = %d success / %d failure, want 2/0", snap.LodeWriteSuccess, snap.LodeWriteFailure)
	}
	if inner.eventCalls != 1 || inner.chunkCalls != 1 {
		t.Errorf("inner calls = %d events / %d chunks, want 1/1", inner.eventCalls, inner.chunkCalls)
	}

	// The sink-local tallies agree with the collector.
	if ok, bad := sink.Counts(); ok != 2 || bad != 0 {
		t.Errorf("Counts() = %d/%d, want 2/0", ok, bad)
	}
}

func TestInstrumentedSinkCountsFailures(t *testing.T) {
	wantErr := errors.New("disk full")
	inner := &countingSink{err: wantErr}
	collector := metrics.NewCollector("strict", "node", "fs", "run-001", "")
	sink := NewInstrumentedSink(inner, collector)
	ctx := t.Context()

	if err := sink.WriteEvents(ctx, []*types.EventEnvelope{{Type: types.EventTypeItem, Seq: 1}}); !errors.Is(err, wantErr) {
		t.Fatalf("WriteEvents error = %v, want %v", err, wantErr)
	}
	if err := sink.WriteChunks(ctx, []*types.ArtifactChunk{{ArtifactID: "art-1", Seq: 1, Data: []byte("data")}}); !errors.Is(err, wantErr) {
		t.Fatalf("WriteChunks error = %v, want %v", err, wantErr)
	}

	snap := collector.Snapshot()
	if snap.LodeWriteSuccess != 0 || snap.LodeWriteFailure != 2 {
		t.Errorf("writes = %d success / %d failure, want 0/2", snap.LodeWriteSuccess, snap.LodeWriteFailure)
	}
	if ok, bad := sink.Counts(); ok != 0 || bad != 2 {
		t.Errorf("Counts() = %d/%d, want 0/2", ok, bad)
	}
}

func TestInstrumentedSinkCloseDelegates(t *testing.T) {
	inner := &countingSink{}
	sink := NewInstrumentedSink(inner, metrics.NewCollector("strict", "node", "fs", "run-001", ""))

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !inner.closed {
		t.Error("Close did not reach the inner sink")
	}
}

func TestInstrumentedSinkAccumulates(t *testing.T) {
	inner := &countingSink{}
	collector := metrics.NewCollector("strict", "node", "fs", "run-001", "")
	sink := NewInstrumentedSink(inner, collector)
	ctx := t.Context()

	for range 3 {
		_ = sink.WriteEvents(ctx, []*types.EventEnvelope{{Type: types.EventTypeItem, Seq: 1}})
	}
	for range 2 {
		_ = sink.WriteChunks(ctx, []*types.ArtifactChunk{{ArtifactID: "art-1", Seq: 1, Data: []byte("data")}})
	}

	if got := collector.Snapshot().LodeWriteSuccess; got != 5 {
		t.Errorf("LodeWriteSuccess = %d, want 5", got)
	}
}
