package policy_test

import (
	"testing"

	"github.com/quarrio/quarry/policy"
	"github.com/quarrio/quarry/types"
)

func TestNoopPolicyAcceptsEverything(t *testing.T) {
	pol := policy.NewNoopPolicy()

	all := []types.EventType{
		types.EventTypeItem, types.EventTypeArtifact, types.EventTypeCheckpoint,
		types.EventTypeLog, types.EventTypeEnqueue, types.EventTypeRotateProxy,
		types.EventTypeRunError, types.EventTypeRunComplete,
	}
	for _, et := range all {
		envelope := &types.EventEnvelope{EventID: "e1", Type: et, RunID: "run-1", Seq: 1}
		if err := pol.IngestEvent(t.Context(), envelope); err != nil {
			t.Errorf("IngestEvent(%s) = %v, want nil", et, err)
		}
	}

	chunk := &types.ArtifactChunk{ArtifactID: "a1", Seq: 1, Data: []byte("data"), IsLast: true}
	if err := pol.IngestArtifactChunk(t.Context(), chunk); err != nil {
		t.Errorf("IngestArtifactChunk() = %v, want nil", err)
	}
	if err := pol.Flush(t.Context()); err != nil {
		t.Errorf("Flush() = %v, want nil", err)
	}
	if err := pol.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestNoopPolicyStatsFollowDroppableSemantics(t *testing.T) {
	pol := policy.NewNoopPolicy()

	item := &types.EventEnvelope{EventID: "e1", Type: types.EventTypeItem, RunID: "run-1", Seq: 1}
	logEvt := &types.EventEnvelope{EventID: "e2", Type: types.EventTypeLog, RunID: "run-1", Seq: 2}
	if err := pol.IngestEvent(t.Context(), item); err != nil {
		t.Fatalf("IngestEvent(item): %v", err)
	}
	if err := pol.IngestEvent(t.Context(), logEvt); err != nil {
		t.Fatalf("IngestEvent(log): %v", err)
	}

	s := pol.Stats()
	if s.TotalEvents != 2 {
		t.Errorf("TotalEvents = %d, want 2", s.TotalEvents)
	}
	if s.EventsPersisted != 1 {
		t.Errorf("EventsPersisted = %d, want 1 (the non-droppable item)", s.EventsPersisted)
	}
	if s.EventsDropped != 1 || s.DroppedByType[types.EventTypeLog] != 1 {
		t.Errorf("drop accounting = %d total, byType %v; want 1 log drop",
			s.EventsDropped, s.DroppedByType)
	}
}

func TestNoopPolicyStatsAreIsolatedCopies(t *testing.T) {
	pol := policy.NewNoopPolicy()

	envelope := &types.EventEnvelope{EventID: "e1", Type: types.EventTypeLog, RunID: "run-1", Seq: 1}
	if err := pol.IngestEvent(t.Context(), envelope); err != nil {
		t.Fatalf("IngestEvent: %v", err)
	}

	first := pol.Stats()
	first.TotalEvents = 999
	first.DroppedByType[types.EventTypeLog] = 999

	second := pol.Stats()
	if second.TotalEvents != 1 {
		t.Errorf("TotalEvents = %d after caller mutation, want 1", second.TotalEvents)
	}
	if second.DroppedByType[types.EventTypeLog] != 1 {
		t.Errorf("DroppedByType[log] = %d after caller mutation, want 1",
			second.DroppedByType[types.EventTypeLog])
	}
}
