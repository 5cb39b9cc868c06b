package vault

import (
	"testing"
	"time"

	"github.com/quarrio/quarry/metrics"
	"github.com/quarrio/quarry/types"
)

func TestRecordMapsCarryPolicyLabel(t *testing.T) {
	cfg := Config{
		Dataset:  "quarry",
		Source:   "test-source",
		Category: "test-category",
		Day:      "2026-02-06",
		RunID:    "run-001",
		Policy:   "buffered",
	}

	event := toEventRecordMap(&types.EventEnvelope{
		ContractVersion: "1.0.0",
		EventID:         "evt-1",
		RunID:           "run-001",
		Seq:             1,
		Type:            types.EventTypeItem,
		Ts:              "2026-02-06T12:00:00Z",
		Payload:         map[string]any{"key": "value"},
		Attempt:         1,
	}, cfg)
	if event["policy"] != "buffered" {
		t.Errorf("event record policy = %v, want buffered", event["policy"])
	}

	commit := toArtifactCommitRecordMap(&types.EventEnvelope{
		ContractVersion: "1.0.0",
		EventID:         "evt-2",
		RunID:           "run-001",
		Seq:             2,
		Type:            types.EventTypeArtifact,
		Ts:              "2026-02-06T12:00:01Z",
		Payload: map[string]any{
			"artifact_id":  "art-001",
			"name":         "screenshot.png",
			"content_type": "image/png",
			"size_bytes":   float64(1024),
		},
		Attempt: 1,
	}, cfg)
	if commit["policy"] != "buffered" {
		t.Errorf("commit record policy = %v, want buffered", commit["policy"])
	}

	chunk := toChunkRecordMap(&types.ArtifactChunk{ArtifactID: "art-001", Seq: 1, Data: []byte("x")}, 0, cfg)
	if chunk["policy"] != "buffered" {
		t.Errorf("chunk record policy = %v, want buffered", chunk["policy"])
	}
}

func TestMetricsRecordMap(t *testing.T) {
	cfg := Config{
		Dataset:  "quarry",
		Source:   "src",
		Category: "cat",
		Day:      "2026-02-06",
		RunID:    "run-001",
		Policy:   "strict",
	}
	snap := metrics.Snapshot{
		RunsStarted:     2,
		EventsReceived:  40,
		EventsPersisted: 38,
		EventsDropped:   2,
		DroppedByType:   map[string]int64{"log": 2},
		FlushTriggers:   map[string]int64{"termination": 1},
		Policy:          "streaming",
		Executor:        "exec.js",
		StorageBackend:  "fs",
		RunID:           "run-001",
		JobID:           "job-9",
	}
	completedAt := time.Date(2026, 2, 6, 13, 0, 0, 0, time.UTC)

	m := toMetricsRecordMap(snap, completedAt, cfg)
	if m["record_kind"] != RecordKindMetrics || m["event_type"] != "metrics" {
		t.Errorf("discriminators = %v / %v", m["record_kind"], m["event_type"])
	}
	if m["ts"] != "2026-02-06T13:00:00Z" {
		t.Errorf("ts = %v", m["ts"])
	}
	if m["runs_started_total"] != int64(2) || m["events_received_total"] != int64(40) {
		t.Errorf("counter fields = %v / %v", m["runs_started_total"], m["events_received_total"])
	}
	// The snapshot's own policy label wins over the sink config's.
	if m["policy"] != "streaming" {
		t.Errorf("policy = %v, want streaming", m["policy"])
	}
	if m["job_id"] != "job-9" || m["run_id"] != "run-001" {
		t.Errorf("identity fields = %v / %v", m["job_id"], m["run_id"])
	}
	if m["source"] != "src" || m["day"] != "2026-02-06" {
		t.Errorf("partition fields = %v / %v", m["source"], m["day"])
	}
}
