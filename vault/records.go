package vault

import (
	"time"

	"github.com/quarrio/quarry/metrics"
	"github.com/quarrio/quarry/types"
)

// record_kind discriminator values. Every persisted record carries one
// so readers can tell events, commits, chunks, and metrics apart
// without relying on partition paths.
const (
	RecordKindEvent         = "event"
	RecordKindArtifactEvent = "artifact_event"
	RecordKindArtifactChunk = "artifact_chunk"
	RecordKindMetrics       = "metrics"
)

// EventRecord documents the storage shape of a non-artifact event:
// the envelope fields plus the record_kind discriminator and the
// partition keys HiveLayout consumes.
type EventRecord struct {
	RecordKind string `json:"record_kind"`

	ContractVersion string         `json:"contract_version"`
	EventID         string         `json:"event_id"`
	RunID           string         `json:"run_id"`
	Seq             int64          `json:"seq"`
	Type            string         `json:"type"`
	Ts              string         `json:"ts"`
	Payload         map[string]any `json:"payload"`
	JobID           *string        `json:"job_id,omitempty"`
	ParentRunID     *string        `json:"parent_run_id,omitempty"`
	Attempt         int            `json:"attempt"`

	Source   string `json:"source"`
	Category string `json:"category"`
	Day      string `json:"day"`
}

// ArtifactCommitRecord documents the storage shape of an artifact
// commit event.
type ArtifactCommitRecord struct {
	RecordKind string `json:"record_kind"`

	ArtifactID  string `json:"artifact_id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`

	ContractVersion string  `json:"contract_version"`
	EventID         string  `json:"event_id"`
	RunID           string  `json:"run_id"`
	Seq             int64   `json:"seq"`
	Ts              string  `json:"ts"`
	JobID           *string `json:"job_id,omitempty"`
	ParentRunID     *string `json:"parent_run_id,omitempty"`
	Attempt         int     `json:"attempt"`

	Source   string `json:"source"`
	Category string `json:"category"`
	Day      string `json:"day"`
}

// ArtifactChunkRecord documents the storage shape of one binary
// chunk, written under the event_type=artifact partition.
type ArtifactChunkRecord struct {
	RecordKind string `json:"record_kind"`

	ArtifactID string `json:"artifact_id"`
	Seq        int64  `json:"seq"`
	IsLast     bool   `json:"is_last"`
	Offset     int64  `json:"offset"`
	Length     int64  `json:"length"`
	// Data is base64 in the JSONL encoding.
	Data []byte `json:"data"`

	Checksum     *string `json:"checksum,omitempty"`
	ChecksumAlgo *string `json:"checksum_algo,omitempty"`

	Source   string `json:"source"`
	Category string `json:"category"`
	Day      string `json:"day"`
	RunID    string `json:"run_id"`
}

// stampPartition adds the partition keys and lineage fields shared by
// every record kind. HiveLayout requires map[string]any records, so
// the builders below assemble maps rather than the documented structs.
func stampPartition(m map[string]any, cfg Config) map[string]any {
	m["source"] = cfg.Source
	m["category"] = cfg.Category
	m["day"] = cfg.Day
	m["policy"] = cfg.Policy
	return m
}

// toEventRecordMap builds the storage record for a non-artifact event.
func toEventRecordMap(e *types.EventEnvelope, cfg Config) map[string]any {
	m := map[string]any{
		"record_kind":      RecordKindEvent,
		"contract_version": e.ContractVersion,
		"event_id":         e.EventID,
		"run_id":           e.RunID,
		"seq":              e.Seq,
		"type":             string(e.Type),
		"event_type":       string(e.Type),
		"ts":               e.Ts,
		"payload":          e.Payload,
		"attempt":          e.Attempt,
	}
	if e.JobID != nil {
		m["job_id"] = *e.JobID
	}
	if e.ParentRunID != nil {
		m["parent_run_id"] = *e.ParentRunID
	}
	return stampPartition(m, cfg)
}

// toArtifactCommitRecordMap builds the storage record for an artifact
// commit event, lifting the payload fields to the top level.
func toArtifactCommitRecordMap(e *types.EventEnvelope, cfg Config) map[string]any {
	var artifactID, name, contentType string
	var sizeBytes int64
	if payload := e.Payload; payload != nil {
		if v, ok := payload["artifact_id"].(string); ok {
			artifactID = v
		}
		if v, ok := payload["name"].(string); ok {
			name = v
		}
		if v, ok := payload["content_type"].(string); ok {
			contentType = v
		}
		if v, ok := payload["size_bytes"].(float64); ok {
			sizeBytes = int64(v)
		}
	}

	m := map[string]any{
		"record_kind":      RecordKindArtifactEvent,
		"artifact_id":      artifactID,
		"name":             name,
		"content_type":     contentType,
		"size_bytes":       sizeBytes,
		"contract_version": e.ContractVersion,
		"event_id":         e.EventID,
		"run_id":           e.RunID,
		"seq":              e.Seq,
		"event_type":       string(e.Type),
		"ts":               e.Ts,
		"attempt":          e.Attempt,
	}
	if e.JobID != nil {
		m["job_id"] = *e.JobID
	}
	if e.ParentRunID != nil {
		m["parent_run_id"] = *e.ParentRunID
	}
	return stampPartition(m, cfg)
}

// toChunkRecordMap builds the storage record for one chunk at the
// given cumulative offset.
func toChunkRecordMap(chunk *types.ArtifactChunk, offset int64, cfg Config) map[string]any {
	return stampPartition(map[string]any{
		"record_kind": RecordKindArtifactChunk,
		"artifact_id": chunk.ArtifactID,
		"seq":         chunk.Seq,
		"is_last":     chunk.IsLast,
		"offset":      offset,
		"length":      int64(len(chunk.Data)),
		"data":        chunk.Data,
		"event_type":  "artifact",
		"run_id":      cfg.RunID,
	}, cfg)
}

// toMetricsRecordMap builds the storage record for a final metrics
// snapshot. Field names match what the CLI's reader parses back
// (*_total counters plus dimension labels).
func toMetricsRecordMap(snap metrics.Snapshot, completedAt time.Time, cfg Config) map[string]any {
	m := map[string]any{
		"record_kind": RecordKindMetrics,
		"event_type":  "metrics",
		"ts":          completedAt.UTC().Format(time.RFC3339),
		"run_id":      cfg.RunID,

		"runs_started_total":   snap.RunsStarted,
		"runs_completed_total": snap.RunsCompleted,
		"runs_failed_total":    snap.RunsFailed,
		"runs_crashed_total":   snap.RunsCrashed,

		"events_received_total":  snap.EventsReceived,
		"events_persisted_total": snap.EventsPersisted,
		"events_dropped_total":   snap.EventsDropped,

		"executor_launch_success_total": snap.ExecutorLaunchSuccess,
		"executor_launch_failure_total": snap.ExecutorLaunchFailure,
		"executor_crash_total":          snap.ExecutorCrash,
		"ipc_decode_errors_total":       snap.IPCDecodeErrors,

		"lode_write_success_total": snap.LodeWriteSuccess,
		"lode_write_failure_total": snap.LodeWriteFailure,
		"lode_write_retry_total":   snap.LodeWriteRetry,

		"executor":        snap.Executor,
		"storage_backend": snap.StorageBackend,
	}
	if len(snap.DroppedByType) > 0 {
		m["dropped_by_type"] = snap.DroppedByType
	}
	if len(snap.FlushTriggers) > 0 {
		m["flush_triggers"] = snap.FlushTriggers
	}
	if snap.JobID != "" {
		m["job_id"] = snap.JobID
	}
	m = stampPartition(m, cfg)
	// The snapshot's policy label is authoritative over the sink
	// config when both are set.
	if snap.Policy != "" {
		m["policy"] = snap.Policy
	}
	return m
}
