// Package vault is the partition-addressed persistence boundary: an
// event sink the ingestion policies write through, and a file writer
// for sidecar uploads. Real storage goes through Lode (filesystem or
// S3); stub implementations cover everything else.
package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quarrio/quarry/metrics"
	"github.com/quarrio/quarry/policy"
	"github.com/quarrio/quarry/types"
)

// DefaultDataset is the dataset name used when none is configured.
const DefaultDataset = "quarry"

// DeriveDay computes the day partition key (YYYY-MM-DD, UTC) from the
// run start time.
func DeriveDay(startTime time.Time) string {
	return startTime.UTC().Format("2006-01-02")
}

// Config carries the sink's partition keys.
type Config struct {
	// Dataset defaults to DefaultDataset and is overridable via
	// --storage-dataset.
	Dataset string
	// Source identifies the origin system or provider.
	Source string
	// Category is the logical data type.
	Category string
	// Day is derived from run start time via DeriveDay.
	Day string
	// RunID is the run identifier.
	RunID string
	// Policy names the ingestion policy, for record labeling. The one
	// optional field: records without it are still addressable.
	Policy string
}

// Validate rejects a config with any partition key missing. An empty
// key would silently collapse distinct runs into one Hive partition,
// so clients refuse to start rather than write somewhere ambiguous.
func (c Config) Validate() error {
	missing := ""
	switch {
	case c.Dataset == "":
		missing = "dataset"
	case c.Source == "":
		missing = "source"
	case c.Category == "":
		missing = "category"
	case c.Day == "":
		missing = "day"
	case c.RunID == "":
		missing = "run_id"
	}
	if missing != "" {
		return fmt.Errorf("storage config missing partition key %q", missing)
	}
	return nil
}

// Client abstracts the storage client the Sink writes through.
type Client interface {
	// WriteEvents persists a batch of events, preserving order.
	WriteEvents(ctx context.Context, dataset, runID string, events []*types.EventEnvelope) error

	// WriteChunks persists a batch of chunks, preserving order.
	WriteChunks(ctx context.Context, dataset, runID string, chunks []*types.ArtifactChunk) error

	// WriteMetrics persists a final metrics snapshot under the
	// event_type=metrics partition.
	WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error

	// Close releases client resources.
	Close() error
}

// Sink adapts a Client to policy.Sink. Empty batches never reach the
// client: a buffered policy flushing an idle run would otherwise pay
// a storage round-trip to write nothing.
type Sink struct {
	config Config
	client Client
}

// NewSink builds a Sink over client.
func NewSink(config Config, client Client) *Sink {
	return &Sink{config: config, client: client}
}

// WriteEvents implements policy.Sink.
func (s *Sink) WriteEvents(ctx context.Context, events []*types.EventEnvelope) error {
	if len(events) == 0 {
		return nil
	}
	return s.client.WriteEvents(ctx, s.config.Dataset, s.config.RunID, events)
}

// WriteChunks implements policy.Sink.
func (s *Sink) WriteChunks(ctx context.Context, chunks []*types.ArtifactChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.client.WriteChunks(ctx, s.config.Dataset, s.config.RunID, chunks)
}

// Close implements policy.Sink.
func (s *Sink) Close() error {
	return s.client.Close()
}

var _ policy.Sink = (*Sink)(nil)

// StubClient records writes without persisting anything. Safe for
// concurrent writers; read the exported fields only after the writers
// have quiesced.
type StubClient struct {
	mu sync.Mutex

	Events  []StubEventRecord
	Chunks  []StubChunkRecord
	Metrics []StubMetricsRecord
	Closed  bool

	// ErrOnWrite, when set, fails every write method without
	// recording anything.
	ErrOnWrite error
}

// StubEventRecord is one recorded WriteEvents call.
type StubEventRecord struct {
	Dataset string
	RunID   string
	Events  []*types.EventEnvelope
}

// StubChunkRecord is one recorded WriteChunks call.
type StubChunkRecord struct {
	Dataset string
	RunID   string
	Chunks  []*types.ArtifactChunk
}

// StubMetricsRecord is one recorded WriteMetrics call.
type StubMetricsRecord struct {
	Snapshot    metrics.Snapshot
	CompletedAt time.Time
}

// NewStubClient builds an empty stub client.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// WriteEvents implements Client.
func (c *StubClient) WriteEvents(_ context.Context, dataset, runID string, events []*types.EventEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ErrOnWrite != nil {
		return c.ErrOnWrite
	}
	c.Events = append(c.Events, StubEventRecord{Dataset: dataset, RunID: runID, Events: events})
	return nil
}

// WriteChunks implements Client.
func (c *StubClient) WriteChunks(_ context.Context, dataset, runID string, chunks []*types.ArtifactChunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ErrOnWrite != nil {
		return c.ErrOnWrite
	}
	c.Chunks = append(c.Chunks, StubChunkRecord{Dataset: dataset, RunID: runID, Chunks: chunks})
	return nil
}

// WriteMetrics implements Client.
func (c *StubClient) WriteMetrics(_ context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ErrOnWrite != nil {
		return c.ErrOnWrite
	}
	c.Metrics = append(c.Metrics, StubMetricsRecord{Snapshot: snap, CompletedAt: completedAt})
	return nil
}

// Close implements Client.
func (c *StubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

var _ Client = (*StubClient)(nil)
