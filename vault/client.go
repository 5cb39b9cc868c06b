package vault

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/quarrio/quarry/metrics"
	"github.com/quarrio/quarry/types"
)

// checksumEnabled switches on MD5 checksums for chunk records. Off by
// default; the storage layer does its own integrity checking.
const checksumEnabled = false

// ErrCommitWithoutChunks is returned when an artifact commit arrives
// before any chunk for that artifact has been written.
var ErrCommitWithoutChunks = fmt.Errorf("artifact commit rejected: no chunks written for artifact")

// ErrMissingArtifactID is returned when an artifact commit event
// carries no artifact_id.
var ErrMissingArtifactID = fmt.Errorf("artifact commit rejected: missing or empty artifact_id")

// LodeClient is the Lode-backed Client, writing through a Dataset
// with HiveLayout partition keys source/category/day/run_id/event_type.
type LodeClient struct {
	dataset lode.Dataset
	config  Config

	// The raw Store is initialized lazily; only sidecar file writes
	// (file_writer.go) need it.
	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error

	mu         sync.Mutex
	offsets    map[string]int64    // cumulative byte offset per artifact
	chunksSeen map[string]struct{} // artifacts with at least one chunk written
}

// newHiveDataset builds a Dataset with the layout and codec every
// quarry reader and writer shares. Read and write paths must agree on
// these options or round-trips break.
func newHiveDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout("source", "category", "day", "run_id", "event_type"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// newClient assembles a LodeClient over an already-built dataset.
func newClient(ds lode.Dataset, cfg Config, factory lode.StoreFactory) *LodeClient {
	return &LodeClient{
		dataset:      ds,
		config:       cfg,
		storeFactory: factory,
		offsets:      make(map[string]int64),
		chunksSeen:   make(map[string]struct{}),
	}
}

// NewLodeClient builds a client over filesystem storage rooted at
// root.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeClientWithFactory builds a client over any store factory;
// use lode.NewMemoryFactory() in tests.
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ds, err := newHiveDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return newClient(ds, cfg, factory), nil
}

// WriteEvents persists a batch of events. Artifact commit events are
// stored as commit records and every other type as an event record,
// each partitioned by its event_type.
//
// The chunks-before-commit invariant is enforced here: a commit whose
// artifact has no written chunks is rejected, and a successful commit
// clears the artifact's offset and chunks-seen state.
func (c *LodeClient) WriteEvents(ctx context.Context, dataset, runID string, events []*types.EventEnvelope) error {
	if len(events) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var committed []string
	records := make([]any, 0, len(events))
	for _, e := range events {
		if e.Type != types.EventTypeArtifact {
			records = append(records, toEventRecordMap(e, c.config))
			continue
		}

		artifactID := extractArtifactID(e.Payload)
		if artifactID == "" {
			return ErrMissingArtifactID
		}
		if _, seen := c.chunksSeen[artifactID]; !seen {
			return fmt.Errorf("%w: %s", ErrCommitWithoutChunks, artifactID)
		}
		committed = append(committed, artifactID)
		records = append(records, toArtifactCommitRecordMap(e, c.config))
	}

	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.config.Dataset)
	}

	for _, artifactID := range committed {
		delete(c.offsets, artifactID)
		delete(c.chunksSeen, artifactID)
	}
	return nil
}

// WriteChunks persists a batch of chunks under event_type=artifact,
// with per-artifact offsets accumulated across batches. Offset and
// chunks-seen state only advance after the write lands.
func (c *LodeClient) WriteChunks(ctx context.Context, dataset, runID string, chunks []*types.ArtifactChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Stage offsets locally so a failed write leaves state untouched.
	staged := make(map[string]int64, len(c.offsets))
	for id, offset := range c.offsets {
		staged[id] = offset
	}

	records := make([]any, 0, len(chunks))
	for _, chunk := range chunks {
		offset := staged[chunk.ArtifactID]
		record := toChunkRecordMap(chunk, offset, c.config)
		if checksumEnabled {
			record["checksum"] = hexMD5(chunk.Data)
			record["checksum_algo"] = "md5"
		}
		records = append(records, record)
		staged[chunk.ArtifactID] = offset + int64(len(chunk.Data))
	}

	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.config.Dataset)
	}

	for _, chunk := range chunks {
		c.offsets[chunk.ArtifactID] = staged[chunk.ArtifactID]
		c.chunksSeen[chunk.ArtifactID] = struct{}{}
	}
	return nil
}

// WriteMetrics persists the run's final metrics snapshot under the
// event_type=metrics partition.
func (c *LodeClient) WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	record := toMetricsRecordMap(snap, completedAt, c.config)
	if _, err := c.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.config.Dataset)
	}
	return nil
}

// Close releases client resources. The current Lode Dataset API has
// nothing to close.
func (c *LodeClient) Close() error {
	return nil
}

func hexMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// extractArtifactID pulls artifact_id out of a commit payload,
// returning "" when absent or not a string.
func extractArtifactID(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if id, ok := payload["artifact_id"].(string); ok {
		return id
	}
	return ""
}

var _ Client = (*LodeClient)(nil)
