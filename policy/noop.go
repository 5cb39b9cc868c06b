package policy

import (
	"context"
	"sync"

	"github.com/quarrio/quarry/types"
)

// NoopPolicy accepts everything and persists nothing. Intended for
// tests and dry runs.
//
// Its stats still follow droppable semantics: droppable types count as
// dropped, everything else counts as persisted, so downstream stats
// consumers see the same shape a real policy would produce.
type NoopPolicy struct {
	mu    sync.Mutex
	stats Stats
}

// NewNoopPolicy builds a no-op policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{stats: newStats()}
}

// IngestEvent counts the event and discards it.
func (p *NoopPolicy) IngestEvent(_ context.Context, envelope *types.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalEvents++
	if IsDroppable(envelope.Type) {
		markDrop(&p.stats, envelope.Type)
	} else {
		p.stats.EventsPersisted++
	}
	return nil
}

// IngestArtifactChunk counts the chunk and discards it.
func (p *NoopPolicy) IngestArtifactChunk(_ context.Context, _ *types.ArtifactChunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalChunks++
	return nil
}

// Flush records the call.
func (p *NoopPolicy) Flush(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	markFlush(&p.stats, FlushTriggerTermination)
	return nil
}

// Close is a no-op.
func (p *NoopPolicy) Close() error { return nil }

// Stats returns a snapshot of the counters.
func (p *NoopPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneStats(&p.stats)
}

var _ Policy = (*NoopPolicy)(nil)
