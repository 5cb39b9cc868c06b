package policy

import (
	"context"
	"sync"

	"github.com/quarrio/quarry/types"
)

// StrictPolicy persists synchronously, one write per event or chunk.
//
//   - No buffering, so nothing to lose on a crash
//   - No drops, every event reaches the sink
//   - Back-pressure falls through to the caller via sink latency
//   - A sink error fails the run
type StrictPolicy struct {
	sink Sink

	mu    sync.Mutex
	stats Stats
}

// NewStrictPolicy builds a strict policy over sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink, stats: newStats()}
}

// IngestEvent writes the envelope to the sink as a batch of one.
func (p *StrictPolicy) IngestEvent(ctx context.Context, envelope *types.EventEnvelope) error {
	p.mu.Lock()
	p.stats.TotalEvents++
	p.mu.Unlock()

	if err := p.sink.WriteEvents(ctx, []*types.EventEnvelope{envelope}); err != nil {
		p.countError()
		return err
	}

	p.mu.Lock()
	p.stats.EventsPersisted++
	p.mu.Unlock()
	return nil
}

// IngestArtifactChunk writes the chunk to the sink as a batch of one.
func (p *StrictPolicy) IngestArtifactChunk(ctx context.Context, chunk *types.ArtifactChunk) error {
	p.mu.Lock()
	p.stats.TotalChunks++
	p.mu.Unlock()

	if err := p.sink.WriteChunks(ctx, []*types.ArtifactChunk{chunk}); err != nil {
		p.countError()
		return err
	}

	p.mu.Lock()
	p.stats.ChunksPersisted++
	p.mu.Unlock()
	return nil
}

// Flush records the call; there is never anything buffered.
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	markFlush(&p.stats, FlushTriggerTermination)
	return nil
}

// Close closes the underlying sink.
func (p *StrictPolicy) Close() error {
	return p.sink.Close()
}

// Stats returns a snapshot of the counters.
func (p *StrictPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneStats(&p.stats)
}

func (p *StrictPolicy) countError() {
	p.mu.Lock()
	p.stats.Errors++
	p.mu.Unlock()
}

var _ Policy = (*StrictPolicy)(nil)
