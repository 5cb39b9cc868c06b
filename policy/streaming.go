package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quarrio/quarry/log"
	"github.com/quarrio/quarry/types"
)

// ErrStreamingInvalidConfig is returned when neither flush trigger is
// configured.
var ErrStreamingInvalidConfig = errors.New("invalid streaming config: at least one of FlushCount or FlushInterval must be set")

// StreamingConfig configures a StreamingPolicy.
type StreamingConfig struct {
	// FlushCount flushes after N buffered events; zero disables the
	// count trigger.
	FlushCount int

	// FlushInterval flushes on a timer; zero disables the interval
	// trigger.
	FlushInterval time.Duration

	// Logger, when set, receives flush and failure records.
	Logger *log.Logger
}

// StreamingPolicy persists continuously in batches.
//
//   - No drops: every event type is persisted, as with strict
//   - Events and chunks accumulate in memory between flushes
//   - A flush fires when any configured trigger does
//
// Flush writes chunks first, then events. On failure the swapped-out
// data is prepended back onto the live buffers and retried on the
// next trigger.
//
// Lock discipline: mu guards the buffers and stats; flushMu serializes
// flushes so the interval goroutine and a count trigger never write
// concurrently. Ingestion only ever holds mu, and only briefly.
type StreamingPolicy struct {
	sink   Sink
	config StreamingConfig
	logger *log.Logger

	mu     sync.Mutex
	events []*types.EventEnvelope
	chunks []*types.ArtifactChunk
	bytes  int64
	stats  Stats

	flushMu sync.Mutex

	stopCh  chan struct{}
	stopped bool
}

// NewStreamingPolicy builds a streaming policy; at least one flush
// trigger must be configured.
func NewStreamingPolicy(sink Sink, config StreamingConfig) (*StreamingPolicy, error) {
	if config.FlushCount <= 0 && config.FlushInterval <= 0 {
		return nil, ErrStreamingInvalidConfig
	}

	p := &StreamingPolicy{
		sink:   sink,
		config: config,
		logger: config.Logger,
		events: make([]*types.EventEnvelope, 0, 128),
		stats:  newStats(),
		stopCh: make(chan struct{}),
	}

	if config.FlushInterval > 0 {
		go p.intervalLoop()
	}
	return p, nil
}

// IngestEvent buffers the envelope and fires a count-trigger flush
// when the threshold is crossed. Events are never dropped.
func (p *StreamingPolicy) IngestEvent(ctx context.Context, envelope *types.EventEnvelope) error {
	p.mu.Lock()
	p.stats.TotalEvents++
	p.events = append(p.events, envelope)
	p.bytes += eventFootprint(envelope)
	p.stats.BufferSize = p.bytes
	crossed := p.config.FlushCount > 0 && len(p.events) >= p.config.FlushCount
	p.mu.Unlock()

	if crossed {
		return p.flush(ctx, FlushTriggerCount)
	}
	return nil
}

// IngestArtifactChunk buffers the chunk. Chunks are never dropped.
func (p *StreamingPolicy) IngestArtifactChunk(_ context.Context, chunk *types.ArtifactChunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalChunks++
	p.chunks = append(p.chunks, chunk)
	p.bytes += int64(len(chunk.Data))
	p.stats.BufferSize = p.bytes
	return nil
}

// Flush drains everything buffered under the termination trigger.
func (p *StreamingPolicy) Flush(ctx context.Context) error {
	return p.flush(ctx, FlushTriggerTermination)
}

// flush swaps the buffers out under mu, writes outside mu, and on
// failure prepends the swapped data back in front of anything
// ingested meanwhile. Serialized by flushMu.
func (p *StreamingPolicy) flush(ctx context.Context, trigger FlushTrigger) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	markFlush(&p.stats, trigger)
	events, chunks := p.events, p.chunks
	if len(events) == 0 && len(chunks) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.events = make([]*types.EventEnvelope, 0, 128)
	p.chunks = nil
	p.recountBytes()
	p.mu.Unlock()

	if len(chunks) > 0 {
		if err := p.sink.WriteChunks(ctx, chunks); err != nil {
			p.mu.Lock()
			p.stats.Errors++
			p.events = append(events, p.events...)
			p.chunks = append(chunks, p.chunks...)
			p.recountBytes()
			p.mu.Unlock()
			p.logFlushFailure("chunks", trigger, err)
			return err
		}
		p.mu.Lock()
		p.stats.ChunksPersisted += int64(len(chunks))
		p.mu.Unlock()
	}

	if len(events) > 0 {
		if err := p.sink.WriteEvents(ctx, events); err != nil {
			// Chunks landed; only the events go back.
			p.mu.Lock()
			p.stats.Errors++
			p.events = append(events, p.events...)
			p.recountBytes()
			p.mu.Unlock()
			p.logFlushFailure("events", trigger, err)
			return err
		}
		p.mu.Lock()
		p.stats.EventsPersisted += int64(len(events))
		p.mu.Unlock()
	}

	p.logFlush(trigger, len(events), len(chunks))
	return nil
}

// Close stops the interval goroutine, flushes best-effort, and closes
// the sink.
func (p *StreamingPolicy) Close() error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.mu.Unlock()

	_ = p.Flush(context.Background())
	return p.sink.Close()
}

// Stats returns an atomic snapshot of counters and buffer size.
func (p *StreamingPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := cloneStats(&p.stats)
	s.BufferSize = p.bytes
	return s
}

// FlushTriggerStats breaks the flush count down by trigger.
func (p *StreamingPolicy) FlushTriggerStats() map[FlushTrigger]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[FlushTrigger]int64{
		FlushTriggerCount:       p.stats.FlushTriggers[string(FlushTriggerCount)],
		FlushTriggerInterval:    p.stats.FlushTriggers[string(FlushTriggerInterval)],
		FlushTriggerTermination: p.stats.FlushTriggers[string(FlushTriggerTermination)],
	}
}

func (p *StreamingPolicy) intervalLoop() {
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			hasData := len(p.events) > 0 || len(p.chunks) > 0
			p.mu.Unlock()
			if hasData {
				// Interval flushes are best-effort; failures stay
				// buffered for the next trigger.
				_ = p.flush(context.Background(), FlushTriggerInterval)
			}
		case <-p.stopCh:
			return
		}
	}
}

// recountBytes rebuilds the byte footprint from the live buffers.
// Caller holds mu.
func (p *StreamingPolicy) recountBytes() {
	var total int64
	for _, event := range p.events {
		total += eventFootprint(event)
	}
	for _, chunk := range p.chunks {
		total += int64(len(chunk.Data))
	}
	p.bytes = total
	p.stats.BufferSize = total
}

func (p *StreamingPolicy) logFlush(trigger FlushTrigger, events, chunks int) {
	if p.logger == nil {
		return
	}
	p.logger.Info("streaming flush", map[string]any{
		"trigger": string(trigger),
		"events":  events,
		"chunks":  chunks,
		"policy":  "streaming",
	})
}

func (p *StreamingPolicy) logFlushFailure(bufferType string, trigger FlushTrigger, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("streaming flush failed", map[string]any{
		"buffer_type": bufferType,
		"trigger":     string(trigger),
		"error":       err.Error(),
		"policy":      "streaming",
	})
}

var _ Policy = (*StreamingPolicy)(nil)
