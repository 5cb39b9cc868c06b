package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/quarrio/quarry/log"
	"github.com/quarrio/quarry/types"
)

// FlushMode selects the failure semantics of BufferedPolicy.Flush.
type FlushMode string

const (
	// FlushAtLeastOnce keeps every buffer intact on any failure.
	// Retries may duplicate writes but nothing is lost. The default.
	FlushAtLeastOnce FlushMode = "at_least_once"

	// FlushChunksFirst writes chunks, then events. A chunk failure
	// leaves events unwritten (no duplicates); an event failure after
	// chunks succeeded may duplicate chunks on retry.
	FlushChunksFirst FlushMode = "chunks_first"

	// FlushTwoPhase remembers which buffers already landed so a retry
	// never re-writes events that made it. The most stateful mode.
	FlushTwoPhase FlushMode = "two_phase"
)

// ErrBufferFull is returned when the buffer cannot accept a
// non-droppable event or chunk.
var ErrBufferFull = errors.New("buffer full: cannot accept non-droppable event")

// ErrInvalidConfig is returned when neither buffer limit is set.
var ErrInvalidConfig = errors.New("invalid config: at least one of MaxBufferEvents or MaxBufferBytes must be set")

// ErrInvalidFlushMode is returned for an unknown FlushMode.
var ErrInvalidFlushMode = errors.New("invalid flush mode")

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// MaxBufferEvents bounds the buffered event count; zero disables
	// the count limit.
	MaxBufferEvents int

	// MaxBufferBytes bounds the estimated buffer footprint; zero
	// disables the byte limit. At least one limit must be set.
	MaxBufferBytes int64

	// FlushMode defaults to FlushAtLeastOnce.
	FlushMode FlushMode

	// Logger, when set, receives drop and flush-failure records.
	Logger *log.Logger
}

// DefaultBufferedConfig returns the defaults: 1000 events, 10 MB,
// at-least-once.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{
		MaxBufferEvents: 1000,
		MaxBufferBytes:  10 * 1024 * 1024,
		FlushMode:       FlushAtLeastOnce,
	}
}

// BufferedPolicy accumulates events and chunks in bounded buffers and
// writes them in batches on Flush.
//
//   - May drop: log, enqueue, rotate_proxy (when full)
//   - Must NOT drop: item, artifact, checkpoint, run_error, run_complete
//   - Chunks are flushed before events; the chunks-before-commit
//     ordering at the storage layer is the sink's concern, not
//     re-ordering done here
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	mu     sync.Mutex
	events []*types.EventEnvelope
	// laterEvents holds events ingested after a two-phase flush wrote
	// the main event buffer but chunks still failed.
	laterEvents []*types.EventEnvelope
	chunks      []*types.ArtifactChunk
	bytes       int64
	// firstPhaseDone marks the main event buffer as already written
	// (two-phase mode only).
	firstPhaseDone bool
	stats          Stats
}

// NewBufferedPolicy builds a buffered policy; the config must set at
// least one buffer limit and name a known flush mode.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.MaxBufferEvents <= 0 && config.MaxBufferBytes <= 0 {
		return nil, ErrInvalidConfig
	}
	if config.FlushMode == "" {
		config.FlushMode = FlushAtLeastOnce
	}
	switch config.FlushMode {
	case FlushAtLeastOnce, FlushChunksFirst, FlushTwoPhase:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidFlushMode, config.FlushMode)
	}

	return &BufferedPolicy{
		sink:   sink,
		config: config,
		logger: config.Logger,
		events: make([]*types.EventEnvelope, 0, max(config.MaxBufferEvents, 100)),
		stats:  newStats(),
	}, nil
}

// IngestEvent buffers the envelope, shedding load when full.
//
// When the buffer has no room:
//   - a droppable incoming event is dropped and counted
//   - a non-droppable incoming event evicts the oldest droppable
//     buffered event if one exists
//   - otherwise the run fails with ErrBufferFull
func (p *BufferedPolicy) IngestEvent(_ context.Context, envelope *types.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalEvents++
	size := eventFootprint(envelope)

	if p.roomForEvent(size) {
		p.append(envelope, size)
		return nil
	}

	if IsDroppable(envelope.Type) {
		markDrop(&p.stats, envelope.Type)
		p.logDrop(envelope.Type, "buffer_full")
		return nil
	}

	if p.evictOldestDroppable() && p.roomForBytes(size) {
		p.append(envelope, size)
		return nil
	}

	p.stats.Errors++
	p.logOverflow(envelope.Type)
	return ErrBufferFull
}

// append stores the envelope in whichever event buffer is live.
// Caller holds mu.
func (p *BufferedPolicy) append(envelope *types.EventEnvelope, size int64) {
	if p.config.FlushMode == FlushTwoPhase && p.firstPhaseDone {
		p.laterEvents = append(p.laterEvents, envelope)
	} else {
		p.events = append(p.events, envelope)
	}
	p.bytes += size
	p.stats.BufferSize = p.bytes
}

// IngestArtifactChunk buffers the chunk. Chunks are never dropped, so
// a full buffer (or a config without a byte limit to bound chunks)
// fails the run.
func (p *BufferedPolicy) IngestArtifactChunk(_ context.Context, chunk *types.ArtifactChunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalChunks++

	if p.config.MaxBufferBytes <= 0 {
		p.stats.Errors++
		return fmt.Errorf("%w: chunk buffering requires MaxBufferBytes to be set", ErrBufferFull)
	}

	size := int64(len(chunk.Data))
	if p.bytes+size > p.config.MaxBufferBytes {
		p.stats.Errors++
		return fmt.Errorf("%w: chunk size %d would exceed buffer limit", ErrBufferFull, size)
	}

	p.chunks = append(p.chunks, chunk)
	p.bytes += size
	p.stats.BufferSize = p.bytes
	return nil
}

// Flush writes everything buffered, with failure handling per the
// configured FlushMode.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	switch p.config.FlushMode {
	case FlushChunksFirst:
		return p.flushChunksFirst(ctx)
	case FlushTwoPhase:
		return p.flushTwoPhase(ctx)
	default:
		return p.flushAtLeastOnce(ctx)
	}
}

// flushAtLeastOnce writes chunks then events and clears nothing until
// both landed. Any failure keeps every buffer for retry.
func (p *BufferedPolicy) flushAtLeastOnce(ctx context.Context) error {
	p.mu.Lock()
	markFlush(&p.stats, FlushTriggerTermination)
	events, chunks := p.events, p.chunks
	p.mu.Unlock()

	if len(chunks) > 0 {
		if err := p.sink.WriteChunks(ctx, chunks); err != nil {
			p.countError()
			p.logFlushFailure("chunks", err)
			return err
		}
		p.countChunksPersisted(len(chunks))
	}

	if len(events) > 0 {
		if err := p.sink.WriteEvents(ctx, events); err != nil {
			p.countError()
			p.logFlushFailure("events", err)
			return err
		}
		p.countEventsPersisted(len(events))
	}

	p.mu.Lock()
	p.resetEvents()
	p.resetChunks()
	p.mu.Unlock()
	return nil
}

// flushChunksFirst writes chunks then events; a successful chunk write
// is not retried even when the event write fails.
func (p *BufferedPolicy) flushChunksFirst(ctx context.Context) error {
	p.mu.Lock()
	markFlush(&p.stats, FlushTriggerTermination)
	events, chunks := p.events, p.chunks
	p.mu.Unlock()

	if len(chunks) > 0 {
		if err := p.sink.WriteChunks(ctx, chunks); err != nil {
			p.countError()
			return err
		}
		p.countChunksPersisted(len(chunks))
	}

	if len(events) > 0 {
		if err := p.sink.WriteEvents(ctx, events); err != nil {
			p.mu.Lock()
			p.stats.Errors++
			p.resetChunks()
			p.mu.Unlock()
			return err
		}
		p.countEventsPersisted(len(events))
	}

	p.mu.Lock()
	p.resetEvents()
	p.resetChunks()
	p.mu.Unlock()
	return nil
}

// flushTwoPhase tracks which buffers already landed so retries never
// duplicate events. Events ingested between a partial flush and its
// retry accumulate in laterEvents.
func (p *BufferedPolicy) flushTwoPhase(ctx context.Context) error {
	p.mu.Lock()
	markFlush(&p.stats, FlushTriggerTermination)
	events, later, chunks := p.events, p.laterEvents, p.chunks
	firstPhaseDone := p.firstPhaseDone
	p.mu.Unlock()

	if len(events) > 0 && !firstPhaseDone {
		if err := p.sink.WriteEvents(ctx, events); err != nil {
			p.countError()
			return err
		}
		p.countEventsPersisted(len(events))
		p.mu.Lock()
		p.firstPhaseDone = true
		p.mu.Unlock()
	}

	if len(later) > 0 {
		if err := p.sink.WriteEvents(ctx, later); err != nil {
			p.countError()
			return err
		}
		p.countEventsPersisted(len(later))
	}

	if len(chunks) > 0 {
		if err := p.sink.WriteChunks(ctx, chunks); err != nil {
			p.mu.Lock()
			p.stats.Errors++
			// Events are on disk; firstPhaseDone stays set so the
			// retry only re-attempts chunks.
			p.resetLaterEvents()
			p.mu.Unlock()
			return err
		}
		p.countChunksPersisted(len(chunks))
	}

	p.mu.Lock()
	p.resetEvents()
	p.resetLaterEvents()
	p.resetChunks()
	p.firstPhaseDone = false
	p.mu.Unlock()
	return nil
}

// Close flushes best-effort and closes the sink.
func (p *BufferedPolicy) Close() error {
	_ = p.Flush(context.Background())
	return p.sink.Close()
}

// Stats returns an atomic snapshot: counters and buffer size are read
// under the same lock acquisition.
func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := cloneStats(&p.stats)
	s.BufferSize = p.bytes
	return s
}

// roomForEvent checks both the count and byte limits. Caller holds mu.
func (p *BufferedPolicy) roomForEvent(size int64) bool {
	buffered := len(p.events) + len(p.laterEvents)
	if p.config.MaxBufferEvents > 0 && buffered >= p.config.MaxBufferEvents {
		return false
	}
	return p.roomForBytes(size)
}

// roomForBytes checks the byte limit alone. Caller holds mu.
func (p *BufferedPolicy) roomForBytes(size int64) bool {
	return p.config.MaxBufferBytes <= 0 || p.bytes+size <= p.config.MaxBufferBytes
}

// evictOldestDroppable removes the oldest droppable buffered event,
// scanning the main buffer before laterEvents. Reports whether
// anything was evicted. Caller holds mu.
func (p *BufferedPolicy) evictOldestDroppable() bool {
	for _, buf := range []*[]*types.EventEnvelope{&p.events, &p.laterEvents} {
		for i, event := range *buf {
			if !IsDroppable(event.Type) {
				continue
			}
			p.bytes -= eventFootprint(event)
			p.stats.BufferSize = p.bytes
			markDrop(&p.stats, event.Type)
			p.logDrop(event.Type, "evicted_for_non_droppable")
			*buf = append((*buf)[:i], (*buf)[i+1:]...)
			return true
		}
	}
	return false
}

// resetEvents, resetLaterEvents and resetChunks clear one buffer each
// and recount the byte footprint. Caller holds mu.
func (p *BufferedPolicy) resetEvents() {
	p.events = make([]*types.EventEnvelope, 0, max(p.config.MaxBufferEvents, 100))
	p.recountBytes()
}

func (p *BufferedPolicy) resetLaterEvents() {
	p.laterEvents = nil
	p.recountBytes()
}

func (p *BufferedPolicy) resetChunks() {
	p.chunks = nil
	p.recountBytes()
}

// recountBytes rebuilds the byte footprint from the live buffers.
// Caller holds mu.
func (p *BufferedPolicy) recountBytes() {
	var total int64
	for _, event := range p.events {
		total += eventFootprint(event)
	}
	for _, event := range p.laterEvents {
		total += eventFootprint(event)
	}
	for _, chunk := range p.chunks {
		total += int64(len(chunk.Data))
	}
	p.bytes = total
	p.stats.BufferSize = total
}

func (p *BufferedPolicy) countError() {
	p.mu.Lock()
	p.stats.Errors++
	p.mu.Unlock()
}

func (p *BufferedPolicy) countEventsPersisted(n int) {
	p.mu.Lock()
	p.stats.EventsPersisted += int64(n)
	p.mu.Unlock()
}

func (p *BufferedPolicy) countChunksPersisted(n int) {
	p.mu.Lock()
	p.stats.ChunksPersisted += int64(n)
	p.mu.Unlock()
}

func (p *BufferedPolicy) logDrop(eventType types.EventType, reason string) {
	if p.logger == nil {
		return
	}
	p.logger.Warn("event dropped", map[string]any{
		"event_type": string(eventType),
		"reason":     reason,
		"policy":     "buffered",
	})
}

func (p *BufferedPolicy) logOverflow(eventType types.EventType) {
	if p.logger == nil {
		return
	}
	p.logger.Error("buffer overflow", map[string]any{
		"event_type": string(eventType),
		"policy":     "buffered",
	})
}

func (p *BufferedPolicy) logFlushFailure(bufferType string, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("flush failed", map[string]any{
		"buffer_type": bufferType,
		"error":       err.Error(),
		"policy":      "buffered",
	})
}

var _ Policy = (*BufferedPolicy)(nil)
