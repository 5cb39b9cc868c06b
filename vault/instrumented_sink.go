package vault

import (
	"context"
	"sync/atomic"

	"github.com/quarrio/quarry/metrics"
	"github.com/quarrio/quarry/policy"
	"github.com/quarrio/quarry/types"
)

// InstrumentedSink wraps a policy.Sink so every write call lands in
// the metrics collector as a lode_write_success or lode_write_failure.
// It also keeps its own local tallies so callers holding only the
// sink (the fan-out child factory, tests) can read write outcomes
// without reaching into the shared collector.
type InstrumentedSink struct {
	inner     policy.Sink
	collector *metrics.Collector

	successes atomic.Int64
	failures  atomic.Int64
}

// NewInstrumentedSink wraps inner with write instrumentation.
func NewInstrumentedSink(inner policy.Sink, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector}
}

// observe records one write outcome in both the local tallies and the
// collector, passing the error through untouched.
func (s *InstrumentedSink) observe(err error) error {
	if err != nil {
		s.failures.Add(1)
		s.collector.IncLodeWriteFailure()
		return err
	}
	s.successes.Add(1)
	s.collector.IncLodeWriteSuccess()
	return nil
}

// WriteEvents delegates and counts the outcome.
func (s *InstrumentedSink) WriteEvents(ctx context.Context, events []*types.EventEnvelope) error {
	return s.observe(s.inner.WriteEvents(ctx, events))
}

// WriteChunks delegates and counts the outcome.
func (s *InstrumentedSink) WriteChunks(ctx context.Context, chunks []*types.ArtifactChunk) error {
	return s.observe(s.inner.WriteChunks(ctx, chunks))
}

// Counts returns the sink-local write tallies.
func (s *InstrumentedSink) Counts() (successes, failures int64) {
	return s.successes.Load(), s.failures.Load()
}

// Close delegates to the inner sink.
func (s *InstrumentedSink) Close() error {
	return s.inner.Close()
}

var _ policy.Sink = (*InstrumentedSink)(nil)
