// Package notify defines the run-completion notification boundary.
//
// Notifiers publish a RunCompletedEvent to a downstream system once a
// run's outcome is known. The run orchestrator owns notifier
// lifecycle; callers supply configuration only.
package notify

import (
	"context"
	"fmt"
	"time"
)

// RunCompletedEvent is the payload published when a run finishes. The
// shape matches the run-report fields notify consumers expect.
type RunCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	// EventType is always "run_completed".
	EventType   string `json:"event_type"`
	RunID       string `json:"run_id"`
	Source      string `json:"source"`
	Category    string `json:"category"`
	Day         string `json:"day"`
	Outcome     string `json:"outcome"`
	StoragePath string `json:"storage_path"`
	// Timestamp is ISO 8601.
	Timestamp  string `json:"timestamp"`
	JobID      string `json:"job_id,omitempty"`
	Attempt    int    `json:"attempt"`
	EventCount int64  `json:"event_count"`
	DurationMs int64  `json:"duration_ms"`
}

// Adapter publishes run completion events to a downstream system.
// Implementations must be safe for single-use per run.
type Adapter interface {
	// Publish sends one event downstream, honoring the context's
	// cancellation and deadline.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Retry runs fn up to 1+retries times, sleeping 500ms·2^(i-1) before
// each retry. A non-nil permanent predicate short-circuits retries for
// errors a second attempt cannot fix (a 4xx response, say). The
// context is checked before every attempt and during backoff.
func Retry(ctx context.Context, retries int, permanent func(error) bool, fn func(context.Context) error) error {
	attempts := 1 + retries
	var lastErr error

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable: %w", lastErr)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
