package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/lode/lode"
)

// ErrNoMetricsFound is returned when the dataset holds no matching
// metrics record.
var ErrNoMetricsFound = errors.New("no metrics records found")

// metricsFilter narrows the snapshot walk by run and source. Empty
// fields match everything.
type metricsFilter struct {
	runID  string
	source string
}

// admitsSnapshot is the coarse pre-filter over manifest paths: cheap,
// but only as precise as the Hive partition segments.
func (f metricsFilter) admitsSnapshot(snap *lode.DatasetSnapshot) bool {
	return isMetricsSnapshot(snap) &&
		snapshotMatchesFilter(snap, "run_id", f.runID) &&
		snapshotMatchesFilter(snap, "source", f.source)
}

// admitsRecord is the authoritative check on the record fields
// themselves, which matters for cumulative or multi-record snapshots
// whose manifest spans several partitions.
func (f metricsFilter) admitsRecord(record map[string]any) bool {
	if record["record_kind"] != RecordKindMetrics {
		return false
	}
	if f.runID != "" && recordString(record, "run_id") != f.runID {
		return false
	}
	if f.source != "" && recordString(record, "source") != f.source {
		return false
	}
	return true
}

// QueryLatestMetrics returns the most recent metrics record, filtered
// by runID and source when non-empty.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, runID, source string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "quarry/snapshots")
	}

	filter := metricsFilter{runID: runID, source: source}

	// Snapshots come ordered by creation time; walk newest first and
	// return the first admitted record.
	for i := len(snapshots) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap := snapshots[i]
		if !filter.admitsSnapshot(snap) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("quarry/snapshot/%s", snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || !filter.admitsRecord(record) {
				continue
			}
			return record, nil
		}
	}

	return nil, ErrNoMetricsFound
}

// recordString reads a string field, returning "" for nil or other
// types.
func recordString(record map[string]any, key string) string {
	if s, ok := record[key].(string); ok {
		return s
	}
	return ""
}
