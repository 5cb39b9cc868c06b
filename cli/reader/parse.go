package reader

import "errors"

// ParseMetricsRecord converts a raw storage record into a
// MetricsSnapshot. Numeric fields tolerate both int64 (direct writes)
// and float64 (JSON round-trips).
func ParseMetricsRecord(record map[string]any) (*MetricsSnapshot, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}

	snap := &MetricsSnapshot{
		Ts: asString(record["ts"]),

		RunsStarted:   asInt64(record["runs_started_total"]),
		RunsCompleted: asInt64(record["runs_completed_total"]),
		RunsFailed:    asInt64(record["runs_failed_total"]),
		RunsCrashed:   asInt64(record["runs_crashed_total"]),

		EventsReceived:  asInt64(record["events_received_total"]),
		EventsPersisted: asInt64(record["events_persisted_total"]),
		EventsDropped:   asInt64(record["events_dropped_total"]),

		ExecutorLaunchSuccess: asInt64(record["executor_launch_success_total"]),
		ExecutorLaunchFailure: asInt64(record["executor_launch_failure_total"]),
		ExecutorCrash:         asInt64(record["executor_crash_total"]),
		IPCDecodeErrors:       asInt64(record["ipc_decode_errors_total"]),

		LodeWriteSuccess: asInt64(record["lode_write_success_total"]),
		LodeWriteFailure: asInt64(record["lode_write_failure_total"]),
		LodeWriteRetry:   asInt64(record["lode_write_retry_total"]),

		Policy:         asString(record["policy"]),
		Executor:       asString(record["executor"]),
		StorageBackend: asString(record["storage_backend"]),
		RunID:          asString(record["run_id"]),
		JobID:          asString(record["job_id"]),
	}

	if dbt, ok := record["dropped_by_type"]; ok && dbt != nil {
		snap.DroppedByType = asCountMap(dbt)
	}

	// The write path always stamps these; their absence means a
	// corrupt or foreign record.
	switch {
	case snap.Ts == "":
		return nil, errors.New("metrics record missing required field: ts")
	case snap.RunID == "":
		return nil, errors.New("metrics record missing required field: run_id")
	case snap.Policy == "":
		return nil, errors.New("metrics record missing required field: policy")
	case snap.Executor == "":
		return nil, errors.New("metrics record missing required field: executor")
	case snap.StorageBackend == "":
		return nil, errors.New("metrics record missing required field: storage_backend")
	}

	return snap, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// asCountMap handles both map[string]int64 (direct writes) and
// map[string]any (JSON round-trips).
func asCountMap(v any) map[string]int64 {
	switch m := v.(type) {
	case map[string]int64:
		return m
	case map[string]any:
		out := make(map[string]int64, len(m))
		for k, val := range m {
			out[k] = asInt64(val)
		}
		return out
	default:
		return nil
	}
}
