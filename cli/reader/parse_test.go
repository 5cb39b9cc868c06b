package reader

import (
	"strings"
	"testing"
)

// requiredFields are the keys ParseMetricsRecord refuses to go
// without.
func baseRecord() map[string]any {
	return map[string]any{
		"record_kind":     "metrics",
		"ts":              "2026-02-03T15:00:00Z",
		"run_id":          "run-1",
		"policy":          "strict",
		"executor":        "executor.js",
		"storage_backend": "fs",
	}
}

func TestParseMetricsRecordRoundTrip(t *testing.T) {
	// A JSON round-trip turns every number into float64.
	record := map[string]any{
		"record_kind":                   "metrics",
		"ts":                            "2026-02-03T15:00:00Z",
		"runs_started_total":            float64(5),
		"runs_completed_total":          float64(4),
		"runs_failed_total":             float64(1),
		"runs_crashed_total":            float64(0),
		"events_received_total":         float64(100),
		"events_persisted_total":        float64(98),
		"events_dropped_total":          float64(2),
		"executor_launch_success_total": float64(5),
		"executor_launch_failure_total": float64(0),
		"executor_crash_total":          float64(0),
		"ipc_decode_errors_total":       float64(1),
		"lode_write_success_total":      float64(50),
		"lode_write_failure_total":      float64(0),
		"lode_write_retry_total":        float64(3),
		"policy":                        "buffered",
		"executor":                      "my-executor.js",
		"storage_backend":               "s3",
		"run_id":                        "run-abc",
		"job_id":                        "job-def",
		"dropped_by_type":               map[string]any{"log": float64(2)},
	}

	parsed, err := ParseMetricsRecord(record)
	if err != nil {
		t.Fatalf("ParseMetricsRecord: %v", err)
	}

	ints := map[string][2]int64{
		"RunsStarted":      {parsed.RunsStarted, 5},
		"RunsCompleted":    {parsed.RunsCompleted, 4},
		"RunsFailed":       {parsed.RunsFailed, 1},
		"EventsReceived":   {parsed.EventsReceived, 100},
		"EventsPersisted":  {parsed.EventsPersisted, 98},
		"EventsDropped":    {parsed.EventsDropped, 2},
		"IPCDecodeErrors":  {parsed.IPCDecodeErrors, 1},
		"LodeWriteSuccess": {parsed.LodeWriteSuccess, 50},
		"LodeWriteRetry":   {parsed.LodeWriteRetry, 3},
	}
	for name, v := range ints {
		if v[0] != v[1] {
			t.Errorf("%s = %d, want %d", name, v[0], v[1])
		}
	}

	strs := map[string][2]string{
		"Ts":             {parsed.Ts, "2026-02-03T15:00:00Z"},
		"Policy":         {parsed.Policy, "buffered"},
		"Executor":       {parsed.Executor, "my-executor.js"},
		"StorageBackend": {parsed.StorageBackend, "s3"},
		"RunID":          {parsed.RunID, "run-abc"},
		"JobID":          {parsed.JobID, "job-def"},
	}
	for name, v := range strs {
		if v[0] != v[1] {
			t.Errorf("%s = %q, want %q", name, v[0], v[1])
		}
	}

	if parsed.DroppedByType == nil || parsed.DroppedByType["log"] != 2 {
		t.Errorf("DroppedByType = %v, want log=2", parsed.DroppedByType)
	}
}

func TestParseMetricsRecordNil(t *testing.T) {
	if _, err := ParseMetricsRecord(nil); err == nil {
		t.Error("nil record accepted")
	}
}

func TestParseMetricsRecordRequiredFields(t *testing.T) {
	for _, missing := range []string{"ts", "run_id", "policy", "executor", "storage_backend"} {
		t.Run("missing "+missing, func(t *testing.T) {
			record := baseRecord()
			delete(record, missing)

			_, err := ParseMetricsRecord(record)
			if err == nil {
				t.Fatal("record accepted without a required field")
			}
			if !strings.Contains(err.Error(), missing) {
				t.Errorf("error %q does not name the missing field %q", err, missing)
			}
		})
	}

	t.Run("all missing", func(t *testing.T) {
		if _, err := ParseMetricsRecord(map[string]any{"record_kind": "metrics"}); err == nil {
			t.Fatal("near-empty record accepted")
		}
	})
}

func TestParseMetricsRecordMinimal(t *testing.T) {
	parsed, err := ParseMetricsRecord(baseRecord())
	if err != nil {
		t.Fatalf("ParseMetricsRecord: %v", err)
	}
	if parsed.Ts != "2026-02-03T15:00:00Z" {
		t.Errorf("Ts = %q", parsed.Ts)
	}
	if parsed.RunsStarted != 0 || parsed.DroppedByType != nil {
		t.Errorf("absent counters = %d / %v, want zero values", parsed.RunsStarted, parsed.DroppedByType)
	}
}
