package reader

import (
	"errors"
	"time"
)

// StubReader serves shape-correct canned data so the CLI surfaces can
// be developed and tested without a storage backend.
type StubReader struct{}

// NewStubReader builds a stub reader.
func NewStubReader() *StubReader {
	return &StubReader{}
}

// InspectRun returns canned run details.
func (r *StubReader) InspectRun(runID string) *InspectRunResponse {
	now := time.Now()
	ended := now.Add(-time.Minute)
	return &InspectRunResponse{
		RunID:     runID,
		JobID:     "stub-job-0001",
		State:     "succeeded",
		Attempt:   1,
		Policy:    "strict",
		StartedAt: now.Add(-5 * time.Minute),
		EndedAt:   &ended,
	}
}

// InspectJob returns canned job details.
func (r *StubReader) InspectJob(jobID string) *InspectJobResponse {
	return &InspectJobResponse{
		JobID:  jobID,
		State:  "completed",
		RunIDs: []string{"stub-run-0001", "stub-run-0002"},
	}
}

// InspectTask returns canned task details.
func (r *StubReader) InspectTask(taskID string) *InspectTaskResponse {
	runID := "stub-run-0001"
	return &InspectTaskResponse{
		TaskID: taskID,
		State:  "completed",
		RunID:  &runID,
	}
}

// InspectProxy returns canned proxy pool details.
func (r *StubReader) InspectProxy(poolName string) *InspectProxyPoolResponse {
	now := time.Now()
	ttlMs := int64(3600000)
	return &InspectProxyPoolResponse{
		Name:        poolName,
		Strategy:    "round_robin",
		EndpointCnt: 3,
		Sticky: &ProxySticky{
			Scope: "job",
			TTLMs: &ttlMs,
		},
		Runtime: ProxyRuntime{
			RoundRobinIndex: 1,
			StickyEntries:   5,
			RecencyWindow:   3,
			RecencyFill:     2,
			LastUsedAt:      &now,
		},
	}
}

// InspectExecutor returns canned executor details.
func (r *StubReader) InspectExecutor(executorID string) *InspectExecutorResponse {
	now := time.Now()
	return &InspectExecutorResponse{
		ExecutorID: executorID,
		State:      "idle",
		LastSeenAt: &now,
	}
}

// StatsRuns returns canned run statistics.
func (r *StubReader) StatsRuns() *RunStats {
	return &RunStats{Total: 120, Running: 4, Succeeded: 109, Failed: 7}
}

// StatsJobs returns canned job statistics.
func (r *StubReader) StatsJobs() *JobStats {
	return &JobStats{Total: 48, Running: 3, Succeeded: 41, Failed: 4}
}

// StatsTasks returns canned task statistics.
func (r *StubReader) StatsTasks() *TaskStats {
	return &TaskStats{Total: 210, Running: 9, Succeeded: 192, Failed: 9}
}

// StatsProxies returns canned per-pool statistics.
func (r *StubReader) StatsProxies() []ProxyStats {
	now := time.Now()
	return []ProxyStats{
		{Pool: "default", Requests: 1200, Failures: 6, LastUsedAt: &now},
		{Pool: "premium", Requests: 430, Failures: 2, LastUsedAt: &now},
	}
}

// StatsExecutors returns canned executor statistics.
func (r *StubReader) StatsExecutors() *ExecutorStats {
	return &ExecutorStats{Total: 8, Running: 2, Idle: 5, Failed: 1}
}

// StatsMetrics returns a canned metrics snapshot.
func (r *StubReader) StatsMetrics() *MetricsSnapshot {
	return &MetricsSnapshot{
		Ts:                    time.Now().UTC().Format(time.RFC3339),
		RunsStarted:           120,
		RunsCompleted:         109,
		RunsFailed:            7,
		RunsCrashed:           4,
		EventsReceived:        61250,
		EventsPersisted:       60790,
		EventsDropped:         460,
		DroppedByType:         map[string]int64{"log": 280, "debug": 180},
		ExecutorLaunchSuccess: 120,
		ExecutorCrash:         4,
		IPCDecodeErrors:       2,
		LodeWriteSuccess:      1174,
		LodeWriteFailure:      2,
		Policy:                "strict",
		Executor:              "executor.js",
		StorageBackend:        "fs",
		RunID:                 "stub-run-0001",
		JobID:                 "stub-job-0001",
	}
}

// ListRuns returns a canned run list, honoring the state filter and
// limit so the CLI's filtering paths are exercised.
func (r *StubReader) ListRuns(opts ListRunsOptions) []ListRunItem {
	now := time.Now()
	runs := []ListRunItem{
		{RunID: "run-001", State: "succeeded", StartedAt: now.Add(-1 * time.Hour)},
		{RunID: "run-002", State: "succeeded", StartedAt: now.Add(-2 * time.Hour)},
		{RunID: "run-003", State: "running", StartedAt: now.Add(-5 * time.Minute)},
		{RunID: "run-004", State: "failed", StartedAt: now.Add(-30 * time.Minute)},
	}

	if opts.State != "" {
		filtered := runs[:0:0]
		for _, run := range runs {
			if run.State == opts.State {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs
}

// ListJobs returns a canned job list.
func (r *StubReader) ListJobs() []ListJobItem {
	return []ListJobItem{
		{JobID: "job-001", State: "completed"},
		{JobID: "job-002", State: "running"},
		{JobID: "job-003", State: "pending"},
	}
}

// ListPools returns a canned pool list.
func (r *StubReader) ListPools() []ListPoolItem {
	return []ListPoolItem{
		{Name: "default", Strategy: "round_robin"},
		{Name: "premium", Strategy: "sticky"},
		{Name: "backup", Strategy: "random"},
	}
}

// ListExecutors returns a canned executor list.
func (r *StubReader) ListExecutors() []ListExecutorItem {
	return []ListExecutorItem{
		{ExecutorID: "exec-001", State: "running"},
		{ExecutorID: "exec-002", State: "idle"},
		{ExecutorID: "exec-003", State: "idle"},
	}
}

// DebugResolveProxy returns a canned resolution.
func (r *StubReader) DebugResolveProxy(pool string, commit bool) (*ResolveProxyResponse, error) {
	if pool == "" {
		return nil, errors.New("pool name required")
	}
	return &ResolveProxyResponse{
		Endpoint: ProxyEndpoint{
			Host:     "proxy.example.com",
			Port:     8080,
			Protocol: "http",
		},
		Committed: commit,
	}, nil
}

// DebugIPC returns canned IPC transport information.
func (r *StubReader) DebugIPC(verbose bool) *IPCDebugResponse {
	var lastErr *string
	if verbose {
		errMsg := "connection reset at 2026-01-12T08:45:00Z"
		lastErr = &errMsg
	}
	return &IPCDebugResponse{
		Transport:    "stdio",
		Encoding:     "msgpack",
		MessagesSent: 1720,
		Errors:       2,
		LastError:    lastErr,
	}
}

var _ Reader = (*StubReader)(nil)
