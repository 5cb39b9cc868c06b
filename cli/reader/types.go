// Package reader is the read-side data access layer for the quarry
// CLI: inspect, stats, list, and debug queries, isolated from runtime
// internals so read-only commands never touch live run state.
package reader

import "time"

// InspectRunResponse describes one run.
type InspectRunResponse struct {
	RunID     string     `json:"run_id"`
	JobID     string     `json:"job_id"`
	State     string     `json:"state"`
	Attempt   int        `json:"attempt"`
	ParentRun *string    `json:"parent_run"`
	Policy    string     `json:"policy"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
}

// InspectJobResponse describes one job and its runs.
type InspectJobResponse struct {
	JobID  string   `json:"job_id"`
	State  string   `json:"state"`
	RunIDs []string `json:"run_ids"`
}

// InspectTaskResponse describes one task.
type InspectTaskResponse struct {
	TaskID string  `json:"task_id"`
	State  string  `json:"state"`
	RunID  *string `json:"run_id"`
}

// ProxySticky is sticky configuration as the CLI renders it; Scope is
// one of "job", "domain", "origin".
type ProxySticky struct {
	Scope string `json:"scope"`
	TTLMs *int64 `json:"ttl_ms,omitempty"`
}

// ProxyRuntime is the live rotation state of a pool.
type ProxyRuntime struct {
	RoundRobinIndex int        `json:"round_robin_index"`
	StickyEntries   int        `json:"sticky_entries"`
	RecencyWindow   int        `json:"recency_window,omitempty"`
	RecencyFill     int        `json:"recency_fill,omitempty"`
	LastUsedAt      *time.Time `json:"last_used_at"`
}

// InspectProxyPoolResponse describes one proxy pool.
type InspectProxyPoolResponse struct {
	Name        string       `json:"name"`
	Strategy    string       `json:"strategy"`
	EndpointCnt int          `json:"endpoint_cnt"`
	Sticky      *ProxySticky `json:"sticky"`
	Runtime     ProxyRuntime `json:"runtime"`
}

// InspectExecutorResponse describes one executor.
type InspectExecutorResponse struct {
	ExecutorID string     `json:"executor_id"`
	State      string     `json:"state"`
	LastSeenAt *time.Time `json:"last_seen_at"`
}

// RunStats, JobStats and TaskStats share the same counters.
type RunStats struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type JobStats struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type TaskStats struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ProxyStats summarizes one pool's usage.
type ProxyStats struct {
	Pool       string     `json:"pool"`
	Requests   int        `json:"requests"`
	Failures   int        `json:"failures"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

// ExecutorStats summarizes the executor fleet.
type ExecutorStats struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Idle    int `json:"idle"`
	Failed  int `json:"failed"`
}

// ListRunItem, ListJobItem, ListPoolItem and ListExecutorItem are the
// row shapes for the list commands.
type ListRunItem struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

type ListJobItem struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}

type ListPoolItem struct {
	Name     string `json:"name"`
	Strategy string `json:"strategy"`
}

type ListExecutorItem struct {
	ExecutorID string `json:"executor_id"`
	State      string `json:"state"`
}

// MetricsSnapshot is the parsed form of a persisted metrics record.
type MetricsSnapshot struct {
	// Ts is the completion timestamp from the record.
	Ts string `json:"ts"`

	RunsStarted   int64 `json:"runs_started"`
	RunsCompleted int64 `json:"runs_completed"`
	RunsFailed    int64 `json:"runs_failed"`
	RunsCrashed   int64 `json:"runs_crashed"`

	EventsReceived  int64            `json:"events_received"`
	EventsPersisted int64            `json:"events_persisted"`
	EventsDropped   int64            `json:"events_dropped"`
	DroppedByType   map[string]int64 `json:"dropped_by_type,omitempty"`

	ExecutorLaunchSuccess int64 `json:"executor_launch_success"`
	ExecutorLaunchFailure int64 `json:"executor_launch_failure"`
	ExecutorCrash         int64 `json:"executor_crash"`
	IPCDecodeErrors       int64 `json:"ipc_decode_errors"`

	LodeWriteSuccess int64 `json:"lode_write_success"`
	LodeWriteFailure int64 `json:"lode_write_failure"`
	LodeWriteRetry   int64 `json:"lode_write_retry"`

	Policy         string `json:"policy"`
	Executor       string `json:"executor"`
	StorageBackend string `json:"storage_backend"`
	RunID          string `json:"run_id"`
	JobID          string `json:"job_id,omitempty"`
}

// ListRunsOptions filters ListRuns.
type ListRunsOptions struct {
	State string
	Limit int
}

// ProxyEndpoint is a resolved endpoint as the debug surface renders
// it. Never carries a password.
type ProxyEndpoint struct {
	Host     string  `json:"host"`
	Port     int     `json:"port"`
	Protocol string  `json:"protocol"`
	Username *string `json:"username,omitempty"`
}

// ResolveProxyResponse is the result of debug resolve-proxy.
type ResolveProxyResponse struct {
	Endpoint  ProxyEndpoint `json:"endpoint"`
	Committed bool          `json:"committed"`
}

// IPCDebugResponse is the result of debug ipc.
type IPCDebugResponse struct {
	Transport    string  `json:"transport"`
	Encoding     string  `json:"encoding"`
	MessagesSent int     `json:"messages_sent"`
	Errors       int     `json:"errors"`
	LastError    *string `json:"last_error"`
}
