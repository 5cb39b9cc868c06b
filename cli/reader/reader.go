// Package-level delegation: CLI commands call these free functions,
// which forward to whatever Reader SetReader installed.
package reader

// InspectRun returns details for a specific run.
func InspectRun(runID string) *InspectRunResponse {
	return defaultReader.InspectRun(runID)
}

// InspectJob returns details for a specific job.
func InspectJob(jobID string) *InspectJobResponse {
	return defaultReader.InspectJob(jobID)
}

// InspectTask returns details for a specific task.
func InspectTask(taskID string) *InspectTaskResponse {
	return defaultReader.InspectTask(taskID)
}

// InspectProxy returns details for a specific proxy pool.
func InspectProxy(poolName string) *InspectProxyPoolResponse {
	return defaultReader.InspectProxy(poolName)
}

// InspectExecutor returns details for a specific executor.
func InspectExecutor(executorID string) *InspectExecutorResponse {
	return defaultReader.InspectExecutor(executorID)
}

// StatsRuns returns run statistics.
func StatsRuns() *RunStats {
	return defaultReader.StatsRuns()
}

// StatsJobs returns job statistics.
func StatsJobs() *JobStats {
	return defaultReader.StatsJobs()
}

// StatsTasks returns task statistics.
func StatsTasks() *TaskStats {
	return defaultReader.StatsTasks()
}

// StatsProxies returns per-pool proxy statistics.
func StatsProxies() []ProxyStats {
	return defaultReader.StatsProxies()
}

// StatsExecutors returns executor statistics.
func StatsExecutors() *ExecutorStats {
	return defaultReader.StatsExecutors()
}

// StatsMetrics returns the latest persisted metrics snapshot.
func StatsMetrics() *MetricsSnapshot {
	return defaultReader.StatsMetrics()
}

// ListRuns lists runs, optionally filtered.
func ListRuns(opts ListRunsOptions) []ListRunItem {
	return defaultReader.ListRuns(opts)
}

// ListJobs lists jobs.
func ListJobs() []ListJobItem {
	return defaultReader.ListJobs()
}

// ListPools lists proxy pools.
func ListPools() []ListPoolItem {
	return defaultReader.ListPools()
}

// ListExecutors lists executors.
func ListExecutors() []ListExecutorItem {
	return defaultReader.ListExecutors()
}

// DebugResolveProxy resolves an endpoint from a pool; commit advances
// rotation counters (in-memory only).
func DebugResolveProxy(pool string, commit bool) (*ResolveProxyResponse, error) {
	return defaultReader.DebugResolveProxy(pool, commit)
}

// DebugIPC returns IPC transport debug information.
func DebugIPC(verbose bool) *IPCDebugResponse {
	return defaultReader.DebugIPC(verbose)
}
