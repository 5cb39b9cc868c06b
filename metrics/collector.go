// Package metrics accumulates per-run counters.
//
// A Collector lives for exactly one run. Ingestion counters are
// absorbed from the policy's final stats at completion instead of
// being recorded live, which keeps them from being counted twice.
package metrics

import "sync"

// Snapshot is an immutable view of a Collector. Safe to read
// concurrently once returned.
type Snapshot struct {
	// Run lifecycle.
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	RunsCrashed   int64

	// Ingestion, absorbed from the policy at completion.
	EventsReceived  int64
	EventsPersisted int64
	EventsDropped   int64
	DroppedByType   map[string]int64
	FlushTriggers   map[string]int64

	// Executor.
	ExecutorLaunchSuccess int64
	ExecutorLaunchFailure int64
	ExecutorCrash         int64
	IPCDecodeErrors       int64

	// Storage, per write call rather than per record.
	LodeWriteSuccess int64
	LodeWriteFailure int64
	// LodeWriteRetry is reserved; nothing increments it yet.
	LodeWriteRetry int64

	// Dimension labels fixed at construction.
	Policy         string
	Executor       string
	StorageBackend string
	RunID          string
	JobID          string
}

// Collector accumulates counters for one run. All methods tolerate a
// nil receiver so call sites need no guards when metrics are disabled.
type Collector struct {
	mu sync.Mutex

	runsStarted   int64
	runsCompleted int64
	runsFailed    int64
	runsCrashed   int64

	executorLaunchSuccess int64
	executorLaunchFailure int64
	executorCrash         int64
	ipcDecodeErrors       int64

	lodeWriteSuccess int64
	lodeWriteFailure int64

	eventsReceived  int64
	eventsPersisted int64
	eventsDropped   int64
	droppedByType   map[string]int64
	flushTriggers   map[string]int64

	policy         string
	executor       string
	storageBackend string
	runID          string
	jobID          string
}

// NewCollector builds a Collector with its dimension labels. policy,
// executor and storageBackend are required; runID and jobID may be
// empty.
func NewCollector(policy, executor, storageBackend, runID, jobID string) *Collector {
	return &Collector{
		droppedByType:  make(map[string]int64),
		policy:         policy,
		executor:       executor,
		storageBackend: storageBackend,
		runID:          runID,
		jobID:          jobID,
	}
}

// bump increments one counter under the lock; the field selector runs
// while the lock is held so callers pass a pointer getter, not a
// pointer captured before Lock.
func (c *Collector) bump(field func(*Collector) *int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field(c)++
	c.mu.Unlock()
}

// IncRunStarted records a run start.
func (c *Collector) IncRunStarted() { c.bump(func(c *Collector) *int64 { return &c.runsStarted }) }

// IncRunCompleted records a successful completion.
func (c *Collector) IncRunCompleted() { c.bump(func(c *Collector) *int64 { return &c.runsCompleted }) }

// IncRunFailed records a script_error or policy_failure outcome.
func (c *Collector) IncRunFailed() { c.bump(func(c *Collector) *int64 { return &c.runsFailed }) }

// IncRunCrashed records an executor_crash outcome.
func (c *Collector) IncRunCrashed() { c.bump(func(c *Collector) *int64 { return &c.runsCrashed }) }

// IncExecutorLaunchSuccess records a successful executor spawn.
func (c *Collector) IncExecutorLaunchSuccess() {
	c.bump(func(c *Collector) *int64 { return &c.executorLaunchSuccess })
}

// IncExecutorLaunchFailure records a failed executor spawn.
func (c *Collector) IncExecutorLaunchFailure() {
	c.bump(func(c *Collector) *int64 { return &c.executorLaunchFailure })
}

// IncExecutorCrash records a crash detected during ingestion.
func (c *Collector) IncExecutorCrash() {
	c.bump(func(c *Collector) *int64 { return &c.executorCrash })
}

// IncIPCDecodeErrors records a frame decode failure.
func (c *Collector) IncIPCDecodeErrors() {
	c.bump(func(c *Collector) *int64 { return &c.ipcDecodeErrors })
}

// IncLodeWriteSuccess records one successful storage write call. A
// batched call writing N events still counts once here; per-event
// granularity lives in the policy stats.
func (c *Collector) IncLodeWriteSuccess() {
	c.bump(func(c *Collector) *int64 { return &c.lodeWriteSuccess })
}

// IncLodeWriteFailure records one failed storage write call.
func (c *Collector) IncLodeWriteFailure() {
	c.bump(func(c *Collector) *int64 { return &c.lodeWriteFailure })
}

// AbsorbPolicyStats copies the policy's final ingestion counters into
// the collector. Called once at run completion. Keys of droppedByType
// and flushTriggers are plain strings so this package stays
// dependency-free. A nil flushTriggers stays nil in the snapshot.
func (c *Collector) AbsorbPolicyStats(totalEvents, persisted, dropped int64, droppedByType, flushTriggers map[string]int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsReceived = totalEvents
	c.eventsPersisted = persisted
	c.eventsDropped = dropped
	c.droppedByType = make(map[string]int64, len(droppedByType))
	for k, v := range droppedByType {
		c.droppedByType[k] = v
	}
	if flushTriggers == nil {
		c.flushTriggers = nil
		return
	}
	c.flushTriggers = make(map[string]int64, len(flushTriggers))
	for k, v := range flushTriggers {
		c.flushTriggers[k] = v
	}
}

// Snapshot returns a point-in-time copy. The Collector may keep
// mutating afterwards; the snapshot will not.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := make(map[string]int64, len(c.droppedByType))
	for k, v := range c.droppedByType {
		dropped[k] = v
	}
	var triggers map[string]int64
	if c.flushTriggers != nil {
		triggers = make(map[string]int64, len(c.flushTriggers))
		for k, v := range c.flushTriggers {
			triggers[k] = v
		}
	}

	return Snapshot{
		RunsStarted:   c.runsStarted,
		RunsCompleted: c.runsCompleted,
		RunsFailed:    c.runsFailed,
		RunsCrashed:   c.runsCrashed,

		EventsReceived:  c.eventsReceived,
		EventsPersisted: c.eventsPersisted,
		EventsDropped:   c.eventsDropped,
		DroppedByType:   dropped,
		FlushTriggers:   triggers,

		ExecutorLaunchSuccess: c.executorLaunchSuccess,
		ExecutorLaunchFailure: c.executorLaunchFailure,
		ExecutorCrash:         c.executorCrash,
		IPCDecodeErrors:       c.ipcDecodeErrors,

		LodeWriteSuccess: c.lodeWriteSuccess,
		LodeWriteFailure: c.lodeWriteFailure,

		Policy:         c.policy,
		Executor:       c.executor,
		StorageBackend: c.storageBackend,
		RunID:          c.runID,
		JobID:          c.jobID,
	}
}
