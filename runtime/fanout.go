package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/quarrio/quarry/types"
)

// FanOutConfig bounds a fan-out session's shape: how deep it may recurse,
// how many child runs it may start in total, and how many of those may
// be in flight concurrently.
type FanOutConfig struct {
	MaxDepth int
	MaxRuns  int
	Parallel int
}

// FanOutResult summarizes everything a fan-out session produced: the
// aggregate counters plus every child run's outcome keyed by run_id.
type FanOutResult struct {
	RunsTotal       int64
	RunsSucceeded   int64
	RunsFailed      int64
	EnqueueReceived int64
	EnqueueDeduped  int64
	EnqueueSkipped  int64
	ChildResults    map[string]*RunResult
}

// WorkItem is one unit of derived work produced by an enqueue observer
// and consumed exactly once by a pool worker.
type WorkItem struct {
	Target   string
	Params   map[string]any
	Depth    int
	DedupKey string
	RunID    string
	// Source and Category override the child's partition hints when set;
	// an empty string means "inherit from the parent run".
	Source   string
	Category string
}

// ChildRunFactory builds and executes one child run for item, wiring
// observer into that run's ingestion so its own enqueue events recurse
// back through the same operator.
type ChildRunFactory func(ctx context.Context, item WorkItem, observer EnqueueObserver) (*RunResult, error)

// Operator is the bounded-concurrency fan-out scheduler: it owns the
// dedup set, the work queue, the worker pool, and the accumulated
// results of every child run it has dispatched.
type Operator struct {
	config  FanOutConfig
	factory ChildRunFactory

	queue    chan WorkItem
	dedupMu  sync.Mutex
	dedupSet map[string]struct{}

	started  atomic.Int64
	finished atomic.Int64
	ok       atomic.Int64
	bad      atomic.Int64
	received atomic.Int64
	deduped  atomic.Int64
	skipped  atomic.Int64

	resultsMu sync.Mutex
	results   map[string]*RunResult
}

// NewOperator builds an idle operator. Run must be called to drain the
// queue; NewObserver supplies the hook that feeds it.
func NewOperator(config FanOutConfig, factory ChildRunFactory) *Operator {
	return &Operator{
		config:   config,
		factory:  factory,
		queue:    make(chan WorkItem, config.MaxRuns),
		dedupSet: make(map[string]struct{}),
		results:  make(map[string]*RunResult),
	}
}

// NewObserver returns an EnqueueObserver bound to depth: every enqueue
// event it sees becomes a work item at depth+1, unless dropped by the
// depth cap, the dedup set, or the max-runs budget.
func (op *Operator) NewObserver(depth int) EnqueueObserver {
	return func(envelope *types.EventEnvelope) {
		op.received.Add(1)

		target, _ := envelope.Payload["target"].(string)
		if target == "" {
			op.skipped.Add(1)
			return
		}

		params, _ := envelope.Payload["params"].(map[string]any)
		if params == nil {
			params = map[string]any{}
		}

		childDepth := depth + 1
		if childDepth > op.config.MaxDepth {
			op.skipped.Add(1)
			return
		}

		key := dedupKeyOf(target, params)

		// Dedup membership and the runs-started budget must be checked
		// and committed under the same lock: that's what makes MaxRuns
		// an exact bound rather than an approximate one under concurrent
		// observers.
		op.dedupMu.Lock()
		if _, seen := op.dedupSet[key]; seen {
			op.dedupMu.Unlock()
			op.deduped.Add(1)
			return
		}
		if op.started.Load() >= int64(op.config.MaxRuns) {
			op.dedupMu.Unlock()
			op.skipped.Add(1)
			return
		}
		op.dedupSet[key] = struct{}{}
		op.started.Add(1)
		op.dedupMu.Unlock()

		source, _ := envelope.Payload["source"].(string)
		category, _ := envelope.Payload["category"].(string)

		item := WorkItem{
			Target:   target,
			Params:   params,
			Depth:    childDepth,
			DedupKey: key,
			RunID:    uuid.New().String(),
			Source:   source,
			Category: category,
		}

		select {
		case op.queue <- item:
		default:
			// The queue is sized to MaxRuns and a slot was just reserved
			// above, so this is unreachable in practice; guard against it
			// anyway rather than deadlocking the observer.
			op.skipped.Add(1)
			op.started.Add(-1)
		}
	}
}

// Run drains the work queue under a pool of config.Parallel workers
// until the root run has finished, the queue is empty, and every
// dispatched worker has returned — re-checked on every worker
// completion, since a worker may itself enqueue more work through its
// own observer.
func (op *Operator) Run(ctx context.Context, rootDone <-chan struct{}) {
	sem := make(chan struct{}, op.config.Parallel)
	var wg sync.WaitGroup
	workerDone := make(chan struct{}, op.config.MaxRuns)

	acquire := func() bool {
		select {
		case sem <- struct{}{}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	dispatch := func(item WorkItem) {
		wg.Add(1)
		go func(wi WorkItem) {
			defer wg.Done()
			defer func() {
				<-sem
				select {
				case workerDone <- struct{}{}:
				default:
				}
			}()
			op.runChild(ctx, wi)
		}(item)
	}

	rootFinished := false
	for {
		for drained := false; !drained; {
			select {
			case item := <-op.queue:
				if !acquire() {
					wg.Wait()
					return
				}
				dispatch(item)
			default:
				drained = true
			}
		}

		if !rootFinished {
			select {
			case <-rootDone:
				rootFinished = true
			default:
			}
		}

		if rootFinished {
			wg.Wait()
			if len(op.queue) == 0 {
				return
			}
			continue // workers enqueued more while we waited
		}

		select {
		case item := <-op.queue:
			if !acquire() {
				wg.Wait()
				return
			}
			dispatch(item)
		case <-rootDone:
			rootFinished = true
		case <-workerDone:
			// a worker returned; loop around to re-drain the queue
		case <-ctx.Done():
			wg.Wait()
			return
		}
	}
}

// runChild executes one work item via the factory and records its
// outcome into the shared results map.
func (op *Operator) runChild(ctx context.Context, item WorkItem) {
	observer := op.NewObserver(item.Depth)
	result, err := op.factory(ctx, item, observer)
	op.finished.Add(1)

	op.resultsMu.Lock()
	defer op.resultsMu.Unlock()

	switch {
	case err != nil || result == nil:
		op.bad.Add(1)
		if result != nil {
			op.results[item.RunID] = result
		}
	case result.Outcome.Status == types.OutcomeSuccess:
		op.results[item.RunID] = result
		op.ok.Add(1)
	default:
		op.results[item.RunID] = result
		op.bad.Add(1)
	}
}

// Results snapshots the aggregate counters and per-run outcomes
// accumulated so far.
func (op *Operator) Results() FanOutResult {
	op.resultsMu.Lock()
	defer op.resultsMu.Unlock()

	results := make(map[string]*RunResult, len(op.results))
	for k, v := range op.results {
		results[k] = v
	}

	return FanOutResult{
		RunsTotal:       op.finished.Load(),
		RunsSucceeded:   op.ok.Load(),
		RunsFailed:      op.bad.Load(),
		EnqueueReceived: op.received.Load(),
		EnqueueDeduped:  op.deduped.Load(),
		EnqueueSkipped:  op.skipped.Load(),
		ChildResults:    results,
	}
}

// dedupKeyOf hashes target and the canonical JSON encoding of params.
// encoding/json has sorted map keys since Go 1.12, which is what makes
// this deterministic across equal-but-differently-ordered param maps.
func dedupKeyOf(target string, params map[string]any) string {
	encoded, err := json.Marshal(params)
	if err != nil {
		encoded = []byte("{}")
	}
	h := sha256.New()
	h.Write([]byte(target))
	h.Write([]byte{0x00})
	h.Write(encoded)
	return hex.EncodeToString(h.Sum(nil))
}

// PrintFanOutSummary writes a human-readable recap of a fan-out session
// to stdout, used by the CLI's run command.
func PrintFanOutSummary(result FanOutResult) {
	fmt.Printf("\n=== Fan-Out Summary ===\n")
	fmt.Printf("Child Runs:       %d total, %d succeeded, %d failed\n",
		result.RunsTotal, result.RunsSucceeded, result.RunsFailed)
	fmt.Printf("Enqueue Events:   %d received, %d deduped, %d skipped\n",
		result.EnqueueReceived, result.EnqueueDeduped, result.EnqueueSkipped)

	if len(result.ChildResults) == 0 {
		return
	}
	fmt.Printf("\n--- Child Run Results ---\n")
	runIDs := make([]string, 0, len(result.ChildResults))
	for id := range result.ChildResults {
		runIDs = append(runIDs, id)
	}
	sort.Strings(runIDs)
	for _, runID := range runIDs {
		res := result.ChildResults[runID]
		fmt.Printf("  %s: outcome=%s, events=%d, duration=%s\n",
			runID, res.Outcome.Status, res.EventCount, res.Duration)
	}
}
