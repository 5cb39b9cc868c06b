package runtime

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/quarrio/quarry/log"
	"github.com/quarrio/quarry/metrics"
	"github.com/quarrio/quarry/policy"
	"github.com/quarrio/quarry/types"
	"github.com/quarrio/quarry/vault"
)

// Executor abstracts executor process lifecycle so orchestration can be
// tested without spawning a real child process.
type Executor interface {
	Start(ctx context.Context) error
	Stdout() io.Reader
	Wait() (*ExecutorResult, error)
	Kill() error
}

// ExecutorFactory constructs an Executor; tests substitute a fake.
type ExecutorFactory func(config *ExecutorConfig) Executor

// RunConfig configures a single run from launch through teardown.
type RunConfig struct {
	ExecutorPath      string
	ScriptPath        string
	Job               any
	RunMeta           *types.RunMeta
	Proxy             *types.ProxyEndpoint
	Policy            policy.Policy
	ExecutorFactory   ExecutorFactory
	FileWriter        vault.FileWriter
	EnqueueObserver   EnqueueObserver
	BrowserWSEndpoint string
	Source            string
	Category          string
	Collector         *metrics.Collector
}

// RunResult is everything the caller needs to know about a finished run.
type RunResult struct {
	RunMeta       *types.RunMeta
	Outcome       *types.RunOutcome
	Duration      time.Duration
	PolicyStats   policy.Stats
	ArtifactStats ArtifactStats
	OrphanIDs     []string
	StderrOutput  string
	EventCount    int64
	ProxyUsed     *types.ProxyEndpointRedacted
	// TerminalSummary is the run_complete summary payload; nil when no
	// run_complete terminal was seen, empty when the script sent none.
	TerminalSummary map[string]any
}

// RunOrchestrator drives one run of a script against one job payload:
// launch the executor, ingest its IPC stream concurrently, reap the
// process, flush the policy, and classify the outcome.
type RunOrchestrator struct {
	config  *RunConfig
	logger  *log.Logger
	started time.Time
}

// NewRunOrchestrator validates the run identity and prepares an
// orchestrator. Returns an error if RunMeta is malformed.
func NewRunOrchestrator(config *RunConfig) (*RunOrchestrator, error) {
	if err := config.RunMeta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run metadata: %w", err)
	}
	return &RunOrchestrator{
		config: config,
		logger: log.NewLogger(config.RunMeta),
	}, nil
}

// runState carries the pieces Execute's phases need to hand off to one
// another without passing a long, changing argument list around.
type runState struct {
	executor  Executor
	artifacts *ArtifactManager
	ingestion *IngestionEngine
	execRes   *ExecutorResult
	execErr   error
	stderr    string
}

// Execute runs the script end to end: launch, ingest, reap, flush,
// classify. Every exit path — including a failed launch — still
// attempts a policy flush before returning, since partially buffered
// data should not be lost just because the executor never started.
func (r *RunOrchestrator) Execute(ctx context.Context) (*RunResult, error) {
	r.started = time.Now()
	r.config.Collector.IncRunStarted()
	r.logger.Info("starting run", map[string]any{"script": r.config.ScriptPath, "executor": r.config.ExecutorPath})

	st := &runState{}

	executor, err := r.launch(ctx)
	if err != nil {
		r.flush(ctx)
		return r.finish(&types.RunOutcome{
			Status:  types.OutcomeExecutorCrash,
			Message: fmt.Sprintf("failed to start executor: %v", err),
		}, st), nil
	}
	st.executor = executor
	st.artifacts = NewArtifactManager()

	// Executors that expose their stdin get file_write_ack frames on it.
	var ackSink io.Writer
	if s, ok := executor.(interface{ Stdin() io.WriteCloser }); ok {
		ackSink = s.Stdin()
	}

	st.ingestion = NewIngestionEngine(executor.Stdout(), r.config.RunMeta, IngestionOptions{
		Policy:     r.config.Policy,
		Artifacts:  st.artifacts,
		FileWriter: r.config.FileWriter,
		Logger:     r.logger,
		Collector:  r.config.Collector,
		Observer:   r.config.EnqueueObserver,
		AckSink:    ackSink,
	})

	ingErr := r.ingestThenReap(ctx, st)
	flushErr := r.flush(ctx)

	if st.execErr != nil {
		r.logger.Error("executor wait failed", map[string]any{"error": st.execErr.Error()})
		return r.finish(&types.RunOutcome{Status: types.OutcomeExecutorCrash, Message: fmt.Sprintf("executor wait failed: %v", st.execErr)}, st), nil
	}

	if ingErr != nil {
		r.logger.Error("ingestion failed", map[string]any{"error": ingErr.Error(), "exit_code": st.execRes.ExitCode})
		return r.finish(classifyIngestionFault(ingErr), st), nil
	}

	if flushErr != nil {
		return r.finish(&types.RunOutcome{Status: types.OutcomePolicyFailure, Message: fmt.Sprintf("policy flush failed: %v", flushErr)}, st), nil
	}

	return r.finish(r.classifyCompletion(st), st), nil
}

// launch starts the executor process, preferring a test factory when set.
func (r *RunOrchestrator) launch(ctx context.Context) (Executor, error) {
	execConfig := &ExecutorConfig{
		ExecutorPath:      r.config.ExecutorPath,
		ScriptPath:        r.config.ScriptPath,
		Job:               r.config.Job,
		RunMeta:           r.config.RunMeta,
		Proxy:             r.config.Proxy,
		BrowserWSEndpoint: r.config.BrowserWSEndpoint,
	}

	var executor Executor
	if r.config.ExecutorFactory != nil {
		executor = r.config.ExecutorFactory(execConfig)
	} else {
		executor = NewExecutorManager(execConfig)
	}

	if err := executor.Start(ctx); err != nil {
		r.config.Collector.IncExecutorLaunchFailure()
		r.logger.Error("failed to start executor", map[string]any{"error": err.Error()})
		return nil, err
	}
	r.config.Collector.IncExecutorLaunchSuccess()
	return executor, nil
}

// ingestThenReap reads the executor's IPC stream to completion before
// reaping the process. Order matters: exec.Cmd.Wait() closes the
// stdout pipe, which would turn an in-flight ingestion read into a
// spurious "file already closed" error if called first.
func (r *RunOrchestrator) ingestThenReap(ctx context.Context, st *runState) error {
	done := make(chan error, 1)
	go func() { done <- st.ingestion.Run(ctx) }()
	ingErr := <-done

	if ingErr != nil {
		r.logger.Warn("killing executor after ingestion fault", map[string]any{"error": ingErr.Error(), "is_policy": IsPolicyError(ingErr)})
		_ = st.executor.Kill()
	}

	execRes, execErr := st.executor.Wait()
	st.execErr = execErr
	if execErr == nil {
		st.execRes = execRes
		st.stderr = string(execRes.StderrBytes)
	}
	return ingErr
}

// flush gives the policy up to 30s to persist whatever it buffered,
// detached from ctx's cancellation (but not its values) so shutdown
// still gets a chance to land data on disk.
func (r *RunOrchestrator) flush(ctx context.Context) error {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	err := r.config.Policy.Flush(flushCtx)
	if err != nil {
		r.logger.Warn("policy flush failed (best effort)", map[string]any{"error": err.Error()})
	}
	return err
}

// classifyIngestionFault maps an ingestion error to its outcome
// category. Contract version skew keeps its own outcome, distinct
// from stream errors, so operators can tell a rolling upgrade from a
// broken child.
func classifyIngestionFault(err error) *types.RunOutcome {
	switch {
	case IsPolicyError(err):
		return &types.RunOutcome{Status: types.OutcomePolicyFailure, Message: fmt.Sprintf("policy failure: %v", err)}
	case IsVersionMismatchError(err):
		return &types.RunOutcome{Status: types.OutcomeVersionMismatch, Message: fmt.Sprintf("contract version mismatch: %v", err)}
	case IsCanceledError(err):
		return &types.RunOutcome{Status: types.OutcomeExecutorCrash, Message: fmt.Sprintf("run canceled: %v", err)}
	default:
		return &types.RunOutcome{Status: types.OutcomeExecutorCrash, Message: fmt.Sprintf("stream error: %v", err)}
	}
}

// classifyCompletion determines the final outcome once the executor
// exited cleanly and ingestion/flush raised no error. A run_result
// control frame, when present, supplies richer context, but the exit
// code always wins the outcome category — a script cannot lie its way
// to success by emitting run_complete after returning exit code 1.
func (r *RunOrchestrator) classifyCompletion(st *runState) *types.RunOutcome {
	exitOutcome := outcomeFromExitCode(st.execRes.ExitCode)
	runResult := st.ingestion.GetRunResult()

	if runResult == nil {
		terminal, hasTerminal := st.ingestion.GetTerminalEvent()
		outcome := DetermineOutcome(st.execRes.ExitCode, hasTerminal, terminal)
		r.logger.Info("run completed", map[string]any{
			"outcome": outcome.Status, "exit_code": st.execRes.ExitCode,
			"duration": time.Since(r.started).String(), "has_terminal": hasTerminal,
		})
		return outcome
	}

	reported := runResultToOutcome(runResult)
	if exitOutcome != reported.Status {
		r.logger.Warn("exit code conflicts with run_result", map[string]any{
			"exit_code": st.execRes.ExitCode, "exit_outcome": exitOutcome, "run_result_status": reported.Status,
		})
	}

	outcome := &types.RunOutcome{Status: exitOutcome, Message: reported.Message, ErrorType: reported.ErrorType, Stack: reported.Stack}
	if exitOutcome == types.OutcomeSuccess && reported.Status != types.OutcomeSuccess {
		outcome.Message = fmt.Sprintf("exit code 0 but run_result reported %s: %s", runResult.Outcome.Status, reported.Message)
	}

	r.logger.Info("run completed (from run_result)", map[string]any{
		"outcome": outcome.Status, "exit_code": st.execRes.ExitCode, "duration": time.Since(r.started).String(),
	})
	return outcome
}

// runResultToOutcome converts a wire-level RunResultFrame to a RunOutcome.
func runResultToOutcome(frame *types.RunResultFrame) *types.RunOutcome {
	status := types.OutcomeExecutorCrash
	switch frame.Outcome.Status {
	case types.RunResultStatusCompleted:
		status = types.OutcomeSuccess
	case types.RunResultStatusError:
		status = types.OutcomeScriptError
	case types.RunResultStatusCrash:
		status = types.OutcomeExecutorCrash
	}

	message := string(frame.Outcome.Status)
	if frame.Outcome.Message != nil {
		message = *frame.Outcome.Message
	}

	return &types.RunOutcome{Status: status, Message: message, ErrorType: frame.Outcome.ErrorType, Stack: frame.Outcome.Stack}
}

// finish assembles the RunResult and records outcome/policy metrics.
func (r *RunOrchestrator) finish(outcome *types.RunOutcome, st *runState) *RunResult {
	result := &RunResult{
		RunMeta:      r.config.RunMeta,
		Outcome:      outcome,
		Duration:     time.Since(r.started),
		PolicyStats:  r.config.Policy.Stats(),
		StderrOutput: st.stderr,
	}

	if st.ingestion != nil {
		if rr := st.ingestion.GetRunResult(); rr != nil && rr.ProxyUsed != nil {
			result.ProxyUsed = rr.ProxyUsed
		}
		result.EventCount = st.ingestion.CurrentSeq()
		if terminal, ok := st.ingestion.GetTerminalEvent(); ok && terminal.Type == types.EventTypeRunComplete {
			if summary, ok := terminal.Payload["summary"].(map[string]any); ok {
				result.TerminalSummary = summary
			} else {
				result.TerminalSummary = map[string]any{}
			}
		}
	}
	if result.ProxyUsed == nil && r.config.Proxy != nil {
		redacted := r.config.Proxy.Redact()
		result.ProxyUsed = &redacted
	}
	if st.artifacts != nil {
		result.ArtifactStats = st.artifacts.Stats()
		result.OrphanIDs = st.artifacts.GetOrphanIDs()
	}

	switch outcome.Status {
	case types.OutcomeSuccess:
		r.config.Collector.IncRunCompleted()
	case types.OutcomeScriptError, types.OutcomePolicyFailure, types.OutcomeVersionMismatch:
		r.config.Collector.IncRunFailed()
	case types.OutcomeExecutorCrash:
		r.config.Collector.IncRunCrashed()
	}

	ps := result.PolicyStats
	droppedByType := make(map[string]int64, len(ps.DroppedByType))
	for k, v := range ps.DroppedByType {
		droppedByType[string(k)] = v
	}
	r.config.Collector.AbsorbPolicyStats(ps.TotalEvents, ps.EventsPersisted, ps.EventsDropped, droppedByType, ps.FlushTriggers)

	return result
}
