package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/quarrio/quarry/ipc"
	"github.com/quarrio/quarry/log"
	"github.com/quarrio/quarry/metrics"
	"github.com/quarrio/quarry/policy"
	"github.com/quarrio/quarry/types"
	"github.com/quarrio/quarry/vault"
)

// streamFault wraps an error arising from malformed or out-of-protocol
// frames: bad msgpack, sequence gaps, envelope identity mismatches. The
// run that produced it is classified as a crash.
type streamFault struct{ err error }

func (f *streamFault) Error() string { return f.err.Error() }
func (f *streamFault) Unwrap() error { return f.err }

// policyFault wraps an error returned by the ingestion policy itself
// (sink write failure, buffer overrun on a non-droppable event).
type policyFault struct{ err error }

func (f *policyFault) Error() string { return f.err.Error() }
func (f *policyFault) Unwrap() error { return f.err }

// canceledFault wraps context cancellation observed mid-ingestion.
type canceledFault struct{ err error }

func (f *canceledFault) Error() string { return f.err.Error() }
func (f *canceledFault) Unwrap() error { return f.err }

// versionFault wraps a contract_version mismatch between executor and
// runtime. Distinct from streamFault because it reflects a deployment
// skew, not executor misbehavior.
type versionFault struct{ err error }

func (f *versionFault) Error() string { return f.err.Error() }
func (f *versionFault) Unwrap() error { return f.err }

func wrapStream(format string, args ...any) error {
	return &streamFault{err: fmt.Errorf(format, args...)}
}

func wrapPolicy(format string, args ...any) error {
	return &policyFault{err: fmt.Errorf(format, args...)}
}

// IsPolicyError reports whether err originated from the ingestion policy.
func IsPolicyError(err error) bool {
	var f *policyFault
	return errors.As(err, &f)
}

// IsCanceledError reports whether err reflects context cancellation.
func IsCanceledError(err error) bool {
	var f *canceledFault
	return errors.As(err, &f)
}

// IsVersionMismatchError reports whether err is a contract_version skew.
func IsVersionMismatchError(err error) bool {
	var f *versionFault
	return errors.As(err, &f)
}

// IsStreamError reports whether err is a framing/protocol violation.
func IsStreamError(err error) bool {
	var f *streamFault
	return errors.As(err, &f)
}

var errBadContractVersion = errors.New("contract version mismatch")

// EnqueueObserver is notified synchronously for every enqueue event,
// ahead of policy dispatch, so a fan-out scheduler can react to work
// discovery regardless of whether the policy later drops the event.
// Implementations must return promptly; heavy work belongs elsewhere.
type EnqueueObserver func(*types.EventEnvelope)

// IngestionOptions groups the collaborators an IngestionEngine needs
// beyond the frame source and run identity. Zero values are safe: a
// nil Logger is replaced with a fresh one scoped to runMeta, a nil
// Collector records nothing, a nil FileWriter rejects file_write
// frames, and a nil AckSink silently skips ack emission.
type IngestionOptions struct {
	Policy     policy.Policy
	Artifacts  *ArtifactManager
	FileWriter vault.FileWriter
	Logger     *log.Logger
	Collector  *metrics.Collector
	Observer   EnqueueObserver
	AckSink    io.Writer
}

// IngestionEngine reads framed IPC messages from an executor's stdout
// and routes them to the configured policy, artifact accumulator, and
// sidecar file writer, enforcing:
//   - frames arrive and are processed in stream order
//   - event sequence numbers increase by exactly one, starting at 1
//   - the first terminal event (run_complete/run_error) wins; later
//     terminal events are discarded
//   - any framing violation ends the run with no resync attempt
//   - run_result is a control frame and never touches seq accounting
type IngestionEngine struct {
	decoder   *ipc.FrameDecoder
	runMeta   *types.RunMeta
	opts      IngestionOptions
	logger    *log.Logger
	collector *metrics.Collector

	seq          int64
	gotTerminal  bool
	terminal     *types.EventEnvelope
	finalOutcome *types.RunResultFrame
}

// NewIngestionEngine wires an engine reading from r against the given
// run identity and collaborators.
func NewIngestionEngine(r io.Reader, runMeta *types.RunMeta, opts IngestionOptions) *IngestionEngine {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(runMeta)
	}
	return &IngestionEngine{
		decoder:   ipc.NewFrameDecoder(r),
		runMeta:   runMeta,
		opts:      opts,
		logger:    logger,
		collector: opts.Collector,
	}
}

// Run drains frames until EOF or a terminating fault.
//
// A nil return means the stream ended (either cleanly or after a
// terminal event was already recorded — a closed pipe following
// run_complete/run_error is the expected shape of a finished child).
func (e *IngestionEngine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return &canceledFault{err: err}
		}

		payload, err := e.decoder.ReadFrame()
		if err != nil {
			return e.handleReadFailure(err)
		}

		if err := e.dispatch(ctx, payload); err != nil {
			if IsStreamError(err) {
				e.collector.IncExecutorCrash()
			}
			return err
		}
	}
}

func (e *IngestionEngine) handleReadFailure(err error) error {
	if e.gotTerminal {
		if !errors.Is(err, io.EOF) {
			e.logger.Debug("pipe closed after terminal event", map[string]any{"error": err.Error()})
		}
		return nil
	}
	e.collector.IncExecutorCrash()
	if errors.Is(err, io.EOF) {
		e.logger.Error("pipe closed before terminal event", nil)
		return wrapStream("pipe closed before terminal")
	}
	e.logger.Error("frame stream broken", map[string]any{"error": err.Error()})
	return wrapStream("frame error: %w", err)
}

// dispatch decodes a raw payload and routes it by concrete frame type.
func (e *IngestionEngine) dispatch(ctx context.Context, payload []byte) error {
	decoded, err := ipc.DecodeFrame(payload)
	if err != nil {
		e.logger.Error("frame decode error", map[string]any{"error": err.Error()})
		e.collector.IncIPCDecodeErrors()
		return wrapStream("frame decode error: %w", err)
	}

	switch frame := decoded.(type) {
	case *types.EventEnvelope:
		return e.admitEvent(ctx, frame)
	case *types.ArtifactChunkFrame:
		return e.admitChunk(ctx, frame)
	case *types.RunResultFrame:
		return e.admitRunResult(frame)
	case *types.FileWriteFrame:
		return e.admitFileWrite(ctx, frame)
	default:
		return wrapStream("unexpected frame type: %T", decoded)
	}
}

// admitEvent validates, sequences, and routes a single event envelope.
func (e *IngestionEngine) admitEvent(ctx context.Context, env *types.EventEnvelope) error {
	if err := e.checkIdentity(env); err != nil {
		e.logger.Error("envelope rejected", map[string]any{"error": err.Error(), "type": env.Type, "seq": env.Seq})
		if errors.Is(err, errBadContractVersion) {
			return &versionFault{err: fmt.Errorf("envelope rejected: %w", err)}
		}
		return wrapStream("envelope rejected: %w", err)
	}

	want := e.seq + 1
	if env.Seq != want {
		e.logger.Error("out-of-order sequence", map[string]any{"expected": want, "got": env.Seq, "type": env.Type})
		return wrapStream("sequence violation: expected %d, got %d", want, env.Seq)
	}
	e.seq = env.Seq

	if env.Type.IsTerminal() {
		if e.gotTerminal {
			e.logger.Warn("duplicate terminal event ignored", map[string]any{"type": env.Type, "seq": env.Seq})
			return nil
		}
		e.gotTerminal = true
		e.terminal = env
		e.logger.Info("terminal event recorded", map[string]any{"type": env.Type, "seq": env.Seq})
	}

	if env.Type == types.EventTypeArtifact {
		if err := e.commitArtifact(env); err != nil {
			return &streamFault{err: err}
		}
	}

	if env.Type == types.EventTypeEnqueue && e.opts.Observer != nil {
		e.opts.Observer(env)
	}

	if err := e.opts.Policy.IngestEvent(ctx, env); err != nil {
		e.logger.Error("policy rejected event", map[string]any{"event_type": env.Type, "seq": env.Seq, "error": err.Error()})
		return wrapPolicy("policy failure: %w", err)
	}
	return nil
}

// checkIdentity confirms the envelope claims the contract version and
// run identity this engine was constructed for.
func (e *IngestionEngine) checkIdentity(env *types.EventEnvelope) error {
	if env.ContractVersion != types.ContractVersion {
		return fmt.Errorf("%w: expected %s, got %s", errBadContractVersion, types.ContractVersion, env.ContractVersion)
	}
	if env.RunID != e.runMeta.RunID {
		return fmt.Errorf("run_id mismatch: expected %s, got %s", e.runMeta.RunID, env.RunID)
	}
	if env.Attempt != e.runMeta.Attempt {
		return fmt.Errorf("attempt mismatch: expected %d, got %d", e.runMeta.Attempt, env.Attempt)
	}
	return nil
}

// commitArtifact pulls artifact_id/size_bytes out of an artifact
// event's payload and finalizes the matching accumulator.
func (e *IngestionEngine) commitArtifact(env *types.EventEnvelope) error {
	artifactID, _ := env.Payload["artifact_id"].(string)
	if artifactID == "" {
		return errors.New("artifact event missing artifact_id")
	}

	sizeBytes, ok := coerceInt64(env.Payload["size_bytes"])
	if !ok {
		return fmt.Errorf("artifact event has invalid size_bytes type: %T", env.Payload["size_bytes"])
	}

	if err := e.opts.Artifacts.CommitArtifact(artifactID, sizeBytes); err != nil {
		e.logger.Error("artifact commit failed", map[string]any{"artifact_id": artifactID, "size_bytes": sizeBytes, "error": err.Error()})
		return fmt.Errorf("artifact commit failed: %w", err)
	}
	e.logger.Debug("artifact committed", map[string]any{"artifact_id": artifactID, "size_bytes": sizeBytes})
	return nil
}

// coerceInt64 widens any of msgpack's integer/float encodings to
// int64. msgpack picks the narrowest representation that fits a
// value, so the decoded type varies with magnitude.
func coerceInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// admitChunk validates and routes an artifact chunk to both the
// accumulator and the ingestion policy.
func (e *IngestionEngine) admitChunk(ctx context.Context, frame *types.ArtifactChunkFrame) error {
	if frame.Seq < 1 {
		return wrapStream("invalid chunk seq: %d", frame.Seq)
	}
	if len(frame.Data) > ipc.MaxChunkSize {
		return wrapStream("chunk data exceeds max size: %d > %d", len(frame.Data), ipc.MaxChunkSize)
	}

	chunk := &types.ArtifactChunk{
		ArtifactID: frame.ArtifactID,
		Seq:        frame.Seq,
		IsLast:     frame.IsLast,
		Data:       frame.Data,
	}

	if err := e.opts.Artifacts.AddChunk(chunk); err != nil {
		e.logger.Error("artifact chunk rejected", map[string]any{"artifact_id": chunk.ArtifactID, "seq": chunk.Seq, "is_last": chunk.IsLast, "error": err.Error()})
		return wrapStream("artifact chunk failed: %w", err)
	}

	if err := e.opts.Policy.IngestArtifactChunk(ctx, chunk); err != nil {
		e.logger.Error("policy rejected chunk", map[string]any{"artifact_id": chunk.ArtifactID, "seq": chunk.Seq, "error": err.Error()})
		return wrapPolicy("policy chunk failure: %w", err)
	}
	return nil
}

// admitRunResult records the (single, first) run_result control frame.
// run_result never advances or is counted by seq accounting.
func (e *IngestionEngine) admitRunResult(frame *types.RunResultFrame) error {
	if e.finalOutcome != nil {
		e.logger.Warn("duplicate run_result frame ignored", nil)
		return nil
	}
	e.finalOutcome = frame
	e.logger.Debug("run_result received", map[string]any{"status": frame.Outcome.Status, "has_proxy": frame.ProxyUsed != nil})
	return nil
}

// admitFileWrite validates a sidecar file write, persists it via the
// configured FileWriter, and acks the outcome back to the executor.
//
// PutFile failures ack as errors but do not end the run — the
// executor's storage.put() promise rejects and the script decides how
// to react. Only malformed requests (bad filename, oversize payload)
// are treated as fatal stream faults.
func (e *IngestionEngine) admitFileWrite(ctx context.Context, frame *types.FileWriteFrame) error {
	if e.gotTerminal {
		e.logger.Warn("file_write after terminal event rejected", map[string]any{"filename": frame.Filename, "write_id": frame.WriteID})
		e.ackFileWrite(frame.WriteID, false, "run already terminated")
		return nil
	}

	if err := validateFileWriteName(frame.Filename); err != nil {
		return &streamFault{err: fmt.Errorf("file_write: %w", err)}
	}
	if len(frame.Data) > ipc.MaxChunkSize {
		return wrapStream("file_write: data size %d exceeds max %d", len(frame.Data), ipc.MaxChunkSize)
	}
	if e.opts.FileWriter == nil {
		return wrapStream("file_write received but no FileWriter configured; ensure storage is properly configured for sidecar file support")
	}

	if err := e.opts.FileWriter.PutFile(ctx, frame.Filename, frame.ContentType, frame.Data); err != nil {
		e.logger.Error("file_write failed", map[string]any{"filename": frame.Filename, "error": err.Error(), "write_id": frame.WriteID})
		e.collector.IncLodeWriteFailure()
		e.ackFileWrite(frame.WriteID, false, err.Error())
		return nil
	}

	e.logger.Debug("file written", map[string]any{"filename": frame.Filename, "content_type": frame.ContentType, "size_bytes": len(frame.Data), "write_id": frame.WriteID})
	e.ackFileWrite(frame.WriteID, true, "")
	return nil
}

func validateFileWriteName(name string) error {
	if name == "" {
		return errors.New("empty filename")
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("filename contains path separator: %s", name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("filename contains '..': %s", name)
	}
	return nil
}

// ackFileWrite writes a file_write_ack frame back to the executor's
// stdin. A no-op when no ack sink is wired or writeID is the legacy
// zero value. Write failures (e.g. the executor has already exited)
// are logged but never fail ingestion.
func (e *IngestionEngine) ackFileWrite(writeID uint32, ok bool, errMsg string) {
	if e.opts.AckSink == nil || writeID == 0 {
		return
	}

	ack := &types.FileWriteAckFrame{Type: ipc.FileWriteAckType, WriteID: writeID, OK: ok}
	if errMsg != "" {
		ack.Error = &errMsg
	}

	frame, err := ipc.EncodeFileWriteAck(ack)
	if err != nil {
		e.logger.Warn("failed to encode file_write_ack", map[string]any{"write_id": writeID, "error": err.Error()})
		return
	}
	if _, err := e.opts.AckSink.Write(frame); err != nil {
		e.logger.Warn("failed to write file_write_ack (executor may have exited)", map[string]any{"write_id": writeID, "error": err.Error()})
	}
}

// GetTerminalEvent returns the recorded terminal event, if any.
func (e *IngestionEngine) GetTerminalEvent() (*types.EventEnvelope, bool) {
	return e.terminal, e.gotTerminal
}

// CurrentSeq returns the highest event sequence number admitted.
func (e *IngestionEngine) CurrentSeq() int64 {
	return e.seq
}

// GetRunResult returns the run_result control frame, if one arrived.
func (e *IngestionEngine) GetRunResult() *types.RunResultFrame {
	return e.finalOutcome
}
