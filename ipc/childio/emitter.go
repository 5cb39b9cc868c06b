package childio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/quarrio/quarry/ipc"
	"github.com/quarrio/quarry/types"
)

// ErrTerminalEmitted is returned when a non-terminal event is emitted
// after run_complete or run_error has already gone out. That is a
// programming error in the user script and must surface as one.
var ErrTerminalEmitted = errors.New("childio: event emitted after terminal event")

// Identity carries the run context stamped onto every envelope.
type Identity struct {
	RunID       string
	Attempt     int
	JobID       *string
	ParentRunID *string
}

// Emitter is the child-side counterpart to the supervisor's ingestion
// engine (runtime/ingestion.go): it owns the monotonic seq counter,
// builds envelopes, and writes framed bytes to the process's real
// stdout handle.
//
// A single Emitter is not safe for concurrent use from multiple
// goroutines emitting interleaved frames onto the same seq counter
// without the internal lock, which is why every Emit method takes it.
type Emitter struct {
	mu         sync.Mutex
	out        io.Writer
	identity   Identity
	seq        int64
	terminal   bool
	writeIDGen uint32
	acks       *AckReader
}

// NewEmitter wires an Emitter to its framed output writer and the ack
// reader that resolves sidecar write waiters.
func NewEmitter(out io.Writer, identity Identity, acks *AckReader) *Emitter {
	return &Emitter{out: out, identity: identity, acks: acks}
}

func (e *Emitter) nextSeq() int64 {
	e.seq++
	return e.seq
}

func (e *Emitter) writeEnvelope(eventType types.EventType, payload map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	isTerminal := eventType.IsTerminal()
	if e.terminal {
		if isTerminal {
			// A second terminal event is silently dropped.
			return nil
		}
		return ErrTerminalEmitted
	}

	env := types.EventEnvelope{
		ContractVersion: types.ContractVersion,
		EventID:         newOpaqueID(),
		RunID:           e.identity.RunID,
		Seq:             e.nextSeq(),
		Type:            eventType,
		Ts:              time.Now().UTC().Format(time.RFC3339Nano),
		Payload:         payload,
		JobID:           e.identity.JobID,
		ParentRunID:     e.identity.ParentRunID,
		Attempt:         e.identity.Attempt,
	}

	data, err := msgpack.Marshal(&env)
	if err != nil {
		return fmt.Errorf("childio: encode envelope: %w", err)
	}
	if _, err := e.out.Write(ipc.EncodeFrame(data)); err != nil {
		return fmt.Errorf("childio: write envelope: %w", err)
	}

	if isTerminal {
		e.terminal = true
	}
	return nil
}

// EmitItem sends an item event.
func (e *Emitter) EmitItem(itemType string, data map[string]any) error {
	return e.writeEnvelope(types.EventTypeItem, map[string]any{
		"item_type": itemType,
		"data":      data,
	})
}

// EmitLog sends a log event.
func (e *Emitter) EmitLog(level types.LogLevel, message string, fields map[string]any) error {
	payload := map[string]any{"level": level, "message": message}
	if len(fields) > 0 {
		payload["fields"] = fields
	}
	return e.writeEnvelope(types.EventTypeLog, payload)
}

// EmitCheckpoint sends a checkpoint event.
func (e *Emitter) EmitCheckpoint(checkpointID string, note *string) error {
	payload := map[string]any{"checkpoint_id": checkpointID}
	if note != nil {
		payload["note"] = *note
	}
	return e.writeEnvelope(types.EventTypeCheckpoint, payload)
}

// EmitEnqueue sends an enqueue event requesting fan-out of derived work.
func (e *Emitter) EmitEnqueue(target string, params map[string]any) error {
	return e.writeEnvelope(types.EventTypeEnqueue, map[string]any{
		"target": target,
		"params": params,
	})
}

// EmitRotateProxy requests the supervisor swap the run's proxy endpoint.
func (e *Emitter) EmitRotateProxy(reason *string) error {
	payload := map[string]any{}
	if reason != nil {
		payload["reason"] = *reason
	}
	return e.writeEnvelope(types.EventTypeRotateProxy, payload)
}

// EmitRunComplete sends the success terminal event. A second terminal
// event of either kind is silently dropped.
func (e *Emitter) EmitRunComplete(summary map[string]any) error {
	payload := map[string]any{}
	if len(summary) > 0 {
		payload["summary"] = summary
	}
	return e.writeEnvelope(types.EventTypeRunComplete, payload)
}

// EmitRunError sends the failure terminal event.
func (e *Emitter) EmitRunError(errorType, message string, stack *string) error {
	payload := map[string]any{"error_type": errorType, "message": message}
	if stack != nil {
		payload["stack"] = *stack
	}
	return e.writeEnvelope(types.EventTypeRunError, payload)
}

// EmitArtifact splits data into MaxChunkSize pieces, writes each as an
// artifact_chunk control frame, then commits with an artifact event
// carrying the total size. Control frames bypass the seq counter.
func (e *Emitter) EmitArtifact(artifactID, name, contentType string, data []byte) error {
	e.mu.Lock()
	if e.terminal {
		e.mu.Unlock()
		return ErrTerminalEmitted
	}
	e.mu.Unlock()

	for _, chunk := range chunkPlan(data) {
		frame := types.ArtifactChunkFrame{
			Type:       ipc.ArtifactChunkType,
			ArtifactID: artifactID,
			Seq:        chunk.seq,
			IsLast:     chunk.isLast,
			Data:       chunk.data,
		}
		payload, err := msgpack.Marshal(&frame)
		if err != nil {
			return fmt.Errorf("childio: encode artifact chunk: %w", err)
		}
		e.mu.Lock()
		_, werr := e.out.Write(ipc.EncodeFrame(payload))
		e.mu.Unlock()
		if werr != nil {
			return fmt.Errorf("childio: write artifact chunk: %w", werr)
		}
	}

	return e.writeEnvelope(types.EventTypeArtifact, map[string]any{
		"artifact_id":  artifactID,
		"name":         name,
		"content_type": contentType,
		"size_bytes":   int64(len(data)),
	})
}

type artifactChunk struct {
	seq    int64
	isLast bool
	data   []byte
}

// chunkPlan splits data into pieces no larger than ipc.MaxChunkSize.
// Empty input yields one zero-length, is_last chunk, matching the
// frame codec's documented behavior for zero-byte artifacts.
func chunkPlan(data []byte) []artifactChunk {
	if len(data) == 0 {
		return []artifactChunk{{seq: 1, isLast: true, data: nil}}
	}
	var chunks []artifactChunk
	var seq int64
	for offset := 0; offset < len(data); offset += ipc.MaxChunkSize {
		end := offset + ipc.MaxChunkSize
		if end > len(data) {
			end = len(data)
		}
		seq++
		chunks = append(chunks, artifactChunk{
			seq:    seq,
			isLast: end == len(data),
			data:   data[offset:end],
		})
	}
	return chunks
}

// EmitRunResult sends the run_result control frame carrying the
// executor's self-reported outcome. This is advisory: the supervisor's
// exit-code classification is authoritative
// and this frame only supplies message/error-type/stack context. It
// does not advance seq and may be sent alongside (not instead of) a
// terminal event.
func (e *Emitter) EmitRunResult(outcome types.RunResultOutcome, proxyUsed *types.ProxyEndpointRedacted) error {
	frame := types.RunResultFrame{
		Type:      ipc.RunResultType,
		Outcome:   outcome,
		ProxyUsed: proxyUsed,
	}
	payload, err := msgpack.Marshal(&frame)
	if err != nil {
		return fmt.Errorf("childio: encode run result: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.out.Write(ipc.EncodeFrame(payload)); err != nil {
		return fmt.Errorf("childio: write run result: %w", err)
	}
	return nil
}

// WriteFile sends a sidecar file_write control frame and blocks until
// the supervisor's ack arrives.
func (e *Emitter) WriteFile(ctx context.Context, filename, contentType string, data []byte) error {
	if len(data) > ipc.MaxChunkSize {
		return fmt.Errorf("childio: file write payload %d exceeds max %d", len(data), ipc.MaxChunkSize)
	}
	writeID := atomic.AddUint32(&e.writeIDGen, 1)
	frame := types.FileWriteFrame{
		Type:        ipc.FileWriteType,
		WriteID:     writeID,
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
	}
	payload, err := msgpack.Marshal(&frame)
	if err != nil {
		return fmt.Errorf("childio: encode file write: %w", err)
	}

	e.mu.Lock()
	_, werr := e.out.Write(ipc.EncodeFrame(payload))
	e.mu.Unlock()
	if werr != nil {
		return fmt.Errorf("childio: write file_write frame: %w", werr)
	}

	if e.acks == nil {
		return nil
	}
	return e.acks.WaitForAck(ctx, writeID)
}

// Drain is a no-op for a Go io.Writer target: Write already blocks
// until the OS pipe buffer accepts the bytes, so there is no separate
// buffered-frame flush step to perform before process exit.
func (e *Emitter) Drain() error { return nil }
