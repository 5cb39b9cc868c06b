package childio

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/quarrio/quarry/ipc"
	"github.com/quarrio/quarry/types"
)

func decodeAll(t *testing.T, buf *bytes.Buffer) []any {
	t.Helper()
	decoder := ipc.NewFrameDecoder(bytes.NewReader(buf.Bytes()))
	var frames []any
	for {
		payload, err := decoder.ReadFrame()
		if err == io.EOF {
			return frames
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		decoded, err := ipc.DecodeFrame(payload)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		frames = append(frames, decoded)
	}
}

func testEmitter(out io.Writer) *Emitter {
	jobID := "job-1"
	return NewEmitter(out, Identity{RunID: "run-1", Attempt: 1, JobID: &jobID}, nil)
}

func TestEmitterSeqIsMonotonic(t *testing.T) {
	var buf bytes.Buffer
	e := testEmitter(&buf)

	if err := e.EmitItem("product", map[string]any{"name": "a"}); err != nil {
		t.Fatalf("EmitItem: %v", err)
	}
	if err := e.EmitLog(types.LogLevelInfo, "working", nil); err != nil {
		t.Fatalf("EmitLog: %v", err)
	}
	if err := e.EmitRunComplete(map[string]any{"items": 1}); err != nil {
		t.Fatalf("EmitRunComplete: %v", err)
	}

	frames := decodeAll(t, &buf)
	if len(frames) != 3 {
		t.Fatalf("%d frames, want 3", len(frames))
	}
	for i, frame := range frames {
		env, ok := frame.(*types.EventEnvelope)
		if !ok {
			t.Fatalf("frame %d is %T, want envelope", i, frame)
		}
		if env.Seq != int64(i+1) {
			t.Errorf("frame %d seq = %d, want %d", i, env.Seq, i+1)
		}
		if env.RunID != "run-1" || env.Attempt != 1 || env.ContractVersion != types.ContractVersion {
			t.Errorf("frame %d identity = %q/%d/%q", i, env.RunID, env.Attempt, env.ContractVersion)
		}
		if env.JobID == nil || *env.JobID != "job-1" {
			t.Errorf("frame %d JobID = %v, want job-1", i, env.JobID)
		}
	}
}

func TestEmitterTerminalSemantics(t *testing.T) {
	var buf bytes.Buffer
	e := testEmitter(&buf)

	if err := e.EmitRunComplete(nil); err != nil {
		t.Fatalf("EmitRunComplete: %v", err)
	}
	// A second terminal of either kind is silently dropped.
	if err := e.EmitRunError("TypeError", "late", nil); err != nil {
		t.Fatalf("duplicate terminal errored: %v", err)
	}
	// A non-terminal after the terminal is a programming error.
	if err := e.EmitItem("product", nil); !errors.Is(err, ErrTerminalEmitted) {
		t.Fatalf("post-terminal EmitItem err = %v, want ErrTerminalEmitted", err)
	}

	frames := decodeAll(t, &buf)
	if len(frames) != 1 {
		t.Fatalf("%d frames on the wire, want 1 (the first terminal)", len(frames))
	}
	env := frames[0].(*types.EventEnvelope)
	if env.Type != types.EventTypeRunComplete {
		t.Errorf("terminal type = %s", env.Type)
	}
}

// The run_result control frame rides outside the seq space: envelopes
// around it stay contiguous.
func TestEmitterRunResultSkipsSeq(t *testing.T) {
	var buf bytes.Buffer
	e := testEmitter(&buf)

	_ = e.EmitItem("product", nil)
	msg := "done"
	if err := e.EmitRunResult(types.RunResultOutcome{
		Status:  types.RunResultStatusCompleted,
		Message: &msg,
	}, nil); err != nil {
		t.Fatalf("EmitRunResult: %v", err)
	}
	_ = e.EmitRunComplete(nil)

	frames := decodeAll(t, &buf)
	if len(frames) != 3 {
		t.Fatalf("%d frames, want 3", len(frames))
	}
	if _, ok := frames[1].(*types.RunResultFrame); !ok {
		t.Fatalf("middle frame is %T, want run result", frames[1])
	}
	first := frames[0].(*types.EventEnvelope)
	last := frames[2].(*types.EventEnvelope)
	if first.Seq != 1 || last.Seq != 2 {
		t.Errorf("envelope seqs = %d, %d; want 1, 2 (control frames do not advance seq)", first.Seq, last.Seq)
	}
}

func TestEmitterArtifactChunksThenCommit(t *testing.T) {
	var buf bytes.Buffer
	e := testEmitter(&buf)

	data := []byte("artifact-bytes")
	if err := e.EmitArtifact("art-1", "a.bin", "application/octet-stream", data); err != nil {
		t.Fatalf("EmitArtifact: %v", err)
	}

	frames := decodeAll(t, &buf)
	if len(frames) != 2 {
		t.Fatalf("%d frames, want chunk + commit", len(frames))
	}
	chunk, ok := frames[0].(*types.ArtifactChunkFrame)
	if !ok {
		t.Fatalf("first frame is %T, want chunk", frames[0])
	}
	if chunk.Seq != 1 || !chunk.IsLast || !bytes.Equal(chunk.Data, data) {
		t.Errorf("chunk = %+v", chunk)
	}
	commit, ok := frames[1].(*types.EventEnvelope)
	if !ok || commit.Type != types.EventTypeArtifact {
		t.Fatalf("second frame = %T/%v, want artifact commit", frames[1], frames[1])
	}
	size := asInt64(commit.Payload["size_bytes"])
	if size != int64(len(data)) {
		t.Errorf("commit size_bytes = %v, want %d", commit.Payload["size_bytes"], len(data))
	}
}

// asInt64 tolerates whatever width msgpack picked for the integer.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return -1
	}
}

func TestChunkPlan(t *testing.T) {
	t.Run("empty input yields one empty is_last chunk", func(t *testing.T) {
		chunks := chunkPlan(nil)
		if len(chunks) != 1 || chunks[0].seq != 1 || !chunks[0].isLast || len(chunks[0].data) != 0 {
			t.Errorf("chunkPlan(nil) = %+v", chunks)
		}
	})

	t.Run("reassembly and contiguity", func(t *testing.T) {
		// Two max-size chunks plus a 100-byte tail.
		size := 2*ipc.MaxChunkSize + 100
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i)
		}

		chunks := chunkPlan(data)
		if len(chunks) != 3 {
			t.Fatalf("%d chunks, want 3", len(chunks))
		}

		var reassembled []byte
		lastCount := 0
		for i, chunk := range chunks {
			if chunk.seq != int64(i+1) {
				t.Errorf("chunk %d seq = %d, want %d", i, chunk.seq, i+1)
			}
			if len(chunk.data) > ipc.MaxChunkSize {
				t.Errorf("chunk %d size %d exceeds the cap", i, len(chunk.data))
			}
			if chunk.isLast {
				lastCount++
				if i != len(chunks)-1 {
					t.Errorf("chunk %d flagged is_last early", i)
				}
			}
			reassembled = append(reassembled, chunk.data...)
		}
		if lastCount != 1 {
			t.Errorf("%d chunks flagged is_last, want exactly 1", lastCount)
		}
		if !bytes.Equal(reassembled, data) {
			t.Error("concatenated chunks differ from the input")
		}
	})
}

func TestAckReaderResolvesWaiters(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	reader := NewAckReader()
	reader.Start(pr)

	done := make(chan error, 1)
	go func() {
		done <- reader.WaitForAck(t.Context(), 1)
	}()

	// Give the waiter time to register, then send the ack.
	time.Sleep(20 * time.Millisecond)
	ack, err := ipc.EncodeFileWriteAck(&types.FileWriteAckFrame{Type: ipc.FileWriteAckType, WriteID: 1, OK: true})
	if err != nil {
		t.Fatalf("EncodeFileWriteAck: %v", err)
	}
	if _, err := pw.Write(ack); err != nil {
		t.Fatalf("write ack: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForAck: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never resolved")
	}
}

func TestAckReaderErrorAck(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	reader := NewAckReader()
	reader.Start(pr)

	done := make(chan error, 1)
	go func() {
		done <- reader.WaitForAck(t.Context(), 2)
	}()

	time.Sleep(20 * time.Millisecond)
	reason := "disk full"
	ack, _ := ipc.EncodeFileWriteAck(&types.FileWriteAckFrame{
		Type: ipc.FileWriteAckType, WriteID: 2, OK: false, Error: &reason,
	})
	if _, err := pw.Write(ack); err != nil {
		t.Fatalf("write ack: %v", err)
	}

	select {
	case err := <-done:
		if err == nil || err.Error() != "disk full" {
			t.Fatalf("WaitForAck err = %v, want disk full", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never resolved")
	}
}

// EOF without any prior ack is the fire-and-forget fallback: the
// supervisor on the other end predates the ack protocol, and the child
// must not hang.
func TestAckReaderEOFFallback(t *testing.T) {
	pr, pw := io.Pipe()

	reader := NewAckReader()
	reader.Start(pr)

	done := make(chan error, 1)
	go func() {
		done <- reader.WaitForAck(t.Context(), 1)
	}()

	time.Sleep(20 * time.Millisecond)
	_ = pw.Close() // EOF with no acks ever received

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("fire-and-forget fallback returned %v, want success", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never resolved on EOF")
	}
}

// Once a real ack has been seen, EOF means the supervisor died and
// pending writes are lost, not silently succeeded.
func TestAckReaderEOFAfterAckRejects(t *testing.T) {
	pr, pw := io.Pipe()

	reader := NewAckReader()
	reader.Start(pr)

	// First write_id resolves normally, which arms the reader.
	first := make(chan error, 1)
	go func() { first <- reader.WaitForAck(t.Context(), 1) }()
	time.Sleep(20 * time.Millisecond)
	ack, _ := ipc.EncodeFileWriteAck(&types.FileWriteAckFrame{Type: ipc.FileWriteAckType, WriteID: 1, OK: true})
	if _, err := pw.Write(ack); err != nil {
		t.Fatalf("write ack: %v", err)
	}
	if err := <-first; err != nil {
		t.Fatalf("first WaitForAck: %v", err)
	}

	second := make(chan error, 1)
	go func() { second <- reader.WaitForAck(t.Context(), 2) }()
	time.Sleep(20 * time.Millisecond)
	_ = pw.Close()

	select {
	case err := <-second:
		if err == nil {
			t.Fatal("pending write resolved as success after mid-stream EOF")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never resolved on EOF")
	}
}

func TestAckReaderStop(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	reader := NewAckReader()
	reader.Start(pr)

	done := make(chan error, 1)
	go func() { done <- reader.WaitForAck(t.Context(), 7) }()
	time.Sleep(20 * time.Millisecond)

	reader.Stop()
	reader.Stop() // idempotent

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("waiter resolved as success after Stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never resolved after Stop")
	}

	// Post-stop waits fail immediately.
	if err := reader.WaitForAck(t.Context(), 8); !errors.Is(err, ErrAckReaderStopped) {
		t.Errorf("post-stop WaitForAck err = %v, want ErrAckReaderStopped", err)
	}
}
