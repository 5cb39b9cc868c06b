// E2E tests validating FrameDecoder/DecodeFrame against a real child
// process's stdout, rather than hand-built byte buffers. The child is
// this test binary re-exec'd in fixture mode (childio_fixture_test.go);
// a real child process is needed so tests don't depend on a Node/browser executor being
// involved.
//
// Gating:
//   - Live E2E tests require QUARRY_E2E=1.
package ipc_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"testing"

	"github.com/quarrio/quarry/ipc"
	"github.com/quarrio/quarry/types"
)

// spawnFixture re-execs the test binary with QUARRY_IPC_FIXTURE set to
// scenario, feeds it a one-line JSON job descriptor, and returns its
// captured stdout.
func spawnFixture(t *testing.T, scenario string, runID string) []byte {
	t.Helper()

	self, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	cmd := exec.Command(self, "-test.run=^$")
	cmd.Env = append(os.Environ(), "QUARRY_IPC_FIXTURE="+scenario)

	input, err := json.Marshal(map[string]any{"run_id": runID, "attempt": 1, "job": map[string]string{"test": scenario}})
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	cmd.Stdin = bytes.NewReader(append(input, '\n'))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if stderr.Len() > 0 {
		t.Logf("fixture stderr: %s", stderr.String())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			t.Fatalf("fixture exited %d: %v", exitErr.ExitCode(), err)
		}
		t.Fatalf("run fixture: %v", err)
	}
	return stdout.Bytes()
}

func requireE2E(t *testing.T) {
	t.Helper()
	if os.Getenv("QUARRY_E2E") != "1" {
		t.Skip("QUARRY_E2E=1 not set, skipping live E2E test")
	}
}

// TestE2E_WireHarness spawns the fixture child and validates that its
// stdout is a well-formed sequence of length-prefixed frames.
func TestE2E_WireHarness(t *testing.T) {
	requireE2E(t)

	stdout := spawnFixture(t, "wire_harness", "run-e2e-test-001")
	if len(stdout) == 0 {
		t.Fatal("fixture produced no output")
	}

	decoder := ipc.NewFrameDecoder(bytes.NewReader(stdout))
	frameCount := 0
	for {
		payload, err := decoder.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame failed at frame %d: %v", frameCount, err)
		}
		if len(payload) == 0 {
			t.Errorf("frame %d has empty payload", frameCount)
		}
		frameCount++
	}
	if frameCount == 0 {
		t.Error("no frames decoded from fixture output")
	}
	t.Logf("wire harness: captured %d bytes, decoded %d frames", len(stdout), frameCount)
}

// TestE2E_LiveDecode validates the full decode path against the
// fixture's live output: ordering and terminal-event placement.
func TestE2E_LiveDecode(t *testing.T) {
	requireE2E(t)

	stdout := spawnFixture(t, "live_decode", "run-e2e-live-001")

	decoder := ipc.NewFrameDecoder(bytes.NewReader(stdout))
	var frames []any
	terminalSeenAt := -1
	var terminalType string

	for {
		payload, err := decoder.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}

		frame, err := ipc.DecodeFrame(payload)
		if err != nil {
			t.Fatalf("DecodeFrame failed: %v", err)
		}

		if terminalSeenAt >= 0 {
			t.Errorf("frame received after terminal event at index %d: %T", terminalSeenAt, frame)
		}
		frames = append(frames, frame)

		if env, ok := frame.(*types.EventEnvelope); ok && env.Type.IsTerminal() {
			terminalSeenAt = len(frames) - 1
			terminalType = string(env.Type)
		}
	}

	if len(frames) == 0 {
		t.Fatal("no frames decoded")
	}
	if terminalSeenAt < 0 {
		t.Fatal("no terminal event found in stream")
	}
	if terminalSeenAt != len(frames)-1 {
		t.Errorf("terminal event at index %d, but %d frames total (frames after terminal)", terminalSeenAt, len(frames))
	}
	if _, ok := frames[len(frames)-1].(*types.EventEnvelope); !ok {
		t.Errorf("last frame is %T, want *types.EventEnvelope", frames[len(frames)-1])
	}

	t.Logf("live decode: %d frames, terminal = %s at index %d", len(frames), terminalType, terminalSeenAt)
}
