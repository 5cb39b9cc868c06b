package ipc_test

// This file implements the child half of the E2E tests in
// frame_e2e_test.go and file_write_ack_e2e_test.go: the test binary
// re-execs itself with QUARRY_IPC_FIXTURE set, and in that mode acts as
// a scripted child process emitting frames through ipc/childio instead
// of the external browser-driving executor.

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/quarrio/quarry/ipc/childio"
	"github.com/quarrio/quarry/types"
)

const fixtureEnvVar = "QUARRY_IPC_FIXTURE"

// TestMain intercepts the fixture-child re-exec before the testing
// package parses flags meant for `go test`, not for the fixture.
func TestMain(m *testing.M) {
	if os.Getenv(fixtureEnvVar) != "" {
		runFixtureChild()
	}
	os.Exit(m.Run())
}

// runFixtureChild is invoked from TestMain when fixtureEnvVar is set.
// It never returns; it always calls os.Exit.
func runFixtureChild() {
	scenario := os.Getenv(fixtureEnvVar)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		os.Exit(2)
	}
	var input fixtureInput
	if err := json.Unmarshal([]byte(line), &input); err != nil {
		os.Exit(2)
	}

	acks := childio.NewAckReader()
	acks.Start(reader)
	defer acks.Stop()

	emitter := childio.NewEmitter(os.Stdout, childio.Identity{
		RunID:   input.RunID,
		Attempt: input.Attempt,
	}, acks)

	switch scenario {
	case "wire_harness", "live_decode":
		runWireHarnessScenario(emitter)
	case "storage_put":
		runStoragePutScenario(emitter)
	default:
		os.Exit(2)
	}
	os.Exit(0)
}

type fixtureInput struct {
	RunID   string `json:"run_id"`
	Attempt int    `json:"attempt"`
	Job     any    `json:"job"`
}

func runWireHarnessScenario(e *childio.Emitter) {
	_ = e.EmitLog("info", "fixture started", nil)
	_ = e.EmitItem("fixture_item", map[string]any{"n": 1})
	_ = e.EmitCheckpoint("cp-1", nil)
	_ = e.EmitArtifact("art-1", "payload.bin", "application/octet-stream", []byte("hello world"))
	_ = e.EmitRunComplete(map[string]any{"items": 1})
}

func runStoragePutScenario(e *childio.Emitter) {
	_ = e.EmitLog("info", "storage put fixture started", nil)
	err := e.WriteFile(context.Background(), "report.json", "application/json", []byte(`{"ok":true}`))
	if err != nil {
		msg := err.Error()
		_ = e.EmitRunError("storage_error", msg, nil)
		_ = e.EmitRunResult(types.RunResultOutcome{Status: types.RunResultStatusError, Message: &msg}, nil)
		return
	}
	_ = e.EmitRunComplete(map[string]any{"wrote": "report.json"})
	_ = e.EmitRunResult(types.RunResultOutcome{Status: types.RunResultStatusCompleted}, nil)
}
