package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/quarrio/quarry/types"
)

// ExecutorConfig configures a single executor process launch.
type ExecutorConfig struct {
	// ExecutorPath is the path to the executor binary.
	ExecutorPath string
	// ScriptPath is the path to the script file.
	ScriptPath string
	// Job is the job payload.
	Job any
	// RunMeta is the run metadata.
	RunMeta *types.RunMeta
	// Proxy is the optional resolved proxy endpoint.
	// If nil, executor launches without a proxy.
	Proxy *types.ProxyEndpoint
	// BrowserWSEndpoint is the optional WebSocket URL of an externally managed browser.
	// When set, the executor connects instead of launching a new Chromium instance.
	BrowserWSEndpoint string
	// ResolveFrom is the optional path to a node_modules directory used for
	// bare-specifier ESM resolution fallback. When set, the executor registers
	// a custom resolve hook via module.register().
	ResolveFrom string
	// Storage is the optional partition metadata for SDK-side key computation.
	// When set, the executor passes this to the SDK so storage.put() can return
	// the resolved storage key without a bidirectional IPC round-trip.
	Storage *StoragePartition
}

// ExecutorResult is what came back from a finished executor process.
type ExecutorResult struct {
	ExitCode    int
	StderrBytes []byte
}

// ExecutorManager owns one executor child process's pipes and lifecycle.
type ExecutorManager struct {
	config *ExecutorConfig
	cmd    *exec.Cmd
	in     io.WriteCloser
	out    io.ReadCloser
	errOut io.ReadCloser
}

// NewExecutorManager prepares a manager; the process is not yet started.
func NewExecutorManager(config *ExecutorConfig) *ExecutorManager {
	return &ExecutorManager{config: config}
}

// StoragePartition describes the partition metadata passed to the
// executor. The executor uses this to compute deterministic storage
// keys client-side, avoiding a bidirectional IPC round-trip.
type StoragePartition struct {
	Dataset  string `json:"dataset"`
	Source   string `json:"source"`
	Category string `json:"category"`
	Day      string `json:"day"`
	RunID    string `json:"run_id"`
}

// handshake is the JSON document written to the executor's stdin once,
// at launch, carrying everything the child needs before it emits a
// single IPC frame.
type handshake struct {
	RunID             string               `json:"run_id"`
	Attempt           int                  `json:"attempt"`
	JobID             *string              `json:"job_id,omitempty"`
	ParentRunID       *string              `json:"parent_run_id,omitempty"`
	Job               any                  `json:"job"`
	Proxy             *types.ProxyEndpoint `json:"proxy,omitempty"`
	BrowserWSEndpoint string               `json:"browser_ws_endpoint,omitempty"`
	Storage           *StoragePartition    `json:"storage,omitempty"`
}

func (c *ExecutorConfig) handshake() handshake {
	return handshake{
		RunID:             c.RunMeta.RunID,
		Attempt:           c.RunMeta.Attempt,
		JobID:             c.RunMeta.JobID,
		ParentRunID:       c.RunMeta.ParentRunID,
		Job:               c.Job,
		Proxy:             c.Proxy,
		BrowserWSEndpoint: c.BrowserWSEndpoint,
		Storage:           c.Storage,
	}
}

// childEnv builds the process environment for a launch, layering
// module-resolution hints on top of the inherited environment when
// ResolveFrom is set. Returns nil to mean "inherit os.Environ() as-is".
func childEnv(resolveFrom string) []string {
	if resolveFrom == "" {
		return nil
	}

	env := os.Environ()
	env = append(env, "QUARRY_RESOLVE_FROM="+resolveFrom)

	if existing := os.Getenv("NODE_PATH"); existing != "" {
		env = append(env, "NODE_PATH="+resolveFrom+string(os.PathListSeparator)+existing)
	} else {
		env = append(env, "NODE_PATH="+resolveFrom)
	}

	return lastWriteWinsEnv(env)
}

// lastWriteWinsEnv keeps only the last occurrence of each KEY=value
// entry, so appended overrides shadow whatever os.Environ() supplied.
func lastWriteWinsEnv(env []string) []string {
	lastIndex := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		lastIndex[key] = i
	}
	out := make([]string, 0, len(lastIndex))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if lastIndex[key] == i {
			out = append(out, entry)
		}
	}
	return out
}

// Start launches the executor against the configured script, writes
// the handshake to its stdin, and leaves stdin open for subsequent
// file_write_ack frames. Stdout carries IPC frames; stderr is captured
// for diagnostics once the process exits.
func (m *ExecutorManager) Start(ctx context.Context) error {
	m.cmd = exec.CommandContext(ctx, m.config.ExecutorPath, m.config.ScriptPath)
	if env := childEnv(m.config.ResolveFrom); env != nil {
		m.cmd.Env = env
	}

	in, err := m.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	m.in = in

	out, err := m.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	m.out = out

	errOut, err := m.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	m.errOut = errOut

	if err := m.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start executor: %w", err)
	}

	if err := json.NewEncoder(in).Encode(m.config.handshake()); err != nil {
		_ = m.Kill()
		return fmt.Errorf("failed to write handshake: %w", err)
	}

	return nil
}

// Stdout returns the stdout reader carrying IPC frames.
func (m *ExecutorManager) Stdout() io.Reader { return m.out }

// Stderr returns the stderr reader for diagnostic capture.
func (m *ExecutorManager) Stderr() io.Reader { return m.errOut }

// Stdin returns the stdin writer used for file_write_ack frames. The
// caller must close it once ingestion completes, to signal EOF.
func (m *ExecutorManager) Stdin() io.WriteCloser { return m.in }

// Wait blocks until the executor exits and reports its outcome. Must
// follow Start, and must not be called until the caller has finished
// reading Stdout (see RunOrchestrator.ingestThenReap for why).
func (m *ExecutorManager) Wait() (*ExecutorResult, error) {
	if m.cmd == nil {
		return nil, errors.New("executor not started")
	}

	stderrBytes, _ := io.ReadAll(m.errOut)
	waitErr := m.cmd.Wait()

	exitCode, ok := exitCodeOf(waitErr)
	if !ok {
		return nil, fmt.Errorf("executor wait failed: %w", waitErr)
	}

	return &ExecutorResult{ExitCode: exitCode, StderrBytes: stderrBytes}, nil
}

// exitCodeOf extracts a process exit code from exec.Cmd.Wait()'s
// return value. ok is false when waitErr reflects something other
// than ordinary process termination (the caller should propagate it).
func exitCodeOf(waitErr error) (code int, ok bool) {
	if waitErr == nil {
		return 0, true
	}
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return 0, false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return -1, true
	}
	return status.ExitStatus(), true
}

// Kill terminates the executor process if it was started.
func (m *ExecutorManager) Kill() error {
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Kill()
	}
	return nil
}

// ScriptExports describes the exports found in a validated script module.
type ScriptExports struct {
	Default bool     `json:"default"`
	Hooks   []string `json:"hooks"`
}

// ScriptValidation is the result of running the executor in --validate mode.
type ScriptValidation struct {
	Valid   bool           `json:"valid"`
	Exports *ScriptExports `json:"exports,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ValidateScript loads scriptPath in the executor's --validate mode,
// which checks the module's shape without launching a browser or
// setting up IPC, and reports what it found.
func ValidateScript(ctx context.Context, executorPath, scriptPath, resolveFrom string) (*ScriptValidation, error) {
	cmd := exec.CommandContext(ctx, executorPath, "--validate", scriptPath)
	if env := childEnv(resolveFrom); env != nil {
		cmd.Env = env
	}

	stdout, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(stdout) > 0 {
			var result ScriptValidation
			if jsonErr := json.Unmarshal(stdout, &result); jsonErr == nil {
				return &result, nil
			}
		}
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("executor validate failed: %w\nstderr: %s", err, string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("executor validate failed: %w", err)
	}

	var result ScriptValidation
	if err := json.Unmarshal(stdout, &result); err != nil {
		return nil, fmt.Errorf("failed to parse validation result: %w", err)
	}
	return &result, nil
}
