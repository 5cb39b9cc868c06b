package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// ManagedBrowser is a Quarry-owned browser process shared across the
// child runs of a fan-out session.
type ManagedBrowser struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	WSEndpoint string
}

// awaitWSEndpoint reads the first stdout line from a freshly started
// browser process, expecting a ws:// or wss:// URL. abort runs on
// every failure path (bad output, EOF, 30s handshake timeout, context
// cancellation) to reap the half-started process.
func awaitWSEndpoint(ctx context.Context, stdout io.Reader, abort func()) (string, error) {
	endpointCh := make(chan string, 1)
	failCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		if scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if strings.HasPrefix(line, "ws://") || strings.HasPrefix(line, "wss://") {
				endpointCh <- line
			} else {
				failCh <- fmt.Errorf("unexpected browser server output: %q", line)
			}
			return
		}
		if err := scanner.Err(); err != nil {
			failCh <- fmt.Errorf("reading browser server stdout: %w", err)
			return
		}
		failCh <- errors.New("browser server exited without printing WS endpoint")
	}()

	select {
	case wsURL := <-endpointCh:
		return wsURL, nil
	case err := <-failCh:
		abort()
		return "", err
	case <-time.After(30 * time.Second):
		abort()
		return "", errors.New("timed out waiting for browser server WS endpoint")
	case <-ctx.Done():
		abort()
		return "", ctx.Err()
	}
}

// LaunchManagedBrowser starts a shared browser through the executor's
// --launch-browser mode. The executor resolves puppeteer relative to
// the script, launches Chrome, and prints the WS endpoint as the
// first stdout line. The browser lives until Close.
func LaunchManagedBrowser(ctx context.Context, executorPath, scriptPath string) (*ManagedBrowser, error) {
	cmd := exec.CommandContext(ctx, executorPath, "--launch-browser", scriptPath)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	// stdin stays open for the browser's lifetime; closing it is the
	// shutdown signal.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start browser server: %w", err)
	}

	wsURL, err := awaitWSEndpoint(ctx, stdout, func() {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	if err != nil {
		return nil, err
	}
	return &ManagedBrowser{cmd: cmd, stdin: stdin, WSEndpoint: wsURL}, nil
}

// Close signals shutdown by closing stdin, waits a few seconds for a
// graceful exit, then kills.
func (mb *ManagedBrowser) Close() error {
	if mb.cmd == nil || mb.cmd.Process == nil {
		return nil
	}
	_ = mb.stdin.Close()

	done := make(chan error, 1)
	go func() {
		done <- mb.cmd.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = mb.cmd.Process.Kill()
		<-done
	}
	return nil
}
