package runtime

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/quarrio/quarry/types"
)

func TestProxyHash(t *testing.T) {
	user := "admin"
	pass1, pass2 := "secret1", "secret2"

	if h := proxyHash(nil); h != "" {
		t.Errorf("proxyHash(nil) = %q, want empty", h)
	}

	base := func() *types.ProxyEndpoint {
		return &types.ProxyEndpoint{Protocol: types.ProxyProtocolHTTP, Host: "proxy.example.com", Port: 8080}
	}

	// Deterministic for equal configs.
	if proxyHash(base()) != proxyHash(base()) {
		t.Error("equal endpoints hashed differently")
	}

	// Host is part of the fingerprint.
	other := base()
	other.Host = "proxy2.example.com"
	if proxyHash(base()) == proxyHash(other) {
		t.Error("different hosts hashed identically")
	}

	// Username is part of the fingerprint.
	withUser := base()
	withUser.Username = &user
	if proxyHash(base()) == proxyHash(withUser) {
		t.Error("username ignored by the hash")
	}

	// The password must NOT be: its hash would land on disk.
	a, b := base(), base()
	a.Username, a.Password = &user, &pass1
	b.Username, b.Password = &user, &pass2
	if proxyHash(a) != proxyHash(b) {
		t.Error("password leaked into the hash")
	}
}

func TestDiscoveryDir(t *testing.T) {
	t.Run("tmp fallback", func(t *testing.T) {
		t.Setenv("XDG_RUNTIME_DIR", "")
		dir, err := discoveryDir()
		if err != nil {
			t.Fatalf("discoveryDir: %v", err)
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("discovery dir %q not usable: %v", dir, err)
		}
	})

	t.Run("xdg runtime dir", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv("XDG_RUNTIME_DIR", tmpDir)
		dir, err := discoveryDir()
		if err != nil {
			t.Fatalf("discoveryDir: %v", err)
		}
		if want := filepath.Join(tmpDir, "quarry"); dir != want {
			t.Errorf("dir = %q, want %q", dir, want)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("discovery dir not created: %v", err)
		}
	})
}

func TestDiscoveryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "browser.json")

	disc := &BrowserDiscovery{
		WSEndpoint: "ws://127.0.0.1:9222/devtools/browser/abc123",
		PID:        12345,
		ProxyHash:  "sha256:deadbeef",
		StartedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := writeDiscovery(path, disc); err != nil {
		t.Fatalf("writeDiscovery: %v", err)
	}

	got, err := readDiscovery(path)
	if err != nil {
		t.Fatalf("readDiscovery: %v", err)
	}
	if *got != *disc {
		t.Errorf("round trip = %+v, want %+v", got, disc)
	}
}

func TestReadDiscoveryRejects(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := readDiscovery(filepath.Join(t.TempDir(), "nonexistent.json")); err == nil {
			t.Error("readDiscovery succeeded on a missing file")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "browser.json")
		if err := os.WriteFile(path, []byte("not json"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := readDiscovery(path); err == nil {
			t.Error("readDiscovery accepted malformed JSON")
		}
	})

	t.Run("missing endpoint", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "browser.json")
		data, _ := json.Marshal(BrowserDiscovery{PID: 1234})
		if err := os.WriteFile(path, data, 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := readDiscovery(path); err == nil {
			t.Error("readDiscovery accepted a record without ws_endpoint")
		}
	})
}

func TestWriteDiscoveryLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	disc := &BrowserDiscovery{
		WSEndpoint: "ws://127.0.0.1:9222/devtools/browser/abc",
		PID:        1,
		StartedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := writeDiscovery(filepath.Join(dir, "browser.json"), disc); err != nil {
		t.Fatal(err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() == "browser.json.tmp" {
			t.Error("temp file left behind after rename")
		}
	}
}

func TestHealthCheckFailures(t *testing.T) {
	for name, endpoint := range map[string]string{
		"invalid url":      "not-a-url",
		"unreachable port": "ws://127.0.0.1:19999/devtools/browser/test",
	} {
		t.Run(name, func(t *testing.T) {
			if err := healthCheck(endpoint); err == nil {
				t.Errorf("healthCheck(%q) succeeded", endpoint)
			}
		})
	}
}

func TestProcessStatus(t *testing.T) {
	if s := processStatus(os.Getpid()); s != processHealthy {
		t.Errorf("own process status = %d, want processHealthy", s)
	}

	// PID 2^22-1 is the highest PID Linux can assign; it is not expected
	// to be in use.
	if s := processStatus(4194303); s != processGone {
		t.Errorf("nonexistent PID status = %d, want processGone", s)
	}

	t.Run("zombie", func(t *testing.T) {
		// A child that exits and is never waited on becomes a zombie.
		cmd := exec.Command("true")
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		if err := cmd.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		pid := cmd.Process.Pid
		time.Sleep(100 * time.Millisecond)

		s := processStatus(pid)
		_ = cmd.Wait() // reap

		if s != processZombie {
			t.Errorf("zombie status = %d, want processZombie", s)
		}
	})
}

func TestIsBrowserServerProcess(t *testing.T) {
	if isBrowserServerProcess(os.Getpid()) {
		t.Error("the test binary identified as a browser server")
	}
	if isBrowserServerProcess(4194303) {
		t.Error("a nonexistent PID identified as a browser server")
	}
}

func TestCleanupStaleProcessSkipsForeignProcesses(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid

	// The cmdline carries no --browser-server, so this PID is not ours
	// to kill no matter what the discovery file claimed.
	cleanupStaleProcess(pid)

	if err := syscall.Kill(pid, 0); err != nil {
		t.Errorf("foreign process was killed: %v", err)
	}

	killProcessGroup(pid)
	_ = cmd.Wait()
}

func TestParseTimeOrZero(t *testing.T) {
	if parseTimeOrZero("2026-02-10T12:00:00Z").IsZero() {
		t.Error("valid RFC3339 parsed to zero")
	}
	if !parseTimeOrZero("not-a-time").IsZero() {
		t.Error("garbage parsed to a non-zero time")
	}
}

func TestKillProcessGroup(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid

	if err := syscall.Kill(pid, 0); err != nil {
		t.Fatalf("child not alive after start: %v", err)
	}

	killProcessGroup(pid)
	_ = cmd.Wait()

	if err := syscall.Kill(pid, 0); err == nil {
		t.Error("child survived killProcessGroup")
	}
}

func TestIdleTimeoutFromEnv(t *testing.T) {
	cases := map[string]time.Duration{
		"":    0,
		"30":  30 * time.Second,
		"120": 120 * time.Second,
		"abc": 0,
		"0":   0,
		"-1":  0,
	}
	for val, want := range cases {
		t.Run("val="+val, func(t *testing.T) {
			t.Setenv("QUARRY_BROWSER_IDLE_TIMEOUT", val)
			if got := IdleTimeoutFromEnv(); got != want {
				t.Errorf("IdleTimeoutFromEnv() = %v, want %v", got, want)
			}
		})
	}
}
