// Package executor owns the reference executor bundle embedded in the
// quarry binary and its one-time extraction to a content-addressed
// path on disk, so the binary stays self-contained without requiring
// a separate executor install.
package executor

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/quarrio/quarry/types"
)

//go:embed bundle/executor.mjs
var bundledScript []byte

// bundle lazily extracts the embedded executor script and memoizes
// the result so repeated callers within a process share one copy on
// disk.
type bundle struct {
	once sync.Once
	path string
	err  error
}

var defaultBundle bundle

// EmbeddedVersion reports the quarry release version (types.Version)
// the bundled executor ships with; it is not the wire contract version.
func EmbeddedVersion() string { return types.Version }

// EmbeddedSize reports the size in bytes of the embedded script.
func EmbeddedSize() int { return len(bundledScript) }

// EmbeddedChecksum reports the SHA-256 of the embedded script, used to
// key its extraction directory so multiple binary versions can coexist
// on the same machine without clobbering each other.
func EmbeddedChecksum() string {
	sum := sha256.Sum256(bundledScript)
	return hex.EncodeToString(sum[:])
}

// IsEmbedded reports whether a non-empty executor script was compiled
// into this binary.
func IsEmbedded() bool { return len(bundledScript) > 0 }

// ExtractedPath returns the on-disk path to the extracted executor
// script, extracting it on first call. Safe to call repeatedly.
func ExtractedPath() (string, error) {
	defaultBundle.once.Do(func() {
		defaultBundle.path, defaultBundle.err = extract()
	})
	return defaultBundle.path, defaultBundle.err
}

func extract() (string, error) {
	if !IsEmbedded() {
		return "", fmt.Errorf("no embedded executor available")
	}

	dir := filepath.Join(os.TempDir(), fmt.Sprintf("quarry-executor-%s-%s", types.Version, EmbeddedChecksum()[:16]))
	path := filepath.Join(dir, "executor.mjs")

	if info, err := os.Stat(path); err == nil && info.Size() == int64(len(bundledScript)) {
		return path, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create extraction directory: %w", err)
	}
	if err := os.WriteFile(path, bundledScript, 0o755); err != nil {
		return "", fmt.Errorf("failed to write executor bundle: %w", err)
	}
	return path, nil
}

// Cleanup removes the extracted executor's directory. A no-op if
// extraction never happened. Safe to call more than once.
func Cleanup() error {
	if defaultBundle.path == "" {
		return nil
	}
	if err := os.RemoveAll(filepath.Dir(defaultBundle.path)); err != nil {
		return fmt.Errorf("failed to clean up executor bundle: %w", err)
	}
	return nil
}
