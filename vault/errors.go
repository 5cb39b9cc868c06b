// Storage error classification. Sentinel errors and a wrapper type
// let callers use errors.Is/errors.As instead of string-matching on
// backend error text.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Sentinels for storage failure classification; assert with
// errors.Is(err, ErrXxx).
var (
	// ErrPermissionDenied: EACCES and friends.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound: ENOENT, 404, NoSuchKey.
	ErrNotFound = errors.New("not found")

	// ErrDiskFull: ENOSPC, quota exceeded.
	ErrDiskFull = errors.New("no space left on device")

	// ErrTimeout: the operation ran out of time.
	ErrTimeout = errors.New("operation timed out")

	// ErrThrottled: 429, SlowDown.
	ErrThrottled = errors.New("rate limited")

	// ErrAuth: missing or bad credentials, expired token.
	ErrAuth = errors.New("authentication failed")

	// ErrAccessDenied: valid credentials, no permission (403).
	ErrAccessDenied = errors.New("access denied")

	// ErrNetwork: connection refused, DNS, unreachable.
	ErrNetwork = errors.New("network error")

	// ErrStorageUnknown: nothing above matched.
	ErrStorageUnknown = errors.New("storage error")
)

// StorageError carries a classification sentinel plus the original
// error, which stays in the chain for errors.As.
type StorageError struct {
	// Kind is the classification sentinel (ErrPermissionDenied, ...).
	Kind error
	// Op is the failing operation ("write", "read", "init").
	Op string
	// Path is the storage path involved, when known.
	Path string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes the underlying error to errors.Is/As traversal.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches against the classification sentinel.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Retriable reports whether a second attempt could plausibly succeed:
// timeouts, throttling, and network failures are transient; every
// other kind needs operator intervention first.
func (e *StorageError) Retriable() bool {
	return errors.Is(e.Kind, ErrTimeout) ||
		errors.Is(e.Kind, ErrThrottled) ||
		errors.Is(e.Kind, ErrNetwork)
}

// NewStorageError builds a classified storage error.
func NewStorageError(kind error, op, path string, err error) *StorageError {
	return &StorageError{Kind: kind, Op: op, Path: path, Err: err}
}

// WrapWriteError classifies a write failure; nil stays nil.
func WrapWriteError(err error, path string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), "write", path, err)
}

// WrapReadError classifies a read failure; nil stays nil.
func WrapReadError(err error, path string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), "read", path, err)
}

// WrapInitError classifies a client initialization failure; nil stays
// nil.
func WrapInitError(err error, dataset string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), "init", dataset, err)
}

// classifyError picks the sentinel for err. Typed errors settle it
// outright — os/fs sentinels, errno values, context deadlines, and
// net-style Timeout() — and only then do the backend message
// heuristics run, since SDK errors frequently arrive as flattened
// strings with nothing left to unwrap.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES):
		return ErrPermissionDenied
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return ErrDiskFull
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return ErrNetwork
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}

	return classifyMessage(err.Error())
}

// classifyMessage matches backend error text against per-kind
// matchers, first hit wins. ErrAccessDenied runs before
// ErrPermissionDenied, so a message carrying both an
// "AccessDenied"/"Forbidden"/"403" marker and "permission denied" text
// classifies as access-denied.
func classifyMessage(msg string) error {
	lower := strings.ToLower(msg)
	has := func(subs ...string) bool {
		for _, sub := range subs {
			if strings.Contains(lower, strings.ToLower(sub)) {
				return true
			}
		}
		return false
	}

	switch {
	case has("AccessDenied", "Forbidden", "403"):
		return ErrAccessDenied
	case has("permission denied", "EACCES"):
		return ErrPermissionDenied
	case has("no such file", "does not exist", "not found", "ENOENT", "404", "NoSuchKey"):
		return ErrNotFound
	case has("no space left", "disk full", "ENOSPC", "quota exceeded"):
		return ErrDiskFull
	case has("timeout", "timed out", "deadline exceeded"):
		return ErrTimeout
	case has("SlowDown", "rate exceeded", "throttl", "429", "TooManyRequests"):
		return ErrThrottled
	case has("NoCredentialProviders", "credentials", "InvalidAccessKeyId",
		"SignatureDoesNotMatch", "ExpiredToken", "401", "Unauthorized"):
		return ErrAuth
	case has("connection refused", "no route to host", "network unreachable",
		"DNS", "dial tcp", "i/o timeout"):
		return ErrNetwork
	default:
		return ErrStorageUnknown
	}
}
