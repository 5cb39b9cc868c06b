// Package iox holds small I/O cleanup helpers shared across the tree.
package iox

import "io"

// CloseFunc wraps c.Close for t.Cleanup and b.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardClose closes c, dropping the error. For defers where a close
// failure is unactionable:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DiscardErr runs fn and drops the returned error. Same role as
// DiscardClose for non-Close cleanup such as Flush:
//
//	defer iox.DiscardErr(w.Flush)
func DiscardErr(fn func() error) { _ = fn() }
