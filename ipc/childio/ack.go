// Package childio implements the child-process half of the IPC contract:
// the ack reader consuming file_write_ack frames on standard input, and
// the framed emitter writing event envelopes and control frames to
// standard output.
package childio

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/quarrio/quarry/ipc"
)

// ErrAckReaderStopped is returned by WaitForAck once Stop has run.
var ErrAckReaderStopped = errors.New("ack reader stopped")

// ErrStdinClosed is the rejection reason for pending waiters when the
// reader observes EOF after having received at least one real ack.
var ErrStdinClosed = errors.New("stdin closed")

type ackResult struct {
	ok  bool
	msg string
}

// AckReader consumes file_write_ack frames from the child's standard
// input and wakes the waiter registered for each write_id. Unknown
// frame types are silently discarded.
type AckReader struct {
	mu        sync.Mutex
	waiters   map[uint32]chan ackResult
	running   bool
	everAcked bool
	stopped   bool
}

// NewAckReader creates an idle reader; call Start to begin consuming.
func NewAckReader() *AckReader {
	return &AckReader{waiters: make(map[uint32]chan ackResult)}
}

// Start begins reading length-prefixed frames from r in a background
// goroutine. Idempotent: a second call while already running is a no-op.
func (a *AckReader) Start(r io.Reader) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.mu.Unlock()

	go a.run(r)
}

func (a *AckReader) run(r io.Reader) {
	dec := ipc.NewFrameDecoder(r)
	for {
		payload, err := dec.ReadFrame()
		if err != nil {
			a.drain()
			return
		}
		frame, err := ipc.DecodeFileWriteAck(payload)
		if err != nil {
			// Not a file_write_ack frame (or malformed); unknown
			// frame types on this channel are discarded.
			continue
		}
		a.resolve(frame.WriteID, frame.OK, errMsg(frame.Error))
		a.mu.Lock()
		a.everAcked = true
		a.mu.Unlock()
	}
}

func errMsg(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (a *AckReader) resolve(writeID uint32, ok bool, msg string) {
	a.mu.Lock()
	ch, found := a.waiters[writeID]
	if found {
		delete(a.waiters, writeID)
	}
	a.mu.Unlock()
	if found {
		ch <- ackResult{ok: ok, msg: msg}
	}
}

// drain resolves every outstanding waiter once the input stream ends.
// If at least one real ack was ever observed, pending writes are
// rejected as lost (the supervisor is gone mid-stream). Otherwise they
// resolve as success: a fire-and-forget fallback so a child talking to
// a supervisor that never sends acks does not hang forever.
func (a *AckReader) drain() {
	a.mu.Lock()
	fallback := !a.everAcked
	waiters := a.waiters
	a.waiters = make(map[uint32]chan ackResult)
	a.running = false
	a.mu.Unlock()

	for _, ch := range waiters {
		if fallback {
			ch <- ackResult{ok: true}
		} else {
			ch <- ackResult{ok: false, msg: ErrStdinClosed.Error()}
		}
	}
}

// Stop idempotently halts the reader and rejects every pending waiter
// with ErrAckReaderStopped.
func (a *AckReader) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	waiters := a.waiters
	a.waiters = make(map[uint32]chan ackResult)
	a.mu.Unlock()

	for _, ch := range waiters {
		ch <- ackResult{ok: false, msg: ErrAckReaderStopped.Error()}
	}
}

// WaitForAck registers a waiter for writeID and blocks until an ack
// arrives, the reader stops, or ctx is done. Returns an error built
// from the ack's carried message when ok is false.
func (a *AckReader) WaitForAck(ctx context.Context, writeID uint32) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return ErrAckReaderStopped
	}
	ch := make(chan ackResult, 1)
	a.waiters[writeID] = ch
	a.mu.Unlock()

	select {
	case res := <-ch:
		if res.ok {
			return nil
		}
		if res.msg == "" {
			return errors.New("file write failed")
		}
		return errors.New(res.msg)
	case <-ctx.Done():
		a.mu.Lock()
		delete(a.waiters, writeID)
		a.mu.Unlock()
		return ctx.Err()
	}
}
