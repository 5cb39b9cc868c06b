// Package ipc implements the length-prefixed, type-discriminated frame
// transport between an executor child and the runtime supervisor.
package ipc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/quarrio/quarry/types"
)

const (
	// LengthPrefixSize is the width of the big-endian length prefix that
	// precedes every frame's payload.
	LengthPrefixSize = 4
	// MaxFrameSize bounds a whole frame, prefix included.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize bounds the msgpack payload alone.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// MaxChunkSize bounds the raw bytes carried by a single artifact chunk.
	MaxChunkSize = 8 * 1024 * 1024
)

// Frame type discriminants. Event envelopes carry their own "type" field
// (one of the EventType constants) and so need no separate tag here.
const (
	ArtifactChunkType = "artifact_chunk"
	RunResultType     = "run_result"
	FileWriteType     = "file_write"
	FileWriteAckType  = "file_write_ack"
)

// CodecErrorKind classifies a frame decode/encode failure.
type CodecErrorKind int

const (
	// ErrTruncated means fewer bytes arrived than the length prefix promised.
	ErrTruncated CodecErrorKind = iota
	// ErrOversize means the declared payload size exceeds MaxPayloadSize.
	ErrOversize
	// ErrMalformed means the bytes did not parse as the expected record.
	ErrMalformed
)

// CodecError is the error type returned by every decode/encode path in
// this package; callers distinguish failure modes with errors.As.
type CodecError struct {
	Kind CodecErrorKind
	Msg  string
	Err  error
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CodecError) Unwrap() error { return e.Err }

// Fatal reports whether the error must terminate the stream rather than
// merely being logged and skipped. Truncation and oversize frames desync
// the reader's position in the byte stream, so both are unrecoverable.
func (e *CodecError) Fatal() bool {
	return e.Kind == ErrTruncated || e.Kind == ErrOversize
}

// IsFatalFrameError reports whether err is a CodecError with Fatal() true.
func IsFatalFrameError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce) && ce.Fatal()
}

// FrameDecoder pulls length-prefixed payloads off a byte stream one at a
// time. It does not interpret payload contents.
type FrameDecoder struct {
	r *bufio.Reader
}

// NewFrameDecoder wraps r for frame-at-a-time reads. Reusing an existing
// *bufio.Reader avoids a redundant buffering layer.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	if br, ok := r.(*bufio.Reader); ok {
		return &FrameDecoder{r: br}
	}
	return &FrameDecoder{r: bufio.NewReader(r)}
}

// ReadFrame returns the next frame's raw msgpack payload. A clean
// end of stream is reported as io.EOF; any other failure is a *CodecError.
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &CodecError{Kind: ErrTruncated, Msg: "reading length prefix", Err: err}
	}

	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > MaxPayloadSize {
		return nil, &CodecError{
			Kind: ErrOversize,
			Msg:  fmt.Sprintf("payload of %d bytes exceeds %d byte cap", size, MaxPayloadSize),
		}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, &CodecError{Kind: ErrTruncated, Msg: "reading payload", Err: err}
	}
	return payload, nil
}

// frameTag peeks at the "type" key of a msgpack map without fully
// decoding it, so DecodeFrame can route to the right concrete type.
func frameTag(payload []byte) (string, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return "", err
	}
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return "", err
		}
		if key == "type" {
			return dec.DecodeString()
		}
		if err := dec.Skip(); err != nil {
			return "", err
		}
	}
	return "", errors.New("payload has no type field")
}

// decodeAs unmarshals payload into a fresh *T, wrapping any failure as a
// CodecError tagged with what the caller was trying to decode.
func decodeAs[T any](payload []byte, what string) (*T, error) {
	var v T
	if err := msgpack.Unmarshal(payload, &v); err != nil {
		return nil, &CodecError{Kind: ErrMalformed, Msg: "decoding " + what, Err: err}
	}
	return &v, nil
}

// DecodeFrame inspects payload's type tag and decodes it into the
// matching concrete frame type: an *types.ArtifactChunkFrame,
// *types.RunResultFrame, *types.FileWriteFrame, *types.FileWriteAckFrame,
// or — for anything else — a *types.EventEnvelope.
func DecodeFrame(payload []byte) (any, error) {
	tag, err := frameTag(payload)
	if err != nil {
		return nil, &CodecError{Kind: ErrMalformed, Msg: "reading frame tag", Err: err}
	}

	switch tag {
	case ArtifactChunkType:
		return DecodeArtifactChunk(payload)
	case RunResultType:
		return DecodeRunResult(payload)
	case FileWriteType:
		return DecodeFileWrite(payload)
	case FileWriteAckType:
		return DecodeFileWriteAck(payload)
	default:
		return DecodeEventEnvelope(payload)
	}
}

// DecodeEventEnvelope decodes payload as a types.EventEnvelope.
func DecodeEventEnvelope(payload []byte) (*types.EventEnvelope, error) {
	return decodeAs[types.EventEnvelope](payload, "event envelope")
}

// DecodeArtifactChunk decodes payload as a types.ArtifactChunkFrame.
func DecodeArtifactChunk(payload []byte) (*types.ArtifactChunkFrame, error) {
	return decodeAs[types.ArtifactChunkFrame](payload, "artifact chunk")
}

// DecodeRunResult decodes payload as a types.RunResultFrame.
func DecodeRunResult(payload []byte) (*types.RunResultFrame, error) {
	return decodeAs[types.RunResultFrame](payload, "run result")
}

// DecodeFileWrite decodes payload as a types.FileWriteFrame.
func DecodeFileWrite(payload []byte) (*types.FileWriteFrame, error) {
	return decodeAs[types.FileWriteFrame](payload, "file write")
}

// DecodeFileWriteAck decodes payload as a types.FileWriteAckFrame.
func DecodeFileWriteAck(payload []byte) (*types.FileWriteAckFrame, error) {
	return decodeAs[types.FileWriteAckFrame](payload, "file write ack")
}

// EncodeFrame prefixes payload with its big-endian length, producing the
// bytes ReadFrame expects on the wire.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

// EncodeFileWriteAck marshals ack and frames it for the child's stdin.
func EncodeFileWriteAck(ack *types.FileWriteAckFrame) ([]byte, error) {
	payload, err := msgpack.Marshal(ack)
	if err != nil {
		return nil, fmt.Errorf("encoding file write ack: %w", err)
	}
	return EncodeFrame(payload), nil
}
