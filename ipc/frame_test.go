package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/quarrio/quarry/types"
)

// encodeFrame length-prefixes a payload the way the child-side writer
// does. Shared with the benchmarks in this package.
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

// encodeEventFrame frames a msgpack-encoded envelope.
func encodeEventFrame(envelope *types.EventEnvelope) ([]byte, error) {
	payload, err := msgpack.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	return encodeFrame(payload), nil
}

// encodeArtifactChunkFrame frames a msgpack-encoded chunk.
func encodeArtifactChunkFrame(chunk *types.ArtifactChunkFrame) ([]byte, error) {
	payload, err := msgpack.Marshal(chunk)
	if err != nil {
		return nil, err
	}
	return encodeFrame(payload), nil
}

// encodeFileWriteFrame frames a msgpack-encoded file write.
func encodeFileWriteFrame(fw *types.FileWriteFrame) ([]byte, error) {
	payload, err := msgpack.Marshal(fw)
	if err != nil {
		return nil, err
	}
	return encodeFrame(payload), nil
}

func mustEnvelopeFrame(t *testing.T, envelope *types.EventEnvelope) []byte {
	t.Helper()
	frame, err := encodeEventFrame(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return frame
}

func mustChunkFrame(t *testing.T, chunk *types.ArtifactChunkFrame) []byte {
	t.Helper()
	payload, err := msgpack.Marshal(chunk)
	if err != nil {
		t.Fatalf("marshal chunk: %v", err)
	}
	return encodeFrame(payload)
}

func sampleEnvelope(seq int64, eventType types.EventType, payload map[string]any) *types.EventEnvelope {
	return &types.EventEnvelope{
		ContractVersion: types.Version,
		EventID:         "evt-001",
		RunID:           "run-001",
		Seq:             seq,
		Type:            eventType,
		Ts:              "2024-01-15T10:00:00Z",
		Attempt:         1,
		Payload:         payload,
	}
}

func TestFrameRoundTrip(t *testing.T) {
	envelope := sampleEnvelope(1, types.EventTypeItem, map[string]any{
		"item_type": "product",
		"data":      map[string]any{"name": "test"},
	})

	decoder := NewFrameDecoder(bytes.NewReader(mustEnvelopeFrame(t, envelope)))
	payload, err := decoder.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	decoded, err := DecodeEventEnvelope(payload)
	if err != nil {
		t.Fatalf("DecodeEventEnvelope: %v", err)
	}
	if decoded.EventID != envelope.EventID || decoded.Type != envelope.Type || decoded.Seq != envelope.Seq {
		t.Errorf("round trip = %q/%q/%d", decoded.EventID, decoded.Type, decoded.Seq)
	}
}

func TestFrameDecoderConsecutiveFrames(t *testing.T) {
	seqs := []types.EventType{types.EventTypeItem, types.EventTypeLog, types.EventTypeRunComplete}

	var buf bytes.Buffer
	for i, et := range seqs {
		buf.Write(mustEnvelopeFrame(t, sampleEnvelope(int64(i+1), et, map[string]any{})))
	}

	decoder := NewFrameDecoder(&buf)
	var decoded []*types.EventEnvelope
	for {
		payload, err := decoder.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		env, err := DecodeEventEnvelope(payload)
		if err != nil {
			t.Fatalf("DecodeEventEnvelope: %v", err)
		}
		decoded = append(decoded, env)
	}

	if len(decoded) != len(seqs) {
		t.Fatalf("decoded %d frames, want %d", len(decoded), len(seqs))
	}
	for i, env := range decoded {
		if env.Type != seqs[i] || env.Seq != int64(i+1) {
			t.Errorf("frame %d = %q seq %d, want %q seq %d", i, env.Type, env.Seq, seqs[i], i+1)
		}
	}
}

func TestDecodeFrameDiscrimination(t *testing.T) {
	chunk := &types.ArtifactChunkFrame{
		Type:       ArtifactChunkType,
		ArtifactID: "art-001",
		Seq:        1,
		IsLast:     true,
		Data:       []byte("hello world"),
	}

	decoder := NewFrameDecoder(bytes.NewReader(mustChunkFrame(t, chunk)))
	payload, err := decoder.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	result, err := DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}

	decoded, ok := result.(*types.ArtifactChunkFrame)
	if !ok {
		t.Fatalf("DecodeFrame returned %T, want *types.ArtifactChunkFrame", result)
	}
	if decoded.ArtifactID != chunk.ArtifactID || decoded.Seq != chunk.Seq ||
		decoded.IsLast != chunk.IsLast || !bytes.Equal(decoded.Data, chunk.Data) {
		t.Errorf("decoded chunk = %+v", decoded)
	}
}

// A realistic stream: item, artifact commit, two chunks, terminal —
// the decoder must hand each back in emission order with its type
// intact.
func TestFrameDecoderInterleavedStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(mustEnvelopeFrame(t, sampleEnvelope(1, types.EventTypeItem, map[string]any{"item_type": "product"})))
	buf.Write(mustEnvelopeFrame(t, sampleEnvelope(2, types.EventTypeArtifact, map[string]any{
		"artifact_id":  "art-001",
		"name":         "screenshot.png",
		"content_type": "image/png",
		"size_bytes":   1024,
	})))
	buf.Write(mustChunkFrame(t, &types.ArtifactChunkFrame{
		Type: ArtifactChunkType, ArtifactID: "art-001", Seq: 1, Data: []byte("chunk1"),
	}))
	buf.Write(mustChunkFrame(t, &types.ArtifactChunkFrame{
		Type: ArtifactChunkType, ArtifactID: "art-001", Seq: 2, IsLast: true, Data: []byte("chunk2"),
	}))
	buf.Write(mustEnvelopeFrame(t, sampleEnvelope(3, types.EventTypeRunComplete, map[string]any{})))

	decoder := NewFrameDecoder(&buf)
	var events []*types.EventEnvelope
	var chunks []*types.ArtifactChunkFrame
	for {
		payload, err := decoder.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		result, err := DecodeFrame(payload)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		switch v := result.(type) {
		case *types.EventEnvelope:
			events = append(events, v)
		case *types.ArtifactChunkFrame:
			chunks = append(chunks, v)
		default:
			t.Fatalf("unexpected frame type %T", v)
		}
	}

	if len(events) != 3 || len(chunks) != 2 {
		t.Fatalf("decoded %d events / %d chunks, want 3 / 2", len(events), len(chunks))
	}
	if !events[len(events)-1].Type.IsTerminal() {
		t.Error("terminal event did not arrive last")
	}
	if chunks[0].Seq != 1 || chunks[1].Seq != 2 || chunks[0].IsLast || !chunks[1].IsLast {
		t.Errorf("chunk sequencing = %+v / %+v", chunks[0], chunks[1])
	}
}

// Framing failures that leave the stream unreadable — truncation,
// an oversize declaration — are fatal; the run cannot continue.
func TestFrameDecoderFatalErrors(t *testing.T) {
	whole := mustEnvelopeFrame(t, sampleEnvelope(1, types.EventTypeItem, map[string]any{}))

	oversize := make([]byte, LengthPrefixSize)
	binary.BigEndian.PutUint32(oversize, uint32(MaxPayloadSize+1))

	cases := map[string]struct {
		stream []byte
		kind   CodecErrorKind
	}{
		"truncated payload":       {whole[:LengthPrefixSize+(len(whole)-LengthPrefixSize)/2], ErrTruncated},
		"truncated length prefix": {[]byte{0x00, 0x00}, ErrTruncated},
		"oversize declaration":    {oversize, ErrOversize},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			decoder := NewFrameDecoder(bytes.NewReader(tt.stream))
			_, err := decoder.ReadFrame()
			if err == nil {
				t.Fatal("broken stream read cleanly")
			}
			if !IsFatalFrameError(err) {
				t.Errorf("err = %v, want fatal", err)
			}

			var codecErr *CodecError
			if !errors.As(err, &codecErr) {
				t.Fatalf("err type = %T, want *CodecError", err)
			}
			if codecErr.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", codecErr.Kind, tt.kind)
			}
			if !codecErr.Fatal() {
				t.Error("Fatal() = false for a framing failure")
			}
		})
	}
}

func TestFrameDecoderCleanEOF(t *testing.T) {
	decoder := NewFrameDecoder(bytes.NewReader(nil))
	if _, err := decoder.ReadFrame(); err != io.EOF {
		t.Errorf("empty stream err = %v, want io.EOF", err)
	}
}

// A frame that reads fine but doesn't decode is NOT fatal: the stream
// framing is intact, only the content is bad.
func TestDecodeMalformedPayload(t *testing.T) {
	frame := encodeFrame([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF})

	decoder := NewFrameDecoder(bytes.NewReader(frame))
	payload, err := decoder.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	_, err = DecodeFrame(payload)
	if err == nil {
		t.Fatal("garbage payload decoded")
	}
	var codecErr *CodecError
	if !errors.As(err, &codecErr) {
		t.Fatalf("err type = %T, want *CodecError", err)
	}
	if codecErr.Kind != ErrMalformed {
		t.Errorf("Kind = %v, want ErrMalformed", codecErr.Kind)
	}
	if IsFatalFrameError(err) {
		t.Error("decode failure treated as fatal")
	}
}

func TestEncodeFrameSizeCap(t *testing.T) {
	small := EncodeFrame([]byte("ok"))
	if binary.BigEndian.Uint32(small[:LengthPrefixSize]) != 2 {
		t.Errorf("length prefix = %d, want 2", binary.BigEndian.Uint32(small[:LengthPrefixSize]))
	}
	if !bytes.Equal(small[LengthPrefixSize:], []byte("ok")) {
		t.Error("payload bytes mangled")
	}
}

func TestCodecErrorMessages(t *testing.T) {
	cases := []struct {
		name     string
		err      *CodecError
		contains string
	}{
		{"kind and message", &CodecError{Kind: ErrTruncated, Msg: "truncated"}, "truncated"},
		{"wraps underlying", &CodecError{Kind: ErrTruncated, Msg: "read failed", Err: io.ErrUnexpectedEOF}, "unexpected EOF"},
		{"oversize", &CodecError{Kind: ErrOversize, Msg: "payload too big"}, "too big"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if msg := tt.err.Error(); !strings.Contains(msg, tt.contains) {
				t.Errorf("Error() = %q, want it to contain %q", msg, tt.contains)
			}
		})
	}
}

func TestCodecErrorUnwrap(t *testing.T) {
	err := &CodecError{Kind: ErrTruncated, Msg: "test", Err: io.ErrUnexpectedEOF}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("underlying error lost from the chain")
	}
}

func TestIsFatalFrameErrorForeignErrors(t *testing.T) {
	for _, err := range []error{errors.New("regular error"), nil, io.EOF} {
		if IsFatalFrameError(err) {
			t.Errorf("IsFatalFrameError(%v) = true", err)
		}
	}
}
