package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cemconv/cemrelease/types"
)

var target = types.TargetSpec{
	Triple:       "aarch64-unknown-linux-gnu",
	OS:           types.OSLinux,
	Channel:      types.ChannelStable,
	TestsEnabled: false,
}

// encodeFrame encodes a payload with length prefix.
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func stageEvent(seq int64, stage types.Stage, status types.StageStatus) *types.StageEvent {
	return &types.StageEvent{
		RunID:  "run-001",
		Seq:    seq,
		Target: target,
		Stage:  stage,
		Status: status,
		Ts:     time.Date(2026, 3, 1, 12, 0, int(seq), 0, time.UTC),
	}
}

func TestFrameEncoder_Roundtrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewFrameEncoder(&buf)

	if err := enc.EncodeStage(stageEvent(1, types.StageTest, "")); err != nil {
		t.Fatalf("EncodeStage: %v", err)
	}
	if err := enc.EncodeStage(stageEvent(2, types.StageTest, types.StageSkipped)); err != nil {
		t.Fatalf("EncodeStage: %v", err)
	}
	result := &types.JobResult{
		Target:      target,
		Status:      types.JobSucceeded,
		TestOutcome: types.TestSkipped,
		Stages: []types.StageResult{
			{Stage: types.StageTest, Status: types.StageSkipped},
		},
		Artifact: &types.Artifact{Name: "cemconv-v1.0.0-aarch64-unknown-linux-gnu.tar.gz", SHA256: "abc", Size: 10},
		Publish:  &types.PublishState{Phase: types.PhasePublished, Tag: "v1.0.0"},
		Duration: 1500 * time.Millisecond,
	}
	if err := enc.EncodeResult(result); err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}

	dec := NewFrameDecoder(&buf)
	var decoded []any
	for {
		payload, err := dec.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		frame, err := DecodeFrame(payload)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		decoded = append(decoded, frame)
	}

	if len(decoded) != 3 {
		t.Fatalf("decoded %d frames, want 3", len(decoded))
	}

	start, ok := decoded[0].(*types.StageEvent)
	if !ok {
		t.Fatalf("frame 0 = %T, want *types.StageEvent", decoded[0])
	}
	if !start.IsStart() || start.Seq != 1 || start.Stage != types.StageTest {
		t.Errorf("start event = %+v", start)
	}
	if start.ContractVersion != types.ContractVersion || start.Type != types.FrameTypeStage {
		t.Errorf("type/version = %q/%q", start.Type, start.ContractVersion)
	}
	if start.Target != target {
		t.Errorf("target = %+v, want %+v", start.Target, target)
	}

	finish := decoded[1].(*types.StageEvent)
	if finish.Status != types.StageSkipped {
		t.Errorf("status = %q, want skipped", finish.Status)
	}
	if !finish.Ts.Equal(time.Date(2026, 3, 1, 12, 0, 2, 0, time.UTC)) {
		t.Errorf("ts = %v", finish.Ts)
	}

	rf, ok := decoded[2].(*types.JobResultFrame)
	if !ok {
		t.Fatalf("frame 2 = %T, want *types.JobResultFrame", decoded[2])
	}
	got := rf.Result
	if got.Status != types.JobSucceeded || got.TestOutcome != types.TestSkipped {
		t.Errorf("result = %+v", got)
	}
	if got.Artifact == nil || got.Artifact.SHA256 != "abc" {
		t.Errorf("artifact = %+v", got.Artifact)
	}
	if got.Publish == nil || got.Publish.Phase != types.PhasePublished {
		t.Errorf("publish = %+v", got.Publish)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v", got.Duration)
	}
}

func TestDecodeFrame_UnknownType(t *testing.T) {
	payload, err := msgpack.Marshal(map[string]any{"type": "artifact_chunk", "seq": 1})
	if err != nil {
		t.Fatal(err)
	}
	_, err = DecodeFrame(payload)

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorUnknownType {
		t.Errorf("Kind = %v, want FrameErrorUnknownType", frameErr.Kind)
	}
	if IsFatalFrameError(err) {
		t.Error("unknown frame types should not be fatal")
	}
}

func TestDecodeFrame_MissingType(t *testing.T) {
	payload, err := msgpack.Marshal(map[string]any{"seq": 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeFrame(payload); err == nil {
		t.Fatal("expected error for frame without type")
	}
}

func TestProbeFrameType_TypeNotFirst(t *testing.T) {
	payload, err := msgpack.Marshal(&types.JobResultFrame{Type: types.FrameTypeJobResult})
	if err != nil {
		t.Fatal(err)
	}
	typ, err := probeFrameType(payload)
	if err != nil {
		t.Fatalf("probeFrameType: %v", err)
	}
	if typ != types.FrameTypeJobResult {
		t.Errorf("type = %q", typ)
	}

	// A stage event puts nested maps before later fields.
	payload, err = msgpack.Marshal(map[string]any{
		"target": map[string]any{"triple": "x", "channel": "stable"},
		"seq":    3,
		"type":   types.FrameTypeStage,
	})
	if err != nil {
		t.Fatal(err)
	}
	if typ, err = probeFrameType(payload); err != nil || typ != types.FrameTypeStage {
		t.Errorf("probeFrameType = %q, %v", typ, err)
	}
}

// Truncated frames desynchronize the stream and are fatal.
func TestFrameDecoder_PartialFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFrameEncoder(&buf).EncodeStage(stageEvent(1, types.StageBuild, "")); err != nil {
		t.Fatal(err)
	}
	frame := buf.Bytes()
	truncated := frame[:LengthPrefixSize+len(frame[LengthPrefixSize:])/2]

	_, err := NewFrameDecoder(bytes.NewReader(truncated)).ReadFrame()
	if err == nil {
		t.Fatal("expected error for truncated frame")
	}

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorPartial {
		t.Errorf("Kind = %v, want FrameErrorPartial", frameErr.Kind)
	}
	if !frameErr.IsFatal() {
		t.Error("FrameErrorPartial.IsFatal() should return true")
	}
}

func TestFrameDecoder_OversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(MaxPayloadSize+1)); err != nil {
		t.Fatal(err)
	}

	_, err := NewFrameDecoder(&buf).ReadFrame()
	if !IsFatalFrameError(err) {
		t.Fatalf("expected fatal frame error, got: %v", err)
	}

	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorTooLarge {
		t.Errorf("err = %v, want FrameErrorTooLarge", err)
	}
}

func TestFrameDecoder_EmptyStream(t *testing.T) {
	_, err := NewFrameDecoder(bytes.NewReader(nil)).ReadFrame()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got: %v", err)
	}
}

func TestFrameDecoder_TruncatedLengthPrefix(t *testing.T) {
	_, err := NewFrameDecoder(bytes.NewReader([]byte{0x00, 0x00})).ReadFrame()
	if !IsFatalFrameError(err) {
		t.Fatalf("expected fatal frame error, got: %v", err)
	}
}

// Decode errors are non-fatal: the frame was read correctly, its content wasn't valid.
func TestFrameDecoder_MalformedMsgpack(t *testing.T) {
	frame := encodeFrame([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF})

	payload, err := NewFrameDecoder(bytes.NewReader(frame)).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	_, err = DecodeFrame(payload)
	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorDecode {
		t.Errorf("Kind = %v, want FrameErrorDecode", frameErr.Kind)
	}
	if IsFatalFrameError(err) {
		t.Error("decode errors should not be fatal")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestFrameEncoder_WriteError(t *testing.T) {
	err := NewFrameEncoder(failingWriter{}).EncodeStage(stageEvent(1, types.StageInstall, ""))
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("err = %v, want io.ErrClosedPipe", err)
	}
}

func TestFrameError_Unwrap(t *testing.T) {
	err := &FrameError{Kind: FrameErrorPartial, Msg: "test", Err: io.ErrUnexpectedEOF}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("Unwrap should allow errors.Is to find underlying error")
	}
	if err.Error() != "test: unexpected EOF" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestIsFatalFrameError_NonFrameError(t *testing.T) {
	if IsFatalFrameError(errors.New("regular error")) {
		t.Error("regular errors should not be fatal frame errors")
	}
	if IsFatalFrameError(nil) {
		t.Error("nil should not be a fatal frame error")
	}
	if IsFatalFrameError(io.EOF) {
		t.Error("io.EOF should not be a fatal frame error")
	}
}

func BenchmarkDecodeFrame_Stage(b *testing.B) {
	payload, err := msgpack.Marshal(&types.StageEvent{
		Type:   types.FrameTypeStage,
		RunID:  "run-001",
		Seq:    1,
		Target: target,
		Stage:  types.StageBuild,
		Ts:     time.Now(),
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	for b.Loop() {
		if _, err := DecodeFrame(payload); err != nil {
			b.Fatal(err)
		}
	}
}
