package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cemconv/cemrelease/types"
)

func job(triple string, channel types.Channel, status types.JobStatus, phase types.PublishPhase) *types.JobResult {
	target := types.TargetSpec{Triple: triple, Channel: channel, OS: types.OSLinux}
	r := &types.JobResult{Target: target, Status: status}
	if status == types.JobSucceeded {
		r.Artifact = &types.Artifact{Name: "cemconv-v1.0.0-" + triple + ".tar.gz", SHA256: "abc"}
		r.Publish = &types.PublishState{Phase: phase, URL: "https://dl.example.com/v1.0.0/" + r.Artifact.Name}
	}
	return r
}

func TestNewReleaseEvent(t *testing.T) {
	meta := &types.RunMeta{RunID: "run-1", Crate: "cemconv", Tag: "v1.0.0"}
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		results       []*types.JobResult
		wantOutcome   string
		wantArtifacts int
		wantFailed    []string
	}{
		{
			name: "all published",
			results: []*types.JobResult{
				job("x86_64-unknown-linux-gnu", types.ChannelStable, types.JobSucceeded, types.PhasePublished),
				job("x86_64-unknown-linux-gnu", types.ChannelNightly, types.JobSucceeded, types.PhaseNonPrimaryChannel),
				job("aarch64-apple-darwin", types.ChannelStable, types.JobSucceeded, types.PhaseAlreadyPublished),
			},
			wantOutcome:   OutcomeSuccess,
			wantArtifacts: 2,
		},
		{
			name: "partial",
			results: []*types.JobResult{
				job("x86_64-unknown-linux-gnu", types.ChannelStable, types.JobSucceeded, types.PhasePublished),
				job("i686-pc-windows-msvc", types.ChannelStable, types.JobFailed, ""),
			},
			wantOutcome:   OutcomePartial,
			wantArtifacts: 1,
			wantFailed:    []string{"i686-pc-windows-msvc@stable"},
		},
		{
			name: "all failed",
			results: []*types.JobResult{
				job("i686-pc-windows-msvc", types.ChannelStable, types.JobFailed, ""),
				nil,
			},
			wantOutcome: OutcomeFailed,
			wantFailed:  []string{"i686-pc-windows-msvc@stable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewReleaseEvent(meta, tt.results, finished, 1500*time.Millisecond)
			if e.EventType != EventTypeReleaseCompleted {
				t.Errorf("EventType = %q", e.EventType)
			}
			if e.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %q, want %q", e.Outcome, tt.wantOutcome)
			}
			if len(e.Artifacts) != tt.wantArtifacts {
				t.Errorf("len(Artifacts) = %d, want %d", len(e.Artifacts), tt.wantArtifacts)
			}
			if strings.Join(e.FailedTargets, ",") != strings.Join(tt.wantFailed, ",") {
				t.Errorf("FailedTargets = %v, want %v", e.FailedTargets, tt.wantFailed)
			}
			if e.Timestamp != "2026-03-01T12:00:00Z" || e.DurationMs != 1500 {
				t.Errorf("timestamp/duration = %q/%d", e.Timestamp, e.DurationMs)
			}
			if e.Tag != "v1.0.0" || e.Crate != "cemconv" || e.RunID != "run-1" {
				t.Errorf("identity = %q %q %q", e.Tag, e.Crate, e.RunID)
			}
		})
	}
}

func TestRetry(t *testing.T) {
	calls := 0
	err := Retry(t.Context(), "test", 2, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Retry = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_Stop(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Retry(t.Context(), "test", 5, time.Millisecond, func(context.Context) error {
		calls++
		return permanent
	}, func(err error) bool { return errors.Is(err, permanent) })
	if !errors.Is(err, permanent) {
		t.Fatalf("Retry = %v, want permanent", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	err := Retry(t.Context(), "test", 1, time.Millisecond, func(context.Context) error {
		return errors.New("down")
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "failed after 2 attempts") {
		t.Fatalf("Retry = %v", err)
	}
}

func TestRetry_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := Retry(ctx, "test", 3, time.Millisecond, func(context.Context) error { return nil }, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry = %v, want context.Canceled", err)
	}
}
