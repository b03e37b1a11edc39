package runtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cemconv/cemrelease/metrics"
	"github.com/cemconv/cemrelease/types"
)

func newTestRunResult() *RunResult {
	stable := target("x86_64-unknown-linux-gnu", types.ChannelStable)
	nightly := target("x86_64-unknown-linux-gnu", types.ChannelNightly)
	return &RunResult{
		Meta: &types.RunMeta{RunID: "run-001", Crate: "cemconv", Tag: "v1.0.0"},
		Results: []*types.JobResult{
			{
				Target:      stable,
				Status:      types.JobSucceeded,
				TestOutcome: types.TestPassed,
				Stages: []types.StageResult{
					{Stage: types.StageInstall, Status: types.StageSucceeded},
					{Stage: types.StagePublish, Status: types.StageSucceeded},
				},
				Artifact: &types.Artifact{Name: "cemconv-v1.0.0-x86_64-unknown-linux-gnu.tar.gz", SHA256: "abc"},
				Publish:  &types.PublishState{Phase: types.PhasePublished, Key: "v1.0.0/cemconv-v1.0.0-x86_64-unknown-linux-gnu.tar.gz"},
				Duration: 2 * time.Second,
			},
			{
				Target:    nightly,
				Status:    types.JobFailed,
				ExitCode:  101,
				ErrorKind: "test_failure",
				Message:   "test x86_64-unknown-linux-gnu@nightly: test failure",
			},
		},
		ExitCode:    101,
		Duration:    5 * time.Second,
		Metrics:     metrics.Snapshot{JobsStarted: 2, JobsSucceeded: 1, JobsFailed: 1, Published: 1, Crate: "cemconv"},
		NotifyError: errors.New("webhook down"),
	}
}

func TestBuildRunReport(t *testing.T) {
	report := BuildRunReport(newTestRunResult())

	if report.RunID != "run-001" || report.Crate != "cemconv" || report.Tag != "v1.0.0" {
		t.Errorf("identity = %s/%s/%s", report.RunID, report.Crate, report.Tag)
	}
	if report.Outcome != OutcomeFailed || report.ExitCode != 101 {
		t.Errorf("outcome = %s, exit = %d", report.Outcome, report.ExitCode)
	}
	if report.DurationMs != 5000 {
		t.Errorf("duration = %d", report.DurationMs)
	}
	if len(report.Jobs) != 2 {
		t.Fatalf("jobs = %d", len(report.Jobs))
	}
	if report.Jobs[0].Target != "x86_64-unknown-linux-gnu@stable" || report.Jobs[0].Publish.Phase != types.PhasePublished {
		t.Errorf("job 0 = %+v", report.Jobs[0])
	}
	if report.Jobs[1].Stages == nil {
		t.Error("stages must serialize as [] rather than null")
	}
	if report.Metrics.Published != 1 {
		t.Errorf("metrics = %+v", report.Metrics)
	}
	if report.NotifyError != "webhook down" {
		t.Errorf("notify error = %q", report.NotifyError)
	}
}

func TestBuildRunReport_Outcomes(t *testing.T) {
	run := newTestRunResult()
	run.ExitCode = 0
	if got := BuildRunReport(run).Outcome; got != OutcomeSuccess {
		t.Errorf("outcome = %s, want success", got)
	}
	run.ExitCode = types.ExitCanceled
	if got := BuildRunReport(run).Outcome; got != OutcomeCanceled {
		t.Errorf("outcome = %s, want canceled", got)
	}
}

func TestWriteRunReport_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	report := BuildRunReport(newTestRunResult())

	if err := WriteRunReport(report, path); err != nil {
		t.Fatalf("WriteRunReport: %v", err)
	}
	got, err := ReadRunReport(path)
	if err != nil {
		t.Fatalf("ReadRunReport: %v", err)
	}
	if got.RunID != report.RunID || len(got.Jobs) != 2 || got.Jobs[1].ExitCode != 101 {
		t.Errorf("round trip = %+v", got)
	}
}

func TestWriteRunReport_EmptyPath(t *testing.T) {
	if err := WriteRunReport(&RunReport{}, ""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestWriteRunReportTo_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	if err := writeRunReportTo(BuildRunReport(newTestRunResult()), &buf); err != nil {
		t.Fatalf("writeRunReportTo: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"run_id", "crate", "tag", "outcome", "exit_code", "duration_ms", "jobs", "metrics", "notified"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	if buf.Bytes()[buf.Len()-1] != '\n' {
		t.Error("report must end with a newline")
	}
}

func TestReadRunReport_Missing(t *testing.T) {
	if _, err := ReadRunReport(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing report")
	}
}
