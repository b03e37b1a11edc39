package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cemconv/cemrelease/lode"
	"github.com/cemconv/cemrelease/metrics"
	"github.com/cemconv/cemrelease/runtime"
	"github.com/cemconv/cemrelease/types"
)

func TestIsTUISupported(t *testing.T) {
	tests := []struct {
		viewType string
		want     bool
	}{
		{"report_run", true},
		{"report_jobs", true},
		{"report_metrics", true},

		// Not supported: other commands
		{"report_unknown", false},
		{"matrix", false},
		{"plan", false},
		{"publish", false},
		{"version", false},
		{"run", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.viewType, func(t *testing.T) {
			got := IsTUISupported(tt.viewType)
			if got != tt.want {
				t.Errorf("IsTUISupported(%q) = %v, want %v", tt.viewType, got, tt.want)
			}
		})
	}
}

func TestSupportedTUIViews(t *testing.T) {
	views := SupportedTUIViews()
	if len(views) != 3 {
		t.Errorf("SupportedTUIViews() returned %d views, expected 3", len(views))
	}
	for _, v := range views {
		if !IsTUISupported(v) {
			t.Errorf("SupportedTUIViews() returned %q but IsTUISupported returns false", v)
		}
	}
}

func TestRun_UnsupportedViewType(t *testing.T) {
	if err := Run("matrix", nil); err == nil {
		t.Error("Expected error for unsupported view type")
	}
}

func testReport() *runtime.RunReport {
	return &runtime.RunReport{
		RunID:    "run-001",
		Crate:    "cemconv",
		Tag:      "v1.0.0",
		Outcome:  runtime.OutcomeFailed,
		ExitCode: 101,
		Jobs: []runtime.ReportJob{
			{
				Target: "x86_64-unknown-linux-gnu@stable",
				Status: types.JobSucceeded,
				Stages: []types.StageResult{{Stage: types.StageBuild, Status: types.StageSucceeded}},
				Artifact: &types.Artifact{
					Name:   "cemconv-v1.0.0-x86_64-unknown-linux-gnu.tar.gz",
					SHA256: "deadbeef",
				},
				Publish: &types.PublishState{Phase: types.PhasePublished},
			},
			{
				Target:   "x86_64-unknown-linux-gnu@nightly",
				Status:   types.JobFailed,
				ExitCode: 101,
				Message:  "test suite failed",
			},
		},
	}
}

func down() tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyDown}
}

func TestReportModel_RunView(t *testing.T) {
	m := NewReportModel(ViewReportRun, testReport())
	view := m.View()

	for _, want := range []string{"run-001", "x86_64-unknown-linux-gnu@stable", "cemconv-v1.0.0-x86_64-unknown-linux-gnu.tar.gz"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if strings.Contains(view, "test suite failed") {
		t.Error("details of an unselected job must not be shown")
	}

	next, _ := m.Update(down())
	view = next.View()
	if !strings.Contains(view, "test suite failed") {
		t.Error("selecting the second job should show its error")
	}
}

func TestReportModel_CursorBounds(t *testing.T) {
	var model tea.Model = NewReportModel(ViewReportRun, testReport())
	for range 5 {
		model, _ = model.Update(down())
	}
	if got := model.(ReportModel).Cursor(); got != 1 {
		t.Errorf("cursor = %d, want 1", got)
	}
	for range 5 {
		model, _ = model.Update(tea.KeyMsg{Type: tea.KeyUp})
	}
	if got := model.(ReportModel).Cursor(); got != 0 {
		t.Errorf("cursor = %d, want 0", got)
	}
}

func TestReportModel_Quit(t *testing.T) {
	m := NewReportModel(ViewReportRun, testReport())
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if next.View() != "" {
		t.Error("quitting model should render nothing")
	}
}

func TestReportModel_JobsView(t *testing.T) {
	records := []lode.JobRecord{
		{RunID: "run-001", Tag: "v1.0.0", Triple: "aarch64-apple-darwin", Channel: "stable", Status: "succeeded", PublishPhase: "published"},
		{RunID: "run-001", Tag: "v1.0.0", Triple: "x86_64-pc-windows-msvc", Channel: "stable", Status: "failed", ExitCode: 2, ErrorKind: "compile_failure"},
	}
	view := NewReportModel(ViewReportJobs, records).View()
	if !strings.Contains(view, "aarch64-apple-darwin@stable") || !strings.Contains(view, "x86_64-pc-windows-msvc@stable") {
		t.Errorf("jobs view missing targets:\n%s", view)
	}
	if !strings.Contains(view, "Ledger Jobs (2)") {
		t.Error("jobs view missing count")
	}
}

func TestReportModel_InvalidData(t *testing.T) {
	view := NewReportModel(ViewReportRun, "nope").View()
	if !strings.Contains(view, "Invalid data type") {
		t.Errorf("view = %q", view)
	}
}

func TestStatsModel_View(t *testing.T) {
	snap := &metrics.Snapshot{
		RunID:         "run-001",
		Tag:           "v1.0.0",
		JobsStarted:   4,
		JobsSucceeded: 3,
		JobsFailed:    1,
		StageFailures: map[string]int64{"test": 1},
		Published:     2,
	}
	view := NewStatsModel(snap).View()
	for _, want := range []string{"Run Metrics: run-001", "Succeeded", "Failures by stage", "test:"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestRenderStatic(t *testing.T) {
	out, err := RenderStatic(ViewReportRun, testReport())
	if err != nil {
		t.Fatalf("RenderStatic: %v", err)
	}
	if !strings.Contains(out, "run-001") {
		t.Error("static render missing run id")
	}
	if _, err := RenderStatic("plan", nil); err == nil {
		t.Error("expected error for unsupported view")
	}
}

func TestStateStyle(t *testing.T) {
	if StateStyle("failed").GetForeground() != errorColor {
		t.Error("failed should use the error color")
	}
	if StateStyle("published").GetForeground() != successColor {
		t.Error("published should use the success color")
	}
}
