package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/renameio/v2"

	"github.com/cemconv/cemrelease/metrics"
	"github.com/cemconv/cemrelease/types"
)

// RunReport is the structured JSON report written by --report.
type RunReport struct {
	RunID      string `json:"run_id"`
	Crate      string `json:"crate"`
	Tag        string `json:"tag,omitempty"`
	Outcome    string `json:"outcome"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`

	Jobs    []ReportJob       `json:"jobs"`
	Metrics *metrics.Snapshot `json:"metrics"`

	Notified    bool   `json:"notified"`
	NotifyError string `json:"notify_error,omitempty"`
}

// ReportJob is one job in the report.
type ReportJob struct {
	Target      string              `json:"target"`
	Status      types.JobStatus     `json:"status"`
	ExitCode    int                 `json:"exit_code"`
	ErrorKind   string              `json:"error_kind,omitempty"`
	Message     string              `json:"message,omitempty"`
	TestOutcome types.TestOutcome   `json:"test_outcome,omitempty"`
	Stages      []types.StageResult `json:"stages"`
	Artifact    *types.Artifact     `json:"artifact,omitempty"`
	Publish     *types.PublishState `json:"publish,omitempty"`
	DurationMs  int64               `json:"duration_ms"`
	Stderr      string              `json:"stderr,omitempty"`
}

// Run outcomes reported in RunReport.Outcome.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
)

// BuildRunReport composes a RunReport from a RunResult.
func BuildRunReport(run *RunResult) *RunReport {
	snap := run.Metrics
	report := &RunReport{
		RunID:      run.Meta.RunID,
		Crate:      run.Meta.Crate,
		Tag:        run.Meta.Tag,
		Outcome:    outcomeOf(run),
		ExitCode:   run.ExitCode,
		DurationMs: run.Duration.Milliseconds(),
		Jobs:       make([]ReportJob, 0, len(run.Results)),
		Metrics:    &snap,
		Notified:   run.Notified,
	}
	if run.NotifyError != nil {
		report.NotifyError = run.NotifyError.Error()
	}

	for _, r := range run.Results {
		if r == nil {
			continue
		}
		stages := r.Stages
		if stages == nil {
			stages = []types.StageResult{}
		}
		report.Jobs = append(report.Jobs, ReportJob{
			Target:      r.Target.Key(),
			Status:      r.Status,
			ExitCode:    r.ExitCode,
			ErrorKind:   r.ErrorKind,
			Message:     r.Message,
			TestOutcome: r.TestOutcome,
			Stages:      stages,
			Artifact:    r.Artifact,
			Publish:     r.Publish,
			DurationMs:  r.Duration.Milliseconds(),
			Stderr:      r.Stderr,
		})
	}
	return report
}

func outcomeOf(run *RunResult) string {
	if run.ExitCode == types.ExitSuccess {
		return OutcomeSuccess
	}
	if run.ExitCode == types.ExitCanceled {
		return OutcomeCanceled
	}
	return OutcomeFailed
}

// WriteRunReport writes the report as JSON to path, atomically.
// If path is "-", writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}
	if path == "-" {
		if err := writeRunReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// ReadRunReport loads a report written by WriteRunReport.
func ReadRunReport(path string) (*RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var report RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return &report, nil
}

func marshalReport(report *RunReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

// writeRunReportTo writes report JSON to any writer.
func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
