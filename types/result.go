package types

import "time"

// TestOutcome is the result of the test stage.
type TestOutcome string

// Test outcomes.
const (
	TestPassed  TestOutcome = "passed"
	TestFailed  TestOutcome = "failed"
	TestSkipped TestOutcome = "skipped"
)

// Stage names a step of a job. Stages run strictly in declaration order.
type Stage string

// Job stages.
const (
	StageInstall Stage = "install"
	StageBuild   Stage = "build"
	StageTest    Stage = "test"
	StagePackage Stage = "package"
	StagePublish Stage = "publish"
)

// Stages lists the stages in execution order.
var Stages = []Stage{StageInstall, StageBuild, StageTest, StagePackage, StagePublish}

// StageStatus is the outcome of a single stage.
type StageStatus string

// Stage statuses.
const (
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
	StageNoop      StageStatus = "noop"
)

// BuildResult is produced by the build & test runner and consumed by the packager.
type BuildResult struct {
	// Target is the target that was built.
	Target TargetSpec `json:"target" msgpack:"target"`
	// BinaryPath is where the compiled binary is expected.
	BinaryPath string `json:"binary_path" msgpack:"binary_path"`
	// TestOutcome is passed, failed, or skipped.
	TestOutcome TestOutcome `json:"test_outcome" msgpack:"test_outcome"`
	// ExitCode is zero on success, otherwise the failing step's code.
	ExitCode int `json:"exit_code" msgpack:"exit_code"`
}

// Succeeded reports whether the result may be packaged.
// A skipped test outcome is a success; a failed one never is.
func (r *BuildResult) Succeeded() bool {
	return r != nil && r.ExitCode == 0 && r.TestOutcome != TestFailed
}

// StageResult records the outcome of one stage of a job.
type StageResult struct {
	Stage      Stage         `json:"stage" msgpack:"stage"`
	Status     StageStatus   `json:"status" msgpack:"status"`
	ExitCode   int           `json:"exit_code" msgpack:"exit_code"`
	Message    string        `json:"message,omitempty" msgpack:"message,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty" msgpack:"error_kind,omitempty"`
	Duration   time.Duration `json:"duration_ns" msgpack:"duration_ns"`
	StartedAt  time.Time     `json:"started_at" msgpack:"started_at"`
	FinishedAt time.Time     `json:"finished_at" msgpack:"finished_at"`
}

// JobStatus is the overall outcome of a job.
type JobStatus string

// Job statuses.
const (
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// JobResult is the full record of one target's pipeline.
type JobResult struct {
	Target      TargetSpec    `json:"target" msgpack:"target"`
	Status      JobStatus     `json:"status" msgpack:"status"`
	ExitCode    int           `json:"exit_code" msgpack:"exit_code"`
	Message     string        `json:"message,omitempty" msgpack:"message,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty" msgpack:"error_kind,omitempty"`
	Stages      []StageResult `json:"stages" msgpack:"stages"`
	TestOutcome TestOutcome   `json:"test_outcome,omitempty" msgpack:"test_outcome,omitempty"`
	Artifact    *Artifact     `json:"artifact,omitempty" msgpack:"artifact,omitempty"`
	Publish     *PublishState `json:"publish,omitempty" msgpack:"publish,omitempty"`
	Duration    time.Duration `json:"duration_ns" msgpack:"duration_ns"`
	Stderr      string        `json:"stderr,omitempty" msgpack:"stderr,omitempty"`
}

// Failed reports whether the job counts as a failure for the overall run.
func (r *JobResult) Failed() bool {
	return r == nil || r.Status != JobSucceeded
}

// StageStatus returns the recorded status of stage s, or "" if it never ran.
func (r *JobResult) StageStatus(s Stage) StageStatus {
	if r == nil {
		return ""
	}
	for _, st := range r.Stages {
		if st.Stage == s {
			return st.Status
		}
	}
	return ""
}
