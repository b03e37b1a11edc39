// Package pipeline runs the full release pipeline for one target.
//
// A job runs install, build, test, package and publish strictly in that
// order and stops at the first failing stage. Packaging only ever sees a
// successful build, and publishing only ever sees a packaged artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/cemconv/cemrelease/build"
	"github.com/cemconv/cemrelease/log"
	"github.com/cemconv/cemrelease/types"
)

// Installer provisions the toolchain of a target. Teardown discards what
// Ensure recorded and is called once the job is over.
type Installer interface {
	Ensure(ctx context.Context, target types.TargetSpec, env map[string]string) (bool, error)
	Teardown() error
}

// Builder compiles and conditionally tests a target.
type Builder interface {
	Run(ctx context.Context, req build.Request) (*types.BuildResult, error)
}

// Packager turns a successful build into an archive.
type Packager interface {
	Package(ctx context.Context, build *types.BuildResult, tag string, env map[string]string) (*types.Artifact, error)
}

// Publisher uploads an archive when the release condition holds.
type Publisher interface {
	Publish(ctx context.Context, artifact *types.Artifact, tag string) (*types.PublishState, error)
}

// Stages are the per-stage components a job drives.
type Stages struct {
	Installer Installer
	Builder   Builder
	Packager  Packager
	Publisher Publisher
}

func (s Stages) validate() error {
	var errs []error
	if s.Installer == nil {
		errs = append(errs, errors.New("installer is required"))
	}
	if s.Builder == nil {
		errs = append(errs, errors.New("builder is required"))
	}
	if s.Packager == nil {
		errs = append(errs, errors.New("packager is required"))
	}
	if s.Publisher == nil {
		errs = append(errs, errors.New("publisher is required"))
	}
	return errors.Join(errs...)
}

// Config configures one job.
type Config struct {
	// Meta is the run identity. Tag is empty for untagged commits.
	Meta *types.RunMeta
	// Target is the matrix entry this job builds.
	Target types.TargetSpec
	// Dirs are the job's filesystem locations.
	Dirs Dirs
	// BinaryPath is where the build leaves the executable.
	BinaryPath string
	// SnapshotTag names archives of untagged runs.
	SnapshotTag string
	// Sink receives stage events. Defaults to Discard.
	Sink EventSink
	// Logger defaults to a no-op logger.
	Logger *log.Logger
}

// Job is the pipeline of one target. A Job runs once.
type Job struct {
	cfg    Config
	stages Stages
	logger *log.Logger

	env    map[string]string
	seq    int64
	result *types.JobResult
	// started holds the start time of the stage in progress.
	started time.Time
	sinkErr error
}

// NewJob creates a job. Returns an error when the run identity is invalid
// or a stage component is missing.
func NewJob(cfg Config, stages Stages) (*Job, error) {
	if cfg.Meta == nil {
		return nil, errors.New("run metadata is required")
	}
	if err := cfg.Meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run metadata: %w", err)
	}
	if err := stages.validate(); err != nil {
		return nil, err
	}
	if cfg.Sink == nil {
		cfg.Sink = Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Job{
		cfg:    cfg,
		stages: stages,
		logger: logger.ForTarget(cfg.Target),
		env:    Env(cfg.Meta, cfg.Target, cfg.Dirs, ""),
	}, nil
}

// Env returns a copy of the environment exported to collaborators.
func (j *Job) Env() map[string]string {
	return maps.Clone(j.env)
}

// ArtifactTag is the tag used in archive names: the release tag, or the
// snapshot tag for untagged runs.
func (j *Job) ArtifactTag() string {
	if j.cfg.Meta.IsTagged() {
		return j.cfg.Meta.Tag
	}
	if j.cfg.SnapshotTag != "" {
		return j.cfg.SnapshotTag
	}
	return "snapshot"
}

// Run executes every stage and returns the job result. The result is never
// nil; a failed job carries the failing stage's kind and exit code.
//
// Execution flow:
//  1. Ensure the toolchain
//  2. Build, then test unless the target opts out
//  3. Package the binary
//  4. Publish when tagged on the primary channel, otherwise record a no-op
//  5. Tear down the toolchain environment, whatever the outcome
func (j *Job) Run(ctx context.Context) *types.JobResult {
	start := time.Now()
	j.result = &types.JobResult{Target: j.cfg.Target}
	defer func() {
		j.result.Duration = time.Since(start)
	}()
	defer j.teardown()

	j.logger.Info("starting job", map[string]any{
		"tests_enabled": j.cfg.Target.TestsEnabled,
		"tag":           j.cfg.Meta.Tag,
	})

	// 1. Install
	if err := j.install(ctx); err != nil {
		return j.fail(err)
	}

	// 2. Build and test
	if err := ctx.Err(); err != nil {
		return j.fail(j.canceled(types.StageBuild, err))
	}
	br, err := j.stages.Builder.Run(ctx, build.Request{
		Target:     j.cfg.Target,
		Env:        j.Env(),
		BinaryPath: j.cfg.BinaryPath,
		Hooks: &build.Hooks{
			OnStart:  j.begin,
			OnFinish: j.finish,
		},
	})
	if br != nil {
		j.result.TestOutcome = br.TestOutcome
	}
	if err != nil {
		return j.fail(err)
	}

	// 3. Package
	artifact, err := j.pack(ctx, br)
	if err != nil {
		return j.fail(err)
	}
	j.result.Artifact = artifact

	// 4. Publish
	if err := j.publish(ctx, artifact); err != nil {
		return j.fail(err)
	}

	j.result.Status = types.JobSucceeded
	j.result.ExitCode = types.ExitSuccess
	j.logger.Info("job succeeded", map[string]any{
		"artifact": artifact.Name,
		"publish":  string(j.result.Publish.Phase),
	})
	return j.result
}

func (j *Job) install(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return j.canceled(types.StageInstall, err)
	}
	j.begin(types.StageInstall)
	installed, err := j.stages.Installer.Ensure(ctx, j.cfg.Target, j.Env())
	if err != nil {
		j.finish(j.stageResult(types.StageInstall, types.StageFailed, err, ""))
		return err
	}
	msg := "toolchain installed"
	if !installed {
		msg = "toolchain already installed"
	}
	j.finish(j.stageResult(types.StageInstall, types.StageSucceeded, nil, msg))
	return nil
}

// teardown discards the job's toolchain environment. Failures are logged;
// the job result stands.
func (j *Job) teardown() {
	if err := j.stages.Installer.Teardown(); err != nil {
		j.logger.Warn("toolchain teardown failed", map[string]any{"error": err.Error()})
	}
}

func (j *Job) pack(ctx context.Context, br *types.BuildResult) (*types.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, j.canceled(types.StagePackage, err)
	}
	if !br.Succeeded() {
		// The builder reports every failure as an error; this is a broken Builder.
		err := types.NewStageError(types.ErrPackagingFailed, types.StagePackage, j.cfg.Target.Key(), 0,
			errors.New("refusing to package an unsuccessful build"))
		j.begin(types.StagePackage)
		j.finish(j.stageResult(types.StagePackage, types.StageFailed, err, ""))
		return nil, err
	}

	env := j.Env()
	env[EnvBinaryPath] = br.BinaryPath
	j.begin(types.StagePackage)
	artifact, err := j.stages.Packager.Package(ctx, br, j.ArtifactTag(), env)
	if err != nil {
		err = j.classifyPackaging(err)
		j.finish(j.stageResult(types.StagePackage, types.StageFailed, err, ""))
		return nil, err
	}
	j.finish(j.stageResult(types.StagePackage, types.StageSucceeded, nil, artifact.Name))
	return artifact, nil
}

// classifyPackaging makes sure packaging failures carry a stage error.
func (j *Job) classifyPackaging(err error) error {
	var se *types.StageError
	if errors.As(err, &se) {
		return err
	}
	return types.NewStageError(types.ErrPackagingFailed, types.StagePackage, j.cfg.Target.Key(), 0, err)
}

func (j *Job) publish(ctx context.Context, artifact *types.Artifact) error {
	j.begin(types.StagePublish)
	state, err := j.stages.Publisher.Publish(ctx, artifact, j.cfg.Meta.Tag)
	if err == nil && state == nil {
		state = &types.PublishState{Phase: types.PhaseUploadFailed}
		err = types.NewStageError(types.ErrUploadFailed, types.StagePublish, j.cfg.Target.Key(), 0,
			errors.New("publisher reported no publish state"))
	}
	j.result.Publish = state
	if err != nil {
		j.finish(j.stageResult(types.StagePublish, types.StageFailed, err, ""))
		return err
	}

	status := types.StageNoop
	if state.Phase == types.PhasePublished {
		status = types.StageSucceeded
	}
	msg := string(state.Phase)
	if state.Conflict {
		msg += " (conflicting object left in place)"
	}
	j.finish(j.stageResult(types.StagePublish, status, nil, msg))
	return nil
}

// begin marks the start of a stage and emits its start event.
func (j *Job) begin(stage types.Stage) {
	j.started = time.Now()
	j.emit(&types.StageEvent{Stage: stage})
}

// finish records a finished stage and emits its outcome event.
func (j *Job) finish(sr types.StageResult) {
	j.result.Stages = append(j.result.Stages, sr)
	j.emit(&types.StageEvent{
		Stage:    sr.Stage,
		Status:   sr.Status,
		Message:  sr.Message,
		ExitCode: sr.ExitCode,
	})

	fields := map[string]any{
		"stage":       string(sr.Stage),
		"status":      string(sr.Status),
		"duration_ms": sr.Duration.Milliseconds(),
	}
	if sr.Status == types.StageFailed {
		fields["exit_code"] = sr.ExitCode
		fields["error"] = sr.Message
		j.logger.Error("stage failed", fields)
		return
	}
	j.logger.Debug("stage finished", fields)
}

func (j *Job) stageResult(stage types.Stage, status types.StageStatus, err error, msg string) types.StageResult {
	now := time.Now()
	sr := types.StageResult{
		Stage:      stage,
		Status:     status,
		Message:    msg,
		StartedAt:  j.started,
		FinishedAt: now,
		Duration:   now.Sub(j.started),
	}
	if err != nil {
		sr.ExitCode = types.ExitCodeOf(err)
		sr.ErrorKind = types.KindName(err)
		sr.Message = err.Error()
	}
	return sr
}

func (j *Job) emit(event *types.StageEvent) {
	j.seq++
	event.Type = types.FrameTypeStage
	event.ContractVersion = types.ContractVersion
	event.RunID = j.cfg.Meta.RunID
	event.Seq = j.seq
	event.Target = j.cfg.Target
	event.Ts = time.Now().UTC()

	if err := j.cfg.Sink.EncodeStage(event); err != nil && j.sinkErr == nil {
		// Reported once; the job result frame is the authoritative record.
		j.sinkErr = err
		j.logger.Warn("failed to emit stage event", map[string]any{"error": err.Error()})
	}
}

// canceled records a stage that never started because ctx ended.
func (j *Job) canceled(stage types.Stage, cause error) error {
	err := types.NewStageError(types.ErrCanceled, stage, j.cfg.Target.Key(), 0, cause)
	j.begin(stage)
	j.finish(j.stageResult(stage, types.StageFailed, err, ""))
	return err
}

func (j *Job) fail(err error) *types.JobResult {
	j.result.Status = types.JobFailed
	if errors.Is(err, types.ErrCanceled) || errors.Is(err, context.Canceled) {
		j.result.Status = types.JobCanceled
	}
	j.result.ExitCode = types.ExitCodeOf(err)
	j.result.ErrorKind = types.KindName(err)
	j.result.Message = err.Error()

	j.logger.Error("job failed", map[string]any{
		"error":      err.Error(),
		"error_kind": j.result.ErrorKind,
		"exit_code":  j.result.ExitCode,
	})
	return j.result
}

// FailedStage returns the stage that failed in result, or "" when none did.
func FailedStage(result *types.JobResult) types.Stage {
	if result == nil {
		return ""
	}
	for _, st := range result.Stages {
		if st.Status == types.StageFailed {
			return st.Stage
		}
	}
	return ""
}
