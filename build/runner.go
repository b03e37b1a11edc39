// Package build compiles the project for a target and conditionally runs
// its test suite.
//
// Skipping tests is an explicit opt-out carried by the target
// (TestsEnabled=false). A failing test run is never converted to a skip.
package build

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cemconv/cemrelease/collab"
	"github.com/cemconv/cemrelease/types"
)

// Config configures a Runner.
type Config struct {
	// Build is the build collaborator argv (required).
	Build []string
	// Test is the test collaborator argv. Required for targets with tests enabled.
	Test []string
	// Dir is the collaborator working directory.
	Dir string
	// Timeout bounds each collaborator run. Zero means none.
	Timeout time.Duration
}

// Hooks observe stage transitions. Either field may be nil.
type Hooks struct {
	OnStart  func(stage types.Stage)
	OnFinish func(result types.StageResult)
}

func (h *Hooks) start(stage types.Stage) {
	if h != nil && h.OnStart != nil {
		h.OnStart(stage)
	}
}

func (h *Hooks) finish(r types.StageResult) {
	if h != nil && h.OnFinish != nil {
		h.OnFinish(r)
	}
}

// Request is one build of one target.
type Request struct {
	Target types.TargetSpec
	// Env is the job environment passed to both collaborators.
	Env map[string]string
	// BinaryPath is where the build is expected to leave the binary.
	BinaryPath string
	Hooks      *Hooks
}

// Runner drives the build and test collaborators.
type Runner struct {
	runner collab.Runner
	cfg    Config
}

// NewRunner creates a Runner.
func NewRunner(runner collab.Runner, cfg Config) *Runner {
	return &Runner{runner: runner, cfg: cfg}
}

// Run compiles, then tests unless the target opts out.
//
// The returned BuildResult is always non-nil. On failure the error is a
// *types.StageError (ErrCompileFailure or ErrTestFailure) carrying the
// collaborator's exit code, and BuildResult.Succeeded() is false.
func (r *Runner) Run(ctx context.Context, req Request) (*types.BuildResult, error) {
	result := &types.BuildResult{
		Target:     req.Target,
		BinaryPath: req.BinaryPath,
	}

	stage, err := r.step(ctx, req, types.StageBuild, r.cfg.Build, types.ErrCompileFailure)
	req.Hooks.finish(stage)
	if err != nil {
		result.ExitCode = types.ExitCodeOf(err)
		return result, err
	}

	if !req.Target.TestsEnabled {
		result.TestOutcome = types.TestSkipped
		now := time.Now()
		req.Hooks.start(types.StageTest)
		req.Hooks.finish(types.StageResult{
			Stage:      types.StageTest,
			Status:     types.StageSkipped,
			Message:    "tests disabled for target",
			StartedAt:  now,
			FinishedAt: now,
		})
		return result, nil
	}

	if len(r.cfg.Test) == 0 {
		// Config validation rejects this before any job starts.
		err := types.NewStageError(types.ErrTestFailure, types.StageTest, req.Target.Key(), types.ExitConfig,
			errors.New("tests enabled but no test collaborator configured"))
		result.TestOutcome = types.TestFailed
		result.ExitCode = err.ExitCode
		return result, err
	}

	stage, err = r.step(ctx, req, types.StageTest, r.cfg.Test, types.ErrTestFailure)
	req.Hooks.finish(stage)
	if err != nil {
		result.TestOutcome = types.TestFailed
		result.ExitCode = types.ExitCodeOf(err)
		return result, err
	}

	result.TestOutcome = types.TestPassed
	return result, nil
}

// step runs one collaborator and classifies its outcome with kind.
func (r *Runner) step(ctx context.Context, req Request, stage types.Stage, argv []string, kind error) (types.StageResult, error) {
	req.Hooks.start(stage)
	sr := types.StageResult{Stage: stage, StartedAt: time.Now()}
	finish := func(status types.StageStatus, exitCode int, err error) (types.StageResult, error) {
		sr.FinishedAt = time.Now()
		sr.Duration = sr.FinishedAt.Sub(sr.StartedAt)
		sr.Status = status
		sr.ExitCode = exitCode
		if err != nil {
			sr.Message = err.Error()
			sr.ErrorKind = types.KindName(err)
		}
		return sr, err
	}

	res, err := r.runner.Run(ctx, collab.Spec{
		Name:    string(stage),
		Argv:    argv,
		Dir:     r.cfg.Dir,
		Env:     req.Env,
		Timeout: r.cfg.Timeout,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			se := types.NewStageError(types.ErrCanceled, stage, req.Target.Key(), 0, err)
			return finish(types.StageFailed, se.ExitCode, se)
		}
		se := types.NewStageError(kind, stage, req.Target.Key(), 0, err)
		return finish(types.StageFailed, se.ExitCode, se)
	}
	if !res.Succeeded() {
		se := types.NewStageError(kind, stage, req.Target.Key(), res.ExitCode,
			fmt.Errorf("%s collaborator exited %d", stage, res.ExitCode))
		return finish(types.StageFailed, se.ExitCode, se)
	}
	return finish(types.StageSucceeded, 0, nil)
}
