package runtime

import (
	"fmt"

	"github.com/cemconv/cemrelease/types"
)

// DetermineResult reconciles a job process exit with its terminal frame.
//
// The result frame is authoritative when present and consistent with the
// exit code:
//   - exit 0 with a succeeded result: the job succeeded
//   - non-zero exit with a failed result: the job failed with the result's code
//   - a missing frame, or a frame that contradicts the exit code: the job
//     process crashed; the exit code is kept when non-zero
func DetermineResult(target types.TargetSpec, exitCode int, frame *types.JobResultFrame, stderr string) *types.JobResult {
	if frame != nil {
		r := frame.Result
		r.Target = target
		r.Stderr = stderr
		switch {
		case exitCode == types.ExitSuccess && !r.Failed():
			return &r
		case exitCode != types.ExitSuccess && r.Failed():
			if r.ExitCode == 0 {
				r.ExitCode = exitCode
			}
			return &r
		}
		return crashed(target, exitCode, stderr,
			fmt.Sprintf("job exited %d but reported status %s", exitCode, r.Status))
	}

	switch exitCode {
	case types.ExitSuccess:
		return crashed(target, exitCode, stderr, "job exited cleanly without a result frame")
	case types.ExitCanceled, -1:
		return &types.JobResult{
			Target:    target,
			Status:    types.JobCanceled,
			ExitCode:  types.ExitCanceled,
			ErrorKind: types.KindName(types.ErrCanceled),
			Message:   "job process terminated before reporting a result",
			Stderr:    stderr,
		}
	default:
		return crashed(target, exitCode, stderr, fmt.Sprintf("job exited %d without a result frame", exitCode))
	}
}

func crashed(target types.TargetSpec, exitCode int, stderr, msg string) *types.JobResult {
	if exitCode <= 0 {
		exitCode = types.ExitFailure
	}
	return &types.JobResult{
		Target:    target,
		Status:    types.JobFailed,
		ExitCode:  exitCode,
		ErrorKind: "job_crash",
		Message:   msg,
		Stderr:    stderr,
	}
}

// CanceledResult is the result of a job that never started because the run
// was canceled.
func CanceledResult(target types.TargetSpec) *types.JobResult {
	return &types.JobResult{
		Target:    target,
		Status:    types.JobCanceled,
		ExitCode:  types.ExitCanceled,
		ErrorKind: types.KindName(types.ErrCanceled),
		Message:   "run canceled before the job started",
	}
}

// ExitCode returns the overall exit code of a run: the code of the first
// failed job in matrix order, or 0 when every job succeeded.
func ExitCode(results []*types.JobResult) int {
	for _, r := range results {
		if r == nil {
			return types.ExitFailure
		}
		if r.Failed() {
			if r.ExitCode == 0 {
				return types.ExitFailure
			}
			return r.ExitCode
		}
	}
	return types.ExitSuccess
}
