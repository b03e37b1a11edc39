package types

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors classifying job failures.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrToolchainUnavailable: the install collaborator failed. Fatal for the target.
	ErrToolchainUnavailable = errors.New("toolchain unavailable")

	// ErrCompileFailure: the build collaborator exited non-zero. Blocks packaging.
	ErrCompileFailure = errors.New("compile failure")

	// ErrTestFailure: an enabled test run exited non-zero. Blocks packaging.
	ErrTestFailure = errors.New("test failure")

	// ErrPackagingMissingArtifact: the binary (or a declared file) to package is
	// missing. Indicates an upstream pipeline bug.
	ErrPackagingMissingArtifact = errors.New("packaging: missing artifact")

	// ErrPackagingFailed: the archive could not be produced for another reason
	// (I/O error, packaging collaborator failure).
	ErrPackagingFailed = errors.New("packaging failed")

	// ErrPublishAuthFailure: the release host rejected the credential. Never retried.
	ErrPublishAuthFailure = errors.New("publish: authentication failed")

	// ErrPublishConflict: the artifact already exists on the release host.
	// Always resolved as an idempotent no-op.
	ErrPublishConflict = errors.New("publish: artifact already exists")

	// ErrUploadFailed: the upload failed for a reason other than auth or conflict.
	ErrUploadFailed = errors.New("publish: upload failed")

	// ErrCanceled: the job was canceled before completing.
	ErrCanceled = errors.New("job canceled")
)

// Exit codes for failures that do not come from a collaborator process.
// Collaborator exit codes are propagated unchanged.
const (
	ExitSuccess         = 0
	ExitFailure         = 1
	ExitUsage           = 64
	ExitMissingArtifact = 66
	ExitUploadFailed    = 74
	ExitAuthFailure     = 77
	ExitConfig          = 78
	ExitCanceled        = 130
)

// StageError wraps a stage failure with its classification and exit code.
// It preserves the underlying error in the chain for errors.As inspection.
type StageError struct {
	// Kind is the sentinel error for classification (e.g. ErrCompileFailure).
	Kind error
	// Stage is the stage that failed.
	Stage Stage
	// Target is the target key ("<triple>@<channel>").
	Target string
	// ExitCode is the code to propagate for this failure.
	ExitCode int
	// Err is the underlying error, may be nil.
	Err error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v: %v", e.Stage, e.Target, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Target, e.Kind)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *StageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewStageError creates a classified stage error.
// A zero exit code is replaced with the default code for the kind.
func NewStageError(kind error, stage Stage, target string, exitCode int, err error) *StageError {
	if exitCode == 0 {
		exitCode = DefaultExitCode(kind)
	}
	return &StageError{
		Kind:     kind,
		Stage:    stage,
		Target:   target,
		ExitCode: exitCode,
		Err:      err,
	}
}

// DefaultExitCode maps an error kind to the exit code used when no
// collaborator exit code is available.
func DefaultExitCode(kind error) int {
	switch {
	case kind == nil:
		return ExitSuccess
	case errors.Is(kind, ErrPackagingMissingArtifact):
		return ExitMissingArtifact
	case errors.Is(kind, ErrPublishAuthFailure):
		return ExitAuthFailure
	case errors.Is(kind, ErrUploadFailed):
		return ExitUploadFailed
	case errors.Is(kind, ErrCanceled), errors.Is(kind, context.Canceled):
		return ExitCanceled
	default:
		return ExitFailure
	}
}

// ExitCodeOf extracts the exit code carried by err.
// nil maps to 0, unclassified errors map to 1.
func ExitCodeOf(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.ExitCode
	}
	if errors.Is(err, context.Canceled) {
		return ExitCanceled
	}
	return ExitFailure
}

// KindName returns a stable name for the error kind, used in reports.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrToolchainUnavailable):
		return "toolchain_unavailable"
	case errors.Is(err, ErrCompileFailure):
		return "compile_failure"
	case errors.Is(err, ErrTestFailure):
		return "test_failure"
	case errors.Is(err, ErrPackagingMissingArtifact):
		return "packaging_missing_artifact"
	case errors.Is(err, ErrPackagingFailed):
		return "packaging_failed"
	case errors.Is(err, ErrPublishAuthFailure):
		return "publish_auth_failure"
	case errors.Is(err, ErrPublishConflict):
		return "publish_conflict"
	case errors.Is(err, ErrUploadFailed):
		return "upload_failed"
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
