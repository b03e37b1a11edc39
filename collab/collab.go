// Package collab runs external collaborator commands (install, build,
// test, package) with the job environment.
//
// A collaborator is opaque: it receives no arguments beyond its configured
// argv and the ambient environment, and succeeds iff it exits zero.
package collab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/cemconv/cemrelease/iox"
)

// DefaultTailBytes is how much collaborator output is retained for reports.
const DefaultTailBytes = 4096

// Spec describes one collaborator invocation.
type Spec struct {
	// Name identifies the collaborator in errors (e.g. "install").
	Name string
	// Argv is the program and its arguments. Must be non-empty.
	Argv []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env is added on top of the inherited environment; these values win.
	Env map[string]string
	// Timeout bounds the run. Zero means no timeout beyond ctx.
	Timeout time.Duration
}

// Result is the outcome of a collaborator run.
type Result struct {
	// ExitCode is the process exit code; -1 when killed by a signal.
	ExitCode int
	// Tail is the last bytes of combined stdout and stderr.
	Tail string
	// Duration is the wall time of the run.
	Duration time.Duration
}

// Succeeded reports whether the collaborator exited zero.
func (r *Result) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}

// Runner starts collaborator processes.
type Runner interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
}

// ExecRunner runs collaborators as child processes.
// Output is copied to Output (if set) and retained in a bounded tail.
type ExecRunner struct {
	Output    io.Writer
	TailBytes int
}

// NewExecRunner returns a runner streaming collaborator output to w.
func NewExecRunner(w io.Writer) *ExecRunner {
	return &ExecRunner{Output: w, TailBytes: DefaultTailBytes}
}

// Run executes spec and waits for it to exit.
// A non-zero exit is reported through Result, not as an error. An error is
// returned only when the process could not be started or waited on, or
// when ctx ended first.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("collaborator %s: no command configured", spec.Name)
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	tail := iox.NewTailBuffer(r.TailBytes)
	var out io.Writer = tail
	if r.Output != nil {
		out = io.MultiWriter(r.Output, tail)
	}

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = MergeEnv(os.Environ(), spec.Env)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	result := &Result{Tail: tail.String(), Duration: time.Since(start)}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("collaborator %s: %w", spec.Name, ctxErr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("collaborator %s: failed to run %s: %w", spec.Name, spec.Argv[0], err)
		}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			result.ExitCode = status.ExitStatus()
		} else {
			result.ExitCode = exitErr.ExitCode()
		}
	}

	return result, nil
}

// MergeEnv overlays extra on base. Keys in extra replace inherited ones;
// an empty value in extra removes the key. Output order is stable.
func MergeEnv(base []string, extra map[string]string) []string {
	env := make([]string, 0, len(base)+len(extra))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, overridden := extra[key]; overridden {
			continue
		}
		env = append(env, entry)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if extra[k] == "" {
			continue
		}
		env = append(env, k+"="+extra[k])
	}
	return deduplicateEnv(env)
}

// deduplicateEnv keeps the last occurrence of each env var key.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
