package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cemconv/cemrelease/collab"
	"github.com/cemconv/cemrelease/iox"
	"github.com/cemconv/cemrelease/ipc"
	"github.com/cemconv/cemrelease/log"
	"github.com/cemconv/cemrelease/metrics"
	"github.com/cemconv/cemrelease/types"
)

// JobCommand is the subcommand a job process is started with.
const JobCommand = "job"

// DefaultStopGrace is how long a job process gets to exit after SIGINT.
const DefaultStopGrace = 10 * time.Second

// SubprocessConfig configures a SubprocessLauncher.
type SubprocessConfig struct {
	// Path is the cemrelease binary. Defaults to the running executable.
	Path string
	// Args follow the job subcommand (e.g. --config release.yaml).
	Args []string
	// Dir is the job process working directory.
	Dir string
	// Env is added to the inherited environment.
	Env map[string]string
	// Stderr receives job process stderr (logs, collaborator output) when set.
	Stderr io.Writer
	// StopGrace bounds the wait after interrupting a canceled job.
	StopGrace time.Duration
	// Collector counts launches and decode errors. May be nil.
	Collector *metrics.Collector
	// Logger defaults to a no-op logger.
	Logger *log.Logger
}

// SubprocessLauncher runs every job as a separate `cemrelease job` process.
// The process reads a JobInput from stdin and writes framed msgpack events
// to stdout.
type SubprocessLauncher struct {
	cfg SubprocessConfig
}

// NewSubprocessLauncher creates a subprocess launcher.
func NewSubprocessLauncher(cfg SubprocessConfig) (*SubprocessLauncher, error) {
	if cfg.Path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cemrelease executable: %w", err)
		}
		cfg.Path = exe
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &SubprocessLauncher{cfg: cfg}, nil
}

// Launch implements Launcher.
//
// Execution flow:
//  1. Start the job process with the input on stdin
//  2. Read frames from stdout until EOF
//  3. Wait for exit
//  4. Reconcile exit code and result frame
func (l *SubprocessLauncher) Launch(ctx context.Context, req LaunchRequest) (*JobOutput, error) {
	input, err := json.Marshal(NewJobInput(req.Meta, req.Target))
	if err != nil {
		return nil, fmt.Errorf("failed to encode job input: %w", err)
	}

	args := append([]string{JobCommand}, l.cfg.Args...)
	cmd := exec.CommandContext(ctx, l.cfg.Path, args...)
	cmd.Dir = l.cfg.Dir
	cmd.Env = collab.MergeEnv(os.Environ(), l.cfg.Env)
	cmd.Stdin = bytes.NewReader(input)
	// Let the job cancel its own collaborators before it is killed.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = l.cfg.StopGrace

	tail := iox.NewTailBuffer(collab.DefaultTailBytes)
	var stderr io.Writer = tail
	if l.cfg.Stderr != nil {
		stderr = io.MultiWriter(l.cfg.Stderr, tail)
	}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		l.cfg.Collector.IncJobLaunchFailure()
		return &JobOutput{Result: crashed(req.Target, types.ExitFailure, "",
			fmt.Sprintf("failed to start job process: %v", err))}, nil
	}
	l.cfg.Collector.IncJobLaunchSuccess()

	// Frames must be drained before Wait, which closes the pipe.
	events, frame := l.ingest(stdout, req)

	exitCode, err := waitExit(cmd)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", req.Target.Key(), err)
	}
	if ctx.Err() != nil && frame == nil {
		exitCode = types.ExitCanceled
	}

	return &JobOutput{
		Result: DetermineResult(req.Target, exitCode, frame, tail.String()),
		Events: events,
	}, nil
}

// ingest reads the job's frame stream. Undecodable frames are counted and
// skipped; a desynchronized stream is drained and abandoned.
func (l *SubprocessLauncher) ingest(r io.Reader, req LaunchRequest) ([]*types.StageEvent, *types.JobResultFrame) {
	dec := ipc.NewFrameDecoder(r)
	var events []*types.StageEvent
	var result *types.JobResultFrame

	for {
		payload, err := dec.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			l.cfg.Collector.IncIPCDecodeErrors()
			l.cfg.Logger.Warn("job stream unreadable, discarding remainder", map[string]any{
				"target": req.Target.Key(),
				"error":  err.Error(),
			})
			_, _ = io.Copy(io.Discard, r)
			break
		}

		v, err := ipc.DecodeFrame(payload)
		if err != nil {
			l.cfg.Collector.IncIPCDecodeErrors()
			l.cfg.Logger.Warn("skipping undecodable frame", map[string]any{
				"target": req.Target.Key(),
				"error":  err.Error(),
			})
			continue
		}

		switch f := v.(type) {
		case *types.StageEvent:
			if result != nil {
				l.cfg.Logger.Warn("stage event after job result", map[string]any{"target": req.Target.Key()})
				continue
			}
			events = append(events, f)
			if req.OnEvent != nil {
				req.OnEvent(f)
			}
		case *types.JobResultFrame:
			if result != nil {
				l.cfg.Logger.Warn("duplicate job result frame ignored", map[string]any{"target": req.Target.Key()})
				continue
			}
			result = f
		}
	}
	return events, result
}

// waitExit waits for cmd and extracts its exit code.
// A process killed by a signal reports -1.
func waitExit(cmd *exec.Cmd) (int, error) {
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		if errors.Is(err, exec.ErrWaitDelay) {
			return 0, nil
		}
		return 0, fmt.Errorf("job process wait failed: %w", err)
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return -1, nil
		}
		return status.ExitStatus(), nil
	}
	return exitErr.ExitCode(), nil
}
