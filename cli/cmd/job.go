package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/cemconv/cemrelease/collab"
	"github.com/cemconv/cemrelease/ipc"
	"github.com/cemconv/cemrelease/runtime"
	"github.com/cemconv/cemrelease/types"
)

// JobCommand returns the job command.
//
// A job process runs the pipeline of one target. It is started by `run`
// and is not meant to be invoked by hand: the job input is read from stdin
// and stdout carries framed msgpack events followed by one job_result frame.
// Logs and collaborator output go to stderr.
func JobCommand() *cli.Command {
	return &cli.Command{
		Name:   runtime.JobCommand,
		Usage:  "Run one target's pipeline (internal, started by run)",
		Hidden: true,
		Flags:  ConfigFlags(),
		Action: jobAction,
	}
}

func jobAction(c *cli.Context) error {
	in, err := runtime.ReadJobInput(os.Stdin)
	if err != nil {
		return cli.Exit(err.Error(), types.ExitUsage)
	}
	code := runJobProcess(c, in, os.Stdout, os.Stderr)
	return cli.Exit("", code)
}

// runJobProcess runs the job described by in and reports it on out.
// The returned code is the job's exit code.
func runJobProcess(c *cli.Context, in *runtime.JobInput, out, stderr io.Writer) int {
	meta := in.Meta()
	rel, err := loadRelease(c)
	if err != nil {
		return writeSetupFailure(out, stderr, in, err, types.ExitConfig)
	}

	logger := newLogger(meta, rel.cfg.LogLevel).WithOutput(stderr)
	defer logger.Sync()

	// SIGINT from the parent cancels the job; the result frame is still written.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher, err := newPublisher(ctx, rel, logger, stderr)
	if err != nil {
		return writeSetupFailure(out, stderr, in, err, types.ExitConfig)
	}
	factory, err := newStageFactory(rel, collab.NewExecRunner(stderr), publisher, logger)
	if err != nil {
		return writeSetupFailure(out, stderr, in, err, types.ExitConfig)
	}

	enc := ipc.NewFrameEncoder(out)
	job, err := factory.job(meta, in.Target, enc)
	if err != nil {
		return writeSetupFailure(out, stderr, in, err, types.ExitUsage)
	}

	result := job.Run(ctx)
	if err := enc.EncodeResult(result); err != nil {
		logger.Error("failed to write job result", map[string]any{"error": err.Error()})
		return types.ExitFailure
	}
	return result.ExitCode
}

// writeSetupFailure reports a job that could not be constructed.
func writeSetupFailure(out, stderr io.Writer, in *runtime.JobInput, err error, code int) int {
	fmt.Fprintf(stderr, "job %s: %v\n", in.Target.Key(), err)

	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		code = coder.ExitCode()
	}
	result := &types.JobResult{
		Target:    in.Target,
		Status:    types.JobFailed,
		ExitCode:  code,
		ErrorKind: "job_setup",
		Message:   err.Error(),
		Stages:    []types.StageResult{},
	}
	if encErr := ipc.NewFrameEncoder(out).EncodeResult(result); encErr != nil {
		fmt.Fprintf(stderr, "job %s: failed to write job result: %v\n", in.Target.Key(), encErr)
	}
	return code
}
