// Package main provides the cemrelease CLI entrypoint.
//
// Usage:
//
//	cemrelease <command> [options]
//
// Exit codes for `run`:
//   - 0: every job succeeded (explicitly skipped tests count as success)
//   - N: exit code of the first failed job in matrix order, unchanged
//   - 64 usage, 66 missing artifact, 74 upload failed, 77 auth failure,
//     78 config, 130 canceled
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/cemconv/cemrelease/cli/cmd"
	"github.com/cemconv/cemrelease/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "cemrelease",
		Usage:          "Cross-target release builds and packaging for cemconv",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.JobCommand(),
			cmd.MatrixCommand(),
			cmd.PlanCommand(),
			cmd.PublishCommand(),
			cmd.ReportCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// exitErrHandler preserves exit codes from cli.Exit(), so a failed job's
// code reaches the shell unchanged.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	os.Exit(reportExit(os.Stderr, err))
}

// reportExit prints err when it carries a real message and returns the
// process exit code.
func reportExit(w io.Writer, err error) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(w, msg)
		}
		return code
	}

	// Unexpected error - usage errors from flag parsing land here too
	fmt.Fprintf(w, "Error: %v\n", err)
	return types.ExitFailure
}
