package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/cemconv/cemrelease/cli/config"
	"github.com/cemconv/cemrelease/collab"
	"github.com/cemconv/cemrelease/log"
	"github.com/cemconv/cemrelease/metrics"
	"github.com/cemconv/cemrelease/runtime"
	"github.com/cemconv/cemrelease/types"
)

// RunCommand returns the run command.
// This is the only command that builds targets.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Build, test, package and publish every matrix entry",
		Flags: withFlags(ConfigFlags(), []cli.Flag{
			&cli.IntFlag{
				Name:  "parallel",
				Usage: "Maximum concurrent jobs (0 = number of CPUs)",
			},
			&cli.StringFlag{
				Name:  "isolation",
				Usage: "Job isolation: subprocess or inprocess",
			},
			&cli.StringSliceFlag{
				Name:  "target",
				Usage: "Only run these entries (triple or triple@channel, repeatable)",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run ID (generated when empty)",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON run report to this path (- for stderr)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the result summary and job output",
			},
		}),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	rel, err := loadRelease(c)
	if err != nil {
		return err
	}
	cfg := rel.cfg

	m, err := rel.matrix.Select(c.StringSlice("target")...)
	if err != nil {
		return cli.Exit(err.Error(), types.ExitUsage)
	}

	runID := c.String("run-id")
	if runID == "" {
		runID = runtime.NewRunID()
	}
	meta := &types.RunMeta{RunID: runID, Crate: cfg.Crate, Tag: cfg.Tag}
	if err := meta.Validate(); err != nil {
		return configError(err)
	}

	logger := newLogger(meta, cfg.LogLevel)
	defer logger.Sync()
	collector := metrics.NewCollector(cfg.Crate, cfg.Tag, cfg.Isolation, cfg.Release.Backend, runID)

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn("received signal, canceling run", map[string]any{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	ledger, err := newLedger(ctx, rel, collector)
	if err != nil {
		return err
	}
	if ledger != nil {
		defer func() { _ = ledger.Close() }()
	}

	notifier, err := newAdapter(cfg.Adapter)
	if err != nil {
		return err
	}
	if notifier != nil {
		defer func() { _ = notifier.Close() }()
	}

	quiet := c.Bool("quiet")
	launcher, err := newLauncher(ctx, rel, logger, collector, quiet)
	if err != nil {
		return err
	}

	orchestrator, err := runtime.NewOrchestrator(runtime.Config{
		Meta:      meta,
		Targets:   m.Entries(),
		Parallel:  cfg.Parallel,
		Launcher:  launcher,
		Ledger:    ledger,
		Collector: collector,
		Adapter:   notifier,
		Logger:    logger,
		OnResult: func(r *types.JobResult) {
			if !quiet {
				printJobLine(c.App.Writer, r)
			}
		},
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create orchestrator: %v", err), types.ExitUsage)
	}

	result, err := orchestrator.Run(ctx)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if path := c.String("report"); path != "" {
		if err := runtime.WriteRunReport(runtime.BuildRunReport(result), path); err != nil {
			logger.Warn("failed to write run report", map[string]any{"error": err.Error()})
		}
	}

	if !quiet {
		printRunResult(c.App.Writer, result)
	}

	return cli.Exit("", result.ExitCode)
}

// newLauncher picks the job launcher for the configured isolation.
func newLauncher(ctx context.Context, rel *release, logger *log.Logger, collector *metrics.Collector, quiet bool) (runtime.Launcher, error) {
	var output io.Writer = os.Stderr
	if quiet {
		output = io.Discard
	}

	if rel.cfg.Isolation == config.IsolationInProcess {
		publisher, err := newPublisher(ctx, rel, logger, os.Stderr)
		if err != nil {
			return nil, err
		}
		factory, err := newStageFactory(rel, collab.NewExecRunner(output), publisher, logger)
		if err != nil {
			return nil, err
		}
		return runtime.NewInProcessLauncher(factory.job), nil
	}

	var stderr io.Writer
	if !quiet {
		stderr = os.Stderr
	}
	return runtime.NewSubprocessLauncher(runtime.SubprocessConfig{
		Args:      jobArgs(rel),
		Dir:       rel.workdir,
		Stderr:    stderr,
		Collector: collector,
		Logger:    logger,
	})
}

// jobArgs are the flags a job process needs to rebuild the run's configuration.
// Run identity and target travel on stdin.
func jobArgs(rel *release) []string {
	args := []string{
		"--config", rel.path,
		"--workdir", rel.workdir,
		"--out-dir", rel.outDir,
	}
	if rel.cfg.LogLevel != "" {
		args = append(args, "--log-level", rel.cfg.LogLevel)
	}
	return args
}

func printJobLine(w io.Writer, r *types.JobResult) {
	line := fmt.Sprintf("%-9s %s", r.Status, r.Target.Key())
	if r.Publish != nil {
		line += fmt.Sprintf("  publish=%s", r.Publish.Phase)
	}
	if r.Status != types.JobSucceeded {
		line += fmt.Sprintf("  exit=%d", r.ExitCode)
		if r.Message != "" {
			line += "  " + r.Message
		}
	}
	fmt.Fprintln(w, line)
}

func printRunResult(w io.Writer, result *runtime.RunResult) {
	tag := result.Meta.Tag
	if tag == "" {
		tag = "(untagged)"
	}

	fmt.Fprintf(w, "\n=== Release Run ===\n")
	fmt.Fprintf(w, "Run ID:       %s\n", result.Meta.RunID)
	fmt.Fprintf(w, "Crate:        %s\n", result.Meta.Crate)
	fmt.Fprintf(w, "Tag:          %s\n", tag)
	fmt.Fprintf(w, "Jobs:         %d (%d failed)\n", len(result.Results), len(result.Failed()))
	fmt.Fprintf(w, "Exit Code:    %d\n", result.ExitCode)
	fmt.Fprintf(w, "Duration:     %s\n", result.Duration.Round(time.Millisecond))

	var published []*types.JobResult
	for _, r := range result.Results {
		if r != nil && r.Publish != nil && r.Artifact != nil &&
			(r.Publish.Phase == types.PhasePublished || r.Publish.Phase == types.PhaseAlreadyPublished) {
			published = append(published, r)
		}
	}
	if len(published) > 0 {
		fmt.Fprintf(w, "\n=== Published ===\n")
		for _, r := range published {
			fmt.Fprintf(w, "  %s  %s  (%s)\n", r.Artifact.SHA256, r.Artifact.Name, r.Publish.Phase)
		}
	}

	snap := result.Metrics
	fmt.Fprintf(w, "\n=== Metrics ===\n")
	fmt.Fprintf(w, "Tests:        passed=%d failed=%d skipped=%d\n", snap.TestsPassed, snap.TestsFailed, snap.TestsSkipped)
	fmt.Fprintf(w, "Publishes:    published=%d already=%d skipped=%d failed=%d\n",
		snap.Published, snap.AlreadyPublished, snap.PublishSkipped, snap.PublishFailed)

	if result.NotifyError != nil {
		fmt.Fprintf(w, "\nNotification failed: %v\n", result.NotifyError)
	}

	for _, r := range result.Failed() {
		if r == nil || r.Stderr == "" {
			continue
		}
		fmt.Fprintf(w, "\n=== %s stderr ===\n%s", r.Target.Key(), r.Stderr)
	}
}
