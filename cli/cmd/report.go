package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/cemconv/cemrelease/cli/render"
	"github.com/cemconv/cemrelease/cli/tui"
	"github.com/cemconv/cemrelease/lode"
	"github.com/cemconv/cemrelease/metrics"
	"github.com/cemconv/cemrelease/runtime"
	"github.com/cemconv/cemrelease/types"
)

// ReportCommand returns the report command.
//
// Without --file it reads the release ledger: job records by default, or
// the latest metrics snapshot with --metrics. With --file it shows a run
// report written by `run --report`. Supports --tui.
func ReportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Show release history from the ledger or a run report file",
		Flags: withFlags(ReadOnlyFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to release config file (locates the ledger)",
				Value:   "release.yaml",
				EnvVars: []string{"CEMRELEASE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "file",
				Usage: "Run report JSON written by run --report",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Only show records of this run",
			},
			&cli.StringFlag{
				Name:  "tag",
				Usage: "Only show records of this tag",
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "Show the latest run metrics instead of job records",
			},
		}),
		Action: reportAction,
	}
}

func reportAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), types.ExitUsage)
	}

	viewType, data, err := loadReport(c)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI(viewType, data)
	}
	return r.Render(data)
}

func loadReport(c *cli.Context) (string, any, error) {
	if path := c.String("file"); path != "" {
		report, err := runtime.ReadRunReport(path)
		if err != nil {
			return "", nil, cli.Exit(err.Error(), types.ExitUsage)
		}
		return tui.ViewReportRun, report, nil
	}

	filter := lode.Filter{RunID: c.String("run-id"), Tag: c.String("tag")}
	rel, err := loadConfig(c)
	if err != nil {
		return "", nil, err
	}
	factory, err := ledgerFactory(c.Context, rel)
	if err != nil {
		return "", nil, err
	}
	if factory == nil {
		return "", nil, cli.Exit("no ledger configured (set ledger.path in the config file)", types.ExitConfig)
	}
	ds, err := lode.NewDataset(rel.cfg.Ledger.Dataset, factory)
	if err != nil {
		return "", nil, cli.Exit(err.Error(), types.ExitConfig)
	}

	if c.Bool("metrics") {
		record, err := lode.QueryLatestMetrics(c.Context, ds, filter)
		if errors.Is(err, lode.ErrNoMetricsFound) {
			return "", nil, cli.Exit("no metrics recorded yet", types.ExitFailure)
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to read metrics: %w", err)
		}
		snap, err := snapshotFromRecord(record)
		if err != nil {
			return "", nil, err
		}
		return tui.ViewReportMetrics, snap, nil
	}

	jobs, err := lode.QueryJobs(c.Context, ds, filter)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read job records: %w", err)
	}
	return tui.ViewReportJobs, jobs, nil
}

// snapshotFromRecord decodes a ledger metrics record. Records carry the
// snapshot's JSON field names next to the partition fields.
func snapshotFromRecord(record map[string]any) (*metrics.Snapshot, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to decode metrics record: %w", err)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode metrics record: %w", err)
	}
	if snap.Tag == lode.UntaggedPartition {
		snap.Tag = ""
	}
	return &snap, nil
}
