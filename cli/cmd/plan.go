package cmd

import (
	"errors"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/cemconv/cemrelease/cli/config"
	"github.com/cemconv/cemrelease/cli/render"
	"github.com/cemconv/cemrelease/pack"
	"github.com/cemconv/cemrelease/pipeline"
	"github.com/cemconv/cemrelease/publish"
	"github.com/cemconv/cemrelease/types"
)

// PlanEntry describes what a run would do for one matrix entry.
type PlanEntry struct {
	Target    string             `json:"target"`
	Tests     string             `json:"tests"`
	Archive   string             `json:"archive"`
	Phase     types.PublishPhase `json:"phase"`
	Publishes bool               `json:"publishes"`
	Key       string             `json:"key,omitempty"`
}

// PlanCommand returns the plan command.
// It shows, for a tag, the archive each entry produces and whether it
// would be published. At most one entry per triple publishes.
func PlanCommand() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Show which entries would build and publish, without running anything",
		Flags: withFlags(ReadOnlyFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to release config file",
				Value:   "release.yaml",
				EnvVars: []string{"CEMRELEASE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "file",
				Usage: "Matrix file to plan instead of the configured matrix",
			},
			&cli.StringFlag{
				Name:    "tag",
				Usage:   "Release tag (empty for an untagged build)",
				EnvVars: []string{"CEMRELEASE_TAG", "TAG"},
			},
			&cli.StringFlag{
				Name:  "crate",
				Usage: "Crate name (defaults to the configured crate, then CRATE_NAME)",
			},
		}),
		Action: planAction,
	}
}

func planAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), types.ExitUsage)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for plan command", types.ExitUsage)
	}

	m, err := readMatrix(c)
	if err != nil {
		return cli.Exit(err.Error(), types.ExitConfig)
	}

	crate, tag, snapshot := c.String("crate"), c.String("tag"), config.DefaultSnapshotTag
	path := c.String("config")
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) || c.IsSet("config") {
		cfg, err := config.Load(path)
		if err != nil {
			return cli.Exit(err.Error(), types.ExitConfig)
		}
		cfg.ApplyDefaults()
		if crate == "" {
			crate = cfg.Crate
		}
		if !c.IsSet("tag") {
			tag = cfg.Tag
		}
		snapshot = cfg.Package.SnapshotTag
	}
	if crate == "" {
		crate = os.Getenv(pipeline.EnvCrateName)
	}
	if crate == "" {
		return cli.Exit("crate is required (set --crate or crate in the config file)", types.ExitUsage)
	}

	meta := &types.RunMeta{RunID: "plan", Crate: crate, Tag: tag}
	if err := meta.Validate(); err != nil {
		return cli.Exit(err.Error(), types.ExitUsage)
	}

	artifactTag := tag
	if artifactTag == "" {
		artifactTag = snapshot
	}

	plan := make([]PlanEntry, 0, m.Len())
	for _, t := range m.Entries() {
		entry := PlanEntry{
			Target:  t.Key(),
			Tests:   "run",
			Archive: pack.ArtifactName(crate, artifactTag, t),
			Phase:   publish.Decide(tag, t),
		}
		if !t.TestsEnabled {
			entry.Tests = string(types.TestSkipped)
		}
		if entry.Phase == types.PhasePrimaryChannel {
			entry.Publishes = true
			entry.Key = publish.Key(tag, entry.Archive)
		}
		plan = append(plan, entry)
	}
	return r.Render(plan)
}
