package cmd

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/cemconv/cemrelease/cli/config"
	"github.com/cemconv/cemrelease/cli/render"
	"github.com/cemconv/cemrelease/matrix"
	"github.com/cemconv/cemrelease/types"
)

// MatrixEntry is one row of the matrix command.
type MatrixEntry struct {
	Target       string `json:"target"`
	Triple       string `json:"triple"`
	Channel      string `json:"channel"`
	OS           string `json:"os"`
	TestsEnabled bool   `json:"tests_enabled"`
	Archive      string `json:"archive"`
}

// MatrixCommand returns the matrix command.
// It validates and lists the build matrix without running anything.
func MatrixCommand() *cli.Command {
	return &cli.Command{
		Name:  "matrix",
		Usage: "Validate and list the build matrix",
		Flags: withFlags(ReadOnlyFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to release config file (the built-in matrix is used when absent)",
				Value:   "release.yaml",
				EnvVars: []string{"CEMRELEASE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "file",
				Usage: "Matrix file to validate instead of the configured matrix",
			},
		}),
		Action: matrixAction,
	}
}

func matrixAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), types.ExitUsage)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for matrix command", types.ExitUsage)
	}

	m, err := readMatrix(c)
	if err != nil {
		return cli.Exit(err.Error(), types.ExitConfig)
	}

	rows := make([]MatrixEntry, 0, m.Len())
	for _, t := range m.Entries() {
		rows = append(rows, MatrixEntry{
			Target:       t.Key(),
			Triple:       t.Triple,
			Channel:      string(t.Channel),
			OS:           string(t.OS),
			TestsEnabled: t.TestsEnabled,
			Archive:      types.ArchiveExt(t.OS),
		})
	}
	return r.Render(rows)
}

// readMatrix loads the matrix from --file, the config file, or the
// built-in default when no config file exists.
func readMatrix(c *cli.Context) (*matrix.Matrix, error) {
	if file := c.String("file"); file != "" {
		return matrix.Load(file)
	}

	path := c.String("config")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !c.IsSet("config") {
		return matrix.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Matrix.File = resolvePath(filepath.Dir(path), cfg.Matrix.File)
	return cfg.LoadMatrix()
}
