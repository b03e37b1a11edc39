package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/cemconv/cemrelease/cli/render"
	"github.com/cemconv/cemrelease/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	ContractVersion string `json:"contract_version"`
}

// VersionCommand returns the version command.
// It reads no config and starts no collaborator.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), types.ExitUsage)
		}

		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for version command", types.ExitUsage)
		}

		return r.Render(VersionResponse{
			Version:         types.Version,
			Commit:          commit,
			ContractVersion: types.ContractVersion,
		})
	}
}
