package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/cemconv/cemrelease/cli/render"
	"github.com/cemconv/cemrelease/pack"
	"github.com/cemconv/cemrelease/types"
)

// PublishEntry is the outcome of re-publishing one archive.
type PublishEntry struct {
	Target   string             `json:"target"`
	Artifact string             `json:"artifact"`
	Phase    types.PublishPhase `json:"phase"`
	Conflict bool               `json:"conflict,omitempty"`
	Key      string             `json:"key,omitempty"`
	URL      string             `json:"url,omitempty"`
	Error    string             `json:"error,omitempty"`
	ExitCode int                `json:"exit_code"`
}

// PublishCommand returns the publish command.
//
// It runs only the publish stage for archives a previous run already
// packaged into the output directory. Archives already on the host are
// left alone, so the command is safe to repeat.
func PublishCommand() *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Upload already packaged archives of a tagged release",
		Flags: withFlags(ConfigFlags(), []cli.Flag{
			FormatFlag,
			&cli.StringSliceFlag{
				Name:  "target",
				Usage: "Only publish these entries (triple or triple@channel, repeatable)",
			},
		}),
		Action: publishAction,
	}
}

func publishAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), types.ExitUsage)
	}

	rel, err := loadRelease(c)
	if err != nil {
		return err
	}
	tag := rel.cfg.Tag
	if tag == "" {
		return cli.Exit("publish requires a tag (set --tag or tag in the config file)", types.ExitUsage)
	}
	m, err := rel.matrix.Select(c.StringSlice("target")...)
	if err != nil {
		return cli.Exit(err.Error(), types.ExitUsage)
	}

	meta := &types.RunMeta{RunID: "publish", Crate: rel.cfg.Crate, Tag: tag}
	logger := newLogger(meta, rel.cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher, err := newPublisher(ctx, rel, logger, os.Stderr)
	if err != nil {
		return err
	}

	publishers := m.Publishers(tag)
	entries := make([]PublishEntry, 0, len(publishers))
	exitCode := types.ExitSuccess
	for _, target := range m.Entries() {
		if publishers[target.Triple] != target {
			continue
		}
		entry := publishOne(ctx, publisher, rel, target, tag)
		if exitCode == types.ExitSuccess {
			exitCode = entry.ExitCode
		}
		entries = append(entries, entry)
	}

	if err := r.Render(entries); err != nil {
		return err
	}
	return cli.Exit("", exitCode)
}

type artifactPublisher interface {
	Publish(ctx context.Context, artifact *types.Artifact, tag string) (*types.PublishState, error)
}

func publishOne(ctx context.Context, p artifactPublisher, rel *release, target types.TargetSpec, tag string) PublishEntry {
	name := pack.ArtifactName(rel.cfg.Crate, tag, target)
	entry := PublishEntry{Target: target.Key(), Artifact: name}

	path := filepath.Join(rel.targetDir(target), name)
	digest, size, err := pack.FileDigest(path)
	if err != nil {
		entry.Phase = types.PhaseUploadFailed
		entry.ExitCode = types.ExitMissingArtifact
		if errors.Is(err, os.ErrNotExist) {
			entry.Error = fmt.Sprintf("archive not found: %s (run `cemrelease run --tag %s` first)", path, tag)
		} else {
			entry.Error = err.Error()
		}
		return entry
	}

	artifact := &types.Artifact{Name: name, Path: path, Target: target, SHA256: digest, Size: size}
	if sidecar := path + pack.ChecksumExt; fileExists(sidecar) {
		artifact.ChecksumPath = sidecar
	}

	state, err := p.Publish(ctx, artifact, tag)
	if state != nil {
		entry.Phase = state.Phase
		entry.Conflict = state.Conflict
		entry.Key = state.Key
		entry.URL = state.URL
	}
	if err != nil {
		entry.Error = err.Error()
		entry.ExitCode = types.ExitCodeOf(err)
	}
	return entry
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
