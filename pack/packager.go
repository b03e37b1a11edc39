package pack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/cemconv/cemrelease/collab"
	"github.com/cemconv/cemrelease/types"
)

// ErrBuildNotSucceeded is returned when Package is handed a failed build.
// The pipeline never does this; packaging after a failure is a bug.
var ErrBuildNotSucceeded = errors.New("packaging requires a successful build")

// Config configures a Packager.
type Config struct {
	// Crate is the project name used in archive and binary names.
	Crate string
	// OutDir is where archives are written.
	OutDir string
	// SourceDir resolves relative Include paths.
	SourceDir string
	// Include lists auxiliary files placed next to the binary.
	Include []string
	// Checksum writes a .sha256 sidecar for each archive.
	Checksum bool
	// Epoch is the timestamp stamped on every archive entry.
	// Defaults to the Unix epoch.
	Epoch time.Time
	// Collaborator, when set, replaces the built-in archiver.
	Collaborator []string
	// Timeout bounds the packaging collaborator.
	Timeout time.Duration
}

// Packager builds release archives.
type Packager struct {
	cfg    Config
	runner collab.Runner
}

// NewPackager creates a Packager. runner is only used when a packaging
// collaborator is configured and may be nil otherwise.
func NewPackager(runner collab.Runner, cfg Config) *Packager {
	if cfg.Epoch.IsZero() {
		cfg.Epoch = time.Unix(0, 0).UTC()
	}
	return &Packager{cfg: cfg, runner: runner}
}

// Package turns a successful build into a named archive in OutDir.
//
// Missing inputs are reported as types.ErrPackagingMissingArtifact: the
// binary or a declared include file not being there is an upstream bug.
func (p *Packager) Package(ctx context.Context, build *types.BuildResult, tag string, env map[string]string) (*types.Artifact, error) {
	if !build.Succeeded() {
		return nil, ErrBuildNotSucceeded
	}
	target := build.Target

	if err := os.MkdirAll(p.cfg.OutDir, 0o755); err != nil {
		return nil, p.fail(target, 0, fmt.Errorf("create output dir: %w", err))
	}

	var artifact *types.Artifact
	var err error
	if len(p.cfg.Collaborator) > 0 {
		artifact, err = p.runCollaborator(ctx, build, tag, env)
	} else {
		artifact, err = p.archive(build, tag)
	}
	if err != nil {
		return nil, err
	}

	if p.cfg.Checksum {
		if err := WriteChecksum(artifact); err != nil {
			return nil, p.fail(target, 0, err)
		}
	}
	return artifact, nil
}

// Entries resolves the archive contents for a build, checking that every
// input exists.
func (p *Packager) Entries(build *types.BuildResult) ([]Entry, error) {
	target := build.Target
	if err := requireFile(build.BinaryPath); err != nil {
		return nil, p.missing(target, fmt.Errorf("binary: %w", err))
	}

	entries := []Entry{{
		Name:   BinaryName(p.cfg.Crate, target.OS),
		Source: build.BinaryPath,
		Mode:   0o755,
	}}
	seen := map[string]string{entries[0].Name: build.BinaryPath}

	for _, inc := range p.cfg.Include {
		src := inc
		if !filepath.IsAbs(src) {
			src = filepath.Join(p.cfg.SourceDir, inc)
		}
		if err := requireFile(src); err != nil {
			return nil, p.missing(target, fmt.Errorf("include %s: %w", inc, err))
		}
		name := filepath.Base(src)
		if prev, dup := seen[name]; dup {
			return nil, p.fail(target, types.ExitConfig, fmt.Errorf("include %s collides with %s in archive", src, prev))
		}
		seen[name] = src
		entries = append(entries, Entry{Name: name, Source: src, Mode: 0o644})
	}
	return entries, nil
}

func (p *Packager) archive(build *types.BuildResult, tag string) (*types.Artifact, error) {
	target := build.Target
	entries, err := p.Entries(build)
	if err != nil {
		return nil, err
	}

	name := ArtifactName(p.cfg.Crate, tag, target)
	path := filepath.Join(p.cfg.OutDir, name)

	pf, err := renameio.TempFile("", path)
	if err != nil {
		return nil, p.fail(target, 0, fmt.Errorf("create %s: %w", name, err))
	}
	defer func() { _ = pf.Cleanup() }()

	digest := newDigestWriter(pf)
	if target.OS == types.OSWindows {
		err = WriteZip(digest, entries, p.cfg.Epoch)
	} else {
		err = WriteTarGz(digest, entries, p.cfg.Epoch)
	}
	if err != nil {
		return nil, p.fail(target, 0, fmt.Errorf("write %s: %w", name, err))
	}
	if err := pf.Chmod(0o644); err != nil {
		return nil, p.fail(target, 0, err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return nil, p.fail(target, 0, fmt.Errorf("commit %s: %w", name, err))
	}

	return &types.Artifact{
		Name:   name,
		Path:   path,
		Target: target,
		SHA256: digest.Sum(),
		Size:   digest.n,
	}, nil
}

// runCollaborator delegates archiving and locates the produced file by glob.
func (p *Packager) runCollaborator(ctx context.Context, build *types.BuildResult, tag string, env map[string]string) (*types.Artifact, error) {
	target := build.Target
	if err := requireFile(build.BinaryPath); err != nil {
		return nil, p.missing(target, fmt.Errorf("binary: %w", err))
	}
	if p.runner == nil {
		return nil, p.fail(target, 0, errors.New("packaging collaborator configured without a runner"))
	}

	res, err := p.runner.Run(ctx, collab.Spec{
		Name:    string(types.StagePackage),
		Argv:    p.cfg.Collaborator,
		Dir:     p.cfg.SourceDir,
		Env:     env,
		Timeout: p.cfg.Timeout,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, types.NewStageError(types.ErrCanceled, types.StagePackage, target.Key(), 0, err)
		}
		return nil, p.fail(target, 0, err)
	}
	if !res.Succeeded() {
		return nil, p.fail(target, res.ExitCode, fmt.Errorf("package collaborator exited %d", res.ExitCode))
	}

	path, err := p.findProduced(tag, target)
	if err != nil {
		return nil, err
	}
	digest, size, err := FileDigest(path)
	if err != nil {
		return nil, p.fail(target, 0, err)
	}
	return &types.Artifact{
		Name:   filepath.Base(path),
		Path:   path,
		Target: target,
		SHA256: digest,
		Size:   size,
	}, nil
}

// findProduced returns the archive matching "<crate>-<tag>-<triple>.*".
// The conventional extension wins when several files match.
func (p *Packager) findProduced(tag string, target types.TargetSpec) (string, error) {
	matches, err := filepath.Glob(filepath.Join(p.cfg.OutDir, ArtifactGlob(p.cfg.Crate, tag, target.Triple)))
	if err != nil {
		return "", p.fail(target, 0, err)
	}

	var candidates []string
	for _, m := range matches {
		if strings.HasSuffix(m, ChecksumExt) {
			continue
		}
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			candidates = append(candidates, m)
		}
	}
	switch len(candidates) {
	case 0:
		return "", p.missing(target, fmt.Errorf("no file matching %s in %s", ArtifactGlob(p.cfg.Crate, tag, target.Triple), p.cfg.OutDir))
	case 1:
		return candidates[0], nil
	}

	want := ArtifactName(p.cfg.Crate, tag, target)
	for _, c := range candidates {
		if filepath.Base(c) == want {
			return c, nil
		}
	}
	sort.Strings(candidates)
	return "", p.fail(target, 0, fmt.Errorf("ambiguous package output: %s", strings.Join(candidates, ", ")))
}

func (p *Packager) missing(target types.TargetSpec, err error) error {
	return types.NewStageError(types.ErrPackagingMissingArtifact, types.StagePackage, target.Key(), 0, err)
}

// fail reports a packaging error that is not a missing input.
func (p *Packager) fail(target types.TargetSpec, exitCode int, err error) error {
	return types.NewStageError(types.ErrPackagingFailed, types.StagePackage, target.Key(), exitCode, err)
}

func requireFile(path string) error {
	if path == "" {
		return errors.New("path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s does not exist", path)
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return nil
}

// digestWriter hashes and counts bytes on their way to w.
type digestWriter struct {
	w    io.Writer
	hash hash.Hash
	n    int64
}

func newDigestWriter(w io.Writer) *digestWriter {
	return &digestWriter{w: w, hash: sha256.New()}
}

func (d *digestWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	d.hash.Write(p[:n])
	d.n += int64(n)
	return n, err
}

// Sum returns the hex digest of everything written.
func (d *digestWriter) Sum() string {
	return hex.EncodeToString(d.hash.Sum(nil))
}
