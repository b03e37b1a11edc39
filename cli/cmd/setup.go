package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	lodelib "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/cemconv/cemrelease/adapter"
	"github.com/cemconv/cemrelease/adapter/redis"
	"github.com/cemconv/cemrelease/adapter/webhook"
	"github.com/cemconv/cemrelease/build"
	"github.com/cemconv/cemrelease/cli/config"
	"github.com/cemconv/cemrelease/collab"
	"github.com/cemconv/cemrelease/lode"
	"github.com/cemconv/cemrelease/log"
	"github.com/cemconv/cemrelease/matrix"
	"github.com/cemconv/cemrelease/metrics"
	"github.com/cemconv/cemrelease/pack"
	"github.com/cemconv/cemrelease/pipeline"
	"github.com/cemconv/cemrelease/publish"
	"github.com/cemconv/cemrelease/toolchain"
	"github.com/cemconv/cemrelease/types"
)

// toolchainDir is the job's toolchain registry under its output directory.
// The job removes it when it finishes.
const toolchainDir = ".toolchain"

// release is a loaded, validated release configuration with resolved paths.
type release struct {
	cfg     *config.Config
	matrix  *matrix.Matrix
	path    string
	workdir string
	outDir  string
}

// loadRelease reads --config, applies flag overrides and validates the result.
// Config errors exit with the config exit code.
func loadRelease(c *cli.Context) (*release, error) {
	rel, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	m, err := rel.cfg.LoadMatrix()
	if err != nil {
		return nil, configError(err)
	}
	if err := rel.cfg.Validate(m); err != nil {
		return nil, configError(err)
	}
	rel.matrix = m
	return rel, nil
}

// loadConfig reads --config and resolves its paths without validating
// collaborators or the matrix. Read-only commands use it directly.
func loadConfig(c *cli.Context) (*release, error) {
	path, err := filepath.Abs(c.String("config"))
	if err != nil {
		return nil, configError(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, configError(err)
	}
	applyOverrides(c, cfg)
	if cfg.Crate == "" {
		cfg.Crate = os.Getenv(pipeline.EnvCrateName)
	}
	cfg.ApplyDefaults()

	// Relative paths in the file are relative to the file, not the caller.
	base := filepath.Dir(path)
	cfg.Matrix.File = resolvePath(base, cfg.Matrix.File)
	workdir := resolvePath(base, cfg.Workdir)
	if c.IsSet("workdir") {
		if workdir, err = filepath.Abs(cfg.Workdir); err != nil {
			return nil, configError(err)
		}
	}
	outDir := resolvePath(workdir, cfg.OutDir)
	if c.IsSet("out-dir") {
		if outDir, err = filepath.Abs(cfg.OutDir); err != nil {
			return nil, configError(err)
		}
	}
	if cfg.Release.Backend == config.BackendFS {
		cfg.Release.Path = resolvePath(workdir, cfg.Release.Path)
	}
	if cfg.Ledger.Path != "" && ledgerBackend(cfg) == config.BackendFS {
		cfg.Ledger.Path = resolvePath(workdir, cfg.Ledger.Path)
	}

	return &release{cfg: cfg, path: path, workdir: workdir, outDir: outDir}, nil
}

func applyOverrides(c *cli.Context, cfg *config.Config) {
	if c.IsSet("tag") {
		cfg.Tag = c.String("tag")
	}
	if c.IsSet("workdir") {
		cfg.Workdir = c.String("workdir")
	}
	if c.IsSet("out-dir") {
		cfg.OutDir = c.String("out-dir")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("parallel") {
		cfg.Parallel = c.Int("parallel")
	}
	if c.IsSet("isolation") {
		cfg.Isolation = c.String("isolation")
	}
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func configError(err error) error {
	return cli.Exit(fmt.Sprintf("config: %v", err), types.ExitConfig)
}

func ledgerBackend(cfg *config.Config) string {
	if cfg.Ledger.Backend == "" {
		return config.BackendFS
	}
	return cfg.Ledger.Backend
}

// targetDir is the output directory of one matrix entry. Entries sharing a
// triple produce identically named archives, so each gets its own directory.
func (r *release) targetDir(target types.TargetSpec) string {
	return filepath.Join(r.outDir, target.Key())
}

func (r *release) dirs(target types.TargetSpec) pipeline.Dirs {
	return pipeline.Dirs{
		Source:    r.workdir,
		Out:       r.targetDir(target),
		Toolchain: filepath.Join(r.targetDir(target), toolchainDir),
	}
}

func (r *release) storeConfig() lode.StoreConfig {
	rc := r.cfg.Release
	return lode.StoreConfig{
		Backend:      rc.Backend,
		Path:         rc.Path,
		Region:       rc.Region,
		Endpoint:     rc.Endpoint,
		UsePathStyle: rc.S3PathStyle,
	}
}

func newLogger(meta *types.RunMeta, level string) *log.Logger {
	logger := log.NewLogger(meta)
	if level == "" {
		level = "info"
	}
	logger.SetLevel(level)
	return logger
}

// newPublisher builds the release host publisher. The credential is read
// from the environment variables named in release.credential.
func newPublisher(ctx context.Context, r *release, logger *log.Logger, progress io.Writer) (*publish.Publisher, error) {
	cc := r.cfg.Release.Credential
	cred := publish.CredentialFromEnv(cc.AccessKeyEnv, cc.SecretKeyEnv, cc.SessionTokenEnv)

	if !r.cfg.Release.Progress {
		progress = nil
	}
	p, err := publish.NewPublisher(ctx, publish.Config{
		Store:    r.storeConfig(),
		BaseURL:  r.cfg.Release.BaseURL,
		Retries:  publish.DefaultRetries,
		Progress: progress,
		Logger:   logger,
	}, cred)
	if err != nil {
		return nil, configError(err)
	}
	return p, nil
}

// newLedger opens the release ledger, or returns nil when none is configured.
func newLedger(ctx context.Context, r *release, collector *metrics.Collector) (lode.Ledger, error) {
	factory, err := ledgerFactory(ctx, r)
	if err != nil || factory == nil {
		return nil, err
	}
	ledger, err := lode.NewLedger(r.cfg.Ledger.Dataset, factory)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return lode.NewInstrumentedLedger(ledger, collector), nil
}

func ledgerFactory(ctx context.Context, r *release) (lodelib.StoreFactory, error) {
	backend := ledgerBackend(r.cfg)
	if r.cfg.Ledger.Path == "" && backend != config.BackendMemory {
		return nil, nil
	}
	factory, err := lode.NewStoreFactory(ctx, lode.StoreConfig{
		Backend: backend,
		Path:    r.cfg.Ledger.Path,
		Region:  r.cfg.Release.Region,
	})
	if err != nil {
		return nil, configError(fmt.Errorf("ledger: %w", err))
	}
	return factory, nil
}

// newAdapter builds the release notification adapter, or nil when none is configured.
func newAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		a, err := webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, configError(err)
		}
		return a, nil
	case "redis":
		retries := redis.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		a, err := redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, configError(err)
		}
		return a, nil
	default:
		return nil, configError(fmt.Errorf("unknown adapter type %q", cfg.Type))
	}
}

// stageFactory builds pipeline jobs from a release configuration.
// One factory serves every job of a process; it holds no per-job state.
type stageFactory struct {
	release   *release
	runner    collab.Runner
	publisher pipeline.Publisher
	epoch     time.Time
	logger    *log.Logger
}

func newStageFactory(r *release, runner collab.Runner, publisher pipeline.Publisher, logger *log.Logger) (*stageFactory, error) {
	epoch, err := pack.SourceDateEpoch()
	if err != nil {
		return nil, configError(err)
	}
	return &stageFactory{
		release:   r,
		runner:    runner,
		publisher: publisher,
		epoch:     epoch,
		logger:    logger,
	}, nil
}

// job builds the pipeline of one target.
func (f *stageFactory) job(meta *types.RunMeta, target types.TargetSpec, sink pipeline.EventSink) (*pipeline.Job, error) {
	cfg := f.release.cfg
	collabs := cfg.Collaborators
	dirs := f.release.dirs(target)

	stages := pipeline.Stages{
		Installer: toolchain.NewInstaller(f.runner, toolchain.NewRegistry(dirs.Toolchain), toolchain.Config{
			Command: collabs.Install.Argv,
			Dir:     dirs.Source,
			Timeout: collabs.Timeout.Duration,
		}),
		Builder: build.NewRunner(f.runner, build.Config{
			Build:   collabs.Build.Argv,
			Test:    collabs.Test.Argv,
			Dir:     dirs.Source,
			Timeout: collabs.Timeout.Duration,
		}),
		Packager: pack.NewPackager(f.runner, pack.Config{
			Crate:        meta.Crate,
			OutDir:       dirs.Out,
			SourceDir:    dirs.Source,
			Include:      cfg.Package.Include,
			Checksum:     !cfg.Package.NoChecksum,
			Epoch:        f.epoch,
			Collaborator: collabs.Package.Argv,
			Timeout:      collabs.Timeout.Duration,
		}),
		Publisher: f.publisher,
	}

	return pipeline.NewJob(pipeline.Config{
		Meta:        meta,
		Target:      target,
		Dirs:        dirs,
		BinaryPath:  pack.ExpandBinaryPath(cfg.Package.Binary, dirs.Source, meta.Crate, target),
		SnapshotTag: cfg.Package.SnapshotTag,
		Sink:        sink,
		Logger:      f.logger,
	}, stages)
}
