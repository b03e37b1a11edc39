package toolchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cemconv/cemrelease/collab"
	"github.com/cemconv/cemrelease/types"
)

// Installer runs the install collaborator for a target.
// Retries are never attempted; a failed install is fatal for the job.
type Installer struct {
	runner   collab.Runner
	command  []string
	registry *Registry
	dir      string
	timeout  time.Duration
}

// Config configures an Installer.
type Config struct {
	// Command is the install collaborator argv.
	Command []string
	// Dir is the collaborator working directory.
	Dir string
	// Timeout bounds one install run. Zero means none.
	Timeout time.Duration
}

// NewInstaller creates an Installer recording installs in registry.
func NewInstaller(runner collab.Runner, registry *Registry, cfg Config) *Installer {
	return &Installer{
		runner:   runner,
		command:  cfg.Command,
		registry: registry,
		dir:      cfg.Dir,
		timeout:  cfg.Timeout,
	}
}

// IsInstalled reports whether the registry holds a marker for target
// written by the current install command.
func (i *Installer) IsInstalled(target types.TargetSpec) bool {
	m, err := i.registry.Lookup(target)
	return err == nil && m != nil && m.Fingerprint == Fingerprint(i.command)
}

// Ensure provisions the toolchain for target unless already installed.
// installed is false when the registry already held a matching marker.
// Failures are *types.StageError with kind ErrToolchainUnavailable and the
// collaborator's exit code.
func (i *Installer) Ensure(ctx context.Context, target types.TargetSpec, env map[string]string) (installed bool, err error) {
	if i.IsInstalled(target) {
		return false, nil
	}

	res, err := i.runner.Run(ctx, collab.Spec{
		Name:    string(types.StageInstall),
		Argv:    i.command,
		Dir:     i.dir,
		Env:     env,
		Timeout: i.timeout,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, types.NewStageError(types.ErrCanceled, types.StageInstall, target.Key(), 0, err)
		}
		return false, types.NewStageError(types.ErrToolchainUnavailable, types.StageInstall, target.Key(), 0, err)
	}
	if !res.Succeeded() {
		return false, types.NewStageError(types.ErrToolchainUnavailable, types.StageInstall, target.Key(), res.ExitCode,
			fmt.Errorf("install collaborator exited %d", res.ExitCode))
	}

	if err := i.registry.Mark(target, Fingerprint(i.command)); err != nil {
		return true, types.NewStageError(types.ErrToolchainUnavailable, types.StageInstall, target.Key(), 0, err)
	}
	return true, nil
}

// Teardown discards the job environment's registry. A later Ensure in a
// new environment runs the install collaborator again.
func (i *Installer) Teardown() error {
	return i.registry.Teardown()
}
