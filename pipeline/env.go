package pipeline

import (
	"github.com/cemconv/cemrelease/types"
)

// Job environment variables exported to every collaborator.
const (
	EnvCrateName        = "CRATE_NAME"
	EnvTarget           = "TARGET"
	EnvDisableTests     = "DISABLE_TESTS"
	EnvToolchainChannel = "TOOLCHAIN_CHANNEL"
	EnvTag              = "TAG"
	EnvTargetOS         = "TARGET_OS"
	EnvToolchainHome    = "TOOLCHAIN_HOME"
	EnvOutDir           = "OUT_DIR"
	EnvBinaryPath       = "BINARY_PATH"
)

// Dirs are the filesystem locations of one job.
type Dirs struct {
	// Source is the project checkout collaborators run in.
	Source string
	// Out receives archives and checksum sidecars.
	Out string
	// Toolchain is the job-scoped toolchain registry.
	Toolchain string
}

// Env builds the job environment for target.
//
// DISABLE_TESTS is "1" for opted-out targets. For every other target the
// key maps to "", which removes any inherited value (see collab.MergeEnv),
// so a stray DISABLE_TESTS in the parent environment can never skip tests.
// TAG is only present for tagged runs.
func Env(meta *types.RunMeta, target types.TargetSpec, dirs Dirs, binaryPath string) map[string]string {
	env := map[string]string{
		EnvCrateName:        meta.Crate,
		EnvTarget:           target.Triple,
		EnvToolchainChannel: string(target.Channel),
		EnvTargetOS:         string(target.OS),
		EnvDisableTests:     "",
		EnvTag:              "",
	}
	if !target.TestsEnabled {
		env[EnvDisableTests] = "1"
	}
	if meta.IsTagged() {
		env[EnvTag] = meta.Tag
	}
	if dirs.Toolchain != "" {
		env[EnvToolchainHome] = dirs.Toolchain
	}
	if dirs.Out != "" {
		env[EnvOutDir] = dirs.Out
	}
	if binaryPath != "" {
		env[EnvBinaryPath] = binaryPath
	}
	return env
}
