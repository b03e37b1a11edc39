package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cemconv/cemrelease/matrix"
)

// Config represents a release.yaml configuration file.
// All values are optional and act as defaults for cemrelease flags.
// CLI flags always override config values.
type Config struct {
	Crate         string              `yaml:"crate"`
	Tag           string              `yaml:"tag"`
	Workdir       string              `yaml:"workdir"`
	OutDir        string              `yaml:"out_dir"`
	Parallel      int                 `yaml:"parallel"`
	Isolation     string              `yaml:"isolation"`
	LogLevel      string              `yaml:"log_level"`
	Matrix        MatrixConfig        `yaml:"matrix"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
	Package       PackageConfig       `yaml:"package"`
	Release       ReleaseConfig       `yaml:"release"`
	Adapter       AdapterConfig       `yaml:"adapter"`
	Ledger        LedgerConfig        `yaml:"ledger"`
}

// MatrixConfig selects the target matrix. File and Targets are exclusive;
// with neither set the built-in matrix is used.
type MatrixConfig struct {
	File    string         `yaml:"file"`
	Targets []matrix.Entry `yaml:"targets"`
}

// CollaboratorsConfig holds the external commands a job runs.
type CollaboratorsConfig struct {
	Install Command  `yaml:"install"`
	Build   Command  `yaml:"build"`
	Test    Command  `yaml:"test"`
	Package Command  `yaml:"package"`
	Timeout Duration `yaml:"timeout"`
}

// PackageConfig holds archive layout settings.
type PackageConfig struct {
	// Binary is the path template of the compiled binary, relative to workdir.
	// Placeholders: {crate}, {triple}, {channel}, {exe}.
	Binary      string   `yaml:"binary"`
	Include     []string `yaml:"include"`
	SnapshotTag string   `yaml:"snapshot_tag"`
	NoChecksum  bool     `yaml:"no_checksum"`
}

// ReleaseConfig holds release host settings.
type ReleaseConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	// BaseURL is prepended to object keys when reporting published URLs.
	BaseURL string `yaml:"base_url"`
	// Credential names the environment variables holding the credential.
	Credential CredentialConfig `yaml:"credential"`
	Progress   bool             `yaml:"progress"`
}

// CredentialConfig names environment variables, never secret values.
type CredentialConfig struct {
	AccessKeyEnv    string `yaml:"access_key_env"`
	SecretKeyEnv    string `yaml:"secret_key_env"`
	SessionTokenEnv string `yaml:"session_token_env"`
}

// AdapterConfig holds release notification settings.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// LedgerConfig holds the release ledger dataset location.
type LedgerConfig struct {
	Dataset string `yaml:"dataset"`
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Command is a collaborator invocation. A YAML scalar runs through the
// shell; a sequence is executed directly as argv.
type Command struct {
	Argv []string
}

// UnmarshalYAML accepts either a string or a list of strings.
func (c *Command) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		c.Argv = ShellCommand(s).Argv
		return nil
	case yaml.SequenceNode:
		var argv []string
		if err := value.Decode(&argv); err != nil {
			return err
		}
		c.Argv = argv
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list of strings", value.Line)
	}
}

// ShellCommand returns a Command running s through /bin/sh.
// An empty string yields the zero Command.
func ShellCommand(s string) Command {
	s = strings.TrimSpace(s)
	if s == "" {
		return Command{}
	}
	return Command{Argv: []string{"/bin/sh", "-c", s}}
}

// IsZero reports whether no command is configured.
func (c Command) IsZero() bool {
	return len(c.Argv) == 0
}

// String renders the command for logs.
func (c Command) String() string {
	return strings.Join(c.Argv, " ")
}

// Release host backends.
const (
	BackendFS     = "fs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Job isolation modes.
const (
	IsolationSubprocess = "subprocess"
	IsolationInProcess  = "inprocess"
)

// Defaults applied when a value is unset.
const (
	DefaultWorkdir     = "."
	DefaultOutDir      = "dist"
	DefaultSnapshotTag = "snapshot"
	DefaultBinary      = "target/{triple}/release/{crate}{exe}"
	DefaultBackend     = BackendFS
	DefaultReleasePath = "dist/releases"
)

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Workdir == "" {
		c.Workdir = DefaultWorkdir
	}
	if c.OutDir == "" {
		c.OutDir = DefaultOutDir
	}
	if c.Isolation == "" {
		c.Isolation = IsolationSubprocess
	}
	if c.Package.SnapshotTag == "" {
		c.Package.SnapshotTag = DefaultSnapshotTag
	}
	if c.Package.Binary == "" {
		c.Package.Binary = DefaultBinary
	}
	if c.Release.Backend == "" {
		c.Release.Backend = DefaultBackend
	}
	if c.Release.Path == "" && c.Release.Backend == BackendFS {
		c.Release.Path = DefaultReleasePath
	}
}

// LoadMatrix resolves the configured target matrix.
func (c *Config) LoadMatrix() (*matrix.Matrix, error) {
	switch {
	case c.Matrix.File != "" && len(c.Matrix.Targets) > 0:
		return nil, errors.New("matrix.file and matrix.targets are mutually exclusive")
	case c.Matrix.File != "":
		return matrix.Load(c.Matrix.File)
	case len(c.Matrix.Targets) > 0:
		return matrix.New(c.Matrix.Targets)
	default:
		return matrix.Default(), nil
	}
}

// Validate checks the configuration against the resolved matrix.
// Every problem is reported; any one of them aborts the run before a job starts.
func (c *Config) Validate(m *matrix.Matrix) error {
	var errs []error

	if c.Crate == "" {
		errs = append(errs, errors.New("crate is required"))
	}
	if c.Parallel < 0 {
		errs = append(errs, fmt.Errorf("parallel must be >= 0, got %d", c.Parallel))
	}
	switch c.Isolation {
	case IsolationSubprocess, IsolationInProcess:
	default:
		errs = append(errs, fmt.Errorf("unknown isolation %q (must be %s or %s)", c.Isolation, IsolationSubprocess, IsolationInProcess))
	}
	if c.Collaborators.Install.IsZero() {
		errs = append(errs, errors.New("collaborators.install is required"))
	}
	if c.Collaborators.Build.IsZero() {
		errs = append(errs, errors.New("collaborators.build is required"))
	}
	if c.Collaborators.Test.IsZero() && m != nil {
		for _, t := range m.Entries() {
			if t.TestsEnabled {
				errs = append(errs, fmt.Errorf("collaborators.test is required: target %s has tests enabled (set disable_tests to opt out)", t.Key()))
				break
			}
		}
	}
	switch c.Release.Backend {
	case BackendFS:
	case BackendMemory:
		// Each job process would get its own store, gone when it exits.
		if c.Isolation == IsolationSubprocess {
			errs = append(errs, fmt.Errorf("release backend %q requires isolation %q", BackendMemory, IsolationInProcess))
		}
	case BackendS3:
		if c.Release.Path == "" {
			errs = append(errs, errors.New("release.path (bucket[/prefix]) is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown release backend %q (must be fs, s3, or memory)", c.Release.Backend))
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown adapter type %q (must be webhook or redis)", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, fmt.Errorf("adapter.url is required for adapter type %q", c.Adapter.Type))
	}
	if strings.ContainsAny(c.Tag, `/\`) {
		errs = append(errs, fmt.Errorf("tag %q must not contain path separators", c.Tag))
	}

	return errors.Join(errs...)
}
