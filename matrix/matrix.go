// Package matrix declares the set of targets a release is built for.
//
// A Matrix is an ordered, immutable list of TargetSpecs loaded once at
// process start. Validation fails the whole run before any job starts.
package matrix

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cemconv/cemrelease/types"
)

//go:embed default.yaml
var defaultMatrix []byte

// Validation errors. A matrix that fails validation is never partially used.
var (
	// ErrUnknownTriple: no toolchain is known for the triple.
	ErrUnknownTriple = errors.New("unknown target triple")
	// ErrInvalidChannel: the channel is not stable, nightly, or beta.
	ErrInvalidChannel = errors.New("invalid toolchain channel")
	// ErrInvalidOS: the os override is not a known OS family.
	ErrInvalidOS = errors.New("invalid os family")
	// ErrDuplicateEntry: two entries agree on triple and channel.
	ErrDuplicateEntry = errors.New("duplicate matrix entry")
	// ErrDuplicatePrimary: two primary-channel entries share a triple,
	// so both would publish the same artifact.
	ErrDuplicatePrimary = errors.New("duplicate primary-channel entry")
	// ErrEmpty: the matrix declares no targets.
	ErrEmpty = errors.New("matrix has no targets")
)

// Entry is one declared row of the matrix document.
type Entry struct {
	// Triple is the target triple (required).
	Triple string `yaml:"triple" json:"triple"`
	// Channel is the toolchain channel. Defaults to stable.
	Channel string `yaml:"channel,omitempty" json:"channel,omitempty"`
	// OS overrides the OS family inferred from the triple.
	OS string `yaml:"os,omitempty" json:"os,omitempty"`
	// DisableTests skips the test stage for this entry.
	DisableTests bool `yaml:"disable_tests,omitempty" json:"disable_tests,omitempty"`
}

// Document is the on-disk matrix format.
type Document struct {
	Targets []Entry `yaml:"targets" json:"targets"`
}

// Matrix is a validated, ordered list of targets.
type Matrix struct {
	specs []types.TargetSpec
	index map[string]int
}

// Default returns the built-in release matrix.
func Default() *Matrix {
	m, err := Parse(defaultMatrix)
	if err != nil {
		panic(fmt.Sprintf("matrix: built-in matrix is invalid: %v", err))
	}
	return m
}

// Load reads and validates a matrix document from path.
func Load(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("matrix %s: %w", path, err)
	}
	return m, nil
}

// Parse validates a YAML matrix document against the schema, then semantically.
func Parse(data []byte) (*Matrix, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse matrix: %w", err)
	}
	return New(doc.Targets)
}

// New validates entries and builds a Matrix preserving declaration order.
func New(entries []Entry) (*Matrix, error) {
	specs, err := Validate(entries)
	if err != nil {
		return nil, err
	}
	m := &Matrix{specs: specs, index: make(map[string]int, len(specs))}
	for i, s := range specs {
		m.index[s.Key()] = i
	}
	return m, nil
}

// Validate resolves entries to TargetSpecs. All problems are reported together.
func Validate(entries []Entry) ([]types.TargetSpec, error) {
	if len(entries) == 0 {
		return nil, ErrEmpty
	}

	var errs []error
	specs := make([]types.TargetSpec, 0, len(entries))
	seen := make(map[string]int)    // triple@channel -> entry index
	primary := make(map[string]int) // triple -> entry index

	for i, e := range entries {
		spec, err := e.resolve()
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}

		if spec.Channel.IsPrimary() {
			if j, ok := primary[spec.Triple]; ok {
				errs = append(errs, fmt.Errorf("entry %d: %w: %s already declared by entry %d", i, ErrDuplicatePrimary, spec.Triple, j))
				continue
			}
			primary[spec.Triple] = i
		}

		// The OS override does not take part in the key: jobs sharing a key
		// would share an output directory and toolchain registry.
		if j, ok := seen[spec.Key()]; ok {
			errs = append(errs, fmt.Errorf("entry %d: %w: %s already declared by entry %d", i, ErrDuplicateEntry, spec.Key(), j))
			continue
		}
		seen[spec.Key()] = i

		specs = append(specs, spec)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return specs, nil
}

func (e Entry) resolve() (types.TargetSpec, error) {
	triple := strings.TrimSpace(e.Triple)
	family, ok := Lookup(triple)
	if !ok {
		return types.TargetSpec{}, fmt.Errorf("%w: %q", ErrUnknownTriple, e.Triple)
	}

	channel, err := types.ParseChannel(e.Channel)
	if err != nil {
		return types.TargetSpec{}, fmt.Errorf("%w: %v", ErrInvalidChannel, err)
	}

	if e.OS != "" {
		family, err = types.ParseOSFamily(e.OS)
		if err != nil {
			return types.TargetSpec{}, fmt.Errorf("%w: %v", ErrInvalidOS, err)
		}
	}

	return types.TargetSpec{
		Triple:       triple,
		OS:           family,
		Channel:      channel,
		TestsEnabled: !e.DisableTests,
	}, nil
}

// Entries returns a copy of the targets in declaration order.
func (m *Matrix) Entries() []types.TargetSpec {
	out := make([]types.TargetSpec, len(m.specs))
	copy(out, m.specs)
	return out
}

// Len returns the number of targets.
func (m *Matrix) Len() int {
	return len(m.specs)
}

// ForKey returns the target with the given "<triple>@<channel>" key.
// A bare triple selects its primary-channel entry.
func (m *Matrix) ForKey(key string) (types.TargetSpec, bool) {
	triple, channel, err := types.ParseKey(key)
	if err != nil {
		return types.TargetSpec{}, false
	}
	i, ok := m.index[triple+"@"+string(channel)]
	if !ok {
		return types.TargetSpec{}, false
	}
	return m.specs[i], true
}

// Select returns a sub-matrix holding only the given keys, in matrix order.
// Keys may be bare triples, which select every channel of that triple.
func (m *Matrix) Select(keys ...string) (*Matrix, error) {
	if len(keys) == 0 {
		return m, nil
	}

	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}

	out := &Matrix{index: make(map[string]int)}
	matched := make(map[string]bool, len(keys))
	for _, s := range m.specs {
		switch {
		case want[s.Key()]:
			matched[s.Key()] = true
		case want[s.Triple]:
			matched[s.Triple] = true
		default:
			continue
		}
		out.index[s.Key()] = len(out.specs)
		out.specs = append(out.specs, s)
	}

	for _, k := range keys {
		if !matched[k] {
			return nil, fmt.Errorf("target %q is not in the matrix", k)
		}
	}
	return out, nil
}

// Publishers returns, per triple, the target that would publish at a tag.
// Triples with no primary-channel entry are absent.
func (m *Matrix) Publishers(tag string) map[string]types.TargetSpec {
	out := make(map[string]types.TargetSpec)
	for _, s := range m.specs {
		if types.NewReleaseCondition(tag, s.Channel).ShouldPublish() {
			out[s.Triple] = s
		}
	}
	return out
}
