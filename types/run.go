package types

import (
	"errors"
	"fmt"
	"regexp"
)

// crateNamePattern restricts crate names to characters safe in archive names.
var crateNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// RunMeta is the identity of one orchestrator run.
type RunMeta struct {
	// RunID is the run identifier. Every job of the run shares it.
	RunID string
	// Crate is the name of the project being released (CRATE_NAME).
	Crate string
	// Tag is the release tag. Empty for untagged commits.
	Tag string
}

// Validate checks run identity rules:
//   - run_id must be non-empty
//   - crate must be a plain name usable in an archive file name
//   - tag must not contain path separators
func (r *RunMeta) Validate() error {
	if r.RunID == "" {
		return errors.New("run_id must be non-empty")
	}
	if !crateNamePattern.MatchString(r.Crate) {
		return fmt.Errorf("invalid crate name %q", r.Crate)
	}
	for _, c := range r.Tag {
		if c == '/' || c == '\\' {
			return fmt.Errorf("invalid tag %q: must not contain path separators", r.Tag)
		}
	}
	return nil
}

// IsTagged reports whether the run builds a tagged commit.
func (r *RunMeta) IsTagged() bool {
	return r.Tag != ""
}
