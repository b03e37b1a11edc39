// Package pack assembles a target's build output into a deterministic,
// uniquely named release archive.
package pack

import (
	"path/filepath"
	"strings"

	"github.com/cemconv/cemrelease/types"
)

// ArtifactName returns "<crate>-<tag>-<triple>.<ext>".
func ArtifactName(crate, tag string, target types.TargetSpec) string {
	return ArtifactStem(crate, tag, target.Triple) + "." + types.ArchiveExt(target.OS)
}

// ArtifactStem returns the name without extension.
func ArtifactStem(crate, tag, triple string) string {
	return crate + "-" + tag + "-" + triple
}

// ArtifactGlob matches any archive a packaging collaborator may produce.
func ArtifactGlob(crate, tag, triple string) string {
	return ArtifactStem(crate, tag, triple) + ".*"
}

// BinaryName is the name of the executable inside the archive.
func BinaryName(crate string, os types.OSFamily) string {
	return crate + types.BinarySuffix(os)
}

// ExpandBinaryPath fills a binary path template.
// Placeholders: {crate}, {triple}, {channel}, {exe}.
// Relative results are joined onto dir.
func ExpandBinaryPath(template, dir, crate string, target types.TargetSpec) string {
	path := strings.NewReplacer(
		"{crate}", crate,
		"{triple}", target.Triple,
		"{channel}", string(target.Channel),
		"{exe}", types.BinarySuffix(target.OS),
	).Replace(template)
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	return path
}
