package types

// Artifact is the packaged, named archive for one target.
// Created by the packager from a successful BuildResult; immutable.
type Artifact struct {
	// Name is "<crate>-<tag>-<triple>.<ext>".
	Name string `json:"name" msgpack:"name"`
	// Path is the local file path of the archive.
	Path string `json:"path" msgpack:"path"`
	// Target is the target the archive was built for.
	Target TargetSpec `json:"target" msgpack:"target"`
	// SHA256 is the hex digest of the archive.
	SHA256 string `json:"sha256" msgpack:"sha256"`
	// Size is the archive size in bytes.
	Size int64 `json:"size" msgpack:"size"`
	// ChecksumPath is the path of the .sha256 sidecar, if written.
	ChecksumPath string `json:"checksum_path,omitempty" msgpack:"checksum_path,omitempty"`
}

// ArchiveExt returns the archive extension used for an OS family.
func ArchiveExt(os OSFamily) string {
	if os == OSWindows {
		return "zip"
	}
	return "tar.gz"
}

// BinarySuffix returns the executable suffix for an OS family.
func BinarySuffix(os OSFamily) string {
	if os == OSWindows {
		return ".exe"
	}
	return ""
}
