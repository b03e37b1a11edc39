package pack

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/cemconv/cemrelease/iox"
	"github.com/cemconv/cemrelease/types"
)

// ChecksumExt is the suffix of checksum sidecar files.
const ChecksumExt = ".sha256"

// FileDigest returns the hex SHA-256 and size of the file at path.
func FileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer iox.DiscardClose(f)

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ChecksumLine formats a sidecar line compatible with sha256sum -c.
func ChecksumLine(digest, name string) string {
	return digest + "  " + name + "\n"
}

// ParseChecksum extracts the digest from a sidecar file body.
func ParseChecksum(body []byte) (string, error) {
	fields := strings.Fields(string(body))
	if len(fields) == 0 || len(fields[0]) != sha256.Size*2 {
		return "", fmt.Errorf("malformed checksum %q", strings.TrimSpace(string(body)))
	}
	if _, err := hex.DecodeString(fields[0]); err != nil {
		return "", fmt.Errorf("malformed checksum: %w", err)
	}
	return strings.ToLower(fields[0]), nil
}

// WriteChecksum writes "<path>.sha256" next to the artifact and records it.
func WriteChecksum(a *types.Artifact) error {
	if a.SHA256 == "" {
		digest, size, err := FileDigest(a.Path)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", a.Name, err)
		}
		a.SHA256, a.Size = digest, size
	}
	path := a.Path + ChecksumExt
	if err := renameio.WriteFile(path, []byte(ChecksumLine(a.SHA256, filepath.Base(a.Path))), 0o644); err != nil {
		return fmt.Errorf("write checksum %s: %w", path, err)
	}
	a.ChecksumPath = path
	return nil
}
