// Package toolchain provisions the per-target build toolchain.
//
// Installation is delegated to the install collaborator. The registry
// records which (channel, triple) pairs have been provisioned in the
// current job environment so repeated Ensure calls are no-ops.
package toolchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/cemconv/cemrelease/types"
)

// Marker is the registry record of one provisioned toolchain.
type Marker struct {
	Triple      string        `json:"triple"`
	Channel     types.Channel `json:"channel"`
	Fingerprint string        `json:"fingerprint"`
	InstalledAt time.Time     `json:"installed_at"`
}

// Registry is an environment-scoped record of installed toolchains.
// It lives under a job's work directory and is removed by Teardown.
type Registry struct {
	root string
}

// NewRegistry returns a registry rooted at dir. The directory is created lazily.
func NewRegistry(dir string) *Registry {
	return &Registry{root: dir}
}

// Root returns the registry directory.
func (r *Registry) Root() string {
	return r.root
}

func (r *Registry) markerPath(target types.TargetSpec) string {
	return filepath.Join(r.root, string(target.Channel), target.Triple+".json")
}

// Lookup returns the marker for target, or nil when none is recorded.
func (r *Registry) Lookup(target types.TargetSpec) (*Marker, error) {
	data, err := os.ReadFile(r.markerPath(target))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read toolchain marker: %w", err)
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt toolchain marker %s: %w", r.markerPath(target), err)
	}
	return &m, nil
}

// Mark records target as provisioned by the command with the given fingerprint.
// The marker is written atomically.
func (r *Registry) Mark(target types.TargetSpec, fingerprint string) error {
	path := r.markerPath(target)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create toolchain registry: %w", err)
	}
	data, err := json.Marshal(Marker{
		Triple:      target.Triple,
		Channel:     target.Channel,
		Fingerprint: fingerprint,
		InstalledAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write toolchain marker: %w", err)
	}
	return nil
}

// Teardown discards the registry and everything recorded in it.
func (r *Registry) Teardown() error {
	if r.root == "" {
		return nil
	}
	if err := os.RemoveAll(r.root); err != nil {
		return fmt.Errorf("teardown toolchain registry: %w", err)
	}
	return nil
}

// Fingerprint identifies an install command. A changed command invalidates markers.
func Fingerprint(argv []string) string {
	h := sha256.New()
	for _, a := range argv {
		h.Write([]byte(a))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
