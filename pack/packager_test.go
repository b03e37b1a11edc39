package pack

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/cemconv/cemrelease/collab"
	"github.com/cemconv/cemrelease/types"
)

var linuxStable = types.TargetSpec{
	Triple:       "x86_64-unknown-linux-gnu",
	OS:           types.OSLinux,
	Channel:      types.ChannelStable,
	TestsEnabled: true,
}

var windowsStable = types.TargetSpec{
	Triple:  "x86_64-pc-windows-gnu",
	OS:      types.OSWindows,
	Channel: types.ChannelStable,
}

type fixture struct {
	src    string
	out    string
	binary string
}

func newFixture(t *testing.T, binaryName string) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{
		src:    filepath.Join(root, "src"),
		out:    filepath.Join(root, "dist"),
		binary: filepath.Join(root, "src", "target", binaryName),
	}
	mustWrite(t, f.binary, "\x7fELF fake binary")
	mustWrite(t, filepath.Join(f.src, "README.md"), "# cemconv\n")
	mustWrite(t, filepath.Join(f.src, "LICENSE"), "MIT\n")
	return f
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func (f fixture) packager(checksum bool) *Packager {
	return NewPackager(nil, Config{
		Crate:     "cemconv",
		OutDir:    f.out,
		SourceDir: f.src,
		Include:   []string{"README.md", "LICENSE"},
		Checksum:  checksum,
		Epoch:     time.Unix(0, 0).UTC(),
	})
}

func TestArtifactName(t *testing.T) {
	if got := ArtifactName("cemconv", "v1.2.0", linuxStable); got != "cemconv-v1.2.0-x86_64-unknown-linux-gnu.tar.gz" {
		t.Errorf("linux name = %q", got)
	}
	if got := ArtifactName("cemconv", "v1.2.0", windowsStable); got != "cemconv-v1.2.0-x86_64-pc-windows-gnu.zip" {
		t.Errorf("windows name = %q", got)
	}
	if got := BinaryName("cemconv", types.OSWindows); got != "cemconv.exe" {
		t.Errorf("binary name = %q", got)
	}
}

func TestExpandBinaryPath(t *testing.T) {
	got := ExpandBinaryPath("target/{triple}/release/{crate}{exe}", "/src", "cemconv", windowsStable)
	want := filepath.Join("/src", "target", "x86_64-pc-windows-gnu", "release", "cemconv.exe")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := ExpandBinaryPath("/abs/{channel}/bin", "/src", "c", linuxStable); got != "/abs/stable/bin" {
		t.Errorf("absolute template = %q", got)
	}
}

func TestPackage_TarGz(t *testing.T) {
	f := newFixture(t, "cemconv")
	build := &types.BuildResult{Target: linuxStable, BinaryPath: f.binary, TestOutcome: types.TestPassed}

	a, err := f.packager(true).Package(t.Context(), build, "v1.2.0", nil)
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if a.Name != "cemconv-v1.2.0-x86_64-unknown-linux-gnu.tar.gz" {
		t.Errorf("name = %q", a.Name)
	}
	if a.Path != filepath.Join(f.out, a.Name) {
		t.Errorf("path = %q", a.Path)
	}

	digest, size, err := FileDigest(a.Path)
	if err != nil {
		t.Fatal(err)
	}
	if digest != a.SHA256 || size != a.Size {
		t.Errorf("recorded digest %s/%d, file has %s/%d", a.SHA256, a.Size, digest, size)
	}

	sidecar, err := os.ReadFile(a.Path + ChecksumExt)
	if err != nil {
		t.Fatalf("sidecar: %v", err)
	}
	if string(sidecar) != digest+"  "+a.Name+"\n" {
		t.Errorf("sidecar = %q", sidecar)
	}

	names, modes := readTarGz(t, a.Path)
	want := []string{"LICENSE", "README.md", "cemconv"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("entries = %v, want %v", names, want)
	}
	if modes["cemconv"] != 0o755 || modes["README.md"] != 0o644 {
		t.Errorf("modes = %v", modes)
	}
}

func readTarGz(t *testing.T, path string) ([]string, map[string]int64) {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		t.Fatal(err)
	}
	if gz.Name != "" || !gz.ModTime.IsZero() {
		t.Errorf("gzip header not normalized: name=%q mtime=%v", gz.Name, gz.ModTime)
	}

	tr := tar.NewReader(gz)
	var names []string
	modes := map[string]int64{}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if hdr.Uid != 0 || hdr.Gid != 0 || !hdr.ModTime.Equal(time.Unix(0, 0)) {
			t.Errorf("%s: header not normalized: %+v", hdr.Name, hdr)
		}
		names = append(names, hdr.Name)
		modes[hdr.Name] = hdr.Mode
	}
	return names, modes
}

func TestPackage_Reproducible(t *testing.T) {
	f := newFixture(t, "cemconv")
	build := &types.BuildResult{Target: linuxStable, BinaryPath: f.binary, TestOutcome: types.TestSkipped}

	first, err := f.packager(false).Package(t.Context(), build, "v1.2.0", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Touch inputs: mtimes and permissions must not leak into the archive.
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(f.binary, later, later); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(filepath.Join(f.src, "LICENSE"), 0o666); err != nil {
		t.Fatal(err)
	}

	second, err := f.packager(false).Package(t.Context(), build, "v1.2.0", nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.SHA256 != second.SHA256 {
		t.Errorf("archive not byte-stable: %s vs %s", first.SHA256, second.SHA256)
	}
}

func TestPackage_Zip(t *testing.T) {
	f := newFixture(t, "cemconv.exe")
	build := &types.BuildResult{Target: windowsStable, BinaryPath: f.binary, TestOutcome: types.TestSkipped}

	a, err := f.packager(false).Package(t.Context(), build, "v1.2.0", nil)
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if !strings.HasSuffix(a.Name, ".zip") {
		t.Fatalf("name = %q", a.Name)
	}
	if a.ChecksumPath != "" {
		t.Errorf("checksum written when disabled")
	}

	zr, err := zip.OpenReader(a.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()

	var names []string
	for _, zf := range zr.File {
		names = append(names, zf.Name)
		if zf.Modified.Year() != 1980 {
			t.Errorf("%s: mtime %v not clamped to zip epoch", zf.Name, zf.Modified)
		}
	}
	if strings.Join(names, ",") != "LICENSE,README.md,cemconv.exe" {
		t.Errorf("entries = %v", names)
	}
}

func TestPackage_MissingBinary(t *testing.T) {
	f := newFixture(t, "cemconv")
	build := &types.BuildResult{Target: linuxStable, BinaryPath: filepath.Join(f.src, "nope"), TestOutcome: types.TestPassed}

	_, err := f.packager(false).Package(t.Context(), build, "v1.2.0", nil)
	if !errors.Is(err, types.ErrPackagingMissingArtifact) {
		t.Fatalf("err = %v, want ErrPackagingMissingArtifact", err)
	}
	if types.ExitCodeOf(err) != types.ExitMissingArtifact {
		t.Errorf("exit code = %d", types.ExitCodeOf(err))
	}
	if entries, _ := os.ReadDir(f.out); len(entries) != 0 {
		t.Errorf("partial output left behind: %v", entries)
	}
}

func TestPackage_MissingInclude(t *testing.T) {
	f := newFixture(t, "cemconv")
	p := f.packager(false)
	p.cfg.Include = append(p.cfg.Include, "CHANGELOG.md")

	build := &types.BuildResult{Target: linuxStable, BinaryPath: f.binary, TestOutcome: types.TestPassed}
	_, err := p.Package(t.Context(), build, "v1.2.0", nil)
	if !errors.Is(err, types.ErrPackagingMissingArtifact) {
		t.Fatalf("err = %v, want ErrPackagingMissingArtifact", err)
	}
}

func TestPackage_RefusesFailedBuild(t *testing.T) {
	f := newFixture(t, "cemconv")
	for _, build := range []*types.BuildResult{
		{Target: linuxStable, BinaryPath: f.binary, ExitCode: 101},
		{Target: linuxStable, BinaryPath: f.binary, TestOutcome: types.TestFailed, ExitCode: 1},
	} {
		if _, err := f.packager(false).Package(t.Context(), build, "v1.2.0", nil); !errors.Is(err, ErrBuildNotSucceeded) {
			t.Errorf("err = %v, want ErrBuildNotSucceeded", err)
		}
	}
}

// producingRunner emulates a packaging collaborator writing into OUT_DIR.
type producingRunner struct {
	files    []string
	exitCode int
	env      map[string]string
}

func (r *producingRunner) Run(_ context.Context, spec collab.Spec) (*collab.Result, error) {
	r.env = spec.Env
	for _, name := range r.files {
		if err := os.WriteFile(filepath.Join(spec.Env["OUT_DIR"], name), []byte(name), 0o644); err != nil {
			return nil, err
		}
	}
	return &collab.Result{ExitCode: r.exitCode}, nil
}

func collaboratorPackager(f fixture, runner collab.Runner) *Packager {
	return NewPackager(runner, Config{
		Crate:        "cemconv",
		OutDir:       f.out,
		SourceDir:    f.src,
		Checksum:     true,
		Collaborator: []string{"ci/package.sh"},
	})
}

func TestPackage_Collaborator(t *testing.T) {
	f := newFixture(t, "cemconv")
	runner := &producingRunner{files: []string{"cemconv-v1.2.0-x86_64-unknown-linux-gnu.tar.xz", "unrelated.txt"}}
	env := map[string]string{"OUT_DIR": f.out, "BINARY_PATH": f.binary}

	build := &types.BuildResult{Target: linuxStable, BinaryPath: f.binary, TestOutcome: types.TestPassed}
	a, err := collaboratorPackager(f, runner).Package(t.Context(), build, "v1.2.0", env)
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if a.Name != "cemconv-v1.2.0-x86_64-unknown-linux-gnu.tar.xz" {
		t.Errorf("name = %q", a.Name)
	}
	if a.SHA256 == "" || a.ChecksumPath == "" {
		t.Errorf("artifact = %+v", a)
	}
	if runner.env["BINARY_PATH"] != f.binary {
		t.Errorf("env not passed: %v", runner.env)
	}
}

func TestPackage_CollaboratorPrefersConventionalName(t *testing.T) {
	f := newFixture(t, "cemconv")
	runner := &producingRunner{files: []string{
		"cemconv-v1.2.0-x86_64-unknown-linux-gnu.tar.gz",
		"cemconv-v1.2.0-x86_64-unknown-linux-gnu.tar.zst",
	}}

	build := &types.BuildResult{Target: linuxStable, BinaryPath: f.binary, TestOutcome: types.TestPassed}
	a, err := collaboratorPackager(f, runner).Package(t.Context(), build, "v1.2.0", map[string]string{"OUT_DIR": f.out})
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if a.Name != "cemconv-v1.2.0-x86_64-unknown-linux-gnu.tar.gz" {
		t.Errorf("name = %q", a.Name)
	}
}

func TestPackage_CollaboratorProducedNothing(t *testing.T) {
	f := newFixture(t, "cemconv")
	runner := &producingRunner{files: []string{"cemconv-v1.2.0-aarch64-apple-darwin.tar.gz"}}

	build := &types.BuildResult{Target: linuxStable, BinaryPath: f.binary, TestOutcome: types.TestPassed}
	_, err := collaboratorPackager(f, runner).Package(t.Context(), build, "v1.2.0", map[string]string{"OUT_DIR": f.out})
	if !errors.Is(err, types.ErrPackagingMissingArtifact) {
		t.Fatalf("err = %v, want ErrPackagingMissingArtifact", err)
	}
}

func TestPackage_CollaboratorExitCode(t *testing.T) {
	f := newFixture(t, "cemconv")
	runner := &producingRunner{exitCode: 9}

	build := &types.BuildResult{Target: linuxStable, BinaryPath: f.binary, TestOutcome: types.TestPassed}
	_, err := collaboratorPackager(f, runner).Package(t.Context(), build, "v1.2.0", map[string]string{"OUT_DIR": f.out})
	if !errors.Is(err, types.ErrPackagingFailed) || types.ExitCodeOf(err) != 9 {
		t.Fatalf("err = %v (exit %d)", err, types.ExitCodeOf(err))
	}
}

func TestSourceDateEpoch(t *testing.T) {
	t.Setenv("SOURCE_DATE_EPOCH", "")
	got, err := SourceDateEpoch()
	if err != nil || !got.Equal(time.Unix(0, 0)) {
		t.Errorf("default = %v, %v", got, err)
	}

	t.Setenv("SOURCE_DATE_EPOCH", "1700000000")
	got, err = SourceDateEpoch()
	if err != nil || got.Unix() != 1700000000 {
		t.Errorf("got %v, %v", got, err)
	}

	t.Setenv("SOURCE_DATE_EPOCH", "yesterday")
	if _, err := SourceDateEpoch(); err == nil {
		t.Error("expected error for invalid value")
	}
}

func TestParseChecksum(t *testing.T) {
	digest := strings.Repeat("ab", 32)
	got, err := ParseChecksum([]byte(ChecksumLine(digest, "x.tar.gz")))
	if err != nil || got != digest {
		t.Errorf("ParseChecksum = %q, %v", got, err)
	}
	if _, err := ParseChecksum([]byte("nothex  x\n")); err == nil {
		t.Error("expected error for malformed checksum")
	}
}
