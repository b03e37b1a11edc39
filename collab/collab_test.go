package collab

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeScript writes an executable shell script into dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecRunner_Success(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ok.sh", `echo "building $TARGET"`)

	var out bytes.Buffer
	r := NewExecRunner(&out)
	res, err := r.Run(t.Context(), Spec{
		Name: "build",
		Argv: []string{script},
		Env:  map[string]string{"TARGET": "x86_64-unknown-linux-gnu"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("exit code = %d", res.ExitCode)
	}
	if !strings.Contains(out.String(), "building x86_64-unknown-linux-gnu") {
		t.Errorf("output = %q", out.String())
	}
	if !strings.Contains(res.Tail, "building") {
		t.Errorf("tail = %q", res.Tail)
	}
}

func TestExecRunner_ExitCodePropagated(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "fail.sh", "echo boom >&2\nexit 101")

	res, err := NewExecRunner(nil).Run(t.Context(), Spec{Name: "build", Argv: []string{script}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 101 {
		t.Errorf("exit code = %d, want 101", res.ExitCode)
	}
	if !strings.Contains(res.Tail, "boom") {
		t.Errorf("stderr not captured: %q", res.Tail)
	}
}

func TestExecRunner_WorkingDir(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "pwd.sh", "touch marker")

	if _, err := NewExecRunner(nil).Run(t.Context(), Spec{Name: "x", Argv: []string{script}, Dir: dir}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "marker")); err != nil {
		t.Errorf("expected marker in working dir: %v", err)
	}
}

func TestExecRunner_EnvRemoval(t *testing.T) {
	t.Setenv("DISABLE_TESTS", "1")
	dir := t.TempDir()
	script := writeScript(t, dir, "env.sh", `if [ -n "${DISABLE_TESTS+x}" ]; then exit 3; fi`)

	res, err := NewExecRunner(nil).Run(t.Context(), Spec{
		Name: "test",
		Argv: []string{script},
		Env:  map[string]string{"DISABLE_TESTS": ""},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("DISABLE_TESTS leaked into collaborator env (exit %d)", res.ExitCode)
	}
}

func TestExecRunner_MissingProgram(t *testing.T) {
	_, err := NewExecRunner(nil).Run(t.Context(), Spec{Name: "install", Argv: []string{"/nonexistent/install.sh"}})
	if err == nil {
		t.Fatal("expected error for missing program")
	}
}

func TestExecRunner_NoCommand(t *testing.T) {
	_, err := NewExecRunner(nil).Run(t.Context(), Spec{Name: "install"})
	if err == nil || !strings.Contains(err.Error(), "no command") {
		t.Fatalf("err = %v", err)
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "slow.sh", "sleep 5")

	_, err := NewExecRunner(nil).Run(t.Context(), Spec{
		Name:    "build",
		Argv:    []string{script},
		Timeout: 50 * time.Millisecond,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestExecRunner_Canceled(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "slow.sh", "sleep 5")

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(50*time.Millisecond, cancel)

	res, err := NewExecRunner(nil).Run(ctx, Spec{Name: "build", Argv: []string{script}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want canceled", err)
	}
	if res == nil || res.ExitCode != -1 {
		t.Errorf("result = %+v", res)
	}
}

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/bin", "TARGET=old", "DISABLE_TESTS=1", "HOME=/root"}
	got := MergeEnv(base, map[string]string{
		"TARGET":        "x86_64-unknown-linux-gnu",
		"DISABLE_TESTS": "",
		"CRATE_NAME":    "cemconv",
	})
	want := []string{"PATH=/bin", "HOME=/root", "CRATE_NAME=cemconv", "TARGET=x86_64-unknown-linux-gnu"}

	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("MergeEnv = %v, want %v", got, want)
	}
}

func TestDeduplicateEnv(t *testing.T) {
	got := deduplicateEnv([]string{"A=1", "B=2", "A=3"})
	if strings.Join(got, ",") != "B=2,A=3" {
		t.Errorf("deduplicateEnv = %v", got)
	}
}
