package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cemconv/cemrelease/types"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_RunContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLoggerWithWriter(&types.RunMeta{RunID: "run-1", Crate: "cemconv", Tag: "v1.0.0"}, &buf)

	logger.Info("job started", map[string]any{"stage": "install"})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	entry := lines[0]
	if entry["run_id"] != "run-1" || entry["crate"] != "cemconv" || entry["tag"] != "v1.0.0" {
		t.Errorf("missing run context: %v", entry)
	}
	if entry["message"] != "job started" || entry["level"] != "info" {
		t.Errorf("unexpected entry: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["stage"] != "install" {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestLogger_UntaggedOmitsTag(t *testing.T) {
	var buf bytes.Buffer
	logger := newLoggerWithWriter(&types.RunMeta{RunID: "run-1", Crate: "cemconv"}, &buf)
	logger.Warn("untagged", nil)

	entry := decodeLines(t, &buf)[0]
	if _, ok := entry["tag"]; ok {
		t.Errorf("tag should be omitted for untagged runs: %v", entry)
	}
}

func TestLogger_ForTarget(t *testing.T) {
	var buf bytes.Buffer
	logger := newLoggerWithWriter(&types.RunMeta{RunID: "r", Crate: "c"}, &buf).
		ForTarget(types.TargetSpec{Triple: "aarch64-apple-darwin", Channel: types.ChannelNightly})

	logger.Error("build failed", map[string]any{"exit_code": 101})

	entry := decodeLines(t, &buf)[0]
	if entry["target"] != "aarch64-apple-darwin" || entry["channel"] != "nightly" {
		t.Errorf("missing target fields: %v", entry)
	}
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLoggerWithWriter(&types.RunMeta{RunID: "r", Crate: "c"}, &buf)
	logger.SetLevel("warn")

	logger.Debug("hidden", nil)
	logger.Info("hidden", nil)
	logger.Warn("shown", nil)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["message"] != "shown" {
		t.Errorf("expected only the warn entry, got %v", lines)
	}

	logger.SetLevel("bogus")
	logger.Info("still hidden", nil)
	if n := len(decodeLines(t, &buf)); n != 1 {
		t.Errorf("unknown level should leave level unchanged, got %d lines", n)
	}
}

func TestSugaredLogger_With(t *testing.T) {
	var buf bytes.Buffer
	sugar := newLoggerWithWriter(&types.RunMeta{RunID: "r", Crate: "c"}, &buf).Sugar().With("cmd", "plan")
	sugar.Infof("planned %d targets", 3)

	entry := decodeLines(t, &buf)[0]
	if entry["cmd"] != "plan" || entry["message"] != "planned 3 targets" {
		t.Errorf("unexpected entry: %v", entry)
	}
}
