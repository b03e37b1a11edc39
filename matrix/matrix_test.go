package matrix

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cemconv/cemrelease/types"
)

func TestDefault(t *testing.T) {
	m := Default()
	if m.Len() == 0 {
		t.Fatal("default matrix is empty")
	}

	spec, ok := m.ForKey("x86_64-unknown-linux-gnu@nightly")
	if !ok {
		t.Fatal("expected nightly x86_64 linux entry")
	}
	if spec.OS != types.OSLinux || !spec.TestsEnabled {
		t.Errorf("unexpected spec: %+v", spec)
	}

	s390x, ok := m.ForKey("s390x-unknown-linux-gnu")
	if !ok {
		t.Fatal("expected s390x entry")
	}
	if s390x.TestsEnabled {
		t.Error("s390x should have tests disabled")
	}
}

func TestDefault_AtMostOnePublisherPerTriple(t *testing.T) {
	m := Default()
	count := make(map[string]int)
	for _, s := range m.Entries() {
		if types.NewReleaseCondition("v1.2.0", s.Channel).ShouldPublish() {
			count[s.Triple]++
		}
	}
	for triple, n := range count {
		if n != 1 {
			t.Errorf("triple %s has %d publishing entries", triple, n)
		}
	}
	if len(m.Publishers("v1.2.0")) != len(count) {
		t.Errorf("Publishers() disagrees with ReleaseCondition")
	}
	if len(m.Publishers("")) != 0 {
		t.Errorf("untagged run must have no publishers")
	}
}

func TestParse_Valid(t *testing.T) {
	doc := []byte(`
targets:
  - triple: x86_64-unknown-linux-gnu
  - triple: x86_64-unknown-linux-gnu
    channel: nightly
  - triple: x86_64-pc-windows-gnu
    disable_tests: true
  - triple: x86_64-apple-darwin
    os: osx
`)
	m, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	entries := m.Entries()
	want := []string{
		"x86_64-unknown-linux-gnu@stable",
		"x86_64-unknown-linux-gnu@nightly",
		"x86_64-pc-windows-gnu@stable",
		"x86_64-apple-darwin@stable",
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, k := range want {
		if entries[i].Key() != k {
			t.Errorf("entry %d = %s, want %s", i, entries[i].Key(), k)
		}
	}
	if entries[2].OS != types.OSWindows || entries[2].TestsEnabled {
		t.Errorf("windows entry = %+v", entries[2])
	}
	if entries[3].OS != types.OSMacOS {
		t.Errorf("os override not applied: %+v", entries[3])
	}
}

func TestParse_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty document", ``},
		{"no targets", `targets: []`},
		{"missing triple", "targets:\n  - channel: stable\n"},
		{"unknown field", "targets:\n  - triple: x86_64-unknown-linux-gnu\n    arch: x86\n"},
		{"bad channel", "targets:\n  - triple: x86_64-unknown-linux-gnu\n    channel: 1.70\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if !errors.Is(err, ErrSchema) {
				t.Errorf("expected ErrSchema, got %v", err)
			}
		})
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		want    error
	}{
		{
			name:    "empty",
			entries: nil,
			want:    ErrEmpty,
		},
		{
			name:    "unknown triple",
			entries: []Entry{{Triple: "z80-unknown-none"}},
			want:    ErrUnknownTriple,
		},
		{
			name:    "invalid channel",
			entries: []Entry{{Triple: "x86_64-unknown-linux-gnu", Channel: "edge"}},
			want:    ErrInvalidChannel,
		},
		{
			name:    "invalid os",
			entries: []Entry{{Triple: "x86_64-unknown-linux-gnu", OS: "plan9"}},
			want:    ErrInvalidOS,
		},
		{
			name: "fully identical entries",
			entries: []Entry{
				{Triple: "x86_64-unknown-linux-gnu", Channel: "nightly"},
				{Triple: "x86_64-unknown-linux-gnu", Channel: "nightly"},
			},
			want: ErrDuplicateEntry,
		},
		{
			name: "same triple and channel with different os",
			entries: []Entry{
				{Triple: "x86_64-unknown-linux-gnu", Channel: "nightly", OS: "linux"},
				{Triple: "x86_64-unknown-linux-gnu", Channel: "nightly", OS: "windows"},
			},
			want: ErrDuplicateEntry,
		},
		{
			name: "two primary entries for one triple",
			entries: []Entry{
				{Triple: "x86_64-unknown-freebsd"},
				{Triple: "x86_64-unknown-freebsd", OS: "linux", DisableTests: true},
			},
			want: ErrDuplicatePrimary,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.entries)
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	_, err := Validate([]Entry{
		{Triple: "z80-unknown-none"},
		{Triple: "x86_64-unknown-linux-gnu", Channel: "edge"},
	})
	if !errors.Is(err, ErrUnknownTriple) || !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("expected both errors joined, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.yaml")
	if err := os.WriteFile(path, []byte("targets:\n  - triple: aarch64-unknown-linux-gnu\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d", m.Len())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEntries_ReturnsCopy(t *testing.T) {
	m := Default()
	entries := m.Entries()
	entries[0].Triple = "mutated"
	if m.Entries()[0].Triple == "mutated" {
		t.Error("Entries() exposed internal state")
	}
}

func TestSelect(t *testing.T) {
	m := Default()

	sub, err := m.Select("x86_64-unknown-linux-gnu")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sub.Len() != 2 {
		t.Errorf("bare triple should select both channels, got %d", sub.Len())
	}

	sub, err = m.Select("x86_64-unknown-linux-gnu@nightly", "x86_64-pc-windows-gnu")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	entries := sub.Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	// matrix order, not argument order
	if entries[0].Key() != "x86_64-unknown-linux-gnu@nightly" || entries[1].Key() != "x86_64-pc-windows-gnu@stable" {
		t.Errorf("unexpected order: %v", entries)
	}

	if _, err := m.Select("sparc-sun-solaris"); err == nil {
		t.Error("expected error for target not in matrix")
	}
}

func TestInferOS(t *testing.T) {
	tests := []struct {
		triple string
		want   types.OSFamily
	}{
		{"x86_64-unknown-linux-gnu", types.OSLinux},
		{"arm-linux-androideabi", types.OSLinux},
		{"x86_64-apple-darwin", types.OSMacOS},
		{"x86_64-pc-windows-msvc", types.OSWindows},
		{"x86_64-unknown-freebsd", types.OSBSD},
		{"x86_64-unknown-dragonfly", types.OSBSD},
	}
	for _, tt := range tests {
		got, err := InferOS(tt.triple)
		if err != nil || got != tt.want {
			t.Errorf("InferOS(%q) = %q, %v; want %q", tt.triple, got, err, tt.want)
		}
	}
	if _, err := InferOS("wasm32"); err == nil {
		t.Error("expected error for malformed triple")
	}
}

func TestLookup_InfersOSForEverySupportedTriple(t *testing.T) {
	for _, triple := range Supported() {
		family, ok := Lookup(triple)
		if !ok || family == "" {
			t.Errorf("Lookup(%q) = %q, %v", triple, family, ok)
		}
	}
	if _, ok := Lookup("x86_64-unknown-haiku"); ok {
		t.Error("unsupported triple resolved")
	}
}

func TestNew_OSDefaultsToInferredFamily(t *testing.T) {
	m, err := New([]Entry{
		{Triple: "aarch64-apple-darwin"},
		{Triple: "x86_64-unknown-freebsd", OS: "linux"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entries := m.Entries()
	if entries[0].OS != types.OSMacOS {
		t.Errorf("darwin os = %q, want inferred macos", entries[0].OS)
	}
	if entries[1].OS != types.OSLinux {
		t.Errorf("override os = %q, want linux", entries[1].OS)
	}
}
