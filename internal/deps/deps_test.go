package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func writeStub(t *testing.T, dir, name string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), mode); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	present := writeStub(t, t.TempDir(), "present", 0o755)
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Optional", Command: "also-not-present", Optional: true},
		{Name: "Unset", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[1].Satisfied() {
		t.Fatal("required missing binary must not be satisfied")
	}
	if !results[2].Satisfied() {
		t.Fatal("optional missing binary should be satisfied")
	}
	if results[3].Detail != "command not configured" {
		t.Fatalf("unexpected detail for empty command: %q", results[3].Detail)
	}
}

func TestResolveRecorderConfiguredPath(t *testing.T) {
	dir := t.TempDir()
	obs := writeStub(t, dir, "obs", 0o755)

	status := ResolveRecorder(obs)
	if !status.Available || status.Command != obs {
		t.Fatalf("expected configured recorder %q, got %#v", obs, status)
	}

	plain := writeStub(t, dir, "not-exec", 0o644)
	if status := ResolveRecorder(plain); status.Available {
		t.Fatalf("non-executable file resolved: %#v", status)
	}
	if status := ResolveRecorder(filepath.Join(dir, "missing")); status.Available || status.Detail == "" {
		t.Fatalf("missing path resolved: %#v", status)
	}
}

func TestResolveRecorderSearchesPath(t *testing.T) {
	binDir := t.TempDir()
	want := writeStub(t, binDir, "obs-studio", 0o755)
	t.Setenv("PATH", binDir)

	status := ResolveRecorder("")
	if !status.Available {
		t.Fatalf("expected candidate on PATH, got detail %q", status.Detail)
	}
	if status.Command != want {
		t.Fatalf("expected %q, got %q", want, status.Command)
	}
}

func TestResolveRecorderNotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	status := ResolveRecorder("")
	if status.Available {
		t.Fatal("expected recorder resolution to fail")
	}
	if status.Detail == "" {
		t.Fatal("expected detail message when the recorder is unavailable")
	}
	if status := ResolveRecorder("obs"); status.Available {
		t.Fatal("expected named recorder lookup to fail")
	}
}

func TestCheckBinariesRejectsNonExecutablePath(t *testing.T) {
	dir := t.TempDir()
	plain := writeStub(t, dir, "plain", 0o644)
	results := CheckBinaries([]Requirement{
		{Name: "Plain", Command: plain},
		{Name: "Gone", Command: filepath.Join(dir, "gone")},
	})
	if results[0].Available || results[0].Detail != plain+" is not executable" {
		t.Fatalf("expected non-executable path to be rejected, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing path to be rejected, got %#v", results[1])
	}
}

func TestResolveRecorderBareNameUsesPath(t *testing.T) {
	binDir := t.TempDir()
	want := writeStub(t, binDir, "obs", 0o755)
	t.Setenv("PATH", binDir)

	status := ResolveRecorder("obs")
	if !status.Available || status.Command != want {
		t.Fatalf("expected %q, got %#v", want, status)
	}
	if status.Name != "OBS Studio" || status.Description == "" {
		t.Fatalf("unexpected recorder labels: %#v", status)
	}
}
