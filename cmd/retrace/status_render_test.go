package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"retrace/internal/deps"
	"retrace/internal/preflight"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Capture recorder", statusError, "Unreachable", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Capture recorder:", "[ERROR] Unreachable")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Catalog", statusOK, "(3 recordings)", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
	if off := renderStatusLine("Transfer receiver", statusOff, "Not configured", true); !strings.HasPrefix(off, ansiDim) {
		t.Fatalf("expected dim line for a disabled feature, got %q", off)
	}
}

func TestCheckLine(t *testing.T) {
	failed := preflight.Result{Name: "Transfer receiver", Detail: "Unreachable"}
	if line := checkLine(failed, false, false); !strings.Contains(line, "[ERROR] Unreachable") {
		t.Fatalf("expected failed check, got %q", line)
	}
	if line := checkLine(failed, true, false); !strings.Contains(line, "[OFF] Unreachable") {
		t.Fatalf("expected disabled check, got %q", line)
	}
	passed := preflight.Result{Name: "Catalog", Passed: true, Detail: "(0 recordings)"}
	if line := checkLine(passed, false, false); !strings.Contains(line, "[OK]") {
		t.Fatalf("expected passed check, got %q", line)
	}
}

func TestDependencyLines(t *testing.T) {
	statuses := []deps.Status{
		{Name: "OBS Studio", Available: true, Command: "/usr/bin/obs"},
		{Name: "Recorder helper", Optional: true, Detail: `binary "helper" not found`},
		{Name: "Required tool", Detail: `binary "tool" not found`},
	}
	lines := dependencyLines(statuses, false)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[ERROR] 2 of 3 ready") {
		t.Fatalf("expected failing summary, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "[OK] Ready (command: /usr/bin/obs)") {
		t.Fatalf("unexpected ready line %q", lines[1])
	}
	if !strings.Contains(lines[2], "[WARN] Optional") {
		t.Fatalf("unexpected optional line %q", lines[2])
	}
	if !strings.Contains(lines[3], "[ERROR]") {
		t.Fatalf("unexpected missing line %q", lines[3])
	}

	if lines := dependencyLines(statuses[:2], false); !strings.Contains(lines[0], "[OK] 1 of 2 ready") {
		t.Fatalf("optional binaries must not fail the summary: %q", lines[0])
	}
}

func TestRecordingLine(t *testing.T) {
	cases := []struct {
		rec  preflight.RecordingProbe
		want string
	}{
		{preflight.RecordingProbe{}, "[INFO] No recordings yet"},
		{preflight.RecordingProbe{Found: true, SessionID: "s", ParticipantID: "p", Dir: "d", Complete: true, Frames: 9}, "[OK] s/p at d (9 frames)"},
		{preflight.RecordingProbe{Found: true, SessionID: "s", ParticipantID: "p", Dir: "d"}, "[WARN] s/p at d (not ended cleanly)"},
		{preflight.RecordingProbe{Err: errors.New("boom")}, "[WARN] Unavailable (boom)"},
	}
	for _, tc := range cases {
		if got := recordingLine(tc.rec, false); !strings.Contains(got, tc.want) {
			t.Fatalf("recordingLine(%+v) = %q, want %q", tc.rec, got, tc.want)
		}
	}
}
