package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"retrace/internal/config"
	"retrace/internal/logfile"
)

// CheckCaptureFromConfig evaluates capture status from config and
// connectivity. Disabled capture passes: sessions record locally.
func CheckCaptureFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "Capture recorder"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Capture.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled (local recording only)"}
	}
	if strings.TrimSpace(cfg.Capture.URL) == "" {
		return Result{Name: name, Detail: "Missing URL"}
	}
	return CheckCaptureEndpoint(ctx, cfg.Capture.URL, cfg.Capture.Password)
}

// RecordingProbe summarizes the most recent recording under the
// recordings root.
type RecordingProbe struct {
	Found         bool
	Dir           string
	SessionID     string
	ParticipantID string
	Complete      bool
	Frames        uint64
	Err           error
}

// ProbeLatest inspects the newest recording folder and its manifest.
func ProbeLatest(root string) RecordingProbe {
	rec, err := logfile.FindLatest(root)
	if err != nil {
		if errors.Is(err, logfile.ErrNoRecording) {
			return RecordingProbe{}
		}
		return RecordingProbe{Err: err}
	}
	probe := RecordingProbe{
		Found:         true,
		Dir:           rec.Dir,
		SessionID:     rec.SessionID,
		ParticipantID: rec.ParticipantID,
	}
	m, err := logfile.ReadManifest(rec.ManifestPath())
	if err != nil {
		probe.Err = err
		return probe
	}
	probe.Complete = m.Complete()
	probe.Frames = m.Frames
	return probe
}

// Detail renders a display-friendly summary for status output.
func (p RecordingProbe) Detail() string {
	switch {
	case !p.Found && p.Err != nil:
		return fmt.Sprintf("Unavailable (%v)", p.Err)
	case !p.Found:
		return "No recordings yet"
	case p.Err != nil:
		return fmt.Sprintf("%s/%s at %s (manifest unreadable)", p.SessionID, p.ParticipantID, p.Dir)
	case !p.Complete:
		return fmt.Sprintf("%s/%s at %s (not ended cleanly)", p.SessionID, p.ParticipantID, p.Dir)
	}
	return fmt.Sprintf("%s/%s at %s (%d frames)", p.SessionID, p.ParticipantID, p.Dir, p.Frames)
}
