package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"retrace/internal/config"
	"retrace/internal/logfile"
	"retrace/internal/logging"
)

// runLogPattern matches the per-run JSON logs written by record.
const runLogPattern = "record-*.log"

// resolveRecording picks the recording named by arg, or the newest one
// under the recordings root when latest is set.
func resolveRecording(cfg *config.Config, arg string, latest bool) (logfile.Recording, error) {
	arg = strings.TrimSpace(arg)
	switch {
	case latest && arg != "":
		return logfile.Recording{}, errors.New("pass a recording folder or --latest, not both")
	case latest:
		rec, err := logfile.FindLatest(cfg.Paths.RecordingsDir)
		if err != nil {
			return logfile.Recording{}, err
		}
		return rec, nil
	case arg == "":
		return logfile.Recording{}, errors.New("recording folder or --latest is required")
	}
	dir, err := config.ExpandPath(arg)
	if err != nil {
		return logfile.Recording{}, fmt.Errorf("resolve recording path: %w", err)
	}
	rec, err := logfile.Open(dir)
	if err != nil {
		return logfile.Recording{}, fmt.Errorf("open recording %s: %w", dir, err)
	}
	return rec, nil
}

// displayDir shortens dir to a path relative to root when it lies inside.
func displayDir(root, dir string) string {
	rel, err := filepath.Rel(root, dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return dir
	}
	return rel
}

// titleLabel turns an identifier such as "local" into "Local".
func titleLabel(value string) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "_", " "))
	if value == "" {
		return "-"
	}
	return cases.Title(language.English).String(value)
}

// frameTime is the playback position of frame at rate.
func frameTime(frame uint64, rate int) string {
	if rate <= 0 {
		return "-"
	}
	d := time.Duration(frame) * time.Second / time.Duration(rate)
	return d.Round(time.Millisecond).String()
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// withRunLog tees logger into a JSON log named after the run under the log
// directory and returns the combined logger and the file path.
func withRunLog(cfg *config.Config, logger *slog.Logger, at time.Time) (*slog.Logger, string, error) {
	if cfg.Paths.LogDir == "" {
		return logger, "", nil
	}
	runID := at.UTC().Format("20060102T150405.000Z")
	path := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("record-%s.log", runID))
	file, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      "json",
		OutputPaths: []string{path},
	})
	if err != nil {
		return logger, "", fmt.Errorf("open run log: %w", err)
	}
	return logging.TeeLogger(logger, file.Handler()), path, nil
}
