package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"retrace/internal/deps"
	"retrace/internal/preflight"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
	// statusOff marks a feature switched off in config, such as capture
	// or transfer. It is neither a failure nor a check that ran.
	statusOff
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiDim    = "\x1b[2m"
)

const (
	statusLabelWidth = 22
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	case statusOff:
		return "OFF"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	case statusOff:
		return ansiDim
	default:
		return ""
	}
}

// checkLine renders a readiness check. off marks a check for a feature the
// config leaves disabled.
func checkLine(r preflight.Result, off bool, colorize bool) string {
	kind := statusError
	switch {
	case off:
		kind = statusOff
	case r.Passed:
		kind = statusOK
	}
	return renderStatusLine(r.Name, kind, r.Detail, colorize)
}

// dependencyLines renders a summary line followed by one line per binary.
// Missing optional binaries warn; missing required ones fail the summary.
func dependencyLines(statuses []deps.Status, colorize bool) []string {
	missing := 0
	for _, s := range statuses {
		if !s.Satisfied() {
			missing++
		}
	}
	summaryKind, summary := statusOK, fmt.Sprintf("%d of %d ready", len(statuses)-missing, len(statuses))
	if missing > 0 {
		summaryKind = statusError
	}
	lines := []string{renderStatusLine("Summary", summaryKind, summary, colorize)}
	for _, s := range statuses {
		switch {
		case s.Available:
			lines = append(lines, renderStatusLine(s.Name, statusOK, fmt.Sprintf("Ready (command: %s)", s.Command), colorize))
		case s.Optional:
			lines = append(lines, renderStatusLine(s.Name, statusWarn, "Optional, "+s.Detail, colorize))
		default:
			lines = append(lines, renderStatusLine(s.Name, statusError, s.Detail, colorize))
		}
	}
	return lines
}

// recordingLine renders the newest recording. A recording that did not end
// cleanly warns since its logs may stop mid-frame.
func recordingLine(p preflight.RecordingProbe, colorize bool) string {
	kind := statusOK
	switch {
	case p.Err != nil, p.Found && !p.Complete:
		kind = statusWarn
	case !p.Found:
		kind = statusInfo
	}
	return renderStatusLine("Latest", kind, p.Detail(), colorize)
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
