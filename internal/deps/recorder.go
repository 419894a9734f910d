package deps

import (
	"fmt"
	"strings"
)

const (
	recorderName        = "OBS Studio"
	recorderDescription = "Launched for external screen capture"
)

// RecorderCandidates are the executable names tried for the screen
// recorder when no path is configured.
var RecorderCandidates = []string{"obs", "obs-studio"}

// ResolveRecorder reports the screen recorder binary the capture launcher
// will execute. A configured path or name wins. With nothing configured the
// first candidate found on PATH is used.
func ResolveRecorder(configured string) Status {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		return CheckBinaries([]Requirement{recorderRequirement(configured)})[0]
	}

	reqs := make([]Requirement, 0, len(RecorderCandidates))
	for _, name := range RecorderCandidates {
		reqs = append(reqs, recorderRequirement(name))
	}
	results := CheckBinaries(reqs)
	for _, status := range results {
		if status.Available {
			return status
		}
	}
	missing := results[0]
	missing.Detail = fmt.Sprintf("none of %s found", strings.Join(RecorderCandidates, ", "))
	return missing
}

func recorderRequirement(command string) Requirement {
	return Requirement{Name: recorderName, Command: command, Description: recorderDescription}
}
