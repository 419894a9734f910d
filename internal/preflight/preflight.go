package preflight

import (
	"context"

	"retrace/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Recordings directory (always checked)
	results = append(results, CheckDirectoryAccess("Recordings directory", cfg.Paths.RecordingsDir))

	// Catalog (always opened; it creates its schema on first use)
	results = append(results, CheckCatalog(ctx, cfg.Paths.CatalogPath))

	// External capture
	if cfg.Capture.Enabled {
		results = append(results, CheckCaptureEndpoint(ctx, cfg.Capture.URL, cfg.Capture.Password))
		if cfg.Capture.OBSPath != "" {
			results = append(results, CheckRecorderBinary(cfg.Capture.OBSPath))
		}
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
