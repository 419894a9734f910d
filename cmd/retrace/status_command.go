package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"retrace/internal/preflight"
)

const statusProbeTimeout = 15 * time.Second

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check directories, the capture recorder, the transfer receiver and the latest recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			probeCtx, cancel := context.WithTimeout(cmd.Context(), statusProbeTimeout)
			defer cancel()

			var lines []string
			lines = append(lines, renderSectionHeader("Environment", colorize)...)
			for _, r := range preflight.RunAll(probeCtx, cfg) {
				lines = append(lines, checkLine(r, false, colorize))
			}
			if !cfg.Capture.Enabled {
				lines = append(lines, checkLine(preflight.CheckCaptureFromConfig(probeCtx, cfg), true, colorize))
			}
			transferOff := strings.TrimSpace(cfg.Transfer.URL) == ""
			lines = append(lines, checkLine(preflight.CheckTransferReceiver(probeCtx, cfg.Transfer.URL), transferOff, colorize))

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
			lines = append(lines, dependencyLines(preflight.CheckSystemDeps(cfg), colorize)...)

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Recordings", colorize)...)
			probe := preflight.ProbeLatest(cfg.Paths.RecordingsDir)
			if probe.Found {
				probe.Dir = displayDir(cfg.Paths.RecordingsDir, probe.Dir)
			}
			lines = append(lines, recordingLine(probe, colorize))

			for _, line := range lines {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
