package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"retrace/internal/config"
	"retrace/internal/fileutil"
	"retrace/internal/logfile"
	"retrace/internal/logging"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var latest bool
	var target string

	cmd := &cobra.Command{
		Use:   "export [folder]",
		Short: "Copy a recording folder elsewhere with checksum verification",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if strings.TrimSpace(target) == "" {
				return errors.New("--to is required")
			}
			var arg string
			if len(args) > 0 {
				arg = args[0]
			}
			rec, err := resolveRecording(cfg, arg, latest)
			if err != nil {
				return err
			}
			destRoot, err := config.ExpandPath(target)
			if err != nil {
				return fmt.Errorf("resolve export path: %w", err)
			}
			if m, err := logfile.ReadManifest(rec.ManifestPath()); err != nil || !m.Complete() {
				logging.WarnWithContext(logger, "exporting a recording that did not end cleanly", "export_incomplete",
					logging.String(logging.FieldRecordingDir, rec.Dir),
					logging.String(logging.FieldImpact, "logs may end mid-frame"),
				)
			}

			dest := filepath.Join(destRoot, filepath.Base(rec.Dir))
			stats, err := fileutil.CopyDir(rec.Dir, dest)
			if err != nil {
				return fmt.Errorf("export %s: %w", rec.Dir, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d files (%s) to %s\n",
				len(stats.Files), humanize.IBytes(uint64(stats.Bytes)), dest)
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "Export the most recent recording")
	cmd.Flags().StringVar(&target, "to", "", "Directory the recording folder is copied into")
	return cmd
}
