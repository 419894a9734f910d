package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"retrace/internal/config"
	"retrace/internal/logfile"
	"retrace/internal/logindex"
)

type indexReport struct {
	Dir            string       `json:"dir"`
	FrameRate      int          `json:"frame_rate"`
	IFrameInterval int          `json:"iframe_interval"`
	Logs           []indexStats `json:"logs"`
}

type indexStats struct {
	Log        string `json:"log"`
	Present    bool   `json:"present"`
	Rows       int    `json:"rows"`
	Frames     int    `json:"frames"`
	MaxFrame   uint64 `json:"max_frame"`
	Keyframes  int    `json:"keyframes"`
	Truncated  bool   `json:"truncated"`
	StopOffset int64  `json:"stop_offset"`
}

func newIndexCommand(ctx *commandContext) *cobra.Command {
	var latest, asJSON bool

	cmd := &cobra.Command{
		Use:   "index [folder]",
		Short: "Index a recording's logs and summarize them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var arg string
			if len(args) > 0 {
				arg = args[0]
			}
			rec, err := resolveRecording(cfg, arg, latest)
			if err != nil {
				return err
			}
			report, err := buildIndexReport(cfg, rec)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recording: %s\n", rec.Dir)
			fmt.Fprintf(out, "Frame rate: %d Hz, keyframe every %d frames\n", report.FrameRate, report.IFrameInterval)
			fmt.Fprintln(out, renderIndexTable(report))
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "Use the most recent recording")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func buildIndexReport(cfg *config.Config, rec logfile.Recording) (indexReport, error) {
	report := indexReport{
		Dir:            rec.Dir,
		FrameRate:      cfg.Recording.FrameRate,
		IFrameInterval: cfg.Recording.IFrameInterval,
	}
	if m, err := logfile.ReadManifest(rec.ManifestPath()); err == nil {
		if m.FrameRate > 0 {
			report.FrameRate = m.FrameRate
		}
		if m.IFrameInterval > 0 {
			report.IFrameInterval = m.IFrameInterval
		}
	}

	for _, kind := range []logfile.Kind{logfile.KindTransform, logfile.KindUI} {
		stats := indexStats{Log: kind.FileName()}
		idx, err := logindex.BuildFile(rec.Path(kind), kind)
		switch {
		case err == nil:
			stats.Present = true
			stats.Rows = idx.Rows
			stats.Frames = len(idx.Frames)
			stats.MaxFrame = idx.MaxFrame
			stats.Truncated = idx.Truncated
			stats.StopOffset = idx.StopOffset
			if kind == logfile.KindTransform {
				stats.Keyframes = len(idx.Keyframes(uint64(report.IFrameInterval)))
			}
		case errors.Is(err, logindex.ErrEmptyLog):
			stats.Present = true
		case errors.Is(err, os.ErrNotExist) && kind == logfile.KindUI:
		default:
			return report, fmt.Errorf("index %s: %w", rec.Path(kind), err)
		}
		report.Logs = append(report.Logs, stats)
	}
	return report, nil
}

func renderIndexTable(report indexReport) string {
	headers := []string{"Log", "Rows", "Frames", "Max frame", "Length", "Keyframes", "Truncated"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft}
	rows := make([][]string, 0, len(report.Logs))
	for _, s := range report.Logs {
		if !s.Present {
			rows = append(rows, []string{s.Log, "-", "-", "-", "-", "-", "missing"})
			continue
		}
		truncated := yesNo(s.Truncated)
		if s.Truncated {
			truncated = fmt.Sprintf("yes (at byte %d)", s.StopOffset)
		}
		keyframes := "-"
		if s.Log == logfile.KindTransform.FileName() {
			keyframes = strconv.Itoa(s.Keyframes)
		}
		rows = append(rows, []string{
			s.Log,
			strconv.Itoa(s.Rows),
			strconv.Itoa(s.Frames),
			strconv.FormatUint(s.MaxFrame, 10),
			frameTime(s.MaxFrame, report.FrameRate),
			keyframes,
			truncated,
		})
	}
	return renderTable(headers, rows, aligns)
}
