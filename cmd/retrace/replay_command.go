package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"retrace/internal/config"
	"retrace/internal/logging"
	"retrace/internal/replay"
	"retrace/internal/scene"
	"retrace/internal/tick"
)

type replayOptions struct {
	latest    bool
	scenePath string
	seek      float64
	seekSet   bool
	realtime  bool
	asJSON    bool
}

type replayObject struct {
	ID       string     `json:"id"`
	Path     string     `json:"path"`
	Active   bool       `json:"active"`
	Position scene.Vec3 `json:"position"`
	Rotation scene.Vec3 `json:"rotation"`
	Scale    scene.Vec3 `json:"scale"`
}

type replayReport struct {
	Dir      string          `json:"dir"`
	Frame    uint64          `json:"frame"`
	Total    uint64          `json:"total_frames"`
	Counters replay.Counters `json:"counters"`
	Stats    replay.Stats    `json:"stats"`
	Objects  []replayObject  `json:"objects"`
}

func newReplayCommand(ctx *commandContext) *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay [folder]",
		Short: "Replay a recording headlessly and print the reconstructed scene",
		Long: `Replay rebuilds a recording into a copy of the scene's template collection
and plays it to the end, or jumps to a fraction of the timeline with --seek.
The bound objects of the reconstructed scene are printed afterwards.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			opts.seekSet = cmd.Flags().Changed("seek")
			var arg string
			if len(args) > 0 {
				arg = args[0]
			}
			return runReplay(cmd, cfg, logger, arg, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.latest, "latest", false, "Replay the most recent recording")
	cmd.Flags().StringVar(&opts.scenePath, "scene", "", "Scene manifest (defaults to replay.scene_manifest)")
	cmd.Flags().Float64Var(&opts.seek, "seek", 0, "Jump to this fraction of the timeline (0-1) instead of playing")
	cmd.Flags().BoolVar(&opts.realtime, "realtime", false, "Play at the recorded frame rate instead of as fast as possible")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Output as JSON")
	return cmd
}

func runReplay(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, arg string, opts replayOptions) error {
	if opts.seekSet && (opts.seek < 0 || opts.seek > 1) {
		return fmt.Errorf("--seek must be between 0 and 1, got %g", opts.seek)
	}
	rec, err := resolveRecording(cfg, arg, opts.latest)
	if err != nil {
		return err
	}
	scenePath := firstNonEmpty(opts.scenePath, cfg.Replay.SceneManifest)
	if scenePath == "" {
		return errors.New("scene manifest is required (--scene or replay.scene_manifest)")
	}
	manifest, err := scene.LoadManifest(scenePath)
	if err != nil {
		return err
	}
	if manifest.Collection == scene.DefaultCollection && cfg.Replay.TemplateRoot != "" {
		manifest.Collection = cfg.Replay.TemplateRoot
	}

	runCtx := cmd.Context()

	graph, template := manifest.Template()
	state, err := replay.NewState(graph, graph, template, logger)
	if err != nil {
		return fmt.Errorf("prepare replay scene: %w", err)
	}
	engine := replay.NewEngine(state, replay.Options{
		FrameRate:      cfg.Replay.FrameRate,
		IFrameInterval: uint64(cfg.Replay.IFrameInterval),
	}, logger)
	if err := engine.Open(runCtx, rec); err != nil {
		return err
	}
	defer engine.Close()

	if opts.seekSet {
		if err := engine.Seek(opts.seek); err != nil {
			return fmt.Errorf("seek: %w", err)
		}
		engine.Pause()
	} else {
		if err := engine.Play(); err != nil {
			return err
		}
		sched := tick.New(tick.Config{Rate: engine.FrameRate(), Unpaced: !opts.realtime}, logger)
		if err := engine.Run(runCtx, sched); err != nil {
			return err
		}
	}

	report := buildReplayReport(engine, graph)
	logger.Debug("replay report ready",
		logging.String(logging.FieldRecordingDir, rec.Dir),
		logging.Int("objects", len(report.Objects)),
	)
	if opts.asJSON {
		return writeJSON(cmd, report)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Recording: %s\n", rec.Dir)
	fmt.Fprintf(out, "Frame %d of %d (%s)\n", report.Frame, report.Total, frameTime(report.Frame, engine.FrameRate()))
	fmt.Fprintln(out, renderReplayTable(report))
	fmt.Fprintf(out, "Rows applied: %d transform, %d ui; skipped: %d malformed, %d unresolvable\n",
		report.Counters.TransformRows, report.Counters.UIRows, report.Counters.Malformed, report.Counters.Unresolvable)
	return nil
}

func buildReplayReport(engine *replay.Engine, graph *scene.Memory) replayReport {
	state := engine.State()
	report := replayReport{
		Dir:      engine.Recording().Dir,
		Frame:    engine.CurrentFrame(),
		Total:    engine.TotalFrames(),
		Counters: engine.Counters(),
		Stats:    state.Stats(),
	}
	rootPath := graph.Path(state.Root())
	for _, id := range state.BoundIDs() {
		h, ok := state.Bound(id)
		if !ok {
			continue
		}
		t := graph.LocalTransform(h)
		path := strings.TrimPrefix(graph.Path(h), rootPath)
		if path == "" {
			path = "/"
		}
		report.Objects = append(report.Objects, replayObject{
			ID:       id,
			Path:     path,
			Active:   graph.ActiveInHierarchy(h),
			Position: t.Position,
			Rotation: t.Rotation,
			Scale:    t.Scale,
		})
	}
	return report
}

func renderReplayTable(report replayReport) string {
	headers := []string{"ID", "Path", "Active", "Position", "Rotation", "Scale"}
	rows := make([][]string, 0, len(report.Objects))
	for _, o := range report.Objects {
		rows = append(rows, []string{o.ID, o.Path, yesNo(o.Active), formatVec(o.Position), formatVec(o.Rotation), formatVec(o.Scale)})
	}
	footer := []string{fmt.Sprintf("%d objects", len(report.Objects))}
	return renderTable(headers, rows, nil, footer...)
}

func formatVec(v scene.Vec3) string {
	return fmt.Sprintf("(%.3g, %.3g, %.3g)", v.X, v.Y, v.Z)
}
