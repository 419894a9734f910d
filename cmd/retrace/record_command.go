package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"retrace/internal/capture"
	"retrace/internal/config"
	"retrace/internal/deps"
	"retrace/internal/logfile"
	"retrace/internal/logging"
	"retrace/internal/preflight"
	"retrace/internal/recording"
	"retrace/internal/registry"
	"retrace/internal/scene"
	"retrace/internal/session"
	"retrace/internal/tick"
)

// shutdownTimeout bounds how long an interrupted session waits for the
// external recorder to confirm the stop.
const shutdownTimeout = 10 * time.Second

type recordOptions struct {
	scenePath     string
	scriptPath    string
	frames        uint64
	sessionID     string
	participantID string
	unpaced       bool
	skipPreflight bool
}

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var opts recordOptions

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a session of a scene to CSV logs",
		Long: `Record loads a scene manifest, drives it with an optional input script and
writes transform, UI event and custom variable logs to a new recording
folder. With capture enabled, logging starts only once the screen recorder
confirms it is recording.

Without --script or --frames the session runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			store, err := ctx.openCatalog()
			if err != nil {
				return err
			}
			defer store.Close()
			return runRecord(cmd, cfg, logger, store, opts)
		},
	}

	cmd.Flags().StringVar(&opts.scenePath, "scene", "", "Scene manifest (defaults to replay.scene_manifest)")
	cmd.Flags().StringVar(&opts.scriptPath, "script", "", "Input script applied frame by frame")
	cmd.Flags().Uint64Var(&opts.frames, "frames", 0, "Stop after this many frames (overrides the script length)")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "Session id (defaults to recording.session_id)")
	cmd.Flags().StringVar(&opts.participantID, "participant", "", "Participant id (defaults to recording.participant_id)")
	cmd.Flags().BoolVar(&opts.unpaced, "unpaced", false, "Run frames back to back instead of at the frame rate")
	cmd.Flags().BoolVar(&opts.skipPreflight, "skip-preflight", false, "Start without running readiness checks")
	return cmd
}

func runRecord(cmd *cobra.Command, cfg *config.Config, baseLogger *slog.Logger, store session.Catalog, opts recordOptions) error {
	sessionID := firstNonEmpty(opts.sessionID, cfg.Recording.SessionID)
	participantID := firstNonEmpty(opts.participantID, cfg.Recording.ParticipantID)
	if err := logfile.ValidateName(sessionID); err != nil {
		return fmt.Errorf("session id: %w", err)
	}
	if err := logfile.ValidateName(participantID); err != nil {
		return fmt.Errorf("participant id: %w", err)
	}
	if opts.unpaced && cfg.Capture.Enabled {
		return errors.New("--unpaced cannot be combined with external capture")
	}

	scenePath := firstNonEmpty(opts.scenePath, cfg.Replay.SceneManifest)
	if scenePath == "" {
		return errors.New("scene manifest is required (--scene or replay.scene_manifest)")
	}
	manifest, err := scene.LoadManifest(scenePath)
	if err != nil {
		return err
	}
	script, err := loadRecordScript(opts)
	if err != nil {
		return err
	}

	baseCtx := cmd.Context()

	if !opts.skipPreflight {
		if failed := preflight.Failed(preflight.RunAll(baseCtx, cfg)); len(failed) > 0 {
			lines := make([]string, 0, len(failed))
			for _, r := range failed {
				lines = append(lines, fmt.Sprintf("%s: %s", r.Name, r.Detail))
			}
			return fmt.Errorf("preflight failed:\n  %s", strings.Join(lines, "\n  "))
		}
	}

	logger, runLog, err := withRunLog(cfg, baseLogger, time.Now())
	if err != nil {
		return err
	}
	runCtx := logging.ContextWithSession(baseCtx, sessionID, participantID)
	logger = logging.WithContext(runCtx, logger)

	live := manifest.Live()
	reg := registry.New(live, live, logger)
	if err := reg.RegisterAll(scene.None); err != nil {
		return fmt.Errorf("register scene: %w", err)
	}
	writer := recording.NewWriter(recording.Options{
		Root:           cfg.Paths.RecordingsDir,
		FrameRate:      cfg.Recording.FrameRate,
		IFrameInterval: uint64(cfg.Recording.IFrameInterval),
	}, reg, logger)

	sessOpts := session.Options{
		SessionID:       sessionID,
		ParticipantID:   participantID,
		CustomVariables: cfg.Recording.CustomVariables,
		Capture: capture.GateConfig{
			Enabled:      cfg.Capture.Enabled,
			URL:          cfg.Capture.URL,
			Password:     cfg.Capture.Password,
			RetryLimit:   cfg.Capture.RetryLimit,
			ConnectDelay: cfg.ConnectDelay(),
		},
		Catalog: store,
		Logger:  logger,
	}
	if cfg.Capture.Enabled {
		sessOpts.Recorder = capture.NewOBSClient(logger)
		sessOpts.Launcher = newRecorderLauncher(cfg, logger)
	}

	sess := session.New(live, live, reg, writer, sessOpts)
	if script != nil {
		sess.SetScript(script)
	}

	sched := tick.New(tick.Config{Rate: cfg.Recording.FrameRate, Unpaced: opts.unpaced}, logger)
	logger.Info("recording session starting",
		logging.String("scene", scenePath),
		logging.String("capture", captureMode(cfg)),
		logging.String("run_log", runLog),
	)
	runErr := sess.Run(runCtx, sched)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(runCtx), shutdownTimeout)
	defer shutdownCancel()
	shutdownErr := sess.Shutdown(shutdownCtx)

	finished := sess.Finished()
	out := cmd.OutOrStdout()
	for _, summary := range finished {
		fmt.Fprintf(out, "Recorded %d frames to %s\n", summary.Frames, summary.Recording.Dir)
		fmt.Fprintf(out, "  transform rows: %d, ui rows: %d, keyframes: %d\n",
			summary.TransformRows, summary.UIRows, summary.Keyframes)
	}
	if errors.Is(runErr, context.Canceled) && len(finished) > 0 {
		runErr = nil
	}
	if err := errors.Join(runErr, shutdownErr); err != nil {
		return err
	}
	if len(finished) == 0 {
		return errors.New("no session was recorded")
	}
	return nil
}

func loadRecordScript(opts recordOptions) (*scene.Script, error) {
	var script *scene.Script
	if opts.scriptPath != "" {
		s, err := scene.LoadScript(opts.scriptPath)
		if err != nil {
			return nil, err
		}
		script = s
	}
	if opts.frames > 0 {
		if script == nil {
			script = &scene.Script{}
		}
		script.Frames = opts.frames
	}
	return script, nil
}

// newRecorderLauncher resolves the configured recorder binary. Without a
// configured path nothing is launched and the recorder must already run.
func newRecorderLauncher(cfg *config.Config, logger *slog.Logger) *capture.Launcher {
	if strings.TrimSpace(cfg.Capture.OBSPath) == "" {
		return nil
	}
	status := deps.ResolveRecorder(cfg.Capture.OBSPath)
	if !status.Available {
		logging.WarnWithContext(logger, "capture recorder binary unavailable", "capture_binary_missing",
			logging.String("detail", status.Detail),
			logging.String(logging.FieldErrorHint, "check capture.obs_path or start the recorder manually"),
		)
		return nil
	}
	launcher := capture.NewLauncher(status.Command, logger)
	launcher.KillStale = cfg.Capture.KillStale
	return launcher
}

func captureMode(cfg *config.Config) string {
	if cfg.Capture.Enabled {
		return "external"
	}
	return "local"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
