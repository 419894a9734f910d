package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"retrace/internal/capture"
	"retrace/internal/catalog"
	"retrace/internal/logging"
	"retrace/internal/recording"
	"retrace/internal/registry"
	"retrace/internal/scene"
	"retrace/internal/tick"
)

// Catalog stores summaries of finished recordings.
type Catalog interface {
	Add(ctx context.Context, e catalog.Entry) (catalog.Entry, error)
}

// Options configures a Session.
type Options struct {
	SessionID       string
	ParticipantID   string
	CustomVariables bool

	Capture  capture.GateConfig
	Recorder capture.Recorder
	Launcher *capture.Launcher
	Catalog  Catalog
	Logger   *slog.Logger
}

// Session runs the recording side of a live scene: it applies scripted
// input, detects changes through the registry and starts and stops the
// writer through the capture gate.
type Session struct {
	opts   Options
	graph  scene.Graph
	ui     scene.UIToolkit
	reg    *registry.Registry
	writer *recording.Writer
	gate   *capture.Gate
	logger *slog.Logger

	script   *scene.Script
	external bool
	stopping bool
	finished []recording.Summary
}

var (
	_ scene.Target   = (*Session)(nil)
	_ capture.Target = (*Session)(nil)
)

// New wires a session over a live scene. The registry should already hold
// the scene's recordables.
func New(graph scene.Graph, ui scene.UIToolkit, reg *registry.Registry, writer *recording.Writer, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Session{
		opts:   opts,
		graph:  graph,
		ui:     ui,
		reg:    reg,
		writer: writer,
		logger: logging.NewComponentLogger(logger, "session"),
	}
	s.gate = capture.NewGate(opts.Capture, opts.Recorder, opts.Launcher, s, logger)
	return s
}

// SetScript attaches the input script replayed against the scene, frame by
// frame, while recording.
func (s *Session) SetScript(script *scene.Script) { s.script = script }

// Gate exposes the capture gate.
func (s *Session) Gate() *capture.Gate { return s.gate }

// Writer exposes the log writer.
func (s *Session) Writer() *recording.Writer { return s.writer }

// Finished returns the summaries of sessions ended so far.
func (s *Session) Finished() []recording.Summary { return s.finished }

// Start requests a recording session.
func (s *Session) Start(ctx context.Context) error {
	s.stopping = false
	return s.gate.RequestStart(ctx)
}

// Stop requests the end of the running session.
func (s *Session) Stop(ctx context.Context) error {
	s.stopping = true
	return s.gate.RequestStop(ctx)
}

// Begin implements capture.Target.
func (s *Session) Begin(ctx context.Context, external bool) error {
	label := "local"
	if external {
		label = "external"
	}
	s.external = external
	s.writer.SetCapture(label)
	if _, err := s.writer.BeginSession(ctx, s.opts.SessionID, s.opts.ParticipantID); err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	return nil
}

// End implements capture.Target.
func (s *Session) End(ctx context.Context) error {
	summary, err := s.writer.EndSession(ctx)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	s.finished = append(s.finished, summary)
	if s.opts.Catalog == nil {
		return nil
	}
	entry := catalog.FromSummary(summary, s.captureLabel())
	if _, err := s.opts.Catalog.Add(ctx, entry); err != nil {
		logging.WarnWithContext(s.logger, "recording not catalogued", "catalog_add_failed",
			logging.Error(err),
			logging.String(logging.FieldRecordingDir, summary.Recording.Dir),
			logging.String(logging.FieldImpact, "recording is on disk but missing from list output"),
		)
	}
	return nil
}

func (s *Session) captureLabel() string {
	if s.external {
		return "external"
	}
	return "local"
}

// Step runs one tick: the writer advances the frame, scripted input for
// that frame is applied, changes are detected and capture
// acknowledgements are processed. It returns tick.ErrStop once a requested
// stop has completed.
func (s *Session) Step(ctx context.Context, _ uint64) error {
	s.writer.Tick()
	if s.writer.Recording() && s.script != nil {
		frame := s.writer.Frame()
		if err := s.script.Apply(frame, s); err != nil {
			logging.WarnWithContext(s.logger, "script action failed", "script_action_failed",
				logging.Error(err),
				logging.Uint64(logging.FieldFrame, frame),
			)
		}
	}
	s.reg.Tick()
	if err := s.gate.Tick(ctx); err != nil {
		return err
	}
	if err := s.writer.Err(); err != nil && !s.writer.Recording() {
		return err
	}
	if s.script != nil && !s.stopping && s.writer.Recording() && s.writer.Frame() >= s.script.Frames {
		if err := s.Stop(ctx); err != nil {
			return err
		}
	}
	if s.stopping && s.gate.Phase() == capture.PhaseIdle {
		return tick.ErrStop
	}
	return nil
}

// Run starts a session unless one is already requested and ticks until it
// has stopped or ctx is done.
func (s *Session) Run(ctx context.Context, sched *tick.Scheduler) error {
	if s.gate.Phase() == capture.PhaseIdle {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
	return sched.Run(ctx, s.Step)
}

// Shutdown stops any running session, waiting for the external recorder to
// acknowledge until ctx is done, and releases the capture resources.
func (s *Session) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.Stop(ctx); err != nil && !errors.Is(err, capture.ErrGateBusy) {
		errs = append(errs, err)
	}
	for s.gate.Busy() && ctx.Err() == nil {
		if err := s.gate.Tick(ctx); err != nil {
			errs = append(errs, err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Millisecond):
		}
	}
	if s.writer.Recording() {
		logging.WarnWithContext(s.logger, "closing session without capture acknowledgement", "capture_stop_timeout",
			logging.String(logging.FieldImpact, "external capture may still be running"),
		)
		if err := s.End(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.gate.Close())
	return errors.Join(errs...)
}

func (s *Session) find(path string) (scene.Handle, error) {
	h, ok := s.graph.Find(scene.None, path)
	if !ok {
		return scene.None, fmt.Errorf("no object at %s", path)
	}
	return h, nil
}

// Spawn implements scene.Target.
func (s *Session) Spawn(resource, name, parent string, t scene.Transform) error {
	h, err := s.graph.Instantiate(resource)
	if err != nil {
		return err
	}
	if name != "" {
		s.graph.SetName(h, name)
	}
	if parent != "" {
		p, err := s.find(parent)
		if err != nil {
			s.graph.Destroy(h)
			return err
		}
		s.graph.SetParent(h, p)
	}
	s.graph.SetLocalTransform(h, t)
	return s.reg.RegisterAll(h)
}

// Destroy implements scene.Target.
func (s *Session) Destroy(path string) error {
	h, err := s.find(path)
	if err != nil {
		return err
	}
	s.reg.NotifyDestroyed(h)
	s.graph.Destroy(h)
	return nil
}

// SetActive implements scene.Target. Every recordable in the subtree whose
// effective activity changes is reported.
func (s *Session) SetActive(path string, active bool) error {
	h, err := s.find(path)
	if err != nil {
		return err
	}
	infos := s.graph.Recordables(h)
	before := make([]bool, len(infos))
	for i, info := range infos {
		before[i] = s.graph.ActiveInHierarchy(info.Handle)
	}
	s.graph.SetActive(h, active)
	for i, info := range infos {
		now := s.graph.ActiveInHierarchy(info.Handle)
		switch {
		case now && !before[i]:
			s.reg.NotifyActivated(info.Handle)
		case !now && before[i]:
			s.reg.NotifyDeactivated(info.Handle)
		}
	}
	return nil
}

// Move implements scene.Target.
func (s *Session) Move(path string, t scene.Transform) error {
	h, err := s.find(path)
	if err != nil {
		return err
	}
	s.graph.SetLocalTransform(h, t)
	return nil
}

// SetPosition implements scene.Target.
func (s *Session) SetPosition(path string, p scene.Vec3) error {
	h, err := s.find(path)
	if err != nil {
		return err
	}
	t := s.graph.LocalTransform(h)
	t.Position = p
	s.graph.SetLocalTransform(h, t)
	return nil
}

// SetUI implements scene.Target.
func (s *Session) SetUI(path string, v scene.UIValue) error {
	if s.ui == nil {
		return errors.New("scene has no UI toolkit")
	}
	h, err := s.find(path)
	if err != nil {
		return err
	}
	s.ui.SetValue(h, v)
	return nil
}

// Click implements scene.Target.
func (s *Session) Click(path string) error {
	return s.SetUI(path, scene.Click())
}

// Variable implements scene.Target.
func (s *Session) Variable(class, name, value string) error {
	if s.opts.CustomVariables {
		s.writer.RecordCustomVariable(class, name, value)
	}
	return nil
}
