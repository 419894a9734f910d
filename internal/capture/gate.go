package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"retrace/internal/logging"
)

// Defaults for GateConfig.
const (
	DefaultRetryLimit   = 5
	DefaultConnectDelay = 3 * time.Second
)

// ErrGateBusy is returned for commands that conflict with a pending
// acknowledgement.
var ErrGateBusy = errors.New("capture gate is awaiting an acknowledgement")

// Phase is the state of a Gate.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseAwaitingStart
	PhaseRecording
	PhaseAwaitingStop
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseAwaitingStart:
		return "awaiting_start"
	case PhaseRecording:
		return "recording"
	case PhaseAwaitingStop:
		return "awaiting_stop"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Target is what the gate starts and stops once the external recorder has
// confirmed. external reports whether an external capture is running
// alongside.
type Target interface {
	Begin(ctx context.Context, external bool) error
	End(ctx context.Context) error
}

// GateConfig configures a Gate.
type GateConfig struct {
	Enabled      bool
	URL          string
	Password     string
	RetryLimit   int
	ConnectDelay time.Duration
	Now          func() time.Time
}

// Gate sequences session start and stop on the external recorder's
// acknowledgements. Commands and Tick must be called from the tick loop;
// acknowledgements are buffered and only acted on inside Tick.
type Gate struct {
	cfg      GateConfig
	rec      Recorder
	launcher *Launcher
	target   Target
	logger   *slog.Logger

	phase    Phase
	external bool
	attempts int
	next     time.Time
	dialing  bool

	results chan Event
	wg      sync.WaitGroup
}

// NewGate wires a gate. rec and launcher may be nil; without a recorder or
// with capture disabled the gate starts and stops the target directly.
func NewGate(cfg GateConfig, rec Recorder, launcher *Launcher, target Target, logger *slog.Logger) *Gate {
	if cfg.RetryLimit < 0 {
		cfg.RetryLimit = 0
	}
	if cfg.ConnectDelay < 0 {
		cfg.ConnectDelay = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gate{
		cfg:      cfg,
		rec:      rec,
		launcher: launcher,
		target:   target,
		logger:   logging.NewComponentLogger(logger, "capture_gate"),
		results:  make(chan Event, eventBuffer),
	}
}

// Phase returns the current state.
func (g *Gate) Phase() Phase { return g.phase }

// External reports whether the running session has an external capture.
func (g *Gate) External() bool { return g.external }

// Busy reports whether an acknowledgement is pending.
func (g *Gate) Busy() bool {
	return g.phase == PhaseConnecting || g.phase == PhaseAwaitingStart || g.phase == PhaseAwaitingStop
}

func (g *Gate) enabled() bool { return g.cfg.Enabled && g.rec != nil }

// RequestStart begins a session. With capture enabled the target starts
// only after the recorder confirms; otherwise it starts immediately.
func (g *Gate) RequestStart(ctx context.Context) error {
	switch g.phase {
	case PhaseRecording:
		return nil
	case PhaseIdle:
	default:
		return ErrGateBusy
	}
	if !g.enabled() {
		return g.begin(ctx, false)
	}
	if err := g.launcher.Start(ctx); err != nil {
		logging.WarnWithContext(g.logger, "capture recorder launch failed", "capture_launch_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check capture.obs_path"),
		)
	}
	g.phase = PhaseConnecting
	g.attempts = 0
	g.next = g.cfg.Now().Add(g.cfg.ConnectDelay)
	g.logger.Info("waiting for capture recorder", logging.String("url", g.cfg.URL))
	return nil
}

// RequestStop ends a session. With an external capture the target stops
// only after the recorder confirms. A start that is still pending is
// abandoned.
func (g *Gate) RequestStop(ctx context.Context) error {
	switch g.phase {
	case PhaseIdle:
		return nil
	case PhaseAwaitingStop:
		return ErrGateBusy
	case PhaseConnecting, PhaseAwaitingStart:
		g.phase = PhaseIdle
		g.logger.Info("pending capture start abandoned")
		return nil
	}
	if !g.external {
		return g.end(ctx)
	}
	g.phase = PhaseAwaitingStop
	g.async(ctx, Stopped, g.rec.StopRecording)
	return nil
}

// Tick consumes buffered acknowledgements and drives connection retries.
// Errors come from starting or stopping the target.
func (g *Gate) Tick(ctx context.Context) error {
	var errs []error
	for {
		ev, ok := g.poll()
		if !ok {
			break
		}
		if err := g.handle(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if g.phase == PhaseConnecting && !g.dialing && !g.cfg.Now().Before(g.next) {
		g.dial(ctx)
	}
	return errors.Join(errs...)
}

func (g *Gate) poll() (Event, bool) {
	select {
	case ev := <-g.results:
		return ev, true
	default:
	}
	if g.rec == nil {
		return Event{}, false
	}
	select {
	case ev := <-g.rec.Events():
		return ev, true
	default:
		return Event{}, false
	}
}

func (g *Gate) dial(ctx context.Context) {
	g.dialing = true
	g.attempts++
	attempt := g.attempts
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		err := g.rec.Connect(ctx, g.cfg.URL, g.cfg.Password)
		ev := Event{Kind: Connected, At: time.Now()}
		if err != nil {
			ev = Event{Kind: Failed, Err: &connectError{attempt: attempt, err: err}, At: time.Now()}
		}
		g.results <- ev
	}()
}

type connectError struct {
	attempt int
	err     error
}

func (e *connectError) Error() string { return fmt.Sprintf("connect attempt %d: %v", e.attempt, e.err) }
func (e *connectError) Unwrap() error { return e.err }

// async runs a recorder command off the tick loop. A failure is reported as
// a Failed event; success is confirmed by the recorder's own event.
func (g *Gate) async(ctx context.Context, awaited EventKind, cmd func(context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := cmd(ctx); err != nil {
			g.results <- Event{Kind: Failed, Err: fmt.Errorf("awaiting %s: %w", awaited, err), At: time.Now()}
		}
	}()
}

func (g *Gate) handle(ctx context.Context, ev Event) error {
	g.logger.Debug("capture event",
		logging.String("event", ev.Kind.String()),
		logging.String("phase", g.phase.String()),
	)
	var connErr *connectError
	switch {
	case ev.Kind == Connected:
		g.dialing = false
		if g.phase == PhaseConnecting {
			g.phase = PhaseAwaitingStart
			g.async(ctx, Started, g.rec.StartRecording)
		}
	case ev.Kind == Failed && errors.As(ev.Err, &connErr):
		g.dialing = false
		if g.phase != PhaseConnecting {
			return nil
		}
		if connErr.attempt > g.cfg.RetryLimit {
			return g.fallback(ctx, ev.Err)
		}
		g.logger.Warn("capture recorder connection failed, retrying",
			logging.Int("attempt", connErr.attempt),
			logging.Int("retries_left", g.cfg.RetryLimit-connErr.attempt+1),
			logging.Error(connErr.err),
		)
		g.next = g.cfg.Now().Add(g.cfg.ConnectDelay)
	case ev.Kind == Started:
		if g.phase == PhaseAwaitingStart {
			return g.begin(ctx, true)
		}
	case ev.Kind == Stopped:
		switch g.phase {
		case PhaseAwaitingStop:
			return g.end(ctx)
		case PhaseRecording:
			logging.WarnWithContext(g.logger, "capture recorder stopped on its own", "capture_stopped_early",
				logging.String(logging.FieldImpact, "session continues without external capture"),
			)
			g.external = false
		}
	case ev.Kind == Failed:
		switch g.phase {
		case PhaseAwaitingStart:
			return g.fallback(ctx, ev.Err)
		case PhaseAwaitingStop:
			logging.WarnWithContext(g.logger, "capture recorder did not stop", "capture_stop_failed", logging.Error(ev.Err))
			return g.end(ctx)
		}
	case ev.Kind == Disconnected:
		switch g.phase {
		case PhaseAwaitingStart:
			return g.fallback(ctx, ev.Err)
		case PhaseAwaitingStop:
			return g.end(ctx)
		case PhaseRecording:
			if g.external {
				logging.WarnWithContext(g.logger, "capture recorder disconnected during session", "capture_disconnected",
					logging.String(logging.FieldImpact, "session continues without external capture"),
				)
				g.external = false
			}
		}
	}
	return nil
}

func (g *Gate) fallback(ctx context.Context, cause error) error {
	logging.WarnWithContext(g.logger, "recording without external capture", "capture_unavailable",
		logging.Error(fmt.Errorf("%w: %v", ErrCaptureUnavailable, cause)),
		logging.Int("attempts", g.attempts),
		logging.String(logging.FieldImpact, "no screen capture for this session"),
	)
	return g.begin(ctx, false)
}

func (g *Gate) begin(ctx context.Context, external bool) error {
	if err := g.target.Begin(ctx, external); err != nil {
		g.phase = PhaseIdle
		g.external = false
		return err
	}
	g.phase = PhaseRecording
	g.external = external
	return nil
}

func (g *Gate) end(ctx context.Context) error {
	g.phase = PhaseIdle
	g.external = false
	return g.target.End(ctx)
}

// Close waits for outstanding recorder commands and releases the recorder
// and any launched process.
func (g *Gate) Close() error {
	var errs []error
	if g.rec != nil {
		errs = append(errs, g.rec.Close())
	}
	g.wg.Wait()
	errs = append(errs, g.launcher.Stop())
	return errors.Join(errs...)
}
