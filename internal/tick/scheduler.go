package tick

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"retrace/internal/logging"
)

// DefaultRate is the tick frequency used when none is configured.
const DefaultRate = 60

// ErrStop ends Run without reporting an error.
var ErrStop = errors.New("stop ticking")

// Step is invoked once per tick with the tick number, starting at 1.
type Step func(ctx context.Context, tick uint64) error

// Result describes one executed tick.
type Result struct {
	Tick     uint64
	Duration time.Duration
	Budget   time.Duration
	Overrun  bool
}

// Config tunes a Scheduler.
type Config struct {
	Rate int
	// Unpaced runs ticks back to back instead of waiting for the ticker,
	// for headless replays and tests.
	Unpaced bool
	// MaxTicks stops the loop after that many ticks when non-zero.
	MaxTicks uint64
	// AfterStep observes every tick.
	AfterStep func(Result)
}

// Scheduler drives a Step at a fixed rate on the calling goroutine.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
	tick   uint64
}

// New creates a scheduler. A non-positive rate falls back to DefaultRate.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{cfg: cfg, logger: logging.NewComponentLogger(logger, "scheduler")}
}

// Interval returns the duration of one tick.
func (s *Scheduler) Interval() time.Duration {
	return time.Second / time.Duration(s.cfg.Rate)
}

// Ticks returns how many ticks have run.
func (s *Scheduler) Ticks() uint64 { return s.tick }

// Run calls step once per tick until step returns an error, MaxTicks is
// reached, or ctx is done. ErrStop and MaxTicks end the loop with a nil
// error; cancellation returns the context error.
func (s *Scheduler) Run(ctx context.Context, step Step) error {
	budget := s.Interval()
	var ticker *time.Ticker
	if !s.cfg.Unpaced {
		ticker = time.NewTicker(budget)
		defer ticker.Stop()
	}
	overruns := 0
	for {
		if s.cfg.MaxTicks > 0 && s.tick >= s.cfg.MaxTicks {
			return nil
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		s.tick++
		start := time.Now()
		err := step(ctx, s.tick)
		result := Result{Tick: s.tick, Duration: time.Since(start), Budget: budget}
		result.Overrun = ticker != nil && result.Duration > budget
		if result.Overrun {
			overruns++
			if overruns == 1 || overruns%100 == 0 {
				s.logger.Warn("tick exceeded its budget",
					logging.Uint64("tick", s.tick),
					logging.Duration("duration", result.Duration),
					logging.Duration("budget", budget),
					logging.Int("overruns", overruns),
				)
			}
		}
		if s.cfg.AfterStep != nil {
			s.cfg.AfterStep(result)
		}
		if errors.Is(err, ErrStop) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
