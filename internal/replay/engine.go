package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"retrace/internal/logfile"
	"retrace/internal/logging"
	"retrace/internal/logindex"
	"retrace/internal/tick"
)

var (
	// ErrNoRecordingFound is returned when no transform log can be located.
	ErrNoRecordingFound = errors.New("no recording found")
	// ErrSeekInProgress is returned for a seek requested while another is
	// still running.
	ErrSeekInProgress = errors.New("seek already in progress")
	// ErrNotOpen is returned by playback controls before Open succeeds.
	ErrNotOpen = errors.New("no recording open")
)

// Mode is the playback state of an Engine.
type Mode int

const (
	Idle Mode = iota
	Paused
	Playing
	Seeking
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Paused:
		return "paused"
	case Playing:
		return "playing"
	case Seeking:
		return "seeking"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Options configures an Engine. Zero values fall back to the recording's
// manifest and then to the recorder defaults.
type Options struct {
	FrameRate      int
	IFrameInterval uint64
}

// Counters accumulates per-row outcomes since Open.
type Counters struct {
	TransformRows int
	UIRows        int
	Malformed     int
	Unresolvable  int
}

// Engine plays a recording back into a State one frame per Tick. Playback
// controls may be called from any goroutine.
type Engine struct {
	state  *State
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	seeking atomic.Bool

	mode        Mode
	initialized bool
	cur         uint64

	rec        logfile.Recording
	files      []*os.File
	transforms *stream[logfile.TransformRow]
	uiRows     *stream[logfile.UIRow]
	tIndex     *logindex.Index
	uIndex     *logindex.Index
	counters   Counters
}

// NewEngine creates an idle engine driving state.
func NewEngine(state *State, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{state: state, opts: opts, logger: logging.NewComponentLogger(logger, "replay")}
}

// OpenLatest opens the most recent recording under root.
func (e *Engine) OpenLatest(ctx context.Context, root string) error {
	rec, err := logfile.FindLatest(root)
	if err != nil {
		if errors.Is(err, logfile.ErrNoRecording) {
			return fmt.Errorf("%w under %s", ErrNoRecordingFound, root)
		}
		return err
	}
	return e.Open(ctx, rec)
}

// Open indexes and opens the logs of rec. An empty or missing UI log is
// treated as a recording without interactions.
func (e *Engine) Open(ctx context.Context, rec logfile.Recording) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tIdx, err := logindex.BuildFile(rec.TransformPath(), logfile.KindTransform)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoRecordingFound, rec.TransformPath())
		}
		return err
	}
	if tIdx.Truncated {
		logging.WarnWithContext(e.logger, "transform log index stopped early", "replay_index_truncated",
			logging.String("path", rec.TransformPath()),
			logging.Int64("offset", tIdx.StopOffset),
			logging.String(logging.FieldImpact, "rows after the offset are not seekable"),
		)
	}
	tFile, err := os.Open(rec.TransformPath())
	if err != nil {
		return err
	}

	uIdx := &logindex.Index{Offsets: map[uint64]int64{}}
	var uFile *os.File
	built, err := logindex.BuildFile(rec.UIPath(), logfile.KindUI)
	switch {
	case err == nil:
		uIdx = built
		if uFile, err = os.Open(rec.UIPath()); err != nil {
			tFile.Close()
			return err
		}
	case errors.Is(err, logindex.ErrEmptyLog), errors.Is(err, os.ErrNotExist):
		e.logger.Debug("recording has no ui events", logging.String("path", rec.UIPath()))
	default:
		tFile.Close()
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeFiles()
	e.rec = rec
	e.tIndex = tIdx
	e.uIndex = uIdx
	e.files = []*os.File{tFile}
	e.transforms = newStream(tFile, logfile.KindTransform, logfile.ParseTransformLine,
		func(r logfile.TransformRow) uint64 { return r.Frame })
	e.transforms.malformed = e.onMalformed(logfile.KindTransform)
	var uSrc io.ReadSeeker
	if uFile != nil {
		e.files = append(e.files, uFile)
		uSrc = uFile
	}
	e.uiRows = newStream(uSrc, logfile.KindUI, logfile.ParseUILine,
		func(r logfile.UIRow) uint64 { return r.Frame })
	e.uiRows.malformed = e.onMalformed(logfile.KindUI)

	if e.opts.IFrameInterval == 0 || e.opts.FrameRate == 0 {
		if m, err := logfile.ReadManifest(rec.ManifestPath()); err == nil {
			if e.opts.IFrameInterval == 0 && m.IFrameInterval > 0 {
				e.opts.IFrameInterval = uint64(m.IFrameInterval)
			}
			if e.opts.FrameRate == 0 {
				e.opts.FrameRate = m.FrameRate
			}
		}
	}
	if e.opts.IFrameInterval == 0 {
		e.opts.IFrameInterval = 250
	}
	if e.opts.FrameRate <= 0 {
		e.opts.FrameRate = tick.DefaultRate
	}

	e.mode = Idle
	e.initialized = false
	e.cur = 0
	e.counters = Counters{}
	e.logger.Info("recording opened",
		logging.String(logging.FieldRecordingDir, rec.Dir),
		logging.Uint64("max_frame", tIdx.MaxFrame),
		logging.Int("transform_rows", tIdx.Rows),
		logging.Int("ui_rows", uIdx.Rows),
	)
	return nil
}

func (e *Engine) onMalformed(kind logfile.Kind) func(*logfile.MalformedRowError) {
	return func(err *logfile.MalformedRowError) {
		e.counters.Malformed++
		logging.WarnWithContext(e.logger, "skipping malformed row", "replay_malformed_row",
			logging.String("log", kind.String()),
			logging.Int64("offset", err.Offset),
			logging.String("reason", err.Reason),
		)
	}
}

// Close releases the open log files.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = Idle
	e.initialized = false
	return e.closeFiles()
}

func (e *Engine) closeFiles() error {
	var errs []error
	for _, f := range e.files {
		errs = append(errs, f.Close())
	}
	e.files = nil
	return errors.Join(errs...)
}

// Mode returns the playback state.
func (e *Engine) Mode() Mode {
	if e.seeking.Load() {
		return Seeking
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// CurrentFrame returns the next frame Tick will apply.
func (e *Engine) CurrentFrame() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur
}

// TotalFrames returns the last frame of the transform log.
func (e *Engine) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tIndex == nil {
		return 0
	}
	return e.tIndex.MaxFrame
}

// FrameRate returns the playback rate in frames per second.
func (e *Engine) FrameRate() int { return e.opts.FrameRate }

// Counters returns the row outcomes since Open.
func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// State returns the replay state the engine drives.
func (e *Engine) State() *State { return e.state }

// Recording returns the open recording.
func (e *Engine) Recording() logfile.Recording { return e.rec }

// Play starts or resumes playback. Starting from Idle rebuilds the replay
// copy and rewinds both logs to frame 0.
func (e *Engine) Play() error {
	if e.seeking.Load() {
		return ErrSeekInProgress
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.transforms == nil {
		return ErrNotOpen
	}
	switch e.mode {
	case Playing:
		return nil
	case Paused:
		e.mode = Playing
		e.logger.Debug("replay resumed", logging.Uint64(logging.FieldFrame, e.cur))
		return nil
	}
	if !e.initialized {
		if err := e.initialize(); err != nil {
			return err
		}
	}
	e.mode = Playing
	e.logger.Info("replay started", logging.String(logging.FieldRecordingDir, e.rec.Dir))
	return nil
}

func (e *Engine) initialize() error {
	if err := e.state.ResetToFreshCopy(); err != nil {
		return err
	}
	if err := e.transforms.rewind(); err != nil {
		return fmt.Errorf("rewind transform log: %w", err)
	}
	if err := e.uiRows.rewind(); err != nil {
		return fmt.Errorf("rewind ui log: %w", err)
	}
	e.cur = 0
	e.initialized = true
	return nil
}

// Pause halts playback, keeping the current frame.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == Playing {
		e.mode = Paused
	}
}

// Stop returns to Idle and discards read-ahead. The next Play starts over.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stop()
}

func (e *Engine) stop() {
	e.mode = Idle
	e.initialized = false
	if e.transforms != nil {
		e.transforms.exhaust()
		e.uiRows.exhaust()
	}
}

// Tick applies every row of the current frame, transforms before UI, and
// advances one frame. It returns to Idle once both logs are exhausted.
func (e *Engine) Tick() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.DestroyPending()
	if e.mode != Playing {
		return nil
	}
	if !e.initialized {
		if err := e.initialize(); err != nil {
			return err
		}
	}
	e.drainTransforms(e.cur, nil)
	e.drainUI(e.cur)
	if err := e.streamErr(); err != nil {
		e.stop()
		return err
	}
	e.cur++
	if e.transforms.exhausted() && e.uiRows.exhausted() {
		e.stop()
		s := e.state.Stats()
		e.logger.Info("replay finished",
			logging.Uint64(logging.FieldFrame, e.cur),
			logging.Int("malformed_rows", e.counters.Malformed),
			logging.Int("unresolvable_rows", e.counters.Unresolvable),
			logging.Int("instantiated", s.Instantiated),
		)
	}
	return nil
}

func (e *Engine) streamErr() error {
	if err := e.transforms.err; err != nil {
		return fmt.Errorf("read transform log: %w", err)
	}
	if err := e.uiRows.err; err != nil {
		return fmt.Errorf("read ui log: %w", err)
	}
	return nil
}

// drainTransforms applies transform rows up to and including limit. When
// seen is non-nil every consumed row's identifier is added to it.
func (e *Engine) drainTransforms(limit uint64, seen map[string]struct{}) {
	for {
		row, ok := e.transforms.peek()
		if !ok || row.Frame > limit {
			return
		}
		e.transforms.pop()
		if seen != nil {
			seen[row.ID] = struct{}{}
		}
		e.counters.TransformRows++
		if err := e.state.ApplyTransformRow(row); err != nil {
			e.rowFailed(logfile.KindTransform, row.Frame, row.ID, err)
		}
	}
}

func (e *Engine) drainUI(limit uint64) {
	for {
		row, ok := e.uiRows.peek()
		if !ok || row.Frame > limit {
			return
		}
		e.uiRows.pop()
		e.counters.UIRows++
		if err := e.state.ApplyUIRow(row); err != nil {
			e.rowFailed(logfile.KindUI, row.Frame, row.ID, err)
		}
	}
}

func (e *Engine) rowFailed(kind logfile.Kind, frame uint64, id string, err error) {
	event := "replay_row_failed"
	switch {
	case errors.Is(err, ErrUnresolvable):
		e.counters.Unresolvable++
		event = "replay_unresolvable_reference"
	case isMalformed(err):
		e.counters.Malformed++
		event = "replay_malformed_row"
	}
	logging.WarnWithContext(e.logger, "replay row dropped", event,
		logging.String("log", kind.String()),
		logging.Uint64(logging.FieldFrame, frame),
		logging.String(logging.FieldEntityID, id),
		logging.Error(err),
	)
}

func isMalformed(err error) bool {
	var mre *logfile.MalformedRowError
	return errors.As(err, &mre)
}

// Seek jumps to fraction of the timeline. The replay copy is rebuilt from
// the nearest keyframe at or before the target, bound objects absent from
// that keyframe are evicted, and rows up to the target are applied. A seek
// requested while another runs returns ErrSeekInProgress.
func (e *Engine) Seek(fraction float64) error {
	if !e.seeking.CompareAndSwap(false, true) {
		return ErrSeekInProgress
	}
	defer e.seeking.Store(false)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.transforms == nil {
		return ErrNotOpen
	}
	prev := e.mode
	e.mode = Seeking
	err := e.seek(fraction)
	if err != nil {
		e.mode = prev
		return err
	}
	e.mode = Playing
	return nil
}

func (e *Engine) seek(fraction float64) error {
	target := logindex.TargetFrame(fraction, e.tIndex.MaxFrame)
	key := logindex.KeyframeAtOrBefore(target, e.opts.IFrameInterval)
	if err := e.state.ResetToFreshCopy(); err != nil {
		return err
	}
	e.initialized = true

	if off, ok := e.tIndex.Offset(key); ok {
		if err := e.transforms.seek(off); err != nil {
			return fmt.Errorf("seek transform log: %w", err)
		}
		seen := make(map[string]struct{})
		e.drainTransforms(key, seen)
		evicted := e.state.Evict(seen)
		ref, _ := e.tIndex.AtOrBefore(target)
		e.drainTransforms(ref, nil)
		e.logger.Debug("seek applied keyframe",
			logging.Uint64("keyframe", key),
			logging.Uint64("target", target),
			logging.Int("evicted", evicted),
		)
	} else {
		e.state.Evict(nil)
		if err := seekAtOrAfter(e.transforms, e.tIndex, key); err != nil {
			return fmt.Errorf("seek transform log: %w", err)
		}
		e.drainTransforms(target, nil)
		logging.WarnWithContext(e.logger, "no keyframe at seek boundary", "replay_keyframe_missing",
			logging.Uint64("keyframe", key),
			logging.String(logging.FieldImpact, "objects not logged after the boundary are absent"),
		)
	}

	if err := seekAtOrAfter(e.uiRows, e.uIndex, key); err != nil {
		return fmt.Errorf("seek ui log: %w", err)
	}
	e.drainUI(target)
	if err := e.streamErr(); err != nil {
		return err
	}
	e.cur = target
	return nil
}

func seekAtOrAfter[T any](s *stream[T], idx *logindex.Index, frame uint64) error {
	f, ok := idx.AtOrAfter(frame)
	if !ok {
		s.exhaust()
		return nil
	}
	off, _ := idx.Offset(f)
	return s.seek(off)
}

// Run drives Tick from a scheduler until playback returns to Idle or ctx
// ends.
func (e *Engine) Run(ctx context.Context, sched *tick.Scheduler) error {
	return sched.Run(ctx, func(context.Context, uint64) error {
		if err := e.Tick(); err != nil {
			return err
		}
		if e.Mode() == Idle {
			return tick.ErrStop
		}
		return nil
	})
}
