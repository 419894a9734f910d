package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"retrace/internal/logfile"
	"retrace/internal/logging"
	"retrace/internal/registry"
	"retrace/internal/scene"
)

// Defaults applied when Options leave a field zero.
const (
	DefaultFrameRate      = 60
	DefaultIFrameInterval = 250
)

var (
	// ErrNotRecording is returned by EndSession when no session is open.
	ErrNotRecording = errors.New("not recording")
	// ErrAlreadyRecording is returned by BeginSession during a session.
	ErrAlreadyRecording = errors.New("already recording")
	errFolderLocked     = errors.New("recording folder is locked by another process")
)

// IOFailure reports a filesystem error that ended or prevented a session.
type IOFailure struct {
	Op   string
	Path string
	Err  error
}

func (e *IOFailure) Error() string {
	return fmt.Sprintf("recording %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOFailure) Unwrap() error { return e.Err }

// Options configures a Writer.
type Options struct {
	// Root is the Recordings directory.
	Root           string
	FrameRate      int
	IFrameInterval uint64
	// Capture labels how the session was captured ("local" or "external").
	Capture string
	Now     func() time.Time
}

// Summary describes a finished or running session.
type Summary struct {
	Recording     logfile.Recording
	Frames        uint64
	TransformRows int64
	UIRows        int64
	CustomRows    int64
	Keyframes     int
	StartedAt     time.Time
	EndedAt       time.Time
}

// Writer owns the log files of one recording session at a time. It is
// driven by a single tick loop and is not safe for concurrent use.
type Writer struct {
	opts   Options
	reg    *registry.Registry
	logger *slog.Logger

	tick        uint64
	frameOffset uint64
	recording   bool

	rec       logfile.Recording
	lock      *flock.Flock
	transform *logfile.Writer
	ui        *logfile.Writer
	custom    *logfile.Writer
	keyframes int
	startedAt time.Time
	failure   error
}

var _ registry.Sink = (*Writer)(nil)

// NewWriter creates a writer fed by reg and attaches itself as the
// registry's sink.
func NewWriter(opts Options, reg *registry.Registry, logger *slog.Logger) *Writer {
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultFrameRate
	}
	if opts.IFrameInterval == 0 {
		opts.IFrameInterval = DefaultIFrameInterval
	}
	if opts.Capture == "" {
		opts.Capture = "local"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Writer{opts: opts, reg: reg, logger: logging.NewComponentLogger(logger, "recorder")}
	reg.SetSink(w)
	return w
}

// Recording reports whether a session is open.
func (w *Writer) Recording() bool { return w.recording }

// Frame returns the current frame number relative to the session start.
func (w *Writer) Frame() uint64 { return w.tick - w.frameOffset }

// Ticks returns the absolute tick counter.
func (w *Writer) Ticks() uint64 { return w.tick }

// Folder returns the current or most recent recording folder.
func (w *Writer) Folder() logfile.Recording { return w.rec }

// SetCapture changes the capture label written to the next manifest.
func (w *Writer) SetCapture(label string) { w.opts.Capture = label }

// Err returns the failure that aborted the last session, if any.
func (w *Writer) Err() error { return w.failure }

// BeginSession creates the recording folder, opens the logs, writes their
// headers and manifest, and logs the opening snapshot at frame 0. Any
// failure closes whatever was opened and leaves the writer idle.
func (w *Writer) BeginSession(ctx context.Context, sessionID, participantID string) (logfile.Recording, error) {
	if w.recording {
		return logfile.Recording{}, ErrAlreadyRecording
	}
	if err := ctx.Err(); err != nil {
		return logfile.Recording{}, err
	}
	w.failure = nil
	now := w.opts.Now()
	rec, err := logfile.CreateFolder(w.opts.Root, sessionID, participantID, now)
	if err != nil {
		return logfile.Recording{}, &IOFailure{Op: "create folder", Path: filepath.Join(w.opts.Root, sessionID, participantID), Err: err}
	}
	if err := w.open(rec); err != nil {
		w.closeFiles()
		w.unlock()
		return logfile.Recording{}, err
	}
	w.rec = rec
	w.startedAt = now
	w.keyframes = 0
	if err := w.writeManifest(nil); err != nil {
		w.closeFiles()
		w.unlock()
		return logfile.Recording{}, err
	}

	w.frameOffset = w.tick
	w.recording = true
	w.logger.Info("recording started",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldParticipantID, participantID),
		logging.String(logging.FieldRecordingDir, rec.Dir),
		logging.Int("entities", w.reg.Len()),
	)

	for _, e := range w.reg.Entities() {
		status := logfile.Instantiated
		if !e.Active {
			status = logfile.Deactivated
		}
		w.RecordTransform(e, status)
	}
	w.dumpUI()
	w.reg.SetLogged(true)
	w.flush()
	if w.failure != nil {
		return logfile.Recording{}, w.failure
	}
	return rec, nil
}

func (w *Writer) open(rec logfile.Recording) error {
	lockPath := filepath.Join(rec.Dir, logfile.LockFile)
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return &IOFailure{Op: "lock", Path: lockPath, Err: err}
	}
	if !ok {
		return &IOFailure{Op: "lock", Path: lockPath, Err: errFolderLocked}
	}
	w.lock = lock

	open := func(kind logfile.Kind) (*logfile.Writer, error) {
		lw, err := logfile.Create(kind, rec.Path(kind))
		if err != nil {
			return nil, &IOFailure{Op: "create " + kind.String() + " log", Path: rec.Path(kind), Err: err}
		}
		return lw, nil
	}
	if w.transform, err = open(logfile.KindTransform); err != nil {
		return err
	}
	if w.ui, err = open(logfile.KindUI); err != nil {
		return err
	}
	if w.custom, err = open(logfile.KindCustom); err != nil {
		return err
	}
	return nil
}

func (w *Writer) writeManifest(ended *time.Time) error {
	m := logfile.Manifest{
		SchemaVersion:  logfile.SchemaVersion,
		SessionID:      w.rec.SessionID,
		ParticipantID:  w.rec.ParticipantID,
		FrameRate:      w.opts.FrameRate,
		IFrameInterval: int(w.opts.IFrameInterval),
		Capture:        w.opts.Capture,
		StartedAt:      w.startedAt,
		EndedAt:        ended,
	}
	if ended != nil {
		m.Frames = w.Frame()
		m.TransformRows = rows(w.transform)
		m.UIRows = rows(w.ui)
		m.CustomRows = rows(w.custom)
	}
	if err := logfile.WriteManifest(w.rec.ManifestPath(), m); err != nil {
		return &IOFailure{Op: "write manifest", Path: w.rec.ManifestPath(), Err: err}
	}
	return nil
}

func rows(lw *logfile.Writer) int64 {
	if lw == nil {
		return 0
	}
	return lw.Rows()
}

// RecordTransform appends a transform row. It does nothing outside a
// session.
func (w *Writer) RecordTransform(e registry.Entity, status logfile.Status) {
	if !w.recording {
		return
	}
	row := logfile.TransformRow{
		Frame:        w.Frame(),
		Name:         e.Name,
		Status:       status,
		Transform:    e.Transform,
		ResourcePath: e.ResourcePath,
		ID:           e.ID,
		Hierarchy:    e.HierarchyPath,
	}
	w.write(w.transform, row.Record())
}

// RecordUIEvent appends a UI row. It does nothing outside a session.
func (w *Writer) RecordUIEvent(el registry.Element, v scene.UIValue) {
	if !w.recording {
		return
	}
	v.Kind = el.Kind
	row := logfile.UIRow{
		Frame:     w.Frame(),
		Kind:      el.Kind,
		Value:     logfile.FormatUIValue(v),
		Hierarchy: el.HierarchyPath,
		ID:        el.ID,
	}
	w.write(w.ui, row.Record())
}

// RecordCustomVariable appends a custom variable row. It does nothing
// outside a session.
func (w *Writer) RecordCustomVariable(class, name string, value any) {
	if !w.recording {
		return
	}
	row := logfile.CustomRow{Frame: w.Frame(), Class: class, Variable: name, Value: fmt.Sprint(value)}
	w.write(w.custom, row.Record())
}

func (w *Writer) write(lw *logfile.Writer, record []string) {
	if err := lw.Write(record); err != nil {
		w.abort(&IOFailure{Op: "write", Path: lw.Path(), Err: err})
	}
}

// Tick advances the frame counter. Within a session, every IFrameInterval
// frames it writes a keyframe holding the state of every tracked entity and
// stateful control. Buffered rows are flushed so readers can follow the
// growing files.
func (w *Writer) Tick() {
	w.tick++
	if !w.recording {
		return
	}
	if w.Frame()%w.opts.IFrameInterval == 0 {
		w.writeKeyframe()
	}
	w.flush()
}

func (w *Writer) writeKeyframe() {
	for _, e := range w.reg.Entities() {
		status := logfile.IFrameActive
		if !e.Active {
			status = logfile.IFrameInactive
		}
		w.RecordTransform(e, status)
	}
	w.dumpUI()
	w.keyframes++
	w.logger.Debug("keyframe written", logging.Uint64(logging.FieldFrame, w.Frame()))
}

func (w *Writer) dumpUI() {
	for _, el := range w.reg.Elements() {
		if el.Kind.Stateful() {
			w.RecordUIEvent(el, el.Value)
		}
	}
}

func (w *Writer) flush() {
	if !w.recording {
		return
	}
	for _, lw := range []*logfile.Writer{w.transform, w.ui, w.custom} {
		if err := lw.Flush(); err != nil {
			w.abort(&IOFailure{Op: "flush", Path: lw.Path(), Err: err})
			return
		}
	}
}

// abort ends a session after a write failure. Further records are dropped.
func (w *Writer) abort(err error) {
	if w.failure == nil {
		w.failure = err
	}
	if !w.recording {
		return
	}
	w.recording = false
	w.reg.SetLogged(false)
	w.closeFiles()
	w.unlock()
	logging.ErrorWithContext(w.logger, "recording aborted", "recording_io_failure",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check free space and permissions of the recordings directory"),
		logging.String(logging.FieldRecordingDir, w.rec.Dir),
	)
}

// EndSession writes a Destroyed row for every tracked entity and a final
// control dump, then closes the logs and completes the manifest.
func (w *Writer) EndSession(context.Context) (Summary, error) {
	if !w.recording {
		if w.failure != nil {
			return Summary{}, w.failure
		}
		return Summary{}, ErrNotRecording
	}
	for _, e := range w.reg.Entities() {
		w.RecordTransform(e, logfile.Destroyed)
	}
	w.dumpUI()
	if w.failure != nil {
		return Summary{}, w.failure
	}
	summary := w.Stats()
	ended := w.opts.Now()
	summary.EndedAt = ended

	w.recording = false
	w.reg.SetLogged(false)
	closeErr := w.closeFiles()
	manifestErr := w.writeManifest(&ended)
	w.unlock()
	if closeErr != nil {
		return summary, &IOFailure{Op: "close", Path: w.rec.Dir, Err: closeErr}
	}
	if manifestErr != nil {
		return summary, manifestErr
	}
	w.logger.Info("recording stopped",
		logging.String(logging.FieldRecordingDir, w.rec.Dir),
		logging.Uint64("frames", summary.Frames),
		logging.Int64("transform_rows", summary.TransformRows),
		logging.Int64("ui_rows", summary.UIRows),
		logging.Int("keyframes", summary.Keyframes),
	)
	return summary, nil
}

// Stats summarizes the current or last session.
func (w *Writer) Stats() Summary {
	return Summary{
		Recording:     w.rec,
		Frames:        w.Frame(),
		TransformRows: rows(w.transform),
		UIRows:        rows(w.ui),
		CustomRows:    rows(w.custom),
		Keyframes:     w.keyframes,
		StartedAt:     w.startedAt,
	}
}

func (w *Writer) closeFiles() error {
	var errs []error
	for _, lw := range []*logfile.Writer{w.transform, w.ui, w.custom} {
		if lw != nil {
			errs = append(errs, lw.Close())
		}
	}
	return errors.Join(errs...)
}

func (w *Writer) unlock() {
	if w.lock == nil {
		return
	}
	if err := w.lock.Unlock(); err != nil {
		w.logger.Warn("failed to release recording lock", logging.Error(err))
	}
	w.lock = nil
}
