package transfer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"retrace/internal/logfile"
	"retrace/internal/logging"
	"retrace/internal/logindex"
)

// ErrFrameRegression is returned for a batch whose frames lie before rows
// the origin's log already holds. Each origin file holds one recording;
// replay cannot follow frames that restart.
var ErrFrameRegression = errors.New("frames go backwards")

type streamKey struct {
	origin string
	kind   logfile.Kind
}

type openStream struct {
	w    *logfile.Writer
	rows uint64
	// last is the highest frame in the log; hasLast is false for a log
	// without rows.
	last    uint64
	hasLast bool
}

// Receiver appends transferred rows to per-origin logs in a save folder:
// {dir}/{origin}_transform_data.csv and {dir}/{origin}_ui_event_data.csv.
// Batches of one stream must arrive in send order.
type Receiver struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	streams map[streamKey]*openStream
}

// NewReceiver writes into dir, creating it on first use.
func NewReceiver(dir string, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Receiver{
		dir:     dir,
		logger:  logging.NewComponentLogger(logger, "transfer_receiver"),
		streams: make(map[streamKey]*openStream),
	}
}

// Dir returns the save folder.
func (r *Receiver) Dir() string { return r.dir }

// Path returns the file rows of origin's stream are appended to.
func (r *Receiver) Path(origin string, kind logfile.Kind) string {
	return filepath.Join(r.dir, origin+"_"+kind.FileName())
}

func (r *Receiver) stream(origin string, kind logfile.Kind) (*openStream, error) {
	key := streamKey{origin: origin, kind: kind}
	if s, ok := r.streams[key]; ok {
		return s, nil
	}
	if origin == "" {
		return nil, errors.New("transfer origin is empty")
	}
	if err := logfile.ValidateName(origin); err != nil {
		return nil, fmt.Errorf("transfer origin: %w", err)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create save folder: %w", err)
	}
	path := r.Path(origin, kind)
	s := &openStream{}
	idx, err := logindex.BuildFile(path, kind)
	switch {
	case err == nil:
		s.last, s.hasLast = idx.MaxFrame, true
	case errors.Is(err, os.ErrNotExist), errors.Is(err, logindex.ErrEmptyLog):
	default:
		return nil, err
	}
	w, err := logfile.OpenAppend(kind, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s.w = w
	r.streams[key] = s
	r.logger.Info("transfer started",
		logging.String("origin", origin),
		logging.String("stream", kind.String()),
		logging.String("path", w.Path()),
	)
	return s, nil
}

// HandleBatch decodes a compressed batch and appends its rows. It returns
// the number of rows written.
func (r *Receiver) HandleBatch(origin string, kind logfile.Kind, payload []byte) (int, error) {
	var records [][]string
	var frames []uint64
	switch kind {
	case logfile.KindTransform:
		rows, err := DecodeTransformBatch(payload)
		if err != nil {
			return 0, err
		}
		for _, row := range rows {
			records = append(records, row.Record())
			frames = append(frames, row.Frame)
		}
	case logfile.KindUI:
		rows, err := DecodeUIBatch(payload)
		if err != nil {
			return 0, err
		}
		for _, row := range rows {
			records = append(records, row.Record())
			frames = append(frames, row.Frame)
		}
	default:
		return 0, fmt.Errorf("transfer: stream %s cannot be received", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.stream(origin, kind)
	if err != nil {
		return 0, err
	}
	last, hasLast := s.last, s.hasLast
	for _, f := range frames {
		if hasLast && f < last {
			return 0, fmt.Errorf("%s: %w: frame %d after %d", s.w.Path(), ErrFrameRegression, f, last)
		}
		last, hasLast = f, true
	}
	for _, rec := range records {
		if err := s.w.Write(rec); err != nil {
			return 0, fmt.Errorf("append to %s: %w", s.w.Path(), err)
		}
	}
	if err := s.w.Flush(); err != nil {
		return 0, fmt.Errorf("flush %s: %w", s.w.Path(), err)
	}
	s.rows += uint64(len(records))
	s.last, s.hasLast = last, hasLast
	r.logger.Debug("transfer batch received",
		logging.String("origin", origin),
		logging.String("stream", kind.String()),
		logging.Int("rows", len(records)),
	)
	return len(records), nil
}

// Finish closes origin's stream and returns the rows received since it was
// opened. Finishing a stream that received nothing creates an empty log.
func (r *Receiver) Finish(origin string, kind logfile.Kind) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.stream(origin, kind)
	if err != nil {
		return 0, err
	}
	delete(r.streams, streamKey{origin: origin, kind: kind})
	if err := s.w.Close(); err != nil {
		return s.rows, fmt.Errorf("close %s: %w", s.w.Path(), err)
	}
	r.logger.Info("transfer finished",
		logging.String("origin", origin),
		logging.String("stream", kind.String()),
		logging.Uint64("rows", s.rows),
	)
	return s.rows, nil
}

// Abort closes origin's stream without acknowledging it. Rows appended so
// far stay in the log.
func (r *Receiver) Abort(origin string, kind logfile.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := streamKey{origin: origin, kind: kind}
	s, ok := r.streams[key]
	if !ok {
		return
	}
	delete(r.streams, key)
	if err := s.w.Close(); err != nil {
		r.logger.Warn("close aborted transfer", logging.String("path", s.w.Path()), logging.Error(err))
	}
}

// Pending lists the origins with an unfinished stream.
func (r *Receiver) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for key := range r.streams {
		if !seen[key.origin] {
			seen[key.origin] = true
			out = append(out, key.origin)
		}
	}
	sort.Strings(out)
	return out
}

// Close closes every unfinished stream.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, s := range r.streams {
		if err := s.w.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.streams, key)
	}
	return errors.Join(errs...)
}
