package replay

import (
	"errors"
	"io"

	"retrace/internal/logfile"
)

// stream is a read-ahead cursor over one log. Rows that fail to parse are
// reported through malformed and skipped.
type stream[T any] struct {
	r         *logfile.OffsetReader
	kind      logfile.Kind
	parse     func(string) (T, error)
	frame     func(T) uint64
	malformed func(*logfile.MalformedRowError)

	next    T
	pending bool
	done    bool
	err     error
}

func newStream[T any](src io.ReadSeeker, kind logfile.Kind, parse func(string) (T, error), frame func(T) uint64) *stream[T] {
	s := &stream[T]{kind: kind, parse: parse, frame: frame}
	if src == nil {
		s.done = true
		return s
	}
	s.r = logfile.NewOffsetReader(src)
	return s
}

// rewind positions the cursor on the first data row.
func (s *stream[T]) rewind() error {
	s.reset()
	if s.r == nil {
		s.done = true
		return nil
	}
	if err := s.r.SkipHeader(s.kind); err != nil {
		if errors.Is(err, io.EOF) {
			s.done = true
			return nil
		}
		return err
	}
	return nil
}

// seek positions the cursor on the row starting at off.
func (s *stream[T]) seek(off int64) error {
	s.reset()
	if s.r == nil {
		s.done = true
		return nil
	}
	return s.r.Seek(off)
}

// exhaust marks the cursor as past the last row.
func (s *stream[T]) exhaust() {
	s.reset()
	s.done = true
}

func (s *stream[T]) reset() {
	var zero T
	s.next = zero
	s.pending = false
	s.done = false
	s.err = nil
}

// peek returns the next row without consuming it.
func (s *stream[T]) peek() (T, bool) {
	for !s.pending && !s.done {
		line, err := s.r.ReadLine()
		if line != "" {
			row, perr := s.parse(line)
			if perr == nil {
				s.next = row
				s.pending = true
			} else if s.malformed != nil {
				var mre *logfile.MalformedRowError
				if !errors.As(perr, &mre) {
					mre = &logfile.MalformedRowError{Reason: perr.Error()}
				}
				mre.Offset = s.r.LineOffset()
				mre.Line = line
				s.malformed(mre)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
			s.done = true
		}
	}
	if !s.pending {
		var zero T
		return zero, false
	}
	return s.next, true
}

// pop consumes the row returned by peek.
func (s *stream[T]) pop() {
	var zero T
	s.next = zero
	s.pending = false
}

// exhausted reports whether no rows remain.
func (s *stream[T]) exhausted() bool {
	_, ok := s.peek()
	return !ok
}
