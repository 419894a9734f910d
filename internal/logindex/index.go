package logindex

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"retrace/internal/logfile"
)

// ErrEmptyLog is returned for logs without a single data row.
var ErrEmptyLog = errors.New("log contains no rows")

// Index maps every distinct frame of a log to the byte offset of its first
// row.
type Index struct {
	// Frames holds the distinct frames in ascending order.
	Frames  []uint64
	Offsets map[uint64]int64
	// MaxFrame is the largest indexed frame.
	MaxFrame uint64
	// Rows counts the data rows scanned.
	Rows int
	// Truncated is set when scanning stopped at an unparsable row.
	Truncated bool
	// StopOffset is where scanning stopped: end of input or the first
	// unparsable row.
	StopOffset int64
}

// Build scans a log in one pass. The header row must match kind. Scanning
// stops at the first row whose frame cannot be parsed; rows before it stay
// indexed. Rows whose frame goes backwards are counted but not indexed.
func Build(src io.ReadSeeker, kind logfile.Kind) (*Index, error) {
	r := logfile.NewOffsetReader(src)
	if err := r.SkipHeader(kind); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyLog
		}
		return nil, err
	}

	idx := &Index{Offsets: make(map[uint64]int64)}
	for {
		line, err := r.ReadLine()
		if line != "" {
			frame, perr := logfile.ParseFrame(line)
			if perr != nil {
				idx.Truncated = true
				idx.StopOffset = r.LineOffset()
				break
			}
			idx.Rows++
			if len(idx.Frames) == 0 || frame > idx.MaxFrame {
				idx.Frames = append(idx.Frames, frame)
				idx.Offsets[frame] = r.LineOffset()
				idx.MaxFrame = frame
			}
		}
		if errors.Is(err, io.EOF) {
			idx.StopOffset = r.Offset()
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scan %s log: %w", kind, err)
		}
	}
	if idx.Rows == 0 {
		return nil, ErrEmptyLog
	}
	return idx, nil
}

// BuildFile opens path and indexes it.
func BuildFile(path string, kind logfile.Kind) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	idx, err := Build(f, kind)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", path, err)
	}
	return idx, nil
}

// Offset returns the offset of the first row of frame.
func (i *Index) Offset(frame uint64) (int64, bool) {
	off, ok := i.Offsets[frame]
	return off, ok
}

// AtOrBefore returns the largest indexed frame not after target.
func (i *Index) AtOrBefore(target uint64) (uint64, bool) {
	n := sort.Search(len(i.Frames), func(k int) bool { return i.Frames[k] > target })
	if n == 0 {
		return 0, false
	}
	return i.Frames[n-1], true
}

// AtOrAfter returns the smallest indexed frame not before target.
func (i *Index) AtOrAfter(target uint64) (uint64, bool) {
	n := sort.Search(len(i.Frames), func(k int) bool { return i.Frames[k] >= target })
	if n == len(i.Frames) {
		return 0, false
	}
	return i.Frames[n], true
}

// KeyframeAtOrBefore rounds target down to a multiple of interval.
func KeyframeAtOrBefore(target, interval uint64) uint64 {
	if interval == 0 {
		return 0
	}
	return target / interval * interval
}

// TargetFrame maps a fraction of the timeline onto a frame, clamping the
// fraction to [0, 1].
func TargetFrame(fraction float64, maxFrame uint64) uint64 {
	switch {
	case fraction != fraction || fraction <= 0:
		return 0
	case fraction >= 1:
		return maxFrame
	}
	return uint64(fraction * float64(maxFrame))
}

// Keyframes returns the indexed frames that fall on interval boundaries.
func (i *Index) Keyframes(interval uint64) []uint64 {
	if interval == 0 {
		return nil
	}
	var out []uint64
	for _, f := range i.Frames {
		if f%interval == 0 {
			out = append(out, f)
		}
	}
	return out
}
