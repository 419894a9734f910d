package logfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

const readBufferSize = 64 * 1024

// OffsetReader reads a log line by line while tracking the byte offset at
// which each line starts. Seek repositions both the underlying stream and
// the buffered state, so offsets recorded while indexing can be revisited.
type OffsetReader struct {
	src    io.ReadSeeker
	buf    *bufio.Reader
	offset int64
	last   int64
}

// NewOffsetReader wraps src, which must be positioned at its start.
func NewOffsetReader(src io.ReadSeeker) *OffsetReader {
	return &OffsetReader{src: src, buf: bufio.NewReaderSize(src, readBufferSize)}
}

// Offset returns the position of the next unread byte.
func (r *OffsetReader) Offset() int64 { return r.offset }

// LineOffset returns where the most recently returned line began.
func (r *OffsetReader) LineOffset() int64 { return r.last }

// ReadLine returns the next line including its terminator. A final line
// without terminator is returned together with io.EOF; at the end of input
// it returns "", io.EOF.
func (r *OffsetReader) ReadLine() (string, error) {
	r.last = r.offset
	line, err := r.buf.ReadString('\n')
	r.offset += int64(len(line))
	return line, err
}

// Seek moves to an absolute byte offset and drops buffered input.
func (r *OffsetReader) Seek(offset int64) error {
	if offset < 0 {
		return fmt.Errorf("seek to negative offset %d", offset)
	}
	if _, err := r.src.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	r.buf.Reset(r.src)
	r.offset = offset
	r.last = offset
	return nil
}

// SkipHeader rewinds to the start, reads the header row and validates it
// against kind.
func (r *OffsetReader) SkipHeader(kind Kind) error {
	if err := r.Seek(0); err != nil {
		return err
	}
	header, err := r.ReadLine()
	if header == "" && errors.Is(err, io.EOF) {
		return io.EOF
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return CheckHeader(kind, header)
}
