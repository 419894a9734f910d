package logfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// Writer appends rows of one stream to a file.
type Writer struct {
	kind Kind
	path string
	file *os.File
	csv  *csv.Writer
	rows int64
}

// Create truncates path and writes the stream header.
func Create(kind Kind, path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w := newWriter(kind, path, f)
	if err := w.writeHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// OpenAppend opens path for appending, writing the header only when the
// file is new or empty. An existing header must match the stream.
func OpenAppend(kind Kind, path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w := newWriter(kind, path, f)
	if info.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			_ = f.Close()
			return nil, err
		}
		return w, nil
	}
	reader := NewOffsetReader(f)
	header, err := reader.ReadLine()
	if err != nil && !errors.Is(err, io.EOF) {
		_ = f.Close()
		return nil, err
	}
	if err := CheckHeader(kind, header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func newWriter(kind Kind, path string, f *os.File) *Writer {
	return &Writer{kind: kind, path: path, file: f, csv: csv.NewWriter(f)}
}

func (w *Writer) writeHeader() error {
	if err := w.csv.Write(w.kind.Header()); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Kind returns the stream the writer serves.
func (w *Writer) Kind() Kind { return w.kind }

// Path returns the file path.
func (w *Writer) Path() string { return w.path }

// Rows returns how many rows were written through this writer.
func (w *Writer) Rows() int64 { return w.rows }

// Write appends one record. Records are buffered until Flush or Close.
func (w *Writer) Write(record []string) error {
	if w.file == nil {
		return fmt.Errorf("write %s: writer closed", w.path)
	}
	if len(record) != len(w.kind.Header()) {
		return fmt.Errorf("write %s: record has %d fields, want %d", w.path, len(record), len(w.kind.Header()))
	}
	if err := w.csv.Write(record); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Flush pushes buffered rows to the file.
func (w *Writer) Flush() error {
	if w.file == nil {
		return nil
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close flushes and closes the file. Closing twice is a no-op.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	flushErr := w.Flush()
	closeErr := w.file.Close()
	w.file = nil
	return errors.Join(flushErr, closeErr)
}
