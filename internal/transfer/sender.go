package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"retrace/internal/logfile"
	"retrace/internal/logging"
)

// DefaultBatchSize is the number of rows packed into one batch.
const DefaultBatchSize = 100

// DefaultPath is where Handler is mounted by Serve.
const DefaultPath = "/transfer"

// DialOptions tunes a Sender.
type DialOptions struct {
	BatchSize int
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Sender pushes logs of finished recordings to a receiver.
type Sender struct {
	conn      *websocket.Conn
	origin    string
	batchSize int
	timeout   time.Duration
	logger    *slog.Logger
}

// StreamResult counts what was sent for one log.
type StreamResult struct {
	Rows    uint64
	Skipped int
	Batches int
	Bytes   int64
}

// Result counts what was sent for a recording.
type Result struct {
	Transform StreamResult
	UI        StreamResult
}

// Batches returns the batch count across both logs.
func (r Result) Batches() int { return r.Transform.Batches + r.UI.Batches }

// Bytes returns the compressed payload size across both logs.
func (r Result) Bytes() int64 { return r.Transform.Bytes + r.UI.Bytes }

// NormalizeURL accepts host:port, http(s) and ws(s) addresses and returns a
// websocket URL ending in DefaultPath when no path is given.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://"):
		u = "ws://" + u
	}
	rest := u[strings.Index(u, "://")+3:]
	if !strings.Contains(rest, "/") {
		u += DefaultPath
	}
	return u
}

// Dial connects to a receiver. Rows are tagged with origin, which names the
// files they land in on the receiving side.
func Dial(ctx context.Context, url, origin string, opts DialOptions) (*Sender, error) {
	if origin == "" {
		return nil, errors.New("transfer origin is empty")
	}
	if err := logfile.ValidateName(origin); err != nil {
		return nil, fmt.Errorf("transfer origin: %w", err)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	target := NormalizeURL(url)
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Sender{
		conn:      conn,
		origin:    origin,
		batchSize: opts.BatchSize,
		timeout:   opts.Timeout,
		logger:    logging.NewComponentLogger(logger, "transfer_sender"),
	}, nil
}

// Close ends the connection.
func (s *Sender) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// SendRecording pushes the transform log and, when present, the UI log of
// rec. A recording without UI log still finishes the UI stream so the
// receiver holds both files.
func (s *Sender) SendRecording(ctx context.Context, rec logfile.Recording) (Result, error) {
	var res Result
	var err error
	if res.Transform, err = s.SendLog(ctx, logfile.KindTransform, rec.TransformPath()); err != nil {
		return res, err
	}
	res.UI, err = s.SendLog(ctx, logfile.KindUI, rec.UIPath())
	if errors.Is(err, os.ErrNotExist) {
		res.UI, err = s.finish(ctx, logfile.KindUI, StreamResult{})
	}
	if err != nil {
		return res, err
	}
	s.logger.Info("recording transferred",
		logging.String(logging.FieldRecordingDir, rec.Dir),
		logging.Uint64("transform_rows", res.Transform.Rows),
		logging.Uint64("ui_rows", res.UI.Rows),
		logging.Int("batches", res.Batches()),
		logging.Int64("bytes", res.Bytes()),
	)
	return res, nil
}

// SendLog streams one log file in batches and waits for the receiver to
// acknowledge it. Rows that do not parse are skipped with a warning.
func (s *Sender) SendLog(ctx context.Context, kind logfile.Kind, path string) (StreamResult, error) {
	var res StreamResult
	file, err := os.Open(path)
	if err != nil {
		return res, err
	}
	defer file.Close()

	reader := logfile.NewOffsetReader(file)
	if err := reader.SkipHeader(kind); err != nil {
		if errors.Is(err, io.EOF) {
			return s.finish(ctx, kind, res)
		}
		return res, fmt.Errorf("%s: %w", path, err)
	}

	batch := newBatch(kind, s.batchSize)
	for {
		line, readErr := reader.ReadLine()
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return res, fmt.Errorf("read %s: %w", path, readErr)
		}
		if strings.TrimSpace(line) != "" {
			if err := batch.add(line); err != nil {
				res.Skipped++
				logging.WarnWithContext(s.logger, "skipping malformed row", "transfer_row_malformed",
					logging.Error(err),
					logging.String("path", path),
					logging.Int64("offset", reader.LineOffset()),
				)
			}
		}
		if batch.len() >= s.batchSize || (readErr != nil && batch.len() > 0) {
			if err := s.flush(ctx, batch, &res); err != nil {
				return res, err
			}
		}
		if readErr != nil {
			break
		}
	}
	return s.finish(ctx, kind, res)
}

func (s *Sender) flush(ctx context.Context, b *batch, res *StreamResult) error {
	payload, err := b.encode()
	if err != nil {
		return err
	}
	if err := s.write(ctx, Message{Type: MsgBatch, Origin: s.origin, Stream: b.kind, Payload: payload}); err != nil {
		return err
	}
	res.Rows += uint64(b.len())
	res.Batches++
	res.Bytes += int64(len(payload))
	b.reset()
	return nil
}

func (s *Sender) finish(ctx context.Context, kind logfile.Kind, res StreamResult) (StreamResult, error) {
	if err := s.write(ctx, Message{Type: MsgClose, Origin: s.origin, Stream: kind}); err != nil {
		return res, err
	}
	reply, err := s.read(ctx)
	if err != nil {
		return res, err
	}
	switch reply.Type {
	case MsgAck:
		if reply.Stream != kind {
			return res, fmt.Errorf("transfer: acknowledgement for %s while finishing %s", reply.Stream, kind)
		}
		if reply.Rows < res.Rows {
			return res, fmt.Errorf("transfer: receiver stored %d of %d %s rows", reply.Rows, res.Rows, kind)
		}
		return res, nil
	case MsgError:
		return res, fmt.Errorf("transfer rejected by receiver: %s", reply.Text)
	}
	return res, fmt.Errorf("transfer: unexpected %s reply", reply.Type)
}

func (s *Sender) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(s.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

func (s *Sender) write(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(s.deadline(ctx))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", m.Type, err)
	}
	return nil
}

func (s *Sender) read(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	_ = s.conn.SetReadDeadline(s.deadline(ctx))
	kind, data, err := s.conn.ReadMessage()
	if err != nil {
		return Message{}, fmt.Errorf("await reply: %w", err)
	}
	if kind != websocket.BinaryMessage {
		return Message{}, errors.New("transfer: receiver sent a text frame")
	}
	return DecodeMessage(data)
}

// batch accumulates parsed rows of one log.
type batch struct {
	kind      logfile.Kind
	transform []logfile.TransformRow
	ui        []logfile.UIRow
}

func newBatch(kind logfile.Kind, size int) *batch {
	b := &batch{kind: kind}
	switch kind {
	case logfile.KindTransform:
		b.transform = make([]logfile.TransformRow, 0, size)
	case logfile.KindUI:
		b.ui = make([]logfile.UIRow, 0, size)
	}
	return b
}

func (b *batch) add(line string) error {
	switch b.kind {
	case logfile.KindTransform:
		row, err := logfile.ParseTransformLine(line)
		if err != nil {
			return err
		}
		b.transform = append(b.transform, row)
	case logfile.KindUI:
		row, err := logfile.ParseUILine(line)
		if err != nil {
			return err
		}
		b.ui = append(b.ui, row)
	default:
		return fmt.Errorf("transfer: stream %s cannot be transferred", b.kind)
	}
	return nil
}

func (b *batch) len() int { return len(b.transform) + len(b.ui) }

func (b *batch) reset() {
	b.transform = b.transform[:0]
	b.ui = b.ui[:0]
}

func (b *batch) encode() ([]byte, error) {
	if b.kind == logfile.KindUI {
		return EncodeUIBatch(b.ui)
	}
	return EncodeTransformBatch(b.transform)
}
