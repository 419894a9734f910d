package transfer

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"retrace/internal/logfile"
	"retrace/internal/scene"
)

var (
	errStringTooLong = errors.New("transfer: string exceeds 64KB limit")
	errPayloadShort  = errors.New("transfer: payload too short")
	errExtraBytes    = errors.New("transfer: payload has trailing data")
)

// MessageType tags a frame on the transport.
type MessageType byte

const (
	MsgBatch MessageType = iota + 1
	MsgClose
	MsgAck
	MsgError
)

func (t MessageType) String() string {
	switch t {
	case MsgBatch:
		return "batch"
	case MsgClose:
		return "close"
	case MsgAck:
		return "ack"
	case MsgError:
		return "error"
	}
	return fmt.Sprintf("message(%d)", byte(t))
}

// Message is one transport frame. Payload is set for batches, Rows for
// acknowledgements and Text for errors.
type Message struct {
	Type    MessageType
	Origin  string
	Stream  logfile.Kind
	Rows    uint64
	Payload []byte
	Text    string
}

func encodeString(buf *bytes.Buffer, value string) error {
	if len(value) > math.MaxUint16 {
		return errStringTooLong
	}
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(value)))
	buf.Write(n[:])
	buf.WriteString(value)
	return nil
}

func decodeString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, errPayloadShort
	}
	length := int(binary.LittleEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < length {
		return "", nil, errPayloadShort
	}
	return string(b[:length]), b[length:], nil
}

func decodeUvarint(b []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, nil, errPayloadShort
	}
	return v, b[n:], nil
}

func streamByte(k logfile.Kind) (byte, error) {
	switch k {
	case logfile.KindTransform, logfile.KindUI:
		return byte(k), nil
	}
	return 0, fmt.Errorf("transfer: stream %s cannot be transferred", k)
}

func decodeStream(b byte) (logfile.Kind, error) {
	k := logfile.Kind(b)
	if _, err := streamByte(k); err != nil {
		return 0, err
	}
	return k, nil
}

// EncodeMessage serializes m.
func EncodeMessage(m Message) ([]byte, error) {
	stream, err := streamByte(m.Stream)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(make([]byte, 0, 8+len(m.Origin)+len(m.Payload)+len(m.Text)))
	buf.WriteByte(byte(m.Type))
	if err := encodeString(buf, m.Origin); err != nil {
		return nil, err
	}
	buf.WriteByte(stream)
	switch m.Type {
	case MsgBatch:
		buf.Write(m.Payload)
	case MsgAck:
		buf.Write(binary.AppendUvarint(nil, m.Rows))
	case MsgError:
		if err := encodeString(buf, m.Text); err != nil {
			return nil, err
		}
	case MsgClose:
	default:
		return nil, fmt.Errorf("transfer: cannot encode %s", m.Type)
	}
	return buf.Bytes(), nil
}

// DecodeMessage parses a frame produced by EncodeMessage.
func DecodeMessage(b []byte) (Message, error) {
	var m Message
	if len(b) < 1 {
		return m, errPayloadShort
	}
	m.Type = MessageType(b[0])
	origin, rest, err := decodeString(b[1:])
	if err != nil {
		return m, err
	}
	m.Origin = origin
	if len(rest) < 1 {
		return m, errPayloadShort
	}
	if m.Stream, err = decodeStream(rest[0]); err != nil {
		return m, err
	}
	rest = rest[1:]
	switch m.Type {
	case MsgBatch:
		m.Payload = rest
		return m, nil
	case MsgAck:
		if m.Rows, rest, err = decodeUvarint(rest); err != nil {
			return m, err
		}
	case MsgError:
		if m.Text, rest, err = decodeString(rest); err != nil {
			return m, err
		}
	case MsgClose:
	default:
		return m, fmt.Errorf("transfer: unknown message type %d", byte(m.Type))
	}
	if len(rest) != 0 {
		return m, errExtraBytes
	}
	return m, nil
}

type encoder struct{ buf bytes.Buffer }

func (e *encoder) uvarint(v uint64) { e.buf.Write(binary.AppendUvarint(nil, v)) }

func (e *encoder) float(f float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
	e.buf.Write(b[:])
}

func (e *encoder) vec(v scene.Vec3) {
	e.float(v.X)
	e.float(v.Y)
	e.float(v.Z)
}

type decoder struct {
	b   []byte
	err error
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	var v uint64
	v, d.b, d.err = decodeUvarint(d.b)
	return v
}

func (d *decoder) u8() byte {
	if d.err != nil {
		return 0
	}
	if len(d.b) < 1 {
		d.err = errPayloadShort
		return 0
	}
	v := d.b[0]
	d.b = d.b[1:]
	return v
}

func (d *decoder) str() string {
	if d.err != nil {
		return ""
	}
	var s string
	s, d.b, d.err = decodeString(d.b)
	return s
}

func (d *decoder) float() float64 {
	if d.err != nil {
		return 0
	}
	if len(d.b) < 8 {
		d.err = errPayloadShort
		return 0
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(d.b[:8]))
	d.b = d.b[8:]
	return v
}

func (d *decoder) vec() scene.Vec3 {
	return scene.Vec3{X: d.float(), Y: d.float(), Z: d.float()}
}

func compress(raw []byte) ([]byte, error) {
	var out bytes.Buffer
	zw, err := flate.NewWriter(&out, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// maxBatchBytes bounds decompressed batches.
const maxBatchBytes = 64 << 20

func decompress(payload []byte) ([]byte, error) {
	zr := flate.NewReader(bytes.NewReader(payload))
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, maxBatchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("transfer: decompress batch: %w", err)
	}
	if len(raw) > maxBatchBytes {
		return nil, errors.New("transfer: batch exceeds size limit")
	}
	return raw, nil
}

func batchHeader(e *encoder, kind logfile.Kind, n int) error {
	b, err := streamByte(kind)
	if err != nil {
		return err
	}
	e.buf.WriteByte(b)
	e.uvarint(uint64(n))
	return nil
}

func readBatchHeader(d *decoder, want logfile.Kind) (int, error) {
	kind, err := decodeStream(d.u8())
	if d.err != nil {
		return 0, d.err
	}
	if err != nil {
		return 0, err
	}
	if kind != want {
		return 0, fmt.Errorf("transfer: batch holds %s rows, want %s", kind, want)
	}
	n := d.uvarint()
	if d.err != nil {
		return 0, d.err
	}
	if n > uint64(len(d.b)) {
		return 0, errPayloadShort
	}
	return int(n), nil
}

// EncodeTransformBatch packs rows into a compressed batch payload.
func EncodeTransformBatch(rows []logfile.TransformRow) ([]byte, error) {
	var e encoder
	if err := batchHeader(&e, logfile.KindTransform, len(rows)); err != nil {
		return nil, err
	}
	for _, r := range rows {
		e.uvarint(r.Frame)
		e.buf.WriteByte(byte(r.Status))
		e.vec(r.Transform.Position)
		e.vec(r.Transform.Rotation)
		e.vec(r.Transform.Scale)
		for _, s := range []string{r.Name, r.ResourcePath, r.ID, r.Hierarchy} {
			if err := encodeString(&e.buf, s); err != nil {
				return nil, err
			}
		}
	}
	return compress(e.buf.Bytes())
}

// DecodeTransformBatch unpacks a payload produced by EncodeTransformBatch.
func DecodeTransformBatch(payload []byte) ([]logfile.TransformRow, error) {
	raw, err := decompress(payload)
	if err != nil {
		return nil, err
	}
	d := &decoder{b: raw}
	n, err := readBatchHeader(d, logfile.KindTransform)
	if err != nil {
		return nil, err
	}
	rows := make([]logfile.TransformRow, 0, n)
	for i := 0; i < n; i++ {
		r := logfile.TransformRow{Frame: d.uvarint(), Status: logfile.Status(d.u8())}
		r.Transform.Position = d.vec()
		r.Transform.Rotation = d.vec()
		r.Transform.Scale = d.vec()
		r.Name = d.str()
		r.ResourcePath = d.str()
		r.ID = d.str()
		r.Hierarchy = d.str()
		if d.err != nil {
			return nil, fmt.Errorf("transfer: transform row %d: %w", i, d.err)
		}
		if r.Status > logfile.IFrameInactive {
			return nil, fmt.Errorf("transfer: transform row %d: unknown status %d", i, r.Status)
		}
		rows = append(rows, r)
	}
	if len(d.b) != 0 {
		return nil, errExtraBytes
	}
	return rows, nil
}

// EncodeUIBatch packs rows into a compressed batch payload.
func EncodeUIBatch(rows []logfile.UIRow) ([]byte, error) {
	var e encoder
	if err := batchHeader(&e, logfile.KindUI, len(rows)); err != nil {
		return nil, err
	}
	for _, r := range rows {
		e.uvarint(r.Frame)
		e.buf.WriteByte(byte(r.Kind))
		for _, s := range []string{r.Value, r.Hierarchy, r.ID} {
			if err := encodeString(&e.buf, s); err != nil {
				return nil, err
			}
		}
	}
	return compress(e.buf.Bytes())
}

// DecodeUIBatch unpacks a payload produced by EncodeUIBatch.
func DecodeUIBatch(payload []byte) ([]logfile.UIRow, error) {
	raw, err := decompress(payload)
	if err != nil {
		return nil, err
	}
	d := &decoder{b: raw}
	n, err := readBatchHeader(d, logfile.KindUI)
	if err != nil {
		return nil, err
	}
	rows := make([]logfile.UIRow, 0, n)
	for i := 0; i < n; i++ {
		r := logfile.UIRow{Frame: d.uvarint(), Kind: scene.UIKind(d.u8())}
		r.Value = d.str()
		r.Hierarchy = d.str()
		r.ID = d.str()
		if d.err != nil {
			return nil, fmt.Errorf("transfer: ui row %d: %w", i, d.err)
		}
		if r.Kind > scene.Slider {
			return nil, fmt.Errorf("transfer: ui row %d: unknown control kind %d", i, r.Kind)
		}
		rows = append(rows, r)
	}
	if len(d.b) != 0 {
		return nil, errExtraBytes
	}
	return rows, nil
}
