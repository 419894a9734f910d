package transfer_test

import (
	"bufio"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrace/internal/logfile"
	"retrace/internal/logindex"
	"retrace/internal/scene"
	"retrace/internal/transfer"
)

func transformRow(frame uint64) logfile.TransformRow {
	status := logfile.Changed
	if frame == 0 {
		status = logfile.Instantiated
	}
	return logfile.TransformRow{
		Frame:  frame,
		Name:   "Cube",
		Status: status,
		Transform: scene.Transform{
			Position: scene.Vec3{X: float64(frame) * 0.5, Y: 1, Z: -2},
			Rotation: scene.Vec3{Y: 90},
			Scale:    scene.Vec3{X: 1, Y: 1, Z: 1},
		},
		ResourcePath: "Prefabs/Cube",
		ID:           "cube-1",
		Hierarchy:    "/Room/Cube",
	}
}

func uiRows() []logfile.UIRow {
	return []logfile.UIRow{
		{Frame: 12, Kind: scene.Toggle, Value: "True", Hierarchy: "/Panel/Agree", ID: "agree-1"},
		{Frame: 14, Kind: scene.Button, Value: "click", Hierarchy: "/Panel/Submit", ID: "submit-1"},
		{Frame: 20, Kind: scene.Slider, Value: "0.25", Hierarchy: "/Panel/Volume", ID: "volume-1"},
	}
}

func TestBatchCodecsPreserveRows(t *testing.T) {
	rows := []logfile.TransformRow{transformRow(0), transformRow(1), transformRow(250)}
	rows[2].Status = logfile.IFrameActive
	payload, err := transfer.EncodeTransformBatch(rows)
	require.NoError(t, err)
	decoded, err := transfer.DecodeTransformBatch(payload)
	require.NoError(t, err)
	assert.Equal(t, rows, decoded)

	ui, err := transfer.EncodeUIBatch(uiRows())
	require.NoError(t, err)
	decodedUI, err := transfer.DecodeUIBatch(ui)
	require.NoError(t, err)
	assert.Equal(t, uiRows(), decodedUI)

	_, err = transfer.DecodeUIBatch(payload)
	assert.Error(t, err, "a transform batch is not a UI batch")
}

func TestDecodeRejectsCorruptPayload(t *testing.T) {
	payload, err := transfer.EncodeTransformBatch([]logfile.TransformRow{transformRow(3)})
	require.NoError(t, err)

	_, err = transfer.DecodeTransformBatch([]byte("not deflate data"))
	assert.Error(t, err)
	_, err = transfer.DecodeTransformBatch(payload[:len(payload)/2])
	assert.Error(t, err)

	_, err = transfer.DecodeMessage([]byte{9, 0, 0, 0})
	assert.Error(t, err, "unknown message type")
	_, err = transfer.DecodeMessage([]byte{byte(transfer.MsgAck), 5, 0, 'a'})
	assert.Error(t, err, "truncated origin")
}

func TestMessageFraming(t *testing.T) {
	ack, err := transfer.EncodeMessage(transfer.Message{Type: transfer.MsgAck, Origin: "lab-pc", Stream: logfile.KindUI, Rows: 300})
	require.NoError(t, err)
	got, err := transfer.DecodeMessage(ack)
	require.NoError(t, err)
	assert.Equal(t, transfer.MsgAck, got.Type)
	assert.Equal(t, "lab-pc", got.Origin)
	assert.Equal(t, logfile.KindUI, got.Stream)
	assert.EqualValues(t, 300, got.Rows)

	_, err = transfer.EncodeMessage(transfer.Message{Type: transfer.MsgClose, Stream: logfile.KindCustom})
	assert.Error(t, err, "custom logs are not transferred")
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:7450":           "ws://127.0.0.1:7450/transfer",
		"http://host:7450":         "ws://host:7450/transfer",
		"https://host":             "wss://host/transfer",
		"ws://host:7450/custom":    "ws://host:7450/custom",
		" wss://host:1/transfer  ": "wss://host:1/transfer",
	}
	for in, want := range cases {
		assert.Equal(t, want, transfer.NormalizeURL(in), in)
	}
}

func writeRecording(t *testing.T, transformRows int, withUI bool) logfile.Recording {
	t.Helper()
	rec, err := logfile.CreateFolder(filepath.Join(t.TempDir(), "Recordings"), "session_1", "participant_1",
		time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local))
	require.NoError(t, err)

	w, err := logfile.Create(logfile.KindTransform, rec.TransformPath())
	require.NoError(t, err)
	for i := 0; i < transformRows; i++ {
		require.NoError(t, w.Write(transformRow(uint64(i)).Record()))
	}
	require.NoError(t, w.Close())
	f, err := os.OpenFile(rec.TransformPath(), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("not,a,row\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	if withUI {
		uw, err := logfile.Create(logfile.KindUI, rec.UIPath())
		require.NoError(t, err)
		for _, row := range uiRows() {
			require.NoError(t, uw.Write(row.Record()))
		}
		require.NoError(t, uw.Close())
	}
	return rec
}

// writeLogsFrom writes a transform log of n rows starting at frame start.
func writeLogsFrom(t *testing.T, start uint64, n int) logfile.Recording {
	t.Helper()
	rec, err := logfile.CreateFolder(filepath.Join(t.TempDir(), "Recordings"), "session_1", "participant_1",
		time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local))
	require.NoError(t, err)
	w, err := logfile.Create(logfile.KindTransform, rec.TransformPath())
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, w.Write(transformRow(start+uint64(i)).Record()))
	}
	require.NoError(t, w.Close())
	return rec
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func startReceiver(t *testing.T) (*transfer.Receiver, string) {
	t.Helper()
	recv := transfer.NewReceiver(filepath.Join(t.TempDir(), "received"), nil)
	srv := httptest.NewServer(transfer.NewHandler(recv, nil))
	t.Cleanup(func() {
		srv.Close()
		_ = recv.Close()
	})
	return recv, srv.URL
}

func push(t *testing.T, url string, rec logfile.Recording) transfer.Result {
	t.Helper()
	return pushAs(t, url, "lab-pc", rec)
}

func pushAs(t *testing.T, url, origin string, rec logfile.Recording) transfer.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sender, err := transfer.Dial(ctx, url, origin, transfer.DialOptions{BatchSize: 100})
	require.NoError(t, err)
	defer sender.Close()
	res, err := sender.SendRecording(ctx, rec)
	require.NoError(t, err)
	return res
}

func TestPushRecordingAppendsToOriginLogs(t *testing.T) {
	recv, url := startReceiver(t)
	rec := writeRecording(t, 250, true)

	res := push(t, url, rec)
	assert.EqualValues(t, 250, res.Transform.Rows)
	assert.Equal(t, 1, res.Transform.Skipped)
	assert.Equal(t, 3, res.Transform.Batches)
	assert.EqualValues(t, 3, res.UI.Rows)
	assert.Positive(t, res.Bytes())

	transformPath := filepath.Join(recv.Dir(), "lab-pc_transform_data.csv")
	uiPath := filepath.Join(recv.Dir(), "lab-pc_ui_event_data.csv")
	lines := readLines(t, transformPath)
	require.Len(t, lines, 251)
	assert.Equal(t, strings.Join(logfile.TransformHeader, ","), lines[0])
	sent := readLines(t, rec.TransformPath())
	assert.Equal(t, sent[:251], lines, "rows arrive unchanged and in order")

	ui := readLines(t, uiPath)
	require.Len(t, ui, 4)
	assert.Equal(t, "12,toggle,True,/Panel/Agree,agree-1", ui[1])

	assert.Empty(t, recv.Pending())
}

func TestSecondRecordingFromSameOriginIsRefused(t *testing.T) {
	recv, url := startReceiver(t)
	rec := writeRecording(t, 250, true)
	push(t, url, rec)
	transformPath := recv.Path("lab-pc", logfile.KindTransform)
	before := readLines(t, transformPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sender, err := transfer.Dial(ctx, url, "lab-pc", transfer.DialOptions{BatchSize: 100})
	require.NoError(t, err)
	defer sender.Close()
	_, err = sender.SendRecording(ctx, rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frames go backwards")
	assert.Equal(t, before, readLines(t, transformPath), "refused rows are not appended")

	idx, err := logindex.BuildFile(transformPath, logfile.KindTransform)
	require.NoError(t, err)
	assert.Equal(t, idx.Rows, len(before)-1)

	res := pushAs(t, url, "lab-pc-2", rec)
	assert.EqualValues(t, 250, res.Transform.Rows)
}

func TestPushContinuingFramesAppends(t *testing.T) {
	recv, url := startReceiver(t)
	first := writeRecording(t, 10, false)
	push(t, url, first)

	later := writeLogsFrom(t, 10, 5)
	res := push(t, url, later)
	assert.EqualValues(t, 5, res.Transform.Rows)

	lines := readLines(t, recv.Path("lab-pc", logfile.KindTransform))
	assert.Len(t, lines, 16, "a later segment appends without a second header")
}

func TestPushWithoutUILogCreatesEmptyLog(t *testing.T) {
	recv, url := startReceiver(t)
	rec := writeRecording(t, 5, false)

	res := push(t, url, rec)
	assert.EqualValues(t, 5, res.Transform.Rows)
	assert.Zero(t, res.UI.Rows)
	assert.Equal(t, []string{strings.Join(logfile.UIHeader, ",")},
		readLines(t, filepath.Join(recv.Dir(), "lab-pc_ui_event_data.csv")))
}

func TestDialRejectsInvalidOrigin(t *testing.T) {
	_, url := startReceiver(t)
	for _, origin := range []string{"", "..", "lab/pc"} {
		_, err := transfer.Dial(context.Background(), url, origin, transfer.DialOptions{})
		assert.Error(t, err, origin)
	}
}

func TestHandlerRejectsCorruptBatch(t *testing.T) {
	recv, url := startReceiver(t)
	conn, _, err := websocket.DefaultDialer.Dial(transfer.NormalizeURL(url), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	send := func(m transfer.Message) transfer.Message {
		t.Helper()
		data, err := transfer.EncodeMessage(m)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
		_, reply, err := conn.ReadMessage()
		require.NoError(t, err)
		msg, err := transfer.DecodeMessage(reply)
		require.NoError(t, err)
		return msg
	}

	reply := send(transfer.Message{Type: transfer.MsgBatch, Origin: "lab-pc", Stream: logfile.KindTransform, Payload: []byte("garbage")})
	assert.Equal(t, transfer.MsgError, reply.Type)
	assert.NotEmpty(t, reply.Text)

	reply = send(transfer.Message{Type: transfer.MsgClose, Origin: "lab-pc", Stream: logfile.KindTransform})
	assert.Equal(t, transfer.MsgError, reply.Type, "a failed stream is not acknowledged")

	payload, err := transfer.EncodeTransformBatch([]logfile.TransformRow{transformRow(1)})
	require.NoError(t, err)
	reply = send(transfer.Message{Type: transfer.MsgBatch, Origin: "../escape", Stream: logfile.KindTransform, Payload: payload})
	assert.Equal(t, transfer.MsgError, reply.Type)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(recv.Dir()), "escape_transform_data.csv"))
	assert.True(t, os.IsNotExist(statErr), fmt.Sprintf("unexpected file: %v", statErr))
}
