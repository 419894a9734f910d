package session_test

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrace/internal/capture"
	"retrace/internal/catalog"
	"retrace/internal/logfile"
	"retrace/internal/recording"
	"retrace/internal/registry"
	"retrace/internal/scene"
	"retrace/internal/session"
	"retrace/internal/tick"
)

const manifest = `
nodes:
  - name: Room
    children:
      - name: Cube
        recordable: true
        id: cube-1
      - name: Shelf
        children:
          - name: Lamp
            recordable: true
            id: lamp-1
  - name: Panel
    children:
      - name: Agree
        ui: toggle
        id: agree-1
      - name: Submit
        ui: button
        id: submit-1
resources:
  Prefabs/Ball:
    name: Ball
`

const script = `
frames: 30
tracks:
  - path: /Room/Cube
    from: 1
    to: 10
    start: [0, 0, 0]
    end: [9, 0, 0]
events:
  - frame: 5
    action: spawn
    resource: Prefabs/Ball
    name: Ball
    parent: /Room
    position: [1, 2, 3]
  - frame: 10
    action: deactivate
    path: /Room/Shelf
  - frame: 12
    action: set
    path: /Panel/Agree
    on: true
  - frame: 14
    action: click
    path: /Panel/Submit
  - frame: 15
    action: variable
    class: Player
    variable: score
    value: "42"
  - frame: 18
    action: activate
    path: /Room/Shelf
  - frame: 20
    action: destroy
    path: /Room/Ball
`

type fixture struct {
	mem    *scene.Memory
	writer *recording.Writer
	sess   *session.Session
}

func newFixture(t *testing.T, opts session.Options) *fixture {
	t.Helper()
	m, err := scene.ParseManifest([]byte(manifest))
	require.NoError(t, err)
	mem := m.Live()
	reg := registry.New(mem, mem, nil)
	require.NoError(t, reg.RegisterAll(scene.None))
	w := recording.NewWriter(recording.Options{Root: filepath.Join(t.TempDir(), "Recordings")}, reg, nil)
	if opts.SessionID == "" {
		opts.SessionID = "session_1"
	}
	if opts.ParticipantID == "" {
		opts.ParticipantID = "participant_1"
	}
	s := session.New(mem, mem, reg, w, opts)
	sc, err := scene.ParseScript([]byte(script))
	require.NoError(t, err)
	s.SetScript(sc)
	return &fixture{mem: mem, writer: w, sess: s}
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Paced so capture acknowledgements land between ticks.
	sched := tick.New(tick.Config{Rate: 1000, MaxTicks: 2000}, nil)
	require.NoError(t, f.sess.Run(ctx, sched))
	require.NoError(t, f.sess.Shutdown(ctx))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	var lines []string
	sc := bufio.NewScanner(file)
	sc.Scan()
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func transformRows(t *testing.T, rec logfile.Recording) []logfile.TransformRow {
	t.Helper()
	var rows []logfile.TransformRow
	for _, line := range readLines(t, rec.TransformPath()) {
		row, err := logfile.ParseTransformLine(line)
		require.NoError(t, err)
		rows = append(rows, row)
	}
	return rows
}

func TestScriptedSessionIsRecorded(t *testing.T) {
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer store.Close()

	f := newFixture(t, session.Options{CustomVariables: true, Catalog: store})
	f.run(t)

	finished := f.sess.Finished()
	require.Len(t, finished, 1)
	summary := finished[0]
	assert.EqualValues(t, 30, summary.Frames)
	assert.EqualValues(t, 1, summary.CustomRows)

	events := map[string][]uint64{}
	var ballID string
	for _, row := range transformRows(t, summary.Recording) {
		if row.Name == "Ball" {
			ballID = row.ID
		}
		if row.Status != logfile.Changed {
			key := row.Name + ":" + row.Status.String()
			events[key] = append(events[key], row.Frame)
		}
	}
	require.NotEmpty(t, ballID)
	assert.Equal(t, []uint64{5}, events["Ball:Instantiated"])
	assert.Equal(t, []uint64{20}, events["Ball:Destroyed"])
	assert.Equal(t, []uint64{10}, events["Lamp:Deactivated"])
	assert.Equal(t, []uint64{18}, events["Lamp:Activated"])
	assert.Equal(t, []uint64{30}, events["Cube:Destroyed"])

	ui := readLines(t, summary.Recording.UIPath())
	assert.Contains(t, ui, "12,toggle,True,/Panel/Agree,agree-1")
	assert.Contains(t, ui, "14,button,click,/Panel/Submit,submit-1")

	entries, err := store.List(context.Background(), catalog.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, summary.Recording.Dir, entries[0].Dir)
	assert.Equal(t, "local", entries[0].Capture)

	m, err := logfile.ReadManifest(summary.Recording.ManifestPath())
	require.NoError(t, err)
	assert.Equal(t, "local", m.Capture)
	assert.True(t, m.Complete())
}

func TestSpawnedObjectStartsAtScriptedTransform(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.run(t)
	for _, row := range transformRows(t, f.sess.Finished()[0].Recording) {
		if row.Name == "Ball" && row.Status == logfile.Instantiated {
			assert.Equal(t, scene.Vec3{X: 1, Y: 2, Z: 3}, row.Transform.Position)
			assert.Equal(t, "/Room/Ball", row.Hierarchy)
			assert.Equal(t, "Prefabs/Ball", row.ResourcePath)
			return
		}
	}
	t.Fatal("no Instantiated row for the spawned object")
}

func TestCustomVariablesCanBeDisabled(t *testing.T) {
	f := newFixture(t, session.Options{CustomVariables: false})
	f.run(t)
	assert.Zero(t, f.sess.Finished()[0].CustomRows)
}

func TestTargetErrorsForUnknownPaths(t *testing.T) {
	f := newFixture(t, session.Options{})
	assert.Error(t, f.sess.Destroy("/Nowhere"))
	assert.Error(t, f.sess.SetActive("/Nowhere", true))
	assert.Error(t, f.sess.Move("/Nowhere", scene.Identity()))
	assert.Error(t, f.sess.Click("/Nowhere"))
	assert.Error(t, f.sess.Spawn("Prefabs/Missing", "", "", scene.Identity()))
	assert.Error(t, f.sess.Spawn("Prefabs/Ball", "", "/Nowhere", scene.Identity()))
	_, ok := f.mem.Find(scene.None, "/Ball")
	assert.False(t, ok, "a spawn with a missing parent is rolled back")
}

// ackRecorder confirms every command immediately.
type ackRecorder struct {
	events chan capture.Event
}

func (r *ackRecorder) Connect(context.Context, string, string) error { return nil }
func (r *ackRecorder) StartRecording(context.Context) error {
	r.events <- capture.Event{Kind: capture.Started}
	return nil
}
func (r *ackRecorder) StopRecording(context.Context) error {
	r.events <- capture.Event{Kind: capture.Stopped}
	return nil
}
func (r *ackRecorder) Events() <-chan capture.Event { return r.events }
func (r *ackRecorder) Close() error                 { return nil }

func TestExternalCaptureGatesTheWriter(t *testing.T) {
	f := newFixture(t, session.Options{
		Capture:  capture.GateConfig{Enabled: true, RetryLimit: 1},
		Recorder: &ackRecorder{events: make(chan capture.Event, 4)},
	})
	ctx := context.Background()
	require.NoError(t, f.sess.Start(ctx))
	assert.False(t, f.writer.Recording(), "writer waits for the recorder")

	f.run(t)
	require.Len(t, f.sess.Finished(), 1)
	m, err := logfile.ReadManifest(f.sess.Finished()[0].Recording.ManifestPath())
	require.NoError(t, err)
	assert.Equal(t, "external", m.Capture)
	// Frames keep advancing until the recorder confirms the stop.
	assert.GreaterOrEqual(t, m.Frames, uint64(30))
}

func TestShutdownEndsRunningSession(t *testing.T) {
	f := newFixture(t, session.Options{})
	ctx := context.Background()
	require.NoError(t, f.sess.Start(ctx))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.sess.Step(ctx, uint64(i+1)))
	}
	require.True(t, f.writer.Recording())
	require.NoError(t, f.sess.Shutdown(ctx))
	assert.False(t, f.writer.Recording())
	require.Len(t, f.sess.Finished(), 1)
	assert.EqualValues(t, 3, f.sess.Finished()[0].Frames)
}
