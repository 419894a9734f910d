package replay_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"retrace/internal/logfile"
	"retrace/internal/recording"
	"retrace/internal/registry"
	"retrace/internal/replay"
	"retrace/internal/scene"
)

const sceneManifest = `
nodes:
  - name: Room
    children:
      - name: Cube
        recordable: true
        id: cube-1
      - name: Lamp
        recordable: true
        id: lamp-1
        position: [0, 3, 0]
  - name: Panel
    children:
      - name: Agree
        ui: toggle
        id: agree-1
        on: true
      - name: Submit
        ui: button
        id: submit-1
resources:
  Prefabs/Ball:
    name: Ball
`

func loadScene(t *testing.T) *scene.Manifest {
	t.Helper()
	m, err := scene.ParseManifest([]byte(sceneManifest))
	require.NoError(t, err)
	return m
}

type live struct {
	mem *scene.Memory
	reg *registry.Registry
}

func (l live) find(t *testing.T, path string) scene.Handle {
	t.Helper()
	h, ok := l.mem.Find(scene.None, path)
	require.True(t, ok, "no live object at %s", path)
	return h
}

func (l live) move(t *testing.T, path string, p scene.Vec3) {
	h := l.find(t, path)
	tr := l.mem.LocalTransform(h)
	tr.Position = p
	l.mem.SetLocalTransform(h, tr)
}

// recordSession records frames frames, calling step after the writer
// advanced to each frame and before changes are detected.
func recordSession(t *testing.T, frames uint64, setup func(live), step func(uint64, live)) logfile.Recording {
	t.Helper()
	ctx := context.Background()
	mem := loadScene(t).Live()
	reg := registry.New(mem, mem, nil)
	require.NoError(t, reg.RegisterAll(scene.None))
	l := live{mem: mem, reg: reg}
	if setup != nil {
		setup(l)
	}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	w := recording.NewWriter(recording.Options{Root: t.TempDir(), Now: func() time.Time { return now }}, reg, nil)
	rec, err := w.BeginSession(ctx, "session_1", "participant_1")
	require.NoError(t, err)
	for i := uint64(0); i < frames; i++ {
		w.Tick()
		if step != nil {
			step(w.Frame(), l)
		}
		reg.Tick()
	}
	_, err = w.EndSession(ctx)
	require.NoError(t, err)
	return rec
}

// writeLogs builds a recording folder from literal rows.
func writeLogs(t *testing.T, transformRows, uiRows []string) logfile.Recording {
	t.Helper()
	dir := t.TempDir()
	write := func(kind logfile.Kind, rows []string) {
		content := strings.Join(kind.Header(), ",") + "\n" + strings.Join(rows, "")
		require.NoError(t, os.WriteFile(filepath.Join(dir, kind.FileName()), []byte(content), 0o644))
	}
	write(logfile.KindTransform, transformRows)
	write(logfile.KindUI, uiRows)
	return logfile.Recording{Dir: dir}
}

type replayer struct {
	mem    *scene.Memory
	state  *replay.State
	engine *replay.Engine
}

// newReplayer opens rec against a fresh template. wrap may decorate the
// UI toolkit the state dispatches to.
func newReplayer(t *testing.T, rec logfile.Recording, wrap func(*scene.Memory) scene.UIToolkit) replayer {
	t.Helper()
	mem, root := loadScene(t).Template()
	var ui scene.UIToolkit = mem
	if wrap != nil {
		ui = wrap(mem)
	}
	state, err := replay.NewState(mem, ui, root, nil)
	require.NoError(t, err)
	engine := replay.NewEngine(state, replay.Options{}, nil)
	require.NoError(t, engine.Open(context.Background(), rec))
	t.Cleanup(func() { _ = engine.Close() })
	return replayer{mem: mem, state: state, engine: engine}
}

// playThrough ticks until every row up to and including frame is applied.
func (r replayer) playThrough(t *testing.T, frame uint64) {
	t.Helper()
	if r.engine.Mode() != replay.Playing {
		require.NoError(t, r.engine.Play())
	}
	for r.engine.CurrentFrame() <= frame {
		require.NoError(t, r.engine.Tick())
		if r.engine.Mode() == replay.Idle {
			return
		}
	}
}

func (r replayer) object(t *testing.T, id string) scene.Handle {
	t.Helper()
	h, ok := r.state.Bound(id)
	require.True(t, ok, "id %s is not bound", id)
	return h
}

type objectState struct {
	Name     string
	Position scene.Vec3
	Active   bool
}

func liveSnapshot(l live) map[string]objectState {
	out := make(map[string]objectState)
	for _, e := range l.reg.Entities() {
		out[e.ID] = objectState{Name: e.Name, Position: e.Transform.Position, Active: e.Active}
	}
	return out
}

func replaySnapshot(r replayer) map[string]objectState {
	out := make(map[string]objectState)
	for _, id := range r.state.BoundIDs() {
		h, _ := r.state.Bound(id)
		out[id] = objectState{
			Name:     r.mem.Name(h),
			Position: r.mem.LocalTransform(h).Position,
			Active:   r.mem.ActiveInHierarchy(h),
		}
	}
	return out
}
