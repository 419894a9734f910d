package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"retrace/internal/logfile"
	"retrace/internal/recording"
	"retrace/internal/registry"
	"retrace/internal/scene"
)

// LabManifest is a small scene with two recordables, two UI controls, a
// spawnable prefab and the replay template root.
const LabManifest = `
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
      - name: Submit
        ui: button
        id: submit-1
resources:
  Prefabs/Ball:
    name: Ball
`

// LabScript moves the cube, spawns and destroys a ball and clicks through
// the panel within 40 frames.
const LabScript = `
frames: 40
tracks:
  - path: /Room/Cube
    from: 1
    to: 30
    start: [0, 0, 0]
    end: [3, 0, 0]
events:
  - frame: 5
    action: spawn
    resource: Prefabs/Ball
    name: Ball
    parent: /Room
    position: [1, 1, 1]
  - frame: 12
    action: set
    path: /Panel/Agree
    on: true
  - frame: 14
    action: click
    path: /Panel/Submit
  - frame: 25
    action: destroy
    path: /Room/Ball
`

// WriteScene writes LabManifest and LabScript under dir and returns their
// paths.
func WriteScene(t testing.TB, dir string) (manifest, script string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	manifest = filepath.Join(dir, "scene.yaml")
	script = filepath.Join(dir, "script.yaml")
	if err := os.WriteFile(manifest, []byte(LabManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(script, []byte(LabScript), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return manifest, script
}

// RecordLab records frames frames of the lab scene under root, moving the
// cube one unit per frame, and returns the finished recording.
func RecordLab(t testing.TB, root string, frames uint64) logfile.Recording {
	t.Helper()
	ctx := context.Background()
	m, err := scene.ParseManifest([]byte(LabManifest))
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	mem := m.Live()
	reg := registry.New(mem, mem, nil)
	if err := reg.RegisterAll(scene.None); err != nil {
		t.Fatalf("register scene: %v", err)
	}
	cube, ok := mem.Find(scene.None, "/Room/Cube")
	if !ok {
		t.Fatal("lab scene has no cube")
	}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	w := recording.NewWriter(recording.Options{Root: root, Now: func() time.Time { return now }}, reg, nil)
	rec, err := w.BeginSession(ctx, "session_1", "participant_1")
	if err != nil {
		t.Fatalf("begin session: %v", err)
	}
	for i := uint64(0); i < frames; i++ {
		w.Tick()
		tr := mem.LocalTransform(cube)
		tr.Position.X = float64(w.Frame())
		mem.SetLocalTransform(cube, tr)
		reg.Tick()
	}
	if _, err := w.EndSession(ctx); err != nil {
		t.Fatalf("end session: %v", err)
	}
	return rec
}
