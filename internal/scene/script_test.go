package scene_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrace/internal/scene"
)

type recordingTarget struct {
	calls []string
	pos   map[string]scene.Vec3
}

func (r *recordingTarget) Spawn(resource, name, parent string, _ scene.Transform) error {
	r.calls = append(r.calls, "spawn "+resource+" "+name+" "+parent)
	return nil
}
func (r *recordingTarget) Destroy(path string) error {
	r.calls = append(r.calls, "destroy "+path)
	return nil
}
func (r *recordingTarget) SetActive(path string, active bool) error {
	if active {
		r.calls = append(r.calls, "activate "+path)
	} else {
		r.calls = append(r.calls, "deactivate "+path)
	}
	return nil
}
func (r *recordingTarget) Move(path string, _ scene.Transform) error {
	r.calls = append(r.calls, "move "+path)
	return nil
}
func (r *recordingTarget) SetPosition(path string, p scene.Vec3) error {
	if r.pos == nil {
		r.pos = map[string]scene.Vec3{}
	}
	r.pos[path] = p
	return nil
}
func (r *recordingTarget) SetUI(path string, _ scene.UIValue) error {
	r.calls = append(r.calls, "set "+path)
	return nil
}
func (r *recordingTarget) Click(path string) error {
	r.calls = append(r.calls, "click "+path)
	return nil
}
func (r *recordingTarget) Variable(class, name, value string) error {
	r.calls = append(r.calls, "variable "+class+"."+name+"="+value)
	return nil
}

const sampleScript = `
tracks:
  - path: /Cube
    from: 0
    to: 600
    start: [0, 0, 0]
    end: [10, 0, 0]
events:
  - frame: 20
    action: Destroy
    path: /Cube
  - frame: 10
    action: spawn
    resource: Prefabs/Ball
    name: Ball
  - frame: 10
    action: click
    path: /Panel/Submit
  - frame: 15
    action: variable
    class: Survey
    variable: score
    value: "4"
`

func TestParseScriptOrdersEvents(t *testing.T) {
	s, err := scene.ParseScript([]byte(sampleScript))
	require.NoError(t, err)
	assert.Equal(t, uint64(600), s.Frames)

	target := &recordingTarget{}
	for f := uint64(0); f <= 20; f++ {
		require.NoError(t, s.Apply(f, target))
	}
	assert.Equal(t, []string{
		"spawn Prefabs/Ball Ball ",
		"click /Panel/Submit",
		"variable Survey.score=4",
		"destroy /Cube",
	}, target.calls)
	assert.InDelta(t, 10.0*20/600, target.pos["/Cube"].X, 1e-12)
}

func TestTrackEndpoints(t *testing.T) {
	tr := scene.Track{Path: "/A", From: 100, To: 200, End: scene.Vec3{X: 4}}
	_, ok := tr.At(99)
	assert.False(t, ok)
	p, ok := tr.At(150)
	require.True(t, ok)
	assert.Equal(t, 2.0, p.X)
	p, _ = tr.At(200)
	assert.Equal(t, 4.0, p.X)
}

func TestParseScriptRejectsUnknownAction(t *testing.T) {
	_, err := scene.ParseScript([]byte("events:\n  - frame: 1\n    action: teleport\n    path: /A\n"))
	assert.Error(t, err)

	_, err = scene.ParseScript([]byte("events:\n  - frame: 1\n    action: destroy\n"))
	assert.Error(t, err)
}
