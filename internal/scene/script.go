package scene

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Script actions.
const (
	ActionSpawn      = "spawn"
	ActionDestroy    = "destroy"
	ActionActivate   = "activate"
	ActionDeactivate = "deactivate"
	ActionMove       = "move"
	ActionSet        = "set"
	ActionClick      = "click"
	ActionVariable   = "variable"
)

// Track moves an object linearly between two positions over a frame range.
type Track struct {
	Path  string `yaml:"path"`
	From  uint64 `yaml:"from"`
	To    uint64 `yaml:"to"`
	Start Vec3   `yaml:"start"`
	End   Vec3   `yaml:"end"`
}

// At returns the interpolated position at frame and whether the track is
// running then.
func (t Track) At(frame uint64) (Vec3, bool) {
	if frame < t.From || frame > t.To {
		return Vec3{}, false
	}
	if t.To == t.From {
		return t.End, true
	}
	f := float64(frame-t.From) / float64(t.To-t.From)
	return Vec3{
		X: t.Start.X + (t.End.X-t.Start.X)*f,
		Y: t.Start.Y + (t.End.Y-t.Start.Y)*f,
		Z: t.Start.Z + (t.End.Z-t.Start.Z)*f,
	}, true
}

// Event is a single scripted action.
type Event struct {
	Frame    uint64  `yaml:"frame"`
	Action   string  `yaml:"action"`
	Path     string  `yaml:"path,omitempty"`
	Resource string  `yaml:"resource,omitempty"`
	Name     string  `yaml:"name,omitempty"`
	Parent   string  `yaml:"parent,omitempty"`
	Position *Vec3   `yaml:"position,omitempty"`
	Rotation *Vec3   `yaml:"rotation,omitempty"`
	Scale    *Vec3   `yaml:"scale,omitempty"`
	On       bool    `yaml:"on,omitempty"`
	Amount   float64 `yaml:"amount,omitempty"`
	Class    string  `yaml:"class,omitempty"`
	Variable string  `yaml:"variable,omitempty"`
	Value    string  `yaml:"value,omitempty"`
}

// Target receives scripted actions. Paths are absolute scene paths.
type Target interface {
	Spawn(resource, name, parent string, t Transform) error
	Destroy(path string) error
	SetActive(path string, active bool) error
	Move(path string, t Transform) error
	SetPosition(path string, p Vec3) error
	SetUI(path string, v UIValue) error
	Click(path string) error
	Variable(class, name, value string) error
}

// Script is a timed sequence of motion tracks and events.
type Script struct {
	Frames uint64  `yaml:"frames"`
	Tracks []Track `yaml:"tracks,omitempty"`
	Events []Event `yaml:"events,omitempty"`
}

// LoadScript reads a script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	return s, nil
}

// ParseScript decodes script YAML. Events are ordered by frame, keeping the
// authored order within a frame.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	for i, ev := range s.Events {
		ev.Action = strings.ToLower(strings.TrimSpace(ev.Action))
		s.Events[i] = ev
		switch ev.Action {
		case ActionSpawn:
			if ev.Resource == "" {
				return nil, fmt.Errorf("event %d: spawn requires resource", i)
			}
		case ActionDestroy, ActionActivate, ActionDeactivate, ActionMove, ActionSet, ActionClick:
			if ev.Path == "" {
				return nil, fmt.Errorf("event %d: %s requires path", i, ev.Action)
			}
		case ActionVariable:
			if ev.Class == "" || ev.Variable == "" {
				return nil, fmt.Errorf("event %d: variable requires class and variable", i)
			}
		default:
			return nil, fmt.Errorf("event %d: unknown action %q", i, ev.Action)
		}
	}
	for i, tr := range s.Tracks {
		if tr.Path == "" || tr.To < tr.From {
			return nil, fmt.Errorf("track %d: needs a path and from <= to", i)
		}
	}
	sort.SliceStable(s.Events, func(i, j int) bool { return s.Events[i].Frame < s.Events[j].Frame })
	if s.Frames == 0 {
		s.Frames = s.lastFrame()
	}
	return &s, nil
}

func (s *Script) lastFrame() uint64 {
	var last uint64
	for _, tr := range s.Tracks {
		last = max(last, tr.To)
	}
	for _, ev := range s.Events {
		last = max(last, ev.Frame)
	}
	return last
}

// Apply runs every track sample and event scheduled for frame. Tracks run
// first so events at the same frame observe the moved objects.
func (s *Script) Apply(frame uint64, target Target) error {
	for _, tr := range s.Tracks {
		pos, ok := tr.At(frame)
		if !ok {
			continue
		}
		if err := target.SetPosition(tr.Path, pos); err != nil {
			return fmt.Errorf("track %s at frame %d: %w", tr.Path, frame, err)
		}
	}
	for _, ev := range s.Events {
		if ev.Frame != frame {
			continue
		}
		if err := s.apply(ev, target); err != nil {
			return fmt.Errorf("%s %s at frame %d: %w", ev.Action, ev.Path, frame, err)
		}
	}
	return nil
}

func (s *Script) apply(ev Event, target Target) error {
	switch ev.Action {
	case ActionSpawn:
		return target.Spawn(ev.Resource, ev.Name, ev.Parent, ev.transform())
	case ActionDestroy:
		return target.Destroy(ev.Path)
	case ActionActivate:
		return target.SetActive(ev.Path, true)
	case ActionDeactivate:
		return target.SetActive(ev.Path, false)
	case ActionMove:
		return target.Move(ev.Path, ev.transform())
	case ActionSet:
		// The control's own kind decides which field applies.
		return target.SetUI(ev.Path, UIValue{On: ev.On, Amount: ev.Amount})
	case ActionClick:
		return target.Click(ev.Path)
	case ActionVariable:
		return target.Variable(ev.Class, ev.Variable, ev.Value)
	}
	return fmt.Errorf("unknown action %q", ev.Action)
}

func (ev Event) transform() Transform {
	t := Identity()
	if ev.Position != nil {
		t.Position = *ev.Position
	}
	if ev.Rotation != nil {
		t.Rotation = *ev.Rotation
	}
	if ev.Scale != nil {
		t.Scale = *ev.Scale
	}
	return t
}
