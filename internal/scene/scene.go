package scene

import (
	"fmt"
	"strings"
)

// Handle identifies a live object in a scene graph. The zero Handle refers
// to nothing and is returned by lookups that fail.
type Handle uint64

// None is the empty handle.
const None Handle = 0

// Vec3 is a three-component vector.
type Vec3 struct {
	X, Y, Z float64
}

// Transform is an object's local placement. Rotation holds Euler angles in
// degrees.
type Transform struct {
	Position Vec3
	Rotation Vec3
	Scale    Vec3
}

// Identity returns a transform at the origin with unit scale.
func Identity() Transform {
	return Transform{Scale: Vec3{X: 1, Y: 1, Z: 1}}
}

// UIKind enumerates the interactable control types.
type UIKind int

const (
	Button UIKind = iota
	Toggle
	Slider
)

var uiKindNames = [...]string{"button", "toggle", "slider"}

// String returns the lowercase wire name of the kind.
func (k UIKind) String() string {
	if k < 0 || int(k) >= len(uiKindNames) {
		return fmt.Sprintf("uikind(%d)", int(k))
	}
	return uiKindNames[k]
}

// ParseUIKind accepts the wire name of a control kind, case-insensitively.
func ParseUIKind(s string) (UIKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "button":
		return Button, nil
	case "toggle":
		return Toggle, nil
	case "slider":
		return Slider, nil
	}
	return 0, fmt.Errorf("unknown ui kind %q", s)
}

// Stateful reports whether controls of this kind hold a value worth
// snapshotting. Buttons only ever produce clicks.
func (k UIKind) Stateful() bool {
	return k == Toggle || k == Slider
}

// UIValue is a control's value. On is meaningful for toggles, Amount for
// sliders; buttons carry no value.
type UIValue struct {
	Kind   UIKind
	On     bool
	Amount float64
}

// Click is the value a button reports when pressed.
func Click() UIValue { return UIValue{Kind: Button} }

// ToggleValue builds a toggle value.
func ToggleValue(on bool) UIValue { return UIValue{Kind: Toggle, On: on} }

// SliderValue builds a slider value.
func SliderValue(v float64) UIValue { return UIValue{Kind: Slider, Amount: v} }

// RecordableInfo describes an object whose transform is tracked.
type RecordableInfo struct {
	Handle       Handle
	ID           string
	ResourcePath string
	// Spawned is set for objects created from a resource while the scene was
	// running, as opposed to objects authored into the scene.
	Spawned bool
}

// InteractableInfo describes a UI control.
type InteractableInfo struct {
	Handle Handle
	ID     string
	Kind   UIKind
}

// Graph is the scene object model the recorder reads from and the replayer
// drives.
type Graph interface {
	// Find resolves a slash-delimited path relative to root. A None root
	// resolves against top-level objects.
	Find(root Handle, path string) (Handle, bool)
	Instantiate(resource string) (Handle, error)
	Destroy(h Handle)
	Clone(h Handle) (Handle, error)
	Exists(h Handle) bool

	Parent(h Handle) Handle
	SetParent(h, parent Handle)
	Active(h Handle) bool
	ActiveInHierarchy(h Handle) bool
	SetActive(h Handle, active bool)
	Name(h Handle) string
	SetName(h Handle, name string)
	// Path returns the root-first name chain of h, e.g. "/Room/Table/Cup".
	Path(h Handle) string

	LocalTransform(h Handle) Transform
	SetLocalTransform(h Handle, t Transform)

	Recordable(h Handle) (RecordableInfo, bool)
	Recordables(root Handle) []RecordableInfo
	Interactables(root Handle) []InteractableInfo
}

// IDAssigner is implemented by graphs that can persist identifiers assigned
// to recordables and controls that had none.
type IDAssigner interface {
	AssignID(h Handle, id string)
}

// UIToolkit reads and drives control values.
type UIToolkit interface {
	Value(h Handle) UIValue
	// SetValue changes a value as a user would, notifying subscribers. The
	// kind of v is ignored in favour of the control's own kind.
	SetValue(h Handle, v UIValue)
	// OnValueChanged subscribes fn to user-visible changes of h and returns
	// a function that removes the subscription.
	OnValueChanged(h Handle, fn func(UIValue)) (unsubscribe func())
	// Dispatch applies a synthetic interaction. Subscribers are not notified.
	Dispatch(h Handle, v UIValue)
}

// JoinPath builds a path from names.
func JoinPath(names ...string) string {
	if len(names) == 0 {
		return "/"
	}
	return "/" + strings.Join(names, "/")
}

// SplitPath splits a slash-delimited path into names, dropping empty
// segments.
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
