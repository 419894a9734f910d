package scene

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ErrUnknownResource is returned by Instantiate for resource paths that were
// never registered.
var ErrUnknownResource = errors.New("unknown resource")

type recordable struct {
	id       string
	resource string
	spawned  bool
}

type control struct {
	id    string
	kind  UIKind
	value UIValue
	// clicks counts button presses, both user and synthetic.
	clicks int
}

type node struct {
	name      string
	parent    Handle
	children  []Handle
	active    bool
	transform Transform
	rec       *recordable
	ui        *control
}

// Memory is an in-process scene graph and UI toolkit. It is not safe for
// concurrent use; callers drive it from a single tick loop.
type Memory struct {
	nodes     map[Handle]*node
	roots     []Handle
	next      Handle
	resources map[string]NodeSpec
	listeners map[Handle]map[int]func(UIValue)
	nextSub   int
	newID     func() string
}

var (
	_ Graph      = (*Memory)(nil)
	_ UIToolkit  = (*Memory)(nil)
	_ IDAssigner = (*Memory)(nil)
)

// NewMemory returns an empty scene.
func NewMemory() *Memory {
	return &Memory{
		nodes:     make(map[Handle]*node),
		resources: make(map[string]NodeSpec),
		listeners: make(map[Handle]map[int]func(UIValue)),
		newID:     uuid.NewString,
	}
}

// RegisterResource makes desc instantiable under path.
func (m *Memory) RegisterResource(path string, desc NodeSpec) {
	m.resources[path] = desc
}

// Build creates the subtree described by desc under parent and returns its
// root handle.
func (m *Memory) Build(desc NodeSpec, parent Handle) Handle {
	return m.build(desc, parent, "", false)
}

func (m *Memory) build(desc NodeSpec, parent Handle, resource string, spawned bool) Handle {
	m.next++
	h := m.next
	n := &node{
		name:      desc.Name,
		active:    !desc.Inactive,
		transform: desc.transform(),
	}
	if desc.Recordable || resource != "" {
		id := desc.ID
		if spawned {
			id = m.newID()
		}
		n.rec = &recordable{id: id, resource: resource, spawned: spawned}
	}
	if desc.UI != "" {
		kind, err := ParseUIKind(desc.UI)
		if err == nil {
			id := desc.ID
			if spawned {
				id = m.newID()
			}
			n.ui = &control{id: id, kind: kind, value: desc.uiValue(kind)}
		}
	}
	m.nodes[h] = n
	m.attach(h, parent)
	for _, child := range desc.Children {
		m.build(child, h, "", spawned)
	}
	return h
}

func (m *Memory) attach(h, parent Handle) {
	n := m.nodes[h]
	n.parent = None
	if p, ok := m.nodes[parent]; ok {
		n.parent = parent
		p.children = append(p.children, h)
		return
	}
	m.roots = append(m.roots, h)
}

func (m *Memory) detach(h Handle) {
	n := m.nodes[h]
	if p, ok := m.nodes[n.parent]; ok {
		p.children = removeHandle(p.children, h)
	} else {
		m.roots = removeHandle(m.roots, h)
	}
	n.parent = None
}

func removeHandle(list []Handle, h Handle) []Handle {
	for i, v := range list {
		if v == h {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Find implements Graph.
func (m *Memory) Find(root Handle, path string) (Handle, bool) {
	names := SplitPath(path)
	if len(names) == 0 {
		_, ok := m.nodes[root]
		return root, ok
	}
	candidates := m.roots
	if root != None {
		n, ok := m.nodes[root]
		if !ok {
			return None, false
		}
		candidates = n.children
	}
	var cur Handle
	for _, name := range names {
		cur = None
		for _, c := range candidates {
			if m.nodes[c].name == name {
				cur = c
				break
			}
		}
		if cur == None {
			return None, false
		}
		candidates = m.nodes[cur].children
	}
	return cur, true
}

// Instantiate implements Graph.
func (m *Memory) Instantiate(resource string) (Handle, error) {
	desc, ok := m.resources[resource]
	if !ok {
		return None, fmt.Errorf("instantiate %q: %w", resource, ErrUnknownResource)
	}
	return m.build(desc, None, resource, true), nil
}

// Destroy implements Graph.
func (m *Memory) Destroy(h Handle) {
	if _, ok := m.nodes[h]; !ok {
		return
	}
	m.detach(h)
	m.drop(h)
}

func (m *Memory) drop(h Handle) {
	n := m.nodes[h]
	for _, c := range n.children {
		m.drop(c)
	}
	delete(m.nodes, h)
	delete(m.listeners, h)
}

// Clone implements Graph. The copy is attached next to the original and
// keeps every identifier, value, and active flag.
func (m *Memory) Clone(h Handle) (Handle, error) {
	src, ok := m.nodes[h]
	if !ok {
		return None, fmt.Errorf("clone: unknown handle %d", h)
	}
	return m.cloneInto(h, src.parent), nil
}

func (m *Memory) cloneInto(h, parent Handle) Handle {
	src := m.nodes[h]
	m.next++
	dst := m.next
	cp := &node{
		name:      src.name,
		active:    src.active,
		transform: src.transform,
	}
	if src.rec != nil {
		rec := *src.rec
		cp.rec = &rec
	}
	if src.ui != nil {
		ui := *src.ui
		ui.clicks = 0
		cp.ui = &ui
	}
	m.nodes[dst] = cp
	m.attach(dst, parent)
	for _, c := range append([]Handle(nil), src.children...) {
		m.cloneInto(c, dst)
	}
	return dst
}

// Exists reports whether h refers to a live object.
func (m *Memory) Exists(h Handle) bool {
	_, ok := m.nodes[h]
	return ok
}

// Parent implements Graph.
func (m *Memory) Parent(h Handle) Handle {
	if n, ok := m.nodes[h]; ok {
		return n.parent
	}
	return None
}

// SetParent implements Graph. Reparenting under a descendant is ignored.
func (m *Memory) SetParent(h, parent Handle) {
	if _, ok := m.nodes[h]; !ok {
		return
	}
	for p := parent; p != None; p = m.Parent(p) {
		if p == h {
			return
		}
	}
	m.detach(h)
	m.attach(h, parent)
}

// Active implements Graph.
func (m *Memory) Active(h Handle) bool {
	n, ok := m.nodes[h]
	return ok && n.active
}

// ActiveInHierarchy implements Graph.
func (m *Memory) ActiveInHierarchy(h Handle) bool {
	if _, ok := m.nodes[h]; !ok {
		return false
	}
	for cur := h; cur != None; cur = m.nodes[cur].parent {
		if !m.nodes[cur].active {
			return false
		}
	}
	return true
}

// SetActive implements Graph.
func (m *Memory) SetActive(h Handle, active bool) {
	if n, ok := m.nodes[h]; ok {
		n.active = active
	}
}

// Name implements Graph.
func (m *Memory) Name(h Handle) string {
	if n, ok := m.nodes[h]; ok {
		return n.name
	}
	return ""
}

// SetName implements Graph.
func (m *Memory) SetName(h Handle, name string) {
	if n, ok := m.nodes[h]; ok {
		n.name = name
	}
}

// Path implements Graph.
func (m *Memory) Path(h Handle) string {
	var names []string
	for cur := h; cur != None; {
		n, ok := m.nodes[cur]
		if !ok {
			break
		}
		names = append(names, n.name)
		cur = n.parent
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return JoinPath(names...)
}

// LocalTransform implements Graph.
func (m *Memory) LocalTransform(h Handle) Transform {
	if n, ok := m.nodes[h]; ok {
		return n.transform
	}
	return Transform{}
}

// SetLocalTransform implements Graph.
func (m *Memory) SetLocalTransform(h Handle, t Transform) {
	if n, ok := m.nodes[h]; ok {
		n.transform = t
	}
}

// Recordable implements Graph.
func (m *Memory) Recordable(h Handle) (RecordableInfo, bool) {
	n, ok := m.nodes[h]
	if !ok || n.rec == nil {
		return RecordableInfo{}, false
	}
	return RecordableInfo{Handle: h, ID: n.rec.id, ResourcePath: n.rec.resource, Spawned: n.rec.spawned}, true
}

// Recordables implements Graph. Inactive objects are included.
func (m *Memory) Recordables(root Handle) []RecordableInfo {
	var out []RecordableInfo
	m.walk(root, func(h Handle, _ *node) {
		if info, ok := m.Recordable(h); ok {
			out = append(out, info)
		}
	})
	return out
}

// Interactables implements Graph. Inactive controls are included.
func (m *Memory) Interactables(root Handle) []InteractableInfo {
	var out []InteractableInfo
	m.walk(root, func(h Handle, n *node) {
		if n.ui != nil {
			out = append(out, InteractableInfo{Handle: h, ID: n.ui.id, Kind: n.ui.kind})
		}
	})
	return out
}

func (m *Memory) walk(root Handle, fn func(Handle, *node)) {
	var visit func(h Handle)
	visit = func(h Handle) {
		n, ok := m.nodes[h]
		if !ok {
			return
		}
		fn(h, n)
		for _, c := range n.children {
			visit(c)
		}
	}
	if root != None {
		visit(root)
		return
	}
	for _, r := range m.roots {
		visit(r)
	}
}

// AssignID implements IDAssigner.
func (m *Memory) AssignID(h Handle, id string) {
	n, ok := m.nodes[h]
	if !ok {
		return
	}
	if n.rec != nil {
		n.rec.id = id
	}
	if n.ui != nil {
		n.ui.id = id
	}
}

// Value implements UIToolkit.
func (m *Memory) Value(h Handle) UIValue {
	if n, ok := m.nodes[h]; ok && n.ui != nil {
		return n.ui.value
	}
	return UIValue{}
}

// SetValue implements UIToolkit. Toggles and sliders notify only when the
// value actually changes; buttons notify on every press.
func (m *Memory) SetValue(h Handle, v UIValue) {
	n, ok := m.nodes[h]
	if !ok || n.ui == nil {
		return
	}
	v.Kind = n.ui.kind
	if n.ui.kind == Button {
		n.ui.clicks++
	} else if n.ui.value == v {
		return
	}
	n.ui.value = v
	m.notify(h, v)
}

func (m *Memory) notify(h Handle, v UIValue) {
	subs := m.listeners[h]
	keys := make([]int, 0, len(subs))
	for k := range subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		if fn, ok := subs[k]; ok {
			fn(v)
		}
	}
}

// OnValueChanged implements UIToolkit.
func (m *Memory) OnValueChanged(h Handle, fn func(UIValue)) func() {
	subs, ok := m.listeners[h]
	if !ok {
		subs = make(map[int]func(UIValue))
		m.listeners[h] = subs
	}
	m.nextSub++
	key := m.nextSub
	subs[key] = fn
	return func() {
		if s, ok := m.listeners[h]; ok {
			delete(s, key)
		}
	}
}

// Dispatch implements UIToolkit.
func (m *Memory) Dispatch(h Handle, v UIValue) {
	n, ok := m.nodes[h]
	if !ok || n.ui == nil {
		return
	}
	if n.ui.kind == Button {
		n.ui.clicks++
		return
	}
	v.Kind = n.ui.kind
	n.ui.value = v
}

// Clicks returns how many times the button h was pressed.
func (m *Memory) Clicks(h Handle) int {
	if n, ok := m.nodes[h]; ok && n.ui != nil {
		return n.ui.clicks
	}
	return 0
}

// Roots returns the top-level objects in creation order.
func (m *Memory) Roots() []Handle {
	return append([]Handle(nil), m.roots...)
}

// Children returns the direct children of h.
func (m *Memory) Children(h Handle) []Handle {
	if n, ok := m.nodes[h]; ok {
		return append([]Handle(nil), n.children...)
	}
	return nil
}
