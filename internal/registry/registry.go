package registry

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"retrace/internal/logfile"
	"retrace/internal/logging"
	"retrace/internal/scene"
)

// ErrDuplicateID is returned when an object claims an identifier another
// registered object already owns.
var ErrDuplicateID = errors.New("duplicate identifier")

// Entity is a snapshot of a recordable object.
type Entity struct {
	Handle        scene.Handle
	ID            string
	ResourcePath  string
	Name          string
	Transform     scene.Transform
	Active        bool
	HierarchyPath string
}

// Element is a snapshot of an interactable control.
type Element struct {
	Handle        scene.Handle
	ID            string
	Kind          scene.UIKind
	Value         scene.UIValue
	Active        bool
	HierarchyPath string
}

// Sink receives state transitions. The registry only forwards while
// Recording reports true.
type Sink interface {
	Recording() bool
	RecordTransform(e Entity, status logfile.Status)
	RecordUIEvent(el Element, v scene.UIValue)
}

type entry struct {
	handle   scene.Handle
	id       string
	resource string
	last     scene.Transform
	// logged is set once the entity's first row is in the current session.
	logged bool
}

type elementEntry struct {
	handle      scene.Handle
	id          string
	kind        scene.UIKind
	unsubscribe func()
}

// Registry tracks the recordable entities and interactable controls of a
// live scene and turns their transitions into log events.
type Registry struct {
	graph  scene.Graph
	ui     scene.UIToolkit
	sink   Sink
	logger *slog.Logger

	entities map[scene.Handle]*entry
	order    []scene.Handle
	ids      map[string]scene.Handle

	elements  map[scene.Handle]*elementEntry
	elemOrder []scene.Handle
	elemIDs   map[string]scene.Handle
}

// New creates a registry over graph and ui. The UI toolkit may be nil when
// the scene has no controls.
func New(graph scene.Graph, ui scene.UIToolkit, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		graph:    graph,
		ui:       ui,
		logger:   logging.NewComponentLogger(logger, "registry"),
		entities: make(map[scene.Handle]*entry),
		ids:      make(map[string]scene.Handle),
		elements: make(map[scene.Handle]*elementEntry),
		elemIDs:  make(map[string]scene.Handle),
	}
}

// SetSink attaches the transition consumer.
func (r *Registry) SetSink(s Sink) {
	r.sink = s
}

func (r *Registry) recording() bool {
	return r.sink != nil && r.sink.Recording()
}

// Register starts tracking a recordable and returns its identifier, which
// is generated and persisted on first sight when unset. Registering an
// object twice returns the existing identifier. An object registered while
// recording and active is logged as Instantiated.
func (r *Registry) Register(info scene.RecordableInfo) (string, error) {
	if e, ok := r.entities[info.Handle]; ok {
		return e.id, nil
	}
	id := info.ID
	if id == "" {
		id = uuid.NewString()
		if assigner, ok := r.graph.(scene.IDAssigner); ok {
			assigner.AssignID(info.Handle, id)
		}
	}
	if _, taken := r.ids[id]; taken {
		return "", fmt.Errorf("register %s: %w: %s", r.graph.Path(info.Handle), ErrDuplicateID, id)
	}
	e := &entry{
		handle:   info.Handle,
		id:       id,
		resource: info.ResourcePath,
		last:     r.graph.LocalTransform(info.Handle),
	}
	r.entities[info.Handle] = e
	r.order = append(r.order, info.Handle)
	r.ids[id] = info.Handle
	r.logger.Debug("entity registered",
		logging.String(logging.FieldEntityID, id),
		logging.String("path", r.graph.Path(info.Handle)),
	)
	if r.recording() && r.graph.ActiveInHierarchy(info.Handle) {
		r.emit(e, logfile.Instantiated)
		e.logged = true
	}
	return id, nil
}

// RegisterElement starts tracking a control and subscribes to its value
// changes.
func (r *Registry) RegisterElement(info scene.InteractableInfo) (string, error) {
	if el, ok := r.elements[info.Handle]; ok {
		return el.id, nil
	}
	id := info.ID
	if id == "" {
		id = uuid.NewString()
		if assigner, ok := r.graph.(scene.IDAssigner); ok {
			assigner.AssignID(info.Handle, id)
		}
	}
	if _, taken := r.elemIDs[id]; taken {
		return "", fmt.Errorf("register control %s: %w: %s", r.graph.Path(info.Handle), ErrDuplicateID, id)
	}
	el := &elementEntry{handle: info.Handle, id: id, kind: info.Kind}
	if r.ui != nil {
		el.unsubscribe = r.ui.OnValueChanged(info.Handle, func(v scene.UIValue) {
			r.onValueChanged(el, v)
		})
	}
	r.elements[info.Handle] = el
	r.elemOrder = append(r.elemOrder, info.Handle)
	r.elemIDs[id] = info.Handle
	return id, nil
}

// RegisterAll discovers every recordable and control under root, which may
// be scene.None for the whole scene.
func (r *Registry) RegisterAll(root scene.Handle) error {
	var errs []error
	for _, info := range r.graph.Recordables(root) {
		if _, err := r.Register(info); err != nil {
			errs = append(errs, err)
		}
	}
	for _, info := range r.graph.Interactables(root) {
		if _, err := r.RegisterElement(info); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) onValueChanged(el *elementEntry, v scene.UIValue) {
	if !r.recording() {
		return
	}
	v.Kind = el.kind
	r.sink.RecordUIEvent(r.elementSnapshot(el), v)
}

// Tick emits Changed for every logged, active entity whose local transform
// differs from the one last observed. Inactive entities are skipped so a
// change made while hidden is reported once they are active again.
func (r *Registry) Tick() {
	for _, h := range r.order {
		e := r.entities[h]
		if !r.graph.ActiveInHierarchy(h) {
			continue
		}
		t := r.graph.LocalTransform(h)
		if t == e.last {
			continue
		}
		e.last = t
		if e.logged && r.recording() {
			r.emit(e, logfile.Changed)
		}
	}
}

// NotifyActivated reports that h became active. An entity that has not
// been logged in the current session is logged as Instantiated. A move made
// while the entity was inactive stays pending and is emitted as Changed by
// the next Tick, since replay applies only the active flag of Activated.
func (r *Registry) NotifyActivated(h scene.Handle) {
	e, ok := r.entities[h]
	if !ok {
		return
	}
	if e.logged {
		r.emit(e, logfile.Activated)
		return
	}
	if r.recording() {
		e.last = r.graph.LocalTransform(h)
		r.emit(e, logfile.Instantiated)
		e.logged = true
	}
}

// NotifyDeactivated reports that h became inactive.
func (r *Registry) NotifyDeactivated(h scene.Handle) {
	if e, ok := r.entities[h]; ok && e.logged {
		r.emit(e, logfile.Deactivated)
	}
}

// NotifyDestroyed reports that h and its subtree are about to be destroyed.
// It must be called while the objects still exist. Each tracked entity in
// the subtree emits Destroyed once and is forgotten.
func (r *Registry) NotifyDestroyed(h scene.Handle) {
	for _, info := range r.graph.Recordables(h) {
		e, ok := r.entities[info.Handle]
		if !ok {
			continue
		}
		r.emit(e, logfile.Destroyed)
		r.forget(e)
	}
	for _, info := range r.graph.Interactables(h) {
		if el, ok := r.elements[info.Handle]; ok {
			r.forgetElement(el)
		}
	}
}

func (r *Registry) forget(e *entry) {
	delete(r.entities, e.handle)
	delete(r.ids, e.id)
	for i, h := range r.order {
		if h == e.handle {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) forgetElement(el *elementEntry) {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
	delete(r.elements, el.handle)
	delete(r.elemIDs, el.id)
	for i, h := range r.elemOrder {
		if h == el.handle {
			r.elemOrder = append(r.elemOrder[:i], r.elemOrder[i+1:]...)
			break
		}
	}
}

func (r *Registry) emit(e *entry, status logfile.Status) {
	if !r.recording() {
		return
	}
	r.sink.RecordTransform(r.snapshot(e), status)
}

func (r *Registry) snapshot(e *entry) Entity {
	return Entity{
		Handle:        e.handle,
		ID:            e.id,
		ResourcePath:  e.resource,
		Name:          r.graph.Name(e.handle),
		Transform:     r.graph.LocalTransform(e.handle),
		Active:        r.graph.ActiveInHierarchy(e.handle),
		HierarchyPath: r.graph.Path(e.handle),
	}
}

func (r *Registry) elementSnapshot(el *elementEntry) Element {
	out := Element{
		Handle:        el.handle,
		ID:            el.id,
		Kind:          el.kind,
		Active:        r.graph.ActiveInHierarchy(el.handle),
		HierarchyPath: r.graph.Path(el.handle),
	}
	if r.ui != nil {
		out.Value = r.ui.Value(el.handle)
	}
	out.Value.Kind = el.kind
	return out
}

// SetLogged marks every tracked entity as logged (or not) in the current
// session. The writer calls it after the opening snapshot and at the end.
func (r *Registry) SetLogged(logged bool) {
	for _, e := range r.entities {
		e.logged = logged
		e.last = r.graph.LocalTransform(e.handle)
	}
}

// Entities returns snapshots of every tracked entity in registration order.
func (r *Registry) Entities() []Entity {
	out := make([]Entity, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, r.snapshot(r.entities[h]))
	}
	return out
}

// Elements returns snapshots of every tracked control in registration order.
func (r *Registry) Elements() []Element {
	out := make([]Element, 0, len(r.elemOrder))
	for _, h := range r.elemOrder {
		out = append(out, r.elementSnapshot(r.elements[h]))
	}
	return out
}

// Entity returns the snapshot of a tracked entity.
func (r *Registry) Entity(h scene.Handle) (Entity, bool) {
	e, ok := r.entities[h]
	if !ok {
		return Entity{}, false
	}
	return r.snapshot(e), true
}

// Lookup returns the handle of the entity with identifier id.
func (r *Registry) Lookup(id string) (scene.Handle, bool) {
	h, ok := r.ids[id]
	return h, ok
}

// Len returns the number of tracked entities.
func (r *Registry) Len() int { return len(r.order) }

// Close drops every subscription.
func (r *Registry) Close() {
	for _, h := range append([]scene.Handle(nil), r.elemOrder...) {
		r.forgetElement(r.elements[h])
	}
}
