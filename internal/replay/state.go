package replay

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"retrace/internal/logfile"
	"retrace/internal/logging"
	"retrace/internal/scene"
)

// ErrUnresolvable is matched by errors for rows naming an object that can
// neither be found nor instantiated.
var ErrUnresolvable = errors.New("unresolvable reference")

// UnresolvableError describes a dropped row.
type UnresolvableError struct {
	ID     string
	Path   string
	Reason string
}

func (e *UnresolvableError) Error() string {
	return fmt.Sprintf("%s %s (%s): %s", ErrUnresolvable, e.ID, e.Path, e.Reason)
}

func (e *UnresolvableError) Is(target error) bool { return target == ErrUnresolvable }

// Stats counts what a State did since its last reset.
type Stats struct {
	Instantiated int
	Destroyed    int
	Evicted      int
	UIDispatched int
	// ParentMisses counts rows whose logged parent was not found; the object
	// keeps its current parent.
	ParentMisses int
}

// State owns the replay copy of the scene and the bindings from logged
// identifiers to live handles.
type State struct {
	graph    scene.Graph
	ui       scene.UIToolkit
	logger   *slog.Logger
	template scene.Handle

	root     scene.Handle
	previous scene.Handle

	objects map[string]scene.Handle
	// persisted maps the identifier a bound object carries in the scene to
	// the identifier it was logged under.
	persisted map[string]string
	controls  map[string]scene.Handle

	stats Stats
}

// NewState creates replay state over graph. template is the inactive
// collection that every replay starts from; it is never modified.
func NewState(graph scene.Graph, ui scene.UIToolkit, template scene.Handle, logger *slog.Logger) (*State, error) {
	if !graph.Exists(template) {
		return nil, errors.New("replay template does not exist")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	graph.SetActive(template, false)
	return &State{
		graph:     graph,
		ui:        ui,
		logger:    logging.NewComponentLogger(logger, "replay_state"),
		template:  template,
		objects:   make(map[string]scene.Handle),
		persisted: make(map[string]string),
		controls:  make(map[string]scene.Handle),
	}, nil
}

// Root returns the active replay copy, or scene.None before the first reset.
func (s *State) Root() scene.Handle { return s.root }

// Stats returns the counters since the last reset.
func (s *State) Stats() Stats { return s.stats }

// ResetToFreshCopy deactivates the current copy, schedules it for
// destruction and clones a new one from the template. Authored recordables
// and every control in the copy are bound under their own identifiers.
func (s *State) ResetToFreshCopy() error {
	if s.previous != scene.None {
		s.graph.Destroy(s.previous)
		s.previous = scene.None
	}
	if s.root != scene.None {
		s.graph.SetActive(s.root, false)
		s.previous = s.root
		s.root = scene.None
	}
	clear(s.objects)
	clear(s.persisted)
	clear(s.controls)
	s.stats = Stats{}

	root, err := s.graph.Clone(s.template)
	if err != nil {
		return fmt.Errorf("clone replay template: %w", err)
	}
	s.graph.SetActive(root, true)
	s.root = root

	for _, info := range s.graph.Recordables(root) {
		if info.Spawned || info.ID == "" {
			continue
		}
		if _, dup := s.objects[info.ID]; dup {
			continue
		}
		s.objects[info.ID] = info.Handle
		s.persisted[info.ID] = info.ID
	}
	for _, info := range s.graph.Interactables(root) {
		if info.ID == "" {
			continue
		}
		if _, dup := s.controls[info.ID]; !dup {
			s.controls[info.ID] = info.Handle
		}
	}
	s.logger.Debug("replay copy reset",
		logging.Int("bound_objects", len(s.objects)),
		logging.Int("bound_controls", len(s.controls)),
	)
	return nil
}

// DestroyPending destroys the copy replaced by the last reset.
func (s *State) DestroyPending() {
	if s.previous == scene.None {
		return
	}
	s.graph.Destroy(s.previous)
	s.previous = scene.None
}

// Bound returns the live handle bound to a logged identifier.
func (s *State) Bound(id string) (scene.Handle, bool) {
	h, ok := s.objects[id]
	if ok && !s.graph.Exists(h) {
		s.unbind(id, scene.None)
		return scene.None, false
	}
	return h, ok
}

// BoundIDs returns the logged identifiers of every bound object, sorted.
func (s *State) BoundIDs() []string {
	out := make([]string, 0, len(s.objects))
	for id, h := range s.objects {
		if s.graph.Exists(h) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// LoggedID maps the identifier a bound object carries in the scene back to
// the identifier its rows use.
func (s *State) LoggedID(persistedID string) (string, bool) {
	id, ok := s.persisted[persistedID]
	return id, ok
}

// ApplyTransformRow applies one transform row to the replay copy.
func (s *State) ApplyTransformRow(row logfile.TransformRow) error {
	if s.root == scene.None {
		return errors.New("replay copy not initialised")
	}
	h, ok := s.Bound(row.ID)
	if !ok {
		if row.Status == logfile.Destroyed && row.ResourcePath != "" {
			return nil
		}
		var err error
		if h, err = s.resolve(row); err != nil {
			return err
		}
	}

	switch row.Status {
	case logfile.Destroyed:
		s.unbind(row.ID, h)
		s.graph.Destroy(h)
		s.stats.Destroyed++
		return nil
	case logfile.Activated:
		s.graph.SetActive(h, true)
		return nil
	case logfile.Deactivated, logfile.IFrameInactive:
		s.graph.SetActive(h, false)
		return nil
	case logfile.IFrameActive:
		s.graph.SetActive(h, true)
	}
	s.fixParent(h, row.Hierarchy)
	s.graph.SetLocalTransform(h, row.Transform)
	return nil
}

func (s *State) resolve(row logfile.TransformRow) (scene.Handle, error) {
	if row.ResourcePath == "" {
		h, ok := s.graph.Find(s.root, row.Hierarchy)
		if !ok {
			return scene.None, &UnresolvableError{ID: row.ID, Path: row.Hierarchy, Reason: "no object at logged path"}
		}
		s.bind(row.ID, h)
		return h, nil
	}
	h, err := s.graph.Instantiate(row.ResourcePath)
	if err != nil {
		return scene.None, &UnresolvableError{ID: row.ID, Path: row.Hierarchy, Reason: err.Error()}
	}
	s.graph.SetName(h, row.Name)
	s.bind(row.ID, h)
	s.fixParent(h, row.Hierarchy)
	s.stats.Instantiated++
	return h, nil
}

func (s *State) bind(id string, h scene.Handle) {
	s.objects[id] = h
	if info, ok := s.graph.Recordable(h); ok && info.ID != "" {
		s.persisted[info.ID] = id
	}
}

func (s *State) unbind(id string, h scene.Handle) {
	delete(s.objects, id)
	if h != scene.None {
		if info, ok := s.graph.Recordable(h); ok {
			delete(s.persisted, info.ID)
			return
		}
	}
	for pid, logged := range s.persisted {
		if logged == id {
			delete(s.persisted, pid)
		}
	}
}

// fixParent moves h under the parent named by its logged hierarchy. A
// single-segment path means the replay root.
func (s *State) fixParent(h scene.Handle, hierarchy string) {
	names := scene.SplitPath(hierarchy)
	parent := s.root
	if len(names) > 1 {
		p, ok := s.graph.Find(s.root, scene.JoinPath(names[:len(names)-1]...))
		if !ok {
			s.stats.ParentMisses++
			return
		}
		parent = p
	}
	if s.graph.Parent(h) != parent {
		s.graph.SetParent(h, parent)
	}
}

// Evict destroys every bound object whose logged identifier is not in keep
// and returns how many were removed.
func (s *State) Evict(keep map[string]struct{}) int {
	n := 0
	for id, h := range s.objects {
		if _, ok := keep[id]; ok {
			continue
		}
		s.unbind(id, h)
		if s.graph.Exists(h) {
			s.graph.Destroy(h)
		}
		n++
	}
	s.stats.Evicted += n
	return n
}

// ApplyUIRow replays a control interaction. Controls that are not active in
// the hierarchy ignore it.
func (s *State) ApplyUIRow(row logfile.UIRow) error {
	if s.root == scene.None {
		return errors.New("replay copy not initialised")
	}
	h, ok := s.controls[row.ID]
	if ok && !s.graph.Exists(h) {
		delete(s.controls, row.ID)
		ok = false
	}
	if !ok {
		if h, ok = s.graph.Find(s.root, row.Hierarchy); !ok {
			return &UnresolvableError{ID: row.ID, Path: row.Hierarchy, Reason: "no control at logged path"}
		}
		s.controls[row.ID] = h
	}
	if !s.graph.ActiveInHierarchy(h) {
		return nil
	}
	v, err := logfile.ParseUIValue(row.Kind, row.Value)
	if err != nil {
		return err
	}
	if s.ui != nil {
		s.ui.Dispatch(h, v)
	}
	s.stats.UIDispatched++
	return nil
}
