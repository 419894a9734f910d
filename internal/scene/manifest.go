package scene

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultCollection names the template collection a replay copies.
const DefaultCollection = "ReplayCollection"

// NodeSpec describes one object and its children in a manifest.
type NodeSpec struct {
	Name       string     `yaml:"name"`
	ID         string     `yaml:"id,omitempty"`
	Recordable bool       `yaml:"recordable,omitempty"`
	Inactive   bool       `yaml:"inactive,omitempty"`
	Position   *Vec3      `yaml:"position,omitempty"`
	Rotation   *Vec3      `yaml:"rotation,omitempty"`
	Scale      *Vec3      `yaml:"scale,omitempty"`
	UI         string     `yaml:"ui,omitempty"`
	On         bool       `yaml:"on,omitempty"`
	Amount     float64    `yaml:"amount,omitempty"`
	Children   []NodeSpec `yaml:"children,omitempty"`
}

func (s NodeSpec) transform() Transform {
	t := Identity()
	if s.Position != nil {
		t.Position = *s.Position
	}
	if s.Rotation != nil {
		t.Rotation = *s.Rotation
	}
	if s.Scale != nil {
		t.Scale = *s.Scale
	}
	return t
}

func (s NodeSpec) uiValue(kind UIKind) UIValue {
	switch kind {
	case Toggle:
		return ToggleValue(s.On)
	case Slider:
		return SliderValue(s.Amount)
	}
	return Click()
}

// UnmarshalYAML accepts either a three-element sequence or an x/y/z mapping.
func (v *Vec3) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var xs []float64
		if err := node.Decode(&xs); err != nil {
			return err
		}
		if len(xs) != 3 {
			return fmt.Errorf("line %d: vector needs 3 components, got %d", node.Line, len(xs))
		}
		*v = Vec3{X: xs[0], Y: xs[1], Z: xs[2]}
		return nil
	case yaml.MappingNode:
		var m struct {
			X float64 `yaml:"x"`
			Y float64 `yaml:"y"`
			Z float64 `yaml:"z"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		*v = Vec3{X: m.X, Y: m.Y, Z: m.Z}
		return nil
	}
	return fmt.Errorf("line %d: unsupported vector form", node.Line)
}

// Manifest is the YAML description of a scene: authored objects plus the
// resources that may be instantiated at runtime.
type Manifest struct {
	Collection string              `yaml:"collection,omitempty"`
	Nodes      []NodeSpec          `yaml:"nodes"`
	Resources  map[string]NodeSpec `yaml:"resources,omitempty"`
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("parse scene manifest %s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes manifest YAML and validates names.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if strings.TrimSpace(m.Collection) == "" {
		m.Collection = DefaultCollection
	}
	for _, n := range m.Nodes {
		if err := validateSpec(n); err != nil {
			return nil, err
		}
	}
	for path, n := range m.Resources {
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("resource with empty path")
		}
		if err := validateSpec(n); err != nil {
			return nil, fmt.Errorf("resource %s: %w", path, err)
		}
	}
	return &m, nil
}

func validateSpec(s NodeSpec) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("node without name")
	}
	if strings.ContainsAny(s.Name, "/\n") {
		return fmt.Errorf("node %q: name must not contain '/' or newlines", s.Name)
	}
	if s.UI != "" {
		if _, err := ParseUIKind(s.UI); err != nil {
			return fmt.Errorf("node %q: %w", s.Name, err)
		}
	}
	for _, c := range s.Children {
		if err := validateSpec(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manifest) registerResources(mem *Memory) {
	paths := make([]string, 0, len(m.Resources))
	for p := range m.Resources {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		mem.RegisterResource(p, m.Resources[p])
	}
}

// Live builds the scene as it exists during a session: authored objects at
// the top level.
func (m *Manifest) Live() *Memory {
	mem := NewMemory()
	m.registerResources(mem)
	for _, n := range m.Nodes {
		mem.Build(n, None)
	}
	return mem
}

// Template builds a replay scene: every authored object nested under a
// deactivated collection node. It returns the scene and the collection.
func (m *Manifest) Template() (*Memory, Handle) {
	mem := NewMemory()
	m.registerResources(mem)
	root := mem.Build(NodeSpec{Name: m.Collection}, None)
	for _, n := range m.Nodes {
		mem.Build(n, root)
	}
	mem.SetActive(root, false)
	return mem, root
}
