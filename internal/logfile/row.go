package logfile

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"retrace/internal/scene"
)

// MalformedRowError reports a row that could not be parsed. Readers skip
// such rows and keep going.
type MalformedRowError struct {
	Offset int64
	Line   string
	Reason string
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("malformed row at offset %d: %s", e.Offset, e.Reason)
}

func malformed(format string, args ...any) *MalformedRowError {
	return &MalformedRowError{Offset: -1, Reason: fmt.Sprintf(format, args...)}
}

// TransformRow is one entry of the transform log.
type TransformRow struct {
	Frame        uint64
	Name         string
	Status       Status
	Transform    scene.Transform
	ResourcePath string
	ID           string
	Hierarchy    string
}

// Record returns the row's CSV fields in header order.
func (r TransformRow) Record() []string {
	t := r.Transform
	return []string{
		formatFrame(r.Frame),
		sanitize(r.Name),
		r.Status.String(),
		formatFloat(t.Position.X), formatFloat(t.Position.Y), formatFloat(t.Position.Z),
		formatFloat(t.Rotation.X), formatFloat(t.Rotation.Y), formatFloat(t.Rotation.Z),
		formatFloat(t.Scale.X), formatFloat(t.Scale.Y), formatFloat(t.Scale.Z),
		sanitize(r.ResourcePath),
		sanitize(r.ID),
		sanitize(r.Hierarchy),
	}
}

// ParseTransformRecord builds a row from header-ordered fields.
func ParseTransformRecord(fields []string) (TransformRow, error) {
	if len(fields) != len(TransformHeader) {
		return TransformRow{}, malformed("transform row has %d fields, want %d", len(fields), len(TransformHeader))
	}
	frame, err := parseFrame(fields[0])
	if err != nil {
		return TransformRow{}, err
	}
	status, err := ParseStatus(fields[2])
	if err != nil {
		return TransformRow{}, malformed("%v", err)
	}
	var v [9]float64
	for i := range v {
		f, err := strconv.ParseFloat(strings.TrimSpace(fields[3+i]), 64)
		if err != nil {
			return TransformRow{}, malformed("column %q: %q is not a number", TransformHeader[3+i], fields[3+i])
		}
		v[i] = f
	}
	if fields[13] == "" {
		return TransformRow{}, malformed("transform row without id")
	}
	return TransformRow{
		Frame:  frame,
		Name:   fields[1],
		Status: status,
		Transform: scene.Transform{
			Position: scene.Vec3{X: v[0], Y: v[1], Z: v[2]},
			Rotation: scene.Vec3{X: v[3], Y: v[4], Z: v[5]},
			Scale:    scene.Vec3{X: v[6], Y: v[7], Z: v[8]},
		},
		ResourcePath: fields[12],
		ID:           fields[13],
		Hierarchy:    fields[14],
	}, nil
}

// ParseTransformLine parses one line of a transform log.
func ParseTransformLine(line string) (TransformRow, error) {
	fields, err := splitLine(trimEOL(line))
	if err != nil {
		return TransformRow{}, err
	}
	return ParseTransformRecord(fields)
}

// UIRow is one entry of the UI event log.
type UIRow struct {
	Frame     uint64
	Kind      scene.UIKind
	Value     string
	Hierarchy string
	ID        string
}

// Record returns the row's CSV fields in header order.
func (r UIRow) Record() []string {
	return []string{
		formatFrame(r.Frame),
		r.Kind.String(),
		sanitize(r.Value),
		sanitize(r.Hierarchy),
		sanitize(r.ID),
	}
}

// ParseUIRecord builds a row from header-ordered fields.
func ParseUIRecord(fields []string) (UIRow, error) {
	if len(fields) != len(UIHeader) {
		return UIRow{}, malformed("ui row has %d fields, want %d", len(fields), len(UIHeader))
	}
	frame, err := parseFrame(fields[0])
	if err != nil {
		return UIRow{}, err
	}
	kind, err := scene.ParseUIKind(fields[1])
	if err != nil {
		return UIRow{}, malformed("%v", err)
	}
	return UIRow{Frame: frame, Kind: kind, Value: fields[2], Hierarchy: fields[3], ID: fields[4]}, nil
}

// ParseUILine parses one line of a UI event log.
func ParseUILine(line string) (UIRow, error) {
	fields, err := splitLine(trimEOL(line))
	if err != nil {
		return UIRow{}, err
	}
	return ParseUIRecord(fields)
}

// CustomRow is one entry of the custom variable log.
type CustomRow struct {
	Frame    uint64
	Class    string
	Variable string
	Value    string
}

// Record returns the row's CSV fields in header order.
func (r CustomRow) Record() []string {
	return []string{formatFrame(r.Frame), sanitize(r.Class), sanitize(r.Variable), sanitize(r.Value)}
}

// ParseCustomRecord builds a row from header-ordered fields.
func ParseCustomRecord(fields []string) (CustomRow, error) {
	if len(fields) != len(CustomHeader) {
		return CustomRow{}, malformed("custom row has %d fields, want %d", len(fields), len(CustomHeader))
	}
	frame, err := parseFrame(fields[0])
	if err != nil {
		return CustomRow{}, err
	}
	return CustomRow{Frame: frame, Class: fields[1], Variable: fields[2], Value: fields[3]}, nil
}

// FormatUIValue renders a control value the way the UI log stores it:
// "click" for buttons, "True"/"False" for toggles, and the shortest exact
// decimal for sliders.
func FormatUIValue(v scene.UIValue) string {
	switch v.Kind {
	case scene.Toggle:
		if v.On {
			return "True"
		}
		return "False"
	case scene.Slider:
		return formatFloat(v.Amount)
	}
	return "click"
}

// ParseUIValue is the inverse of FormatUIValue.
func ParseUIValue(kind scene.UIKind, s string) (scene.UIValue, error) {
	switch kind {
	case scene.Toggle:
		on, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return scene.UIValue{}, malformed("toggle value %q", s)
		}
		return scene.ToggleValue(on), nil
	case scene.Slider:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return scene.UIValue{}, malformed("slider value %q", s)
		}
		return scene.SliderValue(f), nil
	}
	return scene.Click(), nil
}

// ParseFrame reads the frame number from the start of a log line without
// parsing the remaining columns.
func ParseFrame(line string) (uint64, error) {
	field, _, _ := strings.Cut(trimEOL(line), ",")
	return parseFrame(field)
}

func parseFrame(s string) (uint64, error) {
	f, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, malformed("frame %q is not an unsigned integer", s)
	}
	return f, nil
}

func formatFrame(f uint64) string {
	return strconv.FormatUint(f, 10)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// sanitize keeps every row on one physical line so byte offsets of lines
// and rows coincide.
func sanitize(s string) string {
	return lineBreaks.Replace(s)
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

func splitLine(line string) ([]string, error) {
	if !strings.Contains(line, `"`) {
		return strings.Split(line, ","), nil
	}
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	fields, err := r.Read()
	if err != nil {
		return nil, malformed("unreadable quoting: %v", err)
	}
	return fields, nil
}
