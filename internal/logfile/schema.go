package logfile

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaVersion is the only log layout this package reads and writes. The
// header rows below are the schema; a header that differs is rejected.
const SchemaVersion = 1

var (
	// TransformHeader is the first row of a transform log.
	TransformHeader = []string{
		"FrameCount", "GameObject", "Status",
		"Pos X", "Pos Y", "Pos Z",
		"Rot X", "Rot Y", "Rot Z",
		"Scal X", "Scal Y", "Scal Z",
		"Resource Path", "ID", "Hierarchy",
	}
	// UIHeader is the first row of a UI event log.
	UIHeader = []string{"FrameCount", "UI Type", "New Value", "Hierarchy", "ID"}
	// CustomHeader is the first row of a custom variable log.
	CustomHeader = []string{"FrameCount", "Class Name", "Variable Name", "Variable Value"}
)

// ErrUnsupportedSchema is returned when a log's header row does not match
// the known layout.
var ErrUnsupportedSchema = errors.New("unsupported log schema")

// Kind identifies one of the log streams.
type Kind int

const (
	KindTransform Kind = iota
	KindUI
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindTransform:
		return "transform"
	case KindUI:
		return "ui"
	case KindCustom:
		return "custom"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Header returns the header row for the stream.
func (k Kind) Header() []string {
	switch k {
	case KindTransform:
		return TransformHeader
	case KindUI:
		return UIHeader
	case KindCustom:
		return CustomHeader
	}
	return nil
}

// FileName returns the file name the stream is stored under.
func (k Kind) FileName() string {
	switch k {
	case KindTransform:
		return TransformFile
	case KindUI:
		return UIFile
	case KindCustom:
		return CustomFile
	}
	return ""
}

// CheckHeader verifies that line is the header row of kind k.
func CheckHeader(k Kind, line string) error {
	fields, err := splitLine(trimEOL(line))
	if err != nil {
		return fmt.Errorf("%s log header: %w", k, ErrUnsupportedSchema)
	}
	want := k.Header()
	if len(fields) != len(want) {
		return fmt.Errorf("%s log header has %d columns, want %d: %w", k, len(fields), len(want), ErrUnsupportedSchema)
	}
	for i := range want {
		got := strings.TrimPrefix(fields[i], "\ufeff")
		if got != want[i] {
			return fmt.Errorf("%s log column %d is %q, want %q: %w", k, i, got, want[i], ErrUnsupportedSchema)
		}
	}
	return nil
}

// Status is the lifecycle state recorded in a transform row.
type Status int

const (
	Instantiated Status = iota
	Changed
	Destroyed
	Activated
	Deactivated
	IFrameActive
	IFrameInactive
)

var statusNames = [...]string{
	"Instantiated",
	"Changed",
	"Destroyed",
	"Activated",
	"Deactivated",
	"IFrame_Active",
	"IFrame_Inactive",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// IsKeyframe reports whether s is written only in keyframe snapshots.
func (s Status) IsKeyframe() bool {
	return s == IFrameActive || s == IFrameInactive
}

// ParseStatus maps a status string back to a Status.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}
