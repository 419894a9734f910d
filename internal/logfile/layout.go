package logfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// File names inside a recording folder.
const (
	TransformFile = "transform_data.csv"
	UIFile        = "ui_event_data.csv"
	CustomFile    = "custom_variables_data.csv"
	ManifestFile  = "recording.toml"
	LockFile      = ".lock"
)

// TimestampLayout names recording folders; it sorts chronologically.
const TimestampLayout = "2006-01-02_15-04-05"

// ErrNoRecording is returned when no recording folder can be found.
var ErrNoRecording = errors.New("no recording found")

// Recording locates one recording folder:
// {root}/{session}/{participant}/{timestamp}.
type Recording struct {
	Dir           string
	SessionID     string
	ParticipantID string
	StartedAt     time.Time
}

// Path returns the file of stream k inside the recording.
func (r Recording) Path(k Kind) string {
	return filepath.Join(r.Dir, k.FileName())
}

// TransformPath returns the transform log path.
func (r Recording) TransformPath() string { return r.Path(KindTransform) }

// UIPath returns the UI event log path.
func (r Recording) UIPath() string { return r.Path(KindUI) }

// ManifestPath returns the manifest path.
func (r Recording) ManifestPath() string { return filepath.Join(r.Dir, ManifestFile) }

// CreateFolder creates a new recording folder for the session and
// participant stamped with at. If the folder exists, a numeric suffix is
// added so an earlier recording is never reused.
func CreateFolder(root, sessionID, participantID string, at time.Time) (Recording, error) {
	if err := ValidateName(sessionID); err != nil {
		return Recording{}, fmt.Errorf("session id: %w", err)
	}
	if err := ValidateName(participantID); err != nil {
		return Recording{}, fmt.Errorf("participant id: %w", err)
	}
	parent := filepath.Join(root, sessionID, participantID)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return Recording{}, err
	}
	stamp := at.Format(TimestampLayout)
	name := stamp
	for i := 1; ; i++ {
		dir := filepath.Join(parent, name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return Recording{Dir: dir, SessionID: sessionID, ParticipantID: participantID, StartedAt: at}, nil
		}
		if !errors.Is(err, os.ErrExist) || i > 99 {
			return Recording{}, err
		}
		name = fmt.Sprintf("%s_%d", stamp, i)
	}
}

// ValidateName rejects identifiers that cannot be used as a folder name.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("must not be empty")
	case name == "." || name == "..":
		return fmt.Errorf("%q is not a valid folder name", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%q must not contain path separators", name)
	}
	return nil
}

// Open describes an existing recording folder. The folder must contain a
// transform log.
func Open(dir string) (Recording, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Recording{}, err
	}
	if _, err := os.Stat(filepath.Join(abs, TransformFile)); err != nil {
		return Recording{}, fmt.Errorf("%s: %w", abs, ErrNoRecording)
	}
	rec := Recording{
		Dir:           abs,
		ParticipantID: filepath.Base(filepath.Dir(abs)),
		SessionID:     filepath.Base(filepath.Dir(filepath.Dir(abs))),
		StartedAt:     parseStamp(filepath.Base(abs)),
	}
	if m, err := ReadManifest(rec.ManifestPath()); err == nil {
		rec.SessionID = m.SessionID
		rec.ParticipantID = m.ParticipantID
		rec.StartedAt = m.StartedAt
	}
	return rec, nil
}

func parseStamp(name string) time.Time {
	if len(name) < len(TimestampLayout) {
		return time.Time{}
	}
	t, err := time.ParseInLocation(TimestampLayout, name[:len(TimestampLayout)], time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// List returns every recording under root, oldest first.
func List(root string) ([]Recording, error) {
	pattern := filepath.Join(root, "*", "*", "*", TransformFile)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	recs := make([]Recording, 0, len(matches))
	for _, m := range matches {
		rec, err := Open(filepath.Dir(m))
		if err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].StartedAt.Before(recs[j].StartedAt)
		}
		return recs[i].Dir < recs[j].Dir
	})
	return recs, nil
}

// FindLatest returns the most recently started recording under root.
func FindLatest(root string) (Recording, error) {
	recs, err := List(root)
	if err != nil {
		return Recording{}, err
	}
	if len(recs) == 0 {
		return Recording{}, fmt.Errorf("%s: %w", root, ErrNoRecording)
	}
	return recs[len(recs)-1], nil
}

// Manifest is the recording.toml written next to the logs.
type Manifest struct {
	SchemaVersion  int        `toml:"schema_version"`
	SessionID      string     `toml:"session_id"`
	ParticipantID  string     `toml:"participant_id"`
	FrameRate      int        `toml:"frame_rate"`
	IFrameInterval int        `toml:"iframe_interval"`
	Capture        string     `toml:"capture"`
	StartedAt      time.Time  `toml:"started_at"`
	EndedAt        *time.Time `toml:"ended_at,omitempty"`
	Frames         uint64     `toml:"frames"`
	TransformRows  int64      `toml:"transform_rows"`
	UIRows         int64      `toml:"ui_rows"`
	CustomRows     int64      `toml:"custom_rows"`
}

// Complete reports whether the session was ended cleanly.
func (m Manifest) Complete() bool { return m.EndedAt != nil }

// WriteManifest stores m at path, replacing it atomically.
func WriteManifest(path string, m Manifest) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadManifest loads a manifest and checks its schema version.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	if m.SchemaVersion != SchemaVersion {
		return Manifest{}, fmt.Errorf("manifest %s has schema %d: %w", path, m.SchemaVersion, ErrUnsupportedSchema)
	}
	return m, nil
}
