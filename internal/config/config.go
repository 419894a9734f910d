package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	RecordingsDir string `toml:"recordings_dir"`
	LogDir        string `toml:"log_dir"`
	CatalogPath   string `toml:"catalog_path"`
}

// Recording contains the settings a recording session is written with.
type Recording struct {
	SessionID       string `toml:"session_id"`
	ParticipantID   string `toml:"participant_id"`
	FrameRate       int    `toml:"frame_rate"`
	IFrameInterval  int    `toml:"iframe_interval"`
	CustomVariables bool   `toml:"custom_variables"`
}

// Replay contains playback settings.
type Replay struct {
	FrameRate int `toml:"frame_rate"`
	// IFrameInterval overrides the interval stored in a recording's
	// manifest. Zero uses the manifest value.
	IFrameInterval int    `toml:"iframe_interval"`
	SceneManifest  string `toml:"scene_manifest"`
	TemplateRoot   string `toml:"template_root"`
}

// Capture contains external screen recorder settings.
type Capture struct {
	Enabled             bool   `toml:"enabled"`
	URL                 string `toml:"url"`
	Password            string `toml:"password"`
	OBSPath             string `toml:"obs_path"`
	KillStale           bool   `toml:"kill_stale"`
	RetryLimit          int    `toml:"retry_limit"`
	ConnectDelaySeconds int    `toml:"connect_delay_seconds"`
}

// Transfer contains log transfer settings for both ends.
type Transfer struct {
	BatchSize int    `toml:"batch_size"`
	Listen    string `toml:"listen"`
	SaveDir   string `toml:"save_dir"`
	URL       string `toml:"url"`
	// Origin prefixes pushed files on the receiver. Defaults to the host
	// name.
	Origin string `toml:"origin"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config holds every setting of the recorder, the replayer and the
// transfer tools.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Recording Recording `toml:"recording"`
	Replay    Replay    `toml:"replay"`
	Capture   Capture   `toml:"capture"`
	Transfer  Transfer  `toml:"transfer"`
	Logging   Logging   `toml:"logging"`
}

const (
	defaultConfigPath  = "~/.config/retrace/config.toml"
	projectConfigFile  = "retrace.toml"
	capturePasswordEnv = "RETRACE_CAPTURE_PASSWORD"
)

// DefaultConfigPath returns the absolute path of the per-user config file.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses and validates a configuration file. It returns the
// config, the path it was resolved from and whether that file exists. A
// missing file yields the defaults.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigFile)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the recordings and log directories and the
// catalog's parent.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.RecordingsDir, c.Paths.LogDir, filepath.Dir(c.Paths.CatalogPath)}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ConnectDelay is the wait between capture connection attempts.
func (c *Config) ConnectDelay() time.Duration {
	return time.Duration(c.Capture.ConnectDelaySeconds) * time.Second
}

// Encode renders the config as TOML.
func (c *Config) Encode() ([]byte, error) {
	redacted := *c
	if redacted.Capture.Password != "" {
		redacted.Capture.Password = "********"
	}
	return toml.Marshal(redacted)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath applies the config path rules (tilde expansion, absolute
// paths) for command-line arguments.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes the sample configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
