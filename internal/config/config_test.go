package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"retrace/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	chdir(t, t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if resolved != filepath.Join(tempHome, ".config", "retrace", "config.toml") {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}

	wantRecordings := filepath.Join(tempHome, ".local", "share", "retrace", "Recordings")
	if cfg.Paths.RecordingsDir != wantRecordings {
		t.Fatalf("unexpected recordings dir: got %q want %q", cfg.Paths.RecordingsDir, wantRecordings)
	}
	if cfg.Paths.CatalogPath != filepath.Join(cfg.Paths.LogDir, "catalog.db") {
		t.Fatalf("expected catalog under log dir, got %q", cfg.Paths.CatalogPath)
	}
	if cfg.Recording.FrameRate != 60 || cfg.Recording.IFrameInterval != 250 {
		t.Fatalf("unexpected recording defaults: %+v", cfg.Recording)
	}
	if !cfg.Recording.CustomVariables {
		t.Fatal("expected custom variables enabled by default")
	}
	if cfg.Capture.Enabled {
		t.Fatal("expected capture disabled by default")
	}
	if cfg.ConnectDelay() != 3*time.Second {
		t.Fatalf("unexpected connect delay: %s", cfg.ConnectDelay())
	}
	if cfg.Transfer.Origin == "" {
		t.Fatal("expected origin to default to the host name")
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.RecordingsDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "retrace.toml")

	type payload struct {
		Recording struct {
			SessionID      string `toml:"session_id"`
			ParticipantID  string `toml:"participant_id"`
			IFrameInterval int    `toml:"iframe_interval"`
		} `toml:"recording"`
		Capture struct {
			Enabled    bool `toml:"enabled"`
			RetryLimit int  `toml:"retry_limit"`
		} `toml:"capture"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Recording.SessionID = "pilot"
	custom.Recording.ParticipantID = "P07"
	custom.Recording.IFrameInterval = 120
	custom.Capture.Enabled = true
	custom.Capture.RetryLimit = 2
	custom.Logging.Format = " JSON "
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Recording.SessionID != "pilot" || cfg.Recording.ParticipantID != "P07" {
		t.Fatalf("unexpected ids: %+v", cfg.Recording)
	}
	if cfg.Recording.IFrameInterval != 120 {
		t.Fatalf("expected iframe interval 120, got %d", cfg.Recording.IFrameInterval)
	}
	if cfg.Recording.FrameRate != 60 {
		t.Fatalf("expected untouched frame rate default, got %d", cfg.Recording.FrameRate)
	}
	if !cfg.Capture.Enabled || cfg.Capture.RetryLimit != 2 {
		t.Fatalf("unexpected capture settings: %+v", cfg.Capture)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized log format, got %q", cfg.Logging.Format)
	}
}

func TestEnvVarOverridesCapturePassword(t *testing.T) {
	t.Setenv("RETRACE_CAPTURE_PASSWORD", "")
	configPath := filepath.Join(t.TempDir(), "retrace.toml")
	if err := os.WriteFile(configPath, []byte("[capture]\npassword = \"from-file\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Capture.Password != "from-file" {
		t.Fatalf("expected password from file, got %q", cfg.Capture.Password)
	}

	t.Setenv("RETRACE_CAPTURE_PASSWORD", "from-env")
	cfg, _, _, err = config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Capture.Password != "from-env" {
		t.Errorf("expected password from env, got %q", cfg.Capture.Password)
	}

	encoded, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if strings.Contains(string(encoded), "from-env") {
		t.Fatalf("encoded config leaks the password: %s", encoded)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"session id with separator": "[recording]\nsession_id = \"a/b\"\n",
		"empty participant":         "[recording]\nparticipant_id = \" \"\n",
		"zero frame rate":           "[recording]\nframe_rate = 0\n",
		"negative interval":         "[replay]\niframe_interval = -1\n",
		"zero batch size":           "[transfer]\nbatch_size = 0\n",
		"unknown log format":        "[logging]\nformat = \"xml\"\n",
		"unknown key":               "[recording]\nframerate = 30\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "retrace.toml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, _, _, err := config.Load(path); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestSampleConfigLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Replay.TemplateRoot != "ReplayCollection" {
		t.Fatalf("unexpected template root: %q", cfg.Replay.TemplateRoot)
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
