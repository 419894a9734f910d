package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRecording()
	c.normalizeCapture()
	if err := c.normalizeTransfer(); err != nil {
		return err
	}
	if c.Replay.SceneManifest != "" {
		var err error
		if c.Replay.SceneManifest, err = expandPath(strings.TrimSpace(c.Replay.SceneManifest)); err != nil {
			return fmt.Errorf("replay.scene_manifest: %w", err)
		}
	}
	c.Replay.TemplateRoot = strings.Trim(strings.TrimSpace(c.Replay.TemplateRoot), "/")
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RecordingsDir) == "" {
		c.Paths.RecordingsDir = defaultRecordingsDir
	}
	if c.Paths.RecordingsDir, err = expandPath(strings.TrimSpace(c.Paths.RecordingsDir)); err != nil {
		return fmt.Errorf("paths.recordings_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CatalogPath) == "" {
		base := c.Paths.LogDir
		if base == "" {
			base = filepath.Dir(c.Paths.RecordingsDir)
		}
		c.Paths.CatalogPath = filepath.Join(base, defaultCatalogFile)
	}
	if c.Paths.CatalogPath, err = expandPath(strings.TrimSpace(c.Paths.CatalogPath)); err != nil {
		return fmt.Errorf("paths.catalog_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeRecording() {
	c.Recording.SessionID = strings.TrimSpace(c.Recording.SessionID)
	c.Recording.ParticipantID = strings.TrimSpace(c.Recording.ParticipantID)
}

func (c *Config) normalizeCapture() {
	c.Capture.URL = strings.TrimSpace(c.Capture.URL)
	if c.Capture.URL == "" {
		c.Capture.URL = defaultCaptureURL
	}
	if value, ok := os.LookupEnv(capturePasswordEnv); ok && value != "" {
		c.Capture.Password = value
	}
	c.Capture.OBSPath = strings.TrimSpace(c.Capture.OBSPath)
}

func (c *Config) normalizeTransfer() error {
	c.Transfer.Listen = strings.TrimSpace(c.Transfer.Listen)
	if c.Transfer.Listen == "" {
		c.Transfer.Listen = defaultTransferListen
	}
	c.Transfer.URL = strings.TrimSpace(c.Transfer.URL)
	c.Transfer.Origin = strings.TrimSpace(c.Transfer.Origin)
	if c.Transfer.Origin == "" {
		if host, err := os.Hostname(); err == nil {
			c.Transfer.Origin = host
		}
	}
	if strings.TrimSpace(c.Transfer.SaveDir) == "" {
		c.Transfer.SaveDir = defaultTransferSaveDir
	}
	var err error
	if c.Transfer.SaveDir, err = expandPath(strings.TrimSpace(c.Transfer.SaveDir)); err != nil {
		return fmt.Errorf("transfer.save_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
