package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRecording(); err != nil {
		return err
	}
	if err := c.validateReplay(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateTransfer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func validateName(field, value string) error {
	switch {
	case value == "":
		return fmt.Errorf("%s must be set", field)
	case value == "." || value == "..":
		return fmt.Errorf("%s %q is not a valid folder name", field, value)
	case strings.ContainsAny(value, `/\`):
		return fmt.Errorf("%s %q must not contain path separators", field, value)
	}
	return nil
}

func (c *Config) validateRecording() error {
	if err := validateName("recording.session_id", c.Recording.SessionID); err != nil {
		return err
	}
	if err := validateName("recording.participant_id", c.Recording.ParticipantID); err != nil {
		return err
	}
	if c.Recording.FrameRate <= 0 {
		return errors.New("recording.frame_rate must be positive")
	}
	if c.Recording.IFrameInterval <= 0 {
		return errors.New("recording.iframe_interval must be positive")
	}
	return nil
}

func (c *Config) validateReplay() error {
	if c.Replay.FrameRate <= 0 {
		return errors.New("replay.frame_rate must be positive")
	}
	if c.Replay.IFrameInterval < 0 {
		return errors.New("replay.iframe_interval must be zero (use the manifest) or positive")
	}
	if c.Replay.TemplateRoot == "" {
		return errors.New("replay.template_root must be set")
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.RetryLimit < 0 {
		return errors.New("capture.retry_limit must be >= 0")
	}
	if c.Capture.ConnectDelaySeconds < 0 {
		return errors.New("capture.connect_delay_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateTransfer() error {
	if c.Transfer.BatchSize <= 0 {
		return errors.New("transfer.batch_size must be positive")
	}
	if c.Transfer.Origin != "" {
		if err := validateName("transfer.origin", c.Transfer.Origin); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	return nil
}
