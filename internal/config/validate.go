package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for structural problems. Credentials are
// validated lazily by the components that need them so that read-only CLI
// commands work against a partial config.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.VaultDir) == "" {
		return errors.New("paths.vault_dir is required")
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		return errors.New("paths.api_bind is required")
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateTranscriber(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateTranscriber() error {
	if c.Transcriber.MinSpeakers < 0 || c.Transcriber.MaxSpeakers < 0 {
		return errors.New("transcriber speaker counts cannot be negative")
	}
	if c.Transcriber.MaxSpeakers > 0 && c.Transcriber.MinSpeakers > c.Transcriber.MaxSpeakers {
		return errors.New("transcriber.min_speakers cannot exceed max_speakers")
	}
	return nil
}
