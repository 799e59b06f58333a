package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRecall()
	c.normalizeSummarizer()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.VaultDir, err = expandPath(c.Paths.VaultDir); err != nil {
		return fmt.Errorf("vault_dir: %w", err)
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("log_dir: %w", err)
	}
	if c.Security.MasterKeyFile != "" {
		if c.Security.MasterKeyFile, err = expandPath(c.Security.MasterKeyFile); err != nil {
			return fmt.Errorf("master_key_file: %w", err)
		}
	}
	if c.Transcriber.Script != "" {
		if c.Transcriber.Script, err = expandPath(c.Transcriber.Script); err != nil {
			return fmt.Errorf("transcriber script: %w", err)
		}
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	return nil
}

func (c *Config) normalizeRecall() {
	c.Recall.APIKey = strings.TrimSpace(c.Recall.APIKey)
	c.Recall.BaseURL = strings.TrimRight(strings.TrimSpace(c.Recall.BaseURL), "/")
	c.Recall.BotName = strings.TrimSpace(c.Recall.BotName)
	if c.Recall.BotName == "" {
		c.Recall.BotName = defaultRecallBotName
	}
	if c.Recall.RequestTimeout <= 0 {
		c.Recall.RequestTimeout = defaultRecallTimeout
	}
}

func (c *Config) normalizeSummarizer() {
	c.Summarizer.APIKey = strings.TrimSpace(c.Summarizer.APIKey)
	c.Summarizer.BaseURL = strings.TrimRight(strings.TrimSpace(c.Summarizer.BaseURL), "/")
	if c.Summarizer.BaseURL == "" {
		c.Summarizer.BaseURL = defaultSummarizerBaseURL
	}
	if c.Summarizer.Model == "" {
		c.Summarizer.Model = defaultSummarizerModel
	}
	if c.Summarizer.TimeoutSeconds <= 0 {
		c.Summarizer.TimeoutSeconds = defaultSummarizerTimeout
	}
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
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = defaultLogRetentionDays
	}
}
