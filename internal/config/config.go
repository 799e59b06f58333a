package config

import (
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// EnvMasterKey is the environment variable that overrides [security].master_key.
const EnvMasterKey = "MURMUR_MASTER_KEY"

// Paths contains directory and bind address configuration.
type Paths struct {
	VaultDir string `toml:"vault_dir"`
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
}

// Security contains the master key used to wrap per-meeting data keys.
type Security struct {
	MasterKey     string `toml:"master_key"`
	MasterKeyFile string `toml:"master_key_file"`
}

// Auth contains bearer-token verification settings.
type Auth struct {
	JWTSecret     string `toml:"jwt_secret"`
	LeewaySeconds int    `toml:"leeway_seconds"`
}

// Recall contains configuration for the external meeting-bot provider.
type Recall struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	BotName        string `toml:"bot_name"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Transcriber contains configuration for the transcription engine subprocess.
type Transcriber struct {
	Python      string `toml:"python"`
	Script      string `toml:"script"`
	Model       string `toml:"model"`
	HFToken     string `toml:"hf_token"`
	MinSpeakers int    `toml:"min_speakers"`
	MaxSpeakers int    `toml:"max_speakers"`
}

// Summarizer contains configuration for the summarization engine.
type Summarizer struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Processors contains settings shared by both artifact processors.
type Processors struct {
	// AllowMockFallback enables development-only mock output when an engine
	// is unavailable. Every activation is logged loudly.
	AllowMockFallback bool `toml:"allow_mock_fallback"`
}

// Media contains the external binaries used for audio handling.
type Media struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
}

// Workflow contains pipeline timing settings.
type Workflow struct {
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Failed         bool   `toml:"failed"`
	Discarded      bool   `toml:"discarded"`
}

// Config encapsulates all configuration values for murmur.
//
// Configuration sections by subsystem:
//   - Paths: vault/data/log directories and API bind address
//   - Security: master key for data-key wrapping
//   - Auth: bearer-token verification
//   - Recall: meeting-bot provider credentials
//   - Transcriber: transcription engine subprocess
//   - Summarizer: summarization engine connection
//   - Processors: shared processor behavior (mock fallback gate)
//   - Media: ffmpeg/ffprobe binaries
//   - Workflow: pipeline retry timing
//   - Logging: log format, level, and retention
//   - Notifications: ntfy push notification settings
type Config struct {
	Paths         Paths         `toml:"paths"`
	Security      Security      `toml:"security"`
	Auth          Auth          `toml:"auth"`
	Recall        Recall        `toml:"recall"`
	Transcriber   Transcriber   `toml:"transcriber"`
	Summarizer    Summarizer    `toml:"summarizer"`
	Processors    Processors    `toml:"processors"`
	Media         Media         `toml:"media"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/murmur/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
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
		if err := decoder.Decode(&cfg); err != nil {
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
		_, err = os.Stat(expanded)
		if err != nil {
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

	projectPath, err := filepath.Abs("murmur.toml")
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

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.VaultDir, c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// MasterKey resolves the 32-byte master key from the environment, the
// configured literal, or the configured key file, in that order.
func (c *Config) MasterKey() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(EnvMasterKey))
	if raw == "" {
		raw = strings.TrimSpace(c.Security.MasterKey)
	}
	if raw == "" && c.Security.MasterKeyFile != "" {
		data, err := os.ReadFile(c.Security.MasterKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read master key file: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		return nil, fmt.Errorf("master key not configured (set %s or [security].master_key)", EnvMasterKey)
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("master key: invalid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key: expected 32 bytes, got %d", len(key))
	}
	return key, nil
}

// FFmpegBinary returns the configured ffmpeg binary or the default.
func (c *Config) FFmpegBinary() string {
	if b := strings.TrimSpace(c.Media.FFmpegBinary); b != "" {
		return b
	}
	return "ffmpeg"
}

// FFprobeBinary returns the configured ffprobe binary or the default.
func (c *Config) FFprobeBinary() string {
	if b := strings.TrimSpace(c.Media.FFprobeBinary); b != "" {
		return b
	}
	return "ffprobe"
}

func expandPath(pathValue string) (string, error) {
	trimmed := strings.TrimSpace(pathValue)
	if trimmed == "" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, strings.TrimPrefix(trimmed, "~/")), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", trimmed, err)
	}
	return abs, nil
}

// ExpandPath expands ~ prefixes and resolves the supplied path to an absolute path.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes the embedded sample configuration to the supplied path.
func CreateSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
