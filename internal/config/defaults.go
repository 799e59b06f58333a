package config

const (
	defaultVaultDir           = "~/.local/share/murmur/storage_vault"
	defaultDataDir            = "~/.local/share/murmur/state"
	defaultLogDir             = "~/.local/share/murmur/logs"
	defaultAPIBind            = "127.0.0.1:3002"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 60
	defaultRecallBaseURL      = "https://us-east-1.recall.ai/api/v1"
	defaultRecallBotName      = "Murmur Notetaker"
	defaultRecallTimeout      = 30
	defaultBotJoinTimeout     = 30
	defaultTranscriberPython  = "python3"
	defaultTranscriberModel   = "base"
	defaultSummarizerBaseURL  = "https://api.deepseek.com"
	defaultSummarizerModel    = "deepseek-chat"
	defaultSummarizerTimeout  = 120
	defaultErrorRetryInterval = 10
	defaultNotifyTimeout      = 10
	defaultAuthLeewaySeconds  = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			VaultDir: defaultVaultDir,
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Auth: Auth{
			LeewaySeconds: defaultAuthLeewaySeconds,
		},
		Recall: Recall{
			BaseURL:        defaultRecallBaseURL,
			BotName:        defaultRecallBotName,
			RequestTimeout: defaultRecallTimeout,
		},
		Transcriber: Transcriber{
			Python: defaultTranscriberPython,
			Model:  defaultTranscriberModel,
		},
		Summarizer: Summarizer{
			BaseURL:        defaultSummarizerBaseURL,
			Model:          defaultSummarizerModel,
			TimeoutSeconds: defaultSummarizerTimeout,
		},
		Workflow: Workflow{
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Completed:      true,
			Failed:         true,
			Discarded:      true,
		},
	}
}
