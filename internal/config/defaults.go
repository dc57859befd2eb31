package config

const (
	defaultDataDir                   = "~/.local/share/scholarq"
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultPollingIntervalSeconds    = 0.5
	defaultMaxRetries                = 3
	defaultCleanupAgeHours           = 168
	defaultCleanupIntervalMinutes    = 60
	defaultErrorRetryIntervalSeconds = 5
	defaultRetryBaseDelaySeconds     = 1.0
	defaultRetryMaxDelaySeconds      = 60.0
	defaultNtfyTimeoutSeconds        = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Queue: Queue{
			MaxWorkers:                0,
			PollingIntervalSeconds:    defaultPollingIntervalSeconds,
			MaxRetries:                defaultMaxRetries,
			CleanupAgeHours:           defaultCleanupAgeHours,
			CleanupIntervalMinutes:    defaultCleanupIntervalMinutes,
			ErrorRetryIntervalSeconds: defaultErrorRetryIntervalSeconds,
			RetryBaseDelaySeconds:     defaultRetryBaseDelaySeconds,
			RetryMaxDelaySeconds:      defaultRetryMaxDelaySeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
			TaskFailures:          true,
		},
	}
}
