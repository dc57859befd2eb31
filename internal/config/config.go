package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
}

// Queue contains task store and worker pool tuning.
type Queue struct {
	// MaxWorkers is the worker pool size. Zero selects the host parallelism.
	MaxWorkers                int     `toml:"max_workers"`
	PollingIntervalSeconds    float64 `toml:"polling_interval_seconds"`
	MaxRetries                int     `toml:"max_retries"`
	CleanupAgeHours           int     `toml:"cleanup_age_hours"`
	CleanupIntervalMinutes    int     `toml:"cleanup_interval_minutes"`
	ErrorRetryIntervalSeconds float64 `toml:"error_retry_interval_seconds"`
	RetryBaseDelaySeconds     float64 `toml:"retry_base_delay_seconds"`
	RetryMaxDelaySeconds      float64 `toml:"retry_max_delay_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Workflow lists workflow definition files loaded by the worker daemon.
type Workflow struct {
	Definitions []string `toml:"definitions"`
}

// Notifications configures ntfy alerts for workflow outcomes and tasks that
// exhaust their retries.
type Notifications struct {
	// NtfyTopic is the full topic URL; empty disables notifications.
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	TaskFailures          bool   `toml:"task_failures"`
}

// Config encapsulates all configuration values for scholarq.
//
// Configuration sections by subsystem:
//   - Paths: data directory holding the task database, lock and log files
//   - Queue: worker pool size, polling, retry and cleanup policy
//   - Logging: log format and level
//   - Workflow: workflow definition files registered at daemon start
//   - Notifications: ntfy alerts raised by the worker daemon
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Logging       Logging       `toml:"logging"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/scholarq/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
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

	projectPath, err := filepath.Abs("scholarq.toml")
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

// EnsureDirectories creates the data directory used by the queue store and logs.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.DataDir, err)
	}
	return nil
}

// DatabasePath returns the location of the SQLite task store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath returns the location of the worker daemon lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "scholarq.lock")
}

// PIDPath returns the location of the worker daemon pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "scholarq.pid")
}

// LogPath returns the location of the daemon log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.DataDir, "scholarq.log")
}

// RequestTimeout returns the ntfy HTTP timeout.
func (n Notifications) RequestTimeout() time.Duration {
	return time.Duration(n.RequestTimeoutSeconds) * time.Second
}

// WorkerCount resolves max_workers, substituting the host parallelism for zero.
func (q Queue) WorkerCount() int {
	if q.MaxWorkers > 0 {
		return q.MaxWorkers
	}
	return runtime.NumCPU()
}

// PollInterval returns the idle wait between lease attempts.
func (q Queue) PollInterval() time.Duration {
	return seconds(q.PollingIntervalSeconds)
}

// ErrorRetryInterval returns the wait after a failed store access in a worker loop.
func (q Queue) ErrorRetryInterval() time.Duration {
	return seconds(q.ErrorRetryIntervalSeconds)
}

// RetryBaseDelay returns the first retry backoff delay.
func (q Queue) RetryBaseDelay() time.Duration {
	return seconds(q.RetryBaseDelaySeconds)
}

// RetryMaxDelay returns the cap applied to retry backoff delays.
func (q Queue) RetryMaxDelay() time.Duration {
	return seconds(q.RetryMaxDelaySeconds)
}

// CleanupAge returns the age after which terminal tasks are purged. Zero disables purging.
func (q Queue) CleanupAge() time.Duration {
	return time.Duration(q.CleanupAgeHours) * time.Hour
}

// CleanupInterval returns how often the purge runs.
func (q Queue) CleanupInterval() time.Duration {
	return time.Duration(q.CleanupIntervalMinutes) * time.Minute
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
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
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
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
