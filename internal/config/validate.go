package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validateQueue() error {
	q := c.Queue
	if q.MaxWorkers < 0 {
		return errors.New("queue.max_workers must be >= 0 (0 selects host parallelism)")
	}
	if err := ensurePositiveMap(map[string]float64{
		"queue.polling_interval_seconds":     q.PollingIntervalSeconds,
		"queue.error_retry_interval_seconds": q.ErrorRetryIntervalSeconds,
	}); err != nil {
		return err
	}
	if q.MaxRetries < 0 {
		return errors.New("queue.max_retries must be >= 0")
	}
	if q.CleanupAgeHours < 0 {
		return errors.New("queue.cleanup_age_hours must be >= 0 (0 disables cleanup)")
	}
	if q.CleanupAgeHours > 0 && q.CleanupIntervalMinutes <= 0 {
		return errors.New("queue.cleanup_interval_minutes must be positive when cleanup is enabled")
	}
	if q.RetryBaseDelaySeconds < 0 {
		return errors.New("queue.retry_base_delay_seconds must be >= 0")
	}
	if q.RetryMaxDelaySeconds < q.RetryBaseDelaySeconds {
		return errors.New("queue.retry_max_delay_seconds must be >= queue.retry_base_delay_seconds")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	n := c.Notifications
	if n.NtfyTopic == "" {
		return nil
	}
	if !strings.HasPrefix(n.NtfyTopic, "http://") && !strings.HasPrefix(n.NtfyTopic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", n.NtfyTopic)
	}
	if n.RequestTimeoutSeconds <= 0 {
		return errors.New("notifications.request_timeout_seconds must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]float64) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
