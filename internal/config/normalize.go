package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeNotifications()
	return c.normalizeWorkflow()
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("SCHOLARQ_DATA_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.DataDir = value
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	if value, ok := os.LookupEnv("SCHOLARQ_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeWorkflow() error {
	paths := make([]string, 0, len(c.Workflow.Definitions))
	for _, raw := range c.Workflow.Definitions {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		expanded, err := expandPath(raw)
		if err != nil {
			return fmt.Errorf("workflow.definitions: %w", err)
		}
		paths = append(paths, expanded)
	}
	c.Workflow.Definitions = paths
	return nil
}

func (c *Config) normalizeNotifications() {
	if value, ok := os.LookupEnv("SCHOLARQ_NTFY_TOPIC"); ok && strings.TrimSpace(value) != "" {
		c.Notifications.NtfyTopic = value
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}
