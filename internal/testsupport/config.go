package testsupport

import (
	"path/filepath"
	"testing"
	"time"

	"scholarq/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with a unique temp data directory per test.
// Polling is tightened and retry backoff disabled so scheduling tests run fast.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Queue.MaxWorkers = 2
	cfgVal.Queue.PollingIntervalSeconds = 0.01
	cfgVal.Queue.ErrorRetryIntervalSeconds = 0.01
	cfgVal.Queue.RetryBaseDelaySeconds = 0
	cfgVal.Queue.RetryMaxDelaySeconds = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.MaxWorkers = n
	}
}

// WithMaxRetries sets the default retry budget for submitted tasks.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.MaxRetries = n
	}
}

// WithRetryDelay enables retry backoff with the given base and cap.
func WithRetryDelay(base, limit time.Duration) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.RetryBaseDelaySeconds = base.Seconds()
		b.cfg.Queue.RetryMaxDelaySeconds = limit.Seconds()
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
