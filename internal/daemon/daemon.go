package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gofrs/flock"

	"scholarq/internal/config"
	"scholarq/internal/handler"
	"scholarq/internal/logging"
	"scholarq/internal/orchestrator"
	"scholarq/internal/queue"
)

// ErrAlreadyRunning reports that another process holds the daemon lock.
var ErrAlreadyRunning = errors.New("another scholarq worker is already running")

// Daemon coordinates the orchestrator and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	orch   *orchestrator.Orchestrator

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool             `json:"running"`
	QueueDBPath  string           `json:"queue_db_path"`
	LockFilePath string           `json:"lock_file_path"`
	Workers      int              `json:"workers"`
	InFlight     int              `json:"in_flight"`
	Targets      []string         `json:"targets"`
	Workflows    []string         `json:"workflows"`
	Handlers     []handler.Health `json:"handlers"`
	Stats        *queue.Stats     `json:"stats,omitempty"`
}

// New constructs a daemon around an orchestrator.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || orch == nil {
		return nil, errors.New("daemon requires config and orchestrator")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		orch:     orch,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, registers configured workflow definitions
// and starts the orchestrator.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	for _, path := range d.cfg.Workflow.Definitions {
		names, err := d.orch.LoadWorkflows(path)
		if err != nil {
			_ = d.lock.Unlock()
			return fmt.Errorf("load workflows: %w", err)
		}
		d.logger.Info("workflow definitions loaded",
			logging.String(logging.FieldEventType, "workflows_loaded"),
			logging.String("path", path),
			logging.Any("workflows", names),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.orch.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start orchestrator: %w", err)
	}
	d.cancel = cancel
	d.running.Store(true)

	d.logHandlerHealth(runCtx)
	d.logger.Info("scholarq worker started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.Any("targets", d.orch.Registry().Targets()),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.orch.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String("lock", d.lockPath),
		)
	}
	d.running.Store(false)
	d.logger.Info("scholarq worker stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Status returns the current daemon status. Queue statistics are omitted
// when the store cannot be read.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		QueueDBPath:  d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		Targets:      d.orch.Registry().Targets(),
		Workflows:    d.orch.Workflows(),
		Handlers:     d.orch.Registry().Health(ctx),
	}
	status.Workers, status.InFlight = d.orch.Workers()
	if stats, err := d.orch.Stats(ctx); err == nil {
		status.Stats = &stats
	}
	return status
}

func (d *Daemon) logHandlerHealth(ctx context.Context) {
	for _, health := range d.orch.Registry().Health(ctx) {
		if health.Ready {
			d.logger.Debug("handler ready", logging.String(logging.FieldTarget, health.Name))
			continue
		}
		logging.WarnWithContext(d.logger, "handler not ready", "handler_unhealthy",
			logging.String(logging.FieldTarget, health.Name),
			logging.String("detail", health.Detail),
			logging.String(logging.FieldErrorHint, "tasks for this target will fail until the handler recovers"),
		)
	}
}
