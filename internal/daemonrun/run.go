// Package daemonrun hosts the worker process runtime: logger setup, store
// lifecycle, handler registration and signal handling around a daemon.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"scholarq/internal/config"
	"scholarq/internal/daemon"
	"scholarq/internal/logging"
	"scholarq/internal/notifications"
	"scholarq/internal/orchestrator"
	"scholarq/internal/queue"
)

// RegisterFunc binds application handlers before the worker starts leasing.
type RegisterFunc func(*orchestrator.Orchestrator, *slog.Logger) error

// Options configures worker process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// LogFile appends a JSON copy of every record to the data directory log.
	LogFile  bool
	Register RegisterFunc
}

// Run starts the worker daemon and blocks until ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	loggerOpts := logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		Development: opts.Development,
	}
	if opts.LogFile {
		loggerOpts.FilePath = cfg.LogPath()
	}
	logger, err := logging.New(loggerOpts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldCorrelationID, uuid.NewString()))
	logRuntimeSnapshot(logger, cfg)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	orch, err := orchestrator.New(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}
	notifier := notifications.NewService(cfg)
	if notifier.Enabled() {
		dispatcher := notifications.NewDispatcher(notifier, logger, cfg.Notifications.TaskFailures)
		unsubscribe := orch.AddProgressListener(dispatcher.Listen)
		defer dispatcher.Close()
		defer unsubscribe()
	}
	if opts.Register != nil {
		if err := opts.Register(orch, logger); err != nil {
			return fmt.Errorf("register handlers: %w", err)
		}
	}

	d, err := daemon.New(cfg, orch, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "worker start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, workflow files and queue database access"),
		)
		return err
	}
	defer d.Stop()

	// The pid file belongs to whoever holds the daemon lock, so a second worker
	// that loses the lock never touches it.
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	<-signalCtx.Done()
	logger.Info("scholarq worker shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logRuntimeSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("runtime snapshot",
		logging.String(logging.FieldEventType, "runtime_snapshot"),
		logging.String("data_dir", cfg.Paths.DataDir),
		logging.String("database", cfg.DatabasePath()),
		logging.Int("workers", cfg.Queue.WorkerCount()),
		logging.Int("cpus", runtime.NumCPU()),
		logging.Duration("poll_interval", cfg.Queue.PollInterval()),
		logging.Int("max_retries", cfg.Queue.MaxRetries),
		logging.Int("workflow_files", len(cfg.Workflow.Definitions)),
	)
}
