package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scholarq/internal/config"
	"scholarq/internal/handler"
	"scholarq/internal/logging"
	"scholarq/internal/progress"
	"scholarq/internal/queue"
	"scholarq/internal/worker"
	"scholarq/internal/workflow"
)

// Orchestrator combines the registry, pool and workflow engine over a store.
type Orchestrator struct {
	cfg      *config.Config
	store    *queue.Store
	logger   *slog.Logger
	registry *handler.Registry
	bus      *progress.Bus
	pool     *worker.Pool
	engine   *workflow.Engine

	mu            sync.Mutex
	running       bool
	janitorCancel context.CancelFunc
	janitorDone   chan struct{}
}

// New constructs an orchestrator. The store stays owned by the caller.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Orchestrator, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("orchestrator requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	bus := progress.NewBus(logger)
	registry := handler.NewRegistry()
	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		logger:   logging.NewComponentLogger(logger, "orchestrator"),
		registry: registry,
		bus:      bus,
	}
	o.pool = worker.New(store, registry, worker.Options{
		Workers:            cfg.Queue.WorkerCount(),
		PollInterval:       cfg.Queue.PollInterval(),
		ErrorRetryInterval: cfg.Queue.ErrorRetryInterval(),
		Logger:             logger,
		Bus:                bus,
	})
	o.engine = workflow.NewEngine(store, workflow.Options{
		MaxRetries:   cfg.Queue.MaxRetries,
		PollInterval: cfg.Queue.PollInterval(),
		Logger:       logger,
		Bus:          bus,
	})
	return o, nil
}

// Store exposes the underlying queue store.
func (o *Orchestrator) Store() *queue.Store {
	return o.store
}

// Registry exposes the handler registry.
func (o *Orchestrator) Registry() *handler.Registry {
	return o.registry
}

// Register binds a handler to target, replacing any previous binding.
func (o *Orchestrator) Register(target string, h handler.Handler) error {
	if err := o.registry.Register(target, h); err != nil {
		return err
	}
	o.logger.Debug("handler registered", logging.String(logging.FieldTarget, target))
	return nil
}

// RegisterFunc binds a plain function to target.
func (o *Orchestrator) RegisterFunc(target string, fn func(ctx context.Context, method string, payload []byte) ([]byte, error)) error {
	if fn == nil {
		return o.Register(target, nil)
	}
	return o.Register(target, handler.Func(fn))
}

// AddProgressListener subscribes fn to progress events and returns a function
// that removes it.
func (o *Orchestrator) AddProgressListener(fn progress.Listener) func() {
	return o.bus.Subscribe(fn)
}

// Workers returns the worker pool size and the number of handler calls
// currently executing.
func (o *Orchestrator) Workers() (size, inFlight int) {
	return o.pool.Workers(), o.pool.InFlight()
}

// Running reports whether Start has been called without a matching Stop.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Start recovers interrupted work, starts the worker pool and the janitor.
// Calling Start on a running orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	recovered, err := o.store.RecoverInterrupted(ctx)
	if err != nil {
		return err
	}
	if recovered.Requeued > 0 || recovered.Failed > 0 || recovered.Runs > 0 {
		o.logger.Info("recovered interrupted work",
			logging.String(logging.FieldEventType, "recover_interrupted"),
			logging.Int64("requeued", recovered.Requeued),
			logging.Int64("failed", recovered.Failed),
			logging.Int64("runs", recovered.Runs),
		)
	}

	if err := o.pool.Start(ctx); err != nil {
		return err
	}
	o.startJanitor(ctx)
	o.running = true
	return nil
}

// Stop stops the janitor and the worker pool, waiting for in-flight handlers.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel, done := o.janitorCancel, o.janitorDone
	o.janitorCancel, o.janitorDone = nil, nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	o.pool.Stop()
}

func (o *Orchestrator) startJanitor(ctx context.Context) {
	age := o.cfg.Queue.CleanupAge()
	interval := o.cfg.Queue.CleanupInterval()
	if age <= 0 || interval <= 0 {
		return
	}
	janitorCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.janitorCancel, o.janitorDone = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-janitorCtx.Done():
				return
			case <-ticker.C:
				o.purge(janitorCtx, age)
			}
		}
	}()
}

func (o *Orchestrator) purge(ctx context.Context, age time.Duration) {
	result, err := o.store.Cleanup(ctx, age)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(o.logger, "periodic cleanup failed", "cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run scholarq health to inspect the queue database"),
		)
		return
	}
	if result.Tasks > 0 || result.Runs > 0 {
		o.logger.Info("purged old records",
			logging.String(logging.FieldEventType, "cleanup"),
			logging.Int64("tasks", result.Tasks),
			logging.Int64("runs", result.Runs),
		)
	}
}
