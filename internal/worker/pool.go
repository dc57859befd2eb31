package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"scholarq/internal/handler"
	"scholarq/internal/logging"
	"scholarq/internal/progress"
	"scholarq/internal/queue"
)

// ErrNoHandler is recorded when a leased task's target has no handler.
var ErrNoHandler = errors.New("no handler registered for target")

// ErrHandlerPanic wraps a value recovered from a panicking handler.
var ErrHandlerPanic = errors.New("handler panicked")

const tracerName = "scholarq/internal/worker"

// Store is the subset of the queue store the pool drives.
type Store interface {
	LeaseNext(ctx context.Context, workerID string, targets []string) (*queue.Task, error)
	Complete(ctx context.Context, id string, result []byte) error
	Fail(ctx context.Context, id string, message string) (*queue.Task, error)
}

// Options tunes the pool.
type Options struct {
	// Workers is the number of loops; <= 0 selects runtime.NumCPU().
	Workers            int
	PollInterval       time.Duration
	ErrorRetryInterval time.Duration
	Logger             *slog.Logger
	Bus                *progress.Bus
	Tracer             trace.Tracer
}

// Pool executes leased tasks concurrently.
type Pool struct {
	store    Store
	registry *handler.Registry
	bus      *progress.Bus
	logger   *slog.Logger
	tracer   trace.Tracer

	workers            int
	pollInterval       time.Duration
	errorRetryInterval time.Duration

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// New constructs a pool over store and registry.
func New(store Store, registry *handler.Registry, opts Options) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	retry := opts.ErrorRetryInterval
	if retry <= 0 {
		retry = 5 * time.Second
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Pool{
		store:              store,
		registry:           registry,
		bus:                opts.Bus,
		logger:             logging.NewComponentLogger(opts.Logger, "worker"),
		tracer:             tracer,
		workers:            workers,
		pollInterval:       poll,
		errorRetryInterval: retry,
	}
}

// Workers returns the configured loop count.
func (p *Pool) Workers() int {
	return p.workers
}

// InFlight returns the number of handler calls currently executing.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Running reports whether the loops are active.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start launches the worker loops. Calling Start on a running pool is a no-op.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	if p.store == nil || p.registry == nil {
		return errors.New("worker pool requires a store and a registry")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(p.workers)
	for i := 1; i <= p.workers; i++ {
		go p.run(runCtx, fmt.Sprintf("worker-%d", i))
	}
	p.logger.Info("worker pool started",
		logging.String(logging.FieldEventType, "pool_start"),
		logging.Int("workers", p.workers),
	)
	return nil
}

// Stop stops leasing and waits for in-flight tasks to finish. Calling Stop
// on a stopped pool is a no-op.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped", logging.String(logging.FieldEventType, "pool_stop"))
}

func (p *Pool) run(ctx context.Context, workerID string) {
	defer p.wg.Done()
	logger := p.logger.With(logging.String(logging.FieldWorker, workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		targets := p.registry.Targets()
		if len(targets) == 0 {
			p.wait(ctx, p.pollInterval)
			continue
		}

		task, err := p.store.LeaseNext(ctx, workerID, targets)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to lease next task",
				logging.Error(err),
				logging.String(logging.FieldEventType, "task_lease_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			p.wait(ctx, p.errorRetryInterval)
			continue
		}
		if task == nil {
			p.wait(ctx, p.pollInterval)
			continue
		}

		p.execute(context.WithoutCancel(ctx), workerID, logger, task)
	}
}

func (p *Pool) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
