package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"scholarq/internal/logging"
	"scholarq/internal/progress"
	"scholarq/internal/queue"
	"scholarq/internal/services"
)

var (
	// ErrUnknownWorkflow reports an Execute call for an unregistered definition.
	ErrUnknownWorkflow = errors.New("workflow not registered")
	// ErrRunFailed reports a run that ended in the failed state.
	ErrRunFailed = errors.New("workflow run failed")
)

// Store is the persistence the engine needs; *queue.Store satisfies it.
type Store interface {
	Enqueue(ctx context.Context, task queue.NewTask) (string, error)
	GetMany(ctx context.Context, ids []string) (map[string]*queue.Task, error)
	CreateRun(ctx context.Context, run *queue.WorkflowRun) error
	UpdateRun(ctx context.Context, run *queue.WorkflowRun) error
	GetRun(ctx context.Context, id string) (*queue.WorkflowRun, error)
}

// Options tunes the engine.
type Options struct {
	// MaxRetries is the retry budget given to every step task.
	MaxRetries   int
	PollInterval time.Duration
	Logger       *slog.Logger
	Bus          *progress.Bus
}

type registered struct {
	def   Definition
	order []StepDefinition
}

// Engine registers workflow definitions and executes runs.
type Engine struct {
	store        Store
	bus          *progress.Bus
	logger       *slog.Logger
	maxRetries   int
	pollInterval time.Duration

	mu   sync.RWMutex
	defs map[string]registered
}

// NewEngine constructs an engine over store.
func NewEngine(store Store, opts Options) *Engine {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Engine{
		store:        store,
		bus:          opts.Bus,
		logger:       logging.NewComponentLogger(opts.Logger, "workflow"),
		maxRetries:   opts.MaxRetries,
		pollInterval: poll,
		defs:         make(map[string]registered),
	}
}

// Register validates def and makes it available to Execute, replacing any
// definition with the same name. Invalid definitions are rejected with an
// error wrapping services.ErrValidation.
func (e *Engine) Register(def Definition) error {
	order, err := def.Validate()
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.defs[def.Name] = registered{def: def, order: order}
	e.mu.Unlock()
	return nil
}

// Definition returns the registered definition with the given name.
func (e *Engine) Definition(name string) (Definition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	reg, ok := e.defs[name]
	return reg.def, ok
}

// Names returns the registered definition names in sorted order.
func (e *Engine) Names() []string {
	e.mu.RLock()
	names := make([]string, 0, len(e.defs))
	for name := range e.defs {
		names = append(names, name)
	}
	e.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Run fetches a persisted run.
func (e *Engine) Run(ctx context.Context, id string) (*queue.WorkflowRun, error) {
	return e.store.GetRun(ctx, id)
}

// Execute runs the named workflow to completion and returns the final run.
// Steps are executed by the worker pool, which must be running. A run whose
// step exhausts its retries is returned together with an error wrapping
// ErrRunFailed. Cancelling ctx marks the run failed.
func (e *Engine) Execute(ctx context.Context, name string, input json.RawMessage) (*queue.WorkflowRun, error) {
	e.mu.RLock()
	reg, ok := e.defs[name]
	e.mu.RUnlock()
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "workflow", "execute", name, ErrUnknownWorkflow)
	}
	if len(input) > 0 && !json.Valid(input) {
		return nil, services.Wrap(services.ErrValidation, "workflow", "execute", "input is not valid JSON", nil)
	}

	run := &queue.WorkflowRun{
		Definition:  name,
		Status:      queue.RunRunning,
		Input:       input,
		StepResults: map[string]json.RawMessage{},
		StepTasks:   map[string]string{},
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	ctx = services.WithWorkflowID(ctx, run.ID)
	logger := logging.WithContext(ctx, e.logger)
	logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_start"),
		logging.String("definition", name),
		logging.Int("steps", len(reg.order)),
	)
	started := time.Now()

	r := &runner{engine: e, reg: reg, run: run, logger: logger, outstanding: map[string]string{}}
	if err := r.loop(ctx); err != nil {
		return run, err
	}

	logger.Info("workflow completed",
		logging.String(logging.FieldEventType, "workflow_complete"),
		logging.Duration("duration", time.Since(started)),
	)
	return run, nil
}

type runner struct {
	engine      *Engine
	reg         registered
	run         *queue.WorkflowRun
	logger      *slog.Logger
	outstanding map[string]string
}

func (r *runner) loop(ctx context.Context) error {
	for {
		if err := r.submitEligible(ctx); err != nil {
			return r.fail(ctx, err.Error(), err)
		}
		if len(r.outstanding) == 0 {
			return r.complete(ctx)
		}

		timer := time.NewTimer(r.engine.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return r.fail(context.WithoutCancel(ctx), "cancelled: "+ctx.Err().Error(), ctx.Err())
		case <-timer.C:
		}

		if err := r.collect(ctx); err != nil {
			return err
		}
	}
}

func (r *runner) submitEligible(ctx context.Context) error {
	submitted := false
	for _, step := range r.reg.order {
		if _, done := r.run.StepResults[step.Name]; done {
			continue
		}
		if _, pending := r.outstanding[step.Name]; pending {
			continue
		}
		if !r.dependenciesMet(step) {
			continue
		}
		payload, err := stepPayload(r.run.Input, step, r.run.StepResults)
		if err != nil {
			return err
		}
		id, err := r.engine.store.Enqueue(ctx, queue.NewTask{
			Target:     step.Target,
			Method:     step.Method,
			Payload:    payload,
			Priority:   step.Priority,
			MaxRetries: r.engine.maxRetries,
			WorkflowID: r.run.ID,
			StepName:   step.Name,
		})
		if err != nil {
			return fmt.Errorf("submit step %s: %w", step.Name, err)
		}
		r.outstanding[step.Name] = id
		r.run.StepTasks[step.Name] = id
		submitted = true
		r.logger.Debug("workflow step submitted",
			logging.String(logging.FieldStep, step.Name),
			logging.String(logging.FieldTaskID, id),
		)
		r.engine.bus.Publish(ctx, progress.TaskSubmitted, "workflow step submitted", map[string]any{
			"task_id":     id,
			"target":      step.Target,
			"workflow_id": r.run.ID,
			"step":        step.Name,
		})
	}
	if submitted {
		return r.engine.store.UpdateRun(ctx, r.run)
	}
	return nil
}

func (r *runner) dependenciesMet(step StepDefinition) bool {
	for _, dep := range step.DependsOn {
		if _, ok := r.run.StepResults[dep]; !ok {
			return false
		}
	}
	return true
}

// collect polls outstanding step tasks. Failures are checked before results
// are recorded so a failed poll never records sibling results.
func (r *runner) collect(ctx context.Context) error {
	ids := make([]string, 0, len(r.outstanding))
	for _, id := range r.outstanding {
		ids = append(ids, id)
	}
	tasks, err := r.engine.store.GetMany(ctx, ids)
	if err != nil {
		return r.fail(context.WithoutCancel(ctx), err.Error(), err)
	}

	steps := make([]string, 0, len(r.outstanding))
	for step := range r.outstanding {
		steps = append(steps, step)
	}
	sort.Strings(steps)

	for _, step := range steps {
		task := tasks[r.outstanding[step]]
		switch {
		case task == nil:
			msg := fmt.Sprintf("step %s task %s disappeared", step, r.outstanding[step])
			return r.fail(ctx, msg, errors.New(msg))
		case task.Status == queue.StatusFailed:
			msg := fmt.Sprintf("step %s failed: %s", step, task.ErrorMessage)
			return r.fail(ctx, msg, errors.New(msg))
		}
	}

	changed := false
	for _, step := range steps {
		task := tasks[r.outstanding[step]]
		if task.Status != queue.StatusCompleted {
			continue
		}
		r.run.StepResults[step] = resultJSON(task.Result)
		delete(r.outstanding, step)
		changed = true
		r.logger.Info("workflow step completed",
			logging.String(logging.FieldEventType, "workflow_step_complete"),
			logging.String(logging.FieldStep, step),
			logging.String(logging.FieldTaskID, task.ID),
		)
		r.engine.bus.Publish(ctx, progress.WorkflowStepCompleted, "workflow step completed", map[string]any{
			"workflow_id": r.run.ID,
			"definition":  r.run.Definition,
			"step":        step,
			"task_id":     task.ID,
		})
	}
	if changed {
		return r.engine.store.UpdateRun(ctx, r.run)
	}
	return nil
}

func (r *runner) complete(ctx context.Context) error {
	now := time.Now().UTC()
	r.run.Status = queue.RunCompleted
	r.run.FinishedAt = &now
	if err := r.engine.store.UpdateRun(ctx, r.run); err != nil {
		return err
	}
	r.engine.bus.Publish(ctx, progress.WorkflowCompleted, "workflow completed", map[string]any{
		"workflow_id": r.run.ID,
		"definition":  r.run.Definition,
	})
	return nil
}

func (r *runner) fail(ctx context.Context, message string, cause error) error {
	now := time.Now().UTC()
	r.run.Status = queue.RunFailed
	r.run.Error = message
	r.run.FinishedAt = &now
	r.outstanding = map[string]string{}

	logging.WarnWithContext(r.logger, "workflow failed", "workflow_failed",
		logging.String("reason", message),
		logging.String(logging.FieldErrorHint, "inspect the failed step task with scholarq show"),
	)
	r.engine.bus.Publish(ctx, progress.WorkflowFailed, "workflow failed", map[string]any{
		"workflow_id": r.run.ID,
		"definition":  r.run.Definition,
		"error":       message,
	})
	if err := r.engine.store.UpdateRun(ctx, r.run); err != nil {
		return errors.Join(fmt.Errorf("%w: %s", ErrRunFailed, message), err)
	}
	return fmt.Errorf("%w: %w", ErrRunFailed, cause)
}
