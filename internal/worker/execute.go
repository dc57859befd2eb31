package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scholarq/internal/handler"
	"scholarq/internal/logging"
	"scholarq/internal/progress"
	"scholarq/internal/queue"
	"scholarq/internal/services"
)

func taskContext(ctx context.Context, workerID string, task *queue.Task) context.Context {
	ctx = services.WithTaskID(ctx, task.ID)
	ctx = services.WithTarget(ctx, task.Target)
	ctx = services.WithWorker(ctx, workerID)
	ctx = services.WithWorkflowID(ctx, task.WorkflowID)
	return services.WithStep(ctx, task.StepName)
}

func (p *Pool) execute(ctx context.Context, workerID string, loopLogger *slog.Logger, task *queue.Task) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	ctx = taskContext(ctx, workerID, task)
	logger := logging.WithContext(ctx, p.logger)

	ctx, span := p.tracer.Start(ctx, "task "+task.Target,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("scholarq.task.id", task.ID),
			attribute.String("scholarq.task.target", task.Target),
			attribute.String("scholarq.task.method", task.Method),
			attribute.Int("scholarq.task.attempt", task.AttemptCount),
			attribute.String("scholarq.task.priority", task.Priority.String()),
		),
	)
	defer span.End()

	p.bus.Publish(ctx, progress.TaskStarted, "task started", map[string]any{
		"task_id": task.ID,
		"target":  task.Target,
		"method":  task.Method,
		"worker":  workerID,
		"attempt": task.AttemptCount,
	})
	logger.Debug("task started",
		logging.String(logging.FieldEventType, "task_start"),
		logging.Int("attempt", task.AttemptCount),
	)

	started := time.Now()
	h, ok := p.registry.Lookup(task.Target)
	var (
		result []byte
		err    error
	)
	if !ok {
		err = fmt.Errorf("%w: %s", ErrNoHandler, task.Target)
	} else {
		result, err = invoke(ctx, logger, h, task)
	}
	elapsed := time.Since(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.recordFailure(ctx, logger, task, err, elapsed)
		return
	}
	span.SetStatus(codes.Ok, "")
	p.recordSuccess(ctx, logger, loopLogger, task, result, elapsed)
}

func invoke(ctx context.Context, logger *slog.Logger, h handler.Handler, task *queue.Task) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked",
				logging.String(logging.FieldEventType, "handler_panic"),
				logging.String(logging.FieldErrorHint, "fix the handler; the task is retried per its budget"),
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
			)
			result = nil
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h.Handle(ctx, task.Method, task.Payload)
}

func (p *Pool) recordSuccess(ctx context.Context, logger, loopLogger *slog.Logger, task *queue.Task, result []byte, elapsed time.Duration) {
	if err := p.store.Complete(ctx, task.ID, result); err != nil {
		loopLogger.Error("failed to record task completion",
			logging.Error(err),
			logging.String(logging.FieldTaskID, task.ID),
			logging.String(logging.FieldEventType, "task_complete_persist_failed"),
			logging.String(logging.FieldErrorHint, "task stays processing until the next daemon start recovers it"),
		)
		return
	}
	logger.Info("task completed",
		logging.String(logging.FieldEventType, "task_complete"),
		logging.Duration("duration", elapsed),
	)
	p.bus.Publish(ctx, progress.TaskCompleted, "task completed", map[string]any{
		"task_id":     task.ID,
		"target":      task.Target,
		"duration_ms": elapsed.Milliseconds(),
	})
}

func (p *Pool) recordFailure(ctx context.Context, logger *slog.Logger, task *queue.Task, cause error, elapsed time.Duration) {
	updated, err := p.store.Fail(ctx, task.ID, cause.Error())
	if err != nil {
		logger.Error("failed to record task failure",
			logging.Error(err),
			logging.String("handler_error", cause.Error()),
			logging.String(logging.FieldEventType, "task_fail_persist_failed"),
			logging.String(logging.FieldErrorHint, "task stays processing until the next daemon start recovers it"),
		)
		return
	}
	willRetry := updated.Status == queue.StatusPending
	logging.WarnWithContext(logger, "task failed", "task_failed",
		logging.Error(cause),
		logging.Bool("will_retry", willRetry),
		logging.Int("attempt", updated.AttemptCount),
		logging.Int("max_retries", updated.MaxRetries),
		logging.Duration("duration", elapsed),
	)
	p.bus.Publish(ctx, progress.TaskFailed, "task failed", map[string]any{
		"task_id":    task.ID,
		"target":     task.Target,
		"error":      cause.Error(),
		"will_retry": willRetry,
		"attempt":    updated.AttemptCount,
	})
}
