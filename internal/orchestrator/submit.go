package orchestrator

import (
	"context"
	"time"

	"scholarq/internal/logging"
	"scholarq/internal/progress"
	"scholarq/internal/queue"
	"scholarq/internal/services"
)

// SubmitOption adjusts a single submission.
type SubmitOption func(*queue.NewTask)

// WithMaxRetries overrides the configured retry budget for a submission.
func WithMaxRetries(n int) SubmitOption {
	return func(t *queue.NewTask) {
		t.MaxRetries = n
	}
}

func (o *Orchestrator) newTask(target, method string, payload []byte, priority queue.Priority, opts []SubmitOption) queue.NewTask {
	task := queue.NewTask{
		Target:     target,
		Method:     method,
		Payload:    payload,
		Priority:   priority,
		MaxRetries: o.cfg.Queue.MaxRetries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&task)
		}
	}
	return task
}

// Submit enqueues one task and returns its id. The target does not need a
// registered handler yet; the task waits until one appears.
func (o *Orchestrator) Submit(ctx context.Context, target, method string, payload []byte, priority queue.Priority, opts ...SubmitOption) (string, error) {
	id, err := o.store.Enqueue(ctx, o.newTask(target, method, payload, priority, opts))
	if err != nil {
		return "", err
	}
	o.logger.Debug("task submitted",
		logging.String(logging.FieldTaskID, id),
		logging.String(logging.FieldTarget, target),
		logging.String("priority", priority.String()),
	)
	o.bus.Publish(ctx, progress.TaskSubmitted, "task submitted", map[string]any{
		"task_id":  id,
		"target":   target,
		"priority": priority.String(),
	})
	return id, nil
}

// SubmitBatch enqueues one task per payload in a single transaction and
// publishes one batch event for the whole set.
func (o *Orchestrator) SubmitBatch(ctx context.Context, target, method string, payloads [][]byte, priority queue.Priority, opts ...SubmitOption) ([]string, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	tasks := make([]queue.NewTask, len(payloads))
	for i, payload := range payloads {
		tasks[i] = o.newTask(target, method, payload, priority, opts)
	}
	ids, err := o.store.EnqueueBatch(ctx, tasks)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("task batch submitted",
		logging.String(logging.FieldTarget, target),
		logging.Int("count", len(ids)),
	)
	o.bus.Publish(ctx, progress.BatchTasksSubmitted, "batch submitted", map[string]any{
		"task_ids": ids,
		"target":   target,
		"count":    len(ids),
		"priority": priority.String(),
	})
	return ids, nil
}

// WaitForCompletion polls until every id is terminal or timeout elapses. On
// timeout the last known state of every task is returned without an error.
// A non-positive timeout waits until ctx is done. Unknown ids fail with an
// error wrapping services.ErrNotFound.
func (o *Orchestrator) WaitForCompletion(ctx context.Context, ids []string, timeout time.Duration) (map[string]*queue.Task, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(o.cfg.Queue.PollInterval())
	defer ticker.Stop()

	for {
		tasks, err := o.store.GetMany(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, ok := tasks[id]; !ok {
				return tasks, services.Wrap(services.ErrNotFound, "orchestrator", "wait", "task "+id, queue.ErrTaskNotFound)
			}
		}
		if allTerminal(tasks) {
			return tasks, nil
		}

		select {
		case <-ctx.Done():
			return tasks, ctx.Err()
		case <-deadline:
			return o.lastKnown(ctx, ids, tasks), nil
		case <-ticker.C:
		}
	}
}

// lastKnown refreshes the snapshot once more so a task that finished during
// the final poll interval is reported terminal.
func (o *Orchestrator) lastKnown(ctx context.Context, ids []string, previous map[string]*queue.Task) map[string]*queue.Task {
	tasks, err := o.store.GetMany(ctx, ids)
	if err != nil || len(tasks) != len(previous) {
		return previous
	}
	return tasks
}

func allTerminal(tasks map[string]*queue.Task) bool {
	for _, task := range tasks {
		if !task.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Stats returns task counts by status and by target.
func (o *Orchestrator) Stats(ctx context.Context) (queue.Stats, error) {
	return o.store.Stats(ctx)
}

// Cancel fails every pending task of target, or of all targets when target
// is empty. Tasks already processing finish normally.
func (o *Orchestrator) Cancel(ctx context.Context, target string) (int64, error) {
	count, err := o.store.Cancel(ctx, target)
	if err != nil {
		return 0, err
	}
	o.logger.Info("pending tasks cancelled",
		logging.String(logging.FieldEventType, "cancel"),
		logging.String(logging.FieldTarget, target),
		logging.Int64("count", count),
	)
	return count, nil
}

// Cleanup deletes terminal tasks and finished runs older than olderThan.
func (o *Orchestrator) Cleanup(ctx context.Context, olderThan time.Duration) (queue.CleanupResult, error) {
	return o.store.Cleanup(ctx, olderThan)
}
