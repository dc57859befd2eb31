package orchestrator

import (
	"context"
	"iter"
	"time"

	"scholarq/internal/logging"
	"scholarq/internal/queue"
	"scholarq/internal/services"
)

// StreamResult pairs a stream input with the terminal task that processed it.
type StreamResult struct {
	Input []byte
	Task  *queue.Task
}

type streamEntry struct {
	id    string
	input []byte
}

// ProcessStream feeds inputs to target keeping at most batchSize tasks
// outstanding. Each input is yielded exactly once, in completion order, with
// its terminal task; the window is topped up as results are consumed. Inputs
// are pulled lazily so the caller's sequence may be unbounded. A store error
// or context cancellation is yielded once and ends the stream; tasks already
// submitted keep running.
func (o *Orchestrator) ProcessStream(ctx context.Context, target, method string, inputs iter.Seq[[]byte], batchSize int, priority queue.Priority) iter.Seq2[StreamResult, error] {
	return func(yield func(StreamResult, error) bool) {
		if batchSize <= 0 {
			yield(StreamResult{}, services.Wrap(services.ErrValidation, "orchestrator", "process stream", "batch size must be positive", nil))
			return
		}
		if inputs == nil {
			return
		}
		next, stop := iter.Pull(inputs)
		defer stop()

		logger := o.logger.With(logging.String(logging.FieldTarget, target))
		window := make([]streamEntry, 0, batchSize)
		exhausted := false
		for {
			if !exhausted && len(window) < batchSize {
				var err error
				window, exhausted, err = o.topUp(ctx, next, target, method, priority, window, batchSize)
				if err != nil {
					yield(StreamResult{}, err)
					return
				}
			}
			if len(window) == 0 {
				logger.Debug("stream drained")
				return
			}

			finished, err := o.pollWindow(ctx, window)
			if err != nil {
				yield(StreamResult{}, err)
				return
			}
			remaining := window[:0]
			for _, entry := range window {
				task, done := finished[entry.id]
				if !done {
					remaining = append(remaining, entry)
					continue
				}
				if !yield(StreamResult{Input: entry.input, Task: task}, nil) {
					return
				}
			}
			window = remaining
		}
	}
}

func (o *Orchestrator) topUp(ctx context.Context, next func() ([]byte, bool), target, method string, priority queue.Priority, window []streamEntry, batchSize int) ([]streamEntry, bool, error) {
	var inputs [][]byte
	exhausted := false
	for len(window)+len(inputs) < batchSize {
		input, ok := next()
		if !ok {
			exhausted = true
			break
		}
		inputs = append(inputs, input)
	}
	if len(inputs) == 0 {
		return window, exhausted, nil
	}
	ids, err := o.SubmitBatch(ctx, target, method, inputs, priority)
	if err != nil {
		return window, exhausted, err
	}
	for i, id := range ids {
		window = append(window, streamEntry{id: id, input: inputs[i]})
	}
	return window, exhausted, nil
}

// pollWindow blocks until at least one task in window is terminal.
func (o *Orchestrator) pollWindow(ctx context.Context, window []streamEntry) (map[string]*queue.Task, error) {
	ids := make([]string, len(window))
	for i, entry := range window {
		ids[i] = entry.id
	}
	interval := o.cfg.Queue.PollInterval()
	for {
		tasks, err := o.store.GetMany(ctx, ids)
		if err != nil {
			return nil, err
		}
		finished := make(map[string]*queue.Task)
		for _, id := range ids {
			task, ok := tasks[id]
			if !ok {
				return nil, services.Wrap(services.ErrNotFound, "orchestrator", "process stream", "task "+id, queue.ErrTaskNotFound)
			}
			if task.Status.IsTerminal() {
				finished[id] = task
			}
		}
		if len(finished) > 0 {
			return finished, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

