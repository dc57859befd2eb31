package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"scholarq/internal/logging"
	"scholarq/internal/progress"
)

const dispatchBuffer = 64

// Dispatcher converts progress events into notifications and sends them
// asynchronously. Messages are dropped with a warning when the buffer is full.
type Dispatcher struct {
	service      Service
	logger       *slog.Logger
	taskFailures bool

	queue chan Message
	once  sync.Once
	done  chan struct{}
}

// NewDispatcher starts a dispatcher draining into service. When taskFailures
// is set, tasks that exhaust their retries are reported too.
func NewDispatcher(service Service, logger *slog.Logger, taskFailures bool) *Dispatcher {
	d := &Dispatcher{
		service:      service,
		logger:       logging.NewComponentLogger(logger, "notifications"),
		taskFailures: taskFailures,
		queue:        make(chan Message, dispatchBuffer),
		done:         make(chan struct{}),
	}
	go d.run()
	return d
}

// Listen is a progress.Listener.
func (d *Dispatcher) Listen(event progress.Event) {
	msg, ok := d.messageFor(event)
	if !ok {
		return
	}
	select {
	case d.queue <- msg:
	default:
		logging.WarnWithContext(d.logger, "notification dropped", "notification_dropped",
			logging.String("title", msg.Title),
			logging.String(logging.FieldErrorHint, "the ntfy endpoint is slower than the event rate"),
		)
	}
}

// Close waits for queued messages to be sent. Unsubscribe the dispatcher
// from the bus before calling Close.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.queue)
	})
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		if err := d.service.Send(context.Background(), msg); err != nil {
			logging.WarnWithContext(d.logger, "notification failed", "notification_failed",
				logging.Error(err),
				logging.String("title", msg.Title),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			)
		}
	}
}

func (d *Dispatcher) messageFor(event progress.Event) (Message, bool) {
	str := func(key string) string {
		value, _ := event.Data[key].(string)
		return value
	}
	switch event.Type {
	case progress.WorkflowCompleted:
		return Message{
			Title: "scholarq - Workflow Complete",
			Body:  fmt.Sprintf("Workflow %s finished (run %s)", str("definition"), str("workflow_id")),
			Tags:  []string{"scholarq", "workflow", "completed"},
		}, true
	case progress.WorkflowFailed:
		return Message{
			Title:    "scholarq - Workflow Failed",
			Body:     fmt.Sprintf("Workflow %s failed (run %s): %s", str("definition"), str("workflow_id"), str("error")),
			Tags:     []string{"scholarq", "workflow", "error"},
			Priority: "high",
		}, true
	case progress.TaskFailed:
		if !d.taskFailures {
			return Message{}, false
		}
		if retry, _ := event.Data["will_retry"].(bool); retry {
			return Message{}, false
		}
		return Message{
			Title:    "scholarq - Task Failed",
			Body:     fmt.Sprintf("Task %s for %s failed permanently: %s", str("task_id"), str("target"), str("error")),
			Tags:     []string{"scholarq", "task", "error"},
			Priority: "high",
		}, true
	default:
		return Message{}, false
	}
}
