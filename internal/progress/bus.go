// Package progress fans scheduler lifecycle events out to in-process listeners.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"scholarq/internal/logging"
)

// EventType names a lifecycle notification.
type EventType string

const (
	TaskSubmitted         EventType = "task_submitted"
	TaskStarted           EventType = "task_started"
	TaskCompleted         EventType = "task_completed"
	TaskFailed            EventType = "task_failed"
	BatchTasksSubmitted   EventType = "batch_tasks_submitted"
	WorkflowStepCompleted EventType = "workflow_step_completed"
	WorkflowCompleted     EventType = "workflow_completed"
	WorkflowFailed        EventType = "workflow_failed"
)

// Event is delivered to every subscribed listener.
type Event struct {
	Type      EventType      `json:"type"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Listener receives events on the publisher's goroutine and should return quickly.
type Listener func(Event)

type subscription struct {
	id       uint64
	listener Listener
}

// Bus delivers events synchronously to a snapshot of its listeners. A
// panicking listener is logged and skipped; the publisher never observes it.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *slog.Logger
}

// NewBus constructs an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logging.NewComponentLogger(logger, "progress")}
}

// Subscribe registers l and returns a function that removes it. The returned
// function is safe to call more than once.
func (b *Bus) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, listener: l})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Len reports the number of subscribed listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers an event to the listeners subscribed at call time.
func (b *Bus) Publish(ctx context.Context, eventType EventType, message string, data map[string]any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	snapshot := make([]subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.RUnlock()
	if len(snapshot) == 0 {
		return
	}

	event := Event{Type: eventType, Message: message, Data: data, Timestamp: time.Now()}
	for _, sub := range snapshot {
		b.deliver(ctx, sub.listener, event)
	}
}

func (b *Bus) deliver(ctx context.Context, l Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.WithContext(ctx, b.logger).Warn("progress listener panicked; event skipped for this listener",
				logging.String(logging.FieldEventType, "progress_listener_panic"),
				logging.String(logging.FieldErrorHint, "fix the listener; other listeners were unaffected"),
				logging.String("event", string(event.Type)),
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
			)
		}
	}()
	l(event)
}
