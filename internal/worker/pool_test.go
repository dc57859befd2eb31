package worker_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"scholarq/internal/handler"
	"scholarq/internal/logging"
	"scholarq/internal/progress"
	"scholarq/internal/queue"
	"scholarq/internal/testsupport"
	"scholarq/internal/worker"
)

type harness struct {
	store    *queue.Store
	registry *handler.Registry
	bus      *progress.Bus
	pool     *worker.Pool

	mu     sync.Mutex
	events []progress.Event
}

func newHarness(t *testing.T, workers int) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	h := &harness{
		store:    testsupport.MustOpenStore(t, cfg),
		registry: handler.NewRegistry(),
		bus:      progress.NewBus(logging.NewNop()),
	}
	h.bus.Subscribe(func(e progress.Event) {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
	})
	h.pool = worker.New(h.store, h.registry, worker.Options{
		Workers:            workers,
		PollInterval:       5 * time.Millisecond,
		ErrorRetryInterval: 5 * time.Millisecond,
		Logger:             logging.NewNop(),
		Bus:                h.bus,
	})
	t.Cleanup(h.pool.Stop)
	return h
}

func (h *harness) eventsOf(kind progress.EventType) []progress.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []progress.Event
	for _, e := range h.events {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

func waitForStatus(t *testing.T, store *queue.Store, id string, want queue.Status) *queue.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach %s", id, want)
	return nil
}

func TestPoolCompletesTasks(t *testing.T) {
	h := newHarness(t, 2)
	if err := h.registry.Register("echo", handler.Func(func(_ context.Context, method string, payload []byte) ([]byte, error) {
		return []byte(method + ":" + string(payload)), nil
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	id, err := h.store.Enqueue(context.Background(), queue.NewTask{Target: "echo", Method: "say", Payload: []byte("hi"), MaxRetries: 1})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}

	task := waitForStatus(t, h.store, id, queue.StatusCompleted)
	if string(task.Result) != "say:hi" {
		t.Fatalf("unexpected result %q", task.Result)
	}
	if !strings.HasPrefix(task.LeasedBy, "worker-") {
		t.Fatalf("unexpected leased_by %q", task.LeasedBy)
	}

	h.pool.Stop()
	h.pool.Stop()
	if h.pool.Running() {
		t.Fatal("expected pool stopped")
	}
	if len(h.eventsOf(progress.TaskStarted)) != 1 || len(h.eventsOf(progress.TaskCompleted)) != 1 {
		t.Fatalf("unexpected events %+v", h.events)
	}
}

func TestPoolRetriesFailuresAndRecoversPanics(t *testing.T) {
	h := newHarness(t, 1)
	var (
		mu    sync.Mutex
		calls int
	)
	if err := h.registry.Register("flaky", handler.Func(func(context.Context, string, []byte) ([]byte, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		switch n {
		case 1:
			return nil, errors.New("transient")
		case 2:
			panic("boom")
		default:
			return []byte("ok"), nil
		}
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	id, err := h.store.Enqueue(context.Background(), queue.NewTask{Target: "flaky", MaxRetries: 2})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	task := waitForStatus(t, h.store, id, queue.StatusCompleted)
	if task.AttemptCount != 3 {
		t.Fatalf("expected 3 attempts, got %d", task.AttemptCount)
	}
	h.pool.Stop()

	failures := h.eventsOf(progress.TaskFailed)
	if len(failures) != 2 {
		t.Fatalf("expected 2 failure events, got %d", len(failures))
	}
	for _, e := range failures {
		if e.Data["will_retry"] != true {
			t.Fatalf("expected will_retry on %+v", e.Data)
		}
	}
	if msg, _ := failures[1].Data["error"].(string); !strings.Contains(msg, "panicked") {
		t.Fatalf("expected panic to be recorded, got %q", msg)
	}
}

func TestPoolExhaustsRetryBudget(t *testing.T) {
	h := newHarness(t, 2)
	if err := h.registry.Register("broken", handler.Func(func(context.Context, string, []byte) ([]byte, error) {
		return nil, errors.New("always")
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	id, err := h.store.Enqueue(context.Background(), queue.NewTask{Target: "broken", MaxRetries: 1})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	task := waitForStatus(t, h.store, id, queue.StatusFailed)
	h.pool.Stop()
	if task.AttemptCount != 2 || task.ErrorMessage != "always" {
		t.Fatalf("unexpected failed task %#v", task)
	}
	failures := h.eventsOf(progress.TaskFailed)
	if len(failures) != 2 || failures[1].Data["will_retry"] != false {
		t.Fatalf("expected final failure without retry, got %+v", failures)
	}
}

func TestPoolLeavesUnregisteredTargetsPending(t *testing.T) {
	h := newHarness(t, 1)
	if err := h.registry.Register("echo", handler.Func(func(context.Context, string, []byte) ([]byte, error) { return nil, nil })); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	orphan := testsupport.MustEnqueue(t, h.store, "nobody", queue.PriorityUrgent, "x")
	served := testsupport.MustEnqueue(t, h.store, "echo", queue.PriorityLow, "y")

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForStatus(t, h.store, served, queue.StatusCompleted)
	h.pool.Stop()

	task, err := h.store.Get(context.Background(), orphan)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Status != queue.StatusPending || task.AttemptCount != 0 {
		t.Fatalf("expected orphan untouched, got %#v", task)
	}
}

func TestStopWaitsForInFlightHandler(t *testing.T) {
	h := newHarness(t, 1)
	started := make(chan struct{})
	release := make(chan struct{})
	if err := h.registry.Register("slow", handler.Func(func(ctx context.Context, _ string, _ []byte) ([]byte, error) {
		close(started)
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return []byte("finished"), nil
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	id := testsupport.MustEnqueue(t, h.store, "slow", queue.PriorityNormal, "")
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}
	if h.pool.InFlight() != 1 {
		t.Fatalf("expected one in-flight task, got %d", h.pool.InFlight())
	}

	stopped := make(chan struct{})
	go func() {
		h.pool.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a handler was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after handler finished")
	}

	task, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Status != queue.StatusCompleted || string(task.Result) != "finished" {
		t.Fatalf("expected in-flight task to complete despite Stop, got %#v", task)
	}
}
