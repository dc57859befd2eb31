package testsupport

import (
	"context"
	"testing"

	"scholarq/internal/config"
	"scholarq/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustEnqueue stores a pending task for target and returns its identifier.
func MustEnqueue(t testing.TB, store *queue.Store, target string, priority queue.Priority, payload string) string {
	t.Helper()

	id, err := store.Enqueue(context.Background(), queue.NewTask{
		Target:     target,
		Payload:    []byte(payload),
		Priority:   priority,
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return id
}

// MustLease leases the next task for any target and fails the test when none is eligible.
func MustLease(t testing.TB, store *queue.Store) *queue.Task {
	t.Helper()

	task, err := store.LeaseNext(context.Background(), "test-worker", nil)
	if err != nil {
		t.Fatalf("store.LeaseNext: %v", err)
	}
	if task == nil {
		t.Fatal("store.LeaseNext: no eligible task")
	}
	return task
}
