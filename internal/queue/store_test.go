package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"scholarq/internal/queue"
	"scholarq/internal/services"
	"scholarq/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	id, err := store.Enqueue(ctx, queue.NewTask{Target: "echo", Method: "say", Payload: []byte(`{"x":1}`), Priority: queue.PriorityHigh, MaxRetries: 2})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected task ID to be assigned")
	}

	task, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Status != queue.StatusPending || task.Target != "echo" || task.Method != "say" {
		t.Fatalf("unexpected task: %#v", task)
	}
	if task.Priority != queue.PriorityHigh || task.MaxRetries != 2 || task.AttemptCount != 0 {
		t.Fatalf("unexpected task accounting: %#v", task)
	}
	if string(task.Payload) != `{"x":1}` {
		t.Fatalf("unexpected payload %q", task.Payload)
	}
	if task.CreatedAt.IsZero() {
		t.Fatal("expected created_at")
	}

	// Reopening an existing database must not re-run migrations.
	store.Close()
	reopened := testsupport.MustOpenStore(t, cfg)
	if _, err := reopened.Get(ctx, id); err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
}

func TestEnqueueValidation(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	cases := []queue.NewTask{
		{Target: ""},
		{Target: "echo", Priority: queue.Priority(9)},
		{Target: "echo", MaxRetries: -1},
	}
	for _, tc := range cases {
		if _, err := store.Enqueue(ctx, tc); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %#v, got %v", tc, err)
		}
	}
}

func TestEnqueueBatchIsAllOrNothing(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := store.EnqueueBatch(ctx, []queue.NewTask{{Target: "a"}, {Target: ""}}); err == nil {
		t.Fatal("expected batch with invalid task to fail")
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("expected no tasks after rejected batch, got %d", stats.Total)
	}

	ids, err := store.EnqueueBatch(ctx, []queue.NewTask{{Target: "a"}, {Target: "b"}, {Target: "a"}})
	if err != nil {
		t.Fatalf("EnqueueBatch failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	tasks, err := store.GetMany(ctx, append(ids, "missing"))
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
}

func TestLeaseOrdersByPriorityThenFIFO(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	low := testsupport.MustEnqueue(t, store, "echo", queue.PriorityLow, "low")
	normal1 := testsupport.MustEnqueue(t, store, "echo", queue.PriorityNormal, "n1")
	urgent := testsupport.MustEnqueue(t, store, "echo", queue.PriorityUrgent, "urgent")
	normal2 := testsupport.MustEnqueue(t, store, "echo", queue.PriorityNormal, "n2")
	high := testsupport.MustEnqueue(t, store, "echo", queue.PriorityHigh, "high")

	want := []string{urgent, high, normal1, normal2, low}
	for i, id := range want {
		task := testsupport.MustLease(t, store)
		if task.ID != id {
			t.Fatalf("lease %d: got %s (%s), want %s", i, task.ID, task.Payload, id)
		}
		if task.Status != queue.StatusProcessing || task.AttemptCount != 1 || task.LeasedAt == nil {
			t.Fatalf("lease %d: unexpected lease state %#v", i, task)
		}
		if task.LeasedBy != "test-worker" {
			t.Fatalf("lease %d: unexpected leased_by %q", i, task.LeasedBy)
		}
	}

	next, err := store.LeaseNext(context.Background(), "test-worker", nil)
	if err != nil {
		t.Fatalf("LeaseNext failed: %v", err)
	}
	if next != nil {
		t.Fatalf("expected empty queue, leased %#v", next)
	}
}

func TestLeaseRestrictsTargets(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	testsupport.MustEnqueue(t, store, "unregistered", queue.PriorityUrgent, "x")
	wanted := testsupport.MustEnqueue(t, store, "echo", queue.PriorityLow, "y")

	task, err := store.LeaseNext(ctx, "w", []string{"echo"})
	if err != nil {
		t.Fatalf("LeaseNext failed: %v", err)
	}
	if task == nil || task.ID != wanted {
		t.Fatalf("expected echo task, got %#v", task)
	}

	task, err = store.LeaseNext(ctx, "w", []string{})
	if err != nil || task != nil {
		t.Fatalf("expected no lease for empty target set, got %#v, %v", task, err)
	}
}

func TestConcurrentLeaseHandsEachTaskOut(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	const total = 40
	for i := 0; i < total; i++ {
		testsupport.MustEnqueue(t, store, "echo", queue.PriorityNormal, fmt.Sprint(i))
	}

	var (
		mu     sync.Mutex
		leased = make(map[string]int)
		wg     sync.WaitGroup
		errs   = make(chan error, 8)
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				task, err := store.LeaseNext(ctx, fmt.Sprintf("worker-%d", worker), nil)
				if err != nil {
					errs <- err
					return
				}
				if task == nil {
					return
				}
				mu.Lock()
				leased[task.ID]++
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent lease failed: %v", err)
	}

	if len(leased) != total {
		t.Fatalf("expected %d distinct leases, got %d", total, len(leased))
	}
	for id, count := range leased {
		if count != 1 {
			t.Fatalf("task %s leased %d times", id, count)
		}
	}
}

func TestCompleteRecordsResult(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	id := testsupport.MustEnqueue(t, store, "echo", queue.PriorityNormal, "hi")

	if err := store.Complete(ctx, id, []byte("early")); !errors.Is(err, queue.ErrNotProcessing) {
		t.Fatalf("expected ErrNotProcessing for pending task, got %v", err)
	}
	if err := store.Complete(ctx, "missing", nil); !errors.Is(err, queue.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}

	testsupport.MustLease(t, store)
	if err := store.Complete(ctx, id, []byte("done")); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	task, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Status != queue.StatusCompleted || string(task.Result) != "done" || task.FinishedAt == nil {
		t.Fatalf("unexpected completed task %#v", task)
	}

	err = store.Complete(ctx, id, []byte("again"))
	if !errors.Is(err, queue.ErrNotProcessing) || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for completed task, got %v", err)
	}
}

func TestFailRetriesUntilBudgetSpent(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	id, err := store.Enqueue(ctx, queue.NewTask{Target: "flaky", MaxRetries: 2})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	leases := 0
	for {
		task, err := store.LeaseNext(ctx, "w", nil)
		if err != nil {
			t.Fatalf("LeaseNext failed: %v", err)
		}
		if task == nil {
			break
		}
		leases++
		updated, err := store.Fail(ctx, task.ID, "boom")
		if err != nil {
			t.Fatalf("Fail failed: %v", err)
		}
		if updated.ErrorMessage != "boom" {
			t.Fatalf("unexpected error message %q", updated.ErrorMessage)
		}
		if leases > 10 {
			t.Fatal("task leased too many times")
		}
	}

	if leases != 3 {
		t.Fatalf("expected max_retries+1 = 3 leases, got %d", leases)
	}
	task, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Status != queue.StatusFailed || task.AttemptCount != 3 || task.FinishedAt == nil {
		t.Fatalf("unexpected terminal task %#v", task)
	}
	if _, err := store.Fail(ctx, id, "again"); !errors.Is(err, queue.ErrNotProcessing) {
		t.Fatalf("expected ErrNotProcessing on failed task, got %v", err)
	}
}

func TestFailAppliesBackoff(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRetryDelay(time.Hour, 2*time.Hour))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	id := testsupport.MustEnqueue(t, store, "echo", queue.PriorityNormal, "x")
	testsupport.MustLease(t, store)
	before := time.Now()
	task, err := store.Fail(ctx, id, "transient")
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if task.Status != queue.StatusPending {
		t.Fatalf("expected pending after retryable failure, got %s", task.Status)
	}
	if task.NotBefore == nil || task.NotBefore.Before(before.Add(59*time.Minute)) {
		t.Fatalf("expected not_before about an hour out, got %v", task.NotBefore)
	}

	next, err := store.LeaseNext(ctx, "w", nil)
	if err != nil {
		t.Fatalf("LeaseNext failed: %v", err)
	}
	if next != nil {
		t.Fatalf("expected backoff to hide task, leased %#v", next)
	}
}

func TestCancelOnlyTouchesPending(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	running := testsupport.MustEnqueue(t, store, "a", queue.PriorityUrgent, "run")
	testsupport.MustLease(t, store)
	testsupport.MustEnqueue(t, store, "a", queue.PriorityNormal, "1")
	testsupport.MustEnqueue(t, store, "b", queue.PriorityNormal, "2")

	n, err := store.Cancel(ctx, "a")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cancelled task, got %d", n)
	}
	task, err := store.Get(ctx, running)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Status != queue.StatusProcessing {
		t.Fatalf("expected processing task untouched, got %s", task.Status)
	}

	n, err = store.Cancel(ctx, "")
	if err != nil || n != 1 {
		t.Fatalf("expected cancel-all to remove the b task, got %d, %v", n, err)
	}
	failed, err := store.List(ctx, queue.Filter{Statuses: []queue.Status{queue.StatusFailed}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, task := range failed {
		if task.ErrorMessage != queue.CancelledReason {
			t.Fatalf("unexpected cancel reason %q", task.ErrorMessage)
		}
	}
}

func TestStatsSumToTotal(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		testsupport.MustEnqueue(t, store, "a", queue.PriorityNormal, "x")
	}
	testsupport.MustEnqueue(t, store, "b", queue.PriorityUrgent, "y")
	leased := testsupport.MustLease(t, store)
	if err := store.Complete(ctx, leased.ID, nil); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	testsupport.MustLease(t, store)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 4 {
		t.Fatalf("expected total 4, got %d", stats.Total)
	}
	sum := 0
	for _, count := range stats.Overall {
		sum += count
	}
	if sum != stats.Total {
		t.Fatalf("overall counts %v do not sum to %d", stats.Overall, stats.Total)
	}
	if stats.Overall[queue.StatusCompleted] != 1 || stats.Overall[queue.StatusProcessing] != 1 || stats.Overall[queue.StatusPending] != 2 {
		t.Fatalf("unexpected overall stats %v", stats.Overall)
	}
	if stats.ByTarget["b"][queue.StatusCompleted] != 1 || stats.ByTarget["a"][queue.StatusPending] != 2 {
		t.Fatalf("unexpected per-target stats %v", stats.ByTarget)
	}
}

func TestCleanupRemovesFinishedWork(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	done := testsupport.MustEnqueue(t, store, "a", queue.PriorityUrgent, "x")
	testsupport.MustLease(t, store)
	if err := store.Complete(ctx, done, nil); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	pending := testsupport.MustEnqueue(t, store, "a", queue.PriorityNormal, "y")

	result, err := store.Cleanup(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.Tasks != 0 {
		t.Fatalf("expected recent task to survive, removed %d", result.Tasks)
	}

	time.Sleep(5 * time.Millisecond)
	result, err = store.Cleanup(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.Tasks != 1 {
		t.Fatalf("expected one task removed, got %d", result.Tasks)
	}
	if _, err := store.Get(ctx, done); !errors.Is(err, queue.ErrTaskNotFound) {
		t.Fatalf("expected completed task purged, got %v", err)
	}
	if _, err := store.Get(ctx, pending); err != nil {
		t.Fatalf("expected pending task kept: %v", err)
	}
}

func TestRecoverInterrupted(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	retryable, err := store.Enqueue(ctx, queue.NewTask{Target: "a", Priority: queue.PriorityUrgent, MaxRetries: 1})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	exhausted, err := store.Enqueue(ctx, queue.NewTask{Target: "a", MaxRetries: 0})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	testsupport.MustLease(t, store)
	testsupport.MustLease(t, store)

	run := &queue.WorkflowRun{Definition: "flow"}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	result, err := store.RecoverInterrupted(ctx)
	if err != nil {
		t.Fatalf("RecoverInterrupted failed: %v", err)
	}
	if result.Requeued != 1 || result.Failed != 1 || result.Runs != 1 {
		t.Fatalf("unexpected recovery result %+v", result)
	}

	task, _ := store.Get(ctx, retryable)
	if task.Status != queue.StatusPending {
		t.Fatalf("expected retryable task pending, got %s", task.Status)
	}
	task, _ = store.Get(ctx, exhausted)
	if task.Status != queue.StatusFailed || task.ErrorMessage != queue.InterruptedReason {
		t.Fatalf("expected exhausted task failed, got %#v", task)
	}
	stored, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if stored.Status != queue.RunFailed {
		t.Fatalf("expected interrupted run failed, got %s", stored.Status)
	}
}

func TestRetryFailedResetsBudget(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	id, err := store.Enqueue(ctx, queue.NewTask{Target: "a", MaxRetries: 0})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	testsupport.MustLease(t, store)
	if _, err := store.Fail(ctx, id, "boom"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	n, err := store.RetryFailed(ctx, id)
	if err != nil || n != 1 {
		t.Fatalf("expected one retried task, got %d, %v", n, err)
	}
	task, _ := store.Get(ctx, id)
	if task.Status != queue.StatusPending || task.AttemptCount != 0 || task.ErrorMessage != "" {
		t.Fatalf("unexpected retried task %#v", task)
	}
}

func TestCheckHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustEnqueue(t, store, "a", queue.PriorityNormal, "x")

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.IntegrityCheck {
		t.Fatalf("unexpected health %+v", health)
	}
	if health.TotalTasks != 1 {
		t.Fatalf("expected 1 task, got %d", health.TotalTasks)
	}
	if health.SchemaVersion < 1 {
		t.Fatalf("expected migrated schema version, got %d", health.SchemaVersion)
	}
	if health.DBPath != cfg.DatabasePath() {
		t.Fatalf("unexpected db path %q", health.DBPath)
	}
}

func TestRetryFailedLeavesCancelledTasks(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	id := testsupport.MustEnqueue(t, store, "a", queue.PriorityNormal, "x")
	if _, err := store.Cancel(ctx, "a"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	n, err := store.RetryFailed(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected no retried tasks, got %d, %v", n, err)
	}
	if n, err := store.RetryFailed(ctx, id); err != nil || n != 0 {
		t.Fatalf("expected cancelled task to stay failed, got %d, %v", n, err)
	}
	task, _ := store.Get(ctx, id)
	if task.Status != queue.StatusFailed || task.ErrorMessage != queue.CancelledReason {
		t.Fatalf("unexpected cancelled task %#v", task)
	}
}

// SQLite caps a statement at 32766 bound variables.
const moreThanVariableLimit = 33000

func TestIDListsBeyondVariableLimit(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	batch := make([]queue.NewTask, moreThanVariableLimit)
	for i := range batch {
		batch[i] = queue.NewTask{Target: "bulk", Payload: []byte(fmt.Sprint(i))}
	}
	ids, err := store.EnqueueBatch(ctx, batch)
	if err != nil {
		t.Fatalf("EnqueueBatch failed: %v", err)
	}

	tasks, err := store.GetMany(ctx, ids)
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if len(tasks) != len(ids) {
		t.Fatalf("expected %d tasks, got %d", len(ids), len(tasks))
	}

	if n, err := store.RetryFailed(ctx, ids...); err != nil || n != 0 {
		t.Fatalf("expected nothing to retry, got %d, %v", n, err)
	}

	targets := make([]string, moreThanVariableLimit)
	for i := range targets {
		targets[i] = fmt.Sprintf("other-%d", i)
	}
	targets[len(targets)-1] = "bulk"
	task, err := store.LeaseNext(ctx, "w1", targets)
	if err != nil {
		t.Fatalf("LeaseNext failed: %v", err)
	}
	if task == nil || task.ID != ids[0] {
		t.Fatalf("expected first bulk task, got %#v", task)
	}
}
