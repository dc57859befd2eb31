package queue_test

import (
	"testing"
	"time"

	"scholarq/internal/queue"
)

func TestRetryPolicyDelay(t *testing.T) {
	policy := queue.RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{100, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := policy.Delay(tc.attempt); got != tc.want {
			t.Fatalf("Delay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}

	if got := (queue.RetryPolicy{}).Delay(3); got != 0 {
		t.Fatalf("expected zero base delay to disable backoff, got %s", got)
	}
}

func TestParsePriority(t *testing.T) {
	for input, want := range map[string]queue.Priority{
		"low": queue.PriorityLow, "NORMAL": queue.PriorityNormal, " high ": queue.PriorityHigh, "urgent": queue.PriorityUrgent, "3": queue.PriorityUrgent,
	} {
		got, err := queue.ParsePriority(input)
		if err != nil || got != want {
			t.Fatalf("ParsePriority(%q) = %v, %v; want %v", input, got, err, want)
		}
	}
	if _, err := queue.ParsePriority("critical"); err == nil {
		t.Fatal("expected unknown priority error")
	}
	if queue.PriorityUrgent.String() != "urgent" {
		t.Fatalf("unexpected string %q", queue.PriorityUrgent.String())
	}
}
