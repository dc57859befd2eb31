package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxBackoffSteps bounds the doubling loop; the cap is reached long before.
const maxBackoffSteps = 64

// RetryPolicy schedules the delay before a failed task becomes eligible again.
// The delay for attempt n is BaseDelay * 2^(n-1), capped at MaxDelay. A zero
// BaseDelay makes retries immediately eligible.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Delay returns the wait after the given (1-based) failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt <= 0 {
		return 0
	}
	limit := p.MaxDelay
	if limit < p.BaseDelay {
		limit = p.BaseDelay
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = p.BaseDelay
	schedule.Multiplier = 2
	schedule.RandomizationFactor = 0
	schedule.MaxInterval = limit
	schedule.MaxElapsedTime = 0
	schedule.Reset()

	var delay time.Duration
	for i := 0; i < attempt && i < maxBackoffSteps; i++ {
		delay = schedule.NextBackOff()
	}
	return delay
}
