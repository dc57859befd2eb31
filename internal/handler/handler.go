// Package handler defines the contract between the scheduler and the
// application-supplied units that execute tasks, and the registry that maps
// target names to them.
package handler

import (
	"context"
)

// Handler executes one task. Method and payload are passed through from the
// task untouched; the returned bytes become the task result.
type Handler interface {
	Handle(ctx context.Context, method string, payload []byte) ([]byte, error)
}

// Func adapts a plain function to Handler.
type Func func(ctx context.Context, method string, payload []byte) ([]byte, error)

// Handle calls f.
func (f Func) Handle(ctx context.Context, method string, payload []byte) ([]byte, error) {
	return f(ctx, method, payload)
}

// HealthChecker is implemented by handlers that can report readiness.
type HealthChecker interface {
	HealthCheck(context.Context) Health
}

// Health summarizes the readiness of a registered handler.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
