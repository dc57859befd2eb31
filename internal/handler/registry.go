package handler

import (
	"context"
	"sort"
	"strings"
	"sync"

	"scholarq/internal/services"
)

// Registry maps target names to handlers. It is safe for concurrent use and
// may be mutated while workers are running.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds target to h, replacing any previous binding.
func (r *Registry) Register(target string, h Handler) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return services.Wrap(services.ErrValidation, "handler", "register", "target is required", nil)
	}
	if h == nil {
		return services.Wrap(services.ErrValidation, "handler", "register", "handler for "+target+" is nil", nil)
	}
	r.mu.Lock()
	r.handlers[target] = h
	r.mu.Unlock()
	return nil
}

// Unregister removes the binding for target and reports whether one existed.
func (r *Registry) Unregister(target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[target]; !ok {
		return false
	}
	delete(r.handlers, target)
	return true
}

// Lookup returns the handler bound to target.
func (r *Registry) Lookup(target string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[target]
	return h, ok
}

// Targets returns the registered target names in sorted order.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	targets := make([]string, 0, len(r.handlers))
	for target := range r.handlers {
		targets = append(targets, target)
	}
	r.mu.RUnlock()
	sort.Strings(targets)
	return targets
}

// Health collects readiness from every handler implementing HealthChecker.
// Handlers without a check are reported ready.
func (r *Registry) Health(ctx context.Context) []Health {
	targets := r.Targets()
	results := make([]Health, 0, len(targets))
	for _, target := range targets {
		h, ok := r.Lookup(target)
		if !ok {
			continue
		}
		checker, ok := h.(HealthChecker)
		if !ok {
			results = append(results, Healthy(target))
			continue
		}
		health := checker.HealthCheck(ctx)
		if health.Name == "" {
			health.Name = target
		}
		results = append(results, health)
	}
	return results
}
