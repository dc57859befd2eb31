package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"scholarq/internal/handler"
	"scholarq/internal/orchestrator"
)

// registerBuiltins binds the handlers shipped with the binary. Applications
// embedding the orchestrator register their own targets instead.
func registerBuiltins(orch *orchestrator.Orchestrator, logger *slog.Logger) error {
	if err := orch.RegisterFunc("echo", echoHandler); err != nil {
		return err
	}
	if err := orch.Register("sleep", sleepHandler{}); err != nil {
		return err
	}
	logger.Debug("builtin handlers registered", slog.Any("targets", orch.Registry().Targets()))
	return nil
}

// echoHandler returns its payload unchanged.
func echoHandler(_ context.Context, _ string, payload []byte) ([]byte, error) {
	return payload, nil
}

// sleepHandler waits for the duration named by the payload, for example
// {"duration":"2s"}, and reports how long it slept. It is useful for
// exercising worker concurrency from the command line.
type sleepHandler struct{}

type sleepRequest struct {
	Duration string `json:"duration"`
}

func (sleepHandler) Handle(ctx context.Context, _ string, payload []byte) ([]byte, error) {
	var req sleepRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode sleep payload: %w", err)
		}
	}
	d := time.Second
	if req.Duration != "" {
		parsed, err := time.ParseDuration(req.Duration)
		if err != nil {
			return nil, fmt.Errorf("parse duration: %w", err)
		}
		d = parsed
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return json.Marshal(map[string]string{"slept": d.String()})
}

func (sleepHandler) HealthCheck(context.Context) handler.Health {
	return handler.Healthy("sleep")
}
