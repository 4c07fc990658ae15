// Package wait implements the wait action, which suspends a run without blocking.
package wait

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/protocol"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() models.ActionType {
	return models.ActionWait
}

func (*ActionFactory) Name() string {
	return "Wait"
}

func (*ActionFactory) Description() string {
	return "Suspends the run; the remaining actions continue after the duration."
}

func (*ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":        []string{"string", "number"},
				"description": "Go duration (72h, 30m) or seconds",
				"examples":    []any{"24h", 3600},
			},
		},
		"required": []string{"duration"},
	}
}

type Action struct {
	duration time.Duration
}

func NewAction(config map[string]any) (*Action, error) {
	raw, ok := config["duration"]
	if !ok {
		return nil, errors.New("missing required field 'duration'")
	}

	duration, err := models.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid 'duration': %w", err)
	}

	if duration <= 0 {
		return nil, fmt.Errorf("'duration' must be positive, got %s", duration)
	}

	return &Action{duration: duration}, nil
}

// Execute returns immediately; the engine turns SuspendFor into a scheduled continuation.
func (a *Action) Execute(ctx context.Context, _ *models.RunContext, logger *slog.Logger) (protocol.Result, error) {
	logger.DebugContext(ctx, "Suspending run", "duration", a.duration)

	return protocol.Result{
		Data:       map[string]any{"resume_after": a.duration.String()},
		SuspendFor: a.duration,
	}, nil
}
