// Package protocol defines the contracts between the engine, its actions and external collaborators.
package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/kindred-org/kindred/pkg/models"
)

// Result is what an action hands back to the executor.
type Result struct {
	// Data is recorded as the step output and exposed to later actions as .steps.<id>.
	Data map[string]any

	// SuspendFor asks the engine to continue the run after this long instead of blocking.
	SuspendFor time.Duration
}

// Action performs one side-effecting operation against a run context.
type Action interface {
	Execute(ctx context.Context, rc *models.RunContext, logger *slog.Logger) (Result, error)
}

// ActionFactory creates action instances and describes the action type.
type ActionFactory interface {
	// Create builds an action from an already rendered configuration.
	Create(ctx context.Context, config map[string]any) (Action, error)

	// ID returns the action type handled by this factory.
	ID() models.ActionType

	Name() string
	Description() string

	// Schema returns the JSON schema for the action configuration.
	Schema() map[string]any
}
