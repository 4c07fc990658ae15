// Package registry holds the action factories known to the executor and validates action configuration.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

type entry struct {
	factory protocol.ActionFactory
	schema  *gojsonschema.Schema
}

type Registry struct {
	logger  *slog.Logger
	entries map[models.ActionType]entry
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:  log,
		entries: make(map[models.ActionType]entry),
	}
}

// RegisterAction adds a factory, compiling its schema once.
func (r *Registry) RegisterAction(factory protocol.ActionFactory) error {
	var compiled *gojsonschema.Schema

	if schema := factory.Schema(); len(schema) > 0 {
		var err error

		compiled, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return fmt.Errorf("invalid schema for action %s: %w", factory.ID(), err)
		}
	}

	r.entries[factory.ID()] = entry{factory: factory, schema: compiled}

	r.logger.Debug("Registered action", "type", factory.ID())

	return nil
}

// Get returns the factory for an action type.
func (r *Registry) Get(actionType models.ActionType) (protocol.ActionFactory, bool) {
	e, ok := r.entries[actionType]

	return e.factory, ok
}

// Validate checks config against the action type's schema.
func (r *Registry) Validate(actionType models.ActionType, config map[string]any) error {
	e, ok := r.entries[actionType]
	if !ok {
		return &models.ConfigurationError{
			Subject: "action",
			Reason:  fmt.Sprintf("action type '%s' not registered", actionType),
		}
	}

	if e.schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := e.schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return &models.ValidationError{Field: "config", Reason: err.Error()}
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return &models.ValidationError{
			Field:  fmt.Sprintf("%s config", actionType),
			Reason: strings.Join(problems, "; "),
		}
	}

	return nil
}

// CreateAction validates config and builds an action instance.
func (r *Registry) CreateAction(ctx context.Context, actionType models.ActionType, config map[string]any) (protocol.Action, error) {
	e, ok := r.entries[actionType]
	if !ok {
		return nil, &models.ConfigurationError{
			Subject: "action",
			Reason:  fmt.Sprintf("action type '%s' not registered", actionType),
		}
	}

	if err := r.Validate(actionType, config); err != nil {
		return nil, err
	}

	return e.factory.Create(ctx, config)
}

// Actions lists the registered factories ordered by type.
func (r *Registry) Actions() []protocol.ActionFactory {
	out := make([]protocol.ActionFactory, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.factory)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID() < out[j].ID()
	})

	return out
}
