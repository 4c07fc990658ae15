// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/kindred-org/kindred/pkg/integrations"
	"github.com/kindred-org/kindred/pkg/protocol"
	"github.com/kindred-org/kindred/pkg/registry"
)

// NewCollaborators points the built-in actions at the configured services.
func NewCollaborators(logger *slog.Logger, cfg integrations.Config) (protocol.Collaborators, error) {
	collaborators, err := integrations.NewCollaborators(logger.With("module", "integrations"), cfg)
	if err != nil {
		return protocol.Collaborators{}, fmt.Errorf("failed to configure integrations: %w", err)
	}

	return collaborators, nil
}

// NewRegistry registers every built-in action bound to collaborators.
func NewRegistry(logger *slog.Logger, collaborators protocol.Collaborators) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	err := reg.RegisterDefaultActions(collaborators)
	if err != nil {
		return nil, fmt.Errorf("failed to register actions: %w", err)
	}

	return reg, nil
}
