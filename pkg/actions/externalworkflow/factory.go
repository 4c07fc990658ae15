package externalworkflow

import (
	"context"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/protocol"
)

// ActionFactory creates call_external_workflow actions.
type ActionFactory struct {
	workflows protocol.WorkflowInvoker
}

func NewActionFactory(workflows protocol.WorkflowInvoker) *ActionFactory {
	return &ActionFactory{workflows: workflows}
}

func (*ActionFactory) ID() models.ActionType {
	return models.ActionCallExternalWorkflow
}

func (*ActionFactory) Name() string {
	return "Call external workflow"
}

func (*ActionFactory) Description() string {
	return "Starts a workflow in an external system and records its status token."
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(f.workflows, config)
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"workflow": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Reference of the workflow to start",
				"examples":    []string{"grant-report", "volunteer-background-check"},
			},
			"payload": map[string]any{
				"type":        "object",
				"description": "Input for the workflow; string values support templating",
			},
			"include_context": map[string]any{
				"type":        "boolean",
				"default":     false,
				"description": "Send the member and event data along with the payload",
			},
		},
		"required": []string{"workflow"},
	}
}
