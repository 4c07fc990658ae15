package createtask

import (
	"context"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/protocol"
)

// ActionFactory creates create_task actions.
type ActionFactory struct {
	tasks protocol.TaskCreator
}

func NewActionFactory(tasks protocol.TaskCreator) *ActionFactory {
	return &ActionFactory{tasks: tasks}
}

func (*ActionFactory) ID() models.ActionType {
	return models.ActionCreateTask
}

func (*ActionFactory) Name() string {
	return "Create task"
}

func (*ActionFactory) Description() string {
	return "Creates a staff task, optionally due a fixed time after the run."
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(f.tasks, config)
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples":  []string{"Call {{.member.first_name}} to say hello"},
			},
			"description": map[string]any{"type": "string"},
			"assignee":    map[string]any{"type": "string"},
			"priority": map[string]any{
				"type":    "string",
				"enum":    []string{"low", "normal", "high"},
				"default": "normal",
			},
			"due_in": map[string]any{
				"type":        []string{"string", "number"},
				"description": "Duration after the run the task is due, e.g. 72h or seconds",
			},
		},
		"required": []string{"title"},
	}
}
