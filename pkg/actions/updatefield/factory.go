package updatefield

import (
	"context"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/protocol"
)

// ActionFactory creates update_member_field actions.
type ActionFactory struct {
	records protocol.RecordUpdater
}

func NewActionFactory(records protocol.RecordUpdater) *ActionFactory {
	return &ActionFactory{records: records}
}

func (*ActionFactory) ID() models.ActionType {
	return models.ActionUpdateMemberField
}

func (*ActionFactory) Name() string {
	return "Update member field"
}

func (*ActionFactory) Description() string {
	return "Patches one or more fields on the member (or another entity) the run concerns."
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(f.records, config)
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{
				"type":     "string",
				"examples": []string{"onboarding_status", "last_contacted_at"},
			},
			"value": map[string]any{
				"description": "New value for field. Strings support templating",
			},
			"fields": map[string]any{
				"type":          "object",
				"minProperties": 1,
				"description":   "Several fields at once",
			},
			"entity_type": map[string]any{
				"type":    "string",
				"default": "member",
			},
			"entity_id": map[string]any{
				"type":        "string",
				"description": "Defaults to the run's entity or member",
			},
		},
		"anyOf": []map[string]any{
			{"required": []string{"field", "value"}},
			{"required": []string{"fields"}},
		},
	}
}
