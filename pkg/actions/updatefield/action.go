// Package updatefield implements the update_member_field action.
package updatefield

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/protocol"
)

const defaultEntityType = "member"

var ErrNoEntity = errors.New("no target record: set 'entity_id' or run against a member")

type Action struct {
	records    protocol.RecordUpdater
	entityType string
	entityID   string
	patch      map[string]any
}

func NewAction(records protocol.RecordUpdater, config map[string]any) (*Action, error) {
	if records == nil {
		return nil, errors.New("update_member_field requires a record updater")
	}

	patch := make(map[string]any)

	if fields, ok := config["fields"].(map[string]any); ok {
		for k, v := range fields {
			patch[k] = v
		}
	}

	if field, ok := config["field"].(string); ok && field != "" {
		value, ok := config["value"]
		if !ok {
			return nil, errors.New("missing required field 'value'")
		}

		patch[field] = value
	}

	if len(patch) == 0 {
		return nil, errors.New("missing required field 'field' or 'fields'")
	}

	action := &Action{records: records, entityType: defaultEntityType, patch: patch}

	if entityType, ok := config["entity_type"].(string); ok && entityType != "" {
		action.entityType = entityType
	}

	action.entityID, _ = config["entity_id"].(string)

	return action, nil
}

func (a *Action) Execute(ctx context.Context, rc *models.RunContext, logger *slog.Logger) (protocol.Result, error) {
	id := a.target(rc)
	if id == "" {
		return protocol.Result{}, ErrNoEntity
	}

	if err := a.records.Update(ctx, a.entityType, id, a.patch); err != nil {
		return protocol.Result{}, fmt.Errorf("failed to update %s %s: %w", a.entityType, id, err)
	}

	fields := make([]string, 0, len(a.patch))
	for k := range a.patch {
		fields = append(fields, k)
	}

	logger.InfoContext(ctx, "Updated record", "entity_type", a.entityType, "entity_id", id, "fields", fields)

	return protocol.Result{Data: map[string]any{
		"entity_type": a.entityType,
		"entity_id":   id,
		"updated":     a.patch,
	}}, nil
}

func (a *Action) target(rc *models.RunContext) string {
	switch {
	case a.entityID != "":
		return a.entityID
	case rc.EntityID != "" && (rc.EntityType == "" || rc.EntityType == a.entityType):
		return rc.EntityID
	case a.entityType == defaultEntityType:
		return rc.MemberID
	default:
		return ""
	}
}
