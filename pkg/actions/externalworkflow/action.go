// Package externalworkflow implements the call_external_workflow action.
package externalworkflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/protocol"
)

type Action struct {
	workflows      protocol.WorkflowInvoker
	workflow       string
	payload        map[string]any
	includeContext bool
}

func NewAction(workflows protocol.WorkflowInvoker, config map[string]any) (*Action, error) {
	if workflows == nil {
		return nil, errors.New("call_external_workflow requires a workflow invoker")
	}

	workflow, _ := config["workflow"].(string)
	if workflow == "" {
		return nil, errors.New("missing required field 'workflow'")
	}

	action := &Action{workflows: workflows, workflow: workflow}
	action.payload, _ = config["payload"].(map[string]any)
	action.includeContext, _ = config["include_context"].(bool)

	return action, nil
}

func (a *Action) Execute(ctx context.Context, rc *models.RunContext, logger *slog.Logger) (protocol.Result, error) {
	payload := make(map[string]any, len(a.payload)+3)
	for k, v := range a.payload {
		payload[k] = v
	}

	if rc.MemberID != "" {
		payload["member_id"] = rc.MemberID
	}

	if a.includeContext {
		payload["member"] = rc.Member
		payload["data"] = rc.Data
	}

	token, err := a.workflows.Invoke(ctx, a.workflow, payload)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to invoke workflow %s: %w", a.workflow, err)
	}

	logger.InfoContext(ctx, "Invoked external workflow", "workflow", a.workflow, "token", token)

	return protocol.Result{Data: map[string]any{
		"workflow": a.workflow,
		"token":    token,
	}}, nil
}
