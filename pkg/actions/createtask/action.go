// Package createtask implements the create_task action.
package createtask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/protocol"
)

type Action struct {
	tasks       protocol.TaskCreator
	title       string
	description string
	assignee    string
	priority    string
	dueIn       time.Duration
}

func NewAction(tasks protocol.TaskCreator, config map[string]any) (*Action, error) {
	if tasks == nil {
		return nil, errors.New("create_task requires a task creator")
	}

	title, _ := config["title"].(string)
	if title == "" {
		return nil, errors.New("missing required field 'title'")
	}

	action := &Action{tasks: tasks, title: title, priority: "normal"}
	action.description, _ = config["description"].(string)
	action.assignee, _ = config["assignee"].(string)

	if priority, ok := config["priority"].(string); ok && priority != "" {
		action.priority = priority
	}

	if raw, ok := config["due_in"]; ok {
		dueIn, err := models.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid 'due_in': %w", err)
		}

		action.dueIn = dueIn
	}

	return action, nil
}

func (a *Action) Execute(ctx context.Context, rc *models.RunContext, logger *slog.Logger) (protocol.Result, error) {
	task := protocol.Task{
		Title:       a.title,
		Description: a.description,
		Assignee:    a.assignee,
		MemberID:    rc.MemberID,
		Priority:    a.priority,
	}

	if a.dueIn > 0 {
		now := rc.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}

		due := now.Add(a.dueIn)
		task.DueAt = &due
	}

	taskID, err := a.tasks.CreateTask(ctx, task)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to create task %q: %w", a.title, err)
	}

	logger.InfoContext(ctx, "Created task", "task_id", taskID, "title", a.title)

	out := map[string]any{"task_id": taskID, "title": a.title}
	if task.DueAt != nil {
		out["due_at"] = task.DueAt.Format(time.RFC3339)
	}

	return protocol.Result{Data: out}, nil
}
