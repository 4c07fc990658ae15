package integrations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kindred-org/kindred/pkg/protocol"
)

// ErrMissingID is returned when a create call succeeds without an identifier in the response.
var ErrMissingID = errors.New("integration response has no identifier")

// Communications sends messages through the communications service.
//
//	POST /messages {template, recipient, member_id, subject, data} -> {"id": "..."}
type Communications struct {
	client *Client
}

func NewCommunications(client *Client) *Communications {
	return &Communications{client: client}
}

func (c *Communications) Send(ctx context.Context, msg protocol.Message) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}

	body := map[string]any{
		"template":  msg.Template,
		"recipient": msg.Recipient,
		"member_id": msg.MemberID,
		"subject":   msg.Subject,
		"data":      msg.Data,
	}

	err := c.client.Do(ctx, http.MethodPost, "/messages", body, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if resp.ID == "" {
		return "", fmt.Errorf("send message: %w", ErrMissingID)
	}

	return resp.ID, nil
}

// Records patches domain records such as members.
//
//	PATCH /records/{entity_type}/{id} {field: value, ...}
type Records struct {
	client *Client
}

func NewRecords(client *Client) *Records {
	return &Records{client: client}
}

func (r *Records) Update(ctx context.Context, entityType, id string, patch map[string]any) error {
	path := fmt.Sprintf("/records/%s/%s", url.PathEscape(entityType), url.PathEscape(id))

	err := r.client.Do(ctx, http.MethodPatch, path, patch, nil)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", entityType, id, err)
	}

	return nil
}

// Tasks creates staff tasks.
//
//	POST /tasks {title, description, assignee, member_id, priority, due_at} -> {"id": "..."}
type Tasks struct {
	client *Client
}

func NewTasks(client *Client) *Tasks {
	return &Tasks{client: client}
}

func (t *Tasks) CreateTask(ctx context.Context, task protocol.Task) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}

	body := map[string]any{
		"title":       task.Title,
		"description": task.Description,
		"assignee":    task.Assignee,
		"member_id":   task.MemberID,
		"priority":    task.Priority,
	}

	if task.DueAt != nil {
		body["due_at"] = task.DueAt.UTC().Format(time.RFC3339)
	}

	err := t.client.Do(ctx, http.MethodPost, "/tasks", body, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	if resp.ID == "" {
		return "", fmt.Errorf("create task: %w", ErrMissingID)
	}

	return resp.ID, nil
}

// Workflows starts and inspects external workflows.
//
//	POST /workflows/{ref}/invocations {payload} -> {"token": "..."}
//	GET  /invocations/{token} -> {"token", "state", "result", "updated_at"}
type Workflows struct {
	client *Client
}

func NewWorkflows(client *Client) *Workflows {
	return &Workflows{client: client}
}

func (w *Workflows) Invoke(ctx context.Context, ref string, payload map[string]any) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}

	path := fmt.Sprintf("/workflows/%s/invocations", url.PathEscape(ref))

	err := w.client.Do(ctx, http.MethodPost, path, map[string]any{"payload": payload}, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to invoke workflow %s: %w", ref, err)
	}

	if resp.Token == "" {
		return "", fmt.Errorf("invoke workflow %s: %w", ref, ErrMissingID)
	}

	return resp.Token, nil
}

func (w *Workflows) QueryStatus(ctx context.Context, token string) (*protocol.WorkflowStatus, error) {
	var status protocol.WorkflowStatus

	err := w.client.Do(ctx, http.MethodGet, "/invocations/"+url.PathEscape(token), nil, &status)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow %s: %w", token, err)
	}

	if status.Token == "" {
		status.Token = token
	}

	return &status, nil
}
