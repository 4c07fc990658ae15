package protocol

import (
	"context"
	"time"
)

// Message is one outbound communication to a member or donor.
type Message struct {
	Template  string         `json:"template"`
	Recipient string         `json:"recipient"`
	MemberID  string         `json:"member_id,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// CommunicationSender delivers templated communications.
type CommunicationSender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// RecordUpdater patches fields of a domain record (member, donation, ...).
type RecordUpdater interface {
	Update(ctx context.Context, entityType, id string, patch map[string]any) error
}

// Task is a to-do item for staff, such as an onboarding call.
type Task struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	MemberID    string     `json:"member_id,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// TaskCreator creates staff tasks.
type TaskCreator interface {
	CreateTask(ctx context.Context, task Task) (string, error)
}

// WorkflowStatus is the state of an externally running workflow.
type WorkflowStatus struct {
	Token     string         `json:"token"`
	State     string         `json:"state"`
	Result    map[string]any `json:"result,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// WorkflowInvoker starts workflows in an external system and reports on them.
type WorkflowInvoker interface {
	Invoke(ctx context.Context, workflowRef string, payload map[string]any) (string, error)
	QueryStatus(ctx context.Context, token string) (*WorkflowStatus, error)
}

// Collaborators bundles the external systems the built-in actions talk to.
type Collaborators struct {
	Communications CommunicationSender
	Records        RecordUpdater
	Tasks          TaskCreator
	Workflows      WorkflowInvoker
}
