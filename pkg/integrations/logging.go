package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/protocol"
)

// ErrUnknownToken is returned by the logging workflow invoker for tokens it never issued.
var ErrUnknownToken = fmt.Errorf("workflow token %w", models.ErrNotFound)

// Logging records every collaborator call in the log instead of reaching a
// real system. It backs the development profile and the examples.
type Logging struct {
	logger *slog.Logger

	mu        sync.Mutex
	workflows map[string]*protocol.WorkflowStatus
	messages  []protocol.Message
	tasks     []protocol.Task
}

func NewLogging(logger *slog.Logger) *Logging {
	return &Logging{
		logger:    logger.With("module", "integrations", "backend", "logging"),
		workflows: make(map[string]*protocol.WorkflowStatus),
	}
}

func newID(prefix string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate %s id: %w", prefix, err)
	}

	return prefix + "_" + id.String(), nil
}

func (l *Logging) Send(ctx context.Context, msg protocol.Message) (string, error) {
	id, err := newID("msg")
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "Message sent",
		"message_id", id,
		"template", msg.Template,
		"recipient", msg.Recipient,
		"member_id", msg.MemberID,
	)

	return id, nil
}

func (l *Logging) Update(ctx context.Context, entityType, id string, patch map[string]any) error {
	l.logger.InfoContext(ctx, "Record updated", "entity_type", entityType, "entity_id", id, "patch", patch)

	return nil
}

func (l *Logging) CreateTask(ctx context.Context, task protocol.Task) (string, error) {
	id, err := newID("task")
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "Task created",
		"task_id", id,
		"title", task.Title,
		"assignee", task.Assignee,
		"member_id", task.MemberID,
	)

	return id, nil
}

// Invoke completes the workflow immediately and remembers its status.
func (l *Logging) Invoke(ctx context.Context, ref string, payload map[string]any) (string, error) {
	token, err := newID("wf")
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	l.workflows[token] = &protocol.WorkflowStatus{
		Token:     token,
		State:     "completed",
		Result:    map[string]any{"workflow": ref},
		UpdatedAt: time.Now().UTC(),
	}
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "Workflow invoked", "workflow", ref, "token", token, "payload", payload)

	return token, nil
}

func (l *Logging) QueryStatus(_ context.Context, token string) (*protocol.WorkflowStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	status, ok := l.workflows[token]
	if !ok {
		return nil, fmt.Errorf("%s: %w", token, ErrUnknownToken)
	}

	out := *status

	return &out, nil
}

// Messages returns every message sent so far, oldest first.
func (l *Logging) Messages() []protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]protocol.Message(nil), l.messages...)
}

// Tasks returns every task created so far, oldest first.
func (l *Logging) Tasks() []protocol.Task {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]protocol.Task(nil), l.tasks...)
}

// Config points each collaborator at a service. An empty URL selects the logging stand-in.
type Config struct {
	CommunicationsURL string
	RecordsURL        string
	WorkflowsURL      string
	Token             string
	MaxRetries        uint64
}

// NewCollaborators builds the collaborator set described by cfg. Tasks live in the records service.
func NewCollaborators(logger *slog.Logger, cfg Config) (protocol.Collaborators, error) {
	fallback := NewLogging(logger)

	collaborators := protocol.Collaborators{
		Communications: fallback,
		Records:        fallback,
		Tasks:          fallback,
		Workflows:      fallback,
	}

	opts := []ClientOption{WithBearerToken(cfg.Token)}
	if cfg.MaxRetries > 0 {
		opts = append(opts, WithMaxRetries(cfg.MaxRetries))
	}

	if cfg.CommunicationsURL != "" {
		client, err := NewClient(logger, cfg.CommunicationsURL, opts...)
		if err != nil {
			return protocol.Collaborators{}, fmt.Errorf("communications: %w", err)
		}

		collaborators.Communications = NewCommunications(client)
	}

	if cfg.RecordsURL != "" {
		client, err := NewClient(logger, cfg.RecordsURL, opts...)
		if err != nil {
			return protocol.Collaborators{}, fmt.Errorf("records: %w", err)
		}

		collaborators.Records = NewRecords(client)
		collaborators.Tasks = NewTasks(client)
	}

	if cfg.WorkflowsURL != "" {
		client, err := NewClient(logger, cfg.WorkflowsURL, opts...)
		if err != nil {
			return protocol.Collaborators{}, fmt.Errorf("workflows: %w", err)
		}

		collaborators.Workflows = NewWorkflows(client)
	}

	return collaborators, nil
}
