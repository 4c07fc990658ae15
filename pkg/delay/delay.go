// Package delay is the delayed-execution facility: work handed to a Scheduler
// is delivered to a Handler once its delay has elapsed. Delivery is
// at-least-once, so handlers must be idempotent.
package delay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoHandler is returned when a task kind has no registered handler.
	ErrNoHandler = errors.New("no handler for delayed task kind")
	// ErrClosed is returned when scheduling on a stopped scheduler.
	ErrClosed = errors.New("delay scheduler is closed")
)

// Task is one unit of delayed work.
type Task struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	DueAt   time.Time       `json:"due_at"`
	Attempt int             `json:"attempt,omitempty"`
}

// Decode unmarshals the payload into v.
func (t Task) Decode(v any) error {
	err := json.Unmarshal(t.Payload, v)
	if err != nil {
		return fmt.Errorf("failed to decode %s task payload: %w", t.Kind, err)
	}

	return nil
}

// NewTask builds a task of kind carrying payload encoded as JSON.
func NewTask(kind string, payload any) (Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("failed to encode %s task payload: %w", kind, err)
	}

	return Task{Kind: kind, Payload: data}, nil
}

// Handle identifies a scheduled task.
type Handle struct {
	TaskID string    `json:"task_id"`
	DueAt  time.Time `json:"due_at"`
}

// Handler processes a due task.
type Handler func(ctx context.Context, task Task) error

// Scheduler accepts work to run after a delay.
type Scheduler interface {
	ScheduleAfter(ctx context.Context, d time.Duration, task Task) (Handle, error)
}

// prepare fills the task ID and due time.
func prepare(now time.Time, d time.Duration, task Task) (Task, error) {
	if task.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Task{}, fmt.Errorf("failed to generate task ID: %w", err)
		}

		task.ID = id.String()
	}

	if d < 0 {
		d = 0
	}

	task.DueAt = now.Add(d).UTC()

	return task, nil
}

// Mux routes tasks to handlers by kind.
type Mux struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewMux(logger *slog.Logger) *Mux {
	return &Mux{
		logger:   logger.With("module", "delay_mux"),
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for kind, replacing any previous handler.
func (m *Mux) Handle(kind string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[kind] = h
}

// Dispatch runs the handler for task.Kind.
func (m *Mux) Dispatch(ctx context.Context, task Task) error {
	m.mu.RLock()
	h, ok := m.handlers[task.Kind]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, task.Kind)
	}

	m.logger.DebugContext(ctx, "Dispatching delayed task", "task_id", task.ID, "kind", task.Kind, "attempt", task.Attempt)

	return h(ctx, task)
}
