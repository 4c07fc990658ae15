// Package executor runs a single automation action and turns every outcome,
// including panics and timeouts, into an ActionResult.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/protocol"
	"github.com/kindred-org/kindred/pkg/template"
)

const DefaultTimeout = 30 * time.Second

var (
	// ErrActionTimeout marks an action that did not finish within its timeout.
	ErrActionTimeout = errors.New("action timed out")
	// ErrActionPanicked marks an action that panicked.
	ErrActionPanicked = errors.New("action panicked")
)

// ActionFactories builds configured action instances. *registry.Registry implements it.
type ActionFactories interface {
	CreateAction(ctx context.Context, actionType models.ActionType, config map[string]any) (protocol.Action, error)
}

type Executor struct {
	factories      ActionFactories
	logger         *slog.Logger
	defaultTimeout time.Duration
}

type Option func(*Executor)

// WithDefaultTimeout sets the timeout for actions that do not define their own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

func New(logger *slog.Logger, factories ActionFactories, opts ...Option) *Executor {
	e := &Executor{
		factories:      factories,
		logger:         logger.With("module", "action_executor"),
		defaultTimeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute renders the action's configuration against rc, builds the action and
// runs it under its timeout. It never panics and never returns an error: the
// result carries the failure. Unknown action types fail with a ConfigurationError.
func (e *Executor) Execute(ctx context.Context, action models.Action, rc *models.RunContext) models.ActionResult {
	return e.ExecuteAt(ctx, -1, action, rc)
}

// ExecuteAt is Execute for the action at position index of an automation.
func (e *Executor) ExecuteAt(ctx context.Context, index int, action models.Action, rc *models.RunContext) models.ActionResult {
	started := time.Now()

	result := e.execute(ctx, index, action, rc)
	result.Duration = time.Since(started)

	return result
}

func (e *Executor) execute(ctx context.Context, index int, action models.Action, rc *models.RunContext) models.ActionResult {
	logger := e.logger.With("action_type", action.Name(), "action_id", action.ID, "action_index", index)

	if !action.Type.Known() {
		err := &models.ConfigurationError{
			Subject: "action",
			Reason:  fmt.Sprintf("unknown action type '%s'", action.Name()),
		}

		logger.WarnContext(ctx, "Refusing to execute action", "error", err)

		return models.Failed(err)
	}

	config, err := template.RenderConfig(action.Config, rc)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to render action config", "error", err)

		return e.failed(index, action, fmt.Errorf("failed to render config: %w", err))
	}

	instance, err := e.factories.CreateAction(ctx, action.Type, config)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to create action", "error", err)

		if models.IsConfigurationError(err) {
			return models.Failed(err)
		}

		return e.failed(index, action, err)
	}

	timeout := e.defaultTimeout
	if action.Timeout != nil && action.Timeout.Duration() > 0 {
		timeout = action.Timeout.Duration()
	}

	logger.DebugContext(ctx, "Executing action", "timeout", timeout)

	out, err := e.run(ctx, instance, rc, logger, timeout)
	if err != nil {
		logger.ErrorContext(ctx, "Action failed", "error", err)

		return e.failed(index, action, err)
	}

	logger.InfoContext(ctx, "Action completed successfully")

	result := models.Succeeded(out.Data)
	result.SuspendFor = out.SuspendFor

	return result
}

type outcome struct {
	result protocol.Result
	err    error
}

// run executes the action in its own goroutine so a timeout returns even when
// the action ignores its context.
func (e *Executor) run(
	ctx context.Context,
	instance protocol.Action,
	rc *models.RunContext,
	logger *slog.Logger,
	timeout time.Duration,
) (protocol.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(ctx, "Action panicked", "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("%w: %v", ErrActionPanicked, r)}
			}
		}()

		result, err := instance.Execute(ctx, rc.Clone(), logger)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return protocol.Result{}, fmt.Errorf("%w after %s: %w", ErrActionTimeout, timeout, o.err)
		}

		return o.result, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return protocol.Result{}, fmt.Errorf("%w after %s", ErrActionTimeout, timeout)
		}

		return protocol.Result{}, fmt.Errorf("action cancelled: %w", ctx.Err())
	}
}

func (e *Executor) failed(index int, action models.Action, err error) models.ActionResult {
	return models.Failed(&models.ActionExecutionError{
		ActionType: action.Name(),
		Index:      index,
		Err:        err,
	})
}
