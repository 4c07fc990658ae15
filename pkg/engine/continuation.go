package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kindred-org/kindred/pkg/delay"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/otelhelper"
	"github.com/kindred-org/kindred/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// ContinuationKind is the delay task kind the engine resumes runs from.
const ContinuationKind = "automation.continue"

// ErrContinuationSkipped is returned by Resume when the run can no longer continue.
var ErrContinuationSkipped = errors.New("continuation skipped")

// Continuation is the delay task payload for a suspended run.
type Continuation struct {
	AutomationID string             `json:"automation_id"`
	ParentLogID  string             `json:"parent_log_id"`
	StartIndex   int                `json:"start_index"`
	SkipDelay    bool               `json:"skip_delay"`
	// Error and FailedAction carry a tolerated failure of an earlier segment.
	Error        string             `json:"error,omitempty"`
	FailedAction *int               `json:"failed_action,omitempty"`
	Context      *models.RunContext `json:"context"`
}

func (e *Engine) suspend(
	ctx context.Context,
	automation *models.Automation,
	rc *models.RunContext,
	seg segment,
	logID string,
) (time.Time, error) {
	if e.delays == nil {
		return time.Time{}, ErrNoDelayScheduler
	}

	task, err := delay.NewTask(ContinuationKind, Continuation{
		AutomationID: automation.ID,
		ParentLogID:  logID,
		StartIndex:   seg.suspendAt,
		SkipDelay:    seg.skipDelay,
		Error:        seg.err,
		FailedAction: seg.failedAction,
		Context:      rc,
	})
	if err != nil {
		return time.Time{}, err
	}

	handle, err := e.delays.ScheduleAfter(ctx, seg.suspendFor, task)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to schedule continuation: %w", err)
	}

	return handle.DueAt, nil
}

// Resume continues a suspended run. It writes its own log entry linked to the
// previous segment and leaves run_count and next_run alone. Continuations of
// deleted or disabled automations, or of definitions that no longer have the
// action, are skipped with ErrContinuationSkipped.
func (e *Engine) Resume(ctx context.Context, c Continuation) (*models.RunOutcome, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.resume",
		attribute.String(otelhelper.AutomationIDKey, c.AutomationID),
		attribute.String(otelhelper.LogIDKey, c.ParentLogID),
		attribute.Int(otelhelper.ActionIndexKey, c.StartIndex),
	)
	defer span.End()

	logger := e.logger.With("automation_id", c.AutomationID, "continuation_of", c.ParentLogID)

	automation, err := e.automations.GetByID(ctx, c.AutomationID)
	if err != nil {
		if persistence.IsAutomationNotFound(err) {
			return nil, fmt.Errorf("%w: automation %s was deleted", ErrContinuationSkipped, c.AutomationID)
		}

		otelhelper.SetError(span, err)

		return nil, err
	}

	if automation.Status == models.AutomationStatusDisabled {
		return nil, fmt.Errorf("%w: automation %s is disabled", ErrContinuationSkipped, c.AutomationID)
	}

	if c.StartIndex < 0 || c.StartIndex >= len(automation.Actions) {
		return nil, fmt.Errorf("%w: automation %s has no action %d", ErrContinuationSkipped, c.AutomationID, c.StartIndex)
	}

	started := e.now()

	rc := c.Context.Clone()
	rc.Now = started

	if rc.TriggerType == "" {
		rc.TriggerType = automation.TriggerType
	}

	logger.InfoContext(ctx, "Resuming automation run", "start_index", c.StartIndex)

	seg := e.runActions(ctx, logger, automation, rc, c.StartIndex, c.SkipDelay)
	seg.carry(c.Error, c.FailedAction)

	outcome, err := e.finishSegment(ctx, logger, automation, rc, seg, started, c.ParentLogID)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return outcome, err
}

// HandleContinuation is the delay.Handler for ContinuationKind tasks.
func (e *Engine) HandleContinuation(ctx context.Context, task delay.Task) error {
	var c Continuation

	err := task.Decode(&c)
	if err != nil {
		return err
	}

	_, err = e.Resume(ctx, c)
	if errors.Is(err, ErrContinuationSkipped) {
		e.logger.WarnContext(ctx, "Skipping continuation", "task_id", task.ID, "reason", err)

		return nil
	}

	return err
}
