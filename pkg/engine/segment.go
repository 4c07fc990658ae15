package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kindred-org/kindred/pkg/events"
	"github.com/kindred-org/kindred/pkg/eventbus"
	"github.com/kindred-org/kindred/pkg/models"
)

// segment is the part of a run executed in one go, up to completion, the
// first fatal failure or a suspension.
type segment struct {
	outcomes     []models.ActionOutcome
	executed     int
	success      bool
	err          string
	failedAction *int

	// suspendAt is the index to resume from, or -1.
	suspendAt  int
	suspendFor time.Duration
	skipDelay  bool
}

// runActions executes actions from start in order.
//
// An action with a delay suspends the run before it executes; the continuation
// skips that delay. A successful action that asks to suspend (wait) resumes at
// the next action. A failure stops the run unless the action tolerates it
// (continue_on_error on the action) or the automation runs in
// continue_on_error mode, where the run keeps going but is marked failed.
func (e *Engine) runActions(
	ctx context.Context,
	logger *slog.Logger,
	automation *models.Automation,
	rc *models.RunContext,
	start int,
	skipDelay bool,
) segment {
	seg := segment{success: true, suspendAt: -1}

	for i := start; i < len(automation.Actions); i++ {
		action := automation.Actions[i]

		if d := action.DelayDuration(); d > 0 && !(i == start && skipDelay) {
			seg.suspendAt = i
			seg.suspendFor = d
			seg.skipDelay = true

			return seg
		}

		if err := ctx.Err(); err != nil {
			seg.fail(i, fmt.Sprintf("run cancelled before action %d: %v", i, err))
			seg.skipRest(automation, i, e.now())

			return seg
		}

		result := e.runner.ExecuteAt(ctx, i, action, rc)
		seg.executed++

		seg.outcomes = append(seg.outcomes, models.ActionOutcome{
			Index:      i,
			ActionID:   action.ID,
			Type:       action.Name(),
			OK:         result.OK,
			Error:      result.Error,
			DurationMS: result.Duration.Milliseconds(),
			At:         e.now(),
		})

		e.metrics.ObserveAction(action.Name(), result.OK, result.Duration)

		if result.OK {
			rc.RecordStep(action.ID, result.Output)

			if result.SuspendFor > 0 && i+1 < len(automation.Actions) {
				seg.suspendAt = i + 1
				seg.suspendFor = result.SuspendFor

				return seg
			}

			continue
		}

		if !automation.ContinueOnError(i) {
			seg.fail(i, result.Error)
			logger.WarnContext(ctx, "Action failed, stopping run", "action_index", i, "error", result.Error)
			seg.skipRest(automation, i+1, e.now())

			return seg
		}

		// In continue_on_error mode the run keeps going but still ends failed.
		if !action.ContinueOnError {
			seg.fail(i, result.Error)
		}

		logger.WarnContext(ctx, "Action failed, continuing", "action_index", i, "error", result.Error)
	}

	return seg
}

// fail marks the segment failed, keeping the first error.
func (s *segment) fail(index int, message string) {
	if s.success {
		s.err = message
		idx := index
		s.failedAction = &idx
	}

	s.success = false
}

// carry applies the failure of an earlier segment of the same run, which
// precedes anything this segment recorded.
func (s *segment) carry(message string, failedAction *int) {
	if message == "" {
		return
	}

	s.success = false
	s.err = message
	s.failedAction = failedAction
}

func (s *segment) skipRest(automation *models.Automation, from int, at time.Time) {
	for i := from; i < len(automation.Actions); i++ {
		s.outcomes = append(s.outcomes, models.ActionOutcome{
			Index:    i,
			ActionID: automation.Actions[i].ID,
			Type:     automation.Actions[i].Name(),
			Skipped:  true,
			At:       at,
		})
	}
}

// finishSegment schedules any continuation, appends the segment's log entry
// and publishes its event. The returned outcome is valid even with an error.
func (e *Engine) finishSegment(
	ctx context.Context,
	logger *slog.Logger,
	automation *models.Automation,
	rc *models.RunContext,
	seg segment,
	started time.Time,
	continuationOf string,
) (*models.RunOutcome, error) {
	logID := newLogID()

	outcome := &models.RunOutcome{
		AutomationID:    automation.ID,
		LogID:           logID,
		ActionsExecuted: seg.executed,
		Outcomes:        seg.outcomes,
	}

	if seg.suspendAt >= 0 {
		resumeAt, err := e.suspend(ctx, automation, rc, seg, logID)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to schedule continuation", "error", err)
			seg.fail(seg.suspendAt, err.Error())
			seg.suspendAt = -1
		} else {
			outcome.Suspended = true
			outcome.ResumeAt = &resumeAt
		}
	}

	outcome.Success = seg.success
	outcome.Error = seg.err
	outcome.FailedAction = seg.failedAction

	duration := e.now().Sub(started)

	entry := &models.AutomationLog{
		ID:              logID,
		AutomationID:    &automation.ID,
		AutomationName:  automation.Name,
		TriggerType:     rc.TriggerType,
		Success:         seg.success,
		Suspended:       outcome.Suspended,
		ActionsExecuted: seg.executed,
		Outcomes:        seg.outcomes,
		DurationMS:      duration.Milliseconds(),
		CreatedAt:       e.now(),
	}

	if rc.MemberID != "" {
		entry.MemberID = &rc.MemberID
	}

	if seg.err != "" {
		entry.Error = &seg.err
	}

	if continuationOf != "" {
		entry.ContinuationOf = &continuationOf
	}

	_, logErr := e.logs.Append(context.WithoutCancel(ctx), entry)
	if logErr != nil {
		logErr = fmt.Errorf("failed to append run log for automation %s: %w", automation.ID, logErr)
		logger.ErrorContext(ctx, "Failed to write run log", "error", logErr)
	}

	label := "failure"

	switch {
	case outcome.Suspended:
		label = "suspended"
	case seg.success:
		label = "success"
	}

	e.metrics.ObserveRun(string(rc.TriggerType), label, duration)

	logger.InfoContext(ctx, "Automation run segment finished",
		"log_id", logID,
		"success", seg.success,
		"suspended", outcome.Suspended,
		"actions_executed", seg.executed,
		"duration", duration,
	)

	e.publish(ctx, automation, rc, outcome, seg, duration, continuationOf)

	return outcome, logErr
}

func (e *Engine) publish(
	ctx context.Context,
	automation *models.Automation,
	rc *models.RunContext,
	outcome *models.RunOutcome,
	seg segment,
	duration time.Duration,
	continuationOf string,
) {
	if e.publisher == nil {
		return
	}

	var event eventbus.Event

	if outcome.Suspended {
		suspended := events.NewAutomationRunSuspended(e.now())
		suspended.AutomationID = automation.ID
		suspended.LogID = outcome.LogID
		suspended.ResumeIndex = seg.suspendAt
		suspended.ResumeAt = *outcome.ResumeAt
		event = suspended
	} else {
		finished := events.NewAutomationRunFinished(e.now())
		finished.AutomationID = automation.ID
		finished.AutomationName = automation.Name
		finished.TriggerType = rc.TriggerType
		finished.LogID = outcome.LogID
		finished.MemberID = rc.MemberID
		finished.Success = outcome.Success
		finished.Error = outcome.Error
		finished.ActionsExecuted = outcome.ActionsExecuted
		finished.ContinuationOf = continuationOf
		finished.Duration = duration
		event = finished
	}

	err := e.publisher.Publish(context.WithoutCancel(ctx), automation.ID, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish run event", "automation_id", automation.ID, "error", err)
	}
}
