package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/persistence"
)

// ActionValidator checks an action's config. *registry.Registry implements it.
type ActionValidator interface {
	Validate(actionType models.ActionType, config map[string]any) error
}

// Automation manages automation definitions.
type Automation struct {
	persistence persistence.Persistence
	actions     ActionValidator
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

type AutomationOption func(*Automation)

func WithClock(now func() time.Time) AutomationOption {
	return func(a *Automation) { a.now = now }
}

// NewAutomation creates a new automation service.
func NewAutomation(logger *slog.Logger, persistence persistence.Persistence, actions ActionValidator, opts ...AutomationOption) *Automation {
	a := &Automation{
		persistence: persistence,
		actions:     actions,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "automation_service"),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// HealthCheck checks the health of the persistence layer.
func (a *Automation) HealthCheck(ctx context.Context) (string, bool) {
	if a.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := a.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListAutomationsRequest filters List. Empty fields match everything.
type ListAutomationsRequest struct {
	TriggerType string
	Status      string
}

func (a *Automation) List(ctx context.Context, req ListAutomationsRequest) ([]*models.Automation, error) {
	opts := persistence.ListAutomationsOptions{
		TriggerType: models.TriggerType(req.TriggerType),
		Status:      models.AutomationStatus(req.Status),
	}

	if opts.TriggerType != "" && !opts.TriggerType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTrigger, req.TriggerType)
	}

	if opts.Status != "" && !opts.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, req.Status)
	}

	automations, err := a.persistence.AutomationRepository().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}

	return automations, nil
}

func (a *Automation) Get(ctx context.Context, id string) (*models.Automation, error) {
	return a.persistence.AutomationRepository().GetByID(ctx, id)
}

// Create validates and stores a new definition. Status defaults to active and
// mode to fail_fast; scheduled automations get their first next_run.
func (a *Automation) Create(ctx context.Context, automation *models.Automation) (*models.Automation, error) {
	if automation == nil {
		return nil, ErrAutomationNil
	}

	created := automation.Clone()
	created.RunCount = 0
	created.LastRunAt = nil
	created.RunningUntil = nil

	if created.Status == "" {
		created.Status = models.AutomationStatusActive
	}

	if created.Mode == "" {
		created.Mode = models.RunModeFailFast
	}

	if err := a.Validate(created); err != nil {
		return nil, err
	}

	if created.IsScheduled() && created.NextRun == nil {
		first, err := created.Schedule.First(a.now())
		if err != nil {
			return nil, err
		}

		created.NextRun = &first
	}

	err := a.persistence.AutomationRepository().Create(ctx, created)
	if err != nil {
		return nil, fmt.Errorf("failed to create automation: %w", err)
	}

	a.logger.InfoContext(ctx, "Automation created", "automation_id", created.ID, "trigger_type", created.TriggerType)

	return created, nil
}

// Update applies a partial update. Changing the schedule without an explicit
// next_run recomputes it from now.
func (a *Automation) Update(ctx context.Context, id string, patch models.AutomationPatch) (*models.Automation, error) {
	if err := a.validate.Struct(patch); err != nil {
		return nil, &models.ValidationError{Field: "patch", Reason: err.Error()}
	}

	existing, err := a.persistence.AutomationRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := patch.Apply(existing)

	if err := a.Validate(merged); err != nil {
		return nil, err
	}

	rescheduled := patch.Schedule != nil || (patch.TriggerType != nil && *patch.TriggerType != existing.TriggerType)
	if merged.IsScheduled() && patch.NextRun == nil && (rescheduled || merged.NextRun == nil) {
		first, err := merged.Schedule.First(a.now())
		if err != nil {
			return nil, err
		}

		patch.NextRun = &first
	}

	updated, err := a.persistence.AutomationRepository().Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update automation %s: %w", id, err)
	}

	a.logger.InfoContext(ctx, "Automation updated", "automation_id", id)

	return updated, nil
}

// Delete removes the definition. Its log entries are kept.
func (a *Automation) Delete(ctx context.Context, id string) error {
	err := a.persistence.AutomationRepository().Delete(ctx, id)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "Automation deleted", "automation_id", id)

	return nil
}

// SetStatus moves the automation to status. Reactivating a scheduled
// automation keeps its next_run, so a missed slot runs once on the next pass.
func (a *Automation) SetStatus(ctx context.Context, id string, status models.AutomationStatus) (*models.Automation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	existing, err := a.persistence.AutomationRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if existing.Status == status {
		return nil, &ServiceError{Op: "SetStatus", Code: "status_unchanged", Message: fmt.Sprintf("automation is already %s", status), Err: ErrAlreadyInStatus}
	}

	return a.persistence.AutomationRepository().Update(ctx, id, models.AutomationPatch{Status: &status})
}

func (a *Automation) Pause(ctx context.Context, id string) (*models.Automation, error) {
	return a.SetStatus(ctx, id, models.AutomationStatusPaused)
}

func (a *Automation) Resume(ctx context.Context, id string) (*models.Automation, error) {
	return a.SetStatus(ctx, id, models.AutomationStatusActive)
}

func (a *Automation) Disable(ctx context.Context, id string) (*models.Automation, error) {
	return a.SetStatus(ctx, id, models.AutomationStatusDisabled)
}

// Logs lists run log entries of one automation, newest first.
func (a *Automation) Logs(ctx context.Context, id string, limit int) ([]*models.AutomationLog, error) {
	if _, err := a.persistence.AutomationRepository().GetByID(ctx, id); err != nil {
		return nil, err
	}

	return a.persistence.LogRepository().List(ctx, persistence.LogFilter{AutomationID: &id, Limit: limit})
}

// Stats aggregates the run log of one automation, or of all when id is nil.
func (a *Automation) Stats(ctx context.Context, id *string) (*models.RunStats, error) {
	if id != nil {
		if _, err := a.persistence.AutomationRepository().GetByID(ctx, *id); err != nil {
			return nil, err
		}
	}

	return a.persistence.LogRepository().Stats(ctx, persistence.LogFilter{AutomationID: id})
}

// Validate checks a complete definition.
func (a *Automation) Validate(automation *models.Automation) error {
	if err := a.validate.Struct(automation); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			return &models.ValidationError{Field: invalid[0].Namespace(), Reason: invalid[0].Error()}
		}

		return &models.ValidationError{Reason: err.Error()}
	}

	if !automation.TriggerType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTrigger, automation.TriggerType)
	}

	if !automation.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, automation.Status)
	}

	if automation.Mode != "" && automation.Mode != models.RunModeFailFast && automation.Mode != models.RunModeContinueOnError {
		return fmt.Errorf("%w: %q", ErrInvalidMode, automation.Mode)
	}

	if err := models.ValidateConditions(automation.TriggerConditions); err != nil {
		return err
	}

	switch {
	case automation.IsScheduled() && automation.Schedule == nil:
		return ErrScheduleRequired
	case !automation.IsScheduled() && automation.Schedule != nil:
		return ErrScheduleForbidden
	case automation.IsScheduled():
		if err := automation.Schedule.Validate(); err != nil {
			return err
		}
	}

	for i, action := range automation.Actions {
		field := fmt.Sprintf("actions[%d]", i)

		if !action.Type.Known() {
			return &models.ValidationError{Field: field + ".type", Reason: fmt.Sprintf("unknown action type %q", action.Name())}
		}

		if action.DelayDuration() < 0 {
			return &models.ValidationError{Field: field + ".delay", Reason: "must not be negative"}
		}

		if a.actions == nil {
			continue
		}

		if err := a.actions.Validate(action.Type, action.Config); err != nil {
			return &models.ValidationError{Field: field + ".config", Reason: err.Error()}
		}
	}

	return nil
}
