package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kindred-org/kindred/pkg/delay"
	"github.com/kindred-org/kindred/pkg/eventbus"
	"github.com/kindred-org/kindred/pkg/events"
	"github.com/kindred-org/kindred/pkg/metrics"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/otelhelper"
	"github.com/kindred-org/kindred/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StepKind is the delay task kind for scheduled onboarding steps.
const StepKind = "onboarding.step"

// ErrNoDelayScheduler is recorded on later steps when nothing can run them.
var ErrNoDelayScheduler = errors.New("onboarding step needs a delay scheduler")

var validate = validator.New(validator.WithRequiredStructEnabled())

// ActionRunner executes one action. *executor.Executor implements it.
type ActionRunner interface {
	Execute(ctx context.Context, action models.Action, rc *models.RunContext) models.ActionResult
}

// StepTask is the delay task payload of a scheduled step.
type StepTask struct {
	ProgressID string        `json:"progress_id"`
	Step       string        `json:"step"`
	Member     models.Member `json:"member"`
}

type Workflow struct {
	progress  persistence.OnboardingRepository
	runner    ActionRunner
	delays    delay.Scheduler
	publisher eventbus.EventPublisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Workflow)

func WithDelayScheduler(s delay.Scheduler) Option {
	return func(w *Workflow) { w.delays = s }
}

func WithPublisher(p eventbus.EventPublisher) Option {
	return func(w *Workflow) { w.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(w *Workflow) { w.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

func New(logger *slog.Logger, progress persistence.OnboardingRepository, runner ActionRunner, opts ...Option) *Workflow {
	w := &Workflow{
		progress: progress,
		runner:   runner,
		tracer:   otelhelper.NoopTracer(),
		logger:   logger.With("module", "onboarding"),
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// ExecuteOnboarding starts onboarding for member. Steps with a zero offset run
// before it returns; every other step is scheduled at started_at + offset.
// A member with onboarding in progress gets persistence.ErrOnboardingActive.
func (w *Workflow) ExecuteOnboarding(ctx context.Context, member models.Member, cfg Config) (*models.OnboardingProgress, error) {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "onboarding.execute", attribute.String(otelhelper.MemberIDKey, member.ID))
	defer span.End()

	if err := validate.Struct(member); err != nil {
		return nil, &models.ValidationError{Field: "member", Reason: err.Error()}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	progress, err := w.newProgress(member, cfg)
	if err != nil {
		return nil, err
	}

	err = w.progress.Start(ctx, progress)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.OnboardingIDKey, progress.ID))

	logger := w.logger.With("progress_id", progress.ID, "member_id", member.ID)
	logger.InfoContext(ctx, "Onboarding started", "steps", len(progress.Steps))

	w.publish(ctx, events.NewOnboardingUpdate(events.OnboardingStartedEvent, w.now(), progress))

	for _, step := range progress.Steps {
		if step.Offset > 0 {
			continue
		}

		_, err := w.runStep(ctx, progress.ID, step.Name, member)
		if err != nil {
			otelhelper.SetError(span, err)
			w.abandon(ctx, logger, progress.ID, err)

			return nil, err
		}
	}

	current, err := w.progress.GetByID(ctx, progress.ID)
	if err != nil {
		w.abandon(ctx, logger, progress.ID, err)

		return nil, err
	}

	if current.Status != models.OnboardingInProgress {
		return current, nil
	}

	for _, step := range current.Steps {
		if step.Offset == 0 || step.Terminal() {
			continue
		}

		err := w.schedule(ctx, current, step, member)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to schedule onboarding step", "step", step.Name, "error", err)

			_, err = w.recordStep(ctx, current.ID, step.Name, models.ActionResult{Error: err.Error(), Err: err})
			if err != nil {
				w.abandon(ctx, logger, current.ID, err)

				return nil, err
			}
		}
	}

	return w.progress.GetByID(ctx, progress.ID)
}

// abandon marks an onboarding that could not be started properly as failed, so
// the member is not locked out by an in-progress record nothing will advance.
// It is best effort: the storage that just failed may fail again.
func (w *Workflow) abandon(ctx context.Context, logger *slog.Logger, progressID string, cause error) {
	progress, err := w.progress.Mutate(context.WithoutCancel(ctx), progressID, func(p *models.OnboardingProgress) error {
		if p.Status == models.OnboardingInProgress {
			p.Status = models.OnboardingFailed
			p.UpdatedAt = w.now()
		}

		return nil
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to mark onboarding as failed", "cause", cause, "error", err)

		return
	}

	logger.WarnContext(ctx, "Onboarding abandoned", "error", cause)
	w.metrics.OnboardingDone(string(progress.Status))
	w.publish(ctx, events.NewOnboardingUpdate(events.OnboardingFinishedEvent, w.now(), progress))
}

func (w *Workflow) newProgress(member models.Member, cfg Config) (*models.OnboardingProgress, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate onboarding ID: %w", err)
	}

	started := w.now()

	progress := &models.OnboardingProgress{
		ID:        id.String(),
		MemberID:  member.ID,
		Status:    models.OnboardingInProgress,
		Steps:     make([]models.OnboardingStep, len(cfg.Steps)),
		StartedAt: started,
		UpdatedAt: started,
	}

	for i, step := range cfg.Steps {
		progress.Steps[i] = models.OnboardingStep{
			Name:      step.Name,
			Status:    models.StepPending,
			Critical:  step.Critical,
			Offset:    step.Offset,
			DueAt:     started.Add(step.Offset.Duration()),
			Action:    step.Action.Clone(),
			UpdatedAt: started,
		}
	}

	return progress, nil
}

func (w *Workflow) schedule(ctx context.Context, progress *models.OnboardingProgress, step models.OnboardingStep, member models.Member) error {
	if w.delays == nil {
		return ErrNoDelayScheduler
	}

	task, err := delay.NewTask(StepKind, StepTask{ProgressID: progress.ID, Step: step.Name, Member: member})
	if err != nil {
		return err
	}

	// DueAt is anchored at started_at.
	wait := step.DueAt.Sub(w.now())
	if wait < 0 {
		wait = 0
	}

	_, err = w.delays.ScheduleAfter(ctx, wait, task)
	if err != nil {
		return fmt.Errorf("failed to schedule step %s: %w", step.Name, err)
	}

	return nil
}

// HandleStep is the delay.Handler for StepKind tasks. Redelivered steps that
// already finished are skipped.
func (w *Workflow) HandleStep(ctx context.Context, task delay.Task) error {
	var payload StepTask

	err := task.Decode(&payload)
	if err != nil {
		return err
	}

	_, err = w.runStep(ctx, payload.ProgressID, payload.Step, payload.Member)
	if persistence.IsOnboardingNotFound(err) {
		w.logger.WarnContext(ctx, "Dropping step of unknown onboarding", "progress_id", payload.ProgressID, "step", payload.Step)

		return nil
	}

	return err
}

// runStep executes a pending step and records its result. It returns false
// when the step was skipped.
func (w *Workflow) runStep(ctx context.Context, progressID, stepName string, member models.Member) (bool, error) {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "onboarding.step",
		attribute.String(otelhelper.OnboardingIDKey, progressID),
		attribute.String(otelhelper.StepNameKey, stepName),
	)
	defer span.End()

	progress, err := w.progress.GetByID(ctx, progressID)
	if err != nil {
		return false, err
	}

	step := progress.Step(stepName)

	switch {
	case step == nil:
		w.logger.WarnContext(ctx, "Unknown onboarding step", "progress_id", progressID, "step", stepName)

		return false, nil
	case step.Terminal(), progress.Status != models.OnboardingInProgress:
		w.logger.DebugContext(ctx, "Skipping onboarding step", "progress_id", progressID, "step", stepName, "step_status", step.Status)

		return false, nil
	}

	rc := &models.RunContext{
		TriggerType: models.TriggerMemberCreated,
		Now:         w.now(),
		MemberID:    member.ID,
		EntityType:  "member",
		EntityID:    member.ID,
		Member:      member.Fields(),
		Data:        map[string]any{"onboarding_id": progressID, "step": stepName},
	}

	result := w.runner.Execute(ctx, step.Action, rc)
	if !result.OK {
		otelhelper.SetError(span, result.Err)
	}

	return w.recordStep(ctx, progressID, stepName, result)
}

func (w *Workflow) recordStep(ctx context.Context, progressID, stepName string, result models.ActionResult) (bool, error) {
	var (
		before  models.OnboardingStatus
		skipped bool
	)

	progress, err := w.progress.Mutate(ctx, progressID, func(p *models.OnboardingProgress) error {
		before = p.Status

		step := p.Step(stepName)
		if step == nil || step.Terminal() {
			skipped = true

			return nil
		}

		now := w.now()
		step.Attempts++
		step.UpdatedAt = now

		if result.OK {
			step.Status = models.StepCompleted
			step.Error = ""
		} else {
			step.Status = models.StepFailed
			step.Error = result.Error
		}

		p.Settle(now)

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record onboarding step %s: %w", stepName, err)
	}

	if skipped {
		return false, nil
	}

	step := progress.Step(stepName)
	logger := w.logger.With("progress_id", progressID, "member_id", progress.MemberID, "step", stepName)

	if result.OK {
		logger.InfoContext(ctx, "Onboarding step completed")
	} else {
		logger.WarnContext(ctx, "Onboarding step failed", "critical", step.Critical, "error", result.Error)
	}

	w.metrics.OnboardingStep(stepName, string(step.Status))

	update := events.NewOnboardingUpdate(events.OnboardingStepFinishedEvent, w.now(), progress)
	update.Step = stepName
	update.StepStatus = step.Status
	update.StepError = step.Error
	w.publish(ctx, update)

	if before == models.OnboardingInProgress && progress.Status != models.OnboardingInProgress {
		logger.InfoContext(ctx, "Onboarding finished", "status", progress.Status)
		w.metrics.OnboardingDone(string(progress.Status))
		w.publish(ctx, events.NewOnboardingUpdate(events.OnboardingFinishedEvent, w.now(), progress))
	}

	return true, nil
}

func (w *Workflow) publish(ctx context.Context, event *events.OnboardingUpdate) {
	if w.publisher == nil {
		return
	}

	err := w.publisher.Publish(context.WithoutCancel(ctx), event.MemberID, event)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to publish onboarding event", "event_type", event.Type, "error", err)
	}
}

// GetOnboardingProgress returns the member's latest onboarding record, or
// persistence.ErrOnboardingNotFound when onboarding never started.
func (w *Workflow) GetOnboardingProgress(ctx context.Context, memberID string) (*models.OnboardingProgress, error) {
	return w.progress.LatestByMember(ctx, memberID)
}

// History returns every onboarding record of the member, newest first.
func (w *Workflow) History(ctx context.Context, memberID string) ([]*models.OnboardingProgress, error) {
	return w.progress.ListByMember(ctx, memberID)
}
