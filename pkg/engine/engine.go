// Package engine runs automations: it claims the run lease, executes the
// actions in order, writes the run log and releases the automation with its
// updated statistics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kindred-org/kindred/pkg/delay"
	"github.com/kindred-org/kindred/pkg/eventbus"
	"github.com/kindred-org/kindred/pkg/metrics"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/otelhelper"
	"github.com/kindred-org/kindred/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultLease     = 5 * time.Minute
	DefaultClaimWait = 30 * time.Second
)

var (
	// ErrAutomationDisabled is returned when running a disabled automation.
	ErrAutomationDisabled = errors.New("automation is disabled")
	// ErrNoDelayScheduler is recorded when a run must suspend but nothing can resume it.
	ErrNoDelayScheduler = errors.New("run needs to suspend but no delay scheduler is configured")
)

// ActionRunner executes one action. *executor.Executor implements it.
type ActionRunner interface {
	ExecuteAt(ctx context.Context, index int, action models.Action, rc *models.RunContext) models.ActionResult
}

type Engine struct {
	automations persistence.AutomationRepository
	logs        persistence.LogRepository
	runner      ActionRunner
	delays      delay.Scheduler
	publisher   eventbus.EventPublisher
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
	lease       time.Duration
	claimWait   time.Duration
}

type Option func(*Engine)

// WithDelayScheduler enables suspension for delayed actions and wait steps.
func WithDelayScheduler(s delay.Scheduler) Option {
	return func(e *Engine) { e.delays = s }
}

func WithPublisher(p eventbus.EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLease sets how long a claim protects a run before another caller may take over.
func WithLease(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lease = d
		}
	}
}

// WithClaimWait bounds how long Run waits for another run to release the automation.
// Zero makes Run fail immediately with persistence.ErrRunInProgress.
func WithClaimWait(d time.Duration) Option {
	return func(e *Engine) { e.claimWait = d }
}

func New(logger *slog.Logger, store persistence.Persistence, runner ActionRunner, opts ...Option) *Engine {
	e := &Engine{
		automations: store.AutomationRepository(),
		logs:        store.LogRepository(),
		runner:      runner,
		tracer:      otelhelper.NoopTracer(),
		logger:      logger.With("module", "automation_engine"),
		now:         func() time.Time { return time.Now().UTC() },
		lease:       DefaultLease,
		claimWait:   DefaultClaimWait,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run executes the automation now. Concurrent calls for the same automation
// serialise on the run lease, each counting exactly one run. Paused automations
// may still be run explicitly; disabled ones may not.
func (e *Engine) Run(ctx context.Context, automationID string, rc *models.RunContext) (*models.RunOutcome, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.run", attribute.String(otelhelper.AutomationIDKey, automationID))
	defer span.End()

	automation, err := e.automations.GetByID(ctx, automationID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if automation.Status == models.AutomationStatusDisabled {
		return nil, fmt.Errorf("automation %s: %w", automationID, ErrAutomationDisabled)
	}

	claimed, err := e.claimWithWait(ctx, automationID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	outcome, err := e.execute(ctx, claimed, rc)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return outcome, err
}

// RunDue executes a scheduled automation for the due slot it was selected with.
// The claim is conditional on next_run still matching, so two passes that saw
// the same slot run it once; the loser gets persistence.ErrClaimConflict.
func (e *Engine) RunDue(ctx context.Context, automation *models.Automation, now time.Time) (*models.RunOutcome, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.run_due",
		attribute.String(otelhelper.AutomationIDKey, automation.ID),
		attribute.String(otelhelper.AutomationNameKey, automation.Name),
	)
	defer span.End()

	if automation.NextRun == nil {
		err := &models.ConfigurationError{Subject: "automation " + automation.ID, Reason: "scheduled automation has no next_run"}
		otelhelper.SetError(span, err)

		return nil, err
	}

	claimed, err := e.automations.Claim(ctx, automation.ID, persistence.ClaimOptions{
		Now:             now,
		LeaseUntil:      now.Add(e.lease),
		ExpectedNextRun: automation.NextRun,
	})
	if err != nil {
		e.recordClaimRejection(err)

		return nil, err
	}

	rc := &models.RunContext{TriggerType: models.TriggerScheduled, Now: now}

	outcome, err := e.execute(ctx, claimed, rc)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return outcome, err
}

func (e *Engine) claimWithWait(ctx context.Context, id string) (*models.Automation, error) {
	var claimed *models.Automation

	operation := func() error {
		now := e.now()

		automation, err := e.automations.Claim(ctx, id, persistence.ClaimOptions{Now: now, LeaseUntil: now.Add(e.lease)})
		if err == nil {
			claimed = automation

			return nil
		}

		if errors.Is(err, persistence.ErrRunInProgress) {
			e.logger.DebugContext(ctx, "Automation busy, waiting for lease", "automation_id", id)

			return err
		}

		return backoff.Permanent(err)
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}

	if e.claimWait > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 25 * time.Millisecond
		exp.MaxInterval = time.Second
		exp.MaxElapsedTime = e.claimWait
		policy = exp
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err != nil {
		e.recordClaimRejection(err)

		return nil, err
	}

	return claimed, nil
}

func (e *Engine) recordClaimRejection(err error) {
	switch {
	case errors.Is(err, persistence.ErrRunInProgress):
		e.metrics.ClaimRejected("in_progress")
	case errors.Is(err, persistence.ErrClaimConflict):
		e.metrics.ClaimRejected("conflict")
	}
}

// execute runs a claimed automation from its first action, logs the segment
// and releases the lease. Release happens even if ctx is cancelled.
func (e *Engine) execute(ctx context.Context, automation *models.Automation, rc *models.RunContext) (*models.RunOutcome, error) {
	started := e.now()

	rc = rc.Clone()
	if rc.TriggerType == "" {
		rc.TriggerType = automation.TriggerType
	}

	if rc.Now.IsZero() {
		rc.Now = started
	}

	logger := e.logger.With("automation_id", automation.ID, "trigger_type", rc.TriggerType)
	logger.InfoContext(ctx, "Starting automation run", "actions", len(automation.Actions))

	seg := e.runActions(ctx, logger, automation, rc, 0, false)

	outcome, logErr := e.finishSegment(ctx, logger, automation, rc, seg, started, "")

	released, err := e.release(ctx, automation, started)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to release automation", "error", err)

		return outcome, err
	}

	outcome.RunCount = released.RunCount
	outcome.NextRun = released.NextRun

	if logErr != nil {
		return outcome, logErr
	}

	return outcome, nil
}

func (e *Engine) release(ctx context.Context, automation *models.Automation, ranAt time.Time) (*models.Automation, error) {
	opts := persistence.ReleaseOptions{CountRun: true, RanAt: ranAt}

	if automation.IsScheduled() && automation.Schedule != nil {
		from := ranAt
		if automation.NextRun != nil {
			from = *automation.NextRun
		}

		next, err := automation.Schedule.Next(from)
		if err != nil {
			e.logger.ErrorContext(ctx, "Cannot compute next run, keeping the current one",
				"automation_id", automation.ID, "error", err)
		} else {
			opts.NextRun = &next
		}
	}

	released, err := e.automations.Release(context.WithoutCancel(ctx), automation.ID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to release automation %s: %w", automation.ID, err)
	}

	return released, nil
}

func newLogID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
