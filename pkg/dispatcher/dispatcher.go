// Package dispatcher fans a domain event out to the automations it triggers.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kindred-org/kindred/pkg/metrics"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/otelhelper"
	"github.com/kindred-org/kindred/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Matcher decides whether an automation applies. *evaluator.Evaluator implements it.
type Matcher interface {
	Matches(ctx context.Context, automation *models.Automation, rc *models.RunContext) bool
}

// Runner executes one automation. *engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, automationID string, rc *models.RunContext) (*models.RunOutcome, error)
}

// RunResult is one automation fired by a dispatch.
type RunResult struct {
	AutomationID string `json:"automation_id"`
	Name         string `json:"name"`
	LogID        string `json:"log_id,omitempty"`
	Success      bool   `json:"success"`
	Suspended    bool   `json:"suspended,omitempty"`
	Error        string `json:"error,omitempty"`
}

type Result struct {
	TriggerType models.TriggerType `json:"trigger_type"`
	Candidates  int                `json:"candidates"`
	Matched     int                `json:"matched"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	Runs        []RunResult        `json:"runs"`
}

type Dispatcher struct {
	automations persistence.AutomationRepository
	matcher     Matcher
	runner      Runner
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
}

type Option func(*Dispatcher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

func New(
	logger *slog.Logger,
	automations persistence.AutomationRepository,
	matcher Matcher,
	runner Runner,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		automations: automations,
		matcher:     matcher,
		runner:      runner,
		tracer:      otelhelper.NoopTracer(),
		logger:      logger.With("module", "dispatcher"),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch runs every active automation for triggerType whose conditions hold
// for rc. Automations are listed fresh on each call. A failing or panicking
// automation is recorded in the result and never stops the others; the error
// is only set for an invalid trigger or when the listing fails.
func (d *Dispatcher) Dispatch(ctx context.Context, triggerType models.TriggerType, rc *models.RunContext) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.dispatch",
		attribute.String(otelhelper.TriggerTypeKey, string(triggerType)))
	defer span.End()

	if !triggerType.Valid() || triggerType == models.TriggerScheduled {
		return nil, &models.ValidationError{Field: "trigger_type", Reason: fmt.Sprintf("cannot dispatch %q", triggerType)}
	}

	rc = rc.Clone()
	rc.TriggerType = triggerType

	if rc.MemberID != "" {
		span.SetAttributes(attribute.String(otelhelper.MemberIDKey, rc.MemberID))
	}

	candidates, err := d.automations.List(ctx, persistence.ListAutomationsOptions{
		TriggerType: triggerType,
		Status:      models.AutomationStatusActive,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to list automations for %s: %w", triggerType, err)
	}

	result := &Result{TriggerType: triggerType, Candidates: len(candidates), Runs: make([]RunResult, 0)}

	for _, automation := range candidates {
		if !d.matcher.Matches(ctx, automation, rc) {
			continue
		}

		result.Matched++

		run := d.run(ctx, automation, rc)
		if run.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}

		result.Runs = append(result.Runs, run)
	}

	d.metrics.Dispatched(string(triggerType))

	d.logger.InfoContext(ctx, "Dispatched trigger",
		"trigger_type", triggerType,
		"member_id", rc.MemberID,
		"candidates", result.Candidates,
		"matched", result.Matched,
		"failed", result.Failed,
	)

	return result, nil
}

func (d *Dispatcher) run(ctx context.Context, automation *models.Automation, rc *models.RunContext) (run RunResult) {
	run = RunResult{AutomationID: automation.ID, Name: automation.Name}

	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "Automation panicked during dispatch", "automation_id", automation.ID, "panic", r)

			run.Success = false
			run.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	outcome, err := d.runner.Run(ctx, automation.ID, rc)
	if outcome != nil {
		run.LogID = outcome.LogID
		run.Success = outcome.Success
		run.Suspended = outcome.Suspended
		run.Error = outcome.Error
	}

	if err != nil {
		d.logger.ErrorContext(ctx, "Automation run failed", "automation_id", automation.ID, "error", err)

		run.Success = false

		if run.Error == "" {
			run.Error = err.Error()
		}
	}

	return run
}

// Notify dispatches and swallows every failure. Domain code calls it after
// its own transaction commits, so automations can never undo the change.
func (d *Dispatcher) Notify(ctx context.Context, triggerType models.TriggerType, rc *models.RunContext) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "Dispatch panicked", "trigger_type", triggerType, "panic", r)
		}
	}()

	_, err := d.Dispatch(ctx, triggerType, rc)
	if err != nil {
		d.logger.ErrorContext(ctx, "Dispatch failed", "trigger_type", triggerType, "error", err)
	}
}
