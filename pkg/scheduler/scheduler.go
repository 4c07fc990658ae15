// Package scheduler runs due scheduled automations. It keeps no state between
// passes: every pass asks the store what is due and lets the engine's
// conditional claim decide who runs each slot.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kindred-org/kindred/pkg/metrics"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/otelhelper"
	"github.com/kindred-org/kindred/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DueRunner executes one due automation. *engine.Engine implements it.
type DueRunner interface {
	RunDue(ctx context.Context, automation *models.Automation, now time.Time) (*models.RunOutcome, error)
}

type ResultStatus string

const (
	StatusSucceeded ResultStatus = "succeeded"
	StatusFailed    ResultStatus = "failed"
	StatusSkipped   ResultStatus = "skipped"
)

// Result is what happened to one due automation in a pass.
type Result struct {
	AutomationID string       `json:"automation_id"`
	Name         string       `json:"name"`
	Status       ResultStatus `json:"status"`
	LogID        string       `json:"log_id,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// Summary counts one pass. Skipped automations were claimed by another pass
// and are not counted as processed.
type Summary struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Results   []Result `json:"results"`
}

type Scheduler struct {
	automations persistence.AutomationRepository
	runner      DueRunner
	concurrency int
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
}

type Option func(*Scheduler)

// WithConcurrency runs up to n due automations at once. Values below 2 run them in order.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) { s.concurrency = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

func New(logger *slog.Logger, automations persistence.AutomationRepository, runner DueRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		automations: automations,
		runner:      runner,
		concurrency: 1,
		tracer:      otelhelper.NoopTracer(),
		logger:      logger.With("module", "scheduler"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ProcessDue runs every automation due at now, earliest next_run first. One
// automation failing, or panicking, never stops the others. The error is only
// set when the due query itself fails.
func (s *Scheduler) ProcessDue(ctx context.Context, now time.Time) (*Summary, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "scheduler.process_due")
	defer span.End()

	due, err := s.automations.ListDue(ctx, now)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to list due automations: %w", err)
	}

	span.SetAttributes(attribute.Int("kindred.due_count", len(due)))

	if len(due) > 0 {
		s.logger.InfoContext(ctx, "Processing due automations", "count", len(due), "now", now)
	}

	results := make([]Result, len(due))

	if s.concurrency > 1 {
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(s.concurrency)

		for i, automation := range due {
			group.Go(func() error {
				results[i] = s.processOne(groupCtx, automation, now)

				return nil
			})
		}

		_ = group.Wait()
	} else {
		for i, automation := range due {
			results[i] = s.processOne(ctx, automation, now)
		}
	}

	summary := &Summary{Results: results}

	for _, result := range results {
		switch result.Status {
		case StatusSucceeded:
			summary.Processed++
			summary.Succeeded++
		case StatusFailed:
			summary.Processed++
			summary.Failed++
		case StatusSkipped:
			summary.Skipped++
		}
	}

	s.metrics.DueResult(string(StatusSucceeded), summary.Succeeded)
	s.metrics.DueResult(string(StatusFailed), summary.Failed)
	s.metrics.DueResult(string(StatusSkipped), summary.Skipped)

	if len(due) > 0 {
		s.logger.InfoContext(ctx, "Due automations processed",
			"processed", summary.Processed,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"skipped", summary.Skipped,
		)
	}

	return summary, nil
}

func (s *Scheduler) processOne(ctx context.Context, automation *models.Automation, now time.Time) (result Result) {
	result = Result{AutomationID: automation.ID, Name: automation.Name}
	logger := s.logger.With("automation_id", automation.ID)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Due automation panicked", "panic", r)

			result.Status = StatusFailed
			result.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	outcome, err := s.runner.RunDue(ctx, automation, now)

	switch {
	case err != nil && persistence.IsClaimRejected(err):
		logger.InfoContext(ctx, "Due slot already claimed, skipping", "reason", err)

		result.Status = StatusSkipped
	case err != nil:
		logger.ErrorContext(ctx, "Due automation failed", "error", err)

		result.Status = StatusFailed
		result.Error = err.Error()

		if outcome != nil {
			result.LogID = outcome.LogID
		}
	case outcome.Success:
		result.Status = StatusSucceeded
		result.LogID = outcome.LogID
	default:
		result.Status = StatusFailed
		result.LogID = outcome.LogID
		result.Error = outcome.Error
	}

	return result
}
