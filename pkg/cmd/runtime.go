package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/kindred-org/kindred/pkg/config"
	"github.com/kindred-org/kindred/pkg/delay"
	"github.com/kindred-org/kindred/pkg/dispatcher"
	"github.com/kindred-org/kindred/pkg/engine"
	"github.com/kindred-org/kindred/pkg/evaluator"
	"github.com/kindred-org/kindred/pkg/eventbus"
	"github.com/kindred-org/kindred/pkg/executor"
	"github.com/kindred-org/kindred/pkg/integrations"
	"github.com/kindred-org/kindred/pkg/metrics"
	"github.com/kindred-org/kindred/pkg/onboarding"
	"github.com/kindred-org/kindred/pkg/otelhelper"
	"github.com/kindred-org/kindred/pkg/persistence"
	"github.com/kindred-org/kindred/pkg/protocol"
	"github.com/kindred-org/kindred/pkg/registry"
	"github.com/kindred-org/kindred/pkg/scheduler"
	"github.com/kindred-org/kindred/pkg/services"
	"github.com/kindred-org/kindred/pkg/web"
	"go.opentelemetry.io/otel/trace"
)

// Runtime is every component of a kindred process, wired from one Config.
type Runtime struct {
	Config        config.Config
	Logger        *slog.Logger
	Store         persistence.Persistence
	Bus           eventbus.EventBus
	Collaborators protocol.Collaborators
	Registry      *registry.Registry
	Executor      *executor.Executor
	Evaluator     *evaluator.Evaluator
	Metrics       *metrics.Metrics
	Tracer        trace.Tracer
	Mux           *delay.Mux
	Delays        delay.Scheduler
	Engine        *engine.Engine
	Dispatcher    *dispatcher.Dispatcher
	Scheduler     *scheduler.Scheduler
	Onboarding    *onboarding.Workflow
	Plan          onboarding.Config
	Automations   *services.Automation

	redis   *delay.RedisScheduler
	closers []func(context.Context) error
}

// NewRuntime opens the store, the bus and the delay backend and wires the
// components on top. Close releases them in reverse order.
func NewRuntime(ctx context.Context, logger *slog.Logger, cfg config.Config) (*Runtime, error) {
	r := &Runtime{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics.New(),
		Tracer:    otelhelper.NoopTracer(),
		Evaluator: evaluator.New(logger),
		Mux:       delay.NewMux(logger),
		Plan:      onboarding.DefaultConfig(),
	}

	err := r.open(ctx)
	if err != nil {
		if closeErr := r.Close(ctx); closeErr != nil {
			logger.ErrorContext(ctx, "Failed to release partially built runtime", "error", closeErr)
		}

		return nil, err
	}

	return r, nil
}

func (r *Runtime) open(ctx context.Context) error {
	cfg := r.Config

	if cfg.OTelEnabled {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, "kindred")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		r.Tracer = tracer
		r.closers = append(r.closers, shutdown)
	}

	if cfg.OnboardingPlan != "" {
		plan, err := onboarding.LoadConfig(cfg.OnboardingPlan)
		if err != nil {
			return err
		}

		r.Plan = plan
	}

	store, err := NewPersistence(ctx, r.Logger, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	r.Store = store
	r.closers = append(r.closers, store.Close)

	bus, err := NewEventBus(r.Logger, cfg.EventBus, cfg.KafkaBrokers, cfg.KafkaConsumerGroup)
	if err != nil {
		return err
	}

	r.Bus = bus
	r.closers = append(r.closers, func(context.Context) error { return bus.Close() })

	err = r.openDelays(ctx)
	if err != nil {
		return err
	}

	r.Collaborators, err = NewCollaborators(r.Logger, integrations.Config{
		CommunicationsURL: cfg.CommunicationsURL,
		RecordsURL:        cfg.RecordsURL,
		WorkflowsURL:      cfg.WorkflowsURL,
		Token:             cfg.IntegrationToken,
	})
	if err != nil {
		return err
	}

	r.Registry, err = NewRegistry(r.Logger, r.Collaborators)
	if err != nil {
		return err
	}

	r.wire()

	return nil
}

func (r *Runtime) openDelays(ctx context.Context) error {
	switch r.Config.DelayBackend {
	case "redis":
		client, err := delay.NewRedisClient(ctx, r.Config.RedisURL)
		if err != nil {
			return err
		}

		r.redis = delay.NewRedisScheduler(r.Logger, client, delay.RedisOptions{})
		r.Delays = r.redis
		r.closers = append(r.closers, func(context.Context) error { return client.Close() })
	default:
		memory := delay.NewMemoryScheduler(r.Logger, r.Mux.Dispatch)
		r.Delays = memory
		r.closers = append(r.closers, func(context.Context) error { return memory.Close() })
	}

	return nil
}

func (r *Runtime) wire() {
	cfg := r.Config

	r.Executor = executor.New(r.Logger, r.Registry, executor.WithDefaultTimeout(cfg.ActionTimeout))

	r.Engine = engine.New(r.Logger, r.Store, r.Executor,
		engine.WithDelayScheduler(r.Delays),
		engine.WithPublisher(r.Bus),
		engine.WithMetrics(r.Metrics),
		engine.WithTracer(r.Tracer),
		engine.WithLease(cfg.RunLease),
		engine.WithClaimWait(cfg.ClaimWait),
	)

	r.Dispatcher = dispatcher.New(r.Logger, r.Store.AutomationRepository(), r.Evaluator, r.Engine,
		dispatcher.WithMetrics(r.Metrics),
		dispatcher.WithTracer(r.Tracer),
	)

	r.Scheduler = scheduler.New(r.Logger, r.Store.AutomationRepository(), r.Engine,
		scheduler.WithConcurrency(cfg.SchedulerConcurrency),
		scheduler.WithMetrics(r.Metrics),
		scheduler.WithTracer(r.Tracer),
	)

	r.Onboarding = onboarding.New(r.Logger, r.Store.OnboardingRepository(), r.Executor,
		onboarding.WithDelayScheduler(r.Delays),
		onboarding.WithPublisher(r.Bus),
		onboarding.WithMetrics(r.Metrics),
		onboarding.WithTracer(r.Tracer),
	)

	r.Automations = services.NewAutomation(r.Logger, r.Store, r.Registry)

	r.Mux.Handle(engine.ContinuationKind, r.Engine.HandleContinuation)
	r.Mux.Handle(onboarding.StepKind, r.Onboarding.HandleStep)
}

// Handlers builds the HTTP handlers over this runtime.
func (r *Runtime) Handlers() *web.APIHandlers {
	return web.NewAPIHandlers(web.Dependencies{
		Automations: r.Automations,
		Engine:      r.Engine,
		Dispatcher:  r.Dispatcher,
		Scheduler:   r.Scheduler,
		Onboarding:  r.Onboarding,
		Plan:        r.Plan,
		Workflows:   r.Collaborators.Workflows,
		Registry:    r.Registry,
	}, validator.New(validator.WithRequiredStructEnabled()))
}

// SubscribeDomainEvents routes domain events from the bus into the dispatcher
// and starts consuming.
func (r *Runtime) SubscribeDomainEvents(ctx context.Context) error {
	err := r.Dispatcher.Subscribe(r.Bus)
	if err != nil {
		return err
	}

	return r.Bus.Subscribe(ctx)
}

// ConsumeDelays delivers delayed tasks until ctx is done. In-memory timers
// fire on their own, so for them this only waits.
func (r *Runtime) ConsumeDelays(ctx context.Context) error {
	if r.redis != nil {
		return r.redis.Run(ctx, r.Mux.Dispatch)
	}

	<-ctx.Done()

	return nil
}

// Close releases everything NewRuntime opened, newest first.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error

	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	r.closers = nil

	return errors.Join(errs...)
}
