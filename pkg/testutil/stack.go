package testutil

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kindred-org/kindred/pkg/delay"
	"github.com/kindred-org/kindred/pkg/engine"
	"github.com/kindred-org/kindred/pkg/evaluator"
	"github.com/kindred-org/kindred/pkg/executor"
	"github.com/kindred-org/kindred/pkg/integrations"
	"github.com/kindred-org/kindred/pkg/metrics"
	"github.com/kindred-org/kindred/pkg/persistence"
	"github.com/kindred-org/kindred/pkg/persistence/file"
	"github.com/kindred-org/kindred/pkg/protocol"
	"github.com/kindred-org/kindred/pkg/registry"
	"github.com/stretchr/testify/require"
)

// Stack is the engine wired to file persistence, logging collaborators and a
// manually advanced delay scheduler.
type Stack struct {
	Logger        *slog.Logger
	Store         persistence.Persistence
	Registry      *registry.Registry
	Collaborators *integrations.Logging
	Executor      *executor.Executor
	Evaluator     *evaluator.Evaluator
	Delays        *delay.ManualScheduler
	Mux           *delay.Mux
	Metrics       *metrics.Metrics
	Engine        *engine.Engine
}

// DiscardLogger drops everything below error.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// NewStack builds a Stack starting at now. Extra engine options are applied last.
func NewStack(t *testing.T, now time.Time, opts ...engine.Option) *Stack {
	t.Helper()

	logger := DiscardLogger()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	collaborators := integrations.NewLogging(logger)

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.RegisterDefaultActions(protocol.Collaborators{
		Communications: collaborators,
		Records:        collaborators,
		Tasks:          collaborators,
		Workflows:      collaborators,
	}))

	s := &Stack{
		Logger:        logger,
		Store:         store,
		Registry:      reg,
		Collaborators: collaborators,
		Executor:      executor.New(logger, reg, executor.WithDefaultTimeout(5*time.Second)),
		Evaluator:     evaluator.New(logger),
		Delays:        delay.NewManualScheduler(now),
		Mux:           delay.NewMux(logger),
		Metrics:       metrics.New(),
	}

	defaults := []engine.Option{
		engine.WithDelayScheduler(s.Delays),
		engine.WithClock(s.Delays.Now),
		engine.WithMetrics(s.Metrics),
		engine.WithClaimWait(5 * time.Second),
	}

	s.Engine = engine.New(logger, store, s.Executor, append(defaults, opts...)...)
	s.Mux.Handle(engine.ContinuationKind, s.Engine.HandleContinuation)

	return s
}

// Advance moves the delay clock and delivers due tasks through the mux.
func (s *Stack) Advance(t *testing.T, d time.Duration) {
	t.Helper()

	errs := s.Delays.Advance(t.Context(), d, s.Mux.Dispatch)
	require.Empty(t, errs)
}
