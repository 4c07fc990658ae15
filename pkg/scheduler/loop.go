package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSpec runs a pass every minute.
const DefaultSpec = "@every 1m"

// Loop calls ProcessDue on a cron schedule until stopped. Overlapping passes
// are skipped rather than queued.
type Loop struct {
	scheduler *Scheduler
	spec      string
	now       func() time.Time
	logger    *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

func NewLoop(logger *slog.Logger, scheduler *Scheduler, spec string) (*Loop, error) {
	if spec == "" {
		spec = DefaultSpec
	}

	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid scheduler spec %q: %w", spec, err)
	}

	return &Loop{
		scheduler: scheduler,
		spec:      spec,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With("module", "scheduler_loop"),
	}, nil
}

// Start schedules the passes and returns immediately.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cron != nil {
		return nil
	}

	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(l.logger.Handler(), slog.LevelDebug))

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	_, err := c.AddFunc(l.spec, func() { l.tick(ctx) })
	if err != nil {
		return fmt.Errorf("failed to schedule due processing: %w", err)
	}

	c.Start()
	l.cron = c

	l.logger.InfoContext(ctx, "Scheduler loop started", "spec", l.spec)

	return nil
}

func (l *Loop) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	_, err := l.scheduler.ProcessDue(ctx, l.now())
	if err != nil {
		l.logger.ErrorContext(ctx, "Due processing pass failed", "error", err)
	}
}

// Stop waits for a running pass to finish.
func (l *Loop) Stop(ctx context.Context) {
	l.mu.Lock()
	c := l.cron
	l.cron = nil
	l.mu.Unlock()

	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}

	l.logger.InfoContext(ctx, "Scheduler loop stopped")
}
