package delay

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryScheduler runs tasks on in-process timers. Pending tasks are lost on restart.
type MemoryScheduler struct {
	logger   *slog.Logger
	dispatch Handler
	base     context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// NewMemoryScheduler delivers due tasks to dispatch using a context detached from callers.
func NewMemoryScheduler(logger *slog.Logger, dispatch Handler) *MemoryScheduler {
	base, cancel := context.WithCancel(context.Background())

	return &MemoryScheduler{
		logger:   logger.With("module", "delay", "backend", "memory"),
		dispatch: dispatch,
		base:     base,
		cancel:   cancel,
		timers:   make(map[string]*time.Timer),
	}
}

func (s *MemoryScheduler) ScheduleAfter(ctx context.Context, d time.Duration, task Task) (Handle, error) {
	task, err := prepare(time.Now(), d, task)
	if err != nil {
		return Handle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Handle{}, ErrClosed
	}

	s.wg.Add(1)
	s.timers[task.ID] = time.AfterFunc(time.Until(task.DueAt), func() {
		defer s.wg.Done()

		s.mu.Lock()
		delete(s.timers, task.ID)
		s.mu.Unlock()

		s.run(task)
	})

	s.logger.DebugContext(ctx, "Scheduled delayed task", "task_id", task.ID, "kind", task.Kind, "due_at", task.DueAt)

	return Handle{TaskID: task.ID, DueAt: task.DueAt}, nil
}

func (s *MemoryScheduler) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(s.base, "Delayed task panicked", "task_id", task.ID, "kind", task.Kind, "panic", r)
		}
	}()

	err := s.dispatch(s.base, task)
	if err != nil {
		s.logger.ErrorContext(s.base, "Delayed task failed", "task_id", task.ID, "kind", task.Kind, "error", err)
	}
}

// Pending returns the number of tasks still waiting for their timer.
func (s *MemoryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.timers)
}

// Close stops pending timers and waits for running tasks to finish.
func (s *MemoryScheduler) Close() error {
	s.mu.Lock()
	s.closed = true

	for id, timer := range s.timers {
		if timer.Stop() {
			s.wg.Done()
		}

		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()

	return nil
}
