package delay

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ManualScheduler queues tasks until the caller advances its clock. It makes
// delayed flows deterministic in tests and in one-shot CLI runs.
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Time
	pending []Task
}

func NewManualScheduler(now time.Time) *ManualScheduler {
	return &ManualScheduler{now: now.UTC()}
}

func (s *ManualScheduler) ScheduleAfter(_ context.Context, d time.Duration, task Task) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := prepare(s.now, d, task)
	if err != nil {
		return Handle{}, err
	}

	s.pending = append(s.pending, task)

	return Handle{TaskID: task.ID, DueAt: task.DueAt}, nil
}

// Now returns the scheduler's clock.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.now
}

// Pending returns a copy of the queued tasks ordered by due time.
func (s *ManualScheduler) Pending() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, len(s.pending))
	copy(out, s.pending)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DueAt.Before(out[j].DueAt)
	})

	return out
}

// Advance moves the clock by d and delivers every task due by then, earliest
// first. Tasks scheduled by handlers are delivered too when they fall due
// inside the window. Handler errors are collected, not retried.
func (s *ManualScheduler) Advance(ctx context.Context, d time.Duration, h Handler) []error {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()

	var errs []error

	for {
		task, ok := s.popDue()
		if !ok {
			return errs
		}

		if err := h(ctx, task); err != nil {
			errs = append(errs, err)
		}
	}
}

func (s *ManualScheduler) popDue() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := -1

	for i, task := range s.pending {
		if task.DueAt.After(s.now) {
			continue
		}

		if best == -1 || task.DueAt.Before(s.pending[best].DueAt) {
			best = i
		}
	}

	if best == -1 {
		return Task{}, false
	}

	task := s.pending[best]
	s.pending = append(s.pending[:best], s.pending[best+1:]...)

	return task, true
}
