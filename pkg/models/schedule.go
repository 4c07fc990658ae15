package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidSchedule is returned when a schedule rule cannot produce run times.
	ErrInvalidSchedule = errors.New("invalid schedule configuration")

	cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// Schedule is the rule that advances next_run for scheduled automations.
// Exactly one of Interval or Cron is set.
type Schedule struct {
	// Interval is a fixed period between runs.
	Interval *Duration `json:"interval,omitempty" yaml:"interval,omitempty"`

	// Cron uses the standard 5-field format (minute hour day month weekday) or a descriptor like @daily.
	Cron string `json:"cron,omitempty" yaml:"cron,omitempty"`

	// StartAt sets the first next_run. Defaults to one period after creation.
	StartAt *time.Time `json:"start_at,omitempty" yaml:"start_at,omitempty"`
}

// Validate checks that the rule is well formed.
func (s *Schedule) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: schedule is required", ErrInvalidSchedule)
	}

	hasInterval := s.Interval != nil
	hasCron := s.Cron != ""

	switch {
	case hasInterval && hasCron:
		return fmt.Errorf("%w: set either interval or cron, not both", ErrInvalidSchedule)
	case !hasInterval && !hasCron:
		return fmt.Errorf("%w: interval or cron is required", ErrInvalidSchedule)
	case hasInterval && s.Interval.Duration() <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidSchedule)
	case hasCron:
		if _, err := cronParser.Parse(s.Cron); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
		}
	}

	return nil
}

// Next returns the run time following from. Callers pass the previous next_run,
// not the wall clock, so late processing never shifts the cadence.
func (s *Schedule) Next(from time.Time) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}

	if s.Interval != nil {
		return from.Add(s.Interval.Duration()).UTC(), nil
	}

	rule, err := cronParser.Parse(s.Cron)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	return rule.Next(from).UTC(), nil
}

// First returns the initial next_run for an automation created at now.
func (s *Schedule) First(now time.Time) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}

	if s.StartAt != nil {
		return s.StartAt.UTC(), nil
	}

	return s.Next(now)
}
