// Package models provides the core domain models for automations, runs and onboarding.
package models

import (
	"time"
)

type TriggerType string

const (
	TriggerMemberCreated     TriggerType = "member_created"
	TriggerMemberUpdated     TriggerType = "member_updated"
	TriggerDonationReceived  TriggerType = "donation_received"
	TriggerEventRegistration TriggerType = "event_registration"
	TriggerScheduled         TriggerType = "scheduled"
	TriggerManual            TriggerType = "manual"
)

// TriggerTypes lists every trigger type an automation may be defined with.
var TriggerTypes = []TriggerType{
	TriggerMemberCreated,
	TriggerMemberUpdated,
	TriggerDonationReceived,
	TriggerEventRegistration,
	TriggerScheduled,
	TriggerManual,
}

func (t TriggerType) Valid() bool {
	for _, known := range TriggerTypes {
		if t == known {
			return true
		}
	}

	return false
}

// IsEvent reports whether the trigger fires from a domain event rather than the clock.
func (t TriggerType) IsEvent() bool {
	return t != TriggerScheduled && t != TriggerManual && t.Valid()
}

type AutomationStatus string

const (
	AutomationStatusActive   AutomationStatus = "active"
	AutomationStatusPaused   AutomationStatus = "paused"
	AutomationStatusDisabled AutomationStatus = "disabled"
)

func (s AutomationStatus) Valid() bool {
	switch s {
	case AutomationStatusActive, AutomationStatusPaused, AutomationStatusDisabled:
		return true
	default:
		return false
	}
}

// RunMode controls what happens to the remaining actions after one fails.
type RunMode string

const (
	RunModeFailFast        RunMode = "fail_fast"
	RunModeContinueOnError RunMode = "continue_on_error"
)

// Automation pairs a trigger with an ordered list of actions.
type Automation struct {
	ID                string           `json:"id"                           yaml:"id"`
	Name              string           `json:"name"                         yaml:"name"                         validate:"required,min=3"`
	Description       string           `json:"description,omitempty"        yaml:"description,omitempty"`
	TriggerType       TriggerType      `json:"trigger_type"                 yaml:"trigger_type"                 validate:"required"`
	TriggerConditions map[string]any   `json:"trigger_conditions,omitempty" yaml:"trigger_conditions,omitempty"`
	Actions           []Action         `json:"actions"                      yaml:"actions"                      validate:"required,min=1,dive"`
	Status            AutomationStatus `json:"status"                       yaml:"status"`
	Mode              RunMode          `json:"mode,omitempty"               yaml:"mode,omitempty"`
	Schedule          *Schedule        `json:"schedule,omitempty"           yaml:"schedule,omitempty"`
	NextRun           *time.Time       `json:"next_run,omitempty"           yaml:"next_run,omitempty"`
	LastRunAt         *time.Time       `json:"last_run_at,omitempty"        yaml:"last_run_at,omitempty"`
	RunningUntil      *time.Time       `json:"running_until,omitempty"      yaml:"-"`
	RunCount          int64            `json:"run_count"                    yaml:"run_count"`
	CreatedBy         string           `json:"created_by,omitempty"         yaml:"created_by,omitempty"`
	CreatedAt         time.Time        `json:"created_at"                   yaml:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"                   yaml:"updated_at"`
}

// IsScheduled reports whether the automation is driven by the due-query.
func (a *Automation) IsScheduled() bool {
	return a.TriggerType == TriggerScheduled
}

// ContinueOnError reports whether a failure of the action at index i lets the run continue.
func (a *Automation) ContinueOnError(i int) bool {
	if a.Mode == RunModeContinueOnError {
		return true
	}

	if i < 0 || i >= len(a.Actions) {
		return false
	}

	return a.Actions[i].ContinueOnError
}

// IsDue reports whether a scheduled automation should run at now.
func (a *Automation) IsDue(now time.Time) bool {
	return a.Status == AutomationStatusActive &&
		a.IsScheduled() &&
		a.NextRun != nil &&
		!a.NextRun.After(now)
}

// Leased reports whether another run holds the automation at now.
func (a *Automation) Leased(now time.Time) bool {
	return a.RunningUntil != nil && a.RunningUntil.After(now)
}

// Clone returns a deep copy safe to mutate without touching the original.
func (a *Automation) Clone() *Automation {
	if a == nil {
		return nil
	}

	c := *a
	c.TriggerConditions = cloneMap(a.TriggerConditions)

	c.Actions = make([]Action, len(a.Actions))
	for i, action := range a.Actions {
		c.Actions[i] = action.Clone()
	}

	if a.Schedule != nil {
		s := *a.Schedule
		c.Schedule = &s
	}

	c.NextRun = cloneTime(a.NextRun)
	c.LastRunAt = cloneTime(a.LastRunAt)
	c.RunningUntil = cloneTime(a.RunningUntil)

	return &c
}

// AutomationPatch carries a partial update of an automation definition.
// Nil fields are left unchanged.
type AutomationPatch struct {
	Name              *string           `json:"name,omitempty"               validate:"omitempty,min=3"`
	Description       *string           `json:"description,omitempty"`
	TriggerType       *TriggerType      `json:"trigger_type,omitempty"`
	TriggerConditions map[string]any    `json:"trigger_conditions,omitempty"`
	Actions           []Action          `json:"actions,omitempty"            validate:"omitempty,min=1,dive"`
	Status            *AutomationStatus `json:"status,omitempty"`
	Mode              *RunMode          `json:"mode,omitempty"`
	Schedule          *Schedule         `json:"schedule,omitempty"`
	NextRun           *time.Time        `json:"next_run,omitempty"`
}

// Apply merges the patch into a copy of a.
func (p AutomationPatch) Apply(a *Automation) *Automation {
	out := a.Clone()

	if p.Name != nil {
		out.Name = *p.Name
	}

	if p.Description != nil {
		out.Description = *p.Description
	}

	if p.TriggerType != nil {
		out.TriggerType = *p.TriggerType
	}

	if p.TriggerConditions != nil {
		out.TriggerConditions = cloneMap(p.TriggerConditions)
	}

	if p.Actions != nil {
		out.Actions = make([]Action, len(p.Actions))
		for i, action := range p.Actions {
			out.Actions[i] = action.Clone()
		}
	}

	if p.Status != nil {
		out.Status = *p.Status
	}

	if p.Mode != nil {
		out.Mode = *p.Mode
	}

	if p.Schedule != nil {
		s := *p.Schedule
		out.Schedule = &s
	}

	if p.NextRun != nil {
		out.NextRun = cloneTime(p.NextRun)
	}

	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}

		return out
	default:
		return v
	}
}
