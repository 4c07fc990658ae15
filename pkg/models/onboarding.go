package models

import (
	"time"
)

type OnboardingStatus string

const (
	// OnboardingNotStarted is implied when a member has no progress record.
	OnboardingNotStarted OnboardingStatus = "not_started"
	OnboardingInProgress OnboardingStatus = "in_progress"
	OnboardingCompleted  OnboardingStatus = "completed"
	OnboardingFailed     OnboardingStatus = "failed"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Member is the snapshot of a member record onboarding and automations run against.
type Member struct {
	ID         string         `json:"id"                   validate:"required"`
	Email      string         `json:"email"                validate:"omitempty,email"`
	FirstName  string         `json:"first_name,omitempty"`
	LastName   string         `json:"last_name,omitempty"`
	Tier       string         `json:"tier,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Fields flattens the member for template and condition lookup.
func (m Member) Fields() map[string]any {
	out := make(map[string]any, len(m.Attributes)+5)
	for k, v := range m.Attributes {
		out[k] = v
	}

	out["id"] = m.ID
	out["email"] = m.Email
	out["first_name"] = m.FirstName
	out["last_name"] = m.LastName
	out["tier"] = m.Tier

	return out
}

// OnboardingStep is one named step of a member's onboarding.
type OnboardingStep struct {
	Name      string     `json:"name"`
	Status    StepStatus `json:"status"`
	Critical  bool       `json:"critical,omitempty"`
	Offset    Duration   `json:"offset"`
	DueAt     time.Time  `json:"due_at"`
	Action    Action     `json:"action"`
	Attempts  int        `json:"attempts,omitempty"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (s OnboardingStep) Terminal() bool {
	return s.Status == StepCompleted || s.Status == StepFailed
}

// OnboardingProgress is a member's onboarding state. At most one record per
// member is in progress; finished records are kept as history.
type OnboardingProgress struct {
	ID          string           `json:"id"`
	MemberID    string           `json:"member_id"`
	Status      OnboardingStatus `json:"status"`
	Steps       []OnboardingStep `json:"steps"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Step returns a pointer to the named step, or nil.
func (p *OnboardingProgress) Step(name string) *OnboardingStep {
	for i := range p.Steps {
		if p.Steps[i].Name == name {
			return &p.Steps[i]
		}
	}

	return nil
}

// Settle recomputes the overall status from the steps.
// A failed critical step fails the workflow; all steps terminal completes it.
func (p *OnboardingProgress) Settle(now time.Time) {
	if p.Status != OnboardingInProgress {
		return
	}

	allTerminal := true

	for _, step := range p.Steps {
		if step.Status == StepFailed && step.Critical {
			p.Status = OnboardingFailed
			p.UpdatedAt = now

			return
		}

		if !step.Terminal() {
			allTerminal = false
		}
	}

	if allTerminal {
		p.Status = OnboardingCompleted
		completed := now
		p.CompletedAt = &completed
	}

	p.UpdatedAt = now
}

func (p *OnboardingProgress) Clone() *OnboardingProgress {
	if p == nil {
		return nil
	}

	c := *p
	c.Steps = make([]OnboardingStep, len(p.Steps))

	for i, step := range p.Steps {
		c.Steps[i] = step
		c.Steps[i].Action = step.Action.Clone()
	}

	c.CompletedAt = cloneTime(p.CompletedAt)

	return &c
}
