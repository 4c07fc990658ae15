package web

import (
	"time"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/onboarding"
)

// CreateAutomationRequest represents the request body for defining a new automation.
type CreateAutomationRequest struct {
	Name              string                  `json:"name"                         validate:"required,min=3"`
	Description       string                  `json:"description"`
	TriggerType       models.TriggerType      `json:"trigger_type"                 validate:"required"`
	TriggerConditions map[string]any          `json:"trigger_conditions,omitempty"`
	Actions           []models.Action         `json:"actions"                      validate:"required,min=1"`
	Status            models.AutomationStatus `json:"status,omitempty"`
	Mode              models.RunMode          `json:"mode,omitempty"`
	Schedule          *models.Schedule        `json:"schedule,omitempty"`
	CreatedBy         string                  `json:"created_by,omitempty"`
}

func (r CreateAutomationRequest) automation() *models.Automation {
	return &models.Automation{
		Name:              r.Name,
		Description:       r.Description,
		TriggerType:       r.TriggerType,
		TriggerConditions: r.TriggerConditions,
		Actions:           r.Actions,
		Status:            r.Status,
		Mode:              r.Mode,
		Schedule:          r.Schedule,
		CreatedBy:         r.CreatedBy,
	}
}

// RunContextRequest carries the member and event data a run is evaluated against.
type RunContextRequest struct {
	MemberID   string         `json:"member_id,omitempty"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Member     map[string]any `json:"member,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

func (r RunContextRequest) runContext(now time.Time) *models.RunContext {
	rc := &models.RunContext{
		Now:        now,
		MemberID:   r.MemberID,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Member:     r.Member,
		Data:       r.Data,
	}

	if rc.MemberID == "" && rc.Member != nil {
		if id, ok := rc.Member["id"].(string); ok {
			rc.MemberID = id
		}
	}

	if rc.EntityID == "" && rc.MemberID != "" {
		rc.EntityType = "member"
		rc.EntityID = rc.MemberID
	}

	return rc
}

// DispatchRequest represents a domain event posted to /events.
type DispatchRequest struct {
	TriggerType models.TriggerType `json:"trigger_type" validate:"required"`

	RunContextRequest
}

// ProcessDueRequest optionally pins the time a scheduler pass evaluates against.
type ProcessDueRequest struct {
	Now *time.Time `json:"now,omitempty"`
}

// OnboardingRequest starts onboarding for a member. Plan overrides the configured steps.
type OnboardingRequest struct {
	Member models.Member      `json:"member" validate:"required"`
	Plan   *onboarding.Config `json:"plan,omitempty"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Checkers  map[string]string `json:"checkers"`
	Timestamp time.Time         `json:"timestamp"`
}
