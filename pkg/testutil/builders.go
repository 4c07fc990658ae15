// Package testutil provides test data builders and a wired in-process stack.
package testutil

import (
	"time"

	"github.com/kindred-org/kindred/pkg/models"
)

// CreateTestAutomation creates an active manual automation with one log action.
func CreateTestAutomation(overrides ...func(*models.Automation)) *models.Automation {
	automation := &models.Automation{
		Name:        "Test automation",
		TriggerType: models.TriggerManual,
		Status:      models.AutomationStatusActive,
		Actions: []models.Action{
			{ID: "log", Type: models.ActionLog, Config: map[string]any{"message": "hello {{ .member_id }}"}},
		},
	}

	for _, override := range overrides {
		override(automation)
	}

	return automation
}

// WithName sets the automation name.
func WithName(name string) func(*models.Automation) {
	return func(a *models.Automation) {
		a.Name = name
	}
}

// WithTrigger sets the trigger type and conditions.
func WithTrigger(triggerType models.TriggerType, conditions map[string]any) func(*models.Automation) {
	return func(a *models.Automation) {
		a.TriggerType = triggerType
		a.TriggerConditions = conditions
	}
}

// WithInterval makes the automation scheduled every d, first due at next.
func WithInterval(d time.Duration, next time.Time) func(*models.Automation) {
	return func(a *models.Automation) {
		a.TriggerType = models.TriggerScheduled
		a.Schedule = &models.Schedule{Interval: models.NewDuration(d)}

		n := next.UTC()
		a.NextRun = &n
	}
}

// WithStatus sets the lifecycle status.
func WithStatus(status models.AutomationStatus) func(*models.Automation) {
	return func(a *models.Automation) {
		a.Status = status
	}
}

// WithMode sets the failure mode.
func WithMode(mode models.RunMode) func(*models.Automation) {
	return func(a *models.Automation) {
		a.Mode = mode
	}
}

// WithActions replaces the action list.
func WithActions(actions ...models.Action) func(*models.Automation) {
	return func(a *models.Automation) {
		a.Actions = actions
	}
}

// LogAction builds a log action.
func LogAction(id, message string) models.Action {
	return models.Action{ID: id, Type: models.ActionLog, Config: map[string]any{"message": message}}
}

// EmailAction builds a send_email action addressed to the member.
func EmailAction(id, template string) models.Action {
	return models.Action{
		ID:     id,
		Type:   models.ActionSendEmail,
		Config: map[string]any{"template": template, "to": "{{ .member.email }}"},
	}
}

// CreateTestMember returns a member with stable test values.
func CreateTestMember(overrides ...func(*models.Member)) models.Member {
	member := models.Member{
		ID:        "member-1",
		Email:     "ada@example.org",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Tier:      "gold",
	}

	for _, override := range overrides {
		override(&member)
	}

	return member
}
