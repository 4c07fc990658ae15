package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSchedule_NextDoesNotDrift(t *testing.T) {
	t.Parallel()

	previous := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	schedule := &models.Schedule{Interval: models.NewDuration(24 * time.Hour)}

	next, err := schedule.Next(previous)
	require.NoError(t, err)
	assert.Equal(t, previous.Add(24*time.Hour), next)
}

func TestSchedule_Cron(t *testing.T) {
	t.Parallel()

	schedule := &models.Schedule{Cron: "0 9 * * 1"}

	next, err := schedule.Next(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)) // a Friday
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC), next)
}

func TestSchedule_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		schedule *models.Schedule
		wantErr  bool
	}{
		{name: "interval", schedule: &models.Schedule{Interval: models.NewDuration(time.Hour)}},
		{name: "cron", schedule: &models.Schedule{Cron: "@daily"}},
		{name: "nil", schedule: nil, wantErr: true},
		{name: "empty", schedule: &models.Schedule{}, wantErr: true},
		{name: "both", schedule: &models.Schedule{Interval: models.NewDuration(time.Hour), Cron: "@daily"}, wantErr: true},
		{name: "negative interval", schedule: &models.Schedule{Interval: models.NewDuration(-time.Hour)}, wantErr: true},
		{name: "bad cron", schedule: &models.Schedule{Cron: "every tuesday"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.schedule.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, models.ErrInvalidSchedule)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSchedule_FirstUsesStartAt(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := &models.Schedule{Interval: models.NewDuration(time.Hour), StartAt: &start}

	first, err := schedule.First(time.Now())
	require.NoError(t, err)
	assert.Equal(t, start, first)
}

func TestAction_UnknownTypeFailsClosed(t *testing.T) {
	t.Parallel()

	var action models.Action

	err := json.Unmarshal([]byte(`{"type":"send_fax","config":{"to":"x"}}`), &action)
	require.NoError(t, err)
	assert.Equal(t, models.ActionUnknown, action.Type)
	assert.Equal(t, "send_fax", action.Name())

	encoded, err := json.Marshal(action)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"type":"send_fax"`)
}

func TestAction_DurationEncodings(t *testing.T) {
	t.Parallel()

	var action models.Action

	err := json.Unmarshal([]byte(`{"type":"wait","delay":"2h","timeout":30}`), &action)
	require.NoError(t, err)
	assert.Equal(t, models.ActionWait, action.Type)
	assert.Equal(t, 2*time.Hour, action.DelayDuration())
	assert.Equal(t, 30*time.Second, action.Timeout.Duration())

	var fromYAML models.Action

	err = yaml.Unmarshal([]byte("type: wait\ndelay: 15m\n"), &fromYAML)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, fromYAML.DelayDuration())

	err = json.Unmarshal([]byte(`{"type":"wait","delay":"soon"}`), &action)
	require.ErrorIs(t, err, models.ErrInvalidDuration)
}

func TestParseConditions(t *testing.T) {
	t.Parallel()

	conditions := models.ParseConditions(map[string]any{
		"tier":    "gold",
		"amount":  map[string]any{"op": "gte", "value": 100.0},
		"country": map[string]any{"op": "between", "value": 1.0},
		"email":   map[string]any{"op": "exists"},
		"source":  map[string]any{"value": "web"},
		"region":  map[string]any{"op": "in", "value": "north"},
	})

	require.Len(t, conditions, 6)

	byField := map[string]models.Condition{}
	for _, c := range conditions {
		byField[c.Field] = c
	}

	assert.Equal(t, models.OpEq, byField["tier"].Op)
	assert.Equal(t, models.OpGte, byField["amount"].Op)
	assert.Equal(t, models.OpUnknown, byField["country"].Op)
	assert.Equal(t, models.OpExists, byField["email"].Op)
	assert.Equal(t, models.OpUnknown, byField["source"].Op)
	assert.Equal(t, models.OpUnknown, byField["region"].Op)

	assert.Equal(t, "amount", conditions[0].Field, "conditions are sorted by field")
}

func TestValidateConditions(t *testing.T) {
	t.Parallel()

	require.NoError(t, models.ValidateConditions(nil))
	require.NoError(t, models.ValidateConditions(map[string]any{"tier": "gold"}))

	err := models.ValidateConditions(map[string]any{"tier": map[string]any{"op": "like", "value": "g%"}})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
	assert.Contains(t, err.Error(), "trigger_conditions.tier")
}

func TestRunContext_Lookup(t *testing.T) {
	t.Parallel()

	rc := &models.RunContext{
		MemberID: "m-1",
		Member:   map[string]any{"tier": "gold", "address": map[string]any{"city": "Porto"}},
		Data:     map[string]any{"amount": 250.0, "tier": "event-tier"},
	}

	tests := []struct {
		path  string
		want  any
		found bool
	}{
		{path: "member.tier", want: "gold", found: true},
		{path: "member.address.city", want: "Porto", found: true},
		{path: "data.amount", want: 250.0, found: true},
		{path: "tier", want: "event-tier", found: true},
		{path: "address.city", want: "Porto", found: true},
		{path: "member_id", want: "m-1", found: true},
		{path: "member.missing", found: false},
		{path: "member.tier.deeper", found: false},
		{path: "", found: false},
	}

	for _, tt := range tests {
		got, ok := rc.Lookup(tt.path)
		assert.Equal(t, tt.found, ok, tt.path)

		if tt.found {
			assert.Equal(t, tt.want, got, tt.path)
		}
	}
}

func TestAutomation_CloneIsDeep(t *testing.T) {
	t.Parallel()

	next := time.Now()
	original := &models.Automation{
		Name:              "Welcome",
		TriggerConditions: map[string]any{"tier": map[string]any{"op": "eq", "value": "gold"}},
		Actions:           []models.Action{{Type: models.ActionSendEmail, Config: map[string]any{"template": "welcome"}}},
		NextRun:           &next,
	}

	clone := original.Clone()
	clone.Actions[0].Config["template"] = "changed"
	clone.TriggerConditions["tier"].(map[string]any)["value"] = "silver"
	*clone.NextRun = next.Add(time.Hour)

	assert.Equal(t, "welcome", original.Actions[0].Config["template"])
	assert.Equal(t, "gold", original.TriggerConditions["tier"].(map[string]any)["value"])
	assert.Equal(t, next, *original.NextRun)
}

func TestAutomation_ContinueOnError(t *testing.T) {
	t.Parallel()

	automation := &models.Automation{
		Actions: []models.Action{{Type: models.ActionLog}, {Type: models.ActionLog, ContinueOnError: true}},
	}

	assert.False(t, automation.ContinueOnError(0))
	assert.True(t, automation.ContinueOnError(1))
	assert.False(t, automation.ContinueOnError(5))

	automation.Mode = models.RunModeContinueOnError
	assert.True(t, automation.ContinueOnError(0))
}

func TestAutomation_IsDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name       string
		automation models.Automation
		want       bool
	}{
		{"due", models.Automation{Status: models.AutomationStatusActive, TriggerType: models.TriggerScheduled, NextRun: &past}, true},
		{"exactly now", models.Automation{Status: models.AutomationStatusActive, TriggerType: models.TriggerScheduled, NextRun: &now}, true},
		{"future", models.Automation{Status: models.AutomationStatusActive, TriggerType: models.TriggerScheduled, NextRun: &future}, false},
		{"paused", models.Automation{Status: models.AutomationStatusPaused, TriggerType: models.TriggerScheduled, NextRun: &past}, false},
		{"event trigger", models.Automation{Status: models.AutomationStatusActive, TriggerType: models.TriggerMemberCreated, NextRun: &past}, false},
		{"no next run", models.Automation{Status: models.AutomationStatusActive, TriggerType: models.TriggerScheduled}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.automation.IsDue(now), tt.name)
	}
}

func TestAutomationPatch_Apply(t *testing.T) {
	t.Parallel()

	original := &models.Automation{Name: "Original", Status: models.AutomationStatusActive}
	name := "Renamed"
	status := models.AutomationStatusPaused

	updated := models.AutomationPatch{Name: &name, Status: &status}.Apply(original)

	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, models.AutomationStatusPaused, updated.Status)
	assert.Equal(t, "Original", original.Name)
}

func TestOnboardingProgress_Settle(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	newProgress := func(steps ...models.OnboardingStep) *models.OnboardingProgress {
		return &models.OnboardingProgress{Status: models.OnboardingInProgress, Steps: steps}
	}

	progress := newProgress(
		models.OnboardingStep{Name: "welcome", Status: models.StepCompleted},
		models.OnboardingStep{Name: "followup", Status: models.StepPending},
	)
	progress.Settle(now)
	assert.Equal(t, models.OnboardingInProgress, progress.Status)
	assert.Nil(t, progress.CompletedAt)

	progress = newProgress(
		models.OnboardingStep{Name: "welcome", Status: models.StepCompleted},
		models.OnboardingStep{Name: "followup", Status: models.StepFailed},
	)
	progress.Settle(now)
	assert.Equal(t, models.OnboardingCompleted, progress.Status, "non-critical failures do not fail onboarding")
	require.NotNil(t, progress.CompletedAt)

	progress = newProgress(
		models.OnboardingStep{Name: "welcome", Status: models.StepFailed, Critical: true},
		models.OnboardingStep{Name: "followup", Status: models.StepPending},
	)
	progress.Settle(now)
	assert.Equal(t, models.OnboardingFailed, progress.Status)
}

func TestMember_Fields(t *testing.T) {
	t.Parallel()

	member := models.Member{ID: "m-1", Email: "ada@example.org", Tier: "gold", Attributes: map[string]any{"chapter": "north"}}
	fields := member.Fields()

	assert.Equal(t, "m-1", fields["id"])
	assert.Equal(t, "gold", fields["tier"])
	assert.Equal(t, "north", fields["chapter"])
}
