package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func TestTriggerFor(t *testing.T) {
	for _, eventType := range DomainEventTypes() {
		trigger, ok := TriggerFor(eventType)
		assert.True(t, ok, eventType)
		assert.True(t, trigger.IsEvent(), eventType)
	}

	_, ok := TriggerFor(AutomationRunFinishedEvent)
	assert.False(t, ok)
}

func TestDomainEvent_RunContext(t *testing.T) {
	event := NewDomainEvent(DonationReceivedEvent, now)
	event.Member = map[string]any{"id": "m-1", "tier": "gold"}
	event.Data = map[string]any{"amount": 250}
	event.EntityType = "donation"
	event.EntityID = "d-9"

	trigger, rc, err := event.RunContext()
	require.NoError(t, err)

	assert.Equal(t, models.TriggerDonationReceived, trigger)
	assert.Equal(t, "m-1", rc.MemberID)
	assert.Equal(t, now, rc.Now)
	assert.Equal(t, "d-9", rc.EntityID)

	amount, ok := rc.Lookup("amount")
	assert.True(t, ok)
	assert.Equal(t, 250, amount)
}

func TestDomainEvent_Validate(t *testing.T) {
	event := NewDomainEvent("member.deleted", now)

	_, _, err := event.RunContext()
	assert.ErrorIs(t, err, ErrUnknownEventType)

	event = &DomainEvent{BaseEvent: BaseEvent{Type: MemberCreatedEvent}}
	assert.ErrorIs(t, event.Validate(), ErrInvalidEvent)
}

func TestEventTypes(t *testing.T) {
	assert.Equal(t, AutomationRunFinishedEvent, NewAutomationRunFinished(now).GetType())
	assert.Equal(t, AutomationRunSuspendedEvent, NewAutomationRunSuspended(now).GetType())

	progress := &models.OnboardingProgress{ID: "p-1", MemberID: "m-1", Status: models.OnboardingInProgress}
	update := NewOnboardingUpdate(OnboardingStepFinishedEvent, now, progress)
	assert.Equal(t, OnboardingStepFinishedEvent, update.GetType())

	data, err := json.Marshal(update)
	require.NoError(t, err)

	var decoded OnboardingUpdate
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, OnboardingStepFinishedEvent, decoded.GetType(), "type survives the wire")
	assert.Equal(t, "p-1", decoded.ProgressID)
}
