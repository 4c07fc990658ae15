// Package events defines the events the engine publishes and the domain events it consumes.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kindred-org/kindred/pkg/models"
)

type EventType string

// Topics.
const (
	Topic       = "kindred.events"        // run and onboarding lifecycle
	DomainTopic = "kindred.domain-events" // member/donation/event registration ingress
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Automation run lifecycle.
	AutomationRunFinishedEvent  EventType = "automation.run.finished"
	AutomationRunSuspendedEvent EventType = "automation.run.suspended"

	// Onboarding lifecycle.
	OnboardingStartedEvent      EventType = "onboarding.started"
	OnboardingStepFinishedEvent EventType = "onboarding.step.finished"
	OnboardingFinishedEvent     EventType = "onboarding.finished"

	// Domain events published by the membership application.
	MemberCreatedEvent     EventType = "member.created"
	MemberUpdatedEvent     EventType = "member.updated"
	DonationReceivedEvent  EventType = "donation.received"
	EventRegistrationEvent EventType = "event.registration"
)

var domainTriggers = map[EventType]models.TriggerType{
	MemberCreatedEvent:     models.TriggerMemberCreated,
	MemberUpdatedEvent:     models.TriggerMemberUpdated,
	DonationReceivedEvent:  models.TriggerDonationReceived,
	EventRegistrationEvent: models.TriggerEventRegistration,
}

// DomainEventTypes lists the event types mapped to automation triggers.
func DomainEventTypes() []EventType {
	return []EventType{MemberCreatedEvent, MemberUpdatedEvent, DonationReceivedEvent, EventRegistrationEvent}
}

// TriggerFor maps a domain event type to the trigger type it fires.
func TriggerFor(eventType EventType) (models.TriggerType, bool) {
	trigger, ok := domainTriggers[eventType]

	return trigger, ok
}

var (
	ErrInvalidEvent     = errors.New("invalid event")
	ErrUnknownEventType = errors.New("unknown domain event type")
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func newBase(eventType EventType, now time.Time) BaseEvent {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	return BaseEvent{ID: id.String(), Type: eventType, Timestamp: now.UTC()}
}

// AutomationRunFinished is published once per run segment after its log entry is written.
type AutomationRunFinished struct {
	BaseEvent

	AutomationID    string             `json:"automation_id"`
	AutomationName  string             `json:"automation_name"`
	TriggerType     models.TriggerType `json:"trigger_type"`
	LogID           string             `json:"log_id"`
	MemberID        string             `json:"member_id,omitempty"`
	Success         bool               `json:"success"`
	Error           string             `json:"error,omitempty"`
	ActionsExecuted int                `json:"actions_executed"`
	ContinuationOf  string             `json:"continuation_of,omitempty"`
	Duration        time.Duration      `json:"duration"`
}

func (AutomationRunFinished) GetType() EventType {
	return AutomationRunFinishedEvent
}

func NewAutomationRunFinished(now time.Time) *AutomationRunFinished {
	return &AutomationRunFinished{BaseEvent: newBase(AutomationRunFinishedEvent, now)}
}

// AutomationRunSuspended is published when a run pauses for a delay or wait action.
type AutomationRunSuspended struct {
	BaseEvent

	AutomationID string    `json:"automation_id"`
	LogID        string    `json:"log_id"`
	ResumeIndex  int       `json:"resume_index"`
	ResumeAt     time.Time `json:"resume_at"`
}

func (AutomationRunSuspended) GetType() EventType {
	return AutomationRunSuspendedEvent
}

func NewAutomationRunSuspended(now time.Time) *AutomationRunSuspended {
	return &AutomationRunSuspended{BaseEvent: newBase(AutomationRunSuspendedEvent, now)}
}

// OnboardingUpdate covers the onboarding lifecycle. Step is empty for started and finished events.
type OnboardingUpdate struct {
	BaseEvent

	ProgressID string                  `json:"progress_id"`
	MemberID   string                  `json:"member_id"`
	Status     models.OnboardingStatus `json:"status"`
	Step       string                  `json:"step,omitempty"`
	StepStatus models.StepStatus       `json:"step_status,omitempty"`
	StepError  string                  `json:"step_error,omitempty"`
}

func (o OnboardingUpdate) GetType() EventType {
	return o.Type
}

func NewOnboardingUpdate(eventType EventType, now time.Time, progress *models.OnboardingProgress) *OnboardingUpdate {
	return &OnboardingUpdate{
		BaseEvent:  newBase(eventType, now),
		ProgressID: progress.ID,
		MemberID:   progress.MemberID,
		Status:     progress.Status,
	}
}

// DomainEvent is a change in the membership application that may fire automations.
type DomainEvent struct {
	BaseEvent

	MemberID   string         `json:"member_id,omitempty"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Member     map[string]any `json:"member,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

func (d DomainEvent) GetType() EventType {
	return d.Type
}

func NewDomainEvent(eventType EventType, now time.Time) *DomainEvent {
	return &DomainEvent{BaseEvent: newBase(eventType, now)}
}

// Validate checks that the event can be turned into a run context.
func (d *DomainEvent) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	}

	if _, ok := TriggerFor(d.Type); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, d.Type)
	}

	return nil
}

// RunContext converts the event into the context automations run against.
func (d *DomainEvent) RunContext() (models.TriggerType, *models.RunContext, error) {
	if err := d.Validate(); err != nil {
		return "", nil, err
	}

	trigger, _ := TriggerFor(d.Type)

	memberID := d.MemberID
	if memberID == "" {
		if id, ok := d.Member["id"].(string); ok {
			memberID = id
		}
	}

	return trigger, &models.RunContext{
		TriggerType: trigger,
		Now:         d.Timestamp.UTC(),
		MemberID:    memberID,
		EntityType:  d.EntityType,
		EntityID:    d.EntityID,
		Member:      d.Member,
		Data:        d.Data,
	}, nil
}
