package dispatcher

import (
	"context"
	"fmt"

	"github.com/kindred-org/kindred/pkg/eventbus"
	"github.com/kindred-org/kindred/pkg/events"
)

// Subscribe routes domain events from the bus into Dispatch.
func (d *Dispatcher) Subscribe(bus eventbus.EventSubscriber) error {
	for _, eventType := range events.DomainEventTypes() {
		err := bus.Handle(eventType, d.HandleDomainEvent)
		if err != nil {
			return fmt.Errorf("failed to handle %s: %w", eventType, err)
		}
	}

	return nil
}

// HandleDomainEvent is the eventbus handler for domain events. Malformed
// events are dropped; only a failed automation listing is returned, so the
// message is redelivered.
func (d *Dispatcher) HandleDomainEvent(ctx context.Context, event any) error {
	domainEvent, ok := event.(*events.DomainEvent)
	if !ok {
		d.logger.WarnContext(ctx, "Ignoring unexpected event", "event", fmt.Sprintf("%T", event))

		return nil
	}

	trigger, rc, err := domainEvent.RunContext()
	if err != nil {
		d.logger.WarnContext(ctx, "Dropping invalid domain event", "event_id", domainEvent.ID, "error", err)

		return nil
	}

	_, err = d.Dispatch(ctx, trigger, rc)

	return err
}
