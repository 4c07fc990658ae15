package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/kindred-org/kindred/pkg/channels/gochannel"
	"github.com/kindred-org/kindred/pkg/channels/kafka"
	"github.com/kindred-org/kindred/pkg/eventbus"
)

var ErrUnsupportedEventBus = errors.New("unsupported event bus provider")

// NewEventBus builds the bus carrying run, onboarding and domain events.
// gochannel keeps everything in process; kafka shares events between processes.
func NewEventBus(logger *slog.Logger, provider string, brokers []string, consumerGroup string) (*eventbus.WatermillEventBus, error) {
	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "gochannel", "":
		pub, sub, err = gochannel.CreateChannel(wmLogger)
	case "kafka":
		pub, sub, err = kafka.CreateChannel(wmLogger, brokers, consumerGroup)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEventBus, provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s pub/sub: %w", provider, err)
	}

	return eventbus.NewWatermillEventBus(logger, pub, sub), nil
}
