package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/nurture/pkg/channels/gochannel"
	"github.com/dukex/nurture/pkg/channels/kafka"
	"github.com/dukex/nurture/pkg/eventbus"
)

const (
	EventBusKafka     = "kafka"
	EventBusGoChannel = "gochannel"
	EventBusNone      = "none"
)

// NewEventBus connects to provider on topic. The "none" provider, and the
// empty string, return a nil bus.
func NewEventBus(provider, topic, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case EventBusKafka:
		pub, sub, err := kafka.CreateChannel(wmLogger, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, topic), nil
	case EventBusGoChannel:
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, topic), nil
	case EventBusNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}

// Publisher returns bus, or a publisher that drops events when bus is nil.
func Publisher(bus eventbus.EventBus) eventbus.EventPublisher {
	if bus == nil {
		return eventbus.NopPublisher{}
	}

	return bus
}
