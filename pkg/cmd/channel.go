package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/agenciapixel/connectflow/pkg/channels/gochannel"
	"github.com/agenciapixel/connectflow/pkg/channels/kafka"
)

// NewChannel builds the inbound-event pub/sub channel. Kafka carries
// contact events in production; the in-memory channel serves
// single-process deployments and local development.
func NewChannel(provider string, logger *slog.Logger, serviceName string) (message.Publisher, message.Subscriber) {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return pub, sub

	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(watermillLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create in-memory pub/sub: %w", err))
		}

		return pub, sub

	default:
		panic("Unsupported event channel provider: " + provider)
	}
}
