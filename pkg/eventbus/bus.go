package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/agenciapixel/connectflow/pkg/models"
)

// InboundTopic carries contact-originated events (replies, callbacks)
// from channel providers into the engine.
const InboundTopic = "connectflow.contact.events"

const correlationMetadataKey = "correlation_key"

// Resolver is implemented by the step executor: it resumes the run that
// claimed the event.
type Resolver interface {
	ResumeOnEvent(ctx context.Context, runID string, event models.InboundEvent) error
}

// Bus routes inbound contact events to waiting runs over a watermill
// pub/sub channel (gochannel in tests and development, kafka in
// production).
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	registry   *Registry
	resolver   Resolver
	logger     *slog.Logger
}

func NewBus(publisher message.Publisher, subscriber message.Subscriber, registry *Registry, resolver Resolver, logger *slog.Logger) *Bus {
	return &Bus{
		publisher:  publisher,
		subscriber: subscriber,
		registry:   registry,
		resolver:   resolver,
		logger:     logger.With("component", "eventbus"),
	}
}

// PublishInbound hands a contact event to the bus.
func (b *Bus) PublishInbound(_ context.Context, event models.InboundEvent) error {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set(correlationMetadataKey, event.CorrelationKey())

	return b.publisher.Publish(InboundTopic, msg)
}

// Subscribe consumes inbound events until ctx is cancelled. Each event
// resolves at most the first-registered waiting run for its correlation
// key; events nobody waits for are logged and dropped.
func (b *Bus) Subscribe(ctx context.Context) error {
	messages, err := b.subscriber.Subscribe(ctx, InboundTopic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var event models.InboundEvent

			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				b.logger.ErrorContext(ctx, "Dropping undecodable inbound event", "error", err)
				msg.Ack()

				continue
			}

			b.deliver(ctx, event)
			msg.Ack()
		}
	}()

	return nil
}

// Deliver routes one event synchronously. Exposed for embedded use and
// tests; Subscribe funnels into the same path.
func (b *Bus) Deliver(ctx context.Context, event models.InboundEvent) {
	b.deliver(ctx, event)
}

func (b *Bus) deliver(ctx context.Context, event models.InboundEvent) {
	key := event.CorrelationKey()

	runID, ok := b.registry.Claim(key)
	if !ok {
		b.logger.InfoContext(ctx, "No run waiting for inbound event, discarding",
			"correlation_key", key)

		return
	}

	if err := b.resolver.ResumeOnEvent(ctx, runID, event); err != nil {
		// The run is still waiting; restore its registration at the head
		// of the line so a later event or the timeout can resolve it.
		// Stale runs return nil and never reach here.
		b.registry.Requeue(key, runID)

		b.logger.ErrorContext(ctx, "Failed to resume run on inbound event",
			"run_id", runID, "correlation_key", key, "error", err)
	}
}

// Close shuts the underlying pub/sub down.
func (b *Bus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}

	return b.subscriber.Close()
}
