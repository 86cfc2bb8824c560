package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	seqdomain "github.com/leadflow/leadflow-backend/internal/sequence/domain"
)

// EngagementMessage is the wire format the API publishes when an email
// provider reports a lead-level signal.
type EngagementMessage struct {
	LeadID string `json:"lead_id"`
	Event  string `json:"event"`
}

// EventSource yields engagement-event deliveries. Implemented by
// shared/rabbitmq.
type EventSource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// EngagementConsumer feeds engagement events from RabbitMQ into the
// sequence engine.
type EngagementConsumer struct {
	source   EventSource
	enroller Enroller
	logger   *slog.Logger
}

func NewEngagementConsumer(source EventSource, enroller Enroller, logger *slog.Logger) *EngagementConsumer {
	return &EngagementConsumer{source: source, enroller: enroller, logger: logger}
}

// Run consumes until the context is cancelled or the delivery channel
// closes. Malformed messages are nacked without requeue; transient
// handling failures are nacked with requeue.
func (c *EngagementConsumer) Run(ctx context.Context) error {
	consumerTag := "engagement-" + uuid.New().String()[:8]
	deliveries, err := c.source.Consume(consumerTag)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Engagement consumer stopped")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Engagement delivery channel closed")
				return nil
			}
			c.handle(ctx, delivery)
		}
	}
}

func (c *EngagementConsumer) handle(ctx context.Context, delivery amqp.Delivery) {
	var msg EngagementMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.Error("Failed to parse engagement message",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		c.nack(delivery, false)
		return
	}

	event := seqdomain.EngagementEvent(msg.Event)
	if msg.LeadID == "" || !event.Valid() {
		c.logger.Error("Discarding invalid engagement message",
			slog.String("lead_id", msg.LeadID),
			slog.String("event", msg.Event),
		)
		c.nack(delivery, false)
		return
	}

	if err := c.enroller.HandleEngagementEvent(ctx, msg.LeadID, event); err != nil {
		c.logger.Error("Failed to handle engagement event",
			slog.String("lead_id", msg.LeadID),
			slog.String("event", msg.Event),
			slog.String("error", err.Error()),
		)
		c.nack(delivery, true)
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK engagement message", slog.String("error", err.Error()))
		return
	}
	c.logger.Debug("Engagement event applied",
		slog.String("lead_id", msg.LeadID),
		slog.String("event", msg.Event),
	)
}

func (c *EngagementConsumer) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to NACK engagement message", slog.String("error", err.Error()))
	}
}
