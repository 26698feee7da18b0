package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/order-backend/internal/domain"
	"github.com/sakashimaa/order-backend/internal/events"
	"github.com/sakashimaa/order-backend/pkg/kafka"
	"github.com/sakashimaa/order-backend/pkg/mylogger"
	"go.uber.org/zap"
)

// StatusConsumer feeds order.status.changed messages from kafka into the
// in-process event bus, which handles per-order dedup and throttling.
type StatusConsumer struct {
	bus    *events.Bus
	logger *zap.Logger
}

func NewStatusConsumer(bus *events.Bus, logger *zap.Logger) *StatusConsumer {
	return &StatusConsumer{bus: bus, logger: logger}
}

func (c *StatusConsumer) Run(ctx context.Context, brokers []string, groupID, topic string) {
	group := kafka.NewConsumerGroup(brokers, groupID, []string{topic}, c.processMessage, c.logger)
	group.Run(ctx)
}

// processMessage never returns an error for malformed payloads: such messages
// are logged and marked so the group does not get stuck on them.
func (c *StatusConsumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event domain.StatusChangedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		mylogger.Warn(ctx, c.logger, "skipping malformed status event",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return nil
	}

	if event.OrderID == "" {
		mylogger.Warn(ctx, c.logger, "skipping status event without order id",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
		)
		return nil
	}

	c.bus.Publish(event)
	return nil
}
