package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/orderdeskapp/orderdesk/internal/events"
)

// EventHandler applies one event to the read model. It must be idempotent:
// the broker redelivers on nack and after crashes between apply and ack.
type EventHandler interface {
	HandleEvent(ctx context.Context, env events.Envelope) error
}

type Consumer struct {
	ch      *amqp.Channel
	queue   string
	handler EventHandler
	logger  *slog.Logger
}

// NewConsumer declares a durable queue bound to all routing keys of the
// shared exchange.
func NewConsumer(conn *Connection, queue string, handler EventHandler, logger *slog.Logger) (*Consumer, error) {
	ch := conn.Channel()
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(q.Name, "#", Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}
	return &Consumer{ch: ch, queue: q.Name, handler: handler, logger: logger}, nil
}

// Run consumes until the context is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.Consume(
		c.queue,
		"",    // consumer tag
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", c.queue, err)
	}
	c.logger.Info("consuming order events", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, delivery)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	var env events.Envelope
	if err := json.Unmarshal(delivery.Body, &env); err != nil {
		// Malformed payloads never become parseable; do not requeue.
		c.logger.Error("dropping malformed event", "error", err, "routing_key", delivery.RoutingKey)
		_ = delivery.Nack(false, false)
		return
	}

	if err := c.handler.HandleEvent(ctx, env); err != nil {
		requeue := !delivery.Redelivered
		c.logger.Warn("event apply failed",
			"event_id", env.EventID, "event_type", env.Type, "requeue", requeue, "error", err)
		_ = delivery.Nack(false, requeue)
		return
	}
	_ = delivery.Ack(false)
}
