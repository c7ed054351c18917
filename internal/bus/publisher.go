package bus

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/orderdeskapp/orderdesk/internal/events"
)

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *Connection) *Publisher {
	return &Publisher{ch: conn.Channel()}
}

// Publish sends one pre-encoded envelope. Messages are persistent so a broker
// restart does not lose events the outbox already considers published.
func (p *Publisher) Publish(ctx context.Context, routingKey string, eventType events.Type, payload []byte) error {
	err := p.ch.PublishWithContext(ctx, Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(eventType),
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	return nil
}
