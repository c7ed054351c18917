package bus

// Package bus carries order events between the command and query services
// over a topic exchange. The routing key is always the order id, so every
// event of one order lands on the same queue in publish order.

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const Exchange = "orders.events"

type Connection struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Connect dials the broker and declares the shared topic exchange.
func Connect(url string) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", Exchange, err)
	}
	return &Connection{conn: conn, ch: ch}, nil
}

func (c *Connection) Channel() *amqp.Channel {
	return c.ch
}

func (c *Connection) Close() error {
	return c.conn.Close()
}
