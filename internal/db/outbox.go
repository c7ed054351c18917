package db

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderdeskapp/orderdesk/internal/events"
)

// The outbox closes the dual-write gap: the event intent is committed in the
// same transaction as the state change, and a relay publishes it afterwards.

type OutboxRow struct {
	ID         int64
	RoutingKey string
	EventType  events.Type
	Payload    []byte
}

type OutboxStore struct {
	pool *pgxpool.Pool
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

// FetchPending returns unpublished rows oldest first, so per-order event
// order is preserved on the wire.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, routing_key, event_type, payload
		FROM outbox WHERE published_at IS NULL
		ORDER BY id LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []OutboxRow
	for rows.Next() {
		var row OutboxRow
		var eventType string
		if err := rows.Scan(&row.ID, &row.RoutingKey, &eventType, &row.Payload); err != nil {
			return nil, err
		}
		row.EventType = events.Type(eventType)
		pending = append(pending, row)
	}
	return pending, rows.Err()
}

func (s *OutboxStore) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET published_at = NOW() WHERE id = $1 AND published_at IS NULL
	`, id)
	return err
}

func enqueueOutbox(ctx context.Context, tx pgx.Tx, routingKey string, env events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (routing_key, event_type, payload)
		VALUES ($1, $2, $3)
	`, routingKey, string(env.Type), payload)
	return err
}
