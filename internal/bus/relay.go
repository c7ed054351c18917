package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/orderdeskapp/orderdesk/internal/db"
	"github.com/orderdeskapp/orderdesk/internal/events"
)

// OutboxSource is the slice of the outbox store the relay needs.
type OutboxSource interface {
	FetchPending(ctx context.Context, limit int) ([]db.OutboxRow, error)
	MarkPublished(ctx context.Context, id int64) error
}

// EventPublisher sends one encoded envelope to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, eventType events.Type, payload []byte) error
}

// Relay drains the outbox in insertion order. A row that cannot be published
// after the retry budget stops the whole batch: skipping it and publishing a
// later row would reorder events for the same order.
type Relay struct {
	outbox      OutboxSource
	publisher   EventPublisher
	interval    time.Duration
	batchSize   int
	maxAttempts uint
	baseDelay   time.Duration
	logger      *slog.Logger
}

type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts uint
	BaseDelay   time.Duration
}

func NewRelay(outbox OutboxSource, publisher EventPublisher, cfg RelayConfig, logger *slog.Logger) *Relay {
	return &Relay{
		outbox:      outbox,
		publisher:   publisher,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		logger:      logger,
	}
}

// Run polls until the context is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := r.drain(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("outbox drain failed", "error", err)
		}
	}
}

func (r *Relay) drain(ctx context.Context) error {
	pending, err := r.outbox.FetchPending(ctx, r.batchSize)
	if err != nil {
		return err
	}
	for _, row := range pending {
		if err := r.publishWithRetry(ctx, row); err != nil {
			return err
		}
		if err := r.outbox.MarkPublished(ctx, row.ID); err != nil {
			return err
		}
		r.logger.Debug("event published", "outbox_id", row.ID, "event_type", row.EventType, "routing_key", row.RoutingKey)
	}
	return nil
}

func (r *Relay) publishWithRetry(ctx context.Context, row db.OutboxRow) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.baseDelay

	var attempts uint64
	if r.maxAttempts > 0 {
		attempts = uint64(r.maxAttempts - 1)
	}

	return backoff.Retry(func() error {
		return r.publisher.Publish(ctx, row.RoutingKey, row.EventType, row.Payload)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, attempts), ctx))
}
