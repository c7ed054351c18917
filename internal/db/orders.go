package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderdeskapp/orderdesk/internal/events"
	"github.com/orderdeskapp/orderdesk/internal/models"
)

var ErrInvalidStatusTransition = errors.New("invalid order status transition")

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create persists the order, its items, the initial history row, and the
// outbox event in one transaction. The order number is assigned by the
// database sequence and written back into the struct before envFn runs, so
// the event snapshot sees the assigned number. A nil envFn skips the outbox
// enqueue for orders that announce themselves through a later event.
func (s *OrderStore) Create(ctx context.Context, order *models.Order, history models.OrderHistory, envFn func() (events.Envelope, error)) error {
	shippingJSON, err := json.Marshal(order.Shipping)
	if err != nil {
		return err
	}
	deliveryJSON, err := json.Marshal(order.Delivery)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO orders (id, order_code, customer_id, shipping, delivery,
		                    subtotal, tax, shipping_cost, total, payment_method, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING order_number, created_at, updated_at
	`, order.ID, order.OrderCode, order.CustomerID, shippingJSON, deliveryJSON,
		order.Costs.Subtotal, order.Costs.Tax, order.Costs.Shipping, order.Costs.Total,
		order.PaymentMethod, string(order.Status))
	if err := row.Scan(&order.OrderNumber, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return err
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, item.OrderID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Subtotal)
		if err != nil {
			return err
		}
	}

	if err := insertHistory(ctx, tx, history); err != nil {
		return err
	}
	if envFn != nil {
		env, err := envFn()
		if err != nil {
			return err
		}
		if err := enqueueOutbox(ctx, tx, order.ID.String(), env); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *OrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.getOne(ctx, `WHERE id = $1`, orderID)
}

func (s *OrderStore) GetByOrderNumber(ctx context.Context, orderNumber int) (*models.Order, error) {
	return s.getOne(ctx, `WHERE order_number = $1`, orderNumber)
}

func (s *OrderStore) getOne(ctx context.Context, where string, arg any) (*models.Order, error) {
	query := `
		SELECT id, order_number, order_code, customer_id, shipping, delivery,
		       subtotal, tax, shipping_cost, total, payment_method, status,
		       created_at, updated_at
		FROM orders ` + where

	var (
		order        models.Order
		shippingJSON []byte
		deliveryJSON []byte
		status       string
	)
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&order.ID, &order.OrderNumber, &order.OrderCode, &order.CustomerID,
		&shippingJSON, &deliveryJSON,
		&order.Costs.Subtotal, &order.Costs.Tax, &order.Costs.Shipping, &order.Costs.Total,
		&order.PaymentMethod, &status, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.Status = models.OrderStatus(status)

	if err := json.Unmarshal(shippingJSON, &order.Shipping); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(deliveryJSON, &order.Delivery); err != nil {
		return nil, err
	}

	if order.Items, err = s.listItems(ctx, order.ID); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *OrderStore) listItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, subtotal
		FROM order_items WHERE order_id = $1 ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListHistory returns the audit trail oldest first.
func (s *OrderStore) ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, previous_status, new_status, changed_by, reason, changed_at
		FROM order_history WHERE order_id = $1 ORDER BY changed_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []models.OrderHistory
	for rows.Next() {
		var (
			row      models.OrderHistory
			previous *string
		)
		if err := rows.Scan(&row.ID, &row.OrderID, &previous, &row.NewStatus,
			&row.ChangedBy, &row.Reason, &row.ChangedAt); err != nil {
			return nil, err
		}
		if previous != nil {
			prev := models.OrderStatus(*previous)
			row.PreviousStatus = &prev
		}
		history = append(history, row)
	}
	return history, rows.Err()
}

// MarkPaid moves CREATED -> PAID and records the successful payment attempt
// in the same transaction.
func (s *OrderStore) MarkPaid(ctx context.Context, orderID uuid.UUID, payment *models.Payment, history models.OrderHistory, env events.Envelope) error {
	return s.transition(ctx, orderID, models.StatusCreated, models.StatusPaid, history, env, func(tx pgx.Tx) error {
		return insertPayment(ctx, tx, payment)
	})
}

// MarkConfirmed moves PAID -> CONFIRMED.
func (s *OrderStore) MarkConfirmed(ctx context.Context, orderID uuid.UUID, history models.OrderHistory, env events.Envelope) error {
	return s.transition(ctx, orderID, models.StatusPaid, models.StatusConfirmed, history, env, nil)
}

// MarkProcessed moves CONFIRMED -> PROCESSED.
func (s *OrderStore) MarkProcessed(ctx context.Context, orderID uuid.UUID, history models.OrderHistory, env events.Envelope) error {
	return s.transition(ctx, orderID, models.StatusConfirmed, models.StatusProcessed, history, env, nil)
}

// MarkDelivered moves PROCESSED -> DELIVERED.
func (s *OrderStore) MarkDelivered(ctx context.Context, orderID uuid.UUID, history models.OrderHistory, env events.Envelope) error {
	return s.transition(ctx, orderID, models.StatusProcessed, models.StatusDelivered, history, env, nil)
}

// MarkCancelled moves CREATED -> CANCELLED.
func (s *OrderStore) MarkCancelled(ctx context.Context, orderID uuid.UUID, history models.OrderHistory, env events.Envelope) error {
	return s.transition(ctx, orderID, models.StatusCreated, models.StatusCancelled, history, env, nil)
}

// transition performs the conditional status update, the history append, and
// the outbox enqueue atomically. A concurrent transition loses the race here:
// zero rows affected means the expected status no longer holds.
func (s *OrderStore) transition(ctx context.Context, orderID uuid.UUID, from, to models.OrderStatus, history models.OrderHistory, env events.Envelope, extra func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, string(to), orderID, string(from))
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected %s", ErrInvalidStatusTransition, from)
	}

	if extra != nil {
		if err := extra(tx); err != nil {
			return err
		}
	}
	if err := insertHistory(ctx, tx, history); err != nil {
		return err
	}
	if err := enqueueOutbox(ctx, tx, orderID.String(), env); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func insertHistory(ctx context.Context, tx pgx.Tx, history models.OrderHistory) error {
	var previous *string
	if history.PreviousStatus != nil {
		value := string(*history.PreviousStatus)
		previous = &value
	}
	changedAt := history.ChangedAt
	if changedAt.IsZero() {
		changedAt = time.Now().UTC()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO order_history (id, order_id, previous_status, new_status, changed_by, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, history.ID, history.OrderID, previous, string(history.NewStatus), history.ChangedBy, history.Reason, changedAt)
	return err
}
