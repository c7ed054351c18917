package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderdeskapp/orderdesk/internal/models"
)

type PaymentStore struct {
	pool *pgxpool.Pool
}

func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

// Create records a payment attempt. Failed attempts are kept for audit; the
// successful attempt is inserted inside the MarkPaid transaction instead.
func (s *PaymentStore) Create(ctx context.Context, payment *models.Payment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertPayment(ctx, tx, payment); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetSuccessfulByOrder returns the order's successful payment, or pgx.ErrNoRows.
func (s *PaymentStore) GetSuccessfulByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var (
		payment      models.Payment
		status       string
		paidAt       *time.Time
		providerJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, order_id, method, status, paid_at, provider_data, created_at
		FROM payments WHERE order_id = $1 AND status = $2
	`, orderID, string(models.PaymentSuccess)).Scan(
		&payment.ID, &payment.OrderID, &payment.Method, &status, &paidAt, &providerJSON, &payment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	payment.Status = models.PaymentStatus(status)
	if paidAt != nil {
		payment.PaidAt = *paidAt
	}
	if providerJSON != nil {
		if err := json.Unmarshal(providerJSON, &payment.ProviderData); err != nil {
			return nil, err
		}
	}
	return &payment, nil
}

func insertPayment(ctx context.Context, tx pgx.Tx, payment *models.Payment) error {
	var providerJSON []byte
	if payment.ProviderData != nil {
		var err error
		providerJSON, err = json.Marshal(payment.ProviderData)
		if err != nil {
			return err
		}
	}

	var paidAt *time.Time
	if !payment.PaidAt.IsZero() {
		paidAt = &payment.PaidAt
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO payments (id, order_id, method, status, paid_at, provider_data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, payment.ID, payment.OrderID, payment.Method, string(payment.Status), paidAt, providerJSON)
	return row.Scan(&payment.CreatedAt)
}
