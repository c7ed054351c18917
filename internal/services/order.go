package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/orderdeskapp/orderdesk/internal/clients"
	"github.com/orderdeskapp/orderdesk/internal/db"
	"github.com/orderdeskapp/orderdesk/internal/events"
	"github.com/orderdeskapp/orderdesk/internal/logging"
	"github.com/orderdeskapp/orderdesk/internal/models"
	"github.com/orderdeskapp/orderdesk/internal/observability"
)

const ActorSystem = "system"

// OrderStore is the persistence surface the state machine drives. Every
// Mark* call commits the status change, the history row, and the outbox
// event in one transaction; a lost status race surfaces as
// db.ErrInvalidStatusTransition.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order, history models.OrderHistory, envFn func() (events.Envelope, error)) error
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber int) (*models.Order, error)
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderHistory, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID, payment *models.Payment, history models.OrderHistory, env events.Envelope) error
	MarkConfirmed(ctx context.Context, orderID uuid.UUID, history models.OrderHistory, env events.Envelope) error
	MarkProcessed(ctx context.Context, orderID uuid.UUID, history models.OrderHistory, env events.Envelope) error
	MarkDelivered(ctx context.Context, orderID uuid.UUID, history models.OrderHistory, env events.Envelope) error
	MarkCancelled(ctx context.Context, orderID uuid.UUID, history models.OrderHistory, env events.Envelope) error
}

type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetSuccessfulByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
}

type InventoryGateway interface {
	Reserve(ctx context.Context, items []models.OrderItem, delivery models.Delivery, shipping models.Address) (*clients.ReserveResult, error)
	Deduct(ctx context.Context, orderNumber int, items []models.OrderItem) (*clients.DeductResult, error)
}

type PaymentGateway interface {
	Process(ctx context.Context, req clients.ProcessPaymentRequest) (*clients.PaymentResult, error)
}

// OrderService enforces the order lifecycle:
// CREATED -> PAID -> CONFIRMED -> PROCESSED -> DELIVERED, with
// CREATED -> CANCELLED as the compensating failure path. No transition skips
// a stage and none reverses.
type OrderService struct {
	orderStore   OrderStore
	paymentStore PaymentStore
	inventory    InventoryGateway
	payments     PaymentGateway
	logger       *slog.Logger
}

func NewOrderService(orders OrderStore, payments PaymentStore, inventory InventoryGateway, gateway PaymentGateway, logger *slog.Logger) *OrderService {
	return &OrderService{
		orderStore:   orders,
		paymentStore: payments,
		inventory:    inventory,
		payments:     gateway,
		logger:       logger,
	}
}

func (s *OrderService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type CreateOrderInput struct {
	CustomerID    uuid.UUID         `json:"customer_id" validate:"required"`
	Items         []CreateOrderItem `json:"items" validate:"required,min=1,dive"`
	Shipping      models.Address    `json:"shipping"`
	Delivery      models.Delivery   `json:"delivery"`
	Costs         models.Costs      `json:"costs"`
	PaymentMethod string            `json:"payment_method" validate:"required"`
}

type CreateOrderItem struct {
	ProductID   string  `json:"product_id" validate:"required"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity" validate:"min=1"`
	UnitPrice   float64 `json:"unit_price" validate:"min=0"`
	Subtotal    float64 `json:"subtotal"`
}

// CreateOrder runs the creation choreography: reserve stock, persist, emit,
// then attempt payment inline. A failed reservation does not fail the call;
// the order is persisted for audit and immediately compensated into
// CANCELLED. A failed payment leaves the order in CREATED for a later retry.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.create",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("CreateOrder"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.Count("order.create.received", 1)

	order, err := buildOrder(input)
	if err != nil {
		meter.Count("order.create.rejected", 1, sentry.WithAttributes(
			attribute.String("reason", "validation"),
		))
		return nil, err
	}

	now := time.Now().UTC()
	createdRow := newHistoryRow(order.ID, nil, models.StatusCreated, ActorSystem, "order created", now)

	result, reserveErr := s.inventory.Reserve(ctx, order.Items, order.Delivery, order.Shipping)
	if reserveErr != nil || !result.OK() {
		reason := reservationFailureReason(result, reserveErr)
		logger.Warn("inventory reservation failed, cancelling order", "order_code", order.OrderCode, "reason", reason)
		meter.Count("order.create.cancelled", 1)
		return s.cancelUnreserved(ctx, order, createdRow, reason, now)
	}

	err = s.orderStore.Create(ctx, order, createdRow, func() (events.Envelope, error) {
		return events.New(events.TypeOrderCreated, now, events.OrderCreated{
			Order: events.SnapshotFromOrder(order, []models.OrderHistory{createdRow}),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}
	meter.Count("order.create.accepted", 1)
	logger.Info("order created", "order_id", order.ID, "order_code", order.OrderCode, "total", order.Costs.Total)

	// Inline payment attempt. Any failure here is non-fatal for creation.
	payment, payErr := s.processPayment(ctx, order)
	switch {
	case payErr != nil:
		logger.Warn("inline payment attempt failed", "order_id", order.ID, "error", payErr)
	case payment.Status == models.PaymentSuccess:
		order.Status = models.StatusPaid
		order.Payment = payment
	default:
		logger.Info("inline payment declined, order stays open for retry", "order_id", order.ID)
	}

	return order, nil
}

// cancelUnreserved persists the order so the attempt is auditable, then
// compensates with an immediate cancellation. Only ORDER_CANCELLED goes on
// the wire: the read model learns about the order from its snapshot.
func (s *OrderService) cancelUnreserved(ctx context.Context, order *models.Order, createdRow models.OrderHistory, reason string, now time.Time) (*models.Order, error) {
	if err := s.orderStore.Create(ctx, order, createdRow, nil); err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}
	// The order number is now assigned; the cancellation snapshot carries it.

	previous := order.Status
	cancelRow := newHistoryRow(order.ID, &previous, models.StatusCancelled, ActorSystem, reason, now)
	order.Status = models.StatusCancelled

	env, err := events.New(events.TypeOrderCancelled, now, events.OrderCancelled{
		Order:          events.SnapshotFromOrder(order, []models.OrderHistory{createdRow, cancelRow}),
		PreviousStatus: previous,
		Reason:         reason,
	})
	if err != nil {
		return nil, err
	}
	if err := s.orderStore.MarkCancelled(ctx, order.ID, cancelRow, env); err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	return order, nil
}

// ProcessPayment attempts payment for an open order. Callable standalone to
// retry after a declined or unreachable attempt.
func (s *OrderService) ProcessPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.StatusCreated {
		return nil, ErrNotPayable
	}
	return s.processPayment(ctx, order)
}

func (s *OrderService) processPayment(ctx context.Context, order *models.Order) (*models.Payment, error) {
	result, err := s.payments.Process(ctx, clients.ProcessPaymentRequest{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Amount:     order.Costs.Total,
		Method:     order.PaymentMethod,
	})
	if err != nil {
		// Nothing is persisted for an unreachable provider: there is no
		// response to audit and the order state is untouched.
		if errors.Is(err, clients.ErrUnavailable) {
			return nil, ErrPaymentsUnavailable
		}
		return nil, fmt.Errorf("payment request failed: %w", err)
	}

	payment := &models.Payment{
		ID:           result.PaymentID,
		OrderID:      order.ID,
		Method:       order.PaymentMethod,
		ProviderData: result.ProviderData,
	}
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}

	if !result.Succeeded() {
		payment.Status = models.PaymentFailed
		if err := s.paymentStore.Create(ctx, payment); err != nil {
			return nil, fmt.Errorf("failed to record payment attempt: %w", err)
		}
		return payment, nil
	}

	payment.Status = models.PaymentSuccess
	payment.PaidAt = result.PaidAt
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}

	previous := models.StatusCreated
	row := newHistoryRow(order.ID, &previous, models.StatusPaid, ActorSystem, "payment succeeded", payment.PaidAt)
	env, err := events.New(events.TypeOrderPaid, payment.PaidAt, events.OrderPaid{
		OrderID:        order.ID,
		PreviousStatus: previous,
		NewStatus:      models.StatusPaid,
		Payment: events.PaymentInfo{
			PaymentID: payment.ID,
			Method:    payment.Method,
			PaidAt:    payment.PaidAt,
		},
		History: events.HistoryEntryFromRow(row),
	})
	if err != nil {
		return nil, err
	}

	if err := s.orderStore.MarkPaid(ctx, order.ID, payment, row, env); err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return nil, ErrNotPayable
		}
		return nil, fmt.Errorf("failed to mark order paid: %w", err)
	}
	return payment, nil
}

// ConfirmOrder moves a paid order to CONFIRMED and immediately runs the
// inventory deduction step in the same request. If deduction fails the order
// stays CONFIRMED and the returned error tells the operator whether a retry
// can help.
func (s *OrderService) ConfirmOrder(ctx context.Context, orderID uuid.UUID, actor string) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.StatusPaid {
		return nil, ErrNotConfirmable
	}
	if actor == "" {
		actor = ActorSystem
	}

	now := time.Now().UTC()
	previous := models.StatusPaid
	row := newHistoryRow(order.ID, &previous, models.StatusConfirmed, actor, "order confirmed", now)
	env, err := events.New(events.TypeOrderConfirmed, now, events.OrderConfirmed{
		OrderID:        order.ID,
		PreviousStatus: previous,
		NewStatus:      models.StatusConfirmed,
		History:        events.HistoryEntryFromRow(row),
	})
	if err != nil {
		return nil, err
	}

	if err := s.orderStore.MarkConfirmed(ctx, order.ID, row, env); err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return nil, ErrNotConfirmable
		}
		return nil, fmt.Errorf("failed to confirm order: %w", err)
	}
	order.Status = models.StatusConfirmed
	s.loggerFromContext(ctx).Info("order confirmed", "order_id", order.ID, "actor", actor)

	if err := s.processInventory(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

// ProcessInventory deducts the reserved stock for a confirmed order.
// Standalone entry point for operator redrives after a failed deduction.
func (s *OrderService) ProcessInventory(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.StatusConfirmed {
		return nil, ErrNotProcessable
	}
	if err := s.processInventory(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

func (s *OrderService) processInventory(ctx context.Context, order *models.Order) error {
	result, err := s.inventory.Deduct(ctx, order.OrderNumber, order.Items)
	if err != nil {
		if errors.Is(err, clients.ErrUnavailable) {
			return ErrInventoryUnavailable
		}
		return fmt.Errorf("deduct request failed: %w", err)
	}
	if !result.Confirmed() {
		return ErrDeductionNotConfirmed
	}

	now := time.Now().UTC()
	previous := models.StatusConfirmed
	row := newHistoryRow(order.ID, &previous, models.StatusProcessed, ActorSystem, "inventory deduction confirmed", now)
	env, err := events.New(events.TypeOrderProcessed, now, events.OrderProcessed{
		OrderID:        order.ID,
		PreviousStatus: previous,
		NewStatus:      models.StatusProcessed,
		History:        events.HistoryEntryFromRow(row),
	})
	if err != nil {
		return err
	}

	if err := s.orderStore.MarkProcessed(ctx, order.ID, row, env); err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return ErrNotProcessable
		}
		return fmt.Errorf("failed to mark order processed: %w", err)
	}
	order.Status = models.StatusProcessed
	s.loggerFromContext(ctx).Info("order processed", "order_id", order.ID)
	return nil
}

// ConfirmDelivery closes out a processed order. Orders are addressed by
// order number here because that is what carriers and store staff see.
func (s *OrderService) ConfirmDelivery(ctx context.Context, orderNumber int, evidence events.DeliveryEvidence, actor string) (*models.Order, error) {
	order, err := s.orderStore.GetByOrderNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	switch {
	case order.Status == models.StatusDelivered:
		return nil, ErrAlreadyDelivered
	case order.Status != models.StatusProcessed:
		return nil, ErrNotDeliverable
	}
	if actor == "" {
		actor = ActorSystem
	}

	reason := evidence.Message
	if reason == "" {
		reason = "delivery confirmed"
	}

	now := time.Now().UTC()
	previous := models.StatusProcessed
	row := newHistoryRow(order.ID, &previous, models.StatusDelivered, actor, reason, now)
	env, err := events.New(events.TypeOrderDelivered, now, events.OrderDelivered{
		OrderID:        order.ID,
		PreviousStatus: previous,
		NewStatus:      models.StatusDelivered,
		Evidence:       evidence,
		History:        events.HistoryEntryFromRow(row),
	})
	if err != nil {
		return nil, err
	}

	if err := s.orderStore.MarkDelivered(ctx, order.ID, row, env); err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return nil, ErrNotDeliverable
		}
		return nil, fmt.Errorf("failed to mark order delivered: %w", err)
	}
	order.Status = models.StatusDelivered
	s.loggerFromContext(ctx).Info("order delivered", "order_id", order.ID, "order_number", orderNumber)
	return order, nil
}

// GetOrder returns the order with its items and, when present, the
// successful payment.
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	payment, err := s.paymentStore.GetSuccessfulByOrder(ctx, orderID)
	if err == nil {
		order.Payment = payment
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return order, nil
}

// OrderHistory returns the audit trail oldest first.
func (s *OrderService) OrderHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderHistory, error) {
	return s.orderStore.ListHistory(ctx, orderID)
}

func (s *OrderService) getOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orderStore.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

const costEpsilon = 0.005

func buildOrder(input CreateOrderInput) (*models.Order, error) {
	if input.CustomerID == uuid.Nil {
		return nil, validationError("customer id is required")
	}
	if len(input.Items) == 0 {
		return nil, validationError("order must contain at least one item")
	}
	if input.PaymentMethod == "" {
		return nil, validationError("payment method is required")
	}

	orderID := uuid.New()
	items := make([]models.OrderItem, len(input.Items))
	var subtotal float64
	for i, in := range input.Items {
		if in.ProductID == "" {
			return nil, validationError("item %d: product id is required", i)
		}
		if in.Quantity < 1 {
			return nil, validationError("item %d: quantity must be at least 1", i)
		}
		if in.UnitPrice < 0 {
			return nil, validationError("item %d: unit price must not be negative", i)
		}
		line := float64(in.Quantity) * in.UnitPrice
		if in.Subtotal != 0 && math.Abs(in.Subtotal-line) > costEpsilon {
			return nil, validationError("item %d: subtotal %.2f does not match quantity x unit price", i, in.Subtotal)
		}
		items[i] = models.OrderItem{
			ID:          uuid.New(),
			OrderID:     orderID,
			ProductID:   in.ProductID,
			ProductName: in.ProductName,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			Subtotal:    line,
		}
		subtotal += line
	}

	if err := validateDelivery(input.Delivery, input.Shipping); err != nil {
		return nil, err
	}
	if input.Costs.Tax < 0 || input.Costs.Shipping < 0 {
		return nil, validationError("tax and shipping must not be negative")
	}
	if math.Abs(input.Costs.Subtotal-subtotal) > costEpsilon {
		return nil, validationError("submitted subtotal %.2f does not match items", input.Costs.Subtotal)
	}

	// The total is always recomputed; the submitted value is only checked.
	costs := models.Costs{
		Subtotal: subtotal,
		Tax:      input.Costs.Tax,
		Shipping: input.Costs.Shipping,
	}
	costs.Total = costs.Subtotal + costs.Tax + costs.Shipping
	if math.Abs(input.Costs.Total-costs.Total) > costEpsilon {
		return nil, validationError("submitted total %.2f does not match computed total %.2f", input.Costs.Total, costs.Total)
	}

	return &models.Order{
		ID:            orderID,
		OrderCode:     newOrderCode(orderID),
		CustomerID:    input.CustomerID,
		Shipping:      input.Shipping,
		Delivery:      input.Delivery,
		Costs:         costs,
		PaymentMethod: input.PaymentMethod,
		Status:        models.StatusCreated,
		Items:         items,
	}, nil
}

func validateDelivery(delivery models.Delivery, shipping models.Address) error {
	switch delivery.Type {
	case models.DeliveryPickup:
		if delivery.CarrierID != "" {
			return validationError("pickup orders must not carry a carrier")
		}
		if delivery.PickupPointID == "" {
			return validationError("pickup orders require a pickup point")
		}
	case models.DeliveryCarrier:
		if delivery.CarrierID == "" {
			return validationError("carrier deliveries require a carrier id")
		}
		if shipping.Line1 == "" {
			return validationError("carrier deliveries require a shipping address")
		}
	default:
		return validationError("unknown delivery type %q", delivery.Type)
	}
	if delivery.WarehouseID == "" {
		return validationError("origin warehouse is required")
	}
	if delivery.Cost < 0 {
		return validationError("delivery cost must not be negative")
	}
	return nil
}

func reservationFailureReason(result *clients.ReserveResult, err error) string {
	if err != nil {
		return fmt.Sprintf("inventory reservation failed: %v", err)
	}
	if result.FailingSKU != "" {
		return fmt.Sprintf("no stock for %s", result.FailingSKU)
	}
	return "inventory rejected reservation"
}

func newHistoryRow(orderID uuid.UUID, previous *models.OrderStatus, status models.OrderStatus, changedBy, reason string, at time.Time) models.OrderHistory {
	return models.OrderHistory{
		ID:             uuid.New(),
		OrderID:        orderID,
		PreviousStatus: previous,
		NewStatus:      status,
		ChangedBy:      changedBy,
		Reason:         reason,
		ChangedAt:      at,
	}
}

func newOrderCode(orderID uuid.UUID) string {
	return "ORD-" + strings.ToUpper(hex.EncodeToString(orderID[:4]))
}
