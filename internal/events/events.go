package events

// Package events defines the wire contract shared by the command and query
// services. Every payload is an immutable fact; consumers apply them
// idempotently keyed on EventID.

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orderdeskapp/orderdesk/internal/models"
)

type Type string

const (
	TypeOrderCreated   Type = "ORDER_CREATED"
	TypeOrderCancelled Type = "ORDER_CANCELLED"
	TypeOrderPaid      Type = "ORDER_PAID"
	TypeOrderConfirmed Type = "ORDER_CONFIRMED"
	TypeOrderProcessed Type = "ORDER_PROCESSED"
	TypeOrderDelivered Type = "ORDER_DELIVERED"
	TypeReturnCreated  Type = "RETURN_CREATED"
)

// Envelope wraps a typed payload with its discriminant. Data holds the
// payload JSON; Decode dispatches on Type to recover the concrete struct.
type Envelope struct {
	EventID    uuid.UUID       `json:"event_id"`
	Type       Type            `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// HistoryEntry mirrors one order-history row as carried on the wire.
type HistoryEntry struct {
	PreviousStatus *models.OrderStatus `json:"previous_status,omitempty"`
	NewStatus      models.OrderStatus  `json:"new_status"`
	ChangedBy      string              `json:"changed_by"`
	Reason         string              `json:"reason"`
	ChangedAt      time.Time           `json:"changed_at"`
}

// OrderSnapshot is the full denormalized order state carried by insert-type
// events (created, cancelled).
type OrderSnapshot struct {
	OrderID       uuid.UUID          `json:"order_id"`
	OrderNumber   int                `json:"order_number"`
	OrderCode     string             `json:"order_code"`
	CustomerID    uuid.UUID          `json:"customer_id"`
	Status        models.OrderStatus `json:"status"`
	Shipping      models.Address     `json:"shipping"`
	Delivery      models.Delivery    `json:"delivery"`
	Costs         models.Costs       `json:"costs"`
	PaymentMethod string             `json:"payment_method"`
	Items         []ItemSnapshot     `json:"items"`
	History       []HistoryEntry     `json:"history"`
	CreatedAt     time.Time          `json:"created_at"`
}

type ItemSnapshot struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Subtotal    float64 `json:"subtotal"`
}

type PaymentInfo struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Method    string    `json:"method"`
	PaidAt    time.Time `json:"paid_at"`
}

type DeliveryEvidence struct {
	ReceivedBy string `json:"received_by,omitempty"`
	Message    string `json:"message,omitempty"`
	PhotoURL   string `json:"photo_url,omitempty"`
}

type OrderCreated struct {
	Order OrderSnapshot `json:"order"`
}

type OrderCancelled struct {
	Order          OrderSnapshot      `json:"order"`
	PreviousStatus models.OrderStatus `json:"previous_status"`
	Reason         string             `json:"reason"`
}

type OrderPaid struct {
	OrderID        uuid.UUID          `json:"order_id"`
	PreviousStatus models.OrderStatus `json:"previous_status"`
	NewStatus      models.OrderStatus `json:"new_status"`
	Payment        PaymentInfo        `json:"payment"`
	History        HistoryEntry       `json:"history"`
}

type OrderConfirmed struct {
	OrderID        uuid.UUID          `json:"order_id"`
	PreviousStatus models.OrderStatus `json:"previous_status"`
	NewStatus      models.OrderStatus `json:"new_status"`
	History        HistoryEntry       `json:"history"`
}

type OrderProcessed struct {
	OrderID        uuid.UUID          `json:"order_id"`
	PreviousStatus models.OrderStatus `json:"previous_status"`
	NewStatus      models.OrderStatus `json:"new_status"`
	History        HistoryEntry       `json:"history"`
}

type OrderDelivered struct {
	OrderID        uuid.UUID          `json:"order_id"`
	PreviousStatus models.OrderStatus `json:"previous_status"`
	NewStatus      models.OrderStatus `json:"new_status"`
	Evidence       DeliveryEvidence   `json:"evidence"`
	History        HistoryEntry       `json:"history"`
}

type ReturnAction string

const (
	ReturnActionRefund  ReturnAction = "refund"
	ReturnActionReplace ReturnAction = "replace"
)

type ReturnItem struct {
	ProductID string       `json:"product_id"`
	Quantity  int          `json:"quantity"`
	Action    ReturnAction `json:"action"`
}

type ReturnCreated struct {
	ReturnID   uuid.UUID    `json:"return_id"`
	OrderID    uuid.UUID    `json:"order_id"`
	OrderCode  string       `json:"order_code"`
	CustomerID uuid.UUID    `json:"customer_id"`
	Items      []ReturnItem `json:"items"`
	CreatedAt  time.Time    `json:"created_at"`
}

// New builds an envelope around payload, stamping a fresh event id.
func New(eventType Type, occurredAt time.Time, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:    uuid.New(),
		Type:       eventType,
		OccurredAt: occurredAt.UTC(),
		Data:       data,
	}, nil
}

// Decode returns the typed payload for the envelope's discriminant.
func (e Envelope) Decode() (any, error) {
	var payload any
	switch e.Type {
	case TypeOrderCreated:
		payload = &OrderCreated{}
	case TypeOrderCancelled:
		payload = &OrderCancelled{}
	case TypeOrderPaid:
		payload = &OrderPaid{}
	case TypeOrderConfirmed:
		payload = &OrderConfirmed{}
	case TypeOrderProcessed:
		payload = &OrderProcessed{}
	case TypeOrderDelivered:
		payload = &OrderDelivered{}
	case TypeReturnCreated:
		payload = &ReturnCreated{}
	default:
		return nil, fmt.Errorf("unknown event type: %q", e.Type)
	}
	if err := json.Unmarshal(e.Data, payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return payload, nil
}

// SnapshotFromOrder flattens an order and its history rows into the wire shape.
func SnapshotFromOrder(order *models.Order, history []models.OrderHistory) OrderSnapshot {
	items := make([]ItemSnapshot, len(order.Items))
	for i, item := range order.Items {
		items[i] = ItemSnapshot{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		}
	}

	entries := make([]HistoryEntry, len(history))
	for i, row := range history {
		entries[i] = HistoryEntryFromRow(row)
	}

	return OrderSnapshot{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		OrderCode:     order.OrderCode,
		CustomerID:    order.CustomerID,
		Status:        order.Status,
		Shipping:      order.Shipping,
		Delivery:      order.Delivery,
		Costs:         order.Costs,
		PaymentMethod: order.PaymentMethod,
		Items:         items,
		History:       entries,
		CreatedAt:     order.CreatedAt,
	}
}

func HistoryEntryFromRow(row models.OrderHistory) HistoryEntry {
	return HistoryEntry{
		PreviousStatus: row.PreviousStatus,
		NewStatus:      row.NewStatus,
		ChangedBy:      row.ChangedBy,
		Reason:         row.Reason,
		ChangedAt:      row.ChangedAt,
	}
}
