package models

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	StatusCreated   OrderStatus = "CREATED"
	StatusPaid      OrderStatus = "PAID"
	StatusConfirmed OrderStatus = "CONFIRMED"
	StatusProcessed OrderStatus = "PROCESSED"
	StatusDelivered OrderStatus = "DELIVERED"
	StatusCancelled OrderStatus = "CANCELLED"
)

type DeliveryType string

const (
	DeliveryPickup  DeliveryType = "PICKUP"
	DeliveryCarrier DeliveryType = "DELIVERY"
)

type Order struct {
	ID            uuid.UUID   `json:"id"`
	OrderNumber   int         `json:"order_number"`
	OrderCode     string      `json:"order_code"`
	CustomerID    uuid.UUID   `json:"customer_id"`
	Shipping      Address     `json:"shipping"`
	Delivery      Delivery    `json:"delivery"`
	Costs         Costs       `json:"costs"`
	PaymentMethod string      `json:"payment_method"`
	Status        OrderStatus `json:"status"`
	Items         []OrderItem `json:"items"`
	Payment       *Payment    `json:"payment,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Province   string `json:"province"`
	Country    string `json:"country"`
}

// Delivery describes how the order leaves the warehouse. Pickup orders carry
// no carrier; carrier deliveries carry no pickup point.
type Delivery struct {
	Type          DeliveryType `json:"type"`
	WarehouseID   string       `json:"warehouse_id"`
	PickupPointID string       `json:"pickup_point_id,omitempty"`
	CarrierID     string       `json:"carrier_id,omitempty"`
	Cost          float64      `json:"cost"`
	EstimatedAt   time.Time    `json:"estimated_at,omitzero"`
}

type Costs struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Shipping float64 `json:"shipping"`
	Total    float64 `json:"total"`
}

type OrderItem struct {
	ID          uuid.UUID `json:"id"`
	OrderID     uuid.UUID `json:"order_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	Subtotal    float64   `json:"subtotal"`
}

// OrderHistory is an append-only audit row, one per status transition.
// PreviousStatus is nil only for the creation entry.
type OrderHistory struct {
	ID             uuid.UUID    `json:"id"`
	OrderID        uuid.UUID    `json:"order_id"`
	PreviousStatus *OrderStatus `json:"previous_status,omitempty"`
	NewStatus      OrderStatus  `json:"new_status"`
	ChangedBy      string       `json:"changed_by"`
	Reason         string       `json:"reason"`
	ChangedAt      time.Time    `json:"changed_at"`
}

type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Payment records one payment attempt, successful or not. At most one
// successful payment exists per order.
type Payment struct {
	ID           uuid.UUID      `json:"id"`
	OrderID      uuid.UUID      `json:"order_id"`
	Method       string         `json:"method"`
	Status       PaymentStatus  `json:"status"`
	PaidAt       time.Time      `json:"paid_at,omitzero"`
	ProviderData map[string]any `json:"provider_data,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Terminal reports whether no further transitions are allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}
