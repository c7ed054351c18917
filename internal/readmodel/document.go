package readmodel

// Package readmodel maintains the query-side denormalized order store. The
// projector is the only writer; command-side code never touches it.

import (
	"time"

	"github.com/orderdeskapp/orderdesk/internal/events"
)

// OrderDocument is the per-order projection, keyed by order id. UUIDs are
// stored as strings so documents stay readable in the shell.
type OrderDocument struct {
	OrderID       string            `bson:"_id" json:"order_id"`
	OrderNumber   int               `bson:"order_number" json:"order_number"`
	OrderCode     string            `bson:"order_code" json:"order_code"`
	CustomerID    string            `bson:"customer_id" json:"customer_id"`
	Status        string            `bson:"status" json:"status"`
	Shipping      AddressDocument   `bson:"shipping" json:"shipping"`
	Delivery      DeliveryDocument  `bson:"delivery" json:"delivery"`
	Costs         CostsDocument     `bson:"costs" json:"costs"`
	PaymentMethod string            `bson:"payment_method" json:"payment_method"`
	Payment       *PaymentDocument  `bson:"payment,omitempty" json:"payment,omitempty"`
	Evidence      *EvidenceDocument `bson:"delivery_evidence,omitempty" json:"delivery_evidence,omitempty"`
	Items         []ItemDocument    `bson:"items" json:"items"`
	History       []HistoryDocument `bson:"history" json:"history"`
	HasReturn     bool              `bson:"has_return" json:"has_return"`
	ReturnID      string            `bson:"return_id,omitempty" json:"return_id,omitempty"`
	CreatedAt     time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `bson:"updated_at" json:"updated_at"`
}

type AddressDocument struct {
	Line1      string `bson:"line1" json:"line1"`
	Line2      string `bson:"line2,omitempty" json:"line2,omitempty"`
	City       string `bson:"city" json:"city"`
	PostalCode string `bson:"postal_code" json:"postal_code"`
	Province   string `bson:"province" json:"province"`
	Country    string `bson:"country" json:"country"`
}

type DeliveryDocument struct {
	Type          string    `bson:"type" json:"type"`
	WarehouseID   string    `bson:"warehouse_id" json:"warehouse_id"`
	PickupPointID string    `bson:"pickup_point_id,omitempty" json:"pickup_point_id,omitempty"`
	CarrierID     string    `bson:"carrier_id,omitempty" json:"carrier_id,omitempty"`
	Cost          float64   `bson:"cost" json:"cost"`
	EstimatedAt   time.Time `bson:"estimated_at,omitempty" json:"estimated_at,omitzero"`
}

type CostsDocument struct {
	Subtotal float64 `bson:"subtotal" json:"subtotal"`
	Tax      float64 `bson:"tax" json:"tax"`
	Shipping float64 `bson:"shipping" json:"shipping"`
	Total    float64 `bson:"total" json:"total"`
}

// ItemDocument carries the order line plus catalog-enriched preview fields.
type ItemDocument struct {
	ProductID   string  `bson:"product_id" json:"product_id"`
	ProductName string  `bson:"product_name" json:"product_name"`
	Quantity    int     `bson:"quantity" json:"quantity"`
	UnitPrice   float64 `bson:"unit_price" json:"unit_price"`
	Subtotal    float64 `bson:"subtotal" json:"subtotal"`
	Image       string  `bson:"image,omitempty" json:"image,omitempty"`
}

type HistoryDocument struct {
	PreviousStatus *string   `bson:"previous_status,omitempty" json:"previous_status,omitempty"`
	NewStatus      string    `bson:"new_status" json:"new_status"`
	ChangedBy      string    `bson:"changed_by" json:"changed_by"`
	Reason         string    `bson:"reason" json:"reason"`
	ChangedAt      time.Time `bson:"changed_at" json:"changed_at"`
}

type PaymentDocument struct {
	PaymentID string    `bson:"payment_id" json:"payment_id"`
	Method    string    `bson:"method" json:"method"`
	PaidAt    time.Time `bson:"paid_at" json:"paid_at"`
}

type EvidenceDocument struct {
	ReceivedBy string `bson:"received_by,omitempty" json:"received_by,omitempty"`
	Message    string `bson:"message,omitempty" json:"message,omitempty"`
	PhotoURL   string `bson:"photo_url,omitempty" json:"photo_url,omitempty"`
}

type ReturnType string

const (
	ReturnRefund  ReturnType = "REFUND"
	ReturnReplace ReturnType = "REPLACE"
	ReturnMixed   ReturnType = "MIXED"
)

type ReturnDocument struct {
	ReturnID   string               `bson:"_id" json:"return_id"`
	OrderID    string               `bson:"order_id" json:"order_id"`
	OrderCode  string               `bson:"order_code" json:"order_code"`
	CustomerID string               `bson:"customer_id" json:"customer_id"`
	Type       ReturnType           `bson:"type" json:"type"`
	Items      []ReturnItemDocument `bson:"items" json:"items"`
	CreatedAt  time.Time            `bson:"created_at" json:"created_at"`
}

type ReturnItemDocument struct {
	ProductID string `bson:"product_id" json:"product_id"`
	Quantity  int    `bson:"quantity" json:"quantity"`
	Action    string `bson:"action" json:"action"`
}

func documentFromSnapshot(snapshot events.OrderSnapshot) OrderDocument {
	items := make([]ItemDocument, len(snapshot.Items))
	for i, item := range snapshot.Items {
		items[i] = ItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		}
	}

	history := make([]HistoryDocument, len(snapshot.History))
	for i, entry := range snapshot.History {
		history[i] = historyDocument(entry)
	}

	updatedAt := snapshot.CreatedAt
	if len(history) > 0 {
		updatedAt = history[len(history)-1].ChangedAt
	}

	return OrderDocument{
		OrderID:     snapshot.OrderID.String(),
		OrderNumber: snapshot.OrderNumber,
		OrderCode:   snapshot.OrderCode,
		CustomerID:  snapshot.CustomerID.String(),
		Status:      string(snapshot.Status),
		Shipping: AddressDocument{
			Line1:      snapshot.Shipping.Line1,
			Line2:      snapshot.Shipping.Line2,
			City:       snapshot.Shipping.City,
			PostalCode: snapshot.Shipping.PostalCode,
			Province:   snapshot.Shipping.Province,
			Country:    snapshot.Shipping.Country,
		},
		Delivery: DeliveryDocument{
			Type:          string(snapshot.Delivery.Type),
			WarehouseID:   snapshot.Delivery.WarehouseID,
			PickupPointID: snapshot.Delivery.PickupPointID,
			CarrierID:     snapshot.Delivery.CarrierID,
			Cost:          snapshot.Delivery.Cost,
			EstimatedAt:   snapshot.Delivery.EstimatedAt,
		},
		Costs: CostsDocument{
			Subtotal: snapshot.Costs.Subtotal,
			Tax:      snapshot.Costs.Tax,
			Shipping: snapshot.Costs.Shipping,
			Total:    snapshot.Costs.Total,
		},
		PaymentMethod: snapshot.PaymentMethod,
		Items:         items,
		History:       history,
		CreatedAt:     snapshot.CreatedAt,
		UpdatedAt:     updatedAt,
	}
}

func historyDocument(entry events.HistoryEntry) HistoryDocument {
	var previous *string
	if entry.PreviousStatus != nil {
		value := string(*entry.PreviousStatus)
		previous = &value
	}
	return HistoryDocument{
		PreviousStatus: previous,
		NewStatus:      string(entry.NewStatus),
		ChangedBy:      entry.ChangedBy,
		Reason:         entry.Reason,
		ChangedAt:      entry.ChangedAt,
	}
}
