package clients

import (
	"context"
	"time"

	"github.com/orderdeskapp/orderdesk/internal/models"
)

const (
	ReserveOK      = "OK"
	ReserveNoStock = "NO_STOCK"

	DeductConfirmed = "STOCK_DEDUCTED"
)

type InventoryClient struct {
	httpCaller
}

func NewInventoryClient(baseURL string, timeout time.Duration) *InventoryClient {
	return &InventoryClient{httpCaller: newHTTPCaller(baseURL, timeout)}
}

type InventoryItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// reserveRequest is shipment-type specific: carrier deliveries include the
// carrier id and destination line, pickups include the pickup point only.
type reserveRequest struct {
	Items         []InventoryItem `json:"items"`
	WarehouseID   string          `json:"warehouse_id"`
	ShipmentType  string          `json:"shipment_type"`
	PickupPointID string          `json:"pickup_point_id,omitempty"`
	CarrierID     string          `json:"carrier_id,omitempty"`
	AddressLine   string          `json:"address_line,omitempty"`
}

type ReserveResult struct {
	Status     string `json:"status"`
	FailingSKU string `json:"failing_sku,omitempty"`
}

func (r ReserveResult) OK() bool {
	return r.Status == ReserveOK
}

// Reserve places a single batch reservation for all items of an order.
func (c *InventoryClient) Reserve(ctx context.Context, items []models.OrderItem, delivery models.Delivery, shipping models.Address) (*ReserveResult, error) {
	req := reserveRequest{
		Items:        toInventoryItems(items),
		WarehouseID:  delivery.WarehouseID,
		ShipmentType: string(delivery.Type),
	}
	switch delivery.Type {
	case models.DeliveryPickup:
		req.PickupPointID = delivery.PickupPointID
	case models.DeliveryCarrier:
		req.CarrierID = delivery.CarrierID
		req.AddressLine = shipping.Line1
	}

	var result ReserveResult
	if err := c.postJSON(ctx, "/stock/reserve", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type deductRequest struct {
	OrderNumber int             `json:"order_number"`
	Items       []InventoryItem `json:"items"`
}

type DeductResult struct {
	Status string `json:"status"`
}

func (r DeductResult) Confirmed() bool {
	return r.Status == DeductConfirmed
}

// Deduct converts the earlier reservation into a stock deduction.
func (c *InventoryClient) Deduct(ctx context.Context, orderNumber int, items []models.OrderItem) (*DeductResult, error) {
	var result DeductResult
	err := c.postJSON(ctx, "/stock/deduct", deductRequest{
		OrderNumber: orderNumber,
		Items:       toInventoryItems(items),
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func toInventoryItems(items []models.OrderItem) []InventoryItem {
	out := make([]InventoryItem, len(items))
	for i, item := range items {
		out[i] = InventoryItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return out
}
