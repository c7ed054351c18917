package events

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/orderdeskapp/orderdesk/internal/models"
)

func TestEnvelopeDecodeDispatch(t *testing.T) {
	t.Parallel()

	orderID := uuid.New()
	occurredAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		eventType Type
		payload   any
		check     func(t *testing.T, decoded any)
	}{
		{
			name:      "order created carries snapshot",
			eventType: TypeOrderCreated,
			payload: OrderCreated{Order: OrderSnapshot{
				OrderID:   orderID,
				OrderCode: "ORD-AB12CD34",
				Status:    models.StatusCreated,
			}},
			check: func(t *testing.T, decoded any) {
				created, ok := decoded.(*OrderCreated)
				if !ok {
					t.Fatalf("decoded type = %T, want *OrderCreated", decoded)
				}
				if created.Order.OrderID != orderID {
					t.Fatalf("order id = %s, want %s", created.Order.OrderID, orderID)
				}
			},
		},
		{
			name:      "cancellation carries reason and previous status",
			eventType: TypeOrderCancelled,
			payload: OrderCancelled{
				Order:          OrderSnapshot{OrderID: orderID, Status: models.StatusCancelled},
				PreviousStatus: models.StatusCreated,
				Reason:         "no stock for SKU-2",
			},
			check: func(t *testing.T, decoded any) {
				cancelled, ok := decoded.(*OrderCancelled)
				if !ok {
					t.Fatalf("decoded type = %T, want *OrderCancelled", decoded)
				}
				if cancelled.Reason != "no stock for SKU-2" {
					t.Fatalf("reason = %q", cancelled.Reason)
				}
				if cancelled.PreviousStatus != models.StatusCreated {
					t.Fatalf("previous status = %s, want CREATED", cancelled.PreviousStatus)
				}
			},
		},
		{
			name:      "delivery carries evidence",
			eventType: TypeOrderDelivered,
			payload: OrderDelivered{
				OrderID:   orderID,
				NewStatus: models.StatusDelivered,
				Evidence:  DeliveryEvidence{ReceivedBy: "A. Garcia", PhotoURL: "https://cdn/p.jpg"},
			},
			check: func(t *testing.T, decoded any) {
				delivered, ok := decoded.(*OrderDelivered)
				if !ok {
					t.Fatalf("decoded type = %T, want *OrderDelivered", decoded)
				}
				if delivered.Evidence.ReceivedBy != "A. Garcia" {
					t.Fatalf("evidence = %+v", delivered.Evidence)
				}
			},
		},
		{
			name:      "return carries item actions",
			eventType: TypeReturnCreated,
			payload: ReturnCreated{
				ReturnID: uuid.New(),
				OrderID:  orderID,
				Items: []ReturnItem{
					{ProductID: "SKU-1", Quantity: 1, Action: ReturnActionRefund},
				},
			},
			check: func(t *testing.T, decoded any) {
				ret, ok := decoded.(*ReturnCreated)
				if !ok {
					t.Fatalf("decoded type = %T, want *ReturnCreated", decoded)
				}
				if len(ret.Items) != 1 || ret.Items[0].Action != ReturnActionRefund {
					t.Fatalf("items = %+v", ret.Items)
				}
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env, err := New(tc.eventType, occurredAt, tc.payload)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if env.EventID == uuid.Nil {
				t.Fatalf("envelope has no event id")
			}
			if !env.OccurredAt.Equal(occurredAt) {
				t.Fatalf("occurred at = %s, want %s", env.OccurredAt, occurredAt)
			}

			decoded, err := env.Decode()
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			tc.check(t, decoded)
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	t.Parallel()

	env := Envelope{EventID: uuid.New(), Type: "ORDER_TELEPORTED", Data: []byte(`{}`)}
	if _, err := env.Decode(); err == nil {
		t.Fatalf("Decode() accepted unknown event type")
	}
}

func TestSnapshotFromOrder(t *testing.T) {
	t.Parallel()

	previous := models.StatusCreated
	order := &models.Order{
		ID:          uuid.New(),
		OrderNumber: 55,
		OrderCode:   "ORD-11223344",
		CustomerID:  uuid.New(),
		Status:      models.StatusCancelled,
		Items: []models.OrderItem{
			{ProductID: "SKU-1", ProductName: "Beans", Quantity: 2, UnitPrice: 50, Subtotal: 100},
		},
	}
	history := []models.OrderHistory{
		{NewStatus: models.StatusCreated, ChangedBy: "system"},
		{PreviousStatus: &previous, NewStatus: models.StatusCancelled, ChangedBy: "system", Reason: "no stock"},
	}

	snapshot := SnapshotFromOrder(order, history)
	if snapshot.OrderNumber != 55 || snapshot.Status != models.StatusCancelled {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if len(snapshot.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(snapshot.History))
	}
	if snapshot.History[0].PreviousStatus != nil {
		t.Fatalf("creation entry has a previous status")
	}
	if snapshot.History[1].PreviousStatus == nil || *snapshot.History[1].PreviousStatus != models.StatusCreated {
		t.Fatalf("cancellation entry previous status = %v, want CREATED", snapshot.History[1].PreviousStatus)
	}
}
