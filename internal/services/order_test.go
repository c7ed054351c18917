package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/orderdeskapp/orderdesk/internal/clients"
	"github.com/orderdeskapp/orderdesk/internal/events"
	"github.com/orderdeskapp/orderdesk/internal/models"
)

type fakeOrderStore struct {
	order       *models.Order
	getErr      error
	createErr   error
	markErr     error
	created     []*models.Order
	transitions []models.OrderStatus
	history     []models.OrderHistory
	envelopes   []events.Envelope
}

func (f *fakeOrderStore) Create(_ context.Context, order *models.Order, history models.OrderHistory, envFn func() (events.Envelope, error)) error {
	if f.createErr != nil {
		return f.createErr
	}
	order.OrderNumber = 1042
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	f.created = append(f.created, order)
	f.history = append(f.history, history)
	if envFn != nil {
		env, err := envFn()
		if err != nil {
			return err
		}
		f.envelopes = append(f.envelopes, env)
	}
	return nil
}

func (f *fakeOrderStore) GetByID(context.Context, uuid.UUID) (*models.Order, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.order, nil
}

func (f *fakeOrderStore) GetByOrderNumber(context.Context, int) (*models.Order, error) {
	return f.GetByID(context.Background(), uuid.Nil)
}

func (f *fakeOrderStore) ListHistory(context.Context, uuid.UUID) ([]models.OrderHistory, error) {
	return f.history, nil
}

func (f *fakeOrderStore) mark(status models.OrderStatus, history models.OrderHistory, env events.Envelope) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.transitions = append(f.transitions, status)
	f.history = append(f.history, history)
	f.envelopes = append(f.envelopes, env)
	return nil
}

func (f *fakeOrderStore) MarkPaid(_ context.Context, _ uuid.UUID, _ *models.Payment, history models.OrderHistory, env events.Envelope) error {
	return f.mark(models.StatusPaid, history, env)
}

func (f *fakeOrderStore) MarkConfirmed(_ context.Context, _ uuid.UUID, history models.OrderHistory, env events.Envelope) error {
	return f.mark(models.StatusConfirmed, history, env)
}

func (f *fakeOrderStore) MarkProcessed(_ context.Context, _ uuid.UUID, history models.OrderHistory, env events.Envelope) error {
	return f.mark(models.StatusProcessed, history, env)
}

func (f *fakeOrderStore) MarkDelivered(_ context.Context, _ uuid.UUID, history models.OrderHistory, env events.Envelope) error {
	return f.mark(models.StatusDelivered, history, env)
}

func (f *fakeOrderStore) MarkCancelled(_ context.Context, _ uuid.UUID, history models.OrderHistory, env events.Envelope) error {
	return f.mark(models.StatusCancelled, history, env)
}

func (f *fakeOrderStore) eventTypes() []events.Type {
	types := make([]events.Type, len(f.envelopes))
	for i, env := range f.envelopes {
		types[i] = env.Type
	}
	return types
}

type fakePaymentStore struct {
	attempts []*models.Payment
}

func (f *fakePaymentStore) Create(_ context.Context, payment *models.Payment) error {
	f.attempts = append(f.attempts, payment)
	return nil
}

func (f *fakePaymentStore) GetSuccessfulByOrder(context.Context, uuid.UUID) (*models.Payment, error) {
	return nil, pgx.ErrNoRows
}

type fakeInventory struct {
	reserveResult *clients.ReserveResult
	reserveErr    error
	deductResult  *clients.DeductResult
	deductErr     error
	deductCalls   int
}

func (f *fakeInventory) Reserve(context.Context, []models.OrderItem, models.Delivery, models.Address) (*clients.ReserveResult, error) {
	return f.reserveResult, f.reserveErr
}

func (f *fakeInventory) Deduct(context.Context, int, []models.OrderItem) (*clients.DeductResult, error) {
	f.deductCalls++
	return f.deductResult, f.deductErr
}

type fakePayments struct {
	result *clients.PaymentResult
	err    error
	calls  int
}

func (f *fakePayments) Process(context.Context, clients.ProcessPaymentRequest) (*clients.PaymentResult, error) {
	f.calls++
	return f.result, f.err
}

type serviceFixture struct {
	service   *OrderService
	orders    *fakeOrderStore
	payments  *fakePaymentStore
	inventory *fakeInventory
	gateway   *fakePayments
}

func newFixture() *serviceFixture {
	orders := &fakeOrderStore{}
	payments := &fakePaymentStore{}
	inventory := &fakeInventory{
		reserveResult: &clients.ReserveResult{Status: clients.ReserveOK},
		deductResult:  &clients.DeductResult{Status: clients.DeductConfirmed},
	}
	gateway := &fakePayments{
		result: &clients.PaymentResult{PaymentID: uuid.New(), Status: "SUCCESS", PaidAt: time.Now().UTC()},
	}
	return &serviceFixture{
		service:   NewOrderService(orders, payments, inventory, gateway, nil),
		orders:    orders,
		payments:  payments,
		inventory: inventory,
		gateway:   gateway,
	}
}

func validInput() CreateOrderInput {
	return CreateOrderInput{
		CustomerID:    uuid.New(),
		PaymentMethod: "CARD",
		Items: []CreateOrderItem{
			{ProductID: "SKU-1", ProductName: "Beans", Quantity: 2, UnitPrice: 25.0, Subtotal: 50.0},
		},
		Shipping: models.Address{Line1: "Calle Mayor 1", City: "Madrid", Country: "ES"},
		Delivery: models.Delivery{
			Type:        models.DeliveryCarrier,
			WarehouseID: "WH-1",
			CarrierID:   "CARRIER-1",
			Cost:        5.0,
		},
		Costs: models.Costs{Subtotal: 50.0, Tax: 10.5, Shipping: 5.0, Total: 65.5},
	}
}

func storedOrder(status models.OrderStatus) *models.Order {
	id := uuid.New()
	return &models.Order{
		ID:          id,
		OrderNumber: 77,
		OrderCode:   "ORD-TEST7700",
		CustomerID:  uuid.New(),
		Status:      status,
		Costs:       models.Costs{Subtotal: 50, Tax: 10.5, Shipping: 5, Total: 65.5},
		Items: []models.OrderItem{
			{ID: uuid.New(), OrderID: id, ProductID: "SKU-1", Quantity: 2, UnitPrice: 25, Subtotal: 50},
		},
		PaymentMethod: "CARD",
	}
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*CreateOrderInput)
	}{
		{
			name:   "no items",
			mutate: func(in *CreateOrderInput) { in.Items = nil },
		},
		{
			name:   "zero quantity",
			mutate: func(in *CreateOrderInput) { in.Items[0].Quantity = 0 },
		},
		{
			name:   "negative unit price",
			mutate: func(in *CreateOrderInput) { in.Items[0].UnitPrice = -1 },
		},
		{
			name:   "line subtotal mismatch",
			mutate: func(in *CreateOrderInput) { in.Items[0].Subtotal = 49.0 },
		},
		{
			name: "order subtotal mismatch",
			mutate: func(in *CreateOrderInput) {
				in.Costs.Subtotal = 40.0
			},
		},
		{
			name:   "total mismatch",
			mutate: func(in *CreateOrderInput) { in.Costs.Total = 99.0 },
		},
		{
			name:   "missing payment method",
			mutate: func(in *CreateOrderInput) { in.PaymentMethod = "" },
		},
		{
			name:   "missing customer",
			mutate: func(in *CreateOrderInput) { in.CustomerID = uuid.Nil },
		},
		{
			name: "pickup with carrier",
			mutate: func(in *CreateOrderInput) {
				in.Delivery.Type = models.DeliveryPickup
				in.Delivery.PickupPointID = "PP-1"
			},
		},
		{
			name: "pickup without pickup point",
			mutate: func(in *CreateOrderInput) {
				in.Delivery.Type = models.DeliveryPickup
				in.Delivery.CarrierID = ""
			},
		},
		{
			name: "carrier without carrier id",
			mutate: func(in *CreateOrderInput) { in.Delivery.CarrierID = "" },
		},
		{
			name: "carrier without shipping address",
			mutate: func(in *CreateOrderInput) { in.Shipping.Line1 = "" },
		},
		{
			name: "unknown delivery type",
			mutate: func(in *CreateOrderInput) { in.Delivery.Type = "DRONE" },
		},
		{
			name:   "missing warehouse",
			mutate: func(in *CreateOrderInput) { in.Delivery.WarehouseID = "" },
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fix := newFixture()
			input := validInput()
			tc.mutate(&input)

			_, err := fix.service.CreateOrder(context.Background(), input)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("CreateOrder() error = %v, want ErrValidation", err)
			}
			if len(fix.orders.created) != 0 {
				t.Fatalf("expected no order persisted, got %d", len(fix.orders.created))
			}
		})
	}
}

func TestCreateOrderSuccess(t *testing.T) {
	t.Parallel()

	fix := newFixture()
	order, err := fix.service.CreateOrder(context.Background(), validInput())
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	if order.Status != models.StatusPaid {
		t.Fatalf("status = %s, want PAID after inline payment", order.Status)
	}
	if order.OrderNumber != 1042 {
		t.Fatalf("order number = %d, want the store-assigned 1042", order.OrderNumber)
	}
	if order.Payment == nil || order.Payment.Status != models.PaymentSuccess {
		t.Fatalf("expected successful payment attached, got %+v", order.Payment)
	}

	types := fix.orders.eventTypes()
	if len(types) != 2 || types[0] != events.TypeOrderCreated || types[1] != events.TypeOrderPaid {
		t.Fatalf("events = %v, want [ORDER_CREATED ORDER_PAID]", types)
	}

	created, err := fix.orders.envelopes[0].Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	snapshot := created.(*events.OrderCreated).Order
	if snapshot.OrderNumber != 1042 {
		t.Fatalf("snapshot order number = %d, want 1042", snapshot.OrderNumber)
	}
	if len(snapshot.History) != 1 || snapshot.History[0].NewStatus != models.StatusCreated {
		t.Fatalf("snapshot history = %+v, want single CREATED entry", snapshot.History)
	}
}

func TestCreateOrderReservationFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result *clients.ReserveResult
		err    error
	}{
		{
			name:   "no stock",
			result: &clients.ReserveResult{Status: clients.ReserveNoStock, FailingSKU: "SKU-1"},
		},
		{
			name: "inventory unreachable",
			err:  clients.ErrUnavailable,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fix := newFixture()
			fix.inventory.reserveResult = tc.result
			fix.inventory.reserveErr = tc.err

			order, err := fix.service.CreateOrder(context.Background(), validInput())
			if err != nil {
				t.Fatalf("CreateOrder() error = %v, want success with cancelled order", err)
			}
			if order.Status != models.StatusCancelled {
				t.Fatalf("status = %s, want CANCELLED", order.Status)
			}

			types := fix.orders.eventTypes()
			if len(types) != 1 || types[0] != events.TypeOrderCancelled {
				t.Fatalf("events = %v, want exactly [ORDER_CANCELLED]", types)
			}
			if fix.gateway.calls != 0 {
				t.Fatalf("payment attempted %d times, want 0", fix.gateway.calls)
			}

			payload, err := fix.orders.envelopes[0].Decode()
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			cancelled := payload.(*events.OrderCancelled)
			if cancelled.PreviousStatus != models.StatusCreated {
				t.Fatalf("previous status = %s, want CREATED", cancelled.PreviousStatus)
			}
			if cancelled.Order.OrderNumber != 1042 {
				t.Fatalf("snapshot order number = %d, want 1042", cancelled.Order.OrderNumber)
			}
			if len(cancelled.Order.History) != 2 {
				t.Fatalf("snapshot history length = %d, want CREATED and CANCELLED entries", len(cancelled.Order.History))
			}
		})
	}
}

func TestCreateOrderPaymentDeclined(t *testing.T) {
	t.Parallel()

	fix := newFixture()
	fix.gateway.result = &clients.PaymentResult{Status: "FAILED"}

	order, err := fix.service.CreateOrder(context.Background(), validInput())
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if order.Status != models.StatusCreated {
		t.Fatalf("status = %s, want CREATED after declined payment", order.Status)
	}
	if len(fix.payments.attempts) != 1 || fix.payments.attempts[0].Status != models.PaymentFailed {
		t.Fatalf("expected one FAILED payment attempt recorded, got %+v", fix.payments.attempts)
	}

	types := fix.orders.eventTypes()
	if len(types) != 1 || types[0] != events.TypeOrderCreated {
		t.Fatalf("events = %v, want [ORDER_CREATED] only", types)
	}
}

func TestCreateOrderPaymentUnreachable(t *testing.T) {
	t.Parallel()

	fix := newFixture()
	fix.gateway.result = nil
	fix.gateway.err = fmt.Errorf("%w: connection refused", clients.ErrUnavailable)

	order, err := fix.service.CreateOrder(context.Background(), validInput())
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if order.Status != models.StatusCreated {
		t.Fatalf("status = %s, want CREATED when payments are down", order.Status)
	}
	if len(fix.payments.attempts) != 0 {
		t.Fatalf("expected no payment row for a transport failure, got %d", len(fix.payments.attempts))
	}
}

func TestProcessPayment(t *testing.T) {
	t.Parallel()

	t.Run("order not found", func(t *testing.T) {
		t.Parallel()
		fix := newFixture()
		fix.orders.getErr = pgx.ErrNoRows

		_, err := fix.service.ProcessPayment(context.Background(), uuid.New())
		if !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("error = %v, want ErrOrderNotFound", err)
		}
	})

	t.Run("wrong status", func(t *testing.T) {
		t.Parallel()
		fix := newFixture()
		fix.orders.order = storedOrder(models.StatusPaid)

		_, err := fix.service.ProcessPayment(context.Background(), uuid.New())
		if !errors.Is(err, ErrNotPayable) {
			t.Fatalf("error = %v, want ErrNotPayable", err)
		}
		if fix.gateway.calls != 0 {
			t.Fatalf("payment attempted on non-payable order")
		}
	})

	t.Run("success marks paid", func(t *testing.T) {
		t.Parallel()
		fix := newFixture()
		fix.orders.order = storedOrder(models.StatusCreated)

		payment, err := fix.service.ProcessPayment(context.Background(), fix.orders.order.ID)
		if err != nil {
			t.Fatalf("ProcessPayment() error = %v", err)
		}
		if payment.Status != models.PaymentSuccess {
			t.Fatalf("payment status = %s, want SUCCESS", payment.Status)
		}
		types := fix.orders.eventTypes()
		if len(types) != 1 || types[0] != events.TypeOrderPaid {
			t.Fatalf("events = %v, want [ORDER_PAID]", types)
		}
	})
}

func TestConfirmOrder(t *testing.T) {
	t.Parallel()

	t.Run("paid order is confirmed and processed", func(t *testing.T) {
		t.Parallel()
		fix := newFixture()
		fix.orders.order = storedOrder(models.StatusPaid)

		order, err := fix.service.ConfirmOrder(context.Background(), fix.orders.order.ID, "ops")
		if err != nil {
			t.Fatalf("ConfirmOrder() error = %v", err)
		}
		if order.Status != models.StatusProcessed {
			t.Fatalf("status = %s, want PROCESSED", order.Status)
		}
		types := fix.orders.eventTypes()
		if len(types) != 2 || types[0] != events.TypeOrderConfirmed || types[1] != events.TypeOrderProcessed {
			t.Fatalf("events = %v, want [ORDER_CONFIRMED ORDER_PROCESSED]", types)
		}
	})

	t.Run("unpaid order is rejected", func(t *testing.T) {
		t.Parallel()
		fix := newFixture()
		fix.orders.order = storedOrder(models.StatusCreated)

		_, err := fix.service.ConfirmOrder(context.Background(), fix.orders.order.ID, "ops")
		if !errors.Is(err, ErrNotConfirmable) {
			t.Fatalf("error = %v, want ErrNotConfirmable", err)
		}
	})

	t.Run("deduction failure leaves order confirmed", func(t *testing.T) {
		t.Parallel()
		fix := newFixture()
		fix.orders.order = storedOrder(models.StatusPaid)
		fix.inventory.deductResult = nil
		fix.inventory.deductErr = fmt.Errorf("%w: timeout", clients.ErrUnavailable)

		order, err := fix.service.ConfirmOrder(context.Background(), fix.orders.order.ID, "ops")
		if !errors.Is(err, ErrInventoryUnavailable) {
			t.Fatalf("error = %v, want ErrInventoryUnavailable", err)
		}
		if order == nil || order.Status != models.StatusConfirmed {
			t.Fatalf("order = %+v, want returned in CONFIRMED for redrive", order)
		}
		types := fix.orders.eventTypes()
		if len(types) != 1 || types[0] != events.TypeOrderConfirmed {
			t.Fatalf("events = %v, want [ORDER_CONFIRMED] only", types)
		}
	})
}

func TestProcessInventory(t *testing.T) {
	t.Parallel()

	t.Run("requires confirmed status", func(t *testing.T) {
		t.Parallel()
		fix := newFixture()
		fix.orders.order = storedOrder(models.StatusPaid)

		_, err := fix.service.ProcessInventory(context.Background(), fix.orders.order.ID)
		if !errors.Is(err, ErrNotProcessable) {
			t.Fatalf("error = %v, want ErrNotProcessable", err)
		}
		if fix.inventory.deductCalls != 0 {
			t.Fatalf("deduct called on non-confirmed order")
		}
	})

	t.Run("unconfirmed deduction is rejected", func(t *testing.T) {
		t.Parallel()
		fix := newFixture()
		fix.orders.order = storedOrder(models.StatusConfirmed)
		fix.inventory.deductResult = &clients.DeductResult{Status: "PENDING"}

		_, err := fix.service.ProcessInventory(context.Background(), fix.orders.order.ID)
		if !errors.Is(err, ErrDeductionNotConfirmed) {
			t.Fatalf("error = %v, want ErrDeductionNotConfirmed", err)
		}
		if !errors.Is(err, ErrDependencyRejected) {
			t.Fatalf("error = %v, want it categorized as dependency rejection", err)
		}
	})

	t.Run("confirmed deduction marks processed", func(t *testing.T) {
		t.Parallel()
		fix := newFixture()
		fix.orders.order = storedOrder(models.StatusConfirmed)

		order, err := fix.service.ProcessInventory(context.Background(), fix.orders.order.ID)
		if err != nil {
			t.Fatalf("ProcessInventory() error = %v", err)
		}
		if order.Status != models.StatusProcessed {
			t.Fatalf("status = %s, want PROCESSED", order.Status)
		}
	})
}

func TestConfirmDelivery(t *testing.T) {
	t.Parallel()

	t.Run("already delivered", func(t *testing.T) {
		t.Parallel()
		fix := newFixture()
		fix.orders.order = storedOrder(models.StatusDelivered)

		_, err := fix.service.ConfirmDelivery(context.Background(), 77, events.DeliveryEvidence{}, "carrier")
		if !errors.Is(err, ErrAlreadyDelivered) {
			t.Fatalf("error = %v, want ErrAlreadyDelivered", err)
		}
	})

	t.Run("not yet processed", func(t *testing.T) {
		t.Parallel()
		fix := newFixture()
		fix.orders.order = storedOrder(models.StatusConfirmed)

		_, err := fix.service.ConfirmDelivery(context.Background(), 77, events.DeliveryEvidence{}, "carrier")
		if !errors.Is(err, ErrNotDeliverable) {
			t.Fatalf("error = %v, want ErrNotDeliverable", err)
		}
	})

	t.Run("processed order is delivered with evidence", func(t *testing.T) {
		t.Parallel()
		fix := newFixture()
		fix.orders.order = storedOrder(models.StatusProcessed)
		evidence := events.DeliveryEvidence{ReceivedBy: "A. Garcia", Message: "left at reception"}

		order, err := fix.service.ConfirmDelivery(context.Background(), 77, evidence, "carrier")
		if err != nil {
			t.Fatalf("ConfirmDelivery() error = %v", err)
		}
		if order.Status != models.StatusDelivered {
			t.Fatalf("status = %s, want DELIVERED", order.Status)
		}

		payload, err := fix.orders.envelopes[0].Decode()
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		delivered := payload.(*events.OrderDelivered)
		if delivered.Evidence.ReceivedBy != "A. Garcia" {
			t.Fatalf("evidence = %+v, want it carried on the event", delivered.Evidence)
		}
		if delivered.History.Reason != "left at reception" {
			t.Fatalf("history reason = %q, want the evidence message", delivered.History.Reason)
		}
	})
}
