package clients

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PaymentsClient struct {
	httpCaller
}

func NewPaymentsClient(baseURL string, timeout time.Duration) *PaymentsClient {
	return &PaymentsClient{httpCaller: newHTTPCaller(baseURL, timeout)}
}

type ProcessPaymentRequest struct {
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Amount     float64   `json:"amount"`
	Method     string    `json:"method"`
}

type PaymentResult struct {
	PaymentID    uuid.UUID      `json:"payment_id"`
	Status       string         `json:"status"`
	PaidAt       time.Time      `json:"paid_at"`
	ProviderData map[string]any `json:"provider_data,omitempty"`
}

func (r PaymentResult) Succeeded() bool {
	return r.Status == "SUCCESS"
}

// Process submits one payment attempt. A FAILED result is a valid response,
// not a transport error.
func (c *PaymentsClient) Process(ctx context.Context, req ProcessPaymentRequest) (*PaymentResult, error) {
	var result PaymentResult
	if err := c.postJSON(ctx, "/payments/process", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
