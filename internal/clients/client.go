package clients

// Package clients holds thin HTTP callers for the inventory, payments, and
// catalog services. They carry no business logic; callers decide what a
// decline means.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/orderdeskapp/orderdesk/internal/observability"
)

// ErrUnavailable marks transport-level failures: the service could not be
// reached or answered with a server error. Callers may retry. A well-formed
// decline (e.g. NO_STOCK) is not an error at this layer.
var ErrUnavailable = errors.New("service unavailable")

type httpCaller struct {
	baseURL string
	client  *http.Client
}

func newHTTPCaller(baseURL string, timeout time.Duration) httpCaller {
	return httpCaller{
		baseURL: baseURL,
		client:  observability.NewHTTPClient(timeout),
	}
}

func (c httpCaller) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
