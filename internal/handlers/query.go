package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/orderdeskapp/orderdesk/internal/logging"
	"github.com/orderdeskapp/orderdesk/internal/readmodel"
	"github.com/orderdeskapp/orderdesk/internal/services"
)

// QueryHandlers serves the read-only API over the projected store.
type QueryHandlers struct {
	store  *readmodel.Store
	mongo  *mongo.Client
	logger *slog.Logger
}

type QueryDependencies struct {
	Store  *readmodel.Store
	Mongo  *mongo.Client
	Logger *slog.Logger
}

func NewQuery(deps QueryDependencies) (*QueryHandlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("query handlers dependencies: store is required")
	}
	if deps.Mongo == nil {
		return nil, fmt.Errorf("query handlers dependencies: mongo client is required")
	}
	return &QueryHandlers{store: deps.Store, mongo: deps.Mongo, logger: logger}, nil
}

func (h *QueryHandlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func (h *QueryHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.mongo.Ping(r.Context(), nil); err != nil {
		h.loggerFromContext(r.Context()).Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListCustomerOrders returns one customer's orders, newest first.
func (h *QueryHandlers) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFromContext(r.Context())
	page, limit := pageParams(r)

	result, err := h.store.ListByCustomer(r.Context(), mux.Vars(r)["userId"], page, limit)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListOrders is the admin-wide listing with AND-composed filters.
func (h *QueryHandlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFromContext(r.Context())
	page, limit := pageParams(r)

	filters, err := filtersFromRequest(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}

	result, err := h.store.ListOrders(r.Context(), filters, page, limit)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetOrder fetches the full projected document by order id or order code.
func (h *QueryHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFromContext(r.Context())

	doc, err := h.store.GetOrder(r.Context(), mux.Vars(r)["idOrCode"])
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			writeError(w, r, logger, services.ErrOrderNotFound)
			return
		}
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *QueryHandlers) ListReturns(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFromContext(r.Context())
	page, limit := pageParams(r)

	result, err := h.store.ListReturns(r.Context(), page, limit)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *QueryHandlers) GetReturn(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFromContext(r.Context())

	doc, err := h.store.GetReturn(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			writeError(w, r, logger, fmt.Errorf("%w: return not found", services.ErrNotFound))
			return
		}
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func pageParams(r *http.Request) (int64, int64) {
	page, _ := strconv.ParseInt(r.URL.Query().Get("page"), 10, 64)
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	return page, limit
}

func filtersFromRequest(r *http.Request) (readmodel.ListFilters, error) {
	query := r.URL.Query()
	filters := readmodel.ListFilters{
		Code:     query.Get("code"),
		Customer: query.Get("customer"),
		Status:   query.Get("status"),
	}

	if raw := query.Get("hasReturn"); raw != "" {
		hasReturn, err := strconv.ParseBool(raw)
		if err != nil {
			return filters, fmt.Errorf("%w: invalid hasReturn value", services.ErrValidation)
		}
		filters.HasReturn = &hasReturn
	}
	if raw := query.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, fmt.Errorf("%w: invalid from date, want RFC3339", services.ErrValidation)
		}
		filters.CreatedFrom = from
	}
	if raw := query.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, fmt.Errorf("%w: invalid to date, want RFC3339", services.ErrValidation)
		}
		filters.CreatedTo = to
	}
	return filters, nil
}
