package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/orderdeskapp/orderdesk/internal/events"
	"github.com/orderdeskapp/orderdesk/internal/models"
	"github.com/orderdeskapp/orderdesk/internal/services"
)

// CreateOrder accepts a new order. The response is 201 even when the order
// was auto-cancelled by a failed reservation: the order exists either way,
// and existing consumers read the status from the body.
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFromContext(r.Context())

	var input services.CreateOrderInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, r, logger, err)
		return
	}
	if err := h.validate.Struct(input); err != nil {
		writeError(w, r, logger, fmt.Errorf("%w: %s", services.ErrValidation, err))
		return
	}

	order, err := h.orderService.CreateOrder(r.Context(), input)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// GetOrder returns the authoritative command-side view with the audit trail.
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFromContext(r.Context())

	orderID, err := orderIDFromRequest(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}

	order, err := h.orderService.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	history, err := h.orderService.OrderHistory(r.Context(), orderID)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		*models.Order
		History []models.OrderHistory `json:"history"`
	}{Order: order, History: history})
}

// ProcessPayment retries payment for an open order. A declined payment is a
// valid outcome and still answers 200 with the FAILED attempt.
func (h *Handlers) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFromContext(r.Context())

	orderID, err := orderIDFromRequest(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}

	payment, err := h.orderService.ProcessPayment(r.Context(), orderID)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *Handlers) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFromContext(r.Context())

	orderID, err := orderIDFromRequest(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}

	order, err := h.orderService.ConfirmOrder(r.Context(), orderID, actorFromRequest(r))
	if err != nil {
		// The confirm itself may have committed with only the deduction
		// failing; the error status tells the operator how to proceed.
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ProcessInventory redrives the deduction step for a confirmed order.
func (h *Handlers) ProcessInventory(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFromContext(r.Context())

	orderID, err := orderIDFromRequest(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}

	order, err := h.orderService.ProcessInventory(r.Context(), orderID)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handlers) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFromContext(r.Context())

	orderNumber, err := strconv.Atoi(mux.Vars(r)["orderNumber"])
	if err != nil {
		writeError(w, r, logger, fmt.Errorf("%w: invalid order number", services.ErrValidation))
		return
	}

	var evidence events.DeliveryEvidence
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &evidence); err != nil {
			writeError(w, r, logger, err)
			return
		}
	}

	order, err := h.orderService.ConfirmDelivery(r.Context(), orderNumber, evidence, actorFromRequest(r))
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func orderIDFromRequest(r *http.Request) (uuid.UUID, error) {
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid order id", services.ErrValidation)
	}
	return orderID, nil
}
