package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/orderdeskapp/orderdesk/internal/handlers"
)

type Server struct {
	port       string
	logger     *slog.Logger
	httpServer *http.Server
}

func New(port string, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if port == "" {
		return nil, fmt.Errorf("port is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Server{
		port:   port,
		logger: logger,
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// CommandRouter builds the command-side API surface.
func CommandRouter(h *handlers.Handlers, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(handlers.RequestLogger(logger))
	r.Use(handlers.SecurityHeaders)

	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.HandleFunc("/orders", h.CreateOrder).Methods("POST").Name("orders.create")
	r.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET").Name("orders.get")
	r.HandleFunc("/orders/{id}/payment", h.ProcessPayment).Methods("POST").Name("orders.payment")
	r.HandleFunc("/orders/{id}/confirm", h.ConfirmOrder).Methods("PATCH").Name("orders.confirm")
	r.HandleFunc("/orders/{id}/process", h.ProcessInventory).Methods("PATCH").Name("orders.process")
	r.HandleFunc("/orders/{orderNumber:[0-9]+}/deliver", h.ConfirmDelivery).Methods("PATCH").Name("orders.deliver")

	return r
}

// QueryRouter builds the read-only API surface.
func QueryRouter(h *handlers.QueryHandlers, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(handlers.RequestLogger(logger))
	r.Use(handlers.SecurityHeaders)

	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.HandleFunc("/orders", h.ListOrders).Methods("GET").Name("query.orders.list")
	r.HandleFunc("/orders/user/{userId}", h.ListCustomerOrders).Methods("GET").Name("query.orders.customer")
	r.HandleFunc("/orders/{idOrCode}", h.GetOrder).Methods("GET").Name("query.orders.get")
	r.HandleFunc("/returns", h.ListReturns).Methods("GET").Name("query.returns.list")
	r.HandleFunc("/returns/{id}", h.GetReturn).Methods("GET").Name("query.returns.get")

	return r
}
