package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/orderdeskapp/orderdesk/internal/bus"
	"github.com/orderdeskapp/orderdesk/internal/clients"
	"github.com/orderdeskapp/orderdesk/internal/config"
	"github.com/orderdeskapp/orderdesk/internal/db"
	"github.com/orderdeskapp/orderdesk/internal/handlers"
	"github.com/orderdeskapp/orderdesk/internal/services"
)

// App is the fully wired command service. All connections are explicit and
// owned here; Close releases them in reverse order.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *pgxpool.Pool
	Bus      *bus.Connection
	Relay    *bus.Relay
	Handlers *handlers.Handlers
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	database, err := db.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	busConn, err := bus.Connect(cfg.RabbitURL)
	if err != nil {
		database.Close()
		return nil, err
	}

	orderStore := db.NewOrderStore(database)
	paymentStore := db.NewPaymentStore(database)
	outboxStore := db.NewOutboxStore(database)

	inventoryClient := clients.NewInventoryClient(cfg.InventoryURL, cfg.ClientTimeout)
	paymentsClient := clients.NewPaymentsClient(cfg.PaymentsURL, cfg.ClientTimeout)

	orderService := services.NewOrderService(
		orderStore,
		paymentStore,
		inventoryClient,
		paymentsClient,
		logger.With("component", "order_service"),
	)

	relay := bus.NewRelay(outboxStore, bus.NewPublisher(busConn), bus.RelayConfig{
		Interval:    cfg.OutboxInterval,
		BatchSize:   cfg.OutboxBatchSize,
		MaxAttempts: cfg.PublishMaxAttempts,
		BaseDelay:   cfg.PublishBaseDelay,
	}, logger.With("component", "outbox_relay"))

	h, err := handlers.New(handlers.Dependencies{
		DB:           database,
		OrderService: orderService,
		Logger:       logger,
	})
	if err != nil {
		closeBus(logger, busConn)
		database.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		DB:       database,
		Bus:      busConn,
		Relay:    relay,
		Handlers: h,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Bus != nil {
		closeBus(a.Logger, a.Bus)
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: cfg.LogLevel,
	}))
}

func closeBus(logger *slog.Logger, conn *bus.Connection) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil && logger != nil {
		logger.Warn("failed to close bus connection", "error", err)
	}
}
