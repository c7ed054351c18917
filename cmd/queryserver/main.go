package main

// OrderDesk query service: event consumer, read model, and read-only API.

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/orderdeskapp/orderdesk/app"
	"github.com/orderdeskapp/orderdesk/server"
)

func main() {
	fallbackLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	application, err := app.NewQuery()
	if err != nil {
		fallbackLogger.Error("failed to initialize query app", "error", err)
		os.Exit(1)
	}

	router := server.QueryRouter(application.Handlers, application.Logger)
	srv, err := server.New(application.Config.QueryPort, router, application.Logger)
	if err != nil {
		fallbackLogger.Error("failed to initialize server", "error", err)
		application.Close()
		os.Exit(1)
	}

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	consumerErr := make(chan error, 1)
	go func() {
		consumerErr <- application.Consumer.Run(consumerCtx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		consumerCancel()
		if err != nil {
			application.Logger.Error("server failed", "error", err)
			application.Close()
			os.Exit(1)
		}
		application.Close()
		return
	case err := <-consumerErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			application.Logger.Error("consumer failed", "error", err)
		}
		consumerCancel()
	case <-quit:
		consumerCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := srv.Close(ctx); err != nil {
		cancel()
		application.Logger.Error("server forced to shutdown", "error", err)
		application.Close()
		os.Exit(1)
	}
	cancel()

	application.Close()
}
