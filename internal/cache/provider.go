package cache

// Package cache backs the consumer's event-idempotency fast path and the
// catalog enrichment memoization.

import (
	"context"
	"fmt"
	"time"
)

// Provider defines the interface for caching applied event IDs and product details
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Provider              string
	RedisConnectionString string
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider()
	case "redis":
		return NewRedisProvider(cfg.RedisConnectionString)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}

// EventKey names an applied-event marker.
func EventKey(eventID string) string {
	return fmt.Sprintf("event:%s", eventID)
}

// ProductKey names a cached catalog details entry.
func ProductKey(productID string) string {
	return fmt.Sprintf("product:%s", productID)
}
