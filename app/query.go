package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/orderdeskapp/orderdesk/internal/bus"
	"github.com/orderdeskapp/orderdesk/internal/cache"
	"github.com/orderdeskapp/orderdesk/internal/clients"
	"github.com/orderdeskapp/orderdesk/internal/config"
	"github.com/orderdeskapp/orderdesk/internal/handlers"
	"github.com/orderdeskapp/orderdesk/internal/readmodel"
)

// QueryApp is the fully wired query service: event consumer, read-model
// store, and the read-only API.
type QueryApp struct {
	Config   *config.Config
	Logger   *slog.Logger
	Mongo    *mongo.Client
	Cache    cache.Provider
	Bus      *bus.Connection
	Consumer *bus.Consumer
	Handlers *handlers.QueryHandlers
}

func NewQuery() (*QueryApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	mongoClient, err := mongo.Connect(startupCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := mongoClient.Ping(startupCtx, nil); err != nil {
		disconnectMongo(logger, mongoClient)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		disconnectMongo(logger, mongoClient)
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	store := readmodel.NewStore(mongoClient.Database(cfg.MongoDBName))
	catalogClient := clients.NewCatalogClient(cfg.CatalogURL, cfg.ClientTimeout)
	projector := readmodel.NewProjector(
		store,
		catalogClient,
		cacheProvider,
		logger.With("component", "projector"),
	)

	busConn, err := bus.Connect(cfg.RabbitURL)
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		disconnectMongo(logger, mongoClient)
		return nil, err
	}

	consumer, err := bus.NewConsumer(busConn, cfg.ConsumerQueue, projector, logger.With("component", "consumer"))
	if err != nil {
		closeBus(logger, busConn)
		closeCacheProvider(logger, cacheProvider)
		disconnectMongo(logger, mongoClient)
		return nil, err
	}

	h, err := handlers.NewQuery(handlers.QueryDependencies{
		Store:  store,
		Mongo:  mongoClient,
		Logger: logger,
	})
	if err != nil {
		closeBus(logger, busConn)
		closeCacheProvider(logger, cacheProvider)
		disconnectMongo(logger, mongoClient)
		return nil, fmt.Errorf("failed to initialize query handlers: %w", err)
	}

	return &QueryApp{
		Config:   cfg,
		Logger:   logger,
		Mongo:    mongoClient,
		Cache:    cacheProvider,
		Bus:      busConn,
		Consumer: consumer,
		Handlers: h,
	}, nil
}

func (a *QueryApp) Close() {
	if a == nil {
		return
	}
	if a.Bus != nil {
		closeBus(a.Logger, a.Bus)
	}
	if a.Cache != nil {
		closeCacheProvider(a.Logger, a.Cache)
	}
	if a.Mongo != nil {
		disconnectMongo(a.Logger, a.Mongo)
	}
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}

func disconnectMongo(logger *slog.Logger, client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil && logger != nil {
		logger.Warn("failed to disconnect mongodb", "error", err)
	}
}
