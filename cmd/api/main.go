package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/pos-checkout/internal/api"
	"github.com/example/pos-checkout/internal/auth"
	"github.com/example/pos-checkout/internal/checkout"
	"github.com/example/pos-checkout/internal/config"
	"github.com/example/pos-checkout/internal/domain/cart"
	"github.com/example/pos-checkout/internal/domain/catalog"
	"github.com/example/pos-checkout/internal/domain/order"
	"github.com/example/pos-checkout/internal/infrastructure/feed"
	"github.com/example/pos-checkout/internal/infrastructure/kafka"
	"github.com/example/pos-checkout/internal/infrastructure/store"
	"github.com/example/pos-checkout/internal/invoice"
	"github.com/example/pos-checkout/internal/logging"
)

const cartSweepInterval = 10 * time.Minute

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(getEnv("CONFIG_FILE", "config.yaml"), getEnv("ENV_FILE", ".env"))
	if err == nil {
		err = cfg.RequireAuth()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, "pos-api")
	logger := logging.For("api")

	logger.Info().
		Str("backend", cfg.Store.Backend).
		Str("checkout_mode", cfg.Checkout.Mode).
		Strs("kafka", cfg.Kafka.Brokers).
		Str("redis", cfg.Redis.Addr).
		Msg("starting POS checkout service")

	var wg sync.WaitGroup
	backend, watcher, closeBackend, err := openStore(ctx, cfg, &wg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeBackend()

	retry := cfg.RetryPolicy()
	carts := cart.NewRegistry()
	// A cart outlives its session by at most one sweep interval.
	wg.Add(1)
	go func() {
		defer wg.Done()
		carts.SweepEvery(ctx, cartSweepInterval, cfg.Auth.RefreshTTL)
	}()
	catalogSvc := catalog.NewService(backend, watcher, retry)
	ledger := order.NewLedger(backend, watcher)
	coordinator := checkout.NewCoordinator(backend,
		checkout.WithMode(checkout.Mode(cfg.Checkout.Mode)),
		checkout.WithRetryPolicy(retry),
	)

	var cache invoice.Cache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, invoices will be rendered uncached until it recovers")
		}
		cache = invoice.NewRedisCache(client, cfg.Redis.InvoiceTTL)
	}
	invoices := invoice.NewService(ledger, cache, cfg.HTTP.PublicBaseURL)

	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	users := auth.NewService(backend, jwtService)

	router := api.NewRouter(api.RouterConfig{
		Handlers:     api.NewHandlers(catalogSvc, carts, coordinator, ledger, invoices),
		AuthHandlers: api.NewAuthHandlers(users, carts),
		JWTService:   jwtService,
		Logger:       logging.For("http"),
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	wg.Wait()
}

// openStore builds the store chain for the configured backend and the
// watcher that serves live snapshots, if any. The memory store is its own
// watcher. Postgres writes are published to Kafka by this process; DynamoDB
// changes reach Kafka through the stream relay, so here they are only
// consumed.
func openStore(ctx context.Context, cfg *config.Config, wg *sync.WaitGroup) (store.Store, store.Watcher, func(), error) {
	logger := logging.For("api")
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var backend store.Store
	switch cfg.Store.Backend {
	case config.BackendMemory:
		mem := store.NewMemoryStore()
		return mem, mem, closeAll, nil

	case config.BackendPostgres:
		db, err := store.ConnectPostgres(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, func() { closeLogged(logger, "database", db) })
		pg := store.NewPostgresStore(db)
		if err := pg.Migrate(); err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		logger.Info().Msg("connected to PostgreSQL, schema up to date")
		backend = store.NewBreaker(pg, store.BreakerSettings{Name: "postgres"})

	case config.BackendDynamo:
		client, err := store.NewDynamoClient(ctx, cfg.Store.AWSRegion, cfg.Store.DynamoEndpoint)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info().Str("table", cfg.Store.DynamoTable).Msg("using DynamoDB")
		backend = store.NewBreaker(store.NewDynamoStore(client, cfg.Store.DynamoTable), store.BreakerSettings{Name: "dynamodb"})
	}

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Warn().Msg("no Kafka brokers configured, live streams are disabled")
		return backend, nil, closeAll, nil
	}

	if cfg.Store.Backend == config.BackendPostgres {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		closers = append(closers, func() { closeLogged(logger, "kafka producer", producer) })
		backend = feed.NewPublishingStore(backend, producer)
	}

	// Every API process needs every change, so each gets its own group.
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, "")
	closers = append(closers, func() { closeLogged(logger, "kafka consumer", consumer) })
	subscriber := feed.NewSubscriber(consumer, backend)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("topic", cfg.Kafka.Topic).Msg("consuming change feed")
		if err := subscriber.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("change feed stopped")
		}
	}()

	return backend, subscriber, closeAll, nil
}

// closeLogged closes c and logs a failure instead of returning it.
func closeLogged(logger zerolog.Logger, resource string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Warn().Err(err).Str("resource", resource).Msg("failed to close")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
