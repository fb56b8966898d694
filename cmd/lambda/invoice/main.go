package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/example/pos-checkout/internal/config"
	"github.com/example/pos-checkout/internal/domain/order"
	"github.com/example/pos-checkout/internal/infrastructure/store"
	"github.com/example/pos-checkout/internal/invoice"
	"github.com/example/pos-checkout/internal/logging"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("", "")
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, "pos-invoice")

	if cfg.Store.Backend != config.BackendDynamo {
		log.Fatal().Str("backend", cfg.Store.Backend).Msg("the invoice lambda reads from DynamoDB")
	}
	client, err := store.NewDynamoClient(ctx, cfg.Store.AWSRegion, cfg.Store.DynamoEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create DynamoDB client")
	}
	backend := store.NewBreaker(store.NewDynamoStore(client, cfg.Store.DynamoTable), store.BreakerSettings{Name: "dynamodb"})

	var cache invoice.Cache
	if cfg.Redis.Addr != "" {
		cache = invoice.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr}), cfg.Redis.InvoiceTTL)
	}

	h := &invoiceHandler{
		invoices: invoice.NewService(order.NewLedger(backend, nil), cache, cfg.HTTP.PublicBaseURL),
		logger:   logging.For("invoice"),
	}
	lambda.Start(h.handle)
}
