package main

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/example/pos-checkout/internal/config"
	"github.com/example/pos-checkout/internal/infrastructure/kafka"
	"github.com/example/pos-checkout/internal/logging"
)

func main() {
	cfg, err := config.Load("", "")
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, "pos-relay")

	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is required")
	}
	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close()

	r := &relay{pub: producer, logger: logging.For("relay")}
	lambda.Start(r.handle)
}
