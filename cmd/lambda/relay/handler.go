package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/example/pos-checkout/internal/infrastructure/feed"
	"github.com/example/pos-checkout/internal/infrastructure/kinesis"
)

// relay forwards DynamoDB stream records, delivered through Kinesis, onto
// the change feed.
type relay struct {
	pub    feed.Publisher
	logger zerolog.Logger
}

// batchStats counts what happened to the records of one batch. Skipped
// records carry no change (e.g. TTL events).
type batchStats struct {
	published int
	skipped   int
	failed    int
}

func (r *relay) handle(ctx context.Context, kinesisEvent events.KinesisEvent) (events.KinesisEventResponse, error) {
	r.logger.Debug().Int("records", len(kinesisEvent.Records)).Msg("received batch")

	resp, stats := r.process(ctx, kinesisEvent)

	r.logger.Info().
		Int("published", stats.published).
		Int("skipped", stats.skipped).
		Int("failed", stats.failed).
		Msg("batch done")
	return resp, nil
}

func (r *relay) process(ctx context.Context, kinesisEvent events.KinesisEvent) (events.KinesisEventResponse, batchStats) {
	var (
		stats             batchStats
		batchItemFailures []events.KinesisBatchItemFailure
	)
	fail := func(record events.KinesisEventRecord) {
		stats.failed++
		batchItemFailures = append(batchItemFailures, events.KinesisBatchItemFailure{
			ItemIdentifier: record.Kinesis.SequenceNumber,
		})
	}

	for _, record := range kinesisEvent.Records {
		change, err := kinesis.ConvertFromKinesisRecord(record)
		if err != nil {
			r.logger.Error().Err(err).Str("record", record.EventID).Msg("failed to convert record")
			fail(record)
			continue
		}
		if change == nil {
			stats.skipped++
			continue
		}

		if err := r.pub.Publish(ctx, change.Collection, change); err != nil {
			r.logger.Error().Err(err).
				Str("collection", change.Collection).
				Str("key", change.Key).
				Msg("failed to publish change")
			fail(record)
			continue
		}
		stats.published++
	}

	return events.KinesisEventResponse{BatchItemFailures: batchItemFailures}, stats
}
