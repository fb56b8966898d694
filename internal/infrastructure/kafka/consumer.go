package kafka

import (
	"context"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/example/pos-checkout/internal/logging"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer reads every partition of topic as part of groupID. An empty
// groupID joins a group of its own, starting at the latest offset, so each
// process sees every change from now on.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{reader: kafka.NewReader(readerConfig(brokers, topic, groupID))}
}

func readerConfig(brokers []string, topic, groupID string) kafka.ReaderConfig {
	cfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	}
	if groupID == "" {
		cfg.GroupID = fanoutGroup(topic)
		cfg.StartOffset = kafka.LastOffset
	}
	return cfg
}

func fanoutGroup(topic string) string {
	return topic + "-fanout-" + uuid.NewString()
}

func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	logger := logging.For("kafka")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Error().Err(err).Msg("error reading message")
				continue
			}

			if err := handler(ctx, msg.Key, msg.Value); err != nil {
				logger.Error().Err(err).Str("key", string(msg.Key)).Msg("error handling message")
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
