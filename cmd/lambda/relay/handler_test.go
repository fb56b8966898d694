package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pos-checkout/internal/infrastructure/feed"
	"github.com/example/pos-checkout/internal/logging"
)

// recordingPublisher records published changes and fails for one key.
type recordingPublisher struct {
	published []*feed.Change
	keys      []string
	failKey   string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, event any) error {
	change := event.(*feed.Change)
	if change.Key == p.failKey {
		return errors.New("broker down")
	}
	p.keys = append(p.keys, key)
	p.published = append(p.published, change)
	return nil
}

func streamRecord(t *testing.T, seq, eventName, collection, key string) events.KinesisEventRecord {
	t.Helper()
	data, err := json.Marshal(events.DynamoDBEventRecord{
		EventID:   "ddb-" + seq,
		EventName: eventName,
		Change: events.DynamoDBStreamRecord{Keys: map[string]events.DynamoDBAttributeValue{
			"pk": events.NewStringAttribute(collection),
			"sk": events.NewStringAttribute(key),
		}},
	})
	require.NoError(t, err)
	return events.KinesisEventRecord{
		EventID: "kinesis-" + seq,
		Kinesis: events.KinesisRecord{SequenceNumber: seq, Data: data},
	}
}

func TestRelay_PublishesChangesKeyedByCollection(t *testing.T) {
	pub := &recordingPublisher{}
	r := &relay{pub: pub, logger: logging.For("test")}

	resp, err := r.handle(context.Background(), events.KinesisEvent{Records: []events.KinesisEventRecord{
		streamRecord(t, "1", "INSERT", "orders", "o1"),
		streamRecord(t, "2", "MODIFY", "products", "p1"),
	}})

	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	require.Len(t, pub.published, 2)
	assert.Equal(t, []string{"orders", "products"}, pub.keys)
	assert.Equal(t, feed.OpWrite, pub.published[0].Op)
	assert.Equal(t, feed.OpUpdate, pub.published[1].Op)
	assert.Equal(t, "p1", pub.published[1].Key)
}

func TestRelay_ReportsFailedRecords(t *testing.T) {
	pub := &recordingPublisher{failKey: "p2"}
	r := &relay{pub: pub, logger: logging.For("test")}

	resp, err := r.handle(context.Background(), events.KinesisEvent{Records: []events.KinesisEventRecord{
		streamRecord(t, "1", "INSERT", "products", "p1"),
		streamRecord(t, "2", "MODIFY", "products", "p2"),
		{EventID: "bad", Kinesis: events.KinesisRecord{SequenceNumber: "3", Data: []byte("not json")}},
		streamRecord(t, "4", "TTL", "products", "p4"),
	}})

	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 2)
	assert.Equal(t, "2", resp.BatchItemFailures[0].ItemIdentifier)
	assert.Equal(t, "3", resp.BatchItemFailures[1].ItemIdentifier)
	assert.Len(t, pub.published, 1)
}

func TestRelay_StatsCountOnlyPublishedChanges(t *testing.T) {
	pub := &recordingPublisher{failKey: "p2"}
	r := &relay{pub: pub, logger: logging.For("test")}

	_, stats := r.process(context.Background(), events.KinesisEvent{Records: []events.KinesisEventRecord{
		streamRecord(t, "1", "INSERT", "products", "p1"),
		streamRecord(t, "2", "MODIFY", "products", "p2"),
		streamRecord(t, "3", "TTL", "products", "p3"),
		streamRecord(t, "4", "TTL", "products", "p4"),
	}})

	assert.Equal(t, batchStats{published: 1, skipped: 2, failed: 1}, stats)
	assert.Len(t, pub.published, stats.published)
}

func TestRelay_HandleLogsBatchSummary(t *testing.T) {
	var buf bytes.Buffer
	r := &relay{
		pub:    &recordingPublisher{},
		logger: zerolog.New(&buf).Level(zerolog.InfoLevel).With().Str("component", "relay").Logger(),
	}

	_, err := r.handle(context.Background(), events.KinesisEvent{Records: []events.KinesisEventRecord{
		streamRecord(t, "1", "INSERT", "products", "p1"),
	}})
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "batch done", entry["message"])
	assert.Equal(t, "relay", entry["component"])
	assert.EqualValues(t, 1, entry["published"])
}
