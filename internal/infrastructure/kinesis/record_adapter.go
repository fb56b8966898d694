package kinesis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/example/pos-checkout/internal/infrastructure/feed"
)

// ConvertFromKinesisRecord converts a Kinesis record (DynamoDB Streams format)
// written by the DynamoDB store into a feed change.
func ConvertFromKinesisRecord(record events.KinesisEventRecord) (*feed.Change, error) {
	var dynamoDBRecord events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &dynamoDBRecord); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DynamoDB record: %w", err)
	}
	if dynamoDBRecord.EventID == "" {
		dynamoDBRecord.EventID = record.EventID
	}
	return ConvertFromDynamoDBStreamRecord(dynamoDBRecord)
}

// ConvertFromDynamoDBStreamRecord converts a DynamoDB Stream record to a feed
// change. Event names other than INSERT, MODIFY and REMOVE yield nil.
func ConvertFromDynamoDBStreamRecord(record events.DynamoDBEventRecord) (*feed.Change, error) {
	var op feed.Op
	switch record.EventName {
	case "INSERT":
		op = feed.OpWrite
	case "MODIFY":
		op = feed.OpUpdate
	case "REMOVE":
		op = feed.OpDelete
	default:
		return nil, nil
	}

	keys := record.Change.Keys
	if keys == nil {
		keys = record.Change.NewImage
	}
	if keys == nil {
		keys = record.Change.OldImage
	}
	return convertKeys(record.EventID, op, keys, record.Change.ApproximateCreationDateTime.Time)
}

func convertKeys(id string, op feed.Op, keys map[string]events.DynamoDBAttributeValue, at time.Time) (*feed.Change, error) {
	if keys == nil {
		return nil, fmt.Errorf("DynamoDB record has no keys")
	}

	change := &feed.Change{ID: id, Op: op, At: at}
	if v, ok := keys["pk"]; ok && v.DataType() == events.DataTypeString {
		change.Collection = v.String()
	}
	if v, ok := keys["sk"]; ok && v.DataType() == events.DataTypeString {
		change.Key = v.String()
	}
	if change.At.IsZero() {
		change.At = time.Now()
	}

	if change.Collection == "" || change.Key == "" {
		return nil, fmt.Errorf("missing required keys: pk=%q, sk=%q", change.Collection, change.Key)
	}
	return change, nil
}

// BatchConvertFromKinesisEvent converts all records from a Kinesis event.
// Returns the successfully converted changes and any errors encountered.
func BatchConvertFromKinesisEvent(kinesisEvent events.KinesisEvent) ([]*feed.Change, []error) {
	var changes []*feed.Change
	var errs []error

	for _, record := range kinesisEvent.Records {
		change, err := ConvertFromKinesisRecord(record)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", record.EventID, err))
			continue
		}
		if change != nil {
			changes = append(changes, change)
		}
	}

	return changes, errs
}
