package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// maxTxnItems is the DynamoDB limit on items per TransactWriteItems call.
const maxTxnItems = 100

// DynamoStore keeps documents in a DynamoDB table with partition key "pk"
// (collection) and sort key "sk" (document key). Writes are conditional on
// the "rev" attribute. With a Kinesis stream attached to the table, every
// change also reaches the feed through cmd/lambda/relay.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

type dynamoDoc struct {
	Collection string `dynamodbav:"pk"`
	Key        string `dynamodbav:"sk"`
	Body       string `dynamodbav:"body"`
	Rev        int64  `dynamodbav:"rev"`
	UpdatedAt  string `dynamodbav:"updated_at"`
}

func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

// NewDynamoClient loads the default AWS configuration. A non-empty endpoint
// points the client at a local DynamoDB.
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func dynamoKey(loc location) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: loc.collection},
		"sk": &types.AttributeValueMemberS{Value: loc.key},
	}
}

func dynamoErr(err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	var tcf *types.TransactionConflictException
	if errors.As(err, &tcf) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (s *DynamoStore) load(ctx context.Context, loc location) (json.RawMessage, int64, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            dynamoKey(loc),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, dynamoErr(err)
	}
	if result.Item == nil {
		return nil, 0, nil
	}

	var d dynamoDoc
	if err := attributevalue.UnmarshalMap(result.Item, &d); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return json.RawMessage(d.Body), d.Rev, nil
}

// putInput builds a conditional put of doc over the revision rev (0 means the
// item must not exist yet).
func (s *DynamoStore) putInput(loc location, doc json.RawMessage, rev int64) (*dynamodb.PutItemInput, error) {
	av, err := attributevalue.MarshalMap(dynamoDoc{
		Collection: loc.collection,
		Key:        loc.key,
		Body:       string(doc),
		Rev:        rev + 1,
		UpdatedAt:  time.Now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	}
	if rev == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(pk)")
	} else {
		input.ConditionExpression = aws.String("rev = :rev")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":rev": &types.AttributeValueMemberN{Value: strconv.FormatInt(rev, 10)},
		}
	}
	return input, nil
}

func (s *DynamoStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	loc, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	doc, _, err := s.load(ctx, loc)
	if err != nil {
		return nil, err
	}
	return readAt(doc, loc)
}

// Write replaces a document unconditionally. A field write is a single
// compare-and-set attempt on the enclosing document.
func (s *DynamoStore) Write(ctx context.Context, path string, value any) error {
	loc, err := parsePath(path)
	if err != nil {
		return err
	}

	if loc.field != "" {
		return s.AtomicUpdate(ctx, path, func(json.RawMessage) (any, error) { return value, nil })
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              dynamoKey(loc),
		UpdateExpression: aws.String("SET body = :body, updated_at = :now ADD rev :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":body": &types.AttributeValueMemberS{Value: string(encoded)},
			":now":  &types.AttributeValueMemberS{Value: time.Now().Format(time.RFC3339Nano)},
			":one":  &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		return dynamoErr(err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, path string) error {
	loc, err := parsePath(path)
	if err != nil {
		return err
	}
	if loc.field != "" {
		return fmt.Errorf("%w: cannot delete a field: %q", ErrInvalidPath, path)
	}

	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 dynamoKey(loc),
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return dynamoErr(err)
	}
	return nil
}

func (s *DynamoStore) AtomicUpdate(ctx context.Context, path string, fn UpdateFunc) error {
	loc, err := parsePath(path)
	if err != nil {
		return err
	}

	doc, rev, err := s.load(ctx, loc)
	if err != nil {
		return err
	}
	next, err := applyUpdate(doc, loc, fn)
	if err != nil {
		return err
	}

	input, err := s.putInput(loc, next, rev)
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		return dynamoErr(err)
	}
	return nil
}

func (s *DynamoStore) AppendChild(ctx context.Context, collection string, value any) (string, error) {
	if err := validCollection(collection); err != nil {
		return "", err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}

	key := NewKey()
	input, err := s.putInput(location{collection: collection, key: key}, encoded, 0)
	if err != nil {
		return "", err
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		return "", dynamoErr(err)
	}
	return key, nil
}

func (s *DynamoStore) List(ctx context.Context, collection string) ([]Node, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: collection},
		},
		ConsistentRead:   aws.Bool(true),
		ScanIndexForward: aws.Bool(true),
	})

	var nodes []Node
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, dynamoErr(err)
		}
		for _, item := range page.Items {
			var d dynamoDoc
			if err := attributevalue.UnmarshalMap(item, &d); err != nil {
				return nil, fmt.Errorf("failed to unmarshal document: %w", err)
			}
			nodes = append(nodes, Node{Key: d.Key, Value: json.RawMessage(d.Body)})
		}
	}
	return nodes, nil
}

// Commit reads every touched document, applies the updates, and writes the
// result with TransactWriteItems conditioned on the revisions it read. Any
// interleaved write cancels the transaction as ErrConflict.
func (s *DynamoStore) Commit(ctx context.Context, txn Txn) error {
	type staged struct {
		loc location
		doc json.RawMessage
		rev int64
	}

	docs := make(map[string]*staged)
	var order []string
	for _, u := range txn.Updates {
		loc, err := parsePath(u.Path)
		if err != nil {
			return err
		}
		st, ok := docs[loc.doc()]
		if !ok {
			doc, rev, err := s.load(ctx, loc)
			if err != nil {
				return err
			}
			st = &staged{loc: loc, doc: doc, rev: rev}
			docs[loc.doc()] = st
			order = append(order, loc.doc())
		}
		next, err := applyUpdate(st.doc, loc, u.Fn)
		if err != nil {
			return err
		}
		st.doc = next
	}
	slices.Sort(order)

	if len(order)+len(txn.Creates) > maxTxnItems {
		return fmt.Errorf("%w: %d items exceeds the limit of %d", ErrTxnUnsupported, len(order)+len(txn.Creates), maxTxnItems)
	}

	items := make([]types.TransactWriteItem, 0, len(order)+len(txn.Creates))
	for _, path := range order {
		st := docs[path]
		put, err := s.putInput(st.loc, st.doc, st.rev)
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:                 put.TableName,
			Item:                      put.Item,
			ConditionExpression:       put.ConditionExpression,
			ExpressionAttributeValues: put.ExpressionAttributeValues,
		}})
	}

	for _, c := range txn.Creates {
		loc, err := parsePath(c.Path)
		if err != nil {
			return err
		}
		if loc.field != "" {
			return fmt.Errorf("%w: create needs a document path: %q", ErrInvalidPath, c.Path)
		}
		encoded, err := json.Marshal(c.Value)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		put, err := s.putInput(loc, encoded, 0)
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:           put.TableName,
			Item:                put.Item,
			ConditionExpression: put.ConditionExpression,
		}})
	}

	if len(items) == 0 {
		return nil
	}
	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return dynamoErr(err)
	}
	return nil
}
