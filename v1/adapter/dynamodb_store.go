package adapter

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/benbjohnson/clock"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
)

const (
	defaultDynamoTableName = "verrou"
	defaultDynamoOpTimeout = 5 * time.Second
	dynamoTableWait        = 2 * time.Minute

	dynamoKeyAttr     = "key"
	dynamoOwnerAttr   = "owner"
	dynamoExpiresAttr = "expires_at"
)

// DynamoDBAPI is the subset of *dynamodb.Client used by DynamoDBStore.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ DynamoDBAPI = (*dynamodb.Client)(nil)

// DynamoDBStore implements lock.Store on a DynamoDB table keyed by "key".
// Items carry the owner and an "expires_at" number in epoch milliseconds,
// computed with the store clock.
type DynamoDBStore struct {
	client     DynamoDBAPI
	table      string
	clock      clock.Clock
	timeout    time.Duration
	autoCreate bool

	mu         sync.Mutex
	tableReady bool
}

// DynamoDBOption configures a DynamoDBStore.
type DynamoDBOption func(*DynamoDBStore)

// WithDynamoTableName sets the lock table name.
func WithDynamoTableName(name string) DynamoDBOption {
	return func(s *DynamoDBStore) {
		if name != "" {
			s.table = name
		}
	}
}

// WithDynamoClock sets the clock used to compute expirations.
func WithDynamoClock(c clock.Clock) DynamoDBOption {
	return func(s *DynamoDBStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithDynamoTimeout sets the per-request timeout.
func WithDynamoTimeout(d time.Duration) DynamoDBOption {
	return func(s *DynamoDBStore) {
		s.timeout = d
	}
}

// WithoutDynamoTableCreation assumes the lock table already exists.
func WithoutDynamoTableCreation() DynamoDBOption {
	return func(s *DynamoDBStore) {
		s.autoCreate = false
	}
}

// NewDynamoDBStore returns a DynamoDBStore using client. The table is
// created on first use unless WithoutDynamoTableCreation is given.
func NewDynamoDBStore(client DynamoDBAPI, opts ...DynamoDBOption) *DynamoDBStore {
	s := &DynamoDBStore{
		client:     client,
		table:      defaultDynamoTableName,
		clock:      clock.New(),
		timeout:    defaultDynamoOpTimeout,
		autoCreate: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DynamoDBStore) ensureTable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tableReady || !s.autoCreate {
		return nil
	}

	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(dynamoKeyAttr), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(dynamoKeyAttr), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	switch {
	case stdErrors.As(err, &inUse):
		slog.Debug("verrou: lock table created concurrently", "table", s.table)
	case err != nil:
		return storageError("create_table", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client, func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = time.Second
	})
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, dynamoTableWait); err != nil {
		return storageError("create_table", err)
	}
	s.tableReady = true
	return nil
}

func (s *DynamoDBStore) prepare(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := checkContext(ctx); err != nil {
		return nil, nil, err
	}
	if err := s.ensureTable(ctx); err != nil {
		return nil, nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	return cctx, cancel, nil
}

func (s *DynamoDBStore) keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttr: &types.AttributeValueMemberS{Value: key},
	}
}

func millis(v int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return stdErrors.As(err, &ccf)
}

// Save implements lock.Store.Save with a conditional put that succeeds when
// the item is absent or expired.
func (s *DynamoDBStore) Save(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	cctx, cancel, err := s.prepare(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	now := s.clock.Now()
	item := map[string]types.AttributeValue{
		dynamoKeyAttr:   &types.AttributeValueMemberS{Value: key},
		dynamoOwnerAttr: &types.AttributeValueMemberS{Value: owner},
	}
	if ttl > 0 {
		item[dynamoExpiresAttr] = millis(ceilMillis(now.Add(ttl)))
	}

	_, err = s.client.PutItem(cctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#key) OR #expires_at <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#key":        dynamoKeyAttr,
			"#expires_at": dynamoExpiresAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": millis(now.UnixMilli()),
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, storageError("save", err)
	}
	return true, nil
}

// Delete implements lock.Store.Delete.
func (s *DynamoDBStore) Delete(ctx context.Context, key, owner string) error {
	cctx, cancel, err := s.prepare(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = s.client.DeleteItem(cctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.table),
		Key:                      s.keyOf(key),
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": dynamoOwnerAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if isConditionFailed(err) {
		return verrouerrors.ErrLockNotOwned
	}
	if err != nil {
		return storageError("delete", err)
	}
	return nil
}

// ForceDelete implements lock.Store.ForceDelete.
func (s *DynamoDBStore) ForceDelete(ctx context.Context, key string) error {
	cctx, cancel, err := s.prepare(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = s.client.DeleteItem(cctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.keyOf(key),
	})
	if err != nil {
		return storageError("force_delete", err)
	}
	return nil
}

// Extend implements lock.Store.Extend. Only a live lease can be extended.
func (s *DynamoDBStore) Extend(ctx context.Context, key, owner string, ttl time.Duration) error {
	cctx, cancel, err := s.prepare(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	now := s.clock.Now()
	_, err = s.client.UpdateItem(cctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.keyOf(key),
		UpdateExpression:    aws.String("SET #expires_at = :expires_at"),
		ConditionExpression: aws.String("#owner = :owner AND (attribute_not_exists(#expires_at) OR #expires_at > :now)"),
		ExpressionAttributeNames: map[string]string{
			"#owner":      dynamoOwnerAttr,
			"#expires_at": dynamoExpiresAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner":      &types.AttributeValueMemberS{Value: owner},
			":expires_at": millis(ceilMillis(now.Add(ttl))),
			":now":        millis(now.UnixMilli()),
		},
	})
	if isConditionFailed(err) {
		return verrouerrors.ErrLockNotOwned
	}
	if err != nil {
		return storageError("extend", err)
	}
	return nil
}

// Exists implements lock.Store.Exists using a strongly consistent read.
func (s *DynamoDBStore) Exists(ctx context.Context, key string) (bool, error) {
	cctx, cancel, err := s.prepare(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	out, err := s.client.GetItem(cctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.keyOf(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, storageError("exists", err)
	}
	if len(out.Item) == 0 {
		return false, nil
	}
	attr, ok := out.Item[dynamoExpiresAttr].(*types.AttributeValueMemberN)
	if !ok {
		return true, nil
	}
	expiresAt, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return false, storageError("exists", err)
	}
	return expiresAt > s.clock.Now().UnixMilli(), nil
}

// Disconnect implements lock.Store.Disconnect. The SDK client holds no
// connection that needs closing.
func (s *DynamoDBStore) Disconnect(context.Context) error {
	return nil
}
