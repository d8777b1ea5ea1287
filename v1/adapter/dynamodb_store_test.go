package adapter_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/benbjohnson/clock"

	"github.com/mirkobrombin/go-verrou/v1/adapter"
	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
	"github.com/mirkobrombin/go-verrou/v1/locktest"
)

// fakeDynamo evaluates the handful of condition expressions DynamoDBStore
// issues against an in-memory table.
type fakeDynamo struct {
	mu      sync.Mutex
	items   map[string]map[string]types.AttributeValue
	created int
	exists  bool
	err     error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func attrS(m map[string]types.AttributeValue, name string) string {
	if v, ok := m[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func attrN(m map[string]types.AttributeValue, name string) (int64, bool) {
	v, ok := m[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	return n, err == nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeDynamo) ownerMatches(key string, values map[string]types.AttributeValue) bool {
	item, ok := f.items[key]
	return ok && attrS(item, "owner") == attrS(values, ":owner")
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := attrS(in.Item, "key")
	if existing, ok := f.items[key]; ok && in.ConditionExpression != nil {
		now, _ := attrN(in.ExpressionAttributeValues, ":now")
		exp, hasExp := attrN(existing, "expires_at")
		if !hasExp || exp > now {
			return nil, conditionFailed()
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := attrS(in.Key, "key")
	if in.ConditionExpression != nil && !f.ownerMatches(key, in.ExpressionAttributeValues) {
		return nil, conditionFailed()
	}
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := attrS(in.Key, "key")
	if !f.ownerMatches(key, in.ExpressionAttributeValues) {
		return nil, conditionFailed()
	}
	now, _ := attrN(in.ExpressionAttributeValues, ":now")
	if exp, hasExp := attrN(f.items[key], "expires_at"); hasExp && exp <= now {
		return nil, conditionFailed()
	}
	f.items[key]["expires_at"] = in.ExpressionAttributeValues[":expires_at"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if in.ConsistentRead == nil || !*in.ConsistentRead {
		return nil, errors.New("fake: expected a consistent read")
	}
	item := f.items[attrS(in.Key, "key")]
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return &dynamodb.GetItemOutput{Item: out}, nil
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	if f.exists {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists: " + aws.ToString(in.TableName))}
	}
	f.exists = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.exists {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func TestDynamoDBStoreConformance(t *testing.T) {
	locktest.Run(t, func(t *testing.T) locktest.Harness {
		mock := clock.NewMock()
		return locktest.Harness{
			Store:   adapter.NewDynamoDBStore(newFakeDynamo(), adapter.WithDynamoClock(mock)),
			Advance: mock.Add,
		}
	})
}

func TestDynamoDBStoreCreatesTableOnce(t *testing.T) {
	fake := newFakeDynamo()
	s := adapter.NewDynamoDBStore(fake, adapter.WithDynamoTableName("locks"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Exists(ctx, "k"); err != nil {
			t.Fatalf("Exists: %v", err)
		}
	}
	if fake.created != 1 {
		t.Fatalf("expected table creation once, got %d", fake.created)
	}

	other := adapter.NewDynamoDBStore(fake, adapter.WithDynamoTableName("locks"))
	if _, err := other.Exists(ctx, "k"); err != nil {
		t.Fatalf("existing table should be tolerated: %v", err)
	}

	skip := newFakeDynamo()
	skip.exists = true
	if _, err := adapter.NewDynamoDBStore(skip, adapter.WithoutDynamoTableCreation()).Exists(ctx, "k"); err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if skip.created != 0 {
		t.Fatalf("table creation should be skipped")
	}
}

func TestDynamoDBStoreStorageErrors(t *testing.T) {
	fake := newFakeDynamo()
	s := adapter.NewDynamoDBStore(fake)
	ctx := context.Background()
	if _, err := s.Exists(ctx, "k"); err != nil {
		t.Fatalf("Exists: %v", err)
	}

	fake.err = errors.New("throttled")
	if _, err := s.Save(ctx, "k", "a", time.Second); !errors.Is(err, verrouerrors.ErrStorage) {
		t.Fatalf("expected storage error from Save, got %v", err)
	}
	if err := s.Delete(ctx, "k", "a"); !errors.Is(err, verrouerrors.ErrStorage) || errors.Is(err, verrouerrors.ErrLockNotOwned) {
		t.Fatalf("expected storage error from Delete, got %v", err)
	}
	if err := s.Extend(ctx, "k", "a", time.Second); !errors.Is(err, verrouerrors.ErrStorage) {
		t.Fatalf("expected storage error from Extend, got %v", err)
	}
}
