package s3

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vash/blobstore"
)

// mockDDBClient is an in-memory DynamoDB mock for testing.
type mockDDBClient struct {
	mu       sync.RWMutex
	items    map[string]map[string]types.AttributeValue // base_uri:version -> item
	queryErr error
	// beforePut runs before the conditional check, for simulating races.
	beforePut func()
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func (m *mockDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.beforePut != nil {
		m.beforePut()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	baseURI := params.Item["base_uri"].(*types.AttributeValueMemberS).Value
	version := params.Item["version"].(*types.AttributeValueMemberN).Value
	key := baseURI + ":" + version

	if aws.ToString(params.ConditionExpression) == "attribute_not_exists(version)" {
		if _, exists := m.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}

	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	baseURI := params.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for _, item := range m.items {
		if item["base_uri"].(*types.AttributeValueMemberS).Value == baseURI {
			items = append(items, item)
		}
	}

	version := func(item map[string]types.AttributeValue) uint64 {
		v, _ := strconv.ParseUint(item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
		return v
	}
	sort.Slice(items, func(i, j int) bool { return version(items[i]) > version(items[j]) })

	if params.Limit != nil && int(*params.Limit) < len(items) {
		items = items[:*params.Limit]
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func TestDDBCommitStore_Commits(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	inner := blobstore.NewMemoryStore()
	store := NewDDBCommitStore(inner, ddb, "vash-commits", "s3://bucket/index/")

	_, err := store.Open(ctx, CurrentName)
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	for i := 1; i <= 12; i++ {
		target := "MANIFEST-" + strconv.Itoa(i)
		require.NoError(t, store.Put(ctx, CurrentName, []byte(target)))

		got, err := blobstore.ReadFile(ctx, store, CurrentName)
		require.NoError(t, err)
		assert.Equal(t, target, string(got))
	}

	version, target, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), version)
	assert.Equal(t, "MANIFEST-12", target)

	// CURRENT never reaches the inner store.
	assert.Zero(t, inner.Len())

	require.NoError(t, store.Put(ctx, "runs/1/database.bin", []byte("db")))
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"runs/1/database.bin"}, names)
}

func TestDDBCommitStore_ConcurrentModification(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	store := NewDDBCommitStore(blobstore.NewMemoryStore(), ddb, "vash-commits", "s3://bucket/index/")
	rival := NewDDBCommitStore(blobstore.NewMemoryStore(), ddb, "vash-commits", "s3://bucket/index/")

	ddb.beforePut = func() {
		ddb.beforePut = nil
		require.NoError(t, rival.Put(ctx, CurrentName, []byte("MANIFEST-rival")))
	}

	err := store.Put(ctx, CurrentName, []byte("MANIFEST-mine"))
	assert.ErrorIs(t, err, ErrConcurrentModification)

	_, target, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-rival", target)
}

func TestDDBCommitStore_Isolation(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	a := NewDDBCommitStore(blobstore.NewMemoryStore(), ddb, "t", "s3://bucket/a/")
	b := NewDDBCommitStore(blobstore.NewMemoryStore(), ddb, "t", "s3://bucket/b/")

	require.NoError(t, a.Put(ctx, CurrentName, []byte("A")))
	_, err := b.Open(ctx, CurrentName)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestDDBCommitStore_Errors(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	store := NewDDBCommitStore(blobstore.NewMemoryStore(), ddb, "t", "s3://bucket/")

	_, err := store.Create(ctx, CurrentName)
	assert.ErrorIs(t, err, blobstore.ErrInvalidName)

	boom := errors.New("throttled")
	ddb.queryErr = boom
	assert.ErrorIs(t, store.Put(ctx, CurrentName, []byte("x")), boom)
	_, err = store.Open(ctx, CurrentName)
	assert.ErrorIs(t, err, boom)
}
