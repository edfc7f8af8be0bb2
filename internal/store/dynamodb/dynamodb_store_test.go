// internal/store/dynamodb/dynamodb_store_test.go
package dynamodb

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/facturabot/coordination/internal/store"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// putItemForKey matches a PutItemInput addressed at the given partition key
func putItemForKey(key string) interface{} {
	return mock.MatchedBy(func(input *dynamodb.PutItemInput) bool {
		pk, ok := input.Item["PK"].(*types.AttributeValueMemberS)
		return ok && pk.Value == key
	})
}

func TestTryAcquire(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		backend, mockClient, _ := SetupMockBackend()
		ctx := context.Background()

		mockClient.On("PutItem", ctx, putItemForKey("folio:tenant-1:A")).
			Return(&dynamodb.PutItemOutput{}, nil)

		acquired, err := backend.TryAcquire(ctx, "folio:tenant-1:A", "token-1", 5*time.Second)

		require.NoError(t, err)
		assert.True(t, acquired)
		mockClient.AssertExpectations(t)
	})

	t.Run("conditional_check_failure_means_held", func(t *testing.T) {
		backend, mockClient, _ := SetupMockBackend()
		ctx := context.Background()

		mockClient.On("PutItem", ctx, putItemForKey("folio:tenant-1:A")).
			Return(nil, &types.ConditionalCheckFailedException{})

		acquired, err := backend.TryAcquire(ctx, "folio:tenant-1:A", "token-1", 5*time.Second)

		require.NoError(t, err)
		assert.False(t, acquired)
		mockClient.AssertExpectations(t)
	})

	t.Run("infrastructure_error_is_unavailable", func(t *testing.T) {
		backend, mockClient, _ := SetupMockBackend()
		ctx := context.Background()

		mockClient.On("PutItem", ctx, putItemForKey("folio:tenant-1:A")).
			Return(nil, errors.New("throttled"))

		acquired, err := backend.TryAcquire(ctx, "folio:tenant-1:A", "token-1", 5*time.Second)

		assert.False(t, acquired)
		assert.True(t, store.IsUnavailable(err))
		mockClient.AssertExpectations(t)
	})
}

func TestRelease(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		backend, mockClient, _ := SetupMockBackend()
		ctx := context.Background()

		mockClient.On("DeleteItem", ctx, mock.MatchedBy(func(input *dynamodb.DeleteItemInput) bool {
			return input.ConditionExpression != nil
		})).Return(&dynamodb.DeleteItemOutput{}, nil)

		released, err := backend.Release(ctx, "quota:tenant-1", "token-1")

		require.NoError(t, err)
		assert.True(t, released)
		mockClient.AssertExpectations(t)
	})

	t.Run("conditional_check_failure_means_not_owner", func(t *testing.T) {
		backend, mockClient, _ := SetupMockBackend()
		ctx := context.Background()

		mockClient.On("DeleteItem", ctx, mock.Anything).
			Return(nil, &types.ConditionalCheckFailedException{})

		released, err := backend.Release(ctx, "quota:tenant-1", "token-1")

		require.NoError(t, err)
		assert.False(t, released)
		mockClient.AssertExpectations(t)
	})
}

func TestExtend(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		backend, mockClient, _ := SetupMockBackend()
		ctx := context.Background()

		mockClient.On("UpdateItem", ctx, mock.Anything).
			Return(&dynamodb.UpdateItemOutput{}, nil)

		extended, err := backend.Extend(ctx, "issuance:tenant-1", "token-1", 30*time.Second)

		require.NoError(t, err)
		assert.True(t, extended)
		mockClient.AssertExpectations(t)
	})

	t.Run("conditional_check_failure_means_lost_lease", func(t *testing.T) {
		backend, mockClient, _ := SetupMockBackend()
		ctx := context.Background()

		mockClient.On("UpdateItem", ctx, mock.Anything).
			Return(nil, &types.ConditionalCheckFailedException{})

		extended, err := backend.Extend(ctx, "issuance:tenant-1", "token-1", 30*time.Second)

		require.NoError(t, err)
		assert.False(t, extended)
		mockClient.AssertExpectations(t)
	})
}

func TestBatchRecords(t *testing.T) {
	t.Run("put_stores_payload_and_expiry", func(t *testing.T) {
		backend, mockClient, _ := SetupMockBackend()
		ctx := context.Background()
		value := []byte(`{"step":"confirm"}`)

		mockClient.On("PutItem", ctx, mock.MatchedBy(func(input *dynamodb.PutItemInput) bool {
			_, hasPayload := input.Item["Payload"].(*types.AttributeValueMemberB)
			_, hasExpiry := input.Item["ExpiresAt"].(*types.AttributeValueMemberN)
			return hasPayload && hasExpiry
		})).Return(&dynamodb.PutItemOutput{}, nil)

		err := backend.Put(ctx, "batch:v1:conv-1:b-1", value, 30*time.Minute)

		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("get_returns_payload", func(t *testing.T) {
		backend, mockClient, _ := SetupMockBackend()
		ctx := context.Background()
		expiresAt := time.Now().Add(time.Hour).Unix()

		mockClient.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{
			Item: map[string]types.AttributeValue{
				"PK":        &types.AttributeValueMemberS{Value: "batch:v1:conv-1:b-1"},
				"Payload":   &types.AttributeValueMemberB{Value: []byte(`{"step":"confirm"}`)},
				"ExpiresAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)},
			},
		}, nil)

		value, err := backend.Get(ctx, "batch:v1:conv-1:b-1")

		require.NoError(t, err)
		assert.Equal(t, []byte(`{"step":"confirm"}`), value)
		mockClient.AssertExpectations(t)
	})

	t.Run("get_missing_item", func(t *testing.T) {
		backend, mockClient, _ := SetupMockBackend()
		ctx := context.Background()

		mockClient.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

		_, err := backend.Get(ctx, "batch:v1:conv-1:b-1")

		assert.ErrorIs(t, err, store.ErrKeyNotFound)
		mockClient.AssertExpectations(t)
	})

	t.Run("get_lazily_expired_item", func(t *testing.T) {
		backend, mockClient, _ := SetupMockBackend()
		ctx := context.Background()

		// TTL deletion hasn't caught up yet; the read must still treat the
		// record as gone.
		expiresAt := time.Now().Add(-time.Minute).Unix()
		mockClient.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{
			Item: map[string]types.AttributeValue{
				"PK":        &types.AttributeValueMemberS{Value: "batch:v1:conv-1:b-1"},
				"Payload":   &types.AttributeValueMemberB{Value: []byte(`{"step":"confirm"}`)},
				"ExpiresAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)},
			},
		}, nil)

		_, err := backend.Get(ctx, "batch:v1:conv-1:b-1")

		assert.ErrorIs(t, err, store.ErrKeyNotFound)
		mockClient.AssertExpectations(t)
	})

	t.Run("delete_is_unconditional", func(t *testing.T) {
		backend, mockClient, _ := SetupMockBackend()
		ctx := context.Background()

		mockClient.On("DeleteItem", ctx, mock.MatchedBy(func(input *dynamodb.DeleteItemInput) bool {
			return input.ConditionExpression == nil
		})).Return(&dynamodb.DeleteItemOutput{}, nil)

		err := backend.Delete(ctx, "batch:v1:conv-1:b-1")

		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})
}

func TestEnsureTableExists(t *testing.T) {
	t.Run("table_already_exists", func(t *testing.T) {
		backend, mockClient, _ := SetupMockBackend()
		ctx := context.Background()

		mockClient.On("DescribeTable", ctx, mock.Anything).
			Return(&dynamodb.DescribeTableOutput{}, nil)

		err := backend.ensureTableExists(ctx)

		assert.NoError(t, err)
		mockClient.AssertNotCalled(t, "CreateTable", mock.Anything, mock.Anything)
	})

	t.Run("creates_missing_table", func(t *testing.T) {
		backend, mockClient, mockWaiter := SetupMockBackend()
		ctx := context.Background()

		mockClient.On("DescribeTable", ctx, mock.Anything).
			Return(nil, errors.New("ResourceNotFoundException"))
		mockClient.On("CreateTable", ctx, mock.Anything).
			Return(&dynamodb.CreateTableOutput{}, nil)
		mockWaiter.On("Wait", ctx, mock.Anything, 5*time.Minute).Return(nil)
		mockClient.On("UpdateTimeToLive", ctx, mock.Anything).
			Return(&dynamodb.UpdateTimeToLiveOutput{}, nil)

		err := backend.ensureTableExists(ctx)

		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
		mockWaiter.AssertExpectations(t)
	})

	t.Run("create_failure_propagates", func(t *testing.T) {
		backend, mockClient, _ := SetupMockBackend()
		ctx := context.Background()

		mockClient.On("DescribeTable", ctx, mock.Anything).
			Return(nil, errors.New("ResourceNotFoundException"))
		mockClient.On("CreateTable", ctx, mock.Anything).
			Return(nil, errors.New("access denied"))

		err := backend.ensureTableExists(ctx)

		assert.ErrorContains(t, err, "failed to create table")
		mockClient.AssertExpectations(t)
	})
}
