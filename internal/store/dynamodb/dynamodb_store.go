// internal/store/dynamodb/dynamodb_store.go
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/facturabot/coordination/internal/backends"
	"github.com/facturabot/coordination/internal/observability"
	"github.com/facturabot/coordination/internal/store"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// BackendName is the registered name of the DynamoDB backend
const BackendName = "dynamodb"

// dynamoDBClient defines the interface for DynamoDB operations
// This allows for easier mocking in tests
type dynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// tableExistsWaiter defines the Wait method of dynamodb.TableExistsWaiter
type tableExistsWaiter interface {
	Wait(ctx context.Context, params *dynamodb.DescribeTableInput, maxWaitDur time.Duration, optFns ...func(*dynamodb.TableExistsWaiterOptions)) error
}

func init() {
	backends.Register(BackendName, newBackend)
}

// newBackend creates a new DynamoDB backend instance from configuration
func newBackend(ctx context.Context, options backends.Config, logger *observability.SLogger) (store.Backend, error) {
	cfg, ok := options.(*DynamoDBConfig)
	if !ok && options != nil {
		return nil, &store.InvalidConfigurationError{Backend: BackendName, Config: options}
	}
	return New(ctx, cfg, logger)
}

// Backend implements the store.Backend interface for DynamoDB.
//
// Lock records keep their expiry in HolderExpiresMs (epoch milliseconds)
// because lock leases need sub-second precision; batch records use the
// table's TTL attribute (ExpiresAt, epoch seconds) for native cleanup and
// are additionally expiry-checked on read, since DynamoDB TTL deletion is
// lazy.
type Backend struct {
	client    dynamoDBClient
	tableName string
	logger    *observability.SLogger
	config    *DynamoDBConfig
	waiter    tableExistsWaiter
}

// GetConfig returns the current backend configuration
func (b *Backend) GetConfig() store.StoreConfig {
	return b.config
}

// New creates a new DynamoDB backend
func New(ctx context.Context, config *DynamoDBConfig, logger *observability.SLogger) (*Backend, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	var clientOpts []func(*awsconfig.LoadOptions) error

	// Use custom endpoint if provided
	if len(config.Endpoints) > 0 {
		clientOpts = append(clientOpts, awsconfig.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{URL: config.Endpoints[0]}, nil
				},
			),
		))
	}

	// Use static credentials if provided
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		clientOpts = append(clientOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	clientOpts = append(clientOpts, awsconfig.WithRegion(config.Region))

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, clientOpts...)
	if err != nil {
		logger.Errorf("Failed to load AWS config: %v", err)
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsConfig)

	backend := &Backend{
		client:    client,
		tableName: config.Table,
		logger:    logger,
		config:    config,
		waiter:    dynamodb.NewTableExistsWaiter(client),
	}

	if err := backend.ensureTableExists(ctx); err != nil {
		return nil, err
	}

	return backend, nil
}

// ensureTableExists checks if the DynamoDB table exists and creates it if it doesn't
func (b *Backend) ensureTableExists(ctx context.Context) error {
	_, err := b.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(b.tableName),
	})

	if err == nil {
		return nil
	}

	_, err = b.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(b.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("PK"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("PK"),
				KeyType:       types.KeyTypeHash,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})

	if err != nil {
		b.logger.Errorf("Failed to create table: %v", err)
		return fmt.Errorf("failed to create table: %w", err)
	}

	err = b.waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(b.tableName),
	}, 5*time.Minute)

	if err != nil {
		b.logger.Errorf("Failed to wait for table creation: %v", err)
		return fmt.Errorf("failed to wait for table creation: %w", err)
	}

	// Enable the TTL attribute used by batch records. Already-enabled is
	// reported as a validation error and can be ignored.
	if _, err := b.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(b.tableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String("ExpiresAt"),
			Enabled:       aws.Bool(true),
		},
	}); err != nil {
		b.logger.Debugf("UpdateTimeToLive: %v", err)
	}

	return nil
}

// TryAcquire attempts to create the lock record if absent, expired, or
// already held by the same token
func (b *Backend) TryAcquire(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	now := time.Now()
	expiryMs := now.Add(lease).UnixMilli()

	_, err := b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.tableName),
		Item: map[string]types.AttributeValue{
			"PK":              &types.AttributeValueMemberS{Value: key},
			"HolderToken":     &types.AttributeValueMemberS{Value: token},
			"HolderExpiresMs": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiryMs, 10)},
		},
		ConditionExpression: aws.String(
			"attribute_not_exists(PK) OR " + // lock doesn't exist
				"HolderExpiresMs < :now OR " + // lock has expired
				"(HolderToken = :token AND HolderExpiresMs >= :now)", // same token can renew
		),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
			":token": &types.AttributeValueMemberS{Value: token},
		},
	})

	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		b.logger.Errorf("Error acquiring lock: %v", err)
		return false, &store.UnavailableError{Backend: BackendName, Err: err}
	}

	return true, nil
}

// Release deletes the lock record only when the stored token matches
func (b *Backend) Release(ctx context.Context, key, token string) (bool, error) {
	_, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression: aws.String("attribute_exists(PK) AND HolderToken = :token"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: token},
		},
	})

	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		b.logger.Errorf("Error releasing lock: %v", err)
		return false, &store.UnavailableError{Backend: BackendName, Err: err}
	}

	return true, nil
}

// Extend refreshes the lease of a lock still owned by token
func (b *Backend) Extend(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	now := time.Now()
	expiryMs := now.Add(lease).UnixMilli()

	_, err := b.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(b.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    aws.String("SET HolderExpiresMs = :expiry"),
		ConditionExpression: aws.String("HolderToken = :token AND HolderExpiresMs >= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expiry": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiryMs, 10)},
			":token":  &types.AttributeValueMemberS{Value: token},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})

	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		b.logger.Debugf("Failed to extend lock: %v", err)
		return false, &store.UnavailableError{Backend: BackendName, Err: err}
	}

	return true, nil
}

// Put stores a batch record with the given TTL
func (b *Backend) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl).Unix()

	_, err := b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: key},
			"Payload":   &types.AttributeValueMemberB{Value: value},
			"ExpiresAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)},
		},
	})

	if err != nil {
		b.logger.Errorf("Error storing batch record: %v", err)
		return &store.UnavailableError{Backend: BackendName, Err: err}
	}
	return nil
}

// Get retrieves a batch record, treating lazily-deleted expired items as absent
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})

	if err != nil {
		b.logger.Errorf("Error reading batch record: %v", err)
		return nil, &store.UnavailableError{Backend: BackendName, Err: err}
	}

	if result.Item == nil {
		return nil, store.ErrKeyNotFound
	}

	if expiresAttr, ok := result.Item["ExpiresAt"].(*types.AttributeValueMemberN); ok {
		expiresAt, err := strconv.ParseInt(expiresAttr.Value, 10, 64)
		if err == nil && time.Now().Unix() >= expiresAt {
			return nil, store.ErrKeyNotFound
		}
	}

	payload, ok := result.Item["Payload"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, store.ErrKeyNotFound
	}

	return payload.Value, nil
}

// Delete removes a batch record
func (b *Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: key},
		},
	})

	if err != nil {
		b.logger.Errorf("Error deleting batch record: %v", err)
		return &store.UnavailableError{Backend: BackendName, Err: err}
	}
	return nil
}

// Close closes the DynamoDB client
func (b *Backend) Close() {
	// DynamoDB client doesn't need explicit closing
}
