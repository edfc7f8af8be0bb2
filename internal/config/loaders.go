// internal/config/loaders.go
package config

import (
	"fmt"
	"time"

	"github.com/facturabot/coordination/internal/store/dynamodb"
	"github.com/facturabot/coordination/internal/store/memory"
	"github.com/facturabot/coordination/internal/store/redis"
	"github.com/spf13/viper"
)

// RedisConfigLoader loads Redis configuration
func RedisConfigLoader(v *viper.Viper) (*redis.RedisConfig, error) {
	v.SetDefault("redisConfig.host", "127.0.0.1")
	v.SetDefault("redisConfig.port", 6379)
	v.SetDefault("redisConfig.db", 0)
	v.SetDefault("redisConfig.ttl", 15)
	v.SetDefault("redisConfig.keyPrefix", "facturabot")

	config := redis.NewRedisConfig()
	if err := v.UnmarshalKey("redisConfig", config); err != nil {
		return nil, fmt.Errorf("unable to decode Redis config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Redis configuration: %w", err)
	}

	return config, nil
}

// DynamoConfigLoader loads DynamoDB configuration
func DynamoConfigLoader(v *viper.Viper) (*dynamodb.DynamoDBConfig, error) {
	v.SetDefault("dynamoDbConfig.region", "us-west-2")
	v.SetDefault("dynamoDbConfig.table", "facturabot-coordination")
	v.SetDefault("dynamoDbConfig.ttl", 15)
	v.SetDefault("dynamoDbConfig.endpoints", []string{"dynamodb.us-west-2.amazonaws.com"})
	v.SetDefault("dynamoDbConfig.profile", "default")

	config := dynamodb.NewDynamoDBConfig()
	if err := v.UnmarshalKey("dynamoDbConfig", config); err != nil {
		return nil, fmt.Errorf("unable to decode DynamoDB config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid DynamoDB configuration: %w", err)
	}

	return config, nil
}

// MemoryConfigLoader loads in-memory backend configuration
func MemoryConfigLoader(v *viper.Viper) (*memory.MemoryConfig, error) {
	v.SetDefault("memoryConfig.ttl", 15)
	v.SetDefault("memoryConfig.cleanupInterval", 1*time.Minute)

	config := memory.NewMemoryConfig()
	if err := v.UnmarshalKey("memoryConfig", config); err != nil {
		return nil, fmt.Errorf("unable to decode memory config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid memory configuration: %w", err)
	}

	return config, nil
}
