package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a KV backend.
type Config struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	DynamoTable   string `mapstructure:"dynamo_table"`
	DynamoRegion  string `mapstructure:"dynamo_region"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// Open builds the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (KV, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite", "postgres":
		return OpenSQL(cfg.Driver, cfg.DSN, logger)
	case "redis":
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
	case "dynamodb":
		return OpenDynamo(ctx, cfg.DynamoRegion, cfg.DynamoTable, cfg.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
