package tokens

import (
	"context"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/crypto"
)

// StoreConfig selects and configures a token store backend
type StoreConfig struct {
	// Backend is one of "memory", "sqlite", "postgres", "redis"
	Backend string

	// SQLitePath is the database file path for the sqlite backend
	SQLitePath string

	// PostgresURL is the connection string for the postgres backend
	PostgresURL string

	// Redis connection settings for the redis backend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewStore creates the token store backend named by config.Backend
func NewStore(ctx context.Context, config StoreConfig, encryptor *crypto.TokenEncryptor) (Store, error) {
	switch config.Backend {
	case "memory":
		return NewMemoryStore(encryptor), nil
	case "sqlite":
		if config.SQLitePath == "" {
			return nil, errors.ConfigError("sqlite token store requires TOKEN_STORE_SQLITE_PATH")
		}
		return NewSQLiteStore(config.SQLitePath, encryptor)
	case "postgres":
		if config.PostgresURL == "" {
			return nil, errors.ConfigError("postgres token store requires TOKEN_STORE_POSTGRES_URL")
		}
		return NewPostgresStore(ctx, config.PostgresURL, encryptor)
	case "redis":
		if config.RedisAddr == "" {
			return nil, errors.ConfigError("redis token store requires TOKEN_STORE_REDIS_ADDR")
		}
		return NewRedisStore(config.RedisAddr, config.RedisPassword, config.RedisDB, encryptor)
	default:
		return nil, errors.ConfigError("unknown token store backend: " + config.Backend)
	}
}
