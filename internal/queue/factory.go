package queue

import (
	"context"

	"wearable-connector/internal/common/errors"
)

// Config selects and configures a queue backend
type Config struct {
	// Backend is one of "memory", "redis", "sqs"
	Backend string

	// Redis connection settings for the redis backend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// SQS settings for the sqs backend
	SQS SQSConfig
}

// New creates the queue backend named by config.Backend
func New(ctx context.Context, config Config) (Queue, error) {
	switch config.Backend {
	case "memory":
		return NewMemoryQueue(), nil
	case "redis":
		if config.RedisAddr == "" {
			return nil, errors.ConfigError("redis queue requires QUEUE_REDIS_ADDR")
		}
		return NewRedisQueue(config.RedisAddr, config.RedisPassword, config.RedisDB, config.RedisPrefix)
	case "sqs":
		return NewSQSQueue(ctx, config.SQS)
	default:
		return nil, errors.ConfigError("unknown queue backend: " + config.Backend)
	}
}
