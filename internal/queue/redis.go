package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/utils"
	"wearable-connector/internal/vendors"
)

// RedisQueue implements the queue on Redis. A sorted set holds message IDs
// scored by their visible-at time; leasing a message bumps its score past
// the visibility deadline, so redelivery needs no background reaper. A
// hash holds the serialized events and another the receive counts.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// claimScript atomically selects visible messages, extends their lease,
// and bumps their receive counts, so two consumers never lease the same
// delivery.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for i, id in ipairs(ids) do
	redis.call('ZADD', KEYS[1], ARGV[3], id)
	redis.call('HINCRBY', KEYS[2], id, 1)
end
return ids
`)

// NewRedisQueue connects to Redis and verifies the connection
func NewRedisQueue(addr, password string, db int, prefix string) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.InternalError("failed to connect to redis", err)
	}

	return NewRedisQueueWithClient(client, prefix), nil
}

// NewRedisQueueWithClient wraps an existing client, used by tests
func NewRedisQueueWithClient(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "events"
	}
	return &RedisQueue{client: client, prefix: prefix}
}

func (q *RedisQueue) pendingKey() string {
	return q.prefix + ":pending"
}

func (q *RedisQueue) dataKey() string {
	return q.prefix + ":data"
}

func (q *RedisQueue) countKey() string {
	return q.prefix + ":receive_count"
}

// storedEvent is the serialized payload kept in the data hash
type storedEvent struct {
	Event      vendors.WebhookEvent `json:"event"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
}

func (q *RedisQueue) Enqueue(ctx context.Context, event *vendors.WebhookEvent) (string, error) {
	messageID, err := utils.GenerateMessageID()
	if err != nil {
		return "", errors.InternalError("failed to generate message id", err)
	}

	payload, err := json.Marshal(storedEvent{Event: *event, EnqueuedAt: time.Now()})
	if err != nil {
		return "", errors.InternalError("failed to serialize event", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.dataKey(), messageID, payload)
	pipe.ZAdd(ctx, q.pendingKey(), &redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: messageID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", errors.InternalError("failed to enqueue event", err)
	}

	return messageID, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, maxMessages int, visibilityTimeout time.Duration) ([]*vendors.QueueMessage, error) {
	if maxMessages <= 0 {
		return nil, errors.ValidationError("maxMessages must be positive")
	}

	now := time.Now()
	visibleUntil := now.Add(visibilityTimeout)

	raw, err := claimScript.Run(ctx, q.client,
		[]string{q.pendingKey(), q.countKey()},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.Itoa(maxMessages),
		strconv.FormatInt(visibleUntil.UnixMilli(), 10),
	).Result()
	if err != nil {
		return nil, errors.InternalError("failed to claim messages", err)
	}

	ids, ok := raw.([]interface{})
	if !ok || len(ids) == 0 {
		return []*vendors.QueueMessage{}, nil
	}

	result := make([]*vendors.QueueMessage, 0, len(ids))
	for _, rawID := range ids {
		messageID, ok := rawID.(string)
		if !ok {
			continue
		}

		payload, err := q.client.HGet(ctx, q.dataKey(), messageID).Result()
		if err == redis.Nil {
			// acknowledged between claim and read
			continue
		}
		if err != nil {
			return nil, errors.InternalError("failed to read message payload", err)
		}

		var stored storedEvent
		if err := json.Unmarshal([]byte(payload), &stored); err != nil {
			return nil, errors.InternalError("corrupt message payload", err)
		}

		count, err := q.client.HGet(ctx, q.countKey(), messageID).Int()
		if err != nil && err != redis.Nil {
			return nil, errors.InternalError("failed to read receive count", err)
		}

		result = append(result, &vendors.QueueMessage{
			MessageID:    messageID,
			Event:        stored.Event,
			ReceiveCount: count,
			EnqueuedAt:   stored.EnqueuedAt,
		})
	}
	return result, nil
}

func (q *RedisQueue) Acknowledge(ctx context.Context, msg *vendors.QueueMessage) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.pendingKey(), msg.MessageID)
	pipe.HDel(ctx, q.dataKey(), msg.MessageID)
	pipe.HDel(ctx, q.countKey(), msg.MessageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.InternalError("failed to acknowledge message", err)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
