package tokens

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/crypto"
	"wearable-connector/internal/vendors"
)

// RedisStore persists tokens in Redis hashes. Each token lives under
// "token:{vendor}:{user_id}"; a per-vendor set tracks connected users so
// the pull scheduler can enumerate them without scanning the keyspace.
type RedisStore struct {
	client    *redis.Client
	encryptor *crypto.TokenEncryptor
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(addr, password string, db int, encryptor *crypto.TokenEncryptor) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.TokenError("failed to connect to redis", err)
	}

	return &RedisStore{client: client, encryptor: encryptor}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests
func NewRedisStoreWithClient(client *redis.Client, encryptor *crypto.TokenEncryptor) *RedisStore {
	return &RedisStore{client: client, encryptor: encryptor}
}

func redisTokenKey(vendor vendors.VendorType, userID string) string {
	return "token:" + string(vendor) + ":" + userID
}

func redisUsersKey(vendor vendors.VendorType) string {
	return "token_users:" + string(vendor)
}

func (s *RedisStore) Get(ctx context.Context, vendor vendors.VendorType, userID string) (*vendors.VendorToken, error) {
	fields, err := s.client.HGetAll(ctx, redisTokenKey(vendor, userID)).Result()
	if err != nil {
		return nil, errors.TokenError("failed to read token", err)
	}
	if len(fields) == 0 {
		return nil, errors.NotFoundError("token for " + tokenKey(vendor, userID))
	}

	plainAccess, plainRefresh, err := decryptToken(s.encryptor, fields["access_token"], fields["refresh_token"])
	if err != nil {
		return nil, err
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return nil, errors.TokenError("corrupt expires_at field", err)
	}

	token := &vendors.VendorToken{
		Vendor:       vendor,
		UserID:       userID,
		AccessToken:  plainAccess,
		RefreshToken: plainRefresh,
		ExpiresAt:    expiresAt,
	}

	if raw, ok := fields["last_pull"]; ok && raw != "" {
		lastPull, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, errors.TokenError("corrupt last_pull field", err)
		}
		token.LastPull = &lastPull
	}

	return token, nil
}

func (s *RedisStore) Put(ctx context.Context, token *vendors.VendorToken) error {
	accessToken, refreshToken, err := encryptToken(s.encryptor, token)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_at":    token.ExpiresAt.Format(time.RFC3339Nano),
	}
	if token.LastPull != nil {
		fields["last_pull"] = token.LastPull.Format(time.RFC3339Nano)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisTokenKey(token.Vendor, token.UserID))
	pipe.HSet(ctx, redisTokenKey(token.Vendor, token.UserID), fields)
	pipe.SAdd(ctx, redisUsersKey(token.Vendor), token.UserID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.TokenError("failed to store token", err)
	}
	return nil
}

func (s *RedisStore) UpdateLastPull(ctx context.Context, vendor vendors.VendorType, userID string, ts time.Time) error {
	key := redisTokenKey(vendor, userID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return errors.TokenError("failed to check token existence", err)
	}
	if exists == 0 {
		return errors.NotFoundError("token for " + tokenKey(vendor, userID))
	}

	if err := s.client.HSet(ctx, key, "last_pull", ts.Format(time.RFC3339Nano)).Err(); err != nil {
		return errors.TokenError("failed to update last_pull", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, vendor vendors.VendorType, userID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisTokenKey(vendor, userID))
	pipe.SRem(ctx, redisUsersKey(vendor), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.TokenError("failed to delete token", err)
	}
	return nil
}

func (s *RedisStore) ListUsers(ctx context.Context, vendor vendors.VendorType) ([]string, error) {
	users, err := s.client.SMembers(ctx, redisUsersKey(vendor)).Result()
	if err != nil {
		return nil, errors.TokenError("failed to list users", err)
	}
	return users, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
