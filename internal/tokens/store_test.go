package tokens

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/crypto"
	"wearable-connector/internal/vendors"
)

func newTestEncryptor(t *testing.T) *crypto.TokenEncryptor {
	t.Helper()
	encryptor, err := crypto.NewTokenEncryptor("test-encryption-key")
	require.NoError(t, err)
	return encryptor
}

// storeFactories builds each backend against throwaway infrastructure so
// the whole contract suite runs once per backend
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore(newTestEncryptor(t))
		},
		"sqlite": func(t *testing.T) Store {
			path := filepath.Join(t.TempDir(), "tokens.db")
			store, err := NewSQLiteStore(path, newTestEncryptor(t))
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			store := NewRedisStoreWithClient(client, newTestEncryptor(t))
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
}

func testToken(userID string) *vendors.VendorToken {
	return &vendors.VendorToken{
		Vendor:       vendors.VendorWhoop,
		UserID:       userID,
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			original := testToken("u1")
			require.NoError(t, store.Put(ctx, original))

			got, err := store.Get(ctx, vendors.VendorWhoop, "u1")
			require.NoError(t, err)
			assert.Equal(t, original.AccessToken, got.AccessToken)
			assert.Equal(t, original.RefreshToken, got.RefreshToken)
			assert.True(t, original.ExpiresAt.Equal(got.ExpiresAt))
			assert.Nil(t, got.LastPull)
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)

			_, err := store.Get(context.Background(), vendors.VendorWhoop, "missing")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
		})
	}
}

func TestStore_PutOverwrites(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			require.NoError(t, store.Put(ctx, testToken("u1")))

			updated := testToken("u1")
			updated.AccessToken = "rotated-access"
			updated.ExpiresAt = updated.ExpiresAt.Add(time.Hour)
			require.NoError(t, store.Put(ctx, updated))

			got, err := store.Get(ctx, vendors.VendorWhoop, "u1")
			require.NoError(t, err)
			assert.Equal(t, "rotated-access", got.AccessToken)
			assert.True(t, updated.ExpiresAt.Equal(got.ExpiresAt))
		})
	}
}

func TestStore_UpdateLastPull(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			require.NoError(t, store.Put(ctx, testToken("u1")))

			pulledAt := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, store.UpdateLastPull(ctx, vendors.VendorWhoop, "u1", pulledAt))

			got, err := store.Get(ctx, vendors.VendorWhoop, "u1")
			require.NoError(t, err)
			require.NotNil(t, got.LastPull)
			assert.True(t, pulledAt.Equal(*got.LastPull))
			// token material untouched
			assert.Equal(t, "access-u1", got.AccessToken)
		})
	}
}

func TestStore_UpdateLastPullMissing(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)

			err := store.UpdateLastPull(context.Background(), vendors.VendorWhoop, "missing", time.Now())
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
		})
	}
}

func TestStore_DeleteIdempotent(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			require.NoError(t, store.Put(ctx, testToken("u1")))
			require.NoError(t, store.Delete(ctx, vendors.VendorWhoop, "u1"))

			_, err := store.Get(ctx, vendors.VendorWhoop, "u1")
			assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

			// second delete must not error
			require.NoError(t, store.Delete(ctx, vendors.VendorWhoop, "u1"))
		})
	}
}

func TestStore_ListUsers(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			require.NoError(t, store.Put(ctx, testToken("u1")))
			require.NoError(t, store.Put(ctx, testToken("u2")))

			garminToken := testToken("u3")
			garminToken.Vendor = vendors.VendorGarmin
			require.NoError(t, store.Put(ctx, garminToken))

			users, err := store.ListUsers(ctx, vendors.VendorWhoop)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"u1", "u2"}, users)

			garminUsers, err := store.ListUsers(ctx, vendors.VendorGarmin)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"u3"}, garminUsers)
		})
	}
}

func TestStore_VendorIsolation(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			whoop := testToken("u1")
			require.NoError(t, store.Put(ctx, whoop))

			garmin := testToken("u1")
			garmin.Vendor = vendors.VendorGarmin
			garmin.AccessToken = "garmin-access"
			require.NoError(t, store.Put(ctx, garmin))

			got, err := store.Get(ctx, vendors.VendorWhoop, "u1")
			require.NoError(t, err)
			assert.Equal(t, "access-u1", got.AccessToken)

			require.NoError(t, store.Delete(ctx, vendors.VendorGarmin, "u1"))
			_, err = store.Get(ctx, vendors.VendorWhoop, "u1")
			assert.NoError(t, err)
		})
	}
}

func TestStore_EncryptsAtRest(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, newTestEncryptor(t))
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, testToken("u1")))

	stored := mr.HGet("token:whoop:u1", "access_token")
	assert.NotEmpty(t, stored)
	assert.NotContains(t, stored, "access-u1")
}

func TestStore_WrongKeyFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, newTestEncryptor(t))
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, testToken("u1")))

	wrongKey, err := crypto.NewTokenEncryptor("different-key")
	require.NoError(t, err)
	reopened := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), wrongKey)
	t.Cleanup(func() { reopened.Close() })

	_, err = reopened.Get(ctx, vendors.VendorWhoop, "u1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeToken))
}

func TestNewStore_Factory(t *testing.T) {
	encryptor := newTestEncryptor(t)
	ctx := context.Background()

	store, err := NewStore(ctx, StoreConfig{Backend: "memory"}, encryptor)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	_, err = NewStore(ctx, StoreConfig{Backend: "sqlite"}, encryptor)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = NewStore(ctx, StoreConfig{Backend: "cassandra"}, encryptor)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
