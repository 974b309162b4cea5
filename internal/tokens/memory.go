package tokens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/crypto"
	"wearable-connector/internal/vendors"
)

// storedToken is the encrypted-at-rest representation shared by backends
type storedToken struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    time.Time  `json:"expires_at"`
	LastPull     *time.Time `json:"last_pull,omitempty"`
}

// MemoryStore keeps tokens in a process-local map. Suitable for tests and
// single-instance development; tokens are lost on restart. Token material
// is still encrypted so the encryption path is exercised everywhere.
type MemoryStore struct {
	encryptor *crypto.TokenEncryptor
	tokens    map[string]*storedToken
	mu        sync.RWMutex
}

// NewMemoryStore creates an in-memory token store
func NewMemoryStore(encryptor *crypto.TokenEncryptor) *MemoryStore {
	return &MemoryStore{
		encryptor: encryptor,
		tokens:    make(map[string]*storedToken),
	}
}

func tokenKey(vendor vendors.VendorType, userID string) string {
	return fmt.Sprintf("%s:%s", vendor, userID)
}

func (s *MemoryStore) Get(ctx context.Context, vendor vendors.VendorType, userID string) (*vendors.VendorToken, error) {
	s.mu.RLock()
	stored, exists := s.tokens[tokenKey(vendor, userID)]
	s.mu.RUnlock()

	if !exists {
		return nil, errors.NotFoundError("token for " + tokenKey(vendor, userID))
	}

	accessToken, refreshToken, err := decryptToken(s.encryptor, stored.AccessToken, stored.RefreshToken)
	if err != nil {
		return nil, err
	}

	return &vendors.VendorToken{
		Vendor:       vendor,
		UserID:       userID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    stored.ExpiresAt,
		LastPull:     stored.LastPull,
	}, nil
}

func (s *MemoryStore) Put(ctx context.Context, token *vendors.VendorToken) error {
	accessToken, refreshToken, err := encryptToken(s.encryptor, token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenKey(token.Vendor, token.UserID)] = &storedToken{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    token.ExpiresAt,
		LastPull:     token.LastPull,
	}
	return nil
}

func (s *MemoryStore) UpdateLastPull(ctx context.Context, vendor vendors.VendorType, userID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.tokens[tokenKey(vendor, userID)]
	if !exists {
		return errors.NotFoundError("token for " + tokenKey(vendor, userID))
	}

	stored.LastPull = &ts
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, vendor vendors.VendorType, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenKey(vendor, userID))
	return nil
}

func (s *MemoryStore) ListUsers(ctx context.Context, vendor vendors.VendorType) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := string(vendor) + ":"
	users := make([]string, 0)
	for key := range s.tokens {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			users = append(users, key[len(prefix):])
		}
	}
	return users, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
