// Package tokens persists per-user, per-vendor OAuth credentials.
// Token material is encrypted with AES-256-GCM before it reaches any
// backend; callers always see plaintext VendorToken values.
package tokens

import (
	"context"
	"time"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/crypto"
	"wearable-connector/internal/vendors"
)

// Store is the contract every token storage backend implements.
// Writes overwrite the existing entry for the (vendor, user_id) pair.
type Store interface {
	// Get returns the stored token or a NotFoundError
	Get(ctx context.Context, vendor vendors.VendorType, userID string) (*vendors.VendorToken, error)

	// Put overwrites the entry for (token.Vendor, token.UserID)
	Put(ctx context.Context, token *vendors.VendorToken) error

	// UpdateLastPull updates only the last_pull timestamp. It must not
	// touch the encrypted token material.
	UpdateLastPull(ctx context.Context, vendor vendors.VendorType, userID string, ts time.Time) error

	// Delete removes the entry. Idempotent.
	Delete(ctx context.Context, vendor vendors.VendorType, userID string) error

	// ListUsers returns the user IDs with a stored token for the vendor
	ListUsers(ctx context.Context, vendor vendors.VendorType) ([]string, error)

	// Close releases backend resources
	Close() error
}

// encryptToken encrypts the secret fields of a token for persistence
func encryptToken(enc *crypto.TokenEncryptor, token *vendors.VendorToken) (accessToken, refreshToken string, err error) {
	accessToken, err = enc.Encrypt(token.AccessToken)
	if err != nil {
		return "", "", errors.TokenError("failed to encrypt access token", err)
	}

	refreshToken, err = enc.Encrypt(token.RefreshToken)
	if err != nil {
		return "", "", errors.TokenError("failed to encrypt refresh token", err)
	}

	return accessToken, refreshToken, nil
}

// decryptToken decrypts the secret fields of a stored token
func decryptToken(enc *crypto.TokenEncryptor, accessToken, refreshToken string) (plainAccess, plainRefresh string, err error) {
	plainAccess, err = enc.Decrypt(accessToken)
	if err != nil {
		return "", "", errors.TokenError("failed to decrypt access token", err)
	}

	plainRefresh, err = enc.Decrypt(refreshToken)
	if err != nil {
		return "", "", errors.TokenError("failed to decrypt refresh token", err)
	}

	return plainAccess, plainRefresh, nil
}
