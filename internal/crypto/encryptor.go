// Package crypto provides AES-256-GCM encryption for OAuth credentials at rest.
//
// Access and refresh tokens are encrypted before they reach any token store
// backend and decrypted on read, so a leaked database dump never exposes raw
// vendor credentials. Each encryption uses a unique random nonce, so encrypting
// the same token twice produces different ciphertexts.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"wearable-connector/internal/common/errors"
)

// TokenEncryptor encrypts and decrypts OAuth credentials using AES-256-GCM.
// It is safe for concurrent use by multiple goroutines.
type TokenEncryptor struct {
	key []byte // 32-byte AES-256 key
}

// NewTokenEncryptor creates a TokenEncryptor from the provided key material.
//
// The key is run through PBKDF2 so that any non-empty passphrase yields a
// proper 32-byte AES-256 key. Store the passphrase in the environment, never
// in source.
func NewTokenEncryptor(key string) (*TokenEncryptor, error) {
	if key == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	// Static salt keeps derivation deterministic across restarts
	salt := []byte("wearable-connector-salt")
	derivedKey := pbkdf2.Key([]byte(key), salt, 10000, 32, sha256.New)

	return &TokenEncryptor{key: derivedKey}, nil
}

// Encrypt encrypts a plaintext string and returns base64(nonce || ciphertext).
// Empty input returns an empty string unchanged.
func (e *TokenEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. GCM authenticates the ciphertext, so tampered or
// corrupted input fails with an error rather than returning garbage.
func (e *TokenEncryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.InternalError("failed to decode ciphertext", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}

	return string(plaintext), nil
}

// EncryptJSON marshals v to JSON and encrypts the resulting string.
func (e *TokenEncryptor) EncryptJSON(v interface{}) (string, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return "", errors.InternalError("failed to marshal JSON", err)
	}

	return e.Encrypt(string(jsonBytes))
}

// DecryptJSON decrypts ciphertext produced by EncryptJSON and unmarshals it into v.
func (e *TokenEncryptor) DecryptJSON(ciphertext string, v interface{}) error {
	plaintext, err := e.Decrypt(ciphertext)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(plaintext), v); err != nil {
		return errors.InternalError("failed to unmarshal JSON", err)
	}

	return nil
}
