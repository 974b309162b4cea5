// Package utils provides utility functions for the wearable connector.
//
// This package contains common utilities for ID generation, retry logic,
// and other helper functions used throughout the application.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateRandomID generates a cryptographically secure random hex ID.
//
// Creates a random ID of the specified length using crypto/rand.
// Each byte generates 2 hex characters, so length/2 bytes are generated;
// for odd lengths the result is 1 character shorter.
func GenerateRandomID(length int) (string, error) {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateUUID generates a cryptographically secure UUID v4.
//
// Creates a random UUID conforming to RFC 4122 version 4, suitable for use
// as a unique identifier in distributed systems and databases.
func GenerateUUID() (string, error) {
	uuid := make([]byte, 16)
	if _, err := rand.Read(uuid); err != nil {
		return "", err
	}

	// Set version (4) and variant bits
	uuid[6] = (uuid[6] & 0x0f) | 0x40
	uuid[8] = (uuid[8] & 0x3f) | 0x80

	return fmt.Sprintf("%x-%x-%x-%x-%x",
		uuid[0:4], uuid[4:6], uuid[6:8], uuid[8:10], uuid[10:]), nil
}

// GenerateTraceID generates an event trace ID for webhook events that
// arrive without a vendor-supplied one. Downstream consumers dedupe on it.
func GenerateTraceID() string {
	id, err := GenerateUUID()
	if err != nil {
		// crypto/rand failure is effectively unrecoverable; fall back to a
		// timestamp-based ID so the idempotency key is still present.
		return fmt.Sprintf("evt-%d", time.Now().UnixNano())
	}
	return id
}

// GenerateMessageID generates a queue message ID in the format
// "msg-{randomHex}-{timestamp}", sortable by creation time.
func GenerateMessageID() (string, error) {
	id, err := GenerateRandomID(16)
	if err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return fmt.Sprintf("msg-%s-%d", id, time.Now().Unix()), nil
}

// MustGenerateMessageID generates a message ID or panics on failure.
//
// Panics only if random ID generation fails, which indicates system-level
// issues with the random number generator.
func MustGenerateMessageID() string {
	id, err := GenerateMessageID()
	if err != nil {
		panic(fmt.Sprintf("failed to generate message ID: %v", err))
	}
	return id
}
