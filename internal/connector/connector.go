// Package connector orchestrates the vendor integrations: OAuth flows,
// token refresh, webhook processing, rate-limit enforcement, and the
// asynchronous consumers that turn queued events into data fetches.
//
// Vendor-specific behavior lives behind the VendorConnector interface;
// one implementation per vendor plugs into the shared Base orchestrator.
package connector

import (
	"context"
	"time"

	"wearable-connector/internal/vendors"
)

// VendorConnector is the contract every vendor implementation satisfies.
// Implementations own vendor-specific header extraction, payload layout,
// and API endpoints; cryptographic verification and all OAuth, rate-limit,
// and queue machinery are shared.
type VendorConnector interface {
	// Vendor is the identity tag used as the key namespace for token
	// storage, rate limiting, and queue routing
	Vendor() vendors.VendorType

	// VerifyWebhook checks delivery authenticity. Malformed or missing
	// signature material fails with WebhookError.
	VerifyWebhook(headers map[string]string, rawBody []byte) error

	// ParseEvent normalizes a vendor payload into a WebhookEvent. Fails
	// with WebhookError if required fields are absent.
	ParseEvent(rawBody []byte) (*vendors.WebhookEvent, error)

	// FetchData retrieves a resource from the vendor API using the given
	// access token. resourceID may be empty for collection fetches.
	// Implementations map vendor responses to the error taxonomy:
	// 429 to RateLimitError, 401/403 to OAuthError, other non-2xx to
	// VendorAPIError.
	FetchData(ctx context.Context, accessToken, userID, resourceType, resourceID string, params FetchParams) (map[string]interface{}, error)

	// DefaultResources names the resource types a catch-up pull fetches
	// for this vendor when the caller supplies no explicit list
	DefaultResources() []string
}

// FetchParams carries optional range and pagination parameters
type FetchParams struct {
	Start time.Time
	End   time.Time
	Limit int
}
