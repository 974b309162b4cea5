// Package vendors defines the shared domain types for wearable-vendor
// integrations: vendor identity, per-vendor configuration, stored OAuth
// credentials, and normalized webhook events.
package vendors

import (
	"time"

	"wearable-connector/internal/common/errors"
)

// VendorType identifies a wearable-data provider
type VendorType string

const (
	VendorWhoop  VendorType = "whoop"
	VendorGarmin VendorType = "garmin"
)

// ParseVendorType validates a vendor name from request paths or config
func ParseVendorType(s string) (VendorType, error) {
	switch VendorType(s) {
	case VendorWhoop:
		return VendorWhoop, nil
	case VendorGarmin:
		return VendorGarmin, nil
	default:
		return "", errors.ValidationError("unknown vendor: " + s)
	}
}

// String returns the vendor name
func (v VendorType) String() string {
	return string(v)
}

// RateLimitConfig defines the token-bucket refill policy for a vendor
type RateLimitConfig struct {
	MaxRequests int           `json:"max_requests"`
	TimeWindow  time.Duration `json:"time_window"`
}

// VendorConfig holds the OAuth and webhook configuration for one vendor.
// Immutable after construction; one instance per vendor per process.
type VendorConfig struct {
	Vendor        VendorType      `json:"vendor"`
	ClientID      string          `json:"client_id"`
	ClientSecret  string          `json:"-"`
	WebhookSecret string          `json:"-"`
	BaseURL       string          `json:"base_url"`
	AuthURL       string          `json:"auth_url"`
	TokenURL      string          `json:"token_url"`
	Scopes        []string        `json:"scopes"`
	RateLimit     RateLimitConfig `json:"rate_limit"`

	// RedirectURI is the default OAuth redirect target, used when the
	// authorize request does not supply one
	RedirectURI string `json:"redirect_uri,omitempty"`
}

// Validate checks that all required vendor configuration is present
func (c *VendorConfig) Validate() error {
	if c.Vendor == "" {
		return errors.ConfigError("vendor is required")
	}
	if c.ClientID == "" {
		return errors.ConfigError("client_id is required for vendor " + c.Vendor.String())
	}
	if c.ClientSecret == "" {
		return errors.ConfigError("client_secret is required for vendor " + c.Vendor.String())
	}
	if c.WebhookSecret == "" {
		return errors.ConfigError("webhook_secret is required for vendor " + c.Vendor.String())
	}
	if c.BaseURL == "" {
		return errors.ConfigError("base_url is required for vendor " + c.Vendor.String())
	}
	if c.AuthURL == "" {
		return errors.ConfigError("auth_url is required for vendor " + c.Vendor.String())
	}
	if c.TokenURL == "" {
		return errors.ConfigError("token_url is required for vendor " + c.Vendor.String())
	}
	if c.RateLimit.MaxRequests <= 0 {
		return errors.ConfigError("rate_limit.max_requests must be positive for vendor " + c.Vendor.String())
	}
	if c.RateLimit.TimeWindow <= 0 {
		return errors.ConfigError("rate_limit.time_window must be positive for vendor " + c.Vendor.String())
	}
	return nil
}

// VendorToken holds one user's OAuth credentials for one vendor.
// Exactly one live token set exists per (vendor, user_id) pair.
// AccessToken and RefreshToken are plaintext only inside the process;
// the token store encrypts them before persistence.
type VendorToken struct {
	Vendor       VendorType `json:"vendor"`
	UserID       string     `json:"user_id"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    time.Time  `json:"expires_at"`
	LastPull     *time.Time `json:"last_pull,omitempty"`
}

// IsExpired reports whether the access token expires within margin of now
func (t *VendorToken) IsExpired(now time.Time, margin time.Duration) bool {
	return now.Add(margin).After(t.ExpiresAt)
}

// WebhookEvent is a vendor webhook payload normalized into common fields.
// TraceID is the idempotency key downstream consumers dedupe on.
type WebhookEvent struct {
	Vendor  VendorType             `json:"vendor"`
	UserID  string                 `json:"user_id"`
	Type    string                 `json:"type"`
	ID      string                 `json:"id,omitempty"`
	TraceID string                 `json:"trace_id"`
	Raw     map[string]interface{} `json:"raw,omitempty"`
}

// QueueMessage wraps a WebhookEvent with delivery metadata. Messages are
// redelivered after their visibility deadline passes without acknowledgment.
type QueueMessage struct {
	MessageID    string       `json:"message_id"`
	Event        WebhookEvent `json:"event"`
	ReceiveCount int          `json:"receive_count"`
	EnqueuedAt   time.Time    `json:"enqueued_at"`
	// ReceiptHandle identifies this specific delivery for acknowledgment
	ReceiptHandle string `json:"receipt_handle,omitempty"`
}
