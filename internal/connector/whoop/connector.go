// Package whoop implements the WHOOP vendor connector. WHOOP signs
// webhooks with HMAC-SHA256 over "timestamp.body" and delivers normalized
// JSON events carrying a trace_id, which makes it the reference vendor
// for the connector contract.
package whoop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/httpclient"
	"wearable-connector/internal/connector"
	"wearable-connector/internal/vendors"
	"wearable-connector/internal/webhooks"
)

// WHOOP webhook signature headers
const (
	HeaderSignature          = "X-WHOOP-Signature"
	HeaderSignatureTimestamp = "X-WHOOP-Signature-Timestamp"
)

// resourcePaths maps normalized resource types to WHOOP developer API
// collection endpoints
var resourcePaths = map[string]string{
	"recovery": "/developer/v1/recovery",
	"sleep":    "/developer/v1/activity/sleep",
	"workout":  "/developer/v1/activity/workout",
	"cycle":    "/developer/v1/cycle",
	"profile":  "/developer/v1/user/profile/basic",
}

// Connector implements the WHOOP side of the vendor contract
type Connector struct {
	config   *vendors.VendorConfig
	verifier *webhooks.Verifier
	client   *httpclient.Client
}

// New creates a WHOOP connector
func New(config *vendors.VendorConfig, verifier *webhooks.Verifier, client *httpclient.Client) *Connector {
	if verifier == nil {
		verifier = webhooks.NewVerifier()
	}
	if client == nil {
		client = httpclient.NewClient()
	}
	return &Connector{config: config, verifier: verifier, client: client}
}

func (c *Connector) Vendor() vendors.VendorType {
	return vendors.VendorWhoop
}

// DefaultResources names the WHOOP resources a catch-up pull fetches
func (c *Connector) DefaultResources() []string {
	return []string{"recovery", "sleep", "workout"}
}

// VerifyWebhook checks the WHOOP signature headers against the raw body
func (c *Connector) VerifyWebhook(headers map[string]string, rawBody []byte) error {
	signature := headerValue(headers, HeaderSignature)
	timestamp := headerValue(headers, HeaderSignatureTimestamp)
	return c.verifier.VerifyHMACSHA256(timestamp, rawBody, signature, c.config.WebhookSecret)
}

// whoopEvent is the WHOOP webhook payload. user_id and id arrive as
// numbers.
type whoopEvent struct {
	UserID  json.Number `json:"user_id"`
	ID      json.Number `json:"id"`
	Type    string      `json:"type"`
	TraceID string      `json:"trace_id"`
}

// ParseEvent normalizes a WHOOP webhook payload
func (c *Connector) ParseEvent(rawBody []byte) (*vendors.WebhookEvent, error) {
	var payload whoopEvent
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, errors.WebhookError("invalid JSON payload")
	}

	if payload.UserID.String() == "" {
		return nil, errors.WebhookError("missing required field: user_id")
	}
	if payload.Type == "" {
		return nil, errors.WebhookError("missing required field: type")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(rawBody, &raw); err != nil {
		return nil, errors.WebhookError("invalid JSON payload")
	}

	return &vendors.WebhookEvent{
		Vendor:  vendors.VendorWhoop,
		UserID:  payload.UserID.String(),
		Type:    payload.Type,
		ID:      payload.ID.String(),
		TraceID: payload.TraceID,
		Raw:     raw,
	}, nil
}

// FetchData retrieves a resource from the WHOOP developer API
func (c *Connector) FetchData(ctx context.Context, accessToken, userID, resourceType, resourceID string, params connector.FetchParams) (map[string]interface{}, error) {
	basePath, ok := resourcePaths[resourceType]
	if !ok {
		return nil, errors.ValidationError("unknown resource type: " + resourceType)
	}

	fetchURL := c.config.BaseURL + basePath
	if resourceID != "" {
		fetchURL += "/" + url.PathEscape(resourceID)
	}

	query := url.Values{}
	if !params.Start.IsZero() {
		query.Set("start", params.Start.UTC().Format(time.RFC3339))
	}
	if !params.End.IsZero() {
		query.Set("end", params.End.UTC().Format(time.RFC3339))
	}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if len(query) > 0 {
		fetchURL += "?" + query.Encode()
	}

	resp, err := c.client.GetWithBearer(ctx, fetchURL, accessToken, nil)
	if err != nil {
		return nil, mapVendorError(err, resp)
	}

	if len(resp.Body) == 0 {
		return map[string]interface{}{}, nil
	}

	var data map[string]interface{}
	if err := resp.DecodeJSON(&data); err != nil {
		return nil, errors.VendorAPIError("malformed WHOOP response body", resp.StatusCode)
	}
	return data, nil
}

// RevokeToken deletes the WHOOP-side access grant. WHOOP exposes this as
// a DELETE on the developer user resource.
func (c *Connector) RevokeToken(ctx context.Context, accessToken string) error {
	revokeURL := c.config.BaseURL + "/developer/v1/user/access"
	resp, err := c.client.Do(ctx, &httpclient.RequestOptions{
		Method:      http.MethodDelete,
		URL:         revokeURL,
		BearerToken: accessToken,
	})
	if err != nil {
		return mapVendorError(err, resp)
	}
	return nil
}

// mapVendorError translates HTTP failures into the error taxonomy:
// 429 to RateLimitError, 401/403 to OAuthError, the rest to VendorAPIError
func mapVendorError(err error, resp *httpclient.Response) error {
	status := errors.StatusCode(err)
	switch status {
	case http.StatusTooManyRequests:
		retryAfter := 60 * time.Second
		if resp != nil {
			if raw, ok := resp.Headers["Retry-After"]; ok {
				if seconds, parseErr := strconv.Atoi(raw); parseErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			}
		}
		return errors.RateLimitError("WHOOP API rate limit exceeded", retryAfter)
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.OAuthError(fmt.Sprintf("WHOOP rejected credentials with status %d", status), err)
	default:
		return err
	}
}

// headerValue performs a case-insensitive header lookup on the plain map
// handed in by the HTTP layer
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	canonical := http.CanonicalHeaderKey(name)
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == canonical {
			return v
		}
	}
	return ""
}
