// Package garmin implements the Garmin Health API connector. Garmin
// signs the request body alone with no timestamp, uses a different
// signature header depending on integration age, and delivers push
// notifications batched into summaries/activities/sleeps arrays.
package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/httpclient"
	"wearable-connector/internal/connector"
	"wearable-connector/internal/vendors"
	"wearable-connector/internal/webhooks"
)

// Garmin signature headers. Newer integrations send Garmin-Signature,
// older ones X-Gfit-Signature.
const (
	HeaderSignature       = "Garmin-Signature"
	HeaderSignatureLegacy = "X-Gfit-Signature"
)

const defaultRetryAfter = 60 * time.Second

// wellnessPaths maps resource types to Garmin wellness API collection
// endpoints. The singular forms are what normalized event types reduce
// to ("daily.updated" asks for dailies), the plural forms are the API's
// own names.
var wellnessPaths = map[string]string{
	"daily":         "/wellness/dailies",
	"dailies":       "/wellness/dailies",
	"sleep":         "/wellness/sleeps",
	"sleeps":        "/wellness/sleeps",
	"activity":      "/wellness/activities",
	"activities":    "/wellness/activities",
	"epoch":         "/wellness/epochs",
	"epochs":        "/wellness/epochs",
	"stress":        "/wellness/stress",
	"bloodpressure": "/wellness/bloodPressure",
	"bodycomp":      "/wellness/bodyComps",
	"bodycomps":     "/wellness/bodyComps",
}

// Connector implements the Garmin side of the vendor contract
type Connector struct {
	config   *vendors.VendorConfig
	verifier *webhooks.Verifier
	client   *httpclient.Client
}

// New creates a Garmin connector
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
	return vendors.VendorGarmin
}

// DefaultResources names the wellness resources a catch-up pull fetches
func (c *Connector) DefaultResources() []string {
	return []string{"dailies", "sleeps", "activities"}
}

// VerifyWebhook checks the body-only HMAC signature, trying the current
// header name before the legacy one
func (c *Connector) VerifyWebhook(headers map[string]string, rawBody []byte) error {
	signature := headerValue(headers, HeaderSignature)
	if signature == "" {
		signature = headerValue(headers, HeaderSignatureLegacy)
	}
	return c.verifier.VerifyBodyHMAC(rawBody, signature, c.config.WebhookSecret)
}

// garminPayload is a Garmin push notification. Exactly one of the three
// arrays is populated per delivery.
type garminPayload struct {
	UserID          string          `json:"userId"`
	UserAccessToken string          `json:"userAccessToken"`
	Summaries       []garminSummary `json:"summaries"`
	Activities      []garminEntry   `json:"activities"`
	Sleeps          []garminEntry   `json:"sleeps"`
}

type garminSummary struct {
	SummaryID    string `json:"summaryId"`
	DataType     string `json:"dataType"`
	CalendarDate string `json:"calendarDate"`
}

type garminEntry struct {
	ActivityID   json.Number `json:"activityId"`
	ActivityType string      `json:"activityType"`
	SleepID      json.Number `json:"sleepId"`
}

// ParseEvent normalizes a Garmin push notification. Batched deliveries
// are normalized on the first entry; the full payload stays in Raw.
func (c *Connector) ParseEvent(rawBody []byte) (*vendors.WebhookEvent, error) {
	var payload garminPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, errors.WebhookError("invalid JSON payload")
	}

	if payload.UserID == "" {
		return nil, errors.WebhookError("missing required field: userId")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(rawBody, &raw); err != nil {
		return nil, errors.WebhookError("invalid JSON payload")
	}

	event := &vendors.WebhookEvent{
		Vendor: vendors.VendorGarmin,
		UserID: payload.UserID,
		Raw:    raw,
	}

	switch {
	case len(payload.Summaries) > 0:
		first := payload.Summaries[0]
		event.Type = strings.ToLower(first.DataType) + ".updated"
		event.ID = first.SummaryID
	case len(payload.Activities) > 0:
		event.Type = "activity.updated"
		event.ID = payload.Activities[0].ActivityID.String()
	case len(payload.Sleeps) > 0:
		event.Type = "sleep.updated"
		event.ID = payload.Sleeps[0].SleepID.String()
	default:
		return nil, errors.WebhookError("payload carries no summaries, activities, or sleeps")
	}

	if event.ID != "" {
		event.TraceID = event.ID
	} else {
		event.TraceID = payload.UserID
	}

	return event, nil
}

// FetchData retrieves a resource from the Garmin wellness API. Garmin
// answers 204 when the user has no data in the requested range.
func (c *Connector) FetchData(ctx context.Context, accessToken, userID, resourceType, resourceID string, params connector.FetchParams) (map[string]interface{}, error) {
	basePath, ok := wellnessPaths[strings.ToLower(resourceType)]
	if !ok {
		return nil, errors.ValidationError(fmt.Sprintf("unknown Garmin resource type: %s", resourceType))
	}

	fetchURL := c.config.BaseURL + basePath
	if resourceID != "" {
		fetchURL += "/" + url.PathEscape(resourceID)
	}

	query := url.Values{}
	if !params.Start.IsZero() {
		query.Set("uploadStartTimeInSeconds", strconv.FormatInt(params.Start.Unix(), 10))
	}
	if !params.End.IsZero() {
		query.Set("uploadEndTimeInSeconds", strconv.FormatInt(params.End.Unix(), 10))
	}
	if len(query) > 0 {
		fetchURL += "?" + query.Encode()
	}

	resp, err := c.client.GetWithBearer(ctx, fetchURL, accessToken, nil)
	if err != nil {
		return nil, mapVendorError(err, resp)
	}

	if resp.StatusCode == http.StatusNoContent || len(resp.Body) == 0 {
		return map[string]interface{}{}, nil
	}

	// The wellness API returns either an object or a bare array
	// depending on the resource
	var data map[string]interface{}
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		var list []interface{}
		if listErr := json.Unmarshal(resp.Body, &list); listErr != nil {
			return nil, errors.VendorAPIError("malformed Garmin response body", resp.StatusCode)
		}
		data = map[string]interface{}{resourceType: list}
	}
	return data, nil
}

// mapVendorError translates HTTP failures into the error taxonomy
func mapVendorError(err error, resp *httpclient.Response) error {
	status := errors.StatusCode(err)
	switch status {
	case http.StatusTooManyRequests:
		retryAfter := defaultRetryAfter
		if resp != nil {
			if raw, ok := resp.Headers["Retry-After"]; ok {
				if seconds, parseErr := strconv.Atoi(raw); parseErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			}
		}
		return errors.RateLimitError("Garmin API rate limit exceeded", retryAfter)
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.OAuthError(fmt.Sprintf("Garmin rejected credentials with status %d", status), err)
	default:
		return err
	}
}

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
