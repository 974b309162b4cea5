package whoop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/httpclient"
	"wearable-connector/internal/connector"
	"wearable-connector/internal/vendors"
	"wearable-connector/internal/webhooks"
)

const testWebhookSecret = "whoop-webhook-secret"

func testConfig(baseURL string) *vendors.VendorConfig {
	return &vendors.VendorConfig{
		Vendor:        vendors.VendorWhoop,
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		WebhookSecret: testWebhookSecret,
		BaseURL:       baseURL,
		AuthURL:       baseURL + "/oauth/oauth2/auth",
		TokenURL:      baseURL + "/oauth/oauth2/token",
		Scopes:        []string{"read:recovery", "read:sleep"},
		RateLimit:     vendors.RateLimitConfig{MaxRequests: 100, TimeWindow: time.Minute},
	}
}

func newTestConnector(baseURL string) *Connector {
	client := httpclient.NewClient().WithRetryConfig(&httpclient.RetryConfig{
		MaxAttempts:   1,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1.0,
	})
	return New(testConfig(baseURL), webhooks.NewVerifier(), client)
}

func signedHeaders(t *testing.T, body []byte) map[string]string {
	t.Helper()
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := webhooks.SignHMACSHA256(timestamp, body, testWebhookSecret)
	return map[string]string{
		HeaderSignature:          signature,
		HeaderSignatureTimestamp: timestamp,
	}
}

func TestVerifyWebhook_ValidSignature(t *testing.T) {
	c := newTestConnector("http://unused")
	body := []byte(`{"id":550,"user_id":10129,"type":"recovery.updated","trace_id":"abc"}`)

	err := c.VerifyWebhook(signedHeaders(t, body), body)
	assert.NoError(t, err)
}

func TestVerifyWebhook_HeaderLookupIsCaseInsensitive(t *testing.T) {
	c := newTestConnector("http://unused")
	body := []byte(`{"user_id":1,"type":"sleep.updated"}`)

	headers := signedHeaders(t, body)
	lowered := map[string]string{
		"x-whoop-signature":           headers[HeaderSignature],
		"x-whoop-signature-timestamp": headers[HeaderSignatureTimestamp],
	}

	err := c.VerifyWebhook(lowered, body)
	assert.NoError(t, err)
}

func TestVerifyWebhook_TamperedBody(t *testing.T) {
	c := newTestConnector("http://unused")
	body := []byte(`{"user_id":1,"type":"sleep.updated"}`)
	headers := signedHeaders(t, body)

	err := c.VerifyWebhook(headers, []byte(`{"user_id":2,"type":"sleep.updated"}`))
	assert.True(t, errors.IsType(err, errors.ErrTypeWebhook))
}

func TestVerifyWebhook_MissingHeaders(t *testing.T) {
	c := newTestConnector("http://unused")

	err := c.VerifyWebhook(map[string]string{}, []byte(`{}`))
	assert.True(t, errors.IsType(err, errors.ErrTypeWebhook))
}

func TestParseEvent(t *testing.T) {
	c := newTestConnector("http://unused")
	body := []byte(`{"id":550,"user_id":10129,"type":"recovery.updated","trace_id":"0ff33be2"}`)

	event, err := c.ParseEvent(body)
	require.NoError(t, err)
	assert.Equal(t, vendors.VendorWhoop, event.Vendor)
	assert.Equal(t, "10129", event.UserID)
	assert.Equal(t, "recovery.updated", event.Type)
	assert.Equal(t, "550", event.ID)
	assert.Equal(t, "0ff33be2", event.TraceID)
	assert.Equal(t, "recovery.updated", event.Raw["type"])
}

func TestParseEvent_MissingFields(t *testing.T) {
	c := newTestConnector("http://unused")

	tests := []struct {
		name string
		body string
	}{
		{"missing user_id", `{"id":1,"type":"recovery.updated"}`},
		{"missing type", `{"id":1,"user_id":10129}`},
		{"not JSON", `recovery updated`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ParseEvent([]byte(tt.body))
			assert.True(t, errors.IsType(err, errors.ErrTypeWebhook))
		})
	}
}

func TestFetchData_Recovery(t *testing.T) {
	var gotPath, gotAuth, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]interface{}{
			"records": []map[string]interface{}{{"cycle_id": 93845}},
		})
	}))
	defer server.Close()

	c := newTestConnector(server.URL)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	data, err := c.FetchData(context.Background(), "access-token", "10129", "recovery", "", connector.FetchParams{
		Start: start,
		End:   end,
		Limit: 25,
	})
	require.NoError(t, err)

	assert.Equal(t, "/developer/v1/recovery", gotPath)
	assert.Equal(t, "Bearer access-token", gotAuth)
	assert.Contains(t, gotQuery, "start=2026-08-01T00%3A00%3A00Z")
	assert.Contains(t, gotQuery, "limit=25")
	assert.NotEmpty(t, data["records"])
}

func TestFetchData_ResourcePaths(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	c := newTestConnector(server.URL)

	tests := []struct {
		resourceType string
		resourceID   string
		wantPath     string
	}{
		{"recovery", "", "/developer/v1/recovery"},
		{"sleep", "sl-1", "/developer/v1/activity/sleep/sl-1"},
		{"workout", "", "/developer/v1/activity/workout"},
		{"cycle", "93845", "/developer/v1/cycle/93845"},
		{"profile", "", "/developer/v1/user/profile/basic"},
	}

	for _, tt := range tests {
		t.Run(tt.resourceType, func(t *testing.T) {
			_, err := c.FetchData(context.Background(), "token", "u1", tt.resourceType, tt.resourceID, connector.FetchParams{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, gotPath)
		})
	}
}

func TestFetchData_UnknownResourceType(t *testing.T) {
	c := newTestConnector("http://unused")

	_, err := c.FetchData(context.Background(), "token", "u1", "heartbeat", "", connector.FetchParams{})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestFetchData_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestConnector(server.URL)

	_, err := c.FetchData(context.Background(), "token", "u1", "recovery", "", connector.FetchParams{})
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
	assert.Equal(t, 30*time.Second, errors.RetryAfter(err))
}

func TestFetchData_UnauthorizedBecomesOAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestConnector(server.URL)

	_, err := c.FetchData(context.Background(), "token", "u1", "recovery", "", connector.FetchParams{})
	assert.True(t, errors.IsType(err, errors.ErrTypeOAuth))
}

func TestFetchData_ServerErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestConnector(server.URL)

	_, err := c.FetchData(context.Background(), "token", "u1", "recovery", "", connector.FetchParams{})
	assert.True(t, errors.IsType(err, errors.ErrTypeVendorAPI))
	assert.Equal(t, http.StatusBadGateway, errors.StatusCode(err))
}

func TestRevokeToken(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newTestConnector(server.URL)

	err := c.RevokeToken(context.Background(), "access-token")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/developer/v1/user/access", gotPath)
	assert.Equal(t, "Bearer access-token", gotAuth)
}
