package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/httpclient"
	"wearable-connector/internal/connector"
	"wearable-connector/internal/crypto"
	"wearable-connector/internal/queue"
	"wearable-connector/internal/ratelimit"
	"wearable-connector/internal/tokens"
	"wearable-connector/internal/vendors"
)

// stubConnector is a scriptable VendorConnector for handler tests
type stubConnector struct {
	vendor      vendors.VendorType
	verifyErr   error
	parseResult *vendors.WebhookEvent
	parseErr    error
	fetchResult map[string]interface{}
	fetchErr    error
	fetchCalls  int
}

func (s *stubConnector) Vendor() vendors.VendorType { return s.vendor }

func (s *stubConnector) DefaultResources() []string {
	return []string{"recovery", "sleep", "workout"}
}

func (s *stubConnector) VerifyWebhook(headers map[string]string, rawBody []byte) error {
	return s.verifyErr
}

func (s *stubConnector) ParseEvent(rawBody []byte) (*vendors.WebhookEvent, error) {
	if s.parseErr != nil {
		return nil, s.parseErr
	}
	if s.parseResult != nil {
		return s.parseResult, nil
	}
	return &vendors.WebhookEvent{
		UserID:  "u1",
		Type:    "recovery.updated",
		TraceID: "trace-1",
	}, nil
}

func (s *stubConnector) FetchData(ctx context.Context, accessToken, userID, resourceType, resourceID string, params connector.FetchParams) (map[string]interface{}, error) {
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if s.fetchResult != nil {
		return s.fetchResult, nil
	}
	return map[string]interface{}{"resource": resourceType}, nil
}

type testEnv struct {
	handlers *Handlers
	router   *mux.Router
	stub     *stubConnector
	store    tokens.Store
	queue    *queue.MemoryQueue
	states   *connector.StateManager
	endpoint *httptest.Server
	config   *vendors.VendorConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-token",
			"refresh_token": "refresh-token",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(endpoint.Close)

	config := &vendors.VendorConfig{
		Vendor:        vendors.VendorWhoop,
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		WebhookSecret: "webhook-secret",
		BaseURL:       endpoint.URL,
		AuthURL:       endpoint.URL + "/oauth/auth",
		TokenURL:      endpoint.URL + "/oauth/token",
		Scopes:        []string{"read:recovery"},
		RateLimit:     vendors.RateLimitConfig{MaxRequests: 100, TimeWindow: time.Minute},
	}

	encryptor, err := crypto.NewTokenEncryptor("test-key")
	require.NoError(t, err)
	store := tokens.NewMemoryStore(encryptor)

	states, err := connector.NewStateManager("state-secret")
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter(map[vendors.VendorType]vendors.RateLimitConfig{
		vendors.VendorWhoop: config.RateLimit,
	})

	q := queue.NewMemoryQueue()
	stub := &stubConnector{vendor: vendors.VendorWhoop}

	client := httpclient.NewClient().WithRetryConfig(&httpclient.RetryConfig{
		MaxAttempts:   1,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1.0,
	})

	base, err := connector.NewBase(stub, config, connector.Dependencies{
		TokenStore:  store,
		RateLimiter: limiter,
		Queue:       q,
		States:      states,
		HTTPClient:  client,
	})
	require.NoError(t, err)

	bases := map[vendors.VendorType]*connector.Base{vendors.VendorWhoop: base}
	h := New(bases, nil, nil)

	router := mux.NewRouter()
	router.HandleFunc("/v1/webhooks/{vendor}", h.HandleWebhook).Methods("POST")
	router.HandleFunc("/v1/oauth/{vendor}/authorize", h.HandleAuthorize).Methods("GET")
	router.HandleFunc("/v1/oauth/{vendor}/callback", h.HandleCallback).Methods("GET", "POST")
	router.HandleFunc("/v1/oauth/{vendor}/disconnect", h.HandleDisconnect).Methods("DELETE")
	router.HandleFunc("/v1/data/{vendor}/{user_id}/{resource_type}", h.HandleFetchData).Methods("GET")
	router.HandleFunc("/v1/data/{vendor}/{user_id}/{resource_type}/{resource_id}", h.HandleFetchData).Methods("GET")
	router.HandleFunc("/v1/ratelimit/{vendor}/{user_id}", h.HandleRateLimitStatus).Methods("GET")
	router.HandleFunc("/v1/pull/{vendor}/{user_id}", h.HandlePull).Methods("POST")
	router.HandleFunc("/health", h.HandleHealth).Methods("GET")

	return &testEnv{
		handlers: h,
		router:   router,
		stub:     stub,
		store:    store,
		queue:    q,
		states:   states,
		endpoint: endpoint,
		config:   config,
	}
}

func (e *testEnv) seedToken(t *testing.T, userID string) {
	t.Helper()
	err := e.store.Put(context.Background(), &vendors.VendorToken{
		Vendor:       vendors.VendorWhoop,
		UserID:       userID,
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
}

func (e *testEnv) do(method, target string, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleWebhook_Accepted(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/v1/webhooks/whoop", `{"user_id":1,"type":"recovery.updated"}`)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, env.queue.Size())
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	env := newTestEnv(t)
	env.stub.verifyErr = errors.WebhookError("signature mismatch")

	rec := env.do(http.MethodPost, "/v1/webhooks/whoop", `{}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, 0, env.queue.Size())
}

func TestHandleWebhook_UnparseablePayload(t *testing.T) {
	env := newTestEnv(t)
	env.stub.parseErr = errors.WebhookError("missing required field: user_id")

	rec := env.do(http.MethodPost, "/v1/webhooks/whoop", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHandleWebhook_UnknownVendor(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/v1/webhooks/fitbit", `{}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAuthorize(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/v1/oauth/whoop/authorize?user_id=u1&redirect_uri=https://app.example.com/cb", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["authorization_url"], env.endpoint.URL+"/oauth/auth")
	assert.NotEmpty(t, body["state"])
	assert.Contains(t, body["authorization_url"], "state="+body["state"])
}

func TestHandleAuthorize_MissingParams(t *testing.T) {
	env := newTestEnv(t)

	// No redirect_uri in the request and none configured for the vendor
	rec := env.do(http.MethodGet, "/v1/oauth/whoop/authorize?user_id=u1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/v1/oauth/whoop/authorize?redirect_uri=https://app.example.com/cb", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAuthorize_ConfiguredRedirectFallback(t *testing.T) {
	env := newTestEnv(t)
	env.config.RedirectURI = "https://app.example.com/default-cb"

	rec := env.do(http.MethodGet, "/v1/oauth/whoop/authorize?user_id=u1", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["authorization_url"], "redirect_uri=")
}

func TestHandleCallback_StoresToken(t *testing.T) {
	env := newTestEnv(t)
	state, err := env.states.Issue(vendors.VendorWhoop, "u1")
	require.NoError(t, err)

	target := fmt.Sprintf("/v1/oauth/whoop/callback?code=auth-code&state=%s&redirect_uri=https://app.example.com/cb", state)
	rec := env.do(http.MethodGet, target, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	token, err := env.store.Get(context.Background(), vendors.VendorWhoop, "u1")
	require.NoError(t, err)
	assert.Equal(t, "access-token", token.AccessToken)
}

func TestHandleCallback_InvalidState(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/v1/oauth/whoop/callback?code=auth-code&state=forged&redirect_uri=x", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleCallback_VendorDenied(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/v1/oauth/whoop/callback?error=access_denied", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_denied")
}

func TestHandleDisconnect(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1")

	rec := env.do(http.MethodDelete, "/v1/oauth/whoop/disconnect?user_id=u1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	_, err := env.store.Get(context.Background(), vendors.VendorWhoop, "u1")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestHandleFetchData(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1")
	env.stub.fetchResult = map[string]interface{}{"records": []interface{}{"r1"}}

	rec := env.do(http.MethodGet, "/v1/data/whoop/u1/recovery?start=2026-08-01T00:00:00Z&limit=10", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "records")
}

func TestHandleFetchData_InvalidStart(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1")

	rec := env.do(http.MethodGet, "/v1/data/whoop/u1/recovery?start=yesterday", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFetchData_NoTokenIsUnauthorized(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/v1/data/whoop/u1/recovery", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleFetchData_RateLimitedCarriesRetryAfter(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1")
	env.stub.fetchErr = errors.RateLimitError("vendor throttled", 30*time.Second)

	rec := env.do(http.MethodGet, "/v1/data/whoop/u1/recovery", "")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestHandleFetchData_VendorFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1")
	env.stub.fetchErr = errors.VendorAPIError("vendor exploded", http.StatusServiceUnavailable)

	rec := env.do(http.MethodGet, "/v1/data/whoop/u1/recovery", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleRateLimitStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/v1/ratelimit/whoop/u1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var status ratelimit.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 100, status.Remaining)
}

func TestHandlePull_DefaultsAndResults(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1")

	rec := env.do(http.MethodPost, "/v1/pull/whoop/u1", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body pullResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Results, len(env.stub.DefaultResources()))
	assert.Empty(t, body.Errors)
}

func TestHandlePull_ExplicitResourceTypes(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1")

	rec := env.do(http.MethodPost, "/v1/pull/whoop/u1", `{"resource_types":["recovery"],"limit":5}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.stub.fetchCalls)
}

func TestHandlePull_QueryParamsOverrideBody(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1")

	rec := env.do(http.MethodPost, "/v1/pull/whoop/u1?resource_types=recovery,sleep&since=2026-08-01T00:00:00Z&limit=10",
		`{"resource_types":["workout"]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body pullResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Results, 2)
	assert.Contains(t, body.Results, "recovery")
	assert.Contains(t, body.Results, "sleep")
}

func TestHandlePull_InvalidSince(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1")

	rec := env.do(http.MethodPost, "/v1/pull/whoop/u1?since=yesterday", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePull_RateLimitStopsSweep(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1")
	env.stub.fetchErr = errors.RateLimitError("vendor throttled", time.Minute)

	rec := env.do(http.MethodPost, "/v1/pull/whoop/u1", "")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, env.stub.fetchCalls)
}

func TestHandlePull_PartialFailuresReported(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1")
	env.stub.fetchErr = errors.VendorAPIError("gone", http.StatusGone)

	rec := env.do(http.MethodPost, "/v1/pull/whoop/u1", `{"resource_types":["recovery","sleep"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body pullResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Errors, 2)
	assert.Empty(t, body.Results)
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body["vendors"], "whoop")
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"oauth", errors.OAuthError("nope", nil), http.StatusUnauthorized},
		{"validation", errors.ValidationError("bad"), http.StatusBadRequest},
		{"not found", errors.NotFoundError("token"), http.StatusNotFound},
		{"token store", errors.TokenError("backend down", nil), http.StatusInternalServerError},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}

func TestWriteError_DoesNotLeakCause(t *testing.T) {
	rec := httptest.NewRecorder()

	writeError(rec, errors.TokenError("decrypt failed", fmt.Errorf("cipher: message authentication failed")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, strings.Contains(rec.Body.String(), "cipher"))
}
