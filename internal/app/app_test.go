package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wearable-connector/internal/config"
	"wearable-connector/internal/vendors"
)

func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ENCRYPTION_KEY", "test-encryption-key")
	t.Setenv("STATE_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("TOKEN_STORE_BACKEND", "memory")
	t.Setenv("QUEUE_BACKEND", "memory")
	t.Setenv("WHOOP_CLIENT_ID", "whoop-client")
	t.Setenv("WHOOP_CLIENT_SECRET", "whoop-secret")
	t.Setenv("WHOOP_WEBHOOK_SECRET", "whoop-webhook")
	t.Setenv("GARMIN_CLIENT_ID", "garmin-client")
	t.Setenv("GARMIN_CLIENT_SECRET", "garmin-secret")
	t.Setenv("GARMIN_WEBHOOK_SECRET", "garmin-webhook")

	cfg := config.Load()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNew_WiresAllComponents(t *testing.T) {
	cfg := testAppConfig(t)

	application, err := New(context.Background(), cfg)
	require.NoError(t, err)

	assert.Len(t, application.Bases, 2)
	assert.Contains(t, application.Bases, vendors.VendorWhoop)
	assert.Contains(t, application.Bases, vendors.VendorGarmin)
	assert.NotNil(t, application.Consumer)
	assert.NotNil(t, application.Puller)
	assert.NotNil(t, application.Handlers)
}

func TestNew_ConsumerDisabled(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.ConsumerEnabled = false

	application, err := New(context.Background(), cfg)
	require.NoError(t, err)

	assert.Nil(t, application.Consumer)
}

func TestStartAndShutdown(t *testing.T) {
	cfg := testAppConfig(t)

	application, err := New(context.Background(), cfg)
	require.NoError(t, err)

	require.NoError(t, application.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, application.Shutdown(ctx))
}

func TestSetupRoutes(t *testing.T) {
	cfg := testAppConfig(t)

	application, err := New(context.Background(), cfg)
	require.NoError(t, err)

	router := mux.NewRouter()
	SetupRoutes(router, application.Handlers)

	tests := []struct {
		method string
		target string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/v1/ratelimit/whoop/u1", http.StatusOK},
		{http.MethodGet, "/v1/oauth/whoop/authorize?user_id=u1&redirect_uri=https://app.example.com/cb", http.StatusOK},
		{http.MethodGet, "/v1/data/unknown/u1/recovery", http.StatusNotFound},
		{http.MethodPost, "/v1/pull", http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}
