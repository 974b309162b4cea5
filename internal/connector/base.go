package connector

import (
	"context"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/httpclient"
	"wearable-connector/internal/common/logging"
	"wearable-connector/internal/common/utils"
	"wearable-connector/internal/queue"
	"wearable-connector/internal/ratelimit"
	"wearable-connector/internal/tokens"
	"wearable-connector/internal/vendors"
)

// RefreshMargin is how close to expiry an access token may get before a
// fetch triggers a refresh.
const RefreshMargin = 60 * time.Second

// Webhook failure codes let callers separate a rejected signature from a
// payload the connector could not parse.
const (
	CodeVerificationFailed = "verification_failed"
	CodeParseFailed        = "parse_failed"
)

func tagWebhookStage(err error, code string) error {
	if appErr, ok := err.(*errors.AppError); ok && appErr.Code == "" {
		return appErr.WithCode(code)
	}
	return err
}

// TokenRevoker is an optional capability of a VendorConnector for vendors
// that support server-side token revocation. Revocation failures are
// logged and ignored; the local token is deleted regardless.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, accessToken string) error
}

// Dependencies carries the shared infrastructure a Base orchestrator
// composes. Everything is injected so tests can isolate instances.
type Dependencies struct {
	TokenStore  tokens.Store
	RateLimiter *ratelimit.Limiter
	Queue       queue.Queue
	States      *StateManager
	HTTPClient  *httpclient.Client
	Logger      logging.Logger
	Breaker     *VendorBreaker
}

// Base orchestrates one vendor integration: OAuth flows against the
// vendor's token endpoint, webhook processing into the event queue, and
// rate-limited data fetches through the vendor connector.
type Base struct {
	connector VendorConnector
	config    *vendors.VendorConfig

	store   tokens.Store
	limiter *ratelimit.Limiter
	queue   queue.Queue
	states  *StateManager
	client  *httpclient.Client
	breaker *VendorBreaker
	logger  logging.Logger

	// collapses concurrent refreshes for the same user
	refreshGroup singleflight.Group

	now func() time.Time
}

// NewBase creates an orchestrator for the given vendor connector
func NewBase(vc VendorConnector, config *vendors.VendorConfig, deps Dependencies) (*Base, error) {
	if vc == nil {
		return nil, errors.ConfigError("vendor connector is required")
	}
	if config == nil {
		return nil, errors.ConfigError("vendor config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.TokenStore == nil || deps.RateLimiter == nil || deps.Queue == nil || deps.States == nil {
		return nil, errors.ConfigError("token store, rate limiter, queue, and state manager are required")
	}

	client := deps.HTTPClient
	if client == nil {
		client = httpclient.NewClient()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	breaker := deps.Breaker
	if breaker == nil {
		breaker = NewVendorBreaker(vc.Vendor().String(), DefaultBreakerConfig(), logger)
	}

	return &Base{
		connector: vc,
		config:    config,
		store:     deps.TokenStore,
		limiter:   deps.RateLimiter,
		queue:     deps.Queue,
		states:    deps.States,
		client:    client,
		breaker:   breaker,
		logger:    logger.WithFields(logging.Field{Key: "vendor", Value: vc.Vendor().String()}),
		now:       time.Now,
	}, nil
}

// Vendor returns the identity of the wrapped connector
func (b *Base) Vendor() vendors.VendorType {
	return b.connector.Vendor()
}

// RedirectURI returns the configured default OAuth redirect target,
// empty when none was set
func (b *Base) RedirectURI() string {
	return b.config.RedirectURI
}

// DefaultResources names the vendor's resource types for catch-up pulls
func (b *Base) DefaultResources() []string {
	return b.connector.DefaultResources()
}

// BuildAuthorizationURL constructs the vendor OAuth consent URL with a
// signed state parameter binding the flow to the user
func (b *Base) BuildAuthorizationURL(userID, redirectURI string) (string, error) {
	if redirectURI == "" {
		return "", errors.ValidationError("redirect_uri is required")
	}

	state, err := b.states.Issue(b.Vendor(), userID)
	if err != nil {
		return "", err
	}

	authURL, err := url.Parse(b.config.AuthURL)
	if err != nil {
		return "", errors.ConfigError("invalid auth_url for vendor " + b.Vendor().String())
	}

	params := authURL.Query()
	params.Set("response_type", "code")
	params.Set("client_id", b.config.ClientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("state", state)
	if len(b.config.Scopes) > 0 {
		params.Set("scope", strings.Join(b.config.Scopes, " "))
	}
	authURL.RawQuery = params.Encode()

	return authURL.String(), nil
}

// ExchangeCode verifies the callback state, exchanges the authorization
// code at the vendor token endpoint, and persists the resulting token
func (b *Base) ExchangeCode(ctx context.Context, code, state, redirectURI string) (*vendors.VendorToken, error) {
	if code == "" {
		return nil, errors.ValidationError("code is required")
	}

	userID, err := b.states.Verify(state, b.Vendor())
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", b.config.ClientID)
	form.Set("client_secret", b.config.ClientSecret)

	tokenResp, err := b.tokenRequest(ctx, form)
	if err != nil {
		return nil, errors.OAuthError("authorization code exchange failed", err)
	}

	token := b.tokenFromResponse(userID, tokenResp, nil)
	if err := b.store.Put(ctx, token); err != nil {
		return nil, err
	}

	b.logger.Info("OAuth code exchanged",
		logging.Field{Key: "user_id", Value: userID},
		logging.Field{Key: "expires_at", Value: token.ExpiresAt.Format(time.RFC3339)},
	)
	return token, nil
}

// RefreshIfNeeded returns a valid token for the user, refreshing it first
// when expiry is within RefreshMargin. Concurrent calls for the same user
// share one refresh.
func (b *Base) RefreshIfNeeded(ctx context.Context, userID string) (*vendors.VendorToken, error) {
	token, err := b.store.Get(ctx, b.Vendor(), userID)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return nil, errors.OAuthError("no stored token for user "+userID, err)
		}
		return nil, err
	}

	if !token.IsExpired(b.now(), RefreshMargin) {
		return token, nil
	}

	result, err, _ := b.refreshGroup.Do(userID, func() (interface{}, error) {
		// re-read under the flight in case another call just refreshed
		current, err := b.store.Get(ctx, b.Vendor(), userID)
		if err != nil {
			return nil, err
		}
		if !current.IsExpired(b.now(), RefreshMargin) {
			return current, nil
		}
		return b.refresh(ctx, current)
	})
	if err != nil {
		return nil, err
	}
	return result.(*vendors.VendorToken), nil
}

// refresh performs the refresh grant and persists the new token
func (b *Base) refresh(ctx context.Context, current *vendors.VendorToken) (*vendors.VendorToken, error) {
	if current.RefreshToken == "" {
		return nil, errors.OAuthError("no refresh token stored for user "+current.UserID, nil)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", current.RefreshToken)
	form.Set("client_id", b.config.ClientID)
	form.Set("client_secret", b.config.ClientSecret)

	tokenResp, err := b.tokenRequest(ctx, form)
	if err != nil {
		status := errors.StatusCode(err)
		if status == 400 || status == 401 {
			// refresh grant rejected, the credentials are dead
			if delErr := b.store.Delete(ctx, b.Vendor(), current.UserID); delErr != nil {
				b.logger.Warn("Failed to delete rejected token",
					logging.Field{Key: "user_id", Value: current.UserID},
					logging.Field{Key: "error", Value: delErr.Error()},
				)
			}
			return nil, errors.OAuthError("refresh grant rejected, user must reconnect", err)
		}
		return nil, errors.OAuthError("token refresh failed", err)
	}

	token := b.tokenFromResponse(current.UserID, tokenResp, current)
	if err := b.store.Put(ctx, token); err != nil {
		return nil, err
	}

	b.logger.Info("Access token refreshed",
		logging.Field{Key: "user_id", Value: current.UserID},
		logging.Field{Key: "expires_at", Value: token.ExpiresAt.Format(time.RFC3339)},
	)
	return token, nil
}

// RevokeTokens revokes vendor-side access best-effort and always deletes
// the locally stored token
func (b *Base) RevokeTokens(ctx context.Context, userID string) error {
	token, err := b.store.Get(ctx, b.Vendor(), userID)
	if err != nil && !errors.IsType(err, errors.ErrTypeNotFound) {
		return err
	}

	if token != nil {
		if revoker, ok := b.connector.(TokenRevoker); ok {
			if err := revoker.RevokeToken(ctx, token.AccessToken); err != nil {
				b.logger.Warn("Vendor-side revocation failed",
					logging.Field{Key: "user_id", Value: userID},
					logging.Field{Key: "error", Value: err.Error()},
				)
			}
		}
	}

	return b.store.Delete(ctx, b.Vendor(), userID)
}

// ProcessWebhook verifies and parses an inbound delivery, then enqueues
// the normalized event. The actual data fetch happens asynchronously in
// the queue consumer, keeping webhook latency independent of vendor API
// health. Returns the event's trace_id.
func (b *Base) ProcessWebhook(ctx context.Context, headers map[string]string, rawBody []byte) (string, error) {
	if err := b.connector.VerifyWebhook(headers, rawBody); err != nil {
		b.logger.Warn("Webhook verification failed",
			logging.Field{Key: "error", Value: err.Error()},
		)
		return "", tagWebhookStage(err, CodeVerificationFailed)
	}

	event, err := b.connector.ParseEvent(rawBody)
	if err != nil {
		b.logger.Warn("Webhook parse failed",
			logging.Field{Key: "error", Value: err.Error()},
		)
		return "", tagWebhookStage(err, CodeParseFailed)
	}

	event.Vendor = b.Vendor()
	if event.TraceID == "" {
		event.TraceID = utils.GenerateTraceID()
	}

	messageID, err := b.queue.Enqueue(ctx, event)
	if err != nil {
		return "", err
	}

	b.logger.Info("Webhook event enqueued",
		logging.Field{Key: "user_id", Value: event.UserID},
		logging.Field{Key: "type", Value: event.Type},
		logging.Field{Key: "trace_id", Value: event.TraceID},
		logging.Field{Key: "message_id", Value: messageID},
	)
	return event.TraceID, nil
}

// CheckRateLimit consumes one rate-limit token for the user
func (b *Base) CheckRateLimit(userID string) error {
	return b.limiter.Check(b.Vendor(), userID)
}

// RateLimitStatus reports remaining capacity without consuming
func (b *Base) RateLimitStatus(userID string) (*ratelimit.Status, error) {
	return b.limiter.Status(b.Vendor(), userID)
}

// FetchData performs a rate-limited, authenticated fetch against the
// vendor API and records the pull time. The rate limiter is consulted
// before any token work so a limited user costs nothing upstream.
func (b *Base) FetchData(ctx context.Context, userID, resourceType, resourceID string, params FetchParams) (map[string]interface{}, error) {
	if err := b.CheckRateLimit(userID); err != nil {
		return nil, err
	}

	token, err := b.RefreshIfNeeded(ctx, userID)
	if err != nil {
		return nil, err
	}

	var data map[string]interface{}
	err = b.breaker.Execute(ctx, func() error {
		var fetchErr error
		data, fetchErr = b.connector.FetchData(ctx, token.AccessToken, userID, resourceType, resourceID, params)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	if err := b.store.UpdateLastPull(ctx, b.Vendor(), userID, b.now()); err != nil {
		// the fetch succeeded; a stale pull cursor is not worth failing it
		b.logger.Warn("Failed to update last_pull",
			logging.Field{Key: "user_id", Value: userID},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}

	return data, nil
}

// tokenRequest POSTs a form to the vendor token endpoint and decodes the
// standard OAuth token response
func (b *Base) tokenRequest(ctx context.Context, form url.Values) (*tokenResponse, error) {
	resp, err := b.client.Post(ctx, b.config.TokenURL, strings.NewReader(form.Encode()), map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
		"Accept":       "application/json",
	})
	if err != nil {
		return nil, err
	}

	var tokenResp tokenResponse
	if err := resp.DecodeJSON(&tokenResp); err != nil {
		return nil, err
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.OAuthError("no access token in vendor response", nil)
	}
	return &tokenResp, nil
}

// tokenResponse is the standard OAuth token endpoint reply
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// tokenFromResponse builds the stored token, carrying forward fields the
// vendor omitted from the response
func (b *Base) tokenFromResponse(userID string, resp *tokenResponse, previous *vendors.VendorToken) *vendors.VendorToken {
	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	token := &vendors.VendorToken{
		Vendor:       b.Vendor(),
		UserID:       userID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    b.now().Add(time.Duration(expiresIn) * time.Second),
	}

	if previous != nil {
		token.LastPull = previous.LastPull
		if token.RefreshToken == "" {
			token.RefreshToken = previous.RefreshToken
		}
	}
	return token
}
