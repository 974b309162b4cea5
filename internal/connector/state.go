package connector

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/utils"
	"wearable-connector/internal/vendors"
)

// StateTTL bounds how long an OAuth authorization flow may take between
// issuing the consent URL and the callback arriving.
const StateTTL = 15 * time.Minute

// stateClaims binds an OAuth state parameter to the user and vendor that
// started the flow, so a callback cannot be spliced onto another session
type stateClaims struct {
	UserID string `json:"uid"`
	Vendor string `json:"vnd"`
	jwt.RegisteredClaims
}

// StateManager issues and verifies signed OAuth state parameters
type StateManager struct {
	secret []byte
	now    func() time.Time
}

// NewStateManager creates a state manager signing with the given secret
func NewStateManager(secret string) (*StateManager, error) {
	if secret == "" {
		return nil, errors.ConfigError("oauth state secret cannot be empty")
	}
	return &StateManager{secret: []byte(secret), now: time.Now}, nil
}

// Issue returns a signed state token for an authorization flow
func (m *StateManager) Issue(vendor vendors.VendorType, userID string) (string, error) {
	if userID == "" {
		return "", errors.ValidationError("user_id is required")
	}

	now := m.now()
	claims := stateClaims{
		UserID: userID,
		Vendor: vendor.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
			ID:        utils.GenerateTraceID(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign state token", err)
	}
	return signed, nil
}

// Verify checks a state token from an OAuth callback and returns the
// user it was issued for. The vendor must match the callback route.
func (m *StateManager) Verify(state string, vendor vendors.VendorType) (string, error) {
	claims := &stateClaims{}
	token, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.OAuthError("unexpected state signing method", nil)
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", errors.OAuthError("invalid state parameter", err)
	}
	if !token.Valid {
		return "", errors.OAuthError("invalid state parameter", nil)
	}

	if claims.Vendor != vendor.String() {
		return "", errors.OAuthError("state issued for a different vendor", nil)
	}
	if claims.UserID == "" {
		return "", errors.OAuthError("state missing user binding", nil)
	}
	return claims.UserID, nil
}
