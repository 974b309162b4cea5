package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/vendors"
)

func TestStateManager_IssueVerify(t *testing.T) {
	manager, err := NewStateManager("state-secret")
	require.NoError(t, err)

	state, err := manager.Issue(vendors.VendorWhoop, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, state)

	userID, err := manager.Verify(state, vendors.VendorWhoop)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestStateManager_VendorMismatch(t *testing.T) {
	manager, err := NewStateManager("state-secret")
	require.NoError(t, err)

	state, err := manager.Issue(vendors.VendorWhoop, "u1")
	require.NoError(t, err)

	_, err = manager.Verify(state, vendors.VendorGarmin)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeOAuth))
}

func TestStateManager_WrongSecret(t *testing.T) {
	issuer, err := NewStateManager("secret-a")
	require.NoError(t, err)
	verifier, err := NewStateManager("secret-b")
	require.NoError(t, err)

	state, err := issuer.Issue(vendors.VendorWhoop, "u1")
	require.NoError(t, err)

	_, err = verifier.Verify(state, vendors.VendorWhoop)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeOAuth))
}

func TestStateManager_Expired(t *testing.T) {
	manager, err := NewStateManager("state-secret")
	require.NoError(t, err)

	issuedAt := time.Now().Add(-StateTTL - time.Minute)
	manager.now = func() time.Time { return issuedAt }
	state, err := manager.Issue(vendors.VendorWhoop, "u1")
	require.NoError(t, err)

	manager.now = time.Now
	_, err = manager.Verify(state, vendors.VendorWhoop)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeOAuth))
}

func TestStateManager_Garbage(t *testing.T) {
	manager, err := NewStateManager("state-secret")
	require.NoError(t, err)

	_, err = manager.Verify("not-a-jwt", vendors.VendorWhoop)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeOAuth))
}

func TestStateManager_RequiresSecret(t *testing.T) {
	_, err := NewStateManager("")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
