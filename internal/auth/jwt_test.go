package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_UsesConfiguredTTL(t *testing.T) {
	ttl := 2 * time.Hour
	tm := NewTokenManager("test-secret", ttl)

	userID := uuid.New()

	start := time.Now()

	token, err := tm.GenerateToken(userID, "dev@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	require.NotNil(t, claims.ExpiresAt)

	expectedExpiry := start.Add(ttl)
	assert.WithinDuration(t, expectedExpiry, claims.ExpiresAt.Time, 2*time.Second)
}

func TestTokenManager_Verify(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)
	userID := uuid.New()

	t.Run("resolves identity from valid token", func(t *testing.T) {
		token, err := tm.GenerateToken(userID, "dev@example.com")
		require.NoError(t, err)

		identity, err := tm.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, userID, identity.UserID)
		assert.Equal(t, "dev@example.com", identity.Email)
	})

	t.Run("email is optional", func(t *testing.T) {
		token, err := tm.GenerateToken(userID, "")
		require.NoError(t, err)

		identity, err := tm.Verify(token)
		require.NoError(t, err)
		assert.Empty(t, identity.Email)
	})

	t.Run("rejects token signed with another secret", func(t *testing.T) {
		other := NewTokenManager("other-secret", time.Hour)
		token, err := other.GenerateToken(userID, "")
		require.NoError(t, err)

		_, err = tm.Verify(token)
		assert.Error(t, err)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := tm.Verify("not-a-token")
		assert.Error(t, err)
	})
}
