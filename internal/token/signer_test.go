package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkav-labs/auth-api/internal/models"
	"github.com/arkav-labs/auth-api/pkg/config"
	appErrors "github.com/arkav-labs/auth-api/pkg/errors"
)

func newTestSigner(expiry time.Duration) *Signer {
	return NewSigner(config.JWTConfig{
		Secret:     "test_secret",
		Issuer:     "auth-api",
		Expiration: expiry,
	})
}

func TestIssueAndVerify(t *testing.T) {
	s := newTestSigner(time.Hour)
	user := &models.User{ID: "u1", Email: "alice@example.com", Username: "alice"}

	signed, expiresAt, err := s.Issue(user)
	require.NoError(t, err)
	assert.NotEmpty(t, signed)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := s.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "u1", claims.Subject)
}

func TestVerifyExpiredToken(t *testing.T) {
	s := newTestSigner(-time.Minute)
	user := &models.User{ID: "u1", Email: "alice@example.com", Username: "alice"}

	signed, _, err := s.Issue(user)
	require.NoError(t, err)

	_, err = s.Verify(signed)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrTokenExpired.Code, appErr.Code)
}

func TestVerifyTamperedToken(t *testing.T) {
	s := newTestSigner(time.Hour)
	user := &models.User{ID: "u1", Email: "alice@example.com", Username: "alice"}

	signed, _, err := s.Issue(user)
	require.NoError(t, err)

	other := NewSigner(config.JWTConfig{Secret: "other_secret", Expiration: time.Hour})
	_, err = other.Verify(signed)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrSignature.Code, appErr.Code)
}

func TestVerifyGarbage(t *testing.T) {
	s := newTestSigner(time.Hour)

	_, err := s.Verify("not.a.token")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrSignature.Code, appErr.Code)
}
