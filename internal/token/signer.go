package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arkav-labs/auth-api/internal/models"
	"github.com/arkav-labs/auth-api/pkg/config"
	appErrors "github.com/arkav-labs/auth-api/pkg/errors"
)

// Signer issues and verifies short-lived access tokens. It is a stateless
// cryptographic transform; the signing key is fixed at process startup.
type Signer struct {
	secret   []byte
	issuer   string
	audience []string
	expiry   time.Duration
}

// NewSigner constructs a Signer from the JWT configuration.
func NewSigner(cfg config.JWTConfig) *Signer {
	return &Signer{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		expiry:   cfg.Expiration,
	}
}

// Expiry returns the configured access token lifetime.
func (s *Signer) Expiry() time.Duration {
	return s.expiry
}

// Issue mints a signed access token for the user and returns the token
// string together with its expiry instant.
func (s *Signer) Issue(user *models.User) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.expiry)
	claims := &models.AccessClaims{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			Audience:  s.audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates an access token, returning its claims.
// Expiry and signature failures are reported as distinct errors so callers
// can decide between refreshing and forcing a re-login.
func (s *Signer) Verify(signed string) (*models.AccessClaims, error) {
	tok, err := jwt.ParseWithClaims(signed, &models.AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.Wrap(err, appErrors.ErrTokenExpired.Code, appErrors.ErrTokenExpired.Status, "access token has expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrSignature.Code, appErrors.ErrSignature.Status, "invalid access token")
	}

	claims, ok := tok.Claims.(*models.AccessClaims)
	if !ok || !tok.Valid {
		return nil, appErrors.Clone(appErrors.ErrSignature, "invalid access token claims")
	}

	return claims, nil
}
