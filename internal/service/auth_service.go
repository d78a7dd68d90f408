package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/arkav-labs/auth-api/internal/models"
	"github.com/arkav-labs/auth-api/internal/repository"
	"github.com/arkav-labs/auth-api/internal/token"
	"github.com/arkav-labs/auth-api/pkg/config"
	appErrors "github.com/arkav-labs/auth-api/pkg/errors"
	"github.com/arkav-labs/auth-api/pkg/hash"
)

type credentialStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// TokenStore persists refresh tokens. Implementations guarantee that
// expired or revoked tokens are never returned, that at most one active
// token exists per user, and that Rotate is atomic with respect to
// concurrent rotations of the same value.
type TokenStore interface {
	FindActiveByUser(ctx context.Context, userID string) (*models.RefreshToken, error)
	Issue(ctx context.Context, userID string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, tokenValue string) error
	Rotate(ctx context.Context, tokenValue string) (*models.RefreshToken, error)
	DeleteExpired(ctx context.Context, userID string) error
}

// AuthService orchestrates the credential-session lifecycle: login, refresh
// and logout.
type AuthService struct {
	users       credentialStore
	tokens      TokenStore
	signer      *token.Signer
	hasher      hash.PasswordHasher
	validator   *validator.Validate
	logger      *zap.Logger
	loginPolicy string
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users credentialStore, tokens TokenStore, signer *token.Signer, hasher hash.PasswordHasher, validate *validator.Validate, logger *zap.Logger, loginPolicy string) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if loginPolicy == "" {
		loginPolicy = config.LoginPolicyReuseActive
	}
	return &AuthService{
		users:       users,
		tokens:      tokens,
		signer:      signer,
		hasher:      hasher,
		validator:   validate,
		logger:      logger,
		loginPolicy: loginPolicy,
	}
}

// Login authenticates a user and returns an access/refresh token pair.
// Unknown email and wrong password are deliberately indistinguishable.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	ok, err := s.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify password")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	accessToken, _, err := s.signer.Issue(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshToken, err := s.refreshTokenForLogin(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.audit(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionLogin,
		Resource:   "auth",
		ResourceID: &user.ID,
		Detail:     []byte(`{"status":"success"}`),
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	})

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		ExpiresIn:    int64(s.signer.Expiry().Seconds()),
		IssuedAt:     time.Now().UTC(),
		User: models.UserInfo{
			ID:       user.ID,
			Email:    user.Email,
			Username: user.Username,
		},
	}, nil
}

// refreshTokenForLogin resolves the refresh token handed out by login
// according to the configured policy.
func (s *AuthService) refreshTokenForLogin(ctx context.Context, userID string) (*models.RefreshToken, error) {
	existing, err := s.tokens.FindActiveByUser(ctx, userID)
	switch {
	case err == nil:
		if s.loginPolicy == config.LoginPolicyReuseActive {
			return existing, nil
		}
		if err := s.tokens.Revoke(ctx, existing.Token); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke previous refresh token")
		}
	case errors.Is(err, repository.ErrTokenNotFound):
		// The previous token may simply have expired; purge it before
		// issuing a replacement.
		if err := s.tokens.DeleteExpired(ctx, userID); err != nil {
			s.logger.Warn("failed to purge expired refresh tokens", zap.Error(err))
		}
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up refresh token")
	}

	issued, err := s.tokens.Issue(ctx, userID)
	if err == nil {
		return issued, nil
	}
	if errors.Is(err, repository.ErrActiveTokenExists) {
		// A concurrent login won the creation race; reuse its token.
		winner, ferr := s.tokens.FindActiveByUser(ctx, userID)
		if ferr == nil {
			return winner, nil
		}
		return nil, appErrors.Wrap(ferr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load concurrently issued refresh token")
	}
	if errors.Is(err, repository.ErrTokenCollision) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "refresh token collision, retry login")
	}
	return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue refresh token")
}

// Refresh rotates the presented refresh token and mints a new access token.
// Rotation is single use: a value can be exchanged at most once.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.RefreshResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	rotated, err := s.tokens.Rotate(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "refresh token is invalid, expired or revoked")
		}
		if errors.Is(err, repository.ErrTokenCollision) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "refresh token collision, retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
	}

	user, err := s.users.FindByID(ctx, rotated.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "associated user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	accessToken, _, err := s.signer.Issue(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	s.audit(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionRefresh,
		Resource:   "auth",
		ResourceID: &user.ID,
		Detail:     []byte(`{"status":"rotated"}`),
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	})

	return &models.RefreshResponse{
		AccessToken:  accessToken,
		RefreshToken: rotated.Token,
		ExpiresIn:    int64(s.signer.Expiry().Seconds()),
		IssuedAt:     time.Now().UTC(),
	}, nil
}

// Logout revokes the refresh token. Revoking an absent or already-revoked
// token succeeds silently.
func (s *AuthService) Logout(ctx context.Context, req models.LogoutRequest) error {
	if req.RefreshToken == "" {
		return nil
	}
	if err := s.tokens.Revoke(ctx, req.RefreshToken); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}

	// Logout is unauthenticated, so no subject is recorded.
	s.audit(ctx, &models.AuditLog{
		Action:    models.AuditActionLogout,
		Resource:  "auth",
		Detail:    []byte(`{"status":"revoked"}`),
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	})
	return nil
}

// audit records an audit trail entry. Failures are logged and swallowed:
// the trail never blocks the session flows.
func (s *AuthService) audit(ctx context.Context, entry *models.AuditLog) {
	if err := s.users.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}
