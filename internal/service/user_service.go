package service

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/arkav-labs/auth-api/internal/models"
	"github.com/arkav-labs/auth-api/internal/repository"
	appErrors "github.com/arkav-labs/auth-api/pkg/errors"
	"github.com/arkav-labs/auth-api/pkg/hash"
)

// errDuplicateUser answers duplicate registrations. The status is 400, not
// 409: a duplicate email is a user-correctable input problem on this API.
var errDuplicateUser = appErrors.New(appErrors.ErrConflict.Code, http.StatusBadRequest, "user already exists")

type userStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// UserService handles account registration.
type UserService struct {
	repo      userStore
	hasher    hash.PasswordHasher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userStore, hasher hash.PasswordHasher, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, hasher: hasher, validator: validate, logger: logger}
}

// Register creates a new account. The password is hashed before it reaches
// the store; a duplicate email is a conflict.
func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	_, err := s.repo.FindByEmail(ctx, req.Email)
	if err == nil {
		return nil, errDuplicateUser
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing user")
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: passwordHash,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		// The pre-check races with concurrent registrations; the unique
		// constraint is authoritative.
		if repository.IsUniqueViolation(err, "") {
			return nil, errDuplicateUser
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))

	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionRegister,
		Resource:   "users",
		ResourceID: &user.ID,
		Detail:     []byte(`{"status":"created"}`),
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record registration audit log", zap.Error(err))
	}

	return &models.UserInfo{ID: user.ID, Email: user.Email, Username: user.Username}, nil
}
