package service

import (
	"context"
	"database/sql"
	"net/http"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkav-labs/auth-api/internal/models"
	appErrors "github.com/arkav-labs/auth-api/pkg/errors"
	"github.com/arkav-labs/auth-api/pkg/hash"
)

type mockRegistrationStore struct {
	existing     *models.User
	createErr    error
	created      *models.User
	auditEntries []*models.AuditLog
}

func (m *mockRegistrationStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.existing != nil {
		return m.existing, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationStore) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	user.ID = "u1"
	m.created = user
	return nil
}

func (m *mockRegistrationStore) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	m.auditEntries = append(m.auditEntries, entry)
	return nil
}

func TestRegisterSuccess(t *testing.T) {
	repo := &mockRegistrationStore{}
	svc := NewUserService(repo, hash.NewBcryptHasher(), nil, nil)

	info, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "bob@example.com",
		Username: "bob",
		Password: "secret123",
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", info.ID)
	assert.Equal(t, "bob@example.com", info.Email)
	require.NotNil(t, repo.created)
	assert.NotEqual(t, "secret123", repo.created.PasswordHash)

	require.Len(t, repo.auditEntries, 1)
	assert.Equal(t, models.AuditActionRegister, repo.auditEntries[0].Action)
	require.NotNil(t, repo.auditEntries[0].UserID)
	assert.Equal(t, "u1", *repo.auditEntries[0].UserID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	repo := &mockRegistrationStore{existing: &models.User{ID: "u1", Email: "bob@example.com"}}
	svc := NewUserService(repo, hash.NewBcryptHasher(), nil, nil)

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "bob@example.com",
		Username: "bob",
		Password: "secret123",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, http.StatusBadRequest, appErrors.FromError(err).Status)
}

func TestRegisterConcurrentDuplicate(t *testing.T) {
	repo := &mockRegistrationStore{createErr: &pq.Error{Code: "23505", Constraint: "users_email_key"}}
	svc := NewUserService(repo, hash.NewBcryptHasher(), nil, nil)

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "bob@example.com",
		Username: "bob",
		Password: "secret123",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, http.StatusBadRequest, appErrors.FromError(err).Status)
}

func TestRegisterInvalidPayload(t *testing.T) {
	svc := NewUserService(&mockRegistrationStore{}, hash.NewBcryptHasher(), nil, nil)

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "not-an-email",
		Username: "bob",
		Password: "secret123",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
