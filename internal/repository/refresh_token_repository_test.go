package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindActiveByUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, time.Hour)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "created_at", "revoked", "revoked_at"}).
		AddRow("rt1", "u1", "value", now.Add(time.Hour), now, false, nil)
	mock.ExpectQuery("SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at FROM refresh_tokens WHERE user_id").
		WillReturnRows(rows)

	rt, err := repo.FindActiveByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "value", rt.Token)
	assert.True(t, rt.Active(now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveByUserAbsent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, time.Hour)

	mock.ExpectQuery("SELECT id, user_id, token").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindActiveByUser(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, time.Hour)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	rt, err := repo.Issue(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", rt.UserID)
	assert.Len(t, rt.Token, 64) // 32 random bytes hex-encoded
	assert.WithinDuration(t, time.Now().Add(time.Hour), rt.ExpiresAt, time.Minute)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueConcurrentLoginLosesRace(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, time.Hour)

	mock.ExpectExec("INSERT INTO refresh_tokens").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "refresh_tokens_active_user_idx"})

	_, err := repo.Issue(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrActiveTokenExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRetriesOnValueCollision(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, time.Hour)

	mock.ExpectExec("INSERT INTO refresh_tokens").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "refresh_tokens_token_key"})
	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	rt, err := repo.Issue(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, rt.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeIdempotent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, time.Hour)

	// Zero affected rows: already revoked or absent, still a success.
	mock.ExpectExec("UPDATE refresh_tokens SET revoked").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Revoke(context.Background(), "value")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE refresh_tokens SET revoked").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rt, err := repo.Rotate(context.Background(), "old-value")
	require.NoError(t, err)
	assert.Equal(t, "u1", rt.UserID)
	assert.NotEqual(t, "old-value", rt.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateValueCollisionAbortsTransaction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, time.Hour)

	// A unique violation aborts the transaction, so the insert is not
	// retried; the collision surfaces as a sentinel and the tx rolls back.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE refresh_tokens SET revoked").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "refresh_tokens_token_key"})
	mock.ExpectRollback()

	_, err := repo.Rotate(context.Background(), "old-value")
	assert.ErrorIs(t, err, ErrTokenCollision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateLoserObservesRevokedToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, time.Hour)

	// The conditional update matches no row when a concurrent rotation
	// already revoked the presented value.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE refresh_tokens SET revoked").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Rotate(context.Background(), "old-value")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
