package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/arkav-labs/auth-api/internal/models"
)

// Constraint names from the refresh_tokens migration.
const (
	constraintTokenValue = "refresh_tokens_token_key"
	constraintActiveUser = "refresh_tokens_active_user_idx"
)

// RefreshTokenRepository is the Postgres-backed refresh token store. A
// partial unique index on (user_id) WHERE revoked = FALSE enforces the
// single-active-token invariant at the storage layer.
type RefreshTokenRepository struct {
	db  *sqlx.DB
	ttl time.Duration
}

// NewRefreshTokenRepository creates a refresh token store issuing tokens
// with the given lifetime.
func NewRefreshTokenRepository(db *sqlx.DB, ttl time.Duration) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db, ttl: ttl}
}

// FindActiveByUser returns the user's active refresh token. Expired or
// revoked rows are treated as absent even before physical cleanup.
func (r *RefreshTokenRepository) FindActiveByUser(ctx context.Context, userID string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at FROM refresh_tokens WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, userID, time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("find active refresh token: %w", err)
	}
	return &rt, nil
}

// Issue generates and persists a new refresh token for the user. When a
// concurrent issue for the same user wins first, ErrActiveTokenExists is
// returned so the caller can reuse the winner's token.
func (r *RefreshTokenRepository) Issue(ctx context.Context, userID string) (*models.RefreshToken, error) {
	for attempt := 0; attempt < 2; attempt++ {
		value, err := generateTokenValue()
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		rt := &models.RefreshToken{
			ID:        uuid.NewString(),
			UserID:    userID,
			Token:     value,
			ExpiresAt: now.Add(r.ttl),
			CreatedAt: now,
		}

		const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, revoked_at) VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at)`
		_, err = r.db.NamedExecContext(ctx, query, rt)
		if err == nil {
			return rt, nil
		}
		if IsUniqueViolation(err, constraintActiveUser) {
			return nil, ErrActiveTokenExists
		}
		if IsUniqueViolation(err, constraintTokenValue) {
			continue
		}
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return nil, ErrTokenCollision
}

// Revoke marks a token unusable. Revoking an absent or already-revoked
// token is a no-op.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenValue string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, tokenValue, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// Rotate atomically revokes the presented token and issues a replacement for
// the same user. The revoke step is a conditional update checked through its
// affected-row count, so of two concurrent rotations of the same value
// exactly one succeeds; the loser observes ErrTokenNotFound.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, tokenValue string) (*models.RefreshToken, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()

	const revokeQuery = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token = $1 AND revoked = FALSE AND expires_at > $2 RETURNING user_id`
	var userID string
	if err := tx.QueryRowxContext(ctx, revokeQuery, tokenValue, now).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("revoke rotated token: %w", err)
	}

	value, err := generateTokenValue()
	if err != nil {
		return nil, err
	}

	rt := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     value,
		ExpiresAt: now.Add(r.ttl),
		CreatedAt: now,
	}

	// A unique violation aborts the transaction, so there is no point
	// retrying the insert inside it. The caller treats a collision as a
	// retryable conflict.
	const insertQuery = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, revoked_at) VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, rt); err != nil {
		if IsUniqueViolation(err, constraintTokenValue) {
			return nil, ErrTokenCollision
		}
		return nil, fmt.Errorf("insert rotated token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rotation: %w", err)
	}
	return rt, nil
}

// DeleteExpired physically removes expired rows for a user. Expired rows are
// already invisible to FindActiveByUser; this keeps the table clean before a
// replacement is issued.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, userID string) error {
	const query = `DELETE FROM refresh_tokens WHERE user_id = $1 AND expires_at <= $2`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return nil
}

// PurgeExpired removes expired rows for all users. It exists for periodic
// maintenance, not the request path.
func (r *RefreshTokenRepository) PurgeExpired(ctx context.Context) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at <= $1`
	res, err := r.db.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired refresh tokens: %w", err)
	}
	return res.RowsAffected()
}
