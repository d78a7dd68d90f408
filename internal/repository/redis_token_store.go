package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arkav-labs/auth-api/internal/models"
)

const (
	redisTokenKeyPrefix = "auth:refresh:token:"
	redisUserKeyPrefix  = "auth:refresh:user:"
)

// RedisTokenStore is the Redis-backed refresh token store. Expiry is
// delegated to Redis TTLs, so expired tokens become absent without explicit
// cleanup, and revocation deletes the keys outright. Each token is stored
// twice: a record keyed by token value and a per-user pointer key that
// enforces the single-active-token invariant. The two keys are not
// hash-tagged into one slot, so the scripts require a non-clustered Redis.
type RedisTokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTokenStore creates a refresh token store issuing tokens with the
// given lifetime.
func NewRedisTokenStore(client *redis.Client, ttl time.Duration) *RedisTokenStore {
	return &RedisTokenStore{client: client, ttl: ttl}
}

// issueScript creates the user pointer and the token record only when
// neither exists. Scripts run atomically on the Redis server, so concurrent
// issues for the same user serialize and exactly one wins.
var issueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'user'
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 'collision'
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 'ok'
`)

// rotateScript deletes the presented token record and writes a replacement
// for the same user in one atomic step. The caller pre-reads the record to
// learn the user id, so all touched keys can be declared up front; the
// script re-checks existence, making the pre-read advisory only. Returns
// the user id of the rotated token, or false when the token is absent.
//
// KEYS[1] = old token record, KEYS[2] = user pointer, KEYS[3] = new record.
var rotateScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return false
end
local rec = cjson.decode(raw)
redis.call('DEL', KEYS[1])
local newRec = cjson.encode({
  id = ARGV[2],
  user_id = rec.user_id,
  token = ARGV[3],
  expires_at = ARGV[4],
  created_at = ARGV[5],
  revoked = false,
})
redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[1])
redis.call('SET', KEYS[3], newRec, 'PX', ARGV[1])
return rec.user_id
`)

// revokeScript deletes the token record and its user pointer when the
// pointer still references the revoked value.
//
// KEYS[1] = token record, KEYS[2] = user pointer.
var revokeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
local rec = cjson.decode(raw)
redis.call('DEL', KEYS[1])
local current = redis.call('GET', KEYS[2])
if current == rec.token then
  redis.call('DEL', KEYS[2])
end
return 1
`)

// FindActiveByUser returns the user's active refresh token. Redis TTLs make
// expired tokens absent, and revoked tokens are deleted, so any readable
// record is active.
func (s *RedisTokenStore) FindActiveByUser(ctx context.Context, userID string) (*models.RefreshToken, error) {
	value, err := s.client.Get(ctx, redisUserKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("find active refresh token: %w", err)
	}

	raw, err := s.client.Get(ctx, redisTokenKeyPrefix+value).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("load refresh token record: %w", err)
	}

	var rt models.RefreshToken
	if err := json.Unmarshal(raw, &rt); err != nil {
		return nil, fmt.Errorf("decode refresh token record: %w", err)
	}
	return &rt, nil
}

// Issue generates and stores a new refresh token for the user.
func (s *RedisTokenStore) Issue(ctx context.Context, userID string) (*models.RefreshToken, error) {
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
			ExpiresAt: now.Add(s.ttl),
			CreatedAt: now,
		}

		payload, err := json.Marshal(rt)
		if err != nil {
			return nil, fmt.Errorf("encode refresh token record: %w", err)
		}

		keys := []string{redisUserKeyPrefix + userID, redisTokenKeyPrefix + value}
		res, err := issueScript.Run(ctx, s.client, keys, value, payload, s.ttl.Milliseconds()).Text()
		if err != nil {
			return nil, fmt.Errorf("issue refresh token: %w", err)
		}

		switch res {
		case "ok":
			return rt, nil
		case "user":
			return nil, ErrActiveTokenExists
		case "collision":
			continue
		default:
			return nil, fmt.Errorf("issue refresh token: unexpected result %q", res)
		}
	}
	return nil, ErrTokenCollision
}

// Revoke deletes the token and its user pointer. Revoking an absent token
// is a no-op.
func (s *RedisTokenStore) Revoke(ctx context.Context, tokenValue string) error {
	rec, err := s.loadRecord(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil
		}
		return err
	}

	keys := []string{redisTokenKeyPrefix + tokenValue, redisUserKeyPrefix + rec.UserID}
	if err := revokeScript.Run(ctx, s.client, keys).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// loadRecord fetches and decodes the record stored under a token value.
func (s *RedisTokenStore) loadRecord(ctx context.Context, tokenValue string) (*models.RefreshToken, error) {
	raw, err := s.client.Get(ctx, redisTokenKeyPrefix+tokenValue).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("load refresh token record: %w", err)
	}
	var rt models.RefreshToken
	if err := json.Unmarshal(raw, &rt); err != nil {
		return nil, fmt.Errorf("decode refresh token record: %w", err)
	}
	return &rt, nil
}

// Rotate atomically replaces the presented token with a fresh one for the
// same user. Redis executes the script as a single step, so of two
// concurrent rotations of the same value exactly one succeeds.
func (s *RedisTokenStore) Rotate(ctx context.Context, tokenValue string) (*models.RefreshToken, error) {
	// Advisory read to learn the owner so all keys can be declared; the
	// script re-checks the record, so a concurrent loser still observes
	// ErrTokenNotFound.
	current, err := s.loadRecord(ctx, tokenValue)
	if err != nil {
		return nil, err
	}

	value, err := generateTokenValue()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rt := &models.RefreshToken{
		ID:        uuid.NewString(),
		Token:     value,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}

	keys := []string{
		redisTokenKeyPrefix + tokenValue,
		redisUserKeyPrefix + current.UserID,
		redisTokenKeyPrefix + value,
	}
	userID, err := rotateScript.Run(ctx, s.client, keys,
		s.ttl.Milliseconds(),
		rt.ID,
		value,
		rt.ExpiresAt.Format(time.RFC3339Nano),
		rt.CreatedAt.Format(time.RFC3339Nano),
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	rt.UserID = userID
	return rt, nil
}

// DeleteExpired is a no-op for Redis: key TTLs already remove expired
// tokens.
func (s *RedisTokenStore) DeleteExpired(ctx context.Context, userID string) error {
	return nil
}
