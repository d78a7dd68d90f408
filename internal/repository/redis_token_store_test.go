package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisTokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisTokenStore(client, ttl), mr
}

func TestRedisIssueAndFindActive(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	ctx := context.Background()

	issued, err := store.Issue(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, issued.Token, 64)

	found, err := store.FindActiveByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, issued.Token, found.Token)
	assert.Equal(t, "u1", found.UserID)
}

func TestRedisIssueConcurrentLoginLosesRace(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	ctx := context.Background()

	_, err := store.Issue(ctx, "u1")
	require.NoError(t, err)

	_, err = store.Issue(ctx, "u1")
	assert.ErrorIs(t, err, ErrActiveTokenExists)
}

func TestRedisRotateIsSingleUse(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	ctx := context.Background()

	issued, err := store.Issue(ctx, "u1")
	require.NoError(t, err)

	rotated, err := store.Rotate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", rotated.UserID)
	assert.NotEqual(t, issued.Token, rotated.Token)

	// The loser of a concurrent rotation presents the already-rotated
	// value and observes it as absent.
	_, err = store.Rotate(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	found, err := store.FindActiveByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, rotated.Token, found.Token)
}

func TestRedisRotateKeepsSingleActiveToken(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	ctx := context.Background()

	issued, err := store.Issue(ctx, "u1")
	require.NoError(t, err)

	rotated, err := store.Rotate(ctx, issued.Token)
	require.NoError(t, err)

	// The old record is gone, so a fresh issue for the user is still
	// blocked by the rotated token only.
	_, err = store.Issue(ctx, "u1")
	assert.ErrorIs(t, err, ErrActiveTokenExists)

	require.NoError(t, store.Revoke(ctx, rotated.Token))
	_, err = store.Issue(ctx, "u1")
	require.NoError(t, err)
}

func TestRedisRevokeIdempotent(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	ctx := context.Background()

	issued, err := store.Issue(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, issued.Token))
	require.NoError(t, store.Revoke(ctx, issued.Token))
	require.NoError(t, store.Revoke(ctx, "never-issued"))

	_, err = store.FindActiveByUser(ctx, "u1")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRedisExpiredTokenAbsent(t *testing.T) {
	store, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()

	issued, err := store.Issue(ctx, "u1")
	require.NoError(t, err)

	mr.FastForward(time.Minute + time.Second)

	_, err = store.FindActiveByUser(ctx, "u1")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = store.Rotate(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	// Expiry frees the user slot for the next login.
	_, err = store.Issue(ctx, "u1")
	require.NoError(t, err)
}
