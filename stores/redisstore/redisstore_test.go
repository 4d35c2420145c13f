package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborsync/authcore"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client), mr
}

func TestChallengeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	in := &authcore.TwoFactorChallenge{
		AccountID: "a1",
		TenantID:  "t1",
		IP:        "10.0.0.1",
		UserAgent: "cli/1.0",
		ExpiresAt: time.Now().Add(5 * time.Minute).UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Save(ctx, "c1", in, 5*time.Minute))

	out, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, in.AccountID, out.AccountID)
	assert.Equal(t, in.TenantID, out.TenantID)
	assert.Equal(t, in.IP, out.IP)
}

func TestChallengeExpires(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)

	require.NoError(t, store.Save(ctx, "c1", &authcore.TwoFactorChallenge{AccountID: "a1"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "c1")
	assert.ErrorIs(t, err, authcore.ErrChallengeNotFound)
}

func TestIncrementAttempts(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	require.NoError(t, store.Save(ctx, "c1", &authcore.TwoFactorChallenge{AccountID: "a1"}, time.Minute))

	for want := 1; want <= 3; want++ {
		n, err := store.IncrementAttempts(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	_, err := store.IncrementAttempts(ctx, "missing")
	assert.ErrorIs(t, err, authcore.ErrChallengeNotFound)
}

func TestDeleteFirstWins(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	require.NoError(t, store.Save(ctx, "c1", &authcore.TwoFactorChallenge{AccountID: "a1"}, time.Minute))

	ok, err := store.Delete(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Delete(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDenylist(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)

	require.NoError(t, store.Revoke(ctx, "jti-1", time.Minute))
	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(2 * time.Minute)
	revoked, err = store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	// Already-expired tokens never enter the denylist.
	require.NoError(t, store.Revoke(ctx, "jti-2", -time.Second))
	revoked, err = store.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}
