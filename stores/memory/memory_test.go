package memory

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborsync/authcore"
)

func newAccount(id, email string) *authcore.Account {
	now := time.Now().UTC()
	return &authcore.Account{
		ID:           id,
		TenantID:     "t1",
		Email:        email,
		PasswordHash: "hash-" + id,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestDuplicateEmailPerTenant(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Create(ctx, newAccount("a1", "dev@example.com")))

	dup := newAccount("a2", "dev@example.com")
	assert.ErrorIs(t, store.Create(ctx, dup), authcore.ErrDuplicateAccount)

	// Same email under a different tenant is fine.
	other := newAccount("a3", "dev@example.com")
	other.TenantID = "t2"
	assert.NoError(t, store.Create(ctx, other))
}

func TestPasswordHistoryTrim(t *testing.T) {
	ctx := context.Background()
	store := New()
	require.NoError(t, store.Create(ctx, newAccount("a1", "dev@example.com")))

	for _, h := range []string{"h2", "h3", "h4"} {
		require.NoError(t, store.UpdatePassword(ctx, "a1", h, 3))
	}

	entries, err := store.PasswordHistory(ctx, "a1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Newest first, initial hash trimmed out.
	assert.Equal(t, "h4", entries[0].Hash)
	assert.Equal(t, "h2", entries[2].Hash)

	account, err := store.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "h4", account.PasswordHash)
}

func TestConsumeBackupCodeOnce(t *testing.T) {
	ctx := context.Background()
	store := New()
	require.NoError(t, store.Create(ctx, newAccount("a1", "dev@example.com")))

	hash := sha256.Sum256([]byte("code"))
	require.NoError(t, store.ReplaceBackupCodes(ctx, "a1", [][32]byte{hash}))

	const racers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ConsumeBackupCode(ctx, "a1", hash)
			if err == nil && ok {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	assert.Equal(t, 1, won)
}

func TestChallengeDeleteReportsExistence(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Save(ctx, "c1", &authcore.TwoFactorChallenge{AccountID: "a1"}, time.Minute))

	ok, err := store.Delete(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Delete(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChallengeExpiry(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Save(ctx, "c1", &authcore.TwoFactorChallenge{AccountID: "a1"}, -time.Second))

	_, err := store.Get(ctx, "c1")
	assert.ErrorIs(t, err, authcore.ErrChallengeNotFound)
}

func TestSessionSweep(t *testing.T) {
	ctx := context.Background()
	store := New()
	sessions := store.Sessions()
	now := time.Now().UTC()

	require.NoError(t, sessions.Create(ctx, &authcore.Session{ID: "s1", AccountID: "a1", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, sessions.Create(ctx, &authcore.Session{ID: "s2", AccountID: "a1", ExpiresAt: now.Add(-time.Hour)}))

	n, err := sessions.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = sessions.GetByID(ctx, "s2")
	assert.ErrorIs(t, err, authcore.ErrSessionNotFound)
	_, err = sessions.GetByID(ctx, "s1")
	assert.NoError(t, err)
}

func TestDenylistTTL(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Revoke(ctx, "jti-1", time.Minute))
	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	require.NoError(t, store.Revoke(ctx, "jti-2", -time.Second))
	revoked, err = store.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestAuditFilters(t *testing.T) {
	ctx := context.Background()
	store := New()

	for i, action := range []string{"login.success", "login.failed", "login.success"} {
		require.NoError(t, store.Insert(ctx, &authcore.AuditEvent{
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
			Action:    action,
			AccountID: "a1",
		}))
	}

	byAction, err := store.FilterByAction(ctx, "login.success", 0)
	require.NoError(t, err)
	assert.Len(t, byAction, 2)

	byAccount, err := store.FilterByAccount(ctx, "a1", 2)
	require.NoError(t, err)
	require.Len(t, byAccount, 2)
	// Newest first.
	assert.Equal(t, "login.success", byAccount[0].Action)
}
