package authcore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborsync/authcore"
	"github.com/harborsync/authcore/stores/memory"
)

const (
	testTenant   = "t1"
	testEmail    = "dev@example.com"
	testPassword = "Sup3r$ecretPw"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// captureMailer records the last tokens instead of sending them.
type captureMailer struct {
	mu         sync.Mutex
	token      string
	resetToken string
}

func (m *captureMailer) SendVerification(ctx context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *captureMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetToken = token
	return nil
}

func (m *captureMailer) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *captureMailer) lastReset() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetToken
}

type harness struct {
	svc    *authcore.Service
	store  *memory.Store
	mailer *captureMailer
}

func testConfig() authcore.Config {
	cfg := authcore.DefaultConfig()
	cfg.JWT.Secret = testSecret
	// Floor-adjacent Argon2id cost so the suite stays fast.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newHarness(t *testing.T, cfg authcore.Config, withDenylist bool) *harness {
	t.Helper()

	store := memory.New()
	mailer := &captureMailer{}

	b := authcore.New().
		WithConfig(cfg).
		WithAccounts(store.Accounts()).
		WithSessions(store.Sessions()).
		WithChallenges(store).
		WithAPIKeys(store.APIKeys()).
		WithAuditStore(store).
		WithMailer(mailer)
	if withDenylist {
		b = b.WithDenylist(store)
	}

	svc, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	return &harness{svc: svc, store: store, mailer: mailer}
}

// registerVerified registers an account and completes email verification.
func (h *harness) registerVerified(t *testing.T) *authcore.Account {
	t.Helper()
	ctx := context.Background()

	account, err := h.svc.Register(ctx, authcore.RegisterRequest{
		TenantID: testTenant,
		Email:    testEmail,
		Password: testPassword,
	})
	require.NoError(t, err)
	require.NoError(t, h.svc.VerifyEmail(ctx, testTenant, testEmail, h.mailer.last()))
	return account
}

func (h *harness) login(t *testing.T) *authcore.LoginResult {
	t.Helper()
	result, err := h.svc.Login(context.Background(), authcore.LoginRequest{
		TenantID: testTenant,
		Email:    testEmail,
		Password: testPassword,
	})
	require.NoError(t, err)
	return result
}

func TestRegisterVerifyLogin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)

	account, err := h.svc.Register(ctx, authcore.RegisterRequest{
		TenantID: testTenant,
		Email:    "  Dev@Example.COM ",
		Password: testPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, testEmail, account.Email)
	assert.False(t, account.EmailVerified)
	require.NotEmpty(t, h.mailer.last())

	// Unverified accounts cannot log in yet.
	_, err = h.svc.Login(ctx, authcore.LoginRequest{TenantID: testTenant, Email: testEmail, Password: testPassword})
	assert.ErrorIs(t, err, authcore.ErrEmailNotVerified)

	require.NoError(t, h.svc.VerifyEmail(ctx, testTenant, testEmail, h.mailer.last()))

	result := h.login(t)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)
	assert.False(t, result.RequiresTwoFactor)

	claims, err := h.svc.VerifyAccess(ctx, result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.AccountID())
	assert.Equal(t, testTenant, claims.TenantID)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)

	_, err := h.svc.Register(ctx, authcore.RegisterRequest{TenantID: testTenant, Email: "not-an-email", Password: testPassword})
	assert.ErrorIs(t, err, authcore.ErrInvalidEmail)

	_, err = h.svc.Register(ctx, authcore.RegisterRequest{TenantID: testTenant, Email: testEmail, Password: "short"})
	var policyErr *authcore.PolicyError
	require.ErrorAs(t, err, &policyErr)
	assert.NotEmpty(t, policyErr.Violations)

	h.registerVerified(t)
	_, err = h.svc.Register(ctx, authcore.RegisterRequest{TenantID: testTenant, Email: testEmail, Password: testPassword})
	assert.ErrorIs(t, err, authcore.ErrAccountExists)
}

func TestVerifyEmailRejectsWrongToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)

	_, err := h.svc.Register(ctx, authcore.RegisterRequest{TenantID: testTenant, Email: testEmail, Password: testPassword})
	require.NoError(t, err)

	err = h.svc.VerifyEmail(ctx, testTenant, testEmail, "bogus-token")
	assert.ErrorIs(t, err, authcore.ErrVerificationInvalid)

	// Unknown addresses report the same failure.
	err = h.svc.VerifyEmail(ctx, testTenant, "nobody@example.com", "bogus-token")
	assert.ErrorIs(t, err, authcore.ErrVerificationInvalid)
}

func TestUnknownAccountAndWrongPasswordLookAlike(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)
	h.registerVerified(t)

	_, errUnknown := h.svc.Login(ctx, authcore.LoginRequest{TenantID: testTenant, Email: "nobody@example.com", Password: testPassword})
	_, errWrong := h.svc.Login(ctx, authcore.LoginRequest{TenantID: testTenant, Email: testEmail, Password: "Wr0ng$Password"})

	assert.ErrorIs(t, errUnknown, authcore.ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, authcore.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)
	h.registerVerified(t)

	base := time.Now().UTC()
	frozen := h.svc.WithClock(func() time.Time { return base })

	for i := 0; i < 5; i++ {
		_, err := frozen.Login(ctx, authcore.LoginRequest{TenantID: testTenant, Email: testEmail, Password: "Wr0ng$Password"})
		require.ErrorIs(t, err, authcore.ErrInvalidCredentials)
	}

	// Even the correct password is refused while locked.
	_, err := frozen.Login(ctx, authcore.LoginRequest{TenantID: testTenant, Email: testEmail, Password: testPassword})
	var locked *authcore.LockedError
	require.ErrorAs(t, err, &locked)
	assert.ErrorIs(t, err, authcore.ErrAccountLocked)
	assert.True(t, locked.Until.After(base))

	// Past the lockout window the counter starts over.
	later := h.svc.WithClock(func() time.Time { return base.Add(31 * time.Minute) })
	result, err := later.Login(ctx, authcore.LoginRequest{TenantID: testTenant, Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)

	account, err := h.store.GetByID(ctx, accountID(t, h))
	require.NoError(t, err)
	assert.Zero(t, account.FailedAttempts)
}

func accountID(t *testing.T, h *harness) string {
	t.Helper()
	account, err := h.store.GetByEmail(context.Background(), testTenant, testEmail)
	require.NoError(t, err)
	return account.ID
}

func TestRefreshRotationAndReuseDetection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)
	h.registerVerified(t)

	first := h.login(t)

	second, err := h.svc.Refresh(ctx, first.RefreshToken, authcore.ClientMeta{})
	require.NoError(t, err)
	require.NotEmpty(t, second.RefreshToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// Replaying the rotated-out token kills the session.
	_, err = h.svc.Refresh(ctx, first.RefreshToken, authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrTokenInvalid)

	_, err = h.svc.Refresh(ctx, second.RefreshToken, authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrTokenInvalid)
}

func TestTokenTypeConfusionRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)
	h.registerVerified(t)
	result := h.login(t)

	_, err := h.svc.Refresh(ctx, result.AccessToken, authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrTokenInvalid)

	_, err = h.svc.VerifyAccess(ctx, result.RefreshToken)
	assert.ErrorIs(t, err, authcore.ErrTokenInvalid)
}

func TestExpiredAccessToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)
	h.registerVerified(t)
	result := h.login(t)

	future := h.svc.WithClock(func() time.Time { return time.Now().Add(16 * time.Minute) })
	_, err := future.VerifyAccess(ctx, result.AccessToken)
	assert.ErrorIs(t, err, authcore.ErrTokenExpired)
}

func TestLogoutDenylistsAccessToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), true)
	h.registerVerified(t)
	result := h.login(t)

	_, err := h.svc.VerifyAccess(ctx, result.AccessToken)
	require.NoError(t, err)

	require.NoError(t, h.svc.Logout(ctx, result.AccessToken, authcore.ClientMeta{}))

	_, err = h.svc.VerifyAccess(ctx, result.AccessToken)
	assert.ErrorIs(t, err, authcore.ErrTokenInvalid)

	// The session is gone with it.
	_, err = h.svc.Refresh(ctx, result.RefreshToken, authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrTokenInvalid)
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)
	h.registerVerified(t)
	id := accountID(t, h)

	first := h.login(t)
	second := h.login(t)

	sessions, err := h.svc.Sessions(ctx, id)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	n, err := h.svc.LogoutAll(ctx, id, authcore.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = h.svc.Refresh(ctx, first.RefreshToken, authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrTokenInvalid)
	_, err = h.svc.Refresh(ctx, second.RefreshToken, authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrTokenInvalid)
}

func TestRevokeSessionChecksOwnership(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)
	h.registerVerified(t)
	id := accountID(t, h)
	h.login(t)

	sessions, err := h.svc.Sessions(ctx, id)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	err = h.svc.RevokeSession(ctx, "someone-else", sessions[0].ID, authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrSessionNotFound)

	require.NoError(t, h.svc.RevokeSession(ctx, id, sessions[0].ID, authcore.ClientMeta{}))

	sessions, err = h.svc.Sessions(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestChangePasswordEnforcesHistory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Password.HistoryRetention = 3
	h := newHarness(t, cfg, false)
	h.registerVerified(t)
	id := accountID(t, h)

	meta := authcore.ClientMeta{}
	p2, p3, p4 := "S3cond$Passwd", "Th1rd$Passwrd", "F0urth$Passwd"

	require.NoError(t, h.svc.ChangePassword(ctx, id, testPassword, p2, meta))
	require.NoError(t, h.svc.ChangePassword(ctx, id, p2, p3, meta))

	// Everything inside the retained window is refused.
	assert.ErrorIs(t, h.svc.ChangePassword(ctx, id, p3, testPassword, meta), authcore.ErrPasswordReuse)
	assert.ErrorIs(t, h.svc.ChangePassword(ctx, id, p3, p3, meta), authcore.ErrPasswordReuse)

	// One more change pushes the original out of the window.
	require.NoError(t, h.svc.ChangePassword(ctx, id, p3, p4, meta))
	require.NoError(t, h.svc.ChangePassword(ctx, id, p4, testPassword, meta))

	assert.ErrorIs(t,
		h.svc.ChangePassword(ctx, id, "Wr0ng$Current", p2, meta),
		authcore.ErrInvalidCredentials)
}

func TestAuditTrailQueries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)
	h.registerVerified(t)
	id := accountID(t, h)
	h.login(t)

	// Audit emission is asynchronous; Close drains the queue.
	h.svc.Close()

	events, err := h.svc.AuditByAccount(ctx, id, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	logins, err := h.svc.AuditByAction(ctx, authcore.AuditLoginSuccess, 0)
	require.NoError(t, err)
	require.Len(t, logins, 1)
	assert.Equal(t, id, logins[0].AccountID)
	assert.True(t, logins[0].Success)
}
