package authcore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborsync/authcore"
	"github.com/harborsync/authcore/totp"
)

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)
	h.registerVerified(t)
	id := accountID(t, h)
	h.login(t)

	// Unknown addresses are answered identically and mail nothing.
	require.NoError(t, h.svc.RequestPasswordReset(ctx, testTenant, "nobody@example.com", authcore.ClientMeta{}))
	assert.Empty(t, h.mailer.lastReset())

	require.NoError(t, h.svc.RequestPasswordReset(ctx, testTenant, testEmail, authcore.ClientMeta{}))
	token := h.mailer.lastReset()
	require.NotEmpty(t, token)

	err := h.svc.ConfirmPasswordReset(ctx, testTenant, testEmail, "not-the-token", "N3w!Resety9", "", authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrResetInvalid)

	err = h.svc.ConfirmPasswordReset(ctx, testTenant, testEmail, token, "weak", "", authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrPasswordPolicy)

	err = h.svc.ConfirmPasswordReset(ctx, testTenant, testEmail, token, testPassword, "", authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrPasswordReuse)

	require.NoError(t, h.svc.ConfirmPasswordReset(ctx, testTenant, testEmail, token, "N3w!Resety9", "", authcore.ClientMeta{}))

	// Old password is dead, the new one works, and every session is gone.
	_, err = h.svc.Login(ctx, authcore.LoginRequest{TenantID: testTenant, Email: testEmail, Password: testPassword})
	assert.ErrorIs(t, err, authcore.ErrInvalidCredentials)
	sessions, err := h.svc.Sessions(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	_, err = h.svc.Login(ctx, authcore.LoginRequest{TenantID: testTenant, Email: testEmail, Password: "N3w!Resety9"})
	require.NoError(t, err)

	// The token is single-use.
	err = h.svc.ConfirmPasswordReset(ctx, testTenant, testEmail, token, "An0ther!Pw3", "", authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrResetInvalid)
}

func TestPasswordResetTokenExpires(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)
	h.registerVerified(t)

	base := time.Now().UTC()
	frozen := h.svc.WithClock(func() time.Time { return base })
	require.NoError(t, frozen.RequestPasswordReset(ctx, testTenant, testEmail, authcore.ClientMeta{}))
	token := h.mailer.lastReset()
	require.NotEmpty(t, token)

	later := h.svc.WithClock(func() time.Time { return base.Add(2 * time.Hour) })
	err := later.ConfirmPasswordReset(ctx, testTenant, testEmail, token, "N3w!Resety9", "", authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrResetInvalid)
}

func TestPasswordResetRequiresSecondFactor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)
	h.registerVerified(t)
	id := accountID(t, h)

	base := time.Now().UTC()
	frozen := h.svc.WithClock(func() time.Time { return base })
	secret, _ := enroll2FA(t, frozen, id, base)

	require.NoError(t, frozen.RequestPasswordReset(ctx, testTenant, testEmail, authcore.ClientMeta{}))
	token := h.mailer.lastReset()
	require.NotEmpty(t, token)

	// Mailbox control alone is not enough once 2FA is on.
	err := frozen.ConfirmPasswordReset(ctx, testTenant, testEmail, token, "N3w!Resety9", "", authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrTwoFactorRequired)

	err = frozen.ConfirmPasswordReset(ctx, testTenant, testEmail, token, "N3w!Resety9", "000000", authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrInvalidTwoFactorCode)

	guard, err := totp.New(totp.Config{})
	require.NoError(t, err)
	code, err := guard.Generate(secret, base.Add(30*time.Second))
	require.NoError(t, err)
	require.NoError(t, frozen.ConfirmPasswordReset(ctx, testTenant, testEmail, token, "N3w!Resety9", code, authcore.ClientMeta{}))

	// 2FA survives the reset.
	result, err := frozen.Login(ctx, authcore.LoginRequest{TenantID: testTenant, Email: testEmail, Password: "N3w!Resety9"})
	require.NoError(t, err)
	assert.True(t, result.RequiresTwoFactor)
}

func TestPasswordResetSecondFactorAttemptCap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), false)
	h.registerVerified(t)
	id := accountID(t, h)

	base := time.Now().UTC()
	frozen := h.svc.WithClock(func() time.Time { return base })
	secret, _ := enroll2FA(t, frozen, id, base)

	require.NoError(t, frozen.RequestPasswordReset(ctx, testTenant, testEmail, authcore.ClientMeta{}))
	token := h.mailer.lastReset()

	for i := 0; i < 5; i++ {
		err := frozen.ConfirmPasswordReset(ctx, testTenant, testEmail, token, "N3w!Resety9", "000000", authcore.ClientMeta{})
		require.ErrorIs(t, err, authcore.ErrInvalidTwoFactorCode)
	}

	// The cap burned the token; even a valid code fails now.
	guard, err := totp.New(totp.Config{})
	require.NoError(t, err)
	code, err := guard.Generate(secret, base.Add(30*time.Second))
	require.NoError(t, err)
	err = frozen.ConfirmPasswordReset(ctx, testTenant, testEmail, token, "N3w!Resety9", code, authcore.ClientMeta{})
	assert.ErrorIs(t, err, authcore.ErrResetInvalid)
}
