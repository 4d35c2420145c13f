package authcore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strconv"
	"strings"
)

// RequestPasswordReset mails a single-use reset token to the address. The
// response is identical whether or not the account exists, so the operation
// cannot be used to probe for registered addresses. A repeated request
// replaces the previous token.
func (s *Service) RequestPasswordReset(ctx context.Context, tenantID, email string, meta ClientMeta) error {
	if s == nil {
		return ErrNotReady
	}

	account, err := s.accounts.GetByEmail(ctx, tenantID, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return ErrStoreUnavailable
	}
	if !account.Active {
		// Also silent: a disabled account must look like a missing one.
		return nil
	}

	token, tokenHash, err := newVerificationToken()
	if err != nil {
		return ErrStoreUnavailable
	}
	account.ResetTokenHash = tokenHash
	account.ResetExpiresAt = s.now().UTC().Add(s.config.Reset.TokenTTL)
	account.ResetAttempts = 0
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		return ErrStoreUnavailable
	}

	if s.mailer != nil {
		if err := s.mailer.SendPasswordReset(ctx, account.Email, token); err != nil {
			s.log.Warn().Err(err).Str("account_id", account.ID).Msg("reset mail failed")
		}
	}

	s.metricInc(MetricPasswordResetRequested)
	s.emitAudit(ctx, AuditPasswordResetRequest, true, account.ID, account.TenantID, "", meta, nil)
	return nil
}

// ConfirmPasswordReset consumes a reset token and sets a new password. When
// the account has 2FA enabled a valid TOTP or backup code is required as
// well; without one the call fails with ErrTwoFactorRequired, so control of
// the mailbox alone cannot replace the stronger credential. On success the
// token is burned, the lockout counter resets, and every session is revoked.
func (s *Service) ConfirmPasswordReset(ctx context.Context, tenantID, email, token, newPassword, twoFactorCode string, meta ClientMeta) error {
	if s == nil {
		return ErrNotReady
	}

	account, err := s.accounts.GetByEmail(ctx, tenantID, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrResetInvalid
		}
		return ErrStoreUnavailable
	}
	if len(account.ResetTokenHash) == 0 || s.now().After(account.ResetExpiresAt) {
		return ErrResetInvalid
	}
	presented := sha256.Sum256([]byte(strings.TrimSpace(token)))
	if subtle.ConstantTimeCompare(presented[:], account.ResetTokenHash) != 1 {
		return ErrResetInvalid
	}
	if !account.Active {
		return ErrAccountDisabled
	}

	if account.TOTPEnabled {
		if twoFactorCode == "" {
			return ErrTwoFactorRequired
		}
		matched, usedBackup, err := s.consumeSecondFactor(ctx, account, twoFactorCode)
		if err != nil {
			return err
		}
		if !matched {
			s.metricInc(MetricTwoFactorFailure)
			account.ResetAttempts++
			if account.ResetAttempts >= s.config.Reset.MaxAttempts {
				account.ResetTokenHash = nil
			}
			account.UpdatedAt = s.now().UTC()
			if err := s.accounts.Update(ctx, account); err != nil {
				s.log.Warn().Err(err).Str("account_id", account.ID).Msg("reset attempt update failed")
			}
			s.emitAudit(ctx, AuditPasswordResetFailed, false, account.ID, account.TenantID, "", meta, detailKV("reason", "bad_2fa"))
			return ErrInvalidTwoFactorCode
		}
		if usedBackup {
			s.metricInc(MetricBackupCodeUsed)
			s.emitAudit(ctx, AuditBackupCodeUsed, true, account.ID, account.TenantID, "", meta, nil)
		}
	}

	if ok, violations := s.policy.Check(newPassword); !ok {
		return &PolicyError{Violations: violations}
	}
	retain := s.config.Password.HistoryRetention
	if reused, err := s.passwordReused(ctx, account, newPassword, retain); err != nil {
		return err
	} else if reused {
		s.metricInc(MetricPasswordReuseRejected)
		s.emitAudit(ctx, AuditPasswordResetFailed, false, account.ID, account.TenantID, "", meta, detailKV("reason", "reuse"))
		return ErrPasswordReuse
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return ErrNotReady
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, newHash, retain); err != nil {
		return ErrStoreUnavailable
	}

	// Burn the token and clear any lockout: control of the mailbox, and of
	// the second factor when enrolled, has just been proven.
	account.PasswordHash = newHash
	account.ResetTokenHash = nil
	account.ResetExpiresAt = s.now().UTC()
	account.ResetAttempts = 0
	applyLockoutState(account, s.guard.RecordSuccess(s.lockoutState(account)))
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		s.log.Error().Err(err).Str("account_id", account.ID).Msg("reset token clear failed")
		return ErrStoreUnavailable
	}

	// Every session dies with the old password.
	revoked, err := s.sessions.RevokeAll(ctx, account.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("account_id", account.ID).Msg("session revocation after reset failed")
	}

	s.metricInc(MetricPasswordChanged)
	s.metricInc(MetricPasswordResetCompleted)
	s.emitAudit(ctx, AuditPasswordResetDone, true, account.ID, account.TenantID, "", meta, detailKV("sessions_revoked", strconv.Itoa(revoked)))
	return nil
}
