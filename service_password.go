package authcore

import (
	"context"
)

// ChangePassword replaces an account's password after verifying the current
// one. The new password must satisfy the policy and must not match the
// current password or any of the retained previous hashes. On success the
// account's other sessions are left alone; call LogoutAll separately to
// force re-authentication everywhere.
func (s *Service) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string, meta ClientMeta) error {
	if s == nil {
		return ErrNotReady
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return ErrAccountNotFound
	}
	if !account.Active {
		return ErrAccountDisabled
	}

	ok, err := s.hasher.Verify(currentPassword, account.PasswordHash)
	if err != nil || !ok {
		s.emitAudit(ctx, AuditPasswordChanged, false, account.ID, account.TenantID, "", meta, detailKV("reason", "bad_current"))
		return ErrInvalidCredentials
	}

	if ok, violations := s.policy.Check(newPassword); !ok {
		return &PolicyError{Violations: violations}
	}

	retain := s.config.Password.HistoryRetention
	if reused, err := s.passwordReused(ctx, account, newPassword, retain); err != nil {
		return err
	} else if reused {
		s.metricInc(MetricPasswordReuseRejected)
		s.emitAudit(ctx, AuditPasswordChanged, false, account.ID, account.TenantID, "", meta, detailKV("reason", "reuse"))
		return ErrPasswordReuse
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return ErrNotReady
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, newHash, retain); err != nil {
		return ErrStoreUnavailable
	}

	s.metricInc(MetricPasswordChanged)
	s.emitAudit(ctx, AuditPasswordChanged, true, account.ID, account.TenantID, "", meta, nil)
	return nil
}

// passwordReused reports whether candidate matches the current hash or any
// retained history entry. Hashes are salted, so each one has to be verified
// individually rather than compared.
func (s *Service) passwordReused(ctx context.Context, account *Account, candidate string, retain int) (bool, error) {
	if retain <= 0 {
		// Still forbid reusing the password being replaced.
		match, err := s.hasher.Verify(candidate, account.PasswordHash)
		if err != nil {
			return false, ErrNotReady
		}
		return match, nil
	}

	history, err := s.accounts.PasswordHistory(ctx, account.ID, retain)
	if err != nil {
		return false, ErrStoreUnavailable
	}
	seen := false
	for _, entry := range history {
		if entry.Hash == account.PasswordHash {
			seen = true
		}
		match, err := s.hasher.Verify(candidate, entry.Hash)
		if err != nil {
			continue
		}
		if match {
			return true, nil
		}
	}
	if !seen {
		match, err := s.hasher.Verify(candidate, account.PasswordHash)
		if err != nil {
			return false, ErrNotReady
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}
