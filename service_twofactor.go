package authcore

import (
	"context"
	"strconv"

	"github.com/harborsync/authcore/totp"
)

// BeginTwoFactorEnrollment generates a TOTP secret for the account and
// returns the base32 form plus an otpauth:// provisioning URI. The secret
// is stored immediately but 2FA stays disabled until the account proves
// possession via ConfirmTwoFactorEnrollment. Calling Begin again before
// confirming replaces the pending secret. Once 2FA is enabled this returns
// ErrTwoFactorAlreadyEnrolled: the active factor can only be removed by
// DisableTwoFactor, which re-verifies the password, so a stolen session
// alone cannot swap the secret out.
func (s *Service) BeginTwoFactorEnrollment(ctx context.Context, accountID string, meta ClientMeta) (*TwoFactorSetup, error) {
	if s == nil {
		return nil, ErrNotReady
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, ErrAccountNotFound
	}
	if !account.Active {
		return nil, ErrAccountDisabled
	}
	if account.TOTPEnabled {
		return nil, ErrTwoFactorAlreadyEnrolled
	}

	secret, secretBase32, err := s.totp.GenerateSecret()
	if err != nil {
		return nil, ErrNotReady
	}

	account.TOTPSecret = secret
	account.TOTPEnabled = false
	account.TOTPLastUsed = 0
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, ErrStoreUnavailable
	}

	s.emitAudit(ctx, AuditTwoFactorEnrollBegin, true, account.ID, account.TenantID, "", meta, nil)
	return &TwoFactorSetup{
		SecretBase32:    secretBase32,
		ProvisioningURI: s.totp.ProvisioningURI(account.Email, secretBase32),
	}, nil
}

// ConfirmTwoFactorEnrollment verifies a code generated from the pending
// secret, enables 2FA, and returns the one-time backup codes. The plaintext
// codes are shown exactly once; only their hashes are stored.
func (s *Service) ConfirmTwoFactorEnrollment(ctx context.Context, accountID, code string, meta ClientMeta) ([]string, error) {
	if s == nil {
		return nil, ErrNotReady
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, ErrAccountNotFound
	}
	if len(account.TOTPSecret) == 0 {
		return nil, ErrTwoFactorNotEnrolled
	}
	if account.TOTPEnabled {
		return nil, ErrTwoFactorNotEnrolled
	}

	ok, counter, err := s.totp.Verify(account.TOTPSecret, code, s.now())
	if err != nil || !ok {
		s.metricInc(MetricTwoFactorFailure)
		s.emitAudit(ctx, AuditTwoFactorEnabled, false, account.ID, account.TenantID, "", meta, nil)
		return nil, ErrInvalidTwoFactorCode
	}

	codes, hashes, err := totp.GenerateBackupCodes(account.ID, s.config.TwoFactor.BackupCodeCount, s.config.TwoFactor.BackupCodeLength)
	if err != nil {
		return nil, ErrNotReady
	}
	if err := s.accounts.ReplaceBackupCodes(ctx, account.ID, hashes); err != nil {
		return nil, ErrStoreUnavailable
	}

	account.TOTPEnabled = true
	account.TOTPLastUsed = counter
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, ErrStoreUnavailable
	}

	s.emitAudit(ctx, AuditTwoFactorEnabled, true, account.ID, account.TenantID, "", meta, nil)
	s.emitAudit(ctx, AuditBackupCodesGenerated, true, account.ID, account.TenantID, "", meta, detailKV("count", strconv.Itoa(len(codes))))
	return codes, nil
}

// DisableTwoFactor turns 2FA off after re-verifying the password. The
// stored secret and backup codes are cleared so re-enrollment starts from
// scratch.
func (s *Service) DisableTwoFactor(ctx context.Context, accountID, password string, meta ClientMeta) error {
	if s == nil {
		return ErrNotReady
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return ErrAccountNotFound
	}
	if !account.TOTPEnabled {
		return ErrTwoFactorNotEnrolled
	}

	ok, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil || !ok {
		s.emitAudit(ctx, AuditTwoFactorDisabled, false, account.ID, account.TenantID, "", meta, nil)
		return ErrInvalidCredentials
	}

	if err := s.accounts.ReplaceBackupCodes(ctx, account.ID, nil); err != nil {
		return ErrStoreUnavailable
	}
	account.TOTPEnabled = false
	account.TOTPSecret = nil
	account.TOTPLastUsed = 0
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		return ErrStoreUnavailable
	}

	s.emitAudit(ctx, AuditTwoFactorDisabled, true, account.ID, account.TenantID, "", meta, nil)
	return nil
}

// RegenerateBackupCodes invalidates all remaining backup codes and issues a
// fresh set. Requires an enrolled account and a valid current TOTP code so
// a stolen session alone cannot mint codes.
func (s *Service) RegenerateBackupCodes(ctx context.Context, accountID, code string, meta ClientMeta) ([]string, error) {
	if s == nil {
		return nil, ErrNotReady
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, ErrAccountNotFound
	}
	if !account.TOTPEnabled {
		return nil, ErrTwoFactorNotEnrolled
	}

	ok, counter, err := s.totp.Verify(account.TOTPSecret, code, s.now())
	if err != nil || !ok || counter <= account.TOTPLastUsed {
		s.metricInc(MetricTwoFactorFailure)
		return nil, ErrInvalidTwoFactorCode
	}

	codes, hashes, err := totp.GenerateBackupCodes(account.ID, s.config.TwoFactor.BackupCodeCount, s.config.TwoFactor.BackupCodeLength)
	if err != nil {
		return nil, ErrNotReady
	}
	if err := s.accounts.ReplaceBackupCodes(ctx, account.ID, hashes); err != nil {
		return nil, ErrStoreUnavailable
	}

	account.TOTPLastUsed = counter
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, ErrStoreUnavailable
	}

	s.emitAudit(ctx, AuditBackupCodesGenerated, true, account.ID, account.TenantID, "", meta, detailKV("count", strconv.Itoa(len(codes))))
	return codes, nil
}
