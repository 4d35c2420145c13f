package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/harborsync/authcore/jwt"
	"github.com/harborsync/authcore/totp"
)

// LoginRequest is the input for Login.
type LoginRequest struct {
	TenantID string
	Email    string
	Password string
	Meta     ClientMeta
}

// Login runs the login state machine. Terminal outcomes:
//
//   - unknown account or wrong password → ErrInvalidCredentials (the two
//     are indistinguishable in content and in KDF cost)
//   - locked account → *LockedError with the unlock time
//   - unverified email → ErrEmailNotVerified
//   - 2FA enabled → LoginResult{RequiresTwoFactor, ChallengeID}, no tokens
//   - otherwise → LoginResult with an access/refresh pair and a recorded
//     session
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if s == nil {
		return nil, ErrNotReady
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	account, err := s.accounts.GetByEmail(ctx, req.TenantID, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Burn the same KDF cost as a real verification so timing
			// does not reveal whether the account exists.
			_, _ = s.hasher.Verify(req.Password, s.dummyHash)
			s.metricInc(MetricLoginFailure)
			s.emitAudit(ctx, AuditLoginFailed, false, "", req.TenantID, "", req.Meta, detailKV("reason", "unknown_account"))
			return nil, ErrInvalidCredentials
		}
		s.log.Error().Err(err).Msg("account lookup failed")
		return nil, ErrStoreUnavailable
	}

	if !account.Active {
		s.emitAudit(ctx, AuditLoginFailed, false, account.ID, account.TenantID, "", req.Meta, detailKV("reason", "disabled"))
		return nil, ErrAccountDisabled
	}

	if locked, until := s.guard.Locked(s.lockoutState(account)); locked {
		s.metricInc(MetricLoginLocked)
		s.emitAudit(ctx, AuditLoginLocked, false, account.ID, account.TenantID, "", req.Meta, nil)
		return nil, &LockedError{Until: until}
	}

	ok, err := s.hasher.Verify(req.Password, account.PasswordHash)
	if err != nil {
		s.log.Error().Err(err).Str("account_id", account.ID).Msg("stored hash unreadable")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		applyLockoutState(account, s.guard.RecordFailure(s.lockoutState(account)))
		account.UpdatedAt = s.now().UTC()
		if err := s.accounts.Update(ctx, account); err != nil {
			s.log.Warn().Err(err).Str("account_id", account.ID).Msg("failure counter update failed")
		}
		s.metricInc(MetricLoginFailure)
		s.emitAudit(ctx, AuditLoginFailed, false, account.ID, account.TenantID, "", req.Meta, detailKV("reason", "bad_password"))
		return nil, ErrInvalidCredentials
	}

	if s.config.Password.UpgradeOnLogin {
		if upgrade, _ := s.hasher.NeedsRehash(account.PasswordHash); upgrade {
			if newHash, hashErr := s.hasher.Hash(req.Password); hashErr == nil {
				account.PasswordHash = newHash
				account.UpdatedAt = s.now().UTC()
				if err := s.accounts.Update(ctx, account); err != nil {
					s.log.Warn().Err(err).Str("account_id", account.ID).Msg("hash upgrade failed")
				}
			}
		}
	}

	if s.config.Verification.RequireForLogin && !account.EmailVerified {
		s.emitAudit(ctx, AuditLoginUnverified, false, account.ID, account.TenantID, "", req.Meta, nil)
		return nil, ErrEmailNotVerified
	}

	if account.TOTPEnabled {
		challengeID := uuid.NewString()
		challenge := &TwoFactorChallenge{
			AccountID: account.ID,
			TenantID:  account.TenantID,
			IP:        req.Meta.IP,
			UserAgent: req.Meta.UserAgent,
			ExpiresAt: s.now().Add(s.config.TwoFactor.ChallengeTTL),
		}
		if err := s.challenges.Save(ctx, challengeID, challenge, s.config.TwoFactor.ChallengeTTL); err != nil {
			s.log.Error().Err(err).Msg("challenge save failed")
			return nil, ErrStoreUnavailable
		}
		s.metricInc(MetricTwoFactorRequired)
		s.emitAudit(ctx, AuditTwoFactorRequired, true, account.ID, account.TenantID, "", req.Meta, nil)
		return &LoginResult{RequiresTwoFactor: true, ChallengeID: challengeID}, nil
	}

	return s.finishLogin(ctx, account, req.Meta)
}

// CompleteTwoFactor finishes a login that stopped at RequiresTwoFactor.
// The code may be a TOTP code or an unused backup code; consuming a backup
// code is a side effect of this transition only. A challenge is single-use:
// two racing completions cannot both win.
func (s *Service) CompleteTwoFactor(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if s == nil {
		return nil, ErrNotReady
	}

	challenge, err := s.challenges.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return nil, ErrInvalidTwoFactorCode
		}
		return nil, ErrStoreUnavailable
	}
	if s.now().After(challenge.ExpiresAt) {
		_, _ = s.challenges.Delete(ctx, challengeID)
		return nil, ErrInvalidTwoFactorCode
	}

	account, err := s.accounts.GetByID(ctx, challenge.AccountID)
	if err != nil {
		return nil, ErrInvalidTwoFactorCode
	}
	if !account.Active || !account.TOTPEnabled {
		return nil, ErrInvalidTwoFactorCode
	}

	meta := ClientMeta{IP: challenge.IP, UserAgent: challenge.UserAgent}

	okTOTP, counter, err := s.totp.Verify(account.TOTPSecret, code, s.now())
	if err != nil {
		s.log.Error().Err(err).Str("account_id", account.ID).Msg("totp verify failed")
		return nil, ErrInvalidTwoFactorCode
	}
	matched := okTOTP && counter > account.TOTPLastUsed
	usedBackup := false
	if !matched {
		// A presented backup code is consumed here even if the challenge
		// race below is lost: it has crossed the wire and counts as spent
		// either way. The TOTP step counter, by contrast, only advances
		// once the challenge is won.
		if canonical := totp.CanonicalizeBackupCode(code); canonical != "" {
			consumed, err := s.accounts.ConsumeBackupCode(ctx, account.ID, totp.HashBackupCode(account.ID, canonical))
			if err != nil {
				s.log.Error().Err(err).Str("account_id", account.ID).Msg("backup code consume failed")
				return nil, ErrStoreUnavailable
			}
			matched, usedBackup = consumed, consumed
		}
	}
	if !matched {
		s.metricInc(MetricTwoFactorFailure)
		s.emitAudit(ctx, AuditTwoFactorFailed, false, account.ID, account.TenantID, "", meta, nil)

		attempts, incErr := s.challenges.IncrementAttempts(ctx, challengeID)
		if incErr == nil && attempts >= s.config.TwoFactor.ChallengeMaxAttempts {
			_, _ = s.challenges.Delete(ctx, challengeID)
		}
		return nil, ErrInvalidTwoFactorCode
	}

	// First completion wins; a replayed challenge ID fails here.
	deleted, err := s.challenges.Delete(ctx, challengeID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if !deleted {
		return nil, ErrInvalidTwoFactorCode
	}

	if !usedBackup {
		account.TOTPLastUsed = counter
		account.UpdatedAt = s.now().UTC()
		if err := s.accounts.Update(ctx, account); err != nil {
			s.log.Warn().Err(err).Str("account_id", account.ID).Msg("totp counter update failed")
		}
	}

	if usedBackup {
		s.metricInc(MetricBackupCodeUsed)
		s.emitAudit(ctx, AuditBackupCodeUsed, true, account.ID, account.TenantID, "", meta, nil)
	}
	s.metricInc(MetricTwoFactorSuccess)
	s.emitAudit(ctx, AuditTwoFactorCompleted, true, account.ID, account.TenantID, "", meta, nil)

	return s.finishLogin(ctx, account, meta)
}

// consumeSecondFactor tries TOTP first, then a single-use backup code, and
// commits the consumption immediately: TOTP acceptance records the matched
// time-step so the same code cannot be replayed within its window. Used by
// the password reset flow, where there is no challenge to race for.
func (s *Service) consumeSecondFactor(ctx context.Context, account *Account, code string) (matched, usedBackup bool, err error) {
	okTOTP, counter, err := s.totp.Verify(account.TOTPSecret, code, s.now())
	if err != nil {
		s.log.Error().Err(err).Str("account_id", account.ID).Msg("totp verify failed")
		return false, false, ErrInvalidTwoFactorCode
	}
	if okTOTP {
		if counter <= account.TOTPLastUsed {
			// Same or earlier step already consumed.
			return false, false, nil
		}
		account.TOTPLastUsed = counter
		account.UpdatedAt = s.now().UTC()
		if err := s.accounts.Update(ctx, account); err != nil {
			s.log.Warn().Err(err).Str("account_id", account.ID).Msg("totp counter update failed")
		}
		return true, false, nil
	}

	canonical := totp.CanonicalizeBackupCode(code)
	if canonical == "" {
		return false, false, nil
	}
	consumed, err := s.accounts.ConsumeBackupCode(ctx, account.ID, totp.HashBackupCode(account.ID, canonical))
	if err != nil {
		s.log.Error().Err(err).Str("account_id", account.ID).Msg("backup code consume failed")
		return false, false, ErrStoreUnavailable
	}
	return consumed, consumed, nil
}

// finishLogin is the shared success path: reset the lockout counter,
// opportunistically upgrade the stored hash, mint the token pair, record
// the session, and log the event.
func (s *Service) finishLogin(ctx context.Context, account *Account, meta ClientMeta) (*LoginResult, error) {
	st := s.guard.RecordSuccess(s.lockoutState(account))
	dirty := account.FailedAttempts != 0 || !account.LockedUntil.IsZero()
	applyLockoutState(account, st)
	if dirty {
		account.UpdatedAt = s.now().UTC()
		if err := s.accounts.Update(ctx, account); err != nil {
			s.log.Warn().Err(err).Str("account_id", account.ID).Msg("lockout reset failed")
		}
	}

	sessionID := uuid.NewString()
	extras := jwt.Extras{
		TenantID:  account.TenantID,
		SessionID: sessionID,
		Superuser: account.Superuser,
	}
	access, refresh, err := s.issuer.IssuePair(account.ID, extras)
	if err != nil {
		s.log.Error().Err(err).Msg("token issue failed")
		return nil, ErrNotReady
	}

	now := s.now().UTC()
	session := &Session{
		ID:           sessionID,
		AccountID:    account.ID,
		TokenHash:    hashToken(refresh),
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(s.config.Session.TTL),
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		s.log.Error().Err(err).Msg("session create failed")
		return nil, ErrStoreUnavailable
	}

	s.metricInc(MetricLoginSuccess)
	s.metricInc(MetricSessionCreated)
	s.emitAudit(ctx, AuditLoginSuccess, true, account.ID, account.TenantID, "session:"+sessionID, meta, nil)

	return &LoginResult{AccessToken: access, RefreshToken: refresh}, nil
}
