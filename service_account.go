package authcore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// RegisterRequest is the input for Register.
type RegisterRequest struct {
	TenantID  string
	Email     string
	Password  string
	Superuser bool
	Meta      ClientMeta
}

// Register creates an account with an unverified email address. The
// password must satisfy the policy; a verification token is generated,
// stored hashed, and handed to the Mailer. Mail delivery failure does not
// fail registration — the token can be re-sent.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	if s == nil {
		return nil, ErrNotReady
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}

	if ok, violations := s.policy.Check(req.Password); !ok {
		return nil, &PolicyError{Violations: violations}
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.log.Error().Err(err).Msg("password hash failed during registration")
		return nil, ErrStoreUnavailable
	}

	token, tokenHash, err := newVerificationToken()
	if err != nil {
		return nil, ErrStoreUnavailable
	}

	now := s.now().UTC()
	account := &Account{
		ID:              uuid.NewString(),
		TenantID:        req.TenantID,
		Email:           email,
		PasswordHash:    hash,
		Active:          true,
		Superuser:       req.Superuser,
		EmailVerified:   false,
		VerifyTokenHash: tokenHash,
		VerifyExpiresAt: now.Add(s.config.Verification.TokenTTL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicateAccount) {
			return nil, ErrAccountExists
		}
		s.log.Error().Err(err).Msg("account create failed")
		return nil, ErrStoreUnavailable
	}

	if s.mailer != nil {
		if err := s.mailer.SendVerification(ctx, email, token); err != nil {
			s.log.Warn().Err(err).Str("account_id", account.ID).Msg("verification mail failed")
		}
	}

	s.emitAudit(ctx, AuditRegister, true, account.ID, account.TenantID, "", req.Meta, nil)
	return account, nil
}

// VerifyEmail consumes a verification token and marks the address
// verified. The comparison is constant-time over the token digest.
func (s *Service) VerifyEmail(ctx context.Context, tenantID, email, token string) error {
	if s == nil {
		return ErrNotReady
	}

	account, err := s.accounts.GetByEmail(ctx, tenantID, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrVerificationInvalid
		}
		return ErrStoreUnavailable
	}
	if account.EmailVerified {
		return nil
	}
	if len(account.VerifyTokenHash) == 0 || s.now().After(account.VerifyExpiresAt) {
		return ErrVerificationInvalid
	}

	presented := sha256.Sum256([]byte(strings.TrimSpace(token)))
	if subtle.ConstantTimeCompare(presented[:], account.VerifyTokenHash) != 1 {
		return ErrVerificationInvalid
	}

	account.EmailVerified = true
	account.VerifyTokenHash = nil
	account.VerifyExpiresAt = s.now().UTC()
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		s.log.Error().Err(err).Str("account_id", account.ID).Msg("email verification update failed")
		return ErrStoreUnavailable
	}

	s.emitAudit(ctx, AuditEmailVerified, true, account.ID, account.TenantID, "", ClientMeta{}, nil)
	return nil
}

// ResendVerification issues a fresh verification token for an unverified
// account. Responds identically whether or not the account exists.
func (s *Service) ResendVerification(ctx context.Context, tenantID, email string) error {
	if s == nil {
		return ErrNotReady
	}

	account, err := s.accounts.GetByEmail(ctx, tenantID, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		// Unknown address: report success, send nothing.
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return ErrStoreUnavailable
	}
	if account.EmailVerified {
		return nil
	}

	token, tokenHash, err := newVerificationToken()
	if err != nil {
		return ErrStoreUnavailable
	}
	account.VerifyTokenHash = tokenHash
	account.VerifyExpiresAt = s.now().UTC().Add(s.config.Verification.TokenTTL)
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		return ErrStoreUnavailable
	}

	if s.mailer != nil {
		if err := s.mailer.SendVerification(ctx, account.Email, token); err != nil {
			s.log.Warn().Err(err).Str("account_id", account.ID).Msg("verification mail failed")
		}
	}
	return nil
}

func newVerificationToken() (token string, digest []byte, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(token))
	return token, sum[:], nil
}
