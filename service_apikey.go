package authcore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/harborsync/authcore/apikey"
)

// CreateAPIKey mints a long-lived credential for programmatic access. The
// plaintext is returned exactly once; the store holds only the keyed digest
// and the lookup fragment. Zero ttl means the key never expires.
func (s *Service) CreateAPIKey(ctx context.Context, accountID, name string, scopes []string, ttl time.Duration, meta ClientMeta) (*APICredential, string, error) {
	if s == nil {
		return nil, "", ErrNotReady
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, "", ErrAccountNotFound
	}
	if !account.Active {
		return nil, "", ErrAccountDisabled
	}

	key, err := apikey.Generate(s.config.APIKey.Prefix)
	if err != nil {
		return nil, "", ErrNotReady
	}

	now := s.now().UTC()
	cred := &APICredential{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Name:      name,
		Scopes:    append([]string(nil), scopes...),
		Lookup:    key.Lookup,
		Digest:    key.Digest,
		Salt:      key.Salt,
		CreatedAt: now,
	}
	if ttl > 0 {
		cred.ExpiresAt = now.Add(ttl)
	}
	if err := s.apikeys.Create(ctx, cred); err != nil {
		return nil, "", ErrStoreUnavailable
	}

	s.emitAudit(ctx, AuditAPIKeyCreated, true, account.ID, account.TenantID, "apikey:"+cred.ID, meta, detailKV("name", name))
	return cred, key.Plaintext, nil
}

// VerifyAPIKey authenticates a presented plaintext credential and returns
// the matching record. Lookup misses still burn one digest comparison so
// valid and invalid prefixes take the same time. A hit stamps LastUsedAt
// best effort.
func (s *Service) VerifyAPIKey(ctx context.Context, plaintext string) (*APICredential, error) {
	if s == nil {
		return nil, ErrNotReady
	}

	lookup, secret, err := apikey.Parse(plaintext)
	if err != nil {
		s.metricInc(MetricAPIKeyRejected)
		return nil, ErrAPIKeyNotFound
	}

	cred, err := s.apikeys.GetByLookup(ctx, lookup)
	if err != nil {
		apikey.Verify(secret, s.dummyDigest, s.dummySalt)
		s.metricInc(MetricAPIKeyRejected)
		return nil, ErrAPIKeyNotFound
	}

	if !apikey.Verify(secret, cred.Digest, cred.Salt) {
		s.metricInc(MetricAPIKeyRejected)
		return nil, ErrAPIKeyNotFound
	}
	if !cred.ExpiresAt.IsZero() && !s.now().Before(cred.ExpiresAt) {
		s.metricInc(MetricAPIKeyRejected)
		return nil, ErrTokenExpired
	}

	if err := s.apikeys.TouchUsed(ctx, cred.ID, s.now().UTC()); err != nil {
		s.log.Warn().Err(err).Str("apikey_id", cred.ID).Msg("last-used stamp failed")
	}

	s.metricInc(MetricAPIKeyVerified)
	s.emitAudit(ctx, AuditAPIKeyVerified, true, cred.AccountID, "", "apikey:"+cred.ID, ClientMeta{}, nil)
	return cred, nil
}

// RevokeAPIKey deletes a credential the account owns.
func (s *Service) RevokeAPIKey(ctx context.Context, accountID, credentialID string, meta ClientMeta) error {
	if s == nil {
		return ErrNotReady
	}

	creds, err := s.apikeys.ListByAccount(ctx, accountID)
	if err != nil {
		return ErrStoreUnavailable
	}
	owned := false
	for _, c := range creds {
		if c.ID == credentialID {
			owned = true
			break
		}
	}
	if !owned {
		return ErrAPIKeyNotFound
	}

	if err := s.apikeys.Revoke(ctx, credentialID); err != nil {
		return ErrStoreUnavailable
	}
	s.emitAudit(ctx, AuditAPIKeyRevoked, true, accountID, "", "apikey:"+credentialID, meta, nil)
	return nil
}

// ListAPIKeys returns the account's credentials. Digests and salts are
// blanked; they are verification material, not presentation material.
func (s *Service) ListAPIKeys(ctx context.Context, accountID string) ([]*APICredential, error) {
	if s == nil {
		return nil, ErrNotReady
	}

	creds, err := s.apikeys.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	for _, c := range creds {
		c.Digest = ""
		c.Salt = ""
	}
	return creds, nil
}
