package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/harborsync/authcore/jwt"
)

// Refresh exchanges a valid refresh token for a fresh pair and rotates the
// session's stored token hash. Presenting an access token here fails: the
// token_type claim is checked explicitly, because Verify itself is
// type-agnostic. A refresh token that no longer matches the session's
// stored hash is treated as reuse — the session is revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (*LoginResult, error) {
	if s == nil {
		return nil, ErrNotReady
	}

	claims, err := s.verifyToken(ctx, refreshToken)
	if err != nil {
		s.metricInc(MetricRefreshFailure)
		return nil, err
	}
	if claims.TokenType != jwt.TypeRefresh {
		s.metricInc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}

	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		// Session gone: revoked, logged out, or swept.
		s.metricInc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}
	if !session.Active(s.now()) {
		s.metricInc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}
	if session.TokenHash != hashToken(refreshToken) {
		// A previously rotated-out token came back. Kill the session.
		s.metricInc(MetricRefreshReuseDetected)
		if err := s.sessions.Revoke(ctx, session.ID); err != nil {
			s.log.Warn().Err(err).Str("session_id", session.ID).Msg("session revoke failed on reuse")
		}
		s.emitAudit(ctx, AuditTokenReuse, false, session.AccountID, claims.TenantID, "session:"+session.ID, meta, nil)
		return nil, ErrTokenInvalid
	}

	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		s.metricInc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}
	if !account.Active {
		s.metricInc(MetricRefreshFailure)
		return nil, ErrAccountDisabled
	}

	extras := jwt.Extras{
		TenantID:  account.TenantID,
		SessionID: session.ID,
		Superuser: account.Superuser,
	}
	access, refresh, err := s.issuer.IssuePair(account.ID, extras)
	if err != nil {
		return nil, ErrNotReady
	}

	now := s.now().UTC()
	if err := s.sessions.Rotate(ctx, session.ID, hashToken(refresh), now, now.Add(s.config.Session.TTL)); err != nil {
		s.log.Error().Err(err).Str("session_id", session.ID).Msg("session rotate failed")
		return nil, ErrStoreUnavailable
	}

	// The replaced refresh token stays dead even if presented before its
	// natural expiry.
	s.denylistToken(ctx, claims)

	s.metricInc(MetricRefreshSuccess)
	s.emitAudit(ctx, AuditTokenRefreshed, true, account.ID, account.TenantID, "session:"+session.ID, meta, nil)

	return &LoginResult{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout revokes the session named by a valid access token and, when a
// denylist is configured, blocks the token itself for its remaining
// lifetime. Without a denylist the access token stays usable until expiry;
// keep the access TTL short to bound that window.
func (s *Service) Logout(ctx context.Context, accessToken string, meta ClientMeta) error {
	if s == nil {
		return ErrNotReady
	}

	claims, err := s.verifyToken(ctx, accessToken)
	if err != nil {
		return err
	}
	if claims.TokenType != jwt.TypeAccess {
		return ErrTokenInvalid
	}

	if claims.SessionID != "" {
		if err := s.sessions.Revoke(ctx, claims.SessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return ErrStoreUnavailable
		}
	}
	s.denylistToken(ctx, claims)

	s.metricInc(MetricSessionRevoked)
	s.emitAudit(ctx, AuditLogout, true, claims.AccountID(), claims.TenantID, "session:"+claims.SessionID, meta, nil)
	return nil
}

// LogoutAll revokes every session the account owns ("log out everywhere")
// and returns how many were revoked. Outstanding access tokens are not
// individually denylisted; their TTL bounds the exposure.
func (s *Service) LogoutAll(ctx context.Context, accountID string, meta ClientMeta) (int, error) {
	if s == nil {
		return 0, ErrNotReady
	}

	n, err := s.sessions.RevokeAll(ctx, accountID)
	if err != nil {
		return 0, ErrStoreUnavailable
	}
	s.emitAudit(ctx, AuditLogoutAll, true, accountID, "", "", meta, detailKV("sessions", strconv.Itoa(n)))
	return n, nil
}

// VerifyAccess validates an access token for request authentication. It
// checks the signature, expiry, token_type, and — when configured — the
// denylist. It deliberately does not consult the session store: that keeps
// the hot path free of storage round-trips, at the cost of the documented
// revocation exposure window.
func (s *Service) VerifyAccess(ctx context.Context, accessToken string) (*jwt.Claims, error) {
	if s == nil {
		return nil, ErrNotReady
	}

	claims, err := s.verifyToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != jwt.TypeAccess {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// verifyToken decodes a token and maps issuer errors onto the public
// taxonomy, consulting the denylist when present.
func (s *Service) verifyToken(ctx context.Context, raw string) (*jwt.Claims, error) {
	claims, err := s.issuer.Verify(raw)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if s.denylist != nil {
		revoked, err := s.denylist.IsRevoked(ctx, claims.TokenID())
		if err != nil {
			s.log.Warn().Err(err).Msg("denylist lookup failed")
			return nil, ErrStoreUnavailable
		}
		if revoked {
			return nil, ErrTokenInvalid
		}
	}
	return claims, nil
}

// denylistToken records a token's jti until its natural expiry. No-op
// without a configured denylist.
func (s *Service) denylistToken(ctx context.Context, claims *jwt.Claims) {
	if s.denylist == nil || claims.ExpiresAt == nil {
		return
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return
	}
	if err := s.denylist.Revoke(ctx, claims.TokenID(), ttl); err != nil {
		s.log.Warn().Err(err).Msg("denylist revoke failed")
	}
}
