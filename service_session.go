package authcore

import (
	"context"
	"time"
)

// Sessions lists the account's currently active sessions, most recent
// first ordering is up to the store.
func (s *Service) Sessions(ctx context.Context, accountID string) ([]*Session, error) {
	if s == nil {
		return nil, ErrNotReady
	}
	sessions, err := s.sessions.ListActive(ctx, accountID, s.now())
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	return sessions, nil
}

// RevokeSession revokes one session the account owns. Revoking someone
// else's session reports not-found rather than confirming it exists.
func (s *Service) RevokeSession(ctx context.Context, accountID, sessionID string, meta ClientMeta) error {
	if s == nil {
		return ErrNotReady
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil || session.AccountID != accountID {
		return ErrSessionNotFound
	}

	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return ErrStoreUnavailable
	}
	s.metricInc(MetricSessionRevoked)
	s.emitAudit(ctx, AuditSessionRevoked, true, accountID, "", "session:"+sessionID, meta, nil)
	return nil
}

// SweepExpiredSessions removes sessions past their expiry and returns how
// many were removed.
func (s *Service) SweepExpiredSessions(ctx context.Context) (int, error) {
	if s == nil {
		return 0, ErrNotReady
	}
	n, err := s.sessions.SweepExpired(ctx, s.now())
	if err != nil {
		return 0, ErrStoreUnavailable
	}
	if n > 0 {
		s.log.Debug().Int("swept", n).Msg("expired sessions removed")
	}
	return n, nil
}

// RunSessionSweeper sweeps expired sessions on the given interval until
// ctx is cancelled. Meant to be run in its own goroutine.
func (s *Service) RunSessionSweeper(ctx context.Context, interval time.Duration) {
	if s == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpiredSessions(ctx); err != nil {
				s.log.Warn().Err(err).Msg("session sweep failed")
			}
		}
	}
}
