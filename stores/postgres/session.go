package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborsync/authcore"
)

// SessionStore implements authcore.SessionStore on PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

var _ authcore.SessionStore = (*SessionStore)(nil)

const sessionColumns = `id, account_id, token_hash, created_at, last_active_at, expires_at, ip, user_agent`

func (s *SessionStore) Create(ctx context.Context, session *authcore.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, session.AccountID, session.TokenHash, session.CreatedAt,
		session.LastActiveAt, session.ExpiresAt, session.IP, session.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (*authcore.Session, error) {
	session := &authcore.Session{}
	err := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id).Scan(
		&session.ID, &session.AccountID, &session.TokenHash, &session.CreatedAt,
		&session.LastActiveAt, &session.ExpiresAt, &session.IP, &session.UserAgent,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrSessionNotFound
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	return session, nil
}

func (s *SessionStore) ListActive(ctx context.Context, accountID string, now time.Time) ([]*authcore.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE account_id = $1 AND expires_at > $2
		ORDER BY last_active_at DESC`,
		accountID, now)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*authcore.Session
	for rows.Next() {
		session := &authcore.Session{}
		if err := rows.Scan(
			&session.ID, &session.AccountID, &session.TokenHash, &session.CreatedAt,
			&session.LastActiveAt, &session.ExpiresAt, &session.IP, &session.UserAgent,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *SessionStore) Rotate(ctx context.Context, id, tokenHash string, lastActive, expires time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET token_hash = $2, last_active_at = $3, expires_at = $4 WHERE id = $1`,
		id, tokenHash, lastActive, expires)
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) Revoke(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) RevokeAll(ctx context.Context, accountID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *SessionStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
