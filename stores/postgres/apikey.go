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

// APIKeyStore implements authcore.APIKeyStore on PostgreSQL. Lookups hit
// the unique index on the lookup fragment, never the digest.
type APIKeyStore struct {
	pool *pgxpool.Pool
}

var _ authcore.APIKeyStore = (*APIKeyStore)(nil)

const apiKeyColumns = `id, account_id, name, scopes, lookup, digest, salt, expires_at, last_used_at, created_at`

func scanAPIKey(row pgx.Row) (*authcore.APICredential, error) {
	cred := &authcore.APICredential{}
	var expires, lastUsed *time.Time
	err := row.Scan(
		&cred.ID, &cred.AccountID, &cred.Name, &cred.Scopes, &cred.Lookup,
		&cred.Digest, &cred.Salt, &expires, &lastUsed, &cred.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	if expires != nil {
		cred.ExpiresAt = *expires
	}
	if lastUsed != nil {
		cred.LastUsedAt = *lastUsed
	}
	return cred, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *APIKeyStore) Create(ctx context.Context, cred *authcore.APICredential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (`+apiKeyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		cred.ID, cred.AccountID, cred.Name, cred.Scopes, cred.Lookup,
		cred.Digest, cred.Salt, nullableTime(cred.ExpiresAt), nullableTime(cred.LastUsedAt), cred.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (s *APIKeyStore) GetByLookup(ctx context.Context, lookup string) (*authcore.APICredential, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE lookup = $1`, lookup)
	return scanAPIKey(row)
}

func (s *APIKeyStore) ListByAccount(ctx context.Context, accountID string) ([]*authcore.APICredential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys WHERE account_id = $1 ORDER BY created_at`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	var out []*authcore.APICredential
	for rows.Next() {
		cred, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

func (s *APIKeyStore) TouchUsed(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAPIKeyNotFound
	}
	return nil
}

func (s *APIKeyStore) Revoke(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAPIKeyNotFound
	}
	return nil
}
