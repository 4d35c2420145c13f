// Package postgres persists authcore's durable state — accounts, password
// history, backup codes, sessions, API credentials, and the audit trail —
// in PostgreSQL via pgx. Short-lived state (2FA challenges, the token
// denylist) belongs in stores/redisstore or stores/memory.
//
// Apply schema.sql before first use.
package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Adapter wraps a pgx pool. The interface views share the one pool.
type Adapter struct {
	pool *pgxpool.Pool
}

// New returns an Adapter over pool. The caller owns the pool's lifecycle.
func New(pool *pgxpool.Pool) *Adapter {
	return &Adapter{pool: pool}
}

// Accounts returns the account store view.
func (a *Adapter) Accounts() *AccountStore { return &AccountStore{pool: a.pool} }

// Sessions returns the session store view.
func (a *Adapter) Sessions() *SessionStore { return &SessionStore{pool: a.pool} }

// APIKeys returns the API credential store view.
func (a *Adapter) APIKeys() *APIKeyStore { return &APIKeyStore{pool: a.pool} }

// Audit returns the audit store view.
func (a *Adapter) Audit() *AuditStore { return &AuditStore{pool: a.pool} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
