package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborsync/authcore"
)

// AccountStore implements authcore.AccountStore on PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

var _ authcore.AccountStore = (*AccountStore)(nil)

const accountColumns = `id, tenant_id, email, password_hash, active, superuser,
	email_verified, failed_attempts, locked_until, totp_secret, totp_enabled,
	totp_last_used, verify_token_hash, verify_expires_at, reset_token_hash,
	reset_expires_at, reset_attempts, created_at, updated_at`

func scanAccount(row pgx.Row) (*authcore.Account, error) {
	a := &authcore.Account{}
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Email, &a.PasswordHash, &a.Active, &a.Superuser,
		&a.EmailVerified, &a.FailedAttempts, &a.LockedUntil, &a.TOTPSecret, &a.TOTPEnabled,
		&a.TOTPLastUsed, &a.VerifyTokenHash, &a.VerifyExpiresAt, &a.ResetTokenHash,
		&a.ResetExpiresAt, &a.ResetAttempts, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}

// Create inserts the account and seeds its password history, in one
// transaction.
func (s *AccountStore) Create(ctx context.Context, account *authcore.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		account.ID, account.TenantID, account.Email, account.PasswordHash, account.Active, account.Superuser,
		account.EmailVerified, account.FailedAttempts, account.LockedUntil, account.TOTPSecret, account.TOTPEnabled,
		account.TOTPLastUsed, account.VerifyTokenHash, account.VerifyExpiresAt, account.ResetTokenHash,
		account.ResetExpiresAt, account.ResetAttempts, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return authcore.ErrDuplicateAccount
		}
		return fmt.Errorf("insert account: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO password_history (account_id, hash, created_at) VALUES ($1, $2, $3)`,
		account.ID, account.PasswordHash, account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("seed password history: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *AccountStore) GetByID(ctx context.Context, id string) (*authcore.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *AccountStore) GetByEmail(ctx context.Context, tenantID, email string) (*authcore.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE tenant_id = $1 AND email = $2`,
		tenantID, email)
	return scanAccount(row)
}

func (s *AccountStore) Update(ctx context.Context, account *authcore.Account) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET
			email = $2, password_hash = $3, active = $4, superuser = $5,
			email_verified = $6, failed_attempts = $7, locked_until = $8,
			totp_secret = $9, totp_enabled = $10, totp_last_used = $11,
			verify_token_hash = $12, verify_expires_at = $13,
			reset_token_hash = $14, reset_expires_at = $15, reset_attempts = $16,
			updated_at = $17
		WHERE id = $1`,
		account.ID, account.Email, account.PasswordHash, account.Active, account.Superuser,
		account.EmailVerified, account.FailedAttempts, account.LockedUntil,
		account.TOTPSecret, account.TOTPEnabled, account.TOTPLastUsed,
		account.VerifyTokenHash, account.VerifyExpiresAt,
		account.ResetTokenHash, account.ResetExpiresAt, account.ResetAttempts,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

// UpdatePassword sets the new hash, appends it to the history, and trims
// the history beyond retain entries, in one transaction.
func (s *AccountStore) UpdatePassword(ctx context.Context, accountID, newHash string, retain int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1`,
		accountID, newHash)
	if err != nil {
		return fmt.Errorf("update hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAccountNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO password_history (account_id, hash, created_at) VALUES ($1, $2, now())`,
		accountID, newHash)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	if retain > 0 {
		_, err = tx.Exec(ctx, `
			DELETE FROM password_history
			WHERE account_id = $1 AND id NOT IN (
				SELECT id FROM password_history
				WHERE account_id = $1
				ORDER BY created_at DESC, id DESC
				LIMIT $2
			)`,
			accountID, retain)
		if err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// PasswordHistory returns up to limit retained hashes, newest first.
func (s *AccountStore) PasswordHistory(ctx context.Context, accountID string, limit int) ([]authcore.PasswordHistoryEntry, error) {
	q := `
		SELECT account_id, hash, created_at FROM password_history
		WHERE account_id = $1 ORDER BY created_at DESC, id DESC`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.pool.Query(ctx, q+` LIMIT $2`, accountID, limit)
	} else {
		rows, err = s.pool.Query(ctx, q, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []authcore.PasswordHistoryEntry
	for rows.Next() {
		var e authcore.PasswordHistoryEntry
		if err := rows.Scan(&e.AccountID, &e.Hash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReplaceBackupCodes swaps the account's full backup code set.
func (s *AccountStore) ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][32]byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("clear backup codes: %w", err)
	}
	for _, h := range hashes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO backup_codes (account_id, hash) VALUES ($1, $2)`,
			accountID, h[:]); err != nil {
			return fmt.Errorf("insert backup code: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ConsumeBackupCode deletes the matching code. The conditional DELETE makes
// consumption atomic: of two racing calls, only one sees a row.
func (s *AccountStore) ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM backup_codes WHERE account_id = $1 AND hash = $2`,
		accountID, hash[:])
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
