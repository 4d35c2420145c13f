package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborsync/authcore"
)

// AuditStore implements authcore.AuditStore on PostgreSQL. Detail maps are
// stored as jsonb.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ authcore.AuditStore = (*AuditStore)(nil)

const auditColumns = `ts, action, account_id, tenant_id, resource, ip, user_agent, success, detail`

func (s *AuditStore) Insert(ctx context.Context, event *authcore.AuditEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.Timestamp, event.Action, event.AccountID, event.TenantID,
		event.Resource, event.IP, event.UserAgent, event.Success, event.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *AuditStore) FilterByAccount(ctx context.Context, accountID string, limit int) ([]*authcore.AuditEvent, error) {
	return s.query(ctx, `account_id = $1`, accountID, limit)
}

func (s *AuditStore) FilterByAction(ctx context.Context, action string, limit int) ([]*authcore.AuditEvent, error) {
	return s.query(ctx, `action = $1`, action, limit)
}

func (s *AuditStore) query(ctx context.Context, where, arg string, limit int) ([]*authcore.AuditEvent, error) {
	q := `SELECT ` + auditColumns + ` FROM audit_events WHERE ` + where + ` ORDER BY ts DESC`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.pool.Query(ctx, q+` LIMIT $2`, arg, limit)
	} else {
		rows, err = s.pool.Query(ctx, q, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []*authcore.AuditEvent
	for rows.Next() {
		event := &authcore.AuditEvent{}
		if err := rows.Scan(
			&event.Timestamp, &event.Action, &event.AccountID, &event.TenantID,
			&event.Resource, &event.IP, &event.UserAgent, &event.Success, &event.Detail,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}
