package authcore

import (
	"context"

	"github.com/rs/zerolog"

	internalaudit "github.com/harborsync/authcore/internal/audit"
)

// Audit action names.
const (
	AuditRegister             = "account.registered"
	AuditEmailVerified        = "email.verified"
	AuditLoginSuccess         = "login.success"
	AuditLoginFailed          = "login.failed"
	AuditLoginLocked          = "login.locked"
	AuditLoginUnverified      = "login.unverified"
	AuditTwoFactorRequired    = "login.2fa_required"
	AuditTwoFactorCompleted   = "login.2fa_completed"
	AuditTwoFactorFailed      = "login.2fa_failed"
	AuditTokenRefreshed       = "token.refreshed"
	AuditTokenReuse           = "token.reuse_detected"
	AuditLogout               = "logout"
	AuditLogoutAll            = "logout.all"
	AuditPasswordChanged      = "password.changed"
	AuditPasswordResetRequest = "password.reset_requested"
	AuditPasswordResetDone    = "password.reset_completed"
	AuditPasswordResetFailed  = "password.reset_failed"
	AuditTwoFactorEnrollBegin = "2fa.enrollment_started"
	AuditTwoFactorEnabled     = "2fa.enabled"
	AuditTwoFactorDisabled    = "2fa.disabled"
	AuditBackupCodesGenerated = "2fa.backup_codes_generated"
	AuditBackupCodeUsed       = "2fa.backup_code_used"
	AuditAPIKeyCreated        = "apikey.created"
	AuditAPIKeyVerified       = "apikey.verified"
	AuditAPIKeyRevoked        = "apikey.revoked"
	AuditSessionRevoked       = "session.revoked"
)

// StoreSink persists audit events through an AuditStore. Insert failures
// are logged and swallowed: a broken audit backend must never fail the
// security operation that produced the event.
type StoreSink struct {
	store AuditStore
	log   zerolog.Logger
}

// NewStoreSink wraps store as an AuditSink.
func NewStoreSink(store AuditStore, log zerolog.Logger) *StoreSink {
	return &StoreSink{store: store, log: log}
}

// Emit implements AuditSink.
func (s *StoreSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Insert(ctx, &event); err != nil {
		s.log.Warn().Err(err).Str("action", event.Action).Msg("audit insert failed")
	}
}

// emitAudit queues an audit event. Never fails the caller.
func (s *Service) emitAudit(ctx context.Context, action string, success bool, accountID, tenantID, resource string, meta ClientMeta, detail map[string]string) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, internalaudit.Event{
		Timestamp: s.now().UTC(),
		Action:    action,
		AccountID: accountID,
		TenantID:  tenantID,
		Resource:  resource,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Success:   success,
		Detail:    detail,
	})
}

// AuditDropped reports how many audit events were discarded under
// backpressure since the Service was built.
func (s *Service) AuditDropped() uint64 {
	if s == nil {
		return 0
	}
	return s.audit.Dropped()
}

// detailKV builds an audit detail map from alternating key/value pairs.
func detailKV(pairs ...string) map[string]string {
	if len(pairs) == 0 || len(pairs)%2 != 0 {
		return nil
	}
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		m[pairs[i]] = pairs[i+1]
	}
	return m
}

// AuditByAccount returns the most recent audit events recorded for an
// account. Requires a configured audit store.
func (s *Service) AuditByAccount(ctx context.Context, accountID string, limit int) ([]*AuditEvent, error) {
	if s == nil || s.auditStore == nil {
		return nil, ErrNotReady
	}
	events, err := s.auditStore.FilterByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	return events, nil
}

// AuditByAction returns the most recent audit events with the given action
// name. Requires a configured audit store.
func (s *Service) AuditByAction(ctx context.Context, action string, limit int) ([]*AuditEvent, error) {
	if s == nil || s.auditStore == nil {
		return nil, ErrNotReady
	}
	events, err := s.auditStore.FilterByAction(ctx, action, limit)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	return events, nil
}
