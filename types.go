package authcore

import (
	"context"
	"time"

	internalaudit "github.com/harborsync/authcore/internal/audit"
)

// ClientMeta is the request metadata the calling HTTP layer supplies for
// sessions and audit records.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// Account is the persisted identity record. The Service treats stores as
// the source of truth; instances are snapshots, not live objects.
type Account struct {
	ID            string
	TenantID      string
	Email         string
	PasswordHash  string
	Active        bool
	Superuser     bool
	EmailVerified bool

	// Lockout state. FailedAttempts resets to zero on any successful
	// authentication; LockedUntil is cleared on success or ignored once
	// expired.
	FailedAttempts int
	LockedUntil    time.Time

	// Two-factor state. TOTPSecret is set at enrollment start and only
	// honored for login once TOTPEnabled is true. TOTPLastUsed is the last
	// accepted time-step counter, kept for replay rejection.
	TOTPSecret   []byte
	TOTPEnabled  bool
	TOTPLastUsed int64

	// Email verification challenge: SHA-256 of the token sent to the
	// address, plus its deadline.
	VerifyTokenHash []byte
	VerifyExpiresAt time.Time

	// Pending password reset: SHA-256 of the mailed token, its deadline,
	// and how many failed confirmations have been charged against it.
	ResetTokenHash []byte
	ResetExpiresAt time.Time
	ResetAttempts  int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is one logical login, independent of token validity: revoking a
// session does not retroactively invalidate an already-issued access token
// before its natural expiry (see the package documentation on the exposure
// window). Active means ExpiresAt is in the future.
type Session struct {
	ID           string
	AccountID    string
	TokenHash    string // SHA-256 of the current refresh token
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
	IP           string
	UserAgent    string
}

// Active reports whether the session has not yet expired at now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && now.Before(s.ExpiresAt)
}

// APICredential is a stored API key. Only the salted digest is persisted;
// the plaintext is returned exactly once at creation.
type APICredential struct {
	ID         string
	AccountID  string
	Name       string
	Scopes     []string
	Lookup     string // indexed identifier embedded in the plaintext
	Digest     string
	Salt       string
	ExpiresAt  time.Time // zero = does not expire
	LastUsedAt time.Time
	CreatedAt  time.Time
}

// HasScope reports whether the credential carries scope.
func (c *APICredential) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// PasswordHistoryEntry is one retained prior credential hash. Bounded per
// account; older entries are purged when a new one is inserted.
type PasswordHistoryEntry struct {
	AccountID string
	Hash      string
	CreatedAt time.Time
}

// TwoFactorChallenge is the pending state between a correct password and a
// completed second factor. No tokens exist while a challenge is open.
type TwoFactorChallenge struct {
	AccountID string
	TenantID  string
	IP        string
	UserAgent string
	Attempts  int
	ExpiresAt time.Time
}

// TwoFactorSetup is returned when enrollment starts: the shared secret and
// the otpauth:// URI to render as a QR code.
type TwoFactorSetup struct {
	SecretBase32    string
	ProvisioningURI string
}

// LoginResult is returned by Login, CompleteTwoFactor, and Refresh. Either
// the token pair is populated, or RequiresTwoFactor is set with the
// challenge to complete — never both.
type LoginResult struct {
	AccessToken  string
	RefreshToken string

	RequiresTwoFactor bool
	ChallengeID       string
}

// AuditEvent is the structured audit record emitted by the Service.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the Service's dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based AuditSink.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes JSON-encoded audit events, one per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// AccountStore persists accounts, their password history, and their backup
// codes. Create seeds the password history with the initial hash.
// Implementations return ErrAccountNotFound and ErrDuplicateAccount.
type AccountStore interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*Account, error)
	Update(ctx context.Context, account *Account) error

	// UpdatePassword sets the new hash, appends it to the history, and
	// trims the history to retain entries — as one transactional unit.
	UpdatePassword(ctx context.Context, accountID, newHash string, retain int) error
	PasswordHistory(ctx context.Context, accountID string, limit int) ([]PasswordHistoryEntry, error)

	ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][32]byte) error
	// ConsumeBackupCode atomically removes the code identified by hash.
	// Exactly one of two concurrent consumers of the same code may see
	// true.
	ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error)
}

// SessionStore persists logical sessions. Implementations return
// ErrSessionNotFound for unknown IDs.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	ListActive(ctx context.Context, accountID string, now time.Time) ([]*Session, error)
	// Rotate swaps the stored refresh-token hash and pushes the expiry
	// forward; used on every token refresh.
	Rotate(ctx context.Context, id, tokenHash string, lastActive, expires time.Time) error
	Revoke(ctx context.Context, id string) error
	RevokeAll(ctx context.Context, accountID string) (int, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// AuditStore persists audit events. Insert failures never propagate to the
// security operation that emitted the event.
type AuditStore interface {
	Insert(ctx context.Context, event *AuditEvent) error
	FilterByAccount(ctx context.Context, accountID string, limit int) ([]*AuditEvent, error)
	FilterByAction(ctx context.Context, action string, limit int) ([]*AuditEvent, error)
}

// APIKeyStore persists API credentials, indexed by their lookup fragment.
// Implementations return ErrAPIKeyNotFound.
type APIKeyStore interface {
	Create(ctx context.Context, cred *APICredential) error
	GetByLookup(ctx context.Context, lookup string) (*APICredential, error)
	ListByAccount(ctx context.Context, accountID string) ([]*APICredential, error)
	TouchUsed(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string) error
}

// ChallengeStore holds pending two-factor challenges with a TTL.
// Implementations return ErrChallengeNotFound for unknown or expired IDs.
// Delete reports whether the challenge existed, so exactly one of two
// racing completions can win.
type ChallengeStore interface {
	Save(ctx context.Context, id string, challenge *TwoFactorChallenge, ttl time.Duration) error
	Get(ctx context.Context, id string) (*TwoFactorChallenge, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Denylist records revoked token IDs until their natural expiry. Optional:
// without one, revoking a session does not invalidate outstanding access
// tokens and the access TTL bounds the exposure window.
type Denylist interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Mailer delivers the email-verification and password-reset tokens. Only
// the token crosses this boundary; message content and transport are the
// collaborator's concern.
type Mailer interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}
