package authcore

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"

	internalaudit "github.com/harborsync/authcore/internal/audit"
	"github.com/harborsync/authcore/internal/lockout"
	"github.com/harborsync/authcore/jwt"
	"github.com/harborsync/authcore/password"
	"github.com/harborsync/authcore/totp"
)

// Service is the authentication orchestrator. It composes the lockout
// guard, credential hasher, two-factor guard, token issuer, session store,
// and audit trail into the register/login/refresh/change-password flows.
//
// Service methods are safe for concurrent use after Build. The Service
// itself holds no mutable per-account state: correctness under concurrency
// rests on the stores' own transaction and locking behavior.
type Service struct {
	config Config

	hasher *password.Hasher
	policy password.Policy
	issuer *jwt.Issuer
	totp   *totp.Guard
	guard  lockout.Guard

	accounts   AccountStore
	sessions   SessionStore
	apikeys    APIKeyStore
	challenges ChallengeStore
	denylist   Denylist
	mailer     Mailer
	auditStore AuditStore

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	log     zerolog.Logger

	// dummyHash is verified against when the account does not exist, so
	// the unknown-account path costs the same as a wrong password.
	// dummyDigest and dummySalt serve the same role for API key lookups.
	dummyHash   string
	dummyDigest string
	dummySalt   string

	now func() time.Time
}

// Close flushes the audit dispatcher. Call on shutdown.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.audit.Close()
}

// WithClock replaces the Service's time source. Intended for tests; the
// issuer's clock is replaced alongside.
func (s *Service) WithClock(now func() time.Time) *Service {
	clone := *s
	clone.now = now
	clone.issuer = s.issuer.WithClock(now)
	clone.guard.Now = now
	return &clone
}

// hashToken is the stored digest of a refresh token: sessions keep a hash,
// never the token itself.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Service) lockoutState(a *Account) lockout.State {
	return lockout.State{Failures: a.FailedAttempts, LockedUntil: a.LockedUntil}
}

func applyLockoutState(a *Account, st lockout.State) {
	a.FailedAttempts = st.Failures
	a.LockedUntil = st.LockedUntil
}
