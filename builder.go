package authcore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborsync/authcore/apikey"
	internalaudit "github.com/harborsync/authcore/internal/audit"
	"github.com/harborsync/authcore/internal/lockout"
	"github.com/harborsync/authcore/jwt"
	"github.com/harborsync/authcore/password"
	"github.com/harborsync/authcore/totp"
)

// Builder assembles a Service. Construction is allocation-only; no I/O
// happens before Build returns.
type Builder struct {
	config Config

	accounts   AccountStore
	sessions   SessionStore
	apikeys    APIKeyStore
	challenges ChallengeStore
	denylist   Denylist
	mailer     Mailer
	auditSink  AuditSink
	auditStore AuditStore
	logger     *zerolog.Logger
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration. Zero fields are filled with
// defaults at Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithAccounts sets the required account store.
func (b *Builder) WithAccounts(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithSessions sets the required session store.
func (b *Builder) WithSessions(store SessionStore) *Builder {
	b.sessions = store
	return b
}

// WithChallenges sets the required two-factor challenge store.
func (b *Builder) WithChallenges(store ChallengeStore) *Builder {
	b.challenges = store
	return b
}

// WithAPIKeys enables the API-credential operations.
func (b *Builder) WithAPIKeys(store APIKeyStore) *Builder {
	b.apikeys = store
	return b
}

// WithDenylist enables revocation of outstanding access tokens. Without
// it, the access TTL bounds the post-revocation exposure window.
func (b *Builder) WithDenylist(d Denylist) *Builder {
	b.denylist = d
	return b
}

// WithMailer sets the collaborator that delivers verification and password
// reset tokens.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink routes audit events to sink. Takes precedence over
// WithAuditStore.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithAuditStore persists audit events through store, and makes them
// available to the Audit query methods.
func (b *Builder) WithAuditStore(store AuditStore) *Builder {
	b.auditStore = store
	return b
}

// WithLogger sets the diagnostics logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.logger = &log
	return b
}

// Build validates the configuration, constructs every component, and
// returns the Service. Misconfiguration — weak JWT secret, forbidden
// algorithm, missing required store — fails here, not at the first request.
func (b *Builder) Build() (*Service, error) {
	cfg := b.config
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if b.accounts == nil {
		return nil, errors.New("authcore: account store is required")
	}
	if b.sessions == nil {
		return nil, errors.New("authcore: session store is required")
	}
	if b.challenges == nil {
		return nil, errors.New("authcore: challenge store is required")
	}

	issuer, err := jwt.New(jwt.Config{
		Secret:     cfg.JWT.Secret,
		Algorithm:  cfg.JWT.Algorithm,
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("authcore: %w", err)
	}

	hasher, err := password.NewHasher(password.Params{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("authcore: %w", err)
	}

	guard2fa, err := totp.New(totp.Config{
		Issuer: cfg.TwoFactor.Issuer,
		Digits: cfg.TwoFactor.Digits,
		Period: cfg.TwoFactor.Period,
		Skew:   cfg.TwoFactor.Skew,
	})
	if err != nil {
		return nil, fmt.Errorf("authcore: %w", err)
	}

	log := zerolog.Nop()
	if b.logger != nil {
		log = *b.logger
	}

	sink := b.auditSink
	if sink == nil && b.auditStore != nil {
		sink = NewStoreSink(b.auditStore, log)
	}
	dispatcher := internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	dummy, err := dummyHash(hasher)
	if err != nil {
		dispatcher.Close()
		return nil, fmt.Errorf("authcore: %w", err)
	}
	dummyKey, err := apikey.Generate(cfg.APIKey.Prefix)
	if err != nil {
		dispatcher.Close()
		return nil, fmt.Errorf("authcore: %w", err)
	}

	return &Service{
		config:      cfg,
		hasher:      hasher,
		policy:      password.Policy{MinLength: cfg.Password.MinLength},
		issuer:      issuer,
		totp:        guard2fa,
		guard:       lockout.New(cfg.Lockout.Threshold, cfg.Lockout.Duration),
		accounts:    b.accounts,
		sessions:    b.sessions,
		apikeys:     b.apikeys,
		challenges:  b.challenges,
		denylist:    b.denylist,
		mailer:      b.mailer,
		auditStore:  b.auditStore,
		audit:       dispatcher,
		metrics:     newMetrics(),
		log:         log,
		dummyHash:   dummy,
		dummyDigest: dummyKey.Digest,
		dummySalt:   dummyKey.Salt,
		now:         time.Now,
	}, nil
}

// dummyHash produces a hash of a random value nothing will ever match. The
// login flow verifies against it when the account does not exist, keeping
// the unknown-account path on the same KDF cost as a wrong password.
func dummyHash(h *password.Hasher) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return h.Hash(base64.RawStdEncoding.EncodeToString(raw))
}
