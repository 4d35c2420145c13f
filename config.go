package authcore

import (
	"errors"
	"time"
)

// Config is the explicit, typed configuration for the Service. Build
// validates it; after Build it is treated as immutable.
type Config struct {
	JWT          JWTConfig
	Password     PasswordConfig
	Lockout      LockoutConfig
	TwoFactor    TwoFactorConfig
	Session      SessionConfig
	APIKey       APIKeyConfig
	Audit        AuditConfig
	Verification VerificationConfig
	Reset        ResetConfig
}

// JWTConfig fixes the signing key, the single allowed algorithm, and the
// token lifetimes.
type JWTConfig struct {
	// Secret is the HMAC signing key. Minimum 32 bytes; known placeholder
	// values are rejected at Build.
	Secret []byte
	// Algorithm is HS256 (default), HS384, or HS512. Anything else —
	// including "none" and every asymmetric family — fails Build.
	Algorithm  string
	Issuer     string
	AccessTTL  time.Duration // default 15m
	RefreshTTL time.Duration // default 168h
}

// PasswordConfig carries the Argon2id cost parameters, the strength policy,
// and the history retention.
type PasswordConfig struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// UpgradeOnLogin transparently re-hashes on successful login when the
	// stored hash was produced with weaker parameters.
	UpgradeOnLogin bool
	// MinLength is the policy minimum (default 8).
	MinLength int
	// HistoryRetention is how many prior hashes are kept and checked for
	// reuse (default 5).
	HistoryRetention int
}

// LockoutConfig controls the failed-attempt guard.
type LockoutConfig struct {
	Threshold int           // default 5
	Duration  time.Duration // default 30m
}

// TwoFactorConfig controls TOTP, login challenges, and backup codes.
type TwoFactorConfig struct {
	Issuer               string // label shown in authenticator apps
	Digits               int    // default 6
	Period               int    // seconds, default 30
	Skew                 int    // accepted steps either side, default 1
	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int
	BackupCodeCount      int
	BackupCodeLength     int
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	// TTL is the session lifetime; refreshed on token rotation. Defaults
	// to the refresh-token TTL.
	TTL time.Duration
}

// APIKeyConfig controls issued API credentials.
type APIKeyConfig struct {
	Prefix string // default "hsk"
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// ResetConfig controls the mailed password reset flow.
type ResetConfig struct {
	// TokenTTL is the reset token lifetime (default 1h).
	TokenTTL time.Duration
	// MaxAttempts burns the token after this many failed confirmations
	// (default 5). Only confirmations that presented the right token but
	// a wrong second-factor code count; token guesses draw from a 256-bit
	// space and are not tracked.
	MaxAttempts int
}

// VerificationConfig controls email verification.
type VerificationConfig struct {
	TokenTTL time.Duration
	// RequireForLogin rejects login for unverified accounts.
	RequireForLogin bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Algorithm:  "HS256",
			Issuer:     "authcore",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:           64 * 1024,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			UpgradeOnLogin:   true,
			MinLength:        8,
			HistoryRetention: 5,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:               "authcore",
			Digits:               6,
			Period:               30,
			Skew:                 1,
			ChallengeTTL:         5 * time.Minute,
			ChallengeMaxAttempts: 5,
			BackupCodeCount:      10,
			BackupCodeLength:     10,
		},
		Session: SessionConfig{},
		APIKey:  APIKeyConfig{Prefix: "hsk"},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Verification: VerificationConfig{
			TokenTTL:        24 * time.Hour,
			RequireForLogin: true,
		},
		Reset: ResetConfig{
			TokenTTL:    time.Hour,
			MaxAttempts: 5,
		},
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.JWT.Algorithm == "" {
		c.JWT.Algorithm = d.JWT.Algorithm
	}
	if c.JWT.AccessTTL <= 0 {
		c.JWT.AccessTTL = d.JWT.AccessTTL
	}
	if c.JWT.RefreshTTL <= 0 {
		c.JWT.RefreshTTL = d.JWT.RefreshTTL
	}
	if c.Password.Memory == 0 && c.Password.Time == 0 {
		c.Password.Memory = d.Password.Memory
		c.Password.Time = d.Password.Time
		c.Password.Parallelism = d.Password.Parallelism
		c.Password.SaltLength = d.Password.SaltLength
		c.Password.KeyLength = d.Password.KeyLength
	}
	if c.Password.MinLength <= 0 {
		c.Password.MinLength = d.Password.MinLength
	}
	if c.Password.HistoryRetention <= 0 {
		c.Password.HistoryRetention = d.Password.HistoryRetention
	}
	if c.Lockout.Threshold <= 0 {
		c.Lockout.Threshold = d.Lockout.Threshold
	}
	if c.Lockout.Duration <= 0 {
		c.Lockout.Duration = d.Lockout.Duration
	}
	if c.TwoFactor.Issuer == "" {
		c.TwoFactor.Issuer = d.TwoFactor.Issuer
	}
	if c.TwoFactor.Digits == 0 {
		c.TwoFactor.Digits = d.TwoFactor.Digits
	}
	if c.TwoFactor.Period == 0 {
		c.TwoFactor.Period = d.TwoFactor.Period
	}
	if c.TwoFactor.Skew == 0 {
		c.TwoFactor.Skew = d.TwoFactor.Skew
	}
	if c.TwoFactor.ChallengeTTL <= 0 {
		c.TwoFactor.ChallengeTTL = d.TwoFactor.ChallengeTTL
	}
	if c.TwoFactor.ChallengeMaxAttempts <= 0 {
		c.TwoFactor.ChallengeMaxAttempts = d.TwoFactor.ChallengeMaxAttempts
	}
	if c.TwoFactor.BackupCodeCount <= 0 {
		c.TwoFactor.BackupCodeCount = d.TwoFactor.BackupCodeCount
	}
	if c.TwoFactor.BackupCodeLength <= 0 {
		c.TwoFactor.BackupCodeLength = d.TwoFactor.BackupCodeLength
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = c.JWT.RefreshTTL
	}
	if c.APIKey.Prefix == "" {
		c.APIKey.Prefix = d.APIKey.Prefix
	}
	if c.Audit.BufferSize <= 0 {
		c.Audit.BufferSize = d.Audit.BufferSize
	}
	if c.Verification.TokenTTL <= 0 {
		c.Verification.TokenTTL = d.Verification.TokenTTL
	}
	if c.Reset.TokenTTL <= 0 {
		c.Reset.TokenTTL = d.Reset.TokenTTL
	}
	if c.Reset.MaxAttempts <= 0 {
		c.Reset.MaxAttempts = d.Reset.MaxAttempts
	}
}

func (c *Config) validate() error {
	if len(c.JWT.Secret) == 0 {
		return errors.New("config: JWT secret is required")
	}
	if c.Session.TTL < c.JWT.RefreshTTL {
		return errors.New("config: session TTL must be at least the refresh TTL")
	}
	return nil
}
