package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type claim values.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	// ErrExpired is returned by Verify for a structurally valid token past
	// its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is returned by Verify for every other failure: bad
	// signature, wrong algorithm, malformed structure, missing claims.
	ErrInvalid = errors.New("invalid token")
)

// placeholderSecrets are well-known default values that must never be used
// as a signing key. Construction fails if the configured secret matches one.
var placeholderSecrets = []string{
	"secret",
	"changeme",
	"change-me",
	"password",
	"your-secret-key",
	"your-256-bit-secret",
	"dev-secret",
	"jwt-secret",
	"supersecret",
}

const minSecretBytes = 32

// Config holds the signing key, the single allowed algorithm, and the token
// lifetimes.
type Config struct {
	// Secret is the HMAC signing key. Must be at least 32 bytes and must
	// not equal a known placeholder value.
	Secret []byte
	// Algorithm is one of "HS256", "HS384", "HS512". Empty defaults to
	// HS256. Anything else fails construction.
	Algorithm string
	// Issuer is stamped into the iss claim when non-empty.
	Issuer string

	AccessTTL  time.Duration // default 15m
	RefreshTTL time.Duration // default 168h
}

// Claims is the decoded token payload. TokenType distinguishes access from
// refresh tokens; Verify does not enforce it.
type Claims struct {
	TokenType string            `json:"token_type"`
	TenantID  string            `json:"tid,omitempty"`
	SessionID string            `json:"sid,omitempty"`
	Superuser bool              `json:"su,omitempty"`
	Extra     map[string]string `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// AccountID returns the token subject.
func (c *Claims) AccountID() string {
	return c.RegisteredClaims.Subject
}

// TokenID returns the unique token identifier (jti) used for revocation.
func (c *Claims) TokenID() string {
	return c.RegisteredClaims.ID
}

// Extras are the caller-supplied claims carried alongside the registered
// set on every issued token.
type Extras struct {
	TenantID  string
	SessionID string
	Superuser bool
	Claims    map[string]string
}

// Issuer signs and verifies tokens with a single fixed HMAC algorithm.
// Safe for concurrent use after construction.
type Issuer struct {
	config Config
	method *jwt.SigningMethodHMAC
	now    func() time.Time
}

// New validates the configuration and returns an Issuer.
func New(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, errors.New("signing secret must be at least 32 bytes")
	}
	lowered := strings.ToLower(strings.TrimSpace(string(cfg.Secret)))
	for _, placeholder := range placeholderSecrets {
		if lowered == placeholder {
			return nil, errors.New("signing secret is a known placeholder value")
		}
	}

	var method *jwt.SigningMethodHMAC
	switch strings.ToUpper(cfg.Algorithm) {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		// Covers "none", every asymmetric family, and typos alike.
		return nil, errors.New("signing algorithm must be HS256, HS384, or HS512")
	}

	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}

	return &Issuer{config: cfg, method: method, now: time.Now}, nil
}

// WithClock replaces the issuer's time source. Intended for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	clone := *i
	clone.now = now
	return &clone
}

// IssueAccess mints an access token for subject with a fresh jti.
func (i *Issuer) IssueAccess(subject string, extras Extras) (string, error) {
	return i.issue(TypeAccess, subject, extras, i.config.AccessTTL)
}

// IssueRefresh mints a refresh token for subject with a fresh jti.
func (i *Issuer) IssueRefresh(subject string, extras Extras) (string, error) {
	return i.issue(TypeRefresh, subject, extras, i.config.RefreshTTL)
}

// IssuePair mints an access and a refresh token for subject. The two tokens
// carry independent jtis.
func (i *Issuer) IssuePair(subject string, extras Extras) (access string, refresh string, err error) {
	if access, err = i.IssueAccess(subject, extras); err != nil {
		return "", "", err
	}
	if refresh, err = i.IssueRefresh(subject, extras); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// AccessTTL returns the configured access-token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.config.RefreshTTL }

func (i *Issuer) issue(tokenType, subject string, extras Extras, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("empty token subject")
	}
	now := i.now()

	claims := Claims{
		TokenType: tokenType,
		TenantID:  extras.TenantID,
		SessionID: extras.SessionID,
		Superuser: extras.Superuser,
		Extra:     extras.Claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.config.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(i.method, claims).SignedString(i.config.Secret)
}

// Verify decodes raw with the single configured algorithm. It returns
// ErrExpired for a token past its expiry and ErrInvalid for every other
// failure; no decode detail leaks to the caller. Verify does not check the
// token_type claim.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, i.keyFunc,
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalid
	}
	switch claims.TokenType {
	case TypeAccess, TypeRefresh:
	default:
		return nil, ErrInvalid
	}
	return claims, nil
}

func (i *Issuer) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("unexpected signing method")
	}
	return i.config.Secret, nil
}
