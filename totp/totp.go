// Package totp implements the second-factor primitives: RFC 6238 time-based
// one-time codes and single-use backup codes.
//
// Code comparison is constant-time. Backup codes are generated here but
// stored and consumed by the caller's store; consumption atomicity is the
// store's contract, not this package's.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const secretBytes = 20

// Config fixes the code parameters for a Guard. Zero fields take RFC
// defaults: 6 digits, 30 second period, SHA1, skew of one step either side.
type Config struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string // SHA1 (default), SHA256, SHA512
}

// Guard generates secrets and verifies time-based codes. Safe for
// concurrent use.
type Guard struct {
	config Config
}

// New returns a Guard with defaults applied.
func New(cfg Config) (*Guard, error) {
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.Digits < 6 || cfg.Digits > 10 {
		return nil, errors.New("totp digits must be between 6 and 10")
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if cfg.Period < 15 {
		return nil, errors.New("totp period must be at least 15 seconds")
	}
	if cfg.Skew == 0 {
		cfg.Skew = 1
	}
	if cfg.Skew < 0 || cfg.Skew > 2 {
		return nil, errors.New("totp skew must be between 0 and 2 steps")
	}
	if _, err := hmacFunc(cfg.Algorithm); err != nil {
		return nil, err
	}
	return &Guard{config: cfg}, nil
}

// GenerateSecret returns a fresh 160-bit secret and its base32 encoding
// (unpadded, as expected by authenticator apps).
func (g *Guard) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// DecodeSecret parses a base32 secret produced by GenerateSecret.
func DecodeSecret(encoded string) ([]byte, error) {
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(strings.TrimSpace(encoded)))
}

// ProvisioningURI builds the otpauth:// enrollment URI for accountLabel.
// QR rendering is the caller's concern.
func (g *Guard) ProvisioningURI(accountLabel, secretBase32 string) string {
	label := url.PathEscape(g.config.Issuer + ":" + accountLabel)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", g.config.Issuer)
	v.Set("period", strconv.Itoa(g.config.Period))
	v.Set("digits", strconv.Itoa(g.config.Digits))
	v.Set("algorithm", strings.ToUpper(algorithmName(g.config.Algorithm)))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Generate returns the code for the time step containing now. Useful for
// enrollment previews and for clients that display codes themselves.
func (g *Guard) Generate(secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty totp secret")
	}
	return hotp(secret, now.Unix()/int64(g.config.Period), g.config.Digits, g.config.Algorithm)
}

// Verify checks code against secret at the time step containing now,
// allowing the configured skew either side. It returns the matched counter
// so callers can reject replays of the same step. A malformed code is a
// plain mismatch, not an error.
func (g *Guard) Verify(secret []byte, code string, now time.Time) (bool, int64, error) {
	if len(secret) == 0 {
		return false, 0, errors.New("empty totp secret")
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != g.config.Digits || !allDigits(trimmed) {
		return false, 0, nil
	}

	base := now.Unix() / int64(g.config.Period)
	for step := -g.config.Skew; step <= g.config.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		expected, err := hotp(secret, counter, g.config.Digits, g.config.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

func hotp(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func algorithmName(algorithm string) string {
	if algorithm == "" {
		return "SHA1"
	}
	return algorithm
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
