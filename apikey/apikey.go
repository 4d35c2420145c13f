// Package apikey generates and verifies opaque bearer credentials.
//
// A credential's plaintext form is
//
//	<prefix>_<lookup>_<secret>
//
// where lookup is a short random identifier used for indexed retrieval and
// secret carries 256 bits of entropy. Storage keeps only a salted HMAC-SHA256
// digest of the secret; the plaintext is shown to the caller exactly once at
// creation. Tokens are high-entropy, so a fast keyed digest is sufficient —
// the password KDF is deliberately not used here.
package apikey

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// DefaultPrefix marks credentials issued by this module.
	DefaultPrefix = "hsk"

	secretBytes = 32 // 256 bits
	lookupBytes = 6
	saltBytes   = 16
)

// ErrMalformed is returned by Parse for input that is not a credential.
var ErrMalformed = errors.New("malformed api credential")

// Key is a freshly generated credential. Plaintext must be handed to the
// caller and dropped; Lookup, Digest, and Salt are what storage keeps.
type Key struct {
	Plaintext string
	Lookup    string
	Digest    string
	Salt      string
}

// Generate mints a credential under prefix (DefaultPrefix when empty).
func Generate(prefix string) (*Key, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	lookup := make([]byte, lookupBytes)
	if _, err := rand.Read(lookup); err != nil {
		return nil, err
	}
	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	lookupEnc := hex.EncodeToString(lookup)
	secretEnc := base64.RawURLEncoding.EncodeToString(secret)
	saltEnc := hex.EncodeToString(salt)

	return &Key{
		Plaintext: prefix + "_" + lookupEnc + "_" + secretEnc,
		Lookup:    lookupEnc,
		Digest:    digest(saltEnc, secretEnc),
		Salt:      saltEnc,
	}, nil
}

// Parse splits a presented credential into its lookup identifier and secret.
// The secret is everything after the second separator — its base64url
// alphabet can itself contain underscores. The prefix is accepted as-is;
// callers that care about issuer prefixes compare Lookup against their
// index anyway.
func Parse(plaintext string) (lookup, secret string, err error) {
	parts := strings.SplitN(strings.TrimSpace(plaintext), "_", 3)
	if len(parts) != 3 || parts[0] == "" || len(parts[1]) != lookupBytes*2 || parts[2] == "" {
		return "", "", ErrMalformed
	}
	return parts[1], parts[2], nil
}

// Verify recomputes the salted digest of secret and compares it to stored in
// constant time. The full digest is always computed — no prefix
// short-circuit — so verification time is independent of how much of the
// digest matches.
func Verify(secret, stored, salt string) bool {
	computed := digest(salt, secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1
}

func digest(salt, secret string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	_, _ = mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}
