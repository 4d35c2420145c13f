package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
)

// Params are the Argon2id cost parameters. They are fixed at construction;
// two Hasher instances with different Params still verify each other's
// output because the parameters travel inside the PHC string.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns the OWASP-aligned cost parameters.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes and verifies passwords with Argon2id. Safe for concurrent
// use after construction.
type Hasher struct {
	params Params
}

// NewHasher validates the cost parameters and returns a Hasher. Parameters
// below the hard floor are rejected rather than silently raised.
func NewHasher(p Params) (*Hasher, error) {
	switch {
	case p.Memory < minMemoryKB:
		return nil, errors.New("argon2 memory must be >= 8192 KiB")
	case p.Time < minTimeCost:
		return nil, errors.New("argon2 time cost must be >= 1")
	case p.Parallelism < minParallelism:
		return nil, errors.New("argon2 parallelism must be >= 1")
	case p.SaltLength < minSaltLength:
		return nil, errors.New("argon2 salt length must be >= 16")
	case p.KeyLength < minKeyLength:
		return nil, errors.New("argon2 key length must be >= 16")
	}
	return &Hasher{params: p}, nil
}

// Hash derives an Argon2id hash of plain with a fresh random salt and
// returns it PHC-encoded. Two calls with the same input produce different
// strings.
func (h *Hasher) Hash(plain string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plain), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the digest with the parameters carried by encoded and
// compares in constant time.
func (h *Hasher) Verify(plain, encoded string) (bool, error) {
	parsed, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(plain), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.key)))

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with parameters weaker
// than the hasher's current configuration.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	parsed, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	if h.params.Memory > parsed.memory || h.params.Time > parsed.time || h.params.Parallelism > parsed.parallelism {
		return true, nil
	}
	if uint32(len(parsed.key)) != h.params.KeyLength {
		return true, nil
	}
	return false, nil
}

type phcFields struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func decodePHC(encoded string) (*phcFields, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("malformed PHC string")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported hash algorithm")
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, errors.New("missing argon2 version")
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	var f phcFields
	var m, t, p uint64
	for _, kv := range strings.Split(parts[3], ",") {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			return nil, errors.New("malformed argon2 parameters")
		}
		var err error
		switch key {
		case "m":
			m, err = strconv.ParseUint(value, 10, 32)
		case "t":
			t, err = strconv.ParseUint(value, 10, 32)
		case "p":
			p, err = strconv.ParseUint(value, 10, 8)
		default:
			err = errors.New("unknown parameter")
		}
		if err != nil {
			return nil, errors.New("malformed argon2 parameters")
		}
	}
	if m == 0 || t == 0 || p == 0 {
		return nil, errors.New("incomplete argon2 parameters")
	}
	f.memory = uint32(m)
	f.time = uint32(t)
	f.parallelism = uint8(p)

	var err error
	if f.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, errors.New("malformed salt")
	}
	if len(f.salt) < int(minSaltLength) {
		return nil, errors.New("salt too short")
	}
	if f.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(f.key) == 0 {
		return nil, errors.New("malformed digest")
	}

	return &f, nil
}
