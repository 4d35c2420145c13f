package totp

import (
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strings"
)

// BackupAlphabet excludes visually ambiguous characters (0/O, 1/I/L).
const BackupAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	// DefaultBackupCount is the number of codes issued per generation.
	DefaultBackupCount = 10
	// DefaultBackupLength is the raw code length before formatting.
	DefaultBackupLength = 10
)

// GenerateBackupCodes returns count display-formatted single-use codes and
// the hashes to persist. Only the hashes are ever stored; the display forms
// are shown to the user exactly once. The per-account ID is mixed into the
// hash so identical codes on different accounts hash differently.
func GenerateBackupCodes(accountID string, count, length int) (codes []string, hashes [][32]byte, err error) {
	if count <= 0 {
		count = DefaultBackupCount
	}
	if length <= 0 {
		length = DefaultBackupLength
	}

	codes = make([]string, 0, count)
	hashes = make([][32]byte, 0, count)
	seen := make(map[string]struct{}, count)

	for len(codes) < count {
		raw, err := randomBackupCode(length)
		if err != nil {
			return nil, nil, err
		}
		canonical := CanonicalizeBackupCode(raw)
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		codes = append(codes, formatBackupCode(raw))
		hashes = append(hashes, HashBackupCode(accountID, canonical))
	}
	return codes, hashes, nil
}

// CanonicalizeBackupCode normalizes user input: upper-case, separators and
// whitespace stripped.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}

// HashBackupCode returns the stored digest for a canonical code.
func HashBackupCode(accountID, canonical string) [32]byte {
	data := make([]byte, 0, len(accountID)+1+len(canonical))
	data = append(data, accountID...)
	data = append(data, 0)
	data = append(data, canonical...)
	return sha256.Sum256(data)
}

func randomBackupCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(BackupAlphabet))))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func formatBackupCode(code string) string {
	if len(code) < 8 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}
