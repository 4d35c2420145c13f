package password

import "strings"

// Symbols is the punctuation set accepted as a special character.
const Symbols = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?`~"

// Violation names for the individual policy rules.
const (
	ViolationTooShort = "password must be at least 8 characters"
	ViolationNoUpper  = "password must contain an upper-case letter"
	ViolationNoLower  = "password must contain a lower-case letter"
	ViolationNoDigit  = "password must contain a digit"
	ViolationNoSymbol = "password must contain a special character"
)

// Policy checks candidate passwords against the configured strength rules.
// The zero value enforces the default rules (minimum length 8).
type Policy struct {
	MinLength int
}

// DefaultPolicy returns the standard policy.
func DefaultPolicy() Policy {
	return Policy{MinLength: 8}
}

// Check evaluates every rule independently and returns all violations
// together. It never short-circuits: a password missing three character
// classes reports three violations. Check is pure and safe for concurrent
// use.
func (p Policy) Check(candidate string) (bool, []string) {
	minLen := p.MinLength
	if minLen <= 0 {
		minLen = 8
	}

	var violations []string

	if len(candidate) < minLen {
		violations = append(violations, ViolationTooShort)
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range candidate {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(Symbols, r):
			hasSymbol = true
		}
	}

	if !hasUpper {
		violations = append(violations, ViolationNoUpper)
	}
	if !hasLower {
		violations = append(violations, ViolationNoLower)
	}
	if !hasDigit {
		violations = append(violations, ViolationNoDigit)
	}
	if !hasSymbol {
		violations = append(violations, ViolationNoSymbol)
	}

	return len(violations) == 0, violations
}
