package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Caller-facing taxonomy. Authentication failures are collapsed into these
// sentinels before they cross the package boundary; the underlying cause is
// written to the diagnostics logger only.
var (
	// ErrInvalidCredentials covers both an unknown account and a wrong
	// password. The two are deliberately indistinguishable to prevent
	// account enumeration.
	ErrInvalidCredentials = errors.New("incorrect credentials")
	// ErrAccountLocked is matched by errors.Is against a *LockedError.
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrAccountDisabled is returned for a deactivated account.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountExists is returned by Register for a duplicate email.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidEmail is returned by Register for an unusable address.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrEmailNotVerified is returned by Login before verification.
	ErrEmailNotVerified = errors.New("email address not verified")
	// ErrVerificationInvalid is returned for a bad or expired email
	// verification token.
	ErrVerificationInvalid = errors.New("verification token invalid")
	// ErrResetInvalid is returned for a bad, expired, or already consumed
	// password reset token.
	ErrResetInvalid = errors.New("reset token invalid")
	// ErrTwoFactorRequired is returned by ConfirmPasswordReset when the
	// account has 2FA enabled and no code was supplied. Login signals the
	// same condition through LoginResult.RequiresTwoFactor instead, since
	// it also has a challenge ID to hand back.
	ErrTwoFactorRequired = errors.New("two-factor code required")
	// ErrInvalidTwoFactorCode covers a wrong or replayed code and an
	// unknown, expired, or exhausted challenge.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	// ErrTwoFactorNotEnrolled is returned by 2FA operations before
	// enrollment completes.
	ErrTwoFactorNotEnrolled = errors.New("two-factor authentication not enrolled")
	// ErrTwoFactorAlreadyEnrolled is returned by BeginTwoFactorEnrollment
	// while 2FA is active; disable it first.
	ErrTwoFactorAlreadyEnrolled = errors.New("two-factor authentication already enrolled")
	// ErrTokenExpired is returned for a structurally valid token past its
	// expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid merges every other token failure: signature,
	// algorithm, format, wrong type, revoked.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrPasswordPolicy is matched by errors.Is against a *PolicyError.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse rejects a new password matching a retained history
	// entry.
	ErrPasswordReuse = errors.New("new password was used recently")
	// ErrSessionNotFound is returned for an unknown or already revoked
	// session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAPIKeyNotFound is returned for an unknown API credential.
	ErrAPIKeyNotFound = errors.New("api credential not found")
)

// Store-level sentinels. Implementations of the store interfaces return
// these so the Service can translate them without string matching.
var (
	// ErrAccountNotFound is returned by AccountStore lookups.
	ErrAccountNotFound = errors.New("account not found")
	// ErrDuplicateAccount is returned by AccountStore.Create.
	ErrDuplicateAccount = errors.New("duplicate account")
	// ErrChallengeNotFound is returned by ChallengeStore lookups.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrStoreUnavailable wraps backend failures surfaced to callers.
	ErrStoreUnavailable = errors.New("storage backend unavailable")
	// ErrNotReady is returned when the Service was not built correctly.
	ErrNotReady = errors.New("service not ready")
)

// LockedError carries the unlock time alongside the ErrAccountLocked
// identity.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account temporarily locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrAccountLocked) true for *LockedError.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RetryAfter returns the remaining lockout duration relative to now,
// clamped at zero.
func (e *LockedError) RetryAfter(now time.Time) time.Duration {
	if d := e.Until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// PolicyError lists the failed password rules. Unlike the rest of the
// taxonomy this detail IS surfaced to callers — the rules are public.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password policy violation: " + strings.Join(e.Violations, "; ")
}

// Is makes errors.Is(err, ErrPasswordPolicy) true for *PolicyError.
func (e *PolicyError) Is(target error) bool {
	return target == ErrPasswordPolicy
}
