// Package lockout implements the failed-attempt counter and temporary
// lockout state machine applied to each account.
//
// The guard is pure: it transforms a State snapshot and leaves persistence
// to the caller, which writes the result back as a single row mutation.
// Two requests racing on the same account may both increment before either
// observes the threshold; lockout is defense in depth, not a hard boundary,
// so that relaxation is accepted.
package lockout

import "time"

// State is the per-account snapshot the guard operates on.
type State struct {
	Failures    int
	LockedUntil time.Time // zero when not locked
}

// Guard applies the threshold and duration to account state. The zero value
// is unusable; construct with the configured values.
type Guard struct {
	Threshold int
	Duration  time.Duration
	Now       func() time.Time
}

// New returns a Guard with defaults for unset fields (5 failures, 30m).
func New(threshold int, duration time.Duration) Guard {
	if threshold <= 0 {
		threshold = 5
	}
	if duration <= 0 {
		duration = 30 * time.Minute
	}
	return Guard{Threshold: threshold, Duration: duration, Now: time.Now}
}

func (g Guard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// RecordFailure increments the counter and, once it reaches the threshold,
// stamps the lockout deadline.
func (g Guard) RecordFailure(s State) State {
	s.Failures++
	if s.Failures >= g.Threshold {
		s.LockedUntil = g.now().Add(g.Duration)
	}
	return s
}

// RecordSuccess resets the counter and clears any lockout.
func (g Guard) RecordSuccess(s State) State {
	return State{}
}

// Locked reports whether the account is currently locked and, if so, until
// when. It never mutates state; an expired lockout simply reads as
// unlocked, and the stale fields are cleared by the next RecordSuccess.
func (g Guard) Locked(s State) (bool, time.Time) {
	if s.LockedUntil.IsZero() || !g.now().Before(s.LockedUntil) {
		return false, time.Time{}
	}
	return true, s.LockedUntil
}
