package lockout

import (
	"testing"
	"time"
)

func frozenGuard(at *time.Time) Guard {
	g := New(5, 30*time.Minute)
	g.Now = func() time.Time { return *at }
	return g
}

func TestLockoutAtExactThreshold(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := frozenGuard(&now)

	var s State
	for i := 0; i < 4; i++ {
		s = g.RecordFailure(s)
		if locked, _ := g.Locked(s); locked {
			t.Fatalf("locked after %d failures", i+1)
		}
	}

	s = g.RecordFailure(s)
	locked, until := g.Locked(s)
	if !locked {
		t.Fatal("not locked after 5 failures")
	}
	if want := now.Add(30 * time.Minute); !until.Equal(want) {
		t.Fatalf("locked until %v, want %v", until, want)
	}
}

func TestLockoutExpiresWithoutReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := frozenGuard(&now)

	var s State
	for i := 0; i < 5; i++ {
		s = g.RecordFailure(s)
	}
	if locked, _ := g.Locked(s); !locked {
		t.Fatal("not locked at threshold")
	}

	// Simulated clock: one second past the deadline, no explicit reset.
	now = now.Add(30*time.Minute + time.Second)
	if locked, _ := g.Locked(s); locked {
		t.Fatal("still locked after duration elapsed")
	}
}

func TestRecordSuccessClearsEverything(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := frozenGuard(&now)

	var s State
	for i := 0; i < 5; i++ {
		s = g.RecordFailure(s)
	}
	s = g.RecordSuccess(s)

	if s.Failures != 0 {
		t.Fatalf("failures = %d after success, want 0", s.Failures)
	}
	if !s.LockedUntil.IsZero() {
		t.Fatalf("lockout deadline not cleared: %v", s.LockedUntil)
	}
}

func TestLockedIsNonDestructive(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := frozenGuard(&now)

	s := State{Failures: 3}
	for i := 0; i < 10; i++ {
		g.Locked(s)
	}
	if s.Failures != 3 {
		t.Fatalf("Locked mutated the counter: %d", s.Failures)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	g := New(0, 0)
	if g.Threshold != 5 || g.Duration != 30*time.Minute {
		t.Fatalf("defaults = %d/%v", g.Threshold, g.Duration)
	}
}
