package password

import "testing"

func TestPolicyAcceptsStrongPassword(t *testing.T) {
	ok, violations := DefaultPolicy().Check("Abc12345!")
	if !ok {
		t.Fatalf("strong password rejected: %v", violations)
	}
	if len(violations) != 0 {
		t.Fatalf("unexpected violations: %v", violations)
	}
}

func TestPolicyReportsAllViolationsTogether(t *testing.T) {
	// Lower-case only, too short, no digit, no symbol, no upper-case.
	ok, violations := DefaultPolicy().Check("abc")
	if ok {
		t.Fatal("weak password accepted")
	}
	want := []string{ViolationTooShort, ViolationNoUpper, ViolationNoDigit, ViolationNoSymbol}
	if len(violations) != len(want) {
		t.Fatalf("got %d violations %v, want %d", len(violations), violations, len(want))
	}
	for i, v := range want {
		if violations[i] != v {
			t.Errorf("violation %d: got %q, want %q", i, violations[i], v)
		}
	}
}

func TestPolicyIndividualRules(t *testing.T) {
	cases := []struct {
		name     string
		password string
		missing  string
	}{
		{"no upper", "abc12345!", ViolationNoUpper},
		{"no lower", "ABC12345!", ViolationNoLower},
		{"no digit", "Abcdefgh!", ViolationNoDigit},
		{"no symbol", "Abc123456", ViolationNoSymbol},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, violations := DefaultPolicy().Check(tc.password)
			if ok {
				t.Fatal("password accepted")
			}
			if len(violations) != 1 || violations[0] != tc.missing {
				t.Fatalf("got %v, want exactly [%q]", violations, tc.missing)
			}
		})
	}
}

func TestPolicyCustomMinLength(t *testing.T) {
	p := Policy{MinLength: 12}
	if ok, _ := p.Check("Abc12345!"); ok {
		t.Fatal("9-character password accepted with MinLength 12")
	}
	if ok, violations := p.Check("Abc12345!xyz"); !ok {
		t.Fatalf("12-character password rejected: %v", violations)
	}
}
