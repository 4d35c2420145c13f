package apikey

import (
	"strings"
	"testing"
)

func TestGenerateRoundTrip(t *testing.T) {
	key, err := Generate("")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !strings.HasPrefix(key.Plaintext, DefaultPrefix+"_") {
		t.Fatalf("plaintext missing prefix: %s", key.Plaintext)
	}

	lookup, secret, err := Parse(key.Plaintext)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if lookup != key.Lookup {
		t.Errorf("lookup = %q, want %q", lookup, key.Lookup)
	}
	if !Verify(secret, key.Digest, key.Salt) {
		t.Fatal("generated credential fails its own verification")
	}
}

func TestGenerateIsUnique(t *testing.T) {
	a, err := Generate("hsk")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	b, err := Generate("hsk")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if a.Plaintext == b.Plaintext || a.Lookup == b.Lookup || a.Digest == b.Digest {
		t.Fatal("two generated credentials collide")
	}
}

func TestSecretEntropy(t *testing.T) {
	key, err := Generate("")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	_, secret, err := Parse(key.Plaintext)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	// 32 raw bytes => 43 base64url characters.
	if len(secret) < 43 {
		t.Fatalf("secret is %d characters, want >= 43 (256 bits)", len(secret))
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	key, err := Generate("")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if Verify("not-the-secret", key.Digest, key.Salt) {
		t.Fatal("wrong secret accepted")
	}
	if Verify("", key.Digest, key.Salt) {
		t.Fatal("empty secret accepted")
	}
}

func TestVerifyIsSaltSensitive(t *testing.T) {
	key, err := Generate("")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	_, secret, err := Parse(key.Plaintext)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if Verify(secret, key.Digest, "00000000000000000000000000000000") {
		t.Fatal("digest verified under a different salt")
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	for _, input := range []string{
		"",
		"hsk",
		"hsk_abc",
		"hsk_tooshort_secret",
		"_0123456789ab_secret",
		"hsk_0123456789ab_",
	} {
		if _, _, err := Parse(input); err == nil {
			t.Errorf("Parse accepted %q", input)
		}
	}
}

func TestParseKeepsUnderscoresInSecret(t *testing.T) {
	// base64url secrets can themselves contain underscores.
	_, secret, err := Parse("hsk_0123456789ab_ab_cd_ef")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if secret != "ab_cd_ef" {
		t.Errorf("secret = %q, want %q", secret, "ab_cd_ef")
	}
}
