package security_test

import (
	"strings"
	"testing"

	"github.com/capsule-ai/capsule-backend/pkg/config"
	"github.com/capsule-ai/capsule-backend/pkg/security"
)

func testHasher() *security.Argon2Hasher {
	return security.NewArgon2Hasher(config.PasswordConfig{
		ArgonMemoryKB:    8192,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	})
}

func TestHashAndVerifyPassword(t *testing.T) {
	h := testHasher()

	hash, err := h.Hash("very-secure-password")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected hash encoding %q", hash)
	}
	if strings.Contains(hash, "very-secure-password") {
		t.Fatal("hash leaks the plaintext")
	}

	if !h.Verify("very-secure-password", hash) {
		t.Fatal("Verify failed for the correct password")
	}
	if h.Verify("bogus-password", hash) {
		t.Fatal("Verify returned true for incorrect password")
	}
}

func TestHashUsesFreshSalt(t *testing.T) {
	h := testHasher()

	first, err := h.Hash("password123")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	second, err := h.Hash("password123")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct hashes for the same password")
	}
	if !h.Verify("password123", first) || !h.Verify("password123", second) {
		t.Fatal("both hashes should verify")
	}
}

func TestHashRejectsEmpty(t *testing.T) {
	if _, err := testHasher().Hash(""); err != security.ErrEmptyPassword {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestVerifyMalformedHashReturnsFalse(t *testing.T) {
	h := testHasher()
	cases := []string{
		"",
		"not-a-hash",
		"salt:deadbeef",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=8,m=8,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8,t=1,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8,t=0,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8,t=1,p=1,x=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=4294967295,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
	}
	for _, stored := range cases {
		if h.Verify("irrelevant", stored) {
			t.Fatalf("expected malformed hash %q to fail verification", stored)
		}
	}
	if _, err := security.VerifyPassword("password123", "$argon2id$v=19$m=8,m=8,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA"); err != security.ErrInvalidHash {
		t.Fatalf("expected repeated parameter to be ErrInvalidHash, got %v", err)
	}
	if _, err := security.VerifyPassword("irrelevant", "not-a-hash"); err != security.ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestSaltLengthFloor(t *testing.T) {
	h := security.NewArgon2Hasher(config.PasswordConfig{ArgonSaltLen: 4})
	if got := h.Params().SaltLen; got != 16 {
		t.Fatalf("expected salt length clamped to 16, got %d", got)
	}
}

func TestValidatePasswordPolicy(t *testing.T) {
	if err := security.ValidatePasswordPolicy("short", 8); err == nil {
		t.Fatal("expected short password to fail")
	}
	if err := security.ValidatePasswordPolicy("12345678", 8); err != nil {
		t.Fatalf("expected 8 characters to pass, got %v", err)
	}
	if err := security.ValidatePasswordPolicy("ñññññññ", 8); err == nil {
		t.Fatal("expected 7 multibyte characters to fail")
	}
	if err := security.ValidatePasswordPolicy("short", 8); err.Error() != "password must be at least 8 characters long" {
		t.Fatalf("unexpected policy message %q", err.Error())
	}
}
