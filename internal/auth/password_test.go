package auth

import (
	"strings"
	"testing"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hasher := NewHasher(8192, 1, 1)

	hash, err := hasher.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("unexpected hash format: %s", hash)
	}

	ok, err := hasher.Verify(hash, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Fatal("expected matching password to verify")
	}

	ok, err = hasher.Verify(hash, "wrong password")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Fatal("expected mismatched password to fail")
	}
}

func TestVerifyHonorsEmbeddedParameters(t *testing.T) {
	// A hash produced with one parameter set must verify under a hasher
	// configured with different costs.
	old := NewHasher(8192, 1, 1)
	hash, err := old.Hash("secret")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	current := NewHasher(19456, 2, 1)
	ok, err := current.Verify(hash, "secret")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Fatal("expected old hash to verify under new parameters")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	hasher := NewHasher(8192, 1, 1)
	if _, err := hasher.Verify("not-a-hash", "secret"); err == nil {
		t.Fatal("expected malformed hash to error")
	}
	if _, err := hasher.Verify("$bcrypt$whatever", "secret"); err == nil {
		t.Fatal("expected non-argon2id hash to error")
	}
}

func TestHashesAreSalted(t *testing.T) {
	hasher := NewHasher(8192, 1, 1)
	first, err := hasher.Hash("secret")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	second, err := hasher.Hash("secret")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if first == second {
		t.Fatal("expected distinct salts to produce distinct hashes")
	}
}
