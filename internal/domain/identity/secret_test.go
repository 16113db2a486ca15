package identity

import (
	"errors"
	"strings"
	"testing"
)

func TestHashSecretFast_Deterministic(t *testing.T) {
	t.Parallel()

	if HashSecretFast("s3cret") != HashSecretFast("s3cret") {
		t.Fatal("HashSecretFast must be deterministic")
	}
	if HashSecretFast("s3cret") == HashSecretFast("other") {
		t.Fatal("different secrets must hash differently")
	}
}

func TestHashSecret_RandomSalt(t *testing.T) {
	t.Parallel()

	h1, err := HashSecret("s3cret")
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	if !strings.HasPrefix(h1, "$argon2id$") {
		t.Fatalf("HashSecret() = %q, want $argon2id$ prefix", h1)
	}
	h2, err := HashSecret("s3cret")
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	if h1 == h2 {
		t.Fatal("HashSecret must salt each call differently")
	}
}

func TestVerifySecret_Argon2id(t *testing.T) {
	t.Parallel()

	hash, err := HashSecret("client-secret-xyz")
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	ok, err := VerifySecret("client-secret-xyz", hash)
	if err != nil || !ok {
		t.Fatalf("VerifySecret() = %v, %v, want true, nil", ok, err)
	}
	ok, err = VerifySecret("wrong", hash)
	if err != nil || ok {
		t.Fatalf("VerifySecret() = %v, %v, want false, nil", ok, err)
	}
}

func TestVerifySecret_SHA256Variants(t *testing.T) {
	t.Parallel()

	bare := HashSecretFast("legacy-secret")
	prefixed := "sha256:" + bare

	for _, stored := range []string{bare, prefixed} {
		ok, err := VerifySecret("legacy-secret", stored)
		if err != nil || !ok {
			t.Fatalf("VerifySecret(%q) = %v, %v, want true, nil", stored, ok, err)
		}
		ok, err = VerifySecret("wrong", stored)
		if err != nil || ok {
			t.Fatalf("VerifySecret(%q) wrong secret = %v, %v, want false, nil", stored, ok, err)
		}
	}
}

func TestVerifySecret_UnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := VerifySecret("x", "not-a-real-hash")
	if !errors.Is(err, ErrUnknownSecretHash) {
		t.Fatalf("VerifySecret() error = %v, want ErrUnknownSecretHash", err)
	}
}
