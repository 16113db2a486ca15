package identity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrUnknownSecretHash is returned when a stored hash has an unrecognized format.
var ErrUnknownSecretHash = errors.New("unknown secret hash format")

// secretHashParams defines OWASP minimum parameters for Argon2id.
// Memory: 47 MiB, Iterations: 1, Parallelism: 1
var secretHashParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashSecretFast returns the SHA-256 hex digest of a client secret, used as
// a lookup key for seeded/static service-account credentials.
func HashSecretFast(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// HashSecret returns an Argon2id hash of a client secret in PHC format,
// suitable for storage. Used when vending new service-account credentials
// rather than loading them from a seed file.
func HashSecret(secret string) (string, error) {
	return argon2id.CreateHash(secret, secretHashParams)
}

// DetectSecretHashType identifies the hash algorithm used for a stored
// secret hash. Returns "argon2id" for PHC format, "sha256" for prefixed or
// bare hex, "unknown" otherwise.
func DetectSecretHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return "sha256"
	}
	if len(storedHash) == 64 && isHexString(storedHash) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifySecret verifies a raw client secret against a stored hash. Supports
// Argon2id (PHC format), SHA-256 prefixed, and legacy bare SHA-256 hex.
func VerifySecret(secret, storedHash string) (bool, error) {
	switch DetectSecretHashType(storedHash) {
	case "argon2id":
		return safeArgon2idCompare(secret, storedHash)

	case "sha256":
		expected := strings.TrimPrefix(storedHash, "sha256:")
		computed := HashSecretFast(secret)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil

	default:
		return false, ErrUnknownSecretHash
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery: the underlying library panics on malformed hash parameters
// (e.g. t=0, p=0) instead of returning an error.
func safeArgon2idCompare(secret, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(secret, storedHash)
}
