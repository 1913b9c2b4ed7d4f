// Package auth implements password hashing and session token generation.
// It is pure computation; persistence lives in the session and account
// stores.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltLength is the random salt size for current-format hashes.
	SaltLength = 16
	// KeyLength is the PBKDF2 output size.
	KeyLength = 32
	// Iterations is the PBKDF2 iteration count for newly written hashes.
	// Deliberately expensive: this is the brute-force cost knob.
	Iterations = 100000
)

// HashFormat identifies which encoding a stored hash uses.
type HashFormat int

const (
	// FormatLegacy is a bare hex SHA-256 digest, unsalted. Retained only
	// so existing accounts can log in once and be upgraded.
	FormatLegacy HashFormat = iota
	// FormatCurrent is hex(salt) + ":" + hex(PBKDF2-SHA256 digest).
	FormatCurrent
)

// PasswordHash is the decoded form of a stored password hash. Decoding
// happens once at the boundary; everything downstream switches on Format
// instead of re-sniffing the string.
type PasswordHash struct {
	Format     HashFormat
	Salt       []byte // nil for legacy
	Digest     []byte
	Iterations int // 0 for legacy
}

var errMalformedHash = errors.New("malformed password hash")

// DecodePasswordHash parses a stored hash string into its tagged form.
func DecodePasswordHash(stored string) (*PasswordHash, error) {
	parts := strings.Split(stored, ":")
	switch len(parts) {
	case 1:
		digest, err := hex.DecodeString(parts[0])
		if err != nil || len(digest) == 0 {
			return nil, errMalformedHash
		}
		return &PasswordHash{Format: FormatLegacy, Digest: digest}, nil
	case 2:
		salt, err := hex.DecodeString(parts[0])
		if err != nil || len(salt) == 0 {
			return nil, errMalformedHash
		}
		digest, err := hex.DecodeString(parts[1])
		if err != nil || len(digest) == 0 {
			return nil, errMalformedHash
		}
		return &PasswordHash{
			Format:     FormatCurrent,
			Salt:       salt,
			Digest:     digest,
			Iterations: Iterations,
		}, nil
	default:
		return nil, errMalformedHash
	}
}

// HashPassword derives a current-format hash with a fresh random salt.
func HashPassword(password string) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hashWithSalt(password, salt, Iterations), nil
}

// hashWithSalt is deterministic given the same salt and iteration count.
func hashWithSalt(password string, salt []byte, iterations int) string {
	digest := pbkdf2.Key([]byte(password), salt, iterations, KeyLength, sha256.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(digest)
}

// VerifyPassword reports whether password matches the stored hash.
// A malformed stored hash verifies false; it never panics or surfaces an
// error, so callers uniformly report invalid credentials.
func VerifyPassword(password, stored string) bool {
	decoded, err := DecodePasswordHash(stored)
	if err != nil {
		return false
	}

	switch decoded.Format {
	case FormatLegacy:
		sum := sha256.Sum256([]byte(password))
		return subtle.ConstantTimeCompare(sum[:], decoded.Digest) == 1
	case FormatCurrent:
		computed := pbkdf2.Key([]byte(password), decoded.Salt, decoded.Iterations, len(decoded.Digest), sha256.New)
		return subtle.ConstantTimeCompare(computed, decoded.Digest) == 1
	default:
		return false
	}
}

// IsLegacyFormat reports whether the stored hash uses the deprecated
// unsalted encoding.
func IsLegacyFormat(stored string) bool {
	return !strings.Contains(stored, ":")
}

// LegacyHash computes the deprecated unsalted digest. Only tests and
// migration tooling should produce new values in this format.
func LegacyHash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
