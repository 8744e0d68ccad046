package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// DefaultLength is the default credential length in bytes.
const DefaultLength = 32

// FingerprintLength is the number of hex characters kept by Fingerprint.
const FingerprintLength = 12

// Generate generates a cryptographically secure random credential.
func Generate() (string, error) {
	return GenerateWithLength(DefaultLength)
}

// GenerateWithLength generates a credential from length random bytes.
func GenerateWithLength(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash computes the hex-encoded SHA-256 digest of a credential.
func Hash(credential string) string {
	h := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(h[:])
}

// Verify checks a credential against an expected hash in constant time.
func Verify(credential, expectedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(Hash(credential)), []byte(expectedHash)) == 1
}

// Fingerprint returns a short, non-reversible identifier for log correlation.
// Empty credentials yield an empty fingerprint.
func Fingerprint(credential string) string {
	if credential == "" {
		return ""
	}
	return Hash(credential)[:FingerprintLength]
}
