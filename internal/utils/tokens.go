package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// GenerateToken returns a fresh URL-safe credential (43 chars, 256 bits of
// entropy) together with its storable hash.
func GenerateToken() (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("read random bytes: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashToken(raw), nil
}

// HashToken maps a raw token to base64url(sha256(token)) without padding.
// The token carries full entropy, so no salt is involved.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TokenHashEqual(rawToken, storedHash string) bool {
	h := HashToken(rawToken)
	return subtle.ConstantTimeCompare([]byte(h), []byte(storedHash)) == 1
}
