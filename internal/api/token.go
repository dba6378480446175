package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// newSessionToken returns the cookie value. Storage only sees its hash.
func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashSessionToken(token string) string {
	normalized := strings.TrimSpace(token)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
