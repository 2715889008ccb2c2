package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

// OpaqueTokenSize is the number of random bytes behind every opaque token (256 bits).
const OpaqueTokenSize = 32

// ErrEmptyToken is returned when an opaque token or its hash is blank.
var ErrEmptyToken = errors.New("empty token")

// NewOpaqueToken returns a 256-bit random secret, base64url encoded without padding.
func NewOpaqueToken() (string, error) {
	var raw [OpaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashToken returns the standard base64 SHA-256 digest of token. Only this
// value is ever persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HashEqual compares two encoded hashes in constant time.
func HashEqual(stored, computed string) bool {
	if stored == "" || computed == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(computed)) == 1
}

// NewOpaqueTokenWithHash is the common generate step: a fresh token and the
// hash that should be stored for it.
func NewOpaqueTokenWithHash() (token string, hash string, err error) {
	token, err = NewOpaqueToken()
	if err != nil {
		return "", "", err
	}
	return token, HashToken(token), nil
}
