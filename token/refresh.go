package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const refreshSecretSize = 32

// NewRefreshSecret returns a high-entropy opaque refresh token value.
// The value is handed to the client verbatim; only its hash is persisted.
func NewRefreshSecret() (string, error) {
	var raw [refreshSecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashRefreshSecret derives the storage key for a refresh token value.
func HashRefreshSecret(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// CheckRefreshValue rejects values that cannot be a refresh secret before
// any store lookup happens.
func CheckRefreshValue(value string) error {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return errors.New("token: malformed refresh value")
	}
	if len(raw) != refreshSecretSize {
		return errors.New("token: invalid refresh value size")
	}
	return nil
}
