package repository

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Sentinel errors shared by the refresh token store backends.
var (
	// ErrTokenNotFound is returned when a refresh token is absent, expired
	// or revoked. The three cases are deliberately indistinguishable.
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrActiveTokenExists is returned by Issue when another active token
	// already exists for the user. The caller re-reads and reuses the
	// winner's token.
	ErrActiveTokenExists = errors.New("active refresh token already exists for user")

	// ErrTokenCollision is returned when a freshly generated token value
	// collides with a stored one after retrying.
	ErrTokenCollision = errors.New("refresh token value collision")
)

const tokenValueBytes = 32 // 256 bits of entropy

// generateTokenValue returns a hex-encoded opaque refresh token value.
func generateTokenValue() (string, error) {
	buf := make([]byte, tokenValueBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token value: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
