package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Opaque identifier lengths, in characters after base64url encoding.
// Resource IDs are short but still unguessable; session tokens carry enough
// entropy that collisions between live sessions are not a practical concern.
const (
	ResourceIDLength   = 16  // 12 random bytes
	SessionTokenLength = 128 // 96 random bytes
)

// GenerateToken returns a cryptographically random base64url string of
// exactly length characters. length must be a multiple of 4 so the unpadded
// encoding lands on a byte boundary.
func GenerateToken(length int) (string, error) {
	if length <= 0 || length%4 != 0 {
		return "", fmt.Errorf("token length must be a positive multiple of 4, got %d", length)
	}

	buf := make([]byte, length/4*3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// MustGenerateToken is like GenerateToken but panics on error. The only
// failure mode is the platform RNG breaking, which is unrecoverable anyway.
func MustGenerateToken(length int) string {
	token, err := GenerateToken(length)
	if err != nil {
		panic(fmt.Sprintf("cryptox: failed to generate token: %v", err))
	}
	return token
}

// NewResourceID returns a fresh 16-character record identifier.
func NewResourceID() (string, error) {
	return GenerateToken(ResourceIDLength)
}

// NewSessionToken returns a fresh 128-character session token.
func NewSessionToken() (string, error) {
	return GenerateToken(SessionTokenLength)
}
