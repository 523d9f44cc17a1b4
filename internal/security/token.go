package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// GeneratePublicToken returns an opaque, unguessable public chatbot token.
// Consumers must treat the value as an opaque case-sensitive string.
func GeneratePublicToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
