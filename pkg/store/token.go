package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const runTokenBytes = 32

// generateRunToken creates a cryptographically random run identifier
// token (64 hex characters).
func generateRunToken() (string, error) {
	b := make([]byte, runTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	return hex.EncodeToString(b), nil
}
