package testutil

import (
	"testing"

	"faceattend/internal/encryption"
)

// NewTestKeyStore creates a key store with a fresh in-memory identity.
func NewTestKeyStore(t *testing.T) *encryption.AgeKeyStore {
	t.Helper()
	keys, err := encryption.GenerateKeyStore()
	if err != nil {
		t.Fatalf("failed to generate key store: %v", err)
	}
	return keys
}
