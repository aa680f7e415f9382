package testutil

import (
	"testing"

	"github.com/maildesk/backend/internal/vault"
)

// GetTestVault creates a vault with a deterministic secret for testing.
// This is shared across all test packages to avoid duplication.
func GetTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	return vault.New("test-vault-secret")
}
