// Package testutil provides shared test helpers for setting up vaults and databases.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/starford/dagaz/internal/queue"
	"github.com/starford/dagaz/internal/storage"
)

// TestQueueDB creates a temporary queue state database that is
// automatically cleaned up.
func TestQueueDB(t *testing.T) *queue.Store {
	t.Helper()
	qs, err := queue.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { qs.Close() })
	return qs
}

// TestVault creates a temporary vault directory with a storage.Provider.
func TestVault(t *testing.T) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}
