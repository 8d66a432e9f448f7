package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mailsift/mailsift/internal/store"
)

// TestDimension is the embedding width used by test stores. Small enough to
// write vectors by hand in tests.
const TestDimension = 8

// NewTestStore creates a temporary database for testing.
// The database is automatically cleaned up when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath, TestDimension)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	// Register close on cleanup
	t.Cleanup(func() {
		st.Close()
	})

	// Initialize schema
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	return st
}
