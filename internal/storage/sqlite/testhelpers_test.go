package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

// setupTestDB opens a fresh migrated database under a temp directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }
