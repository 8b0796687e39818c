package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMigrationMonotonicity(t *testing.T) {
	db := setupTestDB(t)

	version, err := readSchemaVersion(db.Raw())
	if err != nil {
		t.Fatalf("reading schema version: %v", err)
	}
	if version != LatestVersion() {
		t.Fatalf("schema version = %d, want %d", version, LatestVersion())
	}

	// Re-running must be a no-op.
	if err := RunMigrations(db.Raw()); err != nil {
		t.Fatalf("re-running migrations: %v", err)
	}
	version, err = readSchemaVersion(db.Raw())
	if err != nil {
		t.Fatalf("re-reading schema version: %v", err)
	}
	if version != LatestVersion() {
		t.Fatalf("schema version after rerun = %d, want %d", version, LatestVersion())
	}
}

func TestMigrationsCreateAllTables(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{
		"sessions", "changes", "decisions", "conventions", "tasks", "file_notes",
		"milestones", "scheduled_events", "agents", "broadcasts", "file_locks",
		"pending_work", "checkpoints", "session_bytes", "snapshot_cache", "config",
		"schema_meta", "handoffs", "sessions_fts", "changes_fts", "decisions_fts",
		"conventions_fts", "tasks_fts", "file_notes_fts", "scheduled_events_fts",
	} {
		var n int
		err := db.Raw().QueryRow(
			`SELECT count(*) FROM sqlite_master WHERE name = ?`, table).Scan(&n)
		if err != nil {
			t.Fatalf("probing for %s: %v", table, err)
		}
		if n == 0 {
			t.Errorf("table %s missing after migrations", table)
		}
	}
}

func TestMigrationsSeedConfigDefaults(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	cases := map[string]int{
		"compact_threshold":            50,
		"context_pressure_notice_pct":  50,
		"context_pressure_warning_pct": 70,
		"context_pressure_urgent_pct":  85,
		"context_window_size":          200000,
	}
	for key, want := range cases {
		if got := db.Config().GetInt(ctx, key, -1); got != want {
			t.Errorf("config %s = %d, want %d", key, got, want)
		}
	}
}

func TestReopenExistingDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.db")
	ctx := context.Background()

	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := db.Sessions().Create(ctx, "agent-a", dir); err != nil {
		t.Fatalf("creating session: %v", err)
	}
	db.Close()

	db2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer db2.Close()
	id, err := db2.Sessions().GetOpenSessionID(ctx)
	if err != nil {
		t.Fatalf("reading open session: %v", err)
	}
	if id == "" {
		t.Fatal("open session lost across reopen")
	}
}
