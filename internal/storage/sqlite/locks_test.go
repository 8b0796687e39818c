package sqlite

import (
	"context"
	"testing"
)

func TestSoftLockLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	lock, err := db.FileLocks().Acquire(ctx, "src/a.go", "agent-a", "editing", 15)
	if err != nil {
		t.Fatalf("acquiring: %v", err)
	}
	if lock.ExpiresAt-lock.LockedAt != 15*60_000 {
		t.Fatalf("ttl = %dms, want 15 minutes", lock.ExpiresAt-lock.LockedAt)
	}

	active, err := db.FileLocks().GetActive(ctx, "src/a.go")
	if err != nil {
		t.Fatalf("getting active: %v", err)
	}
	if active == nil || active.AgentID != "agent-a" {
		t.Fatalf("active lock = %+v, want held by agent-a", active)
	}

	// Locks are advisory: a second acquire steals the entry.
	if _, err := db.FileLocks().Acquire(ctx, "src/a.go", "agent-b", "", 5); err != nil {
		t.Fatalf("re-acquiring: %v", err)
	}
	active, err = db.FileLocks().GetActive(ctx, "src/a.go")
	if err != nil {
		t.Fatalf("getting active after steal: %v", err)
	}
	if active.AgentID != "agent-b" {
		t.Fatalf("lock holder = %s, want agent-b", active.AgentID)
	}

	if err := db.FileLocks().Release(ctx, "src/a.go", "agent-b"); err != nil {
		t.Fatalf("releasing: %v", err)
	}
	active, err = db.FileLocks().GetActive(ctx, "src/a.go")
	if err != nil {
		t.Fatalf("getting active after release: %v", err)
	}
	if active != nil {
		t.Fatalf("lock still active after release: %+v", active)
	}
}

func TestExpiredLockInvisibleAndPurged(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.FileLocks().Acquire(ctx, "src/b.go", "agent-a", "", 10); err != nil {
		t.Fatalf("acquiring: %v", err)
	}
	if _, err := db.Raw().ExecContext(ctx, `UPDATE file_locks SET expires_at = ? WHERE file_path = 'src/b.go'`, nowMS()-1); err != nil {
		t.Fatalf("expiring: %v", err)
	}

	active, err := db.FileLocks().GetActive(ctx, "src/b.go")
	if err != nil {
		t.Fatalf("getting active: %v", err)
	}
	if active != nil {
		t.Fatalf("expired lock still visible: %+v", active)
	}

	// The next acquisition on any path purges expired rows.
	if _, err := db.FileLocks().Acquire(ctx, "src/c.go", "agent-b", "", 10); err != nil {
		t.Fatalf("acquiring another path: %v", err)
	}
	var n int
	if err := db.Raw().QueryRowContext(ctx, `SELECT count(*) FROM file_locks WHERE file_path = 'src/b.go'`).Scan(&n); err != nil {
		t.Fatalf("counting: %v", err)
	}
	if n != 0 {
		t.Fatal("expired lock not purged on next acquisition")
	}
}
