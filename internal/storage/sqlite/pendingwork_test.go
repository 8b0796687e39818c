package sqlite

import (
	"context"
	"testing"

	"github.com/keggan-std/engramd/internal/types"
)

func TestPendingWorkAutoClose(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	work, err := db.PendingWork().Begin(ctx, "agent-a", "", "refactor parser", []string{"src/a.go", "src/b.go"})
	if err != nil {
		t.Fatalf("beginning work: %v", err)
	}
	unrelated, err := db.PendingWork().Begin(ctx, "agent-b", "", "docs pass", []string{"README.md"})
	if err != nil {
		t.Fatalf("beginning unrelated work: %v", err)
	}

	if _, err := db.Changes().RecordBulk(ctx, []ChangeInput{
		{FilePath: "src/a.go", ChangeType: types.ChangeModified, Description: "refactored"},
	}, ""); err != nil {
		t.Fatalf("recording change: %v", err)
	}

	rows, err := db.PendingWork().List(ctx, "")
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	statuses := map[string]string{}
	for _, w := range rows {
		statuses[w.ID] = w.Status
	}
	if statuses[work.ID] != types.PendingWorkCompleted {
		t.Fatalf("overlapping work status = %s, want completed", statuses[work.ID])
	}
	if statuses[unrelated.ID] != types.PendingWorkPending {
		t.Fatalf("unrelated work status = %s, want pending", statuses[unrelated.ID])
	}
}

func TestPendingWorkAbandon(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	work, err := db.PendingWork().Begin(ctx, "agent-a", "", "spike", []string{"x.go"})
	if err != nil {
		t.Fatalf("beginning work: %v", err)
	}
	if err := db.PendingWork().Abandon(ctx, work.ID); err != nil {
		t.Fatalf("abandoning: %v", err)
	}
	rows, err := db.PendingWork().List(ctx, types.PendingWorkAbandoned)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != work.ID {
		t.Fatalf("abandoned rows = %+v, want just the spike", rows)
	}
}
