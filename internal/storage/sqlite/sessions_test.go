package sqlite

import (
	"context"
	"testing"
)

func TestAtMostOneOpenSession(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first, err := db.Sessions().Create(ctx, "agent-a", "/proj")
	if err != nil {
		t.Fatalf("creating first session: %v", err)
	}
	second, err := db.Sessions().Create(ctx, "agent-b", "/proj")
	if err != nil {
		t.Fatalf("creating second session: %v", err)
	}

	openID, err := db.Sessions().GetOpenSessionID(ctx)
	if err != nil {
		t.Fatalf("reading open session: %v", err)
	}
	if openID != second.ID {
		t.Fatalf("open session = %s, want %s", openID, second.ID)
	}

	closed, err := db.Sessions().Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("reading first session: %v", err)
	}
	if closed.EndedAt == nil {
		t.Fatal("first session not auto-closed when second opened")
	}
}

func TestCloseSession(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	s, err := db.Sessions().Create(ctx, "agent-a", "/proj")
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	if err := db.Sessions().Close(ctx, s.ID, "did things", []string{"feature"}); err != nil {
		t.Fatalf("closing session: %v", err)
	}

	// Double close is an error: the session is already ended.
	if err := db.Sessions().Close(ctx, s.ID, "again", nil); err == nil {
		t.Fatal("closing an ended session should fail")
	}

	last, err := db.Sessions().GetLastCompleted(ctx)
	if err != nil {
		t.Fatalf("reading last completed: %v", err)
	}
	if last == nil || last.ID != s.ID {
		t.Fatalf("last completed = %+v, want id %s", last, s.ID)
	}
	if last.Summary == nil || *last.Summary != "did things" {
		t.Fatalf("summary not stored: %+v", last.Summary)
	}
	if len(last.Tags) != 1 || last.Tags[0] != "feature" {
		t.Fatalf("tags = %v, want [feature]", last.Tags)
	}
}

func TestSessionListFilters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, agent := range []string{"a", "b", "a"} {
		s, err := db.Sessions().Create(ctx, agent, "/proj")
		if err != nil {
			t.Fatalf("creating session: %v", err)
		}
		if err := db.Sessions().Close(ctx, s.ID, "done", nil); err != nil {
			t.Fatalf("closing session: %v", err)
		}
	}

	all, err := db.Sessions().List(ctx, 10, 0, "")
	if err != nil {
		t.Fatalf("listing sessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("listed %d sessions, want 3", len(all))
	}

	onlyA, err := db.Sessions().List(ctx, 10, 0, "a")
	if err != nil {
		t.Fatalf("listing agent a: %v", err)
	}
	if len(onlyA) != 2 {
		t.Fatalf("listed %d sessions for agent a, want 2", len(onlyA))
	}
}
