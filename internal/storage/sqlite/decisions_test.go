package sqlite

import (
	"context"
	"testing"

	"github.com/keggan-std/engramd/internal/types"
)

func TestSupersedeIntegrity(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	old, err := db.Decisions().Create(ctx, DecisionInput{Decision: "Use WAL"}, "")
	if err != nil {
		t.Fatalf("creating decision: %v", err)
	}
	replacement, err := db.Decisions().Create(ctx,
		DecisionInput{Decision: "Use WAL mode for performance", Supersedes: old.ID}, "")
	if err != nil {
		t.Fatalf("creating superseding decision: %v", err)
	}

	superseded, err := db.Decisions().GetFiltered(ctx, DecisionFilter{Status: types.DecisionSuperseded})
	if err != nil {
		t.Fatalf("listing superseded: %v", err)
	}
	if len(superseded) != 1 || superseded[0].ID != old.ID {
		t.Fatalf("superseded list = %+v, want exactly old decision", superseded)
	}
	if superseded[0].SupersededBy == nil || *superseded[0].SupersededBy != replacement.ID {
		t.Fatalf("superseded_by = %v, want %s", superseded[0].SupersededBy, replacement.ID)
	}

	active, err := db.Decisions().GetFiltered(ctx, DecisionFilter{Status: types.DecisionActive})
	if err != nil {
		t.Fatalf("listing active: %v", err)
	}
	if len(active) != 1 || active[0].ID != replacement.ID {
		t.Fatalf("active list = %+v, want exactly the replacement", active)
	}
}

func TestSupersedeMissingDecision(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Decisions().Supersede(context.Background(), "decision_missing", "decision_other"); err == nil {
		t.Fatal("superseding a missing decision should fail")
	}
}

func TestCreateBatchAtomic(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// The second item supersedes a decision that doesn't exist, so the
	// whole batch must roll back.
	_, err := db.Decisions().CreateBatch(ctx, []DecisionInput{
		{Decision: "first"},
		{Decision: "second", Supersedes: "decision_missing"},
	}, "")
	if err == nil {
		t.Fatal("batch with bad supersede should fail")
	}

	all, err := db.Decisions().GetFiltered(ctx, DecisionFilter{})
	if err != nil {
		t.Fatalf("listing decisions: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("found %d decisions after failed batch, want 0", len(all))
	}
}

func TestFindSimilar(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.Decisions().Create(ctx, DecisionInput{Decision: "adopt sqlite storage layer"}, ""); err != nil {
		t.Fatalf("creating decision: %v", err)
	}
	if _, err := db.Decisions().Create(ctx, DecisionInput{Decision: "rewrite parser in yacc"}, ""); err != nil {
		t.Fatalf("creating decision: %v", err)
	}

	similar, err := db.Decisions().FindSimilar(ctx, "should we keep the sqlite storage approach")
	if err != nil {
		t.Fatalf("finding similar: %v", err)
	}
	if len(similar) != 1 {
		t.Fatalf("found %d similar decisions, want 1", len(similar))
	}
	if similar[0].Decision != "adopt sqlite storage layer" {
		t.Fatalf("unexpected similar decision: %s", similar[0].Decision)
	}

	// A single shared token is not enough.
	none, err := db.Decisions().FindSimilar(ctx, "sqlite only")
	if err != nil {
		t.Fatalf("finding similar: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("found %d similar decisions for single-token query, want 0", len(none))
	}
}
