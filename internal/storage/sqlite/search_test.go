package sqlite

import (
	"context"
	"strings"
	"testing"

	"github.com/keggan-std/engramd/internal/types"
)

func TestEscapeFTSQuery(t *testing.T) {
	cases := map[string]string{
		"hello world":  `"hello" "world"`,
		`a AND b OR c`: `"a" "AND" "b" "OR" "c"`,
	}
	for in, want := range cases {
		if got := escapeFTSQuery(in); got != want {
			t.Errorf("escapeFTSQuery(%q) = %q, want %q", in, got, want)
		}
	}
	// The grammar characters must end up inside quotes, not as operators.
	got := escapeFTSQuery(`title:foo NEAR(bar)`)
	if !strings.HasPrefix(got, `"`) || strings.Contains(got, `" NEAR(`) {
		t.Errorf("grammar not neutralized: %q", got)
	}
}

func seedSearchData(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	if _, err := db.Decisions().Create(ctx, DecisionInput{Decision: "use sqlite WAL journaling"}, ""); err != nil {
		t.Fatalf("seeding decision: %v", err)
	}
	if _, err := db.Changes().RecordBulk(ctx, []ChangeInput{
		{FilePath: "internal/db.go", ChangeType: types.ChangeModified, Description: "switch journaling to WAL"},
		{FilePath: "cmd/main.go", ChangeType: types.ChangeCreated, Description: "entry point"},
	}, ""); err != nil {
		t.Fatalf("seeding changes: %v", err)
	}
	if _, err := db.Tasks().Create(ctx, TaskInput{Title: "document WAL tradeoffs"}, ""); err != nil {
		t.Fatalf("seeding task: %v", err)
	}
}

func TestSearchRankedAndGrouped(t *testing.T) {
	db := setupTestDB(t)
	seedSearchData(t, db)

	grouped, err := db.Search().Run(context.Background(), SearchParams{Query: "WAL journaling", Limit: 10})
	if err != nil {
		t.Fatalf("searching: %v", err)
	}
	if len(grouped["decisions"]) == 0 {
		t.Fatal("no decision hits for WAL journaling")
	}
	if len(grouped["changes"]) == 0 {
		t.Fatal("no change hits for WAL journaling")
	}

	// Within each group, rank ascending (more negative = better).
	for source, hits := range grouped {
		for i := 1; i < len(hits); i++ {
			if hits[i-1].Rank > hits[i].Rank {
				t.Fatalf("%s hits out of rank order: %f then %f", source, hits[i-1].Rank, hits[i].Rank)
			}
		}
	}
}

func TestSearchScopeRestriction(t *testing.T) {
	db := setupTestDB(t)
	seedSearchData(t, db)

	grouped, err := db.Search().Run(context.Background(), SearchParams{
		Query: "WAL", Scopes: []string{"decisions"}, Limit: 10,
	})
	if err != nil {
		t.Fatalf("searching: %v", err)
	}
	if len(grouped["changes"]) != 0 {
		t.Fatal("scope restriction leaked change hits")
	}
	if len(grouped["decisions"]) == 0 {
		t.Fatal("scoped search lost decision hits")
	}
}

func TestSearchSnippet(t *testing.T) {
	db := setupTestDB(t)
	seedSearchData(t, db)

	grouped, err := db.Search().Run(context.Background(), SearchParams{
		Query: "journaling", Scopes: []string{"decisions"}, Limit: 10, ContextChars: 10,
	})
	if err != nil {
		t.Fatalf("searching: %v", err)
	}
	hits := grouped["decisions"]
	if len(hits) == 0 {
		t.Fatal("no hits")
	}
	if hits[0].Snippet == "" {
		t.Fatal("context_chars > 0 should attach a snippet")
	}
	if len(hits[0].Snippet) > 10 {
		t.Fatalf("snippet length %d exceeds context_chars", len(hits[0].Snippet))
	}
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.Search().Run(context.Background(), SearchParams{Query: "   "}); err == nil {
		t.Fatal("blank query should be a validation error")
	}
}

func TestSearchUnknownScopeRejected(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.Search().Run(context.Background(), SearchParams{Query: "x", Scopes: []string{"nope"}}); err == nil {
		t.Fatal("unknown scope should be a validation error")
	}
}
