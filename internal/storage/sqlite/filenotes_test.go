package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keggan-std/engramd/internal/types"
)

func TestUpsertPreservesOmittedFields(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.FileNotes().Upsert(ctx, "src/x.ts", "", FileNotePatch{Purpose: strPtr("p")}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	note, err := db.FileNotes().Upsert(ctx, "src/x.ts", "", FileNotePatch{Complexity: strPtr("moderate")})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if note.Purpose == nil || *note.Purpose != "p" {
		t.Fatalf("purpose = %v, want p (omitted field must be preserved)", note.Purpose)
	}
	if note.Complexity == nil || *note.Complexity != "moderate" {
		t.Fatalf("complexity = %v, want moderate", note.Complexity)
	}
}

func TestUpsertNormalizesPath(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.FileNotes().Upsert(ctx, "./src/y.ts/", "", FileNotePatch{Purpose: strPtr("p")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	note, err := db.FileNotes().Get(ctx, t.TempDir(), "src/y.ts")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if note == nil {
		t.Fatal("note not found under normalized path")
	}
	if note.FilePath != "src/y.ts" {
		t.Fatalf("stored path = %s, want src/y.ts", note.FilePath)
	}
}

func TestUpsertBatchAtomic(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	notes, err := db.FileNotes().UpsertBatch(ctx, "", map[string]FileNotePatch{
		"a.go": {Purpose: strPtr("a")},
		"b.go": {Purpose: strPtr("b")},
	})
	if err != nil {
		t.Fatalf("batch upsert: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("upserted %d notes, want 2", len(notes))
	}
}

func writeProjectFile(t *testing.T, root, rel, contents string) string {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return full
}

func TestStalenessBands(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	root := t.TempDir()

	t.Run("high when mtime and hash match", func(t *testing.T) {
		full := writeProjectFile(t, root, "src/fresh.go", "package src")
		info, _ := os.Stat(full)
		mtime := info.ModTime().UTC().UnixMilli()
		hash, _ := HashFileContents(full)
		if _, err := db.FileNotes().Upsert(ctx, "src/fresh.go", "", FileNotePatch{FileMtime: &mtime, ContentHash: &hash}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		note, err := db.FileNotes().Get(ctx, root, "src/fresh.go")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if note.Confidence != types.StalenessHigh {
			t.Fatalf("confidence = %s, want high", note.Confidence)
		}
	})

	t.Run("stale when hash differs at same mtime", func(t *testing.T) {
		full := writeProjectFile(t, root, "src/sneaky.go", "package src")
		info, _ := os.Stat(full)
		mtime := info.ModTime().UTC().UnixMilli()
		oldHash := "deadbeef"
		if _, err := db.FileNotes().Upsert(ctx, "src/sneaky.go", "", FileNotePatch{FileMtime: &mtime, ContentHash: &oldHash}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		note, err := db.FileNotes().Get(ctx, root, "src/sneaky.go")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if note.Confidence != types.StalenessStale {
			t.Fatalf("confidence = %s, want stale (content changed, 0h drift)", note.Confidence)
		}
	})

	t.Run("medium within 24h drift", func(t *testing.T) {
		full := writeProjectFile(t, root, "src/recent.go", "package src")
		stored := time.Now().Add(-2 * time.Hour).UTC().UnixMilli()
		if _, err := db.FileNotes().Upsert(ctx, "src/recent.go", "", FileNotePatch{FileMtime: &stored}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		_ = full
		note, err := db.FileNotes().Get(ctx, root, "src/recent.go")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if note.Confidence != types.StalenessMedium {
			t.Fatalf("confidence = %s, want medium", note.Confidence)
		}
		if note.StalenessHours <= 0 || note.StalenessHours > 24 {
			t.Fatalf("staleness_hours = %f, want (0, 24]", note.StalenessHours)
		}
	})

	t.Run("stale past 24h drift", func(t *testing.T) {
		writeProjectFile(t, root, "src/old.go", "package src")
		stored := time.Now().Add(-48 * time.Hour).UTC().UnixMilli()
		if _, err := db.FileNotes().Upsert(ctx, "src/old.go", "", FileNotePatch{FileMtime: &stored}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		note, err := db.FileNotes().Get(ctx, root, "src/old.go")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if note.Confidence != types.StalenessStale {
			t.Fatalf("confidence = %s, want stale", note.Confidence)
		}
		if note.StalenessHours < 47 || note.StalenessHours > 49 {
			t.Fatalf("staleness_hours = %f, want ~48", note.StalenessHours)
		}
	})

	t.Run("unknown when file missing", func(t *testing.T) {
		mtime := time.Now().UTC().UnixMilli()
		if _, err := db.FileNotes().Upsert(ctx, "src/ghost.go", "", FileNotePatch{FileMtime: &mtime}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		note, err := db.FileNotes().Get(ctx, root, "src/ghost.go")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if note.Confidence != types.StalenessUnknown {
			t.Fatalf("confidence = %s, want unknown", note.Confidence)
		}
	})

	t.Run("unknown when mtime unrecorded", func(t *testing.T) {
		writeProjectFile(t, root, "src/bare.go", "package src")
		if _, err := db.FileNotes().Upsert(ctx, "src/bare.go", "", FileNotePatch{Purpose: strPtr("p")}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		note, err := db.FileNotes().Get(ctx, root, "src/bare.go")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if note.Confidence != types.StalenessUnknown {
			t.Fatalf("confidence = %s, want unknown", note.Confidence)
		}
	})
}

func TestBranchWarning(t *testing.T) {
	n := &types.FileNote{FilePath: "src/a.go", GitBranch: strPtr("feature/x")}
	root := t.TempDir()
	writeProjectFile(t, root, "src/a.go", "package src")
	mtime := time.Now().UTC().UnixMilli()
	n.FileMtime = &mtime

	enrichStaleness(n, root, "main")
	if n.BranchWarning == "" {
		t.Fatal("expected a branch warning when recorded branch differs")
	}

	n.BranchWarning = ""
	enrichStaleness(n, root, "feature/x")
	if n.BranchWarning != "" {
		t.Fatalf("unexpected branch warning on same branch: %s", n.BranchWarning)
	}
}

func TestDependencyMap(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.FileNotes().Upsert(ctx, "a.go", "", FileNotePatch{
		Dependencies: []string{"b.go"}, HasDependencies: true,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := db.FileNotes().Upsert(ctx, "plain.go", "", FileNotePatch{Purpose: strPtr("no deps")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	m, err := db.FileNotes().DependencyMap(ctx)
	if err != nil {
		t.Fatalf("dependency map: %v", err)
	}
	if len(m) != 1 {
		t.Fatalf("map has %d entries, want 1", len(m))
	}
	if deps := m["a.go"]["dependencies"]; len(deps) != 1 || deps[0] != "b.go" {
		t.Fatalf("a.go dependencies = %v, want [b.go]", deps)
	}
}
