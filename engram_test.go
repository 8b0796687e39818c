package engram

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenAndFindDatabasePath(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(root, ".engram", "memory.db")

	db, err := Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("opening: %v", err)
	}
	defer db.Close()

	nested := filepath.Join(root, "src", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if found := FindDatabasePath(nested); found != dbPath {
		t.Fatalf("FindDatabasePath = %q, want %q", found, dbPath)
	}
	if found := FindDatabasePath(t.TempDir()); found != "" {
		t.Fatalf("FindDatabasePath in empty tree = %q, want empty", found)
	}
}

func TestFacadeRepositoriesUsable(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("opening: %v", err)
	}
	defer db.Close()

	session, err := db.Sessions().Create(context.Background(), "library-user", "/proj")
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	var s *Session = session
	if s.AgentName != "library-user" {
		t.Fatalf("agent_name = %s", s.AgentName)
	}
}
