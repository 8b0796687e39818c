// Package engram provides a minimal public API for embedding engramd's
// project-memory storage in other Go programs.
//
// Most integrations should talk to a running engramd over its stdio
// dispatcher instead. This package exports only the essential types and
// constructors for programs that want the storage layer in-process:
// a reporting tool reading the same memory.db, or a custom transport
// wrapping the dispatch surface.
package engram

import (
	"context"
	"os"
	"path/filepath"

	"github.com/keggan-std/engramd/internal/storage/sqlite"
	"github.com/keggan-std/engramd/internal/types"
)

// DB is the storage engine handle; repositories hang off it.
type DB = sqlite.DB

// Open opens (creating and migrating if needed) the database at dbPath.
func Open(ctx context.Context, dbPath string) (*DB, error) {
	return sqlite.Open(ctx, dbPath)
}

// FindDatabasePath walks up from dir looking for .engram/memory.db.
// Returns "" when no project memory exists on the path to the root.
func FindDatabasePath(dir string) string {
	for {
		candidate := filepath.Join(dir, ".engram", "memory.db")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Core entity types.
type (
	Session        = types.Session
	Change         = types.Change
	Decision       = types.Decision
	Convention     = types.Convention
	Task           = types.Task
	FileNote       = types.FileNote
	Milestone      = types.Milestone
	ScheduledEvent = types.ScheduledEvent
	Agent          = types.Agent
	Broadcast      = types.Broadcast
	FileLock       = types.FileLock
	PendingWork    = types.PendingWork
	Checkpoint     = types.Checkpoint
	Handoff        = types.Handoff
)
