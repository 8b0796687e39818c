// Package maintenance implements the compaction and backup engine:
// safe file-copy backups with pruning, session-bounded change
// summarization with VACUUM, and guarded restore.
package maintenance

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/keggan-std/engramd/internal/apperr"
	"github.com/keggan-std/engramd/internal/storage/sqlite"
)

// MaxDefaultBackups is how many backups the default directory keeps
// before pruning by mtime.
const MaxDefaultBackups = 10

// Engine owns the database handle and the on-disk layout for backups.
type Engine struct {
	db        *sqlite.DB
	backupDir string
}

// New builds an engine writing default backups under backupDir.
func New(db *sqlite.DB, backupDir string) *Engine {
	return &Engine{db: db, backupDir: backupDir}
}

// Backup safe-copies the live database file to destPath, or to the
// default directory with a timestamped name when destPath is empty.
// The copy lands under a temporary name and is renamed into place so a
// crash mid-copy never leaves a plausible-looking partial backup.
func (e *Engine) Backup(ctx context.Context, destPath string) (string, error) {
	pruning := false
	if destPath == "" {
		if err := os.MkdirAll(e.backupDir, 0o755); err != nil {
			return "", fmt.Errorf("creating backup directory: %w", err)
		}
		ts := time.Now().UTC().Format("2006-01-02T15-04-05")
		destPath = filepath.Join(e.backupDir, fmt.Sprintf("memory-%s.db", ts))
		pruning = true
	}

	// WAL checkpoint first so the single-file copy holds every
	// committed write.
	if _, err := e.db.Raw().ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return "", fmt.Errorf("checkpointing WAL before backup: %w", err)
	}

	if err := safeCopy(e.db.Path(), destPath); err != nil {
		return "", err
	}

	if pruning {
		if err := e.pruneBackups(); err != nil {
			return destPath, err
		}
	}
	return destPath, nil
}

// safeCopy copies src to dest atomically: write to dest.tmp, fsync,
// rename over dest, fsync the directory.
func safeCopy(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source %s: %w", src, err)
	}
	defer in.Close()

	tmp := dest + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copying to %s: %w", tmp, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s into place: %w", tmp, err)
	}
	syncDir(filepath.Dir(dest))
	return nil
}

// ListBackups returns the default directory's backups, newest first.
func (e *Engine) ListBackups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(e.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var out []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "memory-") || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, BackupInfo{
			Path:    filepath.Join(e.backupDir, entry.Name()),
			SizeKB:  info.Size() / 1024,
			ModTime: info.ModTime().UTC().Format(time.RFC3339),
			mod:     info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].mod.After(out[j].mod) })
	return out, nil
}

// BackupInfo describes one backup file.
type BackupInfo struct {
	Path    string `json:"path"`
	SizeKB  int64  `json:"size_kb"`
	ModTime string `json:"mod_time"`

	mod time.Time
}

// pruneBackups deletes the oldest backups past MaxDefaultBackups.
func (e *Engine) pruneBackups() error {
	backups, err := e.ListBackups()
	if err != nil {
		return err
	}
	for _, b := range backups[min(len(backups), MaxDefaultBackups):] {
		if err := os.Remove(b.Path); err != nil {
			return fmt.Errorf("pruning backup %s: %w", b.Path, err)
		}
	}
	return nil
}

// RestoreConfirmToken must be supplied verbatim before Restore touches
// the live database.
const RestoreConfirmToken = "yes-restore"

// Restore overwrites the live database file with srcPath after taking a
// safety backup. The caller must restart the server afterwards; the
// open handle still points at the pre-restore pages and no hot reload
// is attempted.
func (e *Engine) Restore(ctx context.Context, srcPath, confirm string) (safetyBackup string, err error) {
	if confirm != RestoreConfirmToken {
		return "", apperr.Validation("restore requires confirm=%q", RestoreConfirmToken)
	}
	if _, err := os.Stat(srcPath); err != nil {
		return "", apperr.Validation("restore source %s not readable: %v", srcPath, err)
	}

	safetyBackup, err = e.Backup(ctx, "")
	if err != nil {
		return "", fmt.Errorf("taking safety backup before restore: %w", err)
	}

	if err := safeCopy(srcPath, e.db.Path()); err != nil {
		return safetyBackup, fmt.Errorf("overwriting live database: %w", err)
	}
	// Drop any stale WAL/SHM so the restored main file is authoritative
	// at next open.
	os.Remove(e.db.Path() + "-wal")
	os.Remove(e.db.Path() + "-shm")
	return safetyBackup, nil
}
