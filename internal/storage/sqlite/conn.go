// Package sqlite implements the storage engine: it opens the database
// file, enforces write-ahead journaling and foreign-key constraints,
// and exposes a transaction scope that either commits every mutation
// or rolls all of them back. Every repository in this package is a
// thin, typed accessor over this connection.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps a *sql.DB with the transaction helpers the repository layer
// depends on. It is the sole owner of the database handle; callers
// obtain repositories through its accessor methods, each defined beside
// its repository type (for example DB.Agents in agents.go).
type DB struct {
	sql  *sql.DB
	path string
}

// Open creates parent directories if needed, opens the database file
// with WAL journaling and foreign-key enforcement, and runs pending
// migrations. It is safe to call concurrently from multiple processes
// against the same path; migrations serialize via the connection's
// own locking (see RunMigrations).
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1) // SQLite: one writer connection avoids SQLITE_BUSY churn under WAL.

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("pinging database %s: %w", path, err)
	}

	if err := RunMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &DB{sql: sqlDB, path: path}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Raw exposes the underlying *sql.DB for packages (backup, VACUUM) that
// need direct access outside the repository layer's transaction scope.
func (d *DB) Raw() *sql.DB { return d.sql }

// SizeKB returns the current database file size in kilobytes.
func (d *DB) SizeKB() (int64, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		return 0, fmt.Errorf("stat database file: %w", err)
	}
	return info.Size() / 1024, nil
}

// WithTx runs fn inside a single database/sql transaction: fn's error
// rolls back, a nil return commits. The connection pool is capped at a
// single open connection (see Open), so this transaction effectively
// acquires the database's write lock for its duration; concurrent
// writers block on SQLite's busy_timeout rather than racing.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}
