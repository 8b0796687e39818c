package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// entityTables is every table counted by Stats and wiped by
// ClearAllData. schema_meta stays: the schema itself survives a clear.
var entityTables = []string{
	"sessions", "changes", "decisions", "conventions", "tasks",
	"file_notes", "milestones", "scheduled_events", "agents",
	"broadcasts", "file_locks", "pending_work", "checkpoints",
	"session_bytes", "snapshot_cache", "handoffs",
}

// Stats returns per-table row counts.
func (d *DB) Stats(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	for _, table := range entityTables {
		var n int
		if err := d.sql.QueryRowContext(ctx, `SELECT count(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

// ClearAllData deletes every row from every entity table in one
// transaction. The config table and schema_meta survive: tunables and
// the schema version are not project memory.
func (d *DB) ClearAllData(ctx context.Context) error {
	return d.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range entityTables {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}
		return nil
	})
}
