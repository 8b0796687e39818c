package maintenance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// exportTables is the entity set that round-trips through export.json.
// Bookkeeping rows (schema_meta, session_bytes, snapshot_cache, locks)
// stay behind: they are process- or machine-scoped.
var exportTables = []string{
	"sessions", "changes", "decisions", "conventions", "tasks",
	"file_notes", "milestones", "scheduled_events", "agents",
	"broadcasts", "pending_work", "checkpoints", "handoffs", "config",
}

// Export writes every exportable table as generic row maps to destPath
// (a single JSON document keyed by table name).
func (e *Engine) Export(ctx context.Context, destPath string) (map[string]int, error) {
	doc := map[string][]map[string]any{}
	counts := map[string]int{}

	for _, table := range exportTables {
		rows, err := e.db.Raw().QueryContext(ctx, `SELECT * FROM `+table)
		if err != nil {
			return nil, fmt.Errorf("exporting %s: %w", table, err)
		}
		tableRows, err := genericRows(rows)
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("exporting %s: %w", table, err)
		}
		doc[table] = tableRows
		counts[table] = len(tableRows)
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding export: %w", err)
	}
	tmp := destPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return nil, fmt.Errorf("writing export: %w", err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("renaming export into place: %w", err)
	}
	return counts, nil
}

// Import merges rows from an export document into the live database.
// Existing rows win on primary-key conflict except conventions, whose
// uniqueness is by exact rule text (the unique index makes the insert a
// no-op on duplicates either way).
func (e *Engine) Import(ctx context.Context, srcPath string) (map[string]int, error) {
	b, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, fmt.Errorf("reading import file: %w", err)
	}
	var doc map[string][]map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parsing import file: %w", err)
	}

	counts := map[string]int{}
	err = e.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range exportTables {
			rows, ok := doc[table]
			if !ok {
				continue
			}
			for _, row := range rows {
				inserted, err := insertGenericRow(ctx, tx, table, row)
				if err != nil {
					return fmt.Errorf("importing into %s: %w", table, err)
				}
				if inserted {
					counts[table]++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func genericRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := map[string]any{}
		for i, c := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[c] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func insertGenericRow(ctx context.Context, tx *sql.Tx, table string, row map[string]any) (bool, error) {
	if len(row) == 0 {
		return false, nil
	}
	cols := make([]string, 0, len(row))
	placeholders := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	for c, v := range row {
		cols = append(cols, c)
		placeholders = append(placeholders, "?")
		// JSON numbers arrive as float64; integral columns tolerate
		// them, but epoch-ms values lose nothing going through int64.
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			v = int64(f)
		}
		args = append(args, v)
	}
	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s(%s) VALUES (%s)`,
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
