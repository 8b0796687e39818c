package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keggan-std/engramd/internal/types"
)

// Changes is the repository for the change entity: append-only records
// that a file was altered, attributed to the session that recorded them.
type Changes struct{ db *DB }

func (d *DB) Changes() *Changes { return &Changes{db: d} }

// ChangeInput is one file-change record as supplied by record_change.
type ChangeInput struct {
	FilePath    string `json:"file_path"`
	ChangeType  string `json:"change_type"`
	Description string `json:"description"`
	DiffSummary string `json:"diff_summary,omitempty"`
	ImpactScope string `json:"impact_scope,omitempty"`
}

// RecordBulk inserts every change in items inside one transaction, then
// auto-closes any pending_work rows whose files overlap the changed
// paths. Returns the inserted rows.
func (r *Changes) RecordBulk(ctx context.Context, items []ChangeInput, sessionID string) ([]*types.Change, error) {
	var inserted []*types.Change
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		ts := nowISO()
		var changedFiles []string
		for _, item := range items {
			id := newID("change")
			path := normalizePath(item.FilePath)
			impact := item.ImpactScope
			if impact == "" {
				impact = types.ImpactLocal
			}
			var sid sql.NullString
			if sessionID != "" {
				sid = sql.NullString{String: sessionID, Valid: true}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO changes(id, session_id, timestamp, file_path, change_type, description, diff_summary, impact_scope)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				id, sid, ts, path, item.ChangeType, item.Description, nullIfEmpty(item.DiffSummary), impact,
			); err != nil {
				return fmt.Errorf("inserting change for %s: %w", path, err)
			}
			c := &types.Change{ID: id, Timestamp: ts, FilePath: path, ChangeType: item.ChangeType, Description: item.Description, ImpactScope: impact}
			if sessionID != "" {
				c.SessionID = &sessionID
			}
			inserted = append(inserted, c)
			changedFiles = append(changedFiles, path)
		}
		return closePendingWorkForFilesTx(ctx, tx, changedFiles)
	})
	return inserted, err
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// GetByFile returns the n most recent changes to a file, newest first.
func (r *Changes) GetByFile(ctx context.Context, path string, n int) ([]*types.Change, error) {
	n = clampLimit(n, 20)
	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT id, session_id, timestamp, file_path, change_type, description, diff_summary, impact_scope
		 FROM changes WHERE file_path = ? ORDER BY timestamp DESC LIMIT ?`, normalizePath(path), n)
	if err != nil {
		return nil, fmt.Errorf("getting changes for %s: %w", path, err)
	}
	defer rows.Close()
	return scanChanges(rows)
}

// GetSince returns every change recorded at or after isoTs.
func (r *Changes) GetSince(ctx context.Context, isoTs string) ([]*types.Change, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT id, session_id, timestamp, file_path, change_type, description, diff_summary, impact_scope
		 FROM changes WHERE timestamp >= ? ORDER BY timestamp ASC`, isoTs)
	if err != nil {
		return nil, fmt.Errorf("getting changes since %s: %w", isoTs, err)
	}
	defer rows.Close()
	return scanChanges(rows)
}

// GetMostChanged returns the n files with the most recorded changes.
func (r *Changes) GetMostChanged(ctx context.Context, n int) (map[string]int, error) {
	n = clampLimit(n, 20)
	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT file_path, COUNT(*) c FROM changes GROUP BY file_path ORDER BY c DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("getting most-changed files: %w", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var path string
		var count int
		if err := rows.Scan(&path, &count); err != nil {
			return nil, err
		}
		out[path] = count
	}
	return out, rows.Err()
}

func scanChanges(rows *sql.Rows) ([]*types.Change, error) {
	var out []*types.Change
	for rows.Next() {
		var c types.Change
		var sid, diff sql.NullString
		if err := rows.Scan(&c.ID, &sid, &c.Timestamp, &c.FilePath, &c.ChangeType, &c.Description, &diff, &c.ImpactScope); err != nil {
			return nil, fmt.Errorf("scanning change: %w", err)
		}
		c.SessionID = ptrOrNil(sid)
		c.DiffSummary = ptrOrNil(diff)
		out = append(out, &c)
	}
	return out, rows.Err()
}
