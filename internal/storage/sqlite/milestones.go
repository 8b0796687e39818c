package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keggan-std/engramd/internal/types"
)

// Milestones is the repository for notable points in project history.
type Milestones struct{ db *DB }

func (d *DB) Milestones() *Milestones { return &Milestones{db: d} }

// Create records a milestone.
func (r *Milestones) Create(ctx context.Context, title, description, version string, tags []string, sessionID string) (*types.Milestone, error) {
	id := newID("milestone")
	ts := nowISO()
	var sid sql.NullString
	if sessionID != "" {
		sid = sql.NullString{String: sessionID, Valid: true}
	}
	_, err := r.db.sql.ExecContext(ctx,
		`INSERT INTO milestones(id, session_id, timestamp, title, description, version, tags) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sid, ts, title, nullIfEmpty(description), nullIfEmpty(version), encodeArray(tags),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting milestone: %w", err)
	}
	m := &types.Milestone{ID: id, Timestamp: ts, Title: title, Tags: tags}
	if description != "" {
		m.Description = &description
	}
	if version != "" {
		m.Version = &version
	}
	if sessionID != "" {
		m.SessionID = &sessionID
	}
	return m, nil
}

// GetFiltered returns milestones newest first, up to limit (capped at 100).
func (r *Milestones) GetFiltered(ctx context.Context, limit int) ([]*types.Milestone, error) {
	limit = clampLimit(limit, 20)
	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT id, session_id, timestamp, title, description, version, tags FROM milestones ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing milestones: %w", err)
	}
	defer rows.Close()

	var out []*types.Milestone
	for rows.Next() {
		var m types.Milestone
		var sid, description, version sql.NullString
		var tags string
		if err := rows.Scan(&m.ID, &sid, &m.Timestamp, &m.Title, &description, &version, &tags); err != nil {
			return nil, fmt.Errorf("scanning milestone: %w", err)
		}
		m.SessionID = ptrOrNil(sid)
		m.Description = ptrOrNil(description)
		m.Version = ptrOrNil(version)
		m.Tags = decodeArray(tags)
		out = append(out, &m)
	}
	return out, rows.Err()
}
