package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keggan-std/engramd/internal/apperr"
	"github.com/keggan-std/engramd/internal/types"
)

// Conventions is the repository for repo-wide rules whose enforcement
// can be toggled. Uniqueness is by exact rule text (idx_conventions_rule).
type Conventions struct{ db *DB }

func (d *DB) Conventions() *Conventions { return &Conventions{db: d} }

// Create inserts a convention, ignoring a duplicate exact rule text.
func (r *Conventions) Create(ctx context.Context, category, rule string, examples []string, enforced bool, sessionID string) (*types.Convention, error) {
	id := newID("convention")
	ts := nowISO()
	var sid sql.NullString
	if sessionID != "" {
		sid = sql.NullString{String: sessionID, Valid: true}
	}
	_, err := r.db.sql.ExecContext(ctx,
		`INSERT OR IGNORE INTO conventions(id, session_id, timestamp, category, rule, examples, enforced) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sid, ts, category, rule, encodeArray(examples), boolToInt(enforced),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting convention: %w", err)
	}
	c := &types.Convention{ID: id, Timestamp: ts, Category: category, Rule: rule, Examples: examples, Enforced: enforced}
	if sessionID != "" {
		c.SessionID = &sessionID
	}
	return c, nil
}

// Toggle flips a convention's enforced flag.
func (r *Conventions) Toggle(ctx context.Context, id string, enforced bool) error {
	res, err := r.db.sql.ExecContext(ctx, `UPDATE conventions SET enforced = ? WHERE id = ?`, boolToInt(enforced), id)
	if err != nil {
		return fmt.Errorf("toggling convention %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("convention %s not found", id)
	}
	return nil
}

// GetFiltered returns conventions, optionally by category, optionally
// including disabled ones (excluded by default).
func (r *Conventions) GetFiltered(ctx context.Context, category string, includeDisabled bool, limit int) ([]*types.Convention, error) {
	limit = clampLimit(limit, 20)
	query := `SELECT id, session_id, timestamp, category, rule, examples, enforced FROM conventions WHERE 1=1`
	var args []any
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	if !includeDisabled {
		query += ` AND enforced = 1`
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing conventions: %w", err)
	}
	defer rows.Close()

	var out []*types.Convention
	for rows.Next() {
		var c types.Convention
		var sid sql.NullString
		var examples string
		var enforced int
		if err := rows.Scan(&c.ID, &sid, &c.Timestamp, &c.Category, &c.Rule, &examples, &enforced); err != nil {
			return nil, fmt.Errorf("scanning convention: %w", err)
		}
		c.SessionID = ptrOrNil(sid)
		c.Examples = decodeArray(examples)
		c.Enforced = enforced != 0
		out = append(out, &c)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
