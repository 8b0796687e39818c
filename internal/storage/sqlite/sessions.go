package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keggan-std/engramd/internal/types"
)

// Sessions is the repository for the session entity. Invariant: at most
// one open session per database at a time; Create auto-closes any
// still-open session before opening the new one.
type Sessions struct{ db *DB }

func (d *DB) Sessions() *Sessions { return &Sessions{db: d} }

// Create opens a new session, auto-closing any currently open session
// first (the "current session" invariant in the data model).
func (r *Sessions) Create(ctx context.Context, agentName, projectRoot string) (*types.Session, error) {
	var session *types.Session
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		openID, err := getOpenSessionIDTx(ctx, tx)
		if err != nil {
			return err
		}
		if openID != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ?`, nowISO(), openID); err != nil {
				return fmt.Errorf("auto-closing prior session %s: %w", openID, err)
			}
		}

		id := newID("session")
		ts := nowISO()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions(id, started_at, agent_name, project_root, tags) VALUES (?, ?, ?, ?, '[]')`,
			id, ts, agentName, projectRoot,
		); err != nil {
			return fmt.Errorf("inserting session: %w", err)
		}
		session = &types.Session{ID: id, StartedAt: ts, AgentName: agentName, ProjectRoot: projectRoot}
		return nil
	})
	return session, err
}

// Close ends a session with an explicit summary and tags.
func (r *Sessions) Close(ctx context.Context, id, summary string, tags []string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET ended_at = ?, summary = ?, tags = ? WHERE id = ? AND ended_at IS NULL`,
			nowISO(), summary, encodeArray(tags), id,
		)
		if err != nil {
			return fmt.Errorf("closing session %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("session %s not found or already closed", id)
		}
		return nil
	})
}

// GetOpenSessionID returns the id of the currently open session, or "".
func (r *Sessions) GetOpenSessionID(ctx context.Context) (string, error) {
	var id string
	err := r.db.sql.QueryRowContext(ctx, `SELECT id FROM sessions WHERE ended_at IS NULL ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

func getOpenSessionIDTx(ctx context.Context, tx *sql.Tx) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM sessions WHERE ended_at IS NULL ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

// GetLastCompleted returns the most recently closed session, if any.
func (r *Sessions) GetLastCompleted(ctx context.Context) (*types.Session, error) {
	row := r.db.sql.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, summary, agent_name, project_root, tags
		 FROM sessions WHERE ended_at IS NOT NULL ORDER BY ended_at DESC LIMIT 1`)
	return scanSession(row)
}

// Get returns a session by id.
func (r *Sessions) Get(ctx context.Context, id string) (*types.Session, error) {
	row := r.db.sql.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, summary, agent_name, project_root, tags FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// List returns sessions newest-first, optionally filtered by agent name.
func (r *Sessions) List(ctx context.Context, limit, offset int, agentName string) ([]*types.Session, error) {
	limit = clampLimit(limit, 20)
	query := `SELECT id, started_at, ended_at, summary, agent_name, project_root, tags FROM sessions`
	args := []any{}
	if agentName != "" {
		query += ` WHERE agent_name = ?`
		args = append(args, agentName)
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		s, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var s types.Session
	var ended, summary sql.NullString
	var tags string
	if err := row.Scan(&s.ID, &s.StartedAt, &ended, &summary, &s.AgentName, &s.ProjectRoot, &tags); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	s.EndedAt = ptrOrNil(ended)
	s.Summary = ptrOrNil(summary)
	s.Tags = decodeArray(tags)
	return &s, nil
}

func scanSessionRows(rows *sql.Rows) (*types.Session, error) {
	return scanSession(rows)
}

// clampLimit caps listing limits at 100, defaulting when unset.
func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 100 {
		return 100
	}
	return limit
}
