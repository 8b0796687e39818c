package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keggan-std/engramd/internal/types"
)

// PendingWorkRepo tracks work an agent has announced via begin_work.
// Rows auto-close when a change for any listed file is recorded (see
// closePendingWorkForFilesTx, invoked from Changes.RecordBulk).
type PendingWorkRepo struct{ db *DB }

func (d *DB) PendingWork() *PendingWorkRepo { return &PendingWorkRepo{db: d} }

// Begin records a new pending-work row for agentID covering files.
func (r *PendingWorkRepo) Begin(ctx context.Context, agentID, sessionID, description string, files []string) (*types.PendingWork, error) {
	id := newID("work")
	now := nowMS()
	normalized := make([]string, 0, len(files))
	for _, f := range files {
		normalized = append(normalized, normalizePath(f))
	}
	var sid sql.NullString
	if sessionID != "" {
		sid = sql.NullString{String: sessionID, Valid: true}
	}
	_, err := r.db.sql.ExecContext(ctx,
		`INSERT INTO pending_work(id, agent_id, session_id, description, files, started_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, 'pending')`,
		id, agentID, sid, description, encodeArray(normalized), now,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting pending work: %w", err)
	}
	w := &types.PendingWork{ID: id, AgentID: agentID, Description: description, Files: normalized, StartedAt: now, Status: types.PendingWorkPending}
	if sessionID != "" {
		w.SessionID = &sessionID
	}
	return w, nil
}

// List returns pending-work rows, optionally filtered by status.
func (r *PendingWorkRepo) List(ctx context.Context, status string) ([]*types.PendingWork, error) {
	query := `SELECT id, agent_id, session_id, description, files, started_at, status FROM pending_work`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending work: %w", err)
	}
	defer rows.Close()

	var out []*types.PendingWork
	for rows.Next() {
		var w types.PendingWork
		var sid sql.NullString
		var files string
		if err := rows.Scan(&w.ID, &w.AgentID, &sid, &w.Description, &files, &w.StartedAt, &w.Status); err != nil {
			return nil, fmt.Errorf("scanning pending work: %w", err)
		}
		w.SessionID = ptrOrNil(sid)
		w.Files = decodeArray(files)
		out = append(out, &w)
	}
	return out, rows.Err()
}

// Abandon marks a pending-work row abandoned without completing it.
func (r *PendingWorkRepo) Abandon(ctx context.Context, id string) error {
	_, err := r.db.sql.ExecContext(ctx,
		`UPDATE pending_work SET status = 'abandoned' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("abandoning pending work %s: %w", id, err)
	}
	return nil
}

// closePendingWorkForFilesTx transitions every pending row whose files
// array shares an element with changedPaths to completed. Best-effort
// in spirit but runs inside the caller's change-recording transaction
// so the transition is atomic with the change insert.
func closePendingWorkForFilesTx(ctx context.Context, tx *sql.Tx, changedPaths []string) error {
	if len(changedPaths) == 0 {
		return nil
	}
	rows, err := tx.QueryContext(ctx, `SELECT id, files FROM pending_work WHERE status = 'pending'`)
	if err != nil {
		return fmt.Errorf("listing pending work for auto-close: %w", err)
	}

	changed := map[string]bool{}
	for _, p := range changedPaths {
		changed[p] = true
	}

	var toClose []string
	for rows.Next() {
		var id, filesRaw string
		if err := rows.Scan(&id, &filesRaw); err != nil {
			rows.Close()
			return fmt.Errorf("scanning pending work: %w", err)
		}
		for _, f := range decodeArray(filesRaw) {
			if changed[f] {
				toClose = append(toClose, id)
				break
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range toClose {
		if _, err := tx.ExecContext(ctx, `UPDATE pending_work SET status = 'completed' WHERE id = ?`, id); err != nil {
			return fmt.Errorf("completing pending work %s: %w", id, err)
		}
	}
	return nil
}
