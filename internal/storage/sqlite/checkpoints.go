package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keggan-std/engramd/internal/types"
)

// Checkpoints is the repository for an agent's in-progress understanding
// snapshot. Last-wins per session: Set replaces the prior checkpoint
// rather than appending.
type Checkpoints struct{ db *DB }

func (d *DB) Checkpoints() *Checkpoints { return &Checkpoints{db: d} }

// Set replaces the checkpoint for sessionID.
func (r *Checkpoints) Set(ctx context.Context, sessionID, agentName, understanding, progress string, relevantFiles []string) (*types.Checkpoint, error) {
	var out *types.Checkpoint
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if sessionID != "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID); err != nil {
				return fmt.Errorf("clearing prior checkpoint: %w", err)
			}
		}
		id := newID("checkpoint")
		ts := nowISO()
		var sid, agent sql.NullString
		if sessionID != "" {
			sid = sql.NullString{String: sessionID, Valid: true}
		}
		if agentName != "" {
			agent = sql.NullString{String: agentName, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO checkpoints(id, session_id, agent_name, created_at, current_understanding, progress, relevant_files)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, sid, agent, ts, understanding, progress, encodeArray(relevantFiles),
		); err != nil {
			return fmt.Errorf("inserting checkpoint: %w", err)
		}
		out = &types.Checkpoint{ID: id, CreatedAt: ts, CurrentUnderstanding: understanding, Progress: progress, RelevantFiles: relevantFiles}
		if sessionID != "" {
			out.SessionID = &sessionID
		}
		if agentName != "" {
			out.AgentName = &agentName
		}
		return nil
	})
	return out, err
}

// Get returns the current checkpoint for a session, if any.
func (r *Checkpoints) Get(ctx context.Context, sessionID string) (*types.Checkpoint, error) {
	row := r.db.sql.QueryRowContext(ctx,
		`SELECT id, session_id, agent_name, created_at, current_understanding, progress, relevant_files
		 FROM checkpoints WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`, sessionID)
	var c types.Checkpoint
	var sid, agent sql.NullString
	var files string
	err := row.Scan(&c.ID, &sid, &agent, &c.CreatedAt, &c.CurrentUnderstanding, &c.Progress, &files)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting checkpoint: %w", err)
	}
	c.SessionID = ptrOrNil(sid)
	c.AgentName = ptrOrNil(agent)
	c.RelevantFiles = decodeArray(files)
	return &c, nil
}
