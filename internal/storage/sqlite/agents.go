package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keggan-std/engramd/internal/types"
)

// Agents is the repository for live process identities participating
// in coordination. The upsert is upsertAgentTx below; its only caller is
// Sync in coordination.go (agent_sync also triggers stale recovery and
// broadcast delivery in one call).
type Agents struct{ db *DB }

func (d *DB) Agents() *Agents { return &Agents{db: d} }

func upsertAgentTx(ctx context.Context, tx *sql.Tx, id, name, status string, currentTaskID *string, specializations []string) error {
	var taskID sql.NullString
	if currentTaskID != nil {
		taskID = sql.NullString{String: *currentTaskID, Valid: true}
	}
	var specs any
	if specializations != nil {
		specs = encodeArray(specializations)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO agents(id, name, last_seen, current_task_id, status, specializations)
		 VALUES (?, ?, ?, ?, ?, COALESCE(?, '[]'))
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			last_seen = excluded.last_seen,
			current_task_id = excluded.current_task_id,
			status = excluded.status,
			specializations = COALESCE(?, agents.specializations)`,
		id, name, nowMS(), taskID, status, specs, specs,
	)
	if err != nil {
		return fmt.Errorf("upserting agent %s: %w", id, err)
	}
	return nil
}

// List returns every known agent.
func (r *Agents) List(ctx context.Context) ([]*types.Agent, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT id, name, last_seen, current_task_id, status, specializations FROM agents ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var out []*types.Agent
	for rows.Next() {
		var a types.Agent
		var taskID sql.NullString
		var specs string
		if err := rows.Scan(&a.ID, &a.Name, &a.LastSeen, &taskID, &a.Status, &specs); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		a.CurrentTaskID = ptrOrNil(taskID)
		a.Specializations = decodeArray(specs)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Get returns one agent by id.
func (r *Agents) Get(ctx context.Context, id string) (*types.Agent, error) {
	row := r.db.sql.QueryRowContext(ctx,
		`SELECT id, name, last_seen, current_task_id, status, specializations FROM agents WHERE id = ?`, id)
	var a types.Agent
	var taskID sql.NullString
	var specs string
	err := row.Scan(&a.ID, &a.Name, &a.LastSeen, &taskID, &a.Status, &specs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent %s: %w", id, err)
	}
	a.CurrentTaskID = ptrOrNil(taskID)
	a.Specializations = decodeArray(specs)
	return &a, nil
}
