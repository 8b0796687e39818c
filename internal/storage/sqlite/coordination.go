package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keggan-std/engramd/internal/apperr"
	"github.com/keggan-std/engramd/internal/types"
)

// StaleTimeoutMS is how long a working agent may go without a heartbeat
// before agent_sync reclassifies it as stale and frees its claims.
const StaleTimeoutMS = 30 * 60 * 1000

// ClaimResult is the payload returned by a successful claim: the task,
// plus an advisory specialization-match score. MatchPct is the overlap
// of the agent's specialization tags with the task's tags as a
// percentage; zero overlap produces a warning but never blocks.
type ClaimResult struct {
	Task     *types.Task `json:"task"`
	MatchPct int         `json:"match_pct"`
	Warning  string      `json:"warning,omitempty"`
}

// ClaimTask atomically claims taskID for agentID via a conditional
// UPDATE guarded on claimed_by IS NULL. Zero rows affected means the
// claim lost; the row is inspected to return a typed error telling the
// caller which way it lost.
func (r *Tasks) ClaimTask(ctx context.Context, taskID, agentID string) (*ClaimResult, error) {
	var result *ClaimResult
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET claimed_by = ?, claimed_at = ?
			 WHERE id = ? AND claimed_by IS NULL AND status NOT IN ('done','cancelled')`,
			agentID, nowMS(), taskID,
		)
		if err != nil {
			return fmt.Errorf("claiming task %s: %w", taskID, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			task, err := getTaskTx(ctx, tx, taskID)
			if err != nil {
				return err
			}
			switch {
			case task == nil:
				return apperr.NotFound("task %s not found", taskID)
			case task.Status == types.TaskDone || task.Status == types.TaskCancelled:
				return apperr.Conflict("task %s is already %s", taskID, task.Status)
			case task.ClaimedBy != nil:
				return apperr.Conflict("already claimed by %s", *task.ClaimedBy)
			default:
				return apperr.Conflict("task %s could not be claimed", taskID)
			}
		}

		task, err := getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}

		var specs []string
		agentRow := tx.QueryRowContext(ctx, `SELECT specializations FROM agents WHERE id = ?`, agentID)
		var specsRaw string
		if err := agentRow.Scan(&specsRaw); err == nil {
			specs = decodeArray(specsRaw)
		}

		result = &ClaimResult{Task: task, MatchPct: specializationMatchPct(specs, task.Tags)}
		if result.MatchPct == 0 && len(task.Tags) > 0 {
			result.Warning = fmt.Sprintf("agent %s has no specialization overlap with task tags %v", agentID, task.Tags)
		}
		return nil
	})
	return result, err
}

// specializationMatchPct returns the share of task tags covered by the
// agent's specializations, as a whole percentage.
func specializationMatchPct(specs, taskTags []string) int {
	if len(taskTags) == 0 {
		return 0
	}
	have := map[string]bool{}
	for _, s := range specs {
		have[s] = true
	}
	matched := 0
	for _, t := range taskTags {
		if have[t] {
			matched++
		}
	}
	return matched * 100 / len(taskTags)
}

// ReleaseTask clears the claim on taskID. Unless force is set, the
// clear is guarded by claimed_by = agentID; a miss means the claim is
// held by someone else (or nobody) and comes back as a conflict.
func (r *Tasks) ReleaseTask(ctx context.Context, taskID, agentID string, force bool) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE tasks SET claimed_by = NULL, claimed_at = NULL WHERE id = ?`
		args := []any{taskID}
		if !force {
			query += ` AND claimed_by = ?`
			args = append(args, agentID)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("releasing task %s: %w", taskID, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			task, err := getTaskTx(ctx, tx, taskID)
			if err != nil {
				return err
			}
			if task == nil {
				return apperr.NotFound("task %s not found", taskID)
			}
			if task.ClaimedBy != nil {
				return apperr.Conflict("task %s is claimed by %s, not %s", taskID, *task.ClaimedBy, agentID)
			}
			return apperr.Conflict("task %s is not claimed", taskID)
		}
		return nil
	})
}

// SyncResult is the payload returned by agent_sync: the refreshed agent
// row, agents newly marked stale (with their freed tasks), and
// broadcasts delivered to this agent.
type SyncResult struct {
	Agent       *types.Agent       `json:"agent"`
	StaleAgents []string           `json:"stale_agents,omitempty"`
	FreedTasks  []string           `json:"freed_tasks,omitempty"`
	Broadcasts  []*types.Broadcast `json:"broadcasts,omitempty"`
}

// Sync is the heartbeat: upsert this agent with last_seen = now, then
// recover any agent stuck in status working past the stale timeout
// (freeing the tasks it holds), then deliver and mark read this agent's
// unread broadcasts. All three steps share one transaction.
func (r *Agents) Sync(ctx context.Context, id, name, status string, currentTaskID *string, specializations []string) (*SyncResult, error) {
	if status == "" {
		status = types.AgentIdle
	}
	result := &SyncResult{}
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := upsertAgentTx(ctx, tx, id, name, status, currentTaskID, specializations); err != nil {
			return err
		}

		cutoff := nowMS() - StaleTimeoutMS
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM agents WHERE status = 'working' AND last_seen < ? AND id != ?`, cutoff, id)
		if err != nil {
			return fmt.Errorf("finding stale agents: %w", err)
		}
		var staleIDs []string
		for rows.Next() {
			var staleID string
			if err := rows.Scan(&staleID); err != nil {
				rows.Close()
				return err
			}
			staleIDs = append(staleIDs, staleID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, staleID := range staleIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE agents SET status = 'stale' WHERE id = ?`, staleID); err != nil {
				return fmt.Errorf("marking agent %s stale: %w", staleID, err)
			}
			taskRows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE claimed_by = ?`, staleID)
			if err != nil {
				return fmt.Errorf("finding tasks held by stale agent %s: %w", staleID, err)
			}
			var freed []string
			for taskRows.Next() {
				var taskID string
				if err := taskRows.Scan(&taskID); err != nil {
					taskRows.Close()
					return err
				}
				freed = append(freed, taskID)
			}
			taskRows.Close()
			if err := taskRows.Err(); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE tasks SET claimed_by = NULL, claimed_at = NULL WHERE claimed_by = ?`, staleID); err != nil {
				return fmt.Errorf("freeing tasks of stale agent %s: %w", staleID, err)
			}
			result.FreedTasks = append(result.FreedTasks, freed...)
		}
		result.StaleAgents = staleIDs

		broadcasts, err := takeUnreadForAgentTx(ctx, tx, id)
		if err != nil {
			return err
		}
		result.Broadcasts = broadcasts

		row := tx.QueryRowContext(ctx,
			`SELECT id, name, last_seen, current_task_id, status, specializations FROM agents WHERE id = ?`, id)
		var a types.Agent
		var taskID sql.NullString
		var specs string
		if err := row.Scan(&a.ID, &a.Name, &a.LastSeen, &taskID, &a.Status, &specs); err != nil {
			return fmt.Errorf("reading back agent %s: %w", id, err)
		}
		a.CurrentTaskID = ptrOrNil(taskID)
		a.Specializations = decodeArray(specs)
		result.Agent = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RouteTask suggests the best unclaimed task for an agent by ranking
// open tasks on specialization overlap, then priority. Advisory only;
// the caller still has to win the claim.
func (r *Tasks) RouteTask(ctx context.Context, agentID string) (*ClaimResult, error) {
	var specs []string
	row := r.db.sql.QueryRowContext(ctx, `SELECT specializations FROM agents WHERE id = ?`, agentID)
	var specsRaw string
	if err := row.Scan(&specsRaw); err == nil {
		specs = decodeArray(specsRaw)
	}

	rows, err := r.db.sql.QueryContext(ctx,
		taskSelectQuery+` WHERE claimed_by IS NULL AND status NOT IN ('done','cancelled')
		 ORDER BY CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing routable tasks: %w", err)
	}
	defer rows.Close()

	var best *ClaimResult
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		pct := specializationMatchPct(specs, t.Tags)
		if best == nil || pct > best.MatchPct {
			best = &ClaimResult{Task: t, MatchPct: pct}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, apperr.NotFound("no unclaimed open tasks to route")
	}
	if best.MatchPct == 0 && len(best.Task.Tags) > 0 {
		best.Warning = fmt.Sprintf("agent %s has no specialization overlap with task tags %v", agentID, best.Task.Tags)
	}
	return best, nil
}
