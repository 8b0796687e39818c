package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keggan-std/engramd/internal/apperr"
	"github.com/keggan-std/engramd/internal/types"
)

// Tasks is the repository for units of work an agent can claim
// exclusively. Claim/release/heartbeat semantics live in
// coordination.go since they hinge on the atomic conditional UPDATE.
type Tasks struct{ db *DB }

func (d *DB) Tasks() *Tasks { return &Tasks{db: d} }

// TaskInput is the set of fields accepted by create_task.
type TaskInput struct {
	Title         string
	Description   string
	Priority      string
	AssignedFiles []string
	Tags          []string
	BlockedBy     []string
}

// Create inserts a new backlog task.
func (r *Tasks) Create(ctx context.Context, in TaskInput, sessionID string) (*types.Task, error) {
	id := newID("task")
	ts := nowISO()
	priority := in.Priority
	if priority == "" {
		priority = types.PriorityMedium
	}
	var sid sql.NullString
	if sessionID != "" {
		sid = sql.NullString{String: sessionID, Valid: true}
	}
	_, err := r.db.sql.ExecContext(ctx,
		`INSERT INTO tasks(id, session_id, created_at, updated_at, title, description, status, priority, assigned_files, tags, blocked_by)
		 VALUES (?, ?, ?, ?, ?, ?, 'backlog', ?, ?, ?, ?)`,
		id, sid, ts, ts, in.Title, nullIfEmpty(in.Description), priority, encodeArray(in.AssignedFiles), encodeArray(in.Tags), encodeArray(in.BlockedBy),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}
	t := &types.Task{
		ID: id, CreatedAt: ts, UpdatedAt: ts, Title: in.Title, Status: types.TaskBacklog, Priority: priority,
		AssignedFiles: in.AssignedFiles, Tags: in.Tags, BlockedBy: in.BlockedBy,
	}
	if in.Description != "" {
		t.Description = &in.Description
	}
	if sessionID != "" {
		t.SessionID = &sessionID
	}
	return t, nil
}

// TaskPatch carries the fields to update; nil means "leave unchanged"
// except Status, which always applies when non-empty.
type TaskPatch struct {
	Title         *string
	Description   *string
	Status        string
	Priority      *string
	AssignedFiles []string
	Tags          []string
	BlockedBy     []string
}

// Update applies patch to a task, enforcing the completion invariants:
// status in {done,cancelled} clears the claim and stamps completed_at;
// any other status clears completed_at.
func (r *Tasks) Update(ctx context.Context, id string, patch TaskPatch) (*types.Task, error) {
	var out *types.Task
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return apperr.NotFound("task %s not found", id)
		}

		title := existing.Title
		if patch.Title != nil {
			title = *patch.Title
		}
		description := existing.Description
		if patch.Description != nil {
			description = patch.Description
		}
		status := existing.Status
		if patch.Status != "" {
			status = patch.Status
		}
		priority := existing.Priority
		if patch.Priority != nil {
			priority = *patch.Priority
		}
		assignedFiles := existing.AssignedFiles
		if patch.AssignedFiles != nil {
			assignedFiles = patch.AssignedFiles
		}
		tags := existing.Tags
		if patch.Tags != nil {
			tags = patch.Tags
		}
		blockedBy := existing.BlockedBy
		if patch.BlockedBy != nil {
			blockedBy = patch.BlockedBy
		}

		ts := nowISO()
		var completedAt sql.NullString
		clearClaim := false
		if status == types.TaskDone || status == types.TaskCancelled {
			completedAt = sql.NullString{String: ts, Valid: true}
			clearClaim = true
		}

		query := `UPDATE tasks SET title=?, description=?, status=?, priority=?, assigned_files=?, tags=?, blocked_by=?, updated_at=?, completed_at=?`
		args := []any{title, nullString(description), status, priority, encodeArray(assignedFiles), encodeArray(tags), encodeArray(blockedBy), ts, completedAt}
		if clearClaim {
			query += `, claimed_by=NULL, claimed_at=NULL`
		}
		query += ` WHERE id = ?`
		args = append(args, id)

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("updating task %s: %w", id, err)
		}

		updated, err := getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	return out, err
}

func (r *Tasks) Get(ctx context.Context, id string) (*types.Task, error) {
	row := r.db.sql.QueryRowContext(ctx, taskSelectQuery+` WHERE id = ?`, id)
	return scanTask(row)
}

func getTaskTx(ctx context.Context, tx *sql.Tx, id string) (*types.Task, error) {
	row := tx.QueryRowContext(ctx, taskSelectQuery+` WHERE id = ?`, id)
	return scanTask(row)
}

const taskSelectQuery = `SELECT id, session_id, created_at, updated_at, title, description, status, priority,
	assigned_files, tags, completed_at, blocked_by, claimed_by, claimed_at FROM tasks`

// TaskFilter narrows GetFiltered.
type TaskFilter struct {
	Status   string
	Priority string
	Limit    int
}

// GetFiltered returns tasks ordered by priority (critical first), then creation time.
func (r *Tasks) GetFiltered(ctx context.Context, f TaskFilter) ([]*types.Task, error) {
	limit := clampLimit(f.Limit, 20)
	query := taskSelectQuery + ` WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, f.Priority)
	}
	query += ` ORDER BY CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END, created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*types.Task, error) {
	var t types.Task
	var sid, description, completedAt, claimedBy sql.NullString
	var claimedAt sql.NullInt64
	var assignedFiles, tags, blockedBy string
	err := row.Scan(&t.ID, &sid, &t.CreatedAt, &t.UpdatedAt, &t.Title, &description, &t.Status, &t.Priority,
		&assignedFiles, &tags, &completedAt, &blockedBy, &claimedBy, &claimedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	t.SessionID = ptrOrNil(sid)
	t.Description = ptrOrNil(description)
	t.CompletedAt = ptrOrNil(completedAt)
	t.ClaimedBy = ptrOrNil(claimedBy)
	t.ClaimedAt = int64PtrOrNil(claimedAt)
	t.AssignedFiles = decodeArray(assignedFiles)
	t.Tags = decodeArray(tags)
	t.BlockedBy = decodeArray(blockedBy)
	return &t, nil
}
